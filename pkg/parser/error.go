package parser

import (
	"fmt"

	"scriptvm/pkg/lexer"
)

// categorizeError provides a specific error message based on the expected token and the current one
func (p *Parser) categorizeError(expected lexer.TokenType, current lexer.Token) string {
	// Delimiters
	switch expected {
	case lexer.RPAREN:
		return "Missing closing parenthesis"
	case lexer.RBRACE:
		return "Missing closing brace"
	case lexer.RSBRACE:
		return "Missing closing bracket"
	case lexer.LBRACE:
		if current.Type == lexer.SEMICOLON {
			return "Missing function body"
		}
		return "Missing opening brace"
	case lexer.SEMICOLON:
		return "Missing semicolon"
	case lexer.ASSIGN:
		return "Missing assignment operator"
	case lexer.LPAREN:
		if current.Type == lexer.LBRACE {
			return "Wrong bracket type - expected parenthesis"
		}
		return "Missing opening parenthesis"
	}

	// Identifiers
	if expected == lexer.ID {
		switch {
		case current.Type == lexer.ASSIGN || current.Type == lexer.SEMICOLON:
			return "Missing identifier"
		case current.Type.GetCategory() == lexer.KEYWORD:
			return "Cannot use reserved keyword as identifier"
		}
		return "Expected identifier, found " + describe(current)
	}

	return fmt.Sprintf("Expected %s, found %s", expected, describe(current))
}

// describe names a token for an error message
func describe(tok lexer.Token) string {
	switch tok.Type {
	case lexer.EOF:
		return "end of input"
	case lexer.ID, lexer.NUM:
		return fmt.Sprintf("%s '%s'", tok.Type, tok.Lexeme)
	case lexer.STRING:
		return "string literal"
	default:
		return fmt.Sprintf("'%s'", tok.Type)
	}
}
