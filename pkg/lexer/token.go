package lexer

import (
	"fmt"
)

type TokenType int
type TokenCategory int

type Token struct {
	Type    TokenType // Type of the token
	Lexeme  string    // Actual string from source code
	Literal string    // Literal value (if applicable), empty string if not
	Pos     Position  // Position in source code
}

// NewToken creates a new Token instance
func NewToken(tokenType TokenType, lexeme string, literal string, Pos Position) Token {
	return Token{
		Type:    tokenType,
		Lexeme:  lexeme,
		Literal: literal,
		Pos:     Pos,
	}
}

const (
	NONE TokenCategory = iota
	KEYWORD
	IDENTIFIER
	LITERAL
	OPERATOR
	DELIMITER
)

const (
	EOF TokenType = iota // End of file

	IMPORT   // import
	EXPORT   // export
	CONST    // const
	IF       // if
	ELSE     // else
	WHILE    // while
	RETURN   // return
	BREAK    // break
	CONTINUE // continue
	NEW      // new
	NULL     // null
	INT      // int
	FLOAT    // float
	STR      // string (type keyword)
	VOID     // void

	ID     // id (identifier)
	NUM    // num (number)
	STRING // string literal

	ASSIGN // =
	PLUS   // +
	MINUS  // -
	MULT   // *
	DIV    // /
	MOD    // %
	LT     // <
	GT     // >
	LE     // <=
	GE     // >=
	EQ     // ==
	NE     // !=
	AND    // &&
	OR     // ||
	NOT    // !

	SEMICOLON // ;
	COMMA     // ,
	LPAREN    // (
	RPAREN    // )
	LBRACE    // {
	RBRACE    // }
	LSBRACE   // [
	RSBRACE   // ]

	ILLEGAL // illegal token
)

var Keywords = map[string]TokenType{
	"import":   IMPORT,
	"export":   EXPORT,
	"const":    CONST,
	"if":       IF,
	"else":     ELSE,
	"while":    WHILE,
	"return":   RETURN,
	"break":    BREAK,
	"continue": CONTINUE,
	"new":      NEW,
	"null":     NULL,
	"int":      INT,
	"float":    FLOAT,
	"string":   STR,
	"void":     VOID,
}

var tokenNames = map[TokenType]string{
	IMPORT:    "import",
	EXPORT:    "export",
	CONST:     "const",
	IF:        "if",
	ELSE:      "else",
	WHILE:     "while",
	RETURN:    "return",
	BREAK:     "break",
	CONTINUE:  "continue",
	NEW:       "new",
	NULL:      "null",
	INT:       "int",
	FLOAT:     "float",
	STR:       "string",
	VOID:      "void",
	ASSIGN:    "=",
	PLUS:      "+",
	MINUS:     "-",
	MULT:      "*",
	DIV:       "/",
	MOD:       "%",
	LT:        "<",
	GT:        ">",
	LE:        "<=",
	GE:        ">=",
	EQ:        "==",
	NE:        "!=",
	AND:       "&&",
	OR:        "||",
	NOT:       "!",
	SEMICOLON: ";",
	COMMA:     ",",
	LPAREN:    "(",
	RPAREN:    ")",
	LBRACE:    "{",
	RBRACE:    "}",
	LSBRACE:   "[",
	RSBRACE:   "]",
	ID:        "identifier",
	NUM:       "number",
	STRING:    "string literal",
	ILLEGAL:   "illegal",
	EOF:       "end of input",
}

// String returns a string representation of the Token
func (t Token) String() string {
	if t.Literal == "" {
		return fmt.Sprintf("T_{%s, %v, nil, %s}",
			t.Type, t.Lexeme, t.Pos.String())
	}

	return fmt.Sprintf("T_{%s, %v, %q, %s}",
		t.Type, t.Lexeme, t.Literal, t.Pos.String())
}

// String returns a string representation of the TokenType
func (t TokenType) String() string {
	if str, ok := tokenNames[t]; ok {
		return str
	}

	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// GetCategory returns the category of the token
func (t TokenType) GetCategory() TokenCategory {
	switch {
	case t >= IMPORT && t <= VOID:
		return KEYWORD
	case t == ID:
		return IDENTIFIER
	case t == NUM || t == STRING:
		return LITERAL
	case t >= ASSIGN && t <= NOT:
		return OPERATOR
	case t >= SEMICOLON && t <= RSBRACE:
		return DELIMITER
	default:
		return NONE
	}
}

// IsTypeKeyword reports whether the token starts a type name
func (t TokenType) IsTypeKeyword() bool {
	switch t {
	case INT, FLOAT, STR, VOID:
		return true
	default:
		return false
	}
}

// IsKeyword checks if the given identifier is a keyword and returns its TokenType if it is
func IsKeyword(identifier string) (TokenType, bool) {
	tokenType, ok := Keywords[identifier]
	return tokenType, ok
}
