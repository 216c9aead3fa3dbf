package lexer_test

import (
	"scriptvm/pkg/lexer"
	"testing"
)

func TestComments(t *testing.T) {
	input := `// test comment
int x = 10; // another test comment
/* block
   comment */
float y = 20.0;`

	mylexer := lexer.NewLexer(input)
	expectedTokens := []lexer.TokenType{
		lexer.INT, lexer.ID, lexer.ASSIGN, lexer.NUM, lexer.SEMICOLON,
		lexer.FLOAT, lexer.ID, lexer.ASSIGN, lexer.NUM, lexer.SEMICOLON,
		lexer.EOF,
	}

	for i, expected := range expectedTokens {
		token := mylexer.NextToken()
		if token.Type != expected {
			t.Errorf("Token %d: expected %s, got %s", i, expected, token.Type)
		}
	}
}

func TestCommentEdges(t *testing.T) {
	tests := []struct {
		input    string
		expected []lexer.TokenType
	}{
		{"a /* b */ c", []lexer.TokenType{lexer.ID, lexer.ID, lexer.EOF}},
		{"a /* b ** c */ / d", []lexer.TokenType{lexer.ID, lexer.DIV, lexer.ID, lexer.EOF}},
		{"a /* never closed\n b", []lexer.TokenType{lexer.ID, lexer.EOF}},
		{"a // line\n/**/b", []lexer.TokenType{lexer.ID, lexer.ID, lexer.EOF}},
	}

	for _, test := range tests {
		l := lexer.NewLexer(test.input)
		for i, expected := range test.expected {
			if tok := l.NextToken(); tok.Type != expected {
				t.Errorf("Input %q token %d: expected %s, got %s", test.input, i, expected, tok.Type)
			}
		}
	}
}

func TestPositionAfterBlockComment(t *testing.T) {
	l := lexer.NewLexer("/* one\ntwo */  x")
	tok := l.NextToken()
	if tok.Pos.Line != 2 || tok.Pos.Column != 9 || tok.Pos.Offset != 15 {
		t.Errorf("expected x at 2:9 offset 15, got %s offset %d", tok.Pos, tok.Pos.Offset)
	}
}
