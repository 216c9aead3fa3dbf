package lexer

import (
	"regexp"
)

type tokenRegex struct {
	Pattern *regexp.Regexp
	Raw     string
}

func rx(raw string) tokenRegex {
	return tokenRegex{regexp.MustCompile(raw), raw}
}

// Token regex patterns
var tokenRegexes = map[TokenType]tokenRegex{
	LE:  rx(`^<=`),
	GE:  rx(`^>=`),
	EQ:  rx(`^==`),
	NE:  rx(`^!=`),
	AND: rx(`^&&`),
	OR:  rx(`^\|\|`),

	IMPORT:   rx(`^import\b`),
	EXPORT:   rx(`^export\b`),
	CONST:    rx(`^const\b`),
	IF:       rx(`^if\b`),
	ELSE:     rx(`^else\b`),
	WHILE:    rx(`^while\b`),
	RETURN:   rx(`^return\b`),
	BREAK:    rx(`^break\b`),
	CONTINUE: rx(`^continue\b`),
	NEW:      rx(`^new\b`),
	NULL:     rx(`^null\b`),
	INT:      rx(`^int\b`),
	FLOAT:    rx(`^float\b`),
	STR:      rx(`^string\b`),
	VOID:     rx(`^void\b`),

	ASSIGN: rx(`^=`),
	PLUS:   rx(`^\+`),
	MINUS:  rx(`^-`),
	MULT:   rx(`^\*`),
	DIV:    rx(`^/`),
	MOD:    rx(`^%`),
	LT:     rx(`^<`),
	GT:     rx(`^>`),
	NOT:    rx(`^!`),

	SEMICOLON: rx(`^;`),
	COMMA:     rx(`^,`),
	LPAREN:    rx(`^\(`),
	RPAREN:    rx(`^\)`),
	LBRACE:    rx(`^\{`),
	RBRACE:    rx(`^\}`),
	LSBRACE:   rx(`^\[`),
	RSBRACE:   rx(`^\]`),

	NUM:    rx(`^\d+(\.\d+)?([eE][+-]?\d+)?`),
	STRING: rx(`^"([^"\\\n]|\\.)*"`),
	ID:     rx(`^[a-zA-Z_][a-zA-Z0-9_]*`),
}

// Trivia separates tokens and is skipped. An unterminated block comment
// runs to the end of input.
var triviaRegexes = []*regexp.Regexp{
	regexp.MustCompile(`^\s+`),
	regexp.MustCompile(`^//[^\n]*`),
	regexp.MustCompile(`^/\*(?s:.*?)(?:\*/|\z)`),
}

// Token precedence order for matching (longer patterns first)
var tokenPrecedenceOrder = []TokenType{
	CONTINUE, RETURN, EXPORT, IMPORT, STR, BREAK, CONST, FLOAT, WHILE,
	ELSE, NULL, VOID, INT, NEW, IF,
	LE, GE, EQ, NE, AND, OR, ASSIGN, PLUS, MINUS, MULT, DIV, MOD, LT, GT, NOT,
	SEMICOLON, COMMA, LPAREN, RPAREN, LBRACE, RBRACE, LSBRACE, RSBRACE,
	NUM, STRING, ID,
}

// Get the regex pattern for a token type
func (t TokenType) Regex() *regexp.Regexp {
	if regex, ok := tokenRegexes[t]; ok {
		return regex.Pattern
	}

	return nil
}

// Get the raw regex string for a token type
func (t TokenType) RawRegex() string {
	if regex, ok := tokenRegexes[t]; ok {
		return regex.Raw
	}

	return ""
}

// MatchToken matches the token at the start of s, trying keywords and
// longer operators first. Trivia is not a token.
func MatchToken(s string) (TokenType, string, bool) {
	if s == "" {
		return EOF, "", false
	}

	for _, tokenType := range tokenPrecedenceOrder {
		if regex, ok := tokenRegexes[tokenType]; ok {
			if match := regex.Pattern.FindString(s); match != "" {
				return tokenType, match, true
			}
		}
	}

	return ILLEGAL, string(s[0]), false
}

// matchTrivia returns the length of the whitespace or comment at the start of s
func matchTrivia(s string) int {
	for _, re := range triviaRegexes {
		if m := re.FindString(s); m != "" {
			return len(m)
		}
	}
	return 0
}

// Check if a byte is a digit
func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
