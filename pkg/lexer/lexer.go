package lexer

import "strconv"

// Lexer scans script source into tokens on demand. Every token carries the
// position of its first byte.
type Lexer struct {
	src  string
	pos  Position  // position of the next unread byte
	prev TokenType // type of the last token handed out
}

// NewLexer creates a lexer positioned at the start of s
func NewLexer(s string) *Lexer {
	return &Lexer{src: s, pos: Position{Line: 1, Column: 1}, prev: EOF}
}

// NextToken returns the next token. A byte that starts no token comes back
// as a one-byte ILLEGAL token; at the end of input NextToken keeps
// returning EOF.
func (l *Lexer) NextToken() Token {
	l.skipTrivia()
	tok := l.scan()
	l.prev = tok.Type
	return tok
}

// Peek returns the next token without consuming it
func (l *Lexer) Peek() Token {
	pos, prev := l.pos, l.prev
	tok := l.NextToken()
	l.pos, l.prev = pos, prev
	return tok
}

// HasMore reports whether unread input remains, trivia included
func (l *Lexer) HasMore() bool {
	return l.pos.Offset < len(l.src)
}

func (l *Lexer) scan() Token {
	start := l.pos
	rest := l.src[start.Offset:]
	if rest == "" {
		return NewToken(EOF, "", "", start)
	}

	if lexeme, ok := l.signedNumber(rest); ok {
		l.advance(len(lexeme))
		return NewToken(NUM, lexeme, lexeme, start)
	}

	typ, lexeme, ok := MatchToken(rest)
	if !ok {
		l.advance(1)
		return NewToken(ILLEGAL, rest[:1], "", start)
	}
	l.advance(len(lexeme))
	return NewToken(typ, lexeme, literal(typ, lexeme), start)
}

// signedNumber matches "-" glued to a number where a unary minus may stand,
// so that "f(-2)" yields one literal and "a -2" yields MINUS and NUM.
func (l *Lexer) signedNumber(rest string) (string, bool) {
	if len(rest) < 2 || rest[0] != '-' || !isDigit(rest[1]) || !unaryContext(l.prev) {
		return "", false
	}
	typ, lexeme, ok := MatchToken(rest[1:])
	if !ok || typ != NUM {
		return "", false
	}
	return "-" + lexeme, true
}

func (l *Lexer) skipTrivia() {
	for l.pos.Offset < len(l.src) {
		n := matchTrivia(l.src[l.pos.Offset:])
		if n == 0 {
			return
		}
		l.advance(n)
	}
}

func (l *Lexer) advance(n int) {
	for ; n > 0 && l.pos.Offset < len(l.src); n-- {
		l.pos = l.pos.next(l.src[l.pos.Offset])
	}
}

// literal returns the value text of a token: strings lose their quotes and
// escapes, everything else is its lexeme
func literal(typ TokenType, lexeme string) string {
	if typ != STRING {
		return lexeme
	}
	if s, err := strconv.Unquote(lexeme); err == nil {
		return s
	}
	return lexeme[1 : len(lexeme)-1]
}

// unaryContext reports whether a token of type t can be followed by an
// operand, as opposed to ending one
func unaryContext(t TokenType) bool {
	switch t {
	case EOF, ASSIGN, LPAREN, COMMA, LSBRACE, SEMICOLON, LBRACE,
		PLUS, MINUS, MULT, DIV, MOD,
		LT, GT, LE, GE, EQ, NE,
		AND, OR, NOT, RETURN:
		return true
	default:
		return false
	}
}
