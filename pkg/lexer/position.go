package lexer

import "fmt"

// Position locates a byte of source. Line and Column count from 1, Offset
// is the byte offset from 0.
type Position struct {
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// next returns the position following the byte ch at p
func (p Position) next(ch byte) Position {
	p.Offset++
	if ch == '\n' {
		p.Line++
		p.Column = 1
	} else {
		p.Column++
	}
	return p
}
