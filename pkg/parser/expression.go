package parser

import (
	"scriptvm/pkg/diag"
	"scriptvm/pkg/lexer"
	"scriptvm/pkg/parser/symtab"
)

// expression parses a full expression and returns the type of the one
// value it leaves on the stack
func (p *Parser) expression() symtab.Type {
	return p.logicalOr()
}

// logicalOr emits a || b as: a; jz L; push 1; jmp E; L: b; !!; E:
func (p *Parser) logicalOr() symtab.Type {
	t := p.logicalAnd()
	for p.currentToken.Type == lexer.OR {
		p.check(p.cg.Condition(t))
		p.nextToken()

		rhs := p.cg.JumpIfZero()
		p.cg.PushInt(1)
		end := p.cg.Jump()
		p.cg.Patch(rhs)
		p.truthValue(p.logicalAnd())
		p.cg.Patch(end)
		t = symtab.IntType
	}
	return t
}

// logicalAnd emits a && b as: a; jz F; b; !!; jmp E; F: push 0; E:
func (p *Parser) logicalAnd() symtab.Type {
	t := p.equality()
	for p.currentToken.Type == lexer.AND {
		p.check(p.cg.Condition(t))
		p.nextToken()

		short := p.cg.JumpIfZero()
		p.truthValue(p.equality())
		end := p.cg.Jump()
		p.cg.Patch(short)
		p.cg.PushInt(0)
		p.cg.Patch(end)
		t = symtab.IntType
	}
	return t
}

// truthValue normalizes an int on the stack to 0 or 1
func (p *Parser) truthValue(t symtab.Type) {
	p.check(p.cg.Condition(t))
	for range 2 {
		_, err := p.cg.Unary(lexer.NOT, t)
		p.check(err)
	}
}

func (p *Parser) equality() symtab.Type {
	return p.binary(p.relational, lexer.EQ, lexer.NE)
}

func (p *Parser) relational() symtab.Type {
	return p.binary(p.additive, lexer.LT, lexer.LE, lexer.GT, lexer.GE)
}

func (p *Parser) additive() symtab.Type {
	return p.binary(p.multiplicative, lexer.PLUS, lexer.MINUS)
}

func (p *Parser) multiplicative() symtab.Type {
	return p.binary(p.unary, lexer.MULT, lexer.DIV, lexer.MOD)
}

// binary parses a left-associative chain of the given operators
func (p *Parser) binary(operand func() symtab.Type, ops ...lexer.TokenType) symtab.Type {
	t := operand()
	for isOneOf(p.currentToken.Type, ops) {
		op := p.currentToken.Type
		p.nextToken()
		rt := operand()

		var err error
		t, err = p.cg.Binary(op, t, rt)
		p.check(err)
	}
	return t
}

func isOneOf(t lexer.TokenType, ops []lexer.TokenType) bool {
	for _, op := range ops {
		if t == op {
			return true
		}
	}
	return false
}

func (p *Parser) unary() symtab.Type {
	switch op := p.currentToken.Type; op {
	case lexer.MINUS, lexer.NOT:
		p.nextToken()
		t, err := p.cg.Unary(op, p.unary())
		p.check(err)
		return t
	}
	return p.primary()
}

func (p *Parser) primary() symtab.Type {
	tok := p.currentToken
	switch tok.Type {
	case lexer.NUM:
		t, i, f := p.number(tok)
		p.nextToken()
		if t == symtab.FloatType {
			return p.cg.PushFloat(f)
		}
		return p.cg.PushInt(i)

	case lexer.STRING:
		p.nextToken()
		return p.cg.PushString(tok.Literal)

	case lexer.NULL:
		p.nextToken()
		return p.cg.PushNull()

	case lexer.LPAREN:
		p.nextToken()
		if p.currentToken.Type == lexer.RPAREN {
			p.fail(diag.ErrSyntax, "Missing expression")
		}
		t := p.expression()
		p.expect(lexer.RPAREN)
		return t

	case lexer.NEW:
		return p.newArray()

	case lexer.INT, lexer.FLOAT:
		p.nextToken()
		p.expect(lexer.LPAREN)
		from := p.expression()
		p.expect(lexer.RPAREN)
		t, err := p.cg.Cast(p.typeNamed(tok), from)
		p.check(err)
		return t

	case lexer.ID:
		p.nextToken()
		if p.currentToken.Type == lexer.LPAREN {
			return p.call(tok)
		}
		return p.variable(tok)
	}

	if tok.Type == lexer.SEMICOLON || tok.Type == lexer.RPAREN {
		p.fail(diag.ErrSyntax, "Missing expression")
	}
	p.fail(diag.ErrSyntax, "Unexpected %s in expression", describe(tok))
	return symtab.VoidType
}

// variable loads a named value, reading one element if it is indexed
func (p *Parser) variable(name lexer.Token) symtab.Type {
	sym := p.resolve(name.Lexeme, "variable")
	t, err := p.cg.Load(sym)
	p.check(err)

	if p.accept(lexer.LSBRACE) {
		it := p.expression()
		p.expect(lexer.RSBRACE)
		elem, err := p.cg.Index(t, it)
		p.check(err)
		t = p.cg.LoadIndirect(elem)
	}
	return t
}

// call emits a call to a script function or an imported native
func (p *Parser) call(name lexer.Token) symtab.Type {
	sym := p.resolve(name.Lexeme, "function")
	if sym.Kind != symtab.Function {
		p.fail(diag.ErrTypeMismatch, "`%s` is not a function", name.Lexeme)
	}

	p.expect(lexer.LPAREN)
	args := 0
	for p.currentToken.Type != lexer.RPAREN {
		if args > 0 {
			p.expect(lexer.COMMA)
		}
		t := p.expression()
		if args < len(sym.Params) {
			p.check(p.cg.Convert(sym.Params[args], t, 0))
		}
		args++
	}
	p.expect(lexer.RPAREN)

	if args != len(sym.Params) {
		p.fail(diag.ErrTypeMismatch, "`%s` expects %d arguments, got %d", name.Lexeme, len(sym.Params), args)
	}
	return p.cg.Call(sym)
}

// newArray parses new T[len]
func (p *Parser) newArray() symtab.Type {
	p.expect(lexer.NEW)
	tok := p.currentToken
	if !tok.Type.IsTypeKeyword() {
		p.fail(diag.ErrSyntax, "Expected type, found %s", describe(tok))
	}
	p.nextToken()

	p.expect(lexer.LSBRACE)
	length := p.expression()
	p.expect(lexer.RSBRACE)

	t, err := p.cg.NewArray(p.typeNamed(tok), length)
	p.check(err)
	return t
}
