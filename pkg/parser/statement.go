package parser

import (
	"scriptvm/pkg/diag"
	"scriptvm/pkg/lexer"
	"scriptvm/pkg/parser/symtab"
)

// block parses { stmt* }. Function bodies share the parameter scope, so
// scoped is false for them.
func (p *Parser) block(scoped bool) {
	p.expect(lexer.LBRACE)
	mark := p.cg.ScopeMark()
	if scoped {
		p.ctx.Symbols.Push()
	}

	for p.currentToken.Type != lexer.RBRACE {
		if p.currentToken.Type == lexer.EOF {
			p.fail(diag.ErrSyntax, "Missing closing brace")
		}
		p.statement()
	}
	p.expect(lexer.RBRACE)

	if scoped {
		p.ctx.Symbols.Pop()
		p.cg.ScopeRestore(mark)
	}
}

// statement parses one statement; statements leave the stack as they found it
func (p *Parser) statement() {
	switch p.currentToken.Type {
	case lexer.LBRACE:
		p.block(true)
	case lexer.IF:
		p.ifStatement()
	case lexer.WHILE:
		p.whileStatement()
	case lexer.RETURN:
		p.returnStatement()
	case lexer.BREAK:
		p.check(p.cg.Break())
		p.nextToken()
		p.expect(lexer.SEMICOLON)
	case lexer.CONTINUE:
		p.check(p.cg.Continue())
		p.nextToken()
		p.expect(lexer.SEMICOLON)
	case lexer.CONST:
		p.constDecl()
	case lexer.SEMICOLON:
		p.nextToken()
	case lexer.INT, lexer.FLOAT, lexer.STR, lexer.VOID:
		if p.lexer.Peek().Type == lexer.LPAREN {
			p.expressionStatement()
			return
		}
		p.localVar()
	case lexer.IMPORT, lexer.EXPORT:
		p.fail(diag.ErrSyntax, "%s is only allowed at module level", p.currentToken.Type)
	case lexer.ID:
		switch p.lexer.Peek().Type {
		case lexer.ASSIGN:
			p.assignment()
		case lexer.LSBRACE:
			p.elementStatement()
		default:
			p.expressionStatement()
		}
	default:
		p.expressionStatement()
	}
}

// localVar declares a block-scoped variable. Slots are always written on
// declaration so a reused slot never leaks an earlier value.
func (p *Parser) localVar() {
	t := p.parseType()
	name := p.expect(lexer.ID)
	if t == symtab.VoidType {
		p.fail(diag.ErrTypeMismatch, "variable `%s` declared void", name.Lexeme)
	}
	if prev, ok := p.ctx.Symbols.LookupLocal(name.Lexeme); ok {
		p.fail(diag.ErrDuplicateDefinition, "%s `%s` already declared on line %d", prev.Kind, name.Lexeme, prev.Line)
	}

	sym := &symtab.Symbol{
		Name:    name.Lexeme,
		Kind:    symtab.Variable,
		Type:    t,
		Storage: symtab.Local,
		Offset:  p.cg.AllocLocal(),
		Line:    name.Pos.Line,
	}

	if p.accept(lexer.ASSIGN) {
		et := p.expression()
		p.check(p.cg.Convert(t, et, 0))
	} else {
		p.cg.PushZero(t)
	}
	p.check(p.cg.Store(sym))
	p.expect(lexer.SEMICOLON)

	// declared after the initializer, which still sees any outer variable of the same name
	p.declare(sym)
}

// assignment parses name = expr;
func (p *Parser) assignment() {
	name := p.expect(lexer.ID)
	sym := p.resolve(name.Lexeme, "variable")
	p.expect(lexer.ASSIGN)

	t := p.expression()
	if sym.Kind == symtab.Variable {
		p.check(p.cg.Convert(sym.Type, t, 0))
	}
	p.check(p.cg.Store(sym))
	p.expect(lexer.SEMICOLON)
}

// elementStatement parses name[index] = expr; or a bare element read
func (p *Parser) elementStatement() {
	name := p.expect(lexer.ID)
	sym := p.resolve(name.Lexeme, "variable")
	at, err := p.cg.Load(sym)
	p.check(err)

	p.expect(lexer.LSBRACE)
	it := p.expression()
	p.expect(lexer.RSBRACE)
	elem, err := p.cg.Index(at, it)
	p.check(err)

	if p.accept(lexer.ASSIGN) {
		vt := p.expression()
		p.check(p.cg.Convert(elem, vt, 0))
		p.cg.StoreIndirect(elem)
	} else {
		p.cg.Discard(p.cg.LoadIndirect(elem))
	}
	p.expect(lexer.SEMICOLON)
}

func (p *Parser) expressionStatement() {
	t := p.expression()
	p.cg.Discard(t)
	p.expect(lexer.SEMICOLON)
}

func (p *Parser) ifStatement() {
	p.expect(lexer.IF)
	p.condition()
	skip := p.cg.JumpIfZero()
	p.statement()

	if p.accept(lexer.ELSE) {
		end := p.cg.Jump()
		p.cg.Patch(skip)
		p.statement()
		p.cg.Patch(end)
		return
	}
	p.cg.Patch(skip)
}

func (p *Parser) whileStatement() {
	p.expect(lexer.WHILE)
	start := p.cg.Here()
	p.condition()
	exit := p.cg.JumpIfZero()

	p.cg.BeginLoop(start)
	p.statement()
	p.cg.JumpTo(start)
	p.cg.Patch(exit)
	p.cg.EndLoop()
}

// condition parses ( expr ) and checks it is an int
func (p *Parser) condition() {
	p.expect(lexer.LPAREN)
	if p.currentToken.Type == lexer.RPAREN {
		p.fail(diag.ErrSyntax, "Empty condition")
	}
	t := p.expression()
	p.check(p.cg.Condition(t))
	p.expect(lexer.RPAREN)
}

func (p *Parser) returnStatement() {
	p.expect(lexer.RETURN)
	if p.fn == nil {
		p.fail(diag.ErrSyntax, "return outside of a function")
	}
	if p.accept(lexer.SEMICOLON) {
		p.check(p.cg.Return(symtab.VoidType, false))
		return
	}
	t := p.expression()
	p.check(p.cg.Return(t, true))
	p.expect(lexer.SEMICOLON)
}
