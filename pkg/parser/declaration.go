package parser

import (
	"slices"
	"strconv"
	"strings"

	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/diag"
	"scriptvm/pkg/lexer"
	"scriptvm/pkg/parser/symtab"
	"scriptvm/pkg/value"
)

type param struct {
	name string
	typ  symtab.Type
	line int
}

// topLevel parses one module-level declaration
func (p *Parser) topLevel() {
	switch p.currentToken.Type {
	case lexer.IMPORT:
		p.importDecl()
	case lexer.CONST:
		p.constDecl()
	case lexer.EXPORT:
		p.nextToken()
		p.declaration(true)
	default:
		p.declaration(false)
	}
}

// declaration parses a function or a global variable
func (p *Parser) declaration(export bool) {
	t := p.parseType()
	name := p.expect(lexer.ID)
	if p.currentToken.Type == lexer.LPAREN {
		p.function(t, name, export)
		return
	}
	p.globalVar(t, name, export)
}

// parseType parses a type keyword with an optional [] suffix
func (p *Parser) parseType() symtab.Type {
	tok := p.currentToken
	if !tok.Type.IsTypeKeyword() {
		p.fail(diag.ErrSyntax, "Expected type, found %s", describe(tok))
	}
	t := p.typeNamed(tok)
	p.nextToken()

	if p.currentToken.Type == lexer.LSBRACE && p.lexer.Peek().Type == lexer.RSBRACE {
		p.nextToken()
		p.nextToken()
		if t == symtab.VoidType {
			p.fail(diag.ErrTypeMismatch, "array of void")
		}
		t.Array = true
	}
	return t
}

// typeNamed resolves a type keyword through the symbol table
func (p *Parser) typeNamed(tok lexer.Token) symtab.Type {
	t, ok := p.ctx.Symbols.LookupType(tok.Lexeme)
	if !ok {
		p.fail(diag.ErrSyntax, "Expected type, found %s", describe(tok))
	}
	return t
}

// parameters parses a parenthesized parameter list; names are optional
func (p *Parser) parameters() []param {
	p.expect(lexer.LPAREN)
	if p.currentToken.Type == lexer.VOID && p.lexer.Peek().Type == lexer.RPAREN {
		p.nextToken()
	}

	var params []param
	for p.currentToken.Type != lexer.RPAREN {
		if len(params) > 0 {
			p.expect(lexer.COMMA)
		}
		line := p.currentToken.Pos.Line
		t := p.parseType()
		if t == symtab.VoidType {
			p.fail(diag.ErrTypeMismatch, "parameter of type void")
		}
		var name string
		if p.currentToken.Type == lexer.ID {
			name = p.currentToken.Lexeme
			p.nextToken()
		}
		params = append(params, param{name: name, typ: t, line: line})
	}
	p.expect(lexer.RPAREN)
	return params
}

func paramTypes(params []param) []symtab.Type {
	types := make([]symtab.Type, len(params))
	for i, prm := range params {
		types[i] = prm.typ
	}
	return types
}

// function parses a prototype or a function definition
func (p *Parser) function(ret symtab.Type, name lexer.Token, export bool) {
	params := p.parameters()
	types := paramTypes(params)

	sym, exists := p.ctx.Symbols.LookupLocal(name.Lexeme)
	if exists {
		if sym.Kind != symtab.Function || sym.Storage != symtab.Code ||
			sym.Type != ret || !slices.Equal(sym.Params, types) {
			p.fail(diag.ErrDuplicateDefinition, "`%s` redeclared with a different signature (first declared on line %d)", name.Lexeme, sym.Line)
		}
	} else {
		sym = &symtab.Symbol{
			Name:    name.Lexeme,
			Kind:    symtab.Function,
			Type:    ret,
			Storage: symtab.Code,
			Offset:  p.cg.DeclareFunction(name.Lexeme, types, ret),
			Params:  types,
			Line:    name.Pos.Line,
		}
		p.declare(sym)
	}

	if export && !sym.Export {
		sym.Export = true
		p.cg.AddExport(sym)
	}

	if p.accept(lexer.SEMICOLON) {
		return
	}
	if sym.Defined {
		p.fail(diag.ErrDuplicateDefinition, "function `%s` already defined on line %d", name.Lexeme, sym.Line)
	}
	sym.Defined = true

	p.cg.BeginFunction(sym.Offset, ret)
	p.ctx.Symbols.Push()
	for slot, prm := range params {
		if prm.name == "" {
			p.fail(diag.ErrSyntax, "parameter %d of `%s` has no name", slot+1, name.Lexeme)
		}
		p.declare(&symtab.Symbol{
			Name:    prm.name,
			Kind:    symtab.Variable,
			Type:    prm.typ,
			Storage: symtab.Local,
			Offset:  slot,
			Line:    prm.line,
		})
	}

	p.fn = sym
	p.block(false)
	p.fn = nil

	p.ctx.Symbols.Pop()
	p.cg.EndFunction()
}

// globalVar parses a global variable; its initializer goes to $init
func (p *Parser) globalVar(t symtab.Type, name lexer.Token, export bool) {
	if t == symtab.VoidType {
		p.fail(diag.ErrTypeMismatch, "variable `%s` declared void", name.Lexeme)
	}

	sym := &symtab.Symbol{
		Name:    name.Lexeme,
		Kind:    symtab.Variable,
		Type:    t,
		Storage: symtab.Global,
		Line:    name.Pos.Line,
	}
	p.declare(sym)
	sym.Offset = p.cg.AllocGlobal(name.Lexeme, t)

	if p.accept(lexer.ASSIGN) {
		p.cg.BeginInit()
		et := p.expression()
		p.check(p.cg.Convert(t, et, 0))
		p.check(p.cg.Store(sym))
		p.cg.EndInit()
	}
	p.expect(lexer.SEMICOLON)

	if export {
		sym.Export = true
		p.cg.AddExport(sym)
	}
}

// importDecl parses an imported function or variable
func (p *Parser) importDecl() {
	p.expect(lexer.IMPORT)
	t := p.parseType()
	name := p.expect(lexer.ID)

	sym := &symtab.Symbol{
		Name:    name.Lexeme,
		Type:    t,
		Storage: symtab.External,
		Line:    name.Pos.Line,
		Defined: true,
	}
	if p.currentToken.Type == lexer.LPAREN {
		types := paramTypes(p.parameters())
		sym.Kind = symtab.Function
		sym.Params = types
		sym.Offset = p.cg.AddImport(name.Lexeme, bytecode.LinkFunc, types, t)
	} else {
		if t == symtab.VoidType {
			p.fail(diag.ErrTypeMismatch, "variable `%s` declared void", name.Lexeme)
		}
		sym.Kind = symtab.Variable
		sym.Offset = p.cg.AddImport(name.Lexeme, bytecode.LinkVar, nil, t)
	}
	p.expect(lexer.SEMICOLON)
	p.declare(sym)
}

// constDecl parses a named literal, usable at module or block scope
func (p *Parser) constDecl() {
	p.expect(lexer.CONST)
	t := p.parseType()
	name := p.expect(lexer.ID)
	p.expect(lexer.ASSIGN)

	negate := p.accept(lexer.MINUS)
	tok := p.currentToken
	var v value.Value

	switch {
	case tok.Type == lexer.NUM && t.IsNumeric():
		lt, i, f := p.number(tok)
		if negate {
			i, f = -i, -f
		}
		switch {
		case t == symtab.IntType && lt == symtab.IntType:
			v = value.NewInt(i)
		case t == symtab.FloatType && lt == symtab.IntType:
			v = value.NewFloat(float64(i))
		case t == symtab.FloatType:
			v = value.NewFloat(f)
		default:
			p.fail(diag.ErrTypeMismatch, "type mismatch: expected %s, found %s", t, lt)
		}
	case tok.Type == lexer.STRING && t == symtab.StringType && !negate:
		v = value.DataRef(0, p.cg.Literal(tok.Literal))
	default:
		p.fail(diag.ErrTypeMismatch, "constant `%s` needs a %s literal, found %s", name.Lexeme, t, describe(tok))
	}
	p.nextToken()
	p.expect(lexer.SEMICOLON)

	p.declare(&symtab.Symbol{
		Name:    name.Lexeme,
		Kind:    symtab.Constant,
		Type:    t,
		Storage: symtab.Inline,
		Line:    name.Pos.Line,
		Const:   v,
	})
}

// number converts a NUM token; literals with a fraction or exponent are floats
func (p *Parser) number(tok lexer.Token) (symtab.Type, int64, float64) {
	if strings.ContainsAny(tok.Literal, ".eE") {
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.fail(diag.ErrSyntax, "invalid number %s", tok.Literal)
		}
		return symtab.FloatType, 0, f
	}
	i, err := strconv.ParseInt(tok.Literal, 10, 64)
	if err != nil {
		p.fail(diag.ErrSyntax, "number %s out of range", tok.Literal)
	}
	return symtab.IntType, i, float64(i)
}
