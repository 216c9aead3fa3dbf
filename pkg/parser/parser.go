// Package parser compiles preprocessed script source into a bytecode module
// in a single recursive-descent pass. Code is emitted while parsing; no
// syntax tree is kept.
//
// Compilation stops at the first error, which is reported as one diagnostic
// with its source line.
package parser

import (
	"errors"

	"github.com/charmbracelet/log"

	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/diag"
	"scriptvm/pkg/lexer"
	"scriptvm/pkg/parser/codegen"
	"scriptvm/pkg/parser/symtab"
	"scriptvm/pkg/preprocessor"
)

// Context is the state of one compile: the macro table, the symbol table
// and the diagnostics collected so far.
type Context struct {
	Module  string
	Macros  *preprocessor.MacroTable
	Symbols *symtab.Table
	Diags   diag.List
}

// NewContext creates a compile context seeded with the predefined macros
func NewContext(module string, predefined *preprocessor.MacroTable) *Context {
	ctx := &Context{
		Module:  module,
		Macros:  preprocessor.NewMacroTable(),
		Symbols: symtab.New(),
	}
	if err := ctx.Macros.Merge(predefined); err != nil {
		ctx.Diags.Errorf(diag.ErrMacro, module, 0, "%v", err)
	}
	return ctx
}

// Compile preprocesses and compiles one module. The module is nil when any
// error diagnostic was reported.
func Compile(name, src string, predefined *preprocessor.MacroTable) (*bytecode.Module, diag.List) {
	ctx := NewContext(name, predefined)
	if ctx.Diags.HasErrors() {
		return nil, ctx.Diags
	}

	expanded, diags := preprocessor.New(name, ctx.Macros).Expand(src)
	ctx.Diags.Append(diags)
	if ctx.Diags.HasErrors() {
		return nil, ctx.Diags
	}

	p := NewParser(ctx, lexer.NewLexer(expanded))
	m := p.Parse()
	if ctx.Diags.HasErrors() {
		return nil, ctx.Diags
	}
	log.Debug("compiled", "module", name, "instructions", len(m.Code))
	return m, ctx.Diags
}

// bailout unwinds the parser after the first error has been recorded.
type bailout struct{}

type Parser struct {
	lexer        *lexer.Lexer     // lexer instance
	cg           *codegen.Codegen // code generator instance
	ctx          *Context         // compile context
	currentToken lexer.Token      // current token
	fn           *symtab.Symbol   // function being compiled, nil at module level
}

// NewParser creates a new parser instance
func NewParser(ctx *Context, l *lexer.Lexer) *Parser {
	return &Parser{
		lexer: l,
		cg:    codegen.NewCodegen(ctx.Module),
		ctx:   ctx,
	}
}

// Parse compiles the whole input. It returns nil after an error; the
// diagnostic is in the context.
func (p *Parser) Parse() (m *bytecode.Module) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			m = nil
		}
	}()

	p.nextToken()
	for p.currentToken.Type != lexer.EOF {
		p.topLevel()
	}

	m, err := p.cg.Finish()
	p.check(err)
	return m
}

// nextToken advances to the next token from the lexer
func (p *Parser) nextToken() {
	p.currentToken = p.lexer.NextToken()
	p.cg.SetCurrentToken(p.currentToken)
	if p.currentToken.Type == lexer.ILLEGAL {
		p.fail(diag.ErrSyntax, "Unexpected character '%s'", p.currentToken.Lexeme)
	}
}

// accept consumes the current token if it has type t
func (p *Parser) accept(t lexer.TokenType) bool {
	if p.currentToken.Type != t {
		return false
	}
	p.nextToken()
	return true
}

// expect consumes a token of type t or fails
func (p *Parser) expect(t lexer.TokenType) lexer.Token {
	tok := p.currentToken
	if tok.Type != t {
		p.fail(diag.ErrSyntax, "%s", p.categorizeError(t, tok))
	}
	p.nextToken()
	return tok
}

// fail records an error at the current token and stops the compile
func (p *Parser) fail(category error, format string, args ...any) {
	p.ctx.Diags.Errorf(category, p.ctx.Module, p.currentToken.Pos.Line, format, args...)
	panic(bailout{})
}

// check stops the compile if a code generator action failed
func (p *Parser) check(err error) {
	if err == nil {
		return
	}
	var d diag.Diagnostic
	if errors.As(err, &d) {
		p.ctx.Diags = append(p.ctx.Diags, d)
		panic(bailout{})
	}
	p.fail(diag.ErrSyntax, "%v", err)
}

// declare adds sym to the innermost scope or fails on a redefinition
func (p *Parser) declare(sym *symtab.Symbol) {
	if err := p.ctx.Symbols.Declare(sym); err != nil {
		p.ctx.Diags.Errorf(diag.ErrDuplicateDefinition, p.ctx.Module, sym.Line, "%v", err)
		panic(bailout{})
	}
}

// resolve finds name or reports it as undefined
func (p *Parser) resolve(name, what string) *symtab.Symbol {
	sym, ok := p.ctx.Symbols.Lookup(name)
	if !ok {
		p.fail(diag.ErrUndefined, "undefined %s `%s`", what, name)
	}
	return sym
}
