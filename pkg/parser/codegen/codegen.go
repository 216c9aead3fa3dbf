package codegen

import (
	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/lexer"
	"scriptvm/pkg/parser/stack"
	"scriptvm/pkg/parser/symtab"
	"scriptvm/pkg/value"

	"github.com/charmbracelet/log"
)

// InitFunction is the name of the synthetic function that runs global initializers.
const InitFunction = "$init"

type Codegen struct {
	module string // module name for diagnostics
	line   int    // source line stamped on emitted instructions

	code   []bytecode.Instruction // function bodies
	init   []bytecode.Instruction // global initializers, relocated on Finish
	inInit bool                   // emitting into init

	data     []byte         // data segment: globals and string literals
	literals map[string]int // interned string literal offsets

	functions []bytecode.Function
	defined   []bool
	imports   []bytecode.Import
	exports   []bytecode.Export
	globals   []bytecode.Global

	loops *stack.Stack[*loop] // enclosing loops, innermost on top
	fn    *frame              // function being emitted, nil at module level
}

type frame struct {
	index   int
	returns symtab.Type
	next    int // next free slot
	max     int // high-water mark of slots
}

type loop struct {
	start  int   // continue target
	breaks []int // jumps patched to the loop exit
}

// NewCodegen creates a code generator for one module
func NewCodegen(module string) *Codegen {
	return &Codegen{
		module:   module,
		code:     make([]bytecode.Instruction, 0, 64),
		literals: make(map[string]int),
		loops:    stack.NewStack[*loop](),
	}
}

// SetCurrentToken records the token being processed so that emitted
// instructions and diagnostics carry its line
func (c *Codegen) SetCurrentToken(token lexer.Token) {
	c.line = token.Pos.Line
}

// Line returns the current source line
func (c *Codegen) Line() int {
	return c.line
}

func (c *Codegen) buf() *[]bytecode.Instruction {
	if c.inInit {
		return &c.init
	}
	return &c.code
}

// emit appends an instruction to the active buffer and returns its index
func (c *Codegen) emit(op bytecode.Opcode, arg int64, kind value.Kind) int {
	b := c.buf()
	*b = append(*b, bytecode.Instruction{Op: op, Arg: arg, Kind: kind, Line: c.line})
	return len(*b) - 1
}

// Here returns the index the next instruction will get
func (c *Codegen) Here() int {
	return len(*c.buf())
}

// patch points the jump at idx to the next instruction
func (c *Codegen) patch(idx int) {
	(*c.buf())[idx].Arg = int64(c.Here())
}

// BeginInit routes emission to the global initializer
func (c *Codegen) BeginInit() {
	c.inInit = true
}

// EndInit routes emission back to function code
func (c *Codegen) EndInit() {
	c.inInit = false
}

// AllocGlobal reserves one word in the data segment for a global
func (c *Codegen) AllocGlobal(name string, t symtab.Type) int {
	for len(c.data)%value.WordSize != 0 {
		c.data = append(c.data, 0)
	}
	offset := len(c.data)
	c.data = append(c.data, make([]byte, value.WordSize)...)
	c.globals = append(c.globals, bytecode.Global{Name: name, Offset: offset, Type: t.Kind()})
	return offset
}

// Literal interns a NUL-terminated string in the data segment
func (c *Codegen) Literal(s string) int {
	if offset, ok := c.literals[s]; ok {
		return offset
	}
	offset := len(c.data)
	c.data = append(c.data, s...)
	c.data = append(c.data, 0)
	c.literals[s] = offset
	return offset
}

// DeclareFunction reserves a function index ahead of its body, so that
// prototypes and recursive calls can refer to it.
func (c *Codegen) DeclareFunction(name string, params []symtab.Type, returns symtab.Type) int {
	c.functions = append(c.functions, bytecode.Function{
		Name:    name,
		Entry:   -1,
		Params:  kinds(params),
		Locals:  len(params),
		Returns: returns.Kind(),
		Line:    c.line,
	})
	c.defined = append(c.defined, false)
	return len(c.functions) - 1
}

// BeginFunction starts the body of a declared function
func (c *Codegen) BeginFunction(index int, returns symtab.Type) {
	fn := &c.functions[index]
	fn.Entry = c.Here()
	fn.Line = c.line
	c.defined[index] = true
	c.fn = &frame{index: index, returns: returns, next: len(fn.Params), max: len(fn.Params)}
}

// EndFunction closes the current body with an implicit return
func (c *Codegen) EndFunction() {
	if c.fn == nil {
		return
	}
	ret := c.fn.returns
	if ret.Kind() != value.Void {
		c.pushZero(ret)
	}
	c.emit(bytecode.OpReturn, 0, ret.Kind())

	c.functions[c.fn.index].Locals = c.fn.max
	log.Debug("function emitted", "module", c.module, "name", c.functions[c.fn.index].Name, "slots", c.fn.max)
	c.fn = nil
}

// InFunction reports whether a function body is being emitted
func (c *Codegen) InFunction() bool {
	return c.fn != nil
}

// AllocLocal reserves the next frame slot
func (c *Codegen) AllocLocal() int {
	slot := c.fn.next
	c.fn.next++
	c.fn.max = max(c.fn.max, c.fn.next)
	return slot
}

// ScopeMark returns the slot watermark to restore when a block closes
func (c *Codegen) ScopeMark() int {
	if c.fn == nil {
		return 0
	}
	return c.fn.next
}

// ScopeRestore releases the slots of a closed block for reuse by siblings
func (c *Codegen) ScopeRestore(mark int) {
	if c.fn != nil {
		c.fn.next = mark
	}
}

// AddImport appends an entry to the import table
func (c *Codegen) AddImport(name string, kind bytecode.LinkKind, params []symtab.Type, t symtab.Type) int {
	c.imports = append(c.imports, bytecode.Import{Name: name, Kind: kind, Params: kinds(params), Type: t.Kind()})
	return len(c.imports) - 1
}

// AddExport makes a function or global visible to other modules
func (c *Codegen) AddExport(sym *symtab.Symbol) {
	exp := bytecode.Export{Name: sym.Name, Index: sym.Offset, Type: sym.Type.Kind()}
	if sym.Kind == symtab.Function {
		exp.Kind = bytecode.LinkFunc
		exp.Params = kinds(sym.Params)
	} else {
		exp.Kind = bytecode.LinkVar
	}
	c.exports = append(c.exports, exp)
}

// Finish assembles the module. Initializer code is appended after every
// function body as the $init function, with its jump targets relocated.
func (c *Codegen) Finish() (*bytecode.Module, error) {
	for idx, fn := range c.functions {
		if !c.defined[idx] {
			c.line = fn.Line
			return nil, c.undefinedError("function", fn.Name)
		}
	}

	m := &bytecode.Module{
		Name:      c.module,
		Code:      c.code,
		Functions: c.functions,
		Imports:   c.imports,
		Exports:   c.exports,
		Globals:   c.globals,
		Data:      c.data,
		Init:      -1,
	}

	if len(c.init) > 0 {
		base := len(m.Code)
		for _, in := range c.init {
			if in.Op.IsJump() {
				in.Arg += int64(base)
			}
			m.Code = append(m.Code, in)
		}
		m.Code = append(m.Code, bytecode.Instruction{Op: bytecode.OpReturn, Kind: value.Void, Line: c.line})
		m.Functions = append(m.Functions, bytecode.Function{Name: InitFunction, Entry: base, Returns: value.Void})
		m.Init = len(m.Functions) - 1
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	log.Debug("module generated", "module", c.module, "instructions", len(m.Code), "functions", len(m.Functions), "data", len(m.Data))
	return m, nil
}

func kinds(types []symtab.Type) []value.Kind {
	out := make([]value.Kind, len(types))
	for i, t := range types {
		out[i] = t.Kind()
	}
	return out
}
