package bytecode

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"scriptvm/pkg/value"
)

var ErrMalformed = errors.New("malformed module")

// LinkKind says whether an import or export names a function or a variable.
type LinkKind uint8

const (
	LinkFunc LinkKind = iota
	LinkVar
)

func (k LinkKind) String() string {
	if k == LinkVar {
		return "variable"
	}
	return "function"
}

// Function is the compile-time frame layout of one script function:
// parameter slots first, then locals.
type Function struct {
	Name    string       `cbor:"name"`
	Entry   int          `cbor:"entry"`
	Params  []value.Kind `cbor:"params"`
	Locals  int          `cbor:"locals"` // total slots including parameters
	Returns value.Kind   `cbor:"returns"`
	Line    int          `cbor:"line"`
}

// Import is a name the module expects the linker to resolve.
type Import struct {
	Name   string       `cbor:"name"`
	Kind   LinkKind     `cbor:"kind"`
	Params []value.Kind `cbor:"params,omitempty"`
	Type   value.Kind   `cbor:"type"` // return kind for functions, value kind for variables
}

// Export is a function or global made visible to other modules.
type Export struct {
	Name   string       `cbor:"name"`
	Kind   LinkKind     `cbor:"kind"`
	Index  int          `cbor:"index"` // function index, or data offset for variables
	Params []value.Kind `cbor:"params,omitempty"`
	Type   value.Kind   `cbor:"type"`
}

// Global describes one global variable in the data segment.
type Global struct {
	Name   string     `cbor:"name"`
	Offset int        `cbor:"offset"`
	Type   value.Kind `cbor:"type"`
}

// Module is one compiled unit of script source.
type Module struct {
	Name      string        `cbor:"name"`
	Code      []Instruction `cbor:"code"`
	Functions []Function    `cbor:"functions"`
	Imports   []Import      `cbor:"imports"`
	Exports   []Export      `cbor:"exports"`
	Globals   []Global      `cbor:"globals"`
	Data      []byte        `cbor:"data"` // initial data segment: globals then string literals
	Init      int           `cbor:"init"` // function index of the global initializer, -1 if none
}

// FloatOperand packs a float into an instruction argument
func FloatOperand(f float64) int64 {
	return int64(math.Float64bits(f))
}

func floatArg(arg int64) float64 {
	return math.Float64frombits(uint64(arg))
}

// FloatArg unpacks the argument of an OpPushFloat instruction
func (i Instruction) FloatArg() float64 {
	return floatArg(i.Arg)
}

// Function returns the index of the named function
func (m *Module) Function(name string) (int, bool) {
	for idx := range m.Functions {
		if m.Functions[idx].Name == name {
			return idx, true
		}
	}
	return -1, false
}

// Global returns the named global variable
func (m *Module) Global(name string) (Global, bool) {
	for _, g := range m.Globals {
		if g.Name == name {
			return g, true
		}
	}
	return Global{}, false
}

// Export returns the named export
func (m *Module) Export(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// LineAt returns the source line of the instruction at pc, or 0
func (m *Module) LineAt(pc int) int {
	if pc < 0 || pc >= len(m.Code) {
		return 0
	}
	return m.Code[pc].Line
}

// FunctionAt returns the index of the function whose body contains pc
func (m *Module) FunctionAt(pc int) int {
	best := -1
	for idx, fn := range m.Functions {
		if fn.Entry <= pc && (best < 0 || fn.Entry > m.Functions[best].Entry) {
			best = idx
		}
	}
	return best
}

// Validate checks that every operand that names an import, a function, a
// jump target or a data offset is in range.
func (m *Module) Validate() error {
	n := len(m.Code)
	for pc, in := range m.Code {
		if in.Op >= opCount {
			return fmt.Errorf("%w: %d: unknown opcode %d", ErrMalformed, pc, in.Op)
		}
		switch {
		case in.Op.IsJump():
			if in.Arg < 0 || in.Arg >= int64(n) {
				return fmt.Errorf("%w: %d: jump target %d outside [0,%d)", ErrMalformed, pc, in.Arg, n)
			}
		case in.Op.IsImportRef():
			if in.Arg < 0 || in.Arg >= int64(len(m.Imports)) {
				return fmt.Errorf("%w: %d: import %d outside import table of %d", ErrMalformed, pc, in.Arg, len(m.Imports))
			}
		case in.Op == OpCall:
			if in.Arg < 0 || in.Arg >= int64(len(m.Functions)) {
				return fmt.Errorf("%w: %d: function %d outside function table of %d", ErrMalformed, pc, in.Arg, len(m.Functions))
			}
		case in.Op == OpLoadGlobal || in.Op == OpStoreGlobal:
			if in.Arg < 0 || in.Arg+value.WordSize > int64(len(m.Data)) {
				return fmt.Errorf("%w: %d: global offset %d outside data segment of %d", ErrMalformed, pc, in.Arg, len(m.Data))
			}
		case in.Op == OpPushData:
			if in.Arg < 0 || in.Arg >= int64(len(m.Data)) {
				return fmt.Errorf("%w: %d: data offset %d outside data segment of %d", ErrMalformed, pc, in.Arg, len(m.Data))
			}
		}
	}

	for _, fn := range m.Functions {
		if fn.Entry < 0 || fn.Entry >= n {
			return fmt.Errorf("%w: function %s entry %d outside code", ErrMalformed, fn.Name, fn.Entry)
		}
		if fn.Locals < len(fn.Params) {
			return fmt.Errorf("%w: function %s has fewer slots than parameters", ErrMalformed, fn.Name)
		}
	}
	if m.Init >= len(m.Functions) {
		return fmt.Errorf("%w: initializer %d outside function table", ErrMalformed, m.Init)
	}

	for _, e := range m.Exports {
		switch e.Kind {
		case LinkFunc:
			if e.Index < 0 || e.Index >= len(m.Functions) {
				return fmt.Errorf("%w: export %s names function %d", ErrMalformed, e.Name, e.Index)
			}
		case LinkVar:
			if e.Index < 0 || e.Index+value.WordSize > len(m.Data) {
				return fmt.Errorf("%w: export %s names offset %d", ErrMalformed, e.Name, e.Index)
			}
		}
	}
	return nil
}

// SameSignature reports whether an import and an export agree on kind, arity and value kinds.
func SameSignature(kind LinkKind, params []value.Kind, typ value.Kind, otherKind LinkKind, otherParams []value.Kind, otherType value.Kind) bool {
	return kind == otherKind && typ == otherType && slices.Equal(params, otherParams)
}
