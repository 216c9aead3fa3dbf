// Package symtab is the block-scoped symbol table used while compiling one
// module. Scope 0 holds module-level names; every block pushes a scope.
package symtab

import (
	"fmt"

	"scriptvm/pkg/diag"
	"scriptvm/pkg/parser/stack"
	"scriptvm/pkg/value"
)

type Kind int

const (
	Variable Kind = iota
	Function
	Constant
	TypeName
)

func (k Kind) String() string {
	switch k {
	case Variable:
		return "variable"
	case Function:
		return "function"
	case Constant:
		return "constant"
	case TypeName:
		return "type"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Storage int

const (
	Global   Storage = iota // Offset is a data segment offset
	Local                   // Offset is a frame slot
	External                // Offset is an import index
	Code                    // Offset is a function index
	Inline                  // constants, emitted as literals
	Builtin                 // predeclared names with no storage
)

// Type is a script type: a base kind, optionally an array of it. Strings
// are references with Str set.
type Type struct {
	Base  value.Kind
	Str   bool
	Array bool
}

var (
	VoidType   = Type{Base: value.Void}
	IntType    = Type{Base: value.Int}
	FloatType  = Type{Base: value.Float}
	StringType = Type{Base: value.Ref, Str: true}
	NullType   = Type{Base: value.Ref}
)

// Kind returns the runtime kind of a value of type t
func (t Type) Kind() value.Kind {
	if t.Array {
		return value.Ref
	}
	return t.Base
}

// Elem returns the element type of an array type
func (t Type) Elem() Type {
	return Type{Base: t.Base, Str: t.Str}
}

// IsRef reports whether values of t are references
func (t Type) IsRef() bool {
	return t.Kind() == value.Ref
}

// IsNumeric reports whether t is int or float
func (t Type) IsNumeric() bool {
	return !t.Array && (t.Base == value.Int || t.Base == value.Float)
}

// AssignableFrom reports whether a value of type src may be stored in t.
// Ints widen to floats; null fits every reference type.
func (t Type) AssignableFrom(src Type) bool {
	if t == src {
		return true
	}
	if t == FloatType && src == IntType {
		return true
	}
	return t.IsRef() && src == NullType
}

func (t Type) String() string {
	var name string
	switch {
	case t.Str:
		name = "string"
	case t.Base == value.Ref:
		name = "null"
	default:
		name = t.Base.String()
	}
	if t.Array {
		name += "[]"
	}
	return name
}

type Symbol struct {
	Name    string
	Kind    Kind
	Type    Type // value type, or return type for functions
	Storage Storage
	Offset  int
	Depth   int
	Params  []Type
	Line    int

	Const   value.Value // value of a Constant
	Defined bool        // function has a body
	Export  bool
}

// Table is a stack of scopes searched innermost first.
// Built-in type names sit below the module scope.
type Table struct {
	builtins map[string]*Symbol
	scopes   *stack.Stack[map[string]*Symbol]
	order    *stack.Stack[[]*Symbol]
}

// New creates a table holding the built-in types and an empty module scope
func New() *Table {
	t := &Table{
		builtins: make(map[string]*Symbol),
		scopes:   stack.NewStack[map[string]*Symbol](),
		order:    stack.NewStack[[]*Symbol](),
	}
	for name, typ := range map[string]Type{
		"int":    IntType,
		"float":  FloatType,
		"string": StringType,
		"void":   VoidType,
	} {
		t.builtins[name] = &Symbol{Name: name, Kind: TypeName, Type: typ, Storage: Builtin, Depth: -1}
	}
	t.Push()
	return t
}

// Push opens a new innermost scope
func (t *Table) Push() {
	t.scopes.Push(make(map[string]*Symbol))
	t.order.Push(nil)
}

// Pop closes the innermost scope and returns its symbols in declaration
// order. The module scope is never popped.
func (t *Table) Pop() []*Symbol {
	if t.scopes.Size() <= 1 {
		return nil
	}
	t.scopes.Pop()
	syms, _ := t.order.Pop()
	return syms
}

// Depth returns the innermost scope depth, 0 being module scope
func (t *Table) Depth() int {
	return t.scopes.Size() - 1
}

// Declare adds sym to the innermost scope. Redeclaring a name in the same
// scope fails; names from outer scopes are shadowed.
func (t *Table) Declare(sym *Symbol) error {
	scope, _ := t.scopes.Peek()
	if prev, ok := scope[sym.Name]; ok {
		return fmt.Errorf("%w: %s %s already declared on line %d", diag.ErrDuplicateDefinition, prev.Kind, sym.Name, prev.Line)
	}
	sym.Depth = t.Depth()
	scope[sym.Name] = sym

	syms, _ := t.order.Pop()
	t.order.Push(append(syms, sym))
	return nil
}

// Lookup finds name starting at the innermost scope
func (t *Table) Lookup(name string) (*Symbol, bool) {
	scopes := t.scopes.Array()
	for i := len(scopes) - 1; i >= 0; i-- {
		if sym, ok := scopes[i][name]; ok {
			return sym, true
		}
	}
	sym, ok := t.builtins[name]
	return sym, ok
}

// LookupType resolves name to the type it declares
func (t *Table) LookupType(name string) (Type, bool) {
	sym, ok := t.Lookup(name)
	if !ok || sym.Kind != TypeName {
		return Type{}, false
	}
	return sym.Type, true
}

// LookupLocal finds name in the innermost scope only
func (t *Table) LookupLocal(name string) (*Symbol, bool) {
	scope, _ := t.scopes.Peek()
	sym, ok := scope[name]
	return sym, ok
}

// Globals returns the module scope symbols in declaration order
func (t *Table) Globals() []*Symbol {
	return t.order.Array()[0]
}
