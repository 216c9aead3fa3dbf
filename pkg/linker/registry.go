package linker

import (
	"errors"
	"fmt"

	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/pool"
	"scriptvm/pkg/value"
)

var (
	ErrFrozen           = errors.New("native registry is frozen")
	ErrDuplicateNative  = errors.New("native already registered")
	ErrCellKindMismatch = errors.New("value does not match cell kind")
)

// Call is what a native function sees of the instance calling it.
//
// Objects created through NewString belong to the calling frame and are
// released when it returns; natives never hand ownership of a reference
// back to the script.
type Call interface {
	// ID identifies the calling instance
	ID() string
	Pool() *pool.Pool
	// String reads a NUL-terminated script string
	String(v value.Value) (string, error)
	NewString(s string) (value.Value, error)
	// Wait suspends the caller after the native returns, until the host
	// signals token. The native's own return value is then ignored; the
	// value given with the signal is used instead.
	Wait(token string)
	// Invoke runs a script function depth-first before the caller resumes.
	Invoke(unit, fn string, args ...value.Value) (value.Value, error)
}

// NativeFn implements an imported function on the host side. Arguments and
// the result are borrowed: a native that keeps a reference past its return
// retains it, and a returned reference must stay alive until the call ends.
type NativeFn func(call Call, args []value.Value) (value.Value, error)

// Cell is a host global variable visible to scripts.
type Cell struct {
	kind  value.Kind
	value value.Value
}

func (c *Cell) Kind() value.Kind { return c.kind }

func (c *Cell) Get() value.Value { return c.value }

// Set stores v; ints are widened into float cells
func (c *Cell) Set(v value.Value) error {
	if c.kind == value.Float && v.Kind == value.Int {
		v = value.NewFloat(float64(v.I))
	}
	if v.Kind != c.kind {
		return fmt.Errorf("%w: %s into %s cell", ErrCellKindMismatch, v.Kind, c.kind)
	}
	c.value = v
	return nil
}

// Native is one registry entry: a function or a variable cell.
type Native struct {
	Name    string
	Kind    bytecode.LinkKind
	Params  []value.Kind
	Returns value.Kind // value kind for variables
	Fn      NativeFn
	Cell    *Cell
}

// Registry holds the host natives. It is populated at startup and frozen by
// the first Link; only cell values change afterwards.
type Registry struct {
	natives map[string]*Native
	frozen  bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{natives: make(map[string]*Native)}
}

func (r *Registry) add(n *Native) error {
	if r.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrFrozen, n.Name)
	}
	if _, ok := r.natives[n.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNative, n.Name)
	}
	r.natives[n.Name] = n
	return nil
}

// RegisterFunc adds a native function
func (r *Registry) RegisterFunc(name string, params []value.Kind, returns value.Kind, fn NativeFn) error {
	if fn == nil {
		return fmt.Errorf("register %s: nil function", name)
	}
	return r.add(&Native{Name: name, Kind: bytecode.LinkFunc, Params: params, Returns: returns, Fn: fn})
}

// RegisterVar adds a native variable and returns its cell
func (r *Registry) RegisterVar(name string, kind value.Kind, init value.Value) (*Cell, error) {
	if kind == value.Void {
		return nil, fmt.Errorf("register %s: void variable", name)
	}
	cell := &Cell{kind: kind}
	switch {
	case init.Kind == value.Void && kind == value.Ref:
		cell.value = value.Null()
	case init.Kind == value.Void:
		cell.value = value.FromWord(kind, 0)
	default:
		if err := cell.Set(init); err != nil {
			return nil, err
		}
	}
	if err := r.add(&Native{Name: name, Kind: bytecode.LinkVar, Returns: kind, Cell: cell}); err != nil {
		return nil, err
	}
	return cell, nil
}

// Freeze makes the registry read-only
func (r *Registry) Freeze() {
	r.frozen = true
}

// Lookup returns the native registered under name
func (r *Registry) Lookup(name string) (*Native, bool) {
	n, ok := r.natives[name]
	return n, ok
}

func (r *Registry) Len() int {
	return len(r.natives)
}
