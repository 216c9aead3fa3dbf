// Package linker resolves the imports of compiled modules against each
// other's exports and the host's native registry, producing an immutable
// Program.
//
// A native name always takes priority over a script export of the same
// name. Among scripts, the module linked first wins and later duplicates are
// reported as warnings.
package linker

import (
	"fmt"

	"github.com/charmbracelet/log"

	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/diag"
	"scriptvm/pkg/value"
)

type BindingKind int

const (
	BindScriptFunc BindingKind = iota // Unit, Index = function index
	BindScriptVar                     // Unit, Index = data offset
	BindNativeFunc                    // Native.Fn
	BindNativeVar                     // Native.Cell
)

func (k BindingKind) String() string {
	switch k {
	case BindScriptFunc:
		return "script function"
	case BindScriptVar:
		return "script variable"
	case BindNativeFunc:
		return "native function"
	case BindNativeVar:
		return "native variable"
	default:
		return fmt.Sprintf("binding(%d)", int(k))
	}
}

// Binding is the resolved target of one import.
type Binding struct {
	Kind   BindingKind
	Unit   int
	Index  int
	Native *Native
}

// Unit is one module inside a program, with its own data segment.
type Unit struct {
	Index    int
	Module   *bytecode.Module
	Data     []byte    // live globals, initialised from Module.Data
	Bindings []Binding // parallel to Module.Imports
}

func (u *Unit) Name() string {
	return u.Module.Name
}

// Program is a set of linked units.
type Program struct {
	Units    []*Unit
	Registry *Registry
	byName   map[string]int
}

// Unit returns the unit of the named module
func (p *Program) Unit(name string) (*Unit, bool) {
	idx, ok := p.byName[name]
	if !ok {
		return nil, false
	}
	return p.Units[idx], true
}

// Function resolves a function of the named module. Entry points do not
// have to be exported.
func (p *Program) Function(unit, fn string) (*Unit, int, error) {
	u, ok := p.Unit(unit)
	if !ok {
		return nil, -1, fmt.Errorf("unknown module %s", unit)
	}
	idx, ok := u.Module.Function(fn)
	if !ok {
		return nil, -1, fmt.Errorf("module %s has no function %s", unit, fn)
	}
	return u, idx, nil
}

// ResetData restores every unit's globals to their compiled initial values
func (p *Program) ResetData() {
	for _, u := range p.Units {
		u.Data = append(u.Data[:0], u.Module.Data...)
	}
}

type exportRef struct {
	unit   int
	export bytecode.Export
}

// Link resolves every import of mods. It freezes the registry. Any error
// diagnostic means no program is returned.
func Link(reg *Registry, mods ...*bytecode.Module) (*Program, diag.List) {
	if reg == nil {
		reg = NewRegistry()
	}
	reg.Freeze()

	var diags diag.List
	prog := &Program{Registry: reg, byName: make(map[string]int)}
	exports := make(map[string]exportRef)

	for _, m := range mods {
		if _, dup := prog.byName[m.Name]; dup {
			diags.Errorf(diag.ErrDuplicateDefinition, m.Name, 0, "module %s linked twice", m.Name)
			continue
		}
		if err := m.Validate(); err != nil {
			diags.Errorf(diag.ErrSyntax, m.Name, 0, "%v", err)
			continue
		}

		u := &Unit{
			Index:    len(prog.Units),
			Module:   m,
			Data:     append([]byte(nil), m.Data...),
			Bindings: make([]Binding, len(m.Imports)),
		}
		prog.byName[m.Name] = u.Index
		prog.Units = append(prog.Units, u)

		for _, e := range m.Exports {
			if prev, ok := exports[e.Name]; ok {
				diags.Warnf(diag.ErrDuplicateDefinition, m.Name, 0, "export %s shadowed by module %s", e.Name, prog.Units[prev.unit].Name())
				log.Warn("duplicate export ignored", "name", e.Name, "module", m.Name, "kept", prog.Units[prev.unit].Name())
				continue
			}
			exports[e.Name] = exportRef{unit: u.Index, export: e}
		}
	}

	for _, u := range prog.Units {
		for idx, imp := range u.Module.Imports {
			b, ok := resolve(reg, exports, u, imp, &diags)
			if ok {
				u.Bindings[idx] = b
			}
		}
	}

	if diags.HasErrors() {
		return nil, diags
	}
	log.Debug("linked", "modules", len(prog.Units), "natives", reg.Len())
	return prog, diags
}

func resolve(reg *Registry, exports map[string]exportRef, u *Unit, imp bytecode.Import, diags *diag.List) (Binding, bool) {
	if n, ok := reg.Lookup(imp.Name); ok {
		if !bytecode.SameSignature(imp.Kind, imp.Params, imp.Type, n.Kind, n.Params, n.Returns) {
			mismatch(diags, u, imp, n.Kind, n.Params, n.Returns)
			return Binding{}, false
		}
		if n.Kind == bytecode.LinkFunc {
			return Binding{Kind: BindNativeFunc, Native: n}, true
		}
		return Binding{Kind: BindNativeVar, Native: n}, true
	}

	ref, ok := exports[imp.Name]
	if !ok {
		diags.Errorf(diag.ErrUnresolvedImport, u.Name(), 0, "unresolved import %s", imp.Name)
		return Binding{}, false
	}
	e := ref.export
	if !bytecode.SameSignature(imp.Kind, imp.Params, imp.Type, e.Kind, e.Params, e.Type) {
		mismatch(diags, u, imp, e.Kind, e.Params, e.Type)
		return Binding{}, false
	}
	if e.Kind == bytecode.LinkFunc {
		return Binding{Kind: BindScriptFunc, Unit: ref.unit, Index: e.Index}, true
	}
	return Binding{Kind: BindScriptVar, Unit: ref.unit, Index: e.Index}, true
}

func mismatch(diags *diag.List, u *Unit, imp bytecode.Import, kind bytecode.LinkKind, params []value.Kind, typ value.Kind) {
	diags.Errorf(diag.ErrLinkTypeMismatch, u.Name(), 0,
		"import %s: declared %s%s -> %s, target is %s%s -> %s",
		imp.Name, imp.Kind, signature(imp.Params), imp.Type, kind, signature(params), typ)
}

func signature(params []value.Kind) string {
	s := "("
	for i, p := range params {
		if i > 0 {
			s += ", "
		}
		s += p.String()
	}
	return s + ")"
}
