package symtab_test

import (
	"errors"
	"testing"

	"scriptvm/pkg/diag"
	"scriptvm/pkg/parser/symtab"
)

func TestShadowing(t *testing.T) {
	table := symtab.New()
	outer := &symtab.Symbol{Name: "x", Kind: symtab.Variable, Type: symtab.IntType, Storage: symtab.Global, Line: 1}
	if err := table.Declare(outer); err != nil {
		t.Fatal(err)
	}

	table.Push()
	inner := &symtab.Symbol{Name: "x", Kind: symtab.Variable, Type: symtab.FloatType, Storage: symtab.Local, Line: 3}
	if err := table.Declare(inner); err != nil {
		t.Fatalf("shadowing an outer name should be legal: %v", err)
	}

	got, ok := table.Lookup("x")
	if !ok || got != inner {
		t.Fatalf("lookup should find the innermost x")
	}
	if got.Depth != 1 {
		t.Errorf("expected depth 1, got %d", got.Depth)
	}

	popped := table.Pop()
	if len(popped) != 1 || popped[0] != inner {
		t.Errorf("pop returned %v", popped)
	}
	if got, _ := table.Lookup("x"); got != outer {
		t.Errorf("outer x not visible after pop")
	}
}

func TestDuplicateInSameScope(t *testing.T) {
	table := symtab.New()
	table.Push()
	_ = table.Declare(&symtab.Symbol{Name: "a", Line: 2})

	err := table.Declare(&symtab.Symbol{Name: "a", Line: 4})
	if !errors.Is(err, diag.ErrDuplicateDefinition) {
		t.Errorf("expected ErrDuplicateDefinition, got %v", err)
	}
}

func TestLookupLocalAndDepth(t *testing.T) {
	table := symtab.New()
	_ = table.Declare(&symtab.Symbol{Name: "g"})
	table.Push()
	table.Push()

	if table.Depth() != 2 {
		t.Errorf("depth = %d", table.Depth())
	}
	if _, ok := table.LookupLocal("g"); ok {
		t.Errorf("LookupLocal should not see module scope")
	}
	if _, ok := table.Lookup("g"); !ok {
		t.Errorf("Lookup should see module scope")
	}
	if _, ok := table.Lookup("missing"); ok {
		t.Errorf("found undeclared name")
	}

	table.Pop()
	table.Pop()
	if table.Pop() != nil || table.Depth() != 0 {
		t.Errorf("module scope must not be popped")
	}
	if len(table.Globals()) != 1 {
		t.Errorf("globals = %v", table.Globals())
	}
}

func TestAssignable(t *testing.T) {
	intArray := symtab.Type{Base: symtab.IntType.Base, Array: true}
	tests := []struct {
		dst, src symtab.Type
		want     bool
	}{
		{symtab.IntType, symtab.IntType, true},
		{symtab.FloatType, symtab.IntType, true},
		{symtab.IntType, symtab.FloatType, false},
		{symtab.StringType, symtab.NullType, true},
		{intArray, symtab.NullType, true},
		{intArray, symtab.StringType, false},
		{symtab.IntType, symtab.NullType, false},
	}
	for _, tt := range tests {
		if got := tt.dst.AssignableFrom(tt.src); got != tt.want {
			t.Errorf("%s <- %s: got %v, want %v", tt.dst, tt.src, got, tt.want)
		}
	}
}

func TestBuiltinTypes(t *testing.T) {
	table := symtab.New()
	tests := []struct {
		name string
		want symtab.Type
	}{
		{"int", symtab.IntType},
		{"float", symtab.FloatType},
		{"string", symtab.StringType},
		{"void", symtab.VoidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := table.LookupType(tt.name)
			if !ok || got != tt.want {
				t.Errorf("LookupType(%q) = %v, %v", tt.name, got, ok)
			}
			sym, _ := table.Lookup(tt.name)
			if sym.Kind != symtab.TypeName || sym.Kind.String() != "type" {
				t.Errorf("%s has kind %s", tt.name, sym.Kind)
			}
		})
	}

	if len(table.Globals()) != 0 {
		t.Errorf("built-in types leaked into module scope: %v", table.Globals())
	}
	if err := table.Declare(&symtab.Symbol{Name: "n", Kind: symtab.Variable, Type: symtab.IntType, Storage: symtab.Global}); err != nil {
		t.Fatal(err)
	}
	if _, ok := table.LookupType("n"); ok {
		t.Error("a variable resolved as a type")
	}
	if _, ok := table.LookupType("bool"); ok {
		t.Error("unknown name resolved as a type")
	}
}
