package parser_test

import (
	"errors"
	"testing"

	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/diag"
	"scriptvm/pkg/parser"
	"scriptvm/pkg/preprocessor"
	"scriptvm/pkg/value"
)

func compile(t *testing.T, src string) *bytecode.Module {
	t.Helper()
	m, diags := parser.Compile("test", src, nil)
	if len(diags) != 0 || m == nil {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	return m
}

func ops(code []bytecode.Instruction) []bytecode.Opcode {
	out := make([]bytecode.Opcode, len(code))
	for i, in := range code {
		out[i] = in.Op
	}
	return out
}

func TestGlobalInitializer(t *testing.T) {
	m := compile(t, "int x = 1 + 2;")

	if len(m.Globals) != 1 || m.Globals[0].Name != "x" || m.Globals[0].Type != value.Int {
		t.Fatalf("globals = %+v", m.Globals)
	}
	if m.Init < 0 || m.Functions[m.Init].Name != "$init" {
		t.Fatalf("missing initializer, init = %d", m.Init)
	}

	init := m.Functions[m.Init]
	got := ops(m.Code[init.Entry:])
	want := []bytecode.Opcode{bytecode.OpPushInt, bytecode.OpPushInt, bytecode.OpAdd, bytecode.OpStoreGlobal, bytecode.OpReturn}
	if len(got) != len(want) {
		t.Fatalf("init code = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("init[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNoInitializerWithoutGlobals(t *testing.T) {
	m := compile(t, "int f() { return 1; }")
	if m.Init != -1 {
		t.Errorf("expected no initializer, got %d", m.Init)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		category error
		line     int
	}{
		{"undefined variable", "int f() {\n return y;\n}", diag.ErrUndefined, 2},
		{"undeclared native", "void f() { doThing(); }", diag.ErrUndefined, 1},
		{"duplicate global", "int a;\nint a;", diag.ErrDuplicateDefinition, 2},
		{"duplicate local", "void f() {\n int a;\n int a;\n}", diag.ErrDuplicateDefinition, 3},
		{"parameter redeclared", "void f(int a) { int a; }", diag.ErrDuplicateDefinition, 1},
		{"missing semicolon", "int x = 1\nint y;", diag.ErrSyntax, 2},
		{"missing brace", "void f() {\n int a;\n", diag.ErrSyntax, 3},
		{"float into int", "int x = 1.5;", diag.ErrTypeMismatch, 1},
		{"float condition", "void f() { if (1.0) {} }", diag.ErrTypeMismatch, 1},
		{"argument count", "int f(int a) { return a; }\nvoid g() { f(1, 2); }", diag.ErrTypeMismatch, 2},
		{"prototype without body", "int f(int a);", diag.ErrUndefined, 1},
		{"break outside loop", "void f() { break; }", diag.ErrSyntax, 1},
		{"assign to constant", "const int K = 1;\nvoid f() { K = 2; }", diag.ErrTypeMismatch, 2},
		{"macro redefinition", "#define A 1\n#define A 2\nint x = A;", diag.ErrDuplicateDefinition, 2},
		{"void return value", "void f() { return 1; }", diag.ErrTypeMismatch, 1},
		{"index non-array", "int x;\nvoid f() { x[0] = 1; }", diag.ErrTypeMismatch, 2},
		{"illegal character", "int x = 1 @ 2;", diag.ErrSyntax, 1},
	}

	for _, tt := range tests {
		m, diags := parser.Compile("test", tt.src, nil)
		if m != nil {
			t.Errorf("%s: module should be rejected", tt.name)
		}
		if len(diags) != 1 {
			t.Errorf("%s: expected one diagnostic, got %v", tt.name, diags)
			continue
		}
		if !errors.Is(diags[0], tt.category) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.category, diags[0])
		}
		if diags[0].Line != tt.line {
			t.Errorf("%s: expected line %d, got %d (%v)", tt.name, tt.line, diags[0].Line, diags[0])
		}
	}
}

func TestHaltOnFirstError(t *testing.T) {
	_, diags := parser.Compile("test", "int a = b;\nint c = d;", nil)
	if len(diags) != 1 || diags[0].Line != 1 {
		t.Errorf("expected a single diagnostic on line 1, got %v", diags)
	}
}

func TestShadowingReusesSlots(t *testing.T) {
	src := `
int x = 1;
int f() {
	int x = 2;
	{
		int x = 3;
		int y = x;
	}
	{
		int z = 4;
	}
	return x;
}`
	m := compile(t, src)
	idx, ok := m.Function("f")
	if !ok {
		t.Fatal("function f missing")
	}
	fn := m.Functions[idx]
	if fn.Locals != 3 {
		t.Errorf("expected 3 slots, got %d", fn.Locals)
	}

	// return x reads the function-level local, not the global or the inner x
	var last bytecode.Instruction
	for pc := fn.Entry; m.Code[pc].Op != bytecode.OpReturn; pc++ {
		last = m.Code[pc]
	}
	if last.Op != bytecode.OpLoadLocal || last.Arg != 0 {
		t.Errorf("return loads %v", last)
	}
}

func TestImportsAndExports(t *testing.T) {
	src := `
import void doThing();
import int game_tick;
export int helper(int a) { doThing(); return a * 2 + game_tick; }
export float ratio = 0.5;
`
	m := compile(t, src)

	if len(m.Imports) != 2 || m.Imports[0].Name != "doThing" || m.Imports[1].Kind != bytecode.LinkVar {
		t.Fatalf("imports = %+v", m.Imports)
	}
	helper, ok := m.Export("helper")
	if !ok || helper.Kind != bytecode.LinkFunc || helper.Type != value.Int || len(helper.Params) != 1 {
		t.Errorf("helper export = %+v", helper)
	}
	ratio, ok := m.Export("ratio")
	if !ok || ratio.Kind != bytecode.LinkVar || ratio.Type != value.Float {
		t.Errorf("ratio export = %+v", ratio)
	}
}

func TestPrototypeThenDefinition(t *testing.T) {
	src := `
int odd(int n);
int even(int n) { if (n == 0) return 1; return odd(n - 1); }
int odd(int n) { if (n == 0) return 0; return even(n - 1); }
`
	m := compile(t, src)
	if len(m.Functions) != 2 {
		t.Errorf("expected 2 functions, got %d", len(m.Functions))
	}
}

func TestPromotion(t *testing.T) {
	m := compile(t, "float f = 1 + 2.5;")
	init := m.Functions[m.Init]
	found := false
	for _, in := range m.Code[init.Entry:] {
		if in.Op == bytecode.OpIntToFloat && in.Arg == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("left operand was not promoted: %v", ops(m.Code))
	}
}

func TestPredefinedMacros(t *testing.T) {
	predefined := preprocessor.NewMacroTable()
	_ = predefined.Add("VERSION", "3")

	m, diags := parser.Compile("test", "int v = VERSION;", predefined)
	if m == nil || len(diags) != 0 {
		t.Fatalf("diagnostics: %v", diags)
	}
	if m.Code[m.Functions[m.Init].Entry].Arg != 3 {
		t.Errorf("macro not substituted")
	}
}

func TestLoopsAndStrings(t *testing.T) {
	src := `
import void Display(string s);
const string GREETING = "hello";
void main() {
	int i = 0;
	string[] names = new string[3];
	while (i < 10) {
		i = i + 1;
		if (i == 2 || i == 4) continue;
		if (i > 5 && i != 7) break;
		names[0] = GREETING;
		Display(names[0]);
	}
}`
	m := compile(t, src)
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if m.Data[0] != 'h' {
		t.Errorf("string literal not in data segment: %q", m.Data)
	}
}
