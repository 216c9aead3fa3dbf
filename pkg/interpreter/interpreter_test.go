package interpreter_test

import (
	"encoding/binary"
	"errors"
	"slices"
	"strconv"
	"testing"

	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/interpreter"
	"scriptvm/pkg/linker"
	"scriptvm/pkg/parser"
	"scriptvm/pkg/pool"
	"scriptvm/pkg/value"
)

type source struct {
	name string
	src  string
}

func build(t *testing.T, reg *linker.Registry, sources ...source) (*linker.Program, *pool.Pool) {
	t.Helper()
	mods := make([]*bytecode.Module, 0, len(sources))
	for _, s := range sources {
		m, diags := parser.Compile(s.name, s.src, nil)
		if m == nil {
			t.Fatalf("compile %s: %v", s.name, diags)
		}
		mods = append(mods, m)
	}
	prog, diags := linker.Link(reg, mods...)
	if prog == nil {
		t.Fatalf("link: %v", diags)
	}
	p := value.NewPool()
	if err := interpreter.RunInitializers(prog, p); err != nil {
		t.Fatalf("initializers: %v", err)
	}
	return prog, p
}

func run(t *testing.T, in *interpreter.Instance, unit, fn string, args ...value.Value) interpreter.State {
	t.Helper()
	if err := in.Start(unit, fn, args...); err != nil {
		t.Fatalf("start %s.%s: %v", unit, fn, err)
	}
	state := in.Run()
	for state == interpreter.Ready {
		state = in.Run()
	}
	return state
}

func pausing(reg *linker.Registry) {
	_ = reg.RegisterFunc("Delay", []value.Kind{value.Int}, value.Int, func(call linker.Call, args []value.Value) (value.Value, error) {
		call.Wait("delay:" + strconv.FormatInt(args[0].I, 10))
		return value.Value{}, nil
	})
	_ = reg.RegisterFunc("Pause", nil, value.Void, func(call linker.Call, _ []value.Value) (value.Value, error) {
		call.Wait("pause")
		return value.Value{}, nil
	})
}

func TestGlobalInitializer(t *testing.T) {
	prog, _ := build(t, nil, source{"a", "int x = 1 + 2;"})

	unit, _ := prog.Unit("a")
	g, ok := unit.Module.Global("x")
	if !ok {
		t.Fatal("global x missing")
	}
	if got := int64(binary.LittleEndian.Uint64(unit.Data[g.Offset:])); got != 3 {
		t.Errorf("x = %d, want 3", got)
	}
}

func TestCrossModuleCall(t *testing.T) {
	prog, p := build(t, nil,
		source{"a", "export int helper(int x) { return x * 2 + 1; }"},
		source{"b", "import int helper(int x);\nint main() { return helper(20); }"},
	)

	direct := interpreter.New(prog, p)
	if state := run(t, direct, "a", "helper", value.NewInt(20)); state != interpreter.Finished {
		t.Fatalf("helper: %s %v", state, direct.Fault())
	}
	through := interpreter.New(prog, p)
	if state := run(t, through, "b", "main"); state != interpreter.Finished {
		t.Fatalf("main: %s %v", state, through.Fault())
	}
	if direct.Result() != through.Result() || through.Result().I != 41 {
		t.Errorf("helper = %v, main = %v", direct.Result(), through.Result())
	}
}

func TestWaitAndResume(t *testing.T) {
	reg := linker.NewRegistry()
	pausing(reg)
	prog, p := build(t, reg, source{"e", "import int Delay(int n);\nint main() {\n return 100 + Delay(5);\n}"})

	in := interpreter.New(prog, p)
	if state := run(t, in, "e", "main"); state != interpreter.Waiting {
		t.Fatalf("state = %s, want waiting", state)
	}
	token, ok := in.WaitToken()
	if !ok || token != "delay:5" {
		t.Errorf("token = %q", token)
	}

	pc, stack := in.PC(), in.Stack()
	for range 3 {
		if state := in.Run(); state != interpreter.Waiting {
			t.Fatalf("unsatisfied wait resumed: %s", state)
		}
	}
	if in.PC() != pc || !slices.Equal(in.Stack(), stack) {
		t.Errorf("state changed while waiting: pc %d -> %d, stack %v -> %v", pc, in.PC(), stack, in.Stack())
	}
	if len(stack) != 1 || stack[0].I != 100 {
		t.Errorf("stack at wait = %v", stack)
	}

	if err := in.Satisfy(value.NewInt(5)); err != nil {
		t.Fatal(err)
	}
	if state := in.Run(); state != interpreter.Finished {
		t.Fatalf("state = %s %v", state, in.Fault())
	}
	if in.Result().I != 105 {
		t.Errorf("result = %v, want 105", in.Result())
	}
}

func TestSatisfyRequiresWait(t *testing.T) {
	prog, p := build(t, nil, source{"a", "int main() { return 1; }"})
	in := interpreter.New(prog, p)
	if err := in.Satisfy(value.NewInt(1)); !errors.Is(err, interpreter.ErrNotWaiting) {
		t.Errorf("expected ErrNotWaiting, got %v", err)
	}
}

func TestBoundsBoundary(t *testing.T) {
	prog, p := build(t, nil, source{"a", "int a;\nint b;"})
	in := interpreter.New(prog, p)

	unit, _ := prog.Unit("a")
	size := len(unit.Data)
	if _, err := in.Access(value.DataRef(0, size-1), 1); err != nil {
		t.Errorf("last data byte: %v", err)
	}
	if _, err := in.Access(value.DataRef(0, size), 1); !errors.Is(err, interpreter.ErrBounds) {
		t.Errorf("data offset == size: %v", err)
	}
	if _, err := in.Access(value.DataRef(0, size-4), 8); !errors.Is(err, interpreter.ErrBounds) {
		t.Errorf("straddling access: %v", err)
	}

	h, err := p.Allocate(value.NewArray(p, value.Int, 2))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := in.Access(value.HeapRef(h, 15), 1); err != nil {
		t.Errorf("last heap byte: %v", err)
	}
	if _, err := in.Access(value.HeapRef(h, 16), 1); !errors.Is(err, interpreter.ErrBounds) {
		t.Errorf("heap offset == size: %v", err)
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
		line int
	}{
		{"divide by zero", "int main() {\n int z = 0;\n return 1 / z;\n}", interpreter.ErrDivideByZero, 3},
		{"float divide by zero", "float main() {\n float z = 0.0;\n return 1.0 / z;\n}", interpreter.ErrDivideByZero, 3},
		{"null index", "int main() {\n int[] a = null;\n return a[0];\n}", interpreter.ErrNullReference, 3},
		{"index past end", "int main() {\n int[] a = new int[3];\n a[2] = 1;\n a[3] = 1;\n return 0;\n}", interpreter.ErrBounds, 4},
		{"negative length", "int main() {\n int[] a = new int[-1];\n return 0;\n}", interpreter.ErrBounds, 2},
		{"index wraps offset", "int main() {\n int[] a = new int[2];\n a[1] = 42;\n return a[2305843009213693953];\n}", interpreter.ErrBounds, 4},
		{"huge length", "int main() {\n int[] a = new int[4611686018427387904];\n return 0;\n}", interpreter.ErrOutOfMemory, 2},
	}

	for _, tt := range tests {
		prog, p := build(t, nil, source{"m", tt.src})
		in := interpreter.New(prog, p)
		if state := run(t, in, "m", "main"); state != interpreter.Faulted {
			t.Errorf("%s: state = %s", tt.name, state)
			continue
		}
		fault := in.Fault()
		if !errors.Is(fault, tt.want) {
			t.Errorf("%s: fault = %v, want %v", tt.name, fault, tt.want)
		}
		if len(fault.Trace) == 0 || fault.Trace[0].Function != "main" || fault.Trace[0].Line != tt.line {
			t.Errorf("%s: trace = %v", tt.name, fault.Trace)
		}
		// a faulted instance stays put
		if in.Run() != interpreter.Faulted {
			t.Errorf("%s: faulted instance advanced", tt.name)
		}
	}
}

func TestStackOverflow(t *testing.T) {
	prog, p := build(t, nil, source{"r", "int f(int n) { return f(n + 1); }\nint main() { return f(0); }"})
	in := interpreter.New(prog, p, interpreter.WithMaxFrames(16))
	if state := run(t, in, "r", "main"); state != interpreter.Faulted {
		t.Fatalf("state = %s", state)
	}
	if !errors.Is(in.Fault(), interpreter.ErrStackOverflow) {
		t.Errorf("fault = %v", in.Fault())
	}
	if len(in.Fault().Trace) != 16 {
		t.Errorf("trace has %d frames", len(in.Fault().Trace))
	}
}

func TestBudgetYields(t *testing.T) {
	src := "int main() { int i = 0; while (i < 1000) { i = i + 1; } return i; }"
	prog, p := build(t, nil, source{"l", src})
	in := interpreter.New(prog, p, interpreter.WithBudget(50))
	if err := in.Start("l", "main"); err != nil {
		t.Fatal(err)
	}

	yields := 0
	for in.Run() == interpreter.Ready {
		yields++
	}
	if in.State() != interpreter.Finished || in.Result().I != 1000 {
		t.Fatalf("state = %s, result = %v", in.State(), in.Result())
	}
	if yields == 0 {
		t.Error("budget never yielded")
	}
}

func TestCancelReleasesObjects(t *testing.T) {
	reg := linker.NewRegistry()
	pausing(reg)
	prog, p := build(t, reg, source{"c", "import void Pause();\nvoid main() { int[] a = new int[4]; string[] s = new string[2]; Pause(); }"})

	in := interpreter.New(prog, p)
	if state := run(t, in, "c", "main"); state != interpreter.Waiting {
		t.Fatalf("state = %s", state)
	}
	if p.Len() != 2 {
		t.Fatalf("live objects = %d, want 2", p.Len())
	}
	in.Cancel()
	if in.State() != interpreter.Finished {
		t.Errorf("state after cancel = %s", in.State())
	}
	if p.Len() != 0 {
		t.Errorf("live objects after cancel = %d", p.Len())
	}
}

func TestReferenceOwnership(t *testing.T) {
	src := `
int[] make(int v) { int[] a = new int[2]; a[0] = v; return a; }
int main() { int[] b = make(7); int[] c = b; return c[0]; }
int[] keep() { return make(9); }
`
	prog, p := build(t, nil, source{"o", src})

	in := interpreter.New(prog, p)
	if state := run(t, in, "o", "main"); state != interpreter.Finished || in.Result().I != 7 {
		t.Fatalf("main: %s %v %v", state, in.Result(), in.Fault())
	}
	if p.Len() != 0 {
		t.Errorf("leaked %d objects", p.Len())
	}

	kept := interpreter.New(prog, p)
	run(t, kept, "o", "keep")
	if !kept.Result().IsHeap() || p.Len() != 1 {
		t.Fatalf("result %v, live %d", kept.Result(), p.Len())
	}
	if refs, _ := p.RefCount(kept.Result().Handle); refs != 1 {
		t.Errorf("result refcount = %d", refs)
	}
	kept.Discard()
	if p.Len() != 0 {
		t.Errorf("live objects after discard = %d", p.Len())
	}
}

func TestLoopAllocationsAreFreed(t *testing.T) {
	reg := linker.NewRegistry()
	_ = reg.RegisterFunc("Name", []value.Kind{value.Int}, value.Ref, func(call linker.Call, args []value.Value) (value.Value, error) {
		return call.NewString("n" + strconv.FormatInt(args[0].I, 10))
	})
	src := `
import string Name(int n);
int main() {
	int i = 0;
	while (i < 70000) {
		int[] a = new int[1];
		a[0] = i;
		string s = Name(i);
		i = i + 1;
	}
	return i;
}
`
	prog, p := build(t, reg, source{"loop", src})
	in := interpreter.New(prog, p)
	if state := run(t, in, "loop", "main"); state != interpreter.Finished || in.Result().I != 70000 {
		t.Fatalf("state = %s, result = %v, fault = %v", state, in.Result(), in.Fault())
	}
	if p.Len() != 0 {
		t.Errorf("live objects = %d", p.Len())
	}
}

func TestStackKeepsArgumentAlive(t *testing.T) {
	src := `
int[] g;
int clear() { g = null; return 0; }
void fill() { g = new int[1]; g[0] = 5; }
int take(int[] a, int z) { return a[0] + z; }
int main() { fill(); return take(g, clear()); }
`
	prog, p := build(t, nil, source{"k", src})
	in := interpreter.New(prog, p)
	if state := run(t, in, "k", "main"); state != interpreter.Finished || in.Result().I != 5 {
		t.Fatalf("state = %s, result = %v, fault = %v", state, in.Result(), in.Fault())
	}
	if p.Len() != 0 {
		t.Errorf("live objects = %d", p.Len())
	}
}

func TestNatives(t *testing.T) {
	var shown []string
	reg := linker.NewRegistry()
	_ = reg.RegisterFunc("Display", []value.Kind{value.Ref}, value.Void, func(call linker.Call, args []value.Value) (value.Value, error) {
		s, err := call.String(args[0])
		if err != nil {
			return value.Value{}, err
		}
		shown = append(shown, s)
		return value.Value{}, nil
	})
	_ = reg.RegisterFunc("IntToString", []value.Kind{value.Int}, value.Ref, func(call linker.Call, args []value.Value) (value.Value, error) {
		return call.NewString(strconv.FormatInt(args[0].I, 10))
	})
	_ = reg.RegisterFunc("Fail", nil, value.Void, func(linker.Call, []value.Value) (value.Value, error) {
		return value.Value{}, errors.New("boom")
	})
	tick, _ := reg.RegisterVar("game_tick", value.Int, value.NewInt(7))

	src := `
import void Display(string s);
import string IntToString(int n);
import void Fail();
import int game_tick;
int main() {
	Display("tick");
	game_tick = game_tick + 1;
	Display(IntToString(game_tick));
	return game_tick;
}
void broken() { Fail(); }
`
	prog, p := build(t, reg, source{"n", src})
	in := interpreter.New(prog, p)
	if state := run(t, in, "n", "main"); state != interpreter.Finished {
		t.Fatalf("state = %s %v", state, in.Fault())
	}
	if !slices.Equal(shown, []string{"tick", "8"}) {
		t.Errorf("displayed %v", shown)
	}
	if tick.Get().I != 8 || in.Result().I != 8 {
		t.Errorf("game_tick = %v, result = %v", tick.Get(), in.Result())
	}
	if p.Len() != 0 {
		t.Errorf("native string leaked: %d live", p.Len())
	}

	failing := interpreter.New(prog, p)
	if state := run(t, failing, "n", "broken"); state != interpreter.Faulted || !errors.Is(failing.Fault(), interpreter.ErrNative) {
		t.Errorf("native failure: %s %v", state, failing.Fault())
	}
}

func TestNestedInvoke(t *testing.T) {
	reg := linker.NewRegistry()
	_ = reg.RegisterFunc("Twice", []value.Kind{value.Int}, value.Int, func(call linker.Call, args []value.Value) (value.Value, error) {
		v, err := call.Invoke("a", "helper", args[0])
		if err != nil {
			return value.Value{}, err
		}
		return value.NewInt(v.I * 2), nil
	})
	prog, p := build(t, reg,
		source{"a", "int calls;\nexport int helper(int x) { calls = calls + 1; return x + 1; }"},
		source{"b", "import int Twice(int x);\nint main() { return Twice(4); }"},
	)

	in := interpreter.New(prog, p)
	if state := run(t, in, "b", "main"); state != interpreter.Finished || in.Result().I != 10 {
		t.Fatalf("state = %s, result = %v, fault = %v", state, in.Result(), in.Fault())
	}
	unit, _ := prog.Unit("a")
	if calls := binary.LittleEndian.Uint64(unit.Data); calls != 1 {
		t.Errorf("helper ran %d times", calls)
	}
}

func TestFloatArithmetic(t *testing.T) {
	prog, p := build(t, nil, source{"f", "float main() { float x = 1 + 2.5; return x * 2 - 7 % 4; }"})
	in := interpreter.New(prog, p)
	if state := run(t, in, "f", "main"); state != interpreter.Finished {
		t.Fatalf("state = %s %v", state, in.Fault())
	}
	if got := in.Result(); got.Kind != value.Float || got.F != 4 {
		t.Errorf("result = %v, want 4", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	reg := linker.NewRegistry()
	pausing(reg)
	src := "import int Delay(int n);\nint main() {\n int[] a = new int[1];\n a[0] = 30;\n return a[0] + Delay(2);\n}"
	prog, p := build(t, reg, source{"s", src})

	in := interpreter.New(prog, p)
	if state := run(t, in, "s", "main"); state != interpreter.Waiting {
		t.Fatalf("state = %s %v", state, in.Fault())
	}
	snap, err := in.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	data, err := snap.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := interpreter.UnmarshalSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}

	restored, err := interpreter.Restore(prog, p, decoded)
	if err != nil {
		t.Fatal(err)
	}
	if restored.ID() != in.ID() || restored.PC() != in.PC() || !slices.Equal(restored.Stack(), in.Stack()) {
		t.Errorf("restored instance differs")
	}
	if err := restored.Satisfy(value.NewInt(12)); err != nil {
		t.Fatal(err)
	}
	if state := restored.Run(); state != interpreter.Finished || restored.Result().I != 42 {
		t.Errorf("state = %s, result = %v", state, restored.Result())
	}
	if p.Len() != 0 {
		t.Errorf("live objects = %d", p.Len())
	}
}

func TestRestoreRejectsForeignSnapshot(t *testing.T) {
	prog, p := build(t, nil, source{"a", "int main() { return 1; }"})
	snap := &interpreter.Snapshot{
		State:  interpreter.Ready,
		Frames: []interpreter.Frame{{Unit: 3}},
	}
	if _, err := interpreter.Restore(prog, p, snap); !errors.Is(err, interpreter.ErrSnapshot) {
		t.Errorf("expected ErrSnapshot, got %v", err)
	}
}
