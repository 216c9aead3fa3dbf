package scheduler_test

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"testing"

	"scriptvm/pkg/interpreter"
	"scriptvm/pkg/linker"
	"scriptvm/pkg/parser"
	"scriptvm/pkg/pool"
	"scriptvm/pkg/scheduler"
	"scriptvm/pkg/value"
)

const workers = `
import int Wait(int id);
import void Record(int id);
import void Spawn();
import void Fork();
int total;

void worker(int id) {
	Wait(id);
	Record(id);
}

void child() { Record(2); }

void parent() {
	Record(1);
	Spawn();
	Record(3);
	Fork();
	Record(4);
}

int hold() {
	int[] a = new int[1];
	a[0] = 30;
	total = total + 1;
	return a[0] + Wait(9);
}

int spin() {
	int i = 0;
	while (i < 500) { i = i + 1; }
	return i;
}
`

type fixture struct {
	sched    *scheduler.Scheduler
	pool     *pool.Pool
	prog     *linker.Program
	recorded []int64
}

func setup(t *testing.T, opts ...scheduler.Option) *fixture {
	t.Helper()
	fx := &fixture{}
	reg := linker.NewRegistry()
	_ = reg.RegisterFunc("Wait", []value.Kind{value.Int}, value.Int, func(call linker.Call, args []value.Value) (value.Value, error) {
		call.Wait(strconv.FormatInt(args[0].I, 10))
		return value.Value{}, nil
	})
	_ = reg.RegisterFunc("Record", []value.Kind{value.Int}, value.Void, func(_ linker.Call, args []value.Value) (value.Value, error) {
		fx.recorded = append(fx.recorded, args[0].I)
		return value.Value{}, nil
	})
	_ = reg.RegisterFunc("Spawn", nil, value.Void, func(call linker.Call, _ []value.Value) (value.Value, error) {
		_, err := call.Invoke("w", "child")
		return value.Value{}, err
	})
	_ = reg.RegisterFunc("Fork", nil, value.Void, func(linker.Call, []value.Value) (value.Value, error) {
		_, err := fx.sched.Start("w", "child")
		return value.Value{}, err
	})

	m, diags := parser.Compile("w", workers, nil)
	if m == nil {
		t.Fatalf("compile: %v", diags)
	}
	prog, diags := linker.Link(reg, m)
	if prog == nil {
		t.Fatalf("link: %v", diags)
	}
	fx.prog = prog
	fx.pool = value.NewPool()
	fx.sched = scheduler.New(prog, fx.pool, opts...)
	return fx
}

func (fx *fixture) start(t *testing.T, fn string, args ...value.Value) *interpreter.Instance {
	t.Helper()
	inst, err := fx.sched.Start("w", fn, args...)
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func (fx *fixture) tick(t *testing.T) {
	t.Helper()
	if err := fx.sched.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestResumeInSignalOrder(t *testing.T) {
	fx := setup(t)
	one := fx.start(t, "worker", value.NewInt(1))
	two := fx.start(t, "worker", value.NewInt(2))

	fx.tick(t)
	if got := fx.sched.Waiting(); len(got) != 2 {
		t.Fatalf("waiting = %d", len(got))
	}

	// nothing happens without a signal
	fx.tick(t)
	if len(fx.recorded) != 0 {
		t.Fatalf("resumed without a signal: %v", fx.recorded)
	}

	if fx.sched.Signal("2", value.NewInt(0)) != 1 || fx.sched.Signal("1", value.NewInt(0)) != 1 {
		t.Fatal("signal did not wake exactly one instance")
	}
	fx.tick(t)

	if !slices.Equal(fx.recorded, []int64{2, 1}) {
		t.Errorf("resumed in order %v, want [2 1]", fx.recorded)
	}
	if one.State() != interpreter.Finished || two.State() != interpreter.Finished {
		t.Errorf("states %s, %s", one.State(), two.State())
	}
	if n := fx.sched.Collect(); n != 2 || len(fx.sched.Instances()) != 0 {
		t.Errorf("collected %d, left %d", n, len(fx.sched.Instances()))
	}
}

func TestSignalUnknownToken(t *testing.T) {
	fx := setup(t)
	fx.start(t, "worker", value.NewInt(1))
	fx.tick(t)
	if n := fx.sched.Signal("7", value.NewInt(0)); n != 0 {
		t.Errorf("woke %d instances", n)
	}
}

func TestNestedInvocationIsDepthFirst(t *testing.T) {
	fx := setup(t)
	parent := fx.start(t, "parent")
	fx.tick(t)

	if parent.State() != interpreter.Finished {
		t.Fatalf("parent %s: %v", parent.State(), parent.Fault())
	}
	if !slices.Equal(fx.recorded, []int64{1, 2, 3, 2, 4}) {
		t.Errorf("order %v", fx.recorded)
	}
	if fx.sched.Current() != nil {
		t.Error("an instance is still marked as executing")
	}
}

func TestNestingLimit(t *testing.T) {
	fx := setup(t, scheduler.WithMaxNesting(1))
	parent := fx.start(t, "parent")
	fx.tick(t)
	if parent.State() != interpreter.Faulted || !errors.Is(parent.Fault(), scheduler.ErrNesting) {
		t.Errorf("parent %s: %v", parent.State(), parent.Fault())
	}
}

func TestBudgetCarriesOverTicks(t *testing.T) {
	fx := setup(t, scheduler.WithInstanceOptions(interpreter.WithBudget(100)))
	inst := fx.start(t, "spin")

	fx.tick(t)
	if inst.State() != interpreter.Ready || fx.sched.Pending() != 1 {
		t.Fatalf("state %s, pending %d", inst.State(), fx.sched.Pending())
	}
	for ticks := 0; inst.State() == interpreter.Ready; ticks++ {
		if ticks > 100 {
			t.Fatal("instance never finished")
		}
		fx.tick(t)
	}
	if inst.Result().I != 500 {
		t.Errorf("result = %v", inst.Result())
	}
}

func TestCancelAllReleases(t *testing.T) {
	fx := setup(t)
	inst := fx.start(t, "hold")
	fx.tick(t)
	if inst.State() != interpreter.Waiting || fx.pool.Len() != 1 {
		t.Fatalf("state %s, live %d", inst.State(), fx.pool.Len())
	}

	fx.sched.CancelAll()
	if inst.State() != interpreter.Finished || fx.pool.Len() != 0 {
		t.Errorf("state %s, live %d", inst.State(), fx.pool.Len())
	}
	if fx.sched.Signal("9", value.NewInt(1)) != 0 {
		t.Error("cancelled instance woke up")
	}
}

func TestSaveAndLoadState(t *testing.T) {
	fx := setup(t)
	inst := fx.start(t, "hold")
	fx.tick(t)

	saved, err := fx.sched.SaveState()
	if err != nil {
		t.Fatal(err)
	}

	fx.sched.Signal("9", value.NewInt(12))
	fx.tick(t)
	if inst.Result().I != 42 {
		t.Fatalf("result = %v %v", inst.Result(), inst.Fault())
	}
	fx.start(t, "hold")
	fx.tick(t)

	if err := fx.sched.LoadState(saved); err != nil {
		t.Fatal(err)
	}
	waiting := fx.sched.Waiting()
	if len(waiting) != 1 || waiting[0].ID() != inst.ID() {
		t.Fatalf("waiting after load = %d", len(waiting))
	}
	if fx.pool.Len() != 1 {
		t.Errorf("live objects after load = %d", fx.pool.Len())
	}
	unit, _ := fx.prog.Unit("w")
	g, _ := unit.Module.Global("total")
	if unit.Data[g.Offset] != 1 {
		t.Errorf("total = %d after load, want 1", unit.Data[g.Offset])
	}

	fx.sched.Signal("9", value.NewInt(12))
	fx.tick(t)
	if waiting[0].State() != interpreter.Finished || waiting[0].Result().I != 42 {
		t.Errorf("restored instance: %s %v", waiting[0].State(), waiting[0].Result())
	}
	if fx.pool.Len() != 0 {
		t.Errorf("live objects = %d", fx.pool.Len())
	}
}

func TestLoadStateRejectsGarbage(t *testing.T) {
	fx := setup(t)
	if err := fx.sched.LoadState([]byte{0xff, 0x00}); !errors.Is(err, scheduler.ErrState) {
		t.Errorf("expected ErrState, got %v", err)
	}
}
