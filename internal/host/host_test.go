package host_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"scriptvm/internal/host"
	"scriptvm/pkg/interpreter"
	"scriptvm/pkg/linker"
	"scriptvm/pkg/parser"
	"scriptvm/pkg/scheduler"
	"scriptvm/pkg/value"
)

const script = `
import void Display(string s);
import void DisplayInt(int n);
import void Wait(int ticks);
import int StrLen(string s);
import string IntToString(int n);
import int FileOpen(string path);
import void FileWrite(int f, string s);
import void FileClose(int f);
import int Random(int max);
import int game_tick;

void main() {
	Display("start");
	Wait(2);
	DisplayInt(game_tick);
	DisplayInt(StrLen(IntToString(12345)));
}

void files() {
	int f = FileOpen("out.txt");
	FileWrite(f, "hello ");
	FileWrite(f, IntToString(Random(1)));
	FileClose(f);
}

void escape() { FileOpen("../out.txt"); }

void alias() {
	int f = FileOpen("alias.txt");
	FileWrite(f + 4294967296, "x");
}
`

func setup(t *testing.T, h *host.Host) *scheduler.Scheduler {
	t.Helper()
	reg := linker.NewRegistry()
	if err := h.Register(reg); err != nil {
		t.Fatal(err)
	}
	m, diags := parser.Compile("demo", script, nil)
	if m == nil {
		t.Fatalf("compile: %v", diags)
	}
	prog, diags := linker.Link(reg, m)
	if prog == nil {
		t.Fatalf("link: %v", diags)
	}
	p := value.NewPool()
	h.RegisterTypes(p)
	return scheduler.New(prog, p)
}

func TestWaitFiresOnTick(t *testing.T) {
	var out bytes.Buffer
	h := host.New(host.WithOutput(&out))
	sched := setup(t, h)

	inst, err := sched.Start("demo", "main")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = sched.Tick(ctx)
	if inst.State() != interpreter.Waiting || h.Pending() != 1 {
		t.Fatalf("state %s, timers %d", inst.State(), h.Pending())
	}

	if fired := h.Advance(sched); fired != 0 {
		t.Errorf("timer fired after one tick")
	}
	_ = sched.Tick(ctx)
	if fired := h.Advance(sched); fired != 1 {
		t.Errorf("timer did not fire on its tick")
	}
	_ = sched.Tick(ctx)

	if inst.State() != interpreter.Finished {
		t.Fatalf("state %s: %v", inst.State(), inst.Fault())
	}
	if got, want := out.String(), "start\n2\n5\n"; got != want {
		t.Errorf("output %q, want %q", got, want)
	}
}

func TestFiles(t *testing.T) {
	root := t.TempDir()
	h := host.New(host.WithRoot(root), host.WithSeed(1), host.WithOutput(&bytes.Buffer{}))
	sched := setup(t, h)

	inst, _ := sched.Start("demo", "files")
	_ = sched.Tick(context.Background())
	if inst.State() != interpreter.Finished {
		t.Fatalf("state %s: %v", inst.State(), inst.Fault())
	}
	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello 0" {
		t.Errorf("file holds %q", data)
	}

	escape, _ := sched.Start("demo", "escape")
	_ = sched.Tick(context.Background())
	if escape.State() != interpreter.Faulted {
		t.Errorf("escape: state %s", escape.State())
	}
}

func TestFileHandleOutOfRange(t *testing.T) {
	root := t.TempDir()
	h := host.New(host.WithRoot(root), host.WithOutput(&bytes.Buffer{}))
	sched := setup(t, h)

	inst, _ := sched.Start("demo", "alias")
	_ = sched.Tick(context.Background())
	if inst.State() != interpreter.Faulted || !errors.Is(inst.Fault(), host.ErrArgument) {
		t.Fatalf("state %s: %v", inst.State(), inst.Fault())
	}
	data, err := os.ReadFile(filepath.Join(root, "alias.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("aliased handle wrote %q", data)
	}
}
