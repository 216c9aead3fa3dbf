// Package interpreter executes linked bytecode. An Instance is one script
// invocation: a call stack, an evaluation stack and a state machine
//
//	Ready -> Running -> {Waiting, Ready, Finished, Faulted}
//
// driven one Run at a time by the host or the scheduler.
//
// Every heap reference on the evaluation stack, in a frame slot or in the
// result of a finished instance holds one pool reference. Loads retain,
// pops hand the reference to the instruction that consumes it.
package interpreter

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"scriptvm/pkg/linker"
	"scriptvm/pkg/pool"
	"scriptvm/pkg/value"
)

const (
	DefaultMaxFrames = 256
	DefaultMaxStack  = 4096

	// MaxArrayLength caps the element count of a single new array
	MaxArrayLength = 1 << 24
)

type State int

const (
	Ready State = iota
	Running
	Waiting
	Finished
	Faulted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Finished:
		return "finished"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Spawner runs a nested invocation to completion, or to its own wait,
// before the calling native returns. A heap result carries one reference
// that passes to the caller.
type Spawner interface {
	Invoke(unit, fn string, args ...value.Value) (value.Value, error)
}

// Instance is one running script invocation.
type Instance struct {
	id    string
	prog  *linker.Program
	pool  *pool.Pool
	state State

	frames []*Frame
	stack  []value.Value
	result value.Value
	wait   *Wait
	fault  *RuntimeError
	steps  uint64

	maxFrames int
	maxStack  int
	budget    int // instructions per Run, 0 for no limit
	spawner   Spawner
}

type Option func(*Instance)

// WithMaxFrames limits the call depth
func WithMaxFrames(n int) Option {
	return func(in *Instance) {
		if n > 0 {
			in.maxFrames = n
		}
	}
}

// WithMaxStack limits the evaluation stack
func WithMaxStack(n int) Option {
	return func(in *Instance) {
		if n > 0 {
			in.maxStack = n
		}
	}
}

// WithBudget makes Run yield back as Ready after n instructions
func WithBudget(n int) Option {
	return func(in *Instance) { in.budget = max(n, 0) }
}

// WithSpawner routes nested invocations from natives through s
func WithSpawner(s Spawner) Option {
	return func(in *Instance) { in.spawner = s }
}

// WithID sets the instance identity instead of a fresh one
func WithID(id string) Option {
	return func(in *Instance) { in.id = id }
}

// New creates a Ready instance with nothing to run yet
func New(prog *linker.Program, p *pool.Pool, opts ...Option) *Instance {
	in := &Instance{
		id:        uuid.NewString(),
		prog:      prog,
		pool:      p,
		maxFrames: DefaultMaxFrames,
		maxStack:  DefaultMaxStack,
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Start enters fn of the named unit with args. The instance runs on the next Run.
func (in *Instance) Start(unit, fn string, args ...value.Value) error {
	u, idx, err := in.prog.Function(unit, fn)
	if err != nil {
		return err
	}
	return in.startAt(u.Index, idx, args)
}

func (in *Instance) startAt(unit, fn int, args []value.Value) error {
	if in.state != Ready || len(in.frames) > 0 {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, in.id, in.state)
	}
	def := in.prog.Units[unit].Module.Functions[fn]
	if len(args) != len(def.Params) {
		return fmt.Errorf("%w: %s takes %d, got %d", ErrArity, def.Name, len(def.Params), len(args))
	}
	in.stack = in.stack[:0]
	for _, a := range args {
		if err := in.pushRetained(a); err != nil {
			in.clearStack()
			return err
		}
	}
	if err := in.pushFrame(unit, fn); err != nil {
		in.clearStack()
		return err
	}
	log.Debug("instance started", "id", in.id, "module", in.prog.Units[unit].Name(), "function", def.Name)
	return nil
}

// Run executes until the instance waits, finishes, faults or exhausts its
// budget. Running a Waiting instance whose wait is not yet satisfied leaves
// it untouched.
func (in *Instance) Run() State {
	switch in.state {
	case Ready:
		if len(in.frames) == 0 {
			return in.state
		}
	case Waiting:
		if !in.wait.Satisfied {
			return in.state
		}
		if err := in.resume(); err != nil {
			in.setFault(err)
			return in.state
		}
	default:
		return in.state
	}

	in.state = Running
	for n := 0; in.state == Running; n++ {
		if in.budget > 0 && n >= in.budget {
			in.state = Ready
			break
		}
		if err := in.step(); err != nil {
			in.setFault(err)
		}
		in.steps++
	}
	return in.state
}

// resume pushes the wait result for the instruction after the native call
func (in *Instance) resume() error {
	w := in.wait
	in.wait = nil
	if w.Kind == value.Void {
		return nil
	}
	v, err := in.coerce(w.Result, w.Kind)
	if err != nil {
		return err
	}
	return in.pushRetained(v)
}

func (in *Instance) setFault(err error) {
	rt, ok := err.(*RuntimeError)
	if !ok {
		rt = &RuntimeError{Kind: KindNative, Message: err.Error(), Trace: in.trace(), Err: err}
	}
	in.fault = rt
	in.state = Faulted
	log.Debug("instance faulted", "id", in.id, "error", rt)
}

// Satisfy completes the pending wait. The instance resumes on its next Run.
func (in *Instance) Satisfy(result value.Value) error {
	if in.state != Waiting || in.wait == nil {
		return fmt.Errorf("%w: %s is %s", ErrNotWaiting, in.id, in.state)
	}
	in.wait.Satisfied = true
	in.wait.Result = result
	return nil
}

// Cancel abandons the invocation: the instance becomes Finished without a
// result and every reference its frames held is released.
func (in *Instance) Cancel() {
	if in.state == Finished && len(in.frames) == 0 {
		return
	}
	for i := len(in.frames) - 1; i >= 0; i-- {
		in.releaseFrame(in.frames[i])
	}
	in.frames = nil
	in.clearStack()
	in.wait = nil
	in.result = value.Value{}
	in.state = Finished
	log.Debug("instance cancelled", "id", in.id)
}

// Discard cancels the instance and drops the reference its result kept alive.
func (in *Instance) Discard() {
	in.Cancel()
	if in.result.IsHeap() {
		in.drop(in.result.Handle)
	}
	in.result = value.Value{}
}

func (in *Instance) ID() string { return in.id }

func (in *Instance) State() State { return in.state }

// Fault returns the error of a Faulted instance
func (in *Instance) Fault() *RuntimeError { return in.fault }

// Result returns the return value of the outermost function
func (in *Instance) Result() value.Value { return in.result }

// PC returns the next instruction of the innermost frame, or -1
func (in *Instance) PC() int {
	if f := in.top(); f != nil {
		return f.PC
	}
	return -1
}

// Stack returns a copy of the evaluation stack
func (in *Instance) Stack() []value.Value {
	return append([]value.Value(nil), in.stack...)
}

// Depth returns the number of active frames
func (in *Instance) Depth() int { return len(in.frames) }

// WaitToken returns the token of the pending wait
func (in *Instance) WaitToken() (string, bool) {
	if in.state != Waiting || in.wait == nil {
		return "", false
	}
	return in.wait.Token, true
}

// Satisfied reports whether a pending wait has been completed
func (in *Instance) Satisfied() bool {
	return in.wait != nil && in.wait.Satisfied
}

// Steps returns the number of instructions executed so far
func (in *Instance) Steps() uint64 { return in.steps }

func (in *Instance) Program() *linker.Program { return in.prog }

// push hands a counted reference to the stack
func (in *Instance) push(v value.Value) {
	in.stack = append(in.stack, v)
}

// pushRetained pushes a copy of a reference held elsewhere
func (in *Instance) pushRetained(v value.Value) error {
	if err := in.retain(v); err != nil {
		return err
	}
	in.push(v)
	return nil
}

func (in *Instance) clearStack() {
	in.releaseValues(in.stack)
	in.stack = in.stack[:0]
}

func (in *Instance) pop() (value.Value, error) {
	f := in.top()
	if len(in.stack) == 0 || (f != nil && len(in.stack) <= f.Base) {
		return value.Value{}, in.errorf(KindType, "evaluation stack underflow")
	}
	v := in.stack[len(in.stack)-1]
	in.stack = in.stack[:len(in.stack)-1]
	return v, nil
}

// popKind pops a value that must be of kind k. A value of the wrong kind
// is released.
func (in *Instance) popKind(k value.Kind) (value.Value, error) {
	v, err := in.pop()
	if err != nil {
		return v, err
	}
	c, err := in.coerce(v, k)
	if err != nil {
		_ = in.release(v)
		return c, err
	}
	return c, nil
}

// coerce checks v against kind k, widening ints to floats
func (in *Instance) coerce(v value.Value, k value.Kind) (value.Value, error) {
	if k == value.Float && v.Kind == value.Int {
		return value.NewFloat(float64(v.I)), nil
	}
	if v.Kind != k {
		return v, in.errorf(KindType, "expected %s, found %s", k, v.Kind)
	}
	return v, nil
}

func (in *Instance) retain(v value.Value) error {
	if !v.IsHeap() {
		return nil
	}
	if err := in.pool.Retain(v.Handle); err != nil {
		return in.errorf(KindInvalidHandle, "%v", err)
	}
	return nil
}

func (in *Instance) release(v value.Value) error {
	if !v.IsHeap() {
		return nil
	}
	if err := in.pool.Release(v.Handle); err != nil {
		return in.errorf(KindInvalidHandle, "%v", err)
	}
	return nil
}

// consume releases a popped value once the instruction is done with it.
// err is the outcome of the instruction and wins over a release failure.
func (in *Instance) consume(v value.Value, err error) error {
	if rerr := in.release(v); err == nil {
		return rerr
	}
	return err
}

// drop releases h during teardown, where a stale handle is only logged
func (in *Instance) drop(h pool.Handle) {
	if err := in.pool.Release(h); err != nil {
		log.Warn("release failed", "id", in.id, "handle", h, "error", err)
	}
}

func (in *Instance) releaseValues(vs []value.Value) {
	for _, v := range vs {
		if v.IsHeap() {
			in.drop(v.Handle)
		}
	}
}

// RunInitializers runs the global initializer of every unit in link order.
// Initializers may not wait.
func RunInitializers(prog *linker.Program, p *pool.Pool, opts ...Option) error {
	for _, u := range prog.Units {
		if u.Module.Init < 0 {
			continue
		}
		in := New(prog, p, opts...)
		if err := in.startAt(u.Index, u.Module.Init, nil); err != nil {
			return err
		}
		for in.Run() == Ready {
		}
		switch in.state {
		case Faulted:
			return fmt.Errorf("initialize %s: %w", u.Name(), in.fault)
		case Waiting:
			token := in.wait.Token
			in.Discard()
			return fmt.Errorf("initialize %s: initializer waits on %q", u.Name(), token)
		}
		in.Discard()
		log.Debug("globals initialized", "module", u.Name())
	}
	return nil
}
