// Package scheduler multiplexes script instances cooperatively on the host
// thread. The host calls Tick once per application tick; instances run until
// they wait, finish, fault or use up their instruction budget. Waiting
// instances are resumed only when the host signals their wait token, in the
// order the signals arrive.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"scriptvm/pkg/interpreter"
	"scriptvm/pkg/linker"
	"scriptvm/pkg/pool"
	"scriptvm/pkg/value"
)

const DefaultMaxNesting = 64

var (
	ErrUnknownInstance = errors.New("instance not managed by this scheduler")
	ErrNesting         = errors.New("nested invocation too deep")
	ErrBusy            = errors.New("scheduler is executing")
)

type Scheduler struct {
	prog *linker.Program
	pool *pool.Pool

	instances []*interpreter.Instance // every managed instance in start order
	ready     []*interpreter.Instance // run queue, FIFO
	chain     []*interpreter.Instance // executing instances, innermost last
	opts      []interpreter.Option    // applied to every instance
	maxNest   int
}

type Option func(*Scheduler)

// WithInstanceOptions applies opts to every instance the scheduler creates
func WithInstanceOptions(opts ...interpreter.Option) Option {
	return func(s *Scheduler) { s.opts = append(s.opts, opts...) }
}

// WithMaxNesting limits the depth of nested invocations
func WithMaxNesting(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxNest = n
		}
	}
}

// New creates a scheduler for a linked program
func New(prog *linker.Program, p *pool.Pool, opts ...Option) *Scheduler {
	s := &Scheduler{prog: prog, pool: p, maxNest: DefaultMaxNesting}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) newInstance(extra ...interpreter.Option) *interpreter.Instance {
	opts := append(slices.Clone(s.opts), interpreter.WithSpawner(s))
	return interpreter.New(s.prog, s.pool, append(opts, extra...)...)
}

// Start creates an instance of fn. Outside of script execution it is queued
// for the next Tick; from inside a native call it runs at once, before the
// calling script resumes.
func (s *Scheduler) Start(unit, fn string, args ...value.Value) (*interpreter.Instance, error) {
	inst := s.newInstance()
	if err := inst.Start(unit, fn, args...); err != nil {
		return nil, err
	}
	s.instances = append(s.instances, inst)

	if len(s.chain) > 0 {
		if len(s.chain) >= s.maxNest {
			inst.Discard()
			s.forget(inst)
			return nil, fmt.Errorf("%w: %d levels", ErrNesting, len(s.chain))
		}
		s.runNested(inst)
		return inst, nil
	}
	s.ready = append(s.ready, inst)
	return inst, nil
}

// Invoke runs fn depth-first on a fresh instance and returns its result.
// A nested invocation that waits stays with the scheduler and yields the
// zero value.
func (s *Scheduler) Invoke(unit, fn string, args ...value.Value) (value.Value, error) {
	if len(s.chain) >= s.maxNest {
		return value.Value{}, fmt.Errorf("%w: %d levels", ErrNesting, len(s.chain))
	}
	inst := s.newInstance()
	if err := inst.Start(unit, fn, args...); err != nil {
		return value.Value{}, err
	}
	s.instances = append(s.instances, inst)
	s.runNested(inst)

	switch inst.State() {
	case interpreter.Finished:
		v := inst.Result()
		if v.IsHeap() {
			if err := s.pool.Retain(v.Handle); err != nil {
				return value.Value{}, err
			}
		}
		s.Discard(inst)
		return v, nil
	case interpreter.Faulted:
		err := inst.Fault()
		s.Discard(inst)
		return value.Value{}, fmt.Errorf("%s.%s: %w", unit, fn, err)
	}
	return value.Value{}, nil
}

// runNested runs inst until it stops, ignoring the instruction budget
func (s *Scheduler) runNested(inst *interpreter.Instance) {
	for s.execute(inst) == interpreter.Ready {
	}
}

func (s *Scheduler) execute(inst *interpreter.Instance) interpreter.State {
	s.chain = append(s.chain, inst)
	state := inst.Run()
	s.chain = s.chain[:len(s.chain)-1]

	switch state {
	case interpreter.Faulted:
		fault := inst.Fault()
		log.Error("script faulted", "id", inst.ID(), "error", fault, "trace", fault.Trace)
	case interpreter.Finished:
		log.Debug("script finished", "id", inst.ID(), "result", inst.Result())
	case interpreter.Waiting:
		token, _ := inst.WaitToken()
		log.Debug("script waiting", "id", inst.ID(), "token", token)
	}
	return state
}

// Tick runs the ready queue until every instance is waiting, finished or
// faulted. Instances that exhaust their budget are queued for the next tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	if len(s.chain) > 0 {
		return ErrBusy
	}
	var deferred []*interpreter.Instance
	for len(s.ready) > 0 {
		if err := ctx.Err(); err != nil {
			s.ready = append(deferred, s.ready...)
			return err
		}
		inst := s.ready[0]
		s.ready = s.ready[1:]
		if s.execute(inst) == interpreter.Ready {
			deferred = append(deferred, inst)
		}
	}
	s.ready = deferred
	return nil
}

// Signal satisfies every instance waiting on token and queues it. It
// returns the number of instances woken.
func (s *Scheduler) Signal(token string, result value.Value) int {
	n := 0
	for _, inst := range s.instances {
		t, ok := inst.WaitToken()
		if !ok || t != token || inst.Satisfied() {
			continue
		}
		if err := inst.Satisfy(result); err != nil {
			continue
		}
		s.ready = append(s.ready, inst)
		n++
	}
	log.Debug("signal", "token", token, "woken", n)
	return n
}

// SignalInstance satisfies the wait of one instance
func (s *Scheduler) SignalInstance(inst *interpreter.Instance, result value.Value) error {
	if !s.manages(inst) {
		return ErrUnknownInstance
	}
	if err := inst.Satisfy(result); err != nil {
		return err
	}
	s.ready = append(s.ready, inst)
	return nil
}

// Cancel ends inst without completing it
func (s *Scheduler) Cancel(inst *interpreter.Instance) error {
	if !s.manages(inst) {
		return ErrUnknownInstance
	}
	inst.Cancel()
	s.unqueue(inst)
	return nil
}

// CancelAll cancels every unfinished instance, as on a game state reset
func (s *Scheduler) CancelAll() {
	for _, inst := range s.instances {
		if inst.State() != interpreter.Finished {
			inst.Cancel()
		}
	}
	s.ready = nil
	log.Debug("all instances cancelled", "count", len(s.instances))
}

// Discard releases everything inst holds and forgets it
func (s *Scheduler) Discard(inst *interpreter.Instance) {
	inst.Discard()
	s.forget(inst)
}

// Collect discards every finished instance and returns how many went
func (s *Scheduler) Collect() int {
	n := 0
	for _, inst := range slices.Clone(s.instances) {
		if inst.State() == interpreter.Finished {
			s.Discard(inst)
			n++
		}
	}
	return n
}

// Current returns the instance executing right now, if any
func (s *Scheduler) Current() *interpreter.Instance {
	if len(s.chain) == 0 {
		return nil
	}
	return s.chain[len(s.chain)-1]
}

// Waiting returns the instances whose wait has not been signalled
func (s *Scheduler) Waiting() []*interpreter.Instance {
	var out []*interpreter.Instance
	for _, inst := range s.instances {
		if inst.State() == interpreter.Waiting && !inst.Satisfied() {
			out = append(out, inst)
		}
	}
	return out
}

// Instances returns every managed instance in start order
func (s *Scheduler) Instances() []*interpreter.Instance {
	return slices.Clone(s.instances)
}

// Pending returns the number of queued instances
func (s *Scheduler) Pending() int {
	return len(s.ready)
}

// Lookup finds a managed instance by ID
func (s *Scheduler) Lookup(id string) (*interpreter.Instance, bool) {
	for _, inst := range s.instances {
		if inst.ID() == id {
			return inst, true
		}
	}
	return nil, false
}

func (s *Scheduler) manages(inst *interpreter.Instance) bool {
	return slices.Contains(s.instances, inst)
}

func (s *Scheduler) unqueue(inst *interpreter.Instance) {
	s.ready = slices.DeleteFunc(s.ready, func(i *interpreter.Instance) bool { return i == inst })
}

func (s *Scheduler) forget(inst *interpreter.Instance) {
	s.unqueue(inst)
	s.instances = slices.DeleteFunc(s.instances, func(i *interpreter.Instance) bool { return i == inst })
}
