package interpreter

import (
	"fmt"

	"scriptvm/pkg/linker"
	"scriptvm/pkg/pool"
	"scriptvm/pkg/value"
	"scriptvm/pkg/wire"
)

// Snapshot is the serializable state of an instance. Heap references in it
// are only meaningful together with a snapshot of the pool taken at the
// same time.
type Snapshot struct {
	ID     string        `cbor:"id"`
	State  State         `cbor:"state"`
	Frames []Frame       `cbor:"frames"`
	Stack  []value.Value `cbor:"stack"`
	Result value.Value   `cbor:"result"`
	Wait   *Wait         `cbor:"wait,omitempty"`
	Fault  *RuntimeError `cbor:"fault,omitempty"`
	Steps  uint64        `cbor:"steps"`
}

// Snapshot captures the instance. A running instance cannot be captured.
func (in *Instance) Snapshot() (*Snapshot, error) {
	if in.state == Running {
		return nil, fmt.Errorf("%w: %s", ErrRunning, in.id)
	}
	snap := &Snapshot{
		ID:     in.id,
		State:  in.state,
		Frames: make([]Frame, len(in.frames)),
		Stack:  append([]value.Value(nil), in.stack...),
		Result: in.result,
		Fault:  in.fault,
		Steps:  in.steps,
	}
	for i, f := range in.frames {
		snap.Frames[i] = *f
		snap.Frames[i].Locals = append([]value.Value(nil), f.Locals...)
	}
	if in.wait != nil {
		w := *in.wait
		snap.Wait = &w
	}
	return snap, nil
}

// Marshal encodes the snapshot
func (s *Snapshot) Marshal() ([]byte, error) {
	return wire.Marshal(s)
}

// UnmarshalSnapshot decodes a snapshot produced by Marshal
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := wire.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshot, err)
	}
	return &s, nil
}

// Restore rebuilds an instance from a snapshot against the program it was
// taken from. Reference counts are not touched: the pool must be restored
// from the matching pool snapshot.
func Restore(prog *linker.Program, p *pool.Pool, snap *Snapshot, opts ...Option) (*Instance, error) {
	if err := validate(prog, snap); err != nil {
		return nil, err
	}

	in := New(prog, p, append([]Option{WithID(snap.ID)}, opts...)...)
	in.state = snap.State
	in.stack = append([]value.Value(nil), snap.Stack...)
	in.result = snap.Result
	in.fault = snap.Fault
	in.steps = snap.Steps
	for _, f := range snap.Frames {
		frame := f
		frame.Locals = append([]value.Value(nil), f.Locals...)
		in.frames = append(in.frames, &frame)
	}
	if snap.Wait != nil {
		w := *snap.Wait
		in.wait = &w
	}
	return in, nil
}

func validate(prog *linker.Program, snap *Snapshot) error {
	switch snap.State {
	case Ready, Waiting, Finished, Faulted:
	default:
		return fmt.Errorf("%w: state %s", ErrSnapshot, snap.State)
	}
	if snap.State == Waiting && snap.Wait == nil {
		return fmt.Errorf("%w: waiting without a wait", ErrSnapshot)
	}
	if snap.State == Faulted && snap.Fault == nil {
		return fmt.Errorf("%w: faulted without a fault", ErrSnapshot)
	}

	base := 0
	for i, f := range snap.Frames {
		if f.Unit < 0 || f.Unit >= len(prog.Units) {
			return fmt.Errorf("%w: frame %d names unit %d", ErrSnapshot, i, f.Unit)
		}
		m := prog.Units[f.Unit].Module
		if f.Function < 0 || f.Function >= len(m.Functions) {
			return fmt.Errorf("%w: frame %d names function %d of %s", ErrSnapshot, i, f.Function, m.Name)
		}
		if f.PC < 0 || f.PC > len(m.Code) {
			return fmt.Errorf("%w: frame %d pc %d outside %s", ErrSnapshot, i, f.PC, m.Name)
		}
		if len(f.Locals) != m.Functions[f.Function].Locals {
			return fmt.Errorf("%w: frame %d has %d slots, %s needs %d", ErrSnapshot, i, len(f.Locals),
				m.Functions[f.Function].Name, m.Functions[f.Function].Locals)
		}
		if f.Base < base || f.Base > len(snap.Stack) {
			return fmt.Errorf("%w: frame %d base %d", ErrSnapshot, i, f.Base)
		}
		base = f.Base
	}
	return nil
}
