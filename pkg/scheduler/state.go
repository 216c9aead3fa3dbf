package scheduler

import (
	"errors"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"scriptvm/pkg/interpreter"
	"scriptvm/pkg/wire"
)

const stateVersion = 1

var ErrState = errors.New("invalid save state")

type saveState struct {
	Version   int                     `cbor:"version"`
	Units     []string                `cbor:"units"`
	Data      [][]byte                `cbor:"data"`
	Pool      []byte                  `cbor:"pool"`
	Instances []*interpreter.Snapshot `cbor:"instances"`
	Ready     []string                `cbor:"ready"`
}

// SaveState captures the pool, every unit's globals and every managed
// instance, so that waits in progress survive a save and load.
func (s *Scheduler) SaveState() ([]byte, error) {
	if len(s.chain) > 0 {
		return nil, ErrBusy
	}

	st := saveState{
		Version: stateVersion,
		Units:   make([]string, len(s.prog.Units)),
		Data:    make([][]byte, len(s.prog.Units)),
	}
	for i, u := range s.prog.Units {
		st.Units[i] = u.Name()
		st.Data[i] = u.Data
	}

	poolData, err := s.pool.SerializeAll()
	if err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	st.Pool = poolData

	for _, inst := range s.instances {
		snap, err := inst.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("save state: %w", err)
		}
		st.Instances = append(st.Instances, snap)
	}
	for _, inst := range s.ready {
		st.Ready = append(st.Ready, inst.ID())
	}

	data, err := wire.Marshal(&st)
	if err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	log.Debug("state saved", "instances", len(st.Instances), "objects", s.pool.Len(), "bytes", len(data))
	return data, nil
}

// LoadState replaces the scheduler's instances, the pool contents and the
// globals of every unit with a state produced by SaveState for the same
// program. Nothing changes if the state does not fit the program.
func (s *Scheduler) LoadState(data []byte) error {
	if len(s.chain) > 0 {
		return ErrBusy
	}

	var st saveState
	if err := wire.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("%w: %v", ErrState, err)
	}
	if st.Version != stateVersion {
		return fmt.Errorf("%w: version %d", ErrState, st.Version)
	}
	if len(st.Units) != len(s.prog.Units) || len(st.Data) != len(s.prog.Units) {
		return fmt.Errorf("%w: %d units, program has %d", ErrState, len(st.Units), len(s.prog.Units))
	}
	for i, u := range s.prog.Units {
		if st.Units[i] != u.Name() || len(st.Data[i]) != len(u.Module.Data) {
			return fmt.Errorf("%w: unit %d is %s, program has %s", ErrState, i, st.Units[i], u.Name())
		}
	}

	instances := make([]*interpreter.Instance, 0, len(st.Instances))
	byID := make(map[string]*interpreter.Instance, len(st.Instances))
	for _, snap := range st.Instances {
		inst, err := interpreter.Restore(s.prog, s.pool, snap, append(slices.Clone(s.opts), interpreter.WithSpawner(s))...)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrState, err)
		}
		instances = append(instances, inst)
		byID[inst.ID()] = inst
	}
	ready := make([]*interpreter.Instance, 0, len(st.Ready))
	for _, id := range st.Ready {
		inst, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: queued instance %s missing", ErrState, id)
		}
		ready = append(ready, inst)
	}

	if err := s.pool.RestoreAll(st.Pool); err != nil {
		return fmt.Errorf("%w: %v", ErrState, err)
	}
	for i, u := range s.prog.Units {
		copy(u.Data, st.Data[i])
	}
	s.instances = instances
	s.ready = ready
	log.Debug("state loaded", "instances", len(instances), "objects", s.pool.Len())
	return nil
}
