package pool

import (
	"fmt"

	"scriptvm/pkg/wire"

	"github.com/charmbracelet/log"
)

const snapshotVersion = 1

type snapshot struct {
	Version     int      `cbor:"version"`
	Generations []uint16 `cbor:"generations"`
	Objects     []entry  `cbor:"objects"`
}

type entry struct {
	Handle  Handle `cbor:"handle"`
	Type    string `cbor:"type"`
	Refs    int    `cbor:"refs"`
	Payload []byte `cbor:"payload"`
}

// SerializeAll encodes every live object, keyed by handle, together with
// the slot generations needed to keep stale handles invalid after a restore.
func (p *Pool) SerializeAll() ([]byte, error) {
	snap := snapshot{
		Version:     snapshotVersion,
		Generations: make([]uint16, len(p.slots)),
		Objects:     make([]entry, 0, p.live),
	}

	for idx := range p.slots {
		s := &p.slots[idx]
		snap.Generations[idx] = s.gen
		if s.obj == nil {
			continue
		}

		payload, err := s.obj.Serialize()
		if err != nil {
			return nil, fmt.Errorf("serialize %s (%s): %w", makeHandle(idx, s.gen), s.obj.TypeName(), err)
		}
		snap.Objects = append(snap.Objects, entry{
			Handle:  makeHandle(idx, s.gen),
			Type:    s.obj.TypeName(),
			Refs:    s.refs,
			Payload: payload,
		})
	}

	return wire.Marshal(&snap)
}

// RestoreAll replaces the pool contents with a stream produced by
// SerializeAll. The pool is left untouched if the stream cannot be restored.
func (p *Pool) RestoreAll(data []byte) error {
	var snap snapshot
	if err := wire.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("restore pool: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("restore pool: unsupported snapshot version %d", snap.Version)
	}
	if len(snap.Generations) > p.limit {
		return fmt.Errorf("restore pool: %d slots exceed limit %d: %w", len(snap.Generations), p.limit, ErrPoolFull)
	}

	slots, err := p.rebuild(&snap)
	if err != nil {
		return fmt.Errorf("restore pool: %w", err)
	}

	old := p.clear()
	for _, obj := range old {
		obj.Dispose()
	}

	p.slots = slots
	p.free = p.free[:0]
	p.live = 0
	for idx := range p.slots {
		switch {
		case p.slots[idx].obj != nil:
			p.live++
		case p.slots[idx].gen < maxGeneration:
			p.free = append(p.free, idx)
		}
	}

	log.Debug("pool: restored", "objects", p.live, "slots", len(p.slots))
	return nil
}

// rebuild recreates the objects of snap in a fresh slot table. On failure
// the objects already recreated are disposed.
func (p *Pool) rebuild(snap *snapshot) ([]slot, error) {
	slots := make([]slot, len(snap.Generations))
	for idx, gen := range snap.Generations {
		slots[idx].gen = gen
	}

	for _, e := range snap.Objects {
		idx := e.Handle.index()
		if idx >= len(slots) || slots[idx].gen != e.Handle.generation() || slots[idx].obj != nil {
			p.discard(slots)
			return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, e.Handle)
		}
		if e.Refs < 1 {
			p.discard(slots)
			return nil, fmt.Errorf("%s has reference count %d", e.Handle, e.Refs)
		}

		factory, ok := p.factories[e.Type]
		if !ok {
			p.discard(slots)
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
		}
		obj := factory()
		if err := obj.Restore(e.Payload); err != nil {
			p.discard(slots)
			return nil, fmt.Errorf("%s (%s): %w", e.Handle, e.Type, err)
		}
		slots[idx].obj = obj
		slots[idx].refs = e.Refs
	}
	return slots, nil
}

// discard disposes the objects of a slot table that never went live. The
// live slots are hidden meanwhile, so handles released by a disposed object
// are refused instead of touching live objects.
func (p *Pool) discard(slots []slot) {
	live := p.slots
	p.slots = nil
	for idx := range slots {
		if obj := slots[idx].obj; obj != nil {
			slots[idx].obj = nil
			obj.Dispose()
		}
	}
	p.slots = live
}
