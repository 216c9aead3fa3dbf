// Package pool implements the managed object heap shared by script
// instances and the host: a reference-counted arena addressed by stable
// handles.
//
// A handle packs a slot index with the slot's generation, so a handle that
// outlives its object is rejected instead of silently naming a newer object
// that reused the slot. Reference cycles are not collected; objects are only
// freed by explicit Release calls.
package pool

import (
	"errors"
	"fmt"
	"math"

	"github.com/charmbracelet/log"
)

// Handle names a managed object. The zero handle is never issued.
type Handle uint32

const NilHandle Handle = 0

const (
	indexBits     = 16
	maxSlots      = 1 << indexBits
	maxGeneration = math.MaxUint16
)

func makeHandle(index int, gen uint16) Handle {
	return Handle(uint32(gen)<<indexBits | uint32(index))
}

func (h Handle) index() int {
	return int(h & (maxSlots - 1))
}

func (h Handle) generation() uint16 {
	return uint16(h >> indexBits)
}

func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.index(), h.generation())
}

// Object is the capability set every managed object provides.
type Object interface {
	TypeName() string
	Serialize() ([]byte, error)
	Restore(data []byte) error
	Dispose()
}

// Addressable objects expose their payload for byte-offset access by scripts.
type Addressable interface {
	Object
	Bytes() []byte
}

// Factory creates an empty object of one type, ready for Restore.
type Factory func() Object

var (
	ErrInvalidHandle = errors.New("invalid handle")
	ErrPoolFull      = errors.New("object pool full")
	ErrUnknownType   = errors.New("unknown object type")
)

type slot struct {
	obj  Object
	refs int
	gen  uint16
}

type Pool struct {
	slots     []slot
	free      []int // reusable slot indices, oldest first
	live      int
	limit     int
	factories map[string]Factory
}

type Option func(*Pool)

// WithLimit caps the number of slots the pool may grow to
func WithLimit(n int) Option {
	return func(p *Pool) {
		if n > 0 && n <= maxSlots {
			p.limit = n
		}
	}
}

// New creates an empty pool
func New(opts ...Option) *Pool {
	p := &Pool{
		limit:     maxSlots,
		factories: make(map[string]Factory),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// RegisterType installs the factory used by RestoreAll for objects of the given type name.
func (p *Pool) RegisterType(name string, f Factory) {
	p.factories[name] = f
}

// Allocate stores obj in a fresh slot with a reference count of one.
func (p *Pool) Allocate(obj Object) (Handle, error) {
	if obj == nil {
		return NilHandle, fmt.Errorf("allocate: nil object")
	}

	var idx int
	switch {
	case len(p.free) > 0:
		idx = p.free[0]
		p.free = p.free[1:]
	case len(p.slots) < p.limit:
		p.slots = append(p.slots, slot{})
		idx = len(p.slots) - 1
	default:
		return NilHandle, ErrPoolFull
	}

	s := &p.slots[idx]
	s.gen++
	s.obj = obj
	s.refs = 1
	p.live++

	h := makeHandle(idx, s.gen)
	log.Debug("pool: allocated", "handle", h, "type", obj.TypeName())
	return h, nil
}

func (p *Pool) lookupSlot(h Handle) (*slot, error) {
	idx := h.index()
	if h == NilHandle || idx >= len(p.slots) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	s := &p.slots[idx]
	if s.obj == nil || s.gen != h.generation() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return s, nil
}

// Lookup returns the object named by h.
func (p *Pool) Lookup(h Handle) (Object, error) {
	s, err := p.lookupSlot(h)
	if err != nil {
		return nil, err
	}
	return s.obj, nil
}

// RefCount returns the current reference count of h.
func (p *Pool) RefCount(h Handle) (int, error) {
	s, err := p.lookupSlot(h)
	if err != nil {
		return 0, err
	}
	return s.refs, nil
}

// Retain adds a reference to h.
func (p *Pool) Retain(h Handle) error {
	s, err := p.lookupSlot(h)
	if err != nil {
		return err
	}
	s.refs++
	return nil
}

// Release drops a reference to h, disposing the object when none remain.
func (p *Pool) Release(h Handle) error {
	s, err := p.lookupSlot(h)
	if err != nil {
		return err
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}

	obj := s.obj
	p.freeSlot(h.index())
	log.Debug("pool: disposed", "handle", h, "type", obj.TypeName())
	// the slot is already free, so Dispose may release other handles
	obj.Dispose()
	return nil
}

func (p *Pool) freeSlot(idx int) {
	s := &p.slots[idx]
	s.obj = nil
	s.refs = 0
	p.live--
	// a slot whose generation is exhausted is retired for good
	if s.gen < maxGeneration {
		p.free = append(p.free, idx)
	}
}

// Len returns the number of live objects
func (p *Pool) Len() int {
	return p.live
}

// Handles returns the handles of all live objects in slot order
func (p *Pool) Handles() []Handle {
	out := make([]Handle, 0, p.live)
	for idx := range p.slots {
		s := &p.slots[idx]
		if s.obj != nil {
			out = append(out, makeHandle(idx, s.gen))
		}
	}
	return out
}

// Reset disposes every live object regardless of its reference count.
func (p *Pool) Reset() {
	objs := p.clear()
	for _, obj := range objs {
		obj.Dispose()
	}
}

// clear empties every slot but keeps generations, so stale handles stay invalid
func (p *Pool) clear() []Object {
	var objs []Object
	for idx := range p.slots {
		if p.slots[idx].obj != nil {
			objs = append(objs, p.slots[idx].obj)
			p.freeSlot(idx)
		}
	}
	return objs
}
