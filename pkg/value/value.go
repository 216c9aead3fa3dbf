// Package value defines the typed runtime value shared by the linker, the
// interpreter and host natives, its 8-byte memory representation, and the
// script-level managed objects (dynamic arrays and strings).
package value

import (
	"errors"
	"fmt"
	"math"

	"scriptvm/pkg/pool"
)

type Kind uint8

const (
	Void Kind = iota
	Int
	Float
	Ref
)

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Int:
		return "int"
	case Float:
		return "float"
	case Ref:
		return "ref"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Space says where a reference points.
type Space uint8

const (
	SpaceNull Space = iota
	SpaceHeap       // managed object, by handle
	SpaceData       // a unit's global data segment, by unit index
)

// WordSize is the size in bytes of one value stored in memory.
const WordSize = 8

var ErrUnencodable = errors.New("value cannot be stored in memory")

// Value is a tagged union of int, float and reference.
type Value struct {
	Kind   Kind        `cbor:"k"`
	I      int64       `cbor:"i,omitempty"`
	F      float64     `cbor:"f,omitempty"`
	Space  Space       `cbor:"s,omitempty"`
	Unit   int         `cbor:"u,omitempty"`
	Handle pool.Handle `cbor:"h,omitempty"`
	Offset int         `cbor:"o,omitempty"`
}

func NewInt(i int64) Value {
	return Value{Kind: Int, I: i}
}

func NewFloat(f float64) Value {
	return Value{Kind: Float, F: f}
}

func Null() Value {
	return Value{Kind: Ref}
}

func HeapRef(h pool.Handle, offset int) Value {
	if h == pool.NilHandle {
		return Null()
	}
	return Value{Kind: Ref, Space: SpaceHeap, Handle: h, Offset: offset}
}

func DataRef(unit, offset int) Value {
	return Value{Kind: Ref, Space: SpaceData, Unit: unit, Offset: offset}
}

// Bool converts a Go bool to the 0/1 int scripts use for truth values
func Bool(b bool) Value {
	if b {
		return NewInt(1)
	}
	return NewInt(0)
}

// IsNull reports whether v is the null reference
func (v Value) IsNull() bool {
	return v.Kind == Ref && v.Space == SpaceNull
}

// IsHeap reports whether v references a managed object
func (v Value) IsHeap() bool {
	return v.Kind == Ref && v.Space == SpaceHeap
}

// String renders the value as a string.
func (v Value) String() string {
	switch v.Kind {
	case Int:
		return fmt.Sprintf("%d", v.I)
	case Float:
		return fmt.Sprintf("%g", v.F)
	case Ref:
		switch v.Space {
		case SpaceHeap:
			return fmt.Sprintf("heap(%s+%d)", v.Handle, v.Offset)
		case SpaceData:
			return fmt.Sprintf("data(%d+%d)", v.Unit, v.Offset)
		default:
			return "null"
		}
	default:
		return "<void>"
	}
}

// Word layout for references:
//
//	bits 56-63  space
//	heap:       bits 32-55 offset, bits 0-31 handle
//	data:       bits 32-55 unit,   bits 0-31 offset
const (
	spaceShift = 56
	midShift   = 32
	midMask    = 1<<24 - 1
)

// Word encodes v into its 8-byte memory form.
func (v Value) Word() (uint64, error) {
	switch v.Kind {
	case Int:
		return uint64(v.I), nil
	case Float:
		return math.Float64bits(v.F), nil
	case Ref:
		switch v.Space {
		case SpaceNull:
			return 0, nil
		case SpaceHeap:
			if v.Offset < 0 || v.Offset > midMask {
				return 0, fmt.Errorf("%w: heap offset %d", ErrUnencodable, v.Offset)
			}
			return uint64(SpaceHeap)<<spaceShift | uint64(v.Offset)<<midShift | uint64(v.Handle), nil
		case SpaceData:
			if v.Unit < 0 || v.Unit > midMask || v.Offset < 0 || v.Offset > math.MaxUint32 {
				return 0, fmt.Errorf("%w: data ref %d+%d", ErrUnencodable, v.Unit, v.Offset)
			}
			return uint64(SpaceData)<<spaceShift | uint64(v.Unit)<<midShift | uint64(v.Offset), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnencodable, v.Kind)
}

// FromWord decodes a memory word holding a value of kind k.
func FromWord(k Kind, w uint64) Value {
	switch k {
	case Int:
		return NewInt(int64(w))
	case Float:
		return NewFloat(math.Float64frombits(w))
	case Ref:
		mid := int(w >> midShift & midMask)
		low := uint32(w)
		switch Space(w >> spaceShift) {
		case SpaceHeap:
			return HeapRef(pool.Handle(low), mid)
		case SpaceData:
			return DataRef(mid, int(low))
		default:
			return Null()
		}
	}
	return Value{}
}
