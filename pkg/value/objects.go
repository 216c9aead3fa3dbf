package value

import (
	"encoding/binary"
	"fmt"

	"scriptvm/pkg/pool"
	"scriptvm/pkg/wire"
)

const (
	ArrayType  = "ScriptArray"
	StringType = "ScriptString"
)

// Array is a script dynamic array: Len() elements of one kind, one word each.
// Arrays of references own a reference to every non-null element.
type Array struct {
	pool *pool.Pool
	Elem Kind
	Data []byte
}

type arrayPayload struct {
	Elem Kind   `cbor:"elem"`
	Data []byte `cbor:"data"`
}

// NewArray creates a zeroed array of n elements; reference elements start out null.
func NewArray(p *pool.Pool, elem Kind, n int) *Array {
	return &Array{pool: p, Elem: elem, Data: make([]byte, n*WordSize)}
}

func (a *Array) TypeName() string { return ArrayType }

func (a *Array) Len() int { return len(a.Data) / WordSize }

func (a *Array) Bytes() []byte { return a.Data }

// At decodes element i
func (a *Array) At(i int) (Value, error) {
	if i < 0 || i >= a.Len() {
		return Value{}, fmt.Errorf("index %d out of range [0,%d)", i, a.Len())
	}
	return FromWord(a.Elem, binary.LittleEndian.Uint64(a.Data[i*WordSize:])), nil
}

func (a *Array) Serialize() ([]byte, error) {
	return wire.Marshal(arrayPayload{Elem: a.Elem, Data: a.Data})
}

func (a *Array) Restore(data []byte) error {
	var p arrayPayload
	if err := wire.Unmarshal(data, &p); err != nil {
		return err
	}
	if len(p.Data)%WordSize != 0 {
		return fmt.Errorf("array payload of %d bytes is not word aligned", len(p.Data))
	}
	a.Elem, a.Data = p.Elem, p.Data
	return nil
}

// Dispose drops the references held by a reference array.
func (a *Array) Dispose() {
	if a.Elem == Ref && a.pool != nil {
		for i := 0; i < a.Len(); i++ {
			v, _ := a.At(i)
			if v.IsHeap() {
				// the element may already be gone when a cycle is torn down
				_ = a.pool.Release(v.Handle)
			}
		}
	}
	a.Data = nil
}

// String is an immutable NUL-terminated script string.
type String struct {
	data []byte
}

func NewString(s string) *String {
	return &String{data: append([]byte(s), 0)}
}

func (s *String) TypeName() string { return StringType }

func (s *String) Bytes() []byte { return s.data }

// Text returns the string without its terminator
func (s *String) Text() string {
	if len(s.data) == 0 {
		return ""
	}
	return string(s.data[:len(s.data)-1])
}

func (s *String) Serialize() ([]byte, error) {
	return []byte(s.Text()), nil
}

func (s *String) Restore(data []byte) error {
	s.data = append(append([]byte(nil), data...), 0)
	return nil
}

func (s *String) Dispose() {}

// RegisterTypes installs the script object factories on p.
func RegisterTypes(p *pool.Pool) {
	p.RegisterType(ArrayType, func() pool.Object { return &Array{pool: p} })
	p.RegisterType(StringType, func() pool.Object { return &String{} })
}

// NewPool creates a pool that can restore script objects
func NewPool(opts ...pool.Option) *pool.Pool {
	p := pool.New(opts...)
	RegisterTypes(p)
	return p
}
