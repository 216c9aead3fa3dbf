package interpreter

import (
	"bytes"
	"encoding/binary"

	"scriptvm/pkg/linker"
	"scriptvm/pkg/pool"
	"scriptvm/pkg/value"
)

// memory returns the whole byte range a reference points into
func (in *Instance) memory(r value.Value) ([]byte, error) {
	if r.Kind != value.Ref {
		return nil, in.errorf(KindType, "dereference of %s", r.Kind)
	}
	switch r.Space {
	case value.SpaceData:
		if r.Unit < 0 || r.Unit >= len(in.prog.Units) {
			return nil, in.errorf(KindInvalidHandle, "data reference to unit %d", r.Unit)
		}
		return in.prog.Units[r.Unit].Data, nil
	case value.SpaceHeap:
		obj, err := in.pool.Lookup(r.Handle)
		if err != nil {
			return nil, in.errorf(KindInvalidHandle, "%v", err)
		}
		a, ok := obj.(pool.Addressable)
		if !ok {
			return nil, in.errorf(KindType, "%s object is not addressable", obj.TypeName())
		}
		return a.Bytes(), nil
	default:
		return nil, in.errorf(KindNullReference, "null dereference")
	}
}

// Access returns width bytes at the reference. Every byte must lie inside
// the referenced object or data segment.
func (in *Instance) Access(r value.Value, width int) ([]byte, error) {
	mem, err := in.memory(r)
	if err != nil {
		return nil, err
	}
	off := r.Offset
	if off < 0 || off >= len(mem) || off+width > len(mem) {
		return nil, in.errorf(KindBounds, "access of %d bytes at offset %d, size %d", width, off, len(mem))
	}
	return mem[off : off+width], nil
}

// element returns the reference to element i of the array at arr
func (in *Instance) element(arr value.Value, i int64) (value.Value, error) {
	if arr.IsNull() {
		return value.Value{}, in.errorf(KindNullReference, "index into null array")
	}
	if i < 0 {
		return value.Value{}, in.errorf(KindBounds, "negative index %d", i)
	}
	mem, err := in.memory(arr)
	if err != nil {
		return value.Value{}, err
	}
	n := int64(len(mem)-arr.Offset) / value.WordSize
	if arr.Offset < 0 || i >= n {
		return value.Value{}, in.errorf(KindBounds, "index %d of %d elements", i, max(n, 0))
	}
	arr.Offset += int(i) * value.WordSize
	return arr, nil
}

func (in *Instance) loadWord(r value.Value, k value.Kind) (value.Value, error) {
	b, err := in.Access(r, value.WordSize)
	if err != nil {
		return value.Value{}, err
	}
	return value.FromWord(k, binary.LittleEndian.Uint64(b)), nil
}

// storeWord writes v as kind k, moving ownership of heap references
func (in *Instance) storeWord(r value.Value, k value.Kind, v value.Value) error {
	b, err := in.Access(r, value.WordSize)
	if err != nil {
		return err
	}
	v, err = in.coerce(v, k)
	if err != nil {
		return err
	}
	w, err := v.Word()
	if err != nil {
		return in.errorf(KindType, "%v", err)
	}
	if err := in.retain(v); err != nil {
		return err
	}
	old := binary.LittleEndian.Uint64(b)
	binary.LittleEndian.PutUint64(b, w)
	if k == value.Ref {
		return in.release(value.FromWord(value.Ref, old))
	}
	return nil
}

func (in *Instance) storeCell(c *linker.Cell, v value.Value) error {
	v, err := in.coerce(v, c.Kind())
	if err != nil {
		return err
	}
	if err := in.retain(v); err != nil {
		return err
	}
	old := c.Get()
	if err := c.Set(v); err != nil {
		_ = in.release(v)
		return in.errorf(KindType, "%v", err)
	}
	return in.release(old)
}

// storeLocal replaces a frame slot
func (in *Instance) storeLocal(f *Frame, slot int, v value.Value) error {
	if slot < 0 || slot >= len(f.Locals) {
		return in.errorf(KindBounds, "local slot %d of %d", slot, len(f.Locals))
	}
	if err := in.retain(v); err != nil {
		return err
	}
	old := f.Locals[slot]
	f.Locals[slot] = v
	return in.release(old)
}

// ReadString decodes the NUL-terminated string at r
func (in *Instance) ReadString(r value.Value) (string, error) {
	mem, err := in.memory(r)
	if err != nil {
		return "", err
	}
	off := r.Offset
	if off < 0 || off >= len(mem) {
		return "", in.errorf(KindBounds, "string at offset %d, size %d", off, len(mem))
	}
	end := bytes.IndexByte(mem[off:], 0)
	if end < 0 {
		return "", in.errorf(KindBounds, "unterminated string at offset %d", off)
	}
	return string(mem[off : off+end]), nil
}
