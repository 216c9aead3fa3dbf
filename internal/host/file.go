package host

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"scriptvm/pkg/linker"
	"scriptvm/pkg/pool"
	"scriptvm/pkg/value"
	"scriptvm/pkg/wire"
)

const FileType = "HostFile"

// File is an append-only host file opened by a script. Scripts see it as
// an int holding its pool handle; disposing it closes the file.
type File struct {
	root string
	Path string
	f    *os.File
}

type filePayload struct {
	Path string `cbor:"path"`
}

func (f *File) TypeName() string { return FileType }

func (f *File) open() error {
	fd, err := os.OpenFile(filepath.Join(f.root, f.Path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	f.f = fd
	return nil
}

func (f *File) Serialize() ([]byte, error) {
	return wire.Marshal(filePayload{Path: f.Path})
}

// Restore reopens the file for appending
func (f *File) Restore(data []byte) error {
	var p filePayload
	if err := wire.Unmarshal(data, &p); err != nil {
		return err
	}
	f.Path = p.Path
	return f.open()
}

func (f *File) Dispose() {
	if f.f != nil {
		_ = f.f.Close()
		f.f = nil
	}
}

func (h *Host) fileOpen(call linker.Call, args []value.Value) (value.Value, error) {
	path, err := call.String(args[0])
	if err != nil {
		return value.Value{}, err
	}
	if !filepath.IsLocal(path) {
		return value.Value{}, fmt.Errorf("%w: path %q leaves the sandbox", ErrArgument, path)
	}

	f := &File{root: h.Root, Path: path}
	if err := f.open(); err != nil {
		return value.Value{}, err
	}
	handle, err := call.Pool().Allocate(f)
	if err != nil {
		f.Dispose()
		return value.Value{}, err
	}
	return value.NewInt(int64(handle)), nil
}

func (h *Host) file(call linker.Call, v value.Value) (*File, pool.Handle, error) {
	if v.I < 1 || v.I > math.MaxUint32 {
		return nil, pool.NilHandle, fmt.Errorf("%w: file handle %d", ErrArgument, v.I)
	}
	handle := pool.Handle(v.I)
	obj, err := call.Pool().Lookup(handle)
	if err != nil {
		return nil, handle, err
	}
	f, ok := obj.(*File)
	if !ok {
		return nil, handle, fmt.Errorf("%w: handle %s is a %s", ErrArgument, handle, obj.TypeName())
	}
	return f, handle, nil
}

func (h *Host) fileWrite(call linker.Call, args []value.Value) (value.Value, error) {
	f, _, err := h.file(call, args[0])
	if err != nil {
		return value.Value{}, err
	}
	s, err := call.String(args[1])
	if err != nil {
		return value.Value{}, err
	}
	_, err = f.f.WriteString(s)
	return value.Value{}, err
}

func (h *Host) fileClose(call linker.Call, args []value.Value) (value.Value, error) {
	_, handle, err := h.file(call, args[0])
	if err != nil {
		return value.Value{}, err
	}
	return value.Value{}, call.Pool().Release(handle)
}
