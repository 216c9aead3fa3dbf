package bytecode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"scriptvm/pkg/wire"
)

// FormatVersion is bumped whenever the persisted layout changes.
const FormatVersion = 1

var magic = []byte("SCVM")

var ErrIncompatibleFormat = errors.New("incompatible module format")

// Header summarises a persisted module ahead of its sections.
type Header struct {
	Version      int `cbor:"version"`
	Instructions int `cbor:"instructions"`
	Imports      int `cbor:"imports"`
	Exports      int `cbor:"exports"`
	DataSize     int `cbor:"data_size"`
}

type moduleFile struct {
	Header Header  `cbor:"header"`
	Module *Module `cbor:"module"`
}

type headerOnly struct {
	Header Header `cbor:"header"`
}

// Encode writes m in the persisted layout: magic, then a CBOR document
// holding the header and the module sections.
func (m *Module) Encode(w io.Writer) error {
	body, err := wire.Marshal(moduleFile{
		Header: Header{
			Version:      FormatVersion,
			Instructions: len(m.Code),
			Imports:      len(m.Imports),
			Exports:      len(m.Exports),
			DataSize:     len(m.Data),
		},
		Module: m,
	})
	if err != nil {
		return fmt.Errorf("encode module %s: %w", m.Name, err)
	}

	if _, err := w.Write(magic); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Decode reads a module written by Encode and validates it.
func Decode(r io.Reader) (*Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("%w: missing module signature", ErrIncompatibleFormat)
	}
	data = data[len(magic):]

	var h headerOnly
	if err := wire.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if h.Header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: version %d, expected %d", ErrIncompatibleFormat, h.Header.Version, FormatVersion)
	}

	var f moduleFile
	if err := wire.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m := f.Module
	if m == nil {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	if f.Header.Instructions != len(m.Code) || f.Header.Imports != len(m.Imports) ||
		f.Header.Exports != len(m.Exports) || f.Header.DataSize != len(m.Data) {
		return nil, fmt.Errorf("%w: header does not match sections", ErrMalformed)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
