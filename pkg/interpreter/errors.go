package interpreter

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind int

const (
	KindNullReference ErrorKind = iota + 1
	KindBounds
	KindType
	KindStackOverflow
	KindInvalidHandle
	KindDivideByZero
	KindNative
	KindOutOfMemory
)

// Runtime error categories, matched with errors.Is against a *RuntimeError.
var (
	ErrNullReference = errors.New("null reference")
	ErrBounds        = errors.New("out of bounds")
	ErrType          = errors.New("type error")
	ErrStackOverflow = errors.New("stack overflow")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrDivideByZero  = errors.New("division by zero")
	ErrNative        = errors.New("native call failed")
	ErrOutOfMemory   = errors.New("out of memory")
)

// Errors returned by the Instance API itself.
var (
	ErrNotReady   = errors.New("instance already started")
	ErrNotWaiting = errors.New("instance is not waiting")
	ErrRunning    = errors.New("instance is running")
	ErrArity      = errors.New("wrong number of arguments")
	ErrSnapshot   = errors.New("invalid snapshot")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindNullReference:
		return ErrNullReference
	case KindBounds:
		return ErrBounds
	case KindType:
		return ErrType
	case KindStackOverflow:
		return ErrStackOverflow
	case KindInvalidHandle:
		return ErrInvalidHandle
	case KindDivideByZero:
		return ErrDivideByZero
	case KindNative:
		return ErrNative
	case KindOutOfMemory:
		return ErrOutOfMemory
	}
	return nil
}

func (k ErrorKind) String() string {
	if err := k.sentinel(); err != nil {
		return err.Error()
	}
	return fmt.Sprintf("error(%d)", int(k))
}

// TraceEntry is one frame of the call stack at the point of a fault,
// innermost first.
type TraceEntry struct {
	Module   string `cbor:"module"`
	Function string `cbor:"function"`
	Line     int    `cbor:"line"`
}

func (t TraceEntry) String() string {
	return fmt.Sprintf("%s.%s:%d", t.Module, t.Function, t.Line)
}

// RuntimeError is the fault carried by a Faulted instance.
type RuntimeError struct {
	Kind    ErrorKind    `cbor:"kind"`
	Message string       `cbor:"message"`
	Trace   []TraceEntry `cbor:"trace"`
	Err     error        `cbor:"-"` // native cause, lost across snapshots
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RuntimeError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Backtrace renders the trace one frame per line
func (e *RuntimeError) Backtrace() string {
	var b strings.Builder
	for _, t := range e.Trace {
		fmt.Fprintf(&b, "  at %s\n", t)
	}
	return b.String()
}

// errorf builds a runtime error with the current call stack
func (in *Instance) errorf(kind ErrorKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...), Trace: in.trace()}
}

func (in *Instance) trace() []TraceEntry {
	out := make([]TraceEntry, 0, len(in.frames))
	for i := len(in.frames) - 1; i >= 0; i-- {
		f := in.frames[i]
		m := in.prog.Units[f.Unit].Module
		out = append(out, TraceEntry{
			Module:   m.Name,
			Function: m.Functions[f.Function].Name,
			Line:     m.LineAt(f.PC - 1),
		})
	}
	return out
}
