// Package diag carries compile and link diagnostics from the front end and
// linker to the embedding application without aborting the caller.
package diag

import (
	"errors"
	"fmt"
	"strings"

	"scriptvm/pkg/color"
)

type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	default:
		return "error"
	}
}

// Diagnostic categories, matched with errors.Is against a Diagnostic.
var (
	ErrSyntax              = errors.New("syntax error")
	ErrDuplicateDefinition = errors.New("duplicate definition")
	ErrUndefined           = errors.New("undefined symbol")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrMacro               = errors.New("macro error")
	ErrUnresolvedImport    = errors.New("unresolved import")
	ErrLinkTypeMismatch    = errors.New("import type mismatch")
)

// Diagnostic is one compile or link report.
type Diagnostic struct {
	Module   string
	Line     int // 0 when the location is a whole module
	Message  string
	Severity Severity
	Category error
}

func (d Diagnostic) Error() string {
	var b strings.Builder
	b.WriteString(d.Module)
	if d.Line > 0 {
		fmt.Fprintf(&b, ":%d", d.Line)
	}
	fmt.Fprintf(&b, ": %s: %s", d.Severity, d.Message)
	return b.String()
}

func (d Diagnostic) Unwrap() error {
	return d.Category
}

// Pretty renders the diagnostic with terminal colors
func (d Diagnostic) Pretty() string {
	msg := color.RedText(d.Message)
	if d.Severity == Warning {
		msg = color.YellowText(d.Message)
	}
	return msg + " at " + color.Location(d.Module, d.Line)
}

// List accumulates diagnostics in report order.
type List []Diagnostic

// Errorf appends an error diagnostic
func (l *List) Errorf(category error, module string, line int, format string, args ...any) {
	*l = append(*l, Diagnostic{
		Module:   module,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
		Severity: Error,
		Category: category,
	})
}

// Warnf appends a warning diagnostic
func (l *List) Warnf(category error, module string, line int, format string, args ...any) {
	*l = append(*l, Diagnostic{
		Module:   module,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
		Severity: Warning,
		Category: category,
	})
}

// Append adds every diagnostic of other to the list
func (l *List) Append(other List) {
	*l = append(*l, other...)
}

// HasErrors reports whether any error-severity diagnostic is present
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics
func (l List) Errors() List {
	var out List
	for _, d := range l {
		if d.Severity == Error {
			out = append(out, d)
		}
	}
	return out
}

// Err joins the error diagnostics into a single error, or returns nil.
func (l List) Err() error {
	var errs []error
	for _, d := range l {
		if d.Severity == Error {
			errs = append(errs, d)
		}
	}
	return errors.Join(errs...)
}
