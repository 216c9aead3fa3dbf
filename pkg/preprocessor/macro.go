package preprocessor

import (
	"errors"
	"fmt"
	"slices"

	"scriptvm/pkg/diag"
)

// MaxMacros is the number of macros one table can hold.
const MaxMacros = 500

var (
	ErrNotFound      = errors.New("macro not found")
	ErrTooManyMacros = errors.New("too many macros")
)

// MacroTable maps macro names to their replacement text.
type MacroTable struct {
	entries map[string]string
}

// NewMacroTable creates an empty macro table
func NewMacroTable() *MacroTable {
	return &MacroTable{entries: make(map[string]string)}
}

// Add defines name. An existing definition is kept and reported as a duplicate.
func (t *MacroTable) Add(name, text string) error {
	if name == "" {
		return fmt.Errorf("%w: empty macro name", diag.ErrMacro)
	}
	if _, ok := t.entries[name]; ok {
		return fmt.Errorf("%w: macro %s", diag.ErrDuplicateDefinition, name)
	}
	if len(t.entries) >= MaxMacros {
		return fmt.Errorf("%w: cannot define %s, limit is %d", ErrTooManyMacros, name, MaxMacros)
	}
	t.entries[name] = text
	return nil
}

// Remove deletes name from the table.
func (t *MacroTable) Remove(name string) error {
	if _, ok := t.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(t.entries, name)
	return nil
}

// Merge adds every entry of other. Entries that fail are reported together;
// the rest are still added.
func (t *MacroTable) Merge(other *MacroTable) error {
	if other == nil {
		return nil
	}
	var errs []error
	for _, name := range other.Names() {
		if err := t.Add(name, other.entries[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the replacement text of name
func (t *MacroTable) Lookup(name string) (string, bool) {
	text, ok := t.entries[name]
	return text, ok
}

func (t *MacroTable) Len() int {
	return len(t.entries)
}

// Names returns the defined names in sorted order
func (t *MacroTable) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
