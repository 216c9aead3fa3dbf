package codegen

import (
	"fmt"

	"scriptvm/pkg/diag"
	"scriptvm/pkg/parser/symtab"
)

func (c *Codegen) errorf(category error, format string, args ...any) error {
	return diag.Diagnostic{
		Module:   c.module,
		Line:     c.line,
		Message:  fmt.Sprintf(format, args...),
		Severity: diag.Error,
		Category: category,
	}
}

func (c *Codegen) undefinedError(kind, name string) error {
	return c.errorf(diag.ErrUndefined, "undefined %s `%s`", kind, name)
}

func (c *Codegen) typeMismatchError(expected, found symtab.Type) error {
	return c.errorf(diag.ErrTypeMismatch, "type mismatch: expected %s, found %s", expected, found)
}

func (c *Codegen) operandError(op string, left, right symtab.Type) error {
	return c.errorf(diag.ErrTypeMismatch, "invalid operands to %s: %s and %s", op, left, right)
}
