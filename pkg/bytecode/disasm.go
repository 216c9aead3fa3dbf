package bytecode

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"scriptvm/pkg/value"
)

// Disassemble writes a readable assembly-style dump of m.
func Disassemble(w io.Writer, m *Module) error {
	if m == nil {
		return fmt.Errorf("nil module")
	}

	fmt.Fprintf(w, "module %s (code=%d, imports=%d, exports=%d, data=%d)\n",
		m.Name, len(m.Code), len(m.Imports), len(m.Exports), len(m.Data))

	for idx, imp := range m.Imports {
		fmt.Fprintf(w, "  import[%d] %s %s%s -> %s\n", idx, imp.Kind, imp.Name, formatParams(imp.Params, imp.Kind), imp.Type)
	}
	for _, exp := range m.Exports {
		fmt.Fprintf(w, "  export %s %s%s -> %s @%d\n", exp.Kind, exp.Name, formatParams(exp.Params, exp.Kind), exp.Type, exp.Index)
	}
	for _, g := range m.Globals {
		fmt.Fprintf(w, "  global %s %s @%d\n", g.Type, g.Name, g.Offset)
	}

	entries := make(map[int]int, len(m.Functions))
	for idx, fn := range m.Functions {
		entries[fn.Entry] = idx
	}

	for pc, in := range m.Code {
		if idx, ok := entries[pc]; ok {
			fn := m.Functions[idx]
			fmt.Fprintf(w, "\nfunc %s (params=%d, locals=%d) -> %s\n", fn.Name, len(fn.Params), fn.Locals, fn.Returns)
		}

		lineStr := "-"
		if in.Line > 0 {
			lineStr = strconv.Itoa(in.Line)
		}
		fmt.Fprintf(w, "%04d %4s %s", pc, lineStr, in)
		if comment := operandComment(m, in); comment != "" {
			fmt.Fprintf(w, " ; %s", comment)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func operandComment(m *Module, in Instruction) string {
	switch {
	case in.Op.IsImportRef() && in.Arg >= 0 && in.Arg < int64(len(m.Imports)):
		return m.Imports[in.Arg].Name
	case in.Op == OpCall && in.Arg >= 0 && in.Arg < int64(len(m.Functions)):
		return m.Functions[in.Arg].Name
	case in.Op == OpLoadGlobal || in.Op == OpStoreGlobal:
		for _, g := range m.Globals {
			if int64(g.Offset) == in.Arg {
				return g.Name
			}
		}
	case in.Op == OpPushData && in.Arg >= 0 && in.Arg < int64(len(m.Data)):
		end := in.Arg
		for end < int64(len(m.Data)) && m.Data[end] != 0 {
			end++
		}
		return strconv.Quote(string(m.Data[in.Arg:end]))
	}
	return ""
}

func formatParams(params []value.Kind, kind LinkKind) string {
	if kind == LinkVar {
		return ""
	}
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.String()
	}
	return "(" + strings.Join(names, ", ") + ")"
}
