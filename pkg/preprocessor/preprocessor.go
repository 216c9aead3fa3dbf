// Package preprocessor performs object-like macro substitution over script
// source before it is lexed.
//
// Supported directives are #define, #undef, #ifdef, #ifndef, #else and
// #endif. Substitution is a single pass over whole identifiers outside string
// literals and comments; replacement text is never rescanned. Directive lines
// are replaced by empty lines so that line numbers in later diagnostics still
// match the unexpanded input.
package preprocessor

import (
	"errors"
	"strings"

	"github.com/charmbracelet/log"

	"scriptvm/pkg/diag"
)

type Preprocessor struct {
	module string
	macros *MacroTable
	diags  diag.List

	inComment bool // inside a block comment that spans lines
}

type condFrame struct {
	active    bool // lines in this branch are emitted
	parentOn  bool // enclosing region is emitted
	seenElse  bool
	startLine int
}

// New creates a preprocessor that defines into and substitutes from macros.
func New(module string, macros *MacroTable) *Preprocessor {
	if macros == nil {
		macros = NewMacroTable()
	}
	return &Preprocessor{module: module, macros: macros}
}

// Macros returns the table the preprocessor works on
func (p *Preprocessor) Macros() *MacroTable {
	return p.macros
}

// Expand returns src with directives processed and macros substituted. Each
// macro problem is reported as a diagnostic and expansion continues.
func (p *Preprocessor) Expand(src string) (string, diag.List) {
	p.diags = nil
	p.inComment = false

	lines := strings.Split(src, "\n")
	out := make([]string, len(lines))
	var conds []condFrame

	emitting := func() bool {
		return len(conds) == 0 || conds[len(conds)-1].active
	}

	for idx, line := range lines {
		lineNo := idx + 1
		trimmed := strings.TrimSpace(line)

		if !p.inComment && strings.HasPrefix(trimmed, "#") {
			directive, rest := splitDirective(trimmed[1:])
			switch directive {
			case "ifdef", "ifndef":
				_, defined := p.macros.Lookup(firstWord(rest))
				if firstWord(rest) == "" {
					p.diags.Errorf(diag.ErrMacro, p.module, lineNo, "#%s requires a macro name", directive)
				}
				on := emitting()
				conds = append(conds, condFrame{
					active:    on && defined == (directive == "ifdef"),
					parentOn:  on,
					startLine: lineNo,
				})
			case "else":
				if len(conds) == 0 {
					p.diags.Errorf(diag.ErrMacro, p.module, lineNo, "#else without #ifdef")
					break
				}
				top := &conds[len(conds)-1]
				if top.seenElse {
					p.diags.Errorf(diag.ErrMacro, p.module, lineNo, "duplicate #else")
					break
				}
				top.seenElse = true
				top.active = top.parentOn && !top.active
			case "endif":
				if len(conds) == 0 {
					p.diags.Errorf(diag.ErrMacro, p.module, lineNo, "#endif without #ifdef")
					break
				}
				conds = conds[:len(conds)-1]
			default:
				if emitting() {
					p.directive(directive, rest, lineNo)
				}
			}
			continue
		}

		if emitting() {
			out[idx] = p.substitute(line)
		}
	}

	for _, c := range conds {
		p.diags.Errorf(diag.ErrMacro, p.module, c.startLine, "unterminated conditional block")
	}

	log.Debug("preprocessed", "module", p.module, "macros", p.macros.Len(), "diagnostics", len(p.diags))
	return strings.Join(out, "\n"), p.diags
}

func (p *Preprocessor) directive(name, rest string, line int) {
	switch name {
	case "define":
		macro := firstWord(rest)
		if !isIdentifier(macro) {
			p.diags.Errorf(diag.ErrMacro, p.module, line, "#define requires a macro name")
			return
		}
		text := strings.TrimSpace(stripLineComment(rest[len(macro):]))
		if err := p.macros.Add(macro, text); err != nil {
			category := diag.ErrMacro
			if errors.Is(err, diag.ErrDuplicateDefinition) {
				category = diag.ErrDuplicateDefinition
			}
			p.diags.Errorf(category, p.module, line, "%v", err)
		}
	case "undef":
		macro := firstWord(rest)
		if err := p.macros.Remove(macro); err != nil {
			p.diags.Errorf(diag.ErrMacro, p.module, line, "%v", err)
		}
	default:
		p.diags.Errorf(diag.ErrMacro, p.module, line, "unknown directive #%s", name)
	}
}

// substitute replaces macro names in one line, skipping strings and comments.
func (p *Preprocessor) substitute(line string) string {
	var b strings.Builder
	n := len(line)
	for i := 0; i < n; {
		if p.inComment {
			end := strings.Index(line[i:], "*/")
			if end < 0 {
				b.WriteString(line[i:])
				return b.String()
			}
			b.WriteString(line[i : i+end+2])
			i += end + 2
			p.inComment = false
			continue
		}

		ch := line[i]
		switch {
		case ch == '/' && i+1 < n && line[i+1] == '/':
			b.WriteString(line[i:])
			return b.String()
		case ch == '/' && i+1 < n && line[i+1] == '*':
			b.WriteString("/*")
			i += 2
			p.inComment = true
		case ch == '"':
			j := i + 1
			for j < n && line[j] != '"' {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			j = min(j+1, n)
			b.WriteString(line[i:j])
			i = j
		case isIdentStart(ch):
			j := i + 1
			for j < n && isIdentPart(line[j]) {
				j++
			}
			word := line[i:j]
			if text, ok := p.macros.Lookup(word); ok {
				b.WriteString(text)
			} else {
				b.WriteString(word)
			}
			i = j
		case ch >= '0' && ch <= '9':
			// numeric literals such as 1e5 or 0x1F are not identifiers
			j := i + 1
			for j < n && (isIdentPart(line[j]) || line[j] == '.') {
				j++
			}
			b.WriteString(line[i:j])
			i = j
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

func splitDirective(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")
	end := 0
	for end < len(s) && isIdentPart(s[end]) {
		end++
	}
	return s[:end], strings.TrimSpace(s[end:])
}

func stripLineComment(s string) string {
	inString := false
	for i := 0; i < len(s); i++ {
		switch {
		case inString && s[i] == '\\':
			i++
		case s[i] == '"':
			inString = !inString
		case !inString && s[i] == '/' && i+1 < len(s) && s[i+1] == '/':
			return s[:i]
		}
	}
	return s
}

func firstWord(s string) string {
	if idx := strings.IndexAny(s, " \t"); idx >= 0 {
		return s[:idx]
	}
	return s
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
