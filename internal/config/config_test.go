package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"scriptvm/internal/config"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"toml", "scriptvm.toml", `
sources = ["a.sc", "b.sc"]
output = "build"

[macros]
VERSION = "3"

[entry]
module = "b"
function = "start"

[runtime]
instruction_budget = 50
`},
		{"yaml", "scriptvm.yaml", `
sources: [a.sc, b.sc]
output: build
macros:
  VERSION: "3"
entry:
  module: b
  function: start
runtime:
  instruction_budget: 50
`},
	}

	for _, tt := range tests {
		dir := t.TempDir()
		c, err := config.Load(write(t, dir, tt.file, tt.content))
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if len(c.Sources) != 2 || c.Macros["VERSION"] != "3" {
			t.Errorf("%s: sources %v, macros %v", tt.name, c.Sources, c.Macros)
		}
		if c.Entry.Module != "b" || c.Entry.Function != "start" {
			t.Errorf("%s: entry %+v", tt.name, c.Entry)
		}
		if c.Runtime.InstructionBudget != 50 || c.Runtime.MaxCallDepth != 256 {
			t.Errorf("%s: runtime %+v", tt.name, c.Runtime)
		}
		if got := c.SourcePaths()[0]; got != filepath.Join(c.Dir, "a.sc") {
			t.Errorf("%s: source path %s", tt.name, got)
		}
		if c.OutputDir() != filepath.Join(c.Dir, "build") {
			t.Errorf("%s: output %s", tt.name, c.OutputDir())
		}
	}
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.Load(write(t, dir, "scriptvm.json", "{}")); err == nil {
		t.Error("unsupported extension accepted")
	}
	if _, err := config.Load(write(t, dir, "bad.toml", "[runtime]\nmax_stack = -1\n")); err == nil {
		t.Error("negative limit accepted")
	}
	if _, err := config.Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	write(t, root, "scriptvm.toml", `sources = ["main.sc"]`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := config.FindAndLoad(nested)
	if err != nil || c == nil {
		t.Fatalf("config not found: %v", err)
	}
	want, _ := filepath.Abs(root)
	if c.Dir != want {
		t.Errorf("dir = %s, want %s", c.Dir, want)
	}
}
