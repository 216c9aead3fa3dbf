package compiler_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scriptvm/internal/compiler"
)

const lib = `
export int twice(int n) { return n * 2; }
`

const mainSrc = `
import void Display(string s);
import void DisplayInt(int n);
import void Wait(int ticks);
import int twice(int n);

int main() {
	Display("hi");
	Wait(1);
	DisplayInt(twice(LIMIT));
	return 7;
}

void boom() {
	int z = 0;
	DisplayInt(1 / z);
}
`

const project = `
sources = ["lib.sc", "main.sc"]
output = "out"

[macros]
LIMIT = "21"
`

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"lib.sc":        lib,
		"main.sc":       mainSrc,
		"scriptvm.toml": project,
	}
	for name, text := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestCompileWriteAndRun(t *testing.T) {
	dir := writeProject(t)
	var out bytes.Buffer
	c := compiler.Compiler{
		ShouldRun:     true,
		ShouldCompile: true,
		ConfigFile:    filepath.Join(dir, "scriptvm.toml"),
		Out:           &out,
	}
	if err := c.Compile(); err != nil {
		t.Fatalf("compile: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "hi\n42\n") {
		t.Errorf("output %q", out.String())
	}
	if !strings.Contains(out.String(), "result: 7") {
		t.Errorf("no result in %q", out.String())
	}

	// the written modules run without their sources
	var again bytes.Buffer
	c = compiler.Compiler{
		ShouldRun:  true,
		ConfigFile: filepath.Join(dir, "scriptvm.toml"),
		Sources: []string{
			filepath.Join(dir, "out", "lib"+compiler.ModuleExt),
			filepath.Join(dir, "out", "main"+compiler.ModuleExt),
		},
		Out: &again,
	}
	if err := c.Compile(); err != nil {
		t.Fatalf("run compiled modules: %v", err)
	}
	if !strings.Contains(again.String(), "hi\n42\n") {
		t.Errorf("output %q", again.String())
	}
}

func TestRuntimeFaultIsReported(t *testing.T) {
	dir := writeProject(t)
	var out bytes.Buffer
	c := compiler.Compiler{
		ShouldRun:  true,
		ConfigFile: filepath.Join(dir, "scriptvm.toml"),
		Entry:      "main.boom",
		Out:        &out,
	}
	if err := c.Compile(); err == nil {
		t.Fatal("expected a runtime error")
	}
	if !strings.Contains(out.String(), "main.boom") {
		t.Errorf("backtrace missing from %q", out.String())
	}
}

func TestCompileErrorsStopThePipeline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.sc")
	if err := os.WriteFile(path, []byte("int main() { return x; }"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	c := compiler.Compiler{ShouldRun: true, Sources: []string{path}, Out: &out}
	if err := c.Compile(); err == nil {
		t.Fatal("expected compile failure")
	}
	if !strings.Contains(out.String(), "x") {
		t.Errorf("diagnostic missing from %q", out.String())
	}
}
