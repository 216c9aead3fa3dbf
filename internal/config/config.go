// Package config handles scriptvm.toml / scriptvm.yaml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileNames are the project files FindAndLoad looks for, in order.
var FileNames = []string{"scriptvm.toml", "scriptvm.yaml", "scriptvm.yml"}

// Config represents a scriptvm project file.
type Config struct {
	Sources []string          `toml:"sources" yaml:"sources"`
	Macros  map[string]string `toml:"macros" yaml:"macros"`
	Output  string            `toml:"output" yaml:"output"`
	Entry   Entry             `toml:"entry" yaml:"entry"`
	Runtime Runtime           `toml:"runtime" yaml:"runtime"`

	// Dir is the directory containing the project file (set at load time).
	Dir string `toml:"-" yaml:"-"`
}

// Entry names the function the runner starts.
type Entry struct {
	Module   string `toml:"module" yaml:"module"`
	Function string `toml:"function" yaml:"function"`
}

// Runtime configures the interpreter and the tick loop.
type Runtime struct {
	MaxCallDepth      int `toml:"max_call_depth" yaml:"max_call_depth"`
	MaxStack          int `toml:"max_stack" yaml:"max_stack"`
	InstructionBudget int `toml:"instruction_budget" yaml:"instruction_budget"`
	MaxTicks          int `toml:"max_ticks" yaml:"max_ticks"`
}

// Default returns the configuration used without a project file
func Default() *Config {
	return &Config{
		Macros: map[string]string{},
		Output: ".",
		Entry:  Entry{Function: "main"},
		Runtime: Runtime{
			MaxCallDepth:      256,
			MaxStack:          4096,
			InstructionBudget: 10000,
			MaxTicks:          1000,
		},
	}
}

// Load parses a project file; the format follows the extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a project file, then loads
// it. Returns nil if no project file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return Load(path)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate rejects negative limits and empty names
func (c *Config) Validate() error {
	r := c.Runtime
	if r.MaxCallDepth < 0 || r.MaxStack < 0 || r.InstructionBudget < 0 || r.MaxTicks < 0 {
		return fmt.Errorf("runtime limits must not be negative")
	}
	for name := range c.Macros {
		if name == "" {
			return fmt.Errorf("macro with empty name")
		}
	}
	return nil
}

// SourcePaths returns the configured sources relative to the project file
func (c *Config) SourcePaths() []string {
	paths := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		if filepath.IsAbs(s) {
			paths = append(paths, s)
			continue
		}
		paths = append(paths, filepath.Join(c.Dir, s))
	}
	return paths
}

// OutputDir returns the directory compiled modules are written to
func (c *Config) OutputDir() string {
	if filepath.IsAbs(c.Output) {
		return c.Output
	}
	return filepath.Join(c.Dir, c.Output)
}
