package compiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"scriptvm/internal/config"
	"scriptvm/internal/host"
	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/color"
	"scriptvm/pkg/diag"
	"scriptvm/pkg/interpreter"
	"scriptvm/pkg/linker"
	"scriptvm/pkg/parser"
	"scriptvm/pkg/preprocessor"
	"scriptvm/pkg/scheduler"
	"scriptvm/pkg/value"
)

// ModuleExt is the extension of compiled module files.
const ModuleExt = ".scvm"

type Compiler struct {
	Help          bool     // Show help message
	Verbose       bool     // Enable verbose output
	ShouldRun     bool     // Whether to link and run the modules
	ShouldCompile bool     // Whether to write compiled modules
	NoColor       bool     // Disable colored output
	Disassemble   bool     // Print the bytecode of every module
	ConfigFile    string   // Project file, searched for when empty
	Entry         string   // Entry point as module.function
	OutputDir     string   // Directory for compiled modules
	Sources       []string // Source or module files

	Out io.Writer // Program and report output, stdout when nil
}

func (opts *Compiler) out() io.Writer {
	if opts.Out == nil {
		return os.Stdout
	}
	return opts.Out
}

// Compile compiles every source, then writes, disassembles and runs the
// modules as the options ask.
func (opts *Compiler) Compile() error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	sources := opts.Sources
	if len(sources) == 0 {
		sources = cfg.SourcePaths()
	}
	if len(sources) == 0 {
		return errors.New("no input files")
	}

	predefined := preprocessor.NewMacroTable()
	for name, text := range cfg.Macros {
		if err := predefined.Add(name, text); err != nil {
			return fmt.Errorf("config macro %s: %w", name, err)
		}
	}

	mods := make([]*bytecode.Module, 0, len(sources))
	for _, src := range sources {
		m, err := opts.load(src, predefined)
		if err != nil {
			return err
		}
		mods = append(mods, m)
	}

	if opts.Disassemble {
		for _, m := range mods {
			fmt.Fprintln(opts.out(), color.GreenText("\n=== "+m.Name+" ==="))
			if err := bytecode.Disassemble(opts.out(), m); err != nil {
				return err
			}
		}
	}

	if opts.ShouldCompile {
		dir := opts.OutputDir
		if dir == "" {
			dir = cfg.OutputDir()
		}
		for _, m := range mods {
			if err := writeModule(dir, m); err != nil {
				return err
			}
		}
	}

	if opts.ShouldRun {
		return opts.run(cfg, mods)
	}
	return nil
}

func (opts *Compiler) config() (*config.Config, error) {
	if opts.ConfigFile != "" {
		return config.Load(opts.ConfigFile)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
		cfg.Dir, _ = os.Getwd()
	}
	return cfg, nil
}

// load compiles a source file or decodes a compiled module
func (opts *Compiler) load(path string, predefined *preprocessor.MacroTable) (*bytecode.Module, error) {
	log.Info("Processing file", "file", path)

	if filepath.Ext(path) == ModuleExt {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		m, err := bytecode.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return m, nil
	}

	input, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m, diags := parser.Compile(name, string(input), predefined)
	opts.report("Compile Errors", diags)
	if m == nil {
		return nil, fmt.Errorf("compiling %s failed with %d errors", path, len(diags.Errors()))
	}
	if opts.Verbose {
		log.Info("Compiled", "module", name, "instructions", len(m.Code), "functions", len(m.Functions))
	}
	return m, nil
}

func (opts *Compiler) report(title string, diags diag.List) {
	if len(diags) == 0 {
		return
	}
	if diags.HasErrors() {
		fmt.Fprintln(opts.out(), color.BrightRedText("=== "+title+" ==="))
	}
	for _, d := range diags {
		fmt.Fprintln(opts.out(), d.Pretty())
	}
}

func writeModule(dir string, m *bytecode.Module) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, m.Name+ModuleExt)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Info("Wrote module", "file", path)
	return f.Close()
}

// entry splits module.function, defaulting to the configured entry and the
// last module
func (opts *Compiler) entry(cfg *config.Config, mods []*bytecode.Module) (string, string) {
	module, fn := cfg.Entry.Module, cfg.Entry.Function
	if opts.Entry != "" {
		if before, after, ok := strings.Cut(opts.Entry, "."); ok {
			module, fn = before, after
		} else {
			fn = opts.Entry
		}
	}
	if module == "" {
		module = mods[len(mods)-1].Name
	}
	if fn == "" {
		fn = "main"
	}
	return module, fn
}

// run links the modules against the demo host and drives the scheduler
// until every instance is done or the tick limit is hit.
func (opts *Compiler) run(cfg *config.Config, mods []*bytecode.Module) error {
	h := host.New(host.WithOutput(opts.out()), host.WithRoot(cfg.Dir))
	reg := linker.NewRegistry()
	if err := h.Register(reg); err != nil {
		return err
	}

	prog, diags := linker.Link(reg, mods...)
	opts.report("Link Errors", diags)
	if prog == nil {
		return fmt.Errorf("linking failed with %d errors", len(diags.Errors()))
	}

	p := value.NewPool()
	h.RegisterTypes(p)
	rt := cfg.Runtime
	instOpts := []interpreter.Option{
		interpreter.WithMaxFrames(rt.MaxCallDepth),
		interpreter.WithMaxStack(rt.MaxStack),
		interpreter.WithBudget(rt.InstructionBudget),
	}
	if err := interpreter.RunInitializers(prog, p, instOpts...); err != nil {
		return err
	}

	sched := scheduler.New(prog, p, scheduler.WithInstanceOptions(instOpts...))
	module, fn := opts.entry(cfg, mods)
	inst, err := sched.Start(module, fn)
	if err != nil {
		return err
	}

	fmt.Fprintln(opts.out(), color.GreenText("=== Program Output ==="))
	ctx := context.Background()
	for tick := 0; ; tick++ {
		if err := sched.Tick(ctx); err != nil {
			return err
		}
		if inst.State() == interpreter.Finished || inst.State() == interpreter.Faulted {
			break
		}
		if rt.MaxTicks > 0 && tick >= rt.MaxTicks {
			sched.CancelAll()
			return fmt.Errorf("%s.%s still %s after %d ticks", module, fn, inst.State(), tick)
		}
		if sched.Pending() == 0 && h.Pending() == 0 {
			return fmt.Errorf("%s.%s waits on a signal nothing will send", module, fn)
		}
		h.Advance(sched)
	}

	if fault := inst.Fault(); fault != nil {
		fmt.Fprintln(opts.out(), color.BrightRedText("=== Runtime Error ==="))
		fmt.Fprintln(opts.out(), color.RedText(fault.Error()))
		fmt.Fprint(opts.out(), fault.Backtrace())
		return fmt.Errorf("%s.%s faulted: %w", module, fn, fault)
	}
	if res := inst.Result(); res.Kind != value.Void {
		fmt.Fprintln(opts.out(), color.GrayText("result: "+res.String()))
	}
	log.Debug("run complete", "ticks", h.Tick(), "steps", inst.Steps(), "objects", p.Len())
	sched.CancelAll()
	sched.Collect()
	return nil
}
