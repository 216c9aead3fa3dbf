package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"scriptvm/internal/compiler"
	"scriptvm/internal/logger"
	"scriptvm/pkg/color"
)

// Main entry point for the scriptvm compiler and runner.
func main() {
	options := compiler.Compiler{}

	flag.BoolVar(&options.Help, "h", false, "Show help")
	flag.BoolVar(&options.Verbose, "v", false, "Verbose mode")
	flag.BoolVar(&options.ShouldRun, "r", false, "Link and run the modules")
	flag.BoolVar(&options.ShouldCompile, "c", false, "Write compiled modules (.scvm)")
	flag.BoolVar(&options.NoColor, "n", false, "No color")
	flag.BoolVar(&options.Disassemble, "d", false, "Disassemble the modules")
	flag.StringVar(&options.OutputDir, "o", "", "Output directory for compiled modules")
	flag.StringVar(&options.ConfigFile, "config", "", "Project file (scriptvm.toml or scriptvm.yaml)")
	flag.StringVar(&options.Entry, "e", "", "Entry point as module.function")

	flag.Parse()
	options.Sources = flag.Args()

	if options.NoColor {
		color.EnableColor(false)
	}
	logger.Init(options.Verbose, options.NoColor)
	if options.Help {
		fmt.Printf("Usage: %s [options] [file.sc|file.scvm ...]\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
		return
	}

	if err := options.Compile(); err != nil {
		log.Fatal("Failed", "error", err)
	}
}
