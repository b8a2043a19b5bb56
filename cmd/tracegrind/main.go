// Package main implements the tracegrind CLI.
//
// The tool is the offline half of the tracing pipeline: it parses trace
// files recorded by the in-process agent, grinds them into reports or
// replayable stories, and plays stories back against an in-memory heap.
//
// Usage:
//
//	tracegrind parse --trace-file trace.bin --grinder calltrace
//	tracegrind parse --trace-file trace.bin --grinder memreplay --story-out story.bin
//	tracegrind replay --story story.bin
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const version = "0.1.0"

var verbose bool

func main() {
	root := &cobra.Command{
		Use:           "tracegrind",
		Short:         "Parse, grind, and replay instrumentation traces",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newParseCommand(), newReplayCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tracegrind: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the CLI logger. Warnings and errors only unless
// --verbose is given.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
