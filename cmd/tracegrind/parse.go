package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tracegrind/tracegrind/internal/grind/calltrace"
	"github.com/tracegrind/tracegrind/internal/grind/memreplay"
	"github.com/tracegrind/tracegrind/internal/parse"
	"github.com/tracegrind/tracegrind/internal/replay"
)

func newParseCommand() *cobra.Command {
	var (
		traceFile string
		grinder   string
		strict    bool
		storyOut  string
	)

	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Feed a trace file to a named grinder",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			parser := parse.New(parse.Options{Strict: strict}, log)
			switch grinder {
			case "calltrace":
				return runCallTrace(cmd, parser, traceFile)
			case "memreplay":
				return runMemReplay(cmd, parser, traceFile, storyOut, log)
			default:
				return errors.Errorf("unknown grinder %q (want calltrace or memreplay)", grinder)
			}
		},
	}

	cmd.Flags().StringVar(&traceFile, "trace-file", "", "trace file to parse")
	cmd.Flags().StringVar(&grinder, "grinder", "calltrace", "grinder to feed: calltrace or memreplay")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on unknown record kinds and module conflicts")
	cmd.Flags().StringVar(&storyOut, "story-out", "", "write the memreplay story to this file")
	cmd.MarkFlagRequired("trace-file")
	return cmd
}

func runCallTrace(cmd *cobra.Command, parser *parse.Parser, traceFile string) error {
	g := calltrace.New(nil)
	if err := parser.Parse(traceFile, g); err != nil {
		return err
	}
	for _, pid := range g.Processes() {
		if err := g.Verify(pid); err != nil {
			return err
		}
	}
	return g.WriteReport(cmd.OutOrStdout())
}

func runMemReplay(cmd *cobra.Command, parser *parse.Parser, traceFile, storyOut string, log *zap.Logger) error {
	g := memreplay.New(log)
	if err := parser.Parse(traceFile, g); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, missing := range g.MissingEvents() {
		fmt.Fprintf(out, "missing event type: process %d function %d (%s)\n",
			missing.ProcessID, missing.FunctionID, missing.Name)
	}

	pids := g.Processes()
	for _, pid := range pids {
		story, err := g.Story(pid)
		if err != nil {
			return err
		}
		var lineEvents int
		for _, line := range story.Lines() {
			lineEvents += line.Len()
		}
		fmt.Fprintf(out, "process %d: %d plot lines, %d events, %d causal edges\n",
			pid, len(story.Lines()), lineEvents, len(story.Edges()))
	}

	if storyOut == "" {
		return nil
	}
	if len(pids) != 1 {
		return errors.Errorf("--story-out needs exactly one traced process, trace has %d", len(pids))
	}
	story, err := g.Story(pids[0])
	if err != nil {
		return err
	}
	image, err := replay.EncodeStory(story)
	if err != nil {
		return err
	}
	if err := os.WriteFile(storyOut, image, 0o644); err != nil {
		return errors.Wrap(err, "writing story")
	}
	fmt.Fprintf(out, "story written to %s\n", storyOut)
	return nil
}
