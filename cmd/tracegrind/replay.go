package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tracegrind/tracegrind/internal/replay"
)

func newReplayCommand() *cobra.Command {
	var storyFile string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Play a serialized story against an in-memory heap",
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(storyFile)
			if err != nil {
				return errors.Wrap(err, "reading story")
			}
			story, err := replay.DecodeStory(image)
			if err != nil {
				return err
			}
			if err := story.Play(replay.NewMemoryBackdrop()); err != nil {
				return errors.Wrap(err, "replay failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d plot lines, %d causal edges\n",
				len(story.Lines()), len(story.Edges()))
			return nil
		},
	}

	cmd.Flags().StringVar(&storyFile, "story", "", "serialized story to play")
	cmd.MarkFlagRequired("story")
	return cmd
}
