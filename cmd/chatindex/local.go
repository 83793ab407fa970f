package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatindex/internal/config"
	"github.com/fyrsmithlabs/chatindex/internal/engine"
)

// newLocalEngine builds an engine from the config file and environment.
func newLocalEngine(opts *cliOptions) (*engine.Engine, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.ConfigFrom(cfg), engine.WithLogger(zap.NewNop()))
}

func newParseCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse FILE",
		Short: "Print the segments of a transcript as JSON",
		Long: `Parse a transcript into segments without indexing it.

Segments carry provisional metadata: a segment opened by a timestamp line
has no participants yet.

Examples:
  chatindex parse chat.txt
  chatindex parse chat.txt | jq '.[].metadata.keywords'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newLocalEngine(opts)
			if err != nil {
				return err
			}
			defer eng.Close()

			segs, err := eng.ParseFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), segs)
		},
	}
}

func newMetadataCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata FILE",
		Short: "Print the aggregate metadata of a transcript as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newLocalEngine(opts)
			if err != nil {
				return err
			}
			defer eng.Close()

			md, err := eng.ExtractMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), md)
		},
	}
}

func newIndexCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index FILE...",
		Short: "Index transcripts and print a summary per sequence",
		Long: `Index one or more transcripts in process and print one line per
sequence. Files that fail are reported and do not stop the others.

Examples:
  chatindex index ~/chats/*.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newLocalEngine(opts)
			if err != nil {
				return err
			}
			defer eng.Close()

			_, indexErr := eng.IndexFiles(cmd.Context(), args)

			out := cmd.OutOrStdout()
			for _, seq := range eng.AllSequences() {
				fmt.Fprintf(out, "%s  %s  segments=%d  participants=%s  keywords=%s\n",
					seq.ID,
					seq.SourceFile,
					len(seq.SegmentIDs),
					strings.Join(seq.Aggregate.Participants(), ","),
					strings.Join(seq.Aggregate.Keywords(), ","),
				)
			}
			seqs, segs := eng.Stats()
			fmt.Fprintf(out, "Indexed %d sequence(s), %d segment(s)\n", seqs, segs)
			return indexErr
		},
	}
}
