// Package main implements the chatindex CLI.
//
// Local commands (parse, metadata, index) run an in-process engine. Remote
// commands (health, sequences, find, reindex) talk to a running chatindexd.
package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliOptions holds the persistent flags.
type cliOptions struct {
	serverURL  string
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:   "chatindex",
		Short: "Segment, inspect and query chat transcripts",
		Long: `chatindex splits chat transcripts into speaker turns and extracts
participants, hashtags and timestamps.

Local commands work on files directly. Remote commands query a running
chatindexd daemon.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:9191", "chatindexd server URL")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file for local commands (default ~/.config/chatindex/config.yaml)")

	root.AddCommand(
		newParseCmd(opts),
		newMetadataCmd(opts),
		newIndexCmd(opts),
		newHealthCmd(opts),
		newSequencesCmd(opts),
		newFindCmd(opts),
		newReindexCmd(opts),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
