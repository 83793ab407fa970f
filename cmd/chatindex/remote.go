package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/chatindex/internal/http"
)

// apiClient is a thin JSON client for chatindexd.
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient(opts *cliOptions, timeout time.Duration) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(opts.serverURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// do sends a request and decodes a 200 response into out.
func (c *apiClient) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	target := c.base + path
	req, err := http.NewRequest(method, target, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func newHealthCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check chatindexd health",
		Long: `Check the health status of a running chatindexd.

Examples:
  chatindex health
  chatindex health --server http://localhost:9292`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var health httpapi.HealthResponse
			if err := newAPIClient(opts, 5*time.Second).do(http.MethodGet, "/health", nil, &health); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", health.Status)
			fmt.Fprintf(out, "Server URL: %s\n", opts.serverURL)
			fmt.Fprintf(out, "Sequences: %d\n", health.Sequences)
			fmt.Fprintf(out, "Segments: %d\n", health.Segments)
			if health.Version != "" {
				fmt.Fprintf(out, "Version: %s\n", health.Version)
			}
			return nil
		},
	}
}

func newSequencesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sequences",
		Short: "List the sequences indexed by chatindexd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpapi.SequencesResponse
			if err := newAPIClient(opts, 30*time.Second).do(http.MethodGet, "/api/v1/sequences", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, seq := range resp.Sequences {
				fmt.Fprintf(out, "%s  %s  segments=%d  revision=%d\n", seq.ID, seq.SourceFile, len(seq.SegmentIDs), seq.Revision)
			}
			fmt.Fprintf(out, "%d sequence(s)\n", resp.Count)
			return nil
		},
	}
}

func newFindCmd(opts *cliOptions) *cobra.Command {
	var participant, keyword, source, text, after, before string
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find segments on chatindexd",
		Long: `Find segments matching every given filter and print them as JSON.

Examples:
  chatindex find --participant Me --keyword release
  chatindex find --after 2024-05-01T00:00:00Z --text deploy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			for k, v := range map[string]string{
				"participant": participant,
				"keyword":     keyword,
				"source":      source,
				"text":        text,
				"after":       after,
				"before":      before,
			} {
				if v != "" {
					q.Set(k, v)
				}
			}
			path := "/api/v1/segments"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var resp httpapi.SegmentsResponse
			if err := newAPIClient(opts, 30*time.Second).do(http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp.Segments)
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "speaker name (case-insensitive)")
	cmd.Flags().StringVar(&keyword, "keyword", "", "hashtag, with or without '#'")
	cmd.Flags().StringVar(&source, "source", "", "source file path")
	cmd.Flags().StringVar(&text, "text", "", "substring of the segment content")
	cmd.Flags().StringVar(&after, "after", "", "RFC3339 lower bound (inclusive)")
	cmd.Flags().StringVar(&before, "before", "", "RFC3339 upper bound (exclusive)")
	return cmd
}

func newReindexCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex FILE",
		Short: "Ask chatindexd to (re)index a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The daemon resolves relative paths against its own directory.
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			var resp httpapi.ReindexResponse
			req := httpapi.ReindexRequest{Path: path}
			if err := newAPIClient(opts, 60*time.Second).do(http.MethodPost, "/api/v1/sources/reindex", req, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ch := resp.Changes
			fmt.Fprintf(out, "%s  created=%d updated=%d moved=%d deleted=%d\n",
				resp.Sequence.ID, ch.Created, ch.Updated, ch.Moved, ch.Deleted)
			if resp.Warning != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", resp.Warning)
			}
			return nil
		},
	}
}
