// Package main implements brainctl, a CLI for running actions against a
// brain HTTP server.
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/brain/internal/action"
	"github.com/fyrsmithlabs/brain/internal/gitdiff"
	brainhttp "github.com/fyrsmithlabs/brain/internal/http"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		serverURL string
		timeout   time.Duration
	)
	rootCmd := &cobra.Command{
		Use:   "brainctl",
		Short: "CLI for brain HTTP server operations",
		Long: `brainctl is a command-line interface for the brain HTTP server.
Every action it runs is audited by the server like any other caller.`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:9191", "brain server URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	c := func() *client { return newClient(serverURL, timeout) }
	rootCmd.AddCommand(
		newDispatchCmd(c),
		newHelloCmd(c),
		newCaptureCmd(c),
		newQueryCmd(c),
		newSearchCmd(c),
		newNodeCmd(c),
		newDiffCmd(c),
		newHealthCmd(c, &serverURL),
	)
	return rootCmd
}

func newDispatchCmd(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <action-json>",
		Short: "Dispatch a raw action",
		Long: `Dispatch a raw {"kind", "payload"} action and print the result as JSON.

Examples:
  brainctl dispatch '{"kind":"hello","payload":{"name":"Ada"}}'
  echo '{"kind":"query_nodes","payload":{}}' | brainctl dispatch -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(args[0])
			if args[0] == "-" {
				var err error
				if raw, err = readAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("failed to read from stdin: %w", err)
				}
			}
			if !json.Valid(raw) {
				return fmt.Errorf("action is not valid JSON")
			}
			var result json.RawMessage
			if err := c().post(cmd.Context(), "/api/v1/dispatch", json.RawMessage(raw), &result); err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func newHelloCmd(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "hello [name]",
		Short: "Run the hello action",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			if len(args) == 1 {
				payload["name"] = args[0]
			}
			var result action.HelloResult
			if err := c().post(cmd.Context(), "/api/v1/actions/"+string(action.KindHello), payload, &result); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			return nil
		},
	}
}

func newCaptureCmd(c func() *client) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "capture <text>",
		Short: "Capture a thought",
		Long: `Capture a thought as a node, embedding its text and linking it to tag nodes.

Examples:
  brainctl capture "buy milk" --tag errand --tag home`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := action.CaptureThoughtPayload{Text: args[0], Tags: tags}
			var result action.CaptureThoughtResult
			if err := c().post(cmd.Context(), "/api/v1/actions/"+string(action.KindCaptureThought), payload, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (node %s)\n", result.Message, result.NodeID)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tag to link the thought to (repeatable)")
	return cmd
}

func newQueryCmd(c func() *client) *cobra.Command {
	var (
		filters []string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List nodes matching a filter",
		Long: `List nodes whose fields or metadata equal every --filter key=value pair.

Examples:
  brainctl query --filter type=thought --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload := map[string]any{}
			if len(filters) > 0 {
				filter, err := parseFilters(filters)
				if err != nil {
					return err
				}
				payload["filter"] = filter
			}
			if cmd.Flags().Changed("limit") {
				payload["limit"] = limit
			}
			var result action.QueryNodesResult
			if err := c().post(cmd.Context(), "/api/v1/actions/"+string(action.KindQueryNodes), payload, &result); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, n := range result.Nodes {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", n.ID, n.Type, n.CreatedAt.Format(time.RFC3339), n.Content)
			}
			fmt.Fprintf(out, "%d nodes\n", result.Count)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "key=value equality filter (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of nodes")
	return cmd
}

func newSearchCmd(c func() *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search nodes by meaning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"query": args[0]}
			if cmd.Flags().Changed("limit") {
				payload["limit"] = limit
			}
			var result action.VectorSearchResult
			if err := c().post(cmd.Context(), "/api/v1/actions/"+string(action.KindVectorSearch), payload, &result); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, hit := range result.Results {
				fmt.Fprintf(out, "%s\t%s\n", hit.ID, hit.Content)
			}
			fmt.Fprintf(out, "%d results\n", result.Count)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results")
	return cmd
}

func newNodeCmd(c func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "node <id>",
		Short: "Show a node and its edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result json.RawMessage
			if err := c().get(cmd.Context(), "/api/v1/nodes/"+url.PathEscape(args[0]), nil, &result); err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func newDiffCmd(c func() *client) *cobra.Command {
	var (
		ref, base string
		log       int
		status    bool
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Summarize changes in the server's git repository",
		Long: `Summarize the diff between a revision and its base in the repository the
server was configured with.

Examples:
  brainctl diff
  brainctl diff --ref v1.2.0 --base v1.1.0 --log 5 --status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if ref != "" {
				query.Set("ref", ref)
			}
			if base != "" {
				query.Set("base", base)
			}
			if log > 0 {
				query.Set("log", strconv.Itoa(log))
			}
			if status {
				query.Set("status", "true")
			}
			var report gitdiff.Report
			if err := c().get(cmd.Context(), "/api/v1/git/diff", query, &report); err != nil {
				return err
			}
			printReport(cmd, &report)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "revision to inspect (default HEAD)")
	cmd.Flags().StringVar(&base, "base", "", "revision to compare against (default first parent)")
	cmd.Flags().IntVar(&log, "log", 0, "number of commits to list")
	cmd.Flags().BoolVar(&status, "status", false, "include worktree status")
	return cmd
}

func newHealthCmd(c func() *client, serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check brain server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var health brainhttp.HealthResponse
			if err := c().get(cmd.Context(), "/health", nil, &health); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", health.Status)
			fmt.Fprintf(out, "Server URL: %s\n", *serverURL)
			if health.Version != "" {
				fmt.Fprintf(out, "Server Version: %s\n", health.Version)
			}
			if t := health.Telemetry; t != nil && t.Degraded {
				fmt.Fprintf(out, "Telemetry: degraded (%s)\n", t.Error)
			}
			return nil
		},
	}
}
