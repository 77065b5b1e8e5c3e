package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/brain/internal/gitdiff"
)

const maxStdinSize = 1 << 20

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxStdinSize))
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

// parseFilters turns key=value pairs into a filter. Values that parse as JSON
// scalars (numbers, booleans) keep their type; everything else is a string.
func parseFilters(pairs []string) (map[string]any, error) {
	filter := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		switch v.(type) {
		case float64, bool:
		default:
			v = value
		}
		filter[key] = v
	}
	return filter, nil
}

func printReport(cmd *cobra.Command, r *gitdiff.Report) {
	out := cmd.OutOrStdout()
	if r.Branch != "" {
		fmt.Fprintf(out, "On branch %s\n", r.Branch)
	}
	base := r.Base
	if base == "" {
		base = "(root)"
	}
	fmt.Fprintf(out, "%s..%s\n", short(base), short(r.Ref))
	for _, f := range r.Files {
		fmt.Fprintf(out, "  %-40s +%d -%d\n", f.Path, f.Additions, f.Deletions)
	}
	fmt.Fprintf(out, "%d files changed, +%d -%d\n", len(r.Files), r.Additions, r.Deletions)

	if len(r.Worktree) > 0 {
		fmt.Fprintln(out, "\nWorktree:")
		for _, w := range r.Worktree {
			fmt.Fprintf(out, "  %s%s %s\n", w.Staging, w.Worktree, w.Path)
		}
	}
	if len(r.Commits) > 0 {
		fmt.Fprintln(out, "\nCommits:")
		for _, c := range r.Commits {
			msg, _, _ := strings.Cut(c.Message, "\n")
			fmt.Fprintf(out, "  %s %s (%s)\n", short(c.Hash), msg, c.Author)
		}
	}
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
