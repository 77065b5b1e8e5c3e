package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brain/internal/action"
	"github.com/fyrsmithlabs/brain/internal/gitdiff"
)

// Tool names.
const (
	ToolDispatch       = "brain_dispatch"
	ToolHello          = "brain_hello"
	ToolCaptureThought = "brain_capture_thought"
	ToolQueryNodes     = "brain_query_nodes"
	ToolVectorSearch   = "brain_vector_search"
	ToolGitDiff        = "brain_git_diff"
)

type dispatchInput struct {
	Kind    string `json:"kind" jsonschema:"Action kind: hello, capture_thought, query_nodes or vector_search"`
	Payload any    `json:"payload" jsonschema:"Payload object for the kind"`
}

type dispatchOutput struct {
	Kind   string `json:"kind" jsonschema:"Action kind that ran"`
	Result any    `json:"result" jsonschema:"Result for the kind"`
}

type helloInput struct {
	Name *string `json:"name,omitempty" jsonschema:"Name to greet (default when omitted: Brain)"`
}

type captureThoughtInput struct {
	Text string   `json:"text" jsonschema:"Thought text to store and embed"`
	Tags []string `json:"tags,omitempty" jsonschema:"Tags to link the thought to"`
}

type queryNodesInput struct {
	Filter map[string]any `json:"filter,omitempty" jsonschema:"Equality filter: type, content, or any metadata key"`
	Limit  *float64       `json:"limit,omitempty" jsonschema:"Maximum nodes to return (default: 50)"`
}

type vectorSearchInput struct {
	Query string   `json:"query" jsonschema:"Text to search for"`
	Limit *float64 `json:"limit,omitempty" jsonschema:"Maximum results (default: 10)"`
}

type gitDiffInput struct {
	Ref    string `json:"ref,omitempty" jsonschema:"Revision to inspect (default: HEAD)"`
	Base   string `json:"base,omitempty" jsonschema:"Revision to compare against (default: first parent of ref)"`
	Log    int    `json:"log,omitempty" jsonschema:"Number of recent commits to include (max 100)"`
	Status bool   `json:"status,omitempty" jsonschema:"Include uncommitted worktree changes"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolDispatch,
		Description: "Run a brain action given as {kind, payload}. Every run is recorded as an audit event node.",
	}, instrumented(s, ToolDispatch, func(ctx context.Context, args dispatchInput) (dispatchOutput, string, error) {
		result, err := s.dispatcher.DispatchValue(ctx, map[string]any{"kind": args.Kind, "payload": args.Payload}, s.deps)
		if err != nil {
			return dispatchOutput{}, "", err
		}
		return dispatchOutput{Kind: string(result.Kind()), Result: result}, fmt.Sprintf("%s completed", result.Kind()), nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolHello,
		Description: "Greet and record a hello node",
	}, instrumented(s, ToolHello, func(ctx context.Context, args helloInput) (action.HelloResult, string, error) {
		r, err := dispatchAs[action.HelloResult](ctx, s, action.KindHello, args)
		return r, r.Message, err
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolCaptureThought,
		Description: "Store a thought with its embedding and link it to tag nodes",
	}, instrumented(s, ToolCaptureThought, func(ctx context.Context, args captureThoughtInput) (action.CaptureThoughtResult, string, error) {
		r, err := dispatchAs[action.CaptureThoughtResult](ctx, s, action.KindCaptureThought, args)
		return r, r.Message, err
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolQueryNodes,
		Description: "List nodes matching an equality filter, oldest first",
	}, instrumented(s, ToolQueryNodes, func(ctx context.Context, args queryNodesInput) (action.QueryNodesResult, string, error) {
		r, err := dispatchAs[action.QueryNodesResult](ctx, s, action.KindQueryNodes, args)
		return r, fmt.Sprintf("Found %d nodes", r.Count), err
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolVectorSearch,
		Description: "Find the nodes nearest to a text query by embedding similarity",
	}, instrumented(s, ToolVectorSearch, func(ctx context.Context, args vectorSearchInput) (action.VectorSearchResult, string, error) {
		r, err := dispatchAs[action.VectorSearchResult](ctx, s, action.KindVectorSearch, args)
		return r, fmt.Sprintf("Found %d results", r.Count), err
	}))

	if s.git == nil {
		return
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolGitDiff,
		Description: "Summarize a git diff: per-file line changes, worktree status and recent commits",
	}, instrumented(s, ToolGitDiff, func(ctx context.Context, args gitDiffInput) (gitdiff.Report, string, error) {
		if args.Log < 0 || args.Log > gitdiff.MaxLog {
			return gitdiff.Report{}, "", &action.ValidationError{
				Stage: action.StageInput,
				Violations: []action.Violation{{
					Field:   "log",
					Message: fmt.Sprintf("log must be between 0 and %d", gitdiff.MaxLog),
				}},
			}
		}
		report, err := s.git.Diff(ctx, gitdiff.Options{Ref: args.Ref, Base: args.Base, Log: args.Log, Status: args.Status})
		if err != nil {
			return gitdiff.Report{}, "", err
		}
		summary := fmt.Sprintf("%d files changed, +%d -%d", len(report.Files), report.Additions, report.Deletions)
		return *report, summary, nil
	}))
}

// instrumented adapts fn to a typed tool handler with metrics and logging.
// fn returns the structured output and a one-line text summary.
func instrumented[In, Out any](s *Server, tool string, fn func(context.Context, In) (Out, string, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.Begin(ctx, tool)
		out, summary, err := fn(ctx, args)
		done(err)

		if err != nil {
			s.logger.Debug("tool failed", zap.String("tool", tool), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: summary}},
		}, out, nil
	}
}

// dispatchAs runs kind with payload and asserts the result type.
func dispatchAs[R action.Result](ctx context.Context, s *Server, kind action.Kind, payload any) (R, error) {
	var zero R
	result, err := s.dispatcher.DispatchValue(ctx, map[string]any{"kind": string(kind), "payload": payload}, s.deps)
	if err != nil {
		return zero, err
	}
	r, ok := result.(R)
	if !ok {
		return zero, fmt.Errorf("unexpected %T result for %s", result, kind)
	}
	return r, nil
}
