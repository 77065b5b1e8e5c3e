package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/brain/internal/action"
	"github.com/fyrsmithlabs/brain/internal/dispatch"
	"github.com/fyrsmithlabs/brain/internal/embeddings"
	"github.com/fyrsmithlabs/brain/internal/gitdiff"
	"github.com/fyrsmithlabs/brain/internal/textservice"
	"github.com/fyrsmithlabs/brain/internal/vectorstore"
)

type testEnv struct {
	store   *vectorstore.MemoryStore
	session *mcp.ClientSession
}

func newTestDeps(t *testing.T) (*dispatch.Dispatcher, dispatch.Deps, *vectorstore.MemoryStore) {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	text, err := textservice.New(embeddings.NewHashProvider(0), nil, nil)
	require.NoError(t, err)
	d, err := dispatch.New()
	require.NoError(t, err)
	return d, dispatch.Deps{Store: store, Text: text}, store
}

func newTestEnv(t *testing.T, cfg *Config) *testEnv {
	t.Helper()
	d, deps, store := newTestDeps(t)

	server, err := NewServer(cfg, d, deps)
	require.NoError(t, err)

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "brain-test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	return &testEnv{store: store, session: cs}
}

func (e *testEnv) call(t *testing.T, tool string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := e.session.CallTool(context.Background(), &mcp.CallToolParams{Name: tool, Arguments: args})
	require.NoError(t, err)
	return res
}

// callErr reports whether the call failed either as a protocol error or as a
// tool error result.
func (e *testEnv) callErr(t *testing.T, tool string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := e.session.CallTool(context.Background(), &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return err.Error(), true
	}
	if res.IsError {
		return text(res), true
	}
	return "", false
}

func text(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func structured[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, text(res))
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	d, deps, _ := newTestDeps(t)

	_, err := NewServer(nil, nil, deps)
	assert.Error(t, err)
	_, err = NewServer(nil, d, dispatch.Deps{Text: deps.Text})
	assert.Error(t, err)
	_, err = NewServer(nil, d, dispatch.Deps{Store: deps.Store})
	assert.Error(t, err)

	s, err := NewServer(nil, d, deps)
	require.NoError(t, err)
	assert.Nil(t, s.git)
}

func TestListTools(t *testing.T) {
	t.Run("without git", func(t *testing.T) {
		env := newTestEnv(t, nil)
		res, err := env.session.ListTools(context.Background(), nil)
		require.NoError(t, err)

		names := make([]string, 0, len(res.Tools))
		for _, tool := range res.Tools {
			names = append(names, tool.Name)
		}
		sort.Strings(names)
		assert.Equal(t, []string{ToolCaptureThought, ToolDispatch, ToolHello, ToolQueryNodes, ToolVectorSearch}, names)
	})

	t.Run("with git", func(t *testing.T) {
		env := newTestEnv(t, &Config{Git: gitdiff.NewInspector(t.TempDir(), nil)})
		res, err := env.session.ListTools(context.Background(), nil)
		require.NoError(t, err)
		assert.Len(t, res.Tools, 6)
	})
}

func TestHelloTool(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.call(t, ToolHello, map[string]any{})
	out := structured[action.HelloResult](t, res)
	assert.Equal(t, "Hello from Brain Architecture!", out.Message)
	assert.Equal(t, out.Message, text(res))

	out = structured[action.HelloResult](t, env.call(t, ToolHello, map[string]any{"name": "Ada"}))
	assert.Equal(t, "Hello from Ada Architecture!", out.Message)

	events, err := env.store.QueryNodes(context.Background(), vectorstore.Filter{"type": dispatch.EventNodeType})
	require.NoError(t, err)
	assert.Len(t, events, 2, "every tool call is audited")
}

func TestCaptureAndSearchTools(t *testing.T) {
	env := newTestEnv(t, nil)

	captured := structured[action.CaptureThoughtResult](t, env.call(t, ToolCaptureThought, map[string]any{
		"text": "buy milk",
		"tags": []string{"errand", "home"},
	}))
	assert.Equal(t, "Captured thought with 2 tags", captured.Message)
	structured[action.CaptureThoughtResult](t, env.call(t, ToolCaptureThought, map[string]any{"text": "read a paper on graphs"}))

	found := structured[action.VectorSearchResult](t, env.call(t, ToolVectorSearch, map[string]any{"query": "milk", "limit": 1}))
	require.Equal(t, 1, found.Count)
	assert.Equal(t, captured.NodeID, found.Results[0].ID)

	tags := structured[action.QueryNodesResult](t, env.call(t, ToolQueryNodes, map[string]any{
		"filter": map[string]any{"type": "tag"},
	}))
	assert.Equal(t, 2, tags.Count)
}

func TestDispatchTool(t *testing.T) {
	env := newTestEnv(t, nil)

	out := structured[dispatchOutput](t, env.call(t, ToolDispatch, map[string]any{
		"kind":    "hello",
		"payload": map[string]any{"name": "Grace"},
	}))
	assert.Equal(t, "hello", out.Kind)
	result, ok := out.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Hello from Grace Architecture!", result["message"])
}

func TestTools_InvalidInput(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"unknown kind", ToolDispatch, map[string]any{"kind": "teleport", "payload": map[string]any{}}, "kind must be one of"},
		{"non-object payload", ToolDispatch, map[string]any{"kind": "hello", "payload": "hi"}, "payload must be an object"},
		{"empty thought", ToolCaptureThought, map[string]any{"text": ""}, "payload.text"},
		{"zero limit", ToolVectorSearch, map[string]any{"query": "x", "limit": 0}, "payload.limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, failed := env.callErr(t, tt.tool, tt.args)
			require.True(t, failed)
			assert.Contains(t, msg, tt.want)
		})
	}

	nodes, err := env.store.QueryNodes(context.Background(), vectorstore.Filter{})
	require.NoError(t, err)
	assert.Empty(t, nodes, "rejected input must not write")
}

func TestGitDiffTool(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o600))
	_, err = wt.Add("main.go")
	require.NoError(t, err)
	_, err = wt.Commit("add main", &git.CommitOptions{
		Author: &object.Signature{Name: "Ada", Email: "ada@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	env := newTestEnv(t, &Config{Git: gitdiff.NewInspector(dir, nil)})

	res := env.call(t, ToolGitDiff, map[string]any{"log": 1})
	report := structured[gitdiff.Report](t, res)
	assert.Equal(t, []gitdiff.FileChange{{Path: "main.go", Additions: 3}}, report.Files)
	require.Len(t, report.Commits, 1)
	assert.Equal(t, "add main", report.Commits[0].Message)
	assert.Equal(t, "1 files changed, +3 -0", text(res))

	msg, failed := env.callErr(t, ToolGitDiff, map[string]any{"ref": "nope"})
	require.True(t, failed)
	assert.Contains(t, msg, "revision not found")
}
