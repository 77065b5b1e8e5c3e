package gitdiff

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRepo struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	wt   *git.Worktree
	when time.Time
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &testRepo{t: t, dir: dir, repo: repo, wt: wt, when: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (r *testRepo) write(name, content string) {
	r.t.Helper()
	require.NoError(r.t, os.WriteFile(filepath.Join(r.dir, name), []byte(content), 0o600))
}

func (r *testRepo) commit(msg string, files map[string]string) plumbing.Hash {
	r.t.Helper()
	for name, content := range files {
		r.write(name, content)
		_, err := r.wt.Add(name)
		require.NoError(r.t, err)
	}
	r.when = r.when.Add(time.Minute)
	hash, err := r.wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Ada", Email: "ada@example.com", When: r.when},
	})
	require.NoError(r.t, err)
	return hash
}

func TestDiff_NotRepository(t *testing.T) {
	_, err := NewInspector(t.TempDir(), nil).Diff(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestDiff_NoCommits(t *testing.T) {
	r := newTestRepo(t)
	_, err := NewInspector(r.dir, nil).Diff(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNoCommits)
}

func TestDiff_RootCommit(t *testing.T) {
	r := newTestRepo(t)
	first := r.commit("initial", map[string]string{"notes.txt": "one\ntwo\n"})

	rep, err := NewInspector(r.dir, nil).Diff(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "master", rep.Branch)
	assert.Equal(t, first.String(), rep.Head)
	assert.Equal(t, first.String(), rep.Ref)
	assert.Empty(t, rep.Base)
	assert.Equal(t, []FileChange{{Path: "notes.txt", Additions: 2}}, rep.Files)
	assert.Equal(t, 2, rep.Additions)
}

func TestDiff_HeadAgainstParent(t *testing.T) {
	r := newTestRepo(t)
	first := r.commit("initial", map[string]string{"notes.txt": "one\ntwo\n"})
	second := r.commit("edit", map[string]string{
		"notes.txt": "one\nTWO\nthree\n",
		"todo.txt":  "buy milk\n",
	})

	rep, err := NewInspector(filepath.Join(r.dir), nil).Diff(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, second.String(), rep.Ref)
	assert.Equal(t, first.String(), rep.Base)

	byPath := map[string]FileChange{}
	for _, f := range rep.Files {
		byPath[f.Path] = f
	}
	assert.Equal(t, FileChange{Path: "notes.txt", Additions: 2, Deletions: 1}, byPath["notes.txt"])
	assert.Equal(t, FileChange{Path: "todo.txt", Additions: 1}, byPath["todo.txt"])
	assert.Equal(t, 3, rep.Additions)
	assert.Equal(t, 1, rep.Deletions)
}

func TestDiff_ExplicitRefAndBase(t *testing.T) {
	r := newTestRepo(t)
	first := r.commit("initial", map[string]string{"a.txt": "a\n"})
	second := r.commit("second", map[string]string{"b.txt": "b\n"})
	r.commit("third", map[string]string{"c.txt": "c\n"})

	rep, err := NewInspector(r.dir, nil).Diff(context.Background(), Options{
		Ref:  second.String(),
		Base: first.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, []FileChange{{Path: "b.txt", Additions: 1}}, rep.Files)

	rep, err = NewInspector(r.dir, nil).Diff(context.Background(), Options{Base: first.String()})
	require.NoError(t, err)
	assert.Len(t, rep.Files, 2)

	_, err = NewInspector(r.dir, nil).Diff(context.Background(), Options{Ref: "no-such-branch"})
	assert.ErrorIs(t, err, ErrRevisionNotFound)
}

func TestDiff_StatusAndLog(t *testing.T) {
	r := newTestRepo(t)
	r.commit("initial", map[string]string{"a.txt": "a\n"})
	r.commit("second", map[string]string{"b.txt": "b\n"})
	r.commit("third", map[string]string{"c.txt": "c\n"})

	r.write("a.txt", "changed\n")
	r.write("new.txt", "untracked\n")

	rep, err := NewInspector(r.dir, nil).Diff(context.Background(), Options{Status: true, Log: 2})
	require.NoError(t, err)

	assert.Equal(t, []WorktreeEntry{
		{Path: "a.txt", Staging: " ", Worktree: "M"},
		{Path: "new.txt", Staging: "?", Worktree: "?"},
	}, rep.Worktree)

	require.Len(t, rep.Commits, 2)
	assert.Equal(t, "third", rep.Commits[0].Message)
	assert.Equal(t, "second", rep.Commits[1].Message)
	assert.Equal(t, "Ada", rep.Commits[0].Author)
}

func TestDiff_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewInspector(".", nil).Diff(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
