// Package gitdiff inspects a git repository with go-git: the current branch
// and head, per-file line stats between two revisions, uncommitted worktree
// status, and recent commits.
package gitdiff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

var (
	// ErrNotRepository indicates the path is not inside a git repository.
	ErrNotRepository = errors.New("not a git repository")

	// ErrNoCommits indicates the repository has no commits yet.
	ErrNoCommits = errors.New("repository has no commits")

	// ErrRevisionNotFound indicates ref or base did not resolve.
	ErrRevisionNotFound = errors.New("revision not found")
)

// MaxLog bounds Options.Log.
const MaxLog = 100

// Options selects what Diff reports.
type Options struct {
	// Ref is the revision to inspect. Defaults to HEAD.
	Ref string
	// Base is compared against Ref. Defaults to Ref's first parent; a root
	// commit is compared against the empty tree.
	Base string
	// Log is how many commits, newest first from Ref, to include.
	Log int
	// Status includes uncommitted worktree changes.
	Status bool
}

// Report is the result of Diff.
type Report struct {
	Branch    string          `json:"branch,omitempty"`
	Head      string          `json:"head"`
	Ref       string          `json:"ref"`
	Base      string          `json:"base,omitempty"`
	Files     []FileChange    `json:"files"`
	Additions int             `json:"additions"`
	Deletions int             `json:"deletions"`
	Worktree  []WorktreeEntry `json:"worktree,omitempty"`
	Commits   []Commit        `json:"commits,omitempty"`
}

// FileChange is the line delta for one path.
type FileChange struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// WorktreeEntry is one path with uncommitted changes. Codes follow
// `git status --short`: M modified, A added, D deleted, ? untracked.
type WorktreeEntry struct {
	Path     string `json:"path"`
	Staging  string `json:"staging"`
	Worktree string `json:"worktree"`
}

type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// Inspector reads one repository.
type Inspector struct {
	path   string
	logger *zap.Logger
}

// NewInspector returns an Inspector for the repository containing path.
func NewInspector(path string, logger *zap.Logger) *Inspector {
	if path == "" {
		path = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{path: path, logger: logger}
}

func (i *Inspector) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(i.path, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, i.path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", i.path, err)
	}
	return repo, nil
}

// Diff builds a Report for opts.
func (i *Inspector) Diff(ctx context.Context, opts Options) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := i.open()
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoCommits
	}
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}

	report := &Report{Head: head.Hash().String(), Files: []FileChange{}}
	if head.Name().IsBranch() {
		report.Branch = head.Name().Short()
	}

	ref := opts.Ref
	if ref == "" {
		ref = "HEAD"
	}
	commit, err := resolveCommit(repo, ref)
	if err != nil {
		return nil, err
	}
	report.Ref = commit.Hash.String()

	base, err := i.baseCommit(repo, commit, opts.Base)
	if err != nil {
		return nil, err
	}
	if base != nil {
		report.Base = base.Hash.String()
	}

	stats, err := diffStats(ctx, base, commit)
	if err != nil {
		return nil, err
	}
	for _, s := range stats {
		report.Files = append(report.Files, FileChange{Path: s.Name, Additions: s.Addition, Deletions: s.Deletion})
		report.Additions += s.Addition
		report.Deletions += s.Deletion
	}

	if opts.Status {
		if report.Worktree, err = worktreeStatus(repo); err != nil {
			return nil, err
		}
	}
	if opts.Log > 0 {
		if report.Commits, err = recentCommits(repo, commit.Hash, min(opts.Log, MaxLog)); err != nil {
			return nil, err
		}
	}

	i.logger.Debug("git diff inspected",
		zap.String("ref", report.Ref),
		zap.String("base", report.Base),
		zap.Int("files", len(report.Files)),
	)
	return report, nil
}

func resolveCommit(repo *git.Repository, rev string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRevisionNotFound, rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a commit: %v", ErrRevisionNotFound, rev, err)
	}
	return commit, nil
}

// baseCommit returns nil when the diff should be against the empty tree.
func (i *Inspector) baseCommit(repo *git.Repository, commit *object.Commit, base string) (*object.Commit, error) {
	if base != "" {
		return resolveCommit(repo, base)
	}
	if commit.NumParents() == 0 {
		return nil, nil
	}
	parent, err := commit.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("reading parent of %s: %w", commit.Hash, err)
	}
	return parent, nil
}

func diffStats(ctx context.Context, base, commit *object.Commit) (object.FileStats, error) {
	if base == nil {
		stats, err := commit.StatsContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("computing stats for %s: %w", commit.Hash, err)
		}
		return stats, nil
	}
	patch, err := base.PatchContext(ctx, commit)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..%s: %w", base.Hash, commit.Hash, err)
	}
	return patch.Stats(), nil
}

func worktreeStatus(repo *git.Repository) ([]WorktreeEntry, error) {
	wt, err := repo.Worktree()
	if errors.Is(err, git.ErrIsBareRepository) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading worktree status: %w", err)
	}

	entries := make([]WorktreeEntry, 0, len(status))
	for path, fs := range status {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		entries = append(entries, WorktreeEntry{
			Path:     path,
			Staging:  statusCode(fs.Staging),
			Worktree: statusCode(fs.Worktree),
		})
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Path < entries[b].Path })
	return entries, nil
}

func statusCode(c git.StatusCode) string {
	if c == git.Unmodified {
		return " "
	}
	return string(rune(c))
}

func recentCommits(repo *git.Repository, from plumbing.Hash, n int) ([]Commit, error) {
	iter, err := repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	commits := make([]Commit, 0, n)
	for len(commits) < n {
		c, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading log: %w", err)
		}
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Message: strings.TrimSpace(c.Message),
			When:    c.Author.When,
		})
	}
	return commits, nil
}
