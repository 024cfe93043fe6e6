// Package gitio records relocations in the git index using go-git.
package gitio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/index"

	"tsmove/internal/ledger"
)

// ErrOutsideWorktree is returned for paths not below the worktree root.
var ErrOutsideWorktree = errors.New("path is outside the git worktree")

// Repository wraps a go-git repository with a worktree.
type Repository struct {
	repo *git.Repository
	wt   *git.Worktree
	root string
}

// Open opens the repository containing path, searching parent
// directories for .git.
func Open(path string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}
	root := wt.Filesystem.Root()
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return &Repository{repo: repo, wt: wt, root: root}, nil
}

// Root returns the worktree root.
func (r *Repository) Root() string {
	return r.root
}

// Tracked reports whether path has an entry in the index.
func (r *Repository) Tracked(path string) (bool, error) {
	rel, err := r.rel(path)
	if err != nil {
		return false, err
	}
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return false, fmt.Errorf("reading index: %w", err)
	}
	if _, err := idx.Entry(rel); err != nil {
		if errors.Is(err, index.ErrEntryNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stage records each completed move in the index: the old path is
// removed and the new one added. Entries whose source is not tracked are
// skipped. One failure does not stop the rest.
func (r *Repository) Stage(entries []ledger.Entry) ([]ledger.Entry, []error) {
	var staged []ledger.Entry
	var errs []error
	for _, e := range entries {
		ok, err := r.stage(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("staging %s -> %s: %w", e.From, e.To, err))
			continue
		}
		if ok {
			staged = append(staged, e)
		}
	}
	return staged, errs
}

func (r *Repository) stage(e ledger.Entry) (bool, error) {
	tracked, err := r.Tracked(e.From)
	if err != nil || !tracked {
		return false, err
	}
	from, err := r.rel(e.From)
	if err != nil {
		return false, err
	}
	to, err := r.rel(e.To)
	if err != nil {
		return false, err
	}
	if _, err := r.wt.Remove(from); err != nil {
		return false, fmt.Errorf("removing %s: %w", from, err)
	}
	if _, err := r.wt.Add(to); err != nil {
		return false, fmt.Errorf("adding %s: %w", to, err)
	}
	return true, nil
}

// rel converts an absolute path to a slash-separated worktree path.
func (r *Repository) rel(path string) (string, error) {
	dir, base := filepath.Split(path)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		path = filepath.Join(resolved, base)
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorktree, path)
	}
	return filepath.ToSlash(rel), nil
}
