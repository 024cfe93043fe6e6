// Package update rewrites module specifiers across a project after files
// have been relocated.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"tsmove/internal/cycle"
	"tsmove/internal/ledger"
	"tsmove/internal/parse"
	"tsmove/internal/project"
	"tsmove/internal/resolve"
	"tsmove/internal/specifier"
)

// Workspace is the live project the orchestrator drives.
type Workspace interface {
	Files() []*project.File
	Refresh(f *project.File) error
	Track(path string) (*project.File, error)
	Forget(path string)
	IsSource(path string) bool
	Ignored(path string) bool
	Analyze(ctx context.Context, f *project.File) *parse.Result
	Save(f *project.File) error
}

// WarningKind classifies a non-fatal problem.
type WarningKind string

const (
	WarnParseDegraded  WarningKind = "parse-degraded"
	WarnPersistFailure WarningKind = "persist-failure"
	WarnFileGone       WarningKind = "file-gone"
	WarnReadFailure    WarningKind = "read-failure"
	WarnRewriteFailure WarningKind = "rewrite-failure"
)

// Warning is reported at the end of a run; it never stops processing.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Path    string      `json:"path"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s: %s", w.Kind, w.Path, w.Message)
}

// Change is one rewritten specifier.
type Change struct {
	Line int            `json:"line"`
	Kind parse.DeclKind `json:"kind"`
	From string         `json:"from"`
	To   string         `json:"to"`
}

// FileChange records the rewrites of one file.
type FileChange struct {
	Path    string   `json:"path"`
	OldPath string   `json:"oldPath,omitempty"`
	Changes []Change `json:"changes"`
	Before  []byte   `json:"-"`
	After   []byte   `json:"-"`
}

// Summary is the result of a run.
type Summary struct {
	FilesChanged int          `json:"filesChanged"`
	Files        []FileChange `json:"files"`
	Warnings     []Warning    `json:"warnings"`
	// Edges are the resolved relative dependencies after rewriting, at
	// post-move locations.
	Edges []cycle.Edge `json:"-"`
}

// Options configures an Orchestrator.
type Options struct {
	// DryRun computes rewrites against files still at their old paths
	// and persists nothing.
	DryRun bool
	Logger *slog.Logger
}

// Orchestrator applies the resolver and rewriter to every loaded file.
type Orchestrator struct {
	ws       Workspace
	resolver *resolve.Resolver
	dryRun   bool
	logger   *slog.Logger
}

// New creates an orchestrator.
func New(ws Workspace, resolver *resolve.Resolver, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{ws: ws, resolver: resolver, dryRun: opts.DryRun, logger: logger}
}

type item struct {
	file    *project.File
	oldPath string
	newPath string
}

// Run rewrites references after the moves recorded in applied.
//
// known is the file set as it was before the moves; resolution happens
// there, from each declaring file's old location, so it is unaffected by
// what has already moved. Ledger sources are added to it, so moved
// non-source files (stylesheets, assets) are found as targets too. A
// target in the ledger is then followed to its new location and the
// specifier is recomputed from the declaring file's new location.
func (o *Orchestrator) Run(ctx context.Context, applied *ledger.Ledger, known resolve.FileSet) *Summary {
	sum := &Summary{}
	known = withSources(known, applied)

	items := o.sync(applied, sum)
	for _, it := range items {
		o.rewrite(ctx, it, applied, known, sum)
	}
	return sum
}

// sync re-reads every file and registers moved files at their new paths.
func (o *Orchestrator) sync(applied *ledger.Ledger, sum *Summary) []item {
	var items []item
	loaded := make(map[string]bool)

	for _, f := range o.ws.Files() {
		oldPath := f.Path()
		loaded[oldPath] = true
		newPath := applied.Locate(oldPath)

		if _, replaced := applied.Source(oldPath); replaced && newPath == oldPath {
			// Overwritten by a forced move; the moved file takes its place.
			continue
		}

		if newPath == oldPath || o.dryRun {
			if err := o.ws.Refresh(f); err != nil {
				kind := WarnReadFailure
				if errors.Is(err, project.ErrFileGone) {
					kind = WarnFileGone
					o.ws.Forget(oldPath)
				}
				sum.warn(kind, oldPath, err)
				continue
			}
			items = append(items, item{file: f, oldPath: oldPath, newPath: newPath})
			continue
		}

		// Moved: the old path is expected to be gone.
		if err := o.ws.Refresh(f); err == nil {
			o.logger.Debug("moved file still present at old path", "path", oldPath)
		}
		o.ws.Forget(oldPath)
		nf, err := o.ws.Track(newPath)
		if err != nil {
			sum.warn(WarnFileGone, newPath, err)
			continue
		}
		items = append(items, item{file: nf, oldPath: oldPath, newPath: newPath})
	}

	// Files moved into the project from somewhere it was not loading.
	if !o.dryRun {
		for _, e := range applied.Entries() {
			if loaded[e.From] || !o.ws.IsSource(e.To) || o.ws.Ignored(e.To) {
				continue
			}
			nf, err := o.ws.Track(e.To)
			if err != nil {
				sum.warn(WarnFileGone, e.To, err)
				continue
			}
			items = append(items, item{file: nf, oldPath: e.From, newPath: e.To})
		}
	}
	return items
}

func (o *Orchestrator) rewrite(ctx context.Context, it item, applied *ledger.Ledger, known resolve.FileSet, sum *Summary) {
	res := o.ws.Analyze(ctx, it.file)
	if res.Degraded() {
		sum.warn(WarnParseDegraded, it.newPath, fmt.Errorf("%s: %s", res.Outcome, res.Reason))
	}

	var changes []Change
	for _, d := range res.Declarations {
		r, ok := o.resolver.Resolve(it.oldPath, d.Specifier, known)
		if !ok {
			continue
		}
		target := applied.Locate(r.Target)
		if known.Has(r.Target) {
			sum.Edges = append(sum.Edges, cycle.Edge{From: it.newPath, To: target})
		}
		if it.oldPath == it.newPath && target == r.Target {
			continue
		}

		text, err := specifier.Render(it.newPath, target, r, o.resolver)
		if err != nil {
			sum.warn(WarnRewriteFailure, it.newPath, err)
			continue
		}
		if text == d.Specifier {
			continue
		}
		it.file.SetSpecifier(d, text)
		changes = append(changes, Change{Line: d.Line, Kind: d.Kind, From: d.Specifier, To: text})
	}

	if len(changes) == 0 || !it.file.Changed() {
		return
	}

	fc := FileChange{
		Path:    it.newPath,
		Changes: changes,
		Before:  it.file.Content(),
		After:   it.file.Render(),
	}
	if it.oldPath != it.newPath {
		fc.OldPath = it.oldPath
	}

	if !o.dryRun {
		if err := o.ws.Save(it.file); err != nil {
			sum.warn(WarnPersistFailure, it.newPath, err)
			return
		}
	}
	o.logger.Debug("rewrote references", "path", it.newPath, "changes", len(changes))
	sum.FilesChanged++
	sum.Files = append(sum.Files, fc)
}

func (s *Summary) warn(kind WarningKind, path string, err error) {
	s.Warnings = append(s.Warnings, Warning{Kind: kind, Path: path, Message: err.Error()})
}

// withSources extends known with every ledger source.
func withSources(known resolve.FileSet, applied *ledger.Ledger) resolve.FileSet {
	paths := resolve.NewPaths(applied.Sources()...)
	if known == nil {
		return paths
	}
	return union{known, paths}
}

type union []resolve.FileSet

func (u union) Has(path string) bool {
	path = filepath.Clean(path)
	for _, s := range u {
		if s.Has(path) {
			return true
		}
	}
	return false
}
