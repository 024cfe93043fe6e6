// Package alias converts relative module specifiers into the alias form
// declared by a project descriptor's baseUrl and paths.
package alias

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"tsmove/internal/config"
	"tsmove/internal/project"
	"tsmove/internal/resolve"
	"tsmove/internal/update"
)

type rule struct {
	alias  string // "@app/*"
	target string // absolute, "/root/src/app/*"
}

// Table maps target files back to alias specifiers.
type Table struct {
	baseURL string
	rules   []rule
}

// NewTable builds a table from a descriptor. Patterns with more than one
// wildcard are ignored, as TypeScript does.
func NewTable(d *config.Descriptor) *Table {
	t := &Table{baseURL: d.BaseURL}
	for pattern, targets := range d.Paths {
		if strings.Count(pattern, "*") > 1 {
			continue
		}
		for _, target := range targets {
			if strings.Count(target, "*") != strings.Count(pattern, "*") {
				continue
			}
			t.rules = append(t.rules, rule{
				alias:  pattern,
				target: filepath.Join(d.PathsBase, filepath.FromSlash(target)),
			})
		}
	}
	sort.Slice(t.rules, func(i, j int) bool { return t.rules[i].alias < t.rules[j].alias })
	return t
}

// Len returns the number of usable path rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// Specifier returns the alias specifier for a resolved target, keeping
// the form it was written in. The rule with the longest literal match
// wins; baseUrl is the fallback.
func (t *Table) Specifier(res resolve.Resolution, r *resolve.Resolver) (string, bool) {
	full := res.Target
	stem := full
	if ext, ok := r.Recognized(full); ok {
		stem = strings.TrimSuffix(full, ext)
	}
	if res.Form == resolve.FormDirectory && filepath.Base(stem) == "index" {
		stem = filepath.Dir(stem)
	}
	suffix := ""
	if res.Form == resolve.FormExplicit {
		suffix = resolve.EmittedExtension(res.WrittenExt, filepath.Ext(full))
	}

	best, bestScore := "", -1
	for _, rl := range t.rules {
		spec, score, ok := rl.match(full, stem, suffix, r)
		if ok && score > bestScore {
			best, bestScore = spec, score
		}
	}
	if bestScore >= 0 {
		return best, true
	}

	if t.baseURL != "" {
		rel, err := filepath.Rel(t.baseURL, stem)
		if err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel) + suffix, true
		}
	}
	return "", false
}

// match tries the rule against the full target path, when the target
// pattern names an extension, or its stem otherwise.
func (rl rule) match(full, stem, suffix string, r *resolve.Resolver) (string, int, bool) {
	subject, add := stem, suffix
	if _, ok := r.Recognized(rl.target); ok {
		subject, add = full, ""
	}

	star := strings.IndexByte(rl.target, '*')
	if star < 0 {
		if subject != rl.target {
			return "", 0, false
		}
		return rl.alias, len(rl.target), true
	}
	pre, suf := rl.target[:star], rl.target[star+1:]
	if len(subject) < len(pre)+len(suf) || !strings.HasPrefix(subject, pre) || !strings.HasSuffix(subject, suf) {
		return "", 0, false
	}
	capture := filepath.ToSlash(subject[len(pre) : len(subject)-len(suf)])
	if capture == "" {
		return "", 0, false
	}
	return strings.Replace(rl.alias, "*", capture, 1) + add, len(pre) + len(suf), true
}

// Converter rewrites relative specifiers of project files to alias form.
type Converter struct {
	project *project.Project
	table   *Table
	dryRun  bool
	logger  *slog.Logger
}

// NewConverter creates a converter. With dryRun nothing is saved.
func NewConverter(p *project.Project, t *Table, dryRun bool, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{project: p, table: t, dryRun: dryRun, logger: logger}
}

// Convert rewrites every relative specifier of f whose target exists in
// the project and has an alias. It returns nil when nothing changed.
func (c *Converter) Convert(ctx context.Context, f *project.File) (*update.FileChange, error) {
	resolver := c.project.Resolver()
	res := c.project.Analyze(ctx, f)

	var changes []update.Change
	for _, d := range res.Declarations {
		r, ok := resolver.Resolve(f.Path(), d.Specifier, c.project)
		if !ok || !c.project.Has(r.Target) {
			continue
		}
		spec, ok := c.table.Specifier(r, resolver)
		if !ok || spec == d.Specifier {
			continue
		}
		f.SetSpecifier(d, spec)
		changes = append(changes, update.Change{Line: d.Line, Kind: d.Kind, From: d.Specifier, To: spec})
	}
	if len(changes) == 0 || !f.Changed() {
		return nil, nil
	}

	fc := &update.FileChange{Path: f.Path(), Changes: changes, Before: f.Content(), After: f.Render()}
	if !c.dryRun {
		if err := c.project.Save(f); err != nil {
			return nil, err
		}
	}
	c.logger.Debug("converted to alias specifiers", "path", f.Path(), "changes", len(changes))
	return fc, nil
}

// Expand turns root-relative doublestar patterns into loaded project
// files. A pattern naming a file directly need not contain a wildcard.
func Expand(p *project.Project, patterns []string) ([]*project.File, error) {
	fsys := os.DirFS(p.Root())
	seen := make(map[string]bool)
	var files []*project.File
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if filepath.IsAbs(pattern) {
			rel, err := filepath.Rel(p.Root(), filepath.FromSlash(pattern))
			if err != nil {
				return nil, err
			}
			pattern = filepath.ToSlash(rel)
		}
		pattern = path.Clean(pattern)
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%q: %w", pattern, fs.ErrNotExist)
		}
		for _, m := range matches {
			f, ok := p.File(filepath.Join(p.Root(), filepath.FromSlash(m)))
			if !ok || seen[f.Path()] {
				continue
			}
			seen[f.Path()] = true
			files = append(files, f)
		}
	}
	return files, nil
}
