// Package project holds the live set of source files being relocated:
// loading from disk, re-synchronizing, analysis and persistence.
package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lukechampine.com/blake3"

	"tsmove/internal/cache"
	"tsmove/internal/ignore"
	"tsmove/internal/parse"
	"tsmove/internal/resolve"
)

// ErrFileGone is returned when a file is no longer at its recorded path.
var ErrFileGone = errors.New("file no longer at this path")

// Project is the registry of loaded source files under one root.
// It is not safe for concurrent use.
type Project struct {
	root     string
	files    map[string]*File
	ignore   *ignore.Matcher
	resolver *resolve.Resolver
	parser   *parse.Parser
	cache    *cache.Store
	logger   *slog.Logger
}

// Option configures a Project.
type Option func(*Project)

// WithIgnore sets the ignore matcher. Without one, ignore.Load is used.
func WithIgnore(m *ignore.Matcher) Option {
	return func(p *Project) {
		p.ignore = m
	}
}

// WithResolver sets the resolver whose extensions select source files.
func WithResolver(r *resolve.Resolver) Option {
	return func(p *Project) {
		p.resolver = r
	}
}

// WithParser sets the parser used by Analyze.
func WithParser(parser *parse.Parser) Option {
	return func(p *Project) {
		p.parser = parser
	}
}

// WithCache enables the declaration cache.
func WithCache(s *cache.Store) Option {
	return func(p *Project) {
		p.cache = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Project) {
		p.logger = l
	}
}

// Open loads every source file below root that is not ignored.
func Open(root string, opts ...Option) (*Project, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absRoot)
	}

	p := &Project{
		root:  absRoot,
		files: make(map[string]*File),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.ignore == nil {
		p.ignore, err = ignore.Load(absRoot, nil)
		if err != nil {
			return nil, fmt.Errorf("loading ignore patterns: %w", err)
		}
	}
	if p.resolver == nil {
		p.resolver = resolve.New(nil)
	}
	if p.parser == nil {
		p.parser = parse.NewParser(parse.DefaultBudget())
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	if err := p.collect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Project) collect() error {
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == p.root {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}
		if p.ignore.Match(filepath.ToSlash(rel), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !p.IsSource(path) {
			return nil
		}
		_, err = p.Track(path)
		return err
	})
	if err != nil {
		return fmt.Errorf("walking project: %w", err)
	}
	p.logger.Debug("project loaded", "root", p.root, "files", len(p.files))
	return nil
}

// Root returns the absolute project root.
func (p *Project) Root() string {
	return p.root
}

// Resolver returns the project's resolver.
func (p *Project) Resolver() *resolve.Resolver {
	return p.resolver
}

// IsSource reports whether path has a recognized source extension.
func (p *Project) IsSource(path string) bool {
	_, ok := p.resolver.Recognized(path)
	return ok
}

// Ignored reports whether an absolute path is excluded from the project.
func (p *Project) Ignored(path string) bool {
	rel, err := filepath.Rel(p.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	return p.ignore.Match(filepath.ToSlash(rel), false)
}

// Files returns all loaded files sorted by path.
func (p *Project) Files() []*File {
	files := make([]*File, 0, len(p.files))
	for _, f := range p.files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files
}

// File returns the loaded file at path.
func (p *Project) File(path string) (*File, bool) {
	f, ok := p.files[filepath.Clean(path)]
	return f, ok
}

// Has reports whether a file is loaded at path. It makes Project a
// resolve.FileSet over the live registry.
func (p *Project) Has(path string) bool {
	_, ok := p.files[filepath.Clean(path)]
	return ok
}

// Snapshot returns a copy of the loaded paths, unaffected by later changes.
func (p *Project) Snapshot() resolve.Paths {
	paths := make(resolve.Paths, len(p.files))
	for path := range p.files {
		paths[path] = true
	}
	return paths
}

// Track reads the file at path from disk and registers it, replacing any
// file already registered there.
func (p *Project) Track(path string) (*File, error) {
	path = filepath.Clean(path)
	content, mode, err := readFile(path)
	if err != nil {
		return nil, err
	}
	f := &File{path: path}
	f.reset(content, mode)
	p.files[path] = f
	return f, nil
}

// Forget unregisters the file at path.
func (p *Project) Forget(path string) {
	delete(p.files, filepath.Clean(path))
}

// Refresh forces f's in-memory state to match disk. A file that is no
// longer at its path yields ErrFileGone and stays registered.
func (p *Project) Refresh(f *File) error {
	content, mode, err := readFile(f.path)
	if err != nil {
		return err
	}
	f.reset(content, mode)
	return nil
}

// Analyze returns f's declarations, from the cache when possible.
func (p *Project) Analyze(ctx context.Context, f *File) *parse.Result {
	if f.result != nil {
		return f.result
	}

	var digest string
	if p.cache != nil {
		digest = cache.Digest(f.Lang(), f.content)
		res, ok, err := p.cache.Get(digest)
		if err != nil {
			p.logger.Debug("cache read failed", "path", f.path, "error", err)
		}
		if ok {
			f.result = res
			return res
		}
	}

	res := p.parser.Parse(ctx, f.path, f.content)
	if res.Degraded() {
		p.logger.Debug("degraded parse", "path", f.path, "outcome", res.Outcome.String(), "reason", res.Reason)
	}
	if p.cache != nil {
		if err := p.cache.Put(digest, res); err != nil {
			p.logger.Debug("cache write failed", "path", f.path, "error", err)
		}
	}
	f.result = res
	return res
}

// Save persists f's pending edits. The write goes to a temporary file in
// the same directory which is then renamed over the original, keeping
// its permissions.
func (p *Project) Save(f *File) error {
	if !f.Changed() {
		return nil
	}
	content := f.Render()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".tsmove-*")
	if err != nil {
		return fmt.Errorf("saving %s: %w", f.path, err)
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("saving %s: %w", f.path, err)
	}

	if _, err := tmp.Write(content); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(f.mode); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("saving %s: %w", f.path, err)
	}

	f.reset(content, f.mode)
	return nil
}

// Identifier returns a BLAKE3 digest over all loaded paths (relative to
// the root) and contents.
func (p *Project) Identifier() string {
	h := blake3.New(32, nil)
	for _, f := range p.Files() {
		rel, err := filepath.Rel(p.root, f.path)
		if err != nil {
			rel = f.path
		}
		h.Write([]byte(filepath.ToSlash(rel)))
		h.Write([]byte("\n"))
		h.Write(f.content)
		h.Write([]byte("\n"))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func readFile(path string) ([]byte, fs.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrFileGone, path)
		}
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%w: %s is a directory", ErrFileGone, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return content, info.Mode().Perm(), nil
}
