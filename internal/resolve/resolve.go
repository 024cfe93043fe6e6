// Package resolve maps module specifiers to the files they reference.
package resolve

import (
	"path/filepath"
	"strings"
)

// DefaultExtensions are the recognized source extensions. The first one
// is the primary extension appended to extensionless specifiers.
var DefaultExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mts", ".cts", ".mjs", ".cjs"}

// counterparts maps an emitted-JavaScript extension to the TypeScript
// sources it may stand for.
var counterparts = map[string][]string{
	".js":  {".ts", ".tsx"},
	".jsx": {".tsx"},
	".mjs": {".mts"},
	".cjs": {".cts"},
}

// FileSet is a read-only view of the files known to exist.
type FileSet interface {
	Has(path string) bool
}

// Form records how a specifier was written.
type Form uint8

const (
	// FormBare is an extensionless specifier: './format'.
	FormBare Form = iota
	// FormExplicit carries an extension: './format.js'.
	FormExplicit
	// FormDirectory names a directory whose index file is the target: './utils'.
	FormDirectory
)

func (f Form) String() string {
	switch f {
	case FormBare:
		return "bare"
	case FormExplicit:
		return "explicit"
	case FormDirectory:
		return "directory"
	}
	return "unknown"
}

// Resolution is the outcome of resolving one specifier.
type Resolution struct {
	Target     string
	Form       Form
	WrittenExt string // extension as written, FormExplicit only
}

// Resolver is a pure function of its configuration and inputs.
type Resolver struct {
	extensions []string
}

// New creates a resolver. An empty list selects DefaultExtensions.
func New(extensions []string) *Resolver {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, strings.ToLower(e))
	}
	return &Resolver{extensions: exts}
}

// Extensions returns the recognized extensions in priority order.
func (r *Resolver) Extensions() []string {
	return r.extensions
}

// Primary returns the extension appended to extensionless specifiers.
func (r *Resolver) Primary() string {
	return r.extensions[0]
}

// Recognized reports whether path ends in a recognized extension and
// returns it.
func (r *Resolver) Recognized(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "", false
	}
	for _, e := range r.extensions {
		if e == ext {
			return filepath.Ext(path), true
		}
	}
	return "", false
}

// IsRelative reports whether spec starts with a relative-path marker.
func IsRelative(spec string) bool {
	return spec == "." || spec == ".." ||
		strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

// Resolve maps spec, written in declaringFile, to an absolute path.
// Non-relative specifiers are never resolved.
//
// With a nil file set the fixed rule applies: a recognized extension is
// kept, otherwise the primary extension is appended. With a file set the
// exact path, path plus each extension and path/index plus each
// extension are tried first, in that order.
func (r *Resolver) Resolve(declaringFile, spec string, known FileSet) (Resolution, bool) {
	if !IsRelative(spec) {
		return Resolution{}, false
	}
	base := filepath.Join(filepath.Dir(declaringFile), filepath.FromSlash(spec))
	written, hasExt := r.Recognized(base)

	if known != nil {
		if res, ok := r.probe(base, written, hasExt, known); ok {
			return res, true
		}
	}

	if hasExt {
		return Resolution{Target: base, Form: FormExplicit, WrittenExt: written}, true
	}
	return Resolution{Target: base + r.Primary(), Form: FormBare}, true
}

func (r *Resolver) probe(base, written string, hasExt bool, known FileSet) (Resolution, bool) {
	if known.Has(base) {
		return Resolution{Target: base, Form: FormExplicit, WrittenExt: filepath.Ext(base)}, true
	}
	if hasExt {
		stem := strings.TrimSuffix(base, written)
		for _, ext := range counterparts[strings.ToLower(written)] {
			if known.Has(stem + ext) {
				return Resolution{Target: stem + ext, Form: FormExplicit, WrittenExt: written}, true
			}
		}
	}
	for _, ext := range r.extensions {
		if known.Has(base + ext) {
			return Resolution{Target: base + ext, Form: FormBare}, true
		}
	}
	for _, ext := range r.extensions {
		index := filepath.Join(base, "index"+ext)
		if known.Has(index) {
			return Resolution{Target: index, Form: FormDirectory}, true
		}
	}
	return Resolution{}, false
}

// EmittedExtension returns the extension a specifier of the given
// written extension should carry when it targets a file with targetExt.
func EmittedExtension(written, targetExt string) string {
	if strings.EqualFold(written, targetExt) {
		return written
	}
	for _, ext := range counterparts[strings.ToLower(written)] {
		if strings.EqualFold(ext, targetExt) {
			return written
		}
	}
	return targetExt
}

// Paths is a FileSet backed by a map.
type Paths map[string]bool

// NewPaths builds a Paths set from cleaned paths.
func NewPaths(paths ...string) Paths {
	p := make(Paths, len(paths))
	for _, path := range paths {
		p.Add(path)
	}
	return p
}

// Add inserts path.
func (p Paths) Add(path string) {
	p[filepath.Clean(path)] = true
}

// Has reports whether path is in the set.
func (p Paths) Has(path string) bool {
	return p[filepath.Clean(path)]
}
