// Package specifier computes relative module specifiers between files.
package specifier

import (
	"fmt"
	"path/filepath"
	"strings"

	"tsmove/internal/resolve"
)

// Relative returns the specifier that reaches target from fromFile:
// the relative path from fromFile's directory with any recognized
// extension stripped, forward slashes, and a leading ./ or ../.
func Relative(fromFile, target string, r *resolve.Resolver) (string, error) {
	rel, err := relPath(fromFile, target)
	if err != nil {
		return "", err
	}
	if ext, ok := r.Recognized(rel); ok {
		rel = strings.TrimSuffix(rel, ext)
	}
	return normalize(rel), nil
}

// Render returns the specifier for target from fromFile, keeping the form
// the original specifier was written in.
func Render(fromFile, target string, res resolve.Resolution, r *resolve.Resolver) (string, error) {
	switch res.Form {
	case resolve.FormDirectory:
		if isIndex(target, r) {
			rel, err := relPath(fromFile, filepath.Dir(target))
			if err != nil {
				return "", err
			}
			return normalize(rel), nil
		}
	case resolve.FormExplicit:
		rel, err := relPath(fromFile, target)
		if err != nil {
			return "", err
		}
		targetExt := filepath.Ext(target)
		rel = strings.TrimSuffix(rel, targetExt) + resolve.EmittedExtension(res.WrittenExt, targetExt)
		return normalize(rel), nil
	}
	return Relative(fromFile, target, r)
}

func relPath(fromFile, target string) (string, error) {
	rel, err := filepath.Rel(filepath.Dir(fromFile), target)
	if err != nil {
		return "", fmt.Errorf("computing path from %s to %s: %w", fromFile, target, err)
	}
	return filepath.ToSlash(rel), nil
}

func normalize(rel string) string {
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return rel
	}
	return "./" + rel
}

func isIndex(target string, r *resolve.Resolver) bool {
	base := filepath.Base(target)
	ext, ok := r.Recognized(base)
	return ok && strings.TrimSuffix(base, ext) == "index"
}
