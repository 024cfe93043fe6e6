// Package move turns move requests into a rename ledger and carries them
// out on the filesystem under a conflict policy.
package move

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind distinguishes file and directory operations.
type Kind uint8

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Operation is one requested move. Paths are absolute and cleaned.
type Operation struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Kind        Kind   `json:"kind"`
}

func (op Operation) String() string {
	return fmt.Sprintf("%s -> %s", op.Source, op.Destination)
}

// Policy governs what happens when a destination already exists.
type Policy uint8

const (
	PolicyFail Policy = iota
	PolicyForce
	PolicyInteractive
	PolicyDryRun
)

func (p Policy) String() string {
	switch p {
	case PolicyFail:
		return "fail"
	case PolicyForce:
		return "force"
	case PolicyInteractive:
		return "interactive"
	case PolicyDryRun:
		return "dry-run"
	}
	return "unknown"
}

// Options is the option bag of a move request.
type Options struct {
	Force       bool `json:"force"`
	Recursive   bool `json:"recursive"`
	DryRun      bool `json:"dryRun"`
	Interactive bool `json:"interactive"`
	Verbose     bool `json:"verbose"`
}

// Policy derives the conflict policy. Dry-run wins over everything, then
// force, then interactive.
func (o Options) Policy() Policy {
	switch {
	case o.DryRun:
		return PolicyDryRun
	case o.Force:
		return PolicyForce
	case o.Interactive:
		return PolicyInteractive
	default:
		return PolicyFail
	}
}

// NewOperation builds an operation with mv-style destination handling:
// when dest is an existing directory, or ends in a separator, the source
// is placed inside it under its own base name. A missing source is not
// an error here; the plan reports it.
func NewOperation(source, dest string) (Operation, error) {
	src, err := filepath.Abs(source)
	if err != nil {
		return Operation{}, fmt.Errorf("resolving %s: %w", source, err)
	}
	dst, err := filepath.Abs(dest)
	if err != nil {
		return Operation{}, fmt.Errorf("resolving %s: %w", dest, err)
	}

	if hasTrailingSeparator(dest) || isDir(dst) {
		dst = filepath.Join(dst, filepath.Base(src))
	}

	op := Operation{Source: src, Destination: dst, Kind: KindFile}
	if isDir(src) {
		op.Kind = KindDirectory
	}
	return op, nil
}

// NewOperations expands `mv src... dest`. More than one source requires
// dest to be a directory, existing or spelled with a trailing separator.
func NewOperations(sources []string, dest string) ([]Operation, error) {
	if len(sources) == 0 {
		return nil, errors.New("no source given")
	}
	if len(sources) > 1 {
		abs, err := filepath.Abs(dest)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", dest, err)
		}
		if !hasTrailingSeparator(dest) && !isDir(abs) {
			return nil, fmt.Errorf("%w: %s", ErrDestinationNotDirectory, dest)
		}
		if !hasTrailingSeparator(dest) {
			dest += string(filepath.Separator)
		}
	}

	ops := make([]Operation, 0, len(sources))
	for _, s := range sources {
		op, err := NewOperation(s, dest)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func hasTrailingSeparator(path string) bool {
	return strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// within reports whether path is root or lies below it.
func within(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
