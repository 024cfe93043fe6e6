// Package ledger provides the rename ledger: the authoritative
// old-path to new-path map for one relocation run.
package ledger

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
)

var (
	// ErrDuplicateSource is returned when a path is already scheduled to move.
	ErrDuplicateSource = errors.New("source already in ledger")
	// ErrDuplicateTarget is returned when two sources would land on one path.
	ErrDuplicateTarget = errors.New("destination already claimed by another source")
	// ErrChainedMove is returned when a destination is also a source (or the
	// reverse) inside a single batch.
	ErrChainedMove = errors.New("chained move within one batch")
)

// Entry is a single relocation.
type Entry struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Ledger maps original absolute paths to new absolute paths.
// Keys are unique and so are values.
type Ledger struct {
	forward map[string]string
	reverse map[string]string
	order   []string
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
}

// Add records that from moves to to. Both paths are cleaned.
func (l *Ledger) Add(from, to string) error {
	from = filepath.Clean(from)
	to = filepath.Clean(to)

	if _, ok := l.forward[from]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, from)
	}
	if _, ok := l.reverse[to]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, to)
	}
	if _, ok := l.forward[to]; ok {
		return fmt.Errorf("%w: %s is also being moved", ErrChainedMove, to)
	}
	if _, ok := l.reverse[from]; ok {
		return fmt.Errorf("%w: %s is also a destination", ErrChainedMove, from)
	}

	l.forward[from] = to
	l.reverse[to] = from
	l.order = append(l.order, from)
	return nil
}

// Target returns where from was moved to.
func (l *Ledger) Target(from string) (string, bool) {
	to, ok := l.forward[filepath.Clean(from)]
	return to, ok
}

// Source returns the original path of a relocated file.
func (l *Ledger) Source(to string) (string, bool) {
	from, ok := l.reverse[filepath.Clean(to)]
	return from, ok
}

// Has reports whether path is a key of the ledger.
func (l *Ledger) Has(path string) bool {
	_, ok := l.forward[filepath.Clean(path)]
	return ok
}

// Locate returns the current location of path: its destination when it
// was moved, path itself otherwise.
func (l *Ledger) Locate(path string) string {
	if to, ok := l.Target(path); ok {
		return to
	}
	return filepath.Clean(path)
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.order)
}

// Entries returns the entries in insertion order.
func (l *Ledger) Entries() []Entry {
	entries := make([]Entry, 0, len(l.order))
	for _, from := range l.order {
		entries = append(entries, Entry{From: from, To: l.forward[from]})
	}
	return entries
}

// Sources returns all original paths, sorted.
func (l *Ledger) Sources() []string {
	out := make([]string, 0, len(l.order))
	out = append(out, l.order...)
	sort.Strings(out)
	return out
}

// Targets returns all destination paths, sorted.
func (l *Ledger) Targets() []string {
	out := make([]string, 0, len(l.order))
	for _, from := range l.order {
		out = append(out, l.forward[from])
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	out := New()
	for _, from := range l.order {
		to := l.forward[from]
		out.forward[from] = to
		out.reverse[to] = from
	}
	out.order = append(out.order, l.order...)
	return out
}

// Merge adds every entry of other. It stops at the first conflicting
// entry; entries added before the conflict are kept.
func (l *Ledger) Merge(other *Ledger) error {
	if other == nil {
		return nil
	}
	for _, e := range other.Entries() {
		if err := l.Add(e.From, e.To); err != nil {
			return err
		}
	}
	return nil
}

// Compose folds a later run's ledger into this one so that the result
// maps each original path to its final location. A file moved back to
// where it started is dropped.
func (l *Ledger) Compose(next *Ledger) *Ledger {
	out := New()
	consumed := make(map[string]bool)

	for _, e := range l.Entries() {
		final := e.To
		if to, ok := next.Target(e.To); ok {
			final = to
			consumed[e.To] = true
		}
		if final == e.From {
			continue
		}
		out.forward[e.From] = final
		out.reverse[final] = e.From
		out.order = append(out.order, e.From)
	}

	for _, e := range next.Entries() {
		if consumed[e.From] {
			continue
		}
		if _, ok := out.forward[e.From]; ok {
			continue
		}
		out.forward[e.From] = e.To
		out.reverse[e.To] = e.From
		out.order = append(out.order, e.From)
	}
	return out
}
