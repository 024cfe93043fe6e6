package move

import (
	"fmt"
	"os"
	"path/filepath"

	"tsmove/internal/ledger"
)

// Step is one operation of a plan together with the files it relocates.
type Step struct {
	Operation Operation
	// Entries lists every relocated file, depth-first for directories.
	Entries []ledger.Entry
	// Dirs lists source directories, parents before children.
	Dirs []string
	Err  error
}

// Plan is the validated expansion of a batch of operations.
type Plan struct {
	Steps  []Step
	Ledger *ledger.Ledger
	Policy Policy
}

// Failed returns the steps rejected during planning.
func (p *Plan) Failed() []Step {
	var out []Step
	for _, s := range p.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// BuildPlan validates each operation against the live filesystem and
// expands directories into per-file ledger entries. A rejected operation
// contributes nothing to the ledger; the others are unaffected. The
// filesystem is only read.
func BuildPlan(ops []Operation, opts Options) *Plan {
	plan := &Plan{
		Ledger: ledger.New(),
		Policy: opts.Policy(),
	}

	for _, op := range ops {
		op.Source = filepath.Clean(op.Source)
		op.Destination = filepath.Clean(op.Destination)

		step := Step{Operation: op}
		entries, dirs, err := plan.check(&step.Operation, opts)
		if err != nil {
			step.Err = opError("plan", step.Operation, err)
			plan.Steps = append(plan.Steps, step)
			continue
		}

		// All of a step's entries go in, or none do.
		tentative := plan.Ledger.Clone()
		for _, e := range entries {
			if err = tentative.Add(e.From, e.To); err != nil {
				break
			}
		}
		if err != nil {
			step.Err = opError("plan", step.Operation, err)
		} else {
			plan.Ledger = tentative
			step.Entries = entries
			step.Dirs = dirs
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}

func (p *Plan) check(op *Operation, opts Options) ([]ledger.Entry, []string, error) {
	info, err := os.Lstat(op.Source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("stat source: %w", err)
	}
	if op.Source == op.Destination {
		return nil, nil, ErrSameLocation
	}

	op.Kind = KindFile
	if info.IsDir() {
		op.Kind = KindDirectory
		if !opts.Recursive {
			return nil, nil, ErrRecursionNotPermitted
		}
		if within(op.Destination, op.Source) {
			return nil, nil, ErrIntoItself
		}
	}

	if p.Policy == PolicyFail && exists(op.Destination) {
		return nil, nil, ErrConflictExists
	}

	if op.Kind == KindFile {
		return []ledger.Entry{{From: op.Source, To: op.Destination}}, nil, nil
	}
	return expand(*op)
}

// expand enumerates a directory's files with an explicit stack, so deep
// trees never grow the call stack. Subdirectories are visited in name
// order, depth-first.
func expand(op Operation) ([]ledger.Entry, []string, error) {
	var entries []ledger.Entry
	var dirs []string

	stack := []string{op.Source}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		dirs = append(dirs, dir)

		children, err := os.ReadDir(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("reading directory %s: %w", dir, err)
		}

		var subdirs []string
		for _, child := range children {
			path := filepath.Join(dir, child.Name())
			if child.IsDir() {
				subdirs = append(subdirs, path)
				continue
			}
			rel, err := filepath.Rel(op.Source, path)
			if err != nil {
				return nil, nil, fmt.Errorf("re-rooting %s: %w", path, err)
			}
			entries = append(entries, ledger.Entry{From: path, To: filepath.Join(op.Destination, rel)})
		}
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return entries, dirs, nil
}
