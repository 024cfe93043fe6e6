package move

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"tsmove/internal/ledger"
)

// Prompter asks the user whether an occupied destination may be replaced.
type Prompter interface {
	ConfirmOverwrite(path string) (bool, error)
}

// Outcome is the result of executing one step.
type Outcome struct {
	Operation Operation      `json:"operation"`
	Moved     []ledger.Entry `json:"moved"`
	Replaced  []string       `json:"replaced,omitempty"`
	DryRun    bool           `json:"dryRun,omitempty"`
	Err       error          `json:"-"`
}

// Executor performs planned moves on the filesystem.
type Executor struct {
	policy   Policy
	prompter Prompter
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPrompter sets the prompter used under PolicyInteractive.
func WithPrompter(p Prompter) ExecutorOption {
	return func(x *Executor) {
		x.prompter = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(x *Executor) {
		x.logger = l
	}
}

// NewExecutor creates an executor for the given policy.
func NewExecutor(policy Policy, opts ...ExecutorOption) *Executor {
	x := &Executor{policy: policy, logger: slog.Default()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs every step in order and returns the ledger of files that
// actually moved (or would move, under dry-run). A failed step stops
// there; moves completed before it, in the same step or earlier ones,
// are kept.
func (x *Executor) Execute(plan *Plan) (*ledger.Ledger, []Outcome) {
	applied := ledger.New()
	outcomes := make([]Outcome, 0, len(plan.Steps))

	for _, step := range plan.Steps {
		out := x.run(step)
		for _, e := range out.Moved {
			if err := applied.Add(e.From, e.To); err != nil {
				x.logger.Warn("inconsistent move result", "from", e.From, "to", e.To, "error", err)
			}
		}
		if out.Err != nil {
			x.logger.Debug("operation failed", "op", step.Operation.String(), "error", out.Err)
		}
		outcomes = append(outcomes, out)
	}
	return applied, outcomes
}

func (x *Executor) run(step Step) Outcome {
	op := step.Operation
	out := Outcome{Operation: op}
	if step.Err != nil {
		out.Err = step.Err
		return out
	}

	// pending -> conflict check
	if !exists(op.Source) {
		out.Err = opError("move", op, ErrNotFound)
		return out
	}
	if x.policy == PolicyDryRun {
		out.DryRun = true
		out.Moved = append(out.Moved, step.Entries...)
		return out
	}
	if x.policy == PolicyFail && exists(op.Destination) {
		out.Err = opError("move", op, ErrConflictExists)
		return out
	}

	if op.Kind == KindDirectory {
		for _, dir := range step.Dirs {
			rel, err := filepath.Rel(op.Source, dir)
			if err != nil {
				out.Err = opError("move", op, err)
				return out
			}
			if err := mkdirLike(filepath.Join(op.Destination, rel), dir); err != nil {
				out.Err = opError("move", op, err)
				return out
			}
		}
	}

	for _, e := range step.Entries {
		replaced, err := x.clear(e.To)
		if err != nil {
			out.Err = &OpError{Op: "move", Source: e.From, Destination: e.To, Err: err}
			return out
		}
		if replaced {
			out.Replaced = append(out.Replaced, e.To)
		}
		if err := moveFile(e.From, e.To); err != nil {
			out.Err = &OpError{Op: "move", Source: e.From, Destination: e.To, Err: err}
			return out
		}
		x.logger.Debug("moved", "from", e.From, "to", e.To)
		out.Moved = append(out.Moved, e)
	}

	// Children are gone; remove the emptied directories bottom-up.
	for i := len(step.Dirs) - 1; i >= 0; i-- {
		if err := os.Remove(step.Dirs[i]); err != nil {
			x.logger.Warn("source directory not removed", "dir", step.Dirs[i], "error", err)
		}
	}
	return out
}

// clear makes room for a file at dst according to the policy. It reports
// whether an existing file was removed.
func (x *Executor) clear(dst string) (bool, error) {
	info, err := os.Lstat(dst)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat destination: %w", err)
	}

	switch x.policy {
	case PolicyForce:
	case PolicyInteractive:
		if x.prompter == nil {
			return false, ErrConflictExists
		}
		ok, err := x.prompter.ConfirmOverwrite(dst)
		if err != nil {
			return false, fmt.Errorf("prompt: %w", err)
		}
		if !ok {
			return false, ErrDeclined
		}
	default:
		return false, ErrConflictExists
	}

	if info.IsDir() {
		return false, fmt.Errorf("%w: %s is a directory", ErrConflictExists, dst)
	}
	if err := os.Remove(dst); err != nil {
		return false, fmt.Errorf("removing %s: %w", dst, err)
	}
	return true, nil
}

func mkdirLike(dst, src string) error {
	mode := os.FileMode(0o755)
	if info, err := os.Stat(src); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(dst, mode); err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	return nil
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
