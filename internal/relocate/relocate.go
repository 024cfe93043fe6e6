// Package relocate is the move request interface: one Run moves files,
// rewrites every affected specifier and checks the result for cycles.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"tsmove/internal/cache"
	"tsmove/internal/config"
	"tsmove/internal/cycle"
	"tsmove/internal/gitio"
	"tsmove/internal/ignore"
	"tsmove/internal/ledger"
	"tsmove/internal/move"
	"tsmove/internal/parse"
	"tsmove/internal/project"
	"tsmove/internal/resolve"
	"tsmove/internal/update"
)

// WarnStageFailure reports a move that could not be staged in git.
const WarnStageFailure update.WarningKind = "stage-failure"

// RootMarkers identify a project root when none is given.
var RootMarkers = []string{"tsconfig.json", "jsconfig.json", "package.json", config.FileName, ".git"}

// Request is one invocation: either Sources and Destination with mv
// semantics, or explicit Operations.
type Request struct {
	Root        string
	Sources     []string
	Destination string
	Operations  []move.Operation
	Options     move.Options
}

// Result is returned for every Run that got as far as moving.
type Result struct {
	RunID        string              `json:"runId"`
	Root         string              `json:"root"`
	DryRun       bool                `json:"dryRun"`
	Ledger       []ledger.Entry      `json:"ledger"`
	Outcomes     []OutcomeReport     `json:"outcomes"`
	FilesChanged int                 `json:"filesChanged"`
	Files        []update.FileChange `json:"files"`
	Warnings     []update.Warning    `json:"warnings"`
	Cycle        []string            `json:"cycle,omitempty"`
	Staged       int                 `json:"staged,omitempty"`
	outcomes     []move.Outcome
}

// OutcomeReport is the serializable form of a move.Outcome.
type OutcomeReport struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Files       int    `json:"files"`
	Error       string `json:"error,omitempty"`
}

// Err joins the errors of every failed operation.
func (r *Result) Err() error {
	var errs []error
	for _, o := range r.outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// MoveOutcomes returns the per-operation outcomes.
func (r *Result) MoveOutcomes() []move.Outcome {
	return r.outcomes
}

// Engine runs relocations. The ledgers of successive runs are composed
// into a history for the lifetime of the engine.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	prompter move.Prompter
	noCache  bool
	stage    bool
	history  *ledger.Ledger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig uses cfg instead of loading tsmove.yaml from the root.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLogger sets the logger passed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithPrompter sets the prompter used under the interactive policy.
func WithPrompter(p move.Prompter) Option {
	return func(e *Engine) {
		e.prompter = p
	}
}

// WithoutCache disables the declaration cache regardless of config.
func WithoutCache() Option {
	return func(e *Engine) {
		e.noCache = true
	}
}

// WithGitStaging stages completed moves in git regardless of config.
func WithGitStaging() Option {
	return func(e *Engine) {
		e.stage = true
	}
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{history: ledger.New()}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// History returns every move made by this engine, composed so each
// original path maps to its current location.
func (e *Engine) History() *ledger.Ledger {
	return e.history.Clone()
}

// Env is what a run needs besides the moves: configuration and the
// loaded project. Commands other than mv use it too.
type Env struct {
	Config   *config.Config
	Project  *project.Project
	Resolver *resolve.Resolver
	cache    *cache.Store
}

// Close releases the declaration cache.
func (env *Env) Close() error {
	if env.cache == nil {
		return nil
	}
	return env.cache.Close()
}

// Edges resolves every relative specifier of every loaded file and
// returns the dependencies between loaded files.
func (env *Env) Edges(ctx context.Context) []cycle.Edge {
	var edges []cycle.Edge
	p := env.Project
	for _, f := range p.Files() {
		for _, d := range p.Analyze(ctx, f).Declarations {
			r, ok := env.Resolver.Resolve(f.Path(), d.Specifier, p)
			if ok && p.Has(r.Target) {
				edges = append(edges, cycle.Edge{From: f.Path(), To: r.Target})
			}
		}
	}
	return edges
}

// Open loads configuration and the project at root.
func (e *Engine) Open(root string) (*Env, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	cfg := e.cfg
	if cfg == nil {
		if cfg, err = config.Load(root); err != nil {
			return nil, err
		}
	}

	matcher, err := ignore.Load(root, cfg.Ignore)
	if err != nil {
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}
	env := &Env{Config: cfg, Resolver: resolve.New(cfg.Extensions)}
	opts := []project.Option{
		project.WithIgnore(matcher),
		project.WithResolver(env.Resolver),
		project.WithParser(parse.NewParser(cfg.Parse)),
		project.WithLogger(e.logger),
	}
	if cfg.Cache.Enabled && !e.noCache {
		store, err := cache.Open(root)
		if err != nil {
			e.logger.Warn("declaration cache unavailable", "error", err)
		} else {
			env.cache = store
			opts = append(opts, project.WithCache(store))
		}
	}

	env.Project, err = project.Open(root, opts...)
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// Run performs one relocation. The returned error covers problems with
// the request itself; per-operation failures are in Result.Err.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	ops := req.Operations
	if len(ops) == 0 {
		var err error
		if ops, err = move.NewOperations(req.Sources, req.Destination); err != nil {
			return nil, err
		}
	}

	root := req.Root
	if root == "" {
		root = FindRoot(filepath.Dir(ops[0].Source))
	}
	env, err := e.Open(root)
	if err != nil {
		return nil, err
	}
	defer env.Close()
	p := env.Project

	res := &Result{RunID: uuid.NewString(), Root: p.Root(), DryRun: req.Options.DryRun}
	log := e.logger.With("run", res.RunID)

	snapshot := p.Snapshot()
	plan := move.BuildPlan(ops, req.Options)
	exec := move.NewExecutor(plan.Policy, move.WithPrompter(e.prompter), move.WithLogger(log))
	applied, outcomes := exec.Execute(plan)
	res.outcomes = outcomes
	for _, o := range outcomes {
		rep := OutcomeReport{Source: o.Operation.Source, Destination: o.Operation.Destination, Files: len(o.Moved)}
		if o.Err != nil {
			rep.Error = o.Err.Error()
		}
		res.Outcomes = append(res.Outcomes, rep)
	}
	res.Ledger = applied.Entries()
	log.Debug("moves applied", "operations", len(ops), "files", applied.Len(), "policy", plan.Policy.String())

	sum := update.New(p, env.Resolver, update.Options{DryRun: req.Options.DryRun, Logger: log}).
		Run(ctx, applied, snapshot)
	res.FilesChanged = sum.FilesChanged
	res.Files = sum.Files
	res.Warnings = sum.Warnings

	if !req.Options.DryRun && applied.Len() > 0 && (e.stage || env.Config.Git.Stage) {
		res.Staged = e.stageMoves(p.Root(), applied, res, log)
	}

	res.Cycle = detectCycle(applied, sum)
	if len(res.Cycle) > 0 {
		log.Warn("dependency cycle through relocated files", "cycle", res.Cycle)
	}

	if !req.Options.DryRun {
		e.history = e.history.Compose(applied)
	}
	return res, nil
}

func (e *Engine) stageMoves(root string, applied *ledger.Ledger, res *Result, log *slog.Logger) int {
	repo, err := gitio.Open(root)
	if err != nil {
		res.Warnings = append(res.Warnings, update.Warning{Kind: WarnStageFailure, Path: root, Message: err.Error()})
		return 0
	}
	staged, errs := repo.Stage(applied.Entries())
	for _, err := range errs {
		res.Warnings = append(res.Warnings, update.Warning{Kind: WarnStageFailure, Path: root, Message: err.Error()})
	}
	log.Debug("staged moves", "count", len(staged))
	return len(staged)
}

// detectCycle looks for one cycle through the moved files or the files
// whose specifiers changed.
func detectCycle(applied *ledger.Ledger, sum *update.Summary) []string {
	touched := applied.Targets()
	for _, fc := range sum.Files {
		touched = append(touched, fc.Path)
	}
	if len(touched) == 0 {
		return nil
	}
	return cycle.NewGraph(sum.Edges).Restrict(touched).FindCycle(touched...)
}

// FindRoot returns the nearest directory at or above start holding one
// of RootMarkers, or start itself.
func FindRoot(start string) string {
	start, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for dir := start; ; {
		for _, m := range RootMarkers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}
