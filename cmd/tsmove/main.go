// Package main provides the tsmove CLI.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"tsmove/internal/alias"
	"tsmove/internal/cache"
	"tsmove/internal/config"
	"tsmove/internal/cycle"
	"tsmove/internal/move"
	"tsmove/internal/relocate"
	"tsmove/internal/update"
)

// Version is the current tsmove version
var Version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "tsmove",
	Short: "tsmove - move TypeScript and JavaScript modules without breaking imports",
	Long: `tsmove moves files and directories inside a TypeScript or JavaScript project
and rewrites every relative import and export specifier that pointed at them,
in the moved files and everywhere else.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command groups for organized help output
const (
	groupMove    = "move"
	groupInspect = "inspect"
)

var mvCmd = &cobra.Command{
	Use:   "mv <source>... <destination>",
	Short: "Move files or directories and rewrite references to them",
	Long: `Move files or directories like mv(1), then rewrite every relative specifier
affected by the move.

A destination that is an existing directory, or ends with a path separator,
receives each source under its own name. Directories require -r.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMv,
}

var refsCmd = &cobra.Command{
	Use:   "refs <file>",
	Short: "List the module references declared in a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefs,
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Find circular dependencies between project files",
	Args:  cobra.NoArgs,
	RunE:  runCycles,
}

var aliasCmd = &cobra.Command{
	Use:   "alias <file|pattern>...",
	Short: "Rewrite relative specifiers to the aliases in tsconfig paths",
	Long: `Rewrite relative specifiers in the given files to alias form, using the
baseUrl and paths of the project's tsconfig.json or jsconfig.json.
Arguments may be doublestar patterns such as 'src/**/*.ts'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAlias,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the declaration cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show declaration cache statistics",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached declaration list",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tsmove version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tsmove version %s\n", Version)
	},
}

var (
	// Global flags
	rootDir   string
	verbose   bool
	noCache   bool
	jsonFlag  bool
	showDiffs bool

	// mv flags
	mvForce       bool
	mvRecursive   bool
	mvDryRun      bool
	mvInteractive bool
	mvGit         bool

	// cycles flags
	cyclesFrom string

	// alias flags
	aliasDryRun bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Project root (default: nearest directory with tsconfig.json, package.json or .git)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "Do not read or write the declaration cache")

	mvCmd.Flags().BoolVarP(&mvForce, "force", "f", false, "Overwrite existing destination files")
	mvCmd.Flags().BoolVarP(&mvRecursive, "recursive", "r", false, "Allow moving directories")
	mvCmd.Flags().BoolVarP(&mvDryRun, "dry-run", "n", false, "Show what would change without touching any file")
	mvCmd.Flags().BoolVarP(&mvInteractive, "interactive", "i", false, "Ask before overwriting an existing file")
	mvCmd.Flags().BoolVar(&mvGit, "git", false, "Stage the moves in the git index")
	mvCmd.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")
	mvCmd.Flags().BoolVar(&showDiffs, "diff", false, "Show a unified diff of every rewritten file")

	refsCmd.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")

	cyclesCmd.Flags().StringVar(&cyclesFrom, "from", "", "Only look for a cycle through this file")
	cyclesCmd.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")

	aliasCmd.Flags().BoolVarP(&aliasDryRun, "dry-run", "n", false, "Show what would change without touching any file")
	aliasCmd.Flags().BoolVar(&showDiffs, "diff", false, "Show a unified diff of every rewritten file")
	aliasCmd.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")

	cacheStatsCmd.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)

	rootCmd.AddGroup(
		&cobra.Group{ID: groupMove, Title: "Moving:"},
		&cobra.Group{ID: groupInspect, Title: "Inspecting:"},
	)
	mvCmd.GroupID = groupMove
	aliasCmd.GroupID = groupMove
	refsCmd.GroupID = groupInspect
	cyclesCmd.GroupID = groupInspect
	cacheCmd.GroupID = groupInspect

	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(aliasCmd)
	rootCmd.AddCommand(refsCmd)
	rootCmd.AddCommand(cyclesCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newEngine(cmd *cobra.Command, extra ...relocate.Option) *relocate.Engine {
	opts := []relocate.Option{relocate.WithLogger(newLogger(cmd.ErrOrStderr()))}
	if noCache {
		opts = append(opts, relocate.WithoutCache())
	}
	return relocate.New(append(opts, extra...)...)
}

// projectRoot returns --root, or the root found from the working directory.
func projectRoot() (string, error) {
	if rootDir != "" {
		return filepath.Abs(rootDir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return relocate.FindRoot(wd), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runMv(cmd *cobra.Command, args []string) error {
	opts := move.Options{
		Force:       mvForce,
		Recursive:   mvRecursive,
		DryRun:      mvDryRun,
		Interactive: mvInteractive,
		Verbose:     verbose,
	}

	var extra []relocate.Option
	if mvInteractive {
		extra = append(extra, relocate.WithPrompter(newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())))
	}
	if mvGit {
		extra = append(extra, relocate.WithGitStaging())
	}
	engine := newEngine(cmd, extra...)

	root := ""
	if rootDir != "" {
		abs, err := filepath.Abs(rootDir)
		if err != nil {
			return err
		}
		root = abs
	}

	res, err := engine.Run(cmd.Context(), relocate.Request{
		Root:        root,
		Sources:     args[:len(args)-1],
		Destination: args[len(args)-1],
		Options:     opts,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonFlag {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		newReporter(out).result(res, showDiffs)
	}

	if err := res.Err(); err != nil {
		failed := 0
		for _, o := range res.MoveOutcomes() {
			if o.Err != nil {
				failed++
			}
		}
		return fmt.Errorf("%d of %d operations failed", failed, len(res.MoveOutcomes()))
	}
	return nil
}

type refsOutput struct {
	Path         string    `json:"path"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	References   []refLine `json:"references"`
	NodesVisited int       `json:"nodesVisited"`
}

type refLine struct {
	Line      int    `json:"line"`
	Kind      string `json:"kind"`
	Specifier string `json:"specifier"`
	Target    string `json:"target,omitempty"`
}

func runRefs(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	env, err := newEngine(cmd).Open(root)
	if err != nil {
		return err
	}
	defer env.Close()
	p := env.Project

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	f, ok := p.File(path)
	if !ok {
		if f, err = p.Track(path); err != nil {
			return err
		}
	}

	res := p.Analyze(cmd.Context(), f)
	out := refsOutput{
		Path:         relTo(root, path),
		Outcome:      res.Outcome.String(),
		Reason:       res.Reason,
		NodesVisited: res.NodesVisited,
		References:   []refLine{},
	}
	for _, d := range res.Declarations {
		line := refLine{Line: d.Line, Kind: d.Kind.String(), Specifier: d.Specifier}
		if r, ok := env.Resolver.Resolve(path, d.Specifier, p); ok && p.Has(r.Target) {
			line.Target = relTo(root, r.Target)
		}
		out.References = append(out.References, line)
	}

	if jsonFlag {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	newReporter(cmd.OutOrStdout()).refs(out)
	return nil
}

var errCyclesFound = errors.New("dependency cycles found")

func runCycles(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	env, err := newEngine(cmd).Open(root)
	if err != nil {
		return err
	}
	defer env.Close()

	g := cycle.NewGraph(env.Edges(cmd.Context()))
	var cycles [][]string
	if cyclesFrom != "" {
		from, err := filepath.Abs(cyclesFrom)
		if err != nil {
			return err
		}
		if c := g.Restrict([]string{from}).FindCycle(from); len(c) > 0 {
			cycles = append(cycles, c)
		}
	} else {
		cycles = g.Components()
	}

	rel := make([][]string, 0, len(cycles))
	for _, c := range cycles {
		names := make([]string, len(c))
		for i, path := range c {
			names[i] = relTo(root, path)
		}
		rel = append(rel, names)
	}
	sort.Slice(rel, func(i, j int) bool { return rel[i][0] < rel[j][0] })

	if jsonFlag {
		if err := writeJSON(cmd.OutOrStdout(), map[string]any{"cycles": rel}); err != nil {
			return err
		}
	} else {
		newReporter(cmd.OutOrStdout()).cycles(rel, cyclesFrom != "")
	}
	if len(rel) > 0 {
		return fmt.Errorf("%w: %d", errCyclesFound, len(rel))
	}
	return nil
}

func runAlias(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	engine := newEngine(cmd)
	env, err := engine.Open(root)
	if err != nil {
		return err
	}
	defer env.Close()

	desc, err := config.LoadDescriptor(root, env.Config.Project)
	if err != nil {
		return err
	}
	table := alias.NewTable(desc)
	if table.Len() == 0 && desc.BaseURL == "" {
		return fmt.Errorf("%s declares neither baseUrl nor paths", relTo(root, desc.Path))
	}

	patterns := make([]string, len(args))
	for i, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return err
		}
		patterns[i] = abs
	}
	files, err := alias.Expand(env.Project, patterns)
	if err != nil {
		return err
	}

	conv := alias.NewConverter(env.Project, table, aliasDryRun, newLogger(cmd.ErrOrStderr()))
	var changed []update.FileChange
	var failures int
	for _, f := range files {
		fc, err := conv.Convert(cmd.Context(), f)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			failures++
			continue
		}
		if fc != nil {
			changed = append(changed, *fc)
		}
	}

	if jsonFlag {
		if err := writeJSON(cmd.OutOrStdout(), map[string]any{"filesChanged": len(changed), "files": changed}); err != nil {
			return err
		}
	} else {
		newReporter(cmd.OutOrStdout()).aliases(root, changed, aliasDryRun, showDiffs)
	}
	if failures > 0 {
		return fmt.Errorf("%d files could not be saved", failures)
	}
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	store, err := cache.Open(root)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats()
	if err != nil {
		return err
	}
	if jsonFlag {
		return writeJSON(cmd.OutOrStdout(), st)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Entries:      %d\nDeclarations: %d\nPayload:      %d bytes\n",
		st.Entries, st.Declarations, st.PayloadBytes)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	store, err := cache.Open(root)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
	return nil
}

// relTo returns path relative to root with forward slashes, or path
// itself when it is not below root.
func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}
