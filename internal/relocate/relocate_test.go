package relocate

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsmove/internal/config"
	"tsmove/internal/cycle"
	"tsmove/internal/move"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".tsmove" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func card(t *testing.T) string {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"package.json":           "{}\n",
		"utils/format.ts":        "export const formatCurrency = (n: number) => `$${n}`;\n",
		"components/Card.ts":     "import {formatCurrency} from '../utils/format';\nexport const Card = () => formatCurrency(1);\n",
		"components/Price.tsx":   "import { Card } from './Card';\nimport * as lodash from 'lodash';\nimport { cfg } from '@/config';\n",
		"components/Summary.tsx": "export { Card } from \"./Card\";\n",
	})
	return root
}

func run(t *testing.T, e *Engine, root string, opts move.Options, sources []string, dest string) *Result {
	t.Helper()
	abs := make([]string, len(sources))
	for i, s := range sources {
		abs[i] = filepath.Join(root, filepath.FromSlash(s))
	}
	dst := filepath.Join(root, filepath.FromSlash(dest))
	if strings.HasSuffix(dest, "/") {
		dst += string(filepath.Separator)
	}
	res, err := e.Run(context.Background(), Request{
		Root:        root,
		Sources:     abs,
		Destination: dst,
		Options:     opts,
	})
	require.NoError(t, err)
	return res
}

func TestRun_CardExample(t *testing.T) {
	root := card(t)
	e := New()

	res := run(t, e, root, move.Options{}, []string{"utils/format.ts"}, "shared/")
	require.NoError(t, res.Err())

	assert.NoFileExists(t, filepath.Join(root, "utils", "format.ts"))
	assert.FileExists(t, filepath.Join(root, "shared", "format.ts"))
	data, err := os.ReadFile(filepath.Join(root, "components", "Card.ts"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "from '../shared/format'")

	assert.Equal(t, 1, res.FilesChanged)
	require.Len(t, res.Ledger, 1)
	assert.Equal(t, filepath.Join(root, "shared", "format.ts"), res.Ledger[0].To)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Cycle)
	assert.DirExists(t, filepath.Join(root, ".tsmove", "cache"))
}

func TestRun_DryRunExample(t *testing.T) {
	root := card(t)
	before := snapshot(t, root)

	res := run(t, New(), root, move.Options{DryRun: true}, []string{"utils/format.ts"}, "shared/")
	require.NoError(t, res.Err())

	assert.True(t, res.DryRun)
	require.Len(t, res.Ledger, 1)
	assert.Equal(t, filepath.Join(root, "shared", "format.ts"), res.Ledger[0].To)
	assert.Equal(t, 1, res.FilesChanged)
	assert.Equal(t, before, snapshot(t, root))
}

func TestRun_ConflictLeavesFilesystemUnchanged(t *testing.T) {
	root := card(t)
	writeFiles(t, root, map[string]string{"shared/format.ts": "export const other = 1;\n"})
	before := snapshot(t, root)

	res := run(t, New(), root, move.Options{}, []string{"utils/format.ts"}, "shared/format.ts")

	assert.ErrorIs(t, res.Err(), move.ErrConflictExists)
	assert.Equal(t, "shared/format.ts", filepath.ToSlash(mustRel(t, root, res.Outcomes[0].Destination)))
	assert.NotEmpty(t, res.Outcomes[0].Error)
	assert.Equal(t, 0, res.FilesChanged)
	assert.Equal(t, before, snapshot(t, root))
}

func TestRun_ForceOverwrites(t *testing.T) {
	root := card(t)
	writeFiles(t, root, map[string]string{"shared/format.ts": "export const other = 1;\n"})

	res := run(t, New(), root, move.Options{Force: true}, []string{"utils/format.ts"}, "shared/format.ts")
	require.NoError(t, res.Err())

	data, err := os.ReadFile(filepath.Join(root, "shared", "format.ts"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "formatCurrency")
}

func TestRun_RoundTripAndIdempotence(t *testing.T) {
	root := card(t)
	original := snapshot(t, root)
	e := New(WithoutCache())

	run(t, e, root, move.Options{}, []string{"components/Card.ts"}, "ui/cards/Card.ts")
	moved := snapshot(t, root)
	assert.Equal(t, "import { Card } from '../ui/cards/Card';\nimport * as lodash from 'lodash';\nimport { cfg } from '@/config';\n", moved["components/Price.tsx"])
	assert.Equal(t, "export { Card } from \"../ui/cards/Card\";\n", moved["components/Summary.tsx"])
	assert.Contains(t, moved["ui/cards/Card.ts"], "from '../../utils/format'")
	assert.Equal(t, 1, e.History().Len())

	// Nothing left to rewrite once every specifier is correct.
	res := run(t, e, root, move.Options{}, []string{"package.json"}, "package.json")
	assert.ErrorIs(t, res.Err(), move.ErrSameLocation)
	assert.Equal(t, 0, res.FilesChanged)
	assert.Equal(t, moved, snapshot(t, root))

	run(t, e, root, move.Options{}, []string{"ui/cards/Card.ts"}, "components/Card.ts")
	assert.Equal(t, original, snapshot(t, root))
	assert.Equal(t, 0, e.History().Len(), "a move back to the origin cancels out")
}

func TestRun_DirectoryRequiresRecursive(t *testing.T) {
	root := card(t)
	before := snapshot(t, root)

	res := run(t, New(), root, move.Options{}, []string{"components"}, "ui/components")
	assert.ErrorIs(t, res.Err(), move.ErrDirectoryRequiresRecursiveFlag)
	assert.Equal(t, before, snapshot(t, root))
}

func TestRun_DirectoryMove(t *testing.T) {
	root := card(t)

	res := run(t, New(), root, move.Options{Recursive: true}, []string{"components"}, "ui/components")
	require.NoError(t, res.Err())

	after := snapshot(t, root)
	assert.Equal(t, "import {formatCurrency} from '../../utils/format';\nexport const Card = () => formatCurrency(1);\n", after["ui/components/Card.ts"])
	assert.Equal(t, "import { Card } from './Card';\nimport * as lodash from 'lodash';\nimport { cfg } from '@/config';\n", after["ui/components/Price.tsx"])
	assert.Len(t, res.Ledger, 3)
	assert.NoDirExists(t, filepath.Join(root, "components"))
}

func TestRun_BatchFailureKeepsEarlierMoves(t *testing.T) {
	root := card(t)
	writeFiles(t, root, map[string]string{"lib/a.ts": "import { Card } from '../components/Card';\n"})

	res, err := New().Run(context.Background(), Request{
		Root: root,
		Operations: []move.Operation{
			{Source: filepath.Join(root, "utils", "format.ts"), Destination: filepath.Join(root, "shared", "format.ts")},
			{Source: filepath.Join(root, "missing.ts"), Destination: filepath.Join(root, "shared", "missing.ts")},
		},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, res.Err(), move.ErrNotFound)
	assert.Len(t, res.Ledger, 1)
	assert.FileExists(t, filepath.Join(root, "shared", "format.ts"))
	assert.Empty(t, res.Outcomes[0].Error)
	assert.NotEmpty(t, res.Outcomes[1].Error)
}

func TestRun_ReportsCycle(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.ts":     "import { b } from './b';\nexport const a = 1;\n",
		"b.ts":     "import { c } from './new/c';\nexport const b = 2;\n",
		"new/c.ts": "import { a } from '../a';\nexport const c = 3;\n",
	})

	res := run(t, New(), root, move.Options{}, []string{"new/c.ts"}, "c.ts")
	require.NoError(t, res.Err())

	require.NotEmpty(t, res.Cycle)
	assert.Equal(t, res.Cycle[0], res.Cycle[len(res.Cycle)-1])
	assert.ElementsMatch(t,
		[]string{filepath.Join(root, "a.ts"), filepath.Join(root, "b.ts"), filepath.Join(root, "c.ts")},
		res.Cycle[:len(res.Cycle)-1])
}

func TestRun_ReportsExistingCycleThroughMovedFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"x.ts": "import { y } from './y';\nexport const x = 1;\n",
		"y.ts": "import { x } from './x';\nexport const y = 2;\n",
	})
	var logs bytes.Buffer
	e := New(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	res := run(t, e, root, move.Options{}, []string{"x.ts", "y.ts"}, "lib/")
	require.NoError(t, res.Err())

	require.NotEmpty(t, res.Cycle)
	assert.Contains(t, logs.String(), "dependency cycle through relocated files")
	assert.NotContains(t, logs.String(), "introduced")
}

func TestRun_ExistingDirectoryDestinationConflicts(t *testing.T) {
	root := card(t)
	writeFiles(t, root, map[string]string{"ui/components/Other.ts": "export {};\n"})
	before := snapshot(t, root)

	res := run(t, New(), root, move.Options{Recursive: true}, []string{"components"}, "ui/components")
	assert.ErrorIs(t, res.Err(), move.ErrConflictExists)
	assert.Equal(t, before, snapshot(t, root))
}

func TestRun_ConfigDisablesCacheAndAddsIgnores(t *testing.T) {
	root := card(t)
	writeFiles(t, root, map[string]string{
		"generated/api.ts": "import { Card } from '../components/Card';\n",
	})
	cfg := config.Default()
	cfg.Cache.Enabled = false
	cfg.Ignore = []string{"generated/"}

	res := run(t, New(WithConfig(cfg)), root, move.Options{}, []string{"components/Card.ts"}, "ui/Card.ts")
	require.NoError(t, res.Err())

	assert.NoDirExists(t, filepath.Join(root, ".tsmove"))
	data, err := os.ReadFile(filepath.Join(root, "generated", "api.ts"))
	require.NoError(t, err)
	assert.Equal(t, "import { Card } from '../components/Card';\n", string(data))
}

func TestRun_BadRequest(t *testing.T) {
	_, err := New().Run(context.Background(), Request{Root: t.TempDir()})
	assert.Error(t, err)
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app/tsconfig.json":    "{}",
		"app/src/deep/file.ts": "",
	})
	assert.Equal(t, filepath.Join(root, "app"), FindRoot(filepath.Join(root, "app", "src", "deep")))
}

func mustRel(t *testing.T, root, path string) string {
	t.Helper()
	rel, err := filepath.Rel(root, path)
	require.NoError(t, err)
	return rel
}

func TestEnvEdges(t *testing.T) {
	root := card(t)
	env, err := New(WithoutCache()).Open(root)
	require.NoError(t, err)
	defer env.Close()

	edges := env.Edges(context.Background())
	assert.Len(t, edges, 3)
	assert.Contains(t, edges, cycle.Edge{
		From: filepath.Join(root, "components", "Card.ts"),
		To:   filepath.Join(root, "utils", "format.ts"),
	})
}
