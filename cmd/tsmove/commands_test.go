package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootDir, verbose, noCache, jsonFlag, showDiffs = "", false, false, false, false
	mvForce, mvRecursive, mvDryRun, mvInteractive, mvGit = false, false, false, false, false
	cyclesFrom, aliasDryRun = "", false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

var cardFiles = map[string]string{
	"tsconfig.json":          `{"compilerOptions": {"baseUrl": ".", "paths": {"@/*": ["src/*"]}}}`,
	"src/utils/format.ts":    "export const formatCurrency = (n: number) => String(n);\n",
	"src/components/Card.ts": "import { formatCurrency } from '../utils/format';\n",
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "tsmove" {
		t.Errorf("expected Use 'tsmove', got %q", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("Short description should not be empty")
	}
	for _, name := range []string{"mv", "refs", "cycles", "alias", "cache", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("expected subcommand %q", name)
		}
	}
}

func TestMvCommandFlags(t *testing.T) {
	for flag, short := range map[string]string{
		"force":       "f",
		"recursive":   "r",
		"dry-run":     "n",
		"interactive": "i",
	} {
		f := mvCmd.Flags().Lookup(flag)
		if f == nil {
			t.Errorf("missing --%s", flag)
			continue
		}
		if f.Shorthand != short {
			t.Errorf("--%s: expected shorthand %q, got %q", flag, short, f.Shorthand)
		}
	}
	for _, flag := range []string{"json", "diff", "git"} {
		if mvCmd.Flags().Lookup(flag) == nil {
			t.Errorf("missing --%s", flag)
		}
	}
	if rootCmd.PersistentFlags().Lookup("verbose").Shorthand != "v" {
		t.Error("expected -v for --verbose")
	}
}

func TestMv(t *testing.T) {
	root := writeProject(t, cardFiles)

	out, err := execute(t, "mv", "--root", root,
		filepath.Join(root, "src", "utils", "format.ts"),
		filepath.Join(root, "src", "shared")+string(filepath.Separator))
	if err != nil {
		t.Fatalf("mv failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "src", "shared", "format.ts")); err != nil {
		t.Errorf("expected moved file: %v", err)
	}
	if got := readFile(t, filepath.Join(root, "src", "components", "Card.ts")); !strings.Contains(got, "'../shared/format'") {
		t.Errorf("Card.ts not rewritten: %q", got)
	}
	for _, want := range []string{"Moved src/utils/format.ts -> src/shared/format.ts", "src/components/Card.ts", "1 files rewritten"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMvDryRunJSON(t *testing.T) {
	root := writeProject(t, cardFiles)
	card := filepath.Join(root, "src", "components", "Card.ts")
	before := readFile(t, card)

	out, err := execute(t, "mv", "-n", "--json", "--no-cache", "--root", root,
		filepath.Join(root, "src", "utils", "format.ts"),
		filepath.Join(root, "src", "shared", "format.ts"))
	if err != nil {
		t.Fatalf("mv failed: %v", err)
	}

	var res struct {
		DryRun       bool `json:"dryRun"`
		FilesChanged int  `json:"filesChanged"`
		Ledger       []struct {
			To string `json:"to"`
		} `json:"ledger"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if !res.DryRun || res.FilesChanged != 1 || len(res.Ledger) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if readFile(t, card) != before {
		t.Error("dry run modified Card.ts")
	}
	if _, err := os.Stat(filepath.Join(root, ".tsmove")); !os.IsNotExist(err) {
		t.Error("--no-cache should not create the cache directory")
	}
}

func TestMvConflictFails(t *testing.T) {
	files := map[string]string{"src/shared/format.ts": "export {};\n"}
	for k, v := range cardFiles {
		files[k] = v
	}
	root := writeProject(t, files)

	out, err := execute(t, "mv", "--root", root,
		filepath.Join(root, "src", "utils", "format.ts"),
		filepath.Join(root, "src", "shared", "format.ts"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(out, "destination already exists") {
		t.Errorf("expected conflict in output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(root, "src", "utils", "format.ts")); err != nil {
		t.Error("source should still exist")
	}
}

func TestRefs(t *testing.T) {
	root := writeProject(t, cardFiles)

	out, err := execute(t, "refs", "--json", "--root", root, filepath.Join(root, "src", "components", "Card.ts"))
	if err != nil {
		t.Fatalf("refs failed: %v", err)
	}
	var refs refsOutput
	if err := json.Unmarshal([]byte(out), &refs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if refs.Outcome != "full" || len(refs.References) != 1 {
		t.Fatalf("unexpected refs: %+v", refs)
	}
	if got := refs.References[0].Target; got != "src/utils/format.ts" {
		t.Errorf("expected target src/utils/format.ts, got %q", got)
	}
}

func TestCycles(t *testing.T) {
	root := writeProject(t, map[string]string{
		"package.json": "{}",
		"a.ts":         "import './b';\n",
		"b.ts":         "import './a';\n",
		"c.ts":         "import './a';\n",
	})

	out, err := execute(t, "cycles", "--root", root)
	if !errors.Is(err, errCyclesFound) {
		t.Fatalf("expected errCyclesFound, got %v", err)
	}
	if !strings.Contains(out, "a.ts, b.ts") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = execute(t, "cycles", "--root", root, "--from", filepath.Join(root, "c.ts"))
	if err != nil {
		t.Fatalf("c.ts is not on a cycle: %v", err)
	}
	if !strings.Contains(out, "No dependency cycles.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestAlias(t *testing.T) {
	root := writeProject(t, cardFiles)
	card := filepath.Join(root, "src", "components", "Card.ts")

	out, err := execute(t, "alias", "--root", root, filepath.Join(root, "src", "**", "*.ts"))
	if err != nil {
		t.Fatalf("alias failed: %v", err)
	}
	if got := readFile(t, card); got != "import { formatCurrency } from '@/utils/format';\n" {
		t.Errorf("unexpected Card.ts: %q", got)
	}
	if !strings.Contains(out, "1 files rewritten") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestCacheCommands(t *testing.T) {
	root := writeProject(t, cardFiles)
	if _, err := execute(t, "refs", "--root", root, filepath.Join(root, "src", "components", "Card.ts")); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "cache", "stats", "--json", "--root", root)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"entries": 1`) {
		t.Errorf("expected one cache entry:\n%s", out)
	}

	if _, err := execute(t, "cache", "clear", "--root", root); err != nil {
		t.Fatal(err)
	}
	out, _ = execute(t, "cache", "stats", "--json", "--root", root)
	if !strings.Contains(out, `"entries": 0`) {
		t.Errorf("expected an empty cache:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "tsmove version "+Version+"\n" {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestUnifiedDiff(t *testing.T) {
	var buf bytes.Buffer
	before := "l1\nl2\nl3\nl4\nimport x from './a';\nl6\nl7\nl8\nl9\nl10\n"
	after := "l1\nl2\nl3\nl4\nimport x from '../b/a';\nl6\nl7\nl8\nl9\nl10\n"
	newReporter(&buf).unifiedDiff("src/x.ts", before, after)

	want := `--- a/src/x.ts
+++ b/src/x.ts
@@ -2,7 +2,7 @@
 l2
 l3
 l4
-import x from './a';
+import x from '../b/a';
 l6
 l7
 l8
`
	if buf.String() != want {
		t.Errorf("unexpected diff:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestPrompter(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := newPrompter(strings.NewReader(tt.input), &out).ConfirmOverwrite("/tmp/x.ts")
		if err != nil {
			t.Fatalf("%q: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.input, tt.want, got)
		}
		if !strings.Contains(out.String(), "overwrite") {
			t.Errorf("%q: no prompt written", tt.input)
		}
	}
}

func TestRelTo(t *testing.T) {
	root := filepath.FromSlash("/repo")
	if got := relTo(root, filepath.FromSlash("/repo/src/a.ts")); got != "src/a.ts" {
		t.Errorf("got %q", got)
	}
	if got := relTo(root, filepath.FromSlash("/elsewhere/a.ts")); got != filepath.FromSlash("/elsewhere/a.ts") {
		t.Errorf("got %q", got)
	}
}
