package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsmove/internal/parse"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, parse.DefaultBudget(), cfg.Parse)
}

func TestLoad_OverridesOnlyPresentKeys(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, FileName), `
extensions: [.ts, .tsx]
ignore:
  - "dist/"
  - "**/*.generated.ts"
parse:
  maxDepth: 64
  timeout: 250ms
cache:
  enabled: false
git:
  stage: true
project: config/tsconfig.app.json
`)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, []string{".ts", ".tsx"}, cfg.Extensions)
	assert.Equal(t, []string{"dist/", "**/*.generated.ts"}, cfg.Ignore)
	assert.Equal(t, 64, cfg.Parse.MaxDepth)
	assert.Equal(t, 250*time.Millisecond, cfg.Parse.Timeout)
	assert.Equal(t, parse.DefaultBudget().MaxSkippedNodes, cfg.Parse.MaxSkippedNodes)
	assert.False(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Git.Stage)
	assert.Equal(t, "config/tsconfig.app.json", cfg.Project)
}

func TestLoad_Errors(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, FileName), "parse: [not, a, map]\n")
	_, err := Load(root)
	assert.Error(t, err)

	write(t, filepath.Join(root, FileName), "parse:\n  maxDepth: -1\n")
	_, err = Load(root)
	assert.ErrorContains(t, err, "must not be negative")

	write(t, filepath.Join(root, FileName), "extensions: [\".\"]\n")
	_, err = Load(root)
	assert.ErrorContains(t, err, "empty entry")
}

func TestStripJSONC(t *testing.T) {
	in := `{
  // line comment
  "a": "http://x/*not a comment*/", /* block */
  "b": [1, 2,], // trailing comma
  "c": {"d": "\"//\"",},
}`
	var got struct {
		A string
		B []int
		C map[string]string
	}
	require.NoError(t, json.Unmarshal(StripJSONC([]byte(in)), &got))
	assert.Equal(t, "http://x/*not a comment*/", got.A)
	assert.Equal(t, []int{1, 2}, got.B)
	assert.Equal(t, `"//"`, got.C["d"])
}

func TestLoadDescriptor(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "tsconfig.base.json"), `{
  "compilerOptions": {
    "baseUrl": "./src",
    "paths": { "@old/*": ["legacy/*"] }
  }
}`)
	write(t, filepath.Join(root, "tsconfig.json"), `{
  // app config
  "extends": "./tsconfig.base",
  "compilerOptions": {
    "paths": {
      "@app/*": ["app/*"],
      "@shared": ["shared/index.ts"],
    },
  },
}`)

	d, err := LoadDescriptor(root, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "tsconfig.json"), d.Path)
	assert.Equal(t, filepath.Join(root, "src"), d.BaseURL)
	assert.Equal(t, filepath.Join(root, "src"), d.PathsBase)
	assert.Equal(t, map[string][]string{
		"@app/*":  {"app/*"},
		"@shared": {"shared/index.ts"},
	}, d.Paths)
}

func TestLoadDescriptor_PathsWithoutBaseURL(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "jsconfig.json"), `{"extends": "@tsconfig/node20", "compilerOptions": {"paths": {"~/*": ["./lib/*"]}}}`)

	d, err := LoadDescriptor(root, "")
	require.NoError(t, err)
	assert.Empty(t, d.BaseURL)
	assert.Equal(t, root, d.PathsBase)
	assert.Equal(t, []string{"./lib/*"}, d.Paths["~/*"])
}

func TestLoadDescriptor_Missing(t *testing.T) {
	_, err := LoadDescriptor(t.TempDir(), "")
	assert.ErrorIs(t, err, ErrNoDescriptor)
}

func TestLoadDescriptor_ExtendsCycle(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.json"), `{"extends": "./b.json"}`)
	write(t, filepath.Join(root, "b.json"), `{"extends": "./a.json"}`)

	_, err := LoadDescriptor(root, "a.json")
	assert.ErrorContains(t, err, "too deep")
}
