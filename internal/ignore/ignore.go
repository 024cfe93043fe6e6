// Package ignore decides which project paths are left out of a scan,
// using gitignore-style patterns.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileName is the tool-specific ignore file read after .gitignore.
const FileName = ".tsmoveignore"

type rule struct {
	glob     string
	negate   bool
	dirOnly  bool
	anchored bool // leading / in the source line
}

// Matcher evaluates rules in order; the last matching rule wins.
type Matcher struct {
	rules []rule
}

// New creates a matcher from pattern lines.
func New(lines ...string) *Matcher {
	m := &Matcher{}
	for _, line := range lines {
		m.Add(line)
	}
	return m
}

// Load builds the matcher for a project root: built-in defaults, then
// .gitignore, then .tsmoveignore, then extra patterns (typically from
// tsmove.yaml). Later rules override earlier ones through negation.
func Load(root string, extra []string) (*Matcher, error) {
	m := New(Defaults...)
	for _, name := range []string{".gitignore", FileName} {
		if err := m.LoadFile(filepath.Join(root, name)); err != nil {
			return nil, err
		}
	}
	for _, line := range extra {
		m.Add(line)
	}
	return m, nil
}

// Add parses one gitignore line. Blank lines and comments are skipped.
func (m *Matcher) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var r rule
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = line[1:]
	}
	// A slash-free, unanchored pattern matches a base name at any depth.
	if !r.anchored && !strings.Contains(line, "/") {
		line = "**/" + line
	}
	r.glob = line
	m.rules = append(m.rules, r)
}

// LoadFile appends the rules of a gitignore-style file. A missing file
// is not an error.
func (m *Matcher) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.Add(scanner.Text())
	}
	return scanner.Err()
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	return len(m.rules)
}

// Match reports whether rel, a root-relative path, is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")

	ignored := false
	for _, r := range m.rules {
		var hit bool
		if r.dirOnly && !isDir {
			hit = underDir(r.glob, rel)
		} else {
			hit = matchGlob(r.glob, rel)
		}
		if hit {
			ignored = !r.negate
		}
	}
	return ignored
}

// underDir reports whether any proper parent of rel matches glob.
func underDir(glob, rel string) bool {
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if matchGlob(glob, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

func matchGlob(glob, rel string) bool {
	if ok, _ := doublestar.Match(glob, rel); ok {
		return true
	}
	// "node_modules" also covers everything below it.
	if !strings.HasSuffix(glob, "/**") {
		if ok, _ := doublestar.Match(glob+"/**", rel); ok {
			return true
		}
	}
	return false
}

// Defaults are skipped in every project: VCS metadata, dependency
// folders, build output and the tool's own state directory.
var Defaults = []string{
	".git/",
	".hg/",
	".svn/",
	".tsmove/",

	"node_modules/",
	"bower_components/",
	"jspm_packages/",
	".yarn/",
	".pnpm-store/",

	"dist/",
	"build/",
	"out/",
	"coverage/",
	".next/",
	".nuxt/",
	".svelte-kit/",
	".turbo/",
	".nx/",
	".cache/",
	".parcel-cache/",
	".vercel/",
	".netlify/",
	"storybook-static/",

	".DS_Store",
	"*.log",
	"*.tsbuildinfo",
}
