// Package parse provides Tree-sitter based, crash-resistant extraction of
// module declarations (imports, re-exports, dynamic imports, require calls)
// from TypeScript and JavaScript sources.
package parse

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// DeclKind is the closed set of declaration kinds the parser reports.
type DeclKind uint8

const (
	KindImport        DeclKind = iota // import ... from 'x', import 'x', import x = require('x')
	KindExport                        // export ... from 'x'
	KindDynamicImport                 // import('x')
	KindRequire                       // require('x')
)

func (k DeclKind) String() string {
	switch k {
	case KindImport:
		return "import"
	case KindExport:
		return "export"
	case KindDynamicImport:
		return "dynamic-import"
	case KindRequire:
		return "require"
	}
	return "unknown"
}

// Declaration is one module reference found in a file.
// Start and End delimit the specifier text inside its quotes.
type Declaration struct {
	Kind      DeclKind `json:"kind"`
	Specifier string   `json:"specifier"`
	Start     uint32   `json:"start"`
	End       uint32   `json:"end"`
	Line      int      `json:"line"`
}

// Outcome tags how a Result was produced.
type Outcome uint8

const (
	// Full means the whole tree was walked within budget.
	Full Outcome = iota
	// Degraded means the walk stopped early or skipped complex nodes.
	Degraded
	// FallbackShallow means only top-level statements were inspected.
	FallbackShallow
)

func (o Outcome) String() string {
	switch o {
	case Full:
		return "full"
	case Degraded:
		return "degraded"
	case FallbackShallow:
		return "fallback-shallow"
	}
	return "unknown"
}

// Result is always well-formed, whatever happened during parsing.
type Result struct {
	Outcome         Outcome       `json:"outcome"`
	Declarations    []Declaration `json:"declarations"`
	NodesVisited    int           `json:"nodesVisited"`
	SkippedNodes    int           `json:"skippedNodes"`
	MaxDepthReached int           `json:"maxDepthReached"`
	TimedOut        bool          `json:"timedOut"`
	DepthLimited    bool          `json:"depthLimited"`
	Reason          string        `json:"reason,omitempty"`
}

// Degraded reports whether the result came from anything but a full walk.
func (r *Result) Degraded() bool {
	return r.Outcome != Full
}

// Imports returns import-like declarations (static, dynamic and require).
func (r *Result) Imports() []Declaration {
	var out []Declaration
	for _, d := range r.Declarations {
		if d.Kind != KindExport {
			out = append(out, d)
		}
	}
	return out
}

// Exports returns export declarations that carry a module specifier.
func (r *Result) Exports() []Declaration {
	var out []Declaration
	for _, d := range r.Declarations {
		if d.Kind == KindExport {
			out = append(out, d)
		}
	}
	return out
}

// Merge combines results. The outcome is the worst of the inputs.
func Merge(results ...*Result) *Result {
	merged := &Result{}
	var reasons []string
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Outcome > merged.Outcome {
			merged.Outcome = r.Outcome
		}
		merged.Declarations = append(merged.Declarations, r.Declarations...)
		merged.NodesVisited += r.NodesVisited
		merged.SkippedNodes += r.SkippedNodes
		if r.MaxDepthReached > merged.MaxDepthReached {
			merged.MaxDepthReached = r.MaxDepthReached
		}
		merged.TimedOut = merged.TimedOut || r.TimedOut
		merged.DepthLimited = merged.DepthLimited || r.DepthLimited
		if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	merged.Reason = strings.Join(reasons, "; ")
	return merged
}

// Parser wraps one Tree-sitter parser per grammar.
// It is not safe for concurrent use.
type Parser struct {
	tsParser  *sitter.Parser
	tsxParser *sitter.Parser
	jsParser  *sitter.Parser
	budget    Budget
}

// NewParser creates a parser for TypeScript, TSX and JavaScript.
func NewParser(budget Budget) *Parser {
	tsParser := sitter.NewParser()
	tsParser.SetLanguage(typescript.GetLanguage())

	tsxParser := sitter.NewParser()
	tsxParser.SetLanguage(tsx.GetLanguage())

	jsParser := sitter.NewParser()
	jsParser.SetLanguage(javascript.GetLanguage())

	return &Parser{
		tsParser:  tsParser,
		tsxParser: tsxParser,
		jsParser:  jsParser,
		budget:    budget.withDefaults(),
	}
}

// Budget returns the budget the parser enforces.
func (p *Parser) Budget() Budget {
	return p.budget
}

// Lang returns the grammar name used for a path.
func Lang(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx":
		return "tsx"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "js"
	default:
		return "ts"
	}
}

func (p *Parser) parserFor(lang string) *sitter.Parser {
	switch lang {
	case "tsx":
		return p.tsxParser
	case "js":
		return p.jsParser
	default:
		return p.tsParser
	}
}

// Parse extracts the declarations of one file. It never returns an error:
// failures degrade to a shallow pass and are described by the result.
func (p *Parser) Parse(ctx context.Context, path string, content []byte) *Result {
	start := time.Now()
	deadline := start.Add(p.budget.Timeout)

	if len(content) > p.budget.MaxFileBytes {
		return shallowText(content, fmt.Sprintf("file is %d bytes, limit %d", len(content), p.budget.MaxFileBytes))
	}

	parser := p.parserFor(Lang(path))
	pctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	tree, err := parser.ParseCtx(pctx, nil, content)
	if err != nil || tree == nil {
		parser.Reset()
		reason := "parser returned no tree"
		if err != nil {
			reason = fmt.Sprintf("parsing failed: %v", err)
		}
		return shallowText(content, reason)
	}
	defer tree.Close()

	return p.inspect(tree.RootNode(), content, time.Now().Add(p.budget.Timeout))
}

// inspect walks a parsed tree. A walk cut short by the deadline or the
// depth limit keeps what it found and is topped up with the top-level
// declarations of a shallow pass.
func (p *Parser) inspect(root *sitter.Node, content []byte, deadline time.Time) *Result {
	res, ok := p.safeWalk(root, content, deadline)
	if !ok {
		if res, ok := safeShallowTree(root, content); ok {
			return res
		}
		return shallowText(content, "syntax tree could not be inspected")
	}
	if res.TimedOut || res.DepthLimited {
		if top, ok := safeShallowTree(root, content); ok {
			res.absorb(top)
		}
		res.absorb(shallowText(content, ""))
	}
	return res
}

// absorb adds the declarations of other that r does not already hold.
func (r *Result) absorb(other *Result) {
	have := make(map[uint32]bool, len(r.Declarations))
	for _, d := range r.Declarations {
		have[d.Start] = true
	}
	for _, d := range other.Declarations {
		if !have[d.Start] {
			have[d.Start] = true
			r.Declarations = append(r.Declarations, d)
		}
	}
	sortDeclarations(r.Declarations)
}

// safeWalk runs the breadth-first walk, converting a panic into ok=false.
func (p *Parser) safeWalk(root *sitter.Node, content []byte, deadline time.Time) (res *Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			res, ok = nil, false
		}
	}()
	return p.walk(root, content, deadline), true
}

func sortDeclarations(decls []Declaration) {
	sort.SliceStable(decls, func(i, j int) bool {
		return decls[i].Start < decls[j].Start
	})
}
