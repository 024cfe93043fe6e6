package parse

import (
	"regexp"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// safeShallowTree inspects only the root's direct children.
func safeShallowTree(root *sitter.Node, content []byte) (res *Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			res, ok = nil, false
		}
	}()

	res = &Result{
		Outcome:         FallbackShallow,
		MaxDepthReached: 1,
		Reason:          "syntax tree walk failed; top-level statements only",
	}
	count := int(root.NamedChildCount())
	for i := 0; i < count; i++ {
		child := root.NamedChild(i)
		if child == nil {
			continue
		}
		res.NodesVisited++
		switch child.Type() {
		case "import_statement", "export_statement":
			if decl, _ := classify(child, content); decl != nil {
				res.Declarations = append(res.Declarations, *decl)
			}
		}
	}
	sortDeclarations(res.Declarations)
	return res, true
}

var (
	fromClausePattern = regexp.MustCompile(`\b(import|export)\s+((?:[\w$*\s,]|\{[^{}]*\})*?)\s*\bfrom\s*(['"])([^'"\r\n]*)['"]`)
	bareImportPattern = regexp.MustCompile(`\bimport\s*(['"])([^'"\r\n]*)['"]`)
	callPattern       = regexp.MustCompile(`\b(require|import)\s*\(\s*(['"])([^'"\r\n]*)['"]\s*\)`)
)

// shallowText is the no-tree fallback: it scans the raw text for
// declarations whose keyword sits in a top-level statement, outside
// comments, strings and braces.
func shallowText(content []byte, reason string) *Result {
	res := &Result{
		Outcome:         FallbackShallow,
		MaxDepthReached: 1,
		Reason:          reason,
	}
	nested := nestedSpans(content)
	lines := lineStarts(content)
	seen := make(map[uint32]bool)

	add := func(kind DeclKind, keyword, specStart, specEnd int) {
		if inSpans(nested, keyword) || seen[uint32(specStart)] {
			return
		}
		seen[uint32(specStart)] = true
		res.Declarations = append(res.Declarations, Declaration{
			Kind:      kind,
			Specifier: string(content[specStart:specEnd]),
			Start:     uint32(specStart),
			End:       uint32(specEnd),
			Line:      lineOf(lines, specStart),
		})
	}

	for _, m := range fromClausePattern.FindAllSubmatchIndex(content, -1) {
		kind := KindImport
		if string(content[m[2]:m[3]]) == "export" {
			kind = KindExport
		}
		add(kind, m[0], m[8], m[9])
	}
	for _, m := range bareImportPattern.FindAllSubmatchIndex(content, -1) {
		add(KindImport, m[0], m[4], m[5])
	}
	for _, m := range callPattern.FindAllSubmatchIndex(content, -1) {
		kind := KindRequire
		if string(content[m[2]:m[3]]) == "import" {
			kind = KindDynamicImport
		}
		add(kind, m[0], m[6], m[7])
	}

	res.NodesVisited = len(res.Declarations)
	sortDeclarations(res.Declarations)
	return res
}

// span is a half-open byte range [start, end).
type span struct {
	start, end int
}

// nestedSpans returns the sorted, non-overlapping ranges that are not
// top-level code: comments, string and template literals, and anything
// inside braces.
func nestedSpans(src []byte) []span {
	var spans []span
	depth := 0
	braceStart := 0

	mark := func(start, end int) {
		if depth > 0 {
			return // already covered by the enclosing brace span
		}
		spans = append(spans, span{start, end})
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			start := i
			for i < len(src) && src[i] != '\n' {
				i++
			}
			mark(start, i)
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			start := i
			i += 2
			for i+1 < len(src) && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i++
			mark(start, i+1)
		case c == '"' || c == '\'' || c == '`':
			start := i
			i++
			for i < len(src) && src[i] != c {
				if src[i] == '\\' {
					i++
				} else if c != '`' && src[i] == '\n' {
					break
				}
				i++
			}
			mark(start, i+1)
		case c == '{':
			if depth == 0 {
				braceStart = i
			}
			depth++
		case c == '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					spans = append(spans, span{braceStart, i + 1})
				}
			}
		}
	}
	if depth > 0 {
		spans = append(spans, span{braceStart, len(src)})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

func inSpans(spans []span, offset int) bool {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].end > offset })
	return i < len(spans) && spans[i].start <= offset
}

func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, c := range src {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func lineOf(starts []int, offset int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > offset })
}
