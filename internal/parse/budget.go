package parse

import (
	"bytes"
	"time"
)

// Budget bounds a single file's traversal.
type Budget struct {
	MaxDepth        int           `yaml:"maxDepth"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxSkippedNodes int           `yaml:"maxSkippedNodes"`

	// Complexity heuristics. A node tripping any of them is skipped.
	MaxNodeBytes         int `yaml:"maxNodeBytes"`
	MaxBraceNesting      int `yaml:"maxBraceNesting"`
	MaxAttributesPerLine int `yaml:"maxAttributesPerLine"`

	// Files larger than this never reach the syntax-tree parser.
	MaxFileBytes int `yaml:"maxFileBytes"`
}

// DefaultBudget returns the fixed defaults.
func DefaultBudget() Budget {
	return Budget{
		MaxDepth:             256,
		Timeout:              5 * time.Second,
		MaxSkippedNodes:      1000,
		MaxNodeBytes:         256 * 1024,
		MaxBraceNesting:      64,
		MaxAttributesPerLine: 24,
		MaxFileBytes:         8 * 1024 * 1024,
	}
}

func (b Budget) withDefaults() Budget {
	d := DefaultBudget()
	if b.MaxDepth <= 0 {
		b.MaxDepth = d.MaxDepth
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	if b.MaxSkippedNodes <= 0 {
		b.MaxSkippedNodes = d.MaxSkippedNodes
	}
	if b.MaxNodeBytes <= 0 {
		b.MaxNodeBytes = d.MaxNodeBytes
	}
	if b.MaxBraceNesting <= 0 {
		b.MaxBraceNesting = d.MaxBraceNesting
	}
	if b.MaxAttributesPerLine <= 0 {
		b.MaxAttributesPerLine = d.MaxAttributesPerLine
	}
	if b.MaxFileBytes <= 0 {
		b.MaxFileBytes = d.MaxFileBytes
	}
	return b
}

// literalTypes are the node types the complexity heuristics look at.
var literalTypes = map[string]bool{
	"object":                   true,
	"array":                    true,
	"template_string":          true,
	"jsx_element":              true,
	"jsx_self_closing_element": true,
	"jsx_fragment":             true,
}

var jsxTypes = map[string]bool{
	"jsx_element":              true,
	"jsx_self_closing_element": true,
	"jsx_fragment":             true,
}

// complexReason returns a non-empty reason when text of a node of the
// given type should not be descended into. parentType is used so nested
// literals are only measured once, at their outermost node.
func (b Budget) complexReason(nodeType, parentType string, text []byte) string {
	if !literalTypes[nodeType] {
		return ""
	}
	if len(text) > b.MaxNodeBytes {
		return "oversized"
	}
	if literalTypes[parentType] {
		return ""
	}
	if (nodeType == "object" || nodeType == "array") && braceNesting(text) > b.MaxBraceNesting {
		return "deeply nested literal"
	}
	if jsxTypes[nodeType] && attributesPerLine(text) > b.MaxAttributesPerLine {
		return "attribute density"
	}
	return ""
}

// braceNesting returns the deepest {}/[] nesting in text, ignoring quotes.
func braceNesting(text []byte) int {
	depth, deepest := 0, 0
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{', '[':
			depth++
			if depth > deepest {
				deepest = depth
			}
		case '}', ']':
			if depth > 0 {
				depth--
			}
		}
	}
	return deepest
}

// attributesPerLine estimates inline JSX attribute density: the count of
// attr= assignments followed by a value opener, per line.
func attributesPerLine(text []byte) int {
	attrs := 0
	for i := 0; i+1 < len(text); i++ {
		if text[i] != '=' {
			continue
		}
		switch text[i+1] {
		case '{', '"', '\'':
			attrs++
		}
	}
	lines := bytes.Count(text, []byte{'\n'}) + 1
	return attrs / lines
}
