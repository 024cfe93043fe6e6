package parse

import (
	"fmt"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
)

// deadlineStride is how many nodes are visited between clock reads.
const deadlineStride = 64

type queued struct {
	node  *sitter.Node
	depth int
}

// walk visits the tree breadth-first using an explicit queue, so its
// memory is bounded by the widest level rather than the call stack.
func (p *Parser) walk(root *sitter.Node, content []byte, deadline time.Time) *Result {
	res := &Result{Outcome: Full}
	queue := []queued{{node: root, depth: 0}}

	for head := 0; head < len(queue); head++ {
		item := queue[head]
		queue[head] = queued{}

		if res.NodesVisited%deadlineStride == 0 && time.Now().After(deadline) {
			res.Outcome = Degraded
			res.TimedOut = true
			res.Reason = fmt.Sprintf("traversal exceeded %s", p.budget.Timeout)
			break
		}
		if item.depth > p.budget.MaxDepth {
			res.Outcome = Degraded
			res.DepthLimited = true
			res.Reason = fmt.Sprintf("nesting deeper than %d", p.budget.MaxDepth)
			break
		}

		res.NodesVisited++
		if item.depth > res.MaxDepthReached {
			res.MaxDepthReached = item.depth
		}

		n := item.node
		decl, descend := classify(n, content)
		if decl != nil {
			res.Declarations = append(res.Declarations, *decl)
		}
		if !descend {
			continue
		}

		if item.depth > 0 {
			parentType := ""
			if parent := n.Parent(); parent != nil {
				parentType = parent.Type()
			}
			if why := p.budget.complexReason(n.Type(), parentType, nodeBytes(n, content)); why != "" {
				res.SkippedNodes++
				if res.SkippedNodes > p.budget.MaxSkippedNodes {
					res.Outcome = Degraded
					res.Reason = fmt.Sprintf("more than %d complex nodes skipped", p.budget.MaxSkippedNodes)
					break
				}
				continue
			}
		}

		count := int(n.NamedChildCount())
		for i := 0; i < count; i++ {
			child := n.NamedChild(i)
			if child == nil || child.IsNull() {
				continue
			}
			queue = append(queue, queued{node: child, depth: item.depth + 1})
		}
	}

	if res.Outcome == Full && res.SkippedNodes > 0 {
		res.Outcome = Degraded
		res.Reason = fmt.Sprintf("%d complex nodes skipped", res.SkippedNodes)
	}
	sortDeclarations(res.Declarations)
	return res
}

// classify inspects one node. It returns the declaration the node carries,
// if any, and whether its children still need visiting.
func classify(n *sitter.Node, content []byte) (*Declaration, bool) {
	switch n.Type() {
	case "import_statement":
		source := n.ChildByFieldName("source")
		if source == nil {
			// import x = require('./x')
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				if child != nil && child.Type() == "import_require_clause" {
					source = child.ChildByFieldName("source")
					if source == nil {
						source = firstNamedOfType(child, "string")
					}
					break
				}
			}
		}
		return declarationFromString(KindImport, source, content), false

	case "export_statement":
		if source := n.ChildByFieldName("source"); source != nil {
			return declarationFromString(KindExport, source, content), false
		}
		return nil, true

	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return nil, true
		}
		var kind DeclKind
		switch {
		case fn.Type() == "import":
			kind = KindDynamicImport
		case fn.Type() == "identifier" && fn.Content(content) == "require":
			kind = KindRequire
		default:
			return nil, true
		}
		args := n.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 {
			return nil, true
		}
		first := args.NamedChild(0)
		if first == nil || (first.Type() != "string" && first.Type() != "template_string") {
			return nil, true
		}
		return declarationFromString(kind, first, content), false
	}
	return nil, true
}

// declarationFromString builds a declaration from a string or
// substitution-free template literal node.
func declarationFromString(kind DeclKind, str *sitter.Node, content []byte) *Declaration {
	if str == nil {
		return nil
	}
	switch str.Type() {
	case "string":
	case "template_string":
		if firstNamedOfType(str, "template_substitution") != nil {
			return nil
		}
	default:
		return nil
	}

	start := str.StartByte() + 1
	end := str.EndByte() - 1
	if end < start || int(end) > len(content) {
		return nil
	}
	return &Declaration{
		Kind:      kind,
		Specifier: string(content[start:end]),
		Start:     start,
		End:       end,
		Line:      int(str.StartPoint().Row) + 1,
	}
}

func firstNamedOfType(n *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child != nil && child.Type() == nodeType {
			return child
		}
	}
	return nil
}

func nodeBytes(n *sitter.Node, content []byte) []byte {
	start, end := int(n.StartByte()), int(n.EndByte())
	if start < 0 || end > len(content) || start > end {
		return nil
	}
	return content[start:end]
}
