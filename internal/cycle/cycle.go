// Package cycle finds circular dependencies between files.
package cycle

import "sort"

// Edge is a dependency from one file to another.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a directed dependency graph with deterministic iteration order.
type Graph struct {
	out map[string][]string
	in  map[string][]string
}

// NewGraph builds a graph from edges. Duplicate edges are collapsed.
func NewGraph(edges []Edge) *Graph {
	g := &Graph{
		out: make(map[string][]string),
		in:  make(map[string][]string),
	}
	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		g.out[e.From] = append(g.out[e.From], e.To)
		g.in[e.To] = append(g.in[e.To], e.From)
		if _, ok := g.out[e.To]; !ok {
			g.out[e.To] = nil
		}
	}
	for _, m := range []map[string][]string{g.out, g.in} {
		for k := range m {
			sort.Strings(m[k])
		}
	}
	return g
}

// Nodes returns every node, sorted.
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.out))
	for n := range g.out {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// Edges returns every edge, sorted by endpoints.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, from := range g.Nodes() {
		for _, to := range g.out[from] {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// Restrict keeps the touched nodes, their direct neighbors in either
// direction, and the edges among them.
func (g *Graph) Restrict(touched []string) *Graph {
	keep := make(map[string]bool)
	for _, n := range touched {
		if _, ok := g.out[n]; !ok {
			continue
		}
		keep[n] = true
		for _, m := range g.out[n] {
			keep[m] = true
		}
		for _, m := range g.in[n] {
			keep[m] = true
		}
	}

	var edges []Edge
	for _, e := range g.Edges() {
		if keep[e.From] && keep[e.To] {
			edges = append(edges, e)
		}
	}
	return NewGraph(edges)
}

type frame struct {
	node string
	next int
}

// FindCycle runs a depth-first search with an explicit recursion stack
// and returns one witness cycle, first node repeated at the end:
// [a, b, c, a]. Roots are tried in the given order, then every other
// node. It returns nil for an acyclic graph.
func (g *Graph) FindCycle(roots ...string) []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.out))

	order := make([]string, 0, len(roots)+len(g.out))
	order = append(order, roots...)
	order = append(order, g.Nodes()...)
	for _, root := range order {
		if _, ok := g.out[root]; !ok || state[root] != unvisited {
			continue
		}

		stack := []frame{{node: root}}
		state[root] = onStack
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succ := g.out[top.node]
			if top.next == len(succ) {
				state[top.node] = done
				stack = stack[:len(stack)-1]
				continue
			}
			next := succ[top.next]
			top.next++

			switch state[next] {
			case unvisited:
				state[next] = onStack
				stack = append(stack, frame{node: next})
			case onStack:
				return witness(stack, next)
			}
		}
	}
	return nil
}

func witness(stack []frame, start string) []string {
	i := len(stack) - 1
	for stack[i].node != start {
		i--
	}
	cycle := make([]string, 0, len(stack)-i+1)
	for _, f := range stack[i:] {
		cycle = append(cycle, f.node)
	}
	return append(cycle, start)
}

// Components returns the strongly connected components that contain a
// cycle (more than one node, or a self-import), each sorted, ordered by
// their first node.
func (g *Graph) Components() [][]string {
	index := 0
	var stack []string
	onStack := make(map[string]bool)
	indices := make(map[string]int)
	lowlinks := make(map[string]int)
	var sccs [][]string

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlinks[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.out[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				if lowlinks[w] < lowlinks[v] {
					lowlinks[v] = lowlinks[w]
				}
			} else if onStack[w] && indices[w] < lowlinks[v] {
				lowlinks[v] = indices[w]
			}
		}

		if lowlinks[v] != indices[v] {
			return
		}
		var scc []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		if len(scc) > 1 || g.selfLoop(v) {
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, v := range g.Nodes() {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	sort.Slice(sccs, func(i, j int) bool { return sccs[i][0] < sccs[j][0] })
	return sccs
}

func (g *Graph) selfLoop(v string) bool {
	for _, w := range g.out[v] {
		if w == v {
			return true
		}
	}
	return false
}
