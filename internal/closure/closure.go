// Package closure computes the transitive set of bindings and source files a
// target needs, discovering edges lazily through an oracle.
package closure

import (
	"context"
	"fmt"
	"sort"

	"github.com/efebarandurmaz/fxdj/internal/ir"
)

// Oracle reports the binding keys referenced by a set of sources.
type Oracle interface {
	Discover(ctx context.Context, sources []string) ([]ir.BindingKey, error)
}

// State is the expansion state of a Node.
type State int

const (
	Unexpanded State = iota
	Expanded
)

func (s State) String() string {
	if s == Expanded {
		return "expanded"
	}
	return "unexpanded"
}

// Node is one binding in the dependency graph.
type Node struct {
	Key     ir.BindingKey
	Sources []string
	Deps    []ir.BindingKey
	State   State
	// Leaf is set for keys that have no implementation sources.
	Leaf bool
}

// Graph holds the nodes created so far. It is seeded with one unexpanded
// node per implementation entry.
type Graph struct {
	nodes map[ir.BindingKey]*Node
}

// NewGraph creates a graph from an implementation table.
func NewGraph(impls map[ir.BindingKey][]string) *Graph {
	g := &Graph{nodes: make(map[ir.BindingKey]*Node, len(impls))}
	for k, srcs := range impls {
		g.nodes[k] = &Node{Key: k, Sources: append([]string(nil), srcs...)}
	}
	return g
}

// Node returns the node for key, or nil.
func (g *Graph) Node(key ir.BindingKey) *Node {
	return g.nodes[key]
}

// Result is the outcome of a closure walk.
type Result struct {
	Target ir.BindingKey
	// Files is the sorted, de-duplicated set of sources to build.
	Files []string
	// Edges maps every expanded key to its discovered dependencies, sorted.
	// Leaves map to nil.
	Edges map[ir.BindingKey][]ir.BindingKey
	// Reached lists every expanded key in visit order.
	Reached []ir.BindingKey
	// Leaves lists reached keys with no implementation, sorted.
	Leaves []ir.BindingKey
}

// Resolve walks the graph depth-first from target. A node is marked
// expanded before its dependencies are visited, so reference cycles stop
// instead of recursing. Keys with no implementation become leaves.
func (g *Graph) Resolve(ctx context.Context, target ir.BindingKey, o Oracle) (*Result, error) {
	res := &Result{Target: target, Edges: make(map[ir.BindingKey][]ir.BindingKey)}
	files := make(map[string]bool)

	stack := []ir.BindingKey{target}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, ok := g.nodes[key]
		if !ok {
			g.nodes[key] = &Node{Key: key, State: Expanded, Leaf: true}
			res.Edges[key] = nil
			res.Reached = append(res.Reached, key)
			res.Leaves = append(res.Leaves, key)
			continue
		}
		if node.State == Expanded {
			continue
		}

		deps, err := o.Discover(ctx, node.Sources)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", key, err)
		}
		node.Deps = dedupe(deps)
		node.State = Expanded
		res.Reached = append(res.Reached, key)
		res.Edges[key] = ir.SortKeys(append([]ir.BindingKey(nil), node.Deps...))
		for _, f := range node.Sources {
			files[f] = true
		}

		// Reverse push keeps the same visit order as a recursive walk.
		for i := len(node.Deps) - 1; i >= 0; i-- {
			stack = append(stack, node.Deps[i])
		}
	}

	res.Files = make([]string, 0, len(files))
	for f := range files {
		res.Files = append(res.Files, f)
	}
	sort.Strings(res.Files)
	ir.SortKeys(res.Leaves)
	return res, nil
}

// Resolve is a convenience wrapper that builds a fresh graph from impls.
func Resolve(ctx context.Context, impls map[ir.BindingKey][]string, target ir.BindingKey, o Oracle) (*Result, error) {
	return NewGraph(impls).Resolve(ctx, target, o)
}

// Bound reports whether key was reached and has implementation sources.
func (r *Result) Bound(key ir.BindingKey) bool {
	if _, ok := r.Edges[key]; !ok {
		return false
	}
	for _, l := range r.Leaves {
		if l == key {
			return false
		}
	}
	return true
}

func dedupe(keys []ir.BindingKey) []ir.BindingKey {
	seen := make(map[ir.BindingKey]bool, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
