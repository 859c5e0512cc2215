// Package initorder ranks constructor-bearing bindings so that every
// initializer runs after the initializers it depends on.
package initorder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/efebarandurmaz/fxdj/internal/ir"
)

// Declarations looks up the declaring header metadata of a key.
type Declarations interface {
	Declaration(key ir.BindingKey) (ir.Declaration, bool)
}

// InitializationCycleError reports a dependency cycle among constructors.
// Path starts and ends with the same key.
type InitializationCycleError struct {
	Path []ir.BindingKey
}

func (e *InitializationCycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, k := range e.Path {
		parts[i] = k.String()
	}
	return "initialization cycle: " + strings.Join(parts, " -> ")
}

type mark int

const (
	white mark = iota
	grey
	black
)

type node struct {
	key  ir.BindingKey
	ctor ir.Ctor
	deps []ir.BindingKey
	mark mark
	rank int
}

// Graph is the constructor dependency graph.
type Graph struct {
	nodes map[ir.BindingKey]*node
}

// Build keeps the reached keys whose declaration carries a ctor and
// restricts their edges to other kept keys, dropping self references.
func Build(edges map[ir.BindingKey][]ir.BindingKey, decls Declarations) *Graph {
	g := &Graph{nodes: make(map[ir.BindingKey]*node)}
	for key := range edges {
		d, ok := decls.Declaration(key)
		if !ok || d.Ctor == nil {
			continue
		}
		g.nodes[key] = &node{key: key, ctor: *d.Ctor}
	}
	for key, n := range g.nodes {
		for _, dep := range edges[key] {
			if dep == key {
				continue
			}
			if _, ok := g.nodes[dep]; ok {
				n.deps = append(n.deps, dep)
			}
		}
		ir.SortKeys(n.deps)
	}
	return g
}

// Len returns the number of constructor-bearing nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Deps returns the constructor dependencies kept for key.
func (g *Graph) Deps(key ir.BindingKey) []ir.BindingKey {
	if n, ok := g.nodes[key]; ok {
		return n.deps
	}
	return nil
}

// Entry is one constructor in initialization order.
type Entry struct {
	Key  ir.BindingKey   `json:"key"`
	Ctor ir.Ctor         `json:"ctor"`
	Rank int             `json:"rank"`
	Deps []ir.BindingKey `json:"deps,omitempty"`
}

// Sequence is the computed initialization order.
type Sequence struct {
	Entries []Entry `json:"entries"`
	// InitOnce lists every constructor name in order.
	InitOnce []string `json:"init_once"`
	// InitEach is the on_each_cpu subsequence of InitOnce.
	InitEach []string `json:"init_each"`
}

// Order ranks every node and returns them sorted by rank, then key.
// Calling Order again recomputes from scratch.
func (g *Graph) Order() (*Sequence, error) {
	keys := make([]ir.BindingKey, 0, len(g.nodes))
	for k, n := range g.nodes {
		n.mark = white
		n.rank = 0
		keys = append(keys, k)
	}
	ir.SortKeys(keys)

	for _, k := range keys {
		if _, err := g.rank(k, nil); err != nil {
			return nil, err
		}
	}

	entries := make([]Entry, len(keys))
	for i, k := range keys {
		n := g.nodes[k]
		entries[i] = Entry{Key: k, Ctor: n.ctor, Rank: n.rank, Deps: n.deps}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Rank != entries[j].Rank {
			return entries[i].Rank < entries[j].Rank
		}
		return entries[i].Key.Less(entries[j].Key)
	})

	seq := &Sequence{Entries: entries, InitOnce: []string{}, InitEach: []string{}}
	for _, e := range entries {
		seq.InitOnce = append(seq.InitOnce, e.Ctor.Name)
		if e.Ctor.Scope == ir.ScopeEachCPU {
			seq.InitEach = append(seq.InitEach, e.Ctor.Name)
		}
	}
	return seq, nil
}

// rank is the longest path from key to a leaf. path holds the grey chain
// leading to key and is only used to report cycles.
func (g *Graph) rank(key ir.BindingKey, path []ir.BindingKey) (int, error) {
	n := g.nodes[key]
	switch n.mark {
	case grey:
		return 0, &InitializationCycleError{Path: cyclePath(path, key)}
	case black:
		return n.rank, nil
	}

	n.mark = grey
	path = append(path, key)
	r := 0
	for _, d := range n.deps {
		dr, err := g.rank(d, path)
		if err != nil {
			return 0, err
		}
		if dr+1 > r {
			r = dr + 1
		}
	}
	n.mark = black
	n.rank = r
	return r, nil
}

func cyclePath(path []ir.BindingKey, key ir.BindingKey) []ir.BindingKey {
	for i, k := range path {
		if k == key {
			out := append([]ir.BindingKey(nil), path[i:]...)
			return append(out, key)
		}
	}
	return []ir.BindingKey{key, key}
}

// Compute is Build followed by Order.
func Compute(edges map[ir.BindingKey][]ir.BindingKey, decls Declarations) (*Sequence, error) {
	seq, err := Build(edges, decls).Order()
	if err != nil {
		return nil, fmt.Errorf("order constructors: %w", err)
	}
	return seq, nil
}
