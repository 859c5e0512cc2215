package depgraph

import (
	"sort"
	"strconv"

	"github.com/efebarandurmaz/fxdj/internal/closure"
	"github.com/efebarandurmaz/fxdj/internal/initorder"
	"github.com/efebarandurmaz/fxdj/internal/ir"
)

// Registry is the declaration lookup Analyze needs.
type Registry interface {
	Declaration(key ir.BindingKey) (ir.Declaration, bool)
	Sources(key ir.BindingKey) []string
}

// Analyze builds a dependency graph from a closure result. seq may be nil
// when no initialization order was computed.
func Analyze(res *closure.Result, reg Registry, seq *initorder.Sequence) *Graph {
	g := &Graph{Target: res.Target.String()}

	ranks := make(map[ir.BindingKey]int)
	var initDeps []initorder.Entry
	if seq != nil {
		for _, e := range seq.Entries {
			ranks[e.Key] = e.Rank
		}
		initDeps = seq.Entries
	}

	keys := make([]ir.BindingKey, 0, len(res.Edges))
	for k := range res.Edges {
		keys = append(keys, k)
	}
	ir.SortKeys(keys)

	// 1. Nodes
	for _, k := range keys {
		n := Node{
			ID:             k.String(),
			Interface:      k.Interface,
			Implementation: k.Implementation,
			Kind:           NodeBinding,
			Metadata:       map[string]string{},
		}
		if res.Bound(k) {
			n.Sources = reg.Sources(k)
		} else {
			n.Kind = NodeLeaf
		}
		if d, ok := reg.Declaration(k); ok {
			n.Metadata["header"] = d.Header
			if d.Ctor != nil {
				n.Metadata["ctor"] = d.Ctor.Name
				n.Metadata["scope"] = string(d.Ctor.Scope)
			}
		}
		if r, ok := ranks[k]; ok {
			n.Metadata["rank"] = strconv.Itoa(r)
		}
		if len(n.Metadata) == 0 {
			n.Metadata = nil
		}
		g.Nodes = append(g.Nodes, n)
	}

	// 2. Reference edges, without self references
	for _, k := range keys {
		for _, dep := range res.Edges[k] {
			if dep == k {
				continue
			}
			g.Edges = append(g.Edges, Edge{From: k.String(), To: dep.String(), Kind: EdgeDependsOn})
		}
	}

	// 3. Constructor ordering edges
	for _, e := range initDeps {
		for _, dep := range e.Deps {
			g.Edges = append(g.Edges, Edge{
				From:  e.Key.String(),
				To:    dep.String(),
				Kind:  EdgeInitAfter,
				Label: e.Ctor.Name,
			})
		}
	}

	g.Stats.SourceFiles = len(res.Files)
	g.ComputeStats()
	return g
}

// ComputeStats recomputes the node, edge, fan and cycle metrics of g.
// SourceFiles is left as is.
func (g *Graph) ComputeStats() {
	g.Stats = GraphStats{SourceFiles: g.Stats.SourceFiles}
	g.Stats.TotalNodes = len(g.Nodes)
	g.Stats.TotalEdges = len(g.Edges)
	g.Stats.InterfaceFanOut = make(map[string]int)

	iface := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		iface[n.ID] = n.Interface
		switch n.Kind {
		case NodeBinding:
			g.Stats.BindingCount++
		case NodeLeaf:
			g.Stats.LeafCount++
		}
		if n.Metadata["ctor"] != "" {
			g.Stats.CtorCount++
		}
	}

	fanOut := make(map[string]int)
	fanIn := make(map[string]int)
	for _, e := range g.Edges {
		if e.Kind != EdgeDependsOn {
			continue
		}
		fanOut[e.From]++
		fanIn[e.To]++
		if iface[e.From] != iface[e.To] {
			g.Stats.InterfaceFanOut[iface[e.From]]++
		}
	}

	for _, id := range sortedIDs(fanOut) {
		if fanOut[id] > g.Stats.MaxFanOut {
			g.Stats.MaxFanOut = fanOut[id]
		}
	}
	for _, id := range sortedIDs(fanIn) {
		if fanIn[id] > g.Stats.MaxFanIn {
			g.Stats.MaxFanIn = fanIn[id]
			g.Stats.HotspotNode = id
		}
	}

	g.Stats.ConnectedComponents = g.countComponents()
	g.Stats.CyclicDeps = g.detectCycles()
}

func sortedIDs(m map[string]int) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// countComponents counts weakly connected components via union-find
func (g *Graph) countComponents() int {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] == "" {
			parent[x] = x
		}
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		fa, fb := find(a), find(b)
		if fa != fb {
			parent[fa] = fb
		}
	}

	for _, n := range g.Nodes {
		find(n.ID)
	}
	for _, e := range g.Edges {
		union(e.From, e.To)
	}

	roots := make(map[string]bool)
	for _, n := range g.Nodes {
		roots[find(n.ID)] = true
	}
	return len(roots)
}

// detectCycles finds reference cycles using DFS on depends_on edges.
// These are legal at the file level and reported for information only.
func (g *Graph) detectCycles() [][]string {
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		if e.Kind == EdgeDependsOn {
			adj[e.From] = append(adj[e.From], e.To)
		}
	}

	var cycles [][]string
	visited := make(map[string]int) // 0=unvisited, 1=in-progress, 2=done
	path := make([]string, 0)

	var dfs func(node string)
	dfs = func(node string) {
		if visited[node] == 2 {
			return
		}
		if visited[node] == 1 {
			cycle := make([]string, 0)
			for i := len(path) - 1; i >= 0; i-- {
				cycle = append(cycle, path[i])
				if path[i] == node {
					break
				}
			}
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			cycles = append(cycles, cycle)
			return
		}
		visited[node] = 1
		path = append(path, node)
		for _, next := range adj[node] {
			dfs(next)
		}
		path = path[:len(path)-1]
		visited[node] = 2
	}

	// Nodes are already sorted by key
	for _, n := range g.Nodes {
		if visited[n.ID] == 0 {
			dfs(n.ID)
		}
	}
	return cycles
}
