package depgraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Format names an export format.
type Format string

const (
	FormatDOT     Format = "dot"
	FormatMermaid Format = "mermaid"
	FormatJSON    Format = "json"
	FormatStats   Format = "stats"
)

// Export renders g in the given format.
func Export(g *Graph, f Format) ([]byte, error) {
	switch f {
	case FormatDOT:
		return []byte(ExportDOT(g)), nil
	case FormatMermaid:
		return []byte(ExportMermaid(g)), nil
	case FormatJSON:
		return ExportJSON(g)
	case FormatStats, "":
		return []byte(FormatStatsText(g)), nil
	default:
		return nil, fmt.Errorf("unknown graph format %q (want dot, mermaid, json or stats)", f)
	}
}

// byInterface groups nodes into clusters, sorted by interface name.
func byInterface(g *Graph) ([]string, map[string][]Node) {
	groups := make(map[string][]Node)
	for _, n := range g.Nodes {
		groups[n.Interface] = append(groups[n.Interface], n)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, groups
}

// ExportDOT generates a Graphviz DOT representation of the graph.
func ExportDOT(g *Graph) string {
	var b strings.Builder
	b.WriteString("digraph bindings {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	names, groups := byInterface(g)
	for _, name := range names {
		b.WriteString(fmt.Sprintf("  subgraph cluster_%s {\n", sanitizeID(name)))
		b.WriteString(fmt.Sprintf("    label=\"%s\";\n", name))
		b.WriteString("    style=dashed;\n")
		b.WriteString("    color=\"#58a6ff\";\n")
		for _, n := range groups[name] {
			b.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\" shape=%s style=filled fillcolor=\"%s\"];\n",
				n.ID, nodeLabel(n), nodeShape(n), nodeColor(n)))
		}
		b.WriteString("  }\n\n")
	}

	for _, e := range g.Edges {
		label := ""
		if e.Label != "" {
			label = fmt.Sprintf(" label=\"%s\"", e.Label)
		}
		b.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [style=%s color=\"%s\"%s];\n",
			e.From, e.To, edgeStyle(e.Kind), edgeColor(e.Kind), label))
	}

	b.WriteString("}\n")
	return b.String()
}

// ExportMermaid generates a Mermaid diagram of the graph.
func ExportMermaid(g *Graph) string {
	var b strings.Builder
	b.WriteString("graph LR\n")

	names, groups := byInterface(g)
	for _, name := range names {
		b.WriteString(fmt.Sprintf("  subgraph %s\n", sanitizeID(name)))
		for _, n := range groups[name] {
			b.WriteString(fmt.Sprintf("    %s%s\n", sanitizeID(n.ID), mermaidNodeShape(n)))
		}
		b.WriteString("  end\n")
	}

	for _, e := range g.Edges {
		label := ""
		if e.Label != "" {
			label = "|" + e.Label + "|"
		}
		b.WriteString(fmt.Sprintf("  %s %s%s %s\n",
			sanitizeID(e.From), mermaidArrow(e.Kind), label, sanitizeID(e.To)))
	}

	return b.String()
}

// ExportJSON serializes the graph to JSON.
func ExportJSON(g *Graph) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// FormatStatsText returns a human-readable summary of graph statistics.
func FormatStatsText(g *Graph) string {
	var b strings.Builder
	b.WriteString("Binding Graph Statistics\n")
	b.WriteString("========================\n\n")
	b.WriteString(fmt.Sprintf("Target:      %s\n", g.Target))
	b.WriteString(fmt.Sprintf("Nodes:       %d total\n", g.Stats.TotalNodes))
	b.WriteString(fmt.Sprintf("  Bound:     %d\n", g.Stats.BindingCount))
	b.WriteString(fmt.Sprintf("  Leaves:    %d\n", g.Stats.LeafCount))
	b.WriteString(fmt.Sprintf("  Ctors:     %d\n", g.Stats.CtorCount))
	b.WriteString(fmt.Sprintf("Sources:     %d\n", g.Stats.SourceFiles))
	b.WriteString(fmt.Sprintf("Edges:       %d total\n", g.Stats.TotalEdges))
	b.WriteString(fmt.Sprintf("Max Fan-Out: %d\n", g.Stats.MaxFanOut))
	b.WriteString(fmt.Sprintf("Max Fan-In:  %d (%s)\n", g.Stats.MaxFanIn, g.Stats.HotspotNode))
	b.WriteString(fmt.Sprintf("Components:  %d\n", g.Stats.ConnectedComponents))

	if len(g.Stats.CyclicDeps) > 0 {
		b.WriteString(fmt.Sprintf("\nReference Cycles: %d\n", len(g.Stats.CyclicDeps)))
		for i, cycle := range g.Stats.CyclicDeps {
			b.WriteString(fmt.Sprintf("  %d: %s\n", i+1, strings.Join(cycle, " -> ")))
		}
	}

	if len(g.Stats.InterfaceFanOut) > 0 {
		b.WriteString("\nInterface Dependencies:\n")
		for _, name := range sortedIDs(g.Stats.InterfaceFanOut) {
			b.WriteString(fmt.Sprintf("  %s: %d outgoing\n", name, g.Stats.InterfaceFanOut[name]))
		}
	}

	return b.String()
}

func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

func nodeLabel(n Node) string {
	if ctor := n.Metadata["ctor"]; ctor != "" {
		return fmt.Sprintf("%s\\n%s()", n.Implementation, ctor)
	}
	return n.Implementation
}

func nodeShape(n Node) string {
	if n.Kind == NodeLeaf {
		return "ellipse"
	}
	if n.Metadata["ctor"] != "" {
		return "box3d"
	}
	return "box"
}

func nodeColor(n Node) string {
	switch {
	case n.Kind == NodeLeaf:
		return "#30363d"
	case n.Metadata["scope"] == "on_each_cpu":
		return "#d29922"
	case n.Metadata["ctor"] != "":
		return "#1f6feb"
	default:
		return "#238636"
	}
}

func edgeStyle(kind EdgeKind) string {
	switch kind {
	case EdgeInitAfter:
		return "bold"
	default:
		return "solid"
	}
}

func edgeColor(kind EdgeKind) string {
	switch kind {
	case EdgeDependsOn:
		return "#3fb950"
	case EdgeInitAfter:
		return "#f85149"
	default:
		return "#c9d1d9"
	}
}

func mermaidNodeShape(n Node) string {
	switch {
	case n.Kind == NodeLeaf:
		return fmt.Sprintf("([\"%s\"])", n.ID)
	case n.Metadata["ctor"] != "":
		return fmt.Sprintf("[[\"%s\"]]", n.ID)
	default:
		return fmt.Sprintf("[\"%s\"]", n.ID)
	}
}

func mermaidArrow(kind EdgeKind) string {
	switch kind {
	case EdgeInitAfter:
		return "==>"
	default:
		return "-->"
	}
}
