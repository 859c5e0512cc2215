package depgraph

// Node is one binding reached from the target.
type Node struct {
	ID             string            `json:"id"` // Interface:Implementation
	Interface      string            `json:"interface"`
	Implementation string            `json:"implementation"`
	Kind           NodeKind          `json:"kind"`
	Sources        []string          `json:"sources,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"` // header, ctor, scope, rank
}

// NodeKind classifies graph nodes
type NodeKind string

const (
	NodeBinding NodeKind = "binding" // has implementation sources
	NodeLeaf    NodeKind = "leaf"    // referenced but never implemented
)

// Edge represents a directed edge between two nodes
type Edge struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Kind  EdgeKind `json:"kind"`
	Label string   `json:"label,omitempty"`
}

// EdgeKind classifies relationships
type EdgeKind string

const (
	EdgeDependsOn EdgeKind = "depends_on" // sources reference the interface
	EdgeInitAfter EdgeKind = "init_after" // ctor must run after the target's ctor
)

// Graph is the full dependency graph of one resolution
type Graph struct {
	Target string     `json:"target"`
	Nodes  []Node     `json:"nodes"`
	Edges  []Edge     `json:"edges"`
	Stats  GraphStats `json:"stats"`
}

// GraphStats holds computed metrics about the graph
type GraphStats struct {
	TotalNodes          int            `json:"total_nodes"`
	TotalEdges          int            `json:"total_edges"`
	BindingCount        int            `json:"binding_count"`
	LeafCount           int            `json:"leaf_count"`
	CtorCount           int            `json:"ctor_count"`
	SourceFiles         int            `json:"source_files"`
	MaxFanOut           int            `json:"max_fan_out"`
	MaxFanIn            int            `json:"max_fan_in"`
	HotspotNode         string         `json:"hotspot_node"` // most depended upon
	ConnectedComponents int            `json:"connected_components"`
	CyclicDeps          [][]string     `json:"cyclic_deps,omitempty"` // reference cycles, allowed
	InterfaceFanOut     map[string]int `json:"interface_fan_out"`
}
