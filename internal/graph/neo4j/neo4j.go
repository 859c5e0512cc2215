package neo4j

import (
	"context"
	"fmt"
	"sort"

	"github.com/efebarandurmaz/fxdj/internal/depgraph"
	"github.com/efebarandurmaz/fxdj/internal/graph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jRepository implements graph.Repository using Neo4j. Bindings are
// (:Binding) nodes reached from a (:Target); edges carry the target name
// so several targets can share one database.
type Neo4jRepository struct {
	driver neo4j.DriverWithContext
}

// NewNeo4j creates a Neo4j-backed repository.
func NewNeo4j(ctx context.Context, uri, username, password string) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jRepository{driver: driver}, nil
}

func (r *Neo4jRepository) StoreGraph(ctx context.Context, g *depgraph.Graph) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Replace whatever an earlier run stored for this target.
		if _, err := tx.Run(ctx,
			"MATCH (:Binding)-[e {target: $target}]->(:Binding) DELETE e",
			map[string]any{"target": g.Target}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			"MERGE (t:Target {name: $target}) WITH t OPTIONAL MATCH (t)-[r:REACHES]->() DELETE r",
			map[string]any{"target": g.Target}); err != nil {
			return nil, err
		}
		for _, n := range g.Nodes {
			_, err := tx.Run(ctx,
				"MERGE (b:Binding {id: $id}) "+
					"SET b.interface = $iface, b.implementation = $impl, b.kind = $kind, "+
					"b.header = $header, b.ctor = $ctor, b.scope = $scope "+
					"WITH b MATCH (t:Target {name: $target}) MERGE (t)-[:REACHES]->(b)",
				nodeParams(g.Target, n))
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store bindings of %s: %w", g.Target, err)
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range g.Edges {
			_, err := tx.Run(ctx,
				"MATCH (a:Binding {id: $from}) MATCH (b:Binding {id: $to}) "+
					"CREATE (a)-["+relType(e.Kind)+" {target: $target, label: $label}]->(b)",
				map[string]any{"from": e.From, "to": e.To, "target": g.Target, "label": e.Label})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store edges of %s: %w", g.Target, err)
	}
	return nil
}

func nodeParams(target string, n depgraph.Node) map[string]any {
	return map[string]any{
		"target": target,
		"id":     n.ID,
		"iface":  n.Interface,
		"impl":   n.Implementation,
		"kind":   string(n.Kind),
		"header": n.Metadata["header"],
		"ctor":   n.Metadata["ctor"],
		"scope":  n.Metadata["scope"],
	}
}

func relType(kind depgraph.EdgeKind) string {
	if kind == depgraph.EdgeInitAfter {
		return ":INIT_AFTER"
	}
	return ":DEPENDS_ON"
}

func kindOf(rel string) depgraph.EdgeKind {
	if rel == "INIT_AFTER" {
		return depgraph.EdgeInitAfter
	}
	return depgraph.EdgeDependsOn
}

func (r *Neo4jRepository) LoadGraph(ctx context.Context, target string) (*depgraph.Graph, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		g := &depgraph.Graph{Target: target}
		records, err := tx.Run(ctx,
			"MATCH (:Target {name: $target})-[:REACHES]->(b:Binding) "+
				"RETURN b.id AS id, b.interface AS iface, b.implementation AS impl, b.kind AS kind, "+
				"b.header AS header, b.ctor AS ctor, b.scope AS scope ORDER BY id",
			map[string]any{"target": target})
		if err != nil {
			return nil, err
		}
		for records.Next(ctx) {
			rec := records.Record()
			n := depgraph.Node{
				ID:             str(rec, "id"),
				Interface:      str(rec, "iface"),
				Implementation: str(rec, "impl"),
				Kind:           depgraph.NodeKind(str(rec, "kind")),
				Metadata:       map[string]string{},
			}
			for _, field := range []string{"header", "ctor", "scope"} {
				if v := str(rec, field); v != "" {
					n.Metadata[field] = v
				}
			}
			if len(n.Metadata) == 0 {
				n.Metadata = nil
			}
			g.Nodes = append(g.Nodes, n)
		}
		if err := records.Err(); err != nil {
			return nil, err
		}
		if len(g.Nodes) == 0 {
			return nil, fmt.Errorf("%w: %s", graph.ErrNotFound, target)
		}

		edges, err := tx.Run(ctx,
			"MATCH (a:Binding)-[e {target: $target}]->(b:Binding) "+
				"RETURN a.id AS from, b.id AS to, type(e) AS rel, e.label AS label ORDER BY from, to",
			map[string]any{"target": target})
		if err != nil {
			return nil, err
		}
		for edges.Next(ctx) {
			rec := edges.Record()
			g.Edges = append(g.Edges, depgraph.Edge{
				From:  str(rec, "from"),
				To:    str(rec, "to"),
				Kind:  kindOf(str(rec, "rel")),
				Label: str(rec, "label"),
			})
		}
		if err := edges.Err(); err != nil {
			return nil, err
		}
		g.ComputeStats()
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*depgraph.Graph), nil
}

func (r *Neo4jRepository) QueryDependencies(ctx context.Context, target, id string) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx,
			"MATCH (:Binding {id: $id})-[:DEPENDS_ON {target: $target}]->(dep:Binding) RETURN dep.id AS id",
			map[string]any{"id": id, "target": target})
		if err != nil {
			return nil, err
		}
		var ids []string
		for records.Next(ctx) {
			ids = append(ids, str(records.Record(), "id"))
		}
		return ids, records.Err()
	})
	if err != nil {
		return nil, err
	}
	ids := result.([]string)
	sort.Strings(ids)
	return ids, nil
}

func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// str reads a string column, treating null as empty.
func str(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

var _ graph.Repository = (*Neo4jRepository)(nil)
