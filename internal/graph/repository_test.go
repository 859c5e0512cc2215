package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/fxdj/internal/depgraph"
)

func sampleGraph() *depgraph.Graph {
	return &depgraph.Graph{
		Target: "Timer:HwTimer",
		Nodes: []depgraph.Node{
			{ID: "Clock:HwClock", Interface: "Clock", Implementation: "HwClock", Kind: depgraph.NodeBinding},
			{ID: "Timer:HwTimer", Interface: "Timer", Implementation: "HwTimer", Kind: depgraph.NodeBinding},
			{ID: "Ghost:None", Interface: "Ghost", Implementation: "None", Kind: depgraph.NodeLeaf},
		},
		Edges: []depgraph.Edge{
			{From: "Timer:HwTimer", To: "Ghost:None", Kind: depgraph.EdgeDependsOn},
			{From: "Timer:HwTimer", To: "Clock:HwClock", Kind: depgraph.EdgeDependsOn},
			{From: "Timer:HwTimer", To: "Clock:HwClock", Kind: depgraph.EdgeInitAfter, Label: "tmr_init"},
		},
	}
}

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	defer repo.Close(ctx)

	require.NoError(t, repo.StoreGraph(ctx, sampleGraph()))

	g, err := repo.LoadGraph(ctx, "Timer:HwTimer")
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 3)
	assert.Len(t, g.Edges, 3)

	deps, err := repo.QueryDependencies(ctx, "Timer:HwTimer", "Timer:HwTimer")
	require.NoError(t, err)
	assert.Equal(t, []string{"Clock:HwClock", "Ghost:None"}, deps)
}

func TestMemory_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()

	_, err := repo.LoadGraph(ctx, "Nope:None")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.QueryDependencies(ctx, "Nope:None", "X:y")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_StoreReplaces(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	require.NoError(t, repo.StoreGraph(ctx, sampleGraph()))

	smaller := &depgraph.Graph{Target: "Timer:HwTimer", Nodes: sampleGraph().Nodes[:1]}
	require.NoError(t, repo.StoreGraph(ctx, smaller))

	g, err := repo.LoadGraph(ctx, "Timer:HwTimer")
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
}
