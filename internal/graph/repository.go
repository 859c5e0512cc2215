// Package graph persists resolved binding graphs.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/efebarandurmaz/fxdj/internal/depgraph"
)

// Repository provides graph storage for resolved bindings.
type Repository interface {
	// StoreGraph persists the binding graph of one target.
	StoreGraph(ctx context.Context, g *depgraph.Graph) error
	// LoadGraph retrieves the stored graph of a target.
	LoadGraph(ctx context.Context, target string) (*depgraph.Graph, error)
	// QueryDependencies returns the bindings id depends on within target.
	QueryDependencies(ctx context.Context, target, id string) ([]string, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// ErrNotFound is returned when no graph is stored for a target.
var ErrNotFound = errors.New("graph not found")

// Memory is an in-process Repository.
type Memory struct {
	mu     sync.RWMutex
	graphs map[string]*depgraph.Graph
}

func NewMemory() *Memory {
	return &Memory{graphs: make(map[string]*depgraph.Graph)}
}

func (m *Memory) StoreGraph(_ context.Context, g *depgraph.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.graphs[g.Target] = &cp
	return nil
}

func (m *Memory) LoadGraph(_ context.Context, target string) (*depgraph.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	cp := *g
	return &cp, nil
}

func (m *Memory) QueryDependencies(ctx context.Context, target, id string) ([]string, error) {
	g, err := m.LoadGraph(ctx, target)
	if err != nil {
		return nil, err
	}
	var deps []string
	for _, e := range g.Edges {
		if e.From == id && e.Kind == depgraph.EdgeDependsOn {
			deps = append(deps, e.To)
		}
	}
	sort.Strings(deps)
	return deps, nil
}

func (m *Memory) Close(context.Context) error { return nil }

var _ Repository = (*Memory)(nil)
