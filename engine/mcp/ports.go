package mcp

import (
	"context"

	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/rag"
)

// Querier answers one question.
type Querier interface {
	Run(ctx context.Context, query string) (*rag.Result, error)
}

// KPIReader reads the headline numbers.
type KPIReader interface {
	KPIs(ctx context.Context) (graph.KPIs, error)
}

// Ports aggregates what the server calls into.
type Ports struct {
	Query Querier
	// KPIs is optional; without it the kpis tool reports ErrNoGraph.
	KPIs KPIReader
}

// Validate ensures the required ports are set.
func (p *Ports) Validate() error {
	if p.Query == nil {
		return ErrMissingQuerier
	}
	return nil
}
