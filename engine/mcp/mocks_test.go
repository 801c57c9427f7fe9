package mcp

import (
	"context"

	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/rag"
)

type mockQuerier struct {
	res   *rag.Result
	err   error
	query string
}

func (m *mockQuerier) Run(_ context.Context, query string) (*rag.Result, error) {
	m.query = query
	if m.res == nil {
		return &rag.Result{}, m.err
	}
	return m.res, m.err
}

type mockKPIs struct {
	kpis graph.KPIs
	err  error
}

func (m *mockKPIs) KPIs(context.Context) (graph.KPIs, error) {
	return m.kpis, m.err
}
