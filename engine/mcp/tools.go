package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/intellia-labs/nexus/engine/graph"
)

// AskInput is the input schema of ask_supply_chain.
type AskInput struct {
	Query string `json:"query" jsonschema:"a question about inventory, suppliers, shipments or returns"`
}

// AskOutput is the output schema of ask_supply_chain.
type AskOutput struct {
	Result   string   `json:"result"`
	Sources  []string `json:"sources"`
	Degraded []string `json:"degraded,omitempty"`
}

// KPIsInput takes no arguments.
type KPIsInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_supply_chain",
		Description: "Answer a question about the supply chain from inventory, supplier, logistics and returns data",
	}, s.handleAsk)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "kpis",
		Description: "Headline numbers: total and delayed shipments, low-stock items, return rate",
	}, s.handleKPIs)
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	res, err := s.ports.Query.Run(ctx, strings.TrimSpace(input.Query))
	if err != nil {
		return nil, AskOutput{}, err
	}
	out := AskOutput{
		Result:   res.Text,
		Sources:  make([]string, len(res.Sources)),
		Degraded: res.Degraded,
	}
	for i, h := range res.Sources {
		out.Sources[i] = h.Text
	}
	return nil, out, nil
}

func (s *Server) handleKPIs(ctx context.Context, _ *mcp.CallToolRequest, _ KPIsInput) (*mcp.CallToolResult, graph.KPIs, error) {
	if s.ports.KPIs == nil {
		return nil, graph.KPIs{}, ErrNoGraph
	}
	k, err := s.ports.KPIs.KPIs(ctx)
	if err != nil {
		return nil, graph.KPIs{}, err
	}
	return nil, k, nil
}
