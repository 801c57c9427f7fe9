// Package mcp exposes the query pipeline and the headline KPIs to AI
// assistants over the Model Context Protocol.
package mcp

import "errors"

// ErrMissingQuerier is returned when no query pipeline is provided.
var ErrMissingQuerier = errors.New("mcp: querier is required")

// ErrNoGraph is returned by the kpis tool when no graph store is configured.
var ErrNoGraph = errors.New("mcp: graph store not configured")
