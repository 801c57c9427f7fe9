//go:build integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/runtime"
	"github.com/intellia-labs/nexus/pkg/config"
)

// TestAPI_KPIsAgainstNeo4j needs a live Neo4j loaded with the sample data
// (DATA_DIR, NEO4J_URL and friends).
func TestAPI_KPIsAgainstNeo4j(t *testing.T) {
	cfg := config.Default()
	cfg.ApplyEnv(os.Getenv)
	cfg.Vector.Snapshot.Store = "none"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rt, err := runtime.Open(ctx, cfg, runtime.Options{RequireGraph: true}, quiet)
	if err != nil {
		t.Skipf("neo4j not available: %v", err)
	}
	defer rt.Close(context.Background())

	h := newHandler(newServer(rt, quiet), rt.Registry, "*", quiet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/kpis", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var kpis graph.KPIs
	if err := json.NewDecoder(rec.Body).Decode(&kpis); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if kpis.DelayedShipments > kpis.TotalShipments {
		t.Fatalf("delayed %d exceeds total %d", kpis.DelayedShipments, kpis.TotalShipments)
	}
}
