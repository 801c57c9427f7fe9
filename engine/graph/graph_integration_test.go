//go:build integration

package graph

import (
	"context"
	"os"
	"testing"

	"github.com/intellia-labs/nexus/engine/domain"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func testStore(t *testing.T) *Store {
	t.Helper()
	driver, err := Dial(envOr("NEO4J_URL", "neo4j://localhost:7687"), os.Getenv("NEO4J_USER"), os.Getenv("NEO4J_PASS"))
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	s := New(driver)
	ctx := context.Background()
	if err := s.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}
	t.Cleanup(func() {
		s.Clear(ctx)
		s.Close(ctx)
	})
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	return s
}

func TestNeo4j_LoadOneRowPerTable(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tables := &domain.Tables{
		Items:     []domain.Item{{ItemID: "1", Name: "Widget", Stock: 40, WarehouseID: "W1", Demand: 120}},
		Suppliers: []domain.Supplier{{SupplierID: "S1", Name: "Supplier Beta", ItemID: "1", OnTimeRate: 0.95, ReturnRate: 0.02}},
		Shipments: []domain.Shipment{{ShipmentID: "SH1", ItemID: "1", Carrier: "FedEx", Delayed: true, DelayReason: "Weather"}},
		Returns:   []domain.Return{{ReturnID: "R1", ItemID: "1", CustomerID: "C7", Reason: "Damaged", Date: "2024-05-01"}},
	}
	if err := s.LoadFromTables(ctx, tables); err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, rel := range []string{"SUPPLIED_BY", "SHIPPED_VIA", "RETURNED_BY"} {
		recs, err := s.Query(ctx, "MATCH (:Item {item_id: '1'})-[r]->() WHERE type(r) = $t RETURN count(r) AS count", map[string]any{"t": rel})
		if err != nil {
			t.Fatalf("count %s: %v", rel, err)
		}
		if n := recs[0].Int("count"); n != 1 {
			t.Fatalf("expected 1 %s relationship, got %d", rel, n)
		}
	}

	k, err := s.KPIs(ctx)
	if err != nil {
		t.Fatalf("kpis: %v", err)
	}
	if k.TotalShipments != 1 || k.DelayedShipments != 1 || k.LowStockItems != 1 || k.ReturnRate != 100 {
		t.Fatalf("unexpected kpis %+v", k)
	}
}

func TestNeo4j_RelatedQuery(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.LoadFromTables(ctx, &domain.Tables{
		Items:     []domain.Item{{ItemID: "1", Name: "Widget", Stock: 10, Demand: 5}},
		Shipments: []domain.Shipment{{ShipmentID: "SH1", ItemID: "1", Carrier: "DHL"}},
	}); err != nil {
		t.Fatal(err)
	}
	recs, err := s.Query(ctx, "MATCH (i:Item)-[r]-(n) WHERE i.name CONTAINS $q OR n.name CONTAINS $q RETURN i, r, n LIMIT 5", map[string]any{"q": "DHL"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if rel := recs[0]["r"].(map[string]any); rel["delayed"] != false {
		t.Fatalf("delayed stored as %v (%T)", rel["delayed"], rel["delayed"])
	}
}
