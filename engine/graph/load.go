package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/intellia-labs/nexus/engine/domain"
)

const cypherClear = `MATCH (n) DETACH DELETE n`

var schemaStatements = []string{
	`CREATE INDEX item_id IF NOT EXISTS FOR (i:Item) ON (i.item_id)`,
	`CREATE INDEX supplier_id IF NOT EXISTS FOR (s:Supplier) ON (s.supplier_id)`,
	`CREATE INDEX carrier_name IF NOT EXISTS FOR (c:Carrier) ON (c.name)`,
	`CREATE INDEX customer_id IF NOT EXISTS FOR (c:Customer) ON (c.customer_id)`,
}

const (
	cypherLoadItems = `UNWIND $rows AS row
CREATE (i:Item {item_id: row.item_id, name: row.name, stock: row.stock,
                warehouse_id: row.warehouse_id, predicted_demand: row.predicted_demand})`

	cypherLoadSuppliers = `UNWIND $rows AS row
MERGE (s:Supplier {supplier_id: row.supplier_id})
SET s.name = row.name, s.on_time_rate = row.on_time_rate, s.return_rate = row.return_rate
WITH s, row
MATCH (i:Item {item_id: row.item_id})
CREATE (i)-[:SUPPLIED_BY]->(s)`

	cypherLoadShipments = `UNWIND $rows AS row
MERGE (c:Carrier {name: row.carrier})
WITH c, row
MATCH (i:Item {item_id: row.item_id})
CREATE (i)-[:SHIPPED_VIA {shipment_id: row.shipment_id, delayed: row.delayed, reason: row.reason}]->(c)`

	cypherLoadReturns = `UNWIND $rows AS row
MERGE (c:Customer {customer_id: row.customer_id})
WITH c, row
MATCH (i:Item {item_id: row.item_id})
CREATE (i)-[:RETURNED_BY {return_id: row.return_id, reason: row.reason, date: row.date}]->(c)`
)

// Clear deletes every node and relationship.
func (s *Store) Clear(ctx context.Context) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	return s.exec(ctx, sess, "clear", cypherClear, nil)
}

// LoadFromTables writes t into the graph. Items go first because every
// relationship statement matches its Item; then suppliers, shipments and
// returns. Loading is not idempotent: call Clear first to reload.
func (s *Store) LoadFromTables(ctx context.Context, t *domain.Tables) error {
	start := time.Now()
	sess := s.session(ctx)
	defer sess.Close(ctx)

	for _, stmt := range schemaStatements {
		if err := s.exec(ctx, sess, "schema", stmt, nil); err != nil {
			return err
		}
	}

	steps := []struct {
		table  string
		cypher string
		rows   []any
	}{
		{domain.TableInventory, cypherLoadItems, itemRows(t.Items)},
		{domain.TableSuppliers, cypherLoadSuppliers, supplierRows(t.Suppliers)},
		{domain.TableLogistics, cypherLoadShipments, shipmentRows(t.Shipments)},
		{domain.TableReturns, cypherLoadReturns, returnRows(t.Returns)},
	}
	for _, st := range steps {
		for lo := 0; lo < len(st.rows); lo += s.batchSize {
			hi := min(lo+s.batchSize, len(st.rows))
			op := fmt.Sprintf("load %s [%d:%d]", st.table, lo, hi)
			if err := s.exec(ctx, sess, op, st.cypher, map[string]any{"rows": st.rows[lo:hi]}); err != nil {
				return err
			}
		}
		s.logger.Debug("graph table loaded", "table", st.table, "rows", len(st.rows))
	}

	s.logger.Info("graph loaded",
		"items", len(t.Items),
		"suppliers", len(t.Suppliers),
		"shipments", len(t.Shipments),
		"returns", len(t.Returns),
		"duration", time.Since(start),
	)
	return nil
}

func itemRows(items []domain.Item) []any {
	rows := make([]any, len(items))
	for i, it := range items {
		rows[i] = map[string]any{
			"item_id":          it.ItemID,
			"name":             it.Name,
			"stock":            int64(it.Stock),
			"warehouse_id":     it.WarehouseID,
			"predicted_demand": int64(it.Demand),
		}
	}
	return rows
}

func supplierRows(suppliers []domain.Supplier) []any {
	rows := make([]any, len(suppliers))
	for i, sp := range suppliers {
		rows[i] = map[string]any{
			"supplier_id":  sp.SupplierID,
			"name":         sp.Name,
			"item_id":      sp.ItemID,
			"on_time_rate": sp.OnTimeRate,
			"return_rate":  sp.ReturnRate,
		}
	}
	return rows
}

func shipmentRows(shipments []domain.Shipment) []any {
	rows := make([]any, len(shipments))
	for i, sh := range shipments {
		rows[i] = map[string]any{
			"shipment_id": sh.ShipmentID,
			"item_id":     sh.ItemID,
			"carrier":     sh.Carrier,
			"delayed":     sh.Delayed,
			"reason":      sh.DelayReason,
		}
	}
	return rows
}

func returnRows(returns []domain.Return) []any {
	rows := make([]any, len(returns))
	for i, r := range returns {
		rows[i] = map[string]any{
			"return_id":   r.ReturnID,
			"item_id":     r.ItemID,
			"customer_id": r.CustomerID,
			"reason":      r.Reason,
			"date":        r.Date,
		}
	}
	return rows
}
