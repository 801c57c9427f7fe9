// Package domain defines the supply-chain entities, the canonical encodings
// shared by every write path, and the sentinel errors of the query pipeline.
package domain

// Item is one inventory row.
type Item struct {
	ItemID      string `json:"item_id"`
	Name        string `json:"name"`
	Stock       int    `json:"stock"`
	WarehouseID string `json:"warehouse_id"`
	Demand      int    `json:"predicted_demand"`
}

// Supplier is one supplier row. A supplier row links a supplier to one item.
type Supplier struct {
	SupplierID string  `json:"supplier_id"`
	Name       string  `json:"name"`
	ItemID     string  `json:"item_id"`
	OnTimeRate float64 `json:"on_time_rate"`
	ReturnRate float64 `json:"return_rate"`
}

// Shipment is one logistics row.
type Shipment struct {
	ShipmentID  string `json:"shipment_id"`
	ItemID      string `json:"item_id"`
	Carrier     string `json:"carrier"`
	Delayed     bool   `json:"delayed"`
	DelayReason string `json:"delay_reason"`
}

// Return is one returns row.
type Return struct {
	ReturnID   string `json:"return_id"`
	ItemID     string `json:"item_id"`
	CustomerID string `json:"customer_id"`
	Reason     string `json:"reason"`
	Date       string `json:"date"`
}

// Tables is the in-memory snapshot of the four source tables.
type Tables struct {
	Items     []Item
	Suppliers []Supplier
	Shipments []Shipment
	Returns   []Return
}

// Source table names, in ingestion order.
const (
	TableInventory = "inventory"
	TableSuppliers = "suppliers"
	TableLogistics = "logistics"
	TableReturns   = "returns"
)

// TableOrder is the fixed order in which tables are ingested and in which
// their facts appear in the vector corpus.
var TableOrder = []string{TableInventory, TableSuppliers, TableLogistics, TableReturns}
