package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/intellia-labs/nexus/engine/domain"
)

// factNamespace scopes the deterministic fact ids.
var factNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("nexus/facts"))

// Fact is one semantic sentence derived from a source row.
type Fact struct {
	ID    string `json:"id"`
	Table string `json:"table"`
	Row   int    `json:"row"` // 0-based position within the table
	Text  string `json:"text"`
}

// Corpus derives the fact records of t: items, then suppliers, then
// shipments, then returns, each in row order. The position of a fact in
// the returned slice is its position in the vector index.
func Corpus(t *domain.Tables) []Fact {
	if t == nil {
		return nil
	}
	out := make([]Fact, 0, len(t.Items)+len(t.Suppliers)+len(t.Shipments)+len(t.Returns))
	for i, it := range t.Items {
		out = append(out, newFact(domain.TableInventory, i, ItemText(it)))
	}
	for i, s := range t.Suppliers {
		out = append(out, newFact(domain.TableSuppliers, i, SupplierText(s)))
	}
	for i, s := range t.Shipments {
		out = append(out, newFact(domain.TableLogistics, i, ShipmentText(s)))
	}
	for i, r := range t.Returns {
		out = append(out, newFact(domain.TableReturns, i, ReturnText(r)))
	}
	return out
}

// Texts returns the fact texts in corpus order.
func Texts(facts []Fact) []string {
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = f.Text
	}
	return out
}

// FactID is the deterministic id of the row-th fact of table.
func FactID(table string, row int) string {
	return uuid.NewSHA1(factNamespace, []byte(table+":"+strconv.Itoa(row))).String()
}

func newFact(table string, row int, text string) Fact {
	return Fact{ID: FactID(table, row), Table: table, Row: row, Text: text}
}

func ItemText(it domain.Item) string {
	return fmt.Sprintf("Item: %s (Stock: %d, Demand: %d)", it.Name, it.Stock, it.Demand)
}

func SupplierText(s domain.Supplier) string {
	return fmt.Sprintf("Supplier: %s (On-time: %s, Return rate: %s)",
		s.Name, formatRate(s.OnTimeRate), formatRate(s.ReturnRate))
}

func ShipmentText(s domain.Shipment) string {
	return fmt.Sprintf("Shipment: %s for Item %s via %s (Delayed: %s, Reason: %s)",
		s.ShipmentID, s.ItemID, s.Carrier, domain.FormatDelayed(s.Delayed), s.DelayReason)
}

func ReturnText(r domain.Return) string {
	return fmt.Sprintf("Return: %s for Item %s by Customer %s (Reason: %s, Date: %s)",
		r.ReturnID, r.ItemID, r.CustomerID, r.Reason, r.Date)
}

// formatRate prints the shortest exact form and keeps one decimal for whole
// numbers, so 1 renders as "1.0" and 0.95 as "0.95".
func formatRate(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
