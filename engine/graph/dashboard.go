package graph

import (
	"context"
	"math"
)

// LowStockThreshold is the stock level below which an item counts as low.
const LowStockThreshold = 50

// KPIs are the headline dashboard numbers.
type KPIs struct {
	TotalShipments   int64   `json:"total_shipments"`
	DelayedShipments int64   `json:"delayed_shipments"`
	LowStockItems    int64   `json:"low_stock_items"`
	ReturnRate       float64 `json:"return_rate"`
}

// CarrierScore is the on-time percentage of one carrier.
type CarrierScore struct {
	Name        string  `json:"name"`
	Performance float64 `json:"performance"`
}

// DelayTrend summarises delays of one carrier.
type DelayTrend struct {
	Carrier   string  `json:"carrier"`
	Total     int64   `json:"total"`
	Delayed   int64   `json:"delayed"`
	DelayRate float64 `json:"delay_rate"`
}

// StockLevel is one item's stock against its predicted demand.
type StockLevel struct {
	Name   string `json:"name"`
	Stock  int64  `json:"stock"`
	Demand int64  `json:"demand"`
}

// SupplierScore is one supplier with the number of items it supplies.
type SupplierScore struct {
	Name       string  `json:"name"`
	OnTimeRate float64 `json:"on_time_rate"`
	ReturnRate float64 `json:"return_rate"`
	ItemCount  int64   `json:"item_count"`
}

// CarrierDelay lists the delay reasons of one carrier.
type CarrierDelay struct {
	Carrier    string   `json:"carrier"`
	DelayCount int64    `json:"delay_count"`
	Reasons    []string `json:"reasons"`
}

// ReasonCount is one return reason with its frequency.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

const (
	cypherCountShipments = `MATCH (:Item)-[:SHIPPED_VIA]->(:Carrier) RETURN count(*) AS count`
	cypherCountDelayed   = `MATCH (:Item)-[r:SHIPPED_VIA]->(:Carrier) WHERE r.delayed = true RETURN count(*) AS count`
	cypherCountLowStock  = `MATCH (i:Item) WHERE i.stock < $threshold RETURN count(*) AS count`
	cypherCountReturns   = `MATCH (:Item)-[:RETURNED_BY]->(:Customer) RETURN count(*) AS count`

	cypherCarrierPerformance = `MATCH (:Item)-[r:SHIPPED_VIA]->(c:Carrier)
WITH c.name AS carrier, count(*) AS total, sum(CASE WHEN r.delayed = true THEN 1 ELSE 0 END) AS delayed
RETURN carrier, round((total - delayed) * 100.0 / total) AS performance
ORDER BY performance DESC, carrier ASC`

	cypherDelayTrends = `MATCH (:Item)-[r:SHIPPED_VIA]->(c:Carrier)
WITH c.name AS carrier, count(*) AS total, sum(CASE WHEN r.delayed = true THEN 1 ELSE 0 END) AS delayed
RETURN carrier, total, delayed
ORDER BY delayed DESC, carrier ASC
LIMIT 5`

	cypherLowStock = `MATCH (i:Item)
WHERE i.stock < $threshold
RETURN i.name AS name, i.stock AS stock, i.predicted_demand AS demand
ORDER BY i.stock ASC
LIMIT 10`

	cypherHighDemand = `MATCH (i:Item)
WHERE i.predicted_demand > i.stock
RETURN i.name AS name, i.stock AS stock, i.predicted_demand AS demand
ORDER BY (i.predicted_demand - i.stock) DESC
LIMIT 10`

	cypherSupplierPerformance = `MATCH (s:Supplier)
OPTIONAL MATCH (i:Item)-[:SUPPLIED_BY]->(s)
WITH s, count(i) AS item_count
RETURN s.name AS name, s.on_time_rate AS on_time_rate, s.return_rate AS return_rate, item_count
ORDER BY s.on_time_rate DESC`

	cypherCarrierDelays = `MATCH (:Item)-[r:SHIPPED_VIA]->(c:Carrier)
WHERE r.delayed = true
WITH c.name AS carrier, count(*) AS delay_count, collect(r.reason) AS reasons
RETURN carrier, delay_count, reasons
ORDER BY delay_count DESC`

	cypherReturnReasons = `MATCH (:Item)-[r:RETURNED_BY]->(:Customer)
WITH r.reason AS reason, count(*) AS count
RETURN reason, count
ORDER BY count DESC, reason ASC`
)

// KPIs computes the headline numbers. The return rate is returns per
// shipment as a percentage with one decimal, 0 when there are no shipments.
func (s *Store) KPIs(ctx context.Context) (KPIs, error) {
	var k KPIs
	var err error
	if k.TotalShipments, err = s.count(ctx, cypherCountShipments, nil); err != nil {
		return KPIs{}, err
	}
	if k.DelayedShipments, err = s.count(ctx, cypherCountDelayed, nil); err != nil {
		return KPIs{}, err
	}
	if k.LowStockItems, err = s.count(ctx, cypherCountLowStock, map[string]any{"threshold": int64(LowStockThreshold)}); err != nil {
		return KPIs{}, err
	}
	returns, err := s.count(ctx, cypherCountReturns, nil)
	if err != nil {
		return KPIs{}, err
	}
	if k.TotalShipments > 0 {
		k.ReturnRate = round1(float64(returns) / float64(k.TotalShipments) * 100)
	}
	return k, nil
}

// CarrierPerformance returns the on-time percentage per carrier, best first.
func (s *Store) CarrierPerformance(ctx context.Context) ([]CarrierScore, error) {
	recs, err := s.Query(ctx, cypherCarrierPerformance, nil)
	if err != nil {
		return nil, err
	}
	out := make([]CarrierScore, 0, len(recs))
	for _, r := range recs {
		out = append(out, CarrierScore{Name: r.String("carrier"), Performance: r.Float("performance")})
	}
	return out, nil
}

// DelayTrends returns the five carriers with the most delays.
func (s *Store) DelayTrends(ctx context.Context) ([]DelayTrend, error) {
	recs, err := s.Query(ctx, cypherDelayTrends, nil)
	if err != nil {
		return nil, err
	}
	out := make([]DelayTrend, 0, len(recs))
	for _, r := range recs {
		t := DelayTrend{Carrier: r.String("carrier"), Total: r.Int("total"), Delayed: r.Int("delayed")}
		if t.Total > 0 {
			t.DelayRate = round1(float64(t.Delayed) / float64(t.Total) * 100)
		}
		out = append(out, t)
	}
	return out, nil
}

// LowStock returns up to ten items below LowStockThreshold, lowest first.
func (s *Store) LowStock(ctx context.Context) ([]StockLevel, error) {
	return s.stockLevels(ctx, cypherLowStock, map[string]any{"threshold": int64(LowStockThreshold)})
}

// HighDemand returns up to ten items whose demand exceeds stock, largest
// shortfall first.
func (s *Store) HighDemand(ctx context.Context) ([]StockLevel, error) {
	return s.stockLevels(ctx, cypherHighDemand, nil)
}

func (s *Store) stockLevels(ctx context.Context, cypher string, params map[string]any) ([]StockLevel, error) {
	recs, err := s.Query(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]StockLevel, 0, len(recs))
	for _, r := range recs {
		out = append(out, StockLevel{Name: r.String("name"), Stock: r.Int("stock"), Demand: r.Int("demand")})
	}
	return out, nil
}

// SupplierPerformance returns every supplier, most punctual first.
func (s *Store) SupplierPerformance(ctx context.Context) ([]SupplierScore, error) {
	recs, err := s.Query(ctx, cypherSupplierPerformance, nil)
	if err != nil {
		return nil, err
	}
	out := make([]SupplierScore, 0, len(recs))
	for _, r := range recs {
		out = append(out, SupplierScore{
			Name:       r.String("name"),
			OnTimeRate: r.Float("on_time_rate"),
			ReturnRate: r.Float("return_rate"),
			ItemCount:  r.Int("item_count"),
		})
	}
	return out, nil
}

// CarrierDelays returns delayed shipment counts and reasons per carrier.
func (s *Store) CarrierDelays(ctx context.Context) ([]CarrierDelay, error) {
	recs, err := s.Query(ctx, cypherCarrierDelays, nil)
	if err != nil {
		return nil, err
	}
	out := make([]CarrierDelay, 0, len(recs))
	for _, r := range recs {
		out = append(out, CarrierDelay{
			Carrier:    r.String("carrier"),
			DelayCount: r.Int("delay_count"),
			Reasons:    r.Strings("reasons"),
		})
	}
	return out, nil
}

// ReturnReasons returns return reasons by frequency.
func (s *Store) ReturnReasons(ctx context.Context) ([]ReasonCount, error) {
	recs, err := s.Query(ctx, cypherReturnReasons, nil)
	if err != nil {
		return nil, err
	}
	out := make([]ReasonCount, 0, len(recs))
	for _, r := range recs {
		out = append(out, ReasonCount{Reason: r.String("reason"), Count: r.Int("count")})
	}
	return out, nil
}

func (s *Store) count(ctx context.Context, cypher string, params map[string]any) (int64, error) {
	recs, err := s.Query(ctx, cypher, params)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[0].Int("count"), nil
}

// String returns the string value of key, or "".
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Int returns the numeric value of key as int64.
func (r Record) Int(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Float returns the numeric value of key as float64.
func (r Record) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Strings returns a list value of key, skipping non-string elements.
func (r Record) Strings(key string) []string {
	list, _ := r[key].([]any)
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
