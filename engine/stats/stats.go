// Package stats renders keyword-gated statistical summaries of the cached
// source tables for the prompt.
package stats

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/intellia-labs/nexus/engine/domain"
)

// Gate adds its aggregates to a summary when the query mentions any of its
// terms. Aggregate returns finished blocks; each block is a header line
// followed by its rows.
type Gate struct {
	Name      string
	Terms     []string
	Aggregate func(t *domain.Tables) []string
}

// DefaultGates are the logistics, supplier and returns gates, in output order.
func DefaultGates() []Gate {
	return []Gate{
		{Name: "logistics", Terms: []string{"carrier", "delay", "logistics"}, Aggregate: logisticsBlocks},
		{Name: "supplier", Terms: []string{"supplier", "return"}, Aggregate: supplierBlocks},
		{Name: "returns", Terms: []string{"return"}, Aggregate: returnsBlocks},
	}
}

// Summarizer is a pure function of the query over a read-only snapshot.
type Summarizer struct {
	tables *domain.Tables
	gates  []Gate
}

// New creates a Summarizer with DefaultGates.
func New(tables *domain.Tables) *Summarizer {
	return NewWithGates(tables, DefaultGates())
}

// NewWithGates creates a Summarizer with custom gates.
func NewWithGates(tables *domain.Tables, gates []Gate) *Summarizer {
	if tables == nil {
		tables = &domain.Tables{}
	}
	return &Summarizer{tables: tables, gates: gates}
}

// Summarize returns the blocks of every gate the query triggers, joined by
// a blank line. No triggered gate yields "".
func (s *Summarizer) Summarize(query string) string {
	var blocks []string
	for _, g := range s.gates {
		if domain.QueryMentions(query, g.Terms...) {
			blocks = append(blocks, g.Aggregate(s.tables)...)
		}
	}
	return strings.Join(blocks, "\n\n")
}

// Triggered returns the names of the gates the query triggers.
func (s *Summarizer) Triggered(query string) []string {
	var names []string
	for _, g := range s.gates {
		if domain.QueryMentions(query, g.Terms...) {
			names = append(names, g.Name)
		}
	}
	return names
}

func logisticsBlocks(t *domain.Tables) []string {
	delays := map[string]int{}
	totals := map[string]int{}
	for _, sh := range t.Shipments {
		totals[sh.Carrier]++
		if sh.Delayed {
			delays[sh.Carrier]++
		}
	}
	return []string{
		table("Carrier Delay Counts:", []string{"carrier", "delayed"}, countRows(delays)),
		table("Total Shipments per Carrier:", []string{"carrier", "shipments"}, countRows(totals)),
	}
}

func supplierBlocks(t *domain.Tables) []string {
	type acc struct {
		onTime, returns float64
		n               int
	}
	bySupplier := map[string]*acc{}
	for _, sp := range t.Suppliers {
		a := bySupplier[sp.Name]
		if a == nil {
			a = &acc{}
			bySupplier[sp.Name] = a
		}
		a.onTime += sp.OnTimeRate
		a.returns += sp.ReturnRate
		a.n++
	}

	names := sortedKeys(bySupplier)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		a := bySupplier[name]
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%.3f", round3(a.onTime/float64(a.n))),
			fmt.Sprintf("%.3f", round3(a.returns/float64(a.n))),
		})
	}
	return []string{
		table("Supplier Performance (Avg On-Time & Return Rates):", []string{"supplier_name", "on_time_rate", "return_rate"}, rows),
	}
}

// MaxReturnReasons bounds the reasons listed in the returns block.
const MaxReturnReasons = 10

func returnsBlocks(t *domain.Tables) []string {
	reasons := map[string]int{}
	for _, r := range t.Returns {
		reasons[r.Reason]++
	}
	ranked := make([]reasonCount, 0, len(reasons))
	for r, n := range reasons {
		ranked = append(ranked, reasonCount{r, n})
	}
	slices.SortFunc(ranked, func(a, b reasonCount) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.reason, b.reason)
	})
	if len(ranked) > MaxReturnReasons {
		ranked = ranked[:MaxReturnReasons]
	}
	rows := make([][]string, len(ranked))
	for i, rc := range ranked {
		rows[i] = []string{rc.reason, fmt.Sprint(rc.count)}
	}

	returns, shipments := len(t.Returns), len(t.Shipments)
	return []string{
		fmt.Sprintf("Total Returns: %d", returns),
		table("Top Return Reasons:", []string{"return_reason", "count"}, rows),
		fmt.Sprintf("Return Rate: %.1f%% (%d returns out of %d shipments)", ReturnRate(returns, shipments), returns, shipments),
	}
}

type reasonCount struct {
	reason string
	count  int
}

// ReturnRate is returns per shipment as a percentage rounded to one
// decimal, 0 when there are no shipments.
func ReturnRate(returns, shipments int) float64 {
	if shipments <= 0 {
		return 0
	}
	return math.Round(float64(returns)/float64(shipments)*1000) / 10
}

func countRows(m map[string]int) [][]string {
	keys := sortedKeys(m)
	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{k, fmt.Sprint(m[k])}
	}
	return rows
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// table renders a titled, column-aligned block.
func table(title string, header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteByte('\n')
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
