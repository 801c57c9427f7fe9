// Package prompt assembles the grounded completion prompt from the
// retrieved context.
package prompt

import (
	"fmt"
	"slices"
	"strings"

	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/vectorindex"
)

// NoGraphData replaces the graph section when there are no graph rows.
const NoGraphData = "No related graph data found."

// InsightProvider supplies the narrative insight section.
type InsightProvider interface {
	Insight() string
}

// StaticInsight is a fixed narrative. It is not derived from the dataset.
type StaticInsight string

func (s StaticInsight) Insight() string { return string(s) }

// SupplierChartInsight is the canned reading of the supplier performance
// chart shown on the dashboard.
const SupplierChartInsight StaticInsight = `From the 'Supplier Return & On-Time Rates (last month)' chart:
- Top performing suppliers include: Supplier Beta, Advanced Solutions, Core Systems, Global Parts Ltd.
- Relatively lower performance observed from: Supplier Xi, Supplier Zeta, TechCorp Inc.
- Overall, supplier performance appears consistent across most vendors.
- Suggest prioritizing high-performing suppliers for critical shipments.`

const instructions = `Instructions:
1. Answer based on the full dataset insights and factual numbers.
2. Clearly mention which carriers, suppliers, or items are performing better or worse.
3. Include specific statistics like counts and percentages.
4. Point out any operational risks, inefficiencies, or key takeaways.
5. Write in simple, clear language, avoiding repetition.
6. Format your response as HTML with proper tags for better UI rendering:
   - Use <h3> for main insights
   - Use <ul><li> for lists
   - Use <strong> for important numbers/percentages
   - Use <p> for paragraphs
   - Use <div style="color: red;"> for risks/warnings
   - Use <div style="color: green;"> for positive insights`

// Composer builds prompts. It holds no per-query state.
type Composer struct {
	insight InsightProvider
}

// New creates a Composer. A nil provider uses SupplierChartInsight.
func New(insight InsightProvider) *Composer {
	if insight == nil {
		insight = SupplierChartInsight
	}
	return &Composer{insight: insight}
}

// Compose renders the prompt sections in a fixed order: query, vector hits,
// statistics, insight, graph rows, instructions.
func (c *Composer) Compose(query string, hits []vectorindex.Hit, statsText string, graphRows []graph.Record) string {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}

	var b strings.Builder
	b.WriteString("You are an intelligent assistant analyzing supply chain and logistics data.\n\n")
	section(&b, "User Query", query)
	section(&b, "Relevant Context from Vector Search", strings.Join(texts, "\n---\n"))
	section(&b, "Statistical Analysis from Dataset", statsText)
	section(&b, "Supplier Visual Performance Insight", strings.TrimSpace(c.insight.Insight()))
	section(&b, "Graph Database Insights", RenderGraph(graphRows))
	b.WriteString(instructions)
	return b.String()
}

func section(b *strings.Builder, title, body string) {
	b.WriteString(title)
	b.WriteString(":\n")
	b.WriteString(body)
	b.WriteString("\n\n")
}

// RenderGraph prints one row per line with keys in sorted order, or
// NoGraphData when rows is empty.
func RenderGraph(rows []graph.Record) string {
	if len(rows) == 0 {
		return NoGraphData
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = renderValue(map[string]any(r))
	}
	return strings.Join(lines, "\n")
}

func renderValue(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + renderValue(t[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = renderValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return t
	}
	return fmt.Sprint(v)
}
