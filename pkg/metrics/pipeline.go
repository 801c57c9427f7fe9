package metrics

import "time"

// Query outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeEmpty    = "empty_query"
	OutcomeFailed   = "failed"
	OutcomeDegraded = "degraded"
)

// Pipeline bundles the series recorded by the query and ingest pipelines.
// A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	reg *Registry
}

// NewPipeline registers the pipeline families on reg.
func NewPipeline(reg *Registry) *Pipeline {
	reg.Counter("nexus_queries_total", "Queries answered, by outcome.")
	reg.Histogram("nexus_step_duration_seconds", "Duration of pipeline steps.", nil)
	reg.Counter("nexus_degraded_steps_total", "Retrieval sub-steps that degraded to a placeholder.")
	reg.Gauge("nexus_index_facts", "Facts in the loaded vector index.")
	reg.Counter("nexus_ingested_rows_total", "Rows written by ingestion, by table.")
	reg.Gauge("nexus_breaker_open", "1 while a circuit breaker is open.")
	return &Pipeline{reg: reg}
}

// Query counts one finished query.
func (p *Pipeline) Query(outcome string) {
	if p == nil {
		return
	}
	p.reg.Counter(WithLabels("nexus_queries_total", "outcome", outcome), "").Inc()
}

// Step observes the duration of a named step.
func (p *Pipeline) Step(step string, start time.Time) {
	if p == nil {
		return
	}
	p.reg.Histogram(WithLabels("nexus_step_duration_seconds", "step", step), "", nil).Since(start)
}

// Degraded counts a sub-step that fell back to its placeholder.
func (p *Pipeline) Degraded(step string) {
	if p == nil {
		return
	}
	p.reg.Counter(WithLabels("nexus_degraded_steps_total", "step", step), "").Inc()
}

// IndexFacts records the size of the loaded index.
func (p *Pipeline) IndexFacts(n int) {
	if p == nil {
		return
	}
	p.reg.Gauge("nexus_index_facts", "").Set(int64(n))
}

// Ingested counts rows written for a table.
func (p *Pipeline) Ingested(table string, n int) {
	if p == nil {
		return
	}
	p.reg.Counter(WithLabels("nexus_ingested_rows_total", "table", table), "").Add(int64(n))
}

// BreakerOpen records whether the named breaker is open.
func (p *Pipeline) BreakerOpen(name string, open bool) {
	if p == nil {
		return
	}
	var v int64
	if open {
		v = 1
	}
	p.reg.Gauge(WithLabels("nexus_breaker_open", "breaker", name), "").Set(v)
}
