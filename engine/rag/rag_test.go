package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/intellia-labs/nexus/engine/domain"
	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/prompt"
	"github.com/intellia-labs/nexus/engine/stats"
	"github.com/intellia-labs/nexus/engine/vectorindex"
	"github.com/intellia-labs/nexus/pkg/metrics"
)

// --- mocks ---

type mockVectors struct {
	hits  []vectorindex.Hit
	err   error
	calls atomic.Int32
	lastK int
}

func (m *mockVectors) Search(_ context.Context, _ string, k int) ([]vectorindex.Hit, error) {
	m.calls.Add(1)
	m.lastK = k
	return m.hits, m.err
}

type mockGraph struct {
	mu     sync.Mutex
	rows   []graph.Record
	err    error
	panics bool
	calls  int
	params []map[string]any
}

func (m *mockGraph) Query(_ context.Context, cypher string, params map[string]any) ([]graph.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.params = append(m.params, params)
	if m.panics {
		panic("driver exploded")
	}
	if cypher != RelatedCypher {
		return nil, errors.New("unexpected cypher")
	}
	return m.rows, m.err
}

// stallingGraph waits for the caller to give up while stall is set.
type stallingGraph struct {
	stall atomic.Bool
	calls atomic.Int32
}

func (m *stallingGraph) Query(ctx context.Context, _ string, _ map[string]any) ([]graph.Record, error) {
	m.calls.Add(1)
	if m.stall.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []graph.Record{{"name": "Acme"}}, nil
}

type mockCompleter struct {
	reply       string
	err         error
	block       bool
	panics      bool
	calls       int
	prompt      string
	maxTokens   int
	temperature float32
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	m.calls++
	m.prompt = prompt
	m.maxTokens = maxTokens
	m.temperature = temperature
	if m.panics {
		panic("completion exploded")
	}
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.reply, m.err
}

type panicStats struct{}

func (panicStats) Summarize(string) string { panic("bad table") }

// --- helpers ---

func testTables() *domain.Tables {
	return &domain.Tables{
		Suppliers: []domain.Supplier{
			{SupplierID: "S1", Name: "Acme", ItemID: "I1", OnTimeRate: 0.9, ReturnRate: 0.05},
		},
		Shipments: []domain.Shipment{
			{ShipmentID: "SH1", ItemID: "I1", Carrier: "FastShip", Delayed: true, DelayReason: "Weather"},
			{ShipmentID: "SH2", ItemID: "I1", Carrier: "FastShip", Delayed: true, DelayReason: "Customs"},
			{ShipmentID: "SH3", ItemID: "I1", Carrier: "SlowPost", Delayed: false},
		},
	}
}

type fixture struct {
	vectors   *mockVectors
	graph     *mockGraph
	completer *mockCompleter
	reg       *metrics.Registry
	logs      *bytes.Buffer
	svc       *Service
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		vectors: &mockVectors{hits: []vectorindex.Hit{
			{Position: 0, Text: "Shipment: SH1 for Item I1 via FastShip (Delayed: yes, Reason: Weather)", Distance: 0.1},
		}},
		graph:     &mockGraph{},
		completer: &mockCompleter{reply: "<p>FastShip has the most delays.</p>"},
		reg:       metrics.New(),
		logs:      &bytes.Buffer{},
	}
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	f.svc = New(Deps{
		Vectors:   f.vectors,
		Stats:     stats.New(testTables()),
		Graph:     f.graph,
		Completer: f.completer,
		Composer:  prompt.New(nil),
		Metrics:   metrics.NewPipeline(f.reg),
	}, opts, slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return f
}

func trailString(trail []State) string {
	parts := make([]string, len(trail))
	for i, s := range trail {
		parts[i] = s.String()
	}
	return strings.Join(parts, ">")
}

// --- tests ---

func TestRun_CarrierQuestion(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.Run(context.Background(), "Which carrier has the most delays?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "<p>FastShip has the most delays.</p>" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if f.completer.calls != 1 {
		t.Fatalf("completer called %d times, want 1", f.completer.calls)
	}
	if f.completer.maxTokens != 500 || f.completer.temperature != 0.3 {
		t.Fatalf("completion params = %d, %v", f.completer.maxTokens, f.completer.temperature)
	}
	if f.vectors.lastK != 5 {
		t.Fatalf("top_k = %d, want 5", f.vectors.lastK)
	}

	p := f.completer.prompt
	if !strings.Contains(p, "Carrier Delay Counts:") {
		t.Fatalf("prompt missing delay counts:\n%s", p)
	}
	if !regexp.MustCompile(`FastShip\s+2`).MatchString(p) {
		t.Fatalf("prompt missing FastShip delay count:\n%s", p)
	}
	if !strings.Contains(p, "via FastShip") {
		t.Fatal("prompt missing vector hit")
	}
	if got := trailString(res.Trail); got != "idle>retrieving>composing>generating>done" {
		t.Fatalf("trail = %s", got)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("sources = %v", res.Sources)
	}
}

func TestRun_GraphUsesFirstToken(t *testing.T) {
	f := newFixture(t, nil)
	f.graph.rows = []graph.Record{{"i": map[string]any{"name": "Widget"}}}

	if _, err := f.svc.Run(context.Background(), "Widget supplier status"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.graph.calls != 1 {
		t.Fatalf("graph calls = %d", f.graph.calls)
	}
	if q := f.graph.params[0]["q"]; q != "Widget" {
		t.Fatalf("$q = %v, want Widget", q)
	}
	if strings.Contains(f.completer.prompt, prompt.NoGraphData) {
		t.Fatal("graph rows should replace the placeholder")
	}
}

func TestRun_NoGraphTermSkipsGraph(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.Run(context.Background(), "how are returns trending"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.graph.calls != 0 {
		t.Fatalf("graph should not be queried, got %d calls", f.graph.calls)
	}
	if !strings.Contains(f.completer.prompt, prompt.NoGraphData) {
		t.Fatal("expected graph placeholder")
	}
}

func TestRun_GraphFailureDegrades(t *testing.T) {
	f := newFixture(t, nil)
	f.graph.err = domain.ErrStoreUnavailable

	res, err := f.svc.Run(context.Background(), "Which supplier is most reliable?")
	if err != nil {
		t.Fatalf("graph failure must not fail the query: %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected an answer")
	}
	if !strings.Contains(f.completer.prompt, prompt.NoGraphData) {
		t.Fatal("expected graph placeholder in prompt")
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != "graph" {
		t.Fatalf("degraded = %v", res.Degraded)
	}
	if !strings.Contains(f.reg.Render(), `nexus_degraded_steps_total{step="graph"} 1`) {
		t.Fatal("degraded step not counted")
	}
}

func TestRun_GraphPanicDegrades(t *testing.T) {
	f := newFixture(t, nil)
	f.graph.panics = true

	res, err := f.svc.Run(context.Background(), "customer complaints")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Degraded) != 1 {
		t.Fatalf("degraded = %v", res.Degraded)
	}
}

func TestRun_BreakerSkipsGraphWhenOpen(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.BreakerThreshold = 2
		o.BreakerCooldown = time.Hour
	})
	f.graph.err = domain.ErrStoreUnavailable

	for i := 0; i < 4; i++ {
		if _, err := f.svc.Run(context.Background(), "item stock"); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	if f.graph.calls != 2 {
		t.Fatalf("graph calls = %d, want 2 before the breaker opens", f.graph.calls)
	}
	if !strings.Contains(f.reg.Render(), `nexus_breaker_open{breaker="graph"} 1`) {
		t.Fatal("breaker state not exported")
	}
}

func TestRun_SyntaxErrorsDoNotTripBreaker(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.BreakerThreshold = 1 })
	f.graph.err = domain.ErrQuerySyntax

	for i := 0; i < 3; i++ {
		_, _ = f.svc.Run(context.Background(), "item stock")
	}
	if f.graph.calls != 3 {
		t.Fatalf("graph calls = %d, want 3", f.graph.calls)
	}
}

func TestRun_CancelledGraphLookupsDoNotTripBreaker(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.BreakerThreshold = 2
		o.BreakerCooldown = time.Hour
	})
	g := &stallingGraph{}
	g.stall.Store(true)
	f.svc.deps.Graph = g
	f.vectors.err = domain.ErrIndexNotReady

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Run(context.Background(), "supplier status"); !errors.Is(err, domain.ErrIndexNotReady) {
			t.Fatalf("Run %d err = %v, want ErrIndexNotReady", i, err)
		}
	}

	f.vectors.err = nil
	g.stall.Store(false)
	res, err := f.svc.Run(context.Background(), "supplier status")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Degraded) != 0 {
		t.Fatalf("degraded = %v, want graph context", res.Degraded)
	}
	if got := g.calls.Load(); got != 4 {
		t.Fatalf("graph calls = %d, want 4", got)
	}
	if strings.Contains(f.reg.Render(), `nexus_breaker_open{breaker="graph"} 1`) {
		t.Fatal("breaker opened on cancelled lookups")
	}
}

func TestRun_LogsTriggeredStatsGates(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Run(context.Background(), "which carrier has the most delay"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(f.logs.String(), `msg="rag stats gates" gates=[logistics]`) {
		t.Fatalf("gates not logged:\n%s", f.logs.String())
	}
}

func TestRun_EmptyQuery(t *testing.T) {
	for _, q := range []string{"", "   \t\n"} {
		f := newFixture(t, nil)

		res, err := f.svc.Run(context.Background(), q)
		if !errors.Is(err, domain.ErrEmptyQuery) {
			t.Fatalf("Run(%q) err = %v, want ErrEmptyQuery", q, err)
		}
		if f.vectors.calls.Load() != 0 || f.completer.calls != 0 {
			t.Fatal("embedder and completer must not be invoked")
		}
		if got := trailString(res.Trail); got != "idle>retrieving>failed" {
			t.Fatalf("trail = %s", got)
		}
	}
}

func TestAnswer_FormatsErrors(t *testing.T) {
	f := newFixture(t, nil)

	got := f.svc.Answer(context.Background(), "")
	if !strings.HasPrefix(got, "<div style='color: red;'>Error processing query: ") || !strings.HasSuffix(got, "</div>") {
		t.Fatalf("unexpected message %q", got)
	}
	if !strings.Contains(got, "empty query") {
		t.Fatalf("message should name the failure: %q", got)
	}
}

func TestAnswer_ReturnsTextVerbatim(t *testing.T) {
	f := newFixture(t, nil)
	if got := f.svc.Answer(context.Background(), "carrier delays"); got != f.completer.reply {
		t.Fatalf("got %q", got)
	}
}

func TestRun_VectorFailureFails(t *testing.T) {
	f := newFixture(t, nil)
	f.vectors.err = domain.ErrIndexNotReady

	res, err := f.svc.Run(context.Background(), "carrier delays")
	if !errors.Is(err, domain.ErrIndexNotReady) {
		t.Fatalf("err = %v", err)
	}
	if f.completer.calls != 0 {
		t.Fatal("completer must not run after a retrieval failure")
	}
	if got := trailString(res.Trail); got != "idle>retrieving>failed" {
		t.Fatalf("trail = %s", got)
	}
}

func TestRun_StatsPanicFails(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.deps.Stats = panicStats{}

	_, err := f.svc.Run(context.Background(), "returns")
	if !errors.Is(err, errStepPanic) {
		t.Fatalf("err = %v, want step panic", err)
	}
}

func TestRun_GenerationFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.completer.err = errors.New("model offline")

	res, err := f.svc.Run(context.Background(), "carrier delays")
	if !errors.Is(err, domain.ErrGenerationFailure) {
		t.Fatalf("err = %v", err)
	}
	if got := trailString(res.Trail); got != "idle>retrieving>composing>generating>failed" {
		t.Fatalf("trail = %s", got)
	}
	if !strings.Contains(f.reg.Render(), `nexus_queries_total{outcome="failed"} 1`) {
		t.Fatal("failed query not counted")
	}
}

func TestRun_GenerationTimeout(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.CompletionTimeout = 10 * time.Millisecond })
	f.completer.block = true

	_, err := f.svc.Run(context.Background(), "carrier delays")
	if !errors.Is(err, domain.ErrGenerationFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_CompleterPanic(t *testing.T) {
	f := newFixture(t, nil)
	f.completer.panics = true

	res, err := f.svc.Run(context.Background(), "carrier delays")
	if !errors.Is(err, errStepPanic) {
		t.Fatalf("err = %v", err)
	}
	if res.Trail[len(res.Trail)-1] != StateFailed {
		t.Fatalf("trail = %s", trailString(res.Trail))
	}
}

func TestMerge(t *testing.T) {
	hits := []vectorindex.Hit{{Position: 1, Text: "x"}}
	rows := []graph.Record{{"n": 1}}

	got, err := merge(data(hits, false), data("stats", false), data(rows, false))
	if err != nil || len(got.Hits) != 1 || got.Stats != "stats" || len(got.Graph) != 1 || got.Degraded != nil {
		t.Fatalf("merge = %+v, %v", got, err)
	}

	got, err = merge(data(hits, false), data("", true), degraded[[]graph.Record](errors.New("down")))
	if err != nil || got.Graph != nil || len(got.Degraded) != 1 {
		t.Fatalf("degraded merge = %+v, %v", got, err)
	}

	if _, err := merge(failed[[]vectorindex.Hit](domain.ErrIndexNotReady), data("", true), data[[]graph.Record](nil, true)); !errors.Is(err, domain.ErrIndexNotReady) {
		t.Fatalf("vector failure err = %v", err)
	}
}

func TestWantsGraphAndFirstToken(t *testing.T) {
	cases := map[string]bool{
		"Which CARRIER is late?": true,
		"customer returns":       true,
		"Items low on stock":     true,
		"delay trends":           false,
	}
	for q, want := range cases {
		if got := wantsGraph(q); got != want {
			t.Errorf("wantsGraph(%q) = %v", q, got)
		}
	}
	if firstToken("  Widget  supplier ") != "Widget" || firstToken("") != "" {
		t.Fatal("firstToken")
	}
}

func TestErrorMessageEscapes(t *testing.T) {
	got := ErrorMessage(errors.New("<script>"))
	if strings.Contains(got, "<script>") {
		t.Fatalf("message not escaped: %s", got)
	}
}

func TestResultTrailRoundTrip(t *testing.T) {
	in := Result{Text: "ok", Trail: []State{StateIdle, StateRetrieving, StateFailed}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"trail":["idle","retrieving","failed"]`) {
		t.Fatalf("unexpected encoding %s", data)
	}

	var out Result
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Trail) != 3 || out.Trail[2] != StateFailed {
		t.Fatalf("trail = %v", out.Trail)
	}

	var s State
	if err := s.UnmarshalText([]byte("sleeping")); err == nil {
		t.Fatal("expected error for unknown state")
	}
}
