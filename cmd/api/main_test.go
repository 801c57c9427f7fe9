package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/intellia-labs/nexus/engine/domain"
	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/rag"
	"github.com/intellia-labs/nexus/engine/vectorindex"
	"github.com/intellia-labs/nexus/pkg/metrics"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockQuerier struct {
	res   *rag.Result
	err   error
	query string
}

func (m *mockQuerier) Run(_ context.Context, query string) (*rag.Result, error) {
	m.query = query
	if m.res == nil {
		return &rag.Result{}, m.err
	}
	return m.res, m.err
}

type mockDashboard struct {
	err error
}

func (m *mockDashboard) KPIs(context.Context) (graph.KPIs, error) {
	return graph.KPIs{TotalShipments: 10, DelayedShipments: 3, LowStockItems: 2, ReturnRate: 20}, m.err
}

func (m *mockDashboard) CarrierPerformance(context.Context) ([]graph.CarrierScore, error) {
	return []graph.CarrierScore{{Name: "UPS", Performance: 90}}, m.err
}

func (m *mockDashboard) DelayTrends(context.Context) ([]graph.DelayTrend, error) {
	return []graph.DelayTrend{{Carrier: "UPS", Total: 10, Delayed: 1}}, m.err
}

func (m *mockDashboard) LowStock(context.Context) ([]graph.StockLevel, error) {
	return []graph.StockLevel{{Name: "Widget", Stock: 5, Demand: 40}}, m.err
}

func (m *mockDashboard) HighDemand(context.Context) ([]graph.StockLevel, error) {
	return []graph.StockLevel{{Name: "Gadget", Stock: 10, Demand: 90}}, m.err
}

func (m *mockDashboard) SupplierPerformance(context.Context) ([]graph.SupplierScore, error) {
	return []graph.SupplierScore{{Name: "Acme", OnTimeRate: 0.9, ItemCount: 2}}, m.err
}

func (m *mockDashboard) CarrierDelays(context.Context) ([]graph.CarrierDelay, error) {
	return []graph.CarrierDelay{{Carrier: "UPS", DelayCount: 1, Reasons: []string{"Weather"}}}, m.err
}

func (m *mockDashboard) ReturnReasons(context.Context) ([]graph.ReasonCount, error) {
	return []graph.ReasonCount{{Reason: "Damaged", Count: 4}}, m.err
}

func newTestHandler(q Querier, d Dashboard, reg *metrics.Registry) http.Handler {
	s := &server{rag: q, dash: d, graphReady: d != nil, indexReady: func() bool { return true }, logger: quiet}
	return newHandler(s, reg, "*", quiet)
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(&mockQuerier{}, &mockDashboard{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || !resp.Graph || !resp.Index {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestHealthDegradedWithoutIndex(t *testing.T) {
	s := &server{indexReady: func() bool { return false }, logger: quiet}
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Fatalf("expected degraded, got %s", resp.Status)
	}
}

func TestQueryEndpoint(t *testing.T) {
	q := &mockQuerier{res: &rag.Result{
		Text:    "FedEx has the most delays.",
		Sources: []vectorindex.Hit{{Position: 3, Text: "Shipment SH1 via FedEx", Distance: 0.5}},
	}}
	h := newTestHandler(q, &mockDashboard{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/query", bytes.NewBufferString(`{"query":"Which carrier has the most delays?"}`))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if q.query != "Which carrier has the most delays?" {
		t.Fatalf("querier got %q", q.query)
	}
	var resp QueryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result != "FedEx has the most delays." {
		t.Fatalf("unexpected result %q", resp.Result)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Text != "Shipment SH1 via FedEx" {
		t.Fatalf("unexpected sources %+v", resp.Sources)
	}
}

func TestQueryEndpoint_InvalidJSON(t *testing.T) {
	h := newTestHandler(&mockQuerier{}, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/query", bytes.NewBufferString("not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestQueryEndpoint_BodyTooLarge(t *testing.T) {
	q := &mockQuerier{}
	h := newTestHandler(q, nil, nil)
	body := `{"query":"` + strings.Repeat("a", maxQueryBody) + `"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/query", strings.NewReader(body)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if q.query != "" {
		t.Fatal("querier should not run on an oversized body")
	}
}

func TestQueryEndpoint_EmptyQuery(t *testing.T) {
	q := &mockQuerier{err: fmt.Errorf("rag: run: %w", domain.ErrEmptyQuery)}
	h := newTestHandler(q, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/query", bytes.NewBufferString(`{"query":""}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestQueryEndpoint_FailureRendersMessage(t *testing.T) {
	q := &mockQuerier{err: fmt.Errorf("rag: generate: %w", domain.ErrGenerationFailure)}
	h := newTestHandler(q, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/query", bytes.NewBufferString(`{"query":"why?"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp QueryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Result, "Error processing query") {
		t.Fatalf("expected error message, got %q", resp.Result)
	}
}

func TestDashboardEndpoints(t *testing.T) {
	h := newTestHandler(&mockQuerier{}, &mockDashboard{}, nil)
	cases := map[string]string{
		"/api/kpis":      `"total_shipments":10`,
		"/api/charts":    `"carrier_performance"`,
		"/api/inventory": `"high_demand"`,
		"/api/suppliers": `"item_count":2`,
		"/api/logistics": `"reasons":["Weather"]`,
		"/api/returns":   `"reason":"Damaged"`,
	}
	for path, want := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("%s: body %s missing %s", path, rec.Body.String(), want)
		}
	}
}

func TestDashboardEndpoints_GraphErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("graph: query: %w", domain.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newTestHandler(&mockQuerier{}, &mockDashboard{err: tc.err}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/kpis", nil))
		if rec.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rec.Code)
		}
	}
}

func TestDashboardEndpoints_NoGraph(t *testing.T) {
	h := newTestHandler(&mockQuerier{}, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/suppliers", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsEndpointCountsRoutes(t *testing.T) {
	reg := metrics.New()
	h := newTestHandler(&mockQuerier{}, &mockDashboard{}, reg)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/kpis", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `nexus_http_requests_total{route="GET /api/kpis",code="2xx"} 1`) {
		t.Fatalf("route counter missing:\n%s", rec.Body.String())
	}
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	h := newTestHandler(&mockQuerier{}, &mockDashboard{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_ENV_VAR_XYZ", "custom")
	if v := envOr("TEST_ENV_VAR_XYZ", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_VAR_ABC", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}
