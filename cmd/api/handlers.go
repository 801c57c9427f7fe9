package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/intellia-labs/nexus/engine/domain"
	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/rag"
	"github.com/intellia-labs/nexus/engine/runtime"
)

// Querier answers one question.
type Querier interface {
	Run(ctx context.Context, query string) (*rag.Result, error)
}

// Dashboard serves the canned graph reads behind the dashboard panels.
type Dashboard interface {
	KPIs(ctx context.Context) (graph.KPIs, error)
	CarrierPerformance(ctx context.Context) ([]graph.CarrierScore, error)
	DelayTrends(ctx context.Context) ([]graph.DelayTrend, error)
	LowStock(ctx context.Context) ([]graph.StockLevel, error)
	HighDemand(ctx context.Context) ([]graph.StockLevel, error)
	SupplierPerformance(ctx context.Context) ([]graph.SupplierScore, error)
	CarrierDelays(ctx context.Context) ([]graph.CarrierDelay, error)
	ReturnReasons(ctx context.Context) ([]graph.ReasonCount, error)
}

type server struct {
	rag        Querier
	dash       Dashboard
	indexReady func() bool
	graphReady bool
	logger     *slog.Logger
}

func newServer(rt *runtime.Runtime, logger *slog.Logger) *server {
	s := &server{
		rag:        rt.RAG,
		indexReady: func() bool { return rt.Index.Current() != nil || rt.Config.Vector.Backend != "local" },
		graphReady: rt.GraphReady,
		logger:     logger,
	}
	if rt.Graph != nil {
		s.dash = rt.Graph
	}
	return s
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/kpis", s.handleKPIs)
	mux.HandleFunc("GET /api/charts", s.handleCharts)
	mux.HandleFunc("GET /api/inventory", s.handleInventory)
	mux.HandleFunc("GET /api/suppliers", s.handleSuppliers)
	mux.HandleFunc("GET /api/logistics", s.handleLogistics)
	mux.HandleFunc("GET /api/returns", s.handleReturns)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
	Graph  bool   `json:"graph"`
	Index  bool   `json:"index"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Graph: s.graphReady}
	if s.indexReady != nil {
		resp.Index = s.indexReady()
	}
	if !resp.Index {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// QueryResponse is the body of POST /api/query. Result carries either the
// answer or the formatted error message the dashboard renders as is.
type QueryResponse struct {
	Result   string       `json:"result"`
	Sources  []SourceText `json:"sources"`
	Degraded []string     `json:"degraded,omitempty"`
}

// SourceText is one retrieved fact.
type SourceText struct {
	Text     string  `json:"text"`
	Distance float32 `json:"distance"`
}

// maxQueryBody bounds the JSON body accepted by /api/query.
const maxQueryBody = 64 << 10

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBody)
	var req rag.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.rag.Run(r.Context(), req.Query)
	if err != nil {
		status := http.StatusOK
		if errors.Is(err, domain.ErrEmptyQuery) {
			status = http.StatusBadRequest
		}
		s.logger.Warn("query failed", "err", err, "trail", res.Trail)
		writeJSON(w, status, QueryResponse{Result: rag.ErrorMessage(err), Sources: []SourceText{}})
		return
	}

	sources := make([]SourceText, 0, len(res.Sources))
	for _, h := range res.Sources {
		sources = append(sources, SourceText{Text: h.Text, Distance: h.Distance})
	}
	writeJSON(w, http.StatusOK, QueryResponse{Result: res.Text, Sources: sources, Degraded: res.Degraded})
}

// dashboardRead runs read and writes its value, or maps its error.
func dashboardRead[T any](s *server, w http.ResponseWriter, r *http.Request, read func(context.Context) (T, error)) {
	if s.dash == nil {
		writeError(w, http.StatusServiceUnavailable, "graph store not configured")
		return
	}
	v, err := read(r.Context())
	if err != nil {
		s.respondGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) respondGraphError(w http.ResponseWriter, err error) {
	s.logger.Error("dashboard read failed", "err", err)
	if errors.Is(err, domain.ErrStoreUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "graph store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (s *server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	dashboardRead(s, w, r, func(ctx context.Context) (graph.KPIs, error) { return s.dash.KPIs(ctx) })
}

// ChartsResponse backs the carrier charts.
type ChartsResponse struct {
	CarrierPerformance []graph.CarrierScore `json:"carrier_performance"`
	DelayTrends        []graph.DelayTrend   `json:"delay_trends"`
}

func (s *server) handleCharts(w http.ResponseWriter, r *http.Request) {
	dashboardRead(s, w, r, func(ctx context.Context) (ChartsResponse, error) {
		perf, err := s.dash.CarrierPerformance(ctx)
		if err != nil {
			return ChartsResponse{}, err
		}
		trends, err := s.dash.DelayTrends(ctx)
		if err != nil {
			return ChartsResponse{}, err
		}
		return ChartsResponse{CarrierPerformance: perf, DelayTrends: trends}, nil
	})
}

// InventoryResponse backs the inventory panel.
type InventoryResponse struct {
	LowStock   []graph.StockLevel `json:"low_stock"`
	HighDemand []graph.StockLevel `json:"high_demand"`
}

func (s *server) handleInventory(w http.ResponseWriter, r *http.Request) {
	dashboardRead(s, w, r, func(ctx context.Context) (InventoryResponse, error) {
		low, err := s.dash.LowStock(ctx)
		if err != nil {
			return InventoryResponse{}, err
		}
		high, err := s.dash.HighDemand(ctx)
		if err != nil {
			return InventoryResponse{}, err
		}
		return InventoryResponse{LowStock: low, HighDemand: high}, nil
	})
}

func (s *server) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	dashboardRead(s, w, r, func(ctx context.Context) ([]graph.SupplierScore, error) { return s.dash.SupplierPerformance(ctx) })
}

func (s *server) handleLogistics(w http.ResponseWriter, r *http.Request) {
	dashboardRead(s, w, r, func(ctx context.Context) ([]graph.CarrierDelay, error) { return s.dash.CarrierDelays(ctx) })
}

func (s *server) handleReturns(w http.ResponseWriter, r *http.Request) {
	dashboardRead(s, w, r, func(ctx context.Context) ([]graph.ReasonCount, error) { return s.dash.ReturnReasons(ctx) })
}
