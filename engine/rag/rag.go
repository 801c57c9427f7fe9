// Package rag answers supply-chain questions. A query retrieves vector hits,
// table statistics and, when the question names an entity, related graph
// rows; the merged context is composed into one prompt and sent to the
// completion model exactly once.
package rag

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/intellia-labs/nexus/engine/domain"
	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/prompt"
	"github.com/intellia-labs/nexus/engine/vectorindex"
	"github.com/intellia-labs/nexus/pkg/fn"
	"github.com/intellia-labs/nexus/pkg/metrics"
	"github.com/intellia-labs/nexus/pkg/resilience"
)

// RelatedCypher finds items linked to any node whose name contains $q.
const RelatedCypher = "MATCH (i:Item)-[r]-(n) WHERE i.name CONTAINS $q OR n.name CONTAINS $q RETURN i, r, n LIMIT 5"

// graphTerms gate the graph sub-step.
var graphTerms = []string{"item", "supplier", "carrier", "customer"}

// VectorSearcher returns the k facts closest to a query.
type VectorSearcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorindex.Hit, error)
}

// Summarizer produces the statistical block for a query.
type Summarizer interface {
	Summarize(query string) string
}

// gateReporter is implemented by summarizers that can name the gates a query
// triggers.
type gateReporter interface {
	Triggered(query string) []string
}

// GraphQuerier runs one read query against the graph store.
type GraphQuerier interface {
	Query(ctx context.Context, cypher string, params map[string]any) ([]graph.Record, error)
}

// Completer generates the answer text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

// Options configures the pipeline.
type Options struct {
	TopK              int
	MaxTokens         int
	Temperature       float32
	EmbedTimeout      time.Duration
	GraphTimeout      time.Duration
	CompletionTimeout time.Duration
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:              5,
		MaxTokens:         500,
		Temperature:       0.3,
		EmbedTimeout:      30 * time.Second,
		GraphTimeout:      10 * time.Second,
		CompletionTimeout: 2 * time.Minute,
		BreakerThreshold:  3,
		BreakerCooldown:   30 * time.Second,
	}
}

// Deps are the collaborators of a Service. Graph may be nil, which disables
// the graph sub-step. Composer defaults to prompt.New(nil).
type Deps struct {
	Vectors   VectorSearcher
	Stats     Summarizer
	Graph     GraphQuerier
	Completer Completer
	Composer  *prompt.Composer
	Metrics   *metrics.Pipeline
}

// Service is the query orchestrator.
type Service struct {
	deps    Deps
	opts    Options
	breaker *resilience.Breaker
	tracer  trace.Tracer
	logger  *slog.Logger
}

// New creates a Service.
func New(deps Deps, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Composer == nil {
		deps.Composer = prompt.New(nil)
	}
	s := &Service{
		deps:   deps,
		opts:   opts,
		tracer: otel.Tracer("engine/rag"),
		logger: logger,
	}
	s.breaker = resilience.NewBreaker(resilience.BreakerOpts{
		Name:          "graph",
		FailThreshold: opts.BreakerThreshold,
		Timeout:       opts.BreakerCooldown,
		IsFailure:     func(err error) bool { return !errors.Is(err, domain.ErrQuerySyntax) },
		Ignore:        func(err error) bool { return errors.Is(err, errAbandoned) },
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("rag: breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			deps.Metrics.BreakerOpen(name, to == resilience.StateOpen)
		},
	})
	return s
}

// QueryRequest is the body of a query over HTTP or NATS.
type QueryRequest struct {
	Query string `json:"query"`
}

// Result is the outcome of one query.
type Result struct {
	Text     string            `json:"result"`
	Sources  []vectorindex.Hit `json:"sources"`
	Trail    []State           `json:"trail"`
	Degraded []string          `json:"degraded,omitempty"`
	Prompt   string            `json:"-"`
}

// Run executes the pipeline. The returned Result is never nil and carries the
// state trail even when err is non-nil. Errors wrap the domain sentinels.
func (s *Service) Run(ctx context.Context, query string) (res *Result, err error) {
	m := newMachine()
	res = &Result{}
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "rag.Run", trace.WithAttributes(attribute.Int("query.len", len(query))))
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%w: %v", errStepPanic, v)
		}
		if err != nil {
			m.fail()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.deps.Metrics.Query(outcomeOf(err))
			s.logger.Error("rag query failed", "err", err, "trail", m.Trail())
		} else {
			outcome := metrics.OutcomeOK
			if len(res.Degraded) > 0 {
				outcome = metrics.OutcomeDegraded
			}
			s.deps.Metrics.Query(outcome)
		}
		s.deps.Metrics.Step("total", start)
		res.Trail = m.Trail()
		span.End()
	}()

	m.to(StateRetrieving)
	if err := domain.ValidateQuery(query); err != nil {
		return res, fmt.Errorf("rag: run: %w", err)
	}
	s.logger.Info("rag query start", "query_len", len(query))

	retrieved, err := s.retrieve(ctx, query)
	if err != nil {
		return res, err
	}
	res.Sources = retrieved.Hits
	res.Degraded = retrieved.Degraded

	m.to(StateComposing)
	composeStart := time.Now()
	res.Prompt = s.deps.Composer.Compose(query, retrieved.Hits, retrieved.Stats, retrieved.Graph)
	s.deps.Metrics.Step("compose", composeStart)

	m.to(StateGenerating)
	text, err := s.generate(ctx, res.Prompt)
	if err != nil {
		return res, err
	}
	res.Text = text

	m.to(StateDone)
	s.logger.Info("rag query done",
		"hits", len(retrieved.Hits),
		"graph_rows", len(retrieved.Graph),
		"degraded", retrieved.Degraded,
		"duration", time.Since(start),
	)
	return res, nil
}

// Answer runs the pipeline and never fails: errors become a formatted HTML
// message suitable for direct display.
func (s *Service) Answer(ctx context.Context, query string) string {
	res, err := s.Run(ctx, query)
	if err != nil {
		return ErrorMessage(err)
	}
	return res.Text
}

// ErrorMessage renders err for display in the dashboard.
func ErrorMessage(err error) string {
	return fmt.Sprintf("<div style='color: red;'>Error processing query: %s</div>", html.EscapeString(err.Error()))
}

// retrieve runs the sub-steps concurrently and merges their results. A
// required sub-step failing cancels the others.
func (s *Service) retrieve(ctx context.Context, query string) (Retrieved, error) {
	var (
		vec   Step[[]vectorindex.Hit]
		stats Step[string]
		gr    = data[[]graph.Record](nil, true)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec = s.searchStep(gctx, query)
		return vec.Err
	})
	g.Go(func() error {
		stats = s.statsStep(gctx, query)
		return stats.Err
	})
	if s.deps.Graph != nil && wantsGraph(query) {
		g.Go(func() error {
			gr = s.graphStep(gctx, query)
			return nil
		})
	}
	_ = g.Wait()

	if gr.Status == StepDegraded {
		s.deps.Metrics.Degraded("graph")
		s.logger.Warn("rag: graph context unavailable, continuing without", "err", gr.Err)
	}
	return merge(vec, stats, gr)
}

func (s *Service) searchStep(ctx context.Context, query string) (step Step[[]vectorindex.Hit]) {
	defer guard("vector", &step)
	defer s.deps.Metrics.Step("vector", time.Now())
	ctx, span := s.tracer.Start(ctx, "rag.vector")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()
	hits, err := s.deps.Vectors.Search(ctx, query, s.opts.TopK)
	if err != nil {
		span.RecordError(err)
		return failed[[]vectorindex.Hit](err)
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return data(hits, len(hits) == 0)
}

func (s *Service) statsStep(ctx context.Context, query string) (step Step[string]) {
	defer guard("stats", &step)
	defer s.deps.Metrics.Step("stats", time.Now())
	_, span := s.tracer.Start(ctx, "rag.stats")
	defer span.End()

	if r, ok := s.deps.Stats.(gateReporter); ok {
		gates := r.Triggered(query)
		span.SetAttributes(attribute.StringSlice("gates", gates))
		s.logger.Debug("rag stats gates", "gates", gates)
	}
	text := s.deps.Stats.Summarize(query)
	return data(text, text == "")
}

// graphStep never fails the query: every error degrades to the placeholder.
func (s *Service) graphStep(ctx context.Context, query string) (step Step[[]graph.Record]) {
	defer func() {
		if step.Status == StepFailed {
			step = degraded[[]graph.Record](step.Err)
		}
	}()
	defer guard("graph", &step)
	defer s.deps.Metrics.Step("graph", time.Now())

	lookup := fn.TracedStage("rag.graph", resilience.BreakerStage(s.breaker,
		fn.Lift(func(parent context.Context, q string) ([]graph.Record, error) {
			ctx, cancel := context.WithTimeout(parent, s.opts.GraphTimeout)
			defer cancel()
			rows, err := s.deps.Graph.Query(ctx, RelatedCypher, map[string]any{"q": q})
			if err != nil && parent.Err() != nil {
				return nil, fmt.Errorf("%w: %w", errAbandoned, err)
			}
			return rows, err
		})))

	rows, err := lookup(ctx, firstToken(query)).Unwrap()
	if err != nil {
		return degraded[[]graph.Record](err)
	}
	return data(rows, len(rows) == 0)
}

func (s *Service) generate(ctx context.Context, text string) (string, error) {
	defer s.deps.Metrics.Step("generate", time.Now())
	ctx, span := s.tracer.Start(ctx, "rag.generate")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.CompletionTimeout)
	defer cancel()
	out, err := s.deps.Completer.Complete(ctx, text, s.opts.MaxTokens, s.opts.Temperature)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("rag: generate: %w: %w", domain.ErrGenerationFailure, err)
	}
	return out, nil
}

// guard converts a panic in a sub-step into a failed Step.
func guard[T any](name string, step *Step[T]) {
	if v := recover(); v != nil {
		*step = failed[T](fmt.Errorf("%w: %s: %v", errStepPanic, name, v))
	}
}

func wantsGraph(query string) bool {
	return domain.QueryMentions(query, graphTerms...)
}

func firstToken(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func outcomeOf(err error) string {
	if errors.Is(err, domain.ErrEmptyQuery) {
		return metrics.OutcomeEmpty
	}
	return metrics.OutcomeFailed
}
