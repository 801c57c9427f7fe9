// Package runtime wires the process: it opens every store and client named
// by the configuration, builds the query service on top, and closes them in
// reverse order. Nothing here is a package-level singleton.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/intellia-labs/nexus/engine/dataset"
	"github.com/intellia-labs/nexus/engine/domain"
	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/ingest"
	"github.com/intellia-labs/nexus/engine/prompt"
	"github.com/intellia-labs/nexus/engine/rag"
	"github.com/intellia-labs/nexus/engine/semantic"
	"github.com/intellia-labs/nexus/engine/stats"
	"github.com/intellia-labs/nexus/engine/vectorindex"
	"github.com/intellia-labs/nexus/pkg/config"
	"github.com/intellia-labs/nexus/pkg/fn"
	"github.com/intellia-labs/nexus/pkg/metrics"
	"github.com/intellia-labs/nexus/pkg/natsutil"
	"github.com/intellia-labs/nexus/pkg/ollama"
	"github.com/intellia-labs/nexus/pkg/openai"
)

// LLM is a provider that both embeds and completes.
type LLM interface {
	vectorindex.BatchEmbedder
	rag.Completer
}

// Options adjusts what Open insists on.
type Options struct {
	// RequireGraph fails Open when Neo4j is unreachable. Otherwise the graph
	// sub-step degrades and KPI reads report the store as unavailable.
	RequireGraph bool
	// RequireIndex fails Open when no index snapshot can be restored.
	RequireIndex bool
	// GraphAttempts bounds the connectivity retries at startup.
	GraphAttempts int
}

// Runtime owns every long-lived resource of the process.
type Runtime struct {
	Config     config.Config
	Logger     *slog.Logger
	Tables     *domain.Tables
	Graph      *graph.Store
	GraphReady bool
	LLM        LLM
	Index      *LiveIndex
	Snapshots  vectorindex.SnapshotStore
	Qdrant     *semantic.VectorStore
	Summarizer *stats.Summarizer
	RAG        *rag.Service
	Registry   *metrics.Registry
	Metrics    *metrics.Pipeline
	NATS       *nats.Conn

	cache   *dataset.Cache
	closers []func(context.Context) error
}

// Open acquires every resource. On failure everything acquired so far is
// released before returning.
func Open(ctx context.Context, cfg config.Config, opts Options, logger *slog.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GraphAttempts <= 0 {
		opts.GraphAttempts = fn.DefaultRetry.MaxAttempts
	}
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Index:    &LiveIndex{},
		Registry: metrics.New(),
	}
	rt.Metrics = metrics.NewPipeline(rt.Registry)
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.cache = dataset.NewCache(cfg.DataDir, logger)
	if rt.Tables, err = rt.cache.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("runtime: tables: %w", err)
	}
	rt.onClose(func(context.Context) error { rt.cache.Release(); return nil })
	rt.Summarizer = stats.New(rt.Tables)

	if err := rt.openGraph(ctx, opts); err != nil {
		return nil, err
	}
	if rt.LLM, err = NewLLM(cfg.LLM); err != nil {
		return nil, err
	}
	if err := rt.openVectors(ctx, opts); err != nil {
		return nil, err
	}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("nexus"))
		if err != nil {
			return nil, fmt.Errorf("runtime: nats: %w", err)
		}
		rt.NATS = nc
		rt.onClose(func(context.Context) error { return nc.Drain() })
	}

	deps := rag.Deps{
		Vectors:   rt.searcher(),
		Stats:     rt.Summarizer,
		Completer: rt.LLM,
		Composer:  prompt.New(nil),
		Metrics:   rt.Metrics,
	}
	if rt.Graph != nil {
		deps.Graph = rt.Graph
	}
	rt.RAG = rag.New(deps, RAGOptions(cfg.RAG), logger)
	return rt, nil
}

func (rt *Runtime) onClose(f func(context.Context) error) {
	rt.closers = append(rt.closers, f)
}

// Close releases resources in reverse acquisition order.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("runtime: close: %w", errors.Join(errs...))
	}
	return nil
}

func (rt *Runtime) openGraph(ctx context.Context, opts Options) error {
	cfg := rt.Config.Neo4j
	driver, err := graph.Dial(cfg.URL, cfg.User, cfg.Pass)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	rt.Graph = graph.New(driver,
		graph.WithDatabase(cfg.Database),
		graph.WithBatchSize(cfg.BatchSize),
		graph.WithLogger(rt.Logger),
	)
	rt.onClose(rt.Graph.Close)

	err = fn.RetryErr(ctx, fn.RetryOpts{
		MaxAttempts: opts.GraphAttempts,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Jitter:      true,
		Retryable:   func(err error) bool { return errors.Is(err, domain.ErrStoreUnavailable) },
	}, rt.Graph.VerifyConnectivity)
	if err != nil {
		if opts.RequireGraph {
			return fmt.Errorf("runtime: %w", err)
		}
		rt.Logger.Warn("runtime: graph store unreachable, graph context will degrade", "url", cfg.URL, "err", err)
		return nil
	}
	rt.GraphReady = true
	return nil
}

func (rt *Runtime) openVectors(ctx context.Context, opts Options) error {
	vc := rt.Config.Vector
	if vc.Backend == "qdrant" || vc.Qdrant.Mirror {
		store, err := semantic.New(vc.Qdrant.Addr, vc.Qdrant.Collection)
		if err != nil {
			return fmt.Errorf("runtime: qdrant: %w", err)
		}
		rt.Qdrant = store
		rt.onClose(func(context.Context) error { return store.Close() })
	}

	snaps, err := NewSnapshotStore(ctx, vc)
	if err != nil {
		return err
	}
	rt.Snapshots = snaps
	if vc.Backend != "local" || snaps == nil {
		return nil
	}

	x := vectorindex.New(rt.LLM, rt.indexOptions(), rt.Logger)
	if err := vectorindex.Restore(ctx, snaps, vc.Snapshot.Name, x); err != nil {
		if opts.RequireIndex || !errors.Is(err, vectorindex.ErrSnapshotNotFound) {
			return fmt.Errorf("runtime: %w", err)
		}
		rt.Logger.Warn("runtime: no index snapshot yet, run ingestion", "snapshot", vc.Snapshot.Name)
		return nil
	}
	rt.Index.Swap(x)
	rt.Metrics.IndexFacts(x.Len())
	rt.Logger.Info("runtime: index restored", "facts", x.Len(), "dim", x.Dim())
	return nil
}

func (rt *Runtime) searcher() rag.VectorSearcher {
	if rt.Config.Vector.Backend == "qdrant" {
		return semantic.NewSearcher(rt.Qdrant, rt.LLM)
	}
	return rt.Index
}

func (rt *Runtime) indexOptions() vectorindex.Options {
	return vectorindex.Options{
		BatchSize:   rt.Config.Vector.BatchSize,
		Concurrency: rt.Config.Vector.Concurrency,
	}
}

// IngestPipeline builds the ingestion pipeline over this runtime's stores.
// A successful run installs the new index for subsequent queries.
func (rt *Runtime) IngestPipeline() (fn.Stage[string, ingest.Report], error) {
	vc := rt.Config.Vector
	codec, err := vectorindex.ParseCodec(vc.Snapshot.Codec)
	if err != nil {
		return nil, err
	}
	deps := ingest.Deps{
		Embedder:     rt.LLM,
		IndexOptions: rt.indexOptions(),
		Snapshots:    rt.Snapshots,
		SnapshotName: vc.Snapshot.Name,
		Codec:        codec,
		Metrics:      rt.Metrics,
		Logger:       rt.Logger,
	}
	if rt.Graph != nil {
		deps.Graph = rt.Graph
	}
	if rt.Qdrant != nil {
		deps.Mirror = rt.Qdrant
	}
	if rt.NATS != nil {
		nc := rt.NATS
		deps.Announce = func(ctx context.Context, r ingest.Report) error {
			return natsutil.Publish(ctx, nc, natsutil.SubjectIndexRebuilt, r)
		}
	}

	pipeline := ingest.NewPipeline(deps)
	return func(ctx context.Context, dir string) fn.Result[ingest.Report] {
		r := pipeline(ctx, dir)
		if report, err := r.Unwrap(); err == nil {
			rt.Index.Swap(report.Index)
		}
		return r
	}, nil
}

// ServeNATS answers queries on natsutil.SubjectQuery and ingestion requests
// on natsutil.SubjectIngest. It is a no-op without a NATS connection.
func (rt *Runtime) ServeNATS() error {
	if rt.NATS == nil {
		return nil
	}
	timeout := rt.Config.RAG.CompletionTimeout + rt.Config.RAG.EmbedTimeout
	sub, err := natsutil.Respond(rt.NATS, natsutil.SubjectQuery, rt.Config.NATS.Queue, timeout, rt.Logger,
		func(ctx context.Context, req rag.QueryRequest) (rag.Result, error) {
			res, err := rt.RAG.Run(ctx, req.Query)
			if err != nil {
				res.Text = rag.ErrorMessage(err)
			}
			return *res, nil
		})
	if err != nil {
		return fmt.Errorf("runtime: nats query responder: %w", err)
	}
	rt.onClose(func(context.Context) error { return sub.Unsubscribe() })

	pipeline, err := rt.IngestPipeline()
	if err != nil {
		return err
	}
	isub, err := ingest.StartConsumer(rt.NATS, pipeline, rt.Config.DataDir, 30*time.Minute, rt.Logger)
	if err != nil {
		return fmt.Errorf("runtime: nats ingest consumer: %w", err)
	}
	rt.onClose(func(context.Context) error { return isub.Unsubscribe() })
	rt.Logger.Info("runtime: nats responders started", "query", natsutil.SubjectQuery, "ingest", natsutil.SubjectIngest)
	return nil
}

// NewLLM builds the configured provider client.
func NewLLM(cfg config.LLMConfig) (LLM, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.New(ollama.Config{
			BaseURL:           cfg.OllamaURL,
			EmbedModel:        cfg.EmbedModel,
			ChatModel:         cfg.ChatModel,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.HTTPTimeout,
		}), nil
	case "openai":
		c, err := openai.New(openai.Config{
			BaseURL:           cfg.OpenAIBaseURL,
			APIKey:            cfg.OpenAIKey,
			ChatModel:         cfg.ChatModel,
			EmbeddingModel:    cfg.EmbedModel,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.HTTPTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("runtime: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("runtime: unknown llm provider %q", cfg.Provider)
	}
}

// NewSnapshotStore builds the configured snapshot store, or nil for "none".
func NewSnapshotStore(ctx context.Context, vc config.VectorConfig) (vectorindex.SnapshotStore, error) {
	switch vc.Snapshot.Store {
	case "file":
		return vectorindex.NewFileStore(vc.Snapshot.Dir), nil
	case "minio":
		s, err := vectorindex.DialMinio(ctx, vectorindex.MinioConfig{
			Endpoint:  vc.Minio.Endpoint,
			AccessKey: vc.Minio.AccessKey,
			SecretKey: vc.Minio.SecretKey,
			Bucket:    vc.Minio.Bucket,
			Prefix:    vc.Minio.Prefix,
			UseSSL:    vc.Minio.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("runtime: %w", err)
		}
		return s, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("runtime: unknown snapshot store %q", vc.Snapshot.Store)
	}
}

// RAGOptions maps configuration onto orchestrator options.
func RAGOptions(c config.RAGConfig) rag.Options {
	return rag.Options{
		TopK:              c.TopK,
		MaxTokens:         c.MaxTokens,
		Temperature:       c.Temperature,
		EmbedTimeout:      c.EmbedTimeout,
		GraphTimeout:      c.GraphTimeout,
		CompletionTimeout: c.CompletionTimeout,
		BreakerThreshold:  c.BreakerThreshold,
		BreakerCooldown:   c.BreakerCooldown,
	}
}
