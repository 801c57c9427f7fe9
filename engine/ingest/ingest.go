// Package ingest rebuilds every derived store from the source tables: the
// graph, the vector index and its snapshot, and the optional Qdrant mirror.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/intellia-labs/nexus/engine/dataset"
	"github.com/intellia-labs/nexus/engine/domain"
	"github.com/intellia-labs/nexus/engine/semantic"
	"github.com/intellia-labs/nexus/engine/vectorindex"
	"github.com/intellia-labs/nexus/pkg/fn"
	"github.com/intellia-labs/nexus/pkg/metrics"
)

// GraphLoader replaces the graph contents.
type GraphLoader interface {
	Clear(ctx context.Context) error
	LoadFromTables(ctx context.Context, t *domain.Tables) error
}

// Mirror stores the embedded facts remotely.
type Mirror interface {
	EnsureCollection(ctx context.Context, dims int) error
	UpsertFacts(ctx context.Context, facts []semantic.FactPoint) error
}

// Deps holds the collaborators of the pipeline. Graph, Snapshots, Mirror and
// Announce are optional; a nil value skips that stage.
type Deps struct {
	Read         func(dir string) (*domain.Tables, error) // defaults to dataset.ReadDir
	Graph        GraphLoader
	Embedder     vectorindex.Embedder
	IndexOptions vectorindex.Options
	Snapshots    vectorindex.SnapshotStore
	SnapshotName string
	Codec        vectorindex.Codec
	Mirror       Mirror
	Announce     func(ctx context.Context, r Report) error
	Metrics      *metrics.Pipeline
	Logger       *slog.Logger
}

// Report summarizes one ingestion run.
type Report struct {
	DataDir    string             `json:"data_dir"`
	Rows       map[string]int     `json:"rows"`
	Facts      int                `json:"facts"`
	Dim        int                `json:"dim"`
	Snapshot   string             `json:"snapshot,omitempty"`
	Mirrored   bool               `json:"mirrored"`
	Duration   time.Duration      `json:"duration"`
	FinishedAt time.Time          `json:"finished_at"`
	Index      *vectorindex.Index `json:"-"`
}

// batch is the value threaded through the stages.
type batch struct {
	dir    string
	start  time.Time
	tables *domain.Tables
	facts  []dataset.Fact
	index  *vectorindex.Index
	report Report
}

// LoggedTap logs entry into the named stage.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Info("stage.enter", "stage", name)
		return fn.Ok(t)
	}
}

// logged wraps stage with entry/exit logging, duration metrics and a span.
func logged[T any](name string, deps Deps, log *slog.Logger, stage fn.Stage[T, T]) fn.Stage[T, T] {
	traced := fn.TracedStage("ingest."+name, stage)
	return fn.Then(LoggedTap[T](name, log), func(ctx context.Context, t T) fn.Result[T] {
		start := time.Now()
		r := traced(ctx, t)
		deps.Metrics.Step("ingest_"+name, start)
		if _, err := r.Unwrap(); err != nil {
			log.Error("stage.failed", "stage", name, "duration", time.Since(start), "err", err)
			return r
		}
		log.Info("stage.exit", "stage", name, "duration", time.Since(start))
		return r
	})
}

// NewPipeline wires load → graph → corpus → index → snapshot → mirror →
// announce. The input is the data directory.
func NewPipeline(deps Deps) fn.Stage[string, Report] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.Read == nil {
		deps.Read = dataset.ReadDir
	}

	start := fn.Stage[string, *batch](func(_ context.Context, dir string) fn.Result[*batch] {
		return fn.Ok(&batch{dir: dir, start: time.Now(), report: Report{DataDir: dir, Rows: map[string]int{}}})
	})

	p := fn.Then(start, logged("load", deps, log, loadStage(deps)))
	p = fn.Then(p, logged("graph", deps, log, graphStage(deps)))
	p = fn.Then(p, logged("corpus", deps, log, corpusStage))
	p = fn.Then(p, logged("index", deps, log, indexStage(deps, log)))
	p = fn.Then(p, logged("snapshot", deps, log, snapshotStage(deps)))
	p = fn.Then(p, logged("mirror", deps, log, mirrorStage(deps)))
	p = fn.Then(p, logged("announce", deps, log, announceStage(deps)))

	return fn.Then(p, func(_ context.Context, b *batch) fn.Result[Report] {
		b.report.Duration = time.Since(b.start)
		b.report.FinishedAt = time.Now().UTC()
		b.report.Index = b.index
		log.Info("ingest complete",
			"facts", b.report.Facts,
			"dim", b.report.Dim,
			"snapshot", b.report.Snapshot,
			"mirrored", b.report.Mirrored,
			"duration", b.report.Duration,
		)
		return fn.Ok(b.report)
	})
}

func loadStage(deps Deps) fn.Stage[*batch, *batch] {
	return func(_ context.Context, b *batch) fn.Result[*batch] {
		t, err := deps.Read(b.dir)
		if err != nil {
			return fn.Err[*batch](fmt.Errorf("ingest: load: %w", err))
		}
		b.tables = t
		b.report.Rows[domain.TableInventory] = len(t.Items)
		b.report.Rows[domain.TableSuppliers] = len(t.Suppliers)
		b.report.Rows[domain.TableLogistics] = len(t.Shipments)
		b.report.Rows[domain.TableReturns] = len(t.Returns)
		return fn.Ok(b)
	}
}

func graphStage(deps Deps) fn.Stage[*batch, *batch] {
	return func(ctx context.Context, b *batch) fn.Result[*batch] {
		if deps.Graph == nil {
			return fn.Ok(b)
		}
		if err := deps.Graph.Clear(ctx); err != nil {
			return fn.Err[*batch](fmt.Errorf("ingest: clear graph: %w", err))
		}
		if err := deps.Graph.LoadFromTables(ctx, b.tables); err != nil {
			return fn.Err[*batch](fmt.Errorf("ingest: load graph: %w", err))
		}
		for _, table := range domain.TableOrder {
			deps.Metrics.Ingested(table, b.report.Rows[table])
		}
		return fn.Ok(b)
	}
}

var corpusStage fn.Stage[*batch, *batch] = func(_ context.Context, b *batch) fn.Result[*batch] {
	b.facts = dataset.Corpus(b.tables)
	b.report.Facts = len(b.facts)
	return fn.Ok(b)
}

func indexStage(deps Deps, log *slog.Logger) fn.Stage[*batch, *batch] {
	return func(ctx context.Context, b *batch) fn.Result[*batch] {
		x := vectorindex.New(deps.Embedder, deps.IndexOptions, log)
		if err := x.Build(ctx, dataset.Texts(b.facts)); err != nil {
			return fn.Err[*batch](fmt.Errorf("ingest: build index: %w", err))
		}
		b.index = x
		b.report.Dim = x.Dim()
		deps.Metrics.IndexFacts(x.Len())
		return fn.Ok(b)
	}
}

func snapshotStage(deps Deps) fn.Stage[*batch, *batch] {
	return func(ctx context.Context, b *batch) fn.Result[*batch] {
		if deps.Snapshots == nil {
			return fn.Ok(b)
		}
		if err := vectorindex.Save(ctx, deps.Snapshots, deps.SnapshotName, b.index, deps.Codec); err != nil {
			return fn.Err[*batch](fmt.Errorf("ingest: snapshot: %w", err))
		}
		b.report.Snapshot = deps.SnapshotName
		return fn.Ok(b)
	}
}

func mirrorStage(deps Deps) fn.Stage[*batch, *batch] {
	return func(ctx context.Context, b *batch) fn.Result[*batch] {
		if deps.Mirror == nil || len(b.facts) == 0 {
			return fn.Ok(b)
		}
		if err := deps.Mirror.EnsureCollection(ctx, b.index.Dim()); err != nil {
			return fn.Err[*batch](fmt.Errorf("ingest: mirror: %w", err))
		}
		if err := deps.Mirror.UpsertFacts(ctx, FactPoints(b.facts, b.index)); err != nil {
			return fn.Err[*batch](fmt.Errorf("ingest: mirror: %w", err))
		}
		b.report.Mirrored = true
		return fn.Ok(b)
	}
}

func announceStage(deps Deps) fn.Stage[*batch, *batch] {
	return func(ctx context.Context, b *batch) fn.Result[*batch] {
		if deps.Announce == nil {
			return fn.Ok(b)
		}
		r := b.report
		r.Duration = time.Since(b.start)
		r.FinishedAt = time.Now().UTC()
		if err := deps.Announce(ctx, r); err != nil {
			return fn.Err[*batch](fmt.Errorf("ingest: announce: %w", err))
		}
		return fn.Ok(b)
	}
}

// FactPoints pairs each fact with its vector from x. Facts and index
// positions are aligned by construction.
func FactPoints(facts []dataset.Fact, x *vectorindex.Index) []semantic.FactPoint {
	points := make([]semantic.FactPoint, 0, len(facts))
	for pos, f := range facts {
		vec, _ := x.Vector(pos)
		points = append(points, semantic.FactPoint{
			ID:        f.ID,
			Position:  pos,
			Table:     f.Table,
			Row:       f.Row,
			Text:      f.Text,
			Embedding: vec,
		})
	}
	return points
}
