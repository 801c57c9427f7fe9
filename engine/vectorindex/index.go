// Package vectorindex is an exact, in-memory nearest-neighbour index over the
// fact corpus. Distances are squared Euclidean on unnormalized vectors.
package vectorindex

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/vecgo/distance"
	"golang.org/x/sync/errgroup"

	"github.com/intellia-labs/nexus/engine/domain"
)

// Embedder encodes text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that encode several texts per call.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Hit is one search result.
type Hit struct {
	Position int     `json:"position"`
	Text     string  `json:"text"`
	Distance float32 `json:"distance"`
}

// Options tunes index construction.
type Options struct {
	BatchSize   int // texts per embedding call during Build
	Concurrency int // embedding calls in flight during Build
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{BatchSize: 32, Concurrency: 4}
}

// Index maps positions to (text, vector) pairs. It is built once, by Build or
// Load, and is read-only afterwards.
type Index struct {
	embedder Embedder
	opts     Options
	logger   *slog.Logger

	mu      sync.RWMutex
	ready   bool
	dim     int
	texts   []string
	vectors []float32 // row-major, len(texts)*dim
}

// New creates an empty index that encodes with embedder. The embedder may be
// nil when the index is only loaded and searched by vector.
func New(embedder Embedder, opts Options, logger *slog.Logger) *Index {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions().Concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{embedder: embedder, opts: opts, logger: logger}
}

// Ready reports whether the index has been built or loaded.
func (x *Index) Ready() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ready
}

// Len returns the number of indexed texts.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.texts)
}

// Dim returns the vector dimension, 0 before Build or Load.
func (x *Index) Dim() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim
}

// Vector returns a copy of the vector at position.
func (x *Index) Vector(position int) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if position < 0 || position >= len(x.texts) {
		return nil, false
	}
	return slices.Clone(x.vectors[position*x.dim : (position+1)*x.dim]), true
}

// Build encodes every text of corpus and stores the vectors in corpus order.
func (x *Index) Build(ctx context.Context, corpus []string) error {
	if x.Ready() {
		return errBuilt("build")
	}
	if x.embedder == nil {
		return fmt.Errorf("vectorindex: build: no embedder configured")
	}

	start := time.Now()
	vecs, err := x.embedAll(ctx, corpus)
	if err != nil {
		return fmt.Errorf("vectorindex: build: %w", err)
	}

	dim := 0
	if len(vecs) > 0 {
		dim = len(vecs[0])
	}
	flat := make([]float32, 0, len(vecs)*dim)
	for i, v := range vecs {
		if len(v) != dim || dim == 0 {
			return fmt.Errorf("vectorindex: build: text %d has dimension %d, want %d: %w", i, len(v), dim, domain.ErrDimensionMismatch)
		}
		flat = append(flat, v...)
	}

	texts := slices.Clone(corpus)
	if err := x.install(dim, texts, flat); err != nil {
		return err
	}
	x.logger.Info("vector index built", "texts", len(texts), "dim", dim, "duration", time.Since(start))
	return nil
}

func (x *Index) install(dim int, texts []string, flat []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ready {
		return errBuilt("install")
	}
	x.dim = dim
	x.texts = texts
	x.vectors = flat
	x.ready = true
	return nil
}

// embedAll encodes texts in bounded-parallel batches, preserving order.
func (x *Index) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	batch, isBatch := x.embedder.(BatchEmbedder)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.Concurrency)

	for lo := 0; lo < len(texts); lo += x.opts.BatchSize {
		hi := min(lo+x.opts.BatchSize, len(texts))
		g.Go(func() error {
			if isBatch {
				vecs, err := batch.EmbedBatch(gctx, texts[lo:hi])
				if err != nil {
					return fmt.Errorf("embed batch [%d:%d]: %w", lo, hi, err)
				}
				if len(vecs) != hi-lo {
					return fmt.Errorf("embed batch [%d:%d]: got %d vectors", lo, hi, len(vecs))
				}
				copy(out[lo:hi], vecs)
				return nil
			}
			for i := lo; i < hi; i++ {
				v, err := x.embedder.Embed(gctx, texts[i])
				if err != nil {
					return fmt.Errorf("embed text %d: %w", i, err)
				}
				out[i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Search encodes query and returns at most k hits ordered by ascending
// distance. Equal distances keep insertion order.
func (x *Index) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if !x.Ready() {
		return nil, errNotReady("search")
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	if x.embedder == nil {
		return nil, fmt.Errorf("vectorindex: search: no embedder configured")
	}
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: embed query: %w", err)
	}
	return x.SearchVector(vec, k)
}

// SearchVector is Search with a precomputed query vector.
func (x *Index) SearchVector(vec []float32, k int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if !x.ready {
		return nil, errNotReady("search")
	}
	if k <= 0 || len(x.texts) == 0 {
		return []Hit{}, nil
	}
	if len(vec) != x.dim {
		return nil, fmt.Errorf("vectorindex: query dimension %d, index dimension %d: %w", len(vec), x.dim, domain.ErrDimensionMismatch)
	}

	hits := make([]Hit, len(x.texts))
	for i := range x.texts {
		row := x.vectors[i*x.dim : (i+1)*x.dim]
		hits[i] = Hit{Position: i, Text: x.texts[i], Distance: distance.SquaredL2(vec, row)}
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func errNotReady(op string) error {
	return fmt.Errorf("vectorindex: %s: %w", op, domain.ErrIndexNotReady)
}

func errBuilt(op string) error {
	return fmt.Errorf("vectorindex: %s: %w", op, domain.ErrIndexBuilt)
}
