package semantic

import (
	"context"
	"fmt"

	"github.com/intellia-labs/nexus/engine/vectorindex"
)

// Searcher answers top-k fact queries from Qdrant with the same contract as
// the local vector index.
type Searcher struct {
	store    *VectorStore
	embedder vectorindex.Embedder
}

// NewSearcher creates a Searcher.
func NewSearcher(store *VectorStore, embedder vectorindex.Embedder) *Searcher {
	return &Searcher{store: store, embedder: embedder}
}

// Search embeds query and returns at most k hits by ascending distance.
// Qdrant reports Euclidean distance; it is squared to match the local index.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]vectorindex.Hit, error) {
	if k <= 0 {
		return []vectorindex.Hit{}, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}
	matches, err := s.store.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	hits := make([]vectorindex.Hit, len(matches))
	for i, m := range matches {
		hits[i] = vectorindex.Hit{Position: m.Position, Text: m.Text, Distance: m.Score * m.Score}
	}
	return hits, nil
}
