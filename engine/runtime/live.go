package runtime

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/intellia-labs/nexus/engine/domain"
	"github.com/intellia-labs/nexus/engine/vectorindex"
)

// LiveIndex serves searches from the current index and lets a finished
// rebuild replace it without a restart. Each index stays immutable.
type LiveIndex struct {
	cur atomic.Pointer[vectorindex.Index]
}

// Swap installs x. A nil or unbuilt index is ignored.
func (l *LiveIndex) Swap(x *vectorindex.Index) bool {
	if x == nil || !x.Ready() {
		return false
	}
	l.cur.Store(x)
	return true
}

// Current returns the installed index or nil.
func (l *LiveIndex) Current() *vectorindex.Index { return l.cur.Load() }

// Search implements rag.VectorSearcher.
func (l *LiveIndex) Search(ctx context.Context, query string, k int) ([]vectorindex.Hit, error) {
	x := l.cur.Load()
	if x == nil {
		return nil, fmt.Errorf("runtime: search: %w", domain.ErrIndexNotReady)
	}
	return x.Search(ctx, query, k)
}
