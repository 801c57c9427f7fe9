package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intellia-labs/nexus/engine/domain"
)

// Loader reads the source tables from a data directory.
type Loader func(dir string) (*domain.Tables, error)

// Cache holds the table snapshot for the lifetime of a process. The first
// successful Acquire reads the data directory; later calls share the same
// read-only snapshot. A failed load is not cached.
type Cache struct {
	dir    string
	load   Loader
	logger *slog.Logger

	mu     sync.Mutex
	tables *domain.Tables
	loads  int
}

// NewCache creates a cache over dir using ReadDir.
func NewCache(dir string, logger *slog.Logger) *Cache {
	return NewCacheWithLoader(dir, ReadDir, logger)
}

// NewCacheWithLoader creates a cache with a custom loader.
func NewCacheWithLoader(dir string, load Loader, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{dir: dir, load: load, logger: logger}
}

// Acquire returns the snapshot, loading it on first use.
func (c *Cache) Acquire(ctx context.Context) (*domain.Tables, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tables != nil {
		return c.tables, nil
	}

	start := time.Now()
	t, err := c.load(c.dir)
	if err != nil {
		return nil, fmt.Errorf("dataset: load %s: %w", c.dir, err)
	}
	c.tables = t
	c.loads++
	c.logger.Info("dataset loaded",
		"dir", c.dir,
		"items", len(t.Items),
		"suppliers", len(t.Suppliers),
		"shipments", len(t.Shipments),
		"returns", len(t.Returns),
		"duration", time.Since(start),
	)
	return t, nil
}

// Release drops the snapshot. The next Acquire reads the directory again.
func (c *Cache) Release() {
	c.mu.Lock()
	c.tables = nil
	c.mu.Unlock()
}

// Loads reports how many times the directory has been read.
func (c *Cache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}
