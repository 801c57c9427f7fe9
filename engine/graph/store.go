// Package graph is the structured store adapter: it runs Cypher against
// Neo4j, loads the source tables into the supply-chain graph and serves the
// dashboard reads.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/intellia-labs/nexus/engine/domain"
)

// Record is one result row keyed by the RETURN column names. Nodes and
// relationships are flattened into property maps.
type Record map[string]any

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// sessionAdapter adapts neo4j.SessionWithContext to runner.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Store runs queries against Neo4j, one session per call.
type Store struct {
	driver     neo4j.DriverWithContext
	database   string
	batchSize  int
	logger     *slog.Logger
	newSession func(ctx context.Context) runner // for testing
}

// Option configures a Store.
type Option func(*Store)

// WithDatabase selects a named database instead of the server default.
func WithDatabase(name string) Option {
	return func(s *Store) { s.database = name }
}

// WithBatchSize sets the number of rows per UNWIND statement during loads.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 500

// New creates a Store over an open driver.
func New(driver neo4j.DriverWithContext, opts ...Option) *Store {
	s := &Store{
		driver:    driver,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial opens a driver for url. Empty user means no authentication.
func Dial(url, user, password string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("graph: dial %s: %w", url, err)
	}
	return driver, nil
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &sessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})}
}

// Query runs cypher with params and returns every row.
func (s *Store) Query(ctx context.Context, cypher string, params map[string]any) ([]Record, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, classify("query", err)
	}
	out := make([]Record, 0)
	for res.Next(ctx) {
		out = append(out, flattenRecord(res.Record()))
	}
	if err := res.Err(); err != nil {
		return nil, classify("query", err)
	}
	return out, nil
}

// exec runs a write statement and drains its result.
func (s *Store) exec(ctx context.Context, sess runner, op, cypher string, params map[string]any) error {
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return classify(op, err)
	}
	for res.Next(ctx) {
	}
	if err := res.Err(); err != nil {
		return classify(op, err)
	}
	return nil
}

// VerifyConnectivity checks that the server is reachable.
func (s *Store) VerifyConnectivity(ctx context.Context) error {
	if s.driver == nil {
		return fmt.Errorf("graph: verify: %w", domain.ErrStoreUnavailable)
	}
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return classify("verify", err)
	}
	return nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

// classify maps driver errors onto the pipeline sentinels. The driver error
// stays in the chain.
func classify(op string, err error) error {
	var nerr *neo4j.Neo4jError
	var operr *net.OpError
	switch {
	case neo4j.IsConnectivityError(err), errors.As(err, &operr):
		return fmt.Errorf("graph: %s: %w: %w", op, domain.ErrStoreUnavailable, err)
	case errors.As(err, &nerr) && strings.Contains(nerr.Code, "Statement.SyntaxError"):
		return fmt.Errorf("graph: %s: %w: %w", op, domain.ErrQuerySyntax, err)
	}
	return fmt.Errorf("graph: %s: %w", op, err)
}

func flattenRecord(rec *neo4j.Record) Record {
	out := make(Record, len(rec.Keys))
	for i, k := range rec.Keys {
		if i < len(rec.Values) {
			out[k] = flatten(rec.Values[i])
		}
	}
	return out
}

func flatten(v any) any {
	switch t := v.(type) {
	case dbtype.Node:
		m := make(map[string]any, len(t.Props)+1)
		for k, pv := range t.Props {
			m[k] = flatten(pv)
		}
		m["_labels"] = t.Labels
		return m
	case dbtype.Relationship:
		m := make(map[string]any, len(t.Props)+1)
		for k, pv := range t.Props {
			m[k] = flatten(pv)
		}
		m["_type"] = t.Type
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = flatten(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = flatten(e)
		}
		return out
	}
	return v
}
