package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the query pipeline.
var (
	ErrEmptyQuery        = errors.New("empty query")
	ErrIndexNotReady     = errors.New("vector index not ready")
	ErrIndexBuilt        = errors.New("vector index already built")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrStoreUnavailable  = errors.New("graph store unavailable")
	ErrQuerySyntax       = errors.New("graph query syntax error")
	ErrGenerationFailure = errors.New("answer generation failed")
	ErrInvalidTable      = errors.New("invalid source table")
	ErrInvalidDelayed    = errors.New("invalid delayed flag")
)

// TableError wraps a sentinel with the source file, row and column at fault.
type TableError struct {
	Table   string
	Row     int // 1-based data row, 0 for header problems
	Column  string
	Wrapped error
}

func (e *TableError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("table %s: column %q: %s", e.Table, e.Column, e.Wrapped)
	}
	return fmt.Sprintf("table %s: row %d: column %q: %s", e.Table, e.Row, e.Column, e.Wrapped)
}

func (e *TableError) Unwrap() error { return e.Wrapped }

// NewTableError creates a TableError.
func NewTableError(table string, row int, column string, wrapped error) *TableError {
	return &TableError{Table: table, Row: row, Column: column, Wrapped: wrapped}
}
