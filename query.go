package codefacts

import (
	"context"
	"fmt"

	"github.com/jward/codefacts/internal/sqlguard"
)

// Query validates sqlText and runs it against the public views on a
// read-only connection. A rejected statement is never executed and returns a
// *RejectedError. Exceeding opts.MaxRows or opts.Timeout returns the rows
// read so far together with a *LimitError.
func (e *Engine) Query(ctx context.Context, sqlText string, opts QueryOptions, args ...any) (*QueryResult, error) {
	return e.store.Query(ctx, sqlText, opts, args...)
}

// ValidateSQL reports whether sqlText is an acceptable read-only statement
// without running it. It needs no store.
func ValidateSQL(sqlText string) Validation {
	return sqlguard.Validate(sqlText)
}

// Validate is ValidateSQL.
func (e *Engine) Validate(sqlText string) Validation {
	return ValidateSQL(sqlText)
}

// Schema lists the public views and their columns.
func (e *Engine) Schema(ctx context.Context) ([]View, error) {
	views, err := e.store.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("codefacts: schema: %w", err)
	}
	return views, nil
}

// ScanState returns the last completed scan, or nil before the first one.
func (e *Engine) ScanState(ctx context.Context) (*ScanState, error) {
	return e.store.ScanState(ctx)
}

// Capabilities returns the persisted capability markers: language, grammar,
// binder mode and SQLite version.
func (e *Engine) Capabilities(ctx context.Context) (map[string]string, error) {
	return e.store.Capabilities(ctx)
}

// Lookup returns a QueryBuilder for typed lookups over the indexed facts.
func (e *Engine) Lookup() *QueryBuilder {
	return &QueryBuilder{store: e.store}
}
