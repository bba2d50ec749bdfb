package store

import "context"

// Reader is the read-only surface consumed by the CLI, the MCP server and
// report scripts. *Store implements it.
type Reader interface {
	Query(ctx context.Context, sql string, opts QueryOptions, args ...any) (*QueryResult, error)
	Schema(ctx context.Context) ([]View, error)
	ScanState(ctx context.Context) (*ScanState, error)
}

// Compile-time check: *Store satisfies Reader.
var _ Reader = (*Store)(nil)
