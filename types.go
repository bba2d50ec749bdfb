package codefacts

import (
	"time"

	"github.com/jward/codefacts/internal/sqlguard"
	"github.com/jward/codefacts/internal/store"
)

// Public aliases for the store types used by the Engine API.

type Store = store.Store
type ScanState = store.ScanState
type QueryOptions = store.QueryOptions
type QueryResult = store.QueryResult
type View = store.View
type ViewColumn = store.ViewColumn
type RejectedError = store.RejectedError
type LimitError = store.LimitError
type Validation = sqlguard.Result

// ScanOptions selects how a scan treats the existing store.
type ScanOptions struct {
	// ChangedOnly keeps facts of unchanged files. When false the store is
	// rebuilt from scratch.
	ChangedOnly bool
}

// ScanSummary reports one completed scan.
type ScanSummary struct {
	ScanID      string        `json:"scan_id"`
	Root        string        `json:"root"`
	StorePath   string        `json:"store_path"`
	Discovered  int           `json:"discovered"`
	Extracted   int           `json:"extracted"`
	Unchanged   int           `json:"unchanged"`
	Removed     int           `json:"removed"`
	EntityCount int           `json:"entity_count"`
	FullRebuild bool          `json:"full_rebuild"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}
