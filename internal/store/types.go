package store

import (
	"fmt"
	"time"
)

// IndexedFile is the persisted fingerprint of one file.
type IndexedFile struct {
	Path string
	Hash string
}

// ScanState summarizes the last completed scan. There is at most one.
type ScanState struct {
	ScanID         string
	Root           string
	LastScanAt     time.Time
	FilesScanned   int
	FilesExtracted int
	FilesUnchanged int
	FilesRemoved   int
	FullRebuild    bool
	Duration       time.Duration
}

// QueryOptions bounds a read-only query. Zero values mean no limit.
type QueryOptions struct {
	MaxRows int
	Timeout time.Duration
}

// QueryResult holds the rows of a query in column order. Text and blob
// values come back as string.
type QueryResult struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Elapsed   time.Duration
}

// View describes one public view.
type View struct {
	Name    string
	Columns []ViewColumn
}

type ViewColumn struct {
	Name string
	Type string
}

// RejectedError is returned when the validator refuses a query. The query is
// never executed.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "query rejected: " + e.Reason
}

// Limit names.
const (
	LimitMaxRows = "max_rows"
	LimitTimeout = "timeout"
)

// LimitError is returned, along with the rows read so far, when a query hits
// its row cap or its timeout. Value is the row count or the timeout in
// milliseconds.
type LimitError struct {
	Limit string
	Value int64
}

func (e *LimitError) Error() string {
	if e.Limit == LimitTimeout {
		return fmt.Sprintf("query exceeded timeout of %dms", e.Value)
	}
	return fmt.Sprintf("query exceeded %s of %d", e.Limit, e.Value)
}
