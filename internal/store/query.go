package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jward/codefacts/internal/sqlguard"
)

// Query validates sqlText and runs it on the read-only handle inside a read
// transaction, so it sees one consistent snapshot even while a scan writes.
//
// A rejected query returns *RejectedError and is never executed. A query
// that hits opts.MaxRows or opts.Timeout returns the rows read so far
// together with *LimitError.
func (s *Store) Query(ctx context.Context, sqlText string, opts QueryOptions, args ...any) (*QueryResult, error) {
	if v := sqlguard.Validate(sqlText); !v.OK {
		return nil, &RejectedError{Reason: v.Reason}
	}
	db, err := s.reader()
	if err != nil {
		return nil, err
	}

	qctx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	start := time.Now()

	tx, err := db.BeginTx(qctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, limitOr(qctx, opts, fmt.Errorf("query: begin transaction: %w", err))
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(qctx, sqlText, args...)
	if err != nil {
		return nil, limitOr(qctx, opts, fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query: columns: %w", err)
	}
	res := &QueryResult{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if opts.MaxRows > 0 && len(res.Rows) == opts.MaxRows {
			res.Truncated = true
			res.Elapsed = time.Since(start)
			return res, &LimitError{Limit: LimitMaxRows, Value: int64(opts.MaxRows)}
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		res.Rows = append(res.Rows, values)
	}
	res.Elapsed = time.Since(start)
	if err := rows.Err(); err != nil {
		if le := timeoutError(qctx, opts); le != nil {
			res.Truncated = true
			return res, le
		}
		return nil, fmt.Errorf("query: rows: %w", err)
	}
	return res, nil
}

func timeoutError(qctx context.Context, opts QueryOptions) *LimitError {
	if opts.Timeout > 0 && errors.Is(qctx.Err(), context.DeadlineExceeded) {
		return &LimitError{Limit: LimitTimeout, Value: opts.Timeout.Milliseconds()}
	}
	return nil
}

func limitOr(qctx context.Context, opts QueryOptions, err error) error {
	if le := timeoutError(qctx, opts); le != nil {
		return le
	}
	return err
}

// Schema lists the public views and their columns.
func (s *Store) Schema(ctx context.Context) ([]View, error) {
	present := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'view'")
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("schema: %w", err)
		}
		present[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	var views []View
	for _, name := range publicViews {
		if !present[name] {
			continue
		}
		cols, err := s.viewColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		views = append(views, View{Name: name, Columns: cols})
	}
	return views, nil
}

func (s *Store) viewColumns(ctx context.Context, view string) ([]ViewColumn, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?)", view)
	if err != nil {
		return nil, fmt.Errorf("schema: columns of %s: %w", view, err)
	}
	defer rows.Close()
	var cols []ViewColumn
	for rows.Next() {
		var c ViewColumn
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("schema: columns of %s: %w", view, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
