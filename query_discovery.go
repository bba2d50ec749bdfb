package codefacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jward/codefacts/internal/store"
)

// QueryBuilder provides typed lookups over the public views. Every lookup
// runs on the store's read-only handle.
type QueryBuilder struct {
	store *store.Store
}

// --- Common Types ---

// Pagination controls offset+limit paging on list/search results.
type Pagination struct {
	Offset int // skip this many results (default 0)
	Limit  int // max results to return (default 50, max 500)
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func (p Pagination) normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// SortField specifies how to order results.
type SortField string

const (
	SortByName        SortField = "name"
	SortByKind        SortField = "kind"
	SortByFile        SortField = "file"
	SortByMethodCount SortField = "method_count"
)

// SortOrder specifies ascending or descending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Sort controls result ordering.
type Sort struct {
	Field SortField
	Order SortOrder
}

// PagedResult wraps a page of results with total count for pagination.
type PagedResult[T any] struct {
	Items      []T
	TotalCount int // total matching results (before pagination)
}

// TypeResult is one declared type with a few computed counts.
type TypeResult struct {
	Key         string
	Path        string
	Name        string
	FullName    string
	Kind        string
	Access      string
	Modifiers   []string
	Namespace   string
	ParentName  string
	StartLine   int
	EndLine     int
	MethodCount int
}

// TypeFilter specifies which types to include. All fields are optional.
type TypeFilter struct {
	Kinds      []string // match any of these kinds
	Access     *string  // exact match
	Modifiers  []string // type must have ALL of these modifiers
	Namespace  *string  // exact match
	PathPrefix *string  // restrict to types in files under this path
}

// --- Internal Helpers ---

// normalizePathPrefix ensures a path prefix ends with "/" so "src/App"
// does not match "src/AppTests".
func normalizePathPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

func typeSortColumn(field SortField) string {
	switch field {
	case SortByKind:
		return "t.kind"
	case SortByFile:
		return "t.path"
	case SortByMethodCount:
		return "method_count"
	default:
		return "t.name"
	}
}

func sortDirection(order SortOrder) string {
	if order == Desc {
		return "DESC"
	}
	return "ASC"
}

const typeCols = `t.type_key, t.path, t.name, t.full_name, t.kind, t.access, t.modifiers,
	COALESCE(t.namespace, ''), COALESCE(t.parent_type_name, ''),
	COALESCE(t.start_line, 0), COALESCE(t.end_line, 0),
	(SELECT COUNT(*) FROM methods m WHERE m.type_name = t.full_name) AS method_count`

type scanner interface {
	Scan(dest ...any) error
}

func scanTypeResult(row scanner) (TypeResult, error) {
	var tr TypeResult
	var mods string
	err := row.Scan(&tr.Key, &tr.Path, &tr.Name, &tr.FullName, &tr.Kind, &tr.Access, &mods,
		&tr.Namespace, &tr.ParentName, &tr.StartLine, &tr.EndLine, &tr.MethodCount)
	if err != nil {
		return tr, err
	}
	if mods != "" && mods != "[]" {
		if err := json.Unmarshal([]byte(mods), &tr.Modifiers); err != nil {
			return tr, fmt.Errorf("decode modifiers: %w", err)
		}
	}
	return tr, nil
}

// escapeLike escapes SQL LIKE special characters (% and _) with backslash.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// globToLike converts a glob with * and ? into an escaped LIKE pattern.
func globToLike(pattern string) string {
	like := escapeLike(pattern)
	like = strings.ReplaceAll(like, "*", "%")
	return strings.ReplaceAll(like, "?", "_")
}

func (f TypeFilter) where() ([]string, []any) {
	var where []string
	var args []any
	if len(f.Kinds) > 0 {
		where = append(where, "t.kind IN ("+strings.Repeat("?,", len(f.Kinds)-1)+"?)")
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if f.Access != nil {
		where = append(where, "t.access = ?")
		args = append(args, *f.Access)
	}
	if f.Namespace != nil {
		where = append(where, "COALESCE(t.namespace, '') = ?")
		args = append(args, *f.Namespace)
	}
	if f.PathPrefix != nil {
		if prefix := normalizePathPrefix(*f.PathPrefix); prefix != "" {
			where = append(where, `t.path LIKE ? ESCAPE '\'`)
			args = append(args, escapeLike(prefix)+"%")
		}
	}
	for _, mod := range f.Modifiers {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(t.modifiers) WHERE json_each.value = ?)")
		args = append(args, mod)
	}
	return where, args
}

func (q *QueryBuilder) db() (*sql.DB, error) {
	db, err := q.store.ReadDB()
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}
	return db, nil
}

// --- Enumeration Endpoints ---

// Types lists declared types matching filter.
func (q *QueryBuilder) Types(ctx context.Context, filter TypeFilter, sort Sort, page Pagination) (*PagedResult[TypeResult], error) {
	where, args := filter.where()
	return q.pagedTypes(ctx, "types", where, args, sort, page)
}

// SearchTypes matches type names against a glob (* and ?). A pattern
// containing a dot is matched against full names.
func (q *QueryBuilder) SearchTypes(ctx context.Context, pattern string, filter TypeFilter, sort Sort, page Pagination) (*PagedResult[TypeResult], error) {
	where, args := filter.where()
	col := "t.name"
	if strings.Contains(pattern, ".") {
		col = "t.full_name"
	}
	where = append(where, col+` LIKE ? ESCAPE '\'`)
	args = append(args, globToLike(pattern))
	return q.pagedTypes(ctx, "search types", where, args, sort, page)
}

func (q *QueryBuilder) pagedTypes(ctx context.Context, op string, where []string, args []any, sort Sort, page Pagination) (*PagedResult[TypeResult], error) {
	page = page.normalize()
	db, err := q.db()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM types t `+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%s: count: %w", op, err)
	}

	dataSQL := fmt.Sprintf(`SELECT %s FROM types t %s ORDER BY %s %s, t.full_name, t.type_key LIMIT ? OFFSET ?`,
		typeCols, whereClause, typeSortColumn(sort.Field), sortDirection(sort.Order))
	rows, err := db.QueryContext(ctx, dataSQL, append(append([]any{}, args...), page.Limit, page.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	items := []TypeResult{}
	for rows.Next() {
		tr, err := scanTypeResult(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		items = append(items, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return &PagedResult[TypeResult]{Items: items, TotalCount: total}, nil
}

// typeByFullName returns the first declaration of a type, or nil.
func (q *QueryBuilder) typeByFullName(ctx context.Context, db *sql.DB, fullName string) (*TypeResult, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+typeCols+` FROM types t WHERE t.full_name = ? ORDER BY t.path, t.start_line LIMIT 1`, fullName)
	tr, err := scanTypeResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

// --- Summary ---

// ProjectSummary is a high-level overview of the indexed codebase.
type ProjectSummary struct {
	FileCount   int
	LineCount   int
	MethodCount int
	KindCounts  map[string]int // declared types per kind
	TopTypes    []TypeResult   // by method count
}

// ProjectSummary returns counts over the whole index plus the topN types
// with the most methods.
func (q *QueryBuilder) ProjectSummary(ctx context.Context, topN int) (*ProjectSummary, error) {
	db, err := q.db()
	if err != nil {
		return nil, fmt.Errorf("project summary: %w", err)
	}
	summary := &ProjectSummary{KindCounts: make(map[string]int), TopTypes: []TypeResult{}}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(line_count), 0) FROM files`,
	).Scan(&summary.FileCount, &summary.LineCount)
	if err != nil {
		return nil, fmt.Errorf("project summary: files: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM methods`).Scan(&summary.MethodCount); err != nil {
		return nil, fmt.Errorf("project summary: methods: %w", err)
	}

	kindRows, err := db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM types GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("project summary: kinds: %w", err)
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var kind string
		var n int
		if err := kindRows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("project summary: scan kind: %w", err)
		}
		summary.KindCounts[kind] = n
	}
	if err := kindRows.Err(); err != nil {
		return nil, fmt.Errorf("project summary: kind rows: %w", err)
	}

	if topN > 0 {
		top, err := q.Types(ctx, TypeFilter{}, Sort{Field: SortByMethodCount, Order: Desc}, Pagination{Limit: topN})
		if err != nil {
			return nil, fmt.Errorf("project summary: %w", err)
		}
		summary.TopTypes = top.Items
	}
	return summary, nil
}
