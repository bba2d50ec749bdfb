package codefacts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// TypeRelation is one edge of a type hierarchy. Type is nil when the other
// side is not declared in the index (a framework base, say).
type TypeRelation struct {
	Name     string // as written in the base list, or the deriving type's full name
	Relation string // BaseType, Interface or BaseInterface
	Ordinal  int
	Type     *TypeResult
}

// MemberResult is one field, property, event or enum member of a type.
type MemberResult struct {
	Name     string
	Kind     string
	DataType string
	Static   bool
	Path     string
	Line     int
}

// TypeHierarchy is the neighborhood of one type: what it derives from,
// what derives from it, and what it declares.
type TypeHierarchy struct {
	Type    TypeResult
	Bases   []TypeRelation
	Derived []TypeRelation
	Members []MemberResult
}

// TypeHierarchy returns the hierarchy view for a fully qualified type name.
// Returns nil with no error if no such type is indexed.
func (q *QueryBuilder) TypeHierarchy(ctx context.Context, fullName string) (*TypeHierarchy, error) {
	db, err := q.db()
	if err != nil {
		return nil, fmt.Errorf("type hierarchy: %w", err)
	}
	tr, err := q.typeByFullName(ctx, db, fullName)
	if err != nil {
		return nil, fmt.Errorf("type hierarchy: %w", err)
	}
	if tr == nil {
		return nil, nil
	}

	h := &TypeHierarchy{Type: *tr, Bases: []TypeRelation{}, Derived: []TypeRelation{}, Members: []MemberResult{}}
	if h.Bases, err = q.bases(ctx, db, tr); err != nil {
		return nil, fmt.Errorf("type hierarchy: bases: %w", err)
	}
	if h.Derived, err = q.derived(ctx, db, tr); err != nil {
		return nil, fmt.Errorf("type hierarchy: derived: %w", err)
	}
	if h.Members, err = q.members(ctx, db, tr.FullName); err != nil {
		return nil, fmt.Errorf("type hierarchy: members: %w", err)
	}
	return h, nil
}

func (q *QueryBuilder) bases(ctx context.Context, db *sql.DB, tr *TypeResult) ([]TypeRelation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT base_name, relation, ordinal FROM type_inheritances
		 WHERE type_name = ? ORDER BY path, ordinal`, tr.FullName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TypeRelation{}
	for rows.Next() {
		var rel TypeRelation
		if err := rows.Scan(&rel.Name, &rel.Relation, &rel.Ordinal); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		base, err := q.resolveBase(ctx, db, out[i].Name, tr.Namespace)
		if err != nil {
			return nil, err
		}
		out[i].Type = base
	}
	return out, nil
}

// resolveBase finds the declared type a base-list entry names: first as a
// full name, then inside the owner's namespace, then by a unique simple name.
func (q *QueryBuilder) resolveBase(ctx context.Context, db *sql.DB, name, namespace string) (*TypeResult, error) {
	name = stripTypeArgs(name)
	candidates := []string{name}
	if namespace != "" {
		candidates = append(candidates, namespace+"."+name)
	}
	for _, full := range candidates {
		tr, err := q.typeByFullName(ctx, db, full)
		if err != nil || tr != nil {
			return tr, err
		}
	}
	simple := name[strings.LastIndex(name, ".")+1:]
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT full_name FROM types WHERE name = ? LIMIT 2`, simple)
	if err != nil {
		return nil, err
	}
	var matches []string
	for rows.Next() {
		var full string
		if err := rows.Scan(&full); err != nil {
			rows.Close()
			return nil, err
		}
		matches = append(matches, full)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) != 1 {
		return nil, nil
	}
	return q.typeByFullName(ctx, db, matches[0])
}

func (q *QueryBuilder) derived(ctx context.Context, db *sql.DB, tr *TypeResult) ([]TypeRelation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT type_name, relation, ordinal FROM type_inheritances
		 WHERE base_name IN (?, ?) OR base_name LIKE ? ESCAPE '\' OR base_name LIKE ? ESCAPE '\'
		 ORDER BY type_name`,
		tr.Name, tr.FullName, escapeLike(tr.Name)+"<%", escapeLike(tr.FullName)+"<%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TypeRelation{}
	for rows.Next() {
		var rel TypeRelation
		if err := rows.Scan(&rel.Name, &rel.Relation, &rel.Ordinal); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		child, err := q.typeByFullName(ctx, db, out[i].Name)
		if err != nil {
			return nil, err
		}
		out[i].Type = child
	}
	return out, nil
}

func (q *QueryBuilder) members(ctx context.Context, db *sql.DB, fullName string) ([]MemberResult, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, kind, COALESCE(data_type, ''), is_static, path, line
		 FROM type_members WHERE type_name = ? ORDER BY path, line, name`, fullName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MemberResult{}
	for rows.Next() {
		var m MemberResult
		if err := rows.Scan(&m.Name, &m.Kind, &m.DataType, &m.Static, &m.Path, &m.Line); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func stripTypeArgs(name string) string {
	name = strings.TrimPrefix(name, "global::")
	if i := strings.IndexByte(name, '<'); i >= 0 {
		return name[:i]
	}
	return name
}
