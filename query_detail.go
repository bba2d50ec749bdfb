package codefacts

import (
	"context"
	"database/sql"
	"fmt"
)

// MethodResult is one executable unit.
type MethodResult struct {
	Key        string
	Name       string
	Kind       string
	TypeName   string
	ReturnType string
	Parameters string
	StartLine  int
	EndLine    int
	ParentKey  string
}

// LineVariable is one variable used on a line.
type LineVariable struct {
	Key                string
	Name               string
	Kind               string
	DeclaringMethodKey string
}

// LineDetail bundles the facts of one source line.
type LineDetail struct {
	Path       string
	Line       int
	Text       string
	BlockDepth int
	// Owners is the chain of executable units containing the line,
	// innermost first. Empty outside any unit.
	Owners     []MethodResult
	Variables  []LineVariable
	References []ReferenceResult
}

// ReferenceResult is one classified symbol reference.
type ReferenceResult struct {
	Name          string
	Kind          string
	ContainerType string
	SymbolType    string
}

// LineDetail returns the facts recorded for a 1-based line of path.
// Returns nil with no error if the line is not indexed.
func (q *QueryBuilder) LineDetail(ctx context.Context, path string, line int) (*LineDetail, error) {
	db, err := q.db()
	if err != nil {
		return nil, fmt.Errorf("line detail: %w", err)
	}

	d := &LineDetail{Owners: []MethodResult{}, Variables: []LineVariable{}, References: []ReferenceResult{}}
	var methodKey sql.NullString
	err = db.QueryRowContext(ctx,
		`SELECT path, line, text, block_depth, method_key FROM lines WHERE path = ? COLLATE NOCASE AND line = ?`,
		path, line,
	).Scan(&d.Path, &d.Line, &d.Text, &d.BlockDepth, &methodKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("line detail: line: %w", err)
	}

	if methodKey.Valid {
		if d.Owners, err = q.ownerChain(ctx, db, methodKey.String); err != nil {
			return nil, fmt.Errorf("line detail: owners: %w", err)
		}
	}
	if d.Variables, err = q.lineVariables(ctx, db, d.Path, line); err != nil {
		return nil, fmt.Errorf("line detail: variables: %w", err)
	}
	if d.References, err = q.lineReferences(ctx, db, d.Path, line); err != nil {
		return nil, fmt.Errorf("line detail: references: %w", err)
	}
	return d, nil
}

// ownerChain walks parent_method_key from key outwards.
func (q *QueryBuilder) ownerChain(ctx context.Context, db *sql.DB, key string) ([]MethodResult, error) {
	chain := []MethodResult{}
	seen := map[string]bool{}
	for key != "" && !seen[key] {
		seen[key] = true
		var m MethodResult
		var parent sql.NullString
		err := db.QueryRowContext(ctx,
			`SELECT method_key, name, kind, COALESCE(type_name, ''), COALESCE(return_type, ''), parameters,
			        COALESCE(start_line, 0), COALESCE(end_line, 0), parent_method_key
			 FROM methods WHERE method_key = ?`, key,
		).Scan(&m.Key, &m.Name, &m.Kind, &m.TypeName, &m.ReturnType, &m.Parameters, &m.StartLine, &m.EndLine, &parent)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, err
		}
		m.ParentKey = parent.String
		chain = append(chain, m)
		key = parent.String
	}
	return chain, nil
}

func (q *QueryBuilder) lineVariables(ctx context.Context, db *sql.DB, path string, line int) ([]LineVariable, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT variable_key, COALESCE(variable_name, ''), COALESCE(variable_kind, ''), COALESCE(declaring_method_key, '')
		 FROM line_variables WHERE path = ? AND line = ? ORDER BY variable_name, variable_key`, path, line)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []LineVariable{}
	for rows.Next() {
		var v LineVariable
		if err := rows.Scan(&v.Key, &v.Name, &v.Kind, &v.DeclaringMethodKey); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (q *QueryBuilder) lineReferences(ctx context.Context, db *sql.DB, path string, line int) ([]ReferenceResult, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, kind, COALESCE(container_type, ''), COALESCE(symbol_type, '')
		 FROM symbol_references WHERE path = ? AND line = ? ORDER BY reference_key`, path, line)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ReferenceResult{}
	for rows.Next() {
		var r ReferenceResult
		if err := rows.Scan(&r.Name, &r.Kind, &r.ContainerType, &r.SymbolType); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
