package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/risor-io/risor/object"

	"github.com/jward/codefacts/internal/sqlguard"
	"github.com/jward/codefacts/internal/store"
)

// makeQueryFn creates the "query" host function. Statements go through the
// validator and the configured limits like any other client query.
//
// query(sql, args...) → []map[string]any
func makeQueryFn(r store.Reader, limits store.QueryOptions) *object.Builtin {
	return object.NewBuiltin("query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 {
			return object.Errorf("query: expected at least 1 argument (sql), got %d", len(args))
		}
		sqlStr, err := toString(args[0])
		if err != nil {
			return object.Errorf("query: %v", err)
		}

		res, err := r.Query(ctx, sqlStr, limits, queryArgs(args[1:])...)
		if err != nil {
			var rejected *store.RejectedError
			if errors.As(err, &rejected) {
				return object.Errorf("query: rejected: %s", rejected.Reason)
			}
			return object.Errorf("query: %v", err)
		}

		results := make([]object.Object, 0, len(res.Rows))
		for _, vals := range res.Rows {
			row := make(map[string]object.Object, len(res.Columns))
			for i, col := range res.Columns {
				row[col] = sqlValueToObject(vals[i])
			}
			results = append(results, object.NewMap(row))
		}
		return object.NewList(results)
	})
}

// queryArgs converts Risor values to query parameters.
func queryArgs(args []object.Object) []any {
	var out []any
	for _, arg := range args {
		switch v := arg.(type) {
		case *object.Int:
			out = append(out, v.Value())
		case *object.Float:
			out = append(out, v.Value())
		case *object.String:
			out = append(out, v.Value())
		case *object.Bool:
			out = append(out, v.Value())
		case *object.NilType:
			out = append(out, nil)
		default:
			out = append(out, fmt.Sprintf("%v", arg))
		}
	}
	return out
}

// makeValidateFn creates "validate", which checks a statement without
// running it.
//
// validate(sql) → {ok: bool, reason: string}
func makeValidateFn() *object.Builtin {
	return object.NewBuiltin("validate", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("validate", 1, len(args))
		}
		sqlStr, err := toString(args[0])
		if err != nil {
			return object.Errorf("validate: %v", err)
		}
		v := sqlguard.Validate(sqlStr)
		return object.NewMap(map[string]object.Object{
			"ok":     object.NewBool(v.OK),
			"reason": object.NewString(v.Reason),
		})
	})
}

// makeSchemaFn creates "schema".
//
// schema() → [{name, columns: [{name, type}]}]
func makeSchemaFn(r store.Reader) *object.Builtin {
	return object.NewBuiltin("schema", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("schema", 0, len(args))
		}
		views, err := r.Schema(ctx)
		if err != nil {
			return object.Errorf("schema: %v", err)
		}
		out := make([]object.Object, 0, len(views))
		for _, v := range views {
			cols := make([]object.Object, 0, len(v.Columns))
			for _, c := range v.Columns {
				cols = append(cols, object.NewMap(map[string]object.Object{
					"name": object.NewString(c.Name),
					"type": object.NewString(c.Type),
				}))
			}
			out = append(out, object.NewMap(map[string]object.Object{
				"name":    object.NewString(v.Name),
				"columns": object.NewList(cols),
			}))
		}
		return object.NewList(out)
	})
}

// makeScanStateFn creates "scan_state". It returns nil before the first scan.
func makeScanStateFn(r store.Reader) *object.Builtin {
	return object.NewBuiltin("scan_state", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("scan_state", 0, len(args))
		}
		st, err := r.ScanState(ctx)
		if err != nil {
			return object.Errorf("scan_state: %v", err)
		}
		if st == nil {
			return object.Nil
		}
		return object.NewMap(map[string]object.Object{
			"scan_id":         object.NewString(st.ScanID),
			"root":            object.NewString(st.Root),
			"last_scan_at":    object.NewString(st.LastScanAt.UTC().Format(time.RFC3339)),
			"files_scanned":   object.NewInt(int64(st.FilesScanned)),
			"files_extracted": object.NewInt(int64(st.FilesExtracted)),
			"files_unchanged": object.NewInt(int64(st.FilesUnchanged)),
			"files_removed":   object.NewInt(int64(st.FilesRemoved)),
			"full_rebuild":    object.NewBool(st.FullRebuild),
			"duration_ms":     object.NewInt(st.Duration.Milliseconds()),
		})
	})
}

// makeEmitFn creates "emit", which appends a value to the run's report.
func makeEmitFn(out *emitter) *object.Builtin {
	return object.NewBuiltin("emit", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit", 1, len(args))
		}
		out.add(args[0].Interface())
		return object.Nil
	})
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}

// sqlValueToObject converts a query result value to a Risor object.
func sqlValueToObject(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	switch val := v.(type) {
	case int64:
		return object.NewInt(val)
	case float64:
		return object.NewFloat(val)
	case string:
		return object.NewString(val)
	case bool:
		return object.NewBool(val)
	case []byte:
		return object.NewString(string(val))
	default:
		return object.NewString(fmt.Sprintf("%v", val))
	}
}
