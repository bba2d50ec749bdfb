package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jward/codefacts/internal/facts"
)

// PersistFacts writes one scan's results in a single transaction. A full
// rebuild first deletes every file; otherwise removedPaths are deleted and
// each bundle replaces its file's previous facts. Deleting a file row
// cascades to all of its facts.
//
// Cancellation is honoured only before the transaction starts. Once begun,
// the transaction runs to commit or rolls back on error.
func (s *Store) PersistFacts(ctx context.Context, bundles []*facts.FileFacts, removedPaths []string, fullRebuild bool) error {
	return s.commit(ctx, bundles, removedPaths, fullRebuild, nil)
}

// CommitScan is PersistFacts plus the scan summary. The facts and the
// replaced ScanState commit together or not at all.
func (s *Store) CommitScan(ctx context.Context, bundles []*facts.FileFacts, removedPaths []string, fullRebuild bool, st ScanState) error {
	return s.commit(ctx, bundles, removedPaths, fullRebuild, &st)
}

func (s *Store) commit(ctx context.Context, bundles []*facts.FileFacts, removedPaths []string, fullRebuild bool, st *ScanState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("persist facts: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist facts: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if fullRebuild {
		if _, err := tx.ExecContext(ctx, "DELETE FROM fact_files"); err != nil {
			return fmt.Errorf("persist facts: clear: %w", err)
		}
	}
	for _, p := range removedPaths {
		if _, err := tx.ExecContext(ctx, "DELETE FROM fact_files WHERE file_key = ?", facts.FileKey(p)); err != nil {
			return fmt.Errorf("persist facts: remove %s: %w", p, err)
		}
	}

	ins, err := prepareInserts(ctx, tx)
	if err != nil {
		return fmt.Errorf("persist facts: %w", err)
	}
	defer ins.close()

	now := time.Now().UTC()
	for _, ff := range bundles {
		if err := ins.bundle(ctx, ff, now); err != nil {
			return fmt.Errorf("persist facts: %s: %w", ff.File.Path, err)
		}
	}
	if st != nil {
		if err := recordScan(ctx, tx, *st); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const (
	deleteFileSQL = `DELETE FROM fact_files WHERE file_key = ?`
	insertFileSQL = `INSERT INTO fact_files (file_key, path, hash, language, line_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	insertTypeSQL = `INSERT OR REPLACE INTO fact_types (type_key, file_key, name, kind, access, modifiers,
		full_name, namespace, parent_type_key, start_line, start_col, end_line, end_col, type_parameters)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertInheritanceSQL = `INSERT OR REPLACE INTO fact_type_inheritances (type_key, file_key, base_name, relation, ordinal)
		VALUES (?, ?, ?, ?, ?)`
	insertMemberSQL = `INSERT OR REPLACE INTO fact_type_members (member_key, file_key, type_key, type_name, name,
		kind, data_type, is_static, line, type_parameters)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertMethodSQL = `INSERT OR REPLACE INTO fact_methods (method_key, file_key, name, return_type, parameters,
		parameter_count, access, modifiers, kind, parent_method_key, type_key,
		start_line, start_col, end_line, end_col)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertLineSQL = `INSERT OR REPLACE INTO fact_lines (file_key, line, text, method_key, block_depth, usage_count)
		VALUES (?, ?, ?, ?, ?, ?)`
	insertVariableSQL = `INSERT OR REPLACE INTO fact_variables (variable_key, file_key, method_key, name, kind, type_name, line)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	insertUsageSQL = `INSERT OR IGNORE INTO fact_line_variables (file_key, line, variable_key)
		VALUES (?, ?, ?)`
	insertInvocationSQL = `INSERT INTO fact_invocations (invocation_key, file_key, method_key, line,
		expression, target_name)
		VALUES (?, ?, ?, ?, ?, ?)`
	insertReferenceSQL = `INSERT OR REPLACE INTO fact_symbol_references (reference_key, file_key, line, method_key,
		name, kind, container_type, symbol_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// inserts holds one prepared statement per fact table for the lifetime of a
// transaction.
type inserts struct {
	deleteFile, file, typ, inheritance, member, method *sql.Stmt
	line, variable, usage, invocation, reference       *sql.Stmt
}

func prepareInserts(ctx context.Context, tx *sql.Tx) (*inserts, error) {
	ins := &inserts{}
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&ins.deleteFile, deleteFileSQL},
		{&ins.file, insertFileSQL},
		{&ins.typ, insertTypeSQL},
		{&ins.inheritance, insertInheritanceSQL},
		{&ins.member, insertMemberSQL},
		{&ins.method, insertMethodSQL},
		{&ins.line, insertLineSQL},
		{&ins.variable, insertVariableSQL},
		{&ins.usage, insertUsageSQL},
		{&ins.invocation, insertInvocationSQL},
		{&ins.reference, insertReferenceSQL},
	}
	for _, st := range stmts {
		stmt, err := tx.PrepareContext(ctx, st.query)
		if err != nil {
			ins.close()
			return nil, fmt.Errorf("prepare: %w", err)
		}
		*st.dst = stmt
	}
	return ins, nil
}

func (ins *inserts) close() {
	for _, st := range []*sql.Stmt{
		ins.deleteFile, ins.file, ins.typ, ins.inheritance, ins.member, ins.method,
		ins.line, ins.variable, ins.usage, ins.invocation, ins.reference,
	} {
		if st != nil {
			st.Close()
		}
	}
}

// bundle replaces one file's facts. Insert order follows the foreign keys:
// the file row, then types before their inheritance edges.
func (ins *inserts) bundle(ctx context.Context, ff *facts.FileFacts, now time.Time) error {
	fk := ff.File.Key()
	if _, err := ins.deleteFile.ExecContext(ctx, fk); err != nil {
		return fmt.Errorf("delete previous facts: %w", err)
	}
	if _, err := ins.file.ExecContext(ctx, fk, ff.File.Path, ff.File.Hash, ff.File.Language, len(ff.Lines), now); err != nil {
		return fmt.Errorf("file: %w", err)
	}
	for _, t := range ff.Types {
		if _, err := ins.typ.ExecContext(ctx, t.Key, fk, t.Name, t.Kind, t.Access, marshalModifiers(t.Modifiers),
			t.FullName, nullString(t.Namespace), nullString(t.ParentTypeKey),
			t.Span.StartLine, t.Span.StartCol, t.Span.EndLine, t.Span.EndCol, marshalModifiers(t.TypeParameters)); err != nil {
			return fmt.Errorf("type %q: %w", t.FullName, err)
		}
	}
	for _, inh := range ff.Inheritances {
		if _, err := ins.inheritance.ExecContext(ctx, inh.TypeKey, fk, inh.BaseName, inh.Relation, inh.Ordinal); err != nil {
			return fmt.Errorf("inheritance %q: %w", inh.BaseName, err)
		}
	}
	for _, m := range ff.Members {
		if _, err := ins.member.ExecContext(ctx, m.Key, fk, m.TypeKey, m.TypeName, m.Name, m.Kind,
			nullString(m.DataType), m.IsStatic, m.Line, marshalModifiers(m.TypeParameters)); err != nil {
			return fmt.Errorf("member %q: %w", m.Name, err)
		}
	}
	for _, m := range ff.Methods {
		if _, err := ins.method.ExecContext(ctx, m.Key, fk, m.Name, nullString(m.ReturnType), m.Parameters,
			m.ParameterCount, m.Access, marshalModifiers(m.Modifiers), m.Kind,
			nullString(m.ParentMethodKey), nullString(m.TypeKey),
			m.Span.StartLine, m.Span.StartCol, m.Span.EndLine, m.Span.EndCol); err != nil {
			return fmt.Errorf("method %q: %w", m.Name, err)
		}
	}
	for _, l := range ff.Lines {
		if _, err := ins.line.ExecContext(ctx, fk, l.Line, l.Text, nullString(l.MethodKey), l.BlockDepth, l.UsageCount); err != nil {
			return fmt.Errorf("line %d: %w", l.Line, err)
		}
	}
	for _, v := range ff.Variables {
		if _, err := ins.variable.ExecContext(ctx, v.Key, fk, v.MethodKey, v.Name, v.Kind, nullString(v.TypeName), v.Line); err != nil {
			return fmt.Errorf("variable %q: %w", v.Name, err)
		}
	}
	for _, u := range ff.Usages {
		if _, err := ins.usage.ExecContext(ctx, fk, u.Line, u.VariableKey); err != nil {
			return fmt.Errorf("usage on line %d: %w", u.Line, err)
		}
	}
	for _, inv := range ff.Invocations {
		if _, err := ins.invocation.ExecContext(ctx, inv.Key, fk, nullString(inv.MethodKey), inv.Line, inv.Expression, inv.TargetName); err != nil {
			return fmt.Errorf("invocation %q: %w", inv.TargetName, err)
		}
	}
	for _, r := range ff.References {
		if _, err := ins.reference.ExecContext(ctx, r.Key, fk, r.Line, nullString(r.MethodKey), r.Name, r.Kind,
			nullString(r.ContainerType), nullString(r.SymbolType)); err != nil {
			return fmt.Errorf("reference %q: %w", r.Name, err)
		}
	}
	return nil
}

// recordScan replaces the stored scan summary.
func recordScan(ctx context.Context, tx *sql.Tx, st ScanState) error {
	_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta_scan_state
		(id, scan_id, root, last_scan_at, files_scanned, files_extracted, files_unchanged,
		 files_removed, full_rebuild, duration_ms)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ScanID, st.Root, st.LastScanAt.UTC(), st.FilesScanned, st.FilesExtracted, st.FilesUnchanged,
		st.FilesRemoved, st.FullRebuild, st.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record scan: %w", err)
	}
	return nil
}
