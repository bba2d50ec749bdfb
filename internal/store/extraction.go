package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jward/codefacts/internal/facts"
)

// --- File fingerprints ---

// IndexedFiles returns the fingerprint of every persisted file, ordered by
// path.
func (s *Store) IndexedFiles(ctx context.Context) ([]IndexedFile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, hash FROM fact_files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("indexed files: %w", err)
	}
	defer rows.Close()
	var files []IndexedFile
	for rows.Next() {
		var f IndexedFile
		if err := rows.Scan(&f.Path, &f.Hash); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// IndexedFileHashes maps each persisted file's normalized path to its
// content hash.
func (s *Store) IndexedFileHashes(ctx context.Context) (map[string]string, error) {
	files, err := s.IndexedFiles(ctx)
	if err != nil {
		return nil, err
	}
	hashes := make(map[string]string, len(files))
	for _, f := range files {
		hashes[facts.NormalizePath(f.Path)] = f.Hash
	}
	return hashes, nil
}

// --- Symbol table inputs ---

// LoadSymbols returns partial bundles, holding only types, inheritance
// edges and members, for every persisted file whose path is not in except.
// It lets a changed-only scan bind against files it did not re-parse.
func (s *Store) LoadSymbols(ctx context.Context, except []string) ([]*facts.FileFacts, error) {
	skip := make(map[string]bool, len(except))
	for _, p := range except {
		skip[facts.FileKey(p)] = true
	}

	files, err := s.IndexedFiles(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*facts.FileFacts)
	var out []*facts.FileFacts
	for _, f := range files {
		fk := facts.FileKey(f.Path)
		if skip[fk] {
			continue
		}
		ff := &facts.FileFacts{File: facts.Fingerprint{Path: f.Path, Hash: f.Hash}}
		byKey[fk] = ff
		out = append(out, ff)
	}
	if len(out) == 0 {
		return nil, nil
	}

	if err := s.loadTypes(ctx, byKey, ""); err != nil {
		return nil, err
	}
	if err := s.loadInheritances(ctx, byKey, ""); err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, byKey, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// fileFilter narrows a load to one file key when non-empty.
func fileFilter(fk string) (string, []any) {
	if fk == "" {
		return "", nil
	}
	return " WHERE file_key = ?", []any{fk}
}

func (s *Store) loadTypes(ctx context.Context, byKey map[string]*facts.FileFacts, fk string) error {
	where, args := fileFilter(fk)
	rows, err := s.db.QueryContext(ctx, `SELECT file_key, type_key, name, kind, access, modifiers, full_name,
		namespace, parent_type_key, start_line, start_col, end_line, end_col, type_parameters
		FROM fact_types`+where+` ORDER BY file_key, start_line, start_col`, args...)
	if err != nil {
		return fmt.Errorf("load types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			file, mods, params string
			ns, parent         sql.NullString
			t                  facts.TypeDeclaration
		)
		if err := rows.Scan(&file, &t.Key, &t.Name, &t.Kind, &t.Access, &mods, &t.FullName, &ns, &parent,
			&t.Span.StartLine, &t.Span.StartCol, &t.Span.EndLine, &t.Span.EndCol, &params); err != nil {
			return fmt.Errorf("scan type: %w", err)
		}
		t.Modifiers = unmarshalModifiers(mods)
		t.TypeParameters = unmarshalModifiers(params)
		t.Namespace, t.ParentTypeKey = ns.String, parent.String
		if ff := byKey[file]; ff != nil {
			ff.Types = append(ff.Types, t)
		}
	}
	return rows.Err()
}

func (s *Store) loadInheritances(ctx context.Context, byKey map[string]*facts.FileFacts, fk string) error {
	where, args := fileFilter(fk)
	rows, err := s.db.QueryContext(ctx, `SELECT file_key, type_key, base_name, relation, ordinal
		FROM fact_type_inheritances`+where+` ORDER BY file_key, type_key, ordinal`, args...)
	if err != nil {
		return fmt.Errorf("load inheritances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			file string
			inh  facts.TypeInheritance
		)
		if err := rows.Scan(&file, &inh.TypeKey, &inh.BaseName, &inh.Relation, &inh.Ordinal); err != nil {
			return fmt.Errorf("scan inheritance: %w", err)
		}
		if ff := byKey[file]; ff != nil {
			ff.Inheritances = append(ff.Inheritances, inh)
		}
	}
	return rows.Err()
}

func (s *Store) loadMembers(ctx context.Context, byKey map[string]*facts.FileFacts, fk string) error {
	where, args := fileFilter(fk)
	rows, err := s.db.QueryContext(ctx, `SELECT file_key, member_key, type_key, type_name, name, kind,
		data_type, is_static, line, type_parameters
		FROM fact_type_members`+where+` ORDER BY file_key, line, member_key`, args...)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			file, params string
			dataType     sql.NullString
			m            facts.TypeMember
		)
		if err := rows.Scan(&file, &m.Key, &m.TypeKey, &m.TypeName, &m.Name, &m.Kind, &dataType, &m.IsStatic, &m.Line, &params); err != nil {
			return fmt.Errorf("scan member: %w", err)
		}
		m.DataType = dataType.String
		m.TypeParameters = unmarshalModifiers(params)
		if ff := byKey[file]; ff != nil {
			ff.Members = append(ff.Members, m)
		}
	}
	return rows.Err()
}

// FileFacts reloads the declarations, methods and lines persisted for path.
// It returns nil if the file is not indexed.
func (s *Store) FileFacts(ctx context.Context, path string) (*facts.FileFacts, error) {
	fk := facts.FileKey(path)
	ff := &facts.FileFacts{}
	err := s.db.QueryRowContext(ctx, "SELECT path, hash, language FROM fact_files WHERE file_key = ?", fk).
		Scan(&ff.File.Path, &ff.File.Hash, &ff.File.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file facts: %w", err)
	}

	byKey := map[string]*facts.FileFacts{fk: ff}
	if err := s.loadTypes(ctx, byKey, fk); err != nil {
		return nil, err
	}
	if err := s.loadInheritances(ctx, byKey, fk); err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, byKey, fk); err != nil {
		return nil, err
	}
	if err := s.loadMethods(ctx, ff, fk); err != nil {
		return nil, err
	}
	if err := s.loadLines(ctx, ff, fk); err != nil {
		return nil, err
	}
	return ff, nil
}

func (s *Store) loadMethods(ctx context.Context, ff *facts.FileFacts, fk string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT method_key, name, return_type, parameters, parameter_count,
		access, modifiers, kind, parent_method_key, type_key, start_line, start_col, end_line, end_col
		FROM fact_methods WHERE file_key = ? ORDER BY start_line, start_col, method_key`, fk)
	if err != nil {
		return fmt.Errorf("load methods: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m                    facts.MethodDeclaration
			mods                 string
			ret, parent, typeKey sql.NullString
		)
		if err := rows.Scan(&m.Key, &m.Name, &ret, &m.Parameters, &m.ParameterCount, &m.Access, &mods, &m.Kind,
			&parent, &typeKey, &m.Span.StartLine, &m.Span.StartCol, &m.Span.EndLine, &m.Span.EndCol); err != nil {
			return fmt.Errorf("scan method: %w", err)
		}
		m.ReturnType, m.ParentMethodKey, m.TypeKey = ret.String, parent.String, typeKey.String
		m.Modifiers = unmarshalModifiers(mods)
		ff.Methods = append(ff.Methods, m)
	}
	return rows.Err()
}

func (s *Store) loadLines(ctx context.Context, ff *facts.FileFacts, fk string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT line, text, method_key, block_depth, usage_count
		FROM fact_lines WHERE file_key = ? ORDER BY line`, fk)
	if err != nil {
		return fmt.Errorf("load lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l      facts.LineFact
			method sql.NullString
		)
		if err := rows.Scan(&l.Line, &l.Text, &method, &l.BlockDepth, &l.UsageCount); err != nil {
			return fmt.Errorf("scan line: %w", err)
		}
		l.MethodKey = method.String
		ff.Lines = append(ff.Lines, l)
	}
	return rows.Err()
}

// --- Scan state ---

// ScanState returns the last recorded scan, or nil before the first scan.
func (s *Store) ScanState(ctx context.Context) (*ScanState, error) {
	st := &ScanState{}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT scan_id, root, last_scan_at, files_scanned, files_extracted,
		files_unchanged, files_removed, full_rebuild, duration_ms
		FROM meta_scan_state WHERE id = 1`).
		Scan(&st.ScanID, &st.Root, &st.LastScanAt, &st.FilesScanned, &st.FilesExtracted,
			&st.FilesUnchanged, &st.FilesRemoved, &st.FullRebuild, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}
	st.Duration = time.Duration(ms) * time.Millisecond
	return st, nil
}
