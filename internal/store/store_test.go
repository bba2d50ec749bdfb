package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codefacts/internal/facts"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// testBundle builds a small but complete bundle for one file: a class with
// one method, a parameter, a local and one use of each.
func testBundle(path, hash string) *facts.FileFacts {
	typeKey := facts.EntityKey(path, "type", "App.Widget", 1, 0)
	methodKey := facts.EntityKey(path, "method", "Run", 3, 4)
	paramKey := facts.EntityKey(path, "variable", "n", 3, 17)
	localKey := facts.EntityKey(path, "variable", "x", 5, 12)
	return &facts.FileFacts{
		File: facts.Fingerprint{Path: path, Hash: hash, Language: "csharp"},
		Types: []facts.TypeDeclaration{{
			Key: typeKey, Name: "Widget", Kind: facts.KindClass, Access: facts.AccessPublic,
			Modifiers: []string{"sealed"}, FullName: "App.Widget", Namespace: "App",
			Span:           facts.Span{StartLine: 1, EndLine: 7, EndCol: 1},
			TypeParameters: []string{"T"},
		}},
		Inheritances: []facts.TypeInheritance{
			{TypeKey: typeKey, BaseName: "Base", Relation: facts.RelationBaseType, Ordinal: 0},
			{TypeKey: typeKey, BaseName: "IRunner", Relation: facts.RelationInterface, Ordinal: 1},
		},
		Members: []facts.TypeMember{{
			Key: facts.EntityKey(path, "member", "Run", 3, 4), TypeKey: typeKey, TypeName: "App.Widget",
			Name: "Run", Kind: facts.MemberMethod, DataType: "void", Line: 3,
			TypeParameters: []string{"TResult"},
		}},
		Methods: []facts.MethodDeclaration{{
			Key: methodKey, Name: "Run", ReturnType: "void", Parameters: "(int n)", ParameterCount: 1,
			Access: facts.AccessPublic, Kind: facts.MethodKindMethod, TypeKey: typeKey,
			Span: facts.Span{StartLine: 3, StartCol: 4, EndLine: 6, EndCol: 5},
		}},
		Lines: []facts.LineFact{
			{Line: 1, Text: "public sealed class Widget : Base, IRunner"},
			{Line: 2, Text: "{"},
			{Line: 3, Text: "    public void Run(int n)", MethodKey: methodKey},
			{Line: 4, Text: "    {", MethodKey: methodKey},
			{Line: 5, Text: "        var x = n;", MethodKey: methodKey, UsageCount: 2},
			{Line: 6, Text: "    }", MethodKey: methodKey},
			{Line: 7, Text: "}"},
		},
		Variables: []facts.VariableDeclaration{
			{Key: paramKey, MethodKey: methodKey, Name: "n", Kind: facts.VarParameter, TypeName: "int", Line: 3},
			{Key: localKey, MethodKey: methodKey, Name: "x", Kind: facts.VarLocal, TypeName: "var", Line: 5},
		},
		Usages: []facts.LineVariableUsage{
			{Line: 5, VariableKey: localKey},
			{Line: 5, VariableKey: paramKey},
			{Line: 5, VariableKey: paramKey},
		},
		Invocations: []facts.Invocation{{
			Key: facts.EntityKey(path, "invocation", "Log", 5, 8), MethodKey: methodKey, Line: 5,
			Expression: "Log(x)", TargetName: "Log",
		}},
		References: []facts.SymbolReference{{
			Key: facts.EntityKey(path, "reference", "n", 5, 16), Line: 5, MethodKey: methodKey,
			Name: "n", Kind: facts.SymbolVariable, ContainerType: "App.Widget", SymbolType: "int",
		}},
	}
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

var factTables = []string{
	"fact_files", "fact_types", "fact_type_inheritances", "fact_type_members", "fact_methods",
	"fact_lines", "fact_variables", "fact_line_variables", "fact_invocations", "fact_symbol_references",
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_ViewsExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	views, err := s.Schema(context.Background())
	require.NoError(t, err)
	var names []string
	for _, v := range views {
		names = append(names, v.Name)
		assert.NotEmpty(t, v.Columns, v.Name)
	}
	assert.Equal(t, publicViews, names)
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
	assert.Equal(t, len(migrations), countRows(t, s, "meta_schema"))
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.DB().Exec("INSERT INTO meta_schema (version, applied_at) VALUES (?, ?)", SchemaVersion+1, time.Now())
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestMigrate_RecordsCapabilities(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	caps, err := s.Capabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "csharp", caps[CapLanguage])
	assert.NotEmpty(t, caps[CapSQLiteVersion])
}

func TestSchemaInfoView(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	res, err := s.Query(context.Background(), "SELECT version FROM schema_info", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, SchemaVersion, res.Rows[0][0])
}

// =============================================================================
// Persistence
// =============================================================================

func TestPersistFacts_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	in := testBundle("src/Widget.cs", "h1")
	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{in}, nil, true))

	got, err := s.FileFacts(ctx, "SRC/widget.cs")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, in.File, got.File)
	assert.Equal(t, in.Types, got.Types)
	assert.Equal(t, in.Inheritances, got.Inheritances)
	assert.Equal(t, in.Members, got.Members)
	assert.Equal(t, in.Methods, got.Methods)
	assert.Equal(t, in.Lines, got.Lines)

	assert.Equal(t, 2, countRows(t, s, "fact_line_variables"), "usages are a set per line")
	assert.Equal(t, 2, countRows(t, s, "fact_variables"))
	assert.Equal(t, 1, countRows(t, s, "fact_symbol_references"))
}

func TestPersistFacts_MissingFileIsNil(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.FileFacts(context.Background(), "nope.cs")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPersistFacts_ReplacesChangedFile(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{testBundle("a.cs", "h1"), testBundle("b.cs", "h1")}, nil, true))

	changed := testBundle("b.cs", "h2")
	changed.Methods = nil
	changed.Lines = changed.Lines[:2]
	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{changed}, nil, false))

	hashes, err := s.IndexedFileHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.cs": "h1", "b.cs": "h2"}, hashes)

	b, err := s.FileFacts(ctx, "b.cs")
	require.NoError(t, err)
	assert.Empty(t, b.Methods)
	assert.Len(t, b.Lines, 2)

	a, err := s.FileFacts(ctx, "a.cs")
	require.NoError(t, err)
	assert.Len(t, a.Methods, 1, "unchanged file keeps its facts")
}

func TestPersistFacts_RemovedFilesCascade(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{testBundle("gone.cs", "h1")}, nil, true))

	require.NoError(t, s.PersistFacts(ctx, nil, []string{"GONE.cs"}, false))
	for _, table := range factTables {
		assert.Zero(t, countRows(t, s, table), table)
	}
}

func TestPersistFacts_FullRebuildClearsEverything(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{testBundle("a.cs", "h1"), testBundle("b.cs", "h1")}, nil, true))
	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{testBundle("c.cs", "h1")}, nil, true))

	files, err := s.IndexedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []IndexedFile{{Path: "c.cs", Hash: "h1"}}, files)
}

func TestPersistFacts_FailureRollsBackEverything(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{testBundle("keep.cs", "h1")}, nil, true))

	bad := testBundle("bad.cs", "h1")
	bad.Inheritances[0].TypeKey = "type:missing"
	err := s.PersistFacts(ctx, []*facts.FileFacts{testBundle("new.cs", "h1"), bad}, []string{"keep.cs"}, false)
	require.Error(t, err)

	files, err := s.IndexedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []IndexedFile{{Path: "keep.cs", Hash: "h1"}}, files)
}

func TestPersistFacts_CanceledBeforeStart(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.PersistFacts(ctx, []*facts.FileFacts{testBundle("a.cs", "h1")}, nil, true)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, countRows(t, s, "fact_files"))
}

func TestLoadSymbols_SkipsExcludedFiles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{testBundle("a.cs", "h1"), testBundle("b.cs", "h1")}, nil, true))

	got, err := s.LoadSymbols(ctx, []string{"B.CS"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.cs", got[0].File.Path)
	assert.Len(t, got[0].Types, 1)
	assert.Len(t, got[0].Inheritances, 2)
	assert.Len(t, got[0].Members, 1)
	assert.Empty(t, got[0].Lines, "symbol bundles are partial")
}

func TestScanState(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.ScanState(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	want := ScanState{
		ScanID: "scan-1", Root: "/src", LastScanAt: time.Now().UTC().Truncate(time.Second),
		FilesScanned: 3, FilesExtracted: 1, FilesUnchanged: 2, FilesRemoved: 1,
		Duration: 1500 * time.Millisecond,
	}
	require.NoError(t, s.CommitScan(ctx, nil, nil, false, want))
	want.ScanID = "scan-2"
	want.FullRebuild = true
	require.NoError(t, s.CommitScan(ctx, nil, nil, false, want))

	st, err = s.ScanState(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "scan-2", st.ScanID)
	assert.True(t, st.FullRebuild)
	assert.Equal(t, 1500*time.Millisecond, st.Duration)
	assert.True(t, want.LastScanAt.Equal(st.LastScanAt))
	assert.Equal(t, 1, countRows(t, s, "meta_scan_state"))
}

func TestCommitScan_FailureKeepsPreviousState(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	first := ScanState{ScanID: "scan-1", Root: "/src", LastScanAt: time.Now().UTC()}
	require.NoError(t, s.CommitScan(ctx, []*facts.FileFacts{testBundle("a.cs", "h1")}, nil, true, first))

	bad := testBundle("b.cs", "h1")
	bad.Inheritances[0].TypeKey = "type:missing"
	err := s.CommitScan(ctx, []*facts.FileFacts{bad}, nil, false, ScanState{ScanID: "scan-2", LastScanAt: time.Now().UTC()})
	require.Error(t, err)

	st, err := s.ScanState(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "scan-1", st.ScanID)
	assert.Equal(t, 1, countRows(t, s, "fact_files"))
}

func TestPersistFacts_DuplicateInvocationKeyFails(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ff := testBundle("a.cs", "h1")
	ff.Invocations = append(ff.Invocations, ff.Invocations[0])

	err := s.PersistFacts(context.Background(), []*facts.FileFacts{ff}, nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invocation")
	assert.Zero(t, countRows(t, s, "fact_invocations"))
}

// =============================================================================
// Queries
// =============================================================================

func TestQuery_Views(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{testBundle("a.cs", "h1")}, nil, true))

	res, err := s.Query(ctx, "SELECT name, type_name, parameters FROM methods", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "type_name", "parameters"}, res.Columns)
	assert.Equal(t, [][]any{{"Run", "App.Widget", "(int n)"}}, res.Rows)

	res, err = s.Query(ctx, "SELECT line, method_name FROM lines WHERE method_name IS NOT NULL ORDER BY line", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 4)

	res, err = s.Query(ctx, "SELECT variable_name FROM line_variables WHERE line = ? ORDER BY variable_name", QueryOptions{}, 5)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"n"}, {"x"}}, res.Rows)
}

func TestQuery_Rejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.Query(context.Background(), "DELETE FROM fact_files", QueryOptions{})
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "forbidden keyword: DELETE", rejected.Reason)
}

func TestQuery_MaxRows(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{testBundle("a.cs", "h1")}, nil, true))

	res, err := s.Query(ctx, "SELECT line FROM lines ORDER BY line", QueryOptions{MaxRows: 3})
	var limit *LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, LimitMaxRows, limit.Limit)
	assert.EqualValues(t, 3, limit.Value)
	require.NotNil(t, res)
	assert.Len(t, res.Rows, 3)
	assert.True(t, res.Truncated)

	res, err = s.Query(ctx, "SELECT line FROM lines", QueryOptions{MaxRows: 7})
	require.NoError(t, err, "exactly max rows is not a violation")
	assert.Len(t, res.Rows, 7)
}

func TestQuery_Timeout(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	endless := "WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM c) SELECT MAX(x) FROM c"

	_, err := s.Query(context.Background(), endless, QueryOptions{Timeout: 50 * time.Millisecond})
	var limit *LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, LimitTimeout, limit.Limit)
	assert.EqualValues(t, 50, limit.Value)
}

func TestQuery_ReaderIsReadOnly(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	db, err := s.reader()
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE scratch (x INTEGER)")
	assert.Error(t, err)
}

func TestContentHash(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ContentHash([]byte("class A {}")), ContentHash([]byte("class A {}")))
	assert.NotEqual(t, ContentHash([]byte("class A {}")), ContentHash([]byte("class B {}")))
	assert.Len(t, ContentHash(nil), 64)
}
