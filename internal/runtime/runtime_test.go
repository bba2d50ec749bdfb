package runtime

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codefacts/internal/extract"
	"github.com/jward/codefacts/internal/facts"
	"github.com/jward/codefacts/internal/store"
)

const csTestSource = `namespace Shop
{
    public class Cart
    {
        private int _count;

        public void Add(int n)
        {
            _count += n;
        }

        public int Count() => _count;
    }
}
`

// parseCSharp parses C# source with tree-sitter directly and registers it in
// a fresh file set.
func parseCSharp(t *testing.T, src string) (*sitter.Tree, *fileSet) {
	t.Helper()

	lang, ok := extract.GrammarForLanguage("csharp")
	require.True(t, ok, "csharp grammar")

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(src))
	require.NoError(t, err)

	files := newFileSet()
	files.add(&parsedFile{path: inlinePath, src: []byte(src), grammar: lang, tree: tree})
	t.Cleanup(files.close)
	return tree, files
}

// indexedStore returns a migrated store holding the facts of csTestSource.
func indexedStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewStore(filepath.Join(t.TempDir(), "facts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	ex := extract.NewRegistry().For("Cart.cs")
	require.NotNil(t, ex)
	src := []byte(csTestSource)
	res, err := ex.Extract(ctx, facts.Fingerprint{Path: "Cart.cs", Hash: store.ContentHash(src), Language: "csharp"}, src)
	require.NoError(t, err)
	defer res.Close()

	require.NoError(t, s.PersistFacts(ctx, []*facts.FileFacts{res.Facts}, nil, true))
	return s
}

// --- File set ---

func TestFileSet_FindsFileFromAnyNode(t *testing.T) {
	t.Parallel()
	tree, files := parseCSharp(t, csTestSource)

	root := tree.RootNode()
	assert.Equal(t, "compilation_unit", root.Type())

	leaf := root.NamedChild(0).NamedChild(0)
	require.NotNil(t, leaf)
	f, ok := files.fileOf(leaf)
	require.True(t, ok)
	assert.Equal(t, csTestSource, string(f.src))
	assert.Equal(t, inlinePath, f.path)
}

func TestFileSet_UnknownTree(t *testing.T) {
	t.Parallel()
	tree, _ := parseCSharp(t, csTestSource)
	_, ok := newFileSet().fileOf(tree.RootNode())
	assert.False(t, ok)
}

func TestFileSet_CloseForgetsFiles(t *testing.T) {
	t.Parallel()
	lang, _ := extract.GrammarForLanguage("csharp")
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(context.Background(), nil, []byte(csTestSource))
	require.NoError(t, err)

	files := newFileSet()
	files.add(&parsedFile{path: inlinePath, src: []byte(csTestSource), grammar: lang, tree: tree})
	files.close()
	assert.Empty(t, files.files)
}

// --- Tree-sitter host functions ---

func TestRunSource_ParseSrcAndNodeText(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")

	script := `
file := parse_src(src)
assert(file["path"] == "inline.cs", "unexpected path")
assert(file["language"] == "csharp", "unexpected language")
assert(!file["has_errors"], "expected a clean parse")
root := file["root"]
assert(root.Type() == "compilation_unit", 'unexpected root {root.Type()}')

names := []
for _, m := range ts_query("(method_declaration name: (identifier) @name)", root) {
    names.append(node_text(m["name"]))
}
assert(len(names) == 2, 'expected 2 methods, got {len(names)}')
assert(names[0] == "Add", 'expected Add, got {names[0]}')
assert(names[1] == "Count", 'expected Count, got {names[1]}')
`
	_, err := rt.RunSource(context.Background(), script, map[string]any{"src": csTestSource})
	require.NoError(t, err)
}

func TestRunSource_ParseSrcReportsErrors(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")
	report, err := rt.RunSource(context.Background(), `parse_src("class { void (")["has_errors"]`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, report.Value)
}

func TestRunSource_ParseFileInfersLanguage(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "Cart.cs")
	require.NoError(t, os.WriteFile(path, []byte(csTestSource), 0o644))

	rt := NewRuntime(nil, "")
	script := `
file := parse(path)
assert(file["path"] == path, "unexpected path")
classes := ts_query("(class_declaration) @c", file["root"])
assert(len(classes) == 1, 'expected 1 class, got {len(classes)}')
name := node_child(classes[0]["c"], "name")
node_text(name)
`
	report, err := rt.RunSource(context.Background(), script, map[string]any{"path": path})
	require.NoError(t, err)
	assert.Equal(t, "Cart", report.Value)
}

func TestRunSource_ParseUnknownExtension(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")
	_, err := rt.RunSource(context.Background(), `parse("notes.txt")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot infer language")
}

func TestRunSource_NodeChildMissingField(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")
	script := `
root := parse_src(src)["root"]
assert(node_child(root, "nope") == nil, "expected nil for a missing field")
`
	_, err := rt.RunSource(context.Background(), script, map[string]any{"src": csTestSource})
	require.NoError(t, err)
}

func TestRunSource_NodeChildFallbackField(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")
	script := `
root := parse_src(src)["root"]
cls := ts_query("(class_declaration) @c", root)[0]["c"]
node_text(node_child(cls, "missing", "name"))
`
	report, err := rt.RunSource(context.Background(), script, map[string]any{"src": csTestSource})
	require.NoError(t, err)
	assert.Equal(t, "Cart", report.Value)
}

func TestRunSource_DeclarationHelpers(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")

	script := `
root := parse_src(src)["root"]
decls := []
for _, m := range ts_query("(method_declaration) @m", root) {
    decls.append([node_name(m["m"]), node_line(m["m"])])
}
decls
`
	report, err := rt.RunSource(context.Background(), script, map[string]any{"src": csTestSource})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"Add", int64(7)}, []any{"Count", int64(12)}}, report.Value)
}

func TestRunSource_CallTarget(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")

	src := `class A {
    void M() {
        System.Console.WriteLine(1);
        Run();
        sb.Append("a").Append("b");
    }
}
`
	script := `
root := parse_src(src)["root"]
targets := []
for _, m := range ts_query("(invocation_expression) @call", root) {
    targets.append(call_target(m["call"]))
}
targets
`
	report, err := rt.RunSource(context.Background(), script, map[string]any{"src": src})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"WriteLine", "Run", "Append", "Append"}, report.Value)
}

func TestRunSource_CallTargetRejectsOtherNodes(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")
	_, err := rt.RunSource(context.Background(), `call_target(parse_src(src)["root"])`, map[string]any{"src": csTestSource})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected invocation_expression")
}

func TestRunSource_NodeHelpersRejectNonNodes(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")
	for _, script := range []string{`node_text("x")`, `node_name(1)`, `node_line("x")`, `node_child("x", "name")`} {
		_, err := rt.RunSource(context.Background(), script, nil)
		require.Error(t, err, script)
		assert.Contains(t, err.Error(), "expected node", script)
	}
}

func TestRunSource_ExtractFacts(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")

	script := `
f := extract("Cart.cs", src)
assert(len(f["types"]) == 1, "expected 1 type")
assert(f["types"][0]["full_name"] == "Shop.Cart", "unexpected type name")
names := []
for _, m := range f["methods"] {
    names.append(m["name"])
}
names
`
	report, err := rt.RunSource(context.Background(), script, map[string]any{"src": csTestSource})
	require.NoError(t, err)
	assert.Equal(t, []any{"Add", "Count"}, report.Value)
}

func TestRunSource_ExtractReadsFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "Greeter.cs")
	src := `class Greeter {
    void Hello() {
        var name = "x";
        System.Console.WriteLine(name);
    }
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	rt := NewRuntime(nil, "")
	script := `
f := extract(path)
v := f["variables"][0]
inv := f["invocations"][0]
[v["name"], v["method"], inv["target"], inv["line"], inv["method"], f["lines"]]
`
	report, err := rt.RunSource(context.Background(), script, map[string]any{"path": path})
	require.NoError(t, err)
	assert.Equal(t, []any{"name", "Hello", "WriteLine", int64(4), "Hello", int64(6)}, report.Value)
}

func TestRunSource_ExtractUnknownExtension(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")
	_, err := rt.RunSource(context.Background(), `extract("notes.txt", "hello")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extractor")
}

func TestRunSource_TSQueryInvalidPattern(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")
	script := `ts_query("((broken", parse_src(src)["root"])`
	_, err := rt.RunSource(context.Background(), script, map[string]any{"src": csTestSource})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern")
}

func TestRunSource_UnsupportedLanguage(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")
	_, err := rt.RunSource(context.Background(), `parse_src("x", "cobol")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported language")
}

// --- Fact queries ---

func TestRunSource_QueryFacts(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(indexedStore(t), "")

	script := `
rows := query("SELECT name, kind, access FROM methods WHERE type_name = ? ORDER BY start_line", "Shop.Cart")
assert(len(rows) == 2, 'expected 2 methods, got {len(rows)}')
for _, row := range rows {
    emit({"method": row["name"], "access": row["access"]})
}
rows[0]["name"]
`
	report, err := rt.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
	assert.Equal(t, "Add", report.Value)
	require.Len(t, report.Rows, 2)
	assert.Equal(t, map[string]any{"method": "Add", "access": "Public"}, report.Rows[0])
	assert.Equal(t, map[string]any{"method": "Count", "access": "Public"}, report.Rows[1])
}

func TestRunSource_QueryRejectsWrites(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(indexedStore(t), "")
	_, err := rt.RunSource(context.Background(), `query("DELETE FROM files")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestRunSource_QueryLimits(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(indexedStore(t), "", WithQueryLimits(store.QueryOptions{MaxRows: 1}))
	_, err := rt.RunSource(context.Background(), `query("SELECT line FROM lines")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_rows")
}

func TestRunSource_ValidateAndSchema(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(indexedStore(t), "")
	script := `
v := validate("SELECT 1; SELECT 2")
assert(!v["ok"], "multi-statement input must be rejected")
assert(v["reason"] != "", "expected a reason")
assert(validate("SELECT * FROM types")["ok"], "view query must pass")

names := []
for _, view := range schema() {
    names.append(view["name"])
}
assert("types" in names, 'types view missing from {names}')
scan_state()
`
	report, err := rt.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
	assert.Nil(t, report.Value, "no scan recorded yet")
}

func TestRunSource_NoReaderOmitsQueryGlobals(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "")
	_, err := rt.RunSource(context.Background(), `query("SELECT 1")`, nil)
	require.Error(t, err)

	report, err := rt.RunSource(context.Background(), `validate("SELECT 1")["ok"]`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, report.Value)
}

func TestRunSource_LogGoesToLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	rt := NewRuntime(nil, "", WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	_, err := rt.RunSource(context.Background(), `log.Warn("large type found")`, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "large type found")
	assert.Contains(t, buf.String(), "source=script")
}

// --- Script loading ---

func TestRunScript_LoadsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.risor"), []byte(`emit(1 + 1)`), 0o644))

	rt := NewRuntime(nil, dir)
	report, err := rt.RunScript(context.Background(), "report.risor", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2)}, report.Rows)
}

func TestRunScript_MissingFile(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, t.TempDir())
	_, err := rt.RunScript(context.Background(), "missing.risor", nil)
	require.Error(t, err)
}

func TestLoadScript_FromFS(t *testing.T) {
	t.Parallel()
	content := `x := 42`
	rt := NewRuntime(nil, "", WithRuntimeFS(fstest.MapFS{
		"reports/sizes.risor": &fstest.MapFile{Data: []byte(content)},
	}))

	got, err := rt.LoadScript("reports/sizes.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Absolute-style paths resolve within the FS.
	got, err = rt.LoadScript("/reports/sizes.risor")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = rt.LoadScript("nonexistent.risor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from fs")
}

func TestLoadScript_FallsBackToDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(`z := 7`), 0o644))

	rt := NewRuntime(nil, dir)
	got, err := rt.LoadScript("test.risor")
	require.NoError(t, err)
	assert.Equal(t, `z := 7`, got)
}

// --- Importers ---

func TestImport_FSImporter(t *testing.T) {
	// FSImporter resolves "lib_helpers" as the flat path "lib_helpers.risor".
	rt := NewRuntime(nil, "", WithRuntimeFS(fstest.MapFS{
		"lib_helpers.risor": &fstest.MapFile{Data: []byte(`
func greet(name) {
	return "hello " + name
}
`)},
	}))

	script := `
import lib_helpers

msg := lib_helpers.greet("world")
assert(msg == "hello world", 'expected "hello world", got ' + msg)
`
	_, err := rt.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
}

func TestImport_LocalImporter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math_utils.risor"), []byte(`
func double(x) {
	return x * 2
}
`), 0o644))

	rt := NewRuntime(nil, dir)
	script := `
import math_utils

result := math_utils.double(21)
assert(result == 42, 'expected 42, got {result}')
`
	_, err := rt.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
}

func TestImport_GlobalsAvailableInImportedModules(t *testing.T) {
	// Passing global names to the importer lets modules reference host
	// globals; otherwise they fail to compile.
	rt := NewRuntime(indexedStore(t), "", WithRuntimeFS(fstest.MapFS{
		"facts_lib.risor": &fstest.MapFile{Data: []byte(`
func type_count() {
	return len(query("SELECT type_key FROM types"))
}
`)},
	}))

	script := `
import facts_lib
facts_lib.type_count()
`
	report, err := rt.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Value)
}

func TestNewRuntime_Defaults(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(nil, "/some/dir")
	require.NotNil(t, rt)
	assert.Nil(t, rt.fsys)
	assert.Equal(t, "/some/dir", rt.scriptsDir)
	assert.NotNil(t, rt.logger)
}
