package main_test

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles the codefacts binary into t.TempDir().
func buildBinary(t *testing.T) string {
	t.Helper()
	binName := "codefacts"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	bin := filepath.Join(t.TempDir(), binName)
	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = filepath.Join(projectRoot(t), "cmd", "codefacts")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(out))
	return bin
}

// projectRoot walks up from this file to the directory holding go.mod.
func projectRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, parent, dir, "could not find project root")
		dir = parent
	}
}

// createFixture writes a small repo: a .git dir, a project and two sources.
func createFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))

	files := map[string]string{
		"src/Greeter.cs": `namespace Hello
{
    public class Greeter
    {
        public string Greet(string name)
        {
            return Format(name);
        }

        private string Format(string name) => "Hello, " + name;
    }
}
`,
		"src/Program.cs": `namespace Hello
{
    internal static class Program
    {
        static void Main()
        {
            var g = new Greeter();
            System.Console.WriteLine(g.Greet("world"));
        }
    }
}
`,
		"report.risor": `
for _, row := range query("SELECT name FROM methods ORDER BY name") {
    emit(row["name"])
}
len(query("SELECT type_key FROM types"))
`,
	}
	for rel, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(rel)), []byte(src), 0o644))
	}
	return dir
}

// run executes the binary in dir and decodes its JSON envelope.
func run(t *testing.T, bin, dir string, args ...string) (map[string]any, error) {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "HOME="+t.TempDir(), "CODEFACTS_STORE=")
	stdout, err := cmd.Output()
	if err != nil && len(stdout) == 0 {
		t.Fatalf("%v failed with no output: %v", args, err)
	}
	var result map[string]any
	require.NoError(t, json.Unmarshal(stdout, &result), "invalid JSON output: %s", string(stdout))
	return result, err
}

func scannedFixture(t *testing.T) (bin, dir string) {
	t.Helper()
	bin = buildBinary(t)
	dir = createFixture(t)
	result, err := run(t, bin, dir, "scan", "src")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, ".codefacts", "index.db"))
	assert.Equal(t, "scan", result["command"])
	return bin, dir
}

func TestCLI_ScanAndQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := scannedFixture(t)

	result, err := run(t, bin, dir, "query", "SELECT full_name FROM types ORDER BY full_name")
	require.NoError(t, err)
	res := result["results"].(map[string]any)
	assert.Equal(t, []any{[]any{"Hello.Greeter"}, []any{"Hello.Program"}}, res["rows"])
	assert.Equal(t, float64(2), result["total_count"])
}

func TestCLI_QueryPlaceholders(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := scannedFixture(t)

	result, err := run(t, bin, dir, "query", "SELECT access FROM methods WHERE name = ?", "Format")
	require.NoError(t, err)
	res := result["results"].(map[string]any)
	assert.Equal(t, []any{[]any{"Private"}}, res["rows"])
}

func TestCLI_QueryRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := scannedFixture(t)

	result, err := run(t, bin, dir, "query", "DELETE FROM files")
	require.Error(t, err, "rejected queries exit non-zero")
	assert.Equal(t, "rejected", result["error_kind"])
	assert.Contains(t, result["error"], "DELETE")
}

func TestCLI_QueryMaxRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := scannedFixture(t)

	result, err := run(t, bin, dir, "query", "--max-rows", "1", "SELECT line FROM lines")
	require.Error(t, err)
	assert.Equal(t, "limit", result["error_kind"])
	res := result["results"].(map[string]any)
	assert.Equal(t, "max_rows", res["limit"])
}

func TestCLI_QueryBeforeScan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	dir := createFixture(t)

	result, err := run(t, bin, dir, "query", "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, result["error"], "run 'codefacts scan' first")
}

func TestCLI_ChangedOnlyRescan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := scannedFixture(t)

	result, err := run(t, bin, dir, "scan", "--changed-only", "src")
	require.NoError(t, err)
	res := result["results"].(map[string]any)
	assert.Equal(t, float64(0), res["extracted"])
	assert.Equal(t, float64(2), res["unchanged"])
	assert.Equal(t, false, res["full_rebuild"])
}

func TestCLI_Lookup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := scannedFixture(t)

	result, err := run(t, bin, dir, "lookup", "callees", "Greet")
	require.NoError(t, err)
	res := result["results"].(map[string]any)
	edges := res["edges"].([]any)
	require.Len(t, edges, 1)
	assert.Equal(t, "Format", edges[0].(map[string]any)["callee"])

	result, err = run(t, bin, dir, "lookup", "search", "Greet*")
	require.NoError(t, err)
	types := result["results"].([]any)
	require.Len(t, types, 1)
	assert.Equal(t, "Hello.Greeter", types[0].(map[string]any)["full_name"])
}

func TestCLI_Script(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := scannedFixture(t)

	result, err := run(t, bin, dir, "script", "report.risor")
	require.NoError(t, err)
	res := result["results"].(map[string]any)
	assert.Equal(t, []any{"Format", "Greet", "Main"}, res["rows"])
	assert.Equal(t, float64(2), res["value"])
}

func TestCLI_ScriptBuiltin(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := scannedFixture(t)

	result, err := run(t, bin, dir, "script", "--builtin", "type_sizes")
	require.NoError(t, err)
	res := result["results"].(map[string]any)
	assert.Equal(t, "type_sizes", res["script"])
	assert.Equal(t, float64(2), res["value"])
	rows := res["rows"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].(map[string]any)
	assert.Equal(t, "Hello.Greeter", first["type"])
	assert.Equal(t, float64(2), first["methods"])

	result, err = run(t, bin, dir, "script", "--list")
	require.NoError(t, err)
	res = result["results"].(map[string]any)
	assert.Contains(t, res["rows"], "closure_captures")

	result, err = run(t, bin, dir, "script", "--builtin", "nope")
	require.Error(t, err)
	assert.Contains(t, result["error"], "unknown builtin report")
}

func TestCLI_TextFormat(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin, dir := scannedFixture(t)

	cmd := exec.Command(bin, "--format", "text", "validate", "SELECT 1; SELECT 2")
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err, "validate reports rejection without failing")
	assert.Contains(t, string(out), "rejected:")
}
