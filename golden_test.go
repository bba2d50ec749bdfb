package codefacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden test format. Every expected entry must be present; extra facts are
// allowed.
type goldenFile struct {
	Types        []goldenType        `json:"types,omitempty"`
	Methods      []goldenMethod      `json:"methods,omitempty"`
	Inheritances []goldenInheritance `json:"inheritances,omitempty"`
	Variables    []goldenVariable    `json:"variables,omitempty"`
	Lines        []goldenLine        `json:"lines,omitempty"`
	Usages       []goldenUsage       `json:"usages,omitempty"`
	Calls        []goldenCall        `json:"calls,omitempty"`
}

type goldenType struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Access string `json:"access"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

type goldenMethod struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Type string `json:"type"`
	File string `json:"file"`
	Line int    `json:"line"`
}

type goldenInheritance struct {
	Type     string `json:"type"`
	Base     string `json:"base"`
	Relation string `json:"relation"`
}

type goldenVariable struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Method string `json:"method"`
}

type goldenLine struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Method string `json:"method"`
	Depth  int    `json:"depth"`
}

type goldenUsage struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Variable   string `json:"variable"`
	DeclaredIn string `json:"declared_in"`
}

type goldenCall struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}

// TestGolden walks testdata/{language}/ directories and scans each level's
// src/ directory into a fresh store.
func TestGolden(t *testing.T) {
	langDirs, err := os.ReadDir("testdata")
	if err != nil {
		t.Skip("no testdata directory found")
	}

	for _, langDir := range langDirs {
		if !langDir.IsDir() {
			continue
		}
		lang := langDir.Name()
		levels, err := os.ReadDir(filepath.Join("testdata", lang))
		if err != nil {
			continue
		}
		for _, level := range levels {
			if !level.IsDir() {
				continue
			}
			testDir := filepath.Join("testdata", lang, level.Name())
			goldenPath := filepath.Join(testDir, "golden.json")
			srcDir := filepath.Join(testDir, "src")
			if _, err := os.Stat(goldenPath); err != nil {
				continue
			}
			t.Run(lang+"/"+level.Name(), func(t *testing.T) {
				t.Parallel()
				runGoldenTest(t, srcDir, goldenPath)
			})
		}
	}
}

func runGoldenTest(t *testing.T, srcDir, goldenPath string) {
	t.Helper()

	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	var golden goldenFile
	require.NoError(t, json.Unmarshal(data, &golden))

	e := newTestEngine(t)
	_, err = e.Scan(context.Background(), srcDir, ScanOptions{})
	require.NoError(t, err)

	t.Run("types", func(t *testing.T) {
		actual := goldenSet(t, e, `SELECT name, kind, access, path, start_line FROM types`)
		for _, exp := range golden.Types {
			assert.Contains(t, actual, goldenKey(exp.Name, exp.Kind, exp.Access, exp.File, exp.Line), "missing type: %+v", exp)
		}
	})
	t.Run("methods", func(t *testing.T) {
		actual := goldenSet(t, e, `SELECT name, kind, COALESCE(type_name, ''), path, start_line FROM methods`)
		for _, exp := range golden.Methods {
			assert.Contains(t, actual, goldenKey(exp.Name, exp.Kind, exp.Type, exp.File, exp.Line), "missing method: %+v", exp)
		}
	})
	t.Run("inheritances", func(t *testing.T) {
		actual := goldenSet(t, e, `SELECT type_name, base_name, relation FROM type_inheritances`)
		for _, exp := range golden.Inheritances {
			assert.Contains(t, actual, goldenKey(exp.Type, exp.Base, exp.Relation), "missing inheritance: %+v", exp)
		}
	})
	t.Run("variables", func(t *testing.T) {
		actual := goldenSet(t, e, `SELECT name, kind, COALESCE(method_name, '') FROM variables`)
		for _, exp := range golden.Variables {
			assert.Contains(t, actual, goldenKey(exp.Name, exp.Kind, exp.Method), "missing variable: %+v", exp)
		}
	})
	t.Run("lines", func(t *testing.T) {
		actual := goldenSet(t, e, `SELECT path, line, COALESCE(method_name, ''), block_depth FROM lines`)
		for _, exp := range golden.Lines {
			assert.Contains(t, actual, goldenKey(exp.File, exp.Line, exp.Method, exp.Depth), "missing line: %+v", exp)
		}
	})
	t.Run("usages", func(t *testing.T) {
		actual := goldenSet(t, e, `
			SELECT lv.path, lv.line, lv.variable_name, COALESCE(m.name, '')
			FROM line_variables lv LEFT JOIN methods m ON m.method_key = lv.declaring_method_key`)
		for _, exp := range golden.Usages {
			assert.Contains(t, actual, goldenKey(exp.File, exp.Line, exp.Variable, exp.DeclaredIn), "missing usage: %+v", exp)
		}
	})
	t.Run("calls", func(t *testing.T) {
		for _, exp := range golden.Calls {
			g, err := e.Lookup().TransitiveCallees(context.Background(), exp.Caller, 1)
			require.NoError(t, err)
			var callees []string
			for _, edge := range g.Edges {
				callees = append(callees, edge.Callee)
			}
			assert.Contains(t, callees, exp.Callee, "missing call: %+v", exp)
		}
	})
}

// goldenSet runs sql through the public query path and returns each row as
// one key. Path columns are reduced to their base name.
func goldenSet(t *testing.T, e *Engine, sql string) map[string]bool {
	t.Helper()
	res, err := e.Query(context.Background(), sql, QueryOptions{})
	require.NoError(t, err)
	out := make(map[string]bool, len(res.Rows))
	for _, row := range res.Rows {
		vals := make([]any, len(row))
		for i, v := range row {
			if res.Columns[i] == "path" {
				v = path.Base(fmt.Sprint(v))
			}
			vals[i] = v
		}
		out[goldenKey(vals...)] = true
	}
	return out
}

func goldenKey(vals ...any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "|")
}
