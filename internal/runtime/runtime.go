// Package runtime runs Risor report scripts against an indexed store.
// Scripts read facts through the validated query path and may parse C#
// source ad hoc with tree-sitter host functions.
package runtime

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/codefacts/internal/extract"
	"github.com/jward/codefacts/internal/store"
)

// Runtime embeds a Risor VM. It is safe to run several scripts at once;
// each run gets its own globals.
type Runtime struct {
	reader     store.Reader
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger
	limits     store.QueryOptions
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads scripts and imports from fsys instead of disk.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithLogger routes the script log global to l.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithQueryLimits bounds every query a script runs.
func WithQueryLimits(opts store.QueryOptions) RuntimeOption {
	return func(r *Runtime) {
		r.limits = opts
	}
}

// NewRuntime creates a Runtime reading from reader. A nil reader leaves out
// the query globals. scriptsDir resolves relative script paths and imports.
func NewRuntime(reader store.Reader, scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		reader:     reader,
		scriptsDir: scriptsDir,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report is the outcome of one script run.
type Report struct {
	// Value is the script's final expression converted to Go.
	Value any
	// Rows holds every value passed to emit(), in call order.
	Rows []any
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) (*Report, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource executes Risor source code directly.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) (*Report, error) {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) (*Report, error) {
	out := &emitter{}
	files := newFileSet()
	defer files.close()
	globals := r.buildGlobals(out, files, extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	r.logger.Debug("script.start", "script", label)
	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	report := &Report{Rows: out.rows()}
	if result != nil && result != object.Nil {
		report.Value = result.Interface()
	}
	r.logger.Debug("script.done", "script", label, "rows", len(report.Rows))
	return report, nil
}

// buildImporter returns a Risor importer configured for the Runtime's script
// source, or nil if neither an fs.FS nor a scripts directory is set.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file. With an fs.FS configured the path is
// relative within it; otherwise relative paths resolve against scriptsDir.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) && r.scriptsDir != "" {
		fullPath = filepath.Join(r.scriptsDir, path)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// buildGlobals constructs the full set of globals exposed to a script run.
func (r *Runtime) buildGlobals(out *emitter, files *fileSet, extra map[string]any) map[string]any {
	globals := map[string]any{
		"parse":       makeParseFn(files),
		"parse_src":   makeParseSrcFn(files),
		"node_text":   makeNodeTextFn(files),
		"node_name":   makeNodeNameFn(files),
		"node_line":   makeNodeLineFn(),
		"node_child":  makeNodeChildFn(),
		"call_target": makeCallTargetFn(files),
		"ts_query":    makeTSQueryFn(files),
		"extract":     makeExtractFn(extract.NewRegistry()),
		"validate":    makeValidateFn(),
		"emit":        makeEmitFn(out),
		"log":         mustProxy(&logObject{logger: r.logger}),
	}

	if r.reader != nil {
		globals["query"] = makeQueryFn(r.reader, r.limits)
		globals["schema"] = makeSchemaFn(r.reader)
		globals["scan_state"] = makeScanStateFn(r.reader)
	}

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

// emitter collects emit() values for one run.
type emitter struct {
	mu   sync.Mutex
	vals []any
}

func (e *emitter) add(v any) {
	e.mu.Lock()
	e.vals = append(e.vals, v)
	e.mu.Unlock()
}

func (e *emitter) rows() []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]any(nil), e.vals...)
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
