package runtime

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codefacts/internal/extract"
	"github.com/jward/codefacts/internal/facts"
)

const (
	defaultLanguage = "csharp"
	inlinePath      = "inline.cs"
)

// parsedFile is one source parsed during a script run.
type parsedFile struct {
	path    string
	src     []byte
	grammar *sitter.Language
	tree    *sitter.Tree
}

// fileSet holds the files parsed in one run, keyed by tree root. Node
// helpers walk a node up to its root to recover the bytes behind it; the
// bindings cache nodes per tree, so the root pointer is stable.
type fileSet struct {
	mu    sync.Mutex
	files map[*sitter.Node]*parsedFile
}

func newFileSet() *fileSet {
	return &fileSet{files: make(map[*sitter.Node]*parsedFile)}
}

func (fs *fileSet) add(f *parsedFile) {
	fs.mu.Lock()
	fs.files[f.tree.RootNode()] = f
	fs.mu.Unlock()
}

func (fs *fileSet) fileOf(n *sitter.Node) (*parsedFile, bool) {
	for n.Parent() != nil {
		n = n.Parent()
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[n]
	return f, ok
}

// close releases every tree parsed in the run.
func (fs *fileSet) close() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for root, f := range fs.files {
		f.tree.Close()
		delete(fs.files, root)
	}
}

// parse(path[, language]) → {path, language, root, has_errors}
func makeParseFn(files *fileSet) *object.Builtin {
	return object.NewBuiltin("parse", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.Errorf("parse: expected 1 or 2 arguments, got %d", len(args))
		}
		path, err := toString(args[0])
		if err != nil {
			return object.Errorf("parse: path: %v", err)
		}
		lang, ok := extract.LanguageForFile(path)
		if len(args) == 2 {
			if lang, err = toString(args[1]); err != nil {
				return object.Errorf("parse: language: %v", err)
			}
			ok = true
		}
		if !ok {
			return object.Errorf("parse: cannot infer language for %s", path)
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return object.Errorf("parse: %v", err)
		}
		return parseInto(ctx, files, path, lang, src)
	})
}

// parse_src(source[, language]) → {path, language, root, has_errors}
func makeParseSrcFn(files *fileSet) *object.Builtin {
	return object.NewBuiltin("parse_src", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.Errorf("parse_src: expected 1 or 2 arguments, got %d", len(args))
		}
		src, err := toString(args[0])
		if err != nil {
			return object.Errorf("parse_src: source: %v", err)
		}
		lang := defaultLanguage
		if len(args) == 2 {
			if lang, err = toString(args[1]); err != nil {
				return object.Errorf("parse_src: language: %v", err)
			}
		}
		return parseInto(ctx, files, inlinePath, lang, []byte(src))
	})
}

func parseInto(ctx context.Context, files *fileSet, path, lang string, src []byte) object.Object {
	grammar, ok := extract.GrammarForLanguage(lang)
	if !ok {
		return object.Errorf("parse: unsupported language %q", lang)
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return object.Errorf("parse: %s: %v", path, err)
	}
	files.add(&parsedFile{path: path, src: src, grammar: grammar, tree: tree})

	root := tree.RootNode()
	rootObj, err := object.NewProxy(root)
	if err != nil {
		return object.Errorf("parse: %v", err)
	}
	return object.NewMap(map[string]object.Object{
		"path":       object.NewString(path),
		"language":   object.NewString(lang),
		"root":       rootObj,
		"has_errors": object.NewBool(root.HasError()),
	})
}

// nodeArg unwraps a proxied node argument. The second result is a Risor
// error when the argument is not a node.
func nodeArg(fn string, arg object.Object) (*sitter.Node, object.Object) {
	proxy, ok := arg.(*object.Proxy)
	if !ok {
		return nil, object.Errorf("%s: expected node, got %s", fn, arg.Type())
	}
	n, ok := proxy.Interface().(*sitter.Node)
	if !ok || n == nil {
		return nil, object.Errorf("%s: expected node, got %T", fn, proxy.Interface())
	}
	return n, nil
}

func nodeObject(fn string, n *sitter.Node) object.Object {
	if n == nil {
		return object.Nil
	}
	p, err := object.NewProxy(n)
	if err != nil {
		return object.Errorf("%s: %v", fn, err)
	}
	return p
}

// makeNodeFn builds a one-argument node helper that needs the node's source.
func makeNodeFn(name string, files *fileSet, fn func(n *sitter.Node, f *parsedFile) object.Object) *object.Builtin {
	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError(name, 1, len(args))
		}
		n, errObj := nodeArg(name, args[0])
		if errObj != nil {
			return errObj
		}
		f, ok := files.fileOf(n)
		if !ok {
			return object.Errorf("%s: node does not belong to a parsed file", name)
		}
		return fn(n, f)
	})
}

// node_text(node) → string
func makeNodeTextFn(files *fileSet) *object.Builtin {
	return makeNodeFn("node_text", files, func(n *sitter.Node, f *parsedFile) object.Object {
		return object.NewString(n.Content(f.src))
	})
}

// node_name(declaration) → string, the declared name or "".
func makeNodeNameFn(files *fileSet) *object.Builtin {
	return makeNodeFn("node_name", files, func(n *sitter.Node, f *parsedFile) object.Object {
		return object.NewString(extract.DeclaredName(n, f.src))
	})
}

// call_target(invocation) → string, named the same way as invocations.target_name.
func makeCallTargetFn(files *fileSet) *object.Builtin {
	return makeNodeFn("call_target", files, func(n *sitter.Node, f *parsedFile) object.Object {
		if n.Type() != "invocation_expression" {
			return object.Errorf("call_target: expected invocation_expression, got %s", n.Type())
		}
		return object.NewString(extract.CallTarget(n, f.src))
	})
}

// node_line(node) → int, 1-based like the line facts.
func makeNodeLineFn() *object.Builtin {
	return object.NewBuiltin("node_line", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_line", 1, len(args))
		}
		n, errObj := nodeArg("node_line", args[0])
		if errObj != nil {
			return errObj
		}
		return object.NewInt(int64(n.StartPoint().Row) + 1)
	})
}

// node_child(node, field, fallback_fields...) → node or nil. Grammar
// revisions renamed some fields, so several names may be given.
func makeNodeChildFn() *object.Builtin {
	return object.NewBuiltin("node_child", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 {
			return object.Errorf("node_child: expected a node and at least one field, got %d arguments", len(args))
		}
		n, errObj := nodeArg("node_child", args[0])
		if errObj != nil {
			return errObj
		}
		names := make([]string, 0, len(args)-1)
		for _, a := range args[1:] {
			name, err := toString(a)
			if err != nil {
				return object.Errorf("node_child: field: %v", err)
			}
			names = append(names, name)
		}
		return nodeObject("node_child", extract.ChildByField(n, names...))
	})
}

// ts_query(pattern, node) → [{capture: node}]
func makeTSQueryFn(files *fileSet) *object.Builtin {
	return object.NewBuiltin("ts_query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("ts_query", 2, len(args))
		}
		pattern, err := toString(args[0])
		if err != nil {
			return object.Errorf("ts_query: pattern: %v", err)
		}
		n, errObj := nodeArg("ts_query", args[1])
		if errObj != nil {
			return errObj
		}
		f, ok := files.fileOf(n)
		if !ok {
			return object.Errorf("ts_query: node does not belong to a parsed file")
		}

		q, err := sitter.NewQuery([]byte(pattern), f.grammar)
		if err != nil {
			return object.Errorf("ts_query: invalid pattern: %v", err)
		}
		defer q.Close()
		cursor := sitter.NewQueryCursor()
		defer cursor.Close()
		cursor.Exec(q, n)

		matches := []object.Object{}
		for {
			match, ok := cursor.NextMatch()
			if !ok {
				break
			}
			match = cursor.FilterPredicates(match, f.src)
			captures := make(map[string]object.Object, len(match.Captures))
			for _, c := range match.Captures {
				captures[q.CaptureNameForId(c.Index)] = nodeObject("ts_query", c.Node)
			}
			matches = append(matches, object.NewMap(captures))
		}
		return object.NewList(matches)
	})
}

// makeExtractFn creates "extract", which runs the indexer's extractor over
// one file and returns its facts without touching the store.
//
// extract(path[, source]) → {types, methods, variables, invocations, lines}
func makeExtractFn(registry *extract.Registry) *object.Builtin {
	return object.NewBuiltin("extract", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.Errorf("extract: expected 1 or 2 arguments, got %d", len(args))
		}
		path, err := toString(args[0])
		if err != nil {
			return object.Errorf("extract: path: %v", err)
		}
		ex := registry.For(path)
		if ex == nil {
			return object.Errorf("extract: no extractor for %s", path)
		}
		var src []byte
		if len(args) == 2 {
			s, err := toString(args[1])
			if err != nil {
				return object.Errorf("extract: source: %v", err)
			}
			src = []byte(s)
		} else if src, err = os.ReadFile(path); err != nil {
			return object.Errorf("extract: %v", err)
		}

		res, err := ex.Extract(ctx, facts.Fingerprint{Path: path, Language: ex.Language()}, src)
		if err != nil {
			return object.Errorf("extract: %s: %v", path, err)
		}
		defer res.Close()
		return factsObject(res.Facts)
	})
}

func factsObject(ff *facts.FileFacts) object.Object {
	types := make([]object.Object, 0, len(ff.Types))
	for _, t := range ff.Types {
		types = append(types, object.NewMap(map[string]object.Object{
			"name":       object.NewString(t.Name),
			"full_name":  object.NewString(t.FullName),
			"kind":       object.NewString(t.Kind),
			"access":     object.NewString(t.Access),
			"start_line": object.NewInt(int64(t.Span.StartLine)),
			"end_line":   object.NewInt(int64(t.Span.EndLine)),
		}))
	}
	methodNames := make(map[string]string, len(ff.Methods))
	methods := make([]object.Object, 0, len(ff.Methods))
	for _, m := range ff.Methods {
		methodNames[m.Key] = m.Name
		methods = append(methods, object.NewMap(map[string]object.Object{
			"name":        object.NewString(m.Name),
			"kind":        object.NewString(m.Kind),
			"access":      object.NewString(m.Access),
			"return_type": object.NewString(m.ReturnType),
			"parameters":  object.NewString(m.Parameters),
			"start_line":  object.NewInt(int64(m.Span.StartLine)),
			"end_line":    object.NewInt(int64(m.Span.EndLine)),
		}))
	}
	variables := make([]object.Object, 0, len(ff.Variables))
	for _, v := range ff.Variables {
		variables = append(variables, object.NewMap(map[string]object.Object{
			"name":   object.NewString(v.Name),
			"kind":   object.NewString(v.Kind),
			"type":   object.NewString(v.TypeName),
			"line":   object.NewInt(int64(v.Line)),
			"method": object.NewString(methodNames[v.MethodKey]),
		}))
	}
	invocations := make([]object.Object, 0, len(ff.Invocations))
	for _, inv := range ff.Invocations {
		invocations = append(invocations, object.NewMap(map[string]object.Object{
			"target":     object.NewString(inv.TargetName),
			"expression": object.NewString(inv.Expression),
			"line":       object.NewInt(int64(inv.Line)),
			"method":     object.NewString(methodNames[inv.MethodKey]),
		}))
	}
	return object.NewMap(map[string]object.Object{
		"types":       object.NewList(types),
		"methods":     object.NewList(methods),
		"variables":   object.NewList(variables),
		"invocations": object.NewList(invocations),
		"lines":       object.NewInt(int64(len(ff.Lines))),
	})
}

// logObject exposes log.Info/Warn/Error to scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string)  { l.logger.Info(msg, "source", "script") }
func (l *logObject) Warn(msg string)  { l.logger.Warn(msg, "source", "script") }
func (l *logObject) Error(msg string) { l.logger.Error(msg, "source", "script") }
