package extract

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codefacts/internal/facts"
)

// CSharp extracts facts from C# source files.
type CSharp struct{}

// NewCSharp returns the C# extractor.
func NewCSharp() *CSharp { return &CSharp{} }

func (*CSharp) Language() string { return LanguageCSharp }

func (*CSharp) CanHandle(path string) bool {
	lang, ok := LanguageForFile(path)
	return ok && lang == LanguageCSharp
}

// Extract parses src and walks the tree once. The returned Result keeps the
// tree open for binding; callers must Close it.
func (c *CSharp) Extract(ctx context.Context, file facts.Fingerprint, src []byte) (*Result, error) {
	grammar, _ := GrammarForLanguage(LanguageCSharp)
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("extract: parsing %s: %w", file.Path, err)
	}
	if file.Language == "" {
		file.Language = LanguageCSharp
	}

	w := newWalker(file, src)
	w.visit(tree.RootNode())
	return w.result(tree), nil
}

type frame struct {
	key   string
	level int
	// start and end bound the bytes whose lines this unit owns.
	start, end uint32
	body       *sitter.Node
}

type blockSpan struct {
	frame       int
	open, close uint32
}

type scope struct {
	names map[string]*Local
}

type typeCtx struct {
	key      string
	fullName string
	kind     string
}

type walker struct {
	file facts.Fingerprint
	src  []byte
	out  *facts.FileFacts

	vars   []*facts.VariableDeclaration
	sites  []*ReferenceSite
	frames []frame
	blocks []blockSpan

	frameStack []int
	scopes     []*scope
	types      []typeCtx
	namespaces []string

	seenUsage map[facts.LineVariableUsage]bool
}

func newWalker(file facts.Fingerprint, src []byte) *walker {
	return &walker{
		file:      file,
		src:       src,
		out:       &facts.FileFacts{File: file},
		seenUsage: make(map[facts.LineVariableUsage]bool),
	}
}

func (w *walker) result(tree *sitter.Tree) *Result {
	w.out.Lines = w.lines()
	w.out.Variables = make([]facts.VariableDeclaration, len(w.vars))
	for i, v := range w.vars {
		w.out.Variables[i] = *v
	}
	res := &Result{
		Facts:   w.out,
		Source:  w.src,
		Tree:    tree,
		Sites:   w.sites,
		byRange: make(map[[2]uint32]*ReferenceSite, len(w.sites)),
	}
	for _, s := range w.sites {
		res.byRange[[2]uint32{s.Node.StartByte(), s.Node.EndByte()}] = s
	}
	return res
}

func (w *walker) visit(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "using_directive", "extern_alias_directive", "comment",
		"type_parameter_list", "type_parameter_constraints_clause",
		"name_colon", "name_equals", "goto_statement", "preproc_region", "preproc_endregion":
		return
	case "namespace_declaration":
		w.visitNamespace(n)
	case "file_scoped_namespace_declaration":
		w.visitFileScopedNamespace(n)
	case "class_declaration", "interface_declaration", "struct_declaration",
		"record_declaration", "record_struct_declaration", "enum_declaration":
		w.visitType(n)
	case "delegate_declaration":
		w.visitDelegate(n)
	case "method_declaration", "constructor_declaration", "destructor_declaration",
		"operator_declaration", "conversion_operator_declaration":
		w.visitMethod(n)
	case "local_function_statement":
		w.visitLocalFunction(n)
	case "lambda_expression":
		w.visitLambda(n)
	case "anonymous_method_expression":
		w.visitAnonymousMethod(n)
	case "property_declaration", "indexer_declaration", "event_declaration":
		w.visitProperty(n)
	case "field_declaration", "event_field_declaration":
		w.visitField(n)
	case "variable_declaration":
		w.visitVariableDeclaration(n)
	case "block", "switch_body", "switch_block":
		w.visitBlock(n)
	case "for_statement", "using_statement", "switch_section", "fixed_statement":
		w.pushScope()
		w.visitChildren(n)
		w.popScope()
	case "foreach_statement":
		w.visitForEach(n)
	case "catch_clause":
		w.visitCatch(n)
	case "declaration_expression", "declaration_pattern":
		w.visitDesignation(n)
	case "single_variable_designation":
		w.visitSingleDesignation(n)
	case "labeled_statement":
		w.visitChildren(n, nameOf(n))
	case "invocation_expression":
		w.recordInvocation(n)
		w.visitChildren(n)
	case "identifier":
		w.visitIdentifier(n)
	default:
		w.visitChildren(n)
	}
}

func (w *walker) visitChildren(n *sitter.Node, skip ...*sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		skipped := false
		for _, s := range skip {
			if sameNode(c, s) {
				skipped = true
				break
			}
		}
		if !skipped {
			w.visit(c)
		}
	}
}

func (w *walker) currentFrame() int {
	if len(w.frameStack) == 0 {
		return -1
	}
	return w.frameStack[len(w.frameStack)-1]
}

func (w *walker) methodKey() string {
	if f := w.currentFrame(); f >= 0 {
		return w.frames[f].key
	}
	return ""
}

func (w *walker) currentType() *typeCtx {
	if len(w.types) == 0 {
		return nil
	}
	return &w.types[len(w.types)-1]
}

func (w *walker) namespace() string {
	if len(w.namespaces) == 0 {
		return ""
	}
	return w.namespaces[len(w.namespaces)-1]
}

func (w *walker) key(kind, name string, n *sitter.Node) string {
	return facts.EntityKey(w.file.Path, kind, name, line(n), col(n))
}

func spanOf(n *sitter.Node) facts.Span {
	return facts.Span{
		StartLine: int(n.StartPoint().Row) + 1,
		StartCol:  int(n.StartPoint().Column),
		EndLine:   int(n.EndPoint().Row) + 1,
		EndCol:    int(n.EndPoint().Column),
	}
}

func (w *walker) recordInvocation(n *sitter.Node) {
	target := CallTarget(n, w.src)
	// Calls in a chain share their start position; the end position is
	// unique per invocation.
	end := n.EndPoint()
	w.out.Invocations = append(w.out.Invocations, facts.Invocation{
		Key:        facts.EntityKey(w.file.Path, "invocation", target, int(end.Row)+1, int(end.Column)),
		MethodKey:  w.methodKey(),
		Line:       line(n),
		Expression: collapse(nodeText(n, w.src)),
		TargetName: target,
	})
}

// visitIdentifier records a reference site for a name that is not itself a
// declaration. Declaration names are never visited.
func (w *walker) visitIdentifier(n *sitter.Node) {
	target := n
	parent := n.Parent()
	if parent != nil && parent.Type() == "generic_name" {
		target = parent
		parent = parent.Parent()
	}
	if parent == nil {
		return
	}

	site := &ReferenceSite{
		Node:      n,
		Name:      nodeText(n, w.src),
		Line:      line(n),
		Col:       col(n),
		Role:      RoleExpression,
		MethodKey: w.methodKey(),
	}
	if t := w.currentType(); t != nil {
		site.TypeKey, site.TypeName = t.key, t.fullName
	}

	callee := target
	switch {
	case isTypePosition(target, parent):
		site.Role = RoleType
	case parent.Type() == "member_access_expression" && sameNode(parent.ChildByFieldName("name"), target):
		site.Role = RoleMember
		site.Receiver = field(parent, "expression")
		callee = parent
	case parent.Type() == "member_binding_expression":
		site.Role = RoleMember
		site.Receiver = conditionalReceiver(parent)
		callee = parent
	case isInitializerTarget(target, parent):
		site.Role = RoleInitializer
		site.Receiver = parent.Parent().Parent()
	}
	if p := callee.Parent(); p != nil && p.Type() == "invocation_expression" {
		fn := field(p, "function")
		site.Invoked = fn == nil || sameNode(fn, callee)
	}

	if site.Role == RoleExpression {
		if local := w.lookup(site.Name); local != nil {
			site.Local = local
			w.addUsage(site.Line, local.Decl.Key)
		}
	}
	w.sites = append(w.sites, site)
}

func (w *walker) addUsage(line int, key string) {
	u := facts.LineVariableUsage{Line: line, VariableKey: key}
	if w.seenUsage[u] {
		return
	}
	w.seenUsage[u] = true
	w.out.Usages = append(w.out.Usages, u)
}

var typeContainers = map[string]bool{
	"type_argument_list":            true,
	"array_type":                    true,
	"nullable_type":                 true,
	"pointer_type":                  true,
	"ref_type":                      true,
	"scoped_type":                   true,
	"qualified_name":                true,
	"base_list":                     true,
	"primary_constructor_base_type": true,
	"attribute":                     true,
	"type_constraint":               true,
	"type_parameter_constraint":     true,
}

func isTypePosition(target, parent *sitter.Node) bool {
	if typeContainers[parent.Type()] {
		return true
	}
	for _, f := range []string{"type", "returns"} {
		if sameNode(parent.ChildByFieldName(f), target) {
			return true
		}
	}
	switch parent.Type() {
	case "as_expression", "is_expression":
		return sameNode(parent.ChildByFieldName("right"), target)
	}
	return false
}

// isInitializerTarget reports whether target is the assigned member in an
// object initializer such as new T { Name = x }.
func isInitializerTarget(target, parent *sitter.Node) bool {
	if parent.Type() != "assignment_expression" || !sameNode(field(parent, "left"), target) {
		return false
	}
	init := parent.Parent()
	if init == nil || init.Type() != "initializer_expression" {
		return false
	}
	creation := init.Parent()
	return creation != nil && creation.Type() == "object_creation_expression"
}

func conditionalReceiver(binding *sitter.Node) *sitter.Node {
	for p := binding.Parent(); p != nil; p = p.Parent() {
		if p.Type() == "conditional_access_expression" {
			if c := field(p, "condition"); c != nil {
				return c
			}
			if p.NamedChildCount() > 0 {
				return p.NamedChild(0)
			}
			return nil
		}
	}
	return nil
}
