package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codefacts/internal/facts"
)

func (w *walker) pushScope() {
	w.scopes = append(w.scopes, &scope{names: make(map[string]*Local)})
}

func (w *walker) popScope() {
	w.scopes = w.scopes[:len(w.scopes)-1]
}

// lookup resolves name through the lexical scopes, innermost first. Scopes
// of enclosing units stay visible, so captured variables resolve to the
// declaring unit's key.
func (w *walker) lookup(name string) *Local {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if l, ok := w.scopes[i].names[name]; ok {
			return l
		}
	}
	return nil
}

// declareLocal registers a variable declared at n. Declarations outside any
// executable unit are ignored.
func (w *walker) declareLocal(n *sitter.Node, name, kind, typeName string, init *sitter.Node) *Local {
	if w.currentFrame() < 0 || len(w.scopes) == 0 || name == "" {
		return nil
	}
	decl := &facts.VariableDeclaration{
		Key:       w.key("variable", name, n),
		MethodKey: w.methodKey(),
		Name:      name,
		Kind:      kind,
		TypeName:  typeName,
		Line:      line(n),
	}
	w.vars = append(w.vars, decl)
	l := &Local{Decl: decl, Init: init}
	w.scopes[len(w.scopes)-1].names[name] = l
	return l
}

// paramNodes lists the parameters of a parameter list. Lambdas may carry a
// bare identifier instead of a list.
func paramNodes(list *sitter.Node) []*sitter.Node {
	if list == nil {
		return nil
	}
	switch list.Type() {
	case "identifier", "implicit_parameter", "parameter":
		return []*sitter.Node{list}
	}
	var out []*sitter.Node
	for i := 0; i < int(list.NamedChildCount()); i++ {
		switch c := list.NamedChild(i); c.Type() {
		case "parameter", "implicit_parameter", "identifier":
			out = append(out, c)
		}
	}
	return out
}

func (w *walker) signature(params []*sitter.Node) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = collapse(nodeText(p, w.src))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func paramName(p *sitter.Node) *sitter.Node {
	if p.Type() == "identifier" {
		return p
	}
	if n := nameOf(p); n != nil {
		return n
	}
	return p
}

func (w *walker) declareParams(params []*sitter.Node) {
	for _, p := range params {
		name := paramName(p)
		var typeText string
		if p.Type() == "parameter" {
			typeNode := field(p, "type")
			typeText = collapse(nodeText(typeNode, w.src))
			w.visit(typeNode)
			if def := childOfType(p, "equals_value_clause"); def != nil {
				w.visit(def)
			}
		}
		w.declareLocal(name, nodeText(name, w.src), facts.VarParameter, typeText, nil)
	}
}

func (w *walker) visitBlock(n *sitter.Node) {
	if f := w.currentFrame(); f >= 0 && !sameNode(w.frames[f].body, n) {
		w.blocks = append(w.blocks, blockSpan{frame: f, open: n.StartByte(), close: n.EndByte() - 1})
	}
	w.pushScope()
	w.visitChildren(n)
	w.popScope()
}

func declaredType(typeNode *sitter.Node, src []byte) string {
	if typeNode == nil || typeNode.Type() == "implicit_type" {
		return "var"
	}
	return collapse(nodeText(typeNode, src))
}

func initializerOf(d *sitter.Node, name *sitter.Node) *sitter.Node {
	if eq := childOfType(d, "equals_value_clause"); eq != nil {
		if eq.NamedChildCount() > 0 {
			return eq.NamedChild(0)
		}
		return nil
	}
	if v := field(d, "value"); v != nil {
		return v
	}
	for i := 0; i < int(d.NamedChildCount()); i++ {
		c := d.NamedChild(i)
		if !sameNode(c, name) && c.Type() != "bracketed_argument_list" {
			return c
		}
	}
	return nil
}

func (w *walker) visitVariableDeclaration(n *sitter.Node) {
	typeNode := field(n, "type")
	typeText := declaredType(typeNode, w.src)
	if typeText != "var" {
		w.visit(typeNode)
	}
	for _, d := range childrenOfType(n, "variable_declarator") {
		name := nameOf(d)
		if name == nil || name.Type() != "identifier" {
			w.visitChildren(d)
			continue
		}
		init := initializerOf(d, name)
		t := typeText
		if t == "var" {
			if inferred := InferLiteralType(init, w.src); inferred != "" {
				t = inferred
			}
		}
		w.declareLocal(name, nodeText(name, w.src), facts.VarLocal, t, init)
		w.visitChildren(d, name)
	}
}

func (w *walker) visitForEach(n *sitter.Node) {
	typeNode := field(n, "type")
	left := field(n, "left")
	right := field(n, "right")
	w.visit(right)

	w.pushScope()
	defer w.popScope()
	typeText := declaredType(typeNode, w.src)
	if typeText != "var" {
		w.visit(typeNode)
	}
	if left != nil && left.Type() == "identifier" {
		w.declareLocal(left, nodeText(left, w.src), facts.VarForEach, typeText, right)
	} else {
		w.visit(left)
	}
	w.visit(field(n, "body"))
}

func (w *walker) visitCatch(n *sitter.Node) {
	w.pushScope()
	defer w.popScope()
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() != "catch_declaration" {
			w.visit(c)
			continue
		}
		typeNode := field(c, "type")
		name := field(c, "name")
		if typeNode == nil || name == nil {
			ids := childrenOfType(c, "identifier")
			if typeNode == nil && len(ids) > 0 {
				typeNode = c.NamedChild(0)
			}
			if name == nil && len(ids) > 0 && !sameNode(ids[len(ids)-1], typeNode) {
				name = ids[len(ids)-1]
			}
		}
		w.visit(typeNode)
		if name != nil {
			w.declareLocal(name, nodeText(name, w.src), facts.VarCatch, collapse(nodeText(typeNode, w.src)), nil)
		}
	}
}

// visitDesignation declares the variables of out var x and is T x forms.
func (w *walker) visitDesignation(n *sitter.Node) {
	typeNode := field(n, "type")
	typeText := declaredType(typeNode, w.src)
	if typeText != "var" {
		w.visit(typeNode)
	}
	if name := field(n, "name"); name != nil && name.Type() == "identifier" {
		w.declareLocal(name, nodeText(name, w.src), facts.VarPattern, typeText, nil)
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if sameNode(c, typeNode) {
			continue
		}
		switch c.Type() {
		case "identifier":
			w.declareLocal(c, nodeText(c, w.src), facts.VarPattern, typeText, nil)
		default:
			w.visit(c)
		}
	}
}

func (w *walker) visitSingleDesignation(n *sitter.Node) {
	name := childOfType(n, "identifier")
	if name == nil {
		name = n
	}
	typeText := "var"
	if p := n.Parent(); p != nil {
		if t := field(p, "type"); t != nil {
			typeText = declaredType(t, w.src)
		}
	}
	w.declareLocal(name, nodeText(name, w.src), facts.VarPattern, typeText, nil)
}

// InferLiteralType returns the type of an initializer when syntax alone
// determines it, or "" otherwise.
func InferLiteralType(init *sitter.Node, src []byte) string {
	if init == nil {
		return ""
	}
	switch init.Type() {
	case "object_creation_expression", "array_creation_expression", "cast_expression", "default_expression":
		if t := field(init, "type"); t != nil {
			return collapse(nodeText(t, src))
		}
	case "as_expression":
		if t := field(init, "right"); t != nil {
			return collapse(nodeText(t, src))
		}
	case "string_literal", "verbatim_string_literal", "raw_string_literal", "interpolated_string_expression":
		return "string"
	case "character_literal":
		return "char"
	case "boolean_literal":
		return "bool"
	case "integer_literal":
		text := strings.ToLower(nodeText(init, src))
		switch {
		case strings.HasSuffix(text, "ul"), strings.HasSuffix(text, "lu"):
			return "ulong"
		case strings.HasSuffix(text, "l"):
			return "long"
		case strings.HasSuffix(text, "u"):
			return "uint"
		}
		return "int"
	case "real_literal":
		text := strings.ToLower(nodeText(init, src))
		switch {
		case strings.HasSuffix(text, "f"):
			return "float"
		case strings.HasSuffix(text, "m"):
			return "decimal"
		}
		return "double"
	case "parenthesized_expression":
		if init.NamedChildCount() == 1 {
			return InferLiteralType(init.NamedChild(0), src)
		}
	}
	return ""
}

// lines builds one fact per source line. A line belongs to the innermost
// unit containing its first non-blank character; depth counts that unit's
// nested blocks strictly enclosing the same character.
func (w *walker) lines() []facts.LineFact {
	text := string(w.src)
	if text == "" {
		return nil
	}
	parts := strings.Split(text, "\n")
	if strings.HasSuffix(text, "\n") {
		parts = parts[:len(parts)-1]
	}

	usages := make(map[int]int)
	for _, u := range w.out.Usages {
		usages[u.Line]++
	}

	out := make([]facts.LineFact, 0, len(parts))
	offset := 0
	for i, p := range parts {
		raw := strings.TrimSuffix(p, "\r")
		anchor := offset
		if trimmed := strings.TrimLeft(raw, " \t"); trimmed != "" {
			anchor += len(raw) - len(trimmed)
		}
		lf := facts.LineFact{Line: i + 1, Text: raw, UsageCount: usages[i+1]}
		if owner := w.ownerAt(uint32(anchor)); owner >= 0 {
			lf.MethodKey = w.frames[owner].key
			lf.BlockDepth = w.depthAt(owner, uint32(anchor))
		}
		out = append(out, lf)
		offset += len(p) + 1
	}
	return out
}

func (w *walker) ownerAt(pos uint32) int {
	best := -1
	for i, f := range w.frames {
		if f.start <= pos && pos < f.end && (best < 0 || f.level > w.frames[best].level) {
			best = i
		}
	}
	return best
}

func (w *walker) depthAt(owner int, pos uint32) int {
	depth := 0
	for _, b := range w.blocks {
		if b.frame == owner && b.open < pos && pos < b.close {
			depth++
		}
	}
	return depth
}
