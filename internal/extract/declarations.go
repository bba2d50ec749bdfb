package extract

import (
	"slices"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codefacts/internal/facts"
)

const (
	lambdaName    = "<lambda>"
	anonymousName = "<anonymous>"
)

var typeKinds = map[string]string{
	"class_declaration":         facts.KindClass,
	"interface_declaration":     facts.KindInterface,
	"struct_declaration":        facts.KindStruct,
	"record_declaration":        facts.KindRecord,
	"record_struct_declaration": facts.KindRecord,
	"enum_declaration":          facts.KindEnum,
}

func (w *walker) visitNamespace(n *sitter.Node) {
	w.namespaces = append(w.namespaces, w.qualify(n))
	if body := field(n, "body"); body != nil {
		w.visitChildren(body)
	} else if body := childOfType(n, "declaration_list"); body != nil {
		w.visitChildren(body)
	}
	w.namespaces = w.namespaces[:len(w.namespaces)-1]
}

// visitFileScopedNamespace applies to the rest of the compilation unit, so
// the namespace is never popped.
func (w *walker) visitFileScopedNamespace(n *sitter.Node) {
	name := nameOf(n)
	if name == nil {
		name = childOfType(n, "qualified_name")
	}
	w.namespaces = append(w.namespaces, w.qualify(n))
	w.visitChildren(n, name)
}

func (w *walker) qualify(ns *sitter.Node) string {
	name := nameOf(ns)
	if name == nil {
		name = childOfType(ns, "qualified_name")
	}
	text := strings.ReplaceAll(nodeText(name, w.src), " ", "")
	if outer := w.namespace(); outer != "" {
		return outer + "." + text
	}
	return text
}

// splitAccess separates access keywords from the other modifiers.
func splitAccess(mods []string) (string, []string) {
	var rest []string
	has := make(map[string]bool, 2)
	for _, m := range mods {
		switch m {
		case "public", "private", "protected", "internal":
			has[m] = true
		default:
			rest = append(rest, m)
		}
	}
	switch {
	case has["protected"] && has["internal"]:
		return facts.AccessProtectedInternal, rest
	case has["private"] && has["protected"]:
		return facts.AccessPrivateProtected, rest
	case has["public"]:
		return facts.AccessPublic, rest
	case has["internal"]:
		return facts.AccessInternal, rest
	case has["protected"]:
		return facts.AccessProtected, rest
	case has["private"]:
		return facts.AccessPrivate, rest
	}
	return "", rest
}

// memberAccess applies the member defaults: explicit wins, interface members
// are public, everything else is private.
func (w *walker) memberAccess(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if t := w.currentType(); t != nil && t.kind == facts.KindInterface {
		return facts.AccessPublic
	}
	return facts.AccessPrivate
}

func (w *walker) typeFullName(name string) string {
	if t := w.currentType(); t != nil {
		return t.fullName + "." + name
	}
	if ns := w.namespace(); ns != "" {
		return ns + "." + name
	}
	return name
}

func (w *walker) declareType(n *sitter.Node, kind string) *facts.TypeDeclaration {
	name := nodeText(nameOf(n), w.src)
	access, mods := splitAccess(modifiers(n, w.src))
	parent := w.currentType()
	if access == "" {
		switch {
		case parent == nil:
			access = facts.AccessInternal
		case parent.kind == facts.KindInterface:
			access = facts.AccessPublic
		default:
			access = facts.AccessPrivate
		}
	}
	full := w.typeFullName(name)
	td := facts.TypeDeclaration{
		Key:       w.key("type", full, n),
		Name:      name,
		Kind:      kind,
		Access:    access,
		Modifiers: mods,
		FullName:  full,
		Namespace: w.namespace(),
		Span:      spanOf(n),
	}
	if parent != nil {
		td.ParentTypeKey = parent.key
	}
	td.TypeParameters = typeParameters(n, w.src)
	w.out.Types = append(w.out.Types, td)
	return &w.out.Types[len(w.out.Types)-1]
}

func (w *walker) visitType(n *sitter.Node) {
	kind := typeKinds[n.Type()]
	td := w.declareType(n, kind)
	if kind == facts.KindRecord && isValueType(n) {
		td.Modifiers = append(td.Modifiers, "struct")
	}
	key, full := td.Key, td.FullName
	w.types = append(w.types, typeCtx{key: key, fullName: full, kind: kind})
	defer func() { w.types = w.types[:len(w.types)-1] }()

	for _, attrs := range childrenOfType(n, "attribute_list") {
		w.visit(attrs)
	}
	if kind != facts.KindEnum {
		bases := field(n, "bases")
		if bases == nil {
			bases = childOfType(n, "base_list")
		}
		if bases != nil {
			w.recordBases(key, kind, isValueType(n), bases)
		}
	}
	if kind == facts.KindRecord {
		if params := field(n, "parameters"); params != nil {
			w.recordPrimaryProperties(key, full, params)
		} else if params := childOfType(n, "parameter_list"); params != nil {
			w.recordPrimaryProperties(key, full, params)
		}
	}

	body := field(n, "body")
	if body == nil {
		body = childOfType(n, "declaration_list", "enum_member_declaration_list")
	}
	if body == nil {
		return
	}
	if kind == facts.KindEnum {
		for _, m := range childrenOfType(body, "enum_member_declaration") {
			name := nameOf(m)
			w.addMember(key, full, name, facts.MemberField, full, true)
		}
		return
	}
	w.visitChildren(body)
}

// isValueType reports struct and record struct declarations.
func isValueType(n *sitter.Node) bool {
	switch n.Type() {
	case "struct_declaration", "record_struct_declaration":
		return true
	case "record_declaration":
		for i := 0; i < int(n.ChildCount()); i++ {
			if n.Child(i).Type() == "struct" {
				return true
			}
		}
	}
	return false
}

func (w *walker) recordBases(typeKey, kind string, valueType bool, bases *sitter.Node) {
	ordinal := 0
	for i := 0; i < int(bases.NamedChildCount()); i++ {
		entry := bases.NamedChild(i)
		if entry.Type() == "argument_list" {
			w.visit(entry)
			continue
		}
		typeNode := entry
		if entry.Type() == "primary_constructor_base_type" {
			typeNode = field(entry, "type")
			if typeNode == nil && entry.NamedChildCount() > 0 {
				typeNode = entry.NamedChild(0)
			}
		}
		name := collapse(nodeText(typeNode, w.src))

		var relation string
		switch {
		case kind == facts.KindInterface:
			relation = facts.RelationBaseInterface
		case valueType:
			relation = facts.RelationInterface
		case ordinal == 0 && !LooksLikeInterface(name):
			relation = facts.RelationBaseType
		default:
			relation = facts.RelationInterface
		}
		w.out.Inheritances = append(w.out.Inheritances, facts.TypeInheritance{
			TypeKey:  typeKey,
			BaseName: name,
			Relation: relation,
			Ordinal:  ordinal,
		})
		ordinal++
		w.visit(entry)
	}
}

// LooksLikeInterface applies the C# naming convention: I followed by an
// upper-case letter.
func LooksLikeInterface(name string) bool {
	name = SimpleTypeName(name)
	r := []rune(name)
	return len(r) >= 2 && r[0] == 'I' && unicode.IsUpper(r[1])
}

// SimpleTypeName strips namespace qualifiers, generic arguments, nullable
// markers and array ranks from a type as written.
func SimpleTypeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimRight(name, "?[], ")
	if i := strings.LastIndexAny(name, ".:"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func (w *walker) recordPrimaryProperties(typeKey, typeName string, params *sitter.Node) {
	for _, p := range childrenOfType(params, "parameter") {
		w.addMember(typeKey, typeName, nameOf(p), facts.MemberProperty, collapse(nodeText(field(p, "type"), w.src)), false)
	}
	// Primary constructor parameters are visited for their type references only.
	for _, p := range childrenOfType(params, "parameter") {
		w.visit(field(p, "type"))
	}
}

func (w *walker) addMember(typeKey, typeName string, name *sitter.Node, kind, dataType string, static bool) {
	if name == nil {
		return
	}
	text := nodeText(name, w.src)
	w.out.Members = append(w.out.Members, facts.TypeMember{
		Key:      w.key("member", text, name),
		TypeKey:  typeKey,
		TypeName: typeName,
		Name:     text,
		Kind:     kind,
		DataType: dataType,
		IsStatic: static,
		Line:     line(name),
	})
}

func (w *walker) addMemberAt(n *sitter.Node, name, kind, dataType string, static bool) *facts.TypeMember {
	t := w.currentType()
	if t == nil {
		return nil
	}
	w.out.Members = append(w.out.Members, facts.TypeMember{
		Key:      w.key("member", name, n),
		TypeKey:  t.key,
		TypeName: t.fullName,
		Name:     name,
		Kind:     kind,
		DataType: dataType,
		IsStatic: static,
		Line:     line(n),
	})
	return &w.out.Members[len(w.out.Members)-1]
}

func (w *walker) visitDelegate(n *sitter.Node) {
	w.declareType(n, facts.KindDelegate)
	w.visit(field(n, "type", "returns"))
}

// pushFrame registers an executable unit. start and end bound the bytes
// whose lines the unit owns.
func (w *walker) pushFrame(md facts.MethodDeclaration, start, end uint32, body *sitter.Node) {
	level := 0
	if f := w.currentFrame(); f >= 0 {
		level = w.frames[f].level + 1
	}
	w.out.Methods = append(w.out.Methods, md)
	w.frames = append(w.frames, frame{key: md.Key, level: level, start: start, end: end, body: body})
	w.frameStack = append(w.frameStack, len(w.frames)-1)
	w.pushScope()
}

func (w *walker) popFrame() {
	w.popScope()
	w.frameStack = w.frameStack[:len(w.frameStack)-1]
}

func (w *walker) newMethod(n *sitter.Node, name, kind, returnType, access string, mods []string, params []*sitter.Node) facts.MethodDeclaration {
	md := facts.MethodDeclaration{
		Key:             w.key("method", name, n),
		Name:            name,
		ReturnType:      returnType,
		Parameters:      w.signature(params),
		ParameterCount:  len(params),
		Access:          access,
		Modifiers:       mods,
		Kind:            kind,
		ParentMethodKey: w.methodKey(),
		Span:            spanOf(n),
	}
	if t := w.currentType(); t != nil {
		md.TypeKey = t.key
	}
	return md
}

func methodBody(n *sitter.Node) *sitter.Node {
	if b := field(n, "body"); b != nil {
		return b
	}
	return childOfType(n, "block", "arrow_expression_clause")
}

func (w *walker) visitMethod(n *sitter.Node) {
	access, mods := splitAccess(modifiers(n, w.src))
	var name, kind, returnType string
	var typeNode *sitter.Node
	switch n.Type() {
	case "constructor_declaration":
		name, kind, returnType = nodeText(nameOf(n), w.src), facts.MethodKindConstructor, facts.ConstructorReturnType
	case "destructor_declaration":
		name, kind, returnType = "~"+nodeText(nameOf(n), w.src), facts.MethodKindDestructor, "void"
	case "operator_declaration":
		typeNode = field(n, "type", "returns")
		name, kind = "operator "+strings.TrimSpace(nodeText(field(n, "operator"), w.src)), facts.MethodKindOperator
	case "conversion_operator_declaration":
		typeNode = field(n, "type")
		name, kind = "operator "+collapse(nodeText(typeNode, w.src)), facts.MethodKindOperator
	default:
		typeNode = field(n, "returns", "type")
		name, kind = nodeText(nameOf(n), w.src), facts.MethodKindMethod
	}
	if typeNode != nil {
		returnType = collapse(nodeText(typeNode, w.src))
	}
	if access == "" && kind == facts.MethodKindConstructor {
		access = facts.AccessPrivate
	}
	access = w.memberAccess(access)

	params := paramNodes(parameterList(n))
	md := w.newMethod(n, name, kind, returnType, access, mods, params)

	memberKind := facts.MemberMethod
	if kind == facts.MethodKindConstructor {
		memberKind = facts.MemberConstructor
	}
	dataType := returnType
	if kind == facts.MethodKindConstructor {
		if t := w.currentType(); t != nil {
			dataType = t.fullName
		}
	}
	if m := w.addMemberAt(n, name, memberKind, dataType, slices.Contains(mods, "static")); m != nil {
		m.TypeParameters = typeParameters(n, w.src)
	}

	body := methodBody(n)
	w.pushFrame(md, n.StartByte(), n.EndByte(), body)
	defer w.popFrame()

	w.visit(typeNode)
	w.declareParams(params)
	if init := childOfType(n, "constructor_initializer"); init != nil {
		w.visit(init)
	}
	w.visit(body)
}

func parameterList(n *sitter.Node) *sitter.Node {
	if p := field(n, "parameters"); p != nil {
		return p
	}
	return childOfType(n, "parameter_list", "bracketed_parameter_list")
}

func (w *walker) visitLocalFunction(n *sitter.Node) {
	_, mods := splitAccess(modifiers(n, w.src))
	typeNode := field(n, "type", "returns")
	params := paramNodes(parameterList(n))
	md := w.newMethod(n, nodeText(nameOf(n), w.src), facts.MethodKindLocalFunction,
		collapse(nodeText(typeNode, w.src)), facts.AccessLocal, mods, params)

	body := methodBody(n)
	w.pushFrame(md, n.StartByte(), n.EndByte(), body)
	defer w.popFrame()

	w.visit(typeNode)
	w.declareParams(params)
	w.visit(body)
}

func (w *walker) visitLambda(n *sitter.Node) {
	_, mods := splitAccess(modifiers(n, w.src))
	body := field(n, "body")
	if body == nil && n.NamedChildCount() > 0 {
		body = n.NamedChild(int(n.NamedChildCount()) - 1)
	}
	if body == nil {
		return
	}
	typeNode := field(n, "type")
	params := paramNodes(field(n, "parameters"))
	md := w.newMethod(n, lambdaName, facts.MethodKindLambda,
		collapse(nodeText(typeNode, w.src)), facts.AccessLocal, mods, params)

	w.pushFrame(md, body.StartByte(), body.EndByte(), body)
	defer w.popFrame()

	w.visit(typeNode)
	w.declareParams(params)
	w.visit(body)
}

func (w *walker) visitAnonymousMethod(n *sitter.Node) {
	_, mods := splitAccess(modifiers(n, w.src))
	body := childOfType(n, "block")
	if body == nil {
		return
	}
	params := paramNodes(parameterList(n))
	md := w.newMethod(n, anonymousName, facts.MethodKindAnonymousMethod, "", facts.AccessLocal, mods, params)

	w.pushFrame(md, body.StartByte(), body.EndByte(), body)
	defer w.popFrame()

	w.declareParams(params)
	w.visit(body)
}

// visitProperty handles properties, indexers and events. Accessor bodies
// become executable units of their own.
func (w *walker) visitProperty(n *sitter.Node) {
	access, mods := splitAccess(modifiers(n, w.src))
	access = w.memberAccess(access)
	typeNode := field(n, "type")
	typeText := collapse(nodeText(typeNode, w.src))

	name := "this"
	if n.Type() != "indexer_declaration" {
		name = nodeText(nameOf(n), w.src)
	}
	memberKind := facts.MemberProperty
	if n.Type() == "event_declaration" {
		memberKind = facts.MemberEvent
	}
	w.addMemberAt(n, name, memberKind, typeText, slices.Contains(mods, "static"))
	w.visit(typeNode)

	indexParams := paramNodes(childOfType(n, "bracketed_parameter_list"))
	handled := []*sitter.Node{typeNode, nameOf(n)}

	if accessors := field(n, "accessors"); accessors != nil || childOfType(n, "accessor_list") != nil {
		if accessors == nil {
			accessors = childOfType(n, "accessor_list")
		}
		handled = append(handled, accessors)
		for _, acc := range childrenOfType(accessors, "accessor_declaration") {
			w.visitAccessor(acc, name, typeText, access, mods, indexParams)
		}
	}
	if arrow := childOfType(n, "arrow_expression_clause"); arrow != nil {
		handled = append(handled, arrow)
		md := w.newMethod(n, name+".get", facts.MethodKindAccessor, typeText, access, mods, indexParams)
		w.pushFrame(md, n.StartByte(), n.EndByte(), arrow)
		w.declareParams(indexParams)
		w.visit(arrow)
		w.popFrame()
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "modifier", "attribute_list", "bracketed_parameter_list", "explicit_interface_specifier":
			continue
		}
		skip := false
		for _, h := range handled {
			if sameNode(c, h) {
				skip = true
				break
			}
		}
		if !skip {
			w.visit(c)
		}
	}
}

func accessorKeyword(acc *sitter.Node, src []byte) string {
	if name := field(acc, "name"); name != nil {
		return nodeText(name, src)
	}
	for i := 0; i < int(acc.ChildCount()); i++ {
		switch c := acc.Child(i); c.Type() {
		case "get", "set", "init", "add", "remove":
			return c.Type()
		}
	}
	return "get"
}

func (w *walker) visitAccessor(acc *sitter.Node, prop, typeText, propAccess string, propMods []string, indexParams []*sitter.Node) {
	body := methodBody(acc)
	if body == nil {
		return
	}
	keyword := accessorKeyword(acc, w.src)
	access, mods := splitAccess(modifiers(acc, w.src))
	if access == "" {
		access = propAccess
	}
	mods = append(slices.Clone(propMods), mods...)

	returnType := "void"
	if keyword == "get" {
		returnType = typeText
	}
	md := w.newMethod(acc, prop+"."+keyword, facts.MethodKindAccessor, returnType, access, mods, indexParams)
	implicitValue := keyword != "get"
	if implicitValue {
		sig := strings.TrimSuffix(md.Parameters, ")")
		if len(indexParams) > 0 {
			sig += ", "
		}
		md.Parameters = sig + typeText + " value)"
		md.ParameterCount++
	}

	w.pushFrame(md, acc.StartByte(), acc.EndByte(), body)
	defer w.popFrame()

	w.declareParams(indexParams)
	if implicitValue {
		w.declareLocal(acc, "value", facts.VarParameter, typeText, nil)
	}
	w.visit(body)
}

func (w *walker) visitField(n *sitter.Node) {
	_, mods := splitAccess(modifiers(n, w.src))
	decl := childOfType(n, "variable_declaration")
	if decl == nil {
		return
	}
	typeNode := field(decl, "type")
	typeText := collapse(nodeText(typeNode, w.src))
	kind := facts.MemberField
	if n.Type() == "event_field_declaration" {
		kind = facts.MemberEvent
	}
	static := slices.Contains(mods, "static") || slices.Contains(mods, "const")
	w.visit(typeNode)

	t := w.currentType()
	for _, d := range childrenOfType(decl, "variable_declarator") {
		name := nameOf(d)
		if t != nil {
			w.addMember(t.key, t.fullName, name, kind, typeText, static)
		}
		w.visitChildren(d, name)
	}
}
