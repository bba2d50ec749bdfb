package binder

import (
	"slices"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/codefacts/internal/extract"
	"github.com/jward/codefacts/internal/facts"
)

// Bind classifies every reference site of res. It reads the tree and the
// table and never modifies either, or the extracted facts.
func Bind(res *extract.Result, table *SymbolTable) []facts.SymbolReference {
	b := &binder{
		res:        res,
		src:        res.Source,
		table:      table,
		localTypes: make(map[*extract.Local]string),
		resolving:  make(map[*extract.Local]bool),
		localFuncs: make(map[string]facts.MethodDeclaration),
	}
	for _, m := range res.Facts.Methods {
		if m.Kind == facts.MethodKindLocalFunction {
			if _, ok := b.localFuncs[m.Name]; !ok {
				b.localFuncs[m.Name] = m
			}
		}
	}

	refs := make([]facts.SymbolReference, 0, len(res.Sites))
	for _, site := range res.Sites {
		refs = append(refs, b.bind(site))
	}
	return refs
}

type binder struct {
	res   *extract.Result
	src   []byte
	table *SymbolTable

	localTypes map[*extract.Local]string
	resolving  map[*extract.Local]bool
	localFuncs map[string]facts.MethodDeclaration
}

func (b *binder) bind(site *extract.ReferenceSite) facts.SymbolReference {
	ref := facts.SymbolReference{
		Key:       facts.EntityKey(b.res.Facts.File.Path, "reference", site.Name, site.Line, site.Col),
		Line:      site.Line,
		MethodKey: site.MethodKey,
		Name:      site.Name,
		Kind:      facts.SymbolIdentifier,
	}
	from := b.table.ByFullName(site.TypeName)

	switch site.Role {
	case extract.RoleType:
		if ti := b.table.Lookup(site.Name, from); ti != nil {
			ref.SymbolType = ti.FullName
		}

	case extract.RoleExpression:
		b.bindName(&ref, site, from)

	case extract.RoleMember:
		b.bindMember(&ref, site, b.typeOf(site.Receiver, site), from)

	case extract.RoleInitializer:
		ref.Kind = facts.SymbolProperty
		created := extract.InferLiteralType(site.Receiver, b.src)
		b.bindMember(&ref, site, created, from)
	}
	return ref
}

// bindName classifies a bare name: locals first, then members of the
// enclosing type chain, then local functions and type names.
func (b *binder) bindName(ref *facts.SymbolReference, site *extract.ReferenceSite, from *TypeInfo) {
	if site.Local != nil {
		ref.Kind = facts.SymbolVariable
		ref.ContainerType = site.TypeName
		ref.SymbolType = b.resolveName(b.localType(site.Local, site), from)
		return
	}
	if fn, ok := b.localFuncs[site.Name]; ok && site.Invoked {
		ref.Kind = facts.SymbolMethod
		ref.ContainerType = site.TypeName
		ref.SymbolType = b.resolveName(fn.ReturnType, from)
		return
	}
	for scope := from; scope != nil; scope = b.outer(scope) {
		if m, owner := b.table.FindMember(scope, site.Name); m != nil {
			ref.Kind = memberKind(m)
			ref.ContainerType = owner.FullName
			ref.SymbolType = b.resolveName(boundType(m, owner, nil, "", site.Node, b.src), owner)
			return
		}
	}
	if site.Invoked {
		ref.Kind = facts.SymbolMethod
		return
	}
	if ti := b.table.Lookup(site.Name, from); ti != nil {
		ref.SymbolType = ti.FullName
	}
}

// bindMember classifies the name part of an access on a receiver of type
// recv. An undeclared receiver type only resolves the container.
func (b *binder) bindMember(ref *facts.SymbolReference, site *extract.ReferenceSite, recv string, from *TypeInfo) {
	if recv == "" {
		if site.Invoked {
			ref.Kind = facts.SymbolMethod
		}
		return
	}
	ti := b.table.Lookup(recv, from)
	if ti == nil {
		if site.Invoked {
			ref.Kind = facts.SymbolMethod
		} else {
			ref.Kind = facts.SymbolProperty
		}
		ref.ContainerType = recv
		return
	}
	if m, owner := b.table.FindMember(ti, site.Name); m != nil {
		ref.Kind = memberKind(m)
		ref.ContainerType = owner.FullName
		ref.SymbolType = b.resolveName(boundType(m, owner, ti, recv, site.Node, b.src), owner)
		return
	}
	if nested := b.table.ByFullName(ti.FullName + "." + site.Name); nested != nil {
		ref.Kind = facts.SymbolIdentifier
		ref.SymbolType = nested.FullName
		return
	}
	if site.Invoked {
		ref.Kind = facts.SymbolMethod
	}
	ref.ContainerType = ti.FullName
}

func memberKind(m *facts.TypeMember) string {
	switch m.Kind {
	case facts.MemberMethod, facts.MemberConstructor:
		return facts.SymbolMethod
	}
	return facts.SymbolProperty
}

func (b *binder) outer(ti *TypeInfo) *TypeInfo {
	parent := parentName(ti.FullName)
	if parent == "" || parent == ti.Namespace {
		return nil
	}
	return b.table.ByFullName(parent)
}

// resolveName returns the declared full name for a type as written, or the
// written form when the type is not declared in the indexed sources.
func (b *binder) resolveName(name string, from *TypeInfo) string {
	switch name {
	case "", "var":
		return ""
	case "void":
		return name
	}
	if from != nil && slices.Contains(from.TypeParameters, name) {
		return ""
	}
	if ti := b.table.Lookup(name, from); ti != nil && !strings.ContainsAny(name, "<[?") {
		return ti.FullName
	}
	return name
}

func (b *binder) localType(l *extract.Local, site *extract.ReferenceSite) string {
	if t, ok := b.localTypes[l]; ok {
		return t
	}
	t := l.Decl.TypeName
	if t == "var" || t == "" {
		t = ""
		if !b.resolving[l] && l.Init != nil {
			b.resolving[l] = true
			t = b.typeOf(l.Init, site)
			if l.Decl.Kind == facts.VarForEach {
				t = elementType(t)
			}
			delete(b.resolving, l)
		}
	}
	b.localTypes[l] = t
	return t
}

// typeOf infers the static type of an expression as far as the table allows.
// It returns "" when the type is unknown.
func (b *binder) typeOf(n *sitter.Node, site *extract.ReferenceSite) string {
	if n == nil {
		return ""
	}
	from := b.table.ByFullName(site.TypeName)
	switch n.Type() {
	case "this_expression", "this":
		return site.TypeName
	case "base_expression", "base":
		if base := b.table.BaseClass(from); base != nil {
			return base.FullName
		}
		return ""
	case "identifier", "generic_name":
		return b.nameType(n, site, from)
	case "predefined_type":
		return n.Content(b.src)
	case "member_access_expression":
		recv := b.typeOf(n.ChildByFieldName("expression"), site)
		return b.memberType(recv, n.ChildByFieldName("name"), from)
	case "invocation_expression":
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return ""
		}
		switch fn.Type() {
		case "member_access_expression":
			recv := b.typeOf(fn.ChildByFieldName("expression"), site)
			return b.memberType(recv, fn.ChildByFieldName("name"), from)
		case "identifier", "generic_name":
			name := lastName(fn, b.src)
			if f, ok := b.localFuncs[name]; ok {
				return f.ReturnType
			}
			for scope := from; scope != nil; scope = b.outer(scope) {
				if m, owner := b.table.FindMember(scope, name); m != nil {
					return boundType(m, owner, nil, "", fn, b.src)
				}
			}
		}
		return ""
	case "parenthesized_expression":
		if n.NamedChildCount() == 1 {
			return b.typeOf(n.NamedChild(0), site)
		}
		return ""
	case "element_access_expression":
		return elementType(b.typeOf(n.ChildByFieldName("expression"), site))
	case "await_expression":
		if n.NamedChildCount() > 0 {
			return unwrapTask(b.typeOf(n.NamedChild(0), site))
		}
		return ""
	}
	return extract.InferLiteralType(n, b.src)
}

func (b *binder) nameType(n *sitter.Node, site *extract.ReferenceSite, from *TypeInfo) string {
	name := lastName(n, b.src)
	if s := b.res.SiteFor(identifierOf(n)); s != nil && s.Local != nil {
		return b.localType(s.Local, s)
	}
	for scope := from; scope != nil; scope = b.outer(scope) {
		if m, owner := b.table.FindMember(scope, name); m != nil {
			return boundType(m, owner, nil, "", n, b.src)
		}
	}
	if ti := b.table.Lookup(name, from); ti != nil {
		return ti.FullName
	}
	// An unresolved PascalCase receiver is most likely an external type
	// accessed statically, such as Console or Math.
	if r := []rune(name); len(r) > 0 && unicode.IsUpper(r[0]) {
		return name
	}
	return ""
}

func (b *binder) memberType(recv string, nameNode *sitter.Node, from *TypeInfo) string {
	name := lastName(nameNode, b.src)
	if recv == "" || name == "" {
		return ""
	}
	ti := b.table.Lookup(recv, from)
	if ti == nil {
		return ""
	}
	if m, owner := b.table.FindMember(ti, name); m != nil {
		return boundType(m, owner, ti, recv, nameNode, b.src)
	}
	if nested := b.table.ByFullName(ti.FullName + "." + name); nested != nil {
		return nested.FullName
	}
	return ""
}

func identifierOf(n *sitter.Node) *sitter.Node {
	if n.Type() == "generic_name" {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "identifier" {
				return c
			}
		}
	}
	return n
}

func lastName(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(identifierOf(n).Content(src))
}

// elementType returns the element type of an array or single-argument
// generic collection as written.
func elementType(t string) string {
	t = strings.TrimSpace(t)
	switch {
	case t == "":
		return ""
	case strings.HasSuffix(t, "[]"):
		return strings.TrimSuffix(t, "[]")
	case t == "string":
		return "char"
	}
	args := typeArgs(t)
	switch len(args) {
	case 1:
		return args[0]
	case 2:
		base := normalizeTypeName(t)
		if strings.HasSuffix(base, "Dictionary") {
			return "KeyValuePair<" + args[0] + ", " + args[1] + ">"
		}
	}
	return ""
}

func unwrapTask(t string) string {
	base := normalizeTypeName(t)
	if base != "Task" && base != "ValueTask" && !strings.HasSuffix(base, ".Task") {
		return t
	}
	if args := typeArgs(t); len(args) == 1 {
		return args[0]
	}
	return "void"
}

func typeArgs(t string) []string {
	open := strings.IndexByte(t, '<')
	if open < 0 || !strings.HasSuffix(t, ">") {
		return nil
	}
	return splitTypeArgs(t[open+1 : len(t)-1])
}

// splitTypeArgs splits a generic argument list at top-level commas.
func splitTypeArgs(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// boundType returns the data type of m as seen at one use. Generic
// parameters of the member take the type arguments written at the use
// (Get<string>), and those of the owning type take the arguments of the
// receiver type when the member is declared on it directly. A parameter left
// without an argument makes the type unknown.
func boundType(m *facts.TypeMember, owner, recvInfo *TypeInfo, recv string, use *sitter.Node, src []byte) string {
	var ownerParams []string
	if owner != nil {
		ownerParams = owner.TypeParameters
	}
	if len(m.TypeParameters) == 0 && len(ownerParams) == 0 {
		return m.DataType
	}
	bound := make(map[string]string, len(ownerParams)+len(m.TypeParameters))
	var recvArgs []string
	if owner != nil && owner == recvInfo {
		recvArgs = typeArgs(recv)
	}
	for i, p := range ownerParams {
		bound[p] = ""
		if i < len(recvArgs) {
			bound[p] = recvArgs[i]
		}
	}
	useArgs := genericArgs(use, src)
	for i, p := range m.TypeParameters {
		bound[p] = ""
		if i < len(useArgs) {
			bound[p] = useArgs[i]
		}
	}
	return substitute(m.DataType, bound)
}

// genericArgs returns the type arguments of a generic name, or of the
// generic name an identifier belongs to.
func genericArgs(n *sitter.Node, src []byte) []string {
	if n == nil {
		return nil
	}
	if n.Type() == "identifier" {
		if p := n.Parent(); p != nil && p.Type() == "generic_name" {
			n = p
		}
	}
	if n.Type() != "generic_name" {
		return nil
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		list := n.NamedChild(i)
		if list.Type() != "type_argument_list" {
			continue
		}
		args := make([]string, 0, list.NamedChildCount())
		for j := 0; j < int(list.NamedChildCount()); j++ {
			args = append(args, strings.Join(strings.Fields(list.NamedChild(j).Content(src)), " "))
		}
		return args
	}
	return nil
}

// substitute replaces whole identifiers of t found in bound. It returns ""
// when one of them is bound to nothing.
func substitute(t string, bound map[string]string) string {
	var out strings.Builder
	for i := 0; i < len(t); {
		if !isIdentByte(t[i]) {
			out.WriteByte(t[i])
			i++
			continue
		}
		j := i
		for j < len(t) && isIdentByte(t[j]) {
			j++
		}
		word := t[i:j]
		if arg, ok := bound[word]; ok && (i == 0 || t[i-1] != '.') {
			if arg == "" {
				return ""
			}
			word = arg
		}
		out.WriteString(word)
		i = j
	}
	return out.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
