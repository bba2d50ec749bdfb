package extract

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// collapse replaces runs of whitespace with a single space and trims.
func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

// line returns the 1-based start line of n.
func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func col(n *sitter.Node) int {
	return int(n.StartPoint().Column)
}

func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// field returns the first non-nil child for the given field names. Grammar
// revisions renamed a few fields (type → returns), so callers list both.
func field(n *sitter.Node, names ...string) *sitter.Node {
	for _, name := range names {
		if c := n.ChildByFieldName(name); c != nil {
			return c
		}
	}
	return nil
}

// childOfType returns the first direct named child whose type is one of types.
func childOfType(n *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

func childrenOfType(n *sitter.Node, typ string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == typ {
			out = append(out, c)
		}
	}
	return out
}

// nameOf returns the declared name node of a declaration.
func nameOf(n *sitter.Node) *sitter.Node {
	if c := n.ChildByFieldName("name"); c != nil {
		return c
	}
	return childOfType(n, "identifier")
}

// typeParameters returns the generic parameter names declared by n.
func typeParameters(n *sitter.Node, src []byte) []string {
	list := field(n, "type_parameters")
	if list == nil {
		list = childOfType(n, "type_parameter_list")
	}
	if list == nil {
		return nil
	}
	var out []string
	for _, p := range childrenOfType(list, "type_parameter") {
		if name := nodeText(nameOf(p), src); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// DeclaredName returns the name of a declaration node as written, or "".
func DeclaredName(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return nodeText(nameOf(n), src)
}

// CallTarget returns the called name of an invocation: the right-most
// identifier of its function expression, generic arguments removed.
func CallTarget(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	fn := field(n, "function")
	if fn == nil && n.NamedChildCount() > 0 {
		fn = n.NamedChild(0)
	}
	return lastIdentifier(fn, src)
}

// ChildByField returns the first child found under any of the field names.
func ChildByField(n *sitter.Node, names ...string) *sitter.Node {
	if n == nil {
		return nil
	}
	return field(n, names...)
}

// modifiers returns the modifier keywords of a declaration in source order.
func modifiers(n *sitter.Node, src []byte) []string {
	var mods []string
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "modifier" {
			mods = append(mods, strings.TrimSpace(nodeText(c, src)))
		}
	}
	return mods
}

// lastIdentifier returns the right-most identifier of a name-like expression
// with generic arguments removed.
func lastIdentifier(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "identifier":
		return nodeText(n, src)
	case "generic_name":
		return nodeText(childOfType(n, "identifier"), src)
	case "member_access_expression", "member_binding_expression", "qualified_name":
		if name := field(n, "name"); name != nil {
			return lastIdentifier(name, src)
		}
		if c := int(n.NamedChildCount()); c > 0 {
			return lastIdentifier(n.NamedChild(c-1), src)
		}
	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return lastIdentifier(n.NamedChild(0), src)
		}
	}
	text := nodeText(n, src)
	if i := strings.IndexByte(text, '<'); i >= 0 {
		text = text[:i]
	}
	if i := strings.LastIndexAny(text, ".>"); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimSpace(text)
}
