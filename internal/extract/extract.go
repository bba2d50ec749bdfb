// Package extract turns one source file into a FileFacts bundle plus the
// retained syntax tree and reference sites the binder classifies afterwards.
package extract

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"

	"github.com/jward/codefacts/internal/facts"
)

// LanguageCSharp is the only language handled today.
const LanguageCSharp = "csharp"

// extToLanguage maps file extensions to canonical language names.
var extToLanguage = map[string]string{
	".cs": LanguageCSharp,
}

// langToGrammar maps language names to tree-sitter Language objects.
// Lazily initialized on first call via sync.Once.
var (
	langToGrammar map[string]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[string]*sitter.Language{
			LanguageCSharp: csharp.GetLanguage(),
		}
	})
}

// LanguageForFile returns the canonical language name for a file path based
// on its extension. Returns ("", false) if the extension is not recognized.
func LanguageForFile(path string) (string, bool) {
	lang, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// GrammarForLanguage returns the tree-sitter Language for a canonical
// language name.
func GrammarForLanguage(lang string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}

// Extractor produces facts for the files it can handle. Implementations are
// stateless and safe for concurrent use.
type Extractor interface {
	Language() string
	CanHandle(path string) bool
	Extract(ctx context.Context, file facts.Fingerprint, src []byte) (*Result, error)
}

// Registry dispatches files to the first extractor that accepts them.
type Registry struct {
	extractors []Extractor
}

// NewRegistry returns a registry with the given extractors. With no
// arguments it holds the C# extractor.
func NewRegistry(extractors ...Extractor) *Registry {
	if len(extractors) == 0 {
		extractors = []Extractor{NewCSharp()}
	}
	return &Registry{extractors: extractors}
}

// For returns the extractor that handles path, or nil.
func (r *Registry) For(path string) Extractor {
	for _, e := range r.extractors {
		if e.CanHandle(path) {
			return e
		}
	}
	return nil
}

// Result is one extraction: the fact bundle plus what the binder needs to
// classify references. Close releases the syntax tree.
type Result struct {
	Facts  *facts.FileFacts
	Source []byte
	Tree   *sitter.Tree
	Sites  []*ReferenceSite

	byRange map[[2]uint32]*ReferenceSite
}

// Close releases the retained syntax tree.
func (r *Result) Close() {
	if r.Tree != nil {
		r.Tree.Close()
		r.Tree = nil
	}
}

// SiteFor returns the reference site recorded for an identifier node.
func (r *Result) SiteFor(n *sitter.Node) *ReferenceSite {
	if n == nil {
		return nil
	}
	return r.byRange[[2]uint32{n.StartByte(), n.EndByte()}]
}

// Site roles.
const (
	// RoleExpression is a bare name in expression position.
	RoleExpression = iota
	// RoleMember is the name part of a member access or member binding.
	RoleMember
	// RoleType is a name in type position.
	RoleType
	// RoleInitializer is a member assigned inside an object initializer.
	RoleInitializer
)

// ReferenceSite is one referenced name awaiting classification.
type ReferenceSite struct {
	Node      *sitter.Node
	Name      string
	Line      int
	Col       int
	Role      int
	Invoked   bool
	MethodKey string

	// Receiver is the expression left of the dot for RoleMember sites and the
	// object creation expression for RoleInitializer sites.
	Receiver *sitter.Node

	// TypeKey and TypeName identify the innermost enclosing type declaration.
	TypeKey  string
	TypeName string

	// Local is the lexically resolved declaration for RoleExpression names.
	Local *Local
}

// Local is an in-scope variable declaration together with the syntax the
// binder needs for type inference.
type Local struct {
	Decl *facts.VariableDeclaration

	// Init is the initializer expression, or for ForEach variables the
	// iterated collection.
	Init *sitter.Node
}
