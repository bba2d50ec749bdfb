// Package facts defines the structured records extracted from one source file
// and the deterministic keys that identify them across re-scans.
package facts

// Type kinds.
const (
	KindClass     = "Class"
	KindInterface = "Interface"
	KindStruct    = "Struct"
	KindRecord    = "Record"
	KindEnum      = "Enum"
	KindDelegate  = "Delegate"
)

// Access modifiers.
const (
	AccessPublic            = "Public"
	AccessInternal          = "Internal"
	AccessProtected         = "Protected"
	AccessPrivate           = "Private"
	AccessProtectedInternal = "ProtectedInternal"
	AccessPrivateProtected  = "PrivateProtected"
	AccessLocal             = "Local"
)

// Inheritance relation kinds.
const (
	RelationBaseType      = "BaseType"
	RelationInterface     = "Interface"
	RelationBaseInterface = "BaseInterface"
)

// Executable unit kinds.
const (
	MethodKindMethod          = "Method"
	MethodKindConstructor     = "Constructor"
	MethodKindDestructor      = "Destructor"
	MethodKindOperator        = "Operator"
	MethodKindAccessor        = "Accessor"
	MethodKindLocalFunction   = "LocalFunction"
	MethodKindLambda          = "Lambda"
	MethodKindAnonymousMethod = "AnonymousMethod"
)

// ConstructorReturnType marks the return type of constructors.
const ConstructorReturnType = "ctor"

// Variable kinds.
const (
	VarParameter = "Parameter"
	VarLocal     = "Local"
	VarForEach   = "ForEach"
	VarCatch     = "Catch"
	VarPattern   = "Pattern"
)

// Type member kinds.
const (
	MemberField       = "Field"
	MemberProperty    = "Property"
	MemberEvent       = "Event"
	MemberMethod      = "Method"
	MemberConstructor = "Constructor"
)

// Coarse symbol kinds.
const (
	SymbolVariable   = "Variable"
	SymbolMethod     = "Method"
	SymbolProperty   = "Property"
	SymbolIdentifier = "Identifier"
)

// Span is a source range. Lines are 1-based, columns 0-based byte offsets.
type Span struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// Fingerprint identifies one source file's content.
type Fingerprint struct {
	Path     string
	Hash     string
	Language string
}

// Key returns the file key. Paths compare case-insensitively.
func (f Fingerprint) Key() string {
	return FileKey(f.Path)
}

type TypeDeclaration struct {
	Key           string
	Name          string
	Kind          string
	Access        string
	Modifiers     []string
	FullName      string
	Namespace     string
	ParentTypeKey string
	Span          Span
	// TypeParameters are the generic parameter names, in declaration order.
	TypeParameters []string
}

type TypeInheritance struct {
	TypeKey  string
	BaseName string
	Relation string
	Ordinal  int
}

type TypeMember struct {
	Key      string
	TypeKey  string
	TypeName string // full name of the owning type
	Name     string
	Kind     string
	DataType string
	IsStatic bool
	Line     int
	// TypeParameters are a generic method's own parameters. DataType may
	// name these or those of the owning type.
	TypeParameters []string
}

type MethodDeclaration struct {
	Key             string
	Name            string
	ReturnType      string
	Parameters      string
	ParameterCount  int
	Access          string
	Modifiers       []string
	Kind            string
	ParentMethodKey string
	TypeKey         string
	Span            Span
}

type LineFact struct {
	Line       int
	Text       string
	MethodKey  string
	BlockDepth int
	UsageCount int
}

type VariableDeclaration struct {
	Key       string
	MethodKey string
	Name      string
	Kind      string
	TypeName  string
	Line      int
}

type LineVariableUsage struct {
	Line        int
	VariableKey string
}

type Invocation struct {
	Key        string
	MethodKey  string
	Line       int
	Expression string
	TargetName string
}

type SymbolReference struct {
	Key           string
	Line          int
	MethodKey     string
	Name          string
	Kind          string
	ContainerType string
	SymbolType    string
}

// FileFacts is every fact extracted from one file. All records are owned by
// the file's fingerprint.
type FileFacts struct {
	File         Fingerprint
	Types        []TypeDeclaration
	Inheritances []TypeInheritance
	Members      []TypeMember
	Methods      []MethodDeclaration
	Lines        []LineFact
	Variables    []VariableDeclaration
	Usages       []LineVariableUsage
	Invocations  []Invocation
	References   []SymbolReference
}

// EntityCount is the number of fact rows the bundle will persist, the file
// row included.
func (f *FileFacts) EntityCount() int {
	return 1 + len(f.Types) + len(f.Inheritances) + len(f.Members) + len(f.Methods) +
		len(f.Lines) + len(f.Variables) + len(f.Usages) + len(f.Invocations) + len(f.References)
}
