package main

import (
	"github.com/jward/codefacts"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
	// ErrorKind is "rejected" or "limit" when Error comes from the query
	// guard or a query limit.
	ErrorKind string `json:"error_kind,omitempty"`
}

// CLIScanSummary is a JSON-friendly scan summary.
type CLIScanSummary struct {
	ScanID      string `json:"scan_id"`
	Root        string `json:"root"`
	Store       string `json:"store"`
	Discovered  int    `json:"discovered"`
	Extracted   int    `json:"extracted"`
	Unchanged   int    `json:"unchanged"`
	Removed     int    `json:"removed"`
	Entities    int    `json:"entities"`
	FullRebuild bool   `json:"full_rebuild"`
	ElapsedMS   int64  `json:"elapsed_ms"`
}

// CLIQueryResult holds query rows in column order.
type CLIQueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

// CLIValidation is the outcome of validating one statement.
type CLIValidation struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// CLILimit names an exceeded query limit.
type CLILimit struct {
	Limit string `json:"limit"`
	Value int64  `json:"value"`
}

// CLIView is one public view.
type CLIView struct {
	Name    string          `json:"name"`
	Columns []CLIViewColumn `json:"columns"`
}

type CLIViewColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CLIType is a JSON-friendly type declaration.
type CLIType struct {
	FullName    string   `json:"full_name"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Access      string   `json:"access"`
	Modifiers   []string `json:"modifiers,omitempty"`
	Namespace   string   `json:"namespace,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	File        string   `json:"file"`
	StartLine   int      `json:"start_line"`
	EndLine     int      `json:"end_line"`
	MethodCount int      `json:"method_count"`
}

// CLITypeRelation is one edge of a type hierarchy.
type CLITypeRelation struct {
	Name     string   `json:"name"`
	Relation string   `json:"relation"`
	Ordinal  int      `json:"ordinal"`
	Type     *CLIType `json:"type,omitempty"`
}

// CLIMember is a field, property, event or enum member.
type CLIMember struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	DataType string `json:"data_type,omitempty"`
	Static   bool   `json:"static,omitempty"`
	Line     int    `json:"line"`
}

// CLITypeHierarchy is a JSON-friendly type hierarchy.
type CLITypeHierarchy struct {
	Type    CLIType           `json:"type"`
	Bases   []CLITypeRelation `json:"bases"`
	Derived []CLITypeRelation `json:"derived"`
	Members []CLIMember       `json:"members"`
}

// CLIMethod is one executable unit.
type CLIMethod struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	TypeName   string `json:"type_name,omitempty"`
	ReturnType string `json:"return_type,omitempty"`
	Parameters string `json:"parameters,omitempty"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
}

type CLILineVariable struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type CLIReference struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	ContainerType string `json:"container_type,omitempty"`
	SymbolType    string `json:"symbol_type,omitempty"`
}

// CLILineDetail bundles the facts of one line.
type CLILineDetail struct {
	File       string            `json:"file"`
	Line       int               `json:"line"`
	Text       string            `json:"text"`
	BlockDepth int               `json:"block_depth"`
	Owners     []CLIMethod       `json:"owners"`
	Variables  []CLILineVariable `json:"variables"`
	References []CLIReference    `json:"references"`
}

// CLICallGraph is a JSON-friendly name-level call graph.
type CLICallGraph struct {
	Root     string             `json:"root"`
	Nodes    []CLICallGraphNode `json:"nodes"`
	Edges    []CLICallGraphEdge `json:"edges"`
	MaxDepth int                `json:"max_depth"`
}

type CLICallGraphNode struct {
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
	Declared bool   `json:"declared"`
}

type CLICallGraphEdge struct {
	Caller     string `json:"caller"`
	Callee     string `json:"callee"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Expression string `json:"expression"`
}

// CLIProjectSummary is a JSON-friendly project summary.
type CLIProjectSummary struct {
	FileCount   int            `json:"file_count"`
	LineCount   int            `json:"line_count"`
	MethodCount int            `json:"method_count"`
	KindCounts  map[string]int `json:"kind_counts"`
	TopTypes    []CLIType      `json:"top_types"`
}

// CLIScriptReport is the outcome of a script run.
type CLIScriptReport struct {
	Script string `json:"script"`
	Value  any    `json:"value,omitempty"`
	Rows   []any  `json:"rows"`
}

// --- Converters ---

func scanSummaryToCLI(s *codefacts.ScanSummary) CLIScanSummary {
	return CLIScanSummary{
		ScanID:      s.ScanID,
		Root:        s.Root,
		Store:       s.StorePath,
		Discovered:  s.Discovered,
		Extracted:   s.Extracted,
		Unchanged:   s.Unchanged,
		Removed:     s.Removed,
		Entities:    s.EntityCount,
		FullRebuild: s.FullRebuild,
		ElapsedMS:   s.Elapsed.Milliseconds(),
	}
}

func queryResultToCLI(r *codefacts.QueryResult) CLIQueryResult {
	return CLIQueryResult{
		Columns:   r.Columns,
		Rows:      r.Rows,
		Truncated: r.Truncated,
		ElapsedMS: r.Elapsed.Milliseconds(),
	}
}

func viewsToCLI(views []codefacts.View) []CLIView {
	out := make([]CLIView, len(views))
	for i, v := range views {
		cols := make([]CLIViewColumn, len(v.Columns))
		for j, c := range v.Columns {
			cols[j] = CLIViewColumn{Name: c.Name, Type: c.Type}
		}
		out[i] = CLIView{Name: v.Name, Columns: cols}
	}
	return out
}

func typeToCLI(t codefacts.TypeResult) CLIType {
	return CLIType{
		FullName:    t.FullName,
		Name:        t.Name,
		Kind:        t.Kind,
		Access:      t.Access,
		Modifiers:   t.Modifiers,
		Namespace:   t.Namespace,
		Parent:      t.ParentName,
		File:        t.Path,
		StartLine:   t.StartLine,
		EndLine:     t.EndLine,
		MethodCount: t.MethodCount,
	}
}

func typesToCLI(types []codefacts.TypeResult) []CLIType {
	out := make([]CLIType, len(types))
	for i, t := range types {
		out[i] = typeToCLI(t)
	}
	return out
}

func relationsToCLI(rels []codefacts.TypeRelation) []CLITypeRelation {
	out := make([]CLITypeRelation, len(rels))
	for i, r := range rels {
		out[i] = CLITypeRelation{Name: r.Name, Relation: r.Relation, Ordinal: r.Ordinal}
		if r.Type != nil {
			t := typeToCLI(*r.Type)
			out[i].Type = &t
		}
	}
	return out
}

func hierarchyToCLI(h *codefacts.TypeHierarchy) CLITypeHierarchy {
	members := make([]CLIMember, len(h.Members))
	for i, m := range h.Members {
		members[i] = CLIMember{Name: m.Name, Kind: m.Kind, DataType: m.DataType, Static: m.Static, Line: m.Line}
	}
	return CLITypeHierarchy{
		Type:    typeToCLI(h.Type),
		Bases:   relationsToCLI(h.Bases),
		Derived: relationsToCLI(h.Derived),
		Members: members,
	}
}

func lineDetailToCLI(d *codefacts.LineDetail) CLILineDetail {
	out := CLILineDetail{
		File:       d.Path,
		Line:       d.Line,
		Text:       d.Text,
		BlockDepth: d.BlockDepth,
		Owners:     make([]CLIMethod, len(d.Owners)),
		Variables:  make([]CLILineVariable, len(d.Variables)),
		References: make([]CLIReference, len(d.References)),
	}
	for i, m := range d.Owners {
		out.Owners[i] = CLIMethod{
			Name:       m.Name,
			Kind:       m.Kind,
			TypeName:   m.TypeName,
			ReturnType: m.ReturnType,
			Parameters: m.Parameters,
			StartLine:  m.StartLine,
			EndLine:    m.EndLine,
		}
	}
	for i, v := range d.Variables {
		out.Variables[i] = CLILineVariable{Name: v.Name, Kind: v.Kind}
	}
	for i, r := range d.References {
		out.References[i] = CLIReference{Name: r.Name, Kind: r.Kind, ContainerType: r.ContainerType, SymbolType: r.SymbolType}
	}
	return out
}

func callGraphToCLI(g *codefacts.CallGraph, maxDepth int) CLICallGraph {
	out := CLICallGraph{
		Root:     g.Root,
		Nodes:    make([]CLICallGraphNode, len(g.Nodes)),
		Edges:    make([]CLICallGraphEdge, len(g.Edges)),
		MaxDepth: maxDepth,
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = CLICallGraphNode{Name: n.Name, Depth: n.Depth, Declared: n.Declared}
	}
	for i, e := range g.Edges {
		out.Edges[i] = CLICallGraphEdge{Caller: e.Caller, Callee: e.Callee, File: e.Path, Line: e.Line, Expression: e.Expression}
	}
	return out
}

func summaryToCLI(s *codefacts.ProjectSummary) CLIProjectSummary {
	return CLIProjectSummary{
		FileCount:   s.FileCount,
		LineCount:   s.LineCount,
		MethodCount: s.MethodCount,
		KindCounts:  s.KindCounts,
		TopTypes:    typesToCLI(s.TopTypes),
	}
}
