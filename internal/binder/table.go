// Package binder classifies the reference sites of an extraction into coarse
// symbol kinds and resolves their container and value types against a
// cross-file symbol table.
package binder

import (
	"slices"
	"sort"
	"strings"

	"github.com/jward/codefacts/internal/facts"
)

// TypeInfo is everything the table knows about one declared type. Partial
// declarations with the same full name merge into one entry.
type TypeInfo struct {
	Key       string
	Name      string
	FullName  string
	Namespace string
	Kind      string
	ValueType bool
	Bases     []facts.TypeInheritance
	Members   map[string][]facts.TypeMember
	// TypeParameters of the generic declaration, empty otherwise.
	TypeParameters []string
}

// SymbolTable is the immutable cross-file view of declared types. It is
// built once per scan and shared by concurrent binders.
type SymbolTable struct {
	byFull   map[string]*TypeInfo
	bySimple map[string][]*TypeInfo
	byKey    map[string]*TypeInfo
}

// NewSymbolTable indexes the types, base lists and members of the given
// bundles. Bundles may be partial; only Types, Inheritances and Members are
// read.
func NewSymbolTable(bundles ...*facts.FileFacts) *SymbolTable {
	t := &SymbolTable{
		byFull:   make(map[string]*TypeInfo),
		bySimple: make(map[string][]*TypeInfo),
		byKey:    make(map[string]*TypeInfo),
	}
	for _, ff := range bundles {
		for _, td := range ff.Types {
			ti, ok := t.byFull[td.FullName]
			if !ok {
				ti = &TypeInfo{
					Key:       td.Key,
					Name:      td.Name,
					FullName:  td.FullName,
					Namespace: td.Namespace,
					Kind:      td.Kind,
					ValueType: td.Kind == facts.KindStruct || (td.Kind == facts.KindRecord && slices.Contains(td.Modifiers, "struct")),
					Members:   make(map[string][]facts.TypeMember),
				}
				t.byFull[td.FullName] = ti
				t.bySimple[td.Name] = append(t.bySimple[td.Name], ti)
			}
			if len(ti.TypeParameters) == 0 {
				ti.TypeParameters = td.TypeParameters
			}
			t.byKey[td.Key] = ti
		}
	}
	for _, ff := range bundles {
		for _, inh := range ff.Inheritances {
			if ti := t.byKey[inh.TypeKey]; ti != nil {
				ti.Bases = append(ti.Bases, inh)
			}
		}
		for _, m := range ff.Members {
			ti := t.byKey[m.TypeKey]
			if ti == nil {
				ti = t.byFull[m.TypeName]
			}
			if ti != nil {
				ti.Members[m.Name] = append(ti.Members[m.Name], m)
			}
		}
	}
	for _, list := range t.bySimple {
		sort.Slice(list, func(i, j int) bool { return list[i].FullName < list[j].FullName })
	}
	return t
}

// Len is the number of distinct declared types.
func (t *SymbolTable) Len() int { return len(t.byFull) }

// ByFullName returns the type with the exact full name.
func (t *SymbolTable) ByFullName(full string) *TypeInfo { return t.byFull[full] }

// ByKey returns the type declared under key.
func (t *SymbolTable) ByKey(key string) *TypeInfo { return t.byKey[key] }

// normalizeTypeName strips generic arguments, nullable markers, array ranks
// and the global alias from a type as written.
func normalizeTypeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "global::")
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	return strings.TrimRight(name, "?[], ")
}

// Lookup resolves a type name as written from the context of the type from,
// which may be nil. Nested types of from and its outer types win, then the
// enclosing namespaces, then any unique-ish match by simple name.
func (t *SymbolTable) Lookup(name string, from *TypeInfo) *TypeInfo {
	name = normalizeTypeName(name)
	if name == "" {
		return nil
	}
	if strings.Contains(name, ".") {
		if ti := t.byFull[name]; ti != nil {
			return ti
		}
		simple := name[strings.LastIndexByte(name, '.')+1:]
		for _, ti := range t.bySimple[simple] {
			if strings.HasSuffix(ti.FullName, "."+name) {
				return ti
			}
		}
		return nil
	}

	candidates := t.bySimple[name]
	if len(candidates) == 0 {
		return nil
	}
	if from != nil {
		for scope := from.FullName; scope != ""; scope = parentName(scope) {
			if ti := t.byFull[scope+"."+name]; ti != nil {
				return ti
			}
		}
		for ns := from.Namespace; ns != ""; ns = parentName(ns) {
			if ti := t.byFull[ns+"."+name]; ti != nil {
				return ti
			}
		}
	}
	if ti := t.byFull[name]; ti != nil {
		return ti
	}
	return candidates[0]
}

func parentName(full string) string {
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		return full[:i]
	}
	return ""
}

// FindMember looks name up on ti and then through its bases. It returns the
// member and the type that declares it.
func (t *SymbolTable) FindMember(ti *TypeInfo, name string) (*facts.TypeMember, *TypeInfo) {
	return t.findMember(ti, name, make(map[string]bool))
}

func (t *SymbolTable) findMember(ti *TypeInfo, name string, seen map[string]bool) (*facts.TypeMember, *TypeInfo) {
	if ti == nil || seen[ti.FullName] {
		return nil, nil
	}
	seen[ti.FullName] = true
	if ms := ti.Members[name]; len(ms) > 0 {
		return &ms[0], ti
	}
	for _, b := range ti.Bases {
		if m, owner := t.findMember(t.Lookup(b.BaseName, ti), name, seen); m != nil {
			return m, owner
		}
	}
	return nil, nil
}

// BaseClass returns the resolved base class of ti, if declared.
func (t *SymbolTable) BaseClass(ti *TypeInfo) *TypeInfo {
	if ti == nil {
		return nil
	}
	for _, b := range ti.Bases {
		if b.Relation == facts.RelationBaseType {
			return t.Lookup(b.BaseName, ti)
		}
	}
	return nil
}

// RefineInheritance reclassifies class and record base-list entries whose
// base resolves to a declared type. Unresolved entries keep the naming
// heuristic applied at extraction. The input is not modified.
func RefineInheritance(t *SymbolTable, ff *facts.FileFacts) []facts.TypeInheritance {
	out := make([]facts.TypeInheritance, len(ff.Inheritances))
	copy(out, ff.Inheritances)
	for i, inh := range out {
		if inh.Relation == facts.RelationBaseInterface {
			continue
		}
		owner := t.ByKey(inh.TypeKey)
		if owner == nil || owner.ValueType || (owner.Kind != facts.KindClass && owner.Kind != facts.KindRecord) {
			continue
		}
		base := t.Lookup(inh.BaseName, owner)
		if base == nil {
			continue
		}
		switch {
		case base.Kind == facts.KindInterface:
			out[i].Relation = facts.RelationInterface
		case inh.Ordinal == 0 && (base.Kind == facts.KindClass || base.Kind == facts.KindRecord):
			out[i].Relation = facts.RelationBaseType
		}
	}
	return out
}
