package codefacts

import (
	"context"
	"fmt"
	"sort"
)

// CallGraph is a name-level call graph rooted at a method name. Invocation
// facts record only the target's final name segment, so nodes are method
// names rather than declarations; overloads and same-named methods on
// different types share a node.
type CallGraph struct {
	Root  string
	Nodes []CallGraphNode
	Edges []CallGraphEdge
	Depth int // max depth reached (may be < maxDepth if the graph is shallow)
}

// CallGraphNode is a method name with its BFS distance from the root.
type CallGraphNode struct {
	Name     string
	Depth    int
	Declared bool // a method with this name is indexed
}

// CallGraphEdge is one invocation from Caller to Callee.
type CallGraphEdge struct {
	Caller     string
	Callee     string
	Path       string
	Line       int
	Expression string
}

// maxGraphDepth caps traversal depth.
const maxGraphDepth = 100

// callGraphData holds bulk-loaded adjacency keyed by method name.
type callGraphData struct {
	byCaller map[string][]CallGraphEdge
	byCallee map[string][]CallGraphEdge
	declared map[string]bool
}

// buildCallGraph loads every invocation once. Calls made inside lambdas,
// anonymous methods and local functions are attributed to the outermost
// enclosing member.
func (q *QueryBuilder) buildCallGraph(ctx context.Context) (*callGraphData, error) {
	db, err := q.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		WITH RECURSIVE owner(method_key, root_key) AS (
			SELECT method_key, method_key FROM methods WHERE parent_method_key IS NULL
			UNION ALL
			SELECT m.method_key, o.root_key FROM methods m JOIN owner o ON m.parent_method_key = o.method_key
		)
		SELECT r.name, i.target_name, i.path, i.line, i.expression
		FROM invocations i
		JOIN owner o ON o.method_key = i.method_key
		JOIN methods r ON r.method_key = o.root_key
		ORDER BY i.path, i.line, i.invocation_key`)
	if err != nil {
		return nil, fmt.Errorf("load invocations: %w", err)
	}
	defer rows.Close()

	data := &callGraphData{
		byCaller: make(map[string][]CallGraphEdge),
		byCallee: make(map[string][]CallGraphEdge),
		declared: make(map[string]bool),
	}
	for rows.Next() {
		var e CallGraphEdge
		if err := rows.Scan(&e.Caller, &e.Callee, &e.Path, &e.Line, &e.Expression); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		data.byCaller[e.Caller] = append(data.byCaller[e.Caller], e)
		data.byCallee[e.Callee] = append(data.byCallee[e.Callee], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("invocation rows: %w", err)
	}

	names, err := db.QueryContext(ctx, `SELECT DISTINCT name FROM methods`)
	if err != nil {
		return nil, fmt.Errorf("load method names: %w", err)
	}
	defer names.Close()
	for names.Next() {
		var n string
		if err := names.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan method name: %w", err)
		}
		data.declared[n] = true
	}
	return data, names.Err()
}

// Callers returns every invocation of a method name, in file and line order.
func (q *QueryBuilder) Callers(ctx context.Context, name string) ([]CallGraphEdge, error) {
	g, err := q.TransitiveCallers(ctx, name, 1)
	if err != nil || g == nil {
		return nil, err
	}
	return g.Edges, nil
}

// TransitiveCallers walks callers of name breadth-first up to maxDepth.
// maxDepth of 0 returns only the root node. Capped at 100.
func (q *QueryBuilder) TransitiveCallers(ctx context.Context, name string, maxDepth int) (*CallGraph, error) {
	g, err := q.walk(ctx, name, maxDepth, true)
	if err != nil {
		return nil, fmt.Errorf("transitive callers: %w", err)
	}
	return g, nil
}

// TransitiveCallees walks what name calls breadth-first up to maxDepth.
// maxDepth of 0 returns only the root node. Capped at 100.
func (q *QueryBuilder) TransitiveCallees(ctx context.Context, name string, maxDepth int) (*CallGraph, error) {
	g, err := q.walk(ctx, name, maxDepth, false)
	if err != nil {
		return nil, fmt.Errorf("transitive callees: %w", err)
	}
	return g, nil
}

func (q *QueryBuilder) walk(ctx context.Context, root string, maxDepth int, reverse bool) (*CallGraph, error) {
	if maxDepth < 0 {
		return nil, fmt.Errorf("maxDepth must be non-negative, got %d", maxDepth)
	}
	maxDepth = min(maxDepth, maxGraphDepth)

	data, err := q.buildCallGraph(ctx)
	if err != nil {
		return nil, err
	}
	result := &CallGraph{Root: root, Edges: []CallGraphEdge{}}

	visited := map[string]int{root: 0}
	queue := []string{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		depth := visited[current]
		if depth >= maxDepth {
			continue
		}

		edges := data.byCaller[current]
		if reverse {
			edges = data.byCallee[current]
		}
		for _, e := range edges {
			result.Edges = append(result.Edges, e)
			next := e.Callee
			if reverse {
				next = e.Caller
			}
			if _, seen := visited[next]; !seen {
				visited[next] = depth + 1
				result.Depth = max(result.Depth, depth+1)
				queue = append(queue, next)
			}
		}
	}

	for name, depth := range visited {
		result.Nodes = append(result.Nodes, CallGraphNode{Name: name, Depth: depth, Declared: data.declared[name]})
	}
	sort.Slice(result.Nodes, func(i, j int) bool {
		if result.Nodes[i].Depth != result.Nodes[j].Depth {
			return result.Nodes[i].Depth < result.Nodes[j].Depth
		}
		return result.Nodes[i].Name < result.Nodes[j].Name
	})
	return result, nil
}
