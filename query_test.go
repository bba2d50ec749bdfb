package codefacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zooSource = `namespace Zoo
{
    public interface IAnimal
    {
        string Speak();
    }

    public abstract class Animal : IAnimal
    {
        public string Name { get; set; }
        public abstract string Speak();
    }

    public sealed class Dog : Animal
    {
        public override string Speak()
        {
            return Bark();
        }

        private string Bark()
        {
            var sound = "woof";
            return sound.ToUpper();
        }
    }
}
`

func newZooEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	writeSource(t, root, "Zoo.cs", zooSource)
	e := newTestEngine(t)
	_, err := e.Scan(context.Background(), root, ScanOptions{})
	require.NoError(t, err)
	return e
}

func typeNames(items []TypeResult) []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names
}

func TestQueryBuilder_Types(t *testing.T) {
	t.Parallel()
	q := newZooEngine(t).Lookup()
	ctx := context.Background()

	classes, err := q.Types(ctx, TypeFilter{Kinds: []string{"Class"}}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 2, classes.TotalCount)
	assert.Equal(t, []string{"Animal", "Dog"}, typeNames(classes.Items))

	sealed, err := q.Types(ctx, TypeFilter{Modifiers: []string{"sealed"}}, Sort{}, Pagination{})
	require.NoError(t, err)
	require.Len(t, sealed.Items, 1)
	assert.Equal(t, "Zoo.Dog", sealed.Items[0].FullName)
	assert.Equal(t, []string{"sealed"}, sealed.Items[0].Modifiers)
	assert.Equal(t, "Zoo", sealed.Items[0].Namespace)

	page, err := q.Types(ctx, TypeFilter{}, Sort{Field: SortByName}, Pagination{Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, []string{"Dog"}, typeNames(page.Items))

	prefix := "Other/"
	none, err := q.Types(ctx, TypeFilter{PathPrefix: &prefix}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Empty(t, none.Items)
}

func TestQueryBuilder_SearchTypes(t *testing.T) {
	t.Parallel()
	q := newZooEngine(t).Lookup()
	ctx := context.Background()

	res, err := q.SearchTypes(ctx, "*Animal", TypeFilter{}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Animal", "IAnimal"}, typeNames(res.Items))

	res, err = q.SearchTypes(ctx, "Zoo.D*", TypeFilter{}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dog"}, typeNames(res.Items))

	res, err = q.SearchTypes(ctx, "D_g", TypeFilter{}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Empty(t, res.Items, "LIKE wildcards in the pattern are literal")
}

func TestQueryBuilder_TypeHierarchy(t *testing.T) {
	t.Parallel()
	q := newZooEngine(t).Lookup()
	ctx := context.Background()

	h, err := q.TypeHierarchy(ctx, "Zoo.Animal")
	require.NoError(t, err)
	require.NotNil(t, h)

	require.Len(t, h.Bases, 1)
	assert.Equal(t, "IAnimal", h.Bases[0].Name)
	assert.Equal(t, "Interface", h.Bases[0].Relation)
	require.NotNil(t, h.Bases[0].Type)
	assert.Equal(t, "Zoo.IAnimal", h.Bases[0].Type.FullName)

	require.Len(t, h.Derived, 1)
	assert.Equal(t, "Zoo.Dog", h.Derived[0].Name)
	assert.Equal(t, "BaseType", h.Derived[0].Relation)

	var members []string
	for _, m := range h.Members {
		members = append(members, m.Name)
	}
	assert.Contains(t, members, "Name")

	missing, err := q.TypeHierarchy(ctx, "Zoo.Cat")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQueryBuilder_LineDetail(t *testing.T) {
	t.Parallel()
	q := newZooEngine(t).Lookup()
	ctx := context.Background()

	d, err := q.LineDetail(ctx, "Zoo.cs", 24)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "            return sound.ToUpper();", d.Text)
	require.Len(t, d.Owners, 1)
	assert.Equal(t, "Bark", d.Owners[0].Name)
	assert.Equal(t, "Zoo.Dog", d.Owners[0].TypeName)
	require.Len(t, d.Variables, 1)
	assert.Equal(t, "sound", d.Variables[0].Name)
	assert.Equal(t, d.Owners[0].Key, d.Variables[0].DeclaringMethodKey)

	outside, err := q.LineDetail(ctx, "Zoo.cs", 1)
	require.NoError(t, err)
	require.NotNil(t, outside)
	assert.Empty(t, outside.Owners)

	missing, err := q.LineDetail(ctx, "Zoo.cs", 500)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQueryBuilder_CallGraph(t *testing.T) {
	t.Parallel()
	q := newZooEngine(t).Lookup()
	ctx := context.Background()

	callers, err := q.Callers(ctx, "Bark")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "Speak", callers[0].Caller)
	assert.Equal(t, 18, callers[0].Line)

	g, err := q.TransitiveCallees(ctx, "Speak", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Depth)
	assert.Equal(t, []CallGraphNode{
		{Name: "Speak", Depth: 0, Declared: true},
		{Name: "Bark", Depth: 1, Declared: true},
		{Name: "ToUpper", Depth: 2, Declared: false},
	}, g.Nodes)

	_, err = q.TransitiveCallers(ctx, "Bark", -1)
	assert.Error(t, err)
}

func TestQueryBuilder_ProjectSummary(t *testing.T) {
	t.Parallel()
	q := newZooEngine(t).Lookup()

	s, err := q.ProjectSummary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.FileCount)
	assert.Equal(t, 27, s.LineCount)
	assert.Equal(t, map[string]int{"Class": 2, "Interface": 1}, s.KindCounts)
	assert.Len(t, s.TopTypes, 1)
	assert.GreaterOrEqual(t, s.MethodCount, 4)
}
