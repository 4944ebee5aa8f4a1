package resolve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapeshifter/internal/model"
)

func ent(name string, deps ...string) *model.Entity {
	return &model.Entity{Name: name, Type: model.SourceRoot, Keys: []string{"k"}, DependsOn: deps}
}

func position(order []string) map[string]int {
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	return pos
}

func TestOrderDependenciesFirst(t *testing.T) {
	p := model.NewProject(
		ent("sample", "site", "method"),
		ent("site", "project"),
		ent("method"),
		ent("project"),
		&model.Entity{Name: "analysis", Type: model.SourceEntity, SourceEntity: "sample",
			ForeignKeys: []model.ForeignKeyLink{{Entity: "method"}}},
	)
	order, err := Order(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"project", "site", "method", "sample", "analysis"}, order)

	pos := position(order)
	for _, name := range p.Order {
		for _, a := range Ancestors(p, name) {
			assert.Less(t, pos[a], pos[name], "%s must come before %s", a, name)
		}
	}
}

func TestOrderIsDeterministic(t *testing.T) {
	build := func() *model.Project {
		return model.NewProject(ent("c", "a"), ent("b"), ent("a"), ent("d", "c", "b"))
	}
	first, err := Order(build())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Order(build())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCycleReportsPath(t *testing.T) {
	p := model.NewProject(ent("a", "b"), ent("b", "c"), ent("c", "a"))
	_, err := Order(p)
	require.Error(t, err)

	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"a", "b", "c", "a"}, ce.Cycle)
	assert.Equal(t, "circular dependency: a -> b -> c -> a", err.Error())
}

func TestSelfReferenceIsCycle(t *testing.T) {
	_, err := Order(model.NewProject(ent("a", "a")))
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"a", "a"}, ce.Cycle)
}

func TestUnknownReferencesAreSkipped(t *testing.T) {
	order, err := Order(model.NewProject(ent("a", "ghost")))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, order)
}

func TestOrderForClosure(t *testing.T) {
	p := model.NewProject(ent("a"), ent("b", "a"), ent("c"), ent("d", "b"))
	order, err := OrderFor(p, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d"}, order)

	_, err = OrderFor(p, "zzz")
	assert.Error(t, err)
}

func TestAncestorsAndDependents(t *testing.T) {
	p := model.NewProject(ent("a"), ent("b", "a"), ent("c", "b"), ent("x"))
	assert.Equal(t, []string{"a", "b"}, Ancestors(p, "c"))
	assert.Equal(t, []string{"b", "c"}, Dependents(p, "a"))
	assert.Empty(t, Dependents(p, "x"))
}
