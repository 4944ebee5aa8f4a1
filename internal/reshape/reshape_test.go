package reshape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
)

func TestMeltRowMajor(t *testing.T) {
	ds := dataset.New([]string{"site", "pine", "oak", "birch"}, [][]any{
		{"S1", 10, 20, nil},
		{"S2", 1, 2, 3},
	})
	out, err := Melt(ds, model.ReshapeSpec{
		IDVars:    []string{"site"},
		ValueVars: []string{"pine", "oak", "birch"},
		VarName:   "taxon",
		ValueName: "count",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"site", "taxon", "count"}, out.Columns)
	assert.Equal(t, 6, out.Len())
	assert.Equal(t, []any{"S1", "pine", 10}, out.Rows[0])
	assert.Equal(t, []any{"S1", "birch", nil}, out.Rows[2])
	assert.Equal(t, []any{"S2", "pine", 1}, out.Rows[3])
}

func TestMeltErrors(t *testing.T) {
	ds := dataset.New([]string{"site", "v"}, nil)

	_, err := Melt(ds, model.ReshapeSpec{VarName: "k", ValueName: "v2"})
	assert.ErrorContains(t, err, "value_vars is empty")

	_, err = Melt(ds, model.ReshapeSpec{ValueVars: []string{"v"}, VarName: "k"})
	assert.ErrorContains(t, err, "var_name and value_name are required")

	_, err = Melt(ds, model.ReshapeSpec{ValueVars: []string{"missing"}, VarName: "k", ValueName: "x"})
	assert.ErrorContains(t, err, `column "missing" not found`)

	_, err = Melt(ds, model.ReshapeSpec{IDVars: []string{"site", "sitee"}, ValueVars: []string{"v"}, VarName: "k", ValueName: "x"})
	assert.ErrorContains(t, err, `id_vars: column "sitee" not found`)

	_, err = Melt(ds, model.ReshapeSpec{IDVars: []string{"site"}, ValueVars: []string{"v"}, VarName: "site", ValueName: "x"})
	assert.ErrorContains(t, err, `duplicate output column "site"`)
}
