package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapeshifter/internal/model"
)

func codes(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}

func parse(t *testing.T, src string) *model.Project {
	t.Helper()
	p, err := model.Parse([]byte(src))
	require.NoError(t, err)
	return p
}

func TestValidProjectHasNoErrors(t *testing.T) {
	p := parse(t, `
entities:
  site:
    type: data
    keys: [site_code]
    surrogate_id: site_id
    columns: [site_name]
  kind:
    type: fixed
    surrogate_id: kind_id
    columns: [name]
    values: [[a], [b]]
  sample:
    type: entity
    source: site
    columns: [site_code, v1, v2]
    foreign_keys:
      - entity: site
        local_keys: [site_code]
        remote_keys: [site_code]
        extra_columns: {site_label: site_name}
    unnest:
      id_vars: [site_code]
      value_vars: [v1, v2]
      var_name: variable
      value_name: value
`)
	r := Validate(p)
	assert.False(t, r.HasErrors(), "%v", r.Errors())
	assert.NoError(t, r.Err())
}

func TestAllChecksRunWithoutShortCircuit(t *testing.T) {
	p := parse(t, `
entities:
  a:
    type: data
    depends_on: [ghost]
  b:
    type: fixed
    columns: [x, y]
    values: [[1]]
    source: a
  c:
    type: data
    keys: [k]
    foreign_keys:
      - entity: b
        local_keys: [k]
        remote_keys: [x, y]
        how: sideways
        constraints:
          min_match_rate: 1.5
          cardinality: lots
`)
	r := Validate(p)
	got := codes(r.Errors())
	assert.Contains(t, got, CodeUnknownEntity)
	assert.Contains(t, got, CodeRequired) // a: columns/keys, b: surrogate_id
	assert.Contains(t, got, CodeRowArity)
	assert.Contains(t, got, CodeFKShape)
	assert.Contains(t, got, CodeConstraint)
	assert.Contains(t, codes(r.Warnings()), CodeLiteralSource)
	assert.Error(t, r.Err())
}

func TestCycleIsAnError(t *testing.T) {
	p := model.NewProject(
		&model.Entity{Name: "a", Type: model.SourceRoot, Keys: []string{"k"}, DependsOn: []string{"b"}},
		&model.Entity{Name: "b", Type: model.SourceRoot, Keys: []string{"k"}, DependsOn: []string{"c"}},
		&model.Entity{Name: "c", Type: model.SourceRoot, Keys: []string{"k"}, DependsOn: []string{"a"}},
	)
	r := Validate(p)
	require.True(t, r.HasErrors())
	var found *Issue
	for _, i := range r.Errors() {
		if i.Code == CodeCircular {
			i := i
			found = &i
		}
	}
	require.NotNil(t, found)
	assert.Contains(t, found.Message, "a -> b -> c -> a")
}

func TestSurrogateIDs(t *testing.T) {
	p := model.NewProject(
		&model.Entity{Name: "a", Type: model.SourceRoot, Keys: []string{"k"}, SurrogateID: "row_id"},
		&model.Entity{Name: "b", Type: model.SourceRoot, Keys: []string{"k"}, SurrogateID: "row_id"},
		&model.Entity{Name: "c", Type: model.SourceRoot, Keys: []string{"k"}, SurrogateID: "ident"},
	)
	r := Validate(p)
	assert.Equal(t, []string{CodeSurrogateCollision}, codes(r.Errors()))
	assert.Contains(t, codes(r.Warnings()), CodeSurrogateNaming)
}

func TestReshapeShape(t *testing.T) {
	p := model.NewProject(
		&model.Entity{Name: "a", Type: model.SourceRoot, Keys: []string{"k"},
			Unnest: &model.ReshapeSpec{ValueVars: []string{"k"}, IDVars: []string{"k"}}},
		&model.Entity{Name: "b", Type: model.SourceRoot, Keys: []string{"k"},
			Unnest: &model.ReshapeSpec{ValueVars: []string{"v"}, VarName: "var", ValueName: "val"}},
	)
	r := Validate(p)
	var aErrs []string
	for _, i := range r.Errors() {
		if i.Entity == "a" {
			aErrs = append(aErrs, i.Field)
		}
	}
	assert.ElementsMatch(t, []string{"unnest.var_name", "unnest.value_name", "unnest"}, aErrs)
	assert.Contains(t, codes(r.Warnings()), CodeReshapeIDVars)
}

func TestDropDuplicatesBackReference(t *testing.T) {
	p := model.NewProject(
		&model.Entity{Name: "nokeys", Type: model.SourceRoot, Columns: []string{"c"}},
		&model.Entity{Name: "a", Type: model.SourceRoot, Keys: []string{"k"},
			DropDuplicates: &model.DuplicateRule{KeysOf: "nokeys"}},
	)
	assert.Contains(t, codes(Validate(p).Errors()), CodeDropDuplicates)
}

func TestFilters(t *testing.T) {
	p := model.NewProject(
		&model.Entity{Name: "a", Type: model.SourceRoot, Keys: []string{"k"},
			Filters: []model.FilterSpec{{Type: "exists_in", Params: map[string]any{"column": "k"}}, {Type: "regex"}}},
	)
	r := Validate(p)
	var fields []string
	for _, i := range r.Errors() {
		if i.Code == CodeFilter {
			fields = append(fields, i.Field)
		}
	}
	assert.Equal(t, []string{"filters[0].other_entity", "filters[1].type"}, fields)

	assert.False(t, New("exists_in", "regex").Validate(model.NewProject(
		&model.Entity{Name: "a", Type: model.SourceRoot, Keys: []string{"k"},
			Filters: []model.FilterSpec{{Type: "regex"}}},
	)).HasErrors())
}

func TestAppendFragmentsInheritParent(t *testing.T) {
	p := parse(t, `
entities:
  a:
    type: data
    keys: [k]
    columns: [k, v]
    append_mode: distinct
    append:
      - type: fixed
        values: [[1, 2]]
      - type: fixed
        values: [[1]]
`)
	r := Validate(p)
	errs := r.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "append[1].values[0]", errs[0].Field)
	assert.Equal(t, CodeRowArity, errs[0].Code)
}

func TestMaterializedEntityShape(t *testing.T) {
	e := &model.Entity{Name: "a", Type: model.SourceRoot, Keys: []string{"k"},
		Materialized: &model.MaterializationRecord{Enabled: true, Storage: model.StorageCSV}}
	r := Validate(model.NewProject(e))
	var fields []string
	for _, i := range r.Errors() {
		fields = append(fields, i.Field)
	}
	assert.ElementsMatch(t, []string{"materialized.source_state", "type", "materialized.data_location"}, fields)
}

func TestSQLEntity(t *testing.T) {
	p := model.NewProject(&model.Entity{Name: "q", Type: model.SourceQuery, DataSource: "db", Columns: []string{"a"}})
	r := Validate(p)
	assert.Equal(t, []string{CodeRequired}, codes(r.Errors()))
	assert.Equal(t, []string{CodeDataSource}, codes(r.Warnings()))
}
