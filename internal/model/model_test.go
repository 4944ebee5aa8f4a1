package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProject = `options:
    data_sources:
        arbodat:
            driver: postgres
            host: localhost
            database: arbodat
entities:
    site:
        type: data
        keys:
            - site_code
        surrogate_id: site_id
        columns:
            - site_name
            - lat
    location_type:
        type: fixed
        surrogate_id: location_type_id
        columns:
            - name
        values:
            - - country
            - - region
    sample:
        type: entity
        source: site
        keys:
            - sample_code
        columns:
            - site_code
            - sample_code
        drop_duplicates: true
        foreign_keys:
            - entity: site
              local_keys:
                - site_code
              remote_keys:
                - site_code
              how: left
              constraints:
                cardinality: many_to_one
                min_match_rate: 0.9
        append:
            - type: fixed
              columns:
                - site_code
                - sample_code
              values:
                - - S1
                  - X1
`

func TestParseKeepsDeclarationOrder(t *testing.T) {
	p, err := Parse([]byte(sampleProject))
	require.NoError(t, err)

	assert.Equal(t, []string{"site", "location_type", "sample"}, p.Order)
	sample, ok := p.Entity("sample")
	require.True(t, ok)
	assert.Equal(t, "sample", sample.Name)
	assert.Equal(t, "sample.append[0]", sample.Append[0].Name)
	assert.Equal(t, JoinLeft, sample.ForeignKeys[0].JoinKind())
	assert.Equal(t, ManyToOne, sample.ForeignKeys[0].Constraints.Cardinality)
	assert.InDelta(t, 0.9, *sample.ForeignKeys[0].Constraints.MinMatchRate, 1e-9)
	assert.True(t, sample.DropDuplicates.All)
	assert.Equal(t, "postgres", p.Options.DataSources["arbodat"].Driver)
}

func TestMarshalRoundTripIsStable(t *testing.T) {
	p, err := Parse([]byte(sampleProject))
	require.NoError(t, err)
	first, err := Marshal(p)
	require.NoError(t, err)

	again, err := Parse(first)
	require.NoError(t, err)
	second, err := Marshal(again)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), "min_match_rate: 0.9")
}

func TestDuplicateEntityIsRejected(t *testing.T) {
	_, err := Parse([]byte(`
entities:
  a: {type: data, keys: [k]}
  a: {type: data, keys: [k]}
`))
	require.Error(t, err)
}

func TestSourceVariants(t *testing.T) {
	cases := []struct {
		name   string
		entity Entity
		want   SourceKind
	}{
		{"root", Entity{Type: SourceRoot, Keys: []string{"k"}, Columns: []string{"a", "k"}}, SourceRoot},
		{"entity", Entity{Type: SourceEntity, SourceEntity: "parent", Columns: []string{"a"}}, SourceEntity},
		{"fixed", Entity{Type: SourceLiteral, Columns: []string{"a"}, Values: [][]any{{1}}}, SourceLiteral},
		{"sql", Entity{Type: SourceQuery, DataSource: "db", Query: "select 1", Columns: []string{"a"}}, SourceQuery},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src, err := tc.entity.Source()
			require.NoError(t, err)
			assert.Equal(t, tc.want, src.Kind())
		})
	}

	root, _ := (&Entity{Type: SourceRoot, Keys: []string{"k"}, Columns: []string{"a", "k"}}).Source()
	assert.Equal(t, []string{"k", "a"}, root.(RootSource).Columns)

	_, err := (&Entity{Name: "x", Type: SourceEntity}).Source()
	assert.Error(t, err)
	_, err = (&Entity{Name: "x"}).Source()
	assert.Error(t, err)
	_, err = (&Entity{Name: "x", Type: "excel"}).Source()
	assert.Error(t, err)
}

func TestDependenciesInDeclarationOrder(t *testing.T) {
	e := &Entity{
		Name:         "sample",
		DependsOn:    []string{"project"},
		SourceEntity: "site",
		ForeignKeys:  []ForeignKeyLink{{Entity: "site"}, {Entity: "method"}},
		Append:       []*Entity{{SourceEntity: "legacy"}},
		Filters: []FilterSpec{{
			Type:   "exists_in",
			Params: map[string]any{"column": "c", "other_entity": "whitelist"},
		}},
		DropDuplicates: &DuplicateRule{KeysOf: "taxon"},
	}
	assert.Equal(t, []string{"project", "site", "method", "legacy", "whitelist", "taxon"}, e.Dependencies())
}

func TestSelectorsDecode(t *testing.T) {
	p, err := Parse([]byte(`
entities:
  a:
    type: data
    keys: [k]
    drop_empty_rows: [x, y]
    drop_duplicates: other
  b:
    type: data
    keys: [k]
    drop_empty_rows: true
    drop_duplicates: [k]
`))
	require.NoError(t, err)
	a, _ := p.Entity("a")
	b, _ := p.Entity("b")
	assert.Equal(t, []string{"x", "y"}, a.DropEmptyRows.Columns)
	assert.Equal(t, "other", a.DropDuplicates.KeysOf)
	assert.True(t, b.DropEmptyRows.All)
	assert.Equal(t, []string{"k"}, b.DropDuplicates.Columns)
	assert.True(t, b.DropDuplicates.Enabled())

	var none *DuplicateRule
	assert.False(t, none.Enabled())
}

func TestFragmentInheritsParentFields(t *testing.T) {
	parent := &Entity{
		Name:      "sample",
		Type:      SourceRoot,
		Keys:      []string{"code"},
		Columns:   []string{"code", "name"},
		DependsOn: []string{"site"},
		Append:    []*Entity{{Type: SourceLiteral, Values: [][]any{{"x", "y"}}}},
	}
	f := parent.Fragment(0)
	assert.Equal(t, "sample.append[0]", f.Name)
	assert.Equal(t, SourceLiteral, f.Type)
	assert.Equal(t, []string{"code"}, f.Keys)
	assert.Equal(t, []string{"code", "name"}, f.Columns)
	assert.Equal(t, []string{"site"}, f.DependsOn)
	assert.Empty(t, f.SurrogateID)
	// исходный фрагмент не меняется
	assert.Empty(t, parent.Append[0].Columns)
}

func TestCloneIsDeep(t *testing.T) {
	p, err := Parse([]byte(sampleProject))
	require.NoError(t, err)
	cp, err := p.Clone()
	require.NoError(t, err)

	site, _ := cp.Entity("site")
	site.Columns[0] = "changed"
	orig, _ := p.Entity("site")
	assert.Equal(t, "site_name", orig.Columns[0])

	sample, _ := cp.Entity("sample")
	assert.Equal(t, "sample.append[0]", sample.Append[0].Name)
}

func TestLoadDirMergesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte(`
entities:
  site: {type: data, keys: [site_code]}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(`
options:
  data_sources:
    db: {driver: postgres}
entities:
  sample: {type: entity, source: site, keys: [code]}
`), 0o644))

	p, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"site", "sample"}, p.Order)
	assert.Contains(t, p.Options.DataSources, "db")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yml"), []byte(`
entities:
  site: {type: data, keys: [x]}
`), 0o644))
	_, err = LoadDir(dir)
	assert.ErrorContains(t, err, `duplicate entity "site"`)
}

func TestWriteFileThenLoad(t *testing.T) {
	p, err := Parse([]byte(sampleProject))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "project.yml")
	require.NoError(t, WriteFile(p, path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, p.Order, loaded.Order)
}
