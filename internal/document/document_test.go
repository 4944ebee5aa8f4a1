package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func decode(t *testing.T, n *yaml.Node) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, n.Decode(&out))
	return out
}

func TestValueReferenceIsReplaced(t *testing.T) {
	src := []byte(`
entities:
  site:
    keys: [site_code]
  sample:
    keys: "@value: entities.site.keys"
    first: "@value: entities.site.keys.0"
`)
	root, err := Parse(src, ".")
	require.NoError(t, err)

	doc := decode(t, root)
	sample := doc["entities"].(map[string]any)["sample"].(map[string]any)
	assert.Equal(t, []any{"site_code"}, sample["keys"])
	assert.Equal(t, "site_code", sample["first"])
}

func TestChainedValueReferencesConverge(t *testing.T) {
	src := []byte(`
a: [x, y]
b: "@value: a"
c: "@value: b"
`)
	root, err := Parse(src, ".")
	require.NoError(t, err)
	doc := decode(t, root)
	assert.Equal(t, []any{"x", "y"}, doc["c"])
}

func TestValueReferenceCycle(t *testing.T) {
	src := []byte(`
a: "@value: b"
b: "@value: a"
`)
	_, err := Parse(src, ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not converge")
}

func TestValueReferenceUnknownPath(t *testing.T) {
	_, err := Parse([]byte(`a: "@value: missing.key"`), ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `key "missing" not found`)
}

func TestIncludeRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "parts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parts", "site.yml"), []byte(`
type: data
keys: [site_code]
columns: "@include: columns.yml"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parts", "columns.yml"), []byte(`[site_code, name]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "project.yml"), []byte(`
entities:
  site: "@include: parts/site.yml"
`), 0o644))

	root, err := LoadFile(filepath.Join(dir, "project.yml"))
	require.NoError(t, err)

	site := decode(t, root)["entities"].(map[string]any)["site"].(map[string]any)
	assert.Equal(t, "data", site["type"])
	assert.Equal(t, []any{"site_code", "name"}, site["columns"])
}

func TestIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte(`x: "@include: b.yml"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(`y: "@include: a.yml"`), 0o644))

	_, err := LoadFile(filepath.Join(dir, "a.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestValueIntoIncludedContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared.yml"), []byte(`keys: [k1, k2]`), 0o644))
	root, err := Parse([]byte(`
shared: "@include: shared.yml"
copy: "@value: shared.keys"
`), dir)
	require.NoError(t, err)
	assert.Equal(t, []any{"k1", "k2"}, decode(t, root)["copy"])
}

func TestPlainStringsUntouched(t *testing.T) {
	root, err := Parse([]byte(`note: "value: not a directive"`), ".")
	require.NoError(t, err)
	assert.Equal(t, "value: not a directive", decode(t, root)["note"])
}
