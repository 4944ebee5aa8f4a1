package datasource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapeshifter/internal/model"
)

func TestBuildDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/survey?sslmode=disable",
		BuildDSN(model.DataSource{Host: "db", Username: "u", Password: "p", Database: "survey"}))
	assert.Equal(t, "postgres://u:p@db:6543/survey?sslmode=require",
		BuildDSN(model.DataSource{Host: "db", Port: 6543, Username: "u", Password: "p", Database: "survey", SSL: true}))
	assert.Equal(t, "postgres://explicit", BuildDSN(model.DataSource{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestDriverName(t *testing.T) {
	for _, d := range []string{"", "postgres", "PostgreSQL", " pgx "} {
		name, err := driverName(d)
		require.NoError(t, err, d)
		assert.Equal(t, "pgx", name)
	}
	_, err := driverName("mysql")
	assert.ErrorContains(t, err, `unsupported driver "mysql"`)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "arbodat.yml"), []byte("driver: postgres\nhost: db\ndatabase: arbodat\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("name: sead\ndriver: postgres\ndsn: postgres://x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	cat, err := LoadCatalog(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"arbodat", "sead"}, Names(cat))
	assert.Equal(t, "db", cat["arbodat"].Host)
	assert.Equal(t, "postgres://x", cat["sead"].DSN)

	merged := Merge(cat, map[string]model.DataSource{"sead": {Driver: "postgres", DSN: "postgres://project"}})
	assert.Equal(t, "postgres://project", merged["sead"].DSN)
	assert.Len(t, merged, 2)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.yml"), []byte("name: sead\ndriver: postgres\n"), 0o644))
	_, err = LoadCatalog(dir)
	assert.ErrorContains(t, err, `duplicate data source "sead"`)
}
