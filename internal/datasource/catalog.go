package datasource

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"shapeshifter/internal/model"
)

// LoadCatalog читает описания источников данных из каталога: один *.yml/*.yaml на источник.
// Имя источника: из поля name или из имени файла.
func LoadCatalog(dir string) (map[string]model.DataSource, error) {
	result := make(map[string]model.DataSource)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var ds model.DataSource
		if err := yaml.Unmarshal(data, &ds); err != nil {
			return nil, fmt.Errorf("data source %s: %w", name, err)
		}
		key := ds.Name
		if key == "" {
			key = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if _, dup := result[key]; dup {
			return nil, fmt.Errorf("duplicate data source %q in %s", key, dir)
		}
		result[key] = ds
	}
	return result, nil
}

// Merge накладывает источники проекта поверх каталога.
func Merge(catalog, project map[string]model.DataSource) map[string]model.DataSource {
	out := make(map[string]model.DataSource, len(catalog)+len(project))
	for k, v := range catalog {
		out[k] = v
	}
	for k, v := range project {
		out[k] = v
	}
	return out
}

func Names(m map[string]model.DataSource) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BuildDSN собирает строку подключения, если DSN не указан явно.
func BuildDSN(ds model.DataSource) string {
	if ds.DSN != "" {
		return ds.DSN
	}
	sslMode := "disable"
	if ds.SSL {
		sslMode = "require"
	}
	port := ds.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		ds.Username,
		ds.Password,
		ds.Host,
		port,
		ds.Database,
		sslMode,
	)
}
