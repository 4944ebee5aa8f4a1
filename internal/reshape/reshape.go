// Package reshape turns wide tables into long attribute/value form.
package reshape

import (
	"fmt"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
)

// Melt: для каждой входной строки и каждой колонки value_vars одна выходная строка
// id_vars..., var_name, value_name. Порядок строк построчный (row-major).
func Melt(ds *dataset.Dataset, spec model.ReshapeSpec) (*dataset.Dataset, error) {
	if len(spec.ValueVars) == 0 {
		return nil, fmt.Errorf("unnest: value_vars is empty")
	}
	if spec.VarName == "" || spec.ValueName == "" {
		return nil, fmt.Errorf("unnest: var_name and value_name are required")
	}

	ids := spec.IDVars
	idIdx, err := ds.Indexes(ids)
	if err != nil {
		return nil, fmt.Errorf("unnest: id_vars: %w", err)
	}
	valIdx, err := ds.Indexes(spec.ValueVars)
	if err != nil {
		return nil, fmt.Errorf("unnest: %w", err)
	}

	cols := make([]string, 0, len(ids)+2)
	cols = append(cols, ids...)
	cols = append(cols, spec.VarName, spec.ValueName)
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("unnest: duplicate output column %q", c)
		}
		seen[c] = struct{}{}
	}

	rows := make([][]any, 0, ds.Len()*len(valIdx))
	for _, r := range ds.Rows {
		for v, vi := range valIdx {
			nr := make([]any, 0, len(cols))
			for _, ii := range idIdx {
				nr = append(nr, r[ii])
			}
			nr = append(nr, spec.ValueVars[v], r[vi])
			rows = append(rows, nr)
		}
	}
	return dataset.New(cols, rows), nil
}
