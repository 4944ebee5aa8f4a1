// Package extract produces an entity's raw dataset from its source (root data, another
// entity, literal values or an opaque query) and applies the post-extraction steps:
// extra columns, filters, empty-row removal and de-duplication.
package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
	"shapeshifter/internal/query"
)

// DataReader читает данные материализованной сущности из внешнего файла.
type DataReader interface {
	Read(ctx context.Context, format model.StorageFormat, location string) (*dataset.Dataset, error)
}

// Extractor: сервис извлечения. Queries и Files нужны только для sql-сущностей и
// материализованных во внешний файл.
type Extractor struct {
	Queries query.Runner
	Filters *FilterRegistry
	Files   DataReader
}

func New(queries query.Runner, files DataReader) *Extractor {
	return &Extractor{Queries: queries, Filters: NewFilterRegistry(), Files: files}
}

// Extract возвращает набор сущности. root это внешний корневой набор, в store лежат уже разрешённые.
func (x *Extractor) Extract(ctx context.Context, p *model.Project, e *model.Entity, root *dataset.Dataset, store *dataset.Store) (*dataset.Dataset, error) {
	ds, err := x.source(ctx, e, root, store)
	if err != nil {
		return nil, err
	}
	if ds, err = extraColumns(ds, e.ExtraColumns); err != nil {
		return nil, err
	}
	for i, f := range e.Filters {
		if x.Filters == nil {
			return nil, fmt.Errorf("filters[%d]: no filter registry configured", i)
		}
		if ds, err = x.Filters.Apply(ctx, f, ds, store); err != nil {
			return nil, fmt.Errorf("filters[%d]: %w", i, err)
		}
	}
	if e.DropEmptyRows.Enabled() {
		if ds, err = ds.DropEmpty(e.DropEmptyRows.Columns); err != nil {
			return nil, fmt.Errorf("drop_empty_rows: %w", err)
		}
	}
	if e.DropDuplicates.Enabled() {
		cols, err := duplicateColumns(p, e.DropDuplicates)
		if err != nil {
			return nil, err
		}
		if ds, err = ds.DropDuplicates(cols); err != nil {
			return nil, fmt.Errorf("drop_duplicates: %w", err)
		}
	}
	return ds, nil
}

func (x *Extractor) source(ctx context.Context, e *model.Entity, root *dataset.Dataset, store *dataset.Store) (*dataset.Dataset, error) {
	src, err := e.Source()
	if err != nil {
		return nil, err
	}
	switch s := src.(type) {
	case model.RootSource:
		if root == nil {
			return nil, fmt.Errorf("no root dataset supplied")
		}
		ds, err := root.Select(s.Columns)
		if err != nil {
			return nil, fmt.Errorf("root dataset: %w", err)
		}
		return ds, nil

	case model.EntitySource:
		parent, ok := store.Get(s.Entity)
		if !ok {
			return nil, fmt.Errorf("source entity %q is not resolved", s.Entity)
		}
		ds, err := parent.Select(s.Columns)
		if err != nil {
			return nil, fmt.Errorf("source entity %q: %w", s.Entity, err)
		}
		return ds, nil

	case model.LiteralSource:
		return x.literal(ctx, e.Name, s)

	case model.QuerySource:
		return x.query(ctx, s)

	default:
		return nil, fmt.Errorf("unsupported source %T", src)
	}
}

func (x *Extractor) literal(ctx context.Context, name string, s model.LiteralSource) (*dataset.Dataset, error) {
	if s.DataLocation != "" && s.Storage != "" && s.Storage != model.StorageInline {
		if x.Files == nil {
			return nil, fmt.Errorf("no reader configured for %s data at %s", s.Storage, s.DataLocation)
		}
		ds, err := x.Files.Read(ctx, s.Storage, s.DataLocation)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.DataLocation, err)
		}
		if missing := ds.Missing(s.Columns); len(missing) > 0 {
			return nil, fmt.Errorf("data file %s lacks columns: %s", s.DataLocation, strings.Join(missing, ", "))
		}
		return ds.Select(s.Columns)
	}

	rows := make([][]any, len(s.Values))
	for i, row := range s.Values {
		if len(row) != len(s.Columns) {
			return nil, fmt.Errorf("%s: values[%d] has %d values, expected %d", name, i, len(row), len(s.Columns))
		}
		rows[i] = append([]any(nil), row...)
	}
	return dataset.New(s.Columns, rows), nil
}

func (x *Extractor) query(ctx context.Context, s model.QuerySource) (*dataset.Dataset, error) {
	if x.Queries == nil {
		return nil, fmt.Errorf("no query runner configured (data source %q)", s.DataSource)
	}
	res, err := x.Queries.Run(ctx, s.DataSource, s.Query)
	if err != nil {
		return nil, fmt.Errorf("data source %q: %w", s.DataSource, err)
	}
	if len(s.Columns) == 0 {
		return res, nil
	}
	if s.CheckColumnNames {
		if missing := res.Missing(s.Columns); len(missing) > 0 {
			return nil, fmt.Errorf("query result lacks columns: %s (got %s)",
				strings.Join(missing, ", "), strings.Join(res.Columns, ", "))
		}
		return res, nil
	}
	if len(res.Columns) != len(s.Columns) {
		return nil, fmt.Errorf("query returned %d columns, expected %d (%s)",
			len(res.Columns), len(s.Columns), strings.Join(s.Columns, ", "))
	}
	return dataset.New(s.Columns, res.Rows), nil
}

// extraColumns: строковое значение, совпадающее с именем колонки, копирует её; иначе константа.
func extraColumns(ds *dataset.Dataset, extra map[string]any) (*dataset.Dataset, error) {
	if len(extra) == 0 {
		return ds, nil
	}
	names := make([]string, 0, len(extra))
	for k := range extra {
		names = append(names, k)
	}
	sort.Strings(names)

	var err error
	for _, name := range names {
		v := extra[name]
		src := -1
		if s, ok := v.(string); ok {
			src = ds.Index(s)
		}
		ds, err = ds.AddColumn(name, func(_ int, row []any) any {
			if src >= 0 {
				return row[src]
			}
			return v
		})
		if err != nil {
			return nil, fmt.Errorf("extra_columns: %w", err)
		}
	}
	return ds, nil
}

func duplicateColumns(p *model.Project, r *model.DuplicateRule) ([]string, error) {
	switch {
	case r.KeysOf != "":
		other, ok := p.Entity(r.KeysOf)
		if !ok {
			return nil, fmt.Errorf("drop_duplicates: unknown entity %q", r.KeysOf)
		}
		if len(other.Keys) == 0 {
			return nil, fmt.Errorf("drop_duplicates: entity %q has no keys", r.KeysOf)
		}
		return other.Keys, nil
	case len(r.Columns) > 0:
		return r.Columns, nil
	default:
		return nil, nil
	}
}
