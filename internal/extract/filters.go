package extract

import (
	"context"
	"fmt"
	"sort"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
)

// FilterFunc: подключаемый фильтр строк. store содержит уже разрешённые сущности.
type FilterFunc func(ctx context.Context, spec model.FilterSpec, ds *dataset.Dataset, store *dataset.Store) (*dataset.Dataset, error)

// FilterRegistry: фильтры по имени; расширяется без правок в Extractor.
type FilterRegistry struct {
	filters map[string]FilterFunc
}

// NewFilterRegistry создаёт реестр со встроенным exists_in.
func NewFilterRegistry() *FilterRegistry {
	r := &FilterRegistry{filters: map[string]FilterFunc{}}
	r.Register("exists_in", ExistsIn)
	return r
}

func (r *FilterRegistry) Register(name string, fn FilterFunc) {
	r.filters[name] = fn
}

// Names нужен валидатору.
func (r *FilterRegistry) Names() []string {
	out := make([]string, 0, len(r.filters))
	for k := range r.filters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *FilterRegistry) Apply(ctx context.Context, spec model.FilterSpec, ds *dataset.Dataset, store *dataset.Store) (*dataset.Dataset, error) {
	fn, ok := r.filters[spec.Type]
	if !ok {
		return nil, fmt.Errorf("unknown filter %q", spec.Type)
	}
	return fn(ctx, spec, ds, store)
}

// ExistsIn оставляет строки, у которых значение column встречается в other_entity.other_column
// (по умолчанию та же колонка). null не совпадает ни с чем. drop_duplicates: true | [cols]
// удаляет дубли после фильтрации.
func ExistsIn(_ context.Context, spec model.FilterSpec, ds *dataset.Dataset, store *dataset.Store) (*dataset.Dataset, error) {
	col := spec.String("column")
	other := spec.String("other_entity")
	otherCol := spec.String("other_column")
	if otherCol == "" {
		otherCol = col
	}
	if col == "" || other == "" {
		return nil, fmt.Errorf("exists_in: column and other_entity are required")
	}

	ref, ok := store.Get(other)
	if !ok {
		return nil, fmt.Errorf("exists_in: entity %q is not resolved", other)
	}
	values, err := ref.Column(otherCol)
	if err != nil {
		return nil, fmt.Errorf("exists_in: entity %q: %w", other, err)
	}
	allowed := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != nil {
			allowed[dataset.Canonical(v)] = struct{}{}
		}
	}

	idx := ds.Index(col)
	if idx < 0 {
		return nil, fmt.Errorf("exists_in: column %q not found", col)
	}
	out := ds.Filter(func(row []any) bool {
		if row[idx] == nil {
			return false
		}
		_, ok := allowed[dataset.Canonical(row[idx])]
		return ok
	})

	switch dd := spec.Params["drop_duplicates"].(type) {
	case bool:
		if dd {
			return out.DropDuplicates(nil)
		}
	case []any:
		cols := make([]string, 0, len(dd))
		for _, c := range dd {
			s, ok := c.(string)
			if !ok {
				return nil, fmt.Errorf("exists_in: drop_duplicates expects column names, got %v", c)
			}
			cols = append(cols, s)
		}
		return out.DropDuplicates(cols)
	}
	return out, nil
}
