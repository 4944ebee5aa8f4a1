package model

import "fmt"

// Ref: ссылка одной сущности на другую с указанием поля (для диагностики).
type Ref struct {
	Field  string
	Entity string
}

// References возвращает все ссылки сущности в порядке объявления:
// depends_on, source, foreign_keys, append, фильтры exists_in, drop_duplicates.
func (e *Entity) References() []Ref {
	var refs []Ref
	for i, d := range e.DependsOn {
		refs = append(refs, Ref{Field: fmt.Sprintf("depends_on[%d]", i), Entity: d})
	}
	if e.SourceEntity != "" {
		refs = append(refs, Ref{Field: "source", Entity: e.SourceEntity})
	}
	for i, fk := range e.ForeignKeys {
		refs = append(refs, Ref{Field: fmt.Sprintf("foreign_keys[%d].entity", i), Entity: fk.Entity})
	}
	for i, frag := range e.Append {
		if frag == nil {
			continue
		}
		if frag.SourceEntity != "" {
			refs = append(refs, Ref{Field: fmt.Sprintf("append[%d].source", i), Entity: frag.SourceEntity})
		}
		for j, fk := range frag.ForeignKeys {
			refs = append(refs, Ref{Field: fmt.Sprintf("append[%d].foreign_keys[%d].entity", i, j), Entity: fk.Entity})
		}
		for j, f := range frag.Filters {
			if other := f.String("other_entity"); other != "" {
				refs = append(refs, Ref{Field: fmt.Sprintf("append[%d].filters[%d].other_entity", i, j), Entity: other})
			}
		}
	}
	for i, f := range e.Filters {
		if other := f.String("other_entity"); other != "" {
			refs = append(refs, Ref{Field: fmt.Sprintf("filters[%d].other_entity", i), Entity: other})
		}
	}
	if e.DropDuplicates != nil && e.DropDuplicates.KeysOf != "" {
		refs = append(refs, Ref{Field: "drop_duplicates", Entity: e.DropDuplicates.KeysOf})
	}
	return refs
}

// Dependencies: уникальные имена сущностей, от которых зависит e, в порядке объявления.
func (e *Entity) Dependencies() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, r := range e.References() {
		if r.Entity == "" {
			continue
		}
		if _, ok := seen[r.Entity]; ok {
			continue
		}
		seen[r.Entity] = struct{}{}
		out = append(out, r.Entity)
	}
	return out
}

// Fragment: i-й фрагмент append с унаследованными от родителя полями, которые в нём
// не заданы: type, keys, columns, data_source, depends_on. Суррогатный ключ создаётся
// после склейки, поэтому не наследуется.
func (e *Entity) Fragment(i int) *Entity {
	f := e.Append[i]
	if f == nil {
		return nil
	}
	out := *f
	if out.Name == "" {
		out.Name = fmt.Sprintf("%s.append[%d]", e.Name, i)
	}
	if out.Type == "" {
		out.Type = e.Type
	}
	if len(out.Keys) == 0 {
		out.Keys = e.Keys
	}
	if len(out.Columns) == 0 {
		out.Columns = e.Columns
	}
	if out.DataSource == "" {
		out.DataSource = e.DataSource
	}
	if len(out.DependsOn) == 0 {
		out.DependsOn = e.DependsOn
	}
	return &out
}
