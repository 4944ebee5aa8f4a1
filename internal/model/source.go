package model

import "fmt"

// Source: закрытый вариант источника сущности. Реализации есть только в этом пакете,
// поэтому switch по типу в потребителях исчерпывающий.
type Source interface {
	Kind() SourceKind
	sealed()
}

// RootSource: колонки выбираются из корневого набора данных.
type RootSource struct {
	Columns []string
}

// EntitySource: колонки выбираются из ранее разрешённой сущности.
type EntitySource struct {
	Entity  string
	Columns []string
}

// LiteralSource: строки заданы в конфиге (или лежат во внешнем файле после материализации).
type LiteralSource struct {
	Columns      []string
	Values       [][]any
	Storage      StorageFormat
	DataLocation string
}

// QuerySource: запрос уходит во внешний драйвер как есть.
type QuerySource struct {
	DataSource       string
	Query            string
	Columns          []string
	CheckColumnNames bool
}

func (RootSource) Kind() SourceKind    { return SourceRoot }
func (EntitySource) Kind() SourceKind  { return SourceEntity }
func (LiteralSource) Kind() SourceKind { return SourceLiteral }
func (QuerySource) Kind() SourceKind   { return SourceQuery }

func (RootSource) sealed()    {}
func (EntitySource) sealed()  {}
func (LiteralSource) sealed() {}
func (QuerySource) sealed()   {}

// Source превращает плоские поля сущности в типизированный вариант.
func (e *Entity) Source() (Source, error) {
	switch e.Type {
	case SourceRoot:
		return RootSource{Columns: e.SelectColumns()}, nil
	case SourceEntity:
		if e.SourceEntity == "" {
			return nil, fmt.Errorf("entity %q: type %q requires source", e.Name, e.Type)
		}
		return EntitySource{Entity: e.SourceEntity, Columns: e.SelectColumns()}, nil
	case SourceLiteral:
		src := LiteralSource{Columns: e.Columns, Values: e.Values}
		if e.Materialized != nil {
			src.Storage = e.Materialized.Storage
			src.DataLocation = e.Materialized.DataLocation
		}
		return src, nil
	case SourceQuery:
		return QuerySource{
			DataSource:       e.DataSource,
			Query:            e.Query,
			Columns:          e.declaredColumns(),
			CheckColumnNames: e.CheckColumnNames,
		}, nil
	case "":
		return nil, fmt.Errorf("entity %q: type is empty", e.Name)
	default:
		return nil, fmt.Errorf("entity %q: unknown type %q", e.Name, e.Type)
	}
}

// SelectColumns: ключи, затем остальные колонки, без повторов.
func (e *Entity) SelectColumns() []string {
	out := make([]string, 0, len(e.Keys)+len(e.Columns))
	seen := make(map[string]struct{}, cap(out))
	for _, list := range [][]string{e.Keys, e.Columns} {
		for _, c := range list {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// declaredColumns: колонки в объявленном порядке (для позиционного переименования).
func (e *Entity) declaredColumns() []string {
	if len(e.Columns) > 0 {
		return e.Columns
	}
	return e.Keys
}
