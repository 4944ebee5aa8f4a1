// Package validate runs structural checks over a project before execution.
//
// Every check runs on every entity; nothing short-circuits, so a single pass returns the
// full list of problems. Any issue with severity "error" means the project must not run;
// warnings never block.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"shapeshifter/internal/model"
	"shapeshifter/internal/resolve"
)

// Коды проблем
const (
	CodeUnknownEntity      = "unknown_entity"
	CodeCircular           = "circular_dependency"
	CodeUnknownType        = "unknown_type"
	CodeRequired           = "required"
	CodeFKShape            = "foreign_key_shape"
	CodeFKExtraColumns     = "foreign_key_extra_columns"
	CodeConstraint         = "constraint_shape"
	CodeReshape            = "unnest_shape"
	CodeReshapeIDVars      = "unnest_id_vars_missing"
	CodeDropDuplicates     = "drop_duplicates_shape"
	CodeSurrogateCollision = "surrogate_id_collision"
	CodeSurrogateNaming    = "surrogate_id_naming"
	CodeRowArity           = "row_arity"
	CodeLiteralSource      = "fixed_with_source"
	CodeAppend             = "append_shape"
	CodeFilter             = "filter_shape"
	CodeMaterialization    = "materialization_shape"
	CodeDataSource         = "data_source_unknown"
)

// Check выполняет одну независимую проверку.
type Check struct {
	Name string
	Run  func(v *Validator, p *model.Project, r *Report)
}

// Validator: фиксированный упорядоченный список проверок.
type Validator struct {
	checks  []Check
	filters map[string]struct{}
}

// DefaultChecks в порядке выполнения.
func DefaultChecks() []Check {
	return []Check{
		{Name: "references", Run: checkReferences},
		{Name: "circular_dependencies", Run: checkCycles},
		{Name: "required_fields", Run: checkRequiredFields},
		{Name: "foreign_keys", Run: checkForeignKeys},
		{Name: "unnest", Run: checkReshape},
		{Name: "drop_duplicates", Run: checkDropDuplicates},
		{Name: "surrogate_ids", Run: checkSurrogateIDs},
		{Name: "fixed_data", Run: checkLiteralData},
		{Name: "append", Run: checkAppend},
		{Name: "filters", Run: checkFilters},
		{Name: "materialization", Run: checkMaterialization},
	}
}

// New собирает валидатор со стандартными проверками. knownFilters перечисляет зарегистрированные фильтры.
func New(knownFilters ...string) *Validator {
	v := &Validator{checks: DefaultChecks(), filters: map[string]struct{}{}}
	for _, f := range knownFilters {
		v.filters[f] = struct{}{}
	}
	return v
}

// Validate: валидатор по умолчанию (встроенный фильтр exists_in).
func Validate(p *model.Project) *Report {
	return New("exists_in").Validate(p)
}

func (v *Validator) Validate(p *model.Project) *Report {
	r := &Report{Issues: []Issue{}}
	if p == nil {
		r.Errorf("", "", CodeRequired, "project is nil")
		return r
	}
	for _, c := range v.checks {
		c.Run(v, p, r)
	}
	return r
}

// forEach обходит сущности в порядке объявления.
func forEach(p *model.Project, fn func(e *model.Entity)) {
	for _, name := range p.Order {
		if e, ok := p.Entity(name); ok {
			fn(e)
		}
	}
}

func checkReferences(_ *Validator, p *model.Project, r *Report) {
	forEach(p, func(e *model.Entity) {
		for _, ref := range e.References() {
			if strings.TrimSpace(ref.Entity) == "" {
				r.Errorf(e.Name, ref.Field, CodeUnknownEntity, "empty entity reference")
				continue
			}
			if _, ok := p.Entity(ref.Entity); !ok {
				r.Errorf(e.Name, ref.Field, CodeUnknownEntity, "references unknown entity %q", ref.Entity)
			}
		}
	})
}

func checkCycles(_ *Validator, p *model.Project, r *Report) {
	_, err := resolve.Order(p)
	if err == nil {
		return
	}
	var ce *resolve.CycleError
	if errors.As(err, &ce) {
		r.Errorf(ce.Cycle[0], "", CodeCircular, "%s", ce.Error())
		return
	}
	r.Errorf("", "", CodeCircular, "%v", err)
}

func checkRequiredFields(_ *Validator, p *model.Project, r *Report) {
	forEach(p, func(e *model.Entity) {
		requiredFields(p, e, e.Name, "", r)
	})
}

// requiredFields проверяет поля, обязательные для вида источника. prefix задаёт путь фрагмента append.
func requiredFields(p *model.Project, e *model.Entity, owner, prefix string, r *Report) {
	field := func(name string) string { return prefix + name }

	switch e.Type {
	case model.SourceLiteral:
		if e.SurrogateID == "" && prefix == "" && !e.IsMaterialized() {
			r.Errorf(owner, field("surrogate_id"), CodeRequired, "fixed entity requires surrogate_id")
		}
		if len(e.Columns) == 0 {
			r.Errorf(owner, field("columns"), CodeRequired, "fixed entity requires columns")
		}
		if e.Values == nil && !e.IsMaterialized() {
			r.Errorf(owner, field("values"), CodeRequired, "fixed entity requires values")
		}
	case model.SourceRoot:
		needColumns(e, owner, field, r)
	case model.SourceEntity:
		if e.SourceEntity == "" {
			r.Errorf(owner, field("source"), CodeRequired, "entity-sourced entity requires source")
		}
		needColumns(e, owner, field, r)
	case model.SourceQuery:
		if strings.TrimSpace(e.Query) == "" {
			r.Errorf(owner, field("query"), CodeRequired, "sql entity requires query")
		}
		if e.DataSource == "" {
			r.Errorf(owner, field("data_source"), CodeRequired, "sql entity requires data_source")
		} else if _, ok := p.Options.DataSources[e.DataSource]; !ok {
			// источник может прийти из внешнего каталога, не блокируем
			r.Warnf(owner, field("data_source"), CodeDataSource, "data source %q is not declared in options.data_sources", e.DataSource)
		}
		needColumns(e, owner, field, r)
	case "":
		r.Errorf(owner, field("type"), CodeRequired, "type is required (one of %s)", kindList())
	default:
		r.Errorf(owner, field("type"), CodeUnknownType, "unknown type %q (one of %s)", e.Type, kindList())
	}
}

func needColumns(e *model.Entity, owner string, field func(string) string, r *Report) {
	if len(e.Columns) == 0 && len(e.Keys) == 0 {
		r.Errorf(owner, field("columns"), CodeRequired, "%s entity requires columns or keys", e.Type)
	}
}

func kindList() string {
	kinds := model.Kinds()
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, "|")
}

func checkForeignKeys(_ *Validator, p *model.Project, r *Report) {
	forEach(p, func(e *model.Entity) {
		for i, fk := range e.ForeignKeys {
			foreignKeyShape(e.Name, fmt.Sprintf("foreign_keys[%d]", i), fk, r)
		}
		for j, frag := range e.Append {
			if frag == nil {
				continue
			}
			for i, fk := range frag.ForeignKeys {
				foreignKeyShape(e.Name, fmt.Sprintf("append[%d].foreign_keys[%d]", j, i), fk, r)
			}
		}
	})
}

func foreignKeyShape(owner, field string, fk model.ForeignKeyLink, r *Report) {
	if fk.Entity == "" {
		r.Errorf(owner, field+".entity", CodeRequired, "foreign key requires entity")
	}
	how := fk.JoinKind()
	if !how.Valid() {
		r.Errorf(owner, field+".how", CodeFKShape, "unknown join kind %q", fk.How)
	}
	if how == model.JoinCross {
		if len(fk.LocalKeys) > 0 || len(fk.RemoteKeys) > 0 {
			r.Errorf(owner, field, CodeFKShape, "cross join must not declare local_keys/remote_keys")
		}
	} else {
		if len(fk.LocalKeys) == 0 {
			r.Errorf(owner, field+".local_keys", CodeFKShape, "local_keys are required for %s join", how)
		}
		if len(fk.LocalKeys) != len(fk.RemoteKeys) {
			r.Errorf(owner, field, CodeFKShape, "local_keys (%d) and remote_keys (%d) differ in length",
				len(fk.LocalKeys), len(fk.RemoteKeys))
		}
	}
	for _, name := range sortedKeys(fk.ExtraColumns) {
		col := fk.ExtraColumns[name]
		s, ok := col.(string)
		if strings.TrimSpace(name) == "" || !ok || strings.TrimSpace(s) == "" {
			r.Errorf(owner, field+".extra_columns", CodeFKExtraColumns,
				"extra column %q must map a new name to a remote column name (got %v)", name, col)
		}
	}

	c := fk.Constraints
	if c == nil {
		return
	}
	if c.Cardinality != "" && !c.Cardinality.Valid() {
		r.Errorf(owner, field+".constraints.cardinality", CodeConstraint, "unknown cardinality %q", c.Cardinality)
	}
	if c.MinMatchRate != nil && (*c.MinMatchRate < 0 || *c.MinMatchRate > 1) {
		r.Errorf(owner, field+".constraints.min_match_rate", CodeConstraint, "min_match_rate must be within [0, 1], got %v", *c.MinMatchRate)
	}
	if c.MaxRowIncreasePct != nil && *c.MaxRowIncreasePct < 0 {
		r.Errorf(owner, field+".constraints.max_row_increase_pct", CodeConstraint, "max_row_increase_pct must be >= 0")
	}
	if c.MaxRowIncreaseAbs != nil && *c.MaxRowIncreaseAbs < 0 {
		r.Errorf(owner, field+".constraints.max_row_increase_abs", CodeConstraint, "max_row_increase_abs must be >= 0")
	}
}

func checkReshape(_ *Validator, p *model.Project, r *Report) {
	forEach(p, func(e *model.Entity) {
		u := e.Unnest
		if u == nil {
			return
		}
		if len(u.ValueVars) == 0 {
			r.Errorf(e.Name, "unnest.value_vars", CodeReshape, "unnest requires value_vars")
		}
		if u.VarName == "" {
			r.Errorf(e.Name, "unnest.var_name", CodeReshape, "unnest requires var_name")
		}
		if u.ValueName == "" {
			r.Errorf(e.Name, "unnest.value_name", CodeReshape, "unnest requires value_name")
		}
		if u.VarName != "" && u.VarName == u.ValueName {
			r.Errorf(e.Name, "unnest", CodeReshape, "var_name and value_name must differ")
		}
		if len(u.IDVars) == 0 {
			r.Warnf(e.Name, "unnest.id_vars", CodeReshapeIDVars, "unnest has no id_vars; rows will lose their identity")
		}
		ids := map[string]struct{}{}
		for _, c := range u.IDVars {
			ids[c] = struct{}{}
		}
		for _, c := range u.ValueVars {
			if _, dup := ids[c]; dup {
				r.Errorf(e.Name, "unnest", CodeReshape, "column %q is both id_var and value_var", c)
			}
		}
	})
}

func checkDropDuplicates(_ *Validator, p *model.Project, r *Report) {
	forEach(p, func(e *model.Entity) {
		dd := e.DropDuplicates
		if dd == nil || dd.KeysOf == "" {
			return
		}
		other, ok := p.Entity(dd.KeysOf)
		if !ok {
			// неизвестная сущность уже отмечена в checkReferences
			return
		}
		if len(other.Keys) == 0 {
			r.Errorf(e.Name, "drop_duplicates", CodeDropDuplicates, "entity %q referenced by drop_duplicates has no keys", dd.KeysOf)
		}
	})
}

func checkSurrogateIDs(_ *Validator, p *model.Project, r *Report) {
	owners := map[string]string{}
	forEach(p, func(e *model.Entity) {
		id := e.SurrogateID
		if id == "" {
			return
		}
		if prev, ok := owners[id]; ok {
			r.Errorf(e.Name, "surrogate_id", CodeSurrogateCollision, "surrogate_id %q is already used by entity %q", id, prev)
		} else {
			owners[id] = e.Name
		}
		if !strings.HasSuffix(id, "_id") {
			r.Warnf(e.Name, "surrogate_id", CodeSurrogateNaming, "surrogate_id %q should end with _id", id)
		}
	})
}

func checkLiteralData(_ *Validator, p *model.Project, r *Report) {
	forEach(p, func(e *model.Entity) {
		literalShape(e, e.Name, "", r)
		for i, frag := range e.Append {
			if frag != nil {
				literalShape(e.Fragment(i), e.Name, fmt.Sprintf("append[%d].", i), r)
			}
		}
	})
}

func literalShape(e *model.Entity, owner, prefix string, r *Report) {
	if e.Type != model.SourceLiteral {
		return
	}
	if e.SourceEntity != "" {
		r.Warnf(owner, prefix+"source", CodeLiteralSource, "source %q is ignored for fixed entities", e.SourceEntity)
	}
	for i, row := range e.Values {
		if len(row) != len(e.Columns) {
			r.Errorf(owner, fmt.Sprintf("%svalues[%d]", prefix, i), CodeRowArity,
				"row has %d values, expected %d (columns: %s)", len(row), len(e.Columns), strings.Join(e.Columns, ", "))
		}
	}
}

func checkAppend(_ *Validator, p *model.Project, r *Report) {
	forEach(p, func(e *model.Entity) {
		if e.AppendMode != "" && e.AppendMode != model.AppendAll && e.AppendMode != model.AppendDistinct {
			r.Errorf(e.Name, "append_mode", CodeAppend, "unknown append_mode %q (all|distinct)", e.AppendMode)
		}
		for i, frag := range e.Append {
			if frag == nil {
				r.Errorf(e.Name, fmt.Sprintf("append[%d]", i), CodeAppend, "empty append fragment")
				continue
			}
			requiredFields(p, e.Fragment(i), e.Name, fmt.Sprintf("append[%d].", i), r)
		}
	})
}

func checkFilters(v *Validator, p *model.Project, r *Report) {
	forEach(p, func(e *model.Entity) {
		for i, f := range e.Filters {
			field := fmt.Sprintf("filters[%d]", i)
			if _, ok := v.filters[f.Type]; !ok {
				r.Errorf(e.Name, field+".type", CodeFilter, "unknown filter %q", f.Type)
				continue
			}
			if f.Type == "exists_in" {
				if f.String("column") == "" {
					r.Errorf(e.Name, field+".column", CodeFilter, "exists_in requires column")
				}
				if f.String("other_entity") == "" {
					r.Errorf(e.Name, field+".other_entity", CodeFilter, "exists_in requires other_entity")
				}
			}
		}
	})
}

func checkMaterialization(_ *Validator, p *model.Project, r *Report) {
	forEach(p, func(e *model.Entity) {
		m := e.Materialized
		if m == nil {
			return
		}
		if m.SourceState == nil {
			r.Errorf(e.Name, "materialized.source_state", CodeMaterialization, "materialized entity has no source_state to revert to")
		}
		if m.Enabled && e.Type != model.SourceLiteral {
			r.Errorf(e.Name, "type", CodeMaterialization, "materialized entity must be of type %q", model.SourceLiteral)
		}
		if m.Storage != "" && !m.Storage.Valid() {
			r.Errorf(e.Name, "materialized.storage", CodeMaterialization, "unknown storage %q", m.Storage)
		}
		if m.Storage != "" && m.Storage != model.StorageInline && m.DataLocation == "" {
			r.Errorf(e.Name, "materialized.data_location", CodeMaterialization, "storage %q requires data_location", m.Storage)
		}
	})
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
