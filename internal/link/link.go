// Package link joins an entity's dataset against an already resolved entity and enforces
// the relational constraints declared on the foreign key.
package link

import (
	"fmt"
	"sort"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
)

// Spec описывает одно соединение.
type Spec struct {
	Left, Right  string // имена сущностей, для ошибок
	LocalKeys    []string
	RemoteKeys   []string
	How          model.JoinKind
	RemoteID     string // суррогатный ключ правой сущности
	DropRemoteID bool
	ExtraColumns map[string]string // новое имя -> колонка справа
	Constraints  *model.Constraints
}

// SpecFor собирает Spec из объявления foreign key.
func SpecFor(left string, right *model.Entity, fk model.ForeignKeyLink) (Spec, error) {
	extra := make(map[string]string, len(fk.ExtraColumns))
	for name, v := range fk.ExtraColumns {
		col, ok := v.(string)
		if !ok || col == "" {
			return Spec{}, fmt.Errorf("extra_columns.%s: expected a column of %q, got %v", name, right.Name, v)
		}
		extra[name] = col
	}
	return Spec{
		Left:         left,
		Right:        right.Name,
		LocalKeys:    fk.LocalKeys,
		RemoteKeys:   fk.RemoteKeys,
		How:          fk.JoinKind(),
		RemoteID:     right.SurrogateID,
		DropRemoteID: fk.DropRemoteID,
		ExtraColumns: extra,
		Constraints:  fk.Constraints,
	}, nil
}

// Stats: счётчики соединения; MatchRate = Matched / LeftRows (1, если слева пусто).
type Stats struct {
	LeftRows   int
	RightRows  int
	OutputRows int
	Matched    int
	LeftOnly   int
	RightOnly  int
	MatchRate  float64
}

// ConstraintError: нарушение ограничения foreign key. Никогда не понижается до предупреждения.
type ConstraintError struct {
	Left       string
	Right      string
	Constraint string
	Observed   float64
	Expected   float64
	Detail     string
}

func (e *ConstraintError) Error() string {
	msg := fmt.Sprintf("link %s -> %s: constraint %s violated: observed %g, expected %g",
		e.Left, e.Right, e.Constraint, e.Observed, e.Expected)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

type joiner struct {
	spec        Spec
	left, right *dataset.Dataset
	lidx, ridx  []int
}

// Link выполняет соединение и проверяет ограничения: до соединения (уникальность, null,
// кардинальность), полноту совпадений и изменение числа строк.
func Link(left, right *dataset.Dataset, spec Spec) (*dataset.Dataset, *Stats, error) {
	how := spec.How
	if how == "" {
		how = model.JoinInner
	}
	if !how.Valid() {
		return nil, nil, fmt.Errorf("link %s -> %s: unknown join kind %q", spec.Left, spec.Right, how)
	}
	if how == model.JoinCross {
		if len(spec.LocalKeys) > 0 || len(spec.RemoteKeys) > 0 {
			return nil, nil, fmt.Errorf("link %s -> %s: cross join takes no keys", spec.Left, spec.Right)
		}
	} else if len(spec.LocalKeys) == 0 || len(spec.LocalKeys) != len(spec.RemoteKeys) {
		return nil, nil, fmt.Errorf("link %s -> %s: local_keys (%d) and remote_keys (%d) must be non-empty and of equal length",
			spec.Left, spec.Right, len(spec.LocalKeys), len(spec.RemoteKeys))
	}

	j := &joiner{spec: spec, left: left, right: right}
	var err error
	if j.lidx, err = left.Indexes(spec.LocalKeys); err != nil {
		return nil, nil, fmt.Errorf("link %s -> %s: local keys: %w", spec.Left, spec.Right, err)
	}
	if j.ridx, err = right.Indexes(spec.RemoteKeys); err != nil {
		return nil, nil, fmt.Errorf("link %s -> %s: remote keys: %w", spec.Left, spec.Right, err)
	}

	if how != model.JoinCross {
		if err := j.preJoin(); err != nil {
			return nil, nil, err
		}
	}
	out, stats, err := j.join(how)
	if err != nil {
		return nil, nil, err
	}
	if err := j.postJoin(stats); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

func (j *joiner) violation(constraint string, observed, expected float64, detail string) error {
	return &ConstraintError{
		Left:       j.spec.Left,
		Right:      j.spec.Right,
		Constraint: constraint,
		Observed:   observed,
		Expected:   expected,
		Detail:     detail,
	}
}

// keyStats считает строки с null в ключе и повторы среди ненулевых ключей.
func keyStats(ds *dataset.Dataset, idx []int) (nulls, dups int) {
	seen := make(map[string]struct{}, ds.Len())
	for _, r := range ds.Rows {
		k, hasNull := dataset.Key(r, idx)
		if hasNull {
			nulls++
			continue
		}
		if _, ok := seen[k]; ok {
			dups++
			continue
		}
		seen[k] = struct{}{}
	}
	return nulls, dups
}

func (j *joiner) preJoin() error {
	c := j.spec.Constraints
	if c == nil {
		return nil
	}
	lNulls, lDups := keyStats(j.left, j.lidx)
	rNulls, rDups := keyStats(j.right, j.ridx)

	if !c.NullKeysAllowed() {
		if lNulls > 0 {
			return j.violation("allow_null_keys", float64(lNulls), 0, "left rows with null key")
		}
		if rNulls > 0 {
			return j.violation("allow_null_keys", float64(rNulls), 0, "right rows with null key")
		}
	}
	if c.RequireUniqueLeft && lDups > 0 {
		return j.violation("require_unique_left", float64(lDups), 0, "duplicate left keys")
	}
	if c.RequireUniqueRight && rDups > 0 {
		return j.violation("require_unique_right", float64(rDups), 0, "duplicate right keys")
	}

	var needLeft, needRight bool
	switch c.Cardinality {
	case model.OneToOne:
		needLeft, needRight = true, true
	case model.ManyToOne:
		needRight = true
	case model.OneToMany:
		needLeft = true
	case model.ManyToMany, "":
	default:
		return fmt.Errorf("link %s -> %s: unknown cardinality %q", j.spec.Left, j.spec.Right, c.Cardinality)
	}
	if needLeft && lDups > 0 {
		return j.violation("cardinality", float64(lDups), 0,
			fmt.Sprintf("%s requires unique left keys", c.Cardinality))
	}
	if needRight && rDups > 0 {
		return j.violation("cardinality", float64(rDups), 0,
			fmt.Sprintf("%s requires unique right keys", c.Cardinality))
	}
	return nil
}

// колонки слева, суррогат справа, затем extra_columns по имени
func (j *joiner) outputColumns() ([]string, []int, error) {
	cols := append([]string(nil), j.left.Columns...)
	var src []int

	add := func(name, rightCol string) error {
		ri := j.right.Index(rightCol)
		if ri < 0 {
			return fmt.Errorf("link %s -> %s: column %q not found in %s", j.spec.Left, j.spec.Right, rightCol, j.spec.Right)
		}
		for _, c := range cols {
			if c == name {
				return fmt.Errorf("link %s -> %s: column %q already exists in %s", j.spec.Left, j.spec.Right, name, j.spec.Left)
			}
		}
		cols = append(cols, name)
		src = append(src, ri)
		return nil
	}

	if j.spec.RemoteID != "" && !j.spec.DropRemoteID && j.right.Has(j.spec.RemoteID) {
		if err := add(j.spec.RemoteID, j.spec.RemoteID); err != nil {
			return nil, nil, err
		}
	}
	names := make([]string, 0, len(j.spec.ExtraColumns))
	for n := range j.spec.ExtraColumns {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := add(n, j.spec.ExtraColumns[n]); err != nil {
			return nil, nil, err
		}
	}
	return cols, src, nil
}

func (j *joiner) join(how model.JoinKind) (*dataset.Dataset, *Stats, error) {
	cols, src, err := j.outputColumns()
	if err != nil {
		return nil, nil, err
	}
	width := len(j.left.Columns)

	build := func(l []any, r []any) []any {
		row := make([]any, len(cols))
		if l != nil {
			copy(row, l)
		}
		if r != nil {
			for i, ri := range src {
				row[width+i] = r[ri]
			}
		}
		return row
	}

	stats := &Stats{LeftRows: j.left.Len(), RightRows: j.right.Len()}
	rows := make([][]any, 0, j.left.Len())
	rightMatched := make([]bool, j.right.Len())

	if how == model.JoinCross {
		for _, l := range j.left.Rows {
			for ri, r := range j.right.Rows {
				rows = append(rows, build(l, r))
				rightMatched[ri] = true
			}
			if j.right.Len() > 0 {
				stats.Matched++
			}
		}
	} else {
		index := make(map[string][]int, j.right.Len())
		for ri, r := range j.right.Rows {
			k, hasNull := dataset.Key(r, j.ridx)
			if hasNull {
				continue
			}
			index[k] = append(index[k], ri)
		}
		for _, l := range j.left.Rows {
			var matches []int
			if k, hasNull := dataset.Key(l, j.lidx); !hasNull {
				matches = index[k]
			}
			if len(matches) == 0 {
				if how == model.JoinLeft || how == model.JoinOuter {
					rows = append(rows, build(l, nil))
				}
				continue
			}
			stats.Matched++
			for _, ri := range matches {
				rows = append(rows, build(l, j.right.Rows[ri]))
				rightMatched[ri] = true
			}
		}
		if how == model.JoinRight || how == model.JoinOuter {
			for ri, r := range j.right.Rows {
				if rightMatched[ri] {
					continue
				}
				row := build(nil, r)
				for i, li := range j.lidx {
					row[li] = r[j.ridx[i]]
				}
				rows = append(rows, row)
			}
		}
	}

	for _, m := range rightMatched {
		if !m {
			stats.RightOnly++
		}
	}
	stats.LeftOnly = stats.LeftRows - stats.Matched
	stats.OutputRows = len(rows)
	stats.MatchRate = 1
	if stats.LeftRows > 0 {
		stats.MatchRate = float64(stats.Matched) / float64(stats.LeftRows)
	}
	return dataset.New(cols, rows), stats, nil
}

func (j *joiner) postJoin(s *Stats) error {
	c := j.spec.Constraints
	if c == nil {
		return nil
	}
	if c.AllowUnmatchedLeft != nil && !*c.AllowUnmatchedLeft && s.LeftOnly > 0 {
		return j.violation("allow_unmatched_left", float64(s.LeftOnly), 0, "unmatched left rows")
	}
	if c.AllowUnmatchedRight != nil && !*c.AllowUnmatchedRight && s.RightOnly > 0 {
		return j.violation("allow_unmatched_right", float64(s.RightOnly), 0, "unmatched right rows")
	}
	if c.RequireAllLeftMatched && s.LeftOnly > 0 {
		return j.violation("require_all_left_matched", float64(s.LeftOnly), 0, "unmatched left rows")
	}
	if c.RequireAllRightMatched && s.RightOnly > 0 {
		return j.violation("require_all_right_matched", float64(s.RightOnly), 0, "unmatched right rows")
	}
	if c.MinMatchRate != nil && s.MatchRate < *c.MinMatchRate {
		return j.violation("min_match_rate", s.MatchRate, *c.MinMatchRate,
			fmt.Sprintf("%d of %d left rows matched", s.Matched, s.LeftRows))
	}

	increase := s.OutputRows - s.LeftRows
	if c.MaxRowIncreaseAbs != nil && increase > *c.MaxRowIncreaseAbs {
		return j.violation("max_row_increase_abs", float64(increase), float64(*c.MaxRowIncreaseAbs),
			fmt.Sprintf("%d rows in, %d rows out", s.LeftRows, s.OutputRows))
	}
	if c.MaxRowIncreasePct != nil && increase > 0 {
		pct := 100.0
		if s.LeftRows > 0 {
			pct = float64(increase) * 100 / float64(s.LeftRows)
		}
		if pct > *c.MaxRowIncreasePct {
			return j.violation("max_row_increase_pct", pct, *c.MaxRowIncreasePct,
				fmt.Sprintf("%d rows in, %d rows out", s.LeftRows, s.OutputRows))
		}
	}
	if increase < 0 && !c.RowDecreaseAllowed() {
		return j.violation("allow_row_decrease", float64(s.OutputRows), float64(s.LeftRows),
			"join dropped rows")
	}
	return nil
}
