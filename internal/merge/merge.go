// Package merge concatenates an entity's base dataset with its append fragments.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
)

// Fragment: набор одного фрагмента append и его имя для сообщений об ошибках.
type Fragment struct {
	Name string
	Data *dataset.Dataset
}

// ColumnMismatchError: фрагмент не совместим с базой по набору колонок или типу значений.
type ColumnMismatchError struct {
	Fragment string
	Column   string
	Reason   string
}

func (e *ColumnMismatchError) Error() string {
	return fmt.Sprintf("fragment %q: column %q: %s", e.Fragment, e.Column, e.Reason)
}

// Merge проверяет совместимость всех фрагментов и только затем склеивает строки
// в порядке объявления. Строки фрагмента переставляются в порядок колонок базы.
// AppendDistinct удаляет дубли по всем колонкам результата.
func Merge(base *dataset.Dataset, fragments []Fragment, mode model.AppendMode) (*dataset.Dataset, error) {
	switch mode {
	case "", model.AppendAll, model.AppendDistinct:
	default:
		return nil, fmt.Errorf("unknown append mode %q", mode)
	}

	kinds := make(map[string]dataset.Kind, len(base.Columns))
	for _, c := range base.Columns {
		kinds[c] = base.ColumnKind(c)
	}

	positions := make([][]int, len(fragments))
	for i, f := range fragments {
		if err := sameColumns(base, f); err != nil {
			return nil, err
		}
		idx, err := f.Data.Indexes(base.Columns)
		if err != nil {
			return nil, err
		}
		for _, c := range base.Columns {
			fk := f.Data.ColumnKind(c)
			if !dataset.Compatible(kinds[c], fk) {
				return nil, &ColumnMismatchError{
					Fragment: f.Name,
					Column:   c,
					Reason:   fmt.Sprintf("incompatible types: %s vs %s", kinds[c], fk),
				}
			}
			kinds[c] = widen(kinds[c], fk)
		}
		positions[i] = idx
	}

	total := base.Len()
	for _, f := range fragments {
		total += f.Data.Len()
	}
	rows := make([][]any, 0, total)
	for _, r := range base.Rows {
		rows = append(rows, append([]any(nil), r...))
	}
	for i, f := range fragments {
		for _, r := range f.Data.Rows {
			nr := make([]any, len(positions[i]))
			for j, k := range positions[i] {
				nr[j] = r[k]
			}
			rows = append(rows, nr)
		}
	}
	out := dataset.New(base.Columns, rows)
	if mode == model.AppendDistinct {
		return out.DropDuplicates(nil)
	}
	return out, nil
}

// sameColumns сравнивает наборы колонок без учёта порядка и называет первое расхождение.
func sameColumns(base *dataset.Dataset, f Fragment) error {
	if missing := f.Data.Missing(base.Columns); len(missing) > 0 {
		sort.Strings(missing)
		return &ColumnMismatchError{
			Fragment: f.Name,
			Column:   missing[0],
			Reason:   "missing in fragment (fragment has " + strings.Join(f.Data.Columns, ", ") + ")",
		}
	}
	if extra := base.Missing(f.Data.Columns); len(extra) > 0 {
		sort.Strings(extra)
		return &ColumnMismatchError{
			Fragment: f.Name,
			Column:   extra[0],
			Reason:   "not present in base (base has " + strings.Join(base.Columns, ", ") + ")",
		}
	}
	if len(f.Data.Columns) != len(base.Columns) {
		return &ColumnMismatchError{Fragment: f.Name, Reason: "duplicate column names"}
	}
	return nil
}

// widen возвращает тип колонки после склейки. null уступает любому, int+float = float.
func widen(a, b dataset.Kind) dataset.Kind {
	switch {
	case a == dataset.KindNull:
		return b
	case b == dataset.KindNull || a == b:
		return a
	case (a == dataset.KindInt && b == dataset.KindFloat) || (a == dataset.KindFloat && b == dataset.KindInt):
		return dataset.KindFloat
	}
	return dataset.KindOther
}
