// Package dataset holds the runtime tabular data produced while resolving a project:
// an ordered column schema plus row values, and the run-scoped store keyed by entity name.
//
// Values are plain Go values as decoded from YAML/JSON/SQL drivers: nil, bool, int64/int,
// float64, string, time.Time. nil is the null marker.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dataset: упорядоченная схема колонок и строки.
type Dataset struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// New создаёт набор; строки не копируются.
func New(columns []string, rows [][]any) *Dataset {
	if rows == nil {
		rows = [][]any{}
	}
	return &Dataset{Columns: append([]string(nil), columns...), Rows: rows}
}

func (d *Dataset) Len() int { return len(d.Rows) }

// Index возвращает позицию колонки или -1.
func (d *Dataset) Index(col string) int {
	for i, c := range d.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

func (d *Dataset) Has(col string) bool { return d.Index(col) >= 0 }

// Indexes возвращает позиции колонок; отсутствующая колонка даёт ошибку.
func (d *Dataset) Indexes(cols []string) ([]int, error) {
	out := make([]int, len(cols))
	for i, c := range cols {
		idx := d.Index(c)
		if idx < 0 {
			return nil, fmt.Errorf("column %q not found (have %s)", c, strings.Join(d.Columns, ", "))
		}
		out[i] = idx
	}
	return out, nil
}

func (d *Dataset) Missing(cols []string) []string {
	var out []string
	for _, c := range cols {
		if !d.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Column возвращает значения одной колонки.
func (d *Dataset) Column(col string) ([]any, error) {
	idx := d.Index(col)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found", col)
	}
	out := make([]any, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r[idx]
	}
	return out, nil
}

// Select проецирует набор на cols в указанном порядке.
func (d *Dataset) Select(cols []string) (*Dataset, error) {
	idx, err := d.Indexes(cols)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, len(d.Rows))
	for i, r := range d.Rows {
		nr := make([]any, len(idx))
		for j, k := range idx {
			nr[j] = r[k]
		}
		rows[i] = nr
	}
	return New(cols, rows), nil
}

// Clone копирует схему и строки (значения-скаляры разделяются).
func (d *Dataset) Clone() *Dataset {
	rows := make([][]any, len(d.Rows))
	for i, r := range d.Rows {
		rows[i] = append([]any(nil), r...)
	}
	return New(d.Columns, rows)
}

// Filter оставляет строки, для которых keep вернул true.
func (d *Dataset) Filter(keep func(row []any) bool) *Dataset {
	rows := make([][]any, 0, len(d.Rows))
	for _, r := range d.Rows {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return New(d.Columns, rows)
}

// AddColumn добавляет колонку; value вызывается для каждой строки.
func (d *Dataset) AddColumn(name string, value func(i int, row []any) any) (*Dataset, error) {
	if d.Has(name) {
		return nil, fmt.Errorf("column %q already exists", name)
	}
	rows := make([][]any, len(d.Rows))
	for i, r := range d.Rows {
		nr := make([]any, len(r)+1)
		copy(nr, r)
		nr[len(r)] = value(i, r)
		rows[i] = nr
	}
	return New(append(append([]string(nil), d.Columns...), name), rows), nil
}

// PrependIdentity добавляет первой колонкой последовательный суррогатный ключ 1..N.
// Если колонка уже есть, набор возвращается без изменений.
func (d *Dataset) PrependIdentity(name string) *Dataset {
	if name == "" || d.Has(name) {
		return d
	}
	rows := make([][]any, len(d.Rows))
	for i, r := range d.Rows {
		nr := make([]any, 0, len(r)+1)
		nr = append(nr, int64(i+1))
		nr = append(nr, r...)
		rows[i] = nr
	}
	return New(append([]string{name}, d.Columns...), rows)
}

// IsEmpty: null или пустая после trim строка.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// Key: каноническое строковое представление набора значений для хеш-соединений
// и поиска дублей. Каждая часть пишется как "<длина>:<значение>", поэтому разные
// наборы не склеиваются в один ключ. hasNull=true, если хотя бы одно значение null.
func Key(row []any, idx []int) (key string, hasNull bool) {
	var sb strings.Builder
	for _, k := range idx {
		v := row[k]
		if v == nil {
			hasNull = true
		}
		c := Canonical(v)
		sb.WriteString(strconv.Itoa(len(c)))
		sb.WriteByte(':')
		sb.WriteString(c)
	}
	return sb.String(), hasNull
}

// Canonical приводит значение к строке так, что 1, int64(1) и 1.0 совпадают.
func Canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00null"
	case string:
		return "s:" + t
	case bool:
		return "b:" + strconv.FormatBool(t)
	case int:
		return "n:" + strconv.FormatInt(int64(t), 10)
	case int32:
		return "n:" + strconv.FormatInt(int64(t), 10)
	case int64:
		return "n:" + strconv.FormatInt(t, 10)
	case uint64:
		return "n:" + strconv.FormatUint(t, 10)
	case float32:
		return canonicalFloat(float64(t))
	case float64:
		return canonicalFloat(t)
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return "s:" + string(t)
	default:
		return "v:" + fmt.Sprintf("%v", v)
	}
}

func canonicalFloat(f float64) string {
	if f == float64(int64(f)) {
		return "n:" + strconv.FormatInt(int64(f), 10)
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
}

// DropDuplicates оставляет первую строку для каждой комбинации значений cols
// (пустой cols означает все колонки).
func (d *Dataset) DropDuplicates(cols []string) (*Dataset, error) {
	if len(cols) == 0 {
		cols = d.Columns
	}
	idx, err := d.Indexes(cols)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(d.Rows))
	return d.Filter(func(row []any) bool {
		k, _ := Key(row, idx)
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
		return true
	}), nil
}

// DropEmpty удаляет строки, где все значения cols пустые (пустой cols означает все колонки).
func (d *Dataset) DropEmpty(cols []string) (*Dataset, error) {
	if len(cols) == 0 {
		cols = d.Columns
	}
	idx, err := d.Indexes(cols)
	if err != nil {
		return nil, err
	}
	return d.Filter(func(row []any) bool {
		for _, k := range idx {
			if !IsEmpty(row[k]) {
				return true
			}
		}
		return false
	}), nil
}
