package api

import (
	"cmp"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"shapeshifter/internal/dataset"
)

// SortKey: колонка и направление, "-col" сортирует по убыванию.
type SortKey struct {
	Field string
	Desc  bool
}

// ListParams задают страницу превью.
type ListParams struct {
	Limit  int
	Offset int
	Sort   []SortKey
	Nulls  string // last | first
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// param берёт первое непустое значение из перечисленных имён (_limit и limit равноправны).
func param(q url.Values, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(q.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func intParam(q url.Values, def, upper int, names ...string) int {
	n, err := strconv.Atoi(param(q, names...))
	if err != nil || n < 0 || (upper > 0 && n > upper) {
		return def
	}
	return n
}

func parseSort(v string) []SortKey {
	var keys []SortKey
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		key := SortKey{Field: strings.TrimLeft(part, "+-"), Desc: strings.HasPrefix(part, "-")}
		if key.Field != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func parseListParams(q url.Values) ListParams {
	lp := ListParams{
		Limit:  intParam(q, defaultLimit, maxLimit, "_limit", "limit"),
		Offset: intParam(q, 0, 0, "_offset", "offset"),
		Sort:   parseSort(param(q, "_sort", "sort")),
		Nulls:  strings.ToLower(param(q, "nulls")),
	}
	if lp.Nulls != "first" {
		lp.Nulls = "last"
	}
	return lp
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// cmpByKey сравнивает строки по колонке idx. null ставится по nullsPolicy независимо
// от направления; числа сравниваются как числа, остальное как строки.
func cmpByKey(a, b []any, idx int, nullsPolicy string, desc bool) int {
	va, vb := a[idx], b[idx]
	switch {
	case va == nil && vb == nil:
		return 0
	case va == nil || vb == nil:
		first := va == nil
		if nullsPolicy == "last" {
			first = !first
		}
		if first {
			return -1
		}
		return +1
	}

	var rel int
	fa, oka := toFloat(va)
	fb, okb := toFloat(vb)
	if oka && okb {
		rel = cmp.Compare(fa, fb)
	} else {
		rel = strings.Compare(fmt.Sprint(va), fmt.Sprint(vb))
	}
	if desc {
		rel = -rel
	}
	return rel
}

// page стабильно сортирует копию строк и вырезает страницу; неизвестная колонка сортировки даёт ошибку.
func page(ds *dataset.Dataset, lp ListParams) (*dataset.Dataset, error) {
	type kspec struct {
		idx  int
		desc bool
	}
	specs := make([]kspec, 0, len(lp.Sort))
	for _, k := range lp.Sort {
		idx := ds.Index(k.Field)
		if idx < 0 {
			return nil, fmt.Errorf("unknown sort column %q", k.Field)
		}
		specs = append(specs, kspec{idx: idx, desc: k.Desc})
	}

	rows := append([][]any(nil), ds.Rows...)
	if len(specs) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, s := range specs {
				if c := cmpByKey(rows[i], rows[j], s.idx, lp.Nulls, s.desc); c != 0 {
					return c < 0
				}
			}
			return false
		})
	}

	start := lp.Offset
	if start > len(rows) {
		start = len(rows)
	}
	end := len(rows)
	if lp.Limit > 0 && start+lp.Limit < end {
		end = start + lp.Limit
	}
	return dataset.New(ds.Columns, rows[start:end]), nil
}
