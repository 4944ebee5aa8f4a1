package dataset

import "time"

// Kind: грубый тип значения колонки для проверок совместимости.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	default:
		return "other"
	}
}

func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindFloat
	case string, []byte:
		return KindString
	case time.Time:
		return KindTime
	default:
		return KindOther
	}
}

// ColumnKind выводит тип колонки по непустым значениям: int+float = float,
// разнородные значения = KindOther, только null = KindNull.
func (d *Dataset) ColumnKind(col string) Kind {
	idx := d.Index(col)
	if idx < 0 {
		return KindNull
	}
	kind := KindNull
	for _, r := range d.Rows {
		k := KindOf(r[idx])
		switch {
		case k == KindNull || k == kind:
		case kind == KindNull:
			kind = k
		case numeric(kind) && numeric(k):
			kind = KindFloat
		default:
			return KindOther
		}
	}
	return kind
}

// Compatible: можно ли склеить колонки этих типов без потери смысла.
func Compatible(a, b Kind) bool {
	if a == KindNull || b == KindNull || a == b {
		return true
	}
	return numeric(a) && numeric(b)
}

func numeric(k Kind) bool { return k == KindInt || k == KindFloat }
