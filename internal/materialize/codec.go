package materialize

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
)

// Codec пишет и читает набор в одном формате хранения.
type Codec interface {
	Write(ds *dataset.Dataset, w io.Writer) error
	Read(r io.Reader) (*dataset.Dataset, error)
	Ext() string
}

// CodecFor: кодек для внешнего формата; inline в файл не пишется.
func CodecFor(format model.StorageFormat) (Codec, error) {
	switch format {
	case model.StorageCSV:
		return CSVCodec{}, nil
	case model.StorageColumnar:
		return ColumnarCodec{}, nil
	default:
		return nil, fmt.Errorf("no file codec for storage %q", format)
	}
}

// CSVCodec пишет заголовок, строку типов колонок и данные. null записывается как \N,
// строка, начинающаяся с обратной косой черты, получает ещё одну. В колонке со
// значениями разных типов каждая ячейка несёт свой тег ("i:7", "s:007").
type CSVCodec struct{}

const (
	csvNull   = `\N`
	csvEscape = '\\'
	kindMixed = "mixed"
)

func (CSVCodec) Ext() string { return ".csv" }

func (CSVCodec) Write(ds *dataset.Dataset, w io.Writer) error {
	kinds := make([]string, len(ds.Columns))
	for i := range ds.Columns {
		kinds[i] = csvColumnKind(ds, i)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Columns); err != nil {
		return err
	}
	if err := cw.Write(kinds); err != nil {
		return err
	}
	rec := make([]string, len(ds.Columns))
	for _, r := range ds.Rows {
		for i, v := range r {
			rec[i] = encodeCell(kinds[i], v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (CSVCodec) Read(r io.Reader) (*dataset.Dataset, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv: missing header or column types")
	}
	cols, kinds := records[0], records[1]
	if len(kinds) != len(cols) {
		return nil, fmt.Errorf("csv: %d column types for %d columns", len(kinds), len(cols))
	}
	rows := make([][]any, 0, len(records)-2)
	for n, rec := range records[2:] {
		row := make([]any, len(rec))
		for i, cell := range rec {
			v, err := decodeCell(kinds[i], cell)
			if err != nil {
				return nil, fmt.Errorf("csv: row %d, column %q: %w", n+1, cols[i], err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return dataset.New(cols, rows), nil
}

// ReadCSV читает обычный CSV (загрузка корневого набора): первая строка заголовок,
// тип каждой ячейки угадывается через ParseCell.
func ReadCSV(r io.Reader) (*dataset.Dataset, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv: missing header")
	}
	rows := make([][]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for i, cell := range rec {
			row[i] = ParseCell(cell)
		}
		rows = append(rows, row)
	}
	return dataset.New(records[0], rows), nil
}

// csvColumnKind: единый тип непустых значений колонки; int и float не смешиваются.
func csvColumnKind(ds *dataset.Dataset, col int) string {
	kind := dataset.KindNull
	for _, r := range ds.Rows {
		k := dataset.KindOf(r[col])
		switch {
		case k == dataset.KindNull || k == kind:
		case kind == dataset.KindNull && k != dataset.KindOther:
			kind = k
		default:
			return kindMixed
		}
	}
	return kind.String()
}

func encodeCell(kind string, v any) string {
	if v == nil {
		return csvNull
	}
	if kind == kindMixed {
		return cellTag(v) + ":" + formatCell(v)
	}
	s := formatCell(v)
	if kind == "string" && s != "" && s[0] == csvEscape {
		return string(csvEscape) + s
	}
	return s
}

func cellTag(v any) string {
	switch dataset.KindOf(v) {
	case dataset.KindBool:
		return "b"
	case dataset.KindInt:
		return "i"
	case dataset.KindFloat:
		return "f"
	case dataset.KindTime:
		return "t"
	default:
		return "s"
	}
}

func decodeCell(kind, cell string) (any, error) {
	if cell == csvNull {
		return nil, nil
	}
	switch kind {
	case kindMixed:
		tag, value, ok := strings.Cut(cell, ":")
		if !ok {
			return nil, fmt.Errorf("untagged value %q", cell)
		}
		return decodeTagged(tag, value)
	case "string":
		if cell != "" && cell[0] == csvEscape {
			return cell[1:], nil
		}
		return cell, nil
	case "int":
		return strconv.ParseInt(cell, 10, 64)
	case "float":
		return strconv.ParseFloat(cell, 64)
	case "bool":
		return strconv.ParseBool(cell)
	case "time":
		return time.Parse(time.RFC3339Nano, cell)
	case "null":
		return nil, fmt.Errorf("value %q in a null column", cell)
	default:
		return nil, fmt.Errorf("unknown column type %q", kind)
	}
}

func decodeTagged(tag, value string) (any, error) {
	switch tag {
	case "s":
		return value, nil
	case "i":
		return strconv.ParseInt(value, 10, 64)
	case "f":
		return strconv.ParseFloat(value, 64)
	case "b":
		return strconv.ParseBool(value)
	case "t":
		return time.Parse(time.RFC3339Nano, value)
	default:
		return nil, fmt.Errorf("unknown value tag %q", tag)
	}
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// ParseCell восстанавливает тип ячейки: пусто = null, затем int, float, bool, иначе строка.
func ParseCell(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// ColumnarCodec пишет YAML по колонкам, columns: [{name, values: [...]}].
type ColumnarCodec struct{}

type columnarDoc struct {
	Rows    int              `yaml:"rows"`
	Columns []columnarColumn `yaml:"columns"`
}

type columnarColumn struct {
	Name   string `yaml:"name"`
	Values []any  `yaml:"values"`
}

func (ColumnarCodec) Ext() string { return ".yml" }

func (ColumnarCodec) Write(ds *dataset.Dataset, w io.Writer) error {
	doc := columnarDoc{Rows: ds.Len(), Columns: make([]columnarColumn, len(ds.Columns))}
	for i, c := range ds.Columns {
		vals := make([]any, ds.Len())
		for j, r := range ds.Rows {
			vals[j] = r[i]
		}
		doc.Columns[i] = columnarColumn{Name: c, Values: vals}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func (ColumnarCodec) Read(r io.Reader) (*dataset.Dataset, error) {
	var doc columnarDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("columnar: %w", err)
	}
	cols := make([]string, len(doc.Columns))
	for i, c := range doc.Columns {
		if len(c.Values) != doc.Rows {
			return nil, fmt.Errorf("columnar: column %q has %d values, expected %d", c.Name, len(c.Values), doc.Rows)
		}
		cols[i] = c.Name
	}
	rows := make([][]any, doc.Rows)
	for j := range rows {
		row := make([]any, len(cols))
		for i, c := range doc.Columns {
			row[i] = c.Values[j]
		}
		rows[j] = row
	}
	return dataset.New(cols, rows), nil
}
