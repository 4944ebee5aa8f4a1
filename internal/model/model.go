package model

import "time"

// SourceKind, откуда сущность берёт данные
type SourceKind string

const (
	SourceRoot    SourceKind = "data"   // выборка из корневого набора (таблица/лист)
	SourceEntity  SourceKind = "entity" // выборка из уже разрешённой сущности
	SourceLiteral SourceKind = "fixed"  // значения прямо в конфиге
	SourceQuery   SourceKind = "sql"    // непрозрачный запрос к внешнему источнику
)

// Kinds перечисляет все допустимые виды источников (порядок стабилен).
func Kinds() []SourceKind {
	return []SourceKind{SourceRoot, SourceEntity, SourceLiteral, SourceQuery}
}

func (k SourceKind) Valid() bool {
	switch k {
	case SourceRoot, SourceEntity, SourceLiteral, SourceQuery:
		return true
	}
	return false
}

type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinRight JoinKind = "right"
	JoinOuter JoinKind = "outer"
	JoinCross JoinKind = "cross"
)

func (j JoinKind) Valid() bool {
	switch j {
	case JoinInner, JoinLeft, JoinRight, JoinOuter, JoinCross:
		return true
	}
	return false
}

type Cardinality string

const (
	OneToOne   Cardinality = "one_to_one"
	ManyToOne  Cardinality = "many_to_one"
	OneToMany  Cardinality = "one_to_many"
	ManyToMany Cardinality = "many_to_many"
)

func (c Cardinality) Valid() bool {
	switch c {
	case OneToOne, ManyToOne, OneToMany, ManyToMany:
		return true
	}
	return false
}

type AppendMode string

const (
	AppendAll      AppendMode = "all"
	AppendDistinct AppendMode = "distinct"
)

type StorageFormat string

const (
	StorageInline   StorageFormat = "inline"
	StorageColumnar StorageFormat = "columnar"
	StorageCSV      StorageFormat = "csv"
)

func (s StorageFormat) Valid() bool {
	switch s {
	case StorageInline, StorageColumnar, StorageCSV:
		return true
	}
	return false
}

// Entity описывает одну таблицу проекта. Name берётся из ключа в секции entities.
type Entity struct {
	Name string `yaml:"-"`

	Type             SourceKind     `yaml:"type,omitempty"`
	SourceEntity     string         `yaml:"source,omitempty"`
	DataSource       string         `yaml:"data_source,omitempty"`
	Query            string         `yaml:"query,omitempty"`
	CheckColumnNames bool           `yaml:"check_column_names,omitempty"`
	Keys             []string       `yaml:"keys,omitempty"`
	SurrogateID      string         `yaml:"surrogate_id,omitempty"`
	Columns          []string       `yaml:"columns,omitempty"`
	ExtraColumns     map[string]any `yaml:"extra_columns,omitempty"` // имя -> колонка источника или константа
	Values           [][]any        `yaml:"values,omitempty"`
	DependsOn        []string       `yaml:"depends_on,omitempty"`

	Filters        []FilterSpec    `yaml:"filters,omitempty"`
	DropEmptyRows  *ColumnSelector `yaml:"drop_empty_rows,omitempty"`
	DropDuplicates *DuplicateRule  `yaml:"drop_duplicates,omitempty"`

	ForeignKeys []ForeignKeyLink `yaml:"foreign_keys,omitempty"`
	Unnest      *ReshapeSpec     `yaml:"unnest,omitempty"`
	Append      []*Entity        `yaml:"append,omitempty"`
	AppendMode  AppendMode       `yaml:"append_mode,omitempty"`

	Materialized *MaterializationRecord `yaml:"materialized,omitempty"`
}

// ForeignKeyLink связывает сущность (слева) с уже разрешённой сущностью Entity (справа).
type ForeignKeyLink struct {
	Entity       string         `yaml:"entity"`
	LocalKeys    []string       `yaml:"local_keys,omitempty"`
	RemoteKeys   []string       `yaml:"remote_keys,omitempty"`
	How          JoinKind       `yaml:"how,omitempty"`           // default inner
	ExtraColumns map[string]any `yaml:"extra_columns,omitempty"` // новое локальное имя -> колонка справа
	DropRemoteID bool           `yaml:"drop_remote_id,omitempty"`
	Constraints  *Constraints   `yaml:"constraints,omitempty"`
}

// JoinKind возвращает тип соединения с учётом значения по умолчанию.
func (fk ForeignKeyLink) JoinKind() JoinKind {
	if fk.How == "" {
		return JoinInner
	}
	return fk.How
}

// Constraints: все поля опциональны; отсутствие = не проверять.
type Constraints struct {
	Cardinality            Cardinality `yaml:"cardinality,omitempty"`
	AllowUnmatchedLeft     *bool       `yaml:"allow_unmatched_left,omitempty"`
	AllowUnmatchedRight    *bool       `yaml:"allow_unmatched_right,omitempty"`
	RequireAllLeftMatched  bool        `yaml:"require_all_left_matched,omitempty"`
	RequireAllRightMatched bool        `yaml:"require_all_right_matched,omitempty"`
	MinMatchRate           *float64    `yaml:"min_match_rate,omitempty"`
	RequireUniqueLeft      bool        `yaml:"require_unique_left,omitempty"`
	RequireUniqueRight     bool        `yaml:"require_unique_right,omitempty"`
	AllowNullKeys          *bool       `yaml:"allow_null_keys,omitempty"`
	MaxRowIncreasePct      *float64    `yaml:"max_row_increase_pct,omitempty"`
	MaxRowIncreaseAbs      *int        `yaml:"max_row_increase_abs,omitempty"`
	AllowRowDecrease       *bool       `yaml:"allow_row_decrease,omitempty"`
}

// NullKeysAllowed: по умолчанию true.
func (c *Constraints) NullKeysAllowed() bool {
	return c == nil || c.AllowNullKeys == nil || *c.AllowNullKeys
}

// RowDecreaseAllowed: по умолчанию false.
func (c *Constraints) RowDecreaseAllowed() bool {
	return c != nil && c.AllowRowDecrease != nil && *c.AllowRowDecrease
}

// ReshapeSpec: melt широкой таблицы в длинную.
type ReshapeSpec struct {
	IDVars    []string `yaml:"id_vars,omitempty"`
	ValueVars []string `yaml:"value_vars,omitempty"`
	VarName   string   `yaml:"var_name,omitempty"`
	ValueName string   `yaml:"value_name,omitempty"`
}

// FilterSpec: именованный фильтр и его параметры (плоско, рядом с type).
type FilterSpec struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:",inline"`
}

func (f FilterSpec) String(name string) string {
	if v, ok := f.Params[name].(string); ok {
		return v
	}
	return ""
}

func (f FilterSpec) Bool(name string) bool {
	v, _ := f.Params[name].(bool)
	return v
}

// MaterializationRecord хранит снимок исходной конфигурации для отката.
type MaterializationRecord struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	SourceState    *Entity       `yaml:"source_state" json:"-"`
	MaterializedAt time.Time     `yaml:"materialized_at" json:"materialized_at"`
	MaterializedBy string        `yaml:"materialized_by,omitempty" json:"materialized_by,omitempty"`
	Storage        StorageFormat `yaml:"storage" json:"storage"`
	DataLocation   string        `yaml:"data_location,omitempty" json:"data_location,omitempty"`
	Checksum       string        `yaml:"checksum,omitempty" json:"checksum,omitempty"`
	RowCount       int           `yaml:"row_count" json:"row_count"`
}

func (e *Entity) IsMaterialized() bool {
	return e != nil && e.Materialized != nil && e.Materialized.Enabled
}

// DataSource: подключение к внешнему источнику для sql-сущностей.
type DataSource struct {
	Name     string `yaml:"name,omitempty"`
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
	SSL      bool   `yaml:"ssl,omitempty"`
}

// Options: секция options. Rename читает только слой выгрузки.
type Options struct {
	DataSources map[string]DataSource        `yaml:"data_sources,omitempty"`
	Rename      map[string]map[string]string `yaml:"rename,omitempty"`
}

func (o Options) empty() bool {
	return len(o.DataSources) == 0 && len(o.Rename) == 0
}

// Project: весь конфигурационный документ. Order хранит порядок объявления сущностей.
type Project struct {
	Options  Options
	Entities map[string]*Entity
	Order    []string
}

// NewProject собирает проект из сущностей в переданном порядке.
func NewProject(entities ...*Entity) *Project {
	p := &Project{Entities: make(map[string]*Entity, len(entities))}
	for _, e := range entities {
		p.Add(e)
	}
	return p
}

// Add добавляет (или заменяет) сущность, сохраняя порядок объявления.
func (p *Project) Add(e *Entity) {
	if p.Entities == nil {
		p.Entities = make(map[string]*Entity)
	}
	if _, exists := p.Entities[e.Name]; !exists {
		p.Order = append(p.Order, e.Name)
	}
	p.Entities[e.Name] = e
}

func (p *Project) Entity(name string) (*Entity, bool) {
	e, ok := p.Entities[name]
	return e, ok && e != nil
}
