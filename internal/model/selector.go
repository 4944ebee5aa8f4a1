package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ColumnSelector: `true` выбирает все колонки, `[a, b]` только перечисленные.
type ColumnSelector struct {
	All     bool
	Columns []string
}

func (s *ColumnSelector) Enabled() bool {
	return s != nil && (s.All || len(s.Columns) > 0)
}

func (s *ColumnSelector) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := value.Decode(&b); err != nil {
			return fmt.Errorf("line %d: expected bool or list of columns", value.Line)
		}
		s.All = b
		return nil
	case yaml.SequenceNode:
		return value.Decode(&s.Columns)
	default:
		return fmt.Errorf("line %d: expected bool or list of columns", value.Line)
	}
}

func (s ColumnSelector) MarshalYAML() (any, error) {
	if len(s.Columns) > 0 {
		return s.Columns, nil
	}
	return s.All, nil
}

// DuplicateRule: `true` сравнивает все колонки, `[a, b]` подмножество,
// `"other"` ключи (keys) сущности other.
type DuplicateRule struct {
	All     bool
	Columns []string
	KeysOf  string
}

func (r *DuplicateRule) Enabled() bool {
	return r != nil && (r.All || len(r.Columns) > 0 || r.KeysOf != "")
}

func (r *DuplicateRule) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!bool" {
			return value.Decode(&r.All)
		}
		if value.Tag != "!!str" {
			return fmt.Errorf("line %d: drop_duplicates expects bool, list of columns or entity name", value.Line)
		}
		r.KeysOf = value.Value
		return nil
	case yaml.SequenceNode:
		return value.Decode(&r.Columns)
	default:
		return fmt.Errorf("line %d: drop_duplicates expects bool, list of columns or entity name", value.Line)
	}
}

func (r DuplicateRule) MarshalYAML() (any, error) {
	switch {
	case r.KeysOf != "":
		return r.KeysOf, nil
	case len(r.Columns) > 0:
		return r.Columns, nil
	default:
		return r.All, nil
	}
}
