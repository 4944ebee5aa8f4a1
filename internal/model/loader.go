package model

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"shapeshifter/internal/document"
)

// LoadFile читает проект: сначала разрешаются @include/@value, потом типизированный разбор.
func LoadFile(path string) (*Project, error) {
	root, err := document.LoadFile(path)
	if err != nil {
		return nil, err
	}
	var p Project
	if err := root.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode project %s: %w", path, err)
	}
	return &p, nil
}

// Parse разбирает проект из памяти (относительные @include считаются от текущего каталога).
func Parse(data []byte) (*Project, error) {
	root, err := document.Parse(data, ".")
	if err != nil {
		return nil, err
	}
	var p Project
	if err := root.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode project: %w", err)
	}
	return &p, nil
}

// LoadDir собирает проект из всех *.yml/*.yaml каталога (рекурсивно, в лексическом порядке).
// Повтор имени сущности между файлами считается ошибкой.
func LoadDir(root string) (*Project, error) {
	out := &Project{Entities: map[string]*Entity{}}
	origin := map[string]string{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if d.IsDir() || (ext != ".yml" && ext != ".yaml") {
			return nil
		}
		p, err := LoadFile(path)
		if err != nil {
			return err
		}
		for _, name := range p.Order {
			if prev, exists := origin[name]; exists {
				return fmt.Errorf("duplicate entity %q (files: %s, %s)", name, prev, path)
			}
			origin[name] = path
			out.Add(p.Entities[name])
		}
		for k, v := range p.Options.DataSources {
			if out.Options.DataSources == nil {
				out.Options.DataSources = map[string]DataSource{}
			}
			out.Options.DataSources[k] = v
		}
		for k, v := range p.Options.Rename {
			if out.Options.Rename == nil {
				out.Options.Rename = map[string]map[string]string{}
			}
			out.Options.Rename[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Marshal сериализует проект в YAML с сохранением порядка сущностей.
func Marshal(p *Project) ([]byte, error) {
	return yaml.Marshal(p)
}

// WriteFile атомарно записывает проект (tmp + rename).
func WriteFile(p *Project, path string) error {
	data, err := Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write project file %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

type projectDoc struct {
	Options  Options   `yaml:"options,omitempty"`
	Entities yaml.Node `yaml:"entities"`
}

func (p *Project) UnmarshalYAML(value *yaml.Node) error {
	var doc projectDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	p.Options = doc.Options
	p.Entities = map[string]*Entity{}
	p.Order = nil

	ents := &doc.Entities
	if ents.Kind == 0 {
		return nil
	}
	if ents.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: entities must be a mapping", ents.Line)
	}
	for i := 0; i+1 < len(ents.Content); i += 2 {
		k, v := ents.Content[i], ents.Content[i+1]
		name := k.Value
		if _, exists := p.Entities[name]; exists {
			return fmt.Errorf("line %d: duplicate entity %q", k.Line, name)
		}
		e := &Entity{}
		if err := v.Decode(e); err != nil {
			return fmt.Errorf("entity %q: %w", name, err)
		}
		e.SetName(name)
		p.Add(e)
	}
	return nil
}

func (p Project) MarshalYAML() (any, error) {
	ents := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, name := range p.Order {
		e, ok := p.Entities[name]
		if !ok {
			continue
		}
		var v yaml.Node
		if err := v.Encode(e); err != nil {
			return nil, fmt.Errorf("entity %q: %w", name, err)
		}
		ents.Content = append(ents.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}, &v)
	}
	type out struct {
		Options  *Options  `yaml:"options,omitempty"`
		Entities yaml.Node `yaml:"entities"`
	}
	o := out{Entities: *ents}
	if !p.Options.empty() {
		opts := p.Options
		o.Options = &opts
	}
	return o, nil
}

// SetName задаёт имя сущности и производные имена фрагментов append.
func (e *Entity) SetName(name string) {
	e.Name = name
	for j, frag := range e.Append {
		if frag != nil {
			frag.Name = fmt.Sprintf("%s.append[%d]", name, j)
		}
	}
}

// Clone копирует сущность глубоко через YAML (снимки, изоляция прогона от правок).
func (e *Entity) Clone() (*Entity, error) {
	data, err := yaml.Marshal(e)
	if err != nil {
		return nil, err
	}
	var out Entity
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	out.Name = e.Name
	for i, frag := range out.Append {
		if frag != nil && i < len(e.Append) && e.Append[i] != nil {
			frag.Name = e.Append[i].Name
		}
	}
	return &out, nil
}

func (p *Project) Clone() (*Project, error) {
	data, err := Marshal(p)
	if err != nil {
		return nil, err
	}
	var out Project
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
