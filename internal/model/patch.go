package model

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"shapeshifter/internal/document"
)

// entityChange: before == nil для новой сущности, after == nil для удалённой.
type entityChange struct {
	name   string
	before *Entity
	after  *Entity
}

// Save записывает отличия after от before в исходный файл или каталог проекта.
// Переписываются только узлы изменённых сущностей, остальной документ (включая
// @include и @value) остаётся как был записан. Файла нет: пишется весь проект.
func Save(path string, before, after *Project) error {
	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return WriteFile(after, path)
	}
	if err != nil {
		return err
	}

	changes, err := diffEntities(before, after)
	if err != nil {
		return err
	}
	optsChanged, err := optionsChanged(before.Options, after.Options)
	if err != nil {
		return err
	}

	if st.IsDir() {
		if optsChanged {
			return fmt.Errorf("project directory %s: options cannot be saved in place", path)
		}
		return saveDir(path, changes)
	}

	var opts *Options
	if optsChanged {
		opts = &after.Options
	}
	rest, err := patchFile(path, changes, true, opts)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("entity %q is not declared inline in %s and cannot be saved", rest[0].name, path)
	}
	return nil
}

func saveDir(root string, changes []entityChange) error {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if !d.IsDir() && (ext == ".yml" || ext == ".yaml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	pending := changes
	for _, f := range files {
		if len(pending) == 0 {
			break
		}
		if pending, err = patchFile(f, pending, false, nil); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("entity %q is not declared inline in any file of %s and cannot be saved", pending[0].name, root)
	}
	return nil
}

func diffEntities(before, after *Project) ([]entityChange, error) {
	var out []entityChange
	for _, name := range before.Order {
		b := before.Entities[name]
		a, ok := after.Entity(name)
		if !ok {
			out = append(out, entityChange{name: name, before: b})
			continue
		}
		same, err := sameEntity(b, a)
		if err != nil {
			return nil, err
		}
		if !same {
			out = append(out, entityChange{name: name, before: b, after: a})
		}
	}
	for _, name := range after.Order {
		if _, ok := before.Entity(name); !ok {
			out = append(out, entityChange{name: name, after: after.Entities[name]})
		}
	}
	return out, nil
}

func sameEntity(a, b *Entity) (bool, error) {
	da, err := yaml.Marshal(a)
	if err != nil {
		return false, err
	}
	db, err := yaml.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}

func optionsChanged(a, b Options) (bool, error) {
	da, err := yaml.Marshal(a)
	if err != nil {
		return false, err
	}
	db, err := yaml.Marshal(b)
	if err != nil {
		return false, err
	}
	return !bytes.Equal(da, db), nil
}

// patchFile применяет к файлу изменения сущностей, объявленных в нём напрямую.
// Возвращает изменения, которые в этом файле применить нельзя. Файл без применённых
// изменений не перезаписывается.
func patchFile(path string, changes []entityChange, addNew bool, opts *Options) ([]entityChange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: document root must be a mapping", path)
	}

	ents := mappingValue(top, "entities")
	if ents == nil && addNew {
		ents = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setMappingValue(top, "entities", ents)
	}

	var rest []entityChange
	applied := 0
	for _, ch := range changes {
		if ents == nil || ents.Kind != yaml.MappingNode {
			rest = append(rest, ch)
			continue
		}
		i := mappingIndex(ents, ch.name)
		switch {
		case i < 0 && (ch.before != nil || !addNew):
			rest = append(rest, ch)
			continue
		case ch.after == nil:
			ents.Content = append(ents.Content[:i], ents.Content[i+2:]...)
		default:
			var old *yaml.Node
			if i >= 0 {
				old = ents.Content[i+1]
			}
			n, err := entityNode(old, ch)
			if err != nil {
				return nil, fmt.Errorf("entity %q: %w", ch.name, err)
			}
			if i >= 0 {
				ents.Content[i+1] = n
			} else {
				ents.Content = append(ents.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: ch.name}, n)
			}
		}
		applied++
	}

	if opts != nil {
		if opts.empty() {
			removeMappingKey(top, "options")
		} else {
			var on yaml.Node
			if err := on.Encode(opts); err != nil {
				return nil, fmt.Errorf("options: %w", err)
			}
			setMappingValue(top, "options", &on)
		}
		applied++
	}
	if applied == 0 {
		return rest, nil
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	return rest, writeAtomic(path, out)
}

// entityNode строит узел изменённой сущности. При материализации в source_state кладётся
// исходный узел как был записан, при откате он же возвращается на место.
func entityNode(old *yaml.Node, ch entityChange) (*yaml.Node, error) {
	if old != nil && ch.before != nil {
		if m := ch.before.Materialized; m != nil && m.SourceState != nil {
			if same, err := sameEntity(ch.after, m.SourceState); err != nil {
				return nil, err
			} else if same {
				if raw, err := document.Lookup(old, "materialized.source_state"); err == nil {
					return document.Clone(raw), nil
				}
			}
		}
	}

	var n yaml.Node
	if err := n.Encode(ch.after); err != nil {
		return nil, err
	}
	if old == nil || ch.before == nil {
		return &n, nil
	}
	if m := ch.after.Materialized; m != nil && m.SourceState != nil {
		same, err := sameEntity(m.SourceState, ch.before)
		if err != nil {
			return nil, err
		}
		if rec := mappingValue(&n, "materialized"); same && rec != nil {
			setMappingValue(rec, "source_state", document.Clone(old))
		}
	}
	return &n, nil
}

func mappingIndex(m *yaml.Node, key string) int {
	if m == nil || m.Kind != yaml.MappingNode {
		return -1
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if i := mappingIndex(m, key); i >= 0 {
		return m.Content[i+1]
	}
	return nil
}

func setMappingValue(m *yaml.Node, key string, v *yaml.Node) {
	if i := mappingIndex(m, key); i >= 0 {
		m.Content[i+1] = v
		return
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
}

func removeMappingKey(m *yaml.Node, key string) {
	if i := mappingIndex(m, key); i >= 0 {
		m.Content = append(m.Content[:i], m.Content[i+2:]...)
	}
}
