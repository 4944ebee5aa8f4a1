// Package document resolves cross-references inside a project document before it is
// decoded into the typed model.
//
// Two forms are supported, both as whole scalar values:
//
//	keys: "@value: entities.site.keys"   # copy of the node at a dotted path
//	entities: "@include: entities.yml"   # parsed content of another file
//
// Includes are resolved depth-first relative to the including file; value pointers are
// resolved in passes until nothing changes.
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	valuePrefix   = "@value:"
	includePrefix = "@include:"

	// maxPasses ограничивает число проходов по @value; больше означает цикл.
	maxPasses = 32
)

// LoadFile читает файл и возвращает разрешённый корневой узел (mapping).
func LoadFile(path string) (*yaml.Node, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	root, err := loadIncluded(abs, nil)
	if err != nil {
		return nil, err
	}
	if err := ResolveValues(root); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return root, nil
}

// Parse разбирает документ из памяти; относительные @include ищутся в baseDir.
func Parse(data []byte, baseDir string) (*yaml.Node, error) {
	root, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := resolveIncludes(root, baseDir, nil); err != nil {
		return nil, err
	}
	if err := ResolveValues(root); err != nil {
		return nil, err
	}
	return root, nil
}

func parse(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc.Kind == 0 {
		// пустой документ
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0], nil
	}
	return &doc, nil
}

func loadIncluded(path string, stack []string) (*yaml.Node, error) {
	for _, p := range stack {
		if p == path {
			return nil, fmt.Errorf("include cycle: %s", strings.Join(append(stack, path), " -> "))
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	root, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := resolveIncludes(root, filepath.Dir(path), append(stack, path)); err != nil {
		return nil, err
	}
	return root, nil
}

func resolveIncludes(n *yaml.Node, baseDir string, stack []string) error {
	for i, child := range n.Content {
		if target, ok := directive(child, includePrefix); ok {
			path := target
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			inc, err := loadIncluded(path, stack)
			if err != nil {
				return err
			}
			n.Content[i] = inc
			continue
		}
		if err := resolveIncludes(child, baseDir, stack); err != nil {
			return err
		}
	}
	return nil
}

// ResolveValues заменяет все "@value: a.b.c" копиями целевых узлов до неподвижной точки.
func ResolveValues(root *yaml.Node) error {
	for pass := 0; pass < maxPasses; pass++ {
		changed, err := replaceValues(root, root)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
	}
	var pending []string
	collectPending(root, &pending)
	return fmt.Errorf("value references do not converge (cycle?): %s", strings.Join(pending, ", "))
}

func replaceValues(root, n *yaml.Node) (bool, error) {
	changed := false
	for i, child := range n.Content {
		if ref, ok := directive(child, valuePrefix); ok {
			target, err := Lookup(root, ref)
			if err != nil {
				return false, fmt.Errorf("line %d: %w", child.Line, err)
			}
			n.Content[i] = Clone(target)
			changed = true
			continue
		}
		c, err := replaceValues(root, child)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	return changed, nil
}

func collectPending(n *yaml.Node, out *[]string) {
	for _, child := range n.Content {
		if ref, ok := directive(child, valuePrefix); ok {
			*out = append(*out, ref)
			continue
		}
		collectPending(child, out)
	}
}

// Lookup находит узел по пути вида "entities.site.keys" или "entities.site.columns.0".
func Lookup(root *yaml.Node, path string) (*yaml.Node, error) {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch cur.Kind {
		case yaml.MappingNode:
			var next *yaml.Node
			for i := 0; i+1 < len(cur.Content); i += 2 {
				if cur.Content[i].Value == seg {
					next = cur.Content[i+1]
					break
				}
			}
			if next == nil {
				return nil, fmt.Errorf("value reference %q: key %q not found", path, seg)
			}
			cur = next
		case yaml.SequenceNode:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.Content) {
				return nil, fmt.Errorf("value reference %q: bad index %q", path, seg)
			}
			cur = cur.Content[idx]
		default:
			return nil, fmt.Errorf("value reference %q: cannot descend into scalar at %q", path, seg)
		}
	}
	return cur, nil
}

func directive(n *yaml.Node, prefix string) (string, bool) {
	if n.Kind != yaml.ScalarNode || n.Tag != "!!str" {
		return "", false
	}
	v := strings.TrimSpace(n.Value)
	if !strings.HasPrefix(v, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(v, prefix)), true
}

// Clone копирует узел вместе со всем поддеревом.
func Clone(n *yaml.Node) *yaml.Node {
	cp := *n
	if len(n.Content) > 0 {
		cp.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			cp.Content[i] = Clone(c)
		}
	}
	return &cp
}
