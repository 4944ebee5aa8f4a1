// api/names.go
package api

import (
	"strings"

	"shapeshifter/internal/model"
)

// NormalizeEntityName возвращает имя сущности как оно объявлено в проекте.
// Сначала точное совпадение, затем ЕДИНСТВЕННОЕ регистронезависимое.
func NormalizeEntityName(p *model.Project, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if _, ok := p.Entity(name); ok {
		return name, true
	}
	var found string
	for _, n := range p.Order {
		if strings.EqualFold(n, name) {
			if found != "" { // неуникально
				return "", false
			}
			found = n
		}
	}
	return found, found != ""
}
