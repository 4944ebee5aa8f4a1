// Package resolve orders project entities so that every entity comes after everything it
// references, and reports dependency cycles with the full cycle path.
package resolve

import (
	"fmt"
	"strings"

	"shapeshifter/internal/model"
)

// CycleError: циклическая зависимость; Cycle замыкается повтором первого имени.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
}

const (
	white = iota
	gray
	black
)

type frame struct {
	name string
	deps []string
	next int
}

// Order возвращает топологический порядок: зависимости раньше зависимых.
// Корни обходятся в порядке объявления, зависимости в порядке ссылок, поэтому
// результат детерминирован. Ссылки на неизвестные сущности пропускаются
// (их отдельно репортит валидатор).
func Order(p *model.Project) ([]string, error) {
	return order(p, p.Order)
}

// OrderFor упорядочивает только замыкание зависимостей указанных сущностей.
func OrderFor(p *model.Project, names ...string) ([]string, error) {
	return order(p, names)
}

func order(p *model.Project, roots []string) ([]string, error) {
	color := make(map[string]int, len(p.Entities))
	out := make([]string, 0, len(p.Entities))

	for _, root := range roots {
		if _, ok := p.Entity(root); !ok {
			return nil, fmt.Errorf("unknown entity %q", root)
		}
		if color[root] != white {
			continue
		}
		color[root] = gray
		stack := []*frame{{name: root, deps: knownDeps(p, root)}}

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next < len(top.deps) {
				dep := top.deps[top.next]
				top.next++
				switch color[dep] {
				case gray:
					return nil, &CycleError{Cycle: cyclePath(stack, dep)}
				case white:
					color[dep] = gray
					stack = append(stack, &frame{name: dep, deps: knownDeps(p, dep)})
				}
				continue
			}
			stack = stack[:len(stack)-1]
			color[top.name] = black
			out = append(out, top.name)
		}
	}
	return out, nil
}

func cyclePath(stack []*frame, dep string) []string {
	start := 0
	for i, f := range stack {
		if f.name == dep {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		cycle = append(cycle, f.name)
	}
	return append(cycle, dep)
}

func knownDeps(p *model.Project, name string) []string {
	e, _ := p.Entity(name)
	var out []string
	for _, d := range e.Dependencies() {
		if _, ok := p.Entity(d); ok {
			out = append(out, d)
		}
	}
	return out
}

// Ancestors: все сущности, от которых name зависит транзитивно (без самой name),
// в порядке объявления.
func Ancestors(p *model.Project, name string) []string {
	seen := map[string]bool{}
	work := []string{name}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if _, ok := p.Entity(cur); !ok {
			continue
		}
		for _, d := range knownDeps(p, cur) {
			if !seen[d] {
				seen[d] = true
				work = append(work, d)
			}
		}
	}
	delete(seen, name)
	return inDeclarationOrder(p, seen)
}

// Dependents: все сущности, транзитивно зависящие от name, в порядке объявления.
func Dependents(p *model.Project, name string) []string {
	reverse := map[string][]string{}
	for _, n := range p.Order {
		for _, d := range knownDeps(p, n) {
			reverse[d] = append(reverse[d], n)
		}
	}
	seen := map[string]bool{}
	work := []string{name}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		for _, n := range reverse[cur] {
			if !seen[n] {
				seen[n] = true
				work = append(work, n)
			}
		}
	}
	delete(seen, name)
	return inDeclarationOrder(p, seen)
}

func inDeclarationOrder(p *model.Project, set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, n := range p.Order {
		if set[n] {
			out = append(out, n)
		}
	}
	return out
}
