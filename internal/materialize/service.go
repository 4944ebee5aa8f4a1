// Package materialize freezes a resolved entity into literal data and reverts it back
// from the recorded snapshot.
package materialize

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
	"shapeshifter/internal/resolve"
)

// DefaultInlineLimit: до стольких строк данные хранятся прямо в документе.
const DefaultInlineLimit = 1000

// PreconditionError: материализация или откат сейчас невозможны.
type PreconditionError struct {
	Entity  string
	Reasons []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("entity %q: %s", e.Entity, strings.Join(e.Reasons, "; "))
}

// CascadeRequiredError: есть сущности, материализованные поверх этой.
type CascadeRequiredError struct {
	Entity     string
	Dependents []string
}

func (e *CascadeRequiredError) Error() string {
	return fmt.Sprintf("entity %q: cascade required, materialized dependents: %s",
		e.Entity, strings.Join(e.Dependents, ", "))
}

// Service меняет документ проекта на месте; вызывающий сериализует записи.
type Service struct {
	Blobs       BlobStore
	InlineLimit int
	Clock       func() time.Time
	NewKey      func(prefix, ext string) string
}

func NewService(blobs *LocalBlobStore, inlineLimit int) *Service {
	if inlineLimit <= 0 {
		inlineLimit = DefaultInlineLimit
	}
	s := &Service{InlineLimit: inlineLimit, Clock: time.Now}
	if blobs != nil {
		s.Blobs = blobs
		s.NewKey = blobs.NewKey
	}
	return s
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

// CanMaterialize: сущность не fixed, ещё не материализована, и все её предки
// fixed или материализованы.
func (s *Service) CanMaterialize(p *model.Project, name string) (bool, []string) {
	e, ok := p.Entity(name)
	if !ok {
		return false, []string{fmt.Sprintf("unknown entity %q", name)}
	}
	var reasons []string
	switch {
	case e.IsMaterialized():
		reasons = append(reasons, "entity is already materialized")
	case e.Type == model.SourceLiteral:
		reasons = append(reasons, "entity is already fixed")
	}
	for _, a := range resolve.Ancestors(p, name) {
		anc, _ := p.Entity(a)
		if anc.Type != model.SourceLiteral && !anc.IsMaterialized() {
			reasons = append(reasons, fmt.Sprintf("dependency %q is neither fixed nor materialized", a))
		}
	}
	return len(reasons) == 0, reasons
}

// Materialize заменяет сущность на fixed с данными ds. Полная исходная конфигурация
// сохраняется в materialized.source_state.
func (s *Service) Materialize(p *model.Project, name string, ds *dataset.Dataset, storage model.StorageFormat, by string) (*model.MaterializationRecord, error) {
	if ok, reasons := s.CanMaterialize(p, name); !ok {
		return nil, &PreconditionError{Entity: name, Reasons: reasons}
	}
	e, _ := p.Entity(name)
	if ds == nil {
		return nil, &PreconditionError{Entity: name, Reasons: []string{"no resolved data"}}
	}
	if storage == "" {
		storage = model.StorageInline
		if ds.Len() > s.InlineLimit {
			storage = model.StorageColumnar
		}
	}
	if !storage.Valid() {
		return nil, fmt.Errorf("entity %q: unknown storage %q", name, storage)
	}

	snapshot, err := e.Clone()
	if err != nil {
		return nil, fmt.Errorf("entity %q: snapshot: %w", name, err)
	}
	rec := &model.MaterializationRecord{
		Enabled:        true,
		SourceState:    snapshot,
		MaterializedAt: s.now(),
		MaterializedBy: by,
		Storage:        storage,
		RowCount:       ds.Len(),
	}
	frozen := &model.Entity{
		Name:         name,
		Type:         model.SourceLiteral,
		Keys:         e.Keys,
		SurrogateID:  e.SurrogateID,
		Columns:      append([]string(nil), ds.Columns...),
		Materialized: rec,
	}

	if storage == model.StorageInline {
		frozen.Values = make([][]any, ds.Len())
		for i, r := range ds.Rows {
			frozen.Values[i] = append([]any(nil), r...)
		}
	} else {
		if err := s.writeFile(name, ds, rec); err != nil {
			return nil, fmt.Errorf("entity %q: %w", name, err)
		}
	}
	p.Add(frozen)
	return rec, nil
}

func (s *Service) writeFile(name string, ds *dataset.Dataset, rec *model.MaterializationRecord) error {
	if s.Blobs == nil {
		return fmt.Errorf("no blob store configured for %s storage", rec.Storage)
	}
	codec, err := CodecFor(rec.Storage)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := codec.Write(ds, &buf); err != nil {
		return fmt.Errorf("encode %s: %w", rec.Storage, err)
	}
	key := ""
	if s.NewKey != nil {
		key = s.NewKey(name, codec.Ext())
	} else {
		key = name + "/" + s.now().Format("20060102T150405.000000000") + codec.Ext()
	}
	key, _, sum, err := s.Blobs.Put(key, &buf)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	rec.DataLocation = key
	rec.Checksum = sum
	return nil
}

// Read читает внешний файл материализованной сущности.
func (s *Service) Read(_ context.Context, format model.StorageFormat, location string) (*dataset.Dataset, error) {
	if s.Blobs == nil {
		return nil, fmt.Errorf("no blob store configured")
	}
	codec, err := CodecFor(format)
	if err != nil {
		return nil, err
	}
	f, err := s.Blobs.Open(location)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return codec.Read(f)
}

// MaterializedDependents: материализованные сущности, чей source_state ссылается на name.
func MaterializedDependents(p *model.Project, name string) []string {
	var out []string
	for _, n := range p.Order {
		e, ok := p.Entity(n)
		if !ok || n == name || !e.IsMaterialized() || e.Materialized.SourceState == nil {
			continue
		}
		for _, d := range e.Materialized.SourceState.Dependencies() {
			if d == name {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// revertOrder обходит отношение "материализована поверх" явным стеком и возвращает
// зависимые в порядке отката: самые глубокие первыми, name последней.
func revertOrder(p *model.Project, name string) ([]string, error) {
	const (
		white = iota
		gray
		black
	)
	type frame struct {
		name string
		next []string
	}
	color := map[string]int{}
	var out []string
	stack := []*frame{{name: name, next: MaterializedDependents(p, name)}}
	color[name] = gray
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if len(top.next) == 0 {
			color[top.name] = black
			out = append(out, top.name)
			stack = stack[:len(stack)-1]
			continue
		}
		dep := top.next[0]
		top.next = top.next[1:]
		switch color[dep] {
		case gray:
			cycle := []string{}
			for _, f := range stack {
				cycle = append(cycle, f.name)
			}
			for i, n := range cycle {
				if n == dep {
					cycle = cycle[i:]
					break
				}
			}
			return nil, &resolve.CycleError{Cycle: append(cycle, dep)}
		case white:
			color[dep] = gray
			stack = append(stack, &frame{name: dep, next: MaterializedDependents(p, dep)})
		}
	}
	return out, nil
}

// Unmaterialize восстанавливает сущность из source_state. Если поверх неё материализованы
// другие сущности, без cascade возвращается *CascadeRequiredError, с cascade они
// откатываются первыми. Возвращает откатанные имена в порядке отката.
func (s *Service) Unmaterialize(p *model.Project, name string, cascade bool) ([]string, error) {
	e, ok := p.Entity(name)
	if !ok {
		return nil, &PreconditionError{Entity: name, Reasons: []string{"unknown entity"}}
	}
	if !e.IsMaterialized() || e.Materialized.SourceState == nil {
		return nil, &PreconditionError{Entity: name, Reasons: []string{"entity is not materialized"}}
	}

	order, err := revertOrder(p, name)
	if err != nil {
		return nil, fmt.Errorf("entity %q: %w", name, err)
	}
	if len(order) > 1 && !cascade {
		return nil, &CascadeRequiredError{Entity: name, Dependents: order[:len(order)-1]}
	}
	for _, n := range order {
		if err := s.revert(p, n); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (s *Service) revert(p *model.Project, name string) error {
	e, _ := p.Entity(name)
	rec := e.Materialized
	restored, err := rec.SourceState.Clone()
	if err != nil {
		return fmt.Errorf("entity %q: restore: %w", name, err)
	}
	restored.SetName(name)
	p.Add(restored)

	if rec.DataLocation != "" && rec.Storage != model.StorageInline && s.Blobs != nil {
		if err := s.Blobs.Delete(rec.DataLocation); err != nil {
			return fmt.Errorf("entity %q: remove %s: %w", name, rec.DataLocation, err)
		}
	}
	return nil
}
