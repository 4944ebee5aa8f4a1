package api

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"shapeshifter/internal/materialize"
	"shapeshifter/internal/model"
	"shapeshifter/internal/pipeline"
)

// Storage держит текущий документ проекта. Прогоны работают на копии, снятой под
// read-lock; материализация, откат и перезагрузка меняют документ под write-lock.
type Storage struct {
	mu      sync.RWMutex
	Project *model.Project
	Path    string // файл или каталог проекта; пусто: изменения только в памяти

	Runner       *pipeline.Runner
	Materializer *materialize.Service
	Logger       *zap.Logger
}

// NewStorage оборачивает загруженный проект.
func NewStorage(path string, p *model.Project, runner *pipeline.Runner, mat *materialize.Service, logger *zap.Logger) *Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p == nil {
		p = model.NewProject()
	}
	return &Storage{Project: p, Path: path, Runner: runner, Materializer: mat, Logger: logger}
}

// Snapshot делает глубокую копию проекта для одного прогона.
func (s *Storage) Snapshot() (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Project.Clone()
}

// Update применяет fn к копии проекта; при успехе копия сохраняется в файл и
// заменяет текущий документ. Ошибка fn или записи оставляет документ нетронутым.
func (s *Storage) Update(fn func(p *model.Project) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.Project.Clone()
	if err != nil {
		return err
	}
	if err := fn(next); err != nil {
		return err
	}
	if err := s.persistLocked(next); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	s.Project = next
	return nil
}

// Replace: атомарная замена документа (перезагрузка).
func (s *Storage) Replace(path string, p *model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Path = path
	s.Project = p
}

// persistLocked сохраняет только изменённые сущности; @include и @value в файлах
// проекта остаются как были записаны.
func (s *Storage) persistLocked(next *model.Project) error {
	if s.Path == "" {
		return nil
	}
	return model.Save(s.Path, s.Project, next)
}
