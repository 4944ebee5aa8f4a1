package pipeline

import (
	"errors"
	"fmt"

	"shapeshifter/internal/link"
	"shapeshifter/internal/merge"
	"shapeshifter/internal/resolve"
)

// Stage: этап прогона, на котором произошёл сбой.
type Stage string

const (
	StageValidate    Stage = "validate"
	StageResolve     Stage = "resolve"
	StageExtract     Stage = "extract"
	StageMerge       Stage = "merge"
	StageLink        Stage = "link"
	StageReshape     Stage = "reshape"
	StageMaterialize Stage = "materialize"
)

// Error описывает сбой прогона (сущность, этап, сообщение, контекст этапа).
type Error struct {
	RunID   string         `json:"run_id"`
	Entity  string         `json:"entity,omitempty"`
	Stage   Stage          `json:"stage"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s %q: %s", e.Stage, e.Entity, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(runID, entity string, stage Stage, err error) *Error {
	return &Error{
		RunID:   runID,
		Entity:  entity,
		Stage:   stage,
		Message: err.Error(),
		Context: errorContext(err),
		Err:     err,
	}
}

// errorContext вытаскивает структурные подробности из типизированных ошибок этапов.
func errorContext(err error) map[string]any {
	var (
		ce *link.ConstraintError
		cy *resolve.CycleError
		cm *merge.ColumnMismatchError
	)
	switch {
	case errors.As(err, &ce):
		return map[string]any{
			"left":       ce.Left,
			"right":      ce.Right,
			"constraint": ce.Constraint,
			"observed":   ce.Observed,
			"expected":   ce.Expected,
		}
	case errors.As(err, &cy):
		return map[string]any{"cycle": cy.Cycle}
	case errors.As(err, &cm):
		return map[string]any{"fragment": cm.Fragment, "column": cm.Column}
	}
	return nil
}
