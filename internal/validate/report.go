package validate

import (
	"errors"
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue: одна найденная проблема с привязкой к сущности и полю.
type Issue struct {
	Severity Severity `json:"severity"`
	Entity   string   `json:"entity,omitempty"`
	Field    string   `json:"field,omitempty"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	var prefix []string
	if i.Entity != "" {
		prefix = append(prefix, i.Entity)
	}
	if i.Field != "" {
		prefix = append(prefix, i.Field)
	}
	msg := fmt.Sprintf("[%s] %s", i.Code, i.Message)
	if len(prefix) > 0 {
		return strings.Join(prefix, ".") + ": " + msg
	}
	return msg
}

// Report содержит полный список проблем, без раннего выхода.
type Report struct {
	Issues []Issue `json:"issues"`
}

func (r *Report) add(sev Severity, entity, field, code, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Severity: sev,
		Entity:   entity,
		Field:    field,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (r *Report) Errorf(entity, field, code, format string, args ...any) {
	r.add(SeverityError, entity, field, code, format, args...)
}

func (r *Report) Warnf(entity, field, code, format string, args ...any) {
	r.add(SeverityWarning, entity, field, code, format, args...)
}

func (r *Report) Errors() []Issue   { return r.filter(SeverityError) }
func (r *Report) Warnings() []Issue { return r.filter(SeverityWarning) }

func (r *Report) filter(sev Severity) []Issue {
	out := []Issue{}
	for _, i := range r.Issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}

func (r *Report) HasErrors() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Err собирает все ошибки в одну; nil, если ошибок нет (предупреждения не блокируют).
func (r *Report) Err() error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return errors.New(strings.Join(parts, "; "))
}
