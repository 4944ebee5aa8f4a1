package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"shapeshifter/internal/materialize"
	"shapeshifter/internal/pipeline"
	"shapeshifter/internal/validate"
)

// writeError сопоставляет типизированные ошибки с HTTP-статусами.
func writeError(c *gin.Context, err error) {
	var (
		pre *materialize.PreconditionError
		cas *materialize.CascadeRequiredError
		pe  *pipeline.Error
	)
	switch {
	case errors.As(err, &cas):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "cascade required",
			"entity":     cas.Entity,
			"dependents": cas.Dependents,
			"hint":       "retry with cascade=true",
		})
	case errors.As(err, &pre):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "precondition failed",
			"entity":  pre.Entity,
			"reasons": pre.Reasons,
		})
	case errors.As(err, &pe):
		status := http.StatusUnprocessableEntity
		if pe.Stage == pipeline.StageValidate {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "run failed", "details": pe})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func reportJSON(r *validate.Report) gin.H {
	return gin.H{
		"valid":    !r.HasErrors(),
		"errors":   r.Errors(),
		"warnings": r.Warnings(),
	}
}
