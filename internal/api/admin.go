package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shapeshifter/internal/model"
)

type reloadReq struct {
	ProjectPath string `json:"project_path"` // файл проекта или каталог с *.yml
}

// LoadProject читает файл или каталог проекта.
func LoadProject(path string) (*model.Project, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return model.LoadDir(path)
	}
	return model.LoadFile(path)
}

// POST /api/admin/reload
func AdminReloadHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reloadReq
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
				return
			}
		}

		storage.mu.RLock()
		path := storage.Path
		storage.mu.RUnlock()
		if p := strings.TrimSpace(req.ProjectPath); p != "" {
			path = p
		}
		if path == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project path is not configured"})
			return
		}

		// 1) читаем новый проект
		next, err := LoadProject(path)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project load error", "details": err.Error()})
			return
		}

		// 2) блокирующие ошибки валидатора не дают заменить проект
		report := storage.Runner.Validate(next)
		if report.HasErrors() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":       "project has blocking issues",
				"issues":      report.Errors(),
				"hint":        "fix project and retry",
				"projectPath": path,
			})
			return
		}

		// 3) атомарная замена под write-lock
		storage.Replace(path, next)
		storage.Logger.Info("project reloaded", zap.String("path", path), zap.Int("entities", len(next.Order)))

		c.JSON(http.StatusOK, gin.H{
			"ok":          true,
			"projectPath": path,
			"entities":    len(next.Order),
			"warnings":    report.Warnings(),
		})
	}
}
