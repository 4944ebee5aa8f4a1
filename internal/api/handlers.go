package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/model"
)

// POST /api/validate
// Тело с YAML-документом проверяется вместо текущего проекта.
func ValidateHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
			return
		}
		var p *model.Project
		if len(strings.TrimSpace(string(body))) > 0 {
			if p, err = model.Parse(body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project document", "details": err.Error()})
				return
			}
		} else if p, err = storage.Snapshot(); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, reportJSON(storage.Runner.Validate(p)))
	}
}

// GET /api/entities/:entity/can_materialize
func CanMaterializeHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := storage.Snapshot()
		if err != nil {
			writeError(c, err)
			return
		}
		name, ok := NormalizeEntityName(p, c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		can, reasons := storage.Materializer.CanMaterialize(p, name)
		if reasons == nil {
			reasons = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"entity": name, "can_materialize": can, "reasons": reasons})
	}
}

// POST /api/run
// Разрешает весь проект на переданном корневом наборе.
func RunHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, root, err := bindRun(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := storage.Snapshot()
		if err != nil {
			writeError(c, err)
			return
		}
		res, err := storage.Runner.Run(c.Request.Context(), p, root)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// POST /api/preview/:entity?limit=&offset=&sort=
// Разрешает одну сущность и её предков.
func PreviewHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, root, err := bindRun(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := storage.Snapshot()
		if err != nil {
			writeError(c, err)
			return
		}
		name, ok := NormalizeEntityName(p, c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		ds, err := storage.Runner.Preview(c.Request.Context(), p, root, name)
		if err != nil {
			writeError(c, err)
			return
		}
		lp := parseListParams(c.Request.URL.Query())
		pg, err := page(ds, lp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"entity":  name,
			"columns": pg.Columns,
			"rows":    pg.Rows,
			"total":   ds.Len(),
			"limit":   lp.Limit,
			"offset":  lp.Offset,
		})
	}
}

// POST /api/entities/:entity/materialize
// Разрешает сущность и замораживает её данные.
func MaterializeHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, root, err := bindRun(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		format, err := req.storage()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := storage.Snapshot()
		if err != nil {
			writeError(c, err)
			return
		}
		name, ok := NormalizeEntityName(p, c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		if can, reasons := storage.Materializer.CanMaterialize(p, name); !can {
			c.JSON(http.StatusConflict, gin.H{"error": "precondition failed", "entity": name, "reasons": reasons})
			return
		}

		var ds *dataset.Dataset
		if ds, err = storage.Runner.Preview(c.Request.Context(), p, root, name); err != nil {
			writeError(c, err)
			return
		}

		var rec *model.MaterializationRecord
		err = storage.Update(func(next *model.Project) error {
			var err error
			rec, err = storage.Materializer.Materialize(next, name, ds, format, req.By)
			return err
		})
		if err != nil {
			writeError(c, err)
			return
		}
		storage.Logger.Info("entity materialized",
			zap.String("entity", name),
			zap.String("storage", string(rec.Storage)),
			zap.Int("rows", rec.RowCount))
		c.JSON(http.StatusOK, gin.H{"entity": name, "materialized": rec})
	}
}

// POST /api/entities/:entity/unmaterialize?cascade=true
func UnmaterializeHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		cascade := false
		if v := strings.TrimSpace(c.Query("cascade")); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "cascade must be a boolean"})
				return
			}
			cascade = b
		}
		p, err := storage.Snapshot()
		if err != nil {
			writeError(c, err)
			return
		}
		name, ok := NormalizeEntityName(p, c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		var reverted []string
		err = storage.Update(func(next *model.Project) error {
			var err error
			reverted, err = storage.Materializer.Unmaterialize(next, name, cascade)
			return err
		})
		if err != nil {
			writeError(c, err)
			return
		}
		storage.Logger.Info("entity unmaterialized", zap.String("entity", name), zap.Strings("reverted", reverted))
		c.JSON(http.StatusOK, gin.H{"entity": name, "reverted": reverted})
	}
}
