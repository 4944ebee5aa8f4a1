package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shapeshifter/internal/model"
	"shapeshifter/internal/resolve"
)

// ===== META HANDLERS =====

type metaEntityListItem struct {
	Entity       string           `json:"entity"`
	Type         model.SourceKind `json:"type"`
	Materialized bool             `json:"materialized"`
	DependsOn    []string         `json:"depends_on"`
}

// GET /api/meta
// Сущности в порядке объявления.
func MetaListHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := storage.Snapshot()
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]metaEntityListItem, 0, len(p.Order))
		for _, name := range p.Order {
			e, _ := p.Entity(name)
			deps := e.Dependencies()
			if deps == nil {
				deps = []string{}
			}
			out = append(out, metaEntityListItem{
				Entity:       name,
				Type:         e.Type,
				Materialized: e.IsMaterialized(),
				DependsOn:    deps,
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaForeignKey struct {
	Entity     string         `json:"entity"`
	LocalKeys  []string       `json:"local_keys"`
	RemoteKeys []string       `json:"remote_keys"`
	How        model.JoinKind `json:"how"`
}

type metaEntity struct {
	Entity         string                       `json:"entity"`
	Type           model.SourceKind             `json:"type"`
	Source         string                       `json:"source,omitempty"`
	Keys           []string                     `json:"keys"`
	Columns        []string                     `json:"columns"`
	SurrogateID    string                       `json:"surrogate_id,omitempty"`
	ForeignKeys    []metaForeignKey             `json:"foreign_keys"`
	Dependencies   []string                     `json:"dependencies"`
	Dependents     []string                     `json:"dependents"`
	CanMaterialize bool                         `json:"can_materialize"`
	Reasons        []string                     `json:"reasons,omitempty"`
	Materialized   *model.MaterializationRecord `json:"materialized,omitempty"`
}

// GET /api/meta/:entity
func MetaEntityHandler(storage *Storage) gin.HandlerFunc {
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
		e, _ := p.Entity(name)

		fks := make([]metaForeignKey, 0, len(e.ForeignKeys))
		for _, fk := range e.ForeignKeys {
			fks = append(fks, metaForeignKey{
				Entity:     fk.Entity,
				LocalKeys:  append([]string{}, fk.LocalKeys...),
				RemoteKeys: append([]string{}, fk.RemoteKeys...),
				How:        fk.JoinKind(),
			})
		}
		m := metaEntity{
			Entity:       name,
			Type:         e.Type,
			Source:       e.SourceEntity,
			Keys:         append([]string{}, e.Keys...),
			Columns:      append([]string{}, e.Columns...),
			SurrogateID:  e.SurrogateID,
			ForeignKeys:  fks,
			Dependencies: append([]string{}, resolve.Ancestors(p, name)...),
			Dependents:   append([]string{}, resolve.Dependents(p, name)...),
		}
		if e.IsMaterialized() {
			m.Materialized = e.Materialized
		}
		if storage.Materializer != nil {
			m.CanMaterialize, m.Reasons = storage.Materializer.CanMaterialize(p, name)
		}
		c.JSON(http.StatusOK, m)
	}
}
