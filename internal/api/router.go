// api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter регистрирует маршруты API.
func NewRouter(storage *Storage) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(storage.Logger))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta", MetaListHandler(storage))
		apiGroup.GET("/meta/:entity", MetaEntityHandler(storage))

		apiGroup.POST("/validate", ValidateHandler(storage))
		apiGroup.POST("/run", RunHandler(storage))
		apiGroup.POST("/preview/:entity", PreviewHandler(storage))

		apiGroup.GET("/entities/:entity/can_materialize", CanMaterializeHandler(storage))
		apiGroup.POST("/entities/:entity/materialize", MaterializeHandler(storage))
		apiGroup.POST("/entities/:entity/unmaterialize", UnmaterializeHandler(storage))

		apiGroup.POST("/admin/reload", AdminReloadHandler(storage))
	}
	return r
}

func RunServer(addr string, storage *Storage) error {
	return NewRouter(storage).Run(addr)
}

// requestLogger пишет одну строку zap на запрос.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
