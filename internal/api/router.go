package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mdcatalog/internal/api/middleware"
)

// RouterConfig holds the transport settings.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter mounts every route on a fresh gin engine.
func NewRouter(s *Server, cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog(log))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.AllowedOrigins))
	}
	r.Use(middleware.Timeout(cfg.RequestTimeout), middleware.ErrorHandler())

	r.GET("/healthz", HealthHandler(s))

	meta := r.Group("/meta")
	{
		meta.GET("/kinds", MetaListHandler(s))
		meta.GET("/kinds/:kind", MetaKindHandler(s))
		meta.GET("/enums/:name", MetaEnumHandler(s))
		meta.GET("/lint", MetaLintHandler(s))
	}

	r.GET("/lookup/:kind", LookupHandler(s))
	r.GET("/lookup/:kind/:code", LookupByCodeHandler(s))

	cat := r.Group("/catalog")
	{
		// static segments first
		cat.POST("/:kind/_bulk", BulkCreateHandler(s))

		cat.POST("/:kind", CreateHandler(s))
		cat.GET("/:kind", ListHandler(s))
		cat.GET("/:kind/:id", GetOneHandler(s))
		cat.PUT("/:kind/:id", UpdateHandler(s))
		cat.PATCH("/:kind/:id/block", BlockHandler(s))
		cat.GET("/:kind/:id/dependents", DependentsHandler(s))
	}
	return r
}
