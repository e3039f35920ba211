package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/router-for-me/tokenquota/internal/config"
	"github.com/router-for-me/tokenquota/internal/http/handlers"
	"github.com/router-for-me/tokenquota/internal/quota"
	"github.com/router-for-me/tokenquota/internal/usage"
	"gorm.io/gorm"
)

// RouterDeps carries the collaborators served over HTTP. Nil members disable their feature.
type RouterDeps struct {
	Auth     config.AuthConfig
	Limiters []quota.Limiter
	Store    quota.Store
	History  *usage.TokenUsageHistory
	DB       *gorm.DB
}

// NewRouter builds the gin engine serving quota, usage, admin and health routes.
func NewRouter(deps RouterDeps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	RegisterRoutes(engine, deps)
	return engine
}

// RegisterRoutes mounts the quota routes on an existing engine.
func RegisterRoutes(engine *gin.Engine, deps RouterDeps) {
	if engine == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	engine.GET("/healthz", healthHandler.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	v1.Use(SubjectMiddleware(deps.Auth))

	quotaHandler := handlers.NewQuotaHandler(deps.Limiters)
	v1.GET("/quotas", quotaHandler.Available)
	v1.GET("/quotas/check", QuotaMiddleware(deps.Limiters), quotaHandler.Admit)

	usageHandler := handlers.NewUsageHandler(deps.Limiters, deps.History)
	v1.POST("/usage", usageHandler.Consume)
	v1.GET("/usage", usageHandler.History)

	admin := engine.Group("/v0/admin")
	admin.Use(AdminMiddleware(deps.Auth))

	adminQuotaHandler := handlers.NewAdminQuotaHandler(deps.Store)
	admin.GET("/quotas", adminQuotaHandler.List)
}
