package router

import (
	"net/http"

	"github.com/cyroid/backend/cmd/api-gateway/internal/handler"
	"github.com/cyroid/backend/cmd/api-gateway/internal/middleware"
	"github.com/cyroid/backend/internal/audit"
	"github.com/cyroid/backend/internal/auth"
	"github.com/cyroid/backend/internal/config"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Blueprint *handler.BlueprintHandler
	Instance  *handler.InstanceHandler
	Audit     *handler.AuditHandler
}

// SetupRouter 配置API网关路由
func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	blueprintHandler *handler.BlueprintHandler,
	instanceHandler *handler.InstanceHandler,
	auditHandler *handler.AuditHandler,
	authMiddleware *auth.Middleware,
	auditMiddleware *audit.AuditMiddleware,
	rateLimiter *middleware.RateLimiter,
	m *metrics.Metrics,
) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(logger),
		middleware.SecurityHeaders(),
		middleware.CORSMiddleware(middleware.NewCORSConfig(cfg)),
		m.GinMiddleware(),
	)

	// 健康检查端点
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	if cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.Use(
		rateLimiter.Middleware(),
		middleware.NewValidator(&middleware.ValidationConfig{}).Middleware(),
		authMiddleware.Handler(),
		auditMiddleware.Middleware(),
	)
	Register(v1, Handlers{
		Blueprint: blueprintHandler,
		Instance:  instanceHandler,
		Audit:     auditHandler,
	})

	return r
}

// Register 注册 /api/v1 下的业务路由
func Register(v1 *gin.RouterGroup, h Handlers) {
	blueprints := v1.Group("/blueprints")
	{
		blueprints.GET("", h.Blueprint.List)
		blueprints.POST("", h.Blueprint.CreateFromRange)
		blueprints.POST("/import", h.Blueprint.Import)
		blueprints.GET("/:id", h.Blueprint.Get)
		blueprints.PUT("/:id/config", h.Blueprint.UpdateConfig)
		blueprints.DELETE("/:id", h.Blueprint.Delete)
		blueprints.GET("/:id/versions", h.Blueprint.ListVersions)
		blueprints.GET("/:id/instances", h.Blueprint.ListInstances)
		blueprints.POST("/:id/instances", h.Blueprint.Deploy)
	}

	instances := v1.Group("/instances")
	{
		instances.GET("/:id", h.Instance.Get)
		instances.POST("/:id/clone", h.Instance.Clone)
		instances.POST("/:id/reset", h.Instance.Reset)
		instances.POST("/:id/redeploy", h.Instance.Redeploy)
		instances.DELETE("/:id", h.Instance.Delete)
	}

	v1.GET("/audit-logs", h.Audit.List)
}
