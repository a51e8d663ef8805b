package audit

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cyroid/backend/internal/auth"
	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// route 路由模板 + 方法 -> 审计动作
type route struct {
	method string
	path   string
}

type actionSpec struct {
	action       string
	resourceType domain.ResourceType
	// fromResponse 为true时资源ID取自响应体（创建类操作）
	fromResponse bool
}

var auditedRoutes = map[route]actionSpec{
	{http.MethodPost, "/api/v1/blueprints"}:                {"blueprint.create", domain.ResourceTypeBlueprint, true},
	{http.MethodPost, "/api/v1/blueprints/import"}:         {"blueprint.import", domain.ResourceTypeBlueprint, true},
	{http.MethodPut, "/api/v1/blueprints/:id/config"}:      {"blueprint.update_config", domain.ResourceTypeBlueprint, false},
	{http.MethodDelete, "/api/v1/blueprints/:id"}:          {"blueprint.delete", domain.ResourceTypeBlueprint, false},
	{http.MethodPost, "/api/v1/blueprints/:id/instances"}:  {"instance.deploy", domain.ResourceTypeInstance, true},
	{http.MethodPost, "/api/v1/instances/:id/clone"}:       {"instance.clone", domain.ResourceTypeInstance, true},
	{http.MethodPost, "/api/v1/instances/:id/reset"}:       {"instance.reset", domain.ResourceTypeInstance, false},
	{http.MethodPost, "/api/v1/instances/:id/redeploy"}:    {"instance.redeploy", domain.ResourceTypeInstance, false},
	{http.MethodDelete, "/api/v1/instances/:id"}:           {"instance.delete", domain.ResourceTypeInstance, false},
}

// AuditMiddleware 审计日志中间件
type AuditMiddleware struct {
	auditLogRepo repository.AuditLogRepository
	logger       *zap.Logger
}

// NewAuditMiddleware 创建审计日志中间件
func NewAuditMiddleware(auditLogRepo repository.AuditLogRepository, logger *zap.Logger) *AuditMiddleware {
	return &AuditMiddleware{
		auditLogRepo: auditLogRepo,
		logger:       logger,
	}
}

// Middleware Gin中间件函数
func (am *AuditMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		spec, ok := auditedRoutes[route{c.Request.Method, c.FullPath()}]
		if !ok {
			c.Next()
			return
		}

		var rw *responseBodyWriter
		if spec.fromResponse {
			rw = &responseBodyWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
			c.Writer = rw
		}

		c.Next()

		entry := am.createAuditLog(c, spec, rw)
		if err := am.auditLogRepo.Create(c.Request.Context(), entry); err != nil {
			am.logger.Error("Failed to create audit log",
				zap.Error(err),
				zap.String("action", entry.Action),
			)
		}
	}
}

// createAuditLog 创建审计日志记录
func (am *AuditMiddleware) createAuditLog(c *gin.Context, spec actionSpec, rw *responseBodyWriter) *domain.AuditLog {
	ipAddress := c.ClientIP()
	userAgent := c.Request.UserAgent()

	return &domain.AuditLog{
		ActorID:      auth.UserID(c),
		Action:       spec.action,
		ResourceType: spec.resourceType,
		ResourceID:   am.extractResourceID(c, spec, rw),
		StatusCode:   c.Writer.Status(),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
	}
}

// extractResourceID 从路径参数或响应体中提取资源ID
func (am *AuditMiddleware) extractResourceID(c *gin.Context, spec actionSpec, rw *responseBodyWriter) *uuid.UUID {
	if spec.fromResponse && rw != nil && rw.body.Len() > 0 {
		if id, ok := idFromBody(rw.body.Bytes()); ok {
			return &id
		}
	}

	if spec.fromResponse && strings.HasPrefix(c.FullPath(), "/api/v1/blueprints/:id/instances") {
		// 部署失败时没有新实例，不把蓝图ID记成实例ID
		return nil
	}

	if raw := c.Param("id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return &id
		}
	}
	return nil
}

// idFromBody 支持 {"id": ...} 和 {"instance": {"id": ...}} 两种响应
func idFromBody(body []byte) (uuid.UUID, bool) {
	var payload struct {
		ID       *uuid.UUID `json:"id"`
		Instance *struct {
			ID uuid.UUID `json:"id"`
		} `json:"instance"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return uuid.Nil, false
	}
	if payload.ID != nil && *payload.ID != uuid.Nil {
		return *payload.ID, true
	}
	if payload.Instance != nil && payload.Instance.ID != uuid.Nil {
		return payload.Instance.ID, true
	}
	return uuid.Nil, false
}

// responseBodyWriter 包装ResponseWriter以捕获响应body
type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
