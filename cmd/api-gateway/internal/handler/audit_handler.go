package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditHandler 审计日志查询处理器
type AuditHandler struct {
	auditLogRepo repository.AuditLogRepository
	logger       *zap.Logger
}

// NewAuditHandler 创建审计日志处理器
func NewAuditHandler(auditLogRepo repository.AuditLogRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		auditLogRepo: auditLogRepo,
		logger:       logger,
	}
}

// List GET /api/v1/audit-logs
func (h *AuditHandler) List(c *gin.Context) {
	filters := &repository.AuditLogFilters{
		Limit:  50,
		Offset: 0,
	}

	for _, p := range []struct {
		name string
		dest **uuid.UUID
	}{
		{"actor_id", &filters.ActorID},
		{"resource_id", &filters.ResourceID},
	} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid_"+p.name, p.name+" must be a valid UUID")
			return
		}
		*p.dest = &id
	}

	if action := c.Query("action"); action != "" {
		filters.Action = &action
	}

	if rt := c.Query("resource_type"); rt != "" {
		resourceType := domain.ResourceType(rt)
		filters.ResourceType = &resourceType
	}

	for _, p := range []struct {
		name string
		dest **time.Time
	}{
		{"start_time", &filters.StartTime},
		{"end_time", &filters.EndTime},
	} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "invalid_"+p.name, p.name+" must be in RFC3339 format")
			return
		}
		*p.dest = &t
	}

	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit <= 500 {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset >= 0 {
		filters.Offset = offset
	}

	logs, total, err := h.auditLogRepo.FindByFilters(c.Request.Context(), filters)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"audit_logs": logs,
		"total":      total,
		"limit":      filters.Limit,
		"offset":     filters.Offset,
	})
}
