package handler

import (
	"fmt"
	"net/http"

	"github.com/cyroid/backend/internal/auth"
	"github.com/cyroid/backend/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// InstanceHandler 蓝图实例HTTP处理器
type InstanceHandler struct {
	instances *service.InstanceService
	logger    *zap.Logger
}

// NewInstanceHandler 创建实例处理器
func NewInstanceHandler(instances *service.InstanceService, logger *zap.Logger) *InstanceHandler {
	return &InstanceHandler{
		instances: instances,
		logger:    logger,
	}
}

// Get GET /api/v1/instances/:id
func (h *InstanceHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	inst, err := h.instances.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// Clone POST /api/v1/instances/:id/clone
func (h *InstanceHandler) Clone(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req service.DeployRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid_request", fmt.Sprintf("failed to parse request: %v", err))
			return
		}
	}
	req.InstructorID = auth.UserID(c)

	res, err := h.instances.Clone(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Reset POST /api/v1/instances/:id/reset
func (h *InstanceHandler) Reset(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	res, err := h.instances.Reset(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Redeploy POST /api/v1/instances/:id/redeploy
func (h *InstanceHandler) Redeploy(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	res, err := h.instances.Redeploy(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Delete DELETE /api/v1/instances/:id
func (h *InstanceHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.instances.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
