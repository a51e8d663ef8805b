package handler

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cyroid/backend/internal/addressing"
	"github.com/cyroid/backend/internal/auth"
	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 导入包的最大字节数
const maxPackageSize = 4 << 20

// BlueprintHandler 蓝图相关HTTP处理器
type BlueprintHandler struct {
	blueprints *service.BlueprintService
	instances  *service.InstanceService
	logger     *zap.Logger
}

// NewBlueprintHandler 创建蓝图处理器
func NewBlueprintHandler(blueprints *service.BlueprintService, instances *service.InstanceService, logger *zap.Logger) *BlueprintHandler {
	return &BlueprintHandler{
		blueprints: blueprints,
		instances:  instances,
		logger:     logger,
	}
}

// BlueprintResponse 蓝图及剩余可部署实例数
type BlueprintResponse struct {
	*domain.Blueprint
	Capacity int `json:"capacity"`
}

func newBlueprintResponse(bp *domain.Blueprint) BlueprintResponse {
	next := 0
	if bp.NextOffset != nil {
		next = *bp.NextOffset
	}
	return BlueprintResponse{Blueprint: bp, Capacity: addressing.Capacity(bp.Prefix(), next)}
}

// List GET /api/v1/blueprints
func (h *BlueprintHandler) List(c *gin.Context) {
	bps, err := h.blueprints.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := make([]BlueprintResponse, 0, len(bps))
	for i := range bps {
		resp = append(resp, newBlueprintResponse(&bps[i]))
	}
	c.JSON(http.StatusOK, gin.H{"blueprints": resp, "total": len(resp)})
}

// CreateFromRange POST /api/v1/blueprints
func (h *BlueprintHandler) CreateFromRange(c *gin.Context) {
	var req service.CreateFromRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", fmt.Sprintf("failed to parse request: %v", err))
		return
	}
	req.OwnerID = auth.UserID(c)

	bp, err := h.blueprints.CreateFromRange(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, newBlueprintResponse(bp))
}

// Import POST /api/v1/blueprints/import
//
// 请求体为JSON或YAML格式的蓝图包。
func (h *BlueprintHandler) Import(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPackageSize+1))
	if err != nil {
		badRequest(c, "invalid_request", "failed to read request body")
		return
	}
	if len(body) > maxPackageSize {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "package_too_large",
			Message: fmt.Sprintf("package must not exceed %d bytes", maxPackageSize),
		})
		return
	}
	if strings.TrimSpace(string(body)) == "" {
		badRequest(c, "invalid_request", "request body is empty")
		return
	}

	pkg, err := service.ParsePackage(body)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	bp, err := h.blueprints.Import(c.Request.Context(), pkg, auth.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, newBlueprintResponse(bp))
}

// Get GET /api/v1/blueprints/:id
func (h *BlueprintHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	bp, err := h.blueprints.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newBlueprintResponse(bp))
}

// UpdateConfig PUT /api/v1/blueprints/:id/config
func (h *BlueprintHandler) UpdateConfig(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var cfg domain.BlueprintConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "invalid_request", fmt.Sprintf("failed to parse config: %v", err))
		return
	}

	bp, changed, err := h.blueprints.UpdateConfig(c.Request.Context(), id, cfg)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blueprint": newBlueprintResponse(bp),
		"changed":   changed,
	})
}

// Delete DELETE /api/v1/blueprints/:id
func (h *BlueprintHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.blueprints.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListVersions GET /api/v1/blueprints/:id/versions
func (h *BlueprintHandler) ListVersions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	versions, err := h.blueprints.ListVersions(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// ListInstances GET /api/v1/blueprints/:id/instances
func (h *BlueprintHandler) ListInstances(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	insts, err := h.instances.ListByBlueprint(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": insts, "total": len(insts)})
}

// Deploy POST /api/v1/blueprints/:id/instances
func (h *BlueprintHandler) Deploy(c *gin.Context) {
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

	res, err := h.instances.Deploy(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
