package handler

import (
	"errors"
	"net/http"

	"github.com/cyroid/backend/internal/addressing"
	"github.com/cyroid/backend/internal/lock"
	"github.com/cyroid/backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respondError 按错误类型映射HTTP状态码
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, code := http.StatusInternalServerError, "internal_error"

	switch {
	case errors.Is(err, service.ErrBlueprintNotFound):
		status, code = http.StatusNotFound, "blueprint_not_found"
	case errors.Is(err, service.ErrInstanceNotFound):
		status, code = http.StatusNotFound, "instance_not_found"
	case errors.Is(err, service.ErrRangeNotFound):
		status, code = http.StatusNotFound, "range_not_found"
	case errors.Is(err, addressing.ErrAddressSpaceExhausted):
		status, code = http.StatusUnprocessableEntity, "address_space_exhausted"
	case errors.Is(err, lock.ErrOperationInProgress):
		status, code = http.StatusConflict, "operation_in_progress"
	case errors.Is(err, service.ErrInvalidConfig):
		status, code = http.StatusBadRequest, "invalid_config"
	case errors.Is(err, service.ErrInvalidBasePrefix):
		status, code = http.StatusBadRequest, "invalid_base_prefix"
	case errors.Is(err, service.ErrInvalidPackage):
		status, code = http.StatusBadRequest, "invalid_package"
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, ErrorResponse{Error: code, Message: "internal server error"})
		return
	}

	c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: code, Message: message})
}

// pathID 解析路径中的 :id
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
