package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ValidationConfig 验证配置
type ValidationConfig struct {
	// 最大请求体大小（字节）
	MaxBodySize int64
	// 允许的Content-Type列表
	AllowedContentTypes []string
}

// Validator 请求验证中间件
type Validator struct {
	config *ValidationConfig
}

// NewValidator 创建验证中间件
func NewValidator(config *ValidationConfig) *Validator {
	if config.MaxBodySize == 0 {
		config.MaxBodySize = 4 * 1024 * 1024 // 与蓝图包上限一致
	}
	if len(config.AllowedContentTypes) == 0 {
		// 蓝图包可以是JSON或YAML
		config.AllowedContentTypes = []string{
			"application/json",
			"application/yaml",
			"application/x-yaml",
			"text/yaml",
			"text/x-yaml",
		}
	}

	return &Validator{
		config: config,
	}
}

// Middleware 验证中间件处理函数
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}

		// 1. 验证Content-Type
		contentType := c.ContentType()
		if contentType != "" && !v.isAllowedContentType(contentType) {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
				"error":   "invalid_content_type",
				"message": fmt.Sprintf("Content-Type '%s' is not supported", contentType),
			})
			return
		}

		// 2. 验证请求体大小
		if c.Request.ContentLength > v.config.MaxBodySize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": fmt.Sprintf("Request body exceeds maximum size of %d bytes", v.config.MaxBodySize),
			})
			return
		}

		c.Next()
	}
}

// isAllowedContentType 检查Content-Type是否允许
func (v *Validator) isAllowedContentType(contentType string) bool {
	// 移除charset等参数
	contentType = strings.TrimSpace(strings.Split(contentType, ";")[0])

	for _, allowed := range v.config.AllowedContentTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}
