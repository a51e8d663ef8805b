package auth

import (
	"net/http"

	"github.com/cyroid/backend/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// gin上下文中的键
const (
	ContextKeyUserID = "user_id"
	ContextKeyRole   = "role"
)

// Middleware Bearer令牌认证中间件
type Middleware struct {
	jwt      *JWTManager
	required bool
	logger   *zap.Logger
}

// NewMiddleware 创建认证中间件（Fx兼容）
func NewMiddleware(jwt *JWTManager, cfg *config.Config, logger *zap.Logger) *Middleware {
	return &Middleware{
		jwt:      jwt,
		required: cfg.Auth.Required,
		logger:   logger,
	}
}

// Handler 返回gin中间件
//
// required=false 时缺少令牌的请求以匿名身份继续；携带了无效令牌的请求总是被拒绝。
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if m.required {
				abort(c, "missing_token", "Authorization header is required")
				return
			}
			c.Next()
			return
		}

		token, err := ExtractTokenFromHeader(header)
		if err != nil {
			abort(c, "invalid_token", err.Error())
			return
		}

		claims, err := m.jwt.ValidateToken(token)
		if err != nil {
			m.logger.Debug("Rejected bearer token", zap.Error(err))
			abort(c, "invalid_token", "token is invalid or expired")
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// UserID 返回当前请求的用户，匿名时为nil
func UserID(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return nil
	}
	return &id
}

func abort(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   code,
		"message": message,
	})
}
