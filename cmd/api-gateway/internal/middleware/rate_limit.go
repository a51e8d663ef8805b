package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cyroid/backend/internal/cache"
	"github.com/cyroid/backend/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitWindow = time.Minute

// RateLimiter 按客户端IP的固定窗口限流
type RateLimiter struct {
	client *redis.Client
	limit  int64
	logger *zap.Logger
}

// NewRateLimiter 创建限流中间件（Fx兼容）
func NewRateLimiter(client *redis.Client, cfg *config.Config, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  int64(cfg.Server.RateLimitPerMinute),
		logger: logger,
	}
}

// Middleware 限流中间件处理函数
//
// Redis不可用时放行请求，只记录日志。
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.limit <= 0 {
			c.Next()
			return
		}

		count, err := cache.IncrementRateLimit(c.Request.Context(), r.client, "ip:"+c.ClientIP(), rateLimitWindow)
		if err != nil {
			r.logger.Warn("Rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		remaining := r.limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(r.limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > r.limit {
			c.Header("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     fmt.Sprintf("Limit: %d requests per minute.", r.limit),
				"retry_after": int(rateLimitWindow.Seconds()),
			})
			return
		}

		c.Next()
	}
}
