package router

import (
	"fmt"
	"math"
	"strings"

	"github.com/entrega-next/internal/cache"
	"github.com/entrega-next/internal/http/response"
	"github.com/entrega-next/internal/logger"

	"github.com/gin-gonic/gin"
)

// RateLimitKeyFunc 生成限流 key 的函数
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitMiddleware 频率限制中间件；限流存储不可用时放行
func RateLimitMiddleware(limiter cache.RateLimiter, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := ""
		if keyFunc != nil {
			key = strings.TrimSpace(keyFunc(c))
		}
		if key == "" {
			key = c.ClientIP()
		}

		allowed, wait, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warnw("api_rate_limit_unavailable", "key", key, "error", err)
			c.Next()
			return
		}
		if !allowed {
			waitSeconds := int(math.Ceil(wait.Seconds()))
			if waitSeconds < 1 {
				waitSeconds = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", waitSeconds))
			response.Error(c, response.CodeTooManyRequests, fmt.Sprintf("too many requests, retry in %ds", waitSeconds))
			c.Abort()
			return
		}

		c.Next()
	}
}

// KeyByIP 使用 IP 作为限流 key
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}
