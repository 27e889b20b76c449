package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/errors"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap"
)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// Cache 计数存储，多实例部署时使用 redis 共享计数（必填）
	Cache cache.Cache

	// Limit 每个窗口允许的请求数，<= 0 时不限流
	Limit int

	// Window 固定窗口长度（默认 1 分钟）
	Window time.Duration

	// KeyPrefix 计数键前缀（默认 "ratelimit:"）
	KeyPrefix string

	// KeyFunc 自定义限流 key 函数（默认使用客户端 IP）
	KeyFunc func(c *gin.Context) string

	// Logger 日志实例
	Logger logger.Logger
}

// RateLimiter 创建固定窗口限流中间件
// 计数存储不可用时放行并记录日志
func RateLimiter(cfg *RateLimiterConfig) gin.HandlerFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit:"
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string {
			return c.ClientIP()
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	limit := strconv.Itoa(cfg.Limit)

	return func(c *gin.Context) {
		if cfg.Limit <= 0 {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		count, err := cfg.Cache.IncrWindow(c.Request.Context(), cfg.KeyPrefix+key, cfg.Window)
		if err != nil {
			cfg.Logger.WarnContext(c.Request.Context(), "rate limiter unavailable",
				zap.String("key", key),
				zap.Error(err),
			)
			c.Next()
			return
		}

		remaining := cfg.Limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > int64(cfg.Limit) {
			cfg.Logger.WarnContext(c.Request.Context(), "rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request.URL.Path),
				zap.Int("limit", cfg.Limit),
			)
			c.Header("Retry-After", strconv.Itoa(int(cfg.Window/time.Second)))
			abortWithError(c, errors.ErrTooManyRequests)
			return
		}

		c.Next()
	}
}
