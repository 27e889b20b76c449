package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig CORS 中间件配置
type CORSConfig struct {
	// AllowOrigins 允许的源列表
	// 支持精确匹配和通配符，如 "https://*.example.com"
	AllowOrigins []string `mapstructure:"allow_origins"`

	// AllowMethods 允许的 HTTP 方法
	AllowMethods []string `mapstructure:"allow_methods"`

	// AllowHeaders 允许的请求头
	AllowHeaders []string `mapstructure:"allow_headers"`

	// ExposeHeaders 允许前端访问的响应头
	ExposeHeaders []string `mapstructure:"expose_headers"`

	// AllowCredentials 是否允许携带 Cookie
	// 为 true 时 AllowOrigins 不能为 ["*"]
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge 预检请求缓存时间
	MaxAge time.Duration `mapstructure:"max_age"`
}

// DefaultCORSConfig 返回默认配置
// 登录依赖 Cookie，默认允许凭证，因此不能放行全部源
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"X-Requested-With",
		},
		ExposeHeaders:    []string{"Traceparent"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

// CORS 创建 CORS 中间件
func CORS(cfgs ...*CORSConfig) gin.HandlerFunc {
	cfg := DefaultCORSConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}

	allowAllOrigins := len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*"
	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	exposeHeaders := strings.Join(cfg.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	if cfg.AllowCredentials && allowAllOrigins {
		panic("cliphub/middleware: CORS AllowCredentials cannot be used with AllowOrigins [\"*\"]")
	}

	var wildcardOrigins []string
	exactOrigins := make(map[string]bool)
	if !allowAllOrigins {
		for _, origin := range cfg.AllowOrigins {
			if strings.Contains(origin, "*") {
				wildcardOrigins = append(wildcardOrigins, origin)
			} else {
				exactOrigins[origin] = true
			}
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		// 非跨域请求
		if origin == "" {
			c.Next()
			return
		}

		if !allowAllOrigins && !matchOrigin(origin, exactOrigins, wildcardOrigins) {
			c.Next()
			return
		}

		if allowAllOrigins {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
		}

		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if exposeHeaders != "" {
			c.Header("Access-Control-Expose-Headers", exposeHeaders)
		}

		// 预检请求
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", allowMethods)
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// matchOrigin 检查 origin 是否匹配
func matchOrigin(origin string, exact map[string]bool, wildcards []string) bool {
	if exact[origin] {
		return true
	}
	for _, pattern := range wildcards {
		if matchWildcard(origin, pattern) {
			return true
		}
	}
	return false
}

// matchWildcard 通配符匹配，支持 "https://*.example.com"
func matchWildcard(origin, pattern string) bool {
	prefix, suffix, ok := strings.Cut(pattern, "*")
	if !ok {
		return origin == pattern
	}
	return strings.HasPrefix(origin, prefix) &&
		strings.HasSuffix(origin, suffix) &&
		len(origin) > len(prefix)+len(suffix)
}
