package cliphub

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/cliphub/middleware"
	"github.com/tokmz/cliphub/pkg/auth"
	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/hub"
	"github.com/tokmz/cliphub/pkg/logger"
	"github.com/tokmz/cliphub/pkg/metrics"
)

// App 路由依赖的组件
type App struct {
	Hub   *hub.Hub
	Auth  *auth.Manager
	Cache cache.Cache
	Log   logger.Logger

	// Metrics 为 nil 时不注册指标路由
	Metrics *metrics.Prometheus
}

// NewServer 创建 Engine 并注册中间件和路由
//
//	GET  /healthz
//	GET  /readyz
//	GET  /metrics
//	GET  /ws/:room_id
//	POST /api/login
//	POST /api/logout
//	GET  /api/session
//	POST /api/rooms/:room_id/broadcast
//	GET  /api/rooms/:room_id/stats
//
// 关机时 HTTP 服务停止后关闭 Hub，向所有连接发送 1001
func NewServer(cfg *AppConfig, app *App, opts ...EngineOption) *Engine {
	log := app.Log
	if log == nil {
		log = logger.NewNop()
	}

	opts = append([]EngineOption{WithAfterShutdown(func(ctx context.Context) error {
		return app.Hub.Shutdown(ctx)
	})}, opts...)
	e := NewEngine(cfg.Server, log, opts...)

	metricsPath := ""
	if app.Metrics != nil && cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	quiet := []string{"/healthz", "/readyz"}
	if metricsPath != "" {
		quiet = append(quiet, metricsPath)
	}

	e.Use(
		middleware.Tracing(&middleware.TracingConfig{TracerName: "cliphub.http", ExcludePaths: quiet}),
		middleware.Recovery(log.Named("http")),
		middleware.Logger(log.Named("http"), &middleware.LoggerConfig{ExcludePaths: quiet}),
	)

	h := &handlers{
		hub:     app.Hub,
		auth:    app.Auth,
		cache:   app.Cache,
		log:     log.Named("api"),
		maxBody: cfg.Hub.MaxMessageSize,
	}

	r := e.Router()
	r.NoRoute(func(c *gin.Context) { fail(c, errNotFound) })
	r.NoMethod(func(c *gin.Context) { fail(c, errMethodNotAllowed) })

	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)
	if metricsPath != "" {
		r.GET(metricsPath, gin.WrapH(app.Metrics.Handler()))
	}
	r.GET("/ws/:room_id", h.websocket)

	api := r.Group("/api", middleware.CORS(cfg.CORS))
	{
		login := []gin.HandlerFunc{h.login}
		if limit := app.Auth.LoginRateLimit(); limit > 0 && app.Cache != nil {
			login = append([]gin.HandlerFunc{middleware.RateLimiter(&middleware.RateLimiterConfig{
				Cache:     app.Cache,
				Limit:     limit,
				Window:    time.Minute,
				KeyPrefix: "ratelimit:login:",
				Logger:    log.Named("ratelimit"),
			})}, login...)
		}
		api.POST("/login", login...)
		api.POST("/logout", h.logout)
		api.GET("/session", h.session)

		rooms := api.Group("/rooms/:room_id")
		rooms.POST("/broadcast", h.broadcast)
		rooms.GET("/stats", h.stats)

		// 预检请求由 CORS 中间件应答
		api.OPTIONS("/*path", func(c *gin.Context) {})
	}

	return e
}
