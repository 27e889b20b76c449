package cliphub

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap"
)

// ShutdownHook 关机回调，ctx 带 server.shutdown_timeout 超时
type ShutdownHook func(ctx context.Context) error

// Engine HTTP 服务，负责路由承载和优雅关机
type Engine struct {
	config ServerConfig
	engine *gin.Engine
	log    logger.Logger
	banner io.Writer

	beforeShutdown []ShutdownHook
	afterShutdown  []ShutdownHook

	mu     sync.Mutex
	server *http.Server
}

// EngineOption Engine 配置选项
type EngineOption func(*Engine)

// WithBeforeShutdown 添加关机前回调（HTTP 服务停止接收新请求之前）
func WithBeforeShutdown(fn ShutdownHook) EngineOption {
	return func(e *Engine) {
		e.beforeShutdown = append(e.beforeShutdown, fn)
	}
}

// WithAfterShutdown 添加关机后回调，已升级的 WebSocket 不受 http.Server.Shutdown 管理，需在这里关闭
func WithAfterShutdown(fn ShutdownHook) EngineOption {
	return func(e *Engine) {
		e.afterShutdown = append(e.afterShutdown, fn)
	}
}

// WithBanner 设置 banner 输出，nil 表示不打印
func WithBanner(w io.Writer) EngineOption {
	return func(e *Engine) {
		e.banner = w
	}
}

// NewEngine 创建 Engine
func NewEngine(config ServerConfig, log logger.Logger, opts ...EngineOption) *Engine {
	if log == nil {
		log = logger.NewNop()
	}

	// gin.SetMode 是全局操作，进程内只应创建一个 Engine
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	silenceGin()

	ginEngine := gin.New()
	if err := ginEngine.SetTrustedProxies(config.TrustedProxies); err != nil {
		log.Warn("set trusted proxies failed", zap.Error(err))
	}
	ginEngine.HandleMethodNotAllowed = true

	e := &Engine{
		config: config,
		engine: ginEngine,
		log:    log.Named("http"),
		banner: os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Use 注册全局中间件
func (e *Engine) Use(middlewares ...gin.HandlerFunc) {
	e.engine.Use(middlewares...)
}

// Router 返回底层 gin 路由
func (e *Engine) Router() *gin.Engine {
	return e.engine
}

// ServeHTTP 实现 http.Handler
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.engine.ServeHTTP(w, r)
}

// Run 监听 server.addr 并阻塞，ctx 取消后优雅关机
func (e *Engine) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.config.Addr)
	if err != nil {
		return err
	}
	return e.Serve(ctx, ln)
}

// Serve 在指定 listener 上提供服务，ctx 取消后优雅关机
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:        e.engine,
		ReadTimeout:    e.config.ReadTimeout,
		WriteTimeout:   e.config.WriteTimeout,
		IdleTimeout:    e.config.IdleTimeout,
		MaxHeaderBytes: e.config.MaxHeaderBytes,
	}
	e.mu.Lock()
	e.server = server
	e.mu.Unlock()

	if e.banner != nil {
		e.printBanner(ln.Addr().String())
	}
	e.log.Info("server started", zap.String("addr", ln.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
		e.log.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// Shutdown 依次执行关机前回调、关闭 HTTP 服务、执行关机后回调
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	server := e.server
	e.mu.Unlock()
	if server == nil {
		return nil
	}

	var errs []error
	for _, hook := range e.beforeShutdown {
		errs = append(errs, hook(ctx))
	}

	if err := server.Shutdown(ctx); err != nil {
		e.log.Error("server forced to shutdown", zap.Error(err))
		errs = append(errs, err)
	}

	for _, hook := range e.afterShutdown {
		errs = append(errs, hook(ctx))
	}

	e.log.Info("server exited")
	return errors.Join(errs...)
}
