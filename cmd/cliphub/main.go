// Command cliphub 房间剪贴板实时广播服务
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tokmz/cliphub"
	"github.com/tokmz/cliphub/pkg/auth"
	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/config"
	"github.com/tokmz/cliphub/pkg/hub"
	"github.com/tokmz/cliphub/pkg/logger"
	"github.com/tokmz/cliphub/pkg/metrics"
	"github.com/tokmz/cliphub/pkg/relay"
	"github.com/tokmz/cliphub/pkg/tracing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/cliphub.yaml", "config file path, empty for defaults and env only")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "cliphub: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	// .env 不存在时忽略，已存在的环境变量优先
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, src, err := cliphub.LoadConfig(configPath)
	if err != nil {
		return err
	}

	// 指标先于日志创建，日志条数按级别计入指标
	var prom *metrics.Prometheus
	var logOpts []logger.Option
	if cfg.Metrics.Enabled {
		prom = metrics.New(cfg.Metrics.Namespace)
		logOpts = append(logOpts, logger.WithHook(prom.LogHook()))
	}

	log, err := cliphub.NewLogger(cfg.Log, logOpts...)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			log.Warn("tracer provider shutdown", zap.Error(err))
		}
	}()

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	store = cache.NewTracing(store)
	defer func() { _ = store.Close() }()

	sessions, err := auth.New(cfg.Auth, store)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	r, err := relay.New(cfg.Relay, log.Named("relay"))
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}

	hubOpts := []hub.Option{hub.WithLogger(log), hub.WithRelay(r)}
	if prom != nil {
		hubOpts = append(hubOpts, hub.WithMetrics(prom))
	}
	h, err := hub.New(cfg.Hub, hubOpts...)
	if err != nil {
		_ = r.Close()
		return fmt.Errorf("init hub: %w", err)
	}

	if cfg.Server.WatchConfig {
		if err := watchConfig(src, cfg, h, log); err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}

	engine := cliphub.NewServer(cfg, &cliphub.App{
		Hub:     h,
		Auth:    sessions,
		Cache:   store,
		Log:     log,
		Metrics: prom,
	})

	log.Info("cliphub starting",
		zap.String("version", cliphub.Version),
		zap.String("instance_id", h.InstanceID()),
		zap.String("relay", string(cfg.Relay.Driver)),
		zap.String("cache", string(cfg.Cache.Driver)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Engine 关机后回调负责关闭 Hub
		return engine.Run(gctx)
	})
	g.Go(func() error {
		return h.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("cliphub exited with error", zap.Error(err))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = h.Shutdown(shutdownCtx)
		return err
	}
	log.Info("cliphub stopped")
	return nil
}

// watchConfig 开启配置热加载
func watchConfig(src *config.Config, cfg *cliphub.AppConfig, h *hub.Hub, log logger.Logger) error {
	if src.ConfigFileUsed() == "" {
		return errors.New("no config file in use")
	}
	return cliphub.NewReloader(src, cfg, h, log.Named("config")).Watch()
}
