package cliphub

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/cliphub/middleware"
	"github.com/tokmz/cliphub/pkg/auth"
	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/config"
	"github.com/tokmz/cliphub/pkg/hub"
	"github.com/tokmz/cliphub/pkg/logger"
	"github.com/tokmz/cliphub/pkg/metrics"
	"github.com/tokmz/cliphub/pkg/relay"
	"github.com/tokmz/cliphub/pkg/tracing"
)

// EnvPrefix 环境变量前缀，如 CLIPHUB_AUTH_SECRET 覆盖 auth.secret
const EnvPrefix = "CLIPHUB"

// ServerConfig 服务器配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string `mapstructure:"addr"`

	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`

	// TrustedProxies 信任的代理 IP，决定登录限流取到的客户端 IP
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// WatchConfig 监控配置文件变更并热加载
	WatchConfig bool `mapstructure:"watch_config"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Console    bool   `mapstructure:"console"`
	File       string `mapstructure:"file"`        // 轮转日志文件，为空时不写文件
	MaxSize    int    `mapstructure:"max_size"`    // MB
	MaxAge     int    `mapstructure:"max_age"`     // 天
	MaxBackups int    `mapstructure:"max_backups"` // 个
	Compress   bool   `mapstructure:"compress"`
	Caller     bool   `mapstructure:"caller"`

	// Sampling 为空时不采样
	Sampling *logger.SamplingConfig `mapstructure:"sampling"`
}

// AppConfig 应用配置
type AppConfig struct {
	Server  ServerConfig           `mapstructure:"server"`
	Log     LogConfig              `mapstructure:"log"`
	Hub     *hub.Config            `mapstructure:"hub"`
	Auth    *auth.Config           `mapstructure:"auth"`
	Cache   *cache.Config          `mapstructure:"cache"`
	Relay   *relay.Config          `mapstructure:"relay"`
	Tracing *tracing.Config        `mapstructure:"tracing"`
	Metrics *metrics.Config        `mapstructure:"metrics"`
	CORS    *middleware.CORSConfig `mapstructure:"cors"`
}

// DefaultAppConfig 返回默认配置，auth.secret 必须由配置文件或环境变量提供
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            gin.ReleaseMode,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
		},
		Log: LogConfig{
			Level:   "info",
			Format:  string(logger.JSONFormat),
			Console: true,
		},
		Hub:     hub.DefaultConfig(),
		Auth:    auth.DefaultConfig(),
		Cache:   cache.DefaultConfig(),
		Relay:   relay.DefaultConfig(),
		Tracing: tracing.DefaultConfig(),
		Metrics: metrics.DefaultConfig(),
		CORS:    middleware.DefaultCORSConfig(),
	}
}

// defaults 转换为 viper 默认值，环境变量只能覆盖 viper 已知的键
func defaults(c *AppConfig) map[string]any {
	return map[string]any{
		"server.addr":             c.Server.Addr,
		"server.mode":             c.Server.Mode,
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.idle_timeout":     c.Server.IdleTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"server.max_header_bytes": c.Server.MaxHeaderBytes,
		"server.trusted_proxies":  c.Server.TrustedProxies,
		"server.watch_config":     c.Server.WatchConfig,

		"log.level":   c.Log.Level,
		"log.format":  c.Log.Format,
		"log.console": c.Log.Console,
		"log.file":    c.Log.File,

		"hub.safe_rooms":            c.Hub.SafeRooms,
		"hub.idle_timeout":          c.Hub.IdleTimeout,
		"hub.sweep_interval":        c.Hub.SweepInterval,
		"hub.refresh_window":        c.Hub.RefreshWindow,
		"hub.dedup_window":          c.Hub.DedupWindow,
		"hub.send_timeout":          c.Hub.SendTimeout,
		"hub.broadcast_workers":     c.Hub.BroadcastWorkers,
		"hub.dispatch_workers":      c.Hub.DispatchWorkers,
		"hub.dispatch_queue_size":   c.Hub.DispatchQueueSize,
		"hub.relay_retry_min":       c.Hub.RelayRetryMin,
		"hub.relay_retry_max":       c.Hub.RelayRetryMax,
		"hub.redaction_placeholder": c.Hub.RedactionPlaceholder,
		"hub.timeout_message":       c.Hub.TimeoutMessage,
		"hub.max_message_size":      c.Hub.MaxMessageSize,
		"hub.heartbeat_interval":    c.Hub.HeartbeatInterval,
		"hub.heartbeat_timeout":     c.Hub.HeartbeatTimeout,
		"hub.write_wait":            c.Hub.WriteWait,
		"hub.send_queue_size":       c.Hub.SendQueueSize,
		"hub.allowed_origins":       c.Hub.AllowedOrigins,
		"hub.enable_compression":    c.Hub.EnableCompression,

		"auth.secret":           c.Auth.Secret,
		"auth.issuer":           c.Auth.Issuer,
		"auth.session_ttl":      c.Auth.SessionTTL,
		"auth.cookie_secure":    c.Auth.CookieSecure,
		"auth.cookie_same_site": c.Auth.CookieSameSite,
		"auth.login_rate_limit": c.Auth.LoginRateLimit,

		"cache.driver":      string(c.Cache.Driver),
		"cache.key_prefix":  c.Cache.KeyPrefix,
		"cache.default_ttl": c.Cache.DefaultTTL,

		"relay.driver":  string(c.Relay.Driver),
		"relay.channel": c.Relay.Channel,

		"tracing.enabled":           c.Tracing.Enabled,
		"tracing.service_name":      c.Tracing.ServiceName,
		"tracing.exporter_type":     c.Tracing.ExporterType,
		"tracing.exporter_endpoint": c.Tracing.ExporterEndpoint,
		"tracing.sampling_rate":     c.Tracing.SamplingRate,

		"metrics.enabled":   c.Metrics.Enabled,
		"metrics.path":      c.Metrics.Path,
		"metrics.namespace": c.Metrics.Namespace,

		"cors.allow_origins":     c.CORS.AllowOrigins,
		"cors.allow_credentials": c.CORS.AllowCredentials,
	}
}

// Validate 验证配置
func (c *AppConfig) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout)
	}
	switch c.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return fmt.Errorf("server.mode: unknown mode %q", c.Server.Mode)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logger.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	if c.CORS.AllowCredentials && slices.Contains(c.CORS.AllowOrigins, "*") {
		return fmt.Errorf("cors: allow_credentials cannot be used with allow_origins \"*\"")
	}

	checks := []struct {
		section string
		validate func() error
	}{
		{"hub", c.Hub.Validate},
		{"auth", c.Auth.Validate},
		{"cache", c.Cache.Validate},
		{"relay", c.Relay.Validate},
	}
	for _, check := range checks {
		if err := check.validate(); err != nil {
			return fmt.Errorf("%s: %w", check.section, err)
		}
	}
	if c.Tracing.Enabled {
		if err := c.Tracing.Validate(); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

// LoadConfig 加载配置：默认值 < 配置文件 < CLIPHUB_ 环境变量
// path 为空时只使用默认值和环境变量
func LoadConfig(path string, opts ...config.Option) (*AppConfig, *config.Config, error) {
	base := []config.Option{
		config.WithDefaults(defaults(DefaultAppConfig())),
		config.WithEnvPrefix(EnvPrefix),
		config.WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	}
	if path != "" {
		base = append(base, config.WithConfigFile(path))
	}
	src := config.New(append(base, opts...)...)
	if err := src.Load(); err != nil {
		return nil, nil, err
	}

	cfg, err := decode(src)
	if err != nil {
		return nil, nil, err
	}
	return cfg, src, nil
}

// decode 反序列化并校验
func decode(src *config.Config) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if err := src.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, config.ErrConfigInvalid.WithError(err)
	}
	return cfg, nil
}

// NewLogger 根据日志配置创建 Logger，extra 追加在配置项之后
func NewLogger(c LogConfig, extra ...logger.Option) (logger.Logger, error) {
	level, err := logger.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := logger.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	opts := []logger.Option{
		logger.WithLevel(level),
		logger.WithFormat(format),
		logger.WithCaller(c.Caller),
		logger.WithStacktrace(true),
	}
	if c.Console {
		opts = append(opts, logger.WithConsoleOutput())
	}
	if c.File != "" {
		opts = append(opts, logger.WithRotateOutput(&logger.RotateConfig{
			Filename:   c.File,
			MaxSize:    c.MaxSize,
			MaxAge:     c.MaxAge,
			MaxBackups: c.MaxBackups,
			LocalTime:  true,
			Compress:   c.Compress,
		}))
	}
	if c.Sampling != nil {
		sampling := *c.Sampling
		opts = append(opts, logger.WithSampling(&sampling))
	}
	return logger.NewWithOptions(append(opts, extra...)...)
}
