package hub

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Config 广播中心配置
type Config struct {
	// 匿名房间：广播和日志中的 client_id 一律替换为占位符
	SafeRooms []string `mapstructure:"safe_rooms"`

	// 会话与清理
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`   // 空闲超时
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // 清理间隔
	RefreshWindow time.Duration `mapstructure:"refresh_window"` // 断开后多久内重连视为刷新
	DedupWindow   time.Duration `mapstructure:"dedup_window"`   // 刷新通知去重窗口

	// 广播
	SendTimeout       time.Duration `mapstructure:"send_timeout"`        // 单连接发送超时
	BroadcastWorkers  int           `mapstructure:"broadcast_workers"`   // 单次广播并发数
	DispatchWorkers   int           `mapstructure:"dispatch_workers"`    // 外部广播 worker 数
	DispatchQueueSize int           `mapstructure:"dispatch_queue_size"` // 外部广播队列大小

	// 跨实例订阅断开后的重试间隔，按指数退避从 min 增长到 max
	RelayRetryMin time.Duration `mapstructure:"relay_retry_min"`
	RelayRetryMax time.Duration `mapstructure:"relay_retry_max"`

	// 文案
	RedactionPlaceholder string `mapstructure:"redaction_placeholder"`
	TimeoutMessage       string `mapstructure:"timeout_message"`

	// 连接
	MaxMessageSize    int64         `mapstructure:"max_message_size"`   // 单帧最大字节数
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // 协议层 ping 间隔
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`  // 未收到 pong 的断开时间
	WriteWait         time.Duration `mapstructure:"write_wait"`         // 单次写超时
	SendQueueSize     int           `mapstructure:"send_queue_size"`    // 连接发送队列大小

	// Upgrader
	AllowedOrigins    []string `mapstructure:"allowed_origins"` // 为空时同源检查，"*" 放行全部
	EnableCompression bool     `mapstructure:"enable_compression"`
	ReadBufferSize    int      `mapstructure:"read_buffer_size"`
	WriteBufferSize   int      `mapstructure:"write_buffer_size"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		SafeRooms:            []string{},
		IdleTimeout:          3600 * time.Second,
		SweepInterval:        60 * time.Second,
		RefreshWindow:        5 * time.Second,
		DedupWindow:          10 * time.Second,
		SendTimeout:          5 * time.Second,
		BroadcastWorkers:     32,
		DispatchWorkers:      10,
		DispatchQueueSize:    1000,
		RelayRetryMin:        time.Second,
		RelayRetryMax:        30 * time.Second,
		RedactionPlaceholder: "匿名",
		TimeoutMessage:       "会话已超时，请重新登录",
		MaxMessageSize:       512 * 1024,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     90 * time.Second,
		WriteWait:            10 * time.Second,
		SendQueueSize:        256,
		ReadBufferSize:       1024,
		WriteBufferSize:      1024,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"idle_timeout", c.IdleTimeout},
		{"sweep_interval", c.SweepInterval},
		{"refresh_window", c.RefreshWindow},
		{"dedup_window", c.DedupWindow},
		{"send_timeout", c.SendTimeout},
		{"heartbeat_interval", c.HeartbeatInterval},
		{"write_wait", c.WriteWait},
		{"relay_retry_min", c.RelayRetryMin},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, p.name, p.value)
		}
	}

	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("%w: heartbeat_timeout (%v) must be greater than heartbeat_interval (%v)",
			ErrInvalidConfig, c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.RelayRetryMax < c.RelayRetryMin {
		return fmt.Errorf("%w: relay_retry_max (%v) must not be less than relay_retry_min (%v)",
			ErrInvalidConfig, c.RelayRetryMax, c.RelayRetryMin)
	}
	if c.BroadcastWorkers <= 0 || c.DispatchWorkers <= 0 {
		return fmt.Errorf("%w: worker counts must be positive", ErrInvalidConfig)
	}
	if c.DispatchQueueSize <= 0 || c.SendQueueSize <= 0 {
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max_message_size must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.RedactionPlaceholder == "" {
		return fmt.Errorf("%w: redaction_placeholder is required", ErrInvalidConfig)
	}
	for _, room := range c.SafeRooms {
		if !ValidRoomID(Normalize(room)) {
			return fmt.Errorf("%w: safe room %q is not a valid room id", ErrInvalidConfig, room)
		}
	}

	return nil
}

// tombstoneTTL 断开记录的保留时间
func (c *Config) tombstoneTTL() time.Duration {
	return max(c.RefreshWindow, c.DedupWindow)
}

// newUpgrader 创建 Upgrader
func newUpgrader(c *Config) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:    c.ReadBufferSize,
		WriteBufferSize:   c.WriteBufferSize,
		CheckOrigin:       originChecker(c.AllowedOrigins),
		EnableCompression: c.EnableCompression,
	}
}

// originChecker 根据白名单构造 Origin 检查
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return sameOrigin
	}

	whitelist := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 非浏览器客户端
			return true
		}
		return whitelist[origin]
	}
}

// sameOrigin 同源检查，非浏览器客户端（无 Origin）放行，由会话认证把关
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
