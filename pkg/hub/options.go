package hub

import (
	"time"

	"github.com/tokmz/cliphub/pkg/logger"
	"github.com/tokmz/cliphub/pkg/relay"
)

// Option Hub 选项
type Option func(*Hub)

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(h *Hub) {
		if metrics != nil {
			h.metrics = metrics
		}
	}
}

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// WithRelay 设置跨实例中转
func WithRelay(r relay.Relay) Option {
	return func(h *Hub) {
		if r != nil {
			h.relay = r
		}
	}
}

// WithInstanceID 设置实例标识，默认随机生成
func WithInstanceID(id string) Option {
	return func(h *Hub) {
		if id != "" {
			h.instanceID = id
		}
	}
}
