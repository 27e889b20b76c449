// Package metrics 基于 Prometheus 的监控实现
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tokmz/cliphub/pkg/hub"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap/zapcore"
)

// Config 监控配置
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Path:      "/metrics",
		Namespace: "cliphub",
	}
}

// Prometheus hub.Metrics 的 Prometheus 实现，使用独立的 Registry
type Prometheus struct {
	registry *prometheus.Registry

	connections        prometheus.Gauge
	rooms              prometheus.Gauge
	rejectedHandshakes *prometheus.CounterVec
	reconnects         *prometheus.CounterVec
	evictions          prometheus.Counter
	messages           *prometheus.CounterVec
	invalidMessages    prometheus.Counter
	deliveries         *prometheus.CounterVec
	broadcastDuration  prometheus.Histogram
	droppedMessages    prometheus.Counter
	relayFailures      prometheus.Counter
	logEntries         *prometheus.CounterVec
}

var _ hub.Metrics = (*Prometheus)(nil)

// New 创建并注册全部指标，同时注册 Go 运行时和进程指标
func New(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "cliphub"
	}
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hub", Name: "connections",
			Help: "Live websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hub", Name: "rooms",
			Help: "Rooms with at least one live connection.",
		}),
		rejectedHandshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "rejected_handshakes_total",
			Help: "Websocket handshakes closed with an error code.",
		}, []string{"code"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "client_registrations_total",
			Help: "Client registrations by reconnect decision.",
		}, []string{"decision"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "idle_evictions_total",
			Help: "Connections evicted by the idle sweeper.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "messages_total",
			Help: "Inbound frames broadcast to rooms, by type.",
		}, []string{"type"}),
		invalidMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "invalid_messages_total",
			Help: "Malformed inbound frames.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "deliveries_total",
			Help: "Per-connection broadcast sends by result.",
		}, []string{"result"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "hub", Name: "broadcast_duration_seconds",
			Help:    "Time to fan a message out to a room.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "dropped_broadcasts_total",
			Help: "External broadcasts dropped because the dispatch queue was full.",
		}),
		relayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "subscribe_failures_total",
			Help: "Cross-instance relay subscriptions lost and retried.",
		}),
		logEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "log", Name: "entries_total",
			Help: "Log entries written, by level.",
		}, []string{"level"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.connections,
		p.rooms,
		p.rejectedHandshakes,
		p.reconnects,
		p.evictions,
		p.messages,
		p.invalidMessages,
		p.deliveries,
		p.broadcastDuration,
		p.droppedMessages,
		p.relayFailures,
		p.logEntries,
	)
	return p
}

// Registry 指标注册表
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler 指标导出
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) IncrementConnections() { p.connections.Inc() }
func (p *Prometheus) DecrementConnections() { p.connections.Dec() }
func (p *Prometheus) SetRoomCount(count int) { p.rooms.Set(float64(count)) }

func (p *Prometheus) IncrementRejectedHandshakes(code int) {
	p.rejectedHandshakes.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (p *Prometheus) IncrementReconnects(decision string) {
	p.reconnects.WithLabelValues(decision).Inc()
}

func (p *Prometheus) IncrementEvictions() { p.evictions.Inc() }

// IncrementMessageCount 消息类型由客户端决定，只保留已知类型避免标签基数失控
func (p *Prometheus) IncrementMessageCount(msgType string) {
	switch msgType {
	case hub.TypeText, hub.TypeFile, hub.TypeRecordDelete:
	default:
		msgType = "other"
	}
	p.messages.WithLabelValues(msgType).Inc()
}

func (p *Prometheus) IncrementInvalidMessages() { p.invalidMessages.Inc() }

func (p *Prometheus) RecordBroadcast(sent, failed int, duration time.Duration) {
	p.deliveries.WithLabelValues("sent").Add(float64(sent))
	p.deliveries.WithLabelValues("failed").Add(float64(failed))
	p.broadcastDuration.Observe(duration.Seconds())
}

func (p *Prometheus) IncrementDroppedMessages() { p.droppedMessages.Inc() }
func (p *Prometheus) IncrementRelayFailures() { p.relayFailures.Inc() }

// LogHook 按级别统计写出的日志条数
func (p *Prometheus) LogHook() logger.Hook {
	return logger.HookFunc(func(entry zapcore.Entry, _ []zapcore.Field) error {
		p.logEntries.WithLabelValues(entry.Level.String()).Inc()
		return nil
	})
}
