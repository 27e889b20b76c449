package hub

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tokmz/cliphub/pkg/logger"
	"github.com/tokmz/cliphub/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BroadcastResult 单次广播结果
type BroadcastResult struct {
	Sent   int
	Failed int
}

// Broadcaster 向房间内所有连接投递消息
type Broadcaster struct {
	registry    *Registry
	safeRooms   *SafeRooms
	placeholder string
	workers     int
	sendTimeout time.Duration
	log         logger.Logger
	metrics     Metrics
}

// NewBroadcaster 创建广播器
func NewBroadcaster(cfg *Config, registry *Registry, safeRooms *SafeRooms, log logger.Logger, metrics Metrics) *Broadcaster {
	return &Broadcaster{
		registry:    registry,
		safeRooms:   safeRooms,
		placeholder: cfg.RedactionPlaceholder,
		workers:     cfg.BroadcastWorkers,
		sendTimeout: cfg.SendTimeout,
		log:         log,
		metrics:     metrics,
	}
}

// Redact 匿名房间内把 client_id 替换为占位符，其余情况原样返回
func (b *Broadcaster) Redact(room string, msg Message) Message {
	if !msg.Has(fieldClientID) || !b.safeRooms.Contains(room) {
		return msg
	}
	return msg.With(fieldClientID, b.placeholder)
}

// DisplayLabel 日志中使用的客户端标识，匿名房间一律替换为占位符
func (b *Broadcaster) DisplayLabel(room, label string) string {
	if b.safeRooms.Contains(room) {
		return b.placeholder
	}
	return label
}

// Broadcast 投递给调用时刻房间内的全部连接
// 单个连接失败只计数和记录日志，不影响其他连接；满足 Sent+Failed == 连接数
func (b *Broadcaster) Broadcast(ctx context.Context, room string, msg Message) BroadcastResult {
	room = Normalize(room)
	targets := b.registry.Snapshot(room)
	if len(targets) == 0 {
		return BroadcastResult{}
	}

	ctx, span := tracing.StartSpan(ctx, "hub.broadcast")
	defer span.End()
	span.SetAttributes(
		attribute.String("room_id", room),
		attribute.String("message.type", msg.Type()),
		attribute.Int("recipients", len(targets)),
	)

	start := time.Now()
	payload, err := b.Redact(room, msg).Encode()
	if err != nil {
		tracing.RecordError(span, err)
		b.log.ErrorContext(ctx, "encode broadcast failed",
			zap.String("event", "websocket_broadcast_error"),
			zap.String("room_id", room),
			zap.Error(err),
		)
		result := BroadcastResult{Failed: len(targets)}
		b.metrics.RecordBroadcast(0, result.Failed, time.Since(start))
		return result
	}

	var sent, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(b.workers)
	for _, target := range targets {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
			defer cancel()

			if err := target.conn.Send(sendCtx, payload); err != nil {
				failed.Add(1)
				b.log.WarnContext(ctx, "broadcast to connection failed",
					zap.String("event", "websocket_broadcast_error"),
					zap.String("room_id", room),
					zap.String("client_id", b.DisplayLabel(room, b.registry.Label(target))),
					zap.String("conn_id", target.id),
					zap.Error(err),
				)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := BroadcastResult{Sent: int(sent.Load()), Failed: int(failed.Load())}
	span.SetAttributes(attribute.Int("sent", result.Sent), attribute.Int("failed", result.Failed))
	b.metrics.RecordBroadcast(result.Sent, result.Failed, time.Since(start))
	return result
}
