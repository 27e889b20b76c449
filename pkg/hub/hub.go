package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tokmz/cliphub/pkg/logger"
	"github.com/tokmz/cliphub/pkg/relay"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Hub 房间广播中心
type Hub struct {
	config      *Config
	registry    *Registry
	broadcaster *Broadcaster
	sweeper     *Sweeper
	dispatcher  *dispatcher
	safeRooms   *SafeRooms
	upgrader    *websocket.Upgrader
	connConfig  connConfig

	relay      relay.Relay
	instanceID string

	now     func() time.Time
	log     logger.Logger
	metrics Metrics

	// 生命周期
	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
}

// New 创建广播中心，分发 worker 随之启动，需调用 Shutdown 释放
func New(config *Config, opts ...Option) (*Hub, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	h := &Hub{
		config:     config,
		relay:      relay.None{},
		instanceID: uuid.NewString(),
		now:        time.Now,
		log:        logger.NewNop(),
		metrics:    NoopMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}

	h.log = h.log.Named("hub")
	h.safeRooms = NewSafeRooms(config.SafeRooms)
	h.registry = NewRegistry(config, h.now)
	h.broadcaster = NewBroadcaster(config, h.registry, h.safeRooms, h.log, h.metrics)
	h.sweeper = NewSweeper(config, h.registry, h.broadcaster, h.now, h.log, h.metrics)
	h.dispatcher = newDispatcher(config.DispatchQueueSize, config.SendTimeout)
	h.upgrader = newUpgrader(config)
	h.connConfig = newConnConfig(config)

	h.dispatcher.start(config.DispatchWorkers)
	return h, nil
}

// Run 运行空闲清理和跨实例订阅，阻塞直到 ctx 取消
// 订阅失败不会结束 Run：期间只做本地投递，按退避间隔重新订阅
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.sweeper.Run(ctx)
	})

	g.Go(func() error {
		h.subscribeRelay(ctx)
		return nil
	})

	return g.Wait()
}

// subscribeRelay 保持跨实例订阅，ctx 取消前订阅返回都视为断开
func (h *Hub) subscribeRelay(ctx context.Context) {
	backoff := h.config.RelayRetryMin
	for {
		started := h.now()
		err := h.relay.Subscribe(ctx, h.onRelay)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = relay.ErrClosed
		}
		// 订阅维持过一段时间说明通道曾恢复，退避从头开始
		if h.now().Sub(started) > h.config.RelayRetryMax {
			backoff = h.config.RelayRetryMin
		}

		h.metrics.IncrementRelayFailures()
		h.log.Warn("relay subscription lost, delivering locally only",
			zap.String("event", "relay_subscribe_error"),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, h.config.RelayRetryMax)
	}
}

// Broadcast 异步广播到房间，供外部调用方使用（如记录删除通知）
// 立即返回，不等待投递完成
func (h *Hub) Broadcast(room string, msg Message) error {
	if msg.Type() == "" {
		return ErrMissingType
	}
	room = Normalize(room)

	err := h.dispatcher.submit(func() {
		h.deliver(context.Background(), room, msg)
	})
	if errors.Is(err, ErrDispatchQueueFull) {
		h.metrics.IncrementDroppedMessages()
		h.log.Warn("broadcast dropped",
			zap.String("event", "websocket_broadcast_error"),
			zap.String("room_id", room),
			zap.String("type", msg.Type()),
			zap.Error(err),
		)
	}
	return err
}

// deliver 本地投递后发布到中转通道
func (h *Hub) deliver(ctx context.Context, room string, msg Message) BroadcastResult {
	result := h.broadcaster.Broadcast(ctx, room, msg)
	h.publish(ctx, room, msg)
	return result
}

// publish 发布未脱敏的原始消息，由接收实例按自己的匿名房间配置脱敏
func (h *Hub) publish(ctx context.Context, room string, msg Message) {
	payload, err := msg.Encode()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.SendTimeout)
	defer cancel()

	err = h.relay.Publish(ctx, relay.Envelope{
		ID:      uuid.NewString(),
		Origin:  h.instanceID,
		Room:    room,
		Payload: payload,
	})
	if err != nil {
		h.log.Warn("relay publish failed",
			zap.String("event", "relay_publish_error"),
			zap.String("room_id", room),
			zap.Error(err),
		)
	}
}

// onRelay 处理其他实例的广播，只投递到本地
func (h *Hub) onRelay(env relay.Envelope) {
	if env.Origin == h.instanceID {
		return
	}

	msg, err := ParseMessage(env.Payload)
	if err != nil {
		h.log.Warn("drop relayed message",
			zap.String("room_id", env.Room),
			zap.String("origin", env.Origin),
			zap.Error(err),
		)
		return
	}

	room := Normalize(env.Room)
	if err := h.dispatcher.submit(func() {
		h.broadcaster.Broadcast(context.Background(), room, msg)
	}); errors.Is(err, ErrDispatchQueueFull) {
		h.metrics.IncrementDroppedMessages()
	}
}

// SetSafeRooms 替换匿名房间集合，可在运行中调用
func (h *Hub) SetSafeRooms(rooms []string) error {
	for _, room := range rooms {
		if !ValidRoomID(Normalize(room)) {
			return fmt.Errorf("%w: safe room %q is not a valid room id", ErrInvalidConfig, room)
		}
	}
	h.safeRooms.Set(rooms)
	h.log.Info("safe rooms updated", zap.Int("count", h.safeRooms.Len()))
	return nil
}

// Stats 房间统计，匿名房间的客户端标识替换为占位符
func (h *Hub) Stats(room string) RoomStats {
	room = Normalize(room)
	stats := h.registry.Stats(room)
	if h.safeRooms.Contains(room) {
		for i := range stats.Clients {
			stats.Clients[i] = h.config.RedactionPlaceholder
		}
	}
	return stats
}

// Registry 连接注册表
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Sweep 立即执行一轮空闲清理
func (h *Hub) Sweep(ctx context.Context) SweepResult {
	return h.sweeper.Sweep(ctx)
}

// InstanceID 实例标识
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// acquire 登记会话，关闭后返回 false
func (h *Hub) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions.Add(1)
	return true
}

// Shutdown 以 1001 关闭全部连接并等待会话退出，随后停止分发并关闭中转
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	conns := h.registry.Connections()
	for _, c := range conns {
		_ = c.conn.Close(CloseGoingAway, ReasonShutdown)
	}
	h.log.Info("hub shutting down", zap.Int("connections", len(conns)))

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	h.dispatcher.stop()
	if n := h.dispatcher.droppedCount(); n > 0 {
		h.log.Warn("broadcasts dropped during lifetime", zap.Int64("dropped", n))
	}
	return errors.Join(waitErr, h.relay.Close())
}
