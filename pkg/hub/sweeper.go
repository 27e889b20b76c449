package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap"
)

// SweepResult 单轮清理结果
type SweepResult struct {
	Evicted int // 被踢下线的连接
	Stale   int // 连接已不存在、只删除活跃记录的客户端
	Pruned  int // 过期的断开记录
	Revived int // 等待本轮其他踢出期间重新活跃、被跳过的客户端
	Errors  int // 处理中出错并被跳过的客户端
}

// Sweeper 定期清理空闲会话
type Sweeper struct {
	registry    *Registry
	broadcaster *Broadcaster
	interval    time.Duration
	idleTimeout time.Duration
	sendTimeout time.Duration
	message     string
	now         func() time.Time
	log         logger.Logger
	metrics     Metrics

	// evict 踢出单个连接，测试中可替换以注入错误
	evict func(ctx context.Context, c *Connection)
}

// NewSweeper 创建清理器
func NewSweeper(cfg *Config, registry *Registry, broadcaster *Broadcaster, now func() time.Time, log logger.Logger, metrics Metrics) *Sweeper {
	if now == nil {
		now = time.Now
	}
	s := &Sweeper{
		registry:    registry,
		broadcaster: broadcaster,
		interval:    cfg.SweepInterval,
		idleTimeout: cfg.IdleTimeout,
		sendTimeout: cfg.SendTimeout,
		message:     cfg.TimeoutMessage,
		now:         now,
		log:         log,
		metrics:     metrics,
	}
	s.evict = s.evictConnection
	return s
}

// Run 周期执行清理直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result := s.Sweep(ctx)
			if result.Evicted > 0 || result.Errors > 0 {
				s.log.Info("idle sweep finished",
					zap.Int("evicted", result.Evicted),
					zap.Int("stale", result.Stale),
					zap.Int("pruned", result.Pruned),
					zap.Int("errors", result.Errors),
				)
			}
		}
	}
}

// Sweep 执行一轮清理，单个客户端出错不会中断本轮
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	now := s.now()
	var result SweepResult

	for _, idle := range s.registry.idle(now, s.idleTimeout) {
		outcome, err := s.sweepOne(ctx, idle)
		switch {
		case err != nil:
			result.Errors++
			s.log.Error("sweep client failed",
				zap.String("room_id", idle.room),
				zap.String("client_id", s.broadcaster.DisplayLabel(idle.room, idle.label)),
				zap.Error(err),
			)
		case outcome == idleEvict:
			result.Evicted++
		case outcome == idleStale:
			result.Stale++
		default:
			result.Revived++
		}
	}

	result.Pruned = s.registry.prune(now)
	s.metrics.SetRoomCount(s.registry.RoomCount())
	return result
}

// sweepOne 处理单个空闲客户端，panic 转为错误返回
// 本轮前面的踢出可能耗时，踢出前按当前时间重新判断是否空闲
func (s *Sweeper) sweepOne(ctx context.Context, idle idleClient) (outcome idleOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()

	target, outcome := s.registry.claimIdle(idle.room, idle.label, s.now(), s.idleTimeout)
	if outcome == idleEvict {
		s.evict(ctx, target)
	}
	return outcome, nil
}

// evictConnection 先尝试发送超时通知，再无条件断开
func (s *Sweeper) evictConnection(ctx context.Context, c *Connection) {
	label := s.registry.Label(c)
	display := s.broadcaster.DisplayLabel(c.room, label)

	payload, err := SessionTimeout(s.message).Encode()
	if err == nil {
		sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		err = c.conn.Send(sendCtx, payload)
		cancel()
	}
	if err != nil {
		s.log.Warn("session timeout notice failed",
			zap.String("event", "session_timeout"),
			zap.String("room_id", c.room),
			zap.String("client_id", display),
			zap.Error(err),
		)
	}

	_ = c.conn.Close(CloseNormal, ReasonSessionTimeout)
	if _, ok := s.registry.Disconnect(c); ok {
		s.metrics.IncrementEvictions()
		s.metrics.DecrementConnections()
		s.log.Info("session timed out",
			zap.String("event", "session_timeout"),
			zap.String("room_id", c.room),
			zap.String("client_id", display),
		)
	}
}
