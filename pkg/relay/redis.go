package relay

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap"
)

// redisRelay 基于 Redis Pub/Sub
type redisRelay struct {
	client  redis.UniversalClient
	channel string
	log     logger.Logger
}

func newRedisRelay(cfg *Config, log logger.Logger) (Relay, error) {
	client, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}
	return &redisRelay{client: client, channel: cfg.Channel, log: log}, nil
}

// Publish 发布到频道
func (r *redisRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe 订阅频道，go-redis 会在断线后自动重新订阅
func (r *redisRelay) Subscribe(ctx context.Context, handler Handler) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// 等待订阅确认，确保之后发布的消息不会丢
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			env, err := decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("drop malformed relay envelope", zap.String("driver", "redis"), zap.Error(err))
				continue
			}
			handler(env)
		}
	}
}

func (r *redisRelay) Close() error {
	return r.client.Close()
}
