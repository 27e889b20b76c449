package cache

import (
	"context"
	"time"
)

// Cache 会话吊销列表和登录限流共用的键值存储
// 多实例部署时使用 redis 驱动，计数和吊销才能跨实例生效
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// TTL 键不存在时返回 ErrCacheNotFound
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr 保留原有过期时间
	Incr(ctx context.Context, key string) (int64, error)
	// IncrWindow 自增计数，键首次创建时设置过期时间，之后不再延长
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// Ping 供 /readyz 检查连通性
	Ping(ctx context.Context) error
	Close() error
}

// Serializer 值的编码方式，计数器之外的值都经过它
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
