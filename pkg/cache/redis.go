package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache Redis 缓存实现
type redisCache struct {
	client     redis.UniversalClient
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
}

// newRedisCache 创建 Redis 缓存实例
func newRedisCache(cfg *Config) (Cache, error) {
	client, err := NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}

	return &redisCache{
		client:     client,
		serializer: cfg.Serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

// NewRedisClient 按模式创建 Redis 客户端并检查连通性
// 跨实例广播等其他组件复用同一套连接配置
func NewRedisClient(cfg *RedisConfig) (redis.UniversalClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: redis config is required", ErrCacheInvalidConfig)
	}

	var client redis.UniversalClient

	switch cfg.Mode {
	case RedisStandalone, "":
		// 单机模式
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})

	case RedisCluster:
		// 集群模式
		if len(cfg.Addrs) == 0 {
			return nil, fmt.Errorf("%w: cluster mode requires addrs", ErrCacheInvalidConfig)
		}
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})

	case RedisSentinel:
		// 哨兵模式
		if len(cfg.Addrs) == 0 {
			return nil, fmt.Errorf("%w: sentinel mode requires addrs", ErrCacheInvalidConfig)
		}
		if cfg.MasterName == "" {
			return nil, fmt.Errorf("%w: sentinel mode requires master name", ErrCacheInvalidConfig)
		}
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported redis mode: %s", ErrCacheInvalidConfig, cfg.Mode)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, ErrCacheConnection.WithError(err)
	}

	return client, nil
}

// buildKey 构建完整的键名
func (r *redisCache) buildKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// Get 获取缓存
func (r *redisCache) Get(ctx context.Context, key string, value any) error {
	fullKey := r.buildKey(key)

	data, err := r.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return ErrCacheOperation.WithError(err)
	}

	if err := r.serializer.Unmarshal(data, value); err != nil {
		return ErrCacheSerialization.WithError(err)
	}

	return nil
}

// Set 设置缓存
func (r *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	fullKey := r.buildKey(key)

	bytes, err := r.serializer.Marshal(value)
	if err != nil {
		return ErrCacheSerialization.WithError(err)
	}

	if ttl == 0 {
		ttl = r.defaultTTL
	}

	if err := r.client.Set(ctx, fullKey, bytes, ttl).Err(); err != nil {
		return ErrCacheOperation.WithError(err)
	}

	return nil
}

// Delete 删除缓存
func (r *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = r.buildKey(key)
	}

	if err := r.client.Del(ctx, fullKeys...).Err(); err != nil {
		return ErrCacheOperation.WithError(err)
	}

	return nil
}

// Exists 检查键是否存在
func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	fullKey := r.buildKey(key)

	count, err := r.client.Exists(ctx, fullKey).Result()
	if err != nil {
		return false, ErrCacheOperation.WithError(err)
	}

	return count > 0, nil
}

// TTL 获取键的剩余生存时间
func (r *redisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	fullKey := r.buildKey(key)

	ttl, err := r.client.TTL(ctx, fullKey).Result()
	if err != nil {
		return 0, ErrCacheOperation.WithError(err)
	}

	if ttl == -2 {
		return 0, ErrCacheNotFound
	}

	if ttl == -1 {
		return -1, nil // 永不过期
	}

	return ttl, nil
}

// Expire 设置键的过期时间
func (r *redisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	fullKey := r.buildKey(key)

	ok, err := r.client.Expire(ctx, fullKey, ttl).Result()
	if err != nil {
		return ErrCacheOperation.WithError(err)
	}

	if !ok {
		return ErrCacheNotFound
	}

	return nil
}

// Incr 自增
func (r *redisCache) Incr(ctx context.Context, key string) (int64, error) {
	fullKey := r.buildKey(key)

	val, err := r.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, ErrCacheOperation.WithError(err)
	}

	return val, nil
}

// IncrWindow 自增计数，首次创建时设置过期时间
func (r *redisCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := r.buildKey(key)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, ErrCacheOperation.WithError(err)
	}

	return incr.Val(), nil
}

// Ping 检查连接
func (r *redisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return ErrCacheConnection.WithError(err)
	}
	return nil
}

// Close 关闭连接
func (r *redisCache) Close() error {
	if err := r.client.Close(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

// String 返回缓存类型
func (r *redisCache) String() string {
	return fmt.Sprintf("RedisCache(prefix=%s)", r.keyPrefix)
}
