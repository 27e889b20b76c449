package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCache 内存缓存实现
type memoryCache struct {
	cache      *gocache.Cache
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
	mu         sync.Mutex // 保护计数器的读改写
}

// newMemoryCache 创建内存缓存实例
func newMemoryCache(cfg *Config) (Cache, error) {
	if cfg.Memory == nil {
		cfg.Memory = DefaultMemoryConfig()
	}

	return &memoryCache{
		cache:      gocache.New(cfg.Memory.DefaultExpiration, cfg.Memory.CleanupInterval),
		serializer: cfg.Serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

// buildKey 构建完整的键名
func (m *memoryCache) buildKey(key string) string {
	if m.keyPrefix == "" {
		return key
	}
	return m.keyPrefix + key
}

// Get 获取缓存
func (m *memoryCache) Get(ctx context.Context, key string, value any) error {
	data, found := m.cache.Get(m.buildKey(key))
	if !found {
		return ErrCacheNotFound
	}

	bytes, ok := data.([]byte)
	if !ok {
		return ErrCacheSerialization.WithError(fmt.Errorf("unexpected value type %T", data))
	}

	if err := m.serializer.Unmarshal(bytes, value); err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	return nil
}

// Set 设置缓存
func (m *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	bytes, err := m.serializer.Marshal(value)
	if err != nil {
		return ErrCacheSerialization.WithError(err)
	}

	if ttl == 0 {
		ttl = m.defaultTTL
	}

	m.cache.Set(m.buildKey(key), bytes, ttl)
	return nil
}

// Delete 删除缓存
func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		m.cache.Delete(m.buildKey(key))
	}
	return nil
}

// Exists 检查键是否存在
func (m *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, found := m.cache.Get(m.buildKey(key))
	return found, nil
}

// TTL 获取键的剩余生存时间
func (m *memoryCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	_, expiration, found := m.cache.GetWithExpiration(m.buildKey(key))
	if !found {
		return 0, ErrCacheNotFound
	}

	if expiration.IsZero() {
		return -1, nil // 永不过期
	}

	ttl := time.Until(expiration)
	if ttl < 0 {
		return 0, ErrCacheExpired
	}
	return ttl, nil
}

// Expire 设置键的过期时间
func (m *memoryCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fullKey := m.buildKey(key)
	data, found := m.cache.Get(fullKey)
	if !found {
		return ErrCacheNotFound
	}

	m.cache.Set(fullKey, data, ttl)
	return nil
}

// Incr 自增，保留原有过期时间
func (m *memoryCache) Incr(ctx context.Context, key string) (int64, error) {
	return m.incr(key, 0)
}

// IncrWindow 自增计数，首次创建时以 window 为过期时间
func (m *memoryCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return m.incr(key, window)
}

// incr window 为 0 时新键使用默认 TTL
func (m *memoryCache) incr(key string, window time.Duration) (int64, error) {
	fullKey := m.buildKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	data, expiration, found := m.cache.GetWithExpiration(fullKey)
	var current int64

	if found {
		bytes, ok := data.([]byte)
		if !ok {
			return 0, ErrCacheOperation.WithError(fmt.Errorf("unexpected value type %T", data))
		}
		if err := m.serializer.Unmarshal(bytes, &current); err != nil {
			return 0, ErrCacheSerialization.WithError(err)
		}
	}

	current++
	bytes, err := m.serializer.Marshal(current)
	if err != nil {
		return 0, ErrCacheSerialization.WithError(err)
	}

	ttl := window
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	if found {
		if expiration.IsZero() {
			ttl = gocache.NoExpiration
		} else if ttl = time.Until(expiration); ttl <= 0 {
			ttl = time.Nanosecond
		}
	}

	m.cache.Set(fullKey, bytes, ttl)
	return current, nil
}

// Ping 检查连接
func (m *memoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close 关闭连接
func (m *memoryCache) Close() error {
	m.cache.Flush()
	return nil
}

// String 返回缓存类型
func (m *memoryCache) String() string {
	return fmt.Sprintf("MemoryCache(prefix=%s, items=%d)", m.keyPrefix, m.cache.ItemCount())
}
