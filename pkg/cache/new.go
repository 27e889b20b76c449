package cache

import "fmt"

// New 创建缓存实例，opts 作用于 cfg 的副本
// cfg 为空时使用 DefaultConfig
func New(cfg *Config, opts ...Option) (Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	for _, opt := range opts {
		opt(&c)
	}
	if c.Serializer == nil {
		c.Serializer = JSONSerializer{}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.Driver {
	case DriverRedis:
		return newRedisCache(&c)
	case DriverMemory:
		return newMemoryCache(&c)
	default:
		return nil, fmt.Errorf("%w: unsupported driver type %q", ErrCacheInvalidConfig, c.Driver)
	}
}
