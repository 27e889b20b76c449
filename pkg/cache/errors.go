package cache

import "github.com/tokmz/cliphub/pkg/errors"

// 预定义错误
var (
	ErrCacheNotFound      = errors.New(5001, 404, "cache key not found", nil)
	ErrCacheExpired       = errors.New(5002, 404, "cache key expired", nil)
	ErrCacheConnection    = errors.New(5003, 500, "cache connection failed", nil)
	ErrCacheSerialization = errors.New(5004, 500, "cache serialization failed", nil)
	ErrCacheInvalidConfig = errors.New(5005, 500, "cache invalid config", nil)
	ErrCacheOperation     = errors.New(5006, 500, "cache operation failed", nil)
)
