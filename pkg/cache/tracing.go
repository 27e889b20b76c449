package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const cacheTracerName = "cliphub.cache"

// tracedCache 链路追踪缓存装饰器
type tracedCache struct {
	Cache
	tracer trace.Tracer
}

// NewTracing 创建带链路追踪的缓存实例
func NewTracing(c Cache) Cache {
	return &tracedCache{
		Cache:  c,
		tracer: otel.Tracer(cacheTracerName),
	}
}

// wrapOperation 包装操作，自动处理 Span
// 键名不记录原文，会话 ID 和客户端地址都会出现在键里
func (t *tracedCache) wrapOperation(
	ctx context.Context,
	operation string,
	keys int,
	fn func(ctx context.Context) error,
) error {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.Int("cache.keys_count", keys),
		attribute.String("cache.operation", operation),
	)

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("cache.duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Get 获取缓存（带链路追踪）
func (t *tracedCache) Get(ctx context.Context, key string, value any) error {
	var result error
	err := t.wrapOperation(ctx, "cache.Get", 1, func(ctx context.Context) error {
		result = t.Cache.Get(ctx, key, value)
		span := trace.SpanFromContext(ctx)
		if result == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
		} else if errors.Is(result, ErrCacheNotFound) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil // cache miss 不算错误
		}
		return result
	})
	if err != nil {
		return err
	}
	return result
}

// Set 设置缓存（带链路追踪）
func (t *tracedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return t.wrapOperation(ctx, "cache.Set", 1, func(ctx context.Context) error {
		if ttl > 0 {
			trace.SpanFromContext(ctx).SetAttributes(attribute.Float64("cache.ttl_seconds", ttl.Seconds()))
		}
		return t.Cache.Set(ctx, key, value, ttl)
	})
}

// Delete 删除缓存（带链路追踪）
func (t *tracedCache) Delete(ctx context.Context, keys ...string) error {
	return t.wrapOperation(ctx, "cache.Delete", len(keys), func(ctx context.Context) error {
		return t.Cache.Delete(ctx, keys...)
	})
}

// Exists 检查键是否存在（带链路追踪）
func (t *tracedCache) Exists(ctx context.Context, key string) (bool, error) {
	var result bool
	err := t.wrapOperation(ctx, "cache.Exists", 1, func(ctx context.Context) error {
		var err error
		result, err = t.Cache.Exists(ctx, key)
		return err
	})
	return result, err
}

// TTL 获取剩余生存时间（带链路追踪）
func (t *tracedCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	var result time.Duration
	err := t.wrapOperation(ctx, "cache.TTL", 1, func(ctx context.Context) error {
		var err error
		result, err = t.Cache.TTL(ctx, key)
		return err
	})
	return result, err
}

// Expire 设置过期时间（带链路追踪）
func (t *tracedCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return t.wrapOperation(ctx, "cache.Expire", 1, func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Float64("cache.ttl_seconds", ttl.Seconds()))
		return t.Cache.Expire(ctx, key, ttl)
	})
}

// Incr 自增（带链路追踪）
func (t *tracedCache) Incr(ctx context.Context, key string) (int64, error) {
	var result int64
	err := t.wrapOperation(ctx, "cache.Incr", 1, func(ctx context.Context) error {
		var err error
		result, err = t.Cache.Incr(ctx, key)
		return err
	})
	return result, err
}

// IncrWindow 窗口计数（带链路追踪）
func (t *tracedCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	var result int64
	err := t.wrapOperation(ctx, "cache.IncrWindow", 1, func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Float64("cache.window_seconds", window.Seconds()))
		var err error
		result, err = t.Cache.IncrWindow(ctx, key, window)
		return err
	})
	return result, err
}

// Ping 检查连接（带链路追踪）
func (t *tracedCache) Ping(ctx context.Context) error {
	return t.wrapOperation(ctx, "cache.Ping", 0, func(ctx context.Context) error {
		return t.Cache.Ping(ctx)
	})
}
