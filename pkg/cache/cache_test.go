package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/cliphub/pkg/errors"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newMemory(t *testing.T) Cache {
	t.Helper()
	c, err := New(nil,
		WithMemory(DefaultMemoryConfig()),
		WithKeyPrefix("test:"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestMemoryCache 测试内存缓存
func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := newMemory(t)

	t.Run("Set/Get", func(t *testing.T) {
		type session struct {
			Room string
			JTI  string
		}
		want := session{Room: "000123", JTI: "abc"}
		require.NoError(t, c.Set(ctx, "session:abc", want, 10*time.Minute))

		var got session
		require.NoError(t, c.Get(ctx, "session:abc", &got))
		assert.Equal(t, want, got)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "key1", "value1", 10*time.Minute))
		require.NoError(t, c.Delete(ctx, "key1"))

		var value string
		err := c.Get(ctx, "key1", &value)
		assert.True(t, errors.Is(err, ErrCacheNotFound))
	})

	t.Run("Exists", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "key2", "value2", 10*time.Minute))

		exists, err := c.Exists(ctx, "key2")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = c.Exists(ctx, "nonexistent")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("TTL", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "ttl_key", "value", 5*time.Second))

		ttl, err := c.TTL(ctx, "ttl_key")
		require.NoError(t, err)
		assert.True(t, ttl > 0 && ttl <= 5*time.Second, "unexpected ttl %v", ttl)

		_, err = c.TTL(ctx, "missing")
		assert.True(t, errors.Is(err, ErrCacheNotFound))
	})

	t.Run("Expire", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "exp_key", "value", time.Minute))
		require.NoError(t, c.Expire(ctx, "exp_key", 20*time.Millisecond))

		assert.Eventually(t, func() bool {
			ok, _ := c.Exists(ctx, "exp_key")
			return !ok
		}, time.Second, 10*time.Millisecond)

		assert.True(t, errors.Is(c.Expire(ctx, "exp_key", time.Minute), ErrCacheNotFound))
	})
}

func TestMemoryIncrWindow(t *testing.T) {
	ctx := context.Background()
	c := newMemory(t)

	for i := int64(1); i <= 3; i++ {
		n, err := c.IncrWindow(ctx, "login:127.0.0.1", 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	// 窗口过期后重新计数
	assert.Eventually(t, func() bool {
		n, err := c.IncrWindow(ctx, "login:127.0.0.1", 50*time.Millisecond)
		return err == nil && n == 1
	}, time.Second, 20*time.Millisecond)
}

func TestMemoryIncrKeepsExpiration(t *testing.T) {
	ctx := context.Background()
	c := newMemory(t)

	_, err := c.IncrWindow(ctx, "counter", time.Minute)
	require.NoError(t, err)
	before, err := c.TTL(ctx, "counter")
	require.NoError(t, err)

	n, err := c.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	after, err := c.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.LessOrEqual(t, after, before)
}

func TestMemoryIncrConcurrent(t *testing.T) {
	ctx := context.Background()
	c := newMemory(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Incr(ctx, "hits")
		}()
	}
	wg.Wait()

	var n int64
	require.NoError(t, c.Get(ctx, "hits", &n))
	assert.Equal(t, int64(50), n)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"bad driver", &Config{Driver: "etcd", Serializer: JSONSerializer{}}, true},
		{"redis without config", &Config{Driver: DriverRedis, Serializer: JSONSerializer{}}, true},
		{"redis empty mode", &Config{Driver: DriverRedis, Serializer: JSONSerializer{}, Redis: &RedisConfig{Addr: "localhost:6379"}}, false},
		{"cluster too small", &Config{Driver: DriverRedis, Serializer: JSONSerializer{}, Redis: &RedisConfig{Mode: RedisCluster, Addrs: []string{"a"}}}, true},
		{"sentinel without master", &Config{Driver: DriverRedis, Serializer: JSONSerializer{}, Redis: &RedisConfig{Mode: RedisSentinel, Addrs: []string{"a"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrCacheInvalidConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewAppliesOptionsToCopy(t *testing.T) {
	cfg := DefaultConfig()
	c, err := New(cfg, WithKeyPrefix("room:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Empty(t, cfg.KeyPrefix, "caller config is left untouched")

	_, err = New(cfg, WithSerializer(nil), func(c *Config) { c.Driver = "etcd" })
	assert.True(t, errors.Is(err, ErrCacheInvalidConfig))
}

func TestJSONSerializerCounters(t *testing.T) {
	var s JSONSerializer

	data, err := s.Marshal(int64(42))
	require.NoError(t, err)
	assert.Equal(t, "42", string(data), "same text Redis INCR stores")

	var n int64
	require.NoError(t, s.Unmarshal([]byte("-7"), &n))
	assert.Equal(t, int64(-7), n)
	assert.Error(t, s.Unmarshal([]byte(`"x"`), &n))

	data, err = s.Marshal(map[string]string{"room": "000123"})
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, s.Unmarshal(data, &m))
	assert.Equal(t, "000123", m["room"])
}

func TestTracingRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := context.Background()
	c := NewTracing(newMemory(t))

	var v string
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Get(ctx, "k", &v))
	assert.True(t, errors.Is(c.Get(ctx, "missing", &v), ErrCacheNotFound))
	_, err := c.IncrWindow(ctx, "n", time.Minute)
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"cache.Set", "cache.Get", "cache.Get", "cache.IncrWindow"}, names)
}
