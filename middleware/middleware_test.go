package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type captureHook struct {
	mu      sync.Mutex
	entries []zapcore.Entry
	fields  [][]zapcore.Field
}

func (h *captureHook) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	h.fields = append(h.fields, append([]zapcore.Field(nil), fields...))
	return nil
}

func (h *captureHook) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *captureHook) entry(i int) (zapcore.Entry, map[string]zapcore.Field) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := make(map[string]zapcore.Field)
	for _, f := range h.fields[i] {
		m[f.Key] = f
	}
	return h.entries[i], m
}

func newCapturedLogger(t *testing.T) (logger.Logger, *captureHook) {
	t.Helper()
	hook := &captureHook{}
	log, err := logger.NewWithOptions(
		logger.WithLevel(logger.DebugLevel),
		logger.WithFileOutput(t.TempDir()+"/test.log"),
		logger.WithHook(hook),
	)
	require.NoError(t, err)
	return log, hook
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestLogger(t *testing.T) {
	log, hook := newCapturedLogger(t)
	r := gin.New()
	r.Use(Logger(log, &LoggerConfig{ExcludePaths: []string{"/healthz"}}))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/rooms/:room_id/stats", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	tests := []struct {
		path  string
		level zapcore.Level
	}{
		{"/api/rooms/000123/stats", zapcore.InfoLevel},
		{"/missing", zapcore.WarnLevel},
		{"/boom", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			before := hook.len()
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			require.Equal(t, before+1, hook.len())
			entry, fields := hook.entry(before)
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, "request", entry.Message)
			assert.Equal(t, tt.path, fields["path"].String)
		})
	}

	t.Run("route template", func(t *testing.T) {
		before := hook.len()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/rooms/000456/stats", nil))
		_, fields := hook.entry(before)
		assert.Equal(t, "/api/rooms/:room_id/stats", fields["route"].String)
	})

	t.Run("excluded path", func(t *testing.T) {
		before := hook.len()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, before, hook.len())
	})
}

func TestRecovery(t *testing.T) {
	log, hook := newCapturedLogger(t)
	r := gin.New()
	r.Use(Recovery(log))
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "fine") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, 1000, env.Code)
	assert.Equal(t, "服务器异常", env.Message)

	require.Equal(t, 1, hook.len())
	entry, fields := hook.entry(0)
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Contains(t, fields, "stack")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fine", w.Body.String())
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(&CORSConfig{
		AllowOrigins:     []string{"https://clip.example.com", "https://*.preview.example.com"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           time.Hour,
	}))
	r.POST("/api/login", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.OPTIONS("/api/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name        string
		method      string
		origin      string
		wantStatus  int
		wantAllowed string
	}{
		{"exact origin", http.MethodPost, "https://clip.example.com", http.StatusOK, "https://clip.example.com"},
		{"wildcard origin", http.MethodPost, "https://pr-1.preview.example.com", http.StatusOK, "https://pr-1.preview.example.com"},
		{"bare wildcard suffix", http.MethodPost, "https://.preview.example.com", http.StatusOK, ""},
		{"unknown origin", http.MethodPost, "https://evil.example.org", http.StatusOK, ""},
		{"same origin", http.MethodPost, "", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "https://clip.example.com", http.StatusNoContent, "https://clip.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/login", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllowed, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantAllowed != "" {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			}
			if tt.method == http.MethodOptions {
				assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
				assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestCORSCredentialsWithWildcardPanics(t *testing.T) {
	assert.Panics(t, func() {
		CORS(&CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true})
	})
	assert.NotPanics(t, func() {
		CORS(&CORSConfig{AllowOrigins: []string{"*"}})
	})
}

func TestRateLimiter(t *testing.T) {
	store, err := cache.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := gin.New()
	r.Use(RateLimiter(&RateLimiterConfig{Cache: store, Limit: 2, Window: time.Minute}))
	r.POST("/api/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = ip + ":5000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("10.0.0.1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)

	w = do("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, 1005, decodeEnvelope(t, w).Code)

	// 其他 IP 独立计数
	assert.Equal(t, http.StatusOK, do("10.0.0.2").Code)
}

// failingCache 计数存储不可用
type failingCache struct {
	cache.Cache
}

func (failingCache) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, cache.ErrCacheConnection
}

func TestRateLimiterFailsOpen(t *testing.T) {
	log, hook := newCapturedLogger(t)
	r := gin.New()
	r.Use(RateLimiter(&RateLimiterConfig{Cache: failingCache{}, Limit: 1, Logger: log}))
	r.POST("/api/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	for range 3 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/login", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 3, hook.len())
}

func TestRateLimiterDisabled(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(&RateLimiterConfig{Limit: 0}))
	r.POST("/api/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/login", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
	})

	r := gin.New()
	r.Use(Tracing(&TracingConfig{ExcludePaths: []string{"/metrics"}}), Recovery(logger.NewNop()))
	r.GET("/api/rooms/:room_id/stats", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/panic", func(c *gin.Context) { panic("x") })
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/000123/stats", nil)
	req.Header.Set("traceparent", parent)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Contains(t, w.Header().Get("traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	env := decodeEnvelope(t, w)
	assert.Len(t, env.TraceID, 32)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "GET /api/rooms/:room_id/stats", spans[0].Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "GET /panic", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, env.TraceID, spans[1].SpanContext().TraceID().String())
}
