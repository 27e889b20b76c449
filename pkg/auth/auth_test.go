package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *clock) {
	t.Helper()
	c, err := cache.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	clk := &clock{t: time.Now()}
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	m, err := New(cfg, c, WithClock(clk.now))
	require.NoError(t, err)
	return m, clk
}

func requestWithSession(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws/000123", nil)
	if token != "" {
		r.AddCookie(&http.Cookie{Name: CookieSession, Value: token})
	}
	return r
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"short secret", func(c *Config) { c.Secret = "short" }, true},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, true},
		{"negative rate", func(c *Config) { c.LoginRateLimit = -1 }, true},
		{"bad same site", func(c *Config) { c.CookieSameSite = "sometimes" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Secret = testSecret
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestIssueAndAuthenticate(t *testing.T) {
	m, _ := newTestManager(t)

	token, claims, err := m.Issue("123")
	require.NoError(t, err)
	assert.Equal(t, "000123", claims.Room())
	_, err = uuid.Parse(claims.ID)
	assert.NoError(t, err)

	room, err := m.Authenticate(requestWithSession(token))
	require.NoError(t, err)
	assert.Equal(t, "000123", room)
}

func TestIssueRejectsInvalidRoom(t *testing.T) {
	m, _ := newTestManager(t)
	for _, room := range []string{"", "abc", "1234567", "12 456"} {
		_, _, err := m.Issue(room)
		assert.ErrorIs(t, err, errors.ErrBadRequest, room)
	}
}

func TestVerifyFailures(t *testing.T) {
	m, clk := newTestManager(t)
	token, _, err := m.Issue("000123")
	require.NoError(t, err)

	other, err := New(&Config{Secret: "ffffffffffffffffffffffffffffffff", Issuer: "cliphub", SessionTTL: time.Hour}, m.cache)
	require.NoError(t, err)
	foreign, _, err := other.Issue("000123")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"tampered", token + "x"},
		{"wrong secret", foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, errors.ErrUnauthorized)
		})
	}

	t.Run("expired", func(t *testing.T) {
		clk.advance(time.Hour + time.Second)
		_, err := m.Verify(context.Background(), token)
		assert.ErrorIs(t, err, errors.ErrUnauthorized)
	})
}

func TestAuthenticateWithoutCookie(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Authenticate(requestWithSession(""))
	require.ErrorIs(t, err, errors.ErrUnauthorized)
	assert.Equal(t, ErrNoSession.Message, errors.From(err).Message)
}

func TestRevoke(t *testing.T) {
	m, _ := newTestManager(t)
	token, claims, err := m.Issue("000123")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), claims))

	_, err = m.Verify(context.Background(), token)
	require.ErrorIs(t, err, errors.ErrUnauthorized)
	assert.Equal(t, ErrRevoked.Message, errors.From(err).Message)

	// 其他令牌不受影响
	second, _, err := m.Issue("000123")
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), second)
	assert.NoError(t, err)
}

func TestRevokeExpiredIsNoop(t *testing.T) {
	m, clk := newTestManager(t)
	_, claims, err := m.Issue("000123")
	require.NoError(t, err)

	clk.advance(2 * time.Hour)
	assert.NoError(t, m.Revoke(context.Background(), claims))
	assert.NoError(t, m.Revoke(context.Background(), nil))
}

// brokenCache 吊销列表不可用
type brokenCache struct {
	cache.Cache
}

func (brokenCache) Exists(context.Context, string) (bool, error) {
	return false, stderrors.New("connection refused")
}

func TestVerifyCacheUnavailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	m, err := New(cfg, brokenCache{})
	require.NoError(t, err)

	token, _, err := m.Issue("000123")
	require.NoError(t, err)

	_, err = m.Verify(context.Background(), token)
	require.Error(t, err)
	assert.False(t, errors.Is(err, errors.ErrUnauthorized), "infrastructure failure is not an auth failure")
}

func TestVerifyConcurrent(t *testing.T) {
	m, _ := newTestManager(t)
	token, _, err := m.Issue("000123")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claims, err := m.Verify(context.Background(), token)
			assert.NoError(t, err)
			assert.Equal(t, "000123", claims.Room())
		}()
	}
	wg.Wait()
}

func TestCookies(t *testing.T) {
	m, _ := newTestManager(t)

	session := m.SessionCookie("tok")
	assert.Equal(t, CookieSession, session.Name)
	assert.Equal(t, 3600, session.MaxAge)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)

	r := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	fresh := m.UserCookie(r)
	_, err := uuid.Parse(fresh.Value)
	assert.NoError(t, err)

	r.AddCookie(&http.Cookie{Name: CookieUser, Value: fresh.Value})
	assert.Equal(t, fresh.Value, m.UserCookie(r).Value, "existing id is kept")

	bad := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	bad.AddCookie(&http.Cookie{Name: CookieUser, Value: "<script>"})
	assert.NotEqual(t, "<script>", m.UserCookie(bad).Value)

	for _, c := range m.ClearCookies() {
		assert.Equal(t, -1, c.MaxAge)
		assert.Empty(t, c.Value)
	}
}
