// Package auth 房间会话：签发、校验、注销 room_session 令牌，并为 WebSocket 握手提供认证
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/hub"
	"golang.org/x/sync/singleflight"
)

// Cookie 名称
const (
	CookieSession = "room_session"
	CookieUser    = "user_uuid"
)

const revokedPrefix = "auth:revoked:"

// Claims 会话声明，Subject 为房间号
type Claims struct {
	jwt.RegisteredClaims
}

// Room 会话绑定的房间
func (c *Claims) Room() string {
	return c.Subject
}

// Manager 会话管理
type Manager struct {
	config   *Config
	secret   []byte
	cache    cache.Cache
	parser   *jwt.Parser
	now      func() time.Time
	sameSite http.SameSite

	// 同一令牌的并发吊销查询合并为一次
	group singleflight.Group
}

// Option 选项
type Option func(*Manager)

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New 创建会话管理，cache 保存已注销令牌
func New(config *Config, c cache.Cache, opts ...Option) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("auth: cache is required")
	}

	m := &Manager{
		config:   config,
		secret:   []byte(config.Secret),
		cache:    c,
		now:      time.Now,
		sameSite: sameSiteModes[config.CookieSameSite],
	}
	for _, opt := range opts {
		opt(m)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(config.Issuer))
	}
	m.parser = jwt.NewParser(parserOpts...)
	return m, nil
}

// Issue 为房间签发会话令牌，房间号先补零再校验
func (m *Manager) Issue(room string) (string, *Claims, error) {
	room = hub.Normalize(room)
	if !hub.ValidRoomID(room) {
		return "", nil, ErrInvalidRoom
	}

	now := m.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   room,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.SessionTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("auth: sign token: %w", err)
	}
	return token, claims, nil
}

// Verify 校验令牌并检查是否已注销
// 令牌无效返回 ErrUnauthorized 类错误，吊销列表不可用时返回 ErrServer 类错误
func (m *Manager) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	claims := &Claims{}
	if _, err := m.parser.ParseWithClaims(token, claims, m.keyFunc); err != nil {
		return nil, ErrInvalidToken.WithError(err)
	}
	if !hub.ValidRoomID(claims.Subject) || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	revoked, err := m.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

func (m *Manager) keyFunc(*jwt.Token) (any, error) {
	return m.secret, nil
}

func (m *Manager) isRevoked(ctx context.Context, jti string) (bool, error) {
	v, err, _ := m.group.Do(jti, func() (any, error) {
		return m.cache.Exists(ctx, revokedPrefix+jti)
	})
	if err != nil {
		return false, fmt.Errorf("auth: check revocation: %w", err)
	}
	return v.(bool), nil
}

// Revoke 注销令牌，记录保留到令牌自然过期
func (m *Manager) Revoke(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	return m.cache.Set(ctx, revokedPrefix+claims.ID, true, ttl)
}

// Authenticate 从 room_session Cookie 认证请求，返回会话房间
func (m *Manager) Authenticate(r *http.Request) (string, error) {
	claims, err := m.Claims(r)
	if err != nil {
		return "", err
	}
	return claims.Room(), nil
}

// Claims 从请求 Cookie 读取并校验会话
func (m *Manager) Claims(r *http.Request) (*Claims, error) {
	cookie, err := r.Cookie(CookieSession)
	if err != nil {
		return nil, ErrNoSession
	}
	return m.Verify(r.Context(), cookie.Value)
}

// SessionCookie 会话 Cookie
func (m *Manager) SessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieSession,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.config.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: m.sameSite,
	}
}

// UserCookie 浏览器标识 Cookie，已有时沿用原值
func (m *Manager) UserCookie(r *http.Request) *http.Cookie {
	id := ""
	if c, err := r.Cookie(CookieUser); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &http.Cookie{
		Name:     CookieUser,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: m.sameSite,
	}
}

// ClearCookies 退出时清除的 Cookie
func (m *Manager) ClearCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, 2)
	for _, name := range []string{CookieSession, CookieUser} {
		out = append(out, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   m.config.CookieSecure,
			SameSite: m.sameSite,
		})
	}
	return out
}

// LoginRateLimit 每个 IP 每分钟允许的登录次数，0 表示不限制
func (m *Manager) LoginRateLimit() int {
	return m.config.LoginRateLimit
}
