package auth

import (
	"fmt"
	"net/http"
	"time"
)

// Config 会话配置
type Config struct {
	Secret         string        `mapstructure:"secret"`           // HS256 签名密钥
	Issuer         string        `mapstructure:"issuer"`           // iss
	SessionTTL     time.Duration `mapstructure:"session_ttl"`      // 会话有效期
	CookieSecure   bool          `mapstructure:"cookie_secure"`    // 仅 HTTPS 发送
	CookieSameSite string        `mapstructure:"cookie_same_site"` // lax / strict / none
	LoginRateLimit int           `mapstructure:"login_rate_limit"` // 每个 IP 每分钟登录次数
}

// DefaultConfig 默认配置，Secret 必须另行设置
func DefaultConfig() *Config {
	return &Config{
		Issuer:         "cliphub",
		SessionTTL:     time.Hour,
		CookieSameSite: "lax",
		LoginRateLimit: 10,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Secret) < 16 {
		return fmt.Errorf("auth: secret must be at least 16 bytes")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("auth: session_ttl must be positive, got %v", c.SessionTTL)
	}
	if c.LoginRateLimit < 0 {
		return fmt.Errorf("auth: login_rate_limit must not be negative")
	}
	if _, ok := sameSiteModes[c.CookieSameSite]; !ok {
		return fmt.Errorf("auth: unsupported cookie_same_site %q", c.CookieSameSite)
	}
	return nil
}

var sameSiteModes = map[string]http.SameSite{
	"":       http.SameSiteLaxMode,
	"lax":    http.SameSiteLaxMode,
	"strict": http.SameSiteStrictMode,
	"none":   http.SameSiteNoneMode,
}
