package cliphub

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/cliphub/pkg/auth"
	"github.com/tokmz/cliphub/pkg/cache"
	"github.com/tokmz/cliphub/pkg/errors"
	"github.com/tokmz/cliphub/pkg/hub"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap"
)

// handlers HTTP 接口
type handlers struct {
	hub     *hub.Hub
	auth    *auth.Manager
	cache   cache.Cache
	log     logger.Logger
	maxBody int64
}

type loginRequest struct {
	RoomID string `json:"room_id" binding:"required"`
}

// SessionInfo 会话信息
type SessionInfo struct {
	RoomID    string    `json:"room_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RoomStats 房间统计
type RoomStats struct {
	RoomID      string   `json:"room_id"`
	Connections int      `json:"connections"`
	Clients     []string `json:"clients"`
}

// login 校验房间号并签发会话 Cookie
func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.ErrBadRequest.WithError(err))
		return
	}

	token, claims, err := h.auth.Issue(req.RoomID)
	if err != nil {
		fail(c, err)
		return
	}

	http.SetCookie(c.Writer, h.auth.SessionCookie(token))
	http.SetCookie(c.Writer, h.auth.UserCookie(c.Request))

	h.log.InfoContext(c.Request.Context(), "login",
		zap.String("room_id", claims.Room()),
		zap.String("client_ip", c.ClientIP()),
	)
	ok(c, SessionInfo{RoomID: claims.Room(), ExpiresAt: claims.ExpiresAt.Time})
}

// logout 吊销当前会话并清除 Cookie，未登录时同样成功
func (h *handlers) logout(c *gin.Context) {
	claims, err := h.auth.Claims(c.Request)
	switch {
	case err == nil:
		if err := h.auth.Revoke(c.Request.Context(), claims); err != nil {
			fail(c, err)
			return
		}
	case !errors.Is(err, errors.ErrUnauthorized):
		fail(c, err)
		return
	}

	for _, cookie := range h.auth.ClearCookies() {
		http.SetCookie(c.Writer, cookie)
	}
	ok(c, nil)
}

// session 返回当前会话绑定的房间
func (h *handlers) session(c *gin.Context) {
	claims, err := h.auth.Claims(c.Request)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, SessionInfo{RoomID: claims.Room(), ExpiresAt: claims.ExpiresAt.Time})
}

// websocket 升级为房间连接，会话结束后返回
func (h *handlers) websocket(c *gin.Context) {
	if err := h.hub.ServeWS(c.Writer, c.Request, c.Param("room_id"), h.auth); err != nil {
		// Upgrader 已写出错误响应
		h.log.DebugContext(c.Request.Context(), "websocket upgrade failed",
			zap.String("room_id", c.Param("room_id")),
			zap.Error(err),
		)
	}
}

// broadcast 外部推送消息到房间，异步投递后立即返回 202
func (h *handlers) broadcast(c *gin.Context) {
	room, allowed := h.authorizeRoom(c)
	if !allowed {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		fail(c, errors.ErrBadRequest.WithError(err))
		return
	}
	msg, err := hub.ParseMessage(body)
	if err != nil {
		fail(c, errors.ErrBadRequest.WithMessage("消息必须是带字符串 type 的 JSON 对象").WithError(err))
		return
	}

	switch err := h.hub.Broadcast(room, msg); {
	case err == nil:
	case stderrors.Is(err, hub.ErrHubClosed):
		fail(c, errUnavailable.WithError(err))
		return
	case stderrors.Is(err, hub.ErrDispatchQueueFull):
		fail(c, errors.ErrTooManyRequests.WithError(err))
		return
	default:
		fail(c, err)
		return
	}

	respond(c, http.StatusAccepted, Success(gin.H{"room_id": room, "type": msg.Type()}))
}

// stats 房间统计
func (h *handlers) stats(c *gin.Context) {
	room, allowed := h.authorizeRoom(c)
	if !allowed {
		return
	}
	stats := h.hub.Stats(room)
	clients := stats.Clients
	if clients == nil {
		clients = []string{}
	}
	respond(c, http.StatusOK, Success(RoomStats{
		RoomID:      room,
		Connections: stats.Connections,
		Clients:     clients,
	}))
}

// authorizeRoom 校验路径房间号并要求会话属于该房间
func (h *handlers) authorizeRoom(c *gin.Context) (string, bool) {
	raw := c.Param("room_id")
	if !hub.ValidRoomID(raw) {
		fail(c, auth.ErrInvalidRoom)
		return "", false
	}

	claims, err := h.auth.Claims(c.Request)
	if err != nil {
		fail(c, err)
		return "", false
	}
	if claims.Room() != raw {
		fail(c, errors.ErrForbidden.WithMessage("会话不属于该房间"))
		return "", false
	}
	return raw, true
}

// healthz 存活检查
func (h *handlers) healthz(c *gin.Context) {
	ok(c, gin.H{
		"status":      "ok",
		"instance_id": h.hub.InstanceID(),
		"rooms":       h.hub.Registry().RoomCount(),
	})
}

// readyz 就绪检查，缓存不可达时会话校验和登录限流都无法工作
func (h *handlers) readyz(c *gin.Context) {
	if h.cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.cache.Ping(ctx); err != nil {
			h.log.Warn("readiness check failed", zap.String("dependency", "cache"), zap.Error(err))
			fail(c, errNotReady.WithError(err))
			return
		}
	}
	ok(c, gin.H{"status": "ready"})
}

var errNotReady = errors.New(1008, http.StatusServiceUnavailable, "依赖服务不可用", nil)

// errUnavailable 服务关闭中
var errUnavailable = errors.New(1006, http.StatusServiceUnavailable, "服务正在关闭", nil)

var (
	errNotFound         = errors.ErrNotFound.WithMessage("接口不存在")
	errMethodNotAllowed = errors.New(1007, 405, "请求方法不允许", nil)
)
