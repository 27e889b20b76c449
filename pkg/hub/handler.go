package hub

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/tokmz/cliphub/pkg/errors"
	"go.uber.org/zap"
)

// Authenticator 握手认证，返回会话绑定的房间号
// 未登录或会话失效时返回 errors.ErrUnauthorized
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AuthenticatorFunc 函数形式的 Authenticator
type AuthenticatorFunc func(r *http.Request) (string, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (string, error) {
	return f(r)
}

// ServeWS 升级连接、完成握手校验并运行会话，阻塞直到连接断开
// 校验失败时以对应关闭码关闭，升级失败时返回错误（响应已由 Upgrader 写出）
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, requestedRoom string, auth Authenticator) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	if !ValidRoomID(requestedRoom) {
		h.rejectHandshake(ws, r, CloseInvalidRoom, ReasonInvalidRoom, nil)
		return nil
	}

	sessionRoom, err := auth.Authenticate(r)
	if err != nil {
		if errors.Is(err, errors.ErrUnauthorized) {
			h.rejectHandshake(ws, r, CloseAuthRequired, ReasonAuthRequired, err)
		} else {
			h.rejectHandshake(ws, r, CloseAuthError, ReasonAuthError, err)
		}
		return nil
	}

	if Normalize(sessionRoom) != requestedRoom {
		h.rejectHandshake(ws, r, CloseRoomMismatch, ReasonRoomMismatch, nil)
		return nil
	}

	h.Serve(r.Context(), newWSConn(ws, h.connConfig), requestedRoom)
	return nil
}

func (h *Hub) rejectHandshake(ws *websocket.Conn, r *http.Request, code int, reason string, err error) {
	h.metrics.IncrementRejectedHandshakes(code)
	h.log.WarnContext(r.Context(), "websocket handshake rejected",
		zap.Int("close_code", code),
		zap.String("reason", reason),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Error(err),
	)
	rejectConn(ws, code, reason, h.config.WriteWait)
}
