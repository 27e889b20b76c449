package hub

import "github.com/gorilla/websocket"

// 自定义关闭码（4000-4999 为应用保留区间）
const (
	CloseAuthError        = 4000 // 认证过程异常
	CloseInvalidRoom      = 4001 // 房间号格式错误
	CloseAuthRequired     = 4002 // 未登录或会话失效
	CloseRoomMismatch     = 4003 // 路径房间与会话房间不一致
	CloseMalformedMessage = 4004 // 消息格式错误
)

// 标准关闭码
const (
	CloseNormal    = websocket.CloseNormalClosure
	CloseGoingAway = websocket.CloseGoingAway
)

// 关闭原因
const (
	ReasonInvalidRoom    = "invalid room id format"
	ReasonAuthRequired   = "authentication required"
	ReasonAuthError      = "authentication error"
	ReasonRoomMismatch   = "room id mismatch"
	ReasonSessionTimeout = "session timeout"
	ReasonShutdown       = "server shutting down"
)
