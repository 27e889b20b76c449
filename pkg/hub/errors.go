package hub

import "errors"

// 错误定义
var (
	// 连接相关错误
	ErrConnectionClosed = errors.New("hub: connection closed")
	ErrSendQueueFull    = errors.New("hub: send queue full")

	// 消息相关错误
	ErrInvalidMessage  = errors.New("hub: invalid message format")
	ErrMissingType     = errors.New("hub: message type is required")
	ErrMissingClientID = errors.New("hub: client_id must be a string")

	// 生命周期相关错误
	ErrHubClosed         = errors.New("hub: closed")
	ErrDispatchQueueFull = errors.New("hub: dispatch queue full")

	// 配置相关错误
	ErrInvalidConfig = errors.New("hub: invalid config")
)
