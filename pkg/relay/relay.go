// Package relay 在多个 cliphub 实例之间转发房间广播
//
// 每个实例只持有自己的 WebSocket 连接。某个实例产生的广播在本地投递后发布到中转通道，
// 其他实例收到后投递给各自房间内的连接。Origin 字段用于忽略自己发布的消息。
package relay

import (
	"context"
	"encoding/json"
	"errors"
)

// Envelope 跨实例传递的广播
type Envelope struct {
	ID      string          `json:"id"`
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// Handler 处理收到的广播
type Handler func(Envelope)

// Relay 中转通道
type Relay interface {
	// Publish 发布广播
	Publish(ctx context.Context, env Envelope) error
	// Subscribe 阻塞接收广播直到 ctx 取消
	Subscribe(ctx context.Context, handler Handler) error
	// Close 释放连接
	Close() error
}

// 错误定义
var (
	ErrInvalidConfig = errors.New("relay: invalid config")
	ErrClosed        = errors.New("relay: closed")
)

// encode 编码信封
func encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// decode 解码信封
func decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Room == "" || len(env.Payload) == 0 {
		return Envelope{}, errors.New("relay: incomplete envelope")
	}
	return env, nil
}
