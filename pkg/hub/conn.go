package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn 一条已建立的双向连接
// Receive 只允许单个调用方（会话循环）使用；Send/Close 可并发调用
type Conn interface {
	// Send 发送一帧，ctx 到期前无法写入时返回错误
	Send(ctx context.Context, data []byte) error
	// Receive 阻塞等待下一帧，连接关闭后返回错误
	Receive() ([]byte, error)
	// Close 以指定关闭码关闭连接，重复调用无副作用
	Close(code int, reason string) error
	// RemoteAddr 远程地址
	RemoteAddr() string
}

// connConfig 连接参数
type connConfig struct {
	sendQueueSize  int
	writeWait      time.Duration
	pongWait       time.Duration
	pingInterval   time.Duration
	maxMessageSize int64
}

func newConnConfig(c *Config) connConfig {
	return connConfig{
		sendQueueSize:  c.SendQueueSize,
		writeWait:      c.WriteWait,
		pongWait:       c.HeartbeatTimeout,
		pingInterval:   c.HeartbeatInterval,
		maxMessageSize: c.MaxMessageSize,
	}
}

type closeFrame struct {
	code   int
	reason string
}

// wsConn 基于 gorilla/websocket 的 Conn 实现
// 所有写操作都由 writePump 串行完成
type wsConn struct {
	ws     *websocket.Conn
	config connConfig

	send     chan []byte
	closeReq chan closeFrame

	closed    atomic.Bool
	closeOnce sync.Once
	writeDone chan struct{} // writePump 已退出
}

// newWSConn 包装已升级的连接并启动写协程
func newWSConn(ws *websocket.Conn, config connConfig) *wsConn {
	c := &wsConn{
		ws:        ws,
		config:    config,
		send:      make(chan []byte, config.sendQueueSize),
		closeReq:  make(chan closeFrame, 1),
		writeDone: make(chan struct{}),
	}

	ws.SetReadLimit(config.maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(config.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(config.pongWait))
	})

	go c.writePump()
	return c
}

// Send 放入发送队列
func (c *wsConn) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	select {
	case c.send <- data:
		return nil
	case <-c.writeDone:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive 读取下一帧
func (c *wsConn) Receive() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		// 任何入站帧都说明对端存活
		_ = c.ws.SetReadDeadline(time.Now().Add(c.config.pongWait))
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close 请求 writePump 刷出队列中的消息后发送关闭帧
func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeReq <- closeFrame{code: code, reason: reason}
	})
	return nil
}

// RemoteAddr 获取远程地址
func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// writePump 写协程，退出时关闭底层连接，从而唤醒阻塞中的 Receive
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.config.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}

		case frame := <-c.closeReq:
			c.drain()
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(frame.code, frame.reason),
				time.Now().Add(c.config.writeWait),
			)
			return

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drain 关闭前尽力写出已入队的消息（如超时通知）
func (c *wsConn) drain() {
	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.config.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// rejectConn 握手阶段拒绝连接：写关闭帧后直接断开
func rejectConn(ws *websocket.Conn, code int, reason string, writeWait time.Duration) {
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait),
	)
	_ = ws.Close()
}
