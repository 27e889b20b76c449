package hub

import (
	"context"

	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap"
)

// Serve 运行单条连接的会话循环，阻塞直到连接断开
// room 必须已经通过握手校验
func (h *Hub) Serve(ctx context.Context, conn Conn, room string) {
	if !h.acquire() {
		_ = conn.Close(CloseGoingAway, ReasonShutdown)
		return
	}
	defer h.sessions.Done()

	s := &session{
		hub:  h,
		conn: conn,
		room: Normalize(room),
	}
	s.run(ctx)
}

// session 单条连接的协议处理
type session struct {
	hub   *Hub
	conn  Conn
	room  string
	c     *Connection
	label string // 注册前为空
	log   logger.Logger
}

func (s *session) run(ctx context.Context) {
	h := s.hub
	s.c = h.registry.Connect(s.room, s.conn)
	s.log = h.log.With(zap.String("room_id", s.room), zap.String("conn_id", s.c.id))
	h.metrics.IncrementConnections()
	h.metrics.SetRoomCount(h.registry.RoomCount())
	defer s.disconnect()

	if err := s.send(ctx, ConnectionEstablished(s.room)); err != nil {
		s.log.Debug("send connection_established failed", zap.Error(err))
		return
	}

	for {
		data, err := s.conn.Receive()
		if err != nil {
			s.log.Debug("receive loop ended", zap.Error(err))
			return
		}
		if !s.handle(ctx, data) {
			return
		}
	}
}

// handle 处理一帧，返回 false 时结束会话
func (s *session) handle(ctx context.Context, data []byte) bool {
	h := s.hub

	msg, err := ParseMessage(data)
	if err != nil {
		return s.reject(err)
	}

	switch msg.Type() {
	case TypeRegisterClient:
		return s.register(msg)

	case TypePing:
		if err := s.send(ctx, Pong(msg)); err != nil {
			s.log.Debug("send pong failed", zap.Error(err))
		}
		h.registry.UpdateActivity(s.room, s.label)

	default:
		h.registry.UpdateActivity(s.room, s.label)
		h.metrics.IncrementMessageCount(msg.Type())
		h.deliver(ctx, s.room, msg)
	}
	return true
}

// register 绑定客户端标识
func (s *session) register(msg Message) bool {
	h := s.hub

	label, ok := msg.String(fieldClientID)
	if !ok || label == "" {
		return s.reject(ErrMissingClientID)
	}

	if claimed, ok := msg.String(fieldRoomID); ok && Normalize(claimed) != s.room {
		s.log.Warn("register_client room_id differs from connection room",
			zap.String("claimed_room_id", claimed),
		)
	}

	decision, ok := h.registry.Identify(s.c, label)
	if !ok {
		// 已被清理器移除
		return false
	}
	s.label = label
	h.registry.UpdateActivity(s.room, label)
	h.metrics.IncrementReconnects(decision.String())

	display := zap.String("client_id", h.broadcaster.DisplayLabel(s.room, label))
	switch decision {
	case Refresh:
		s.log.Info("client refreshed", zap.String("event", "refresh"), display)
	case RefreshSuppressed:
		s.log.Debug("client refreshed", zap.String("event", "refresh"), zap.Bool("suppressed", true), display)
	default:
		s.log.Info("client connected", zap.String("event", "connect"), display)
	}
	return true
}

// reject 协议错误，以 4004 关闭
func (s *session) reject(err error) bool {
	s.hub.metrics.IncrementInvalidMessages()
	s.log.Debug("malformed frame", zap.Error(err))
	_ = s.conn.Close(CloseMalformedMessage, err.Error())
	return false
}

func (s *session) send(ctx context.Context, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.hub.config.SendTimeout)
	defer cancel()
	return s.conn.Send(ctx, payload)
}

// disconnect 关闭连接并从注册表移除，只有第一次移除会记录日志和指标
func (s *session) disconnect() {
	h := s.hub
	_ = s.conn.Close(CloseNormal, "")

	info, ok := h.registry.Disconnect(s.c)
	if !ok {
		return
	}
	h.metrics.DecrementConnections()
	h.metrics.SetRoomCount(h.registry.RoomCount())

	fields := []zap.Field{
		zap.String("event", "disconnect"),
		zap.String("client_id", h.broadcaster.DisplayLabel(s.room, info.Label)),
		zap.Duration("duration", info.Duration),
		zap.Bool("room_empty", info.RoomEmpty),
	}
	// 短连接多为页面刷新
	if info.Duration > h.config.RefreshWindow {
		s.log.Info("client disconnected", fields...)
	} else {
		s.log.Debug("client disconnected", fields...)
	}
}
