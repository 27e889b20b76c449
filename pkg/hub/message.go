package hub

import (
	"encoding/json"
	"strconv"
)

// 消息类型
const (
	TypeRegisterClient        = "register_client"
	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeConnectionEstablished = "connection_established"
	TypeSessionTimeout        = "session_timeout"
	TypeRecordDelete          = "record_delete"
	TypeText                  = "text"
	TypeFile                  = "file"
)

// 消息字段
const (
	fieldType      = "type"
	fieldClientID  = "client_id"
	fieldRoomID    = "room_id"
	fieldTimestamp = "timestamp"
	fieldMessage   = "message"
	fieldRecordID  = "record_id"
)

// Message 房间内流转的 JSON 对象
// 字段值保持原始编码，转发时不会改写数字精度和字段内容
type Message map[string]json.RawMessage

// ParseMessage 解析入站帧，要求是带字符串 type 的 JSON 对象
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg == nil {
		return nil, ErrInvalidMessage
	}
	if msg.Type() == "" {
		return nil, ErrMissingType
	}
	return msg, nil
}

// Type 返回消息类型，缺失或非字符串时为空
func (m Message) Type() string {
	s, _ := m.String(fieldType)
	return s
}

// String 读取字符串字段
func (m Message) String(key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Has 是否包含字段
func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// With 返回设置了字段的副本
func (m Message) With(key string, value any) Message {
	raw, err := json.Marshal(value)
	if err != nil {
		raw = json.RawMessage("null")
	}
	out := make(Message, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = raw
	return out
}

// Encode 编码为 JSON
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// NewMessage 创建指定类型的空消息
func NewMessage(msgType string) Message {
	return Message{fieldType: json.RawMessage(strconv.Quote(msgType))}
}

// ConnectionEstablished 连接建立确认
func ConnectionEstablished(room string) Message {
	return NewMessage(TypeConnectionEstablished).With(fieldRoomID, room)
}

// Pong 回应 ping，原样回显 timestamp
func Pong(ping Message) Message {
	pong := NewMessage(TypePong)
	if ts, ok := ping[fieldTimestamp]; ok {
		pong[fieldTimestamp] = ts
	}
	return pong
}

// SessionTimeout 会话超时通知
func SessionTimeout(message string) Message {
	return NewMessage(TypeSessionTimeout).With(fieldMessage, message)
}

// RecordDeleteNotice 记录删除通知
func RecordDeleteNotice(room string, recordID int64) Message {
	return NewMessage(TypeRecordDelete).
		With(fieldRecordID, recordID).
		With(fieldRoomID, Normalize(room))
}
