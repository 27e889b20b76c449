package hub

import "time"

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	SetRoomCount(count int)
	IncrementRejectedHandshakes(code int)

	// 会话指标
	IncrementReconnects(decision string)
	IncrementEvictions()

	// 消息指标
	IncrementMessageCount(msgType string)
	IncrementInvalidMessages()
	RecordBroadcast(sent, failed int, duration time.Duration)
	IncrementDroppedMessages()

	// 跨实例订阅断开次数
	IncrementRelayFailures()
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()                   {}
func (NoopMetrics) DecrementConnections()                   {}
func (NoopMetrics) SetRoomCount(int)                        {}
func (NoopMetrics) IncrementRejectedHandshakes(int)         {}
func (NoopMetrics) IncrementReconnects(string)              {}
func (NoopMetrics) IncrementEvictions()                     {}
func (NoopMetrics) IncrementMessageCount(string)            {}
func (NoopMetrics) IncrementInvalidMessages()               {}
func (NoopMetrics) RecordBroadcast(int, int, time.Duration) {}
func (NoopMetrics) IncrementDroppedMessages()               {}
func (NoopMetrics) IncrementRelayFailures()                 {}
