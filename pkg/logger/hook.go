package logger

import "go.uber.org/zap/zapcore"

// Hook 日志钩子，在条目通过级别过滤、写入输出之前调用
// 返回错误会中断本条日志的写入
type Hook interface {
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) error
}

// HookFunc 函数形式的 Hook
type HookFunc func(entry zapcore.Entry, fields []zapcore.Field) error

// OnWrite 实现 Hook
func (f HookFunc) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	return f(entry, fields)
}
