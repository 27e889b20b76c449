package config

import "github.com/tokmz/cliphub/pkg/errors"

// 3xxx 段留给配置加载，启动阶段直接返回给 main
var (
	ErrConfigNotFound   = errors.New(3001, 500, "配置文件未找到", nil)
	ErrConfigReadFailed = errors.New(3003, 500, "配置读取失败", nil)
	// ErrConfigInvalid 反序列化失败或 Validate 未通过，热加载时经 OnError 上报
	ErrConfigInvalid = errors.New(3004, 500, "配置校验失败", nil)
)
