package logger

import (
	"fmt"
	"strings"
)

// Format 日志格式
type Format string

const (
	JSONFormat    Format = "json"    // 生产环境
	ConsoleFormat Format = "console" // 本地调试
)

func (f Format) String() string {
	return string(f)
}

// IsValid 检查格式是否有效
func (f Format) IsValid() bool {
	return f == JSONFormat || f == ConsoleFormat
}

// ParseFormat 解析配置中的格式名，空字符串视为 json
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return JSONFormat, nil
	}
	if !f.IsValid() {
		return JSONFormat, fmt.Errorf("unknown log format %q", s)
	}
	return f, nil
}
