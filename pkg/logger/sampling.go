package logger

import "time"

// SamplingConfig 采样配置
// 每个 Tick 内同级别同消息的前 Initial 条全部写出，之后每 Thereafter 条写出 1 条
// 房间广播失败这类日志在断网风暴中会成批出现，采样可以压住输出量
type SamplingConfig struct {
	Tick       time.Duration `mapstructure:"tick"`
	Initial    int           `mapstructure:"initial"`
	Thereafter int           `mapstructure:"thereafter"`
}

func (s *SamplingConfig) setDefaults() {
	if s.Tick <= 0 {
		s.Tick = time.Second
	}
	if s.Initial <= 0 {
		s.Initial = 100
	}
	if s.Thereafter <= 0 {
		s.Thereafter = 100
	}
}
