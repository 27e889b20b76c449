package cliphub

import (
	"reflect"
	"sync"

	"github.com/tokmz/cliphub/pkg/config"
	"github.com/tokmz/cliphub/pkg/hub"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/zap"
)

// Reloader 配置热加载：hub.safe_rooms 和 log.level 立即生效，其余配置需要重启
type Reloader struct {
	src *config.Config
	hub *hub.Hub
	log logger.Logger

	mu      sync.Mutex
	current *AppConfig
}

// NewReloader 创建热加载器，current 为启动时使用的配置
func NewReloader(src *config.Config, current *AppConfig, h *hub.Hub, log logger.Logger) *Reloader {
	return &Reloader{
		src:     src,
		hub:     h,
		log:     log,
		current: current,
	}
}

// Watch 注册变更回调并开始监控配置文件
func (r *Reloader) Watch() error {
	r.src.OnChange(func() {
		if err := r.Reload(); err != nil {
			r.src.ReportError(err)
		}
	})
	return r.src.StartWatch()
}

// Reload 重新读取配置并应用可热更新的部分，新配置无效时保持原配置
func (r *Reloader) Reload() error {
	next, err := decode(r.src)
	if err != nil {
		r.log.Warn("config reload rejected", zap.Error(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current
	if !reflect.DeepEqual(prev.Hub.SafeRooms, next.Hub.SafeRooms) {
		if err := r.hub.SetSafeRooms(next.Hub.SafeRooms); err != nil {
			return err
		}
	}
	if prev.Log.Level != next.Log.Level {
		// decode 已校验
		level, _ := logger.ParseLevel(next.Log.Level)
		r.log.SetLevel(level)
		r.log.Info("log level updated", zap.String("level", level.String()))
	}

	if changed := restartRequired(prev, next); len(changed) > 0 {
		r.log.Warn("config changes require restart", zap.Strings("sections", changed))
	}

	r.current = next
	return nil
}

// Current 当前生效的配置
func (r *Reloader) Current() *AppConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// restartRequired 返回热加载无法应用的配置段
func restartRequired(prev, next *AppConfig) []string {
	// 只比较不可热更新的字段
	prevHub, nextHub := *prev.Hub, *next.Hub
	prevHub.SafeRooms, nextHub.SafeRooms = nil, nil
	prevLog, nextLog := prev.Log, next.Log
	prevLog.Level, nextLog.Level = "", ""

	sections := []struct {
		name string
		a, b any
	}{
		{"server", prev.Server, next.Server},
		{"log", prevLog, nextLog},
		{"hub", prevHub, nextHub},
		{"auth", prev.Auth, next.Auth},
		{"cache", prev.Cache, next.Cache},
		{"relay", prev.Relay, next.Relay},
		{"tracing", prev.Tracing, next.Tracing},
		{"metrics", prev.Metrics, next.Metrics},
		{"cors", prev.CORS, next.CORS},
	}
	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			changed = append(changed, s.name)
		}
	}
	return changed
}
