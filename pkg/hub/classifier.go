package hub

import "time"

// Decision 重连判定结果
type Decision int

const (
	// FreshConnect 新加入
	FreshConnect Decision = iota
	// Refresh 页面刷新导致的重连
	Refresh
	// RefreshSuppressed 去重窗口内的重复刷新，不再通知
	RefreshSuppressed
)

func (d Decision) String() string {
	switch d {
	case FreshConnect:
		return "fresh_connect"
	case Refresh:
		return "refresh"
	case RefreshSuppressed:
		return "refresh_suppressed"
	default:
		return "unknown"
	}
}

// classifier 根据最近一次断开时间区分新连接和刷新
type classifier struct {
	refreshWindow time.Duration
	dedupWindow   time.Duration
}

// classify 判定并更新客户端时间戳
// 断开后 (0, refreshWindow) 内重连为刷新；距上次刷新通知不足 dedupWindow 时抑制
// 无论哪种结果都会更新 lastConnect 和 lastActivity
func (c classifier) classify(cs *clientState, now time.Time) Decision {
	decision := FreshConnect

	if !cs.lastDisconnect.IsZero() {
		if since := now.Sub(cs.lastDisconnect); since > 0 && since < c.refreshWindow {
			decision = Refresh
			if !cs.lastRefresh.IsZero() && now.Sub(cs.lastRefresh) < c.dedupWindow {
				decision = RefreshSuppressed
			} else {
				cs.lastRefresh = now
			}
		}
	}

	cs.lastConnect = now
	cs.lastActivity = now
	return decision
}
