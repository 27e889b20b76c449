package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// UnknownClient 尚未注册的连接标识
const UnknownClient = "unknown"

// Connection 一条存活连接，生命周期内由 Registry 独占管理
type Connection struct {
	id          string
	room        string
	conn        Conn
	connectedAt time.Time

	// 以下字段受 Registry.mu 保护
	label      string
	identified bool // 收到 register_client 后为 true，标识本身可以是任意字符串
	removed    bool
}

// ID 连接唯一标识
func (c *Connection) ID() string { return c.id }

// Room 所属房间（规范化后）
func (c *Connection) Room() string { return c.room }

// Conn 底层连接
func (c *Connection) Conn() Conn { return c.conn }

// ConnectedAt 建立时间
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// clientState 房间内某个客户端标识的时间状态
type clientState struct {
	lastConnect    time.Time
	lastDisconnect time.Time
	lastRefresh    time.Time
	lastActivity   time.Time
}

// tombstoneAt 最近一次断开或刷新的时间
func (cs *clientState) tombstoneAt() time.Time {
	if cs.lastRefresh.After(cs.lastDisconnect) {
		return cs.lastRefresh
	}
	return cs.lastDisconnect
}

// roomState 单个房间的连接和客户端状态，两者始终在同一把锁下一起变更
type roomState struct {
	conns   []*Connection
	clients map[string]*clientState
}

func (rs *roomState) client(label string) *clientState {
	cs, ok := rs.clients[label]
	if !ok {
		cs = &clientState{}
		rs.clients[label] = cs
	}
	return cs
}

// liveCount 标识仍绑定的存活连接数
func (rs *roomState) liveCount(label string) int {
	n := 0
	for _, c := range rs.conns {
		if c.identified && c.label == label {
			n++
		}
	}
	return n
}

// keepTombstones 房间清空时只保留未过期的断开/刷新记录，活跃时间全部丢弃
func (rs *roomState) keepTombstones(now time.Time, ttl time.Duration) {
	kept := make(map[string]*clientState, len(rs.clients))
	for label, cs := range rs.clients {
		if now.Sub(cs.tombstoneAt()) < ttl {
			kept[label] = &clientState{lastDisconnect: cs.lastDisconnect, lastRefresh: cs.lastRefresh}
		}
	}
	rs.clients = kept
}

// DisconnectInfo 断开结果
type DisconnectInfo struct {
	Label     string
	Duration  time.Duration
	RoomEmpty bool
}

// idleClient 空闲客户端
type idleClient struct {
	room  string
	label string
}

// Registry 连接注册表，所有共享状态的唯一写入方
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*roomState
	classifier classifier
	tombstone  time.Duration
	now        func() time.Time
}

// NewRegistry 创建注册表
func NewRegistry(cfg *Config, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		rooms: make(map[string]*roomState),
		classifier: classifier{
			refreshWindow: cfg.RefreshWindow,
			dedupWindow:   cfg.DedupWindow,
		},
		tombstone: cfg.tombstoneTTL(),
		now:       now,
	}
}

// Connect 在房间下登记新连接，客户端标识初始为 unknown
func (r *Registry) Connect(room string, conn Conn) *Connection {
	room = Normalize(room)
	c := &Connection{
		id:    uuid.NewString(),
		room:  room,
		conn:  conn,
		label: UnknownClient,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c.connectedAt = r.now()
	rs, ok := r.rooms[room]
	if !ok {
		rs = &roomState{clients: make(map[string]*clientState)}
		r.rooms[room] = rs
	}
	rs.conns = append(rs.conns, c)
	return c
}

// Disconnect 移除连接，对已移除的连接重复调用返回 false
func (r *Registry) Disconnect(c *Connection) (DisconnectInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c == nil || c.removed {
		return DisconnectInfo{}, false
	}
	c.removed = true

	now := r.now()
	info := DisconnectInfo{Label: c.label, Duration: now.Sub(c.connectedAt)}

	rs, ok := r.rooms[c.room]
	if !ok {
		return info, true
	}
	for i, conn := range rs.conns {
		if conn == c {
			rs.conns = append(rs.conns[:i], rs.conns[i+1:]...)
			break
		}
	}

	if c.identified {
		cs := rs.client(c.label)
		cs.lastDisconnect = now
		if rs.liveCount(c.label) == 0 {
			cs.lastActivity = time.Time{}
		}
	}

	if len(rs.conns) == 0 {
		// 房间清空：各客户端只剩刷新判定需要的断开记录
		info.RoomEmpty = true
		rs.keepTombstones(now, r.tombstone)
	}
	return info, true
}

// Identify 绑定客户端标识并判定是否为刷新重连
// 连接已移除时返回 false
func (r *Registry) Identify(c *Connection, label string) (Decision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c == nil || c.removed {
		return FreshConnect, false
	}
	rs, ok := r.rooms[c.room]
	if !ok {
		return FreshConnect, false
	}

	c.label = label
	c.identified = true
	return r.classifier.classify(rs.client(label), r.now()), true
}

// UpdateActivity 刷新客户端活跃时间，房间不存在时忽略
// label 为空表示连接尚未注册
func (r *Registry) UpdateActivity(room, label string) {
	if label == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[Normalize(room)]
	if !ok || len(rs.conns) == 0 {
		return
	}
	rs.client(label).lastActivity = r.now()
}

// Snapshot 房间存活连接的副本
func (r *Registry) Snapshot(room string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[Normalize(room)]
	if !ok || len(rs.conns) == 0 {
		return nil
	}
	out := make([]*Connection, len(rs.conns))
	copy(out, rs.conns)
	return out
}

// Label 连接当前绑定的客户端标识
func (r *Registry) Label(c *Connection) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return c.label
}

// RoomStats 房间统计
type RoomStats struct {
	Connections int
	Clients     []string
}

// Stats 房间内存活连接数和已注册的客户端标识
func (r *Registry) Stats(room string) RoomStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[Normalize(room)]
	if !ok {
		return RoomStats{}
	}

	stats := RoomStats{Connections: len(rs.conns)}
	seen := make(map[string]bool, len(rs.conns))
	for _, c := range rs.conns {
		if !c.identified || seen[c.label] {
			continue
		}
		seen[c.label] = true
		stats.Clients = append(stats.Clients, c.label)
	}
	return stats
}

// RoomCount 存活房间数（至少有一条连接）
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rs := range r.rooms {
		if len(rs.conns) > 0 {
			n++
		}
	}
	return n
}

// Connections 全部存活连接
func (r *Registry) Connections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Connection
	for _, rs := range r.rooms {
		out = append(out, rs.conns...)
	}
	return out
}

// idle 活跃时间早于 now-timeout 的客户端
func (r *Registry) idle(now time.Time, timeout time.Duration) []idleClient {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []idleClient
	for room, rs := range r.rooms {
		for label, cs := range rs.clients {
			if cs.lastActivity.IsZero() {
				continue
			}
			if now.Sub(cs.lastActivity) > timeout {
				out = append(out, idleClient{room: room, label: label})
			}
		}
	}
	return out
}

// idleOutcome 空闲客户端复查结果
type idleOutcome int

const (
	idleActive  idleOutcome = iota // 复查时已重新活跃
	idleStale                      // 已无存活连接，活跃记录被删除
	idleEvict                      // 仍空闲且有存活连接，需要踢出
)

// claimIdle 在锁内复查客户端是否仍然空闲
// 仍空闲时返回房间内绑定该标识的任意一条存活连接；没有连接时顺带删除活跃记录
func (r *Registry) claimIdle(room, label string, now time.Time, timeout time.Duration) (*Connection, idleOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[room]
	if !ok {
		return nil, idleActive
	}
	cs, ok := rs.clients[label]
	if !ok || cs.lastActivity.IsZero() || now.Sub(cs.lastActivity) <= timeout {
		return nil, idleActive
	}
	for _, c := range rs.conns {
		if c.identified && c.label == label {
			return c, idleEvict
		}
	}
	cs.lastActivity = time.Time{}
	return nil, idleStale
}

// prune 清理过期的断开记录和空房间，返回删除的客户端记录数
func (r *Registry) prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for room, rs := range r.rooms {
		for label, cs := range rs.clients {
			if !cs.lastActivity.IsZero() {
				continue
			}
			if now.Sub(cs.tombstoneAt()) >= r.tombstone {
				delete(rs.clients, label)
				pruned++
			}
		}
		if len(rs.conns) == 0 && len(rs.clients) == 0 {
			delete(r.rooms, room)
		}
	}
	return pruned
}

// size 内部房间条目数（含只剩断开记录的房间），用于测试内存是否回收
func (r *Registry) size() (rooms, clients int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rs := range r.rooms {
		rooms++
		clients += len(rs.clients)
	}
	return rooms, clients
}
