package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeConn 基于 channel 的 Conn
type fakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	block   bool // Send 阻塞直到 ctx 到期

	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	code      int
	reason    string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	err, block := f.sendErr, f.block
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-f.closed:
		return ErrConnectionClosed
	default:
	}

	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Receive() ([]byte, error) {
	select {
	case <-f.closed:
		return nil, ErrConnectionClosed
	default:
	}
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, ErrConnectionClosed
	}
}

func (f *fakeConn) Close(code int, reason string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.code, f.reason = code, reason
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake" }

func (f *fakeConn) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeConn) setBlock(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = block
}

// push 模拟客户端发送一帧
func (f *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	var data []byte
	switch x := v.(type) {
	case string:
		data = []byte(x)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	f.in <- data
}

func (f *fakeConn) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, 0, len(f.sent))
	for _, data := range f.sent {
		msg, err := ParseMessage(data)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (f *fakeConn) rawMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, data := range f.sent {
		out = append(out, string(data))
	}
	return out
}

// waitMessages 等待至少 n 条消息
func (f *fakeConn) waitMessages(t *testing.T, n int) []Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.messages()) >= n }, 2*time.Second, 5*time.Millisecond)
	return f.messages()
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) closeInfo() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.reason
}

// recordingMetrics 记录关心的指标
type recordingMetrics struct {
	NoopMetrics

	mu          sync.Mutex
	reconnects  map[string]int
	rejected    map[int]int
	invalid     int
	evictions   int
	dropped     int
	relayErrors int
	connections int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		reconnects: make(map[string]int),
		rejected:   make(map[int]int),
	}
}

func (m *recordingMetrics) IncrementConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections++
}

func (m *recordingMetrics) DecrementConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections--
}

func (m *recordingMetrics) IncrementReconnects(decision string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects[decision]++
}

func (m *recordingMetrics) IncrementRejectedHandshakes(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[code]++
}

func (m *recordingMetrics) IncrementInvalidMessages() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalid++
}

func (m *recordingMetrics) IncrementEvictions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions++
}

func (m *recordingMetrics) IncrementDroppedMessages() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func (m *recordingMetrics) IncrementRelayFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relayErrors++
}

func (m *recordingMetrics) relayFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relayErrors
}

func (m *recordingMetrics) reconnectCount(decision string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects[decision]
}

func (m *recordingMetrics) rejectedCount(code int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected[code]
}

func (m *recordingMetrics) liveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.SendTimeout = 100 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	return cfg
}

// mustString 读取字符串字段
func mustString(t *testing.T, msg Message, key string) string {
	t.Helper()
	s, ok := msg.String(key)
	require.True(t, ok, "field %q missing in %v", key, msg)
	return s
}
