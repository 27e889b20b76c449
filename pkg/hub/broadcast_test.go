package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/cliphub/pkg/logger"
)

func newTestBroadcaster(cfg *Config, safe ...string) (*Broadcaster, *Registry) {
	clock := newFakeClock()
	registry := NewRegistry(cfg, clock.Now)
	b := NewBroadcaster(cfg, registry, NewSafeRooms(safe), logger.NewNop(), NoopMetrics{})
	return b, registry
}

func TestBroadcastDeliversToAll(t *testing.T) {
	b, registry := newTestBroadcaster(testConfig())

	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range conns {
		registry.Connect("000123", c)
	}
	outsider := newFakeConn()
	registry.Connect("000456", outsider)

	msg, err := ParseMessage([]byte(`{"type":"text","content":"hi","client_id":"alice"}`))
	require.NoError(t, err)

	result := b.Broadcast(context.Background(), "123", msg)
	assert.Equal(t, BroadcastResult{Sent: 3}, result)

	for _, c := range conns {
		require.Len(t, c.rawMessages(), 1)
		assert.JSONEq(t, `{"type":"text","content":"hi","client_id":"alice"}`, c.rawMessages()[0])
	}
	assert.Empty(t, outsider.rawMessages())
}

func TestBroadcastPartialFailure(t *testing.T) {
	b, registry := newTestBroadcaster(testConfig())

	good1, bad, good2 := newFakeConn(), newFakeConn(), newFakeConn()
	bad.setSendErr(errors.New("broken pipe"))
	for _, c := range []*fakeConn{good1, bad, good2} {
		registry.Connect("000123", c)
	}

	result := b.Broadcast(context.Background(), "000123", NewMessage(TypeText))
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, result.Sent+result.Failed)
	assert.Len(t, good1.rawMessages(), 1)
	assert.Len(t, good2.rawMessages(), 1)
}

func TestBroadcastBlockedRecipientTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.SendTimeout = 50 * time.Millisecond
	b, registry := newTestBroadcaster(cfg)

	stuck, fine := newFakeConn(), newFakeConn()
	stuck.setBlock(true)
	registry.Connect("000123", stuck)
	registry.Connect("000123", fine)

	start := time.Now()
	result := b.Broadcast(context.Background(), "000123", NewMessage(TypeText))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, BroadcastResult{Sent: 1, Failed: 1}, result)
	assert.Len(t, fine.rawMessages(), 1)
}

func TestBroadcastEmptyRoom(t *testing.T) {
	b, _ := newTestBroadcaster(testConfig())
	assert.Equal(t, BroadcastResult{}, b.Broadcast(context.Background(), "000123", NewMessage(TypeText)))
}

func TestBroadcastRedaction(t *testing.T) {
	tests := []struct {
		name string
		safe []string
		in   string
		want string
	}{
		{
			name: "safe room hides client_id",
			safe: []string{"000123"},
			in:   `{"type":"text","client_id":"alice","content":"hi"}`,
			want: `{"type":"text","client_id":"匿名","content":"hi"}`,
		},
		{
			name: "safe room configured without padding",
			safe: []string{"123"},
			in:   `{"type":"text","client_id":"alice"}`,
			want: `{"type":"text","client_id":"匿名"}`,
		},
		{
			name: "safe room without client_id",
			safe: []string{"000123"},
			in:   `{"type":"text","content":"hi"}`,
			want: `{"type":"text","content":"hi"}`,
		},
		{
			name: "other room verbatim",
			safe: []string{"000456"},
			in:   `{"type":"text","client_id":"alice"}`,
			want: `{"type":"text","client_id":"alice"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, registry := newTestBroadcaster(testConfig(), tt.safe...)
			a, c := newFakeConn(), newFakeConn()
			registry.Connect("000123", a)
			registry.Connect("000123", c)

			msg, err := ParseMessage([]byte(tt.in))
			require.NoError(t, err)
			b.Broadcast(context.Background(), "000123", msg)

			for _, conn := range []*fakeConn{a, c} {
				require.Len(t, conn.rawMessages(), 1)
				assert.JSONEq(t, tt.want, conn.rawMessages()[0])
			}
			assert.JSONEq(t, tt.in, string(mustEncode(t, msg)), "stored message must not change")
		})
	}
}

func TestDisplayLabel(t *testing.T) {
	b, _ := newTestBroadcaster(testConfig(), "000123")
	assert.Equal(t, "匿名", b.DisplayLabel("000123", "alice"))
	assert.Equal(t, "匿名", b.DisplayLabel("000123", UnknownClient))
	assert.Equal(t, UnknownClient, b.DisplayLabel("000456", UnknownClient))
	assert.Equal(t, "alice", b.DisplayLabel("000456", "alice"))
}

func mustEncode(t *testing.T, msg Message) []byte {
	t.Helper()
	data, err := msg.Encode()
	require.NoError(t, err)
	return data
}
