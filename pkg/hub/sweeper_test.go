package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokmz/cliphub/pkg/logger"
	"go.uber.org/goleak"
)

type sweeperFixture struct {
	clock    *fakeClock
	registry *Registry
	sweeper  *Sweeper
	metrics  *recordingMetrics
}

func newSweeperFixture(safe ...string) *sweeperFixture {
	cfg := testConfig()
	clock := newFakeClock()
	metrics := newRecordingMetrics()
	registry := NewRegistry(cfg, clock.Now)
	b := NewBroadcaster(cfg, registry, NewSafeRooms(safe), logger.NewNop(), metrics)
	return &sweeperFixture{
		clock:    clock,
		registry: registry,
		sweeper:  NewSweeper(cfg, registry, b, clock.Now, logger.NewNop(), metrics),
		metrics:  metrics,
	}
}

func (f *sweeperFixture) join(room, label string) (*Connection, *fakeConn) {
	conn := newFakeConn()
	c := f.registry.Connect(room, conn)
	f.registry.Identify(c, label)
	return c, conn
}

func TestSweepEvictsIdleClient(t *testing.T) {
	f := newSweeperFixture()
	_, conn := f.join("000123", "alice")

	f.clock.Advance(3601 * time.Second)
	result := f.sweeper.Sweep(context.Background())

	assert.Equal(t, 1, result.Evicted)
	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeSessionTimeout, msgs[0].Type())
	assert.Equal(t, "会话已超时，请重新登录", mustString(t, msgs[0], fieldMessage))

	code, reason := conn.closeInfo()
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, ReasonSessionTimeout, reason)
	assert.Empty(t, f.registry.Connections())
	assert.Equal(t, 1, f.metrics.evictions)
}

func TestSweepKeepsActiveClient(t *testing.T) {
	f := newSweeperFixture()
	_, conn := f.join("000123", "alice")

	f.clock.Advance(3599 * time.Second)
	assert.Equal(t, SweepResult{}, f.sweeper.Sweep(context.Background()))

	// ping 刷新活跃时间
	f.registry.UpdateActivity("000123", "alice")
	f.clock.Advance(3599 * time.Second)
	assert.Equal(t, SweepResult{}, f.sweeper.Sweep(context.Background()))

	assert.False(t, conn.isClosed())
	assert.Len(t, f.registry.Connections(), 1)
}

func TestSweepEvictsEvenIfNoticeFails(t *testing.T) {
	f := newSweeperFixture()
	_, conn := f.join("000123", "alice")
	conn.setSendErr(errors.New("broken pipe"))

	f.clock.Advance(2 * time.Hour)
	result := f.sweeper.Sweep(context.Background())

	assert.Equal(t, 1, result.Evicted)
	assert.True(t, conn.isClosed())
	assert.Empty(t, f.registry.Connections())
}

func TestSweepRemovesStaleActivity(t *testing.T) {
	f := newSweeperFixture()
	c, _ := f.join("000123", "alice")
	f.join("000123", "bob")

	// 同一连接改名后 alice 不再有存活连接
	f.registry.Identify(c, "bob")

	f.clock.Advance(3601 * time.Second)
	f.registry.UpdateActivity("000123", "bob")

	result := f.sweeper.Sweep(context.Background())
	assert.Equal(t, SweepResult{Stale: 1, Pruned: 1}, result)
	assert.Len(t, f.registry.Connections(), 2)

	assert.Equal(t, SweepResult{}, f.sweeper.Sweep(context.Background()), "stale entry is gone")
}

func TestSweepSkipsClientActiveDuringPass(t *testing.T) {
	f := newSweeperFixture()
	_, alice := f.join("000123", "alice")
	_, bob := f.join("000123", "bob")

	f.clock.Advance(2 * time.Hour)
	evict := f.sweeper.evict
	f.sweeper.evict = func(ctx context.Context, c *Connection) {
		// 踢出第一个客户端期间，另一个客户端发来 ping
		for _, label := range []string{"alice", "bob"} {
			if label != f.registry.Label(c) {
				f.registry.UpdateActivity("000123", label)
			}
		}
		evict(ctx, c)
	}

	result := f.sweeper.Sweep(context.Background())
	assert.Equal(t, 1, result.Evicted)
	assert.Equal(t, 1, result.Revived)
	assert.Len(t, f.registry.Connections(), 1)
	assert.NotEqual(t, alice.isClosed(), bob.isClosed(), "exactly one client is evicted")
}

func TestSweepContinuesAfterPanic(t *testing.T) {
	f := newSweeperFixture()
	_, bad := f.join("000111", "bad")
	_, good := f.join("000222", "good")

	evict := f.sweeper.evict
	f.sweeper.evict = func(ctx context.Context, c *Connection) {
		if f.registry.Label(c) == "bad" {
			panic("boom")
		}
		evict(ctx, c)
	}

	f.clock.Advance(2 * time.Hour)
	result := f.sweeper.Sweep(context.Background())

	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.Evicted)
	assert.True(t, good.isClosed())
	assert.False(t, bad.isClosed())
}

func TestSweepPrunesTombstones(t *testing.T) {
	f := newSweeperFixture()
	c, _ := f.join("000123", "alice")
	_, _ = f.registry.Disconnect(c)

	f.clock.Advance(time.Minute)
	result := f.sweeper.Sweep(context.Background())
	assert.Equal(t, 1, result.Pruned)

	rooms, clients := f.registry.size()
	assert.Zero(t, rooms)
	assert.Zero(t, clients)
}

func TestSweepEvictionRacingDisconnect(t *testing.T) {
	f := newSweeperFixture()
	c, _ := f.join("000123", "alice")

	f.clock.Advance(2 * time.Hour)
	evict := f.sweeper.evict
	f.sweeper.evict = func(ctx context.Context, target *Connection) {
		// 会话循环抢先断开
		_, _ = f.registry.Disconnect(c)
		evict(ctx, target)
	}

	result := f.sweeper.Sweep(context.Background())
	assert.Equal(t, 1, result.Evicted)
	assert.Equal(t, 0, f.metrics.evictions, "already removed connection is not counted twice")
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newSweeperFixture()
	f.join("000123", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sweeper.Run(ctx) }()

	f.clock.Advance(2 * time.Hour)
	require.Eventually(t, func() bool {
		return len(f.registry.Connections()) == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
