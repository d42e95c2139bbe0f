package offline0

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestConnectivityFiresOnRestoration(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	net := newFakeNetwork(func(call fetchCall) (Entry, error) {
		if !up.Load() {
			return offlineHandler(call)
		}
		return statusEntry(200), nil
	})
	var restored atomic.Int32
	m := &connectivityMonitor{
		net:       net,
		target:    testOrigin + "/api/health",
		every:     time.Hour,
		onRestore: func(context.Context) { restored.Add(1) },
		log:       zap.NewNop(),
	}
	ctx := context.Background()

	assert.False(t, m.Online())
	assert.True(t, m.check(ctx), "first successful probe counts as a restoration")
	assert.False(t, m.check(ctx))
	assert.True(t, m.Online())

	up.Store(false)
	assert.False(t, m.check(ctx))
	assert.False(t, m.Online())

	up.Store(true)
	assert.True(t, m.check(ctx))
	assert.Equal(t, int32(2), restored.Load())
	assert.Equal(t, 4, net.CallsTo("/api/health"))
}

func TestConnectivityRestorationDrainsQueues(t *testing.T) {
	var up atomic.Bool
	net := newFakeNetwork(func(call fetchCall) (Entry, error) {
		if !up.Load() {
			return offlineHandler(call)
		}
		return statusEntry(200), nil
	})
	svc := createTestService(t, net, func(cfg *Config) {
		cfg.Sync.Probe.Path = "/api/health"
		cfg.Sync.Probe.Every = "1h"
	})
	ctx := context.Background()
	assert.NoError(t, svc.Worker().Enqueue(ctx, QueueBookings, []byte(`{"courseId":5}`)))

	assert.False(t, svc.conn.check(ctx))
	up.Store(true)
	assert.True(t, svc.conn.check(ctx))

	assert.Equal(t, 1, net.CallsTo("/api/bookings"))
	n, err := svc.Worker().replay.Len(ctx, QueueBookings)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
