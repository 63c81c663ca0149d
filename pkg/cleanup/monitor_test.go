package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/weave/pkg/sessionlock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, evict EvictFunc, locks LockReclaimer) *Monitor {
	t.Helper()
	logger := zerolog.Nop()
	m, err := New(Config{Evict: evict, Locks: locks, Logger: &logger})
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Evict: func(context.Context, time.Time, time.Duration) (int, int64) { return 0, 0 }, Schedule: "bogus"})
	assert.Error(t, err)

	m := newTestMonitor(t, func(context.Context, time.Time, time.Duration) (int, int64) { return 0, 0 }, nil)
	assert.Equal(t, DefaultIdleTimeout, m.IdleTimeout())
}

func TestSweep_ReportsResult(t *testing.T) {
	var gotNow time.Time
	var gotIdle time.Duration
	evict := func(_ context.Context, now time.Time, idle time.Duration) (int, int64) {
		gotNow, gotIdle = now, idle
		return 2, 4096
	}

	logger := zerolog.Nop()
	locks := sessionlock.New(sessionlock.Config{Lease: time.Millisecond, Logger: &logger})
	_, err := locks.Acquire(context.Background(), "abandoned", time.Second)
	require.NoError(t, err)

	m := newTestMonitor(t, evict, locks)
	now := time.Now().Add(time.Minute)

	res, ran := m.Sweep(context.Background(), now)
	require.True(t, ran)
	assert.Equal(t, 2, res.SessionsEvicted)
	assert.Equal(t, 1, res.LocksReclaimed)
	assert.Equal(t, int64(4096), res.BytesFreedEstimate)
	assert.Equal(t, now, gotNow)
	assert.Equal(t, DefaultIdleTimeout, gotIdle)

	count, last := m.Stats()
	assert.Equal(t, int64(1), count)
	require.NotNil(t, last)
	assert.Equal(t, 2, last.SessionsEvicted)
}

func TestSweep_SkipsWhenRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	evict := func(context.Context, time.Time, time.Duration) (int, int64) {
		close(entered)
		<-release
		return 1, 0
	}
	m := newTestMonitor(t, evict, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, ran := m.Sweep(context.Background(), time.Now())
		assert.True(t, ran)
	}()

	<-entered
	res, ran := m.Sweep(context.Background(), time.Now())
	assert.False(t, ran)
	assert.Equal(t, Result{}, res)

	close(release)
	wg.Wait()

	count, _ := m.Stats()
	assert.Equal(t, int64(1), count)
}

func TestStartStop(t *testing.T) {
	m := newTestMonitor(t, func(context.Context, time.Time, time.Duration) (int, int64) { return 0, 0 }, nil)
	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "job already registered")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Stop(ctx))
}
