package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	logger := zerolog.Nop()
	s := NewScheduler(&logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestAdd_Validation(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) {}

	assert.Error(t, s.Add("", "@every 1m", noop))
	assert.Error(t, s.Add("job", "@every 1m", nil))
	assert.Error(t, s.Add("job", "not a schedule", noop))

	require.NoError(t, s.Add("job", "*/5 * * * *", noop))
	assert.Error(t, s.Add("job", "@every 1m", noop), "duplicate name")
}

func TestNext(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Add("sweep", "@every 5m", func(context.Context) {}))
	s.Start()

	next, ok := s.Next("sweep")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), next, 2*time.Second)

	_, ok = s.Next("missing")
	assert.False(t, ok)

	s.Remove("sweep")
	_, ok = s.Next("sweep")
	assert.False(t, ok)
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := newTestScheduler(t)

	var running, overlapped, runs atomic.Int32
	require.NoError(t, s.Add("slow", "@every 1s", func(context.Context) {
		if running.Add(1) > 1 {
			overlapped.Add(1)
		}
		runs.Add(1)
		time.Sleep(1500 * time.Millisecond)
		running.Add(-1)
	}))
	s.Start()

	time.Sleep(3200 * time.Millisecond)
	assert.GreaterOrEqual(t, runs.Load(), int32(1))
	assert.Equal(t, int32(0), overlapped.Load())
}

func TestStop_NotStarted(t *testing.T) {
	s := newTestScheduler(t)
	assert.NoError(t, s.Stop(context.Background()))
}
