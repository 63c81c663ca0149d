package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/harun/weave/pkg/session"
	"github.com/harun/weave/pkg/workerpool"
	"github.com/harun/weave/pkg/workqueue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunForeground_SharesPoolPermits(t *testing.T) {
	f := newFixture(t, nil)
	f.client.WithDelay(100 * time.Millisecond)
	ids := f.create(t, "fg", "bg")
	ctx := context.Background()

	logger := zerolog.Nop()
	pool := workerpool.New(workerpool.Config{
		Queue:       f.queue,
		Locks:       f.locks,
		Sessions:    f.c,
		Runner:      f.runner,
		Workers:     2,
		Permits:     1,
		LockTimeout: 20 * time.Millisecond,
		Logger:      &logger,
	})
	f.c.Attach(pool)
	require.NoError(t, pool.Start(ctx))
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(sctx)
	})

	notes, unsubscribe := f.c.Notifications()
	defer unsubscribe()

	_, err := f.c.SubmitBackground(ctx, "bg", "hello", workqueue.High)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.client.InFlight() == 1 }, 2*time.Second, time.Millisecond)

	res, err := f.c.RunForeground(ctx, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", res.Response)

	select {
	case id := <-notes:
		assert.Equal(t, ids[1], id)
	case <-time.After(3 * time.Second):
		t.Fatal("no notification for background work")
	}

	assert.Equal(t, 1, f.client.HighWater())
	assert.Equal(t, 1, pool.Stats().HighWater)
	assert.Equal(t, 0, pool.Stats().InFlight)
}

func TestHandlePoolEvent_ClosedSessionIsNotPublished(t *testing.T) {
	f := newFixture(t, nil)
	ids := f.create(t, "fg", "bg")
	ctx := context.Background()

	itemID, err := f.c.SubmitBackground(ctx, "bg", "hello", workqueue.Low)
	require.NoError(t, err)
	require.NoError(t, f.c.CloseSession(ctx, "bg"))

	notes, unsubscribe := f.c.Notifications()
	defer unsubscribe()

	f.c.HandlePoolEvent(workerpool.Event{Type: workerpool.EventCompleted, SessionID: ids[1], ItemID: itemID})
	select {
	case id := <-notes:
		t.Fatalf("unexpected notification for closed session %s", id)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, f.c.Stats().Pending)

	// live sessions still notify
	f.c.HandlePoolEvent(workerpool.Event{Type: workerpool.EventCompleted, SessionID: ids[0]})
	select {
	case id := <-notes:
		assert.Equal(t, ids[0], id)
	case <-time.After(time.Second):
		t.Fatal("no notification for live session")
	}
}

func TestBackgroundCommit_ActiveSessionStaysActive(t *testing.T) {
	f := newFixture(t, nil)
	ids := f.create(t, "work", "other")
	ctx := context.Background()

	notes, unsubscribe := f.c.Notifications()
	defer unsubscribe()
	f.startPool(t)

	_, err := f.c.SubmitBackground(ctx, "work", "one", workqueue.High)
	require.NoError(t, err)
	_, err = f.c.SubmitBackground(ctx, "other", "two", workqueue.High)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-notes:
		case <-time.After(3 * time.Second):
			t.Fatal("no notification for background work")
		}
	}

	active, ok := f.c.Lookup(ids[0])
	require.True(t, ok)
	assert.Equal(t, session.StatusActive, active.Status())

	other, ok := f.c.Lookup(ids[1])
	require.True(t, ok)
	assert.Equal(t, session.StatusWaitingForInput, other.Status())
	assert.Equal(t, session.StatusActive, f.c.IdleStatus(ids[0]))
}
