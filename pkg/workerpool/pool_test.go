package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harun/weave/pkg/agent"
	"github.com/harun/weave/pkg/completion"
	"github.com/harun/weave/pkg/session"
	"github.com/harun/weave/pkg/sessionlock"
	"github.com/harun/weave/pkg/workqueue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	mu     sync.Mutex
	m      map[string]*session.Session
	active string
}

func (f *fakeSessions) IdleStatus(id string) session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.active {
		return session.StatusActive
	}
	return session.StatusWaitingForInput
}

func (f *fakeSessions) Lookup(id string) (*session.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.m[id]
	return s, ok
}

func (f *fakeSessions) add(t *testing.T, id string) *session.Session {
	t.Helper()
	s, err := session.New(session.Params{ID: id, Name: id, CreatedAt: time.Now()})
	require.NoError(t, err)
	f.mu.Lock()
	f.m[id] = s
	f.mu.Unlock()
	return s
}

type harness struct {
	pool     *Pool
	queue    *workqueue.Queue
	locks    *sessionlock.Manager
	sessions *fakeSessions
	client   *completion.Scripted
	events   chan Event
}

func newHarness(t *testing.T, client *completion.Scripted, workers, permits int) *harness {
	t.Helper()
	return newHarnessWithLease(t, client, workers, permits, 0)
}

func newHarnessWithLease(t *testing.T, client *completion.Scripted, workers, permits int, lease time.Duration) *harness {
	t.Helper()

	logger := zerolog.Nop()
	runner, err := agent.NewRunner(agent.Config{Client: client, Logger: &logger})
	require.NoError(t, err)

	h := &harness{
		queue:    workqueue.New(),
		locks:    sessionlock.New(sessionlock.Config{Lease: lease, Logger: &logger}),
		sessions: &fakeSessions{m: make(map[string]*session.Session)},
		client:   client,
		events:   make(chan Event, 64),
	}
	h.pool = New(Config{
		Queue:       h.queue,
		Locks:       h.locks,
		Sessions:    h.sessions,
		Runner:      runner,
		Workers:     workers,
		Permits:     permits,
		LockTimeout: 20 * time.Millisecond,
		Logger:      &logger,
	})
	for _, typ := range []EventType{EventStarted, EventCompleted, EventFailed, EventRequeued, EventDiscarded} {
		h.pool.On(typ, func(ev Event) { h.events <- ev })
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.pool.Start(ctx))
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = h.pool.Shutdown(shutdownCtx)
		cancel()
	})
	return h
}

func (h *harness) submit(t *testing.T, sessionID, payload string) workqueue.Item {
	t.Helper()
	item, err := h.queue.Enqueue(workqueue.Item{SessionID: sessionID, Payload: payload, Priority: workqueue.High})
	require.NoError(t, err)
	return item
}

// waitFor collects events until one of type typ arrives
func (h *harness) waitFor(t *testing.T, typ EventType) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
			return Event{}
		}
	}
}

func TestNew_ClampsPermits(t *testing.T) {
	pool := New(Config{Workers: 2, Permits: 5})
	assert.Equal(t, 2, pool.Stats().Permits)

	pool = New(Config{})
	assert.Equal(t, DefaultWorkers, pool.Stats().Workers)
	assert.Equal(t, DefaultPermits, pool.Stats().Permits)
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, completion.NewScripted(), 1, 1)
	assert.ErrorIs(t, h.pool.Start(context.Background()), ErrAlreadyStarted)
}

func TestPool_PermitsCapConcurrency(t *testing.T) {
	client := completion.NewScripted().WithDelay(60 * time.Millisecond)
	h := newHarness(t, client, 4, 2)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		h.sessions.add(t, id)
		h.submit(t, id, "hello")
	}
	for i := 0; i < 5; i++ {
		h.waitFor(t, EventCompleted)
	}

	assert.LessOrEqual(t, client.HighWater(), 2)
	assert.LessOrEqual(t, h.pool.Stats().HighWater, 2)
	assert.Equal(t, int64(5), h.pool.Stats().Processed)
	assert.Equal(t, 0, h.pool.Stats().InFlight)
}

func TestPool_CommitsOutput(t *testing.T) {
	h := newHarness(t, completion.NewScripted(completion.Text("hi back")), 1, 1)
	sess := h.sessions.add(t, "work")

	item := h.submit(t, "work", "hello")
	ev := h.waitFor(t, EventCompleted)
	assert.Equal(t, item.ID, ev.ItemID)

	entries := sess.Output().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "hi back", entries[0].Text)
	assert.Len(t, sess.Conversation(), 2)
	assert.Equal(t, session.StatusWaitingForInput, sess.Status())
}

func TestPool_CommitKeepsActiveSessionActive(t *testing.T) {
	h := newHarness(t, completion.NewScripted(completion.Text("one"), completion.Text("two")), 1, 1)
	active := h.sessions.add(t, "front")
	other := h.sessions.add(t, "back")
	h.sessions.mu.Lock()
	h.sessions.active = "front"
	h.sessions.mu.Unlock()
	require.NoError(t, active.SetStatus(session.StatusActive))

	h.submit(t, "front", "hello")
	h.waitFor(t, EventCompleted)
	assert.Equal(t, session.StatusActive, active.Status())

	h.submit(t, "back", "hello")
	h.waitFor(t, EventCompleted)
	assert.Equal(t, session.StatusWaitingForInput, other.Status())
}

func TestPool_AcquirePermitSharesBudget(t *testing.T) {
	client := completion.NewScripted().WithDelay(80 * time.Millisecond)
	h := newHarness(t, client, 2, 1)
	h.sessions.add(t, "work")

	release, err := h.pool.AcquirePermit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.pool.Stats().InFlight)

	h.submit(t, "work", "hello")
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, client.Requests(), "worker must wait for the held permit")
	assert.Equal(t, 1, h.pool.Stats().InFlight)

	release()
	release()
	h.waitFor(t, EventCompleted)
	assert.Equal(t, 1, h.pool.Stats().HighWater)
	assert.Equal(t, 0, h.pool.Stats().InFlight)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	release, err = h.pool.AcquirePermit(context.Background())
	require.NoError(t, err)
	_, err = h.pool.AcquirePermit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	release()
}

func TestPool_RenewsLockDuringLongCall(t *testing.T) {
	client := completion.NewScripted(completion.Reply{
		Chunks: []completion.Chunk{{Kind: completion.ChunkText, Text: "slow"}},
		Delay:  150 * time.Millisecond,
	})
	h := newHarnessWithLease(t, client, 1, 1, 40*time.Millisecond)
	h.sessions.add(t, "work")

	h.submit(t, "work", "hello")
	h.waitFor(t, EventStarted)

	// several leases into the call, nobody may take the session over
	time.Sleep(100 * time.Millisecond)
	_, err := h.locks.Acquire(context.Background(), "work", 0)
	assert.ErrorIs(t, err, sessionlock.ErrLockTimeout)

	h.waitFor(t, EventCompleted)
	assert.Eventually(t, func() bool { return !h.locks.Held("work") }, time.Second, 5*time.Millisecond)
}

func TestPool_RequeuesWhenLocked(t *testing.T) {
	h := newHarness(t, completion.NewScripted(completion.Text("done")), 1, 1)
	h.sessions.add(t, "busy")

	guard, err := h.locks.Acquire(context.Background(), "busy", time.Second)
	require.NoError(t, err)

	item := h.submit(t, "busy", "hello")
	ev := h.waitFor(t, EventRequeued)
	assert.Equal(t, item.ID, ev.ItemID)
	assert.GreaterOrEqual(t, ev.Attempts, 1)
	assert.ErrorIs(t, ev.Err, sessionlock.ErrLockTimeout)

	guard.Release()
	ev = h.waitFor(t, EventCompleted)
	assert.Equal(t, item.ID, ev.ItemID)
}

func TestPool_RemoteErrorBecomesErrorEntry(t *testing.T) {
	client := completion.NewScripted(
		completion.Reply{SendErr: errors.New("rate limited")},
		completion.Text("recovered"),
	)
	h := newHarness(t, client, 1, 1)
	sess := h.sessions.add(t, "work")

	h.submit(t, "work", "first")
	ev := h.waitFor(t, EventFailed)
	require.Error(t, ev.Err)

	entries := sess.Output().Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, session.EntryError, entries[len(entries)-1].Kind)
	assert.Contains(t, entries[len(entries)-1].Text, "rate limited")

	// the worker survives and is not retrying the failed item
	h.submit(t, "work", "second")
	h.waitFor(t, EventCompleted)
	assert.Len(t, client.Requests(), 2)
}

func TestPool_ContainsPanics(t *testing.T) {
	client := completion.NewScripted(completion.Reply{Panic: "boom"}, completion.Text("fine"))
	h := newHarness(t, client, 1, 1)
	sess := h.sessions.add(t, "work")

	h.submit(t, "work", "explode")
	ev := h.waitFor(t, EventFailed)
	assert.Contains(t, ev.Err.Error(), "panicked")
	assert.Equal(t, session.EntryError, sess.Output().Entries()[0].Kind)

	h.submit(t, "work", "again")
	h.waitFor(t, EventCompleted)
}

func TestPool_DiscardsWhenClosedDuringCall(t *testing.T) {
	client := completion.NewScripted(completion.Reply{
		Chunks: []completion.Chunk{{Kind: completion.ChunkText, Text: "late"}},
		Delay:  100 * time.Millisecond,
	})
	h := newHarness(t, client, 1, 1)
	sess := h.sessions.add(t, "work")

	h.submit(t, "work", "hello")
	h.waitFor(t, EventStarted)
	require.True(t, sess.Complete())

	ev := h.waitFor(t, EventDiscarded)
	assert.Equal(t, "session closed during call", ev.Reason)
	assert.Equal(t, 0, sess.Output().Len())
	assert.Empty(t, sess.Conversation())
}

func TestPool_DiscardsUnknownSession(t *testing.T) {
	h := newHarness(t, completion.NewScripted(), 1, 1)

	h.submit(t, "ghost", "hello")
	ev := h.waitFor(t, EventDiscarded)
	assert.Equal(t, "ghost", ev.SessionID)
	assert.Empty(t, h.client.Requests())
}

func TestPool_ShutdownDrainsQueue(t *testing.T) {
	client := completion.NewScripted()
	h := newHarness(t, client, 2, 1)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("s%d", i)
		h.sessions.add(t, id)
		h.submit(t, id, "hi")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.pool.Shutdown(ctx))

	assert.Equal(t, 0, h.queue.Len())
	assert.Len(t, client.Requests(), 3)

	_, err := h.queue.Enqueue(workqueue.Item{SessionID: "s0"})
	assert.ErrorIs(t, err, workqueue.ErrClosed)
}
