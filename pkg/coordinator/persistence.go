package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/weave/internal/observability"
	"github.com/harun/weave/internal/tracing"
	"github.com/harun/weave/pkg/session"
	"github.com/harun/weave/pkg/snapshot"
	"go.opentelemetry.io/otel/attribute"
)

// persist writes the snapshot and any new turns of sess. Failures are logged
// and the in-memory session stays usable. Saves of one session are
// serialized and the snapshot is taken under that lock, so the last writer
// always carries the newest state.
func (c *Coordinator) persist(ctx context.Context, sess *session.Session) error {
	lock := c.saveLock(sess.ID())
	lock.Lock()
	err := c.store.Save(ctx, snapshot.FromSession(sess))
	lock.Unlock()

	logger := tracing.LoggerFromContext(ctx, c.logger)
	switch {
	case errors.Is(err, snapshot.ErrCompleted):
		logger.Debug().Str("session_id", sess.ID()).Msg("Skipped save of a closed session")
		return err
	case err != nil:
		logger.Warn().
			Err(err).
			Str("session_id", sess.ID()).
			Msg("Failed to persist session snapshot")
	}
	if terr := c.flushTranscript(ctx, sess); terr != nil {
		err = errors.Join(err, terr)
	}
	return err
}

// flushTranscript appends turns not yet written for sess
func (c *Coordinator) flushTranscript(ctx context.Context, sess *session.Session) error {
	if c.transcripts == nil {
		return nil
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	turns := sess.Conversation()
	written := c.persisted[sess.ID()]
	if len(turns) <= written {
		return nil
	}
	if err := c.transcripts.Append(ctx, sess.ID(), turns[written:]...); err != nil {
		logger := tracing.LoggerFromContext(ctx, c.logger)
		logger.Warn().
			Err(err).
			Str("session_id", sess.ID()).
			Msg("Failed to append transcript")
		return err
	}
	c.persisted[sess.ID()] = len(turns)
	return nil
}

func (c *Coordinator) saveLock(id string) *sync.Mutex {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	lock, ok := c.saveLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		c.saveLocks[id] = lock
	}
	return lock
}

// forget drops bookkeeping for a session leaving memory
func (c *Coordinator) forget(id string) {
	c.flushMu.Lock()
	delete(c.persisted, id)
	delete(c.saveLocks, id)
	c.flushMu.Unlock()

	if c.transcripts != nil {
		c.transcripts.Forget(id)
	}
}

// SaveAll persists every live session and returns how many were saved.
func (c *Coordinator) SaveAll(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "coordinator.save_all")
	defer span.End()

	c.mu.Lock()
	live := make([]*session.Session, 0, len(c.order))
	for _, id := range c.order {
		live = append(live, c.sessions[id])
	}
	c.mu.Unlock()

	var errs []error
	saved := 0
	for _, sess := range live {
		// closed since the list was taken; close wrote the final snapshot
		if sess.Completed() {
			continue
		}
		if err := c.persist(ctx, sess); err != nil {
			if errors.Is(err, snapshot.ErrCompleted) {
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", sess.ID(), err))
			continue
		}
		saved++
	}

	span.SetAttributes(attribute.Int("saved", saved))
	if len(errs) > 0 {
		return saved, errors.Join(errs...)
	}
	return saved, nil
}

// Restore loads every non-completed snapshot into memory in creation order
// and activates the most recently used one if nothing is active.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "coordinator.restore")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	snaps, err := c.store.Restorable(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshots: %w", err)
	}

	restored := 0
	for _, snap := range snaps {
		sess, err := c.load(ctx, snap)
		if err != nil {
			logger.Warn().Err(err).Str("session_id", snap.ID).Msg("Skipping unrestorable session")
			continue
		}

		c.mu.Lock()
		if _, exists := c.sessions[sess.ID()]; exists || c.nameTakenLocked(sess.Name(), sess.ID()) {
			c.mu.Unlock()
			logger.Warn().Str("session_id", sess.ID()).Str("name", sess.Name()).Msg("Session already live, skipping restore")
			continue
		}
		c.insertLocked(sess)
		c.mu.Unlock()
		restored++
	}

	c.mu.Lock()
	if c.activeID == "" && len(c.order) > 0 {
		latest := c.order[0]
		for _, id := range c.order[1:] {
			if c.sessions[id].LastActive().After(c.sessions[latest].LastActive()) {
				latest = id
			}
		}
		c.activateLocked(latest)
	}
	live := len(c.sessions)
	c.mu.Unlock()

	observability.SetLiveSessions(live)
	span.SetAttributes(attribute.Int("restored", restored))
	logger.Info().Int("restored", restored).Int("skipped", len(snaps)-restored).Msg("Sessions restored")
	return restored, nil
}

// load rebuilds a session from its snapshot and transcript
func (c *Coordinator) load(ctx context.Context, snap snapshot.Snapshot) (*session.Session, error) {
	var turns []session.Turn
	if c.transcripts != nil {
		var err error
		if turns, err = c.transcripts.Load(ctx, snap.ID); err != nil {
			return nil, err
		}
	}

	// a crash mid-turn leaves Processing behind
	if snap.Status == session.StatusProcessing || snap.Status == session.StatusActive {
		snap.Status = session.StatusWaitingForInput
	}
	sess, err := snap.Materialize(turns, c.outputLimit)
	if err != nil {
		return nil, err
	}

	c.flushMu.Lock()
	c.persisted[snap.ID] = len(turns)
	c.flushMu.Unlock()
	return sess, nil
}

// materialize brings a stored, non-completed session matching selector (id
// or name) back into memory and returns its id.
func (c *Coordinator) materialize(ctx context.Context, selector string) (string, error) {
	snap, err := c.store.Load(selector)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) && !errors.Is(err, snapshot.ErrInvalidID) {
			logger := tracing.LoggerFromContext(ctx, c.logger)
			logger.Warn().Err(err).Str("selector", selector).Msg("Failed to read snapshot")
		}
		snap, err = c.findByName(ctx, selector)
		if err != nil {
			return "", err
		}
	}
	if snap.Completed() {
		return "", fmt.Errorf("%w: %s is closed", ErrNotFound, selector)
	}

	sess, err := c.load(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotFound, selector, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sessions[sess.ID()]; exists {
		return sess.ID(), nil
	}
	if c.nameTakenLocked(sess.Name(), sess.ID()) {
		return "", fmt.Errorf("%w: name %q is used by a live session", ErrNotFound, sess.Name())
	}
	c.insertLocked(sess)
	observability.SetLiveSessions(len(c.sessions))

	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Info().
		Str("session_id", sess.ID()).
		Str("name", sess.Name()).
		Msg("Session materialized from store")
	return sess.ID(), nil
}

func (c *Coordinator) findByName(ctx context.Context, name string) (snapshot.Snapshot, error) {
	snaps, err := c.store.Restorable(ctx)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	// newest wins when a name was reused
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].Name == name {
			return snaps[i], nil
		}
	}
	return snapshot.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// EvictIdle removes background-idle sessions whose last activity is older
// than idleTimeout and that have no pending work, persisting them first.
func (c *Coordinator) EvictIdle(ctx context.Context, now time.Time, idleTimeout time.Duration) EvictionResult {
	ctx, span := tracing.StartSpan(ctx, tracerName, "coordinator.evict_idle")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	c.mu.Lock()
	var candidates []*session.Session
	for _, id := range c.order {
		if c.evictableLocked(id, now, idleTimeout) {
			candidates = append(candidates, c.sessions[id])
		}
	}
	c.mu.Unlock()

	var res EvictionResult
	for _, sess := range candidates {
		if !sess.Completed() {
			if err := c.persist(ctx, sess); err != nil {
				// keep it in memory rather than lose state
				continue
			}
		}

		c.mu.Lock()
		if c.sessions[sess.ID()] != sess || !c.evictableLocked(sess.ID(), now, idleTimeout) {
			c.mu.Unlock()
			continue
		}
		c.removeLocked(sess.ID())
		live := len(c.sessions)
		c.mu.Unlock()

		c.forget(sess.ID())
		observability.SetLiveSessions(live)
		res.Evicted = append(res.Evicted, sess.ID())
		res.BytesFreed += int64(sess.EstimateBytes())

		logger.Info().
			Str("session_id", sess.ID()).
			Str("name", sess.Name()).
			Dur("idle", now.Sub(sess.LastActive())).
			Msg("Evicted idle session")
		c.audit.RecordSession(ctx, "evict", sess.ID(), nil, map[string]interface{}{"name": sess.Name()})
	}

	span.SetAttributes(attribute.Int("evicted", len(res.Evicted)))
	return res
}

func (c *Coordinator) evictableLocked(id string, now time.Time, idleTimeout time.Duration) bool {
	sess, ok := c.sessions[id]
	if !ok || id == c.activeID || c.pending[id] > 0 {
		return false
	}
	if now.Sub(sess.LastActive()) < idleTimeout {
		return false
	}
	return !c.locks.Held(id)
}
