package sessionlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/weave/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLease is how long a lock stays live without renewal.
const DefaultLease = 10 * time.Minute

// ErrLockTimeout is returned when a lock could not be obtained in time.
// It is transient; callers may retry.
var ErrLockTimeout = errors.New("session lock timeout")

// Config configures a Manager
type Config struct {
	Lease  time.Duration
	Logger *zerolog.Logger
}

type lease struct {
	sessionID  string
	token      string
	acquiredAt time.Time
	ttl        time.Duration
	released   chan struct{}
	closeOnce  sync.Once
}

func (l *lease) expiresAt() time.Time {
	return l.acquiredAt.Add(l.ttl)
}

func (l *lease) expired(now time.Time) bool {
	return !now.Before(l.expiresAt())
}

func (l *lease) close() {
	l.closeOnce.Do(func() { close(l.released) })
}

// Manager hands out per-session locks
type Manager struct {
	mu     sync.Mutex
	locks  map[string]*lease
	lease  time.Duration
	logger zerolog.Logger
}

// New creates a lock manager
func New(cfg Config) *Manager {
	observability.EnsureRegistered()

	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Manager{
		locks:  make(map[string]*lease),
		lease:  cfg.Lease,
		logger: logger.With().Str("component", "sessionlock").Logger(),
	}
}

// Acquire blocks until the session lock is obtained, the timeout elapses or ctx
// is done. A non-positive timeout makes a single attempt.
func (m *Manager) Acquire(ctx context.Context, sessionID string, timeout time.Duration) (*Guard, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	start := time.Now()
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		m.mu.Lock()
		now := time.Now()
		current := m.locks[sessionID]
		if current != nil && current.expired(now) {
			m.reclaimLocked(current, now, "acquire")
			current = nil
		}

		if current == nil {
			l := &lease{
				sessionID:  sessionID,
				token:      uuid.New().String(),
				acquiredAt: now,
				ttl:        m.lease,
				released:   make(chan struct{}),
			}
			m.locks[sessionID] = l
			m.mu.Unlock()

			observability.RecordLockAcquire(time.Since(start), "acquired")
			return &Guard{manager: m, lease: l}, nil
		}

		released := current.released
		untilExpiry := current.expiresAt().Sub(now)
		m.mu.Unlock()

		if deadline == nil {
			observability.RecordLockAcquire(time.Since(start), "timeout")
			return nil, fmt.Errorf("%w: %s is held", ErrLockTimeout, sessionID)
		}

		expiry := time.NewTimer(untilExpiry)
		select {
		case <-released:
		case <-expiry.C:
		case <-deadline:
			expiry.Stop()
			observability.RecordLockAcquire(time.Since(start), "timeout")
			return nil, fmt.Errorf("%w: %s not released within %s", ErrLockTimeout, sessionID, timeout)
		case <-ctx.Done():
			expiry.Stop()
			observability.RecordLockAcquire(time.Since(start), "cancelled")
			return nil, ctx.Err()
		}
		expiry.Stop()
	}
}

// reclaimLocked forcibly removes an abandoned lease. m.mu must be held.
func (m *Manager) reclaimLocked(l *lease, now time.Time, reason string) {
	delete(m.locks, l.sessionID)
	l.close()

	m.logger.Warn().
		Str("session_id", l.sessionID).
		Str("holder", l.token).
		Time("acquired_at", l.acquiredAt).
		Dur("held_for", now.Sub(l.acquiredAt)).
		Str("reason", reason).
		Msg("Reclaimed abandoned session lock")
	observability.RecordLockReclaimed(reason)
}

func (m *Manager) release(l *lease) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[l.sessionID] != l {
		return false
	}
	delete(m.locks, l.sessionID)
	l.close()
	return true
}

func (m *Manager) renew(l *lease) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[l.sessionID] != l {
		return false
	}
	l.acquiredAt = time.Now()
	return true
}

// Drop removes the lock of a session regardless of holder. The previous
// holder's guard becomes a no-op.
func (m *Manager) Drop(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[sessionID]
	if !ok {
		return false
	}
	delete(m.locks, sessionID)
	l.close()

	m.logger.Debug().Str("session_id", sessionID).Str("holder", l.token).Msg("Session lock dropped")
	return true
}

// ReclaimStale reclaims every lock whose lease elapsed before now and returns
// how many were reclaimed.
func (m *Manager) ReclaimStale(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	reclaimed := 0
	for _, l := range m.locks {
		if l.expired(now) {
			m.reclaimLocked(l, now, "sweep")
			reclaimed++
		}
	}
	return reclaimed
}

// Held reports whether sessionID currently has a live lock
func (m *Manager) Held(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[sessionID]
	return ok && !l.expired(time.Now())
}

// Count returns the number of locks currently tracked, live or abandoned
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Guard is the proof of holding a session lock
type Guard struct {
	manager *Manager
	lease   *lease
	once    sync.Once
}

// SessionID returns the locked session id
func (g *Guard) SessionID() string {
	return g.lease.sessionID
}

// Token returns the holder token
func (g *Guard) Token() string {
	return g.lease.token
}

// Renew extends the lease. It returns false if the lock was reclaimed or dropped.
func (g *Guard) Renew() bool {
	return g.manager.renew(g.lease)
}

// KeepAlive renews the lease every third of its length until stop is called
// or the lock is lost, so a holder busy longer than one lease is not reclaimed.
func (g *Guard) KeepAlive() (stop func()) {
	interval := g.lease.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-g.lease.released:
				return
			case <-ticker.C:
				if !g.Renew() {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Release gives the lock back. Safe to call more than once.
func (g *Guard) Release() {
	g.once.Do(func() {
		if !g.manager.release(g.lease) {
			g.manager.logger.Debug().
				Str("session_id", g.lease.sessionID).
				Str("holder", g.lease.token).
				Msg("Released lock was no longer held")
		}
	})
}
