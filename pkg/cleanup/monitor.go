// Package cleanup periodically evicts idle sessions from memory and
// reclaims abandoned session locks.
package cleanup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/harun/weave/internal/observability"
	"github.com/harun/weave/pkg/cron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultIdleTimeout = time.Hour
	DefaultSchedule    = "@every 5m"

	jobName = "session-sweep"
)

// EvictFunc evicts sessions idle since before now-idleTimeout and reports
// how many went and roughly how many bytes that freed.
type EvictFunc func(ctx context.Context, now time.Time, idleTimeout time.Duration) (evicted int, bytesFreed int64)

// LockReclaimer reclaims locks whose lease has run out
type LockReclaimer interface {
	ReclaimStale(now time.Time) int
}

// Result summarizes one sweep
type Result struct {
	SessionsEvicted    int
	LocksReclaimed     int
	BytesFreedEstimate int64
	Duration           time.Duration
}

// Config configures a Monitor
type Config struct {
	Evict       EvictFunc
	Locks       LockReclaimer
	IdleTimeout time.Duration
	Schedule    string
	Scheduler   *cron.Scheduler // optional; a private one is created when nil
	Logger      *zerolog.Logger
}

// Monitor runs sweeps on a schedule
type Monitor struct {
	evict       EvictFunc
	locks       LockReclaimer
	idleTimeout time.Duration
	schedule    string
	scheduler   *cron.Scheduler
	ownsSched   bool
	logger      zerolog.Logger

	running atomic.Bool
	sweeps  atomic.Int64
	last    atomic.Pointer[Result]
}

// New creates a monitor
func New(cfg Config) (*Monitor, error) {
	observability.EnsureRegistered()

	if cfg.Evict == nil {
		return nil, fmt.Errorf("evict function is required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.Parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule: %w", err)
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	m := &Monitor{
		evict:       cfg.Evict,
		locks:       cfg.Locks,
		idleTimeout: cfg.IdleTimeout,
		schedule:    cfg.Schedule,
		scheduler:   cfg.Scheduler,
		logger:      logger.With().Str("component", "cleanup").Logger(),
	}
	if m.scheduler == nil {
		m.scheduler = cron.NewScheduler(cfg.Logger)
		m.ownsSched = true
	}
	return m, nil
}

// Start registers the sweep job. A private scheduler is started here; a
// shared one is started by its owner.
func (m *Monitor) Start() error {
	err := m.scheduler.Add(jobName, m.schedule, func(ctx context.Context) {
		m.Sweep(ctx, time.Now())
	})
	if err != nil {
		return err
	}
	if m.ownsSched {
		m.scheduler.Start()
	}

	m.logger.Info().
		Str("schedule", m.schedule).
		Dur("idleTimeout", m.idleTimeout).
		Msg("Cleanup monitor started")
	return nil
}

// Stop unregisters the sweep job
func (m *Monitor) Stop(ctx context.Context) error {
	m.scheduler.Remove(jobName)
	if m.ownsSched {
		return m.scheduler.Stop(ctx)
	}
	return nil
}

// Sweep evicts idle sessions and reclaims stale locks. It returns false
// without doing anything when another sweep is still in progress.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) (Result, bool) {
	if !m.running.CompareAndSwap(false, true) {
		observability.RecordSweepSkipped()
		m.logger.Debug().Msg("Sweep already in progress, skipping")
		return Result{}, false
	}
	defer m.running.Store(false)

	start := time.Now()
	var res Result

	// locks first so sessions wedged by a dead holder become evictable
	if m.locks != nil {
		res.LocksReclaimed = m.locks.ReclaimStale(now)
	}
	res.SessionsEvicted, res.BytesFreedEstimate = m.evict(ctx, now, m.idleTimeout)
	res.Duration = time.Since(start)

	m.sweeps.Add(1)
	m.last.Store(&res)
	observability.RecordSweep(res.Duration, res.SessionsEvicted, res.LocksReclaimed, res.BytesFreedEstimate)

	event := m.logger.Debug()
	if res.SessionsEvicted > 0 || res.LocksReclaimed > 0 {
		event = m.logger.Info()
	}
	event.
		Int("evicted", res.SessionsEvicted).
		Int("locksReclaimed", res.LocksReclaimed).
		Int64("bytesFreed", res.BytesFreedEstimate).
		Dur("duration", res.Duration).
		Msg("Sweep finished")

	return res, true
}

// Stats reports the number of completed sweeps and the last result
func (m *Monitor) Stats() (int64, *Result) {
	return m.sweeps.Load(), m.last.Load()
}

// IdleTimeout returns the configured idle timeout
func (m *Monitor) IdleTimeout() time.Duration {
	return m.idleTimeout
}
