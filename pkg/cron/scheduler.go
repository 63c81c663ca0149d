// Package cron runs named periodic jobs on robfig/cron schedules. A job that
// is still running when its next tick fires is skipped, not queued.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Parser accepts standard five field expressions and descriptors such as "@every 5m".
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is the work run on each tick
type Job func(ctx context.Context)

// Scheduler owns a cron runner and its named jobs
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	logger  zerolog.Logger
}

// NewScheduler creates a scheduler. A nil logger uses the global logger.
func NewScheduler(logger *zerolog.Logger) *Scheduler {
	base := log.Logger
	if logger != nil {
		base = *logger
	}
	base = base.With().Str("component", "cron").Logger()
	adapter := zerologAdapter{logger: base}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
		logger:  base,
	}
}

// Add registers job under name. Names are unique.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if job == nil {
		return fmt.Errorf("job %q has no function", name)
	}
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		job(s.ctx)
		s.logger.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("Job finished")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

// Remove unregisters a job; unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Next returns when the named job fires next
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins firing jobs
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.entries)).Msg("Scheduler started")
}

// Stop halts scheduling and waits for running jobs until ctx is done.
// Running jobs see their context cancelled only if ctx expires first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if !started {
		s.cancel()
		return nil
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// zerologAdapter satisfies cron.Logger
type zerologAdapter struct {
	logger zerolog.Logger
}

func (a zerologAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (a zerologAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
