package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/weave/internal/observability"
	"github.com/harun/weave/internal/tracing"
	"github.com/harun/weave/pkg/agent"
	"github.com/harun/weave/pkg/session"
	"github.com/harun/weave/pkg/sessionlock"
	"github.com/harun/weave/pkg/workqueue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultWorkers     = 4
	DefaultPermits     = 3
	DefaultLockTimeout = 250 * time.Millisecond
)

// ErrAlreadyStarted is returned by Start on a running pool.
var ErrAlreadyStarted = errors.New("worker pool already started")

// Sessions resolves the live session an item targets. IdleStatus is the
// status a session returns to once a turn is committed.
type Sessions interface {
	Lookup(id string) (*session.Session, bool)
	IdleStatus(id string) session.Status
}

// TurnRunner executes one turn for a session. agent.Runner implements it.
type TurnRunner interface {
	Run(ctx context.Context, history []session.Turn, prompt string, emit agent.EmitFunc) (agent.Result, error)
}

// Config configures a Pool
type Config struct {
	Queue       *workqueue.Queue
	Locks       *sessionlock.Manager
	Sessions    Sessions
	Runner      TurnRunner
	Workers     int
	Permits     int
	LockTimeout time.Duration
	Logger      *zerolog.Logger
}

// Pool runs background items
type Pool struct {
	queue       *workqueue.Queue
	locks       *sessionlock.Manager
	sessions    Sessions
	runner      TurnRunner
	workers     int
	permits     int
	lockTimeout time.Duration
	sem         *semaphore.Weighted
	logger      zerolog.Logger

	inUse     atomic.Int32
	highWater atomic.Int32
	processed atomic.Int64

	mu      sync.Mutex
	group   *errgroup.Group
	cancel  context.CancelFunc
	started bool

	eventHandlers map[EventType][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a pool. Workers and Permits fall back to their defaults and
// Permits is clamped to Workers.
func New(cfg Config) *Pool {
	observability.EnsureRegistered()

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Permits <= 0 {
		cfg.Permits = DefaultPermits
	}
	if cfg.Permits > cfg.Workers {
		cfg.Permits = cfg.Workers
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Pool{
		queue:         cfg.Queue,
		locks:         cfg.Locks,
		sessions:      cfg.Sessions,
		runner:        cfg.Runner,
		workers:       cfg.Workers,
		permits:       cfg.Permits,
		lockTimeout:   cfg.LockTimeout,
		sem:           semaphore.NewWeighted(int64(cfg.Permits)),
		logger:        logger.With().Str("component", "workerpool").Logger(),
		eventHandlers: make(map[EventType][]EventHandler),
	}
}

// Start launches the workers. They stop when the queue is closed and
// drained, or when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.queue == nil || p.locks == nil || p.sessions == nil || p.runner == nil {
		return fmt.Errorf("worker pool requires queue, locks, sessions and runner")
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		group.Go(func() error {
			return p.work(gctx, worker)
		})
	}

	p.group = group
	p.cancel = cancel
	p.started = true

	p.logger.Info().
		Int("workers", p.workers).
		Int("permits", p.permits).
		Msg("Worker pool started")
	return nil
}

// Shutdown closes the queue and waits for workers to drain it. If ctx ends
// first, in-flight calls are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	group, cancel, started := p.group, p.cancel, p.started
	p.mu.Unlock()

	p.queue.Close()
	if !started {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		cancel()
		p.logger.Info().Int64("processed", p.processed.Load()).Msg("Worker pool stopped")
		return err
	case <-ctx.Done():
		cancel()
		err := <-done
		p.logger.Warn().Msg("Worker pool shutdown timed out, in-flight calls cancelled")
		if err != nil {
			return err
		}
		return ctx.Err()
	}
}

// work is one worker's loop
func (p *Pool) work(ctx context.Context, worker int) error {
	logger := p.logger.With().Int("worker", worker).Logger()

	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, workqueue.ErrClosed) || ctx.Err() != nil {
				logger.Debug().Msg("Worker exiting")
				return nil
			}
			return err
		}
		p.process(ctx, item, logger)
	}
}

// process walks one item through the lock, permit, call and commit stages.
func (p *Pool) process(ctx context.Context, item workqueue.Item, base zerolog.Logger) {
	ctx = tracing.ForBackgroundItem(ctx, item.TraceID, item.SessionID, item.ID)
	ctx, span := tracing.StartSpan(ctx, "weave.workerpool", "workerpool.process",
		attribute.String("session_id", item.SessionID),
		attribute.String("item_id", item.ID),
		attribute.String("priority", item.Priority.String()),
		attribute.Int("attempts", item.Attempts),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, base)

	sess, ok := p.sessions.Lookup(item.SessionID)
	if !ok || sess.Completed() {
		p.discard(item, "session closed before processing", logger)
		return
	}

	// stage: lock
	guard, err := p.locks.Acquire(ctx, item.SessionID, p.lockTimeout)
	if err != nil {
		if ctx.Err() != nil {
			p.discard(item, "shutdown", logger)
			return
		}
		p.requeue(item, err, logger)
		return
	}
	defer guard.Release()
	stopRenew := guard.KeepAlive()
	defer stopRenew()

	// stage: permit
	if err := p.takePermit(ctx); err != nil {
		p.discard(item, "shutdown", logger)
		return
	}

	p.emit(Event{Type: EventStarted, ItemID: item.ID, SessionID: item.SessionID, Attempts: item.Attempts})
	_ = sess.SetStatus(session.StatusProcessing)

	// stage: call
	res, callErr := p.call(ctx, sess, item)

	// stage: commit + notify
	outcome := p.commit(sess, item, res, callErr, logger)
	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
	}
	observability.RecordItemOutcome(string(outcome.Type))
	p.emit(outcome)

	// stage: release permit; the lock is released by the deferred guard
	p.returnPermit()
	p.processed.Add(1)
}

// AcquirePermit takes one permit of the pool's completion budget for a call
// made outside the workers, such as a foreground turn. release is safe to
// call more than once.
func (p *Pool) AcquirePermit(ctx context.Context) (release func(), err error) {
	if err := p.takePermit(ctx); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(p.returnPermit) }, nil
}

func (p *Pool) takePermit(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := p.inUse.Add(1)
	p.markHighWater(n)
	observability.SetPermitsInUse(int(n))
	return nil
}

func (p *Pool) returnPermit() {
	observability.SetPermitsInUse(int(p.inUse.Add(-1)))
	p.sem.Release(1)
}

// call runs the turn with panics contained to this item
func (p *Pool) call(ctx context.Context, sess *session.Session, item workqueue.Item) (agent.Result, error) {
	var (
		res agent.Result
		err error
	)

	var catcher panics.Catcher
	catcher.Try(func() {
		res, err = p.runner.Run(ctx, sess.Conversation(), item.Payload, nil)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		err = fmt.Errorf("completion call panicked: %w", recovered.AsError())
		res = agent.Result{
			Turns:  []session.Turn{{Role: session.RoleUser, Content: item.Payload, Timestamp: time.Now()}},
			Output: []agent.Output{{Kind: session.EntryError, Text: agent.ErrorMarker(err)}},
			Failed: true,
		}
	}
	return res, err
}

// commit appends the result to the session unless it was closed meanwhile,
// and returns the event describing what happened. The closed check and the
// append are one step, so a close racing the commit either sees the whole
// result or none of it.
func (p *Pool) commit(sess *session.Session, item workqueue.Item, res agent.Result, callErr error, logger zerolog.Logger) Event {
	event := Event{ItemID: item.ID, SessionID: item.SessionID, Attempts: item.Attempts, Duration: res.Duration}

	live, ok := p.sessions.Lookup(item.SessionID)
	if !ok || live != sess || !res.Apply(sess) {
		logger.Info().Msg("Session closed during call, discarding result")
		event.Type = EventDiscarded
		event.Reason = "session closed during call"
		return event
	}

	_ = sess.SetStatus(p.sessions.IdleStatus(item.SessionID))
	sess.Touch(time.Now())

	if callErr != nil {
		logger.Warn().Err(callErr).Msg("Background item failed")
		event.Type = EventFailed
		event.Err = callErr
		return event
	}

	logger.Debug().Dur("duration", res.Duration).Msg("Background item completed")
	event.Type = EventCompleted
	return event
}

func (p *Pool) requeue(item workqueue.Item, cause error, logger zerolog.Logger) {
	item.Attempts++
	if err := p.queue.Requeue(item); err != nil {
		p.discard(item, "queue closed", logger)
		return
	}

	logger.Debug().Err(cause).Int("attempts", item.Attempts).Msg("Session busy, item requeued")
	p.emit(Event{
		Type:      EventRequeued,
		ItemID:    item.ID,
		SessionID: item.SessionID,
		Attempts:  item.Attempts,
		Err:       cause,
	})
}

func (p *Pool) discard(item workqueue.Item, reason string, logger zerolog.Logger) {
	logger.Info().Str("reason", reason).Msg("Background item discarded")
	observability.RecordItemOutcome(string(EventDiscarded))
	p.emit(Event{
		Type:      EventDiscarded,
		ItemID:    item.ID,
		SessionID: item.SessionID,
		Attempts:  item.Attempts,
		Reason:    reason,
	})
}

func (p *Pool) markHighWater(n int32) {
	for {
		hw := p.highWater.Load()
		if n <= hw {
			return
		}
		if p.highWater.CompareAndSwap(hw, n) {
			observability.SetInFlightHighWater(int(n))
			return
		}
	}
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Workers   int
	Permits   int
	InFlight  int
	HighWater int
	Processed int64
}

// Stats returns current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Permits:   p.permits,
		InFlight:  int(p.inUse.Load()),
		HighWater: int(p.highWater.Load()),
		Processed: p.processed.Load(),
	}
}
