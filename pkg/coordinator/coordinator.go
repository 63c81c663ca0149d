package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harun/weave/internal/observability"
	"github.com/harun/weave/internal/tracing"
	"github.com/harun/weave/pkg/agent"
	"github.com/harun/weave/pkg/session"
	"github.com/harun/weave/pkg/sessionlock"
	"github.com/harun/weave/pkg/snapshot"
	"github.com/harun/weave/pkg/workerpool"
	"github.com/harun/weave/pkg/workqueue"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "weave.coordinator"

	DefaultForegroundLockTimeout = 5 * time.Second
	notificationBuffer           = 256
)

// TurnRunner runs one conversational turn. agent.Runner implements it.
type TurnRunner interface {
	Run(ctx context.Context, history []session.Turn, prompt string, emit agent.EmitFunc) (agent.Result, error)
}

// DefaultFactory names the session created when the last one closes
type DefaultFactory func() (name string, kind session.Kind)

// Config configures a Coordinator
type Config struct {
	Store                 *snapshot.Store
	Transcripts           *snapshot.Transcript
	Locks                 *sessionlock.Manager
	Queue                 *workqueue.Queue
	Runner                TurnRunner
	DefaultFactory        DefaultFactory
	ForegroundLockTimeout time.Duration
	OutputLimit           int
	Audit                 *observability.AuditLogger
	Clock                 func() time.Time
	Logger                *zerolog.Logger
}

// Coordinator is the single owner of session state
type Coordinator struct {
	store       *snapshot.Store
	transcripts *snapshot.Transcript
	locks       *sessionlock.Manager
	queue       *workqueue.Queue
	runner      TurnRunner
	factory     DefaultFactory
	fgTimeout   time.Duration
	outputLimit int
	audit       *observability.AuditLogger
	now         func() time.Time
	logger      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	order    []string
	activeID string
	pending  map[string]int
	pool     *workerpool.Pool

	flushMu   sync.Mutex
	persisted map[string]int
	saveLocks map[string]*sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]chan string
	nextSub int
}

// New creates a coordinator. Store, Locks and Queue are required.
func New(cfg Config) (*Coordinator, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if cfg.Locks == nil {
		return nil, fmt.Errorf("lock manager is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("work queue is required")
	}
	if cfg.ForegroundLockTimeout <= 0 {
		cfg.ForegroundLockTimeout = DefaultForegroundLockTimeout
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = session.DefaultOutputLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Coordinator{
		store:       cfg.Store,
		transcripts: cfg.Transcripts,
		locks:       cfg.Locks,
		queue:       cfg.Queue,
		runner:      cfg.Runner,
		factory:     cfg.DefaultFactory,
		fgTimeout:   cfg.ForegroundLockTimeout,
		outputLimit: cfg.OutputLimit,
		audit:       cfg.Audit,
		now:         cfg.Clock,
		logger:      logger.With().Str("component", "coordinator").Logger(),
		sessions:    make(map[string]*session.Session),
		pending:     make(map[string]int),
		persisted:   make(map[string]int),
		saveLocks:   make(map[string]*sync.Mutex),
		subs:        make(map[int]chan string),
	}, nil
}

// CreateSession validates name, registers a new session and persists it.
// The new session becomes active if no session was.
func (c *Coordinator) CreateSession(ctx context.Context, name string, kind session.Kind) (string, error) {
	return c.CreateSessionWithWorktree(ctx, name, kind, nil)
}

// CreateSessionWithWorktree is CreateSession for sessions bound to an
// external worktree. worktree is required when kind is KindWorktree.
func (c *Coordinator) CreateSessionWithWorktree(ctx context.Context, name string, kind session.Kind, worktree *session.Worktree) (id string, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "coordinator.create", attribute.String("name", name))
	defer span.End()
	defer func() { c.finishOp(ctx, span, "create", id, err, map[string]interface{}{"name": name}) }()

	name = strings.TrimSpace(name)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	if kind == "" {
		kind = session.KindStandard
	}

	id, err = gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to allocate session id: %w", err)
	}
	now := c.now()
	sess, err := session.New(session.Params{
		ID:          id,
		Name:        name,
		Kind:        kind,
		CreatedAt:   now,
		LastActive:  now,
		Worktree:    worktree,
		OutputLimit: c.outputLimit,
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.nameTakenLocked(name, "") {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: Session %q already exists", ErrInvalidName, name)
	}
	c.sessions[id] = sess
	c.order = append(c.order, id)
	if c.activeID == "" {
		c.activeID = id
		_ = sess.SetStatus(session.StatusActive)
	}
	live := len(c.sessions)
	c.mu.Unlock()

	observability.SetLiveSessions(live)
	c.persist(ctx, sess)

	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Info().
		Str("session_id", id).
		Str("name", name).
		Str("kind", string(kind)).
		Msg("Session created")
	return id, nil
}

// SwitchSession makes the session matching selector active. selector is a
// 1-based position, a name or an id. Sessions not in memory are
// materialized from the store.
func (c *Coordinator) SwitchSession(ctx context.Context, selector string) (id string, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "coordinator.switch", attribute.String("selector", selector))
	defer span.End()
	defer func() { c.finishOp(ctx, span, "switch", id, err, map[string]interface{}{"selector": selector}) }()

	selector = strings.TrimSpace(selector)
	if selector == "" {
		return "", fmt.Errorf("%w: selector cannot be empty", ErrInvalidSelector)
	}

	c.mu.Lock()
	id, err = c.resolveLocked(selector)
	if errors.Is(err, ErrNotFound) {
		c.mu.Unlock()
		if id, err = c.materialize(ctx, selector); err != nil {
			return "", err
		}
		c.mu.Lock()
		if _, ok := c.sessions[id]; !ok {
			c.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
	} else if err != nil {
		c.mu.Unlock()
		return "", err
	}

	previous := c.activeID
	c.activateLocked(id)
	sess := c.sessions[id]
	c.mu.Unlock()

	sess.Touch(c.now())
	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Debug().
		Str("session_id", id).
		Str("previous", previous).
		Msg("Switched session")
	return id, nil
}

// CloseSession marks the selected session Completed, persists it and removes
// it from memory. Closing a session that is no longer live returns ErrNotFound.
func (c *Coordinator) CloseSession(ctx context.Context, selector string) (err error) {
	var id string
	ctx, span := tracing.StartSpan(ctx, tracerName, "coordinator.close", attribute.String("selector", selector))
	defer span.End()
	defer func() { c.finishOp(ctx, span, "close", id, err, map[string]interface{}{"selector": selector}) }()

	selector = strings.TrimSpace(selector)
	if selector == "" {
		return fmt.Errorf("%w: selector cannot be empty", ErrInvalidSelector)
	}

	c.mu.Lock()
	id, err = c.resolveLocked(selector)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	sess := c.sessions[id]
	if !sess.Complete() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	}

	pos := c.removeLocked(id)
	if c.activeID == id {
		c.activeID = ""
		if len(c.order) > 0 {
			if pos >= len(c.order) {
				pos = 0
			}
			c.activateLocked(c.order[pos])
		}
	}
	remaining := len(c.sessions)
	c.mu.Unlock()

	observability.SetLiveSessions(remaining)
	c.locks.Drop(id)
	c.persist(ctx, sess)
	c.forget(id)

	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Info().
		Str("session_id", id).
		Str("name", sess.Name()).
		Msg("Session closed")

	if remaining == 0 && c.factory != nil {
		name, kind := c.factory()
		if _, err := c.CreateSession(ctx, name, kind); err != nil {
			c.logger.Error().Err(err).Str("name", name).Msg("Failed to create default session")
		}
	}
	return nil
}

// TouchSession records activity on a live session
func (c *Coordinator) TouchSession(id string) error {
	c.mu.Lock()
	sess, ok := c.sessions[id]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.Touch(c.now())
	return nil
}

// ListSessions returns every live session in order
func (c *Coordinator) ListSessions() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, len(c.order))
	for i, id := range c.order {
		sess := c.sessions[id]
		entries = append(entries, Entry{
			Position:   i + 1,
			ID:         id,
			Name:       sess.Name(),
			Kind:       sess.Kind(),
			Status:     sess.Status(),
			Active:     id == c.activeID,
			Mode:       c.modeLocked(id),
			Pending:    c.pending[id],
			Unseen:     sess.Output().Unseen(),
			LastActive: sess.LastActive(),
		})
	}
	return entries
}

// Active returns the active session, if any
func (c *Coordinator) Active() (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeID == "" {
		return nil, false
	}
	return c.sessions[c.activeID], true
}

// Lookup returns the live session with id
func (c *Coordinator) Lookup(id string) (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[id]
	return sess, ok
}

// Mode returns how the live session id is being driven
func (c *Coordinator) Mode(id string) (Mode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.modeLocked(id), nil
}

// Stats returns a summary of coordinator state
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	stats := Stats{Live: len(c.sessions), ActiveID: c.activeID}
	for _, n := range c.pending {
		stats.Pending += n
	}
	c.mu.Unlock()

	stats.QueueDepths = c.queue.Depths()
	stats.LocksHeld = c.locks.Count()
	return stats
}

// resolveLocked maps a selector to a live session id. c.mu must be held.
func (c *Coordinator) resolveLocked(selector string) (string, error) {
	if n, err := strconv.Atoi(selector); err == nil {
		if n < 1 || n > len(c.order) {
			return "", fmt.Errorf("%w: %d (have %d sessions)", ErrOutOfRange, n, len(c.order))
		}
		return c.order[n-1], nil
	}

	if _, ok := c.sessions[selector]; ok {
		return selector, nil
	}
	for _, id := range c.order {
		if c.sessions[id].Name() == selector {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, selector)
}

func (c *Coordinator) nameTakenLocked(name, exceptID string) bool {
	for id, sess := range c.sessions {
		if id != exceptID && sess.Name() == name {
			return true
		}
	}
	return false
}

// activateLocked moves the foreground to id and demotes the previous one
func (c *Coordinator) activateLocked(id string) {
	if prev, ok := c.sessions[c.activeID]; ok && c.activeID != id {
		if prev.Status() == session.StatusActive {
			_ = prev.SetStatus(session.StatusWaitingForInput)
		}
	}
	c.activeID = id
	if sess := c.sessions[id]; sess.Status() != session.StatusProcessing {
		_ = sess.SetStatus(session.StatusActive)
	}
}

// removeLocked drops id from the map and order and returns its old index
func (c *Coordinator) removeLocked(id string) int {
	delete(c.sessions, id)
	delete(c.pending, id)
	pos := -1
	for i, oid := range c.order {
		if oid == id {
			pos = i
			break
		}
	}
	if pos >= 0 {
		c.order = append(c.order[:pos], c.order[pos+1:]...)
	}
	return pos
}

// insertLocked adds a materialized session keeping creation order
func (c *Coordinator) insertLocked(sess *session.Session) {
	c.sessions[sess.ID()] = sess
	at := len(c.order)
	for i, id := range c.order {
		if c.sessions[id].CreatedAt().After(sess.CreatedAt()) {
			at = i
			break
		}
	}
	c.order = append(c.order, "")
	copy(c.order[at+1:], c.order[at:])
	c.order[at] = sess.ID()
}

func (c *Coordinator) modeLocked(id string) Mode {
	switch {
	case id == c.activeID:
		return ModeForeground
	case c.pending[id] > 0:
		return ModeBackgroundQueued
	default:
		return ModeBackgroundIdle
	}
}

// finishOp records the outcome of a public operation
func (c *Coordinator) finishOp(ctx context.Context, span trace.Span, op, id string, err error, metadata map[string]interface{}) {
	observability.RecordSessionOp(op, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger := tracing.LoggerFromContext(ctx, c.logger)
		logger.Debug().Err(err).Str("op", op).Msg("Session operation rejected")
	}
	c.audit.RecordSession(ctx, op, id, err, metadata)
}
