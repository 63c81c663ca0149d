package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/weave/internal/observability"
	"github.com/harun/weave/internal/tracing"
	"github.com/harun/weave/pkg/agent"
	"github.com/harun/weave/pkg/session"
	"github.com/harun/weave/pkg/workerpool"
	"github.com/harun/weave/pkg/workqueue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SubmitBackground queues payload for the session matching selector and
// returns the queue item id.
func (c *Coordinator) SubmitBackground(ctx context.Context, selector, payload string, priority workqueue.Priority) (itemID string, err error) {
	var id string
	ctx, span := tracing.StartSpan(ctx, tracerName, "coordinator.submit_background",
		attribute.String("selector", selector),
		attribute.String("priority", priority.String()),
	)
	defer span.End()
	defer func() {
		c.finishOp(ctx, span, "submit", id, err, map[string]interface{}{"priority": priority.String(), "item_id": itemID})
	}()

	selector = strings.TrimSpace(selector)
	if selector == "" {
		return "", fmt.Errorf("%w: selector cannot be empty", ErrInvalidSelector)
	}
	if strings.TrimSpace(payload) == "" {
		return "", ErrEmptyPayload
	}

	c.mu.Lock()
	id, err = c.resolveLocked(selector)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	// counted before the item is visible to workers so a fast completion
	// cannot decrement first
	c.pending[id]++
	c.mu.Unlock()

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	item, err := c.queue.Enqueue(workqueue.Item{
		SessionID: id,
		Payload:   payload,
		Priority:  priority,
		TraceID:   tracing.GetTraceID(ctx),
	})
	if err != nil {
		c.settle(id)
		return "", fmt.Errorf("failed to enqueue: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Debug().
		Str("session_id", id).
		Str("item_id", item.ID).
		Str("priority", priority.String()).
		Msg("Background item submitted")
	return item.ID, nil
}

// Attach subscribes the coordinator to pool outcomes so pending counts and
// notifications track background work. Foreground turns then draw on the
// pool's permits too.
func (c *Coordinator) Attach(pool *workerpool.Pool) {
	c.mu.Lock()
	c.pool = pool
	c.mu.Unlock()

	for _, typ := range []workerpool.EventType{workerpool.EventCompleted, workerpool.EventFailed, workerpool.EventDiscarded} {
		pool.On(typ, c.HandlePoolEvent)
	}
}

// HandlePoolEvent applies one pool event
func (c *Coordinator) HandlePoolEvent(ev workerpool.Event) {
	if !ev.Type.Terminal() {
		return
	}
	c.settle(ev.SessionID)

	if ev.Type == workerpool.EventDiscarded {
		return
	}
	sess, ok := c.Lookup(ev.SessionID)
	if !ok {
		return
	}
	c.flushTranscript(context.Background(), sess)
	c.publish(ev.SessionID)
}

// IdleStatus is the status a session settles in after a committed turn:
// Active for the foreground session, WaitingForInput otherwise.
func (c *Coordinator) IdleStatus(id string) session.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeID == id {
		return session.StatusActive
	}
	return session.StatusWaitingForInput
}

// settle decrements the pending count of id
func (c *Coordinator) settle(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[id] <= 1 {
		delete(c.pending, id)
		return
	}
	c.pending[id]--
}

// Notifications returns a stream of ids of sessions that gained output, and
// a function that ends the subscription.
func (c *Coordinator) Notifications() (<-chan string, func()) {
	ch := make(chan string, notificationBuffer)

	c.subsMu.Lock()
	key := c.nextSub
	c.nextSub++
	c.subs[key] = ch
	c.subsMu.Unlock()

	var once bool
	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if once {
			return
		}
		once = true
		delete(c.subs, key)
		close(ch)
	}
}

func (c *Coordinator) publish(id string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- id:
		default:
			c.logger.Warn().Str("session_id", id).Msg("Notification subscriber is full, dropping event")
		}
	}
}

// RunForeground drives the active session through one turn while holding its
// lock. emit receives output as it streams. Completion failures are recorded
// in the session and reported through Result.Failed, not as an error.
func (c *Coordinator) RunForeground(ctx context.Context, payload string, emit agent.EmitFunc) (res agent.Result, err error) {
	var id string
	ctx, span := tracing.StartSpan(ctx, tracerName, "coordinator.run_foreground")
	defer span.End()
	defer func() {
		observability.RecordSessionOp("foreground", err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if strings.TrimSpace(payload) == "" {
		return agent.Result{}, ErrEmptyPayload
	}
	if c.runner == nil {
		return agent.Result{}, fmt.Errorf("no completion runner configured")
	}

	c.mu.Lock()
	id = c.activeID
	sess := c.sessions[id]
	pool := c.pool
	c.mu.Unlock()
	if sess == nil {
		return agent.Result{}, ErrNoActiveSession
	}

	ctx = tracing.WithSessionID(ctx, id)
	ctx = tracing.WithOrigin(ctx, tracing.OriginForeground)
	logger := tracing.LoggerFromContext(ctx, c.logger)

	guard, err := c.locks.Acquire(ctx, id, c.fgTimeout)
	if err != nil {
		return agent.Result{}, fmt.Errorf("session %q is busy: %w", sess.Name(), err)
	}
	defer guard.Release()
	stopRenew := guard.KeepAlive()
	defer stopRenew()

	if pool != nil {
		release, err := pool.AcquirePermit(ctx)
		if err != nil {
			return agent.Result{}, fmt.Errorf("waiting for a completion permit: %w", err)
		}
		defer release()
	}

	_ = sess.SetStatus(session.StatusProcessing)
	res, runErr := c.runner.Run(ctx, sess.Conversation(), payload, emit)

	if live, ok := c.Lookup(id); !ok || live != sess || !res.Apply(sess) {
		logger.Info().Msg("Session closed during foreground turn, discarding result")
		return res, nil
	}

	// the user watched this output stream live
	sess.Output().MarkSeen()
	sess.Touch(c.now())
	_ = sess.SetStatus(c.IdleStatus(id))

	c.flushTranscript(ctx, sess)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Warn().Err(runErr).Msg("Foreground turn failed")
	}
	return res, nil
}

// View returns output the selected session produced since it was last
// viewed and marks it seen.
func (c *Coordinator) View(selector string) (View, error) {
	selector = strings.TrimSpace(selector)

	c.mu.Lock()
	var (
		id  string
		err error
	)
	if selector == "" {
		id = c.activeID
		if id == "" {
			err = ErrNoActiveSession
		}
	} else {
		id, err = c.resolveLocked(selector)
	}
	if err != nil {
		c.mu.Unlock()
		return View{}, err
	}
	sess := c.sessions[id]
	c.mu.Unlock()

	out := sess.Output()
	return View{
		ID:      id,
		Name:    sess.Name(),
		Status:  sess.Status(),
		Entries: out.MarkSeen(),
		Dropped: out.Dropped(),
	}, nil
}
