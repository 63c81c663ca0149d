package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured session lifecycle event
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id,omitempty"`
	Action    string                 `json:"action"` // e.g. "create", "switch", "close", "evict"
	Status    string                 `json:"status"` // "success", "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger records audit events as JSON lines
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

// NewAuditLogger writes audit events to w. A nil writer discards them.
func NewAuditLogger(w io.Writer) *AuditLogger {
	if w == nil {
		w = io.Discard
	}
	a := &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
	if c, ok := w.(io.Closer); ok {
		a.closer = c
	}
	return a
}

// OpenAuditLogger appends audit events to the file at path
func OpenAuditLogger(path string) (*AuditLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return NewAuditLogger(file), nil
}

// Record emits an audit event and mirrors it as a span event when tracing is active
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.session_id", event.SessionID),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("session_id", event.SessionID).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// RecordSession is a shorthand for session lifecycle events
func (a *AuditLogger) RecordSession(ctx context.Context, action, sessionID string, err error, metadata map[string]interface{}) {
	status := "success"
	if err != nil {
		status = "failure"
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		metadata["error"] = err.Error()
	}
	a.Record(ctx, AuditEvent{
		Type:      "session",
		SessionID: sessionID,
		Action:    action,
		Status:    status,
		Metadata:  metadata,
	})
}

// Close closes the underlying writer if it is closable
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
