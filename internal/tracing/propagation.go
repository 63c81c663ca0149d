package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// ForBackgroundItem derives the context a worker uses while processing one
// queued item. The submitter's trace ID is kept so the item can be followed
// from enqueue to commit.
func ForBackgroundItem(ctx context.Context, traceID, sessionID, itemID string) context.Context {
	if traceID == "" {
		traceID = GetTraceID(ctx)
	}
	if traceID == "" {
		traceID = NewTraceID()
	}

	ctx = WithTraceID(ctx, traceID)
	ctx = WithSessionID(ctx, sessionID)
	ctx = WithItemID(ctx, itemID)
	return WithOrigin(ctx, OriginBackground)
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.SessionID != "" {
		lc = lc.Str("session_id", tc.SessionID)
	}
	if tc.ItemID != "" {
		lc = lc.Str("item_id", tc.ItemID)
	}
	if tc.Origin != "" {
		lc = lc.Str("origin", tc.Origin)
	}

	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
