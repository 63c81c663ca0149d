package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// SessionIDKey is the context key for the session a call runs against
	SessionIDKey ContextKey = "session_id"
	// ItemIDKey is the context key for a background work item
	ItemIDKey ContextKey = "item_id"
	// OriginKey is the context key for the call origin (foreground or background)
	OriginKey ContextKey = "origin"
)

const (
	OriginForeground = "foreground"
	OriginBackground = "background"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	SessionID string
	ItemID    string
	Origin    string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func WithItemID(ctx context.Context, itemID string) context.Context {
	return context.WithValue(ctx, ItemIDKey, itemID)
}

func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, OriginKey, origin)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetSessionID(ctx context.Context) string {
	return stringValue(ctx, SessionIDKey)
}

func GetItemID(ctx context.Context) string {
	return stringValue(ctx, ItemIDKey)
}

func GetOrigin(ctx context.Context) string {
	return stringValue(ctx, OriginKey)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		SessionID: GetSessionID(ctx),
		ItemID:    GetItemID(ctx),
		Origin:    GetOrigin(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.SessionID != "" {
		ctx = WithSessionID(ctx, tc.SessionID)
	}
	if tc.ItemID != "" {
		ctx = WithItemID(ctx, tc.ItemID)
	}
	if tc.Origin != "" {
		ctx = WithOrigin(ctx, tc.Origin)
	}
	return ctx
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}
