package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpan_RecordsTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(ProviderConfig{ServiceName: "weave-test"}))
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })

	ctx := WithSessionID(context.Background(), "sess-1")
	ctx, span := StartSpan(ctx, "weave.test", "op")
	defer span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
	assert.Equal(t, "sess-1", GetSessionID(ctx))
}

func TestStartSpan_KeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "fixed")
	ctx, span := StartSpan(ctx, "weave.test", "op")
	defer span.End()

	assert.Equal(t, "fixed", GetTraceID(ctx))
}

func TestInitAfterShutdown(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(ProviderConfig{ServiceName: "weave-test", SampleRatio: 5}))
	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
	assert.NoError(t, ShutdownOpenTelemetry(context.Background()))

	require.NoError(t, InitOpenTelemetry(ProviderConfig{ServiceName: "weave-test", ServiceVersion: "0.1.0"}))
	defer func() { _ = ShutdownOpenTelemetry(context.Background()) }()

	_, span := StartSpan(context.Background(), "weave.test", "after-restart")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
}
