package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"changegate/internal/change/models"
	"changegate/internal/change/registry"
	"changegate/internal/change/retry"
)

func newTracedService(t *testing.T, gateway *scriptedGateway) (*Service, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc, err := New(registry.NewInMemory(time.Minute),
		map[models.EntityKind]Binding{"site": {Store: newRecordingStore(), Gateway: gateway}},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTracer(tp.Tracer("test")),
		WithRetryPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond}),
	)
	require.NoError(t, err)
	return svc, recorder
}

func spanNamed(t *testing.T, recorder *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range recorder.Ended() {
		if span.Name() == name {
			return span
		}
	}
	t.Fatalf("no span named %s", name)
	return nil
}

func hasAttr(span sdktrace.ReadOnlySpan, kv attribute.KeyValue) bool {
	for _, a := range span.Attributes() {
		if a == kv {
			return true
		}
	}
	return false
}

func TestConfirmSpans(t *testing.T) {
	ctx := context.Background()

	t.Run("committed change records attempts and an audit event", func(t *testing.T) {
		svc, recorder := newTracedService(t, newScriptedGateway(transient(), ok()))

		tok, err := svc.Propose(ctx, models.NewChangeRequest("site", "site-42", models.OperationCreate, models.Fields{"name": "Harbour"}, ""))
		require.NoError(t, err)
		require.True(t, svc.Confirm(ctx, tok.Value).IsCommitted())

		span := spanNamed(t, recorder, "change.confirm")
		assert.True(t, hasAttr(span, attribute.String("change.entity_id", "site-42")))
		assert.True(t, hasAttr(span, attribute.Int("change.sync_attempts", 2)))
		assert.NotEqual(t, codes.Error, span.Status().Code)

		var events []string
		for _, ev := range span.Events() {
			events = append(events, ev.Name)
		}
		assert.Contains(t, events, "change_committed")

		propose := spanNamed(t, recorder, "change.propose")
		assert.True(t, hasAttr(propose, attribute.String("change.operation", "create")))
	})

	t.Run("rejected change marks the span as failed", func(t *testing.T) {
		svc, recorder := newTracedService(t, newScriptedGateway(rejected("name taken")))

		tok, err := svc.Propose(ctx, models.NewChangeRequest("site", "site-43", models.OperationCreate, models.Fields{"name": "Dock"}, ""))
		require.NoError(t, err)
		out := svc.Confirm(ctx, tok.Value)
		require.Equal(t, models.OutcomeRemoteSyncFailed, out.Kind)

		span := spanNamed(t, recorder, "change.confirm")
		assert.Equal(t, codes.Error, span.Status().Code)
	})
}
