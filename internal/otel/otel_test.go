package otel

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	eventbus "github.com/hanpama/brokergraph/internal/eventbus"
	events "github.com/hanpama/brokergraph/internal/events"
	reqid "github.com/hanpama/brokergraph/internal/reqid"
)

func TestSubscriber_NestsSpansByRequest(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	unsubscribe := newSubscriber(tp.Tracer("test")).register()
	t.Cleanup(unsubscribe)

	ctx, _ := reqid.NewContext(context.Background(), "req-1")
	r := httptest.NewRequest("POST", "/graphql", nil)

	eventbus.Publish(ctx, events.RequestStart{Request: r})
	eventbus.Publish(ctx, events.AuthResult{Outcome: "ok", Subject: "alice"})
	eventbus.Publish(ctx, events.OperationStart{Name: "Q", Type: "query", Subject: "alice"})
	eventbus.Publish(ctx, events.LoaderBatch{Loader: "prices.latest", Keys: 3, Attempts: 2, Duration: time.Millisecond, Err: errors.New("down")})
	eventbus.Publish(ctx, events.OperationFinish{Name: "Q", Type: "query", ErrorCodes: []string{"BACKEND_UNAVAILABLE"}, LoaderRounds: 1, LoaderBatches: 1})
	eventbus.Publish(ctx, events.RequestFinish{Request: r, Status: 200, Operations: 1})

	ended := rec.Ended()
	require.Len(t, ended, 3)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = s
	}
	httpSpan, gqlSpan, batch := byName["http.request"], byName["graphql.operation"], byName["dataloader.batch"]
	require.NotNil(t, httpSpan)
	require.NotNil(t, gqlSpan)
	require.NotNil(t, batch)

	require.Equal(t, httpSpan.SpanContext().SpanID(), gqlSpan.Parent().SpanID())
	require.Equal(t, gqlSpan.SpanContext().SpanID(), batch.Parent().SpanID())
	require.Equal(t, codes.Error, batch.Status().Code)
	require.Equal(t, codes.Error, gqlSpan.Status().Code)
	require.Equal(t, "BACKEND_UNAVAILABLE", gqlSpan.Status().Description)
	require.Len(t, httpSpan.Events(), 1)
	require.Equal(t, "auth", httpSpan.Events()[0].Name)
}

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup("", "brokergraph")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
