package otel

import (
	"context"
	"sync"
	"time"

	eventbus "github.com/hanpama/brokergraph/internal/eventbus"
	events "github.com/hanpama/brokergraph/internal/events"
	reqid "github.com/hanpama/brokergraph/internal/reqid"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := newSubscriber(otel.Tracer("brokergraph"))
	unsubscribe := sub.register()

	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // rid -> trace.Span
	gqlSpans  sync.Map // rid -> trace.Span
}

func newSubscriber(t trace.Tracer) *subscriber { return &subscriber{tracer: t} }

// parent returns ctx carrying the innermost open span of the request.
func (s *subscriber) parent(ctx context.Context) context.Context {
	rid, _ := reqid.FromContext(ctx)
	if v, ok := s.gqlSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	if v, ok := s.httpSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func (s *subscriber) register() (unsubscribe func()) {
	var subs []func()
	subs = append(subs, eventbus.Subscribe(func(ctx context.Context, e events.RequestStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid, span)
	}))

	subs = append(subs, eventbus.Subscribe(func(ctx context.Context, e events.RequestFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			semconv.HTTPStatusCodeKey.Int(e.Status),
			attribute.Int("graphql.operations", e.Operations),
		)
		span.End()
	}))

	subs = append(subs, eventbus.Subscribe(func(ctx context.Context, e events.AuthResult) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.httpSpans.Load(rid)
		if !ok {
			return
		}
		v.(trace.Span).AddEvent("auth", trace.WithAttributes(
			attribute.String("auth.outcome", e.Outcome),
			attribute.String("enduser.id", e.Subject),
		))
	}))

	subs = append(subs, eventbus.Subscribe(func(ctx context.Context, e events.OperationStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx), "graphql.operation")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.Name),
			attribute.String("graphql.operation.type", e.Type),
			attribute.String("enduser.id", e.Subject),
		)
		s.gqlSpans.Store(rid, span)
	}))

	subs = append(subs, eventbus.Subscribe(func(ctx context.Context, e events.OperationFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.gqlSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.Int("graphql.error_count", len(e.ErrorCodes)),
			attribute.StringSlice("graphql.error_codes", lo.Uniq(e.ErrorCodes)),
			attribute.Int("dataloader.rounds", e.LoaderRounds),
			attribute.Int("dataloader.batches", e.LoaderBatches),
		)
		if len(e.ErrorCodes) > 0 {
			span.SetStatus(codes.Error, e.ErrorCodes[0])
		}
		span.End()
	}))

	// Batches are reported once settled, so the span is backdated to their start.
	subs = append(subs, eventbus.Subscribe(func(ctx context.Context, e events.LoaderBatch) {
		end := time.Now()
		_, span := s.tracer.Start(s.parent(ctx), "dataloader.batch", trace.WithTimestamp(end.Add(-e.Duration)))
		span.SetAttributes(
			attribute.String("dataloader.name", e.Loader),
			attribute.Int("dataloader.keys", e.Keys),
			attribute.Int("dataloader.attempts", e.Attempts),
		)
		if e.Err != nil {
			span.RecordError(e.Err)
			span.SetStatus(codes.Error, e.Err.Error())
		}
		span.End(trace.WithTimestamp(end))
	}))

	return func() {
		for _, u := range subs {
			u()
		}
	}
}
