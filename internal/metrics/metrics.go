// Package metrics turns gateway events into Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/brokergraph/internal/eventbus"
	events "github.com/hanpama/brokergraph/internal/events"
)

const namespace = "brokergraph"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec   // route, status
	httpDuration  *prometheus.HistogramVec // route
	operations    *prometheus.CounterVec   // type, outcome
	opDuration    *prometheus.HistogramVec // type
	opErrors      *prometheus.CounterVec   // code
	opRounds      *prometheus.HistogramVec // type
	batchSize     prometheus.Histogram
	authResults   *prometheus.CounterVec   // outcome
	loaderBatches *prometheus.CounterVec   // loader, outcome
	loaderKeys    *prometheus.HistogramVec // loader
	loaderRetries *prometheus.CounterVec   // loader
	priceRecords  *prometheus.CounterVec   // symbol, outcome
	pricePurged   prometheus.Counter
}

// New creates the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "operations_total",
			Help: "Executed GraphQL operations by type and outcome (ok, partial).",
		}, []string{"type", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "operation_duration_seconds",
			Help:    "GraphQL execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "errors_total",
			Help: "Errors in GraphQL responses by extensions code.",
		}, []string{"code"}),
		opRounds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "loader_rounds",
			Help:    "Data loader dispatch rounds per operation.",
			Buckets: prometheus.LinearBuckets(0, 1, 8),
		}, []string{"type"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_operations",
			Help:    "GraphQL operations per HTTP request.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 6),
		}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "results_total",
			Help: "Token checks by outcome.",
		}, []string{"outcome"}),
		loaderBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dataloader", Name: "batches_total",
			Help: "Data loader batches by loader and outcome.",
		}, []string{"loader", "outcome"}),
		loaderKeys: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dataloader", Name: "batch_keys",
			Help:    "Keys per data loader batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"loader"}),
		loaderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dataloader", Name: "retries_total",
			Help: "Batches retried after an unavailable backend.",
		}, []string{"loader"}),
		priceRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricefeed", Name: "records_total",
			Help: "Price ticks recorded by symbol and outcome.",
		}, []string{"symbol", "outcome"}),
		pricePurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricefeed", Name: "purged_ticks_total",
			Help: "Ticks dropped for falling out of the retention window.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.operations, m.opDuration, m.opErrors, m.opRounds, m.batchSize,
		m.authResults,
		m.loaderBatches, m.loaderKeys, m.loaderRetries,
		m.priceRecords, m.pricePurged,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// route prefers the chi route pattern so path parameters do not explode the
// label set.
func route(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "other"
}

// Subscribe attaches the collectors to the global event bus.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	subs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.RequestFinish) {
			rt := route(e.Request)
			m.httpRequests.WithLabelValues(rt, strconv.Itoa(e.Status)).Inc()
			m.httpDuration.WithLabelValues(rt).Observe(e.Duration.Seconds())
			if e.Operations > 0 {
				m.batchSize.Observe(float64(e.Operations))
			}
		}),
		eventbus.Subscribe(func(_ context.Context, e events.OperationFinish) {
			result := "ok"
			if len(e.ErrorCodes) > 0 {
				result = "partial"
			}
			m.operations.WithLabelValues(e.Type, result).Inc()
			m.opDuration.WithLabelValues(e.Type).Observe(e.Duration.Seconds())
			m.opRounds.WithLabelValues(e.Type).Observe(float64(e.LoaderRounds))
			for _, code := range e.ErrorCodes {
				m.opErrors.WithLabelValues(code).Inc()
			}
		}),
		eventbus.Subscribe(func(_ context.Context, e events.AuthResult) {
			m.authResults.WithLabelValues(e.Outcome).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.LoaderBatch) {
			m.loaderBatches.WithLabelValues(e.Loader, outcome(e.Err)).Inc()
			m.loaderKeys.WithLabelValues(e.Loader).Observe(float64(e.Keys))
		}),
		eventbus.Subscribe(func(_ context.Context, e events.LoaderRetry) {
			m.loaderRetries.WithLabelValues(e.Loader).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.PriceRecorded) {
			m.priceRecords.WithLabelValues(e.Symbol, outcome(e.Err)).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.PriceCollected) {
			m.pricePurged.Add(float64(e.Purged))
		}),
	}
	return func() {
		for _, u := range subs {
			u()
		}
	}
}
