package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/brokergraph/internal/eventbus"
	events "github.com/hanpama/brokergraph/internal/events"
)

func TestMetrics_CountsEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	m := New()
	t.Cleanup(m.Subscribe())
	ctx := context.Background()

	eventbus.Publish(ctx, events.LoaderBatch{Loader: "assets", Keys: 4})
	eventbus.Publish(ctx, events.LoaderBatch{Loader: "assets", Keys: 1, Err: errors.New("down")})
	eventbus.Publish(ctx, events.LoaderRetry{Loader: "assets"})
	eventbus.Publish(ctx, events.AuthResult{Outcome: "UNAUTHENTICATED"})
	eventbus.Publish(ctx, events.OperationFinish{Type: "query", ErrorCodes: []string{"BACKEND_UNAVAILABLE", "BACKEND_UNAVAILABLE"}, LoaderRounds: 2, Duration: time.Millisecond})
	eventbus.Publish(ctx, events.OperationFinish{Type: "mutation", Duration: time.Millisecond})
	eventbus.Publish(ctx, events.PriceRecorded{Symbol: "XAU"})
	eventbus.Publish(ctx, events.PriceCollected{OK: 1, Purged: 5})

	require.Equal(t, 1.0, testutil.ToFloat64(m.loaderBatches.WithLabelValues("assets", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.loaderBatches.WithLabelValues("assets", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.loaderRetries.WithLabelValues("assets")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authResults.WithLabelValues("UNAUTHENTICATED")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("query", "partial")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("mutation", "ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.opErrors.WithLabelValues("BACKEND_UNAVAILABLE")))
	require.Equal(t, 2, testutil.CollectAndCount(m.opRounds))
	require.Equal(t, 1.0, testutil.ToFloat64(m.priceRecords.WithLabelValues("XAU", "ok")))
	require.Equal(t, 5.0, testutil.ToFloat64(m.pricePurged))
}

func TestMetrics_HTTPUsesRoutePattern(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	m := New()
	t.Cleanup(m.Subscribe())

	r := chi.NewRouter()
	r.Get("/assets/{symbol}", func(w http.ResponseWriter, req *http.Request) {
		eventbus.Publish(req.Context(), events.RequestFinish{Request: req, Status: http.StatusOK, Operations: 2})
	})
	r.Handle("/metrics", m.Handler())
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/assets/BTC", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/assets/ETH", nil))

	require.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/assets/{symbol}", "200")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `brokergraph_http_requests_total{route="/assets/{symbol}",status="200"} 2`))
}
