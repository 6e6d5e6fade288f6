package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	broker "github.com/hanpama/brokergraph/internal/broker"
	store "github.com/hanpama/brokergraph/internal/store"
)

func TestParsePrice(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"Price", `{"name":"Gold","price":2375.5,"symbol":"XAU"}`, "2375.5"},
		{"PriceAsString", `{"price":"0.25"}`, "0.25"},
		{"DataPrice", `{"data":{"price":64000.1}}`, "64000.1"},
		{"SymbolKey", `{"BTC":61000}`, "61000"},
		{"Rates", `{"base":"USD","rates":{"EUR":0.9,"BTC":60500.25}}`, "60500.25"},
		{"FirstNumberDepthFirst", `{"meta":{"source":"x","quote":[{"v":17.5},{"v":18}]},"other":3}`, "17.5"},
		{"TopLevelArray", `["a",[1.5]]`, "1.5"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParsePrice([]byte(c.body), "BTC")
			require.NoError(t, err)
			require.Equal(t, c.want, got.String())
		})
	}
}

// Pattern: Error handling
func TestParsePrice_Rejects(t *testing.T) {
	_, err := ParsePrice([]byte(`{"status":"down"}`), "BTC")
	require.ErrorIs(t, err, ErrNoPrice)

	_, err = ParsePrice([]byte(`{"price":{"usd":1}}`), "BTC")
	require.Error(t, err)

	_, err = ParsePrice([]byte(`{"price":"n/a"}`), "BTC")
	require.Error(t, err)
}

func TestClient_FetchPrice(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/price/XAU":
			_, _ = w.Write([]byte(`{"price":2380.1}`))
		case "/price/EMPTY":
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL+"/", WithRate(1000, 10))
	ctx := context.Background()

	got, err := c.FetchPrice(ctx, "XAU")
	require.NoError(t, err)
	require.Equal(t, "2380.1", got.String())

	_, err = c.FetchPrice(ctx, "EMPTY")
	require.ErrorIs(t, err, ErrNoPrice)

	_, err = c.FetchPrice(ctx, "BTC")
	require.ErrorContains(t, err, "status 502")
	require.Equal(t, []string{"/price/XAU", "/price/EMPTY", "/price/BTC"}, paths)
}

func TestClient_RateLimitHonorsContext(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", WithRate(0.001, 1))
	c.limiter.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.FetchPrice(ctx, "XAU")
	require.ErrorContains(t, err, "price rate limit")
}

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]string
	asked  []string
}

func (f *fakeSource) FetchPrice(_ context.Context, symbol string) (broker.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, symbol)
	p, ok := f.prices[symbol]
	if !ok {
		return broker.Decimal{}, errors.New("upstream timeout")
	}
	return broker.ParseDecimal(p)
}

func TestIngestor_Collect(t *testing.T) {
	// Failed symbols are counted while the others are still recorded. Old ticks
	// are purged afterwards.
	now := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	mem := store.NewMemory(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, mem.InsertTick(ctx, broker.PriceTick{AssetSymbol: "XAU", PriceUSD: broker.MustDecimal("1"), SourceTs: now.Add(-25 * time.Hour)}))

	src := &fakeSource{prices: map[string]string{"XAU": "2380", "BTC": "61000", "ETH": "0"}}
	ing := NewIngestor(src, mem, WithClock(func() time.Time { return now }))

	r := ing.Collect(ctx)
	require.Equal(t, Report{OK: 2, Failed: 4, Purged: 1}, r)
	require.Equal(t, DefaultSymbols, src.asked)

	latest, err := mem.LatestPrices(ctx, []string{"XAU", "BTC", "ETH", "XAG"})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "2380", latest["XAU"].PriceUSD.String())
	require.Equal(t, now, latest["BTC"].SourceTs)
	require.Equal(t, broker.SlotOf(now), latest["BTC"].Slot)
}

func TestIngestor_WithSymbols(t *testing.T) {
	src := &fakeSource{prices: map[string]string{"HG": "4.5"}}
	ing := NewIngestor(src, store.NewMemory(nil), WithSymbols("HG"))
	require.Equal(t, Report{OK: 1}, ing.Collect(context.Background()))
	require.Equal(t, []string{"HG"}, ing.Symbols())
}

func TestScheduler(t *testing.T) {
	ing := NewIngestor(&fakeSource{}, store.NewMemory(nil))

	_, err := NewScheduler(ing, "every now and then", nil)
	require.Error(t, err)

	s, err := NewScheduler(ing, "", nil)
	require.NoError(t, err)
	s.Start(context.Background())
	s.Stop()
}
