// Package pricefeed pulls spot prices from the external price API into the
// price ring.
package pricefeed

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	broker "github.com/hanpama/brokergraph/internal/broker"
)

// DefaultBaseURL is the public price API used when none is configured.
const DefaultBaseURL = "https://api.gold-api.com"

// ErrNoPrice is returned when a response carries nothing that reads as a price.
var ErrNoPrice = errors.New("no price in response")

type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

// WithRate limits outgoing requests to r per second with the given burst.
func WithRate(r float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 2),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchPrice returns the current USD price of symbol.
func (c *Client) FetchPrice(ctx context.Context, symbol string) (broker.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return broker.Decimal{}, errors.Wrap(err, "price rate limit")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/price/"+url.PathEscape(symbol), nil)
	if err != nil {
		return broker.Decimal{}, errors.Wrap(err, "build price request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return broker.Decimal{}, errors.Wrapf(err, "fetch price %s", symbol)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return broker.Decimal{}, errors.Wrapf(err, "read price %s", symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return broker.Decimal{}, errors.Errorf("fetch price %s: status %d", symbol, resp.StatusCode)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return broker.Decimal{}, errors.Wrapf(ErrNoPrice, "empty response for %s", symbol)
	}
	return ParsePrice(body, symbol)
}

// ParsePrice reads a price from the shapes price APIs commonly answer with:
// {"price": n}, {"data": {"price": n}}, {"<SYM>": n}, {"rates": {"<SYM>": n}}.
// Anything else falls back to the first number in document order.
func ParsePrice(body []byte, symbol string) (broker.Decimal, error) {
	for _, path := range [][]string{{"price"}, {"data", "price"}, {symbol}, {"rates", symbol}} {
		v, typ, _, err := jsonparser.Get(body, path...)
		if err == nil && typ != jsonparser.NotExist {
			return scalar(v, typ, path)
		}
	}
	if v, ok := firstNumber(body, jsonparser.Unknown); ok {
		return broker.ParseDecimal(string(v))
	}
	return broker.Decimal{}, errors.Wrap(ErrNoPrice, symbol)
}

func scalar(v []byte, typ jsonparser.ValueType, path []string) (broker.Decimal, error) {
	switch typ {
	case jsonparser.Number, jsonparser.String:
		d, err := broker.ParseDecimal(string(v))
		if err != nil {
			return broker.Decimal{}, errors.Wrapf(err, "price at %s", strings.Join(path, "."))
		}
		return d, nil
	}
	return broker.Decimal{}, errors.Errorf("price at %s is a %s", strings.Join(path, "."), typ)
}

var errStop = errors.New("stop")

// firstNumber walks data depth-first and returns the first JSON number.
func firstNumber(data []byte, typ jsonparser.ValueType) ([]byte, bool) {
	if typ == jsonparser.Unknown {
		v, t, _, err := jsonparser.Get(data)
		if err != nil {
			return nil, false
		}
		data, typ = v, t
	}
	var found []byte
	switch typ {
	case jsonparser.Number:
		return data, true
	case jsonparser.Object:
		_ = jsonparser.ObjectEach(data, func(_ []byte, v []byte, t jsonparser.ValueType, _ int) error {
			if n, ok := firstNumber(v, t); ok {
				found = n
				return errStop
			}
			return nil
		})
	case jsonparser.Array:
		_, _ = jsonparser.ArrayEach(data, func(v []byte, t jsonparser.ValueType, _ int, _ error) {
			if found != nil {
				return
			}
			if n, ok := firstNumber(v, t); ok {
				found = n
			}
		})
	}
	return found, found != nil
}
