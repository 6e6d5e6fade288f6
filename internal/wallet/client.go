// Package wallet talks to the wallet service on behalf of the caller. The
// caller's bearer token is forwarded unchanged; the wallet service does its
// own authorization.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	broker "github.com/hanpama/brokergraph/internal/broker"
	dataloader "github.com/hanpama/brokergraph/internal/dataloader"
)

// CodeWalletError is reported when the wallet service rejects a call.
const CodeWalletError = "WALLET_ERROR"

// Currency is the only currency wallet balances are held in.
const Currency = "USD"

type Client struct {
	base string
	http *http.Client
}

var _ broker.Wallet = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Balance(ctx context.Context, token string) (broker.WalletBalance, error) {
	var body struct {
		Balance json.Number `json:"balance"`
	}
	if err := c.get(ctx, token, "/api/wallet/balance", &body); err != nil {
		return broker.WalletBalance{}, err
	}
	bal, err := broker.DecimalFrom(body.Balance)
	if err != nil {
		return broker.WalletBalance{}, errors.Wrap(err, "wallet balance")
	}
	return broker.WalletBalance{CurrentBalance: bal, Currency: Currency}, nil
}

func (c *Client) Transactions(ctx context.Context, token string) ([]broker.WalletTransaction, error) {
	var rows []map[string]any
	if err := c.get(ctx, token, "/api/wallet/transactions", &rows); err != nil {
		return nil, err
	}
	out := make([]broker.WalletTransaction, 0, len(rows))
	for _, r := range rows {
		tx := broker.WalletTransaction{
			ID:          text(r["id"]),
			Type:        text(r["type"]),
			Currency:    text(r["currency"]),
			Description: text(r["description"]),
			CreatedAt:   text(r["createdAt"]),
		}
		if r["amount"] != nil {
			amt, err := broker.DecimalFrom(r["amount"])
			if err != nil {
				return nil, errors.Wrapf(err, "wallet transaction %s amount", tx.ID)
			}
			tx.Amount = &amt
		}
		out = append(out, tx)
	}
	return out, nil
}

// get fetches path and decodes the JSON body into v. Transport failures and
// 5xx answers are unavailable and may be retried; 4xx answers are not.
func (c *Client) get(ctx context.Context, token, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return errors.Wrap(err, "build wallet request")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return dataloader.Unavailable(errors.Wrap(err, "wallet "+path))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return dataloader.Unavailable(errors.Wrap(err, "read wallet "+path))
	}

	switch {
	case resp.StatusCode >= 500:
		return dataloader.Unavailable(errors.Errorf("wallet %s: status %d", path, resp.StatusCode))
	case resp.StatusCode >= 400:
		return &broker.Error{Code: CodeWalletError, Message: fmt.Sprintf("wallet service rejected the request (status %d)", resp.StatusCode)}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode wallet "+path)
	}
	return nil
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	return fmt.Sprint(v)
}
