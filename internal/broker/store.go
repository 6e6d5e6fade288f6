package broker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInsufficientHoldings is returned by Store.ExecuteTrade when a sale
// exceeds the quantity held.
var ErrInsufficientHoldings = errors.New("insufficient holdings")

// TradeRequest is a validated trade ready to be persisted.
type TradeRequest struct {
	UserID      uuid.UUID
	AssetSymbol string
	Side        Side
	Quantity    Decimal
	PriceUSD    Decimal
	ExecutedAt  time.Time
}

// TradeFilter selects one user's trades, narrowed to Symbol unless it is
// empty.
type TradeFilter struct {
	UserID uuid.UUID
	Symbol string
}

// Store is the persistence the broker needs. Lookups are batched: each takes
// every key a loader collected and answers them in one round trip. Absent
// keys are simply missing from the returned map.
type Store interface {
	AssetsBySymbol(ctx context.Context, symbols []string) (map[string]Asset, error)
	ListAssets(ctx context.Context, activeOnly bool) ([]Asset, error)

	LatestPrices(ctx context.Context, symbols []string) (map[string]PriceTick, error)
	// PriceHistories returns ticks at or after since, oldest first.
	PriceHistories(ctx context.Context, symbols []string, since time.Time) (map[string][]PriceTick, error)
	InsertTick(ctx context.Context, tick PriceTick) error
	PurgeTicksBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// TradesFor returns each filter's trades newest first.
	TradesFor(ctx context.Context, filters []TradeFilter) (map[TradeFilter][]Trade, error)
	// HoldingsFor returns each user's positive holdings ordered by symbol.
	HoldingsFor(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID][]Holding, error)
	// ExecuteTrade inserts the trade and adjusts the holding in one
	// transaction. Holdings that drop to zero or below are removed.
	ExecuteTrade(ctx context.Context, req TradeRequest) (Trade, error)
}

// Wallet is the downstream wallet service. token is the caller's bearer token.
type Wallet interface {
	Balance(ctx context.Context, token string) (WalletBalance, error)
	Transactions(ctx context.Context, token string) ([]WalletTransaction, error)
}
