// Package broker is the domain behind the gateway: asset prices, trades,
// holdings and the caller's wallet.
package broker

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	auth "github.com/hanpama/brokergraph/internal/auth"
	dataloader "github.com/hanpama/brokergraph/internal/dataloader"
	dispatch "github.com/hanpama/brokergraph/internal/dispatch"
	language "github.com/hanpama/brokergraph/internal/language"
)

//go:embed schema.graphql
var schemaSDL string

// Sources returns the broker SDL for the schema registry.
func Sources() []*language.Source {
	return []*language.Source{{Name: "broker.graphql", Input: schemaSDL}}
}

// HistoryWindow is how far back priceHistory24h reaches.
const HistoryWindow = 24 * time.Hour

type Service struct {
	store  Store
	wallet Wallet
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Service)

func WithWallet(w Wallet) Option { return func(s *Service) { s.wallet = w } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Table binds every resolver-backed field of the broker schema.
func (s *Service) Table() dispatch.Table {
	return dispatch.Table{}.
		Set("Query", "ping", s.ping).
		Set("Query", "me", s.me).
		Set("Query", "latestPrice", s.latestPrice).
		Set("Query", "currentPrice", s.latestPrice).
		Set("Query", "priceHistory24h", s.priceHistory).
		Set("Query", "asset", s.asset).
		Set("Query", "assets", s.assetList).
		Set("Query", "userTrades", s.userTrades).
		Set("Query", "userTradesByAsset", s.userTrades).
		Set("Query", "holdings", s.holdings).
		Set("Query", "walletBalance", s.walletBalance).
		Set("Query", "walletTransactions", s.walletTransactions).
		Set("Mutation", "executeTrade", s.executeTrade).
		Set("Asset", "latestPrice", s.assetLatestPrice).
		Set("PriceTick", "asset", s.linkedAsset).
		Set("Trade", "asset", s.linkedAsset).
		Set("Holding", "asset", s.linkedAsset).
		Set("Holding", "latestPrice", s.holdingLatestPrice)
}

// RuntimeOptions registers the broker's custom scalars.
func RuntimeOptions() []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithScalar("Decimal", serializeDecimal),
		dispatch.WithScalar("DateTime", serializeDateTime),
	}
}

func serializeDecimal(v any) (any, error) {
	d, err := DecimalFrom(v)
	if err != nil {
		return nil, err
	}
	return d.String(), nil
}

func serializeDateTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	case string:
		return t, nil
	}
	return nil, fmt.Errorf("DateTime cannot represent %T", v)
}

func (s *Service) ping(ctx context.Context, p dispatch.Params) (any, error) {
	return "pong", nil
}

func (s *Service) me(ctx context.Context, p dispatch.Params) (any, error) {
	pr, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	return User{ID: pr.UserID(), Subject: pr.Subject, Email: pr.Email, Scopes: append([]string{}, pr.Scopes...)}, nil
}

func (s *Service) latestPrice(ctx context.Context, p dispatch.Params) (any, error) {
	return s.latestPrices(ctx).Load(p.Args["assetSymbol"].(string)), nil
}

func (s *Service) priceHistory(ctx context.Context, p dispatch.Params) (any, error) {
	return s.histories(ctx).Load(p.Args["assetSymbol"].(string)), nil
}

func (s *Service) asset(ctx context.Context, p dispatch.Params) (any, error) {
	return s.assets(ctx).Load(p.Args["symbol"].(string)), nil
}

func (s *Service) assetList(ctx context.Context, p dispatch.Params) (any, error) {
	activeOnly, _ := p.Args["activeOnly"].(bool)
	if p.Args["activeOnly"] == nil {
		activeOnly = true
	}
	return dataloader.Then(s.catalog(ctx).Load(activeOnly), func(list []Asset) ([]Asset, error) {
		for _, a := range list {
			s.assets(ctx).Prime(a.Symbol, &a)
		}
		return list, nil
	}), nil
}

func (s *Service) userTrades(ctx context.Context, p dispatch.Params) (any, error) {
	pr, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	symbol, _ := p.Args["assetSymbol"].(string)
	return s.trades(ctx).Load(TradeFilter{UserID: pr.UserID(), Symbol: symbol}), nil
}

func (s *Service) holdings(ctx context.Context, p dispatch.Params) (any, error) {
	pr, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	return s.positions(ctx).Load(pr.UserID()), nil
}

func (s *Service) walletBalance(ctx context.Context, p dispatch.Params) (any, error) {
	if s.wallet == nil {
		return nil, &Error{Code: CodeWalletUnconfigured, Message: "wallet service is not configured"}
	}
	if _, err := principal(ctx); err != nil {
		return nil, err
	}
	return s.walletBalances(ctx).Load(auth.TokenFrom(ctx)), nil
}

func (s *Service) walletTransactions(ctx context.Context, p dispatch.Params) (any, error) {
	if s.wallet == nil {
		return nil, &Error{Code: CodeWalletUnconfigured, Message: "wallet service is not configured"}
	}
	if _, err := principal(ctx); err != nil {
		return nil, err
	}
	return s.walletHistory(ctx).Load(auth.TokenFrom(ctx)), nil
}

func (s *Service) assetLatestPrice(ctx context.Context, p dispatch.Params) (any, error) {
	return s.latestPrices(ctx).Load(symbolOf(p.Source)), nil
}

func (s *Service) holdingLatestPrice(ctx context.Context, p dispatch.Params) (any, error) {
	return s.latestPrices(ctx).Load(symbolOf(p.Source)), nil
}

func (s *Service) linkedAsset(ctx context.Context, p dispatch.Params) (any, error) {
	return s.assets(ctx).Load(symbolOf(p.Source)), nil
}

// symbolOf reads the asset symbol of any parent value that links to an asset.
func symbolOf(source any) string {
	switch v := source.(type) {
	case Asset:
		return v.Symbol
	case *Asset:
		return v.Symbol
	case PriceTick:
		return v.AssetSymbol
	case *PriceTick:
		return v.AssetSymbol
	case Trade:
		return v.AssetSymbol
	case Holding:
		return v.AssetSymbol
	}
	return ""
}

// principal returns the caller. Resolvers needing a user fail without one.
func principal(ctx context.Context) (*auth.Principal, error) {
	if ec := dispatch.FromContext(ctx); ec != nil && ec.Principal != nil {
		return ec.Principal, nil
	}
	if p, ok := auth.PrincipalFrom(ctx); ok {
		return p, nil
	}
	return nil, &Error{Code: "UNAUTHENTICATED", Message: "user not authenticated"}
}

func userID(ctx context.Context) (uuid.UUID, error) {
	p, err := principal(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return p.UserID(), nil
}
