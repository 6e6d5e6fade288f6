package broker

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/lo"

	dataloader "github.com/hanpama/brokergraph/internal/dataloader"
	dispatch "github.com/hanpama/brokergraph/internal/dispatch"
)

// Loader names double as the "loader" label of batch metrics.
const (
	loaderAssets        = "assets"
	loaderCatalog       = "assets.catalog"
	loaderLatestPrices  = "prices.latest"
	loaderHistories     = "prices.history"
	loaderTrades        = "trades"
	loaderHoldings      = "holdings"
	loaderWalletBalance = "wallet.balance"
	loaderWalletHistory = "wallet.transactions"
)

// scope returns the request's loader scope. Outside a request every call
// gets a throwaway scope, which still batches within that call.
func scope(ctx context.Context) *dataloader.Scope {
	if ec := dispatch.FromContext(ctx); ec != nil && ec.Loaders != nil {
		return ec.Loaders
	}
	return dataloader.NewScope()
}

func (s *Service) assets(ctx context.Context) *dataloader.Loader[string, *Asset] {
	return dataloader.Get(scope(ctx), loaderAssets, func(ctx context.Context, symbols []string) (map[string]*Asset, error) {
		found, err := s.store.AssetsBySymbol(ctx, symbols)
		if err != nil {
			return nil, err
		}
		out := make(map[string]*Asset, len(found))
		for k, a := range found {
			out[k] = &a
		}
		return out, nil
	})
}

// catalog lists every asset once and derives the active-only view from it.
func (s *Service) catalog(ctx context.Context) *dataloader.Loader[bool, []Asset] {
	return dataloader.Get(scope(ctx), loaderCatalog, func(ctx context.Context, keys []bool) (map[bool][]Asset, error) {
		all, err := s.store.ListAssets(ctx, false)
		if err != nil {
			return nil, err
		}
		out := make(map[bool][]Asset, len(keys))
		for _, activeOnly := range keys {
			if !activeOnly {
				out[false] = nonNil(all)
				continue
			}
			out[true] = lo.Filter(all, func(a Asset, _ int) bool { return a.IsActive })
		}
		return out, nil
	})
}

func (s *Service) latestPrices(ctx context.Context) *dataloader.Loader[string, *PriceTick] {
	return dataloader.Get(scope(ctx), loaderLatestPrices, func(ctx context.Context, symbols []string) (map[string]*PriceTick, error) {
		found, err := s.store.LatestPrices(ctx, symbols)
		if err != nil {
			return nil, err
		}
		out := make(map[string]*PriceTick, len(found))
		for k, t := range found {
			out[k] = &t
		}
		return out, nil
	})
}

func (s *Service) histories(ctx context.Context) *dataloader.Loader[string, []PriceTick] {
	return dataloader.Get(scope(ctx), loaderHistories, func(ctx context.Context, symbols []string) (map[string][]PriceTick, error) {
		found, err := s.store.PriceHistories(ctx, symbols, s.now().Add(-HistoryWindow))
		if err != nil {
			return nil, err
		}
		return fill(symbols, found), nil
	})
}

func (s *Service) trades(ctx context.Context) *dataloader.Loader[TradeFilter, []Trade] {
	return dataloader.Get(scope(ctx), loaderTrades, func(ctx context.Context, filters []TradeFilter) (map[TradeFilter][]Trade, error) {
		found, err := s.store.TradesFor(ctx, filters)
		if err != nil {
			return nil, err
		}
		return fill(filters, found), nil
	})
}

func (s *Service) positions(ctx context.Context) *dataloader.Loader[uuid.UUID, []Holding] {
	return dataloader.Get(scope(ctx), loaderHoldings, func(ctx context.Context, users []uuid.UUID) (map[uuid.UUID][]Holding, error) {
		found, err := s.store.HoldingsFor(ctx, users)
		if err != nil {
			return nil, err
		}
		return fill(users, found), nil
	})
}

// Wallet loaders are keyed by the forwarded token, so a request reaches the
// wallet at most once per call kind.
func (s *Service) walletBalances(ctx context.Context) *dataloader.Loader[string, *WalletBalance] {
	return dataloader.Get(scope(ctx), loaderWalletBalance, func(ctx context.Context, tokens []string) (map[string]*WalletBalance, error) {
		out := make(map[string]*WalletBalance, len(tokens))
		for _, tok := range tokens {
			b, err := s.wallet.Balance(ctx, tok)
			if err != nil {
				return nil, err
			}
			out[tok] = &b
		}
		return out, nil
	})
}

func (s *Service) walletHistory(ctx context.Context) *dataloader.Loader[string, []WalletTransaction] {
	return dataloader.Get(scope(ctx), loaderWalletHistory, func(ctx context.Context, tokens []string) (map[string][]WalletTransaction, error) {
		out := make(map[string][]WalletTransaction, len(tokens))
		for _, tok := range tokens {
			list, err := s.wallet.Transactions(ctx, tok)
			if err != nil {
				return nil, err
			}
			out[tok] = nonNil(list)
		}
		return out, nil
	})
}

// fill gives every key a list, empty when the store found nothing for it.
func fill[K comparable, T any](keys []K, found map[K][]T) map[K][]T {
	out := make(map[K][]T, len(keys))
	for _, k := range keys {
		out[k] = nonNil(found[k])
	}
	return out
}

// nonNil keeps empty results as empty lists rather than nulls.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
