package broker

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	dataloader "github.com/hanpama/brokergraph/internal/dataloader"
	dispatch "github.com/hanpama/brokergraph/internal/dispatch"
)

// TradeInput is the decoded executeTrade argument.
type TradeInput struct {
	AssetSymbol string
	Side        Side
	Quantity    Decimal
}

// ParseTradeInput checks the shape of the input object: symbol present, side
// BUY or SELL, quantity a positive number.
func ParseTradeInput(v any) (TradeInput, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return TradeInput{}, badInput("trade input is required")
	}
	var in TradeInput

	sym, _ := m["assetSymbol"].(string)
	in.AssetSymbol = strings.TrimSpace(sym)
	if in.AssetSymbol == "" {
		return TradeInput{}, badInput("asset symbol is required")
	}

	side, _ := m["side"].(string)
	in.Side = Side(side)
	if !in.Side.Valid() {
		return TradeInput{}, badInput("side must be BUY or SELL")
	}

	q, err := DecimalFrom(m["quantity"])
	if err != nil {
		return TradeInput{}, badInput("quantity must be a number")
	}
	if q.Sign() <= 0 {
		return TradeInput{}, badInput("quantity must be positive")
	}
	in.Quantity = q
	return in, nil
}

// executeTrade applies the trade rules against current state, then persists
// the trade and the holding change in one store transaction. The asset and
// its latest price come through the request's loaders, so both reads share
// one round and get the loaders' retry on an unavailable store. The write
// itself is never retried.
func (s *Service) executeTrade(ctx context.Context, p dispatch.Params) (any, error) {
	user, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	in, err := ParseTradeInput(p.Args["input"])
	if err != nil {
		return nil, err
	}

	price := s.latestPrices(ctx).Load(in.AssetSymbol)
	return dataloader.ThenLoad(s.assets(ctx).Load(in.AssetSymbol), func(asset *Asset) *dataloader.Future[TradeResult] {
		if asset == nil || !asset.IsActive {
			return dataloader.Failed[TradeResult](badInput("invalid or inactive asset: %s", in.AssetSymbol))
		}
		if asset.MinTradeIncrement != nil && !in.Quantity.IsMultipleOf(*asset.MinTradeIncrement) {
			return dataloader.Failed[TradeResult](badInput("quantity must be a multiple of %s", asset.MinTradeIncrement))
		}
		return dataloader.Then(price, func(tick *PriceTick) (TradeResult, error) {
			if tick == nil || tick.PriceUSD.Sign() <= 0 {
				return TradeResult{}, &Error{Code: CodePriceUnavailable, Message: "unable to get current price for asset: " + in.AssetSymbol}
			}
			return s.persistTrade(ctx, user, in, tick.PriceUSD)
		})
	}), nil
}

func (s *Service) persistTrade(ctx context.Context, user uuid.UUID, in TradeInput, price Decimal) (TradeResult, error) {
	trade, err := s.store.ExecuteTrade(ctx, TradeRequest{
		UserID:      user,
		AssetSymbol: in.AssetSymbol,
		Side:        in.Side,
		Quantity:    in.Quantity,
		PriceUSD:    price,
		ExecutedAt:  s.now().UTC(),
	})
	if errors.Is(err, ErrInsufficientHoldings) {
		return TradeResult{}, badInput("insufficient holdings to sell %s %s", in.Quantity, in.AssetSymbol)
	}
	if err != nil {
		return TradeResult{}, err
	}
	s.logger.Info("trade executed",
		zap.Stringer("trade_id", trade.ID),
		zap.Stringer("user_id", user),
		zap.String("asset", trade.AssetSymbol),
		zap.String("side", string(trade.Side)),
		zap.Stringer("quantity", trade.Quantity),
		zap.Stringer("price_usd", trade.PriceUSD))
	return TradeResult{Trade: trade}, nil
}
