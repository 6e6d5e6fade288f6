package broker

import (
	"time"

	"github.com/google/uuid"
)

// SlotsPerDay is the size of the price ring: one slot per minute of the UTC day.
const SlotsPerDay = 1440

// SlotOf returns the ring slot a tick taken at t is stored in.
func SlotOf(t time.Time) int {
	return int(t.UTC().Unix()/60) % SlotsPerDay
}

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

type Asset struct {
	Symbol            string
	Name              string
	IsActive          bool
	MinTradeIncrement *Decimal
}

func (a Asset) GraphQLField(name string) (any, bool) {
	switch name {
	case "symbol":
		return a.Symbol, true
	case "name":
		return a.Name, true
	case "isActive":
		return a.IsActive, true
	case "minTradeIncrement":
		if a.MinTradeIncrement == nil {
			return nil, true
		}
		return *a.MinTradeIncrement, true
	}
	return nil, false
}

type PriceTick struct {
	AssetSymbol string
	Slot        int
	PriceUSD    Decimal
	SourceTs    time.Time
	IngestedTs  time.Time
	IsCarry     bool
}

func (p PriceTick) GraphQLField(name string) (any, bool) {
	switch name {
	case "assetSymbol":
		return p.AssetSymbol, true
	case "slot":
		return p.Slot, true
	case "priceUsd":
		return p.PriceUSD, true
	case "sourceTs":
		return p.SourceTs, true
	case "ingestedTs":
		return p.IngestedTs, true
	case "isCarry":
		return p.IsCarry, true
	}
	return nil, false
}

type Trade struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	AssetSymbol string
	Side        Side
	Quantity    Decimal
	PriceUSD    Decimal
	ExecutedAt  time.Time
	CreatedAt   time.Time
}

func (t Trade) GraphQLField(name string) (any, bool) {
	switch name {
	case "tradeId":
		return t.ID.String(), true
	case "assetSymbol":
		return t.AssetSymbol, true
	case "side":
		return string(t.Side), true
	case "quantity":
		return t.Quantity, true
	case "priceUsd":
		return t.PriceUSD, true
	case "executedAt":
		return t.ExecutedAt, true
	case "createdAt":
		if t.CreatedAt.IsZero() {
			return nil, true
		}
		return t.CreatedAt, true
	}
	return nil, false
}

// TradeResult is what executeTrade returns; it exposes the same fields as
// Trade without the asset link.
type TradeResult struct{ Trade }

type Holding struct {
	AssetSymbol string
	Quantity    Decimal
	LastUpdated time.Time
}

func (h Holding) GraphQLField(name string) (any, bool) {
	switch name {
	case "assetSymbol":
		return h.AssetSymbol, true
	case "quantity":
		return h.Quantity, true
	case "lastUpdated":
		return h.LastUpdated, true
	}
	return nil, false
}

type User struct {
	ID      uuid.UUID
	Subject string
	Email   string
	Scopes  []string
}

func (u User) GraphQLField(name string) (any, bool) {
	switch name {
	case "id":
		return u.ID.String(), true
	case "subject":
		return u.Subject, true
	case "email":
		if u.Email == "" {
			return nil, true
		}
		return u.Email, true
	case "scopes":
		return u.Scopes, true
	}
	return nil, false
}

type WalletBalance struct {
	CurrentBalance Decimal
	Currency       string
}

func (w WalletBalance) GraphQLField(name string) (any, bool) {
	switch name {
	case "currentBalance":
		return w.CurrentBalance, true
	case "currency":
		return w.Currency, true
	}
	return nil, false
}

type WalletTransaction struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Amount      *Decimal `json:"amount"`
	Currency    string   `json:"currency"`
	Description string   `json:"description"`
	CreatedAt   string   `json:"createdAt"`
}

func (w WalletTransaction) GraphQLField(name string) (any, bool) {
	var v string
	switch name {
	case "id":
		v = w.ID
	case "type":
		v = w.Type
	case "amount":
		if w.Amount == nil {
			return nil, true
		}
		return *w.Amount, true
	case "currency":
		v = w.Currency
	case "description":
		v = w.Description
	case "createdAt":
		v = w.CreatedAt
	default:
		return nil, false
	}
	if v == "" {
		return nil, true
	}
	return v, true
}
