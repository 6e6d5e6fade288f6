package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	broker "github.com/hanpama/brokergraph/internal/broker"
)

type holdingKey struct {
	user   uuid.UUID
	symbol string
}

// Memory is an in-process Store. It keeps the same ring and holding rules as
// Postgres and counts calls per method.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	assets   map[string]broker.Asset
	ring     map[string][broker.SlotsPerDay]*broker.PriceTick
	trades   []broker.Trade
	holdings map[holdingKey]broker.Holding
	calls    map[string]int
	failures map[string][]error
}

var _ broker.Store = (*Memory)(nil)

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:      now,
		assets:   make(map[string]broker.Asset),
		ring:     make(map[string][broker.SlotsPerDay]*broker.PriceTick),
		holdings: make(map[holdingKey]broker.Holding),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// PutAsset adds or replaces an asset.
func (m *Memory) PutAsset(a broker.Asset) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.Symbol] = a
	return m
}

// FailNext makes the next len(errs) calls of method return those errors.
func (m *Memory) FailNext(method string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = append(m.failures[method], errs...)
}

// Calls reports how often method was called.
func (m *Memory) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// enter records a call; the caller must hold m.mu.
func (m *Memory) enter(method string) error {
	m.calls[method]++
	if errs := m.failures[method]; len(errs) > 0 {
		m.failures[method] = errs[1:]
		return errs[0]
	}
	return nil
}

func (m *Memory) AssetsBySymbol(ctx context.Context, symbols []string) (map[string]broker.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AssetsBySymbol"); err != nil {
		return nil, err
	}
	out := make(map[string]broker.Asset, len(symbols))
	for _, s := range symbols {
		if a, ok := m.assets[s]; ok {
			out[s] = a
		}
	}
	return out, nil
}

func (m *Memory) ListAssets(ctx context.Context, activeOnly bool) ([]broker.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListAssets"); err != nil {
		return nil, err
	}
	out := []broker.Asset{}
	for _, a := range m.assets {
		if a.IsActive || !activeOnly {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *Memory) LatestPrices(ctx context.Context, symbols []string) (map[string]broker.PriceTick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LatestPrices"); err != nil {
		return nil, err
	}
	out := make(map[string]broker.PriceTick, len(symbols))
	for _, s := range symbols {
		var latest *broker.PriceTick
		for _, t := range m.ring[s] {
			if t != nil && (latest == nil || t.SourceTs.After(latest.SourceTs)) {
				latest = t
			}
		}
		if latest != nil {
			out[s] = *latest
		}
	}
	return out, nil
}

func (m *Memory) PriceHistories(ctx context.Context, symbols []string, since time.Time) (map[string][]broker.PriceTick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PriceHistories"); err != nil {
		return nil, err
	}
	out := make(map[string][]broker.PriceTick, len(symbols))
	for _, s := range symbols {
		var ticks []broker.PriceTick
		for _, t := range m.ring[s] {
			if t != nil && !t.SourceTs.Before(since) {
				ticks = append(ticks, *t)
			}
		}
		if len(ticks) == 0 {
			continue
		}
		sort.Slice(ticks, func(i, j int) bool { return ticks[i].SourceTs.Before(ticks[j].SourceTs) })
		out[s] = ticks
	}
	return out, nil
}

func (m *Memory) InsertTick(ctx context.Context, t broker.PriceTick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("InsertTick"); err != nil {
		return err
	}
	t.SourceTs = t.SourceTs.UTC()
	t.Slot = broker.SlotOf(t.SourceTs)
	if t.IngestedTs.IsZero() {
		t.IngestedTs = m.now().UTC()
	}
	ring := m.ring[t.AssetSymbol]
	ring[t.Slot] = &t
	m.ring[t.AssetSymbol] = ring
	return nil
}

func (m *Memory) PurgeTicksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PurgeTicksBefore"); err != nil {
		return 0, err
	}
	var n int64
	for sym, ring := range m.ring {
		for i, t := range ring {
			if t != nil && t.SourceTs.Before(cutoff) {
				ring[i] = nil
				n++
			}
		}
		m.ring[sym] = ring
	}
	return n, nil
}

func (m *Memory) TradesFor(ctx context.Context, filters []broker.TradeFilter) (map[broker.TradeFilter][]broker.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("TradesFor"); err != nil {
		return nil, err
	}
	out := make(map[broker.TradeFilter][]broker.Trade, len(filters))
	for _, f := range filters {
		var list []broker.Trade
		for _, t := range m.trades {
			if t.UserID == f.UserID && (f.Symbol == "" || t.AssetSymbol == f.Symbol) {
				list = append(list, t)
			}
		}
		if len(list) == 0 {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].ExecutedAt.After(list[j].ExecutedAt) })
		out[f] = list
	}
	return out, nil
}

func (m *Memory) HoldingsFor(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID][]broker.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("HoldingsFor"); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]broker.Holding, len(userIDs))
	for _, u := range userIDs {
		for k, h := range m.holdings {
			if k.user == u && h.Quantity.Sign() > 0 {
				out[u] = append(out[u], h)
			}
		}
		if list := out[u]; len(list) > 1 {
			sort.Slice(list, func(i, j int) bool { return list[i].AssetSymbol < list[j].AssetSymbol })
		}
	}
	return out, nil
}

func (m *Memory) ExecuteTrade(ctx context.Context, req broker.TradeRequest) (broker.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ExecuteTrade"); err != nil {
		return broker.Trade{}, err
	}
	key := holdingKey{user: req.UserID, symbol: req.AssetSymbol}
	h, held := m.holdings[key]
	delta := req.Quantity
	if req.Side == broker.Sell {
		if !held || h.Quantity.Cmp(req.Quantity) < 0 {
			return broker.Trade{}, broker.ErrInsufficientHoldings
		}
		delta = req.Quantity.Neg()
	}

	now := m.now().UTC()
	t := broker.Trade{
		ID:          uuid.New(),
		UserID:      req.UserID,
		AssetSymbol: req.AssetSymbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		PriceUSD:    req.PriceUSD,
		ExecutedAt:  req.ExecutedAt.UTC(),
		CreatedAt:   now,
	}
	m.trades = append(m.trades, t)

	h.AssetSymbol = req.AssetSymbol
	h.Quantity = h.Quantity.Add(delta)
	h.LastUpdated = now
	if h.Quantity.Sign() <= 0 {
		delete(m.holdings, key)
	} else {
		m.holdings[key] = h
	}
	return t, nil
}
