package pricefeed

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	broker "github.com/hanpama/brokergraph/internal/broker"
	"github.com/hanpama/brokergraph/internal/eventbus"
	"github.com/hanpama/brokergraph/internal/events"
)

// DefaultSymbols are collected when no symbol list is configured.
var DefaultSymbols = []string{"XAU", "XAG", "BTC", "ETH", "XPD", "HG"}

// Retention is how long ticks stay in the ring before Collect purges them.
const Retention = 24 * time.Hour

type Source interface {
	FetchPrice(ctx context.Context, symbol string) (broker.Decimal, error)
}

// TickStore is the part of the broker store the ingestor writes to.
type TickStore interface {
	InsertTick(ctx context.Context, t broker.PriceTick) error
	PurgeTicksBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Ingestor struct {
	source  Source
	store   TickStore
	symbols []string
	now     func() time.Time
	logger  *zap.Logger
}

type IngestorOption func(*Ingestor)

func WithSymbols(symbols ...string) IngestorOption {
	return func(i *Ingestor) {
		if len(symbols) > 0 {
			i.symbols = symbols
		}
	}
}

func WithClock(now func() time.Time) IngestorOption { return func(i *Ingestor) { i.now = now } }

func WithLogger(l *zap.Logger) IngestorOption { return func(i *Ingestor) { i.logger = l } }

func NewIngestor(source Source, store TickStore, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{source: source, store: store, symbols: DefaultSymbols, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *Ingestor) Symbols() []string { return append([]string(nil), i.symbols...) }

// RecordNow fetches the current price of symbol and stores it as a tick
// stamped with the current UTC time.
func (i *Ingestor) RecordNow(ctx context.Context, symbol string) (err error) {
	start := time.Now()
	defer func() {
		eventbus.Publish(ctx, events.PriceRecorded{Symbol: symbol, Duration: time.Since(start), Err: err})
	}()

	price, err := i.source.FetchPrice(ctx, symbol)
	if err != nil {
		return err
	}
	if price.Sign() <= 0 {
		return errors.Errorf("non-positive price %s for %s", price, symbol)
	}
	ts := i.now().UTC()
	if err := i.store.InsertTick(ctx, broker.PriceTick{AssetSymbol: symbol, PriceUSD: price, SourceTs: ts, IngestedTs: ts}); err != nil {
		return errors.Wrapf(err, "record %s", symbol)
	}
	i.logger.Debug("price recorded", zap.String("symbol", symbol), zap.Stringer("price_usd", price), zap.Time("ts", ts))
	return nil
}

// Report summarizes one Collect round.
type Report struct {
	OK     int
	Failed int
	Purged int64
}

// Collect records every configured symbol, then drops ticks older than the
// retention window. A failing symbol never stops the others.
func (i *Ingestor) Collect(ctx context.Context) Report {
	var r Report
	for _, s := range i.symbols {
		if err := i.RecordNow(ctx, s); err != nil {
			r.Failed++
			i.logger.Error("record price failed", zap.String("symbol", s), zap.Error(err))
			continue
		}
		r.OK++
	}
	n, err := i.store.PurgeTicksBefore(ctx, i.now().Add(-Retention))
	if err != nil {
		i.logger.Error("purge ticks failed", zap.Error(err))
	} else {
		r.Purged = n
		if n > 0 {
			i.logger.Info("purged old ticks", zap.Int64("count", n))
		}
	}
	i.logger.Info("collect done", zap.Int("ok", r.OK), zap.Int("err", r.Failed))
	eventbus.Publish(ctx, events.PriceCollected{OK: r.OK, Failed: r.Failed, Purged: r.Purged})
	return r
}
