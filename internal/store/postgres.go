// Package store persists broker state. Postgres is the production store;
// Memory backs tests and local runs without a database.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	broker "github.com/hanpama/brokergraph/internal/broker"
	dataloader "github.com/hanpama/brokergraph/internal/dataloader"
)

//go:embed schema.sql
var schemaSQL string

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ broker.Store = (*Postgres)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts Options, logger *zap.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return New(db, logger), nil
}

func New(db *sql.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) Close() error { return p.db.Close() }

// Ping backs the health endpoint.
func (p *Postgres) Ping(ctx context.Context) error {
	return classify(p.db.PingContext(ctx), "ping postgres")
}

// Migrate creates the broker schema if it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "migrate broker schema")
	}
	return nil
}

// classify marks connection level failures as unavailable so loaders retry them.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, msg)
	var pqErr *pq.Error
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return dataloader.Unavailable(wrapped)
	case errors.As(err, &netErr):
		return dataloader.Unavailable(wrapped)
	case errors.As(err, &pqErr):
		// class 08: connection exception; 57P0x: server shutting down or starting
		code := string(pqErr.Code)
		if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P0") {
			return dataloader.Unavailable(wrapped)
		}
	}
	return wrapped
}

func (p *Postgres) AssetsBySymbol(ctx context.Context, symbols []string) (map[string]broker.Asset, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT asset_symbol, name, is_active, min_trade_increment
		FROM broker.assets
		WHERE asset_symbol = ANY($1)`, pq.Array(symbols))
	if err != nil {
		return nil, classify(err, "query assets")
	}
	defer rows.Close()

	out := make(map[string]broker.Asset, len(symbols))
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out[a.Symbol] = a
	}
	return out, classify(rows.Err(), "read assets")
}

func (p *Postgres) ListAssets(ctx context.Context, activeOnly bool) ([]broker.Asset, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT asset_symbol, name, is_active, min_trade_increment
		FROM broker.assets
		WHERE is_active OR NOT $1
		ORDER BY asset_symbol`, activeOnly)
	if err != nil {
		return nil, classify(err, "list assets")
	}
	defer rows.Close()

	var out []broker.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, classify(rows.Err(), "read assets")
}

func scanAsset(rows *sql.Rows) (broker.Asset, error) {
	var a broker.Asset
	var inc sql.Null[broker.Decimal]
	if err := rows.Scan(&a.Symbol, &a.Name, &a.IsActive, &inc); err != nil {
		return a, errors.Wrap(err, "scan asset")
	}
	if inc.Valid {
		a.MinTradeIncrement = &inc.V
	}
	return a, nil
}

const tickColumns = `asset_symbol, slot, price_usd, source_ts_utc, ingested_ts_utc, is_carry`

func (p *Postgres) LatestPrices(ctx context.Context, symbols []string) (map[string]broker.PriceTick, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (asset_symbol) `+tickColumns+`
		FROM broker.asset_prices_ring
		WHERE asset_symbol = ANY($1)
		ORDER BY asset_symbol, source_ts_utc DESC`, pq.Array(symbols))
	if err != nil {
		return nil, classify(err, "query latest prices")
	}
	defer rows.Close()

	out := make(map[string]broker.PriceTick, len(symbols))
	for rows.Next() {
		t, err := scanTick(rows)
		if err != nil {
			return nil, err
		}
		out[t.AssetSymbol] = t
	}
	return out, classify(rows.Err(), "read latest prices")
}

func (p *Postgres) PriceHistories(ctx context.Context, symbols []string, since time.Time) (map[string][]broker.PriceTick, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tickColumns+`
		FROM broker.asset_prices_ring
		WHERE asset_symbol = ANY($1) AND source_ts_utc >= $2
		ORDER BY asset_symbol, source_ts_utc ASC`, pq.Array(symbols), since.UTC())
	if err != nil {
		return nil, classify(err, "query price history")
	}
	defer rows.Close()

	out := make(map[string][]broker.PriceTick, len(symbols))
	for rows.Next() {
		t, err := scanTick(rows)
		if err != nil {
			return nil, err
		}
		out[t.AssetSymbol] = append(out[t.AssetSymbol], t)
	}
	return out, classify(rows.Err(), "read price history")
}

func scanTick(rows *sql.Rows) (broker.PriceTick, error) {
	var t broker.PriceTick
	if err := rows.Scan(&t.AssetSymbol, &t.Slot, &t.PriceUSD, &t.SourceTs, &t.IngestedTs, &t.IsCarry); err != nil {
		return t, errors.Wrap(err, "scan price tick")
	}
	t.SourceTs, t.IngestedTs = t.SourceTs.UTC(), t.IngestedTs.UTC()
	return t, nil
}

// InsertTick writes the tick into its minute slot, overwriting whatever the
// slot held a day earlier.
func (p *Postgres) InsertTick(ctx context.Context, t broker.PriceTick) error {
	ingested := t.IngestedTs
	if ingested.IsZero() {
		ingested = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO broker.asset_prices_ring (`+tickColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset_symbol, slot) DO UPDATE SET
			price_usd = EXCLUDED.price_usd,
			source_ts_utc = EXCLUDED.source_ts_utc,
			ingested_ts_utc = EXCLUDED.ingested_ts_utc,
			is_carry = EXCLUDED.is_carry`,
		t.AssetSymbol, broker.SlotOf(t.SourceTs), t.PriceUSD, t.SourceTs.UTC(), ingested.UTC(), t.IsCarry)
	return classify(err, "insert price tick")
}

func (p *Postgres) PurgeTicksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM broker.asset_prices_ring WHERE source_ts_utc < $1`, cutoff.UTC())
	if err != nil {
		return 0, classify(err, "purge price ticks")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "purge price ticks")
}

// TradesFor reads every trade of the filters' users in one query and hands
// each row to the filters it matches.
func (p *Postgres) TradesFor(ctx context.Context, filters []broker.TradeFilter) (map[broker.TradeFilter][]broker.Trade, error) {
	users := lo.Uniq(lo.Map(filters, func(f broker.TradeFilter, _ int) string { return f.UserID.String() }))
	rows, err := p.db.QueryContext(ctx, `
		SELECT trade_id, user_id, asset_symbol, side::text, quantity, price_usd, executed_at, created_at
		FROM broker.trades
		WHERE user_id = ANY($1::uuid[])
		ORDER BY executed_at DESC`, pq.Array(users))
	if err != nil {
		return nil, classify(err, "query trades")
	}
	defer rows.Close()

	out := make(map[broker.TradeFilter][]broker.Trade, len(filters))
	for rows.Next() {
		var t broker.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.UserID, &t.AssetSymbol, &side, &t.Quantity, &t.PriceUSD, &t.ExecutedAt, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan trade")
		}
		t.Side = broker.Side(side)
		t.ExecutedAt, t.CreatedAt = t.ExecutedAt.UTC(), t.CreatedAt.UTC()
		for _, f := range filters {
			if f.UserID == t.UserID && (f.Symbol == "" || f.Symbol == t.AssetSymbol) {
				out[f] = append(out[f], t)
			}
		}
	}
	return out, classify(rows.Err(), "read trades")
}

func (p *Postgres) HoldingsFor(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID][]broker.Holding, error) {
	users := lo.Map(userIDs, func(u uuid.UUID, _ int) string { return u.String() })
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, asset_symbol, quantity, last_updated
		FROM broker.held_trades
		WHERE user_id = ANY($1::uuid[]) AND quantity > 0
		ORDER BY user_id, asset_symbol`, pq.Array(users))
	if err != nil {
		return nil, classify(err, "query holdings")
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]broker.Holding, len(userIDs))
	for rows.Next() {
		var user uuid.UUID
		var h broker.Holding
		if err := rows.Scan(&user, &h.AssetSymbol, &h.Quantity, &h.LastUpdated); err != nil {
			return nil, errors.Wrap(err, "scan holding")
		}
		h.LastUpdated = h.LastUpdated.UTC()
		out[user] = append(out[user], h)
	}
	return out, classify(rows.Err(), "read holdings")
}

// ExecuteTrade records the trade and moves the holding by the signed quantity.
// A sale locks the holding row first so concurrent sales cannot oversell.
func (p *Postgres) ExecuteTrade(ctx context.Context, req broker.TradeRequest) (trade broker.Trade, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return trade, classify(err, "begin trade")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				p.logger.Warn("rollback trade", zap.Error(rbErr))
			}
		}
	}()

	delta := req.Quantity
	if req.Side == broker.Sell {
		var held broker.Decimal
		err = tx.QueryRowContext(ctx, `
			SELECT quantity FROM broker.held_trades
			WHERE user_id = $1 AND asset_symbol = $2
			FOR UPDATE`, req.UserID, req.AssetSymbol).Scan(&held)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && held.Cmp(req.Quantity) < 0) {
			return trade, broker.ErrInsufficientHoldings
		}
		if err != nil {
			return trade, classify(err, "read holding")
		}
		delta = req.Quantity.Neg()
	}

	trade = broker.Trade{
		ID:          uuid.New(),
		UserID:      req.UserID,
		AssetSymbol: req.AssetSymbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		PriceUSD:    req.PriceUSD,
		ExecutedAt:  req.ExecutedAt.UTC(),
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO broker.trades (trade_id, user_id, asset_symbol, side, quantity, price_usd, executed_at)
		VALUES ($1, $2, $3, $4::broker.trade_side, $5, $6, $7)
		RETURNING created_at`,
		trade.ID, trade.UserID, trade.AssetSymbol, string(trade.Side), trade.Quantity, trade.PriceUSD, trade.ExecutedAt,
	).Scan(&trade.CreatedAt)
	if err != nil {
		return trade, classify(err, "insert trade")
	}
	trade.CreatedAt = trade.CreatedAt.UTC()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO broker.held_trades AS h (user_id, asset_symbol, quantity, last_updated)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, asset_symbol)
		DO UPDATE SET quantity = h.quantity + EXCLUDED.quantity, last_updated = now()`,
		req.UserID, req.AssetSymbol, delta); err != nil {
		return trade, classify(err, "adjust holding")
	}
	if _, err = tx.ExecContext(ctx, `
		DELETE FROM broker.held_trades
		WHERE user_id = $1 AND asset_symbol = $2 AND quantity <= 0`,
		req.UserID, req.AssetSymbol); err != nil {
		return trade, classify(err, "drop empty holding")
	}
	if err = tx.Commit(); err != nil {
		return trade, classify(err, "commit trade")
	}
	return trade, nil
}
