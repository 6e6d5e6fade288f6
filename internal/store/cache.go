package store

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	broker "github.com/hanpama/brokergraph/internal/broker"
)

// AssetCache keeps asset metadata across requests. Asset rows change only
// through migrations, so lookups by symbol are served from memory until the
// TTL expires. Every other Store method passes through.
type AssetCache struct {
	broker.Store
	cache *ristretto.Cache[string, broker.Asset]
	ttl   time.Duration
}

var _ broker.Store = (*AssetCache)(nil)

func NewAssetCache(next broker.Store, ttl time.Duration) (*AssetCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, broker.Asset]{
		NumCounters: 1e4,
		MaxCost:     1 << 12,
		BufferItems: 64,
		Cost:        func(broker.Asset) int64 { return 1 },
	})
	if err != nil {
		return nil, errors.Wrap(err, "create asset cache")
	}
	return &AssetCache{Store: next, cache: cache, ttl: ttl}, nil
}

func (c *AssetCache) AssetsBySymbol(ctx context.Context, symbols []string) (map[string]broker.Asset, error) {
	out := make(map[string]broker.Asset, len(symbols))
	var missing []string
	for _, s := range symbols {
		if a, ok := c.cache.Get(s); ok {
			out[s] = a
			continue
		}
		missing = append(missing, s)
	}
	if len(missing) == 0 {
		return out, nil
	}

	found, err := c.Store.AssetsBySymbol(ctx, missing)
	if err != nil {
		return nil, err
	}
	for s, a := range found {
		out[s] = a
		c.cache.SetWithTTL(s, a, 1, c.ttl)
	}
	c.cache.Wait()
	return out, nil
}

func (c *AssetCache) Close() {
	c.cache.Close()
}
