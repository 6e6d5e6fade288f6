package executor

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Pattern: Calls comparison
func TestRouting_SyncFieldsResolveBeforeTheirDepthBatch(t *testing.T) {
	// Only the lookups are async; projections off the loaded value are not.
	sch := brokerSchema(t, "Query.latestPrice", "PriceTick.asset")
	rt := NewMockRuntime(brokerResolvers())
	exec := NewExecutor(rt, sch)

	got := exec.ExecuteRequest(context.Background(), mustParseQuery(t, `{
		holdings { assetSymbol }
		latestPrice(assetSymbol: "BTC") { priceUsd asset { symbol } }
	}`), "", nil, nil)
	if len(got.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", got.Errors)
	}

	btc := tick("BTC", "60000")
	holdings := []any{
		map[string]any{"assetSymbol": "BTC", "quantity": "0.5"},
		map[string]any{"assetSymbol": "XAU", "quantity": "2"},
		map[string]any{"assetSymbol": "ETH", "quantity": "1.25"},
	}
	wantCalls := []Call{
		{Kind: "sync", ObjectType: "Query", Field: "holdings", Args: map[string]any{}},
		{Kind: "sync", ObjectType: "Holding", Field: "assetSymbol", Source: holdings[0], Args: map[string]any{}},
		{Kind: "sync", ObjectType: "Holding", Field: "assetSymbol", Source: holdings[1], Args: map[string]any{}},
		{Kind: "sync", ObjectType: "Holding", Field: "assetSymbol", Source: holdings[2], Args: map[string]any{}},
		{Kind: "async", ObjectType: "Query", Field: "latestPrice", Args: map[string]any{"assetSymbol": "BTC"}, BatchID: 1},
		{Kind: "sync", ObjectType: "PriceTick", Field: "priceUsd", Source: btc, Args: map[string]any{}},
		{Kind: "async", ObjectType: "PriceTick", Field: "asset", Source: btc, Args: map[string]any{}, BatchID: 2},
		{Kind: "sync", ObjectType: "Asset", Field: "symbol", Source: map[string]any{"symbol": "BTC"}, Args: map[string]any{}},
	}
	if diff := cmp.Diff(wantCalls, rt.GetCalls()); diff != "" {
		t.Fatalf("Runtime calls mismatch (-want +got):\n%s", diff)
	}
}
