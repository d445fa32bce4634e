package obcache

import (
	"testing"

	"github.com/shopspring/decimal"

	"arb-engine/pkg/types"
)

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func TestNormalize_DropsZeroSizeAndMergesDuplicates(t *testing.T) {
	t.Parallel()
	ob := &types.Orderbook{
		Bids: []types.PriceLevel{lvl("0.40", "5"), lvl("0.40", "3"), lvl("0.39", "0")},
		Asks: []types.PriceLevel{lvl("0.50", "2")},
	}

	if err := Normalize(ob); err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if len(ob.Bids) != 1 {
		t.Fatalf("bids = %v, want one merged level", ob.Bids)
	}
	if !ob.Bids[0].Size.Equal(decimal.RequireFromString("8")) {
		t.Errorf("merged bid size = %s, want 8", ob.Bids[0].Size)
	}
}

func TestNormalize_RejectsCrossedBook(t *testing.T) {
	t.Parallel()
	ob := &types.Orderbook{
		Bids: []types.PriceLevel{lvl("0.60", "1")},
		Asks: []types.PriceLevel{lvl("0.50", "1")},
	}

	if err := Normalize(ob); err == nil {
		t.Fatal("expected an error for a crossed book, got nil")
	}
}

func TestNormalize_SortsDescendingBidsAscendingAsks(t *testing.T) {
	t.Parallel()
	ob := &types.Orderbook{
		Bids: []types.PriceLevel{lvl("0.30", "1"), lvl("0.40", "1")},
		Asks: []types.PriceLevel{lvl("0.60", "1"), lvl("0.55", "1")},
	}

	if err := Normalize(ob); err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if ob.Bids[0].Price.LessThan(ob.Bids[1].Price) {
		t.Error("bids not sorted descending")
	}
	if ob.Asks[0].Price.GreaterThan(ob.Asks[1].Price) {
		t.Error("asks not sorted ascending")
	}
}
