package guard

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bookWith(bid, ask string) *types.Orderbook {
	return &types.Orderbook{
		Bids: []types.PriceLevel{{Price: d(bid), Size: d("100")}},
		Asks: []types.PriceLevel{{Price: d(ask), Size: d("100")}},
	}
}

func TestGuard_BuyInvalidatesWhenHedgeAskExceedsBound(t *testing.T) {
	t.Parallel()

	var transitions []State
	g := New(Params{
		Direction:     types.BUY,
		PredictLeg:    d("0.45"),
		MaxHedgePrice: d("0.50"),
		MaxTotalCost:  d("0.97"),
		FeeBps:        50,
	}, 0, func(s State) { transitions = append(transitions, s) })

	if g.State() != Valid {
		t.Fatalf("initial state = %s, want VALID", g.State())
	}

	g.OnBookUpdate(bookWith("0.49", "0.60"))
	if g.State() != Invalid {
		t.Fatalf("state after widened ask = %s, want INVALID", g.State())
	}
	if len(transitions) != 1 || transitions[0] != Invalid {
		t.Fatalf("expected exactly one edge-triggered transition to INVALID, got %v", transitions)
	}

	// Re-evaluating with the same book must not fire another transition.
	g.OnBookUpdate(bookWith("0.49", "0.60"))
	if len(transitions) != 1 {
		t.Fatalf("expected no duplicate transition, got %v", transitions)
	}

	g.OnBookUpdate(bookWith("0.49", "0.48"))
	if g.State() != Valid {
		t.Fatalf("state after ask back in bound = %s, want VALID", g.State())
	}
}

func TestGuard_ThrottleSkipsRapidReevaluation(t *testing.T) {
	t.Parallel()

	evalCount := 0
	g := New(Params{
		Direction:     types.BUY,
		PredictLeg:    d("0.45"),
		MaxHedgePrice: d("0.50"),
		MaxTotalCost:  d("0.97"),
	}, time.Hour, func(State) { evalCount++ })

	g.OnBookUpdate(bookWith("0.49", "0.60")) // first eval: flips to INVALID
	g.OnBookUpdate(bookWith("0.49", "0.48")) // throttled: should not re-evaluate

	if g.State() != Invalid {
		t.Fatalf("state = %s, want INVALID (second update should have been throttled)", g.State())
	}
	if evalCount != 1 {
		t.Fatalf("onTransition fired %d times, want 1", evalCount)
	}
}

func TestGuard_SellUsesMinHedgePrice(t *testing.T) {
	t.Parallel()

	g := New(Params{
		Direction:     types.SELL,
		MinHedgePrice: d("0.40"),
	}, 0, nil)

	g.OnBookUpdate(bookWith("0.35", "0.45"))
	if g.State() != Invalid {
		t.Fatalf("state = %s, want INVALID when bid below MinHedgePrice", g.State())
	}

	g.OnBookUpdate(bookWith("0.42", "0.45"))
	if g.State() != Valid {
		t.Fatalf("state = %s, want VALID when bid clears MinHedgePrice", g.State())
	}
}

func TestGhostDepthDetector_FiresAfterThreshold(t *testing.T) {
	t.Parallel()

	g := newGhostDepthDetector(time.Minute, 3)
	states := []bool{true, false, true, false, true, false}
	for _, s := range states {
		g.observe(s)
	}
	if !g.unstable() {
		t.Fatal("expected ghost-depth detector to fire after enough flips")
	}

	g.reset()
	if g.unstable() {
		t.Fatal("expected reset to clear flip history")
	}
}
