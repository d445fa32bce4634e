package fillagg

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAggregator_RestOnlyMonotone(t *testing.T) {
	t.Parallel()
	agg := New(d("100"))

	u1 := agg.OnRestStatus(types.OrderStatus{State: types.OrderPartiallyFilled, FilledQty: d("30")}, time.Now())
	if !u1.TotalFilled.Equal(d("30")) {
		t.Fatalf("total = %s, want 30", u1.TotalFilled)
	}

	// Replaying the same (or smaller) filled amount must not move the total.
	u2 := agg.OnRestStatus(types.OrderStatus{State: types.OrderPartiallyFilled, FilledQty: d("20")}, time.Now())
	if !u2.TotalFilled.Equal(d("30")) {
		t.Fatalf("replay decreased total: got %s, want 30", u2.TotalFilled)
	}

	u3 := agg.OnRestStatus(types.OrderStatus{State: types.OrderFilled, FilledQty: d("100")}, time.Now())
	if !u3.TotalFilled.Equal(d("100")) || !u3.IsComplete {
		t.Fatalf("final status = %+v, want total 100 and complete", u3)
	}
}

func TestAggregator_BlockEventDedup(t *testing.T) {
	t.Parallel()
	agg := New(d("50"))

	evt := types.BlockFillEvent{TxHash: "0xabc", LogIndex: 1, Timestamp: time.Now()}
	u1 := agg.OnBlockEvent(evt, d("10"))
	if !u1.TotalFilled.Equal(d("10")) {
		t.Fatalf("first event total = %s, want 10", u1.TotalFilled)
	}

	// Same (txHash, logIndex) replayed must be a no-op.
	u2 := agg.OnBlockEvent(evt, d("10"))
	if !u2.TotalFilled.Equal(d("10")) || !u2.NewFillDelta.IsZero() {
		t.Fatalf("duplicate event changed state: %+v", u2)
	}

	evt2 := types.BlockFillEvent{TxHash: "0xabc", LogIndex: 2, Timestamp: time.Now()}
	u3 := agg.OnBlockEvent(evt2, d("15"))
	if !u3.TotalFilled.Equal(d("25")) {
		t.Fatalf("second event total = %s, want 25", u3.TotalFilled)
	}
}

func TestAggregator_TotalNeverExceedsOrderQty(t *testing.T) {
	t.Parallel()
	agg := New(d("10"))

	u := agg.OnRestStatus(types.OrderStatus{State: types.OrderFilled, FilledQty: d("999")}, time.Now())
	if !u.TotalFilled.Equal(d("10")) {
		t.Fatalf("total = %s, want clamped to orderQty 10", u.TotalFilled)
	}
}

func TestAggregator_FirstFillTimestampSetOnce(t *testing.T) {
	t.Parallel()
	agg := New(d("20"))

	t1 := time.Now().Add(-time.Minute)
	agg.OnRestStatus(types.OrderStatus{State: types.OrderPartiallyFilled, FilledQty: d("5")}, t1)

	t2 := time.Now()
	u := agg.OnRestStatus(types.OrderStatus{State: types.OrderPartiallyFilled, FilledQty: d("8")}, t2)

	if !u.FirstFillTimestamp.Equal(t1) {
		t.Errorf("firstFillTimestamp = %v, want %v (set-once)", u.FirstFillTimestamp, t1)
	}
}
