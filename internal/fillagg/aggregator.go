// Package fillagg implements the Fill Aggregator (spec §4.4): per-order
// bookkeeping joining a block-event fill stream and REST status polls into
// one monotone view of fill progress.
package fillagg

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/pkg/types"
)

// Update is the output of every observation (spec §4.4 "Outputs, on every
// update").
type Update struct {
	TotalFilled        decimal.Decimal
	NewFillDelta       decimal.Decimal
	IsComplete         bool
	FirstFillTimestamp time.Time
}

// Aggregator tracks fill progress for a single order. It guarantees
// totalFilled is monotone non-decreasing, duplicate events are idempotent,
// and totalFilled never exceeds orderQty (spec §4.4 invariants).
type Aggregator struct {
	mu sync.Mutex

	orderQty decimal.Decimal

	restFilled  decimal.Decimal
	eventFilled decimal.Decimal
	seenKeys    map[string]bool

	totalFilled        decimal.Decimal
	firstFillTimestamp time.Time

	venueState types.OrderState
	terminated bool
}

// New creates an aggregator for an order of the given target quantity.
func New(orderQty decimal.Decimal) *Aggregator {
	return &Aggregator{
		orderQty: orderQty,
		seenKeys: make(map[string]bool),
	}
}

// OnBlockEvent applies a dedup'd block-event fill delta (spec §4.4 "Inputs").
func (a *Aggregator) OnBlockEvent(evt types.BlockFillEvent, deltaShares decimal.Decimal) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := evt.DedupKey()
	if a.seenKeys[key] {
		return a.snapshotLocked(decimal.Zero)
	}
	a.seenKeys[key] = true
	a.eventFilled = a.eventFilled.Add(deltaShares)

	prevTotal := a.totalFilled
	a.recomputeLocked()
	delta := a.totalFilled.Sub(prevTotal)
	if delta.IsPositive() && a.firstFillTimestamp.IsZero() {
		a.firstFillTimestamp = evt.Timestamp
	}
	return a.snapshotLocked(delta)
}

// OnRestStatus applies a REST status poll's cumulative filled amount and
// venue-reported state. A filledQty <= the current value has no effect
// (spec §8 "Replaying a getOrderStatus response ... has no effect").
func (a *Aggregator) OnRestStatus(status types.OrderStatus, observedAt time.Time) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	if status.FilledQty.GreaterThan(a.restFilled) {
		a.restFilled = status.FilledQty
	}
	a.venueState = status.State

	prevTotal := a.totalFilled
	a.recomputeLocked()
	delta := a.totalFilled.Sub(prevTotal)
	if delta.IsPositive() && a.firstFillTimestamp.IsZero() {
		a.firstFillTimestamp = observedAt
	}

	switch status.State {
	case types.OrderFilled, types.OrderCancelled, types.OrderExpired:
		a.terminated = true
	}

	return a.snapshotLocked(delta)
}

func (a *Aggregator) recomputeLocked() {
	total := a.restFilled
	if a.eventFilled.GreaterThan(total) {
		total = a.eventFilled
	}
	if total.GreaterThan(a.orderQty) {
		total = a.orderQty
	}
	if total.LessThan(decimal.Zero) {
		total = decimal.Zero
	}
	// Monotone non-decreasing: never let a recompute move totalFilled backward.
	if total.LessThan(a.totalFilled) {
		total = a.totalFilled
	}
	a.totalFilled = total
}

func (a *Aggregator) snapshotLocked(delta decimal.Decimal) Update {
	isComplete := a.terminated && (a.totalFilled.Equal(a.orderQty) || a.venueState != types.OrderOpen && a.venueState != types.OrderPartiallyFilled)
	return Update{
		TotalFilled:        a.totalFilled,
		NewFillDelta:       delta,
		IsComplete:         isComplete,
		FirstFillTimestamp: a.firstFillTimestamp,
	}
}

// Snapshot returns the current state without mutating it.
func (a *Aggregator) Snapshot() Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(decimal.Zero)
}
