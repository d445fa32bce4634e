package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/pkg/types"
)

// IncrementalHedge places a hedge order on Venue-B for a newly-filled slice
// of the predict leg and, once it is placed, moves a SUBMITTED or
// PARTIALLY_FILLED task to HEDGING (spec §4.7 "Incremental hedge").
func (e *Executor) IncrementalHedge(ctx context.Context, qty decimal.Decimal) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return
	}
	cfg := e.task.Config
	hedgeSide := hedgeDirection(cfg.Direction)
	hedgePrice := cfg.MaxHedgePrice
	if cfg.Direction == types.SELL {
		hedgePrice = cfg.MinHedgePrice
	}

	orderID, err := e.deps.VenueB.SubmitOrder(ctx, e.hedgeTokenID(), hedgeSide, hedgePrice, qty, cfg.TickSize, cfg.FeeBps, cfg.NegRisk, types.OrderTypeIOC)
	if err != nil {
		e.deps.Logger.Warn("incremental hedge submit failed", "task", cfg.ID, "error", err)
		return
	}

	var shouldTransitionToHedging bool
	e.mutateProgress(func(p *types.TaskProgress) {
		p.HedgedQty = p.HedgedQty.Add(qty)
		if p.FirstHedgeFillAt.IsZero() {
			p.FirstHedgeFillAt = time.Now()
		}
		recomputeAvgHedgePrice(p, hedgePrice, qty)
		shouldTransitionToHedging = p.State == types.StatePartiallyFilled || p.State == types.StateSubmitted
	})

	if shouldTransitionToHedging {
		e.transition(types.StateHedging)
	}

	e.deps.Sink.LogEvent(cfg.ID, "HEDGE_PLACED", map[string]any{"orderID": orderID, "qty": qty, "price": hedgePrice})
}

// FinalHedge hedges whatever predict fill remains unhedged once the predict
// order is known complete, retrying up to maxHedgeRetries with a fixed delay
// between attempts (spec §4.7 "Final hedge"). On exhaustion it escalates to
// LossHedge.
func (e *Executor) FinalHedge(ctx context.Context) {
	cfg := e.task.Config

	remaining := e.unhedgedActualShares()
	if remaining.LessThanOrEqual(decimal.Zero) {
		e.finishAfterHedge()
		return
	}

	maxRetries := cfg.MaxHedgeRetries
	if maxRetries <= 0 {
		maxRetries = e.deps.Settings.MaxHedgeRetries
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		before := e.progress().HedgedQty
		e.IncrementalHedge(ctx, remaining)
		filled := e.progress().HedgedQty.Sub(before)
		remaining = remaining.Sub(filled)
		if remaining.LessThanOrEqual(decimal.Zero) {
			e.finishAfterHedge()
			return
		}
		e.mutateProgress(func(p *types.TaskProgress) { p.HedgeRetryCount++ })
		select {
		case <-ctx.Done():
		case <-time.After(300 * time.Millisecond):
		}
	}

	if remaining.GreaterThan(decimal.Zero) {
		e.LossHedge(ctx, remaining)
		return
	}
	e.finishAfterHedge()
}

func (e *Executor) finishAfterHedge() {
	if e.progress().State.IsTerminal() {
		return
	}
	defer e.unsubscribeFeed()

	var cancelReason string
	e.mutateProgress(func(p *types.TaskProgress) {
		computeActualProfit(p, e.task.Config.Direction)
		cancelReason = p.CancelReason
	})

	if cancelReason != "" && cancelReason != "Timeout" {
		e.transition(types.StateCancelled)
		return
	}
	e.transition(types.StateCompleted)
	e.mutateProgress(func(p *types.TaskProgress) { p.CompletedAt = time.Now() })
}

func (e *Executor) unsubscribeFeed() {
	if e.deps.Feed != nil && e.progress().ActiveOrderHash != "" {
		e.deps.Feed.Unsubscribe(e.hedgeTokenID())
	}
}

// LossHedge is the escape valve of spec §4.7: when the final hedge cannot
// fully close the position at the original bound, widen the acceptance price
// by up to lossHedgeMaxDeviation and keep repolling until lossHedgeMaxWait is
// exhausted, then give up as HEDGE_FAILED (a fatal, manually-reconciled
// outcome).
func (e *Executor) LossHedge(ctx context.Context, remaining decimal.Decimal) {
	cfg := e.task.Config
	defer e.unsubscribeFeed()
	e.transition(types.StateLossHedge)
	e.mutateProgress(func(p *types.TaskProgress) { p.LossHedgeApplied = true })

	settings := e.deps.Settings
	deadline := time.Now().Add(settings.LossHedgeMaxWait)

	basePrice := cfg.MaxHedgePrice
	widen := func(p decimal.Decimal) decimal.Decimal { return p.Add(settings.LossHedgeMaxDeviation) }
	if cfg.Direction == types.SELL {
		basePrice = cfg.MinHedgePrice
		widen = func(p decimal.Decimal) decimal.Decimal { return p.Sub(settings.LossHedgeMaxDeviation) }
	}
	widened := widen(basePrice)

	for time.Now().Before(deadline) && remaining.GreaterThan(decimal.Zero) {
		orderID, err := e.deps.VenueB.SubmitOrder(ctx, e.hedgeTokenID(), hedgeDirection(cfg.Direction), widened, remaining, cfg.TickSize, cfg.FeeBps, cfg.NegRisk, types.OrderTypeIOC)
		if err != nil {
			e.deps.Logger.Warn("loss-hedge submit failed", "task", cfg.ID, "error", err)
		} else {
			status, statusErr := e.deps.VenueB.GetOrderStatus(ctx, orderID)
			if statusErr == nil && status != nil && status.FilledQty.IsPositive() {
				filled := status.FilledQty
				e.mutateProgress(func(p *types.TaskProgress) {
					p.HedgedQty = p.HedgedQty.Add(filled)
					recomputeAvgHedgePrice(p, widened, filled)
				})
				remaining = remaining.Sub(filled)
			}
		}
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		select {
		case <-ctx.Done():
			remaining = decimal.Zero
		case <-time.After(5 * time.Second):
		}
	}

	if remaining.GreaterThan(decimal.Zero) {
		e.mutateProgress(func(p *types.TaskProgress) { p.CancelReason = "HedgeFailedAfterLossHedge" })
		e.transition(types.StateHedgeFailed)
		return
	}

	e.mutateProgress(func(p *types.TaskProgress) { computeActualProfit(p, cfg.Direction) })
	e.transition(types.StateCompleted)
	e.mutateProgress(func(p *types.TaskProgress) { p.CompletedAt = time.Now() })
}

// hedgeDirection mirrors the predict leg's direction: a BUY task buys both
// legs (their combined cost must sit below $1), a SELL task sells both.
func hedgeDirection(taskDir types.Direction) types.Direction {
	return taskDir
}

// recomputeAvgHedgePrice updates the weighted average hedge price after qty
// more shares hedge at price. prog.HedgedQty must already include qty.
// Caller must hold e.mu (called only from within a mutateProgress closure).
func recomputeAvgHedgePrice(prog *types.TaskProgress, price, qty decimal.Decimal) {
	prevQty := prog.HedgedQty.Sub(qty)
	if prevQty.LessThanOrEqual(decimal.Zero) {
		prog.AvgHedgePrice = price
		return
	}
	weighted := prog.AvgHedgePrice.Mul(prevQty).Add(price.Mul(qty))
	prog.AvgHedgePrice = weighted.Div(prog.HedgedQty)
}

// computeActualProfit derives realized profit from the average predict and
// hedge prices over the hedged quantity (spec §3 Task.actualProfit). Caller
// must hold e.mu (called only from within a mutateProgress closure).
func computeActualProfit(prog *types.TaskProgress, direction types.Direction) {
	one := decimal.NewFromInt(1)
	switch direction {
	case types.BUY:
		prog.ActualProfit = one.Sub(prog.AvgPredictPrice).Sub(prog.AvgHedgePrice).Mul(prog.HedgedQty)
	case types.SELL:
		prog.ActualProfit = prog.AvgHedgePrice.Sub(one.Sub(prog.AvgPredictPrice)).Mul(prog.HedgedQty)
	}
}
