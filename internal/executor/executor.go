// Package executor implements the Task Executor (spec §4.5): one state
// machine instance per active task, driven by a cancellation context, using
// the Orderbook Cache, Fill Aggregator, and Cost/Price Guard to drive orders
// on Venue-A and hedges on Venue-B.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/internal/fillagg"
	"arb-engine/internal/guard"
	"arb-engine/internal/obcache"
	"arb-engine/internal/venue"
	"arb-engine/internal/venue/venuea"
	"arb-engine/internal/venue/venueb"
	"arb-engine/pkg/types"
)

// Settings are the tunable durations and thresholds of spec §6
// "Configuration".
type Settings struct {
	OrderTimeout         time.Duration
	PollInterval         time.Duration
	MinHedgeShares       decimal.Decimal
	MinHedgeNotionalUSD  decimal.Decimal
	CostCheckThrottle    time.Duration
	MaxHedgeRetries      int
	LossHedgeMaxDeviation decimal.Decimal
	LossHedgeMaxWait     time.Duration
	FirstStatusTimeout   time.Duration
	CancelTimeout        time.Duration
}

// DefaultSettings returns spec §6's default values.
func DefaultSettings() Settings {
	return Settings{
		OrderTimeout:          20 * time.Second,
		PollInterval:          500 * time.Millisecond,
		MinHedgeShares:        decimal.NewFromFloat(2),
		MinHedgeNotionalUSD:   decimal.NewFromFloat(1.0),
		CostCheckThrottle:     200 * time.Millisecond,
		MaxHedgeRetries:       3,
		LossHedgeMaxDeviation: decimal.NewFromFloat(0.02),
		LossHedgeMaxWait:      30 * time.Minute,
		FirstStatusTimeout:    15 * time.Second,
		CancelTimeout:         5 * time.Second,
	}
}

// Sink is the subset of the Log Sink's surface the executor writes to.
type Sink interface {
	LogEvent(taskID, eventType string, fields map[string]any)
	LogOrderbook(taskID string, ob *types.Orderbook)
	WriteSummary(taskID string, task types.Task)
}

// StateObserver is notified on every state transition (wired to the Task
// Registry's subscribe-to-changes, spec §4.8).
type StateObserver func(task types.Task)

// VenueAGateway is the subset of venuea.Client the executor needs to drive
// the predict leg. Narrowed to an interface so tests can substitute a fake
// gateway instead of a live REST client.
type VenueAGateway interface {
	GetMarketInfo(ctx context.Context, marketID string) (venuea.MarketInfo, error)
	GetOrderbook(ctx context.Context, tokenID string) (*types.Orderbook, error)
	SubmitOrder(ctx context.Context, market venuea.MarketInfo, side types.Direction, tokenID string, price, qty decimal.Decimal, typ types.OrderType) (orderID, orderHash string, err error)
	GetOrderStatus(ctx context.Context, orderHash string) (*types.OrderStatus, error)
	CancelOrder(ctx context.Context, orderHashOrID string) (bool, error)
}

// VenueBGateway is the subset of venueb.Client the executor needs to drive
// the hedge leg.
type VenueBGateway interface {
	GetOrderbook(ctx context.Context, tokenID string) (*types.Orderbook, error)
	SubmitOrder(ctx context.Context, tokenID string, side types.Direction, price, qty decimal.Decimal, tick types.TickSize, feeBps int, negRisk bool, typ types.OrderType) (orderID string, err error)
	GetOrderStatus(ctx context.Context, orderID string) (*types.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetPosition(ctx context.Context, user, tokenID string) (types.PositionSnapshot, error)
}

// FeedSubscriber is the subset of venueb.Feed the executor uses to manage
// its hedge-token WS subscription.
type FeedSubscriber interface {
	Subscribe(tokenID string)
	Unsubscribe(tokenID string)
}

// BookCache is the subset of obcache.Cache the cost guard reads from.
type BookCache interface {
	GetWSOnly(key obcache.Key, maxAge time.Duration) (*types.Orderbook, error)
	Thresholds() obcache.Thresholds
}

// Deps bundles the executor's collaborators.
type Deps struct {
	VenueA   VenueAGateway
	VenueB   VenueBGateway
	Feed     FeedSubscriber
	Cache    BookCache
	Sink     Sink
	Observer StateObserver
	Settings Settings
	Logger   *slog.Logger
}

// Executor drives one task's state machine to completion. Run owns task's
// mutation single-threadedly, but Snapshot is called concurrently from the
// Task Registry (spec §4.8), so every access to task.Progress goes through
// mu. task.Config is fixed at construction and never mutated again, so it's
// read without locking throughout.
type Executor struct {
	deps Deps

	mu   sync.RWMutex
	task types.Task

	agg   *fillagg.Aggregator
	guard *guard.Guard

	wake chan struct{} // signal-and-reset: block-event callbacks wake the poll loop

	cancelFn context.CancelFunc
}

// New constructs an executor for the given task config, CREATED state.
func New(cfg types.TaskConfig, deps Deps) *Executor {
	return &Executor{
		deps: deps,
		task: types.Task{
			Config: cfg,
			Progress: types.TaskProgress{
				State:            types.StateCreated,
				PredictFilledQty: decimal.Zero,
				HedgedQty:        decimal.Zero,
				AvgPredictPrice:  decimal.Zero,
				AvgHedgePrice:    decimal.Zero,
				ActualProfit:     decimal.Zero,
				CreatedAt:        time.Now(),
			},
		},
		wake: make(chan struct{}, 1),
	}
}

// Snapshot returns a read-only copy of the task's current state.
func (e *Executor) Snapshot() types.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.task
}

// progress returns a copy of the task's current Progress under the read
// lock, for call sites that need a consistent multi-field read.
func (e *Executor) progress() types.TaskProgress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.task.Progress
}

// mutateProgress runs fn with the write lock held. fn must touch only the
// Progress it is given and must not call back into Executor methods that
// themselves take mu (Snapshot, progress, mutateProgress, transition).
func (e *Executor) mutateProgress(fn func(p *types.TaskProgress)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.task.Progress)
}

// WakeFromFillEvent is called by the block-event subscriber when a fill for
// this task's resting order is observed, waking the poll loop early
// (spec §4.5 "signal-and-reset primitive"; spec §9 maps this to a condition
// variable / broadcast channel, not an ad-hoc per-callback promise).
func (e *Executor) WakeFromFillEvent() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) transition(to types.TaskState) {
	e.mu.Lock()
	from := e.task.Progress.State
	if !canTransition(from, to) {
		e.mu.Unlock()
		e.deps.Logger.Error("illegal state transition suppressed", "task", e.task.Config.ID, "from", from, "to", to)
		return
	}
	e.task.Progress.State = to
	e.mu.Unlock()

	e.deps.Sink.LogEvent(e.task.Config.ID, "TASK_STATE_CHANGED", map[string]any{"from": from, "to": to})
	if e.deps.Observer != nil {
		e.deps.Observer(e.Snapshot())
	}
}

// Run drives the task from CREATED through to a terminal state. It returns
// when the task reaches a terminal state or ctx is cancelled.
func (e *Executor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel
	defer cancel()

	e.deps.Sink.LogEvent(e.task.Config.ID, "TASK_CREATED", map[string]any{"config": e.task.Config})

	if err := e.validateAndSubmit(ctx); err != nil {
		e.deps.Logger.Warn("task entry validation failed", "task", e.task.Config.ID, "error", err)
		return
	}

	e.monitorFills(ctx)

	e.deps.Sink.WriteSummary(e.task.Config.ID, e.task)
}

// Cancel aborts the task's context, triggering the teardown ordering of
// spec §5: stop guard, stop timeout timer, cancel resting order (bounded),
// final-hedge any partials, publish final state.
func (e *Executor) Cancel() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
}

// validateAndSubmit implements "Entry validation (CREATED -> SUBMITTED)".
func (e *Executor) validateAndSubmit(ctx context.Context) error {
	cfg := e.task.Config

	if cfg.Direction == types.SELL {
		hedgeToken := e.hedgeTokenID()
		pos, err := e.deps.VenueB.GetPosition(ctx, "", hedgeToken)
		if err != nil {
			e.deps.Logger.Warn("position query failed, proceeding without validation", "error", err)
		} else if pos.Shares.LessThan(cfg.TargetQty.Mul(decimal.NewFromFloat(0.99))) {
			e.mutateProgress(func(p *types.TaskProgress) { p.CancelReason = "PositionInsufficient" })
			e.transition(types.StateFailed)
			return fmt.Errorf("position insufficient: have %s, need %s", pos.Shares, cfg.TargetQty)
		}
	}

	market, err := e.deps.VenueA.GetMarketInfo(ctx, cfg.VenueAMarketID)
	if err != nil {
		e.mutateProgress(func(p *types.TaskProgress) { p.CancelReason = "MarketInfoUnavailable" })
		e.transition(types.StateFailed)
		return fmt.Errorf("market info unavailable: %w", err)
	}

	price, hedgeRef, err := e.fetchReferencePrices(ctx, market)
	if err != nil {
		e.mutateProgress(func(p *types.TaskProgress) { p.CancelReason = "PriceInvalid" })
		e.transition(types.StateFailed)
		return err
	}

	aligned := alignPrice(price, cfg.TickSize, cfg.Strategy == types.StrategyTaker && cfg.Direction == types.BUY)
	qty := cfg.TargetQty.Truncate(5)

	totalCost := aligned.Add(hedgeRef).Add(guardFee(hedgeRef, cfg.FeeBps))
	epsilon := decimal.New(1, -4)
	if cfg.Direction == types.BUY && !cfg.MaxTotalCost.IsZero() && totalCost.GreaterThan(cfg.MaxTotalCost.Add(epsilon)) {
		e.mutateProgress(func(p *types.TaskProgress) { p.CancelReason = "CostInvalid" })
		e.transition(types.StateFailed)
		return fmt.Errorf("%w: total cost %s exceeds bound %s", venue.ErrCostInvalid, totalCost, cfg.MaxTotalCost)
	}

	tokenID := predictTokenID(market, cfg.Side)
	side := cfg.Direction
	orderID, orderHash, err := e.deps.VenueA.SubmitOrder(ctx, market, side, tokenID, aligned, qty, orderTypeFor(cfg.Strategy))
	if err != nil {
		e.mutateProgress(func(p *types.TaskProgress) { p.LastError = err.Error() })
		e.transition(types.StateFailed)
		return fmt.Errorf("submit order: %w", err)
	}

	e.mutateProgress(func(p *types.TaskProgress) {
		p.ActiveOrderID = orderID
		p.ActiveOrderHash = orderHash
		p.AvgPredictPrice = aligned
		p.FirstStatusAt = time.Now()
	})
	e.agg = fillagg.New(qty)

	guardParams := guard.Params{
		Direction:     cfg.Direction,
		PredictLeg:    aligned,
		MaxHedgePrice: cfg.MaxHedgePrice,
		MinHedgePrice: cfg.MinHedgePrice,
		MaxTotalCost:  cfg.MaxTotalCost,
		FeeBps:        cfg.FeeBps,
	}
	e.guard = guard.New(guardParams, e.deps.Settings.CostCheckThrottle, e.onGuardTransition)
	if e.deps.Feed != nil {
		e.deps.Feed.Subscribe(e.hedgeTokenID())
	}

	e.transition(types.StateSubmitted)
	e.deps.Sink.LogEvent(cfg.ID, "ORDER_SUBMITTED", map[string]any{"orderHash": orderHash, "price": aligned, "qty": qty})
	return nil
}

func guardFee(price decimal.Decimal, bps int) decimal.Decimal {
	rebate := decimal.NewFromFloat(0.9)
	one := decimal.NewFromInt(1)
	opposite := one.Sub(price)
	minSide := price
	if opposite.LessThan(price) {
		minSide = opposite
	}
	rate := decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(10000))
	return rate.Mul(minSide).Mul(rebate)
}

// feeAsShareRatio is the fraction of a BUY fill's shares the venue's taker
// fee consumes (spec §4.5/§9): the same bps/10000 rate as guardFee, applied
// against the 10% rebate directly rather than against (1-rebate), since the
// fee here is paid in shares rather than quote currency.
func feeAsShareRatio(bps int) decimal.Decimal {
	return decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(10000)).Mul(decimal.NewFromFloat(0.1))
}

// actualShares converts a raw fill quantity into the share count that
// actually lands in the account. BUY fills lose feeAsShareRatio of every
// share to the taker fee; SELL fills pay the fee in quote currency and the
// share count passes through unchanged (spec §4.5).
func (e *Executor) actualShares(raw decimal.Decimal) decimal.Decimal {
	if e.task.Config.Direction != types.BUY {
		return raw
	}
	return raw.Mul(decimal.NewFromInt(1).Sub(feeAsShareRatio(e.task.Config.FeeBps)))
}

// unhedgedActualShares is the fee-adjusted share count still owed a hedge:
// the actual shares received against everything already hedged.
func (e *Executor) unhedgedActualShares() decimal.Decimal {
	prog := e.progress()
	return e.actualShares(prog.PredictFilledQty).Sub(prog.HedgedQty)
}

func orderTypeFor(s types.Strategy) types.OrderType {
	return types.OrderTypeGTC
}

func alignPrice(price decimal.Decimal, tick types.TickSize, alignUp bool) decimal.Decimal {
	decimals := int32(tick.Decimals())
	if alignUp {
		return price.RoundCeil(decimals)
	}
	return price.Truncate(decimals)
}

// predictTokenID returns the Venue-A outcome token for the task's side, taken
// from the Venue-A market info (TaskConfig's token ids are Venue-B's).
func predictTokenID(market venuea.MarketInfo, side types.Side) string {
	if side == types.YES {
		return market.YesTokenID
	}
	return market.NoTokenID
}

// hedgeTokenID returns the Venue-B token that makes the position delta
// neutral: the opposite outcome, unless the pair is inverted (spec GLOSSARY
// "Hedge token").
func (e *Executor) hedgeTokenID() string {
	opposite := e.task.Config.NoTokenID
	if e.task.Config.Side == types.NO {
		opposite = e.task.Config.YesTokenID
	}
	if e.task.Config.Inverted {
		if e.task.Config.Side == types.YES {
			return e.task.Config.YesTokenID
		}
		return e.task.Config.NoTokenID
	}
	return opposite
}

// fetchReferencePrices retries top-of-book fetches up to 3x with 1s backoff,
// falling back to the task's stored reference bound on exhaustion
// (spec §4.5 "Entry validation").
func (e *Executor) fetchReferencePrices(ctx context.Context, market venuea.MarketInfo) (predictPrice, hedgePrice decimal.Decimal, err error) {
	predictTokenID := predictTokenID(market, e.task.Config.Side)
	hedgeTokenID := e.hedgeTokenID()

	var predictOB, hedgeOB *types.Orderbook
	for attempt := 0; attempt < 3; attempt++ {
		predictOB, err = e.deps.VenueA.GetOrderbook(ctx, predictTokenID)
		if err == nil {
			hedgeOB, err = e.deps.VenueB.GetOrderbook(ctx, hedgeTokenID)
		}
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return decimal.Zero, decimal.Zero, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	cfg := e.task.Config
	if err != nil || predictOB == nil || hedgeOB == nil {
		if cfg.Direction == types.BUY {
			fee := guardFee(cfg.MaxHedgePrice, cfg.FeeBps)
			safetyPad := decimal.NewFromFloat(0.005)
			predictPrice = cfg.MaxTotalCost.Sub(cfg.MaxHedgePrice).Sub(fee).Sub(safetyPad)
			return predictPrice, cfg.MaxHedgePrice, nil
		}
		return cfg.LimitPrice, cfg.MinHedgePrice, nil
	}

	if cfg.Direction == types.BUY {
		ask, ok := predictOB.BestAsk()
		if !ok {
			return decimal.Zero, decimal.Zero, fmt.Errorf("predict book empty")
		}
		hedgeAsk, ok := hedgeOB.BestAsk()
		if !ok {
			return decimal.Zero, decimal.Zero, fmt.Errorf("hedge book empty")
		}
		return ask.Price, hedgeAsk.Price, nil
	}

	bid, ok := predictOB.BestBid()
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("predict book empty")
	}
	hedgeBid, ok := hedgeOB.BestBid()
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("hedge book empty")
	}
	return bid.Price, hedgeBid.Price, nil
}

func (e *Executor) onGuardTransition(newState guard.State) {
	if newState == guard.Invalid && e.progress().ActiveOrderHash != "" {
		e.WakeFromFillEvent() // piggyback the same signal-and-reset channel
	}
}

// evaluateGuard re-checks the cost/price guard against the cached hedge
// book. The staleness budget is the cache's own maxStale threshold (spec
// §4.3), not a task-level timeout: a wsOnly read older than that surfaces
// ErrWSUnavailable, and a non-sports task's guard treats that the same as a
// book it can't trust (spec §4.6 "non-sports market forces guard state to
// INVALID on WS absence"). A cache miss surfaces the same ErrWSUnavailable
// and is handled exactly like a stale entry.
func (e *Executor) evaluateGuard() {
	if e.guard == nil || e.deps.Cache == nil {
		return
	}
	maxAge := e.deps.Cache.Thresholds().MaxStale
	book, err := e.deps.Cache.GetWSOnly(obcache.Key{Venue: "venueb", ID: e.hedgeTokenID()}, maxAge)
	if err != nil {
		if !e.task.Config.IsSportsCategory {
			e.guard.ForceInvalid()
		}
		return
	}
	e.guard.OnBookUpdate(book)
}

// monitorFills implements spec §4.5 "Fill monitoring": poll Venue-A status on
// an interval, woken early by block events or a guard-invalid transition,
// gated by a timeout timer, until the task reaches a terminal state.
func (e *Executor) monitorFills(ctx context.Context) {
	cfg := e.task.Config
	settings := e.deps.Settings

	timeout := cfg.OrderTimeout
	if timeout <= 0 {
		timeout = settings.OrderTimeout
	}
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	ticker := time.NewTicker(settings.PollInterval)
	defer ticker.Stop()

	// Prefetch: the first REST status is folded into the first iteration
	// rather than waiting a full poll interval (spec §4.5 "prefetch").
	e.pollOnce(ctx)
	if e.progress().State.IsTerminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			e.teardown(context.Background())
			return

		case <-e.wake:
			e.pollOnce(ctx)

		case <-ticker.C:
			e.pollOnce(ctx)

		case <-timeoutTimer.C:
			e.handleTimeout(ctx)
			return
		}

		if e.progress().State.IsTerminal() {
			return
		}
	}
}

// pollOnce re-evaluates the cost/price guard, routes to cancel-and-end if it
// has latched INVALID against a resting order (spec §4.6), and otherwise
// refreshes Venue-A order status as usual.
func (e *Executor) pollOnce(ctx context.Context) {
	e.evaluateGuard()

	if e.guard != nil && e.guard.State() == guard.Invalid && e.progress().ActiveOrderHash != "" {
		e.handleCostInvalid(ctx)
		return
	}

	e.refreshFillStatus(ctx)
}

// refreshFillStatus fetches Venue-A order status, feeds the Fill Aggregator,
// and acts on newly observed fill deltas (hedge threshold gating, spec
// §4.5/§4.7). Split out from pollOnce so the timeout and cost-invalidation
// paths can force a status refresh without re-entering the guard check.
func (e *Executor) refreshFillStatus(ctx context.Context) {
	status, err := e.deps.VenueA.GetOrderStatus(ctx, e.progress().ActiveOrderHash)
	if err != nil {
		e.deps.Logger.Warn("poll order status failed", "task", e.task.Config.ID, "error", err)
		return
	}
	if status == nil {
		// Venue reports no such order — treat as an external cancel.
		e.mutateProgress(func(p *types.TaskProgress) { p.CancelReason = "ExternallyCancelled" })
		e.runFinalHedgeAndTransition(ctx, types.StateCancelled)
		return
	}
	if status.State == types.OrderFilled && status.FilledQty.IsZero() && e.progress().PredictFilledQty.IsZero() {
		// FILLED with nothing filled is treated as a cancel.
		e.mutateProgress(func(p *types.TaskProgress) { p.CancelReason = "FilledButEmpty" })
		e.runFinalHedgeAndTransition(ctx, types.StateCancelled)
		return
	}

	update := e.agg.OnRestStatus(*status, time.Now())
	e.applyFillUpdate(ctx, update, status.State)
}

// handleCostInvalid implements spec §4.6: "a transition to INVALID while the
// task holds a resting order causes the executor to cancel-and-end with
// reason CostInvalid (after the forced fill-refresh of §4.5)" — the same
// force-refresh/cancel/re-check shape as handleTimeout, triggered by the
// guard instead of the order-timeout timer.
func (e *Executor) handleCostInvalid(ctx context.Context) {
	e.refreshFillStatus(ctx)
	if e.progress().State.IsTerminal() {
		return
	}

	cancelCtx, cancel := context.WithTimeout(ctx, e.deps.Settings.CancelTimeout)
	defer cancel()
	if _, err := e.deps.VenueA.CancelOrder(cancelCtx, e.progress().ActiveOrderHash); err != nil {
		e.deps.Logger.Warn("cancel on cost invalidation failed", "task", e.task.Config.ID, "error", err)
	}

	// CancelReason must be set before this second refresh: a CANCELLED
	// status here drives the Fill Aggregator's IsComplete straight through
	// applyFillUpdate's FinalHedge/finishAfterHedge path, which reads
	// CancelReason to decide COMPLETED vs CANCELLED.
	e.mutateProgress(func(p *types.TaskProgress) { p.CancelReason = "CostInvalid" })

	e.refreshFillStatus(ctx)
	if e.progress().State.IsTerminal() {
		return
	}

	if e.progress().PredictFilledQty.IsZero() {
		e.unsubscribeFeed()
		e.transition(types.StateCancelled)
		return
	}
	e.FinalHedge(ctx)
}

func (e *Executor) applyFillUpdate(ctx context.Context, update fillagg.Update, venueState types.OrderState) {
	cfg := e.task.Config

	var wasSubmitted bool
	e.mutateProgress(func(p *types.TaskProgress) {
		if p.FirstFillAt.IsZero() && !update.FirstFillTimestamp.IsZero() {
			p.FirstFillAt = update.FirstFillTimestamp
		}
		p.PredictFilledQty = update.TotalFilled
		wasSubmitted = p.State == types.StateSubmitted
	})

	if wasSubmitted && update.TotalFilled.IsPositive() {
		e.transition(types.StatePartiallyFilled)
	}

	if update.NewFillDelta.IsPositive() {
		e.deps.Sink.LogEvent(cfg.ID, "FILL_OBSERVED", map[string]any{
			"delta": update.NewFillDelta, "total": update.TotalFilled,
		})
		e.maybeIncrementalHedge(ctx)
	}

	if update.IsComplete {
		remaining := e.unhedgedActualShares()
		if remaining.IsPositive() {
			e.IncrementalHedge(ctx, remaining)
		}
		e.FinalHedge(ctx)
		return
	}

	prog := e.progress()
	if venueState == types.OrderCancelled && prog.HedgedQty.LessThan(prog.PredictFilledQty) {
		e.runFinalHedgeAndTransition(ctx, types.StateCancelled)
	}
}

// maybeIncrementalHedge gates a hedge attempt on the minimum-shares AND
// minimum-notional thresholds of spec §4.7 "Incremental hedge". unhedged is
// expressed in actual (fee-adjusted, for BUY) shares, so the hedge order
// placed below never exceeds what the account actually received.
func (e *Executor) maybeIncrementalHedge(ctx context.Context) {
	settings := e.deps.Settings
	unhedged := e.unhedgedActualShares()
	if !unhedged.IsPositive() || unhedged.LessThan(settings.MinHedgeShares) {
		return
	}
	hedgeRef := e.task.Config.MaxHedgePrice
	if e.task.Config.Direction == types.SELL {
		hedgeRef = e.task.Config.MinHedgePrice
	}
	notional := unhedged.Mul(hedgeRef)
	if notional.LessThan(settings.MinHedgeNotionalUSD) {
		return
	}
	e.IncrementalHedge(ctx, unhedged)
}

func (e *Executor) runFinalHedgeAndTransition(ctx context.Context, onNoFill types.TaskState) {
	if e.progress().PredictFilledQty.IsZero() {
		e.unsubscribeFeed()
		e.transition(onNoFill)
		return
	}
	e.FinalHedge(ctx)
}

// handleTimeout implements spec §4.5 "Timeout handling": force a fresh
// status check, cancel the resting order, then re-check once more for fills
// that raced the cancel.
func (e *Executor) handleTimeout(ctx context.Context) {
	e.refreshFillStatus(ctx)
	if e.progress().State.IsTerminal() {
		return
	}

	cancelCtx, cancel := context.WithTimeout(ctx, e.deps.Settings.CancelTimeout)
	defer cancel()
	if _, err := e.deps.VenueA.CancelOrder(cancelCtx, e.progress().ActiveOrderHash); err != nil {
		e.deps.Logger.Warn("cancel on timeout failed", "task", e.task.Config.ID, "error", err)
	}

	// Recorded before the second refresh for the same reason as
	// handleCostInvalid: a CANCELLED status here can drive the task to
	// completion from inside refreshFillStatus itself.
	e.mutateProgress(func(p *types.TaskProgress) { p.CancelReason = "Timeout" })

	e.refreshFillStatus(ctx)
	if e.progress().State.IsTerminal() {
		return
	}

	if e.progress().PredictFilledQty.IsZero() {
		e.unsubscribeFeed()
		e.transition(types.StateCancelled)
		return
	}
	e.FinalHedge(ctx)
}

// teardown implements the cancellation-context ordering of spec §5: stop the
// guard, stop the timeout timer (handled by monitorFills' own deferred Stop),
// cancel the resting order within a bounded budget, hedge any partial fill,
// then publish final state. ctx here is intentionally detached from the
// task's own (already-cancelled) context.
func (e *Executor) teardown(ctx context.Context) {
	if e.guard != nil {
		e.guard.ForceInvalid()
	}
	if e.progress().State.IsTerminal() {
		return
	}

	if hash := e.progress().ActiveOrderHash; hash != "" {
		cancelCtx, cancel := context.WithTimeout(ctx, e.deps.Settings.CancelTimeout)
		_, err := e.deps.VenueA.CancelOrder(cancelCtx, hash)
		cancel()
		if err != nil {
			e.deps.Logger.Warn("cancel during teardown failed", "task", e.task.Config.ID, "error", err)
		}
	}

	e.mutateProgress(func(p *types.TaskProgress) { p.CancelReason = "ContextCancelled" })
	if e.progress().PredictFilledQty.IsZero() {
		e.unsubscribeFeed()
		e.transition(types.StateCancelled)
		return
	}
	e.FinalHedge(ctx)
}
