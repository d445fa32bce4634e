// Package guard implements the Cost/Price Guard (spec §4.6): an
// event-driven predicate that re-evaluates whether an open opportunity is
// still profitable each time Venue-B's book moves, with a latched state that
// follows each evaluation (no hysteresis band), a throttle on evaluation
// frequency, and a ghost-depth detector.
package guard

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/pkg/types"
)

// epsilon is the cost-check slack from spec §4.6.
var epsilon = decimal.New(1, -4)

// State is the guard's latched validity state.
type State string

const (
	Valid   State = "VALID"
	Invalid State = "INVALID"
)

// Params are the per-task bounds the guard evaluates against.
type Params struct {
	Direction     types.Direction
	PredictLeg    decimal.Decimal // fixed cost of the already-placed predict leg
	MaxHedgePrice decimal.Decimal // BUY only
	MinHedgePrice decimal.Decimal // SELL only
	MaxTotalCost  decimal.Decimal // BUY only
	FeeBps        int
}

func fee(price decimal.Decimal, bps int) decimal.Decimal {
	rebate := decimal.NewFromFloat(0.9) // 10% rebate
	one := decimal.NewFromInt(1)
	oppositeSide := one.Sub(price)
	minSide := price
	if oppositeSide.LessThan(price) {
		minSide = oppositeSide
	}
	rate := decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(10000))
	return rate.Mul(minSide).Mul(rebate)
}

func evaluate(p Params, hedgeBestAsk, hedgeBestBid decimal.Decimal) bool {
	switch p.Direction {
	case types.BUY:
		if hedgeBestAsk.IsZero() {
			return false
		}
		if hedgeBestAsk.GreaterThan(p.MaxHedgePrice.Add(epsilon)) {
			return false
		}
		totalCost := p.PredictLeg.Add(hedgeBestAsk).Add(fee(hedgeBestAsk, p.FeeBps))
		return totalCost.LessThanOrEqual(p.MaxTotalCost.Add(epsilon))
	case types.SELL:
		return hedgeBestBid.GreaterThanOrEqual(p.MinHedgePrice)
	default:
		return false
	}
}

// OnTransition is called with the new state whenever it flips (edge-triggered).
type OnTransition func(newState State)

// Guard is one task's cost/price guard instance.
type Guard struct {
	mu sync.Mutex

	params Params
	state  State

	throttle     time.Duration
	lastEvalAt   time.Time

	onTransition OnTransition

	ghost *ghostDepthDetector
}

// New creates a guard starting in VALID state (an opportunity was validated
// at entry; the guard only watches for it going invalid).
func New(params Params, throttle time.Duration, onTransition OnTransition) *Guard {
	return &Guard{
		params:       params,
		state:        Valid,
		throttle:     throttle,
		onTransition: onTransition,
		ghost:        newGhostDepthDetector(30 * time.Second, 6),
	}
}

// State returns the current latched state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// OnBookUpdate re-evaluates the predicate, throttled to one evaluation per
// g.throttle (spec §4.6 "Evaluation discipline").
func (g *Guard) OnBookUpdate(book *types.Orderbook) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastEvalAt.IsZero() && time.Since(g.lastEvalAt) < g.throttle {
		return
	}
	g.lastEvalAt = time.Now()

	var ask, bid decimal.Decimal
	if lvl, ok := book.BestAsk(); ok {
		ask = lvl.Price
	}
	if lvl, ok := book.BestBid(); ok {
		bid = lvl.Price
	}

	g.ghost.observe(g.depthExists(book))

	valid := evaluate(g.params, ask, bid)
	newState := Invalid
	if valid {
		newState = Valid
	}

	if newState != g.state {
		g.state = newState
		if g.onTransition != nil {
			g.onTransition(newState)
		}
	}
}

// depthExists reports whether executable depth exists at the acceptance
// price (spec §4.6 "Ghost-depth detector").
func (g *Guard) depthExists(book *types.Orderbook) bool {
	switch g.params.Direction {
	case types.BUY:
		depth := book.ExecutableDepth(true, decimal.Zero, g.params.MaxHedgePrice)
		return depth.IsPositive()
	case types.SELL:
		depth := book.ExecutableDepth(false, g.params.MinHedgePrice, decimal.NewFromInt(1))
		return depth.IsPositive()
	default:
		return false
	}
}

// ForceInvalid latches the guard to INVALID, used when the Venue-B
// connection drops on a non-sports market (spec §4.6).
func (g *Guard) ForceInvalid() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Invalid {
		g.state = Invalid
		if g.onTransition != nil {
			g.onTransition(Invalid)
		}
	}
}

// DepthUnstable reports whether the ghost-depth detector has fired.
func (g *Guard) DepthUnstable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ghost.unstable()
}

// ResetGhostDepth clears the flip counter (spec scenario 6 "ghost-depth
// counters reset" on reconnect).
func (g *Guard) ResetGhostDepth() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ghost.reset()
}

// ghostDepthDetector counts flips of "depth exists" <-> "depth absent" in a
// rolling window, grounded on the same rolling-window-of-observations idiom
// used elsewhere in the corpus for flow toxicity detection.
type ghostDepthDetector struct {
	window    time.Duration
	threshold int

	observations []depthObservation
	lastState    *bool
}

type depthObservation struct {
	at      time.Time
	flipped bool
}

func newGhostDepthDetector(window time.Duration, threshold int) *ghostDepthDetector {
	return &ghostDepthDetector{window: window, threshold: threshold}
}

func (d *ghostDepthDetector) observe(depthExists bool) {
	flipped := d.lastState != nil && *d.lastState != depthExists
	state := depthExists
	d.lastState = &state

	if flipped {
		d.observations = append(d.observations, depthObservation{at: time.Now(), flipped: true})
	}
	d.evictStale()
}

func (d *ghostDepthDetector) evictStale() {
	if len(d.observations) == 0 {
		return
	}
	cutoff := time.Now().Add(-d.window)
	idx := 0
	for idx < len(d.observations) && d.observations[idx].at.Before(cutoff) {
		idx++
	}
	d.observations = d.observations[idx:]
}

func (d *ghostDepthDetector) unstable() bool {
	d.evictStale()
	return len(d.observations) >= d.threshold
}

func (d *ghostDepthDetector) reset() {
	d.observations = nil
	d.lastState = nil
}
