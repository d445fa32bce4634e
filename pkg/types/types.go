// Package types defines the shared data structures used across the engine —
// task/order/orderbook/fill vocabulary plus the venue wire shapes. It has no
// dependencies on internal packages so any layer can import it.
package types

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the outcome token a task trades: YES or NO.
type Side string

const (
	YES Side = "YES"
	NO  Side = "NO"
)

// Direction is whether a task opens (BUY) or closes (SELL) a position.
type Direction string

const (
	BUY  Direction = "BUY"
	SELL Direction = "SELL"
)

// OrderType enumerates the order lifecycles the venues accept.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: rests on book until filled or cancelled
	OrderTypeIOC OrderType = "IOC" // Immediate-or-Cancel: unfilled remainder rejected on submit
)

// Strategy is the task's execution style on Venue-A.
type Strategy string

const (
	StrategyMaker Strategy = "MAKER"
	StrategyTaker Strategy = "TAKER"
)

// SignatureType identifies the signing scheme for the settlement contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // smart-wallet / proxy
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize is the venue's minimum price increment for a market.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for fixed-point USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// ————————————————————————————————————————————————————————————————————————
// Task — the primary entity (spec §3)
// ————————————————————————————————————————————————————————————————————————

// TaskState is the task's mutable lifecycle status.
type TaskState string

const (
	StateCreated         TaskState = "CREATED"
	StateSubmitted       TaskState = "SUBMITTED"
	StatePartiallyFilled TaskState = "PARTIALLY_FILLED"
	StateHedging         TaskState = "HEDGING"
	StatePaused          TaskState = "PAUSED"
	StateLossHedge       TaskState = "LOSS_HEDGE"
	StateCompleted       TaskState = "COMPLETED"
	StateCancelled       TaskState = "CANCELLED"
	StateFailed          TaskState = "FAILED"
	StateHedgeFailed      TaskState = "HEDGE_FAILED"
)

// IsTerminal reports whether state accepts no further transitions (invariant 4).
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed, StateHedgeFailed:
		return true
	default:
		return false
	}
}

// TaskConfig is the task's immutable configuration, fixed at creation.
type TaskConfig struct {
	ID string // opaque, uuid-generated

	Direction Direction
	Side      Side

	VenueAMarketID string
	YesTokenID     string // Venue-B token id, YES outcome
	NoTokenID      string // Venue-B token id, NO outcome
	Inverted       bool   // true if the two venues pose the question symmetrically inverted

	LimitPrice    decimal.Decimal // Venue-A limit price
	MaxHedgePrice decimal.Decimal // BUY acceptance bound on Venue-B (zero for SELL)
	MinHedgePrice decimal.Decimal // SELL acceptance bound on Venue-B (zero for BUY)

	TargetQty decimal.Decimal
	FeeBps    int
	TickSize  TickSize
	NegRisk   bool
	Strategy  Strategy

	MaxTotalCost decimal.Decimal // BUY only; zero means unset

	OrderTimeout    time.Duration
	MaxHedgeRetries int

	IsSportsCategory bool // tolerates WS absence per §4.6
}

// TaskProgress is the task's mutable progress state.
type TaskProgress struct {
	State TaskState

	PredictFilledQty decimal.Decimal // monotone non-decreasing
	HedgedQty        decimal.Decimal // monotone non-decreasing, <= PredictFilledQty

	AvgPredictPrice decimal.Decimal
	AvgHedgePrice   decimal.Decimal
	ActualProfit    decimal.Decimal

	PauseCount       int
	HedgeRetryCount  int
	LossHedgeApplied bool

	ActiveOrderHash string // identity of the currently-resting Venue-A order, "" if none
	ActiveOrderID   string

	LastError     string
	CancelReason  string

	CreatedAt        time.Time
	FirstStatusAt    time.Time
	FirstFillAt      time.Time
	FirstHedgeFillAt time.Time
	CompletedAt      time.Time
}

// Task is the full state of one arbitrage execution: immutable config plus
// mutable progress.
type Task struct {
	Config   TaskConfig
	Progress TaskProgress
}

// ————————————————————————————————————————————————————————————————————————
// Order (Venue-A child entity)
// ————————————————————————————————————————————————————————————————————————

// OrderState mirrors a venue's reported order lifecycle.
type OrderState string

const (
	OrderOpen            OrderState = "OPEN"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCancelled       OrderState = "CANCELLED"
	OrderExpired         OrderState = "EXPIRED"
)

// OrderStatus is the normalized response from getOrderStatus (spec §4.1).
// A nil *OrderStatus from the gateway means "venue reports no such order".
type OrderStatus struct {
	ID           string
	OrderHash    string
	State        OrderState
	FilledQty    decimal.Decimal
	RemainingQty decimal.Decimal
	AvgPrice     decimal.Decimal
	CancelReason string
}

// SignedOrder is the wire format submitted to a venue's order endpoint.
// MakerAmount/TakerAmount are fixed-point integers (1e6 = $1 on Venue-A).
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`
	Signer        string        `json:"signer"`
	Taker         string        `json:"taker"`
	TokenID       string        `json:"tokenId"`
	MakerAmount   *big.Int      `json:"makerAmount"`
	TakerAmount   *big.Int      `json:"takerAmount"`
	Side          Direction     `json:"side"`
	Expiration    string        `json:"expiration"`
	Nonce         string        `json:"nonce"`
	FeeRateBps    string        `json:"feeRateBps"`
	SignatureType SignatureType `json:"signatureType"`
	Signature     string        `json:"signature"`
	NegRisk       bool          `json:"negRisk,omitempty"`
}

// OrderPayload is the REST request body for a single order submission.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType OrderType   `json:"orderType"`
}

// OrderResponse is the REST response for one submitted order.
type OrderResponse struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"orderID"`
	OrderHash string `json:"orderHash,omitempty"`
	ErrorMsg  string `json:"errorMsg,omitempty"`
}

// CancelResponse is the REST response for a cancel-orders call.
type CancelResponse struct {
	Removed []string `json:"removed"`
	Noop    []string `json:"noop"`
}

// ————————————————————————————————————————————————————————————————————————
// Orderbook (spec §3)
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is one (price, size) rung of an orderbook.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Orderbook is a pair of price-ordered level sequences for one token.
// Bids are sorted descending by price, asks ascending.
type Orderbook struct {
	TokenID   string
	Bids      []PriceLevel
	Asks      []PriceLevel

	SourceTimestamp time.Time // venue-reported
	ObservedAt      time.Time // local monotonic receipt time
}

// BestBid returns the top bid level, or a zero level and false if empty.
func (ob *Orderbook) BestBid() (PriceLevel, bool) {
	if len(ob.Bids) == 0 {
		return PriceLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the top ask level, or a zero level and false if empty.
func (ob *Orderbook) BestAsk() (PriceLevel, bool) {
	if len(ob.Asks) == 0 {
		return PriceLevel{}, false
	}
	return ob.Asks[0], true
}

// MidPrice returns the midpoint of best bid and ask, or zero if either side
// is empty.
func (ob *Orderbook) MidPrice() decimal.Decimal {
	bid, ok1 := ob.BestBid()
	ask, ok2 := ob.BestAsk()
	if !ok1 || !ok2 {
		return decimal.Zero
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
}

// ExecutableDepth sums level sizes at prices within [lo, hi] on the given side.
func (ob *Orderbook) ExecutableDepth(ask bool, lo, hi decimal.Decimal) decimal.Decimal {
	levels := ob.Bids
	if ask {
		levels = ob.Asks
	}
	total := decimal.Zero
	for _, lvl := range levels {
		if lvl.Price.GreaterThanOrEqual(lo) && lvl.Price.LessThanOrEqual(hi) {
			total = total.Add(lvl.Size)
		}
	}
	return total
}

// ————————————————————————————————————————————————————————————————————————
// Fill events (spec §3, §4.4)
// ————————————————————————————————————————————————————————————————————————

// BlockFillEvent is one decoded OrderFilled log from Venue-A's settlement
// contracts.
type BlockFillEvent struct {
	OrderHash     string
	Maker         string
	Taker         string
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	BlockNumber   uint64
	TxHash        string
	LogIndex      uint
	Timestamp     time.Time
}

// DedupKey returns the canonical, opaque dedup key for this event.
func (e BlockFillEvent) DedupKey() string {
	return e.TxHash + ":" + itoa(uint64(e.LogIndex))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ————————————————————————————————————————————————————————————————————————
// Opportunity (scanner output, spec §3, §4.9)
// ————————————————————————————————————————————————————————————————————————

// Opportunity is a priced, depth-annotated cross-venue pair candidate.
// Stable only within one evaluation window; consumed by task creation then
// discarded.
type Opportunity struct {
	VenueAMarketID string
	YesTokenID     string
	NoTokenID      string
	Inverted       bool

	PredictTopPrice decimal.Decimal // Venue-A top of book for the traded side
	HedgeTopPrice   decimal.Decimal // Venue-B top of book for the hedge side

	ProjectedProfitPct   decimal.Decimal
	ProjectedDepth        decimal.Decimal
	Score                 decimal.Decimal

	NegRisk  bool
	TickSize TickSize
	FeeBps   int

	ObservedAt time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Position snapshot (read-only, used for SELL validation)
// ————————————————————————————————————————————————————————————————————————

// PositionSnapshot is the venue-reported holding of an outcome token.
type PositionSnapshot struct {
	TokenID string
	Shares  decimal.Decimal
}
