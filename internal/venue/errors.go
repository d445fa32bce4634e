// Package venue holds the error taxonomy and rate limiting shared by the
// Venue-A and Venue-B gateway implementations.
package venue

import (
	"errors"
	"fmt"
)

// Sentinel errors for the submitOrder failure kinds (spec §4.1).
var (
	ErrBelowMinNotional    = errors.New("order value below minimum notional")
	ErrMarketInfoUnavailable = errors.New("market info unavailable")
	ErrPrecisionRejected   = errors.New("price or size not aligned to venue precision")
	ErrAuthExpired         = errors.New("auth token expired")
	ErrAcceptingOrdersFalse = errors.New("market not accepting orders")
)

// RejectedError wraps a venue-reported rejection reason.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by venue: %s", e.Reason)
}

// NetworkError wraps a transient transport failure (timeout, 5xx, connection
// reset). Policy: retry with backoff, per the error taxonomy in spec §7.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Semantic errors (spec §7 "Semantic" class) — these abort a task through
// cancel-and-end, preserving and hedging any partials.
var (
	ErrCostInvalid           = errors.New("cost invalid")
	ErrPriceInvalid          = errors.New("price invalid")
	ErrPositionInsufficient  = errors.New("position insufficient")
	ErrSharesMisalignment    = errors.New("shares misalignment")
)

// Fatal errors (spec §7 "Fatal" class).
var (
	ErrHedgeFailedAfterLossHedge = errors.New("hedge failed after loss-hedge")
	ErrFilledButEmpty            = errors.New("venue reported filled with zero quantity")
)

// IsRetryable reports whether err belongs to the Transient taxonomy class and
// should be retried by the caller rather than surfaced as a task failure.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
