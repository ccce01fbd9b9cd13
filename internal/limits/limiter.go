// Package limits enforces per-maker resting-order limits.
//
// A maker spamming one outcome with thousands of tiny resting orders bloats
// price levels and slows matching for everyone, so placement is gated on two
// counts: total open orders per maker, and aggregate remaining exposure per
// maker per outcome.
package limits

import "errors"

var (
	// ErrOpenOrderLimit is returned when a placement would push the maker
	// past the maximum number of simultaneously resting orders.
	ErrOpenOrderLimit = errors.New("limits: open order limit exceeded")

	// ErrExposureLimit is returned when a placement would push the maker's
	// aggregate remaining quantity on one outcome past the maximum.
	ErrExposureLimit = errors.New("limits: outcome exposure limit exceeded")
)

// Limiter holds the per-maker thresholds. Zero values disable a check.
type Limiter struct {
	// MaxOpenOrders caps resting orders per maker across all outcomes.
	MaxOpenOrders int

	// MaxOutcomeExposure caps Σ remaining per (maker, outcome), in
	// micro-units.
	MaxOutcomeExposure int64
}

// NewLimiter creates a limiter with the given thresholds.
func NewLimiter(maxOpenOrders int, maxOutcomeExposure int64) *Limiter {
	return &Limiter{
		MaxOpenOrders:      maxOpenOrders,
		MaxOutcomeExposure: maxOutcomeExposure,
	}
}

// MakerState is the view of a maker's current footprint the engine passes in.
type MakerState struct {
	OpenOrders      int
	OutcomeExposure int64 // Σ remaining on the target outcome
}

// CheckPlacement validates whether a new resting order of size amount for
// one outcome respects the maker's limits. Returns nil when within limits.
func (l *Limiter) CheckPlacement(state MakerState, amount int64) error {
	if l.MaxOpenOrders > 0 && state.OpenOrders+1 > l.MaxOpenOrders {
		return ErrOpenOrderLimit
	}
	if l.MaxOutcomeExposure > 0 && state.OutcomeExposure+amount > l.MaxOutcomeExposure {
		return ErrExposureLimit
	}
	return nil
}
