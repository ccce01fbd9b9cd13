// Package market defines the market metadata the engine trades against and
// its validation rules.
package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrOutcomeCount = errors.New("market: outcome count must be at least 2")
	ErrTickSize     = errors.New("market: tick size must be positive")
	ErrFeeBps       = errors.New("market: fee must be between 0 and 10000 bps")
	ErrNoContract   = errors.New("market: verifying contract address required")
)

// Market holds the per-market configuration. TickSize constrains every
// accepted order price to an exact multiple; TradingPaused is the single
// global circuit breaker (cancellation is never gated by it).
type Market struct {
	ID                string         `json:"id"`
	ChainID           int64          `json:"chain_id"`
	VerifyingContract common.Address `json:"verifying_contract"`
	OutcomeCount      int            `json:"outcome_count"`
	TickSize          int64          `json:"tick_size"`
	FeeBps            int64          `json:"fee_bps"`
	ResolutionTime    time.Time      `json:"resolution_time"`
	TradingPaused     bool           `json:"trading_paused"`
}

// Validate checks the market configuration before the engine accepts it.
func (m *Market) Validate() error {
	if m.OutcomeCount < 2 {
		return fmt.Errorf("%w: got %d", ErrOutcomeCount, m.OutcomeCount)
	}
	if m.TickSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrTickSize, m.TickSize)
	}
	if m.FeeBps < 0 || m.FeeBps > 10_000 {
		return fmt.Errorf("%w: got %d", ErrFeeBps, m.FeeBps)
	}
	if m.VerifyingContract == (common.Address{}) {
		return ErrNoContract
	}
	return nil
}

// ValidOutcome reports whether idx addresses one of the market's outcomes.
func (m *Market) ValidOutcome(idx int) bool {
	return idx >= 0 && idx < m.OutcomeCount
}

// ValidTick reports whether price is a positive exact multiple of TickSize.
func (m *Market) ValidTick(price int64) bool {
	return price > 0 && price%m.TickSize == 0
}
