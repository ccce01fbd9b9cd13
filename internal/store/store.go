// Package store defines the persistence interface for the relational mirror
// of signed orders and the immutable trade ledger. Implementations include
// PostgreSQL (source of truth for the mirror), Redis (read-through cache),
// and in-memory (for testing).
//
// The mirror is what a Read Aggregator uses when it is not colocated with
// the authoritative book; the raw rows stay rebuildable into a depth view
// identical to the book's.
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomex/clob-engine/internal/model"
)

// ErrNotFound is returned when no row matches the requested key.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface.
type Store interface {
	// UpsertOrder writes a mirror row keyed by (VerifyingMarket, ChainID,
	// Maker, Salt). Duplicate submissions of the same signed order coalesce
	// onto the existing row instead of double-counting.
	UpsertOrder(ctx context.Context, rec *model.OrderRecord) error

	// GetOrderBySalt retrieves the mirror row for (maker, salt) within one
	// (verifyingMarket, chainID) realm.
	GetOrderBySalt(ctx context.Context, verifyingMarket string, chainID int64, maker common.Address, salt uint64) (*model.OrderRecord, error)

	// ListOpenOrders returns live mirror rows for (outcome, side), the feed
	// for mirror-side depth rebuilds.
	ListOpenOrders(ctx context.Context, verifyingMarket string, chainID int64, outcome int, isBuy bool) ([]model.OrderRecord, error)

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// ListTradesByOutcome returns the most recent trades for one outcome,
	// newest first, capped at limit.
	ListTradesByOutcome(ctx context.Context, outcome int, limit int) ([]model.Trade, error)
}
