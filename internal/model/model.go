// Package model defines the core domain types shared across the CLOB engine.
// Prices and quantities are int64 fixed-point micro-units (6 implied
// decimals); fractional collateral values (fees, notionals) use
// shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceScale is the number of implied decimal places in int64 prices and
// quantities. 1_000_000 micro-units = 1 collateral unit.
const PriceScale int32 = 6

// OrderStatus tracks the lifecycle of an order. Transitions are append-only:
// a filled or canceled order is never resurrected.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusPartial  OrderStatus = "partial"
	StatusFilled   OrderStatus = "filled"
	StatusCanceled OrderStatus = "canceled"
)

// Order is a signed price-and-quantity intent for one outcome token.
//
// Salt is a maker-chosen nonce; (Maker, Salt) identifies the signed order for
// its whole lifetime, independent of any book position. Sequence is assigned
// once at insertion and is the sole FIFO tie-breaker within a price level.
type Order struct {
	ID           string         `json:"id"`
	Maker        common.Address `json:"maker"`
	OutcomeIndex int            `json:"outcome_index"`
	IsBuy        bool           `json:"is_buy"`
	Price        int64          `json:"price"`
	Amount       int64          `json:"amount"`
	Remaining    int64          `json:"remaining"`
	Expiry       int64          `json:"expiry"` // unix seconds; 0 = never expires
	Salt         uint64         `json:"salt"`
	Sequence     uint64         `json:"sequence"`
	Status       OrderStatus    `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Live reports whether the order still has quantity available on the book.
func (o *Order) Live() bool {
	return o.Remaining > 0 && (o.Status == StatusOpen || o.Status == StatusPartial)
}

// Trade is an immutable record of one crossing step. Price is the resting
// (earlier-sequence) order's price; Notional and Fee are derived from it in
// collateral units.
type Trade struct {
	ID           string          `json:"id"`
	OutcomeIndex int             `json:"outcome_index"`
	BuyOrderID   string          `json:"buy_order_id"`
	SellOrderID  string          `json:"sell_order_id"`
	BuyMaker     common.Address  `json:"buy_maker"`
	SellMaker    common.Address  `json:"sell_maker"`
	Price        int64           `json:"price"`
	Amount       int64           `json:"amount"`
	Notional     decimal.Decimal `json:"notional"`
	Fee          decimal.Decimal `json:"fee"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// Notional converts a (price, amount) pair from micro-units to collateral
// units.
func Notional(price, amount int64) decimal.Decimal {
	p := decimal.New(price, -PriceScale)
	q := decimal.New(amount, -PriceScale)
	return p.Mul(q)
}

// FeeFor computes the fee on a trade's notional at feeBps basis points.
func FeeFor(price, amount, feeBps int64) decimal.Decimal {
	return Notional(price, amount).
		Mul(decimal.NewFromInt(feeBps)).
		Div(decimal.NewFromInt(10_000))
}

// DepthLevel is one aggregated price level in a depth snapshot.
type DepthLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// OrderRef is the read-side view of one resting order, in literal fill order
// (ascending Sequence) at its price level.
type OrderRef struct {
	ID        string         `json:"id"`
	Maker     common.Address `json:"maker"`
	Price     int64          `json:"price"`
	Remaining int64          `json:"remaining"`
	Sequence  uint64         `json:"sequence"`
}

// OrderRecord is the persisted mirror row for a signed order. One row per
// (VerifyingMarket, ChainID, Maker, Salt); duplicate submissions of the same
// signed order upsert onto this key instead of double-counting.
type OrderRecord struct {
	VerifyingMarket string         `json:"verifying_market"`
	ChainID         int64          `json:"chain_id"`
	Maker           common.Address `json:"maker"`
	Salt            uint64         `json:"salt"`
	OrderID         string         `json:"order_id"`
	OutcomeIndex    int            `json:"outcome_index"`
	IsBuy           bool           `json:"is_buy"`
	Price           int64          `json:"price"`
	Amount          int64          `json:"amount"`
	Remaining       int64          `json:"remaining"`
	Status          OrderStatus    `json:"status"`
	Signature       string         `json:"signature"` // hex, 65 bytes
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
