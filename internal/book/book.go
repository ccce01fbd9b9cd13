// Package book implements the price-indexed, time-ordered limit order book
// and its price-time matching loop for one market.
//
// The book is a pure data structure: it owns sequences, price levels, and
// queue invariants, and assumes the caller serializes mutations (the engine
// holds the single write lock). Tick-size, pause, and signature checks are
// the engine's responsibility.
//
// Layout per (outcome, side): a sorted slice of price points plus a
// price → level map, the level holding the FIFO queue of live orders and an
// aggregate remaining for O(1) depth reporting.
package book

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/outcomex/clob-engine/internal/model"
)

// PriceLevel holds the ordered queue of live orders at one price, plus the
// summed remaining across them. A level whose queue is empty is removed from
// its ladder and must never influence best-price lookups.
type PriceLevel struct {
	Price     int64
	Queue     []*model.Order
	Remaining int64
}

// ladder is one side of the book for one outcome. prices is kept sorted
// ascending; best is the max for bids, the min for asks.
type ladder struct {
	prices []int64
	levels map[int64]*PriceLevel
}

func newLadder() *ladder {
	return &ladder{levels: make(map[int64]*PriceLevel)}
}

type sideKey struct {
	outcome int
	isBuy   bool
}

// Book is the authoritative order book for one market across all outcomes.
type Book struct {
	sides  map[sideKey]*ladder
	orders map[string]*model.Order // id → order, live and terminal
	seq    uint64
}

// New creates an empty book.
func New() *Book {
	return &Book{
		sides:  make(map[sideKey]*ladder),
		orders: make(map[string]*model.Order),
	}
}

// peek returns the ladder for (outcome, side) without creating it; nil when
// nothing has ever rested there. Read paths must use peek so they never
// mutate under the shared lock.
func (b *Book) peek(outcome int, isBuy bool) *ladder {
	return b.sides[sideKey{outcome: outcome, isBuy: isBuy}]
}

func (b *Book) ladderFor(outcome int, isBuy bool) *ladder {
	key := sideKey{outcome: outcome, isBuy: isBuy}
	l, ok := b.sides[key]
	if !ok {
		l = newLadder()
		b.sides[key] = l
	}
	return l
}

// Insert assigns the next sequence number and appends the order to the tail
// of its price level's queue, preserving FIFO. The order must already carry a
// validated price and positive remaining.
func (b *Book) Insert(o *model.Order) string {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	b.seq++
	o.Sequence = b.seq
	o.Remaining = o.Amount
	o.Status = model.StatusOpen
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	l := b.ladderFor(o.OutcomeIndex, o.IsBuy)
	lvl, ok := l.levels[o.Price]
	if !ok {
		lvl = &PriceLevel{Price: o.Price}
		l.levels[o.Price] = lvl
		idx := sort.Search(len(l.prices), func(i int) bool { return l.prices[i] >= o.Price })
		l.prices = append(l.prices, 0)
		copy(l.prices[idx+1:], l.prices[idx:])
		l.prices[idx] = o.Price
	}
	lvl.Queue = append(lvl.Queue, o)
	lvl.Remaining += o.Remaining

	b.orders[o.ID] = o
	return o.ID
}

// Get returns the order with the given id, live or terminal.
func (b *Book) Get(id string) (*model.Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// FindBySalt returns the live resting order carrying (maker, salt), if any.
func (b *Book) FindBySalt(maker common.Address, salt uint64) (*model.Order, bool) {
	for _, o := range b.orders {
		if o.Maker == maker && o.Salt == salt && o.Live() {
			return o, true
		}
	}
	return nil, false
}

// Cancel removes the order from its price level queue, marks it canceled,
// and decrements the level aggregate. Safe to call at any time, including
// against an order a match loop has not yet consumed.
func (b *Book) Cancel(id string) bool {
	o, ok := b.orders[id]
	if !ok || !o.Live() {
		return false
	}

	l := b.ladderFor(o.OutcomeIndex, o.IsBuy)
	if lvl, ok := l.levels[o.Price]; ok {
		for i, q := range lvl.Queue {
			if q.ID == id {
				lvl.Queue = append(lvl.Queue[:i], lvl.Queue[i+1:]...)
				lvl.Remaining -= o.Remaining
				break
			}
		}
		if len(lvl.Queue) == 0 {
			l.dropLevel(o.Price)
		}
	}

	o.Status = model.StatusCanceled
	return true
}

func (l *ladder) dropLevel(price int64) {
	delete(l.levels, price)
	for i, p := range l.prices {
		if p == price {
			l.prices = append(l.prices[:i], l.prices[i+1:]...)
			return
		}
	}
}

// bestLevel returns the best non-empty level for one side, pruning dead
// heads as it goes. Bids scan prices descending, asks ascending.
func (l *ladder) bestLevel(isBuy bool) *PriceLevel {
	for len(l.prices) > 0 {
		var price int64
		if isBuy {
			price = l.prices[len(l.prices)-1]
		} else {
			price = l.prices[0]
		}
		lvl := l.levels[price]
		lvl.pruneHead()
		if len(lvl.Queue) > 0 && lvl.Remaining > 0 {
			return lvl
		}
		l.dropLevel(price)
	}
	return nil
}

// pruneHead drops orders at the head of the queue that are no longer live.
// A canceled order may still sit in the queue if cancellation raced a
// best-level lookup; it must never be consumed by a match.
func (lvl *PriceLevel) pruneHead() {
	for len(lvl.Queue) > 0 && !lvl.Queue[0].Live() {
		lvl.Queue = lvl.Queue[1:]
	}
}

// BestPrice returns the best price with nonzero aggregate remaining for
// (outcome, side): the maximum for buys, the minimum for sells. The second
// return is false when the side is empty. Read-only: emptied levels are
// logically skipped here and physically dropped by the matching loop.
func (b *Book) BestPrice(outcome int, isBuy bool) (int64, bool) {
	l := b.peek(outcome, isBuy)
	if l == nil {
		return 0, false
	}
	if isBuy {
		for i := len(l.prices) - 1; i >= 0; i-- {
			if l.levels[l.prices[i]].Remaining > 0 {
				return l.prices[i], true
			}
		}
	} else {
		for _, p := range l.prices {
			if l.levels[p].Remaining > 0 {
				return p, true
			}
		}
	}
	return 0, false
}

// MakerFootprint returns the maker's live order count across all outcomes
// and aggregate remaining exposure on one outcome.
func (b *Book) MakerFootprint(maker common.Address, outcome int) (openOrders int, exposure int64) {
	for _, o := range b.orders {
		if o.Maker != maker || !o.Live() {
			continue
		}
		openOrders++
		if o.OutcomeIndex == outcome {
			exposure += o.Remaining
		}
	}
	return openOrders, exposure
}

// DepthAt returns the aggregate remaining quantity resting at exactly
// (outcome, side, price).
func (b *Book) DepthAt(outcome int, isBuy bool, price int64) int64 {
	l := b.peek(outcome, isBuy)
	if l == nil {
		return 0
	}
	lvl, ok := l.levels[price]
	if !ok {
		return 0
	}
	return lvl.Remaining
}
