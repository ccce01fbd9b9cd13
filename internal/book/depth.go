package book

import (
	"sort"

	"github.com/outcomex/clob-engine/internal/model"
)

// Depth returns up to `levels` aggregated price levels for (outcome, side),
// sorted best-first: descending prices for bids, ascending for asks. Levels
// whose live remaining is zero are skipped. Built from the per-level
// aggregates the book maintains; DepthFromOrders is the fallback that must
// agree with it.
func (b *Book) Depth(outcome int, isBuy bool, levels int) []model.DepthLevel {
	l := b.peek(outcome, isBuy)
	if l == nil {
		return []model.DepthLevel{}
	}

	// levels <= 0 means no cap.
	if levels < 0 {
		levels = 0
	}
	out := make([]model.DepthLevel, 0, levels)
	appendLvl := func(price int64) bool {
		lvl := l.levels[price]
		if lvl.Remaining <= 0 {
			return true
		}
		out = append(out, model.DepthLevel{Price: price, Quantity: lvl.Remaining})
		return levels <= 0 || len(out) < levels
	}

	if isBuy {
		for i := len(l.prices) - 1; i >= 0; i-- {
			if !appendLvl(l.prices[i]) {
				break
			}
		}
	} else {
		for _, p := range l.prices {
			if !appendLvl(p) {
				break
			}
		}
	}
	return out
}

// QueueAt returns references to the live orders resting at exactly
// (outcome, side, price), ordered by ascending sequence: the literal fill
// order a new taker at that price would experience. offset/limit page
// through the queue; limit <= 0 means no cap.
func (b *Book) QueueAt(outcome int, isBuy bool, price int64, offset, limit int) []model.OrderRef {
	l := b.peek(outcome, isBuy)
	if l == nil {
		return nil
	}
	lvl, ok := l.levels[price]
	if !ok {
		return nil
	}

	refs := make([]model.OrderRef, 0, len(lvl.Queue))
	for _, o := range lvl.Queue {
		if !o.Live() {
			continue
		}
		refs = append(refs, model.OrderRef{
			ID:        o.ID,
			Maker:     o.Maker,
			Price:     o.Price,
			Remaining: o.Remaining,
			Sequence:  o.Sequence,
		})
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(refs) {
		return nil
	}
	refs = refs[offset:]
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs
}

// LiveOrders returns every live order for (outcome, side). Feed for the
// fallback aggregation and for state inspection in tests.
func (b *Book) LiveOrders(outcome int, isBuy bool) []*model.Order {
	var out []*model.Order
	for _, o := range b.orders {
		if o.OutcomeIndex == outcome && o.IsBuy == isBuy && o.Live() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// DepthFromOrders rebuilds the depth view by aggregating raw order records,
// for when a precomputed view is stale or the aggregator is not colocated
// with the authoritative book (relational mirror rows). The ordering and
// quantities must be identical to Depth over the same state.
func DepthFromOrders(orders []model.OrderRef, isBuy bool, levels int) []model.DepthLevel {
	byPrice := make(map[int64]int64)
	for _, o := range orders {
		if o.Remaining > 0 {
			byPrice[o.Price] += o.Remaining
		}
	}

	prices := make([]int64, 0, len(byPrice))
	for p := range byPrice {
		prices = append(prices, p)
	}
	if isBuy {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}

	out := make([]model.DepthLevel, 0, len(prices))
	for _, p := range prices {
		out = append(out, model.DepthLevel{Price: p, Quantity: byPrice[p]})
		if levels > 0 && len(out) == levels {
			break
		}
	}
	return out
}

// RefsFromRecords adapts persisted mirror rows into the OrderRef shape
// DepthFromOrders consumes, keeping only live rows.
func RefsFromRecords(records []model.OrderRecord) []model.OrderRef {
	refs := make([]model.OrderRef, 0, len(records))
	for _, r := range records {
		if r.Status != model.StatusOpen && r.Status != model.StatusPartial {
			continue
		}
		refs = append(refs, model.OrderRef{
			ID:        r.OrderID,
			Maker:     r.Maker,
			Price:     r.Price,
			Remaining: r.Remaining,
		})
	}
	return refs
}
