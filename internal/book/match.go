package book

import (
	"time"

	"github.com/google/uuid"

	"github.com/outcomex/clob-engine/internal/model"
)

// Match crosses the best bid against the best ask for an outcome until no
// cross remains or maxMatches trades have been emitted. The budget bounds
// the work a single invocation can be forced to do; callers needing more
// crosses issue repeated calls.
//
// Each step is atomic: the trade record is emitted together with both
// remaining-decrements, never one without the other. The execution price is
// the resting order's price, where resting means whichever of the two heads
// carries the lower sequence. Standing liquidity sets the price.
//
// feeBps prices the taker fee on each trade's notional.
func (b *Book) Match(outcome int, maxMatches int, feeBps int64) []model.Trade {
	bids := b.ladderFor(outcome, true)
	asks := b.ladderFor(outcome, false)

	var trades []model.Trade
	for maxMatches <= 0 || len(trades) < maxMatches {
		bidLvl := bids.bestLevel(true)
		askLvl := asks.bestLevel(false)
		if bidLvl == nil || askLvl == nil || bidLvl.Price < askLvl.Price {
			break
		}

		bid := bidLvl.Queue[0]
		ask := askLvl.Queue[0]

		fill := bid.Remaining
		if ask.Remaining < fill {
			fill = ask.Remaining
		}

		// Earlier sequence = resting side = sets the execution price.
		price := bid.Price
		if ask.Sequence < bid.Sequence {
			price = ask.Price
		}

		bid.Remaining -= fill
		ask.Remaining -= fill
		bidLvl.Remaining -= fill
		askLvl.Remaining -= fill
		settleAfterFill(bid, bidLvl)
		settleAfterFill(ask, askLvl)

		trades = append(trades, model.Trade{
			ID:           uuid.New().String(),
			OutcomeIndex: outcome,
			BuyOrderID:   bid.ID,
			SellOrderID:  ask.ID,
			BuyMaker:     bid.Maker,
			SellMaker:    ask.Maker,
			Price:        price,
			Amount:       fill,
			Notional:     model.Notional(price, fill),
			Fee:          model.FeeFor(price, fill, feeBps),
			ExecutedAt:   time.Now().UTC(),
		})
	}
	return trades
}

// settleAfterFill transitions an order after a crossing step: remaining 0
// marks it filled and drops it from the queue; otherwise it stays partial at
// the head, keeping its priority for the next match.
func settleAfterFill(o *model.Order, lvl *PriceLevel) {
	if o.Remaining == 0 {
		o.Status = model.StatusFilled
		lvl.Queue = lvl.Queue[1:]
	} else {
		o.Status = model.StatusPartial
	}
}
