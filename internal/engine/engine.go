// Package engine owns the authoritative market state behind a single write
// lock: the order book, the direct-fill ledger keyed by (maker, salt), the
// canceled-salt replay set, and the admin switches.
//
// Every mutating operation runs to completion under the lock, serializable
// rather than merely eventually consistent, so the matching loop can assume the
// book it reads is the book it writes back. Reads take the shared lock and
// may observe a snapshot predating a just-committed mutation, but never a
// partial one.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/outcomex/clob-engine/internal/book"
	"github.com/outcomex/clob-engine/internal/limits"
	"github.com/outcomex/clob-engine/internal/market"
	"github.com/outcomex/clob-engine/internal/model"
	"github.com/outcomex/clob-engine/internal/signing"
)

var (
	// ErrInvalidSignature mirrors the authorization layer's rejection.
	ErrInvalidSignature = signing.ErrInvalidSignature

	ErrExpired         = errors.New("engine: order expired")
	ErrAlreadyCanceled = errors.New("engine: salt already canceled")
	ErrDuplicateOrder  = errors.New("engine: salt already used by a placed order")
	ErrOverFill        = errors.New("engine: fill would exceed signed amount")
	ErrInvalidTick     = errors.New("engine: price not a multiple of tick size")
	ErrTradingPaused   = errors.New("engine: trading is paused")
	ErrNotFound        = errors.New("engine: order not found")
	ErrUnauthorized    = errors.New("engine: caller is not the maker")
	ErrOutcomeRange    = errors.New("engine: outcome index out of range")
	ErrInvalidAmount   = errors.New("engine: amount must be positive")
)

type saltKey struct {
	maker common.Address
	salt  uint64
}

// Engine is the single-writer state machine for one market.
type Engine struct {
	mu sync.RWMutex

	market   market.Market
	book     *book.Book
	verifier *signing.Verifier
	limiter  *limits.Limiter

	// Direct-fill path state: cumulative fill and explicit invalidation by
	// (maker, salt), independent of any book position.
	filledBySalt  map[saltKey]int64
	canceledSalts map[saltKey]struct{}

	// placedSalts records every (maker, salt) that has ever produced a booked
	// order. The pair identifies one signed order for its whole lifetime, so a
	// replayed submission is rejected even after the original fills or
	// cancels.
	placedSalts map[saltKey]struct{}

	lastTrade map[int]model.Trade

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLimiter enables per-maker placement limits.
func WithLimiter(l *limits.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine for a validated market.
func New(m market.Market, verifier *signing.Verifier, opts ...Option) (*Engine, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		market:        m,
		book:          book.New(),
		verifier:      verifier,
		filledBySalt:  make(map[saltKey]int64),
		canceledSalts: make(map[saltKey]struct{}),
		placedSalts:   make(map[saltKey]struct{}),
		lastTrade:     make(map[int]model.Trade),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Market returns a snapshot of the market configuration.
func (e *Engine) Market() market.Market {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.market
}

// expired reports whether the order's expiry has passed. Expiry 0 never
// expires.
func (e *Engine) expired(o *model.Order) bool {
	return o.Expiry != 0 && e.now().Unix() >= o.Expiry
}

// authorizeOrder runs the stateless signature check plus the engine-owned
// expiry and replay checks shared by both execution paths.
func (e *Engine) authorizeOrder(o *model.Order, sig []byte) error {
	if _, err := e.verifier.VerifyOrder(o, sig); err != nil {
		return err
	}
	if e.expired(o) {
		return fmt.Errorf("%w: expiry %d", ErrExpired, o.Expiry)
	}
	if _, ok := e.canceledSalts[saltKey{o.Maker, o.Salt}]; ok {
		return fmt.Errorf("%w: maker %s salt %d", ErrAlreadyCanceled, o.Maker.Hex(), o.Salt)
	}
	return nil
}

// PlaceSigned validates a signed order and inserts it as a resting order.
// A rejected placement leaves all state untouched.
func (e *Engine) PlaceSigned(o *model.Order, sig []byte) (*model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.authorizeOrder(o, sig); err != nil {
		return nil, err
	}
	key := saltKey{o.Maker, o.Salt}
	if _, ok := e.placedSalts[key]; ok {
		return nil, fmt.Errorf("%w: maker %s salt %d", ErrDuplicateOrder, o.Maker.Hex(), o.Salt)
	}
	if e.market.TradingPaused {
		return nil, ErrTradingPaused
	}
	if !e.market.ValidOutcome(o.OutcomeIndex) {
		return nil, fmt.Errorf("%w: %d of %d", ErrOutcomeRange, o.OutcomeIndex, e.market.OutcomeCount)
	}
	if !e.market.ValidTick(o.Price) {
		return nil, fmt.Errorf("%w: price %d, tick %d", ErrInvalidTick, o.Price, e.market.TickSize)
	}
	if o.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.limiter != nil {
		open, exposure := e.book.MakerFootprint(o.Maker, o.OutcomeIndex)
		state := limits.MakerState{OpenOrders: open, OutcomeExposure: exposure}
		if err := e.limiter.CheckPlacement(state, o.Amount); err != nil {
			return nil, err
		}
	}

	ins := *o // engine owns its copy
	ins.CreatedAt = e.now()
	e.book.Insert(&ins)
	e.placedSalts[key] = struct{}{}
	return &ins, nil
}

// Match crosses resting orders for one outcome, up to maxMatches trades.
// Committed crosses are never rolled back on downstream failure.
func (e *Engine) Match(outcome int, maxMatches int) ([]model.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.market.TradingPaused {
		return nil, ErrTradingPaused
	}
	if !e.market.ValidOutcome(outcome) {
		return nil, fmt.Errorf("%w: %d of %d", ErrOutcomeRange, outcome, e.market.OutcomeCount)
	}

	trades := e.book.Match(outcome, maxMatches, e.market.FeeBps)
	if n := len(trades); n > 0 {
		e.lastTrade[outcome] = trades[n-1]
	}
	return trades, nil
}

// FillSigned executes a signed order directly, bypassing the queue. The
// cumulative fill for (maker, salt) may never exceed the signed amount: the
// call that would exceed it fails with ErrOverFill and mutates nothing.
func (e *Engine) FillSigned(o *model.Order, sig []byte, fillAmount int64) (model.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.authorizeOrder(o, sig); err != nil {
		return model.Trade{}, err
	}
	if e.market.TradingPaused {
		return model.Trade{}, ErrTradingPaused
	}
	if !e.market.ValidOutcome(o.OutcomeIndex) {
		return model.Trade{}, fmt.Errorf("%w: %d of %d", ErrOutcomeRange, o.OutcomeIndex, e.market.OutcomeCount)
	}
	if fillAmount <= 0 || o.Amount <= 0 {
		return model.Trade{}, ErrInvalidAmount
	}

	key := saltKey{o.Maker, o.Salt}
	filled := e.filledBySalt[key]
	if filled+fillAmount > o.Amount {
		return model.Trade{}, fmt.Errorf("%w: filled %d + %d > amount %d",
			ErrOverFill, filled, fillAmount, o.Amount)
	}
	e.filledBySalt[key] = filled + fillAmount

	trade := model.Trade{
		ID:           uuid.New().String(),
		OutcomeIndex: o.OutcomeIndex,
		Price:        o.Price,
		Amount:       fillAmount,
		Notional:     model.Notional(o.Price, fillAmount),
		Fee:          model.FeeFor(o.Price, fillAmount, e.market.FeeBps),
		ExecutedAt:   e.now(),
	}
	if o.IsBuy {
		trade.BuyMaker = o.Maker
	} else {
		trade.SellMaker = o.Maker
	}
	e.lastTrade[o.OutcomeIndex] = trade
	return trade, nil
}

// FilledBySalt returns the cumulative direct-fill quantity for (maker, salt).
func (e *Engine) FilledBySalt(maker common.Address, salt uint64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.filledBySalt[saltKey{maker, salt}]
}

// CancelOrder cancels a specific resting order by id. Permitted while
// paused: cancellation is never blocked by the circuit breaker.
func (e *Engine) CancelOrder(maker common.Address, id string, salt uint64, sig []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.verifier.VerifyCancelOrder(maker, id, salt, sig); err != nil {
		return err
	}

	o, ok := e.book.Get(id)
	if !ok {
		return fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	if o.Maker != maker || o.Salt != salt {
		return fmt.Errorf("%w: order %s", ErrUnauthorized, id)
	}
	if o.Status == model.StatusCanceled {
		return fmt.Errorf("%w: id %s", ErrAlreadyCanceled, id)
	}
	if !e.book.Cancel(id) {
		return fmt.Errorf("%w: id %s already terminal", ErrNotFound, id)
	}
	return nil
}

// CancelSalt invalidates (maker, salt) for all future fills, including
// signed orders that were never posted to the book, and cancels any resting
// order carrying that salt. Permitted while paused.
func (e *Engine) CancelSalt(maker common.Address, salt uint64, sig []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.verifier.VerifyCancelSalt(maker, salt, sig); err != nil {
		return err
	}

	key := saltKey{maker, salt}
	if _, ok := e.canceledSalts[key]; ok {
		return fmt.Errorf("%w: maker %s salt %d", ErrAlreadyCanceled, maker.Hex(), salt)
	}
	e.canceledSalts[key] = struct{}{}

	if o, ok := e.book.FindBySalt(maker, salt); ok {
		e.book.Cancel(o.ID)
	}
	return nil
}

// SaltCanceled reports whether (maker, salt) has been invalidated.
func (e *Engine) SaltCanceled(maker common.Address, salt uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.canceledSalts[saltKey{maker, salt}]
	return ok
}

// --- Admin controls ---

// Pause trips the circuit breaker: insert, match, and fillSigned reject
// until Resume. Cancellation and reads stay available.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.market.TradingPaused = true
}

// Resume clears the circuit breaker.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.market.TradingPaused = false
}

// SetTickSize updates the tick. Existing resting orders keep their
// already-validated prices.
func (e *Engine) SetTickSize(tick int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tick <= 0 {
		return market.ErrTickSize
	}
	e.market.TickSize = tick
	return nil
}

// UpdateResolutionTime is an unconditional metadata write.
func (e *Engine) UpdateResolutionTime(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.market.ResolutionTime = t
}

// --- Read side ---

// BestPrice returns the best live price for (outcome, side).
func (e *Engine) BestPrice(outcome int, isBuy bool) (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.BestPrice(outcome, isBuy)
}

// Depth returns best-first aggregated price levels.
func (e *Engine) Depth(outcome int, isBuy bool, levels int) []model.DepthLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Depth(outcome, isBuy, levels)
}

// QueueAt returns the FIFO queue at one price, ascending sequence.
func (e *Engine) QueueAt(outcome int, isBuy bool, price int64, offset, limit int) []model.OrderRef {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.QueueAt(outcome, isBuy, price, offset, limit)
}

// Order returns a copy of the order with the given id.
func (e *Engine) Order(id string) (model.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.book.Get(id)
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// Stats is the top-of-book summary for one outcome.
type Stats struct {
	OutcomeIndex int              `json:"outcome_index"`
	BestBid      *int64           `json:"best_bid,omitempty"`
	BestAsk      *int64           `json:"best_ask,omitempty"`
	Mid          *decimal.Decimal `json:"mid,omitempty"` // implied probability
	LastTrade    *model.Trade     `json:"last_trade,omitempty"`
}

// OutcomeStats returns best bid/ask, the implied-probability midpoint, and
// the last trade for one outcome.
func (e *Engine) OutcomeStats(outcome int) Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Stats{OutcomeIndex: outcome}
	if bid, ok := e.book.BestPrice(outcome, true); ok {
		s.BestBid = &bid
	}
	if ask, ok := e.book.BestPrice(outcome, false); ok {
		s.BestAsk = &ask
	}
	if s.BestBid != nil && s.BestAsk != nil {
		mid := decimal.New(*s.BestBid+*s.BestAsk, -model.PriceScale).
			Div(decimal.NewFromInt(2))
		s.Mid = &mid
	}
	if t, ok := e.lastTrade[outcome]; ok {
		s.LastTrade = &t
	}
	return s
}
