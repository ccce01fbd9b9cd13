// Package api provides the HTTP handlers for order placement, direct fills,
// cancellation, matching, and the read-side depth/queue surface.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/outcomex/clob-engine/internal/book"
	"github.com/outcomex/clob-engine/internal/engine"
	"github.com/outcomex/clob-engine/internal/limits"
	"github.com/outcomex/clob-engine/internal/metrics"
	"github.com/outcomex/clob-engine/internal/model"
	"github.com/outcomex/clob-engine/internal/settlement"
	"github.com/outcomex/clob-engine/internal/store"
)

// Service handles the CLOB HTTP surface. The engine serializes mutations
// internally; the service layers persistence, metrics, and broadcasting on
// top. The store mirror is non-authoritative: mirror write failures are
// logged, never rolled back into the caller's response.
type Service struct {
	engine     *engine.Engine
	store      store.Store           // optional relational mirror
	collateral settlement.Collateral // optional mint capability
	hub        *WSHub                // optional WebSocket hub
}

// NewService creates the HTTP service. store, collateral, and hub may be nil.
func NewService(eng *engine.Engine, st store.Store, col settlement.Collateral, hub *WSHub) *Service {
	return &Service{
		engine:     eng,
		store:      st,
		collateral: col,
		hub:        hub,
	}
}

// --- Request/Response types ---

// OrderPayload is the signed order wire structure. Bit-exact with the
// EIP-712 Order type: {maker, outcomeIndex, isBuy, price, amount, expiry,
// salt}.
type OrderPayload struct {
	Maker        common.Address `json:"maker"`
	OutcomeIndex int            `json:"outcome_index"`
	IsBuy        bool           `json:"is_buy"`
	Price        int64          `json:"price"`
	Amount       int64          `json:"amount"`
	Expiry       int64          `json:"expiry"`
	Salt         uint64         `json:"salt"`
}

func (p OrderPayload) toOrder() model.Order {
	return model.Order{
		Maker:        p.Maker,
		OutcomeIndex: p.OutcomeIndex,
		IsBuy:        p.IsBuy,
		Price:        p.Price,
		Amount:       p.Amount,
		Expiry:       p.Expiry,
		Salt:         p.Salt,
	}
}

// PlaceOrderRequest is the JSON body for POST /orders.
type PlaceOrderRequest struct {
	Order     OrderPayload `json:"order"`
	Signature string       `json:"signature"`
}

// PlaceOrderResponse is returned on accepted placement.
type PlaceOrderResponse struct {
	OrderID  string            `json:"order_id"`
	Sequence uint64            `json:"sequence"`
	Status   model.OrderStatus `json:"status"`
}

// FillOrderRequest is the JSON body for POST /orders/fill.
type FillOrderRequest struct {
	Order      OrderPayload `json:"order"`
	Signature  string       `json:"signature"`
	FillAmount int64        `json:"fill_amount"`
}

// CancelOrderRequest is the JSON body for POST /orders/cancel.
type CancelOrderRequest struct {
	Maker     common.Address `json:"maker"`
	OrderID   string         `json:"order_id"`
	Salt      uint64         `json:"salt"`
	Signature string         `json:"signature"`
}

// CancelSaltRequest is the JSON body for POST /orders/cancel-salt.
type CancelSaltRequest struct {
	Maker     common.Address `json:"maker"`
	Salt      uint64         `json:"salt"`
	Signature string         `json:"signature"`
}

// MatchRequest is the JSON body for POST /match.
type MatchRequest struct {
	OutcomeIndex int `json:"outcome_index"`
	MaxMatches   int `json:"max_matches"`
}

// MintRequest is the JSON body for POST /mint.
type MintRequest struct {
	RequestID string         `json:"request_id"`
	Depositor common.Address `json:"depositor"`
	Amount    int64          `json:"amount"`
}

// --- Error mapping ---

// statusFor maps engine sentinels onto HTTP status codes. All engine
// rejections are terminal and caller-visible; nothing is retried here.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidTick),
		errors.Is(err, engine.ErrOutcomeRange),
		errors.Is(err, engine.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrExpired),
		errors.Is(err, engine.ErrAlreadyCanceled),
		errors.Is(err, engine.ErrDuplicateOrder),
		errors.Is(err, engine.ErrOverFill),
		errors.Is(err, engine.ErrTradingPaused),
		errors.Is(err, limits.ErrOpenOrderLimit),
		errors.Is(err, limits.ErrExposureLimit):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, engine.ErrExpired):
		return "expired"
	case errors.Is(err, engine.ErrAlreadyCanceled):
		return "already_canceled"
	case errors.Is(err, engine.ErrDuplicateOrder):
		return "duplicate_order"
	case errors.Is(err, engine.ErrOverFill):
		return "over_fill"
	case errors.Is(err, engine.ErrInvalidTick):
		return "invalid_tick"
	case errors.Is(err, engine.ErrTradingPaused):
		return "trading_paused"
	case errors.Is(err, engine.ErrNotFound):
		return "not_found"
	case errors.Is(err, engine.ErrUnauthorized):
		return "unauthorized"
	default:
		return "other"
	}
}

func writeReject(w http.ResponseWriter, err error) {
	metrics.Rejections.WithLabelValues(rejectionReason(err)).Inc()
	writeError(w, err.Error(), statusFor(err))
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeSignature(hex string) ([]byte, error) {
	return hexutil.Decode(hex)
}

// recordFor builds the mirror row for an order under the engine's market
// realm.
func (s *Service) recordFor(o model.Order, sigHex string) *model.OrderRecord {
	m := s.engine.Market()
	return &model.OrderRecord{
		VerifyingMarket: m.VerifyingContract.Hex(),
		ChainID:         m.ChainID,
		Maker:           o.Maker,
		Salt:            o.Salt,
		OrderID:         o.ID,
		OutcomeIndex:    o.OutcomeIndex,
		IsBuy:           o.IsBuy,
		Price:           o.Price,
		Amount:          o.Amount,
		Remaining:       o.Remaining,
		Status:          o.Status,
		Signature:       sigHex,
		CreatedAt:       o.CreatedAt,
	}
}

func (s *Service) mirrorUpsert(r *http.Request, rec *model.OrderRecord) {
	if s.store == nil {
		return
	}
	if err := s.store.UpsertOrder(r.Context(), rec); err != nil {
		slog.Warn("mirror upsert failed", "order_id", rec.OrderID, "err", err)
	}
}

// mirrorOrderState refreshes the mirror row for a booked order after its
// remaining/status changed.
func (s *Service) mirrorOrderState(r *http.Request, id string) {
	if s.store == nil {
		return
	}
	o, ok := s.engine.Order(id)
	if !ok {
		return
	}
	s.mirrorUpsert(r, s.recordFor(o, ""))
}

// --- Handlers: execution paths ---

// PlaceOrder handles POST /api/v1/orders.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		writeError(w, "invalid signature encoding", http.StatusBadRequest)
		return
	}

	order := req.Order.toOrder()
	placed, err := s.engine.PlaceSigned(&order, sig)
	if err != nil {
		writeReject(w, err)
		return
	}

	side := "sell"
	if placed.IsBuy {
		side = "buy"
	}
	metrics.OrdersPlaced.WithLabelValues(side).Inc()
	s.mirrorUpsert(r, s.recordFor(*placed, req.Signature))

	slog.Info("order placed",
		"order_id", placed.ID,
		"maker", placed.Maker.Hex(),
		"outcome", placed.OutcomeIndex,
		"side", side,
		"price", placed.Price,
		"amount", placed.Amount,
		"sequence", placed.Sequence,
	)

	writeJSON(w, http.StatusCreated, PlaceOrderResponse{
		OrderID:  placed.ID,
		Sequence: placed.Sequence,
		Status:   placed.Status,
	})
}

// matchBudgetCeiling caps the trades one HTTP match call may emit. The
// engine treats a non-positive budget as unbounded; that mode is reserved
// for in-process callers, never exposed over the wire.
const matchBudgetCeiling = 512

// Match handles POST /api/v1/match.
func (s *Service) Match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	budget := req.MaxMatches
	if budget <= 0 || budget > matchBudgetCeiling {
		budget = matchBudgetCeiling
	}

	start := time.Now()
	trades, err := s.engine.Match(req.OutcomeIndex, budget)
	if err != nil {
		writeReject(w, err)
		return
	}
	metrics.MatchLatency.Observe(time.Since(start).Seconds())
	metrics.TradesMatched.Add(float64(len(trades)))

	// Committed crosses are final: persistence or broadcast failures are
	// logged, never rolled back into the book.
	for i := range trades {
		t := &trades[i]
		if s.store != nil {
			if err := s.store.InsertTrade(r.Context(), t); err != nil {
				slog.Error("trade ledger insert failed", "trade_id", t.ID, "err", err)
			}
		}
		s.mirrorOrderState(r, t.BuyOrderID)
		s.mirrorOrderState(r, t.SellOrderID)
		if s.hub != nil {
			s.hub.Broadcast(WSMessage{
				Type:         "trade",
				OutcomeIndex: t.OutcomeIndex,
				Price:        t.Price,
				Amount:       t.Amount,
				BuyOrderID:   t.BuyOrderID,
				SellOrderID:  t.SellOrderID,
			})
		}
	}

	if len(trades) > 0 {
		slog.Info("match executed",
			"outcome", req.OutcomeIndex,
			"trades", len(trades),
			"budget", budget,
		)
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// FillOrder handles POST /api/v1/orders/fill: the direct-fill path.
func (s *Service) FillOrder(w http.ResponseWriter, r *http.Request) {
	var req FillOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		writeError(w, "invalid signature encoding", http.StatusBadRequest)
		return
	}

	order := req.Order.toOrder()
	trade, err := s.engine.FillSigned(&order, sig, req.FillAmount)
	if err != nil {
		writeReject(w, err)
		return
	}
	metrics.DirectFills.Inc()

	if s.store != nil {
		if err := s.store.InsertTrade(r.Context(), &trade); err != nil {
			slog.Error("trade ledger insert failed", "trade_id", trade.ID, "err", err)
		}
		filled := s.engine.FilledBySalt(order.Maker, order.Salt)
		rec := s.recordFor(order, req.Signature)
		rec.Remaining = order.Amount - filled
		rec.Status = model.StatusPartial
		if rec.Remaining == 0 {
			rec.Status = model.StatusFilled
		}
		s.mirrorUpsert(r, rec)
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:         "direct_fill",
			OutcomeIndex: trade.OutcomeIndex,
			Price:        trade.Price,
			Amount:       trade.Amount,
		})
	}

	slog.Info("direct fill executed",
		"trade_id", trade.ID,
		"maker", order.Maker.Hex(),
		"salt", order.Salt,
		"fill", req.FillAmount,
	)

	writeJSON(w, http.StatusOK, trade)
}

// CancelOrder handles POST /api/v1/orders/cancel.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		writeError(w, "invalid signature encoding", http.StatusBadRequest)
		return
	}

	if err := s.engine.CancelOrder(req.Maker, req.OrderID, req.Salt, sig); err != nil {
		writeReject(w, err)
		return
	}
	metrics.Cancels.WithLabelValues("order").Inc()
	s.mirrorOrderState(r, req.OrderID)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: "cancel", OrderID: req.OrderID})
	}

	slog.Info("order canceled", "order_id", req.OrderID, "maker", req.Maker.Hex())
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// CancelSalt handles POST /api/v1/orders/cancel-salt: invalidates a signed
// order that may never have been posted.
func (s *Service) CancelSalt(w http.ResponseWriter, r *http.Request) {
	var req CancelSaltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		writeError(w, "invalid signature encoding", http.StatusBadRequest)
		return
	}

	if err := s.engine.CancelSalt(req.Maker, req.Salt, sig); err != nil {
		writeReject(w, err)
		return
	}
	metrics.Cancels.WithLabelValues("salt").Inc()

	if s.store != nil {
		m := s.engine.Market()
		if rec, err := s.store.GetOrderBySalt(r.Context(), m.VerifyingContract.Hex(), m.ChainID, req.Maker, req.Salt); err == nil {
			rec.Status = model.StatusCanceled
			s.mirrorUpsert(r, rec)
		}
	}

	slog.Info("salt canceled", "maker", req.Maker.Hex(), "salt", req.Salt)
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// Mint handles POST /api/v1/mint: the complete-set collateral boundary.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	if s.collateral == nil {
		writeError(w, "minting not configured", http.StatusNotImplemented)
		return
	}

	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.collateral.MintCompleteSet(r.Context(), req.RequestID, req.Depositor, req.Amount); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("complete set minted",
		"request_id", req.RequestID,
		"depositor", req.Depositor.Hex(),
		"amount", req.Amount,
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}

// --- Handlers: read side ---

func parseSide(raw string) (bool, bool) {
	switch raw {
	case "buy", "bid", "bids":
		return true, true
	case "sell", "ask", "asks":
		return false, true
	}
	return false, false
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// Depth handles GET /api/v1/book/depth?outcome&side&levels[&source=mirror].
// The default path serves the book's precomputed aggregates; source=mirror
// rebuilds the identical view from raw mirror rows.
func (s *Service) Depth(w http.ResponseWriter, r *http.Request) {
	outcome := intQuery(r, "outcome", 0)
	isBuy, ok := parseSide(r.URL.Query().Get("side"))
	if !ok {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	levels := intQuery(r, "levels", 10)

	if r.URL.Query().Get("source") == "mirror" {
		if s.store == nil {
			writeError(w, "mirror not configured", http.StatusNotImplemented)
			return
		}
		m := s.engine.Market()
		records, err := s.store.ListOpenOrders(r.Context(), m.VerifyingContract.Hex(), m.ChainID, outcome, isBuy)
		if err != nil {
			writeError(w, "failed to load mirror orders", http.StatusInternalServerError)
			return
		}
		depth := book.DepthFromOrders(book.RefsFromRecords(records), isBuy, levels)
		writeJSON(w, http.StatusOK, depth)
		return
	}

	writeJSON(w, http.StatusOK, s.engine.Depth(outcome, isBuy, levels))
}

// Queue handles GET /api/v1/book/queue?outcome&side&price&offset&limit.
func (s *Service) Queue(w http.ResponseWriter, r *http.Request) {
	outcome := intQuery(r, "outcome", 0)
	isBuy, ok := parseSide(r.URL.Query().Get("side"))
	if !ok {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	price, err := strconv.ParseInt(r.URL.Query().Get("price"), 10, 64)
	if err != nil {
		writeError(w, "price is required", http.StatusBadRequest)
		return
	}
	offset := intQuery(r, "offset", 0)
	limit := intQuery(r, "limit", 100)

	refs := s.engine.QueueAt(outcome, isBuy, price, offset, limit)
	if refs == nil {
		refs = []model.OrderRef{}
	}
	writeJSON(w, http.StatusOK, refs)
}

// Stats handles GET /api/v1/book/stats?outcome.
func (s *Service) Stats(w http.ResponseWriter, r *http.Request) {
	outcome := intQuery(r, "outcome", 0)
	writeJSON(w, http.StatusOK, s.engine.OutcomeStats(outcome))
}

// Trades handles GET /api/v1/trades?outcome&limit.
func (s *Service) Trades(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "trade ledger not configured", http.StatusNotImplemented)
		return
	}
	outcome := intQuery(r, "outcome", 0)
	limit := intQuery(r, "limit", 50)

	trades, err := s.store.ListTradesByOutcome(r.Context(), outcome, limit)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Handlers: admin controls ---

// Pause handles POST /api/v1/admin/pause.
func (s *Service) Pause(w http.ResponseWriter, r *http.Request) {
	s.engine.Pause()
	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: "pause"})
	}
	slog.Info("trading paused")
	writeJSON(w, http.StatusOK, map[string]bool{"trading_paused": true})
}

// Resume handles POST /api/v1/admin/resume.
func (s *Service) Resume(w http.ResponseWriter, r *http.Request) {
	s.engine.Resume()
	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: "resume"})
	}
	slog.Info("trading resumed")
	writeJSON(w, http.StatusOK, map[string]bool{"trading_paused": false})
}

// SetTickSize handles POST /api/v1/admin/tick-size.
func (s *Service) SetTickSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TickSize int64 `json:"tick_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.engine.SetTickSize(req.TickSize); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("tick size updated", "tick_size", req.TickSize)
	writeJSON(w, http.StatusOK, map[string]int64{"tick_size": req.TickSize})
}

// SetResolutionTime handles POST /api/v1/admin/resolution-time.
func (s *Service) SetResolutionTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResolutionTime time.Time `json:"resolution_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.engine.UpdateResolutionTime(req.ResolutionTime)
	slog.Info("resolution time updated", "resolution_time", req.ResolutionTime)
	writeJSON(w, http.StatusOK, map[string]time.Time{"resolution_time": req.ResolutionTime})
}

// GetMarket handles GET /api/v1/market.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Market())
}
