package api_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"

	"github.com/outcomex/clob-engine/internal/api"
	"github.com/outcomex/clob-engine/internal/engine"
	"github.com/outcomex/clob-engine/internal/market"
	"github.com/outcomex/clob-engine/internal/model"
	"github.com/outcomex/clob-engine/internal/settlement"
	"github.com/outcomex/clob-engine/internal/signing"
	"github.com/outcomex/clob-engine/internal/store"
)

var testDomain = signing.Domain{
	Name:              "OutcomeX CLOB",
	Version:           "1",
	ChainID:           137,
	VerifyingContract: common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"),
}

// newTestEnv creates a Service backed by an in-memory store, mounted on a
// chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	m := market.Market{
		ID:                "test",
		ChainID:           testDomain.ChainID,
		VerifyingContract: testDomain.VerifyingContract,
		OutcomeCount:      2,
		TickSize:          10,
		FeeBps:            0,
	}
	eng, err := engine.New(m, signing.NewVerifier(testDomain))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ms := store.NewMemoryStore()
	ledger := settlement.NewMemoryLedger(m.OutcomeCount)
	svc := api.NewService(eng, ms, ledger, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/orders", svc.PlaceOrder)
	r.Post("/api/v1/orders/fill", svc.FillOrder)
	r.Post("/api/v1/orders/cancel", svc.CancelOrder)
	r.Post("/api/v1/orders/cancel-salt", svc.CancelSalt)
	r.Post("/api/v1/match", svc.Match)
	r.Post("/api/v1/mint", svc.Mint)
	r.Get("/api/v1/book/depth", svc.Depth)
	r.Get("/api/v1/book/queue", svc.Queue)
	r.Get("/api/v1/book/stats", svc.Stats)
	r.Get("/api/v1/trades", svc.Trades)
	r.Post("/api/v1/admin/pause", svc.Pause)
	r.Post("/api/v1/admin/resume", svc.Resume)
	r.Post("/api/v1/admin/tick-size", svc.SetTickSize)

	return ms, r
}

type maker struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newMaker(t *testing.T) maker {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return maker{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (mk maker) placeRequest(t *testing.T, outcome int, isBuy bool, price, amount int64, salt uint64) api.PlaceOrderRequest {
	t.Helper()
	payload := api.OrderPayload{
		Maker:        mk.addr,
		OutcomeIndex: outcome,
		IsBuy:        isBuy,
		Price:        price,
		Amount:       amount,
		Salt:         salt,
	}
	o := &model.Order{
		Maker:        mk.addr,
		OutcomeIndex: outcome,
		IsBuy:        isBuy,
		Price:        price,
		Amount:       amount,
		Salt:         salt,
	}
	sig, err := signing.SignOrder(testDomain, o, mk.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return api.PlaceOrderRequest{Order: payload, Signature: hexutil.Encode(sig)}
}

func post(t *testing.T, router chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func place(t *testing.T, router chi.Router, req api.PlaceOrderRequest) api.PlaceOrderResponse {
	t.Helper()
	w := post(t, router, "/api/v1/orders", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.PlaceOrderResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

// --- Placement ---

func TestPlaceOrder_EndToEnd(t *testing.T) {
	ms, router := newTestEnv(t)
	mk := newMaker(t)

	resp := place(t, router, mk.placeRequest(t, 0, true, 50, 100, 1))
	if resp.OrderID == "" || resp.Sequence == 0 || resp.Status != model.StatusOpen {
		t.Errorf("unexpected placement response: %+v", resp)
	}

	w := get(t, router, "/api/v1/book/depth?outcome=0&side=buy&levels=10")
	if w.Code != http.StatusOK {
		t.Fatalf("depth: %d", w.Code)
	}
	var depth []model.DepthLevel
	json.Unmarshal(w.Body.Bytes(), &depth)
	if len(depth) != 1 || depth[0].Price != 50 || depth[0].Quantity != 100 {
		t.Errorf("depth should show the resting bid: %+v", depth)
	}

	// The mirror row exists under (market, chain, maker, salt).
	rec, err := ms.GetOrderBySalt(context.Background(),
		testDomain.VerifyingContract.Hex(), testDomain.ChainID, mk.addr, 1)
	if err != nil {
		t.Fatalf("mirror row missing: %v", err)
	}
	if rec.OrderID != resp.OrderID || rec.Remaining != 100 {
		t.Errorf("mirror row wrong: %+v", rec)
	}
}

func TestPlaceOrder_BadSignature(t *testing.T) {
	_, router := newTestEnv(t)
	mk := newMaker(t)
	imposter := newMaker(t)

	req := mk.placeRequest(t, 0, true, 50, 100, 1)
	req.Order.Maker = imposter.addr
	w := post(t, router, "/api/v1/orders", req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlaceOrder_ReplayedSubmission(t *testing.T) {
	ms, router := newTestEnv(t)
	mk := newMaker(t)

	req := mk.placeRequest(t, 0, true, 50, 100, 1)
	place(t, router, req)
	if w := post(t, router, "/api/v1/orders", req); w.Code != http.StatusConflict {
		t.Fatalf("replayed submission should be 409, got %d: %s", w.Code, w.Body.String())
	}

	// Book and mirror agree on a single 100-unit order.
	w := get(t, router, "/api/v1/book/depth?outcome=0&side=buy&levels=10")
	var depth []model.DepthLevel
	json.Unmarshal(w.Body.Bytes(), &depth)
	if len(depth) != 1 || depth[0].Quantity != 100 {
		t.Errorf("depth should show the signed amount once: %+v", depth)
	}
	open, _ := ms.ListOpenOrders(context.Background(),
		testDomain.VerifyingContract.Hex(), testDomain.ChainID, 0, true)
	if len(open) != 1 || open[0].Remaining != 100 {
		t.Errorf("mirror should hold one row of 100: %+v", open)
	}
}

func TestPlaceOrder_OffTick(t *testing.T) {
	_, router := newTestEnv(t)
	mk := newMaker(t)

	w := post(t, router, "/api/v1/orders", mk.placeRequest(t, 0, true, 55, 100, 1))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for off-tick price, got %d", w.Code)
	}
}

// --- Matching ---

func TestMatch_PartialFillOverHTTP(t *testing.T) {
	_, router := newTestEnv(t)
	s1 := newMaker(t)
	s2 := newMaker(t)
	buyer := newMaker(t)

	place(t, router, s1.placeRequest(t, 0, false, 10, 20, 1))
	place(t, router, s2.placeRequest(t, 0, false, 10, 15, 2))
	place(t, router, buyer.placeRequest(t, 0, true, 10, 30, 3))

	w := post(t, router, "/api/v1/match", api.MatchRequest{OutcomeIndex: 0, MaxMatches: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("match: %d: %s", w.Code, w.Body.String())
	}
	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Amount != 20 || trades[1].Amount != 10 {
		t.Errorf("expected fills 20 then 10, got %d and %d", trades[0].Amount, trades[1].Amount)
	}

	// Second seller keeps 5 at the head of the queue.
	w = get(t, router, "/api/v1/book/queue?outcome=0&side=sell&price=10")
	var refs []model.OrderRef
	json.Unmarshal(w.Body.Bytes(), &refs)
	if len(refs) != 1 || refs[0].Remaining != 5 {
		t.Errorf("expected single resting order with 5 remaining: %+v", refs)
	}

	// Both trades landed in the ledger, newest first.
	w = get(t, router, "/api/v1/trades?outcome=0&limit=10")
	var ledger []model.Trade
	json.Unmarshal(w.Body.Bytes(), &ledger)
	if len(ledger) != 2 {
		t.Errorf("expected 2 persisted trades, got %d", len(ledger))
	}
}

func TestMatch_OmittedBudgetStillBounded(t *testing.T) {
	_, router := newTestEnv(t)
	seller := newMaker(t)
	buyer := newMaker(t)

	place(t, router, seller.placeRequest(t, 0, false, 10, 5, 1))
	place(t, router, buyer.placeRequest(t, 0, true, 10, 5, 2))

	// No max_matches in the body: the service applies its own ceiling
	// instead of passing the engine's unbounded mode through.
	w := post(t, router, "/api/v1/match", map[string]int{"outcome_index": 0})
	if w.Code != http.StatusOK {
		t.Fatalf("match: %d: %s", w.Code, w.Body.String())
	}
	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 1 {
		t.Errorf("expected the cross to execute, got %d trades", len(trades))
	}
}

// --- Read-side robustness ---

func TestDepth_NegativeLevelsQuery(t *testing.T) {
	_, router := newTestEnv(t)
	mk := newMaker(t)
	place(t, router, mk.placeRequest(t, 0, true, 50, 100, 1))

	w := get(t, router, "/api/v1/book/depth?outcome=0&side=buy&levels=-1")
	if w.Code != http.StatusOK {
		t.Fatalf("negative levels should not fail the read path: %d: %s", w.Code, w.Body.String())
	}
	var depth []model.DepthLevel
	json.Unmarshal(w.Body.Bytes(), &depth)
	if len(depth) != 1 {
		t.Errorf("expected the full book, got %+v", depth)
	}
}

func TestQueue_NegativeOffsetQuery(t *testing.T) {
	_, router := newTestEnv(t)
	mk := newMaker(t)
	place(t, router, mk.placeRequest(t, 0, true, 50, 100, 1))

	w := get(t, router, "/api/v1/book/queue?outcome=0&side=buy&price=50&offset=-1&limit=10")
	if w.Code != http.StatusOK {
		t.Fatalf("negative offset should not fail the read path: %d: %s", w.Code, w.Body.String())
	}
	var refs []model.OrderRef
	json.Unmarshal(w.Body.Bytes(), &refs)
	if len(refs) != 1 {
		t.Errorf("expected the resting order, got %+v", refs)
	}
}

// --- Direct fills ---

func TestFillOrder_OverFillRejected(t *testing.T) {
	_, router := newTestEnv(t)
	mk := newMaker(t)

	req := mk.placeRequest(t, 0, false, 50, 100, 1)
	fill := api.FillOrderRequest{Order: req.Order, Signature: req.Signature, FillAmount: 60}
	if w := post(t, router, "/api/v1/orders/fill", fill); w.Code != http.StatusOK {
		t.Fatalf("first fill: %d: %s", w.Code, w.Body.String())
	}

	fill.FillAmount = 50
	if w := post(t, router, "/api/v1/orders/fill", fill); w.Code != http.StatusConflict {
		t.Errorf("cumulative over-fill should be 409, got %d", w.Code)
	}
}

// --- Cancellation ---

func TestCancelOrder_Flow(t *testing.T) {
	_, router := newTestEnv(t)
	mk := newMaker(t)

	resp := place(t, router, mk.placeRequest(t, 0, true, 50, 100, 1))
	sig, _ := signing.SignCancelOrder(testDomain, mk.addr, resp.OrderID, 1, mk.key)
	w := post(t, router, "/api/v1/orders/cancel", api.CancelOrderRequest{
		Maker: mk.addr, OrderID: resp.OrderID, Salt: 1, Signature: hexutil.Encode(sig),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d: %s", w.Code, w.Body.String())
	}

	var depth []model.DepthLevel
	w = get(t, router, "/api/v1/book/depth?outcome=0&side=buy&levels=10")
	json.Unmarshal(w.Body.Bytes(), &depth)
	if len(depth) != 0 {
		t.Errorf("canceled order should leave depth empty: %+v", depth)
	}
}

func TestCancelSalt_RepeatConflicts(t *testing.T) {
	_, router := newTestEnv(t)
	mk := newMaker(t)

	sig, _ := signing.SignCancelSalt(testDomain, mk.addr, 7, mk.key)
	req := api.CancelSaltRequest{Maker: mk.addr, Salt: 7, Signature: hexutil.Encode(sig)}
	if w := post(t, router, "/api/v1/orders/cancel-salt", req); w.Code != http.StatusOK {
		t.Fatalf("cancel-salt: %d", w.Code)
	}
	if w := post(t, router, "/api/v1/orders/cancel-salt", req); w.Code != http.StatusConflict {
		t.Errorf("repeat cancel-salt should be 409, got %d", w.Code)
	}

	// The canceled salt blocks later placement.
	if w := post(t, router, "/api/v1/orders", mk.placeRequest(t, 0, true, 50, 100, 7)); w.Code != http.StatusConflict {
		t.Errorf("placement under canceled salt should be 409, got %d", w.Code)
	}
}

// --- Pause ---

func TestPause_GatesTradingEndpoints(t *testing.T) {
	_, router := newTestEnv(t)
	mk := newMaker(t)

	resp := place(t, router, mk.placeRequest(t, 0, true, 50, 100, 1))

	if w := post(t, router, "/api/v1/admin/pause", nil); w.Code != http.StatusOK {
		t.Fatalf("pause: %d", w.Code)
	}

	if w := post(t, router, "/api/v1/orders", mk.placeRequest(t, 0, true, 50, 100, 2)); w.Code != http.StatusConflict {
		t.Errorf("placement while paused should be 409, got %d", w.Code)
	}
	if w := post(t, router, "/api/v1/match", api.MatchRequest{OutcomeIndex: 0}); w.Code != http.StatusConflict {
		t.Errorf("match while paused should be 409, got %d", w.Code)
	}

	// Cancellation stays available.
	sig, _ := signing.SignCancelOrder(testDomain, mk.addr, resp.OrderID, 1, mk.key)
	w := post(t, router, "/api/v1/orders/cancel", api.CancelOrderRequest{
		Maker: mk.addr, OrderID: resp.OrderID, Salt: 1, Signature: hexutil.Encode(sig),
	})
	if w.Code != http.StatusOK {
		t.Errorf("cancel while paused should be 200, got %d", w.Code)
	}

	if w := post(t, router, "/api/v1/admin/resume", nil); w.Code != http.StatusOK {
		t.Fatalf("resume: %d", w.Code)
	}
	if w := post(t, router, "/api/v1/orders", mk.placeRequest(t, 0, true, 50, 100, 3)); w.Code != http.StatusCreated {
		t.Errorf("placement after resume should pass, got %d", w.Code)
	}
}

// --- Read-side fallback ---

func TestDepth_MirrorSourceAgrees(t *testing.T) {
	_, router := newTestEnv(t)
	m1 := newMaker(t)
	m2 := newMaker(t)

	place(t, router, m1.placeRequest(t, 0, true, 40, 5, 1))
	place(t, router, m2.placeRequest(t, 0, true, 60, 3, 2))
	place(t, router, m1.placeRequest(t, 0, true, 60, 2, 3))

	direct := get(t, router, "/api/v1/book/depth?outcome=0&side=buy&levels=10")
	mirror := get(t, router, "/api/v1/book/depth?outcome=0&side=buy&levels=10&source=mirror")
	if mirror.Code != http.StatusOK {
		t.Fatalf("mirror depth: %d: %s", mirror.Code, mirror.Body.String())
	}

	var a, b []model.DepthLevel
	json.Unmarshal(direct.Body.Bytes(), &a)
	json.Unmarshal(mirror.Body.Bytes(), &b)
	if len(a) != len(b) {
		t.Fatalf("views disagree: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("level %d disagrees: %+v vs %+v", i, a[i], b[i])
		}
	}
}

// --- Stats and mint ---

func TestStats_OverHTTP(t *testing.T) {
	_, router := newTestEnv(t)
	m1 := newMaker(t)
	m2 := newMaker(t)

	place(t, router, m1.placeRequest(t, 0, true, 40, 10, 1))
	place(t, router, m2.placeRequest(t, 0, false, 60, 10, 2))

	w := get(t, router, "/api/v1/book/stats?outcome=0")
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}
	var stats engine.Stats
	json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.BestBid == nil || *stats.BestBid != 40 || stats.BestAsk == nil || *stats.BestAsk != 60 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMint_Idempotent(t *testing.T) {
	_, router := newTestEnv(t)
	mk := newMaker(t)

	req := api.MintRequest{RequestID: "req-1", Depositor: mk.addr, Amount: 100}
	if w := post(t, router, "/api/v1/mint", req); w.Code != http.StatusOK {
		t.Fatalf("mint: %d: %s", w.Code, w.Body.String())
	}
	if w := post(t, router, "/api/v1/mint", req); w.Code != http.StatusOK {
		t.Errorf("retried mint should succeed idempotently, got %d", w.Code)
	}

	bad := api.MintRequest{RequestID: "", Depositor: mk.addr, Amount: 100}
	if w := post(t, router, "/api/v1/mint", bad); w.Code != http.StatusBadRequest {
		t.Errorf("missing request id should be 400, got %d", w.Code)
	}
}

// --- Admin ---

func TestSetTickSize_OverHTTP(t *testing.T) {
	_, router := newTestEnv(t)
	mk := newMaker(t)

	w := post(t, router, "/api/v1/admin/tick-size", map[string]int64{"tick_size": 100})
	if w.Code != http.StatusOK {
		t.Fatalf("tick-size: %d", w.Code)
	}
	if w := post(t, router, "/api/v1/orders", mk.placeRequest(t, 0, true, 50, 100, 1)); w.Code != http.StatusBadRequest {
		t.Errorf("price 50 on tick 100 should be 400, got %d", w.Code)
	}

	if w := post(t, router, "/api/v1/admin/tick-size", map[string]int64{"tick_size": 0}); w.Code != http.StatusBadRequest {
		t.Errorf("tick 0 should be 400, got %d", w.Code)
	}
}
