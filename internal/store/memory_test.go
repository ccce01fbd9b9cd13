package store

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomex/clob-engine/internal/model"
)

const (
	testMarket  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	testChainID = int64(137)
)

var maker = common.HexToAddress("0x00000000000000000000000000000000000000AA")

func record(salt uint64, outcome int, isBuy bool, status model.OrderStatus) *model.OrderRecord {
	return &model.OrderRecord{
		VerifyingMarket: testMarket,
		ChainID:         testChainID,
		Maker:           maker,
		Salt:            salt,
		OrderID:         "order-1",
		OutcomeIndex:    outcome,
		IsBuy:           isBuy,
		Price:           50,
		Amount:          100,
		Remaining:       100,
		Status:          status,
	}
}

func TestUpsertOrder_CoalescesOnSaltKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.UpsertOrder(ctx, record(1, 0, true, model.StatusOpen)); err != nil {
		t.Fatal(err)
	}
	first, err := s.GetOrderBySalt(ctx, testMarket, testChainID, maker, 1)
	if err != nil {
		t.Fatal(err)
	}

	// Resubmitting the same signed order updates in place.
	update := record(1, 0, true, model.StatusPartial)
	update.Remaining = 40
	if err := s.UpsertOrder(ctx, update); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetOrderBySalt(ctx, testMarket, testChainID, maker, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Remaining != 40 || got.Status != model.StatusPartial {
		t.Errorf("upsert should replace state: %+v", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Error("upsert must preserve the original CreatedAt")
	}

	open, _ := s.ListOpenOrders(ctx, testMarket, testChainID, 0, true)
	if len(open) != 1 {
		t.Errorf("duplicate submissions must not double-count: %d rows", len(open))
	}
}

func TestGetOrderBySalt_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetOrderBySalt(context.Background(), testMarket, testChainID, maker, 99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListOpenOrders_Filters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.UpsertOrder(ctx, record(1, 0, true, model.StatusOpen))
	s.UpsertOrder(ctx, record(2, 0, true, model.StatusPartial))
	s.UpsertOrder(ctx, record(3, 0, true, model.StatusCanceled))
	s.UpsertOrder(ctx, record(4, 0, false, model.StatusOpen)) // other side
	s.UpsertOrder(ctx, record(5, 1, true, model.StatusOpen))  // other outcome

	other := record(6, 0, true, model.StatusOpen)
	other.ChainID = 1 // other realm
	s.UpsertOrder(ctx, other)

	open, err := s.ListOpenOrders(ctx, testMarket, testChainID, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Errorf("expected 2 live bids on outcome 0, got %d", len(open))
	}
}

func TestListTradesByOutcome_NewestFirstWithLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.InsertTrade(ctx, &model.Trade{ID: string(rune('a' + i)), OutcomeIndex: 0, Amount: int64(i)})
	}
	s.InsertTrade(ctx, &model.Trade{ID: "other", OutcomeIndex: 1})

	trades, err := s.ListTradesByOutcome(ctx, 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	if trades[0].Amount != 4 || trades[2].Amount != 2 {
		t.Errorf("trades should be newest first: %+v", trades)
	}
}
