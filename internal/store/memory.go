package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcomex/clob-engine/internal/model"
)

type recordKey struct {
	market  string
	chainID int64
	maker   common.Address
	salt    uint64
}

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[recordKey]*model.OrderRecord
	trades []model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[recordKey]*model.OrderRecord),
	}
}

func (s *MemoryStore) UpsertOrder(_ context.Context, rec *model.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{rec.VerifyingMarket, rec.ChainID, rec.Maker, rec.Salt}
	copy := *rec
	copy.UpdatedAt = time.Now().UTC()
	if existing, ok := s.orders[key]; ok {
		copy.CreatedAt = existing.CreatedAt
	} else if copy.CreatedAt.IsZero() {
		copy.CreatedAt = copy.UpdatedAt
	}
	s.orders[key] = &copy
	return nil
}

func (s *MemoryStore) GetOrderBySalt(_ context.Context, verifyingMarket string, chainID int64, maker common.Address, salt uint64) (*model.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.orders[recordKey{verifyingMarket, chainID, maker, salt}]
	if !ok {
		return nil, fmt.Errorf("%w: maker %s salt %d", ErrNotFound, maker.Hex(), salt)
	}
	copy := *rec
	return &copy, nil
}

func (s *MemoryStore) ListOpenOrders(_ context.Context, verifyingMarket string, chainID int64, outcome int, isBuy bool) ([]model.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.OrderRecord
	for _, rec := range s.orders {
		if rec.VerifyingMarket != verifyingMarket || rec.ChainID != chainID {
			continue
		}
		if rec.OutcomeIndex != outcome || rec.IsBuy != isBuy {
			continue
		}
		if rec.Status != model.StatusOpen && rec.Status != model.StatusPartial {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *trade)
	return nil
}

func (s *MemoryStore) ListTradesByOutcome(_ context.Context, outcome int, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for i := len(s.trades) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.trades[i].OutcomeIndex == outcome {
			out = append(out, s.trades[i])
		}
	}
	return out, nil
}
