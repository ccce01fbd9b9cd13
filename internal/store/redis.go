package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/outcomex/clob-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Cache failures degrade
// silently to the primary; the raw rows stay authoritative.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertOrder(ctx context.Context, rec *model.OrderRecord) error {
	if err := s.primary.UpsertOrder(ctx, rec); err != nil {
		return err
	}
	s.rdb.Del(ctx, orderKey(rec.VerifyingMarket, rec.ChainID, rec.Maker, rec.Salt))
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, trade *model.Trade) error {
	if err := s.primary.InsertTrade(ctx, trade); err != nil {
		return err
	}
	s.rdb.Del(ctx, tradesKey(trade.OutcomeIndex))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrderBySalt(ctx context.Context, verifyingMarket string, chainID int64, maker common.Address, salt uint64) (*model.OrderRecord, error) {
	key := orderKey(verifyingMarket, chainID, maker, salt)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var rec model.OrderRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := s.primary.GetOrderBySalt(ctx, verifyingMarket, chainID, maker, salt)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rec); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return rec, nil
}

func (s *CachedStore) ListTradesByOutcome(ctx context.Context, outcome int, limit int) ([]model.Trade, error) {
	key := tradesKey(outcome)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil && len(trades) >= limit {
			if limit > 0 && len(trades) > limit {
				trades = trades[:limit]
			}
			return trades, nil
		}
	}

	trades, err := s.primary.ListTradesByOutcome(ctx, outcome, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return trades, nil
}

// --- Passthrough (not cached) ---

// ListOpenOrders feeds mirror-side depth rebuilds; serving it stale would
// let the mirror view drift from the book, so it always hits the primary.
func (s *CachedStore) ListOpenOrders(ctx context.Context, verifyingMarket string, chainID int64, outcome int, isBuy bool) ([]model.OrderRecord, error) {
	return s.primary.ListOpenOrders(ctx, verifyingMarket, chainID, outcome, isBuy)
}

// --- Cache keys ---

func orderKey(market string, chainID int64, maker common.Address, salt uint64) string {
	return fmt.Sprintf("order:%s:%d:%s:%d", market, chainID, maker.Hex(), salt)
}

func tradesKey(outcome int) string {
	return fmt.Sprintf("trades:%d", outcome)
}
