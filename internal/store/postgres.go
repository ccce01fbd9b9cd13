package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/outcomex/clob-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL. Prices and quantities are
// stored as BIGINT micro-units; addresses as lowercase hex TEXT. The signed
// order mirror has a unique key on (verifying_market, chain_id, maker, salt)
// and every write is an upsert on it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertOrder(ctx context.Context, rec *model.OrderRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO signed_orders
		     (verifying_market, chain_id, maker, salt, order_id, outcome_index,
		      is_buy, price, amount, remaining, status, signature, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		 ON CONFLICT (verifying_market, chain_id, maker, salt) DO UPDATE
		 SET order_id = EXCLUDED.order_id,
		     remaining = EXCLUDED.remaining,
		     status = EXCLUDED.status,
		     updated_at = NOW()`,
		rec.VerifyingMarket, rec.ChainID, rec.Maker.Hex(), rec.Salt,
		rec.OrderID, rec.OutcomeIndex, rec.IsBuy,
		rec.Price, rec.Amount, rec.Remaining,
		string(rec.Status), rec.Signature,
	)
	return err
}

func (s *PostgresStore) GetOrderBySalt(ctx context.Context, verifyingMarket string, chainID int64, maker common.Address, salt uint64) (*model.OrderRecord, error) {
	var rec model.OrderRecord
	var makerHex string
	var status string

	err := s.pool.QueryRow(ctx,
		`SELECT verifying_market, chain_id, maker, salt, order_id, outcome_index,
		        is_buy, price, amount, remaining, status, signature, created_at, updated_at
		 FROM signed_orders
		 WHERE verifying_market = $1 AND chain_id = $2 AND maker = $3 AND salt = $4`,
		verifyingMarket, chainID, maker.Hex(), salt).
		Scan(&rec.VerifyingMarket, &rec.ChainID, &makerHex, &rec.Salt,
			&rec.OrderID, &rec.OutcomeIndex, &rec.IsBuy,
			&rec.Price, &rec.Amount, &rec.Remaining,
			&status, &rec.Signature, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: maker %s salt %d", ErrNotFound, maker.Hex(), salt)
	}
	if err != nil {
		return nil, fmt.Errorf("get order by salt: %w", err)
	}

	rec.Maker = common.HexToAddress(makerHex)
	rec.Status = model.OrderStatus(status)
	return &rec, nil
}

func (s *PostgresStore) ListOpenOrders(ctx context.Context, verifyingMarket string, chainID int64, outcome int, isBuy bool) ([]model.OrderRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT verifying_market, chain_id, maker, salt, order_id, outcome_index,
		        is_buy, price, amount, remaining, status, signature, created_at, updated_at
		 FROM signed_orders
		 WHERE verifying_market = $1 AND chain_id = $2
		   AND outcome_index = $3 AND is_buy = $4
		   AND status IN ('open', 'partial')
		 ORDER BY created_at`,
		verifyingMarket, chainID, outcome, isBuy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OrderRecord
	for rows.Next() {
		var rec model.OrderRecord
		var makerHex, status string
		if err := rows.Scan(&rec.VerifyingMarket, &rec.ChainID, &makerHex, &rec.Salt,
			&rec.OrderID, &rec.OutcomeIndex, &rec.IsBuy,
			&rec.Price, &rec.Amount, &rec.Remaining,
			&status, &rec.Signature, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Maker = common.HexToAddress(makerHex)
		rec.Status = model.OrderStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades
		     (id, outcome_index, buy_order_id, sell_order_id, buy_maker, sell_maker,
		      price, amount, notional, fee, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11)`,
		t.ID, t.OutcomeIndex, t.BuyOrderID, t.SellOrderID,
		t.BuyMaker.Hex(), t.SellMaker.Hex(),
		t.Price, t.Amount, t.Notional.String(), t.Fee.String(),
		t.ExecutedAt,
	)
	return err
}

func (s *PostgresStore) ListTradesByOutcome(ctx context.Context, outcome int, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, outcome_index, buy_order_id, sell_order_id, buy_maker, sell_maker,
		        price, amount, notional::TEXT, fee::TEXT, executed_at
		 FROM trades WHERE outcome_index = $1
		 ORDER BY executed_at DESC LIMIT $2`,
		outcome, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var buyMaker, sellMaker, notional, fee string

		if err := rows.Scan(&t.ID, &t.OutcomeIndex, &t.BuyOrderID, &t.SellOrderID,
			&buyMaker, &sellMaker, &t.Price, &t.Amount,
			&notional, &fee, &t.ExecutedAt); err != nil {
			return nil, err
		}

		t.BuyMaker = common.HexToAddress(buyMaker)
		t.SellMaker = common.HexToAddress(sellMaker)
		if err := decodeDecimal(notional, &t.Notional); err != nil {
			return nil, err
		}
		if err := decodeDecimal(fee, &t.Fee); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func decodeDecimal(s string, dst *decimal.Decimal) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("decode decimal %q: %w", s, err)
	}
	*dst = d
	return nil
}
