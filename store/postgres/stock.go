package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/stock"
)

const (
	itemColumns     = `id, name, unit, on_hand, version, created_at`
	movementColumns = `id, item_id, kind, quantity, note, created_at`
)

// StockStore implements stock.Store.
type StockStore struct {
	pool *pgxpool.Pool
}

func (st *StockStore) CreateItem(ctx context.Context, item stock.Item) (stock.Item, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	created, err := scanItem(st.pool.QueryRow(ctx,
		`INSERT INTO items (name, unit, created_at) VALUES ($1, $2, $3) RETURNING `+itemColumns,
		item.Name, item.Unit, item.CreatedAt))
	if err != nil {
		return stock.Item{}, fmt.Errorf("failed to insert item: %w", err)
	}
	return created, nil
}

func (st *StockStore) GetItem(ctx context.Context, id stock.ItemID) (stock.Item, error) {
	return getItem(ctx, st.pool, id, false)
}

func (st *StockStore) GetMovement(ctx context.Context, id stock.MovementID) (stock.Movement, error) {
	return getMovement(ctx, st.pool, id)
}

func (st *StockStore) ListMovements(ctx context.Context, id stock.ItemID) ([]stock.Movement, error) {
	rows, err := st.pool.Query(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE item_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []stock.Movement
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (st *StockStore) WithTx(ctx context.Context, fn func(stock.Tx) error) error {
	return pgx.BeginFunc(ctx, st.pool, func(tx pgx.Tx) error {
		return fn(&stockTx{tx: tx})
	})
}

func getItem(ctx context.Context, q querier, id stock.ItemID, forUpdate bool) (stock.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	it, err := scanItem(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return stock.Item{}, generic.NewNotFound("item", id)
	}
	return it, err
}

func getMovement(ctx context.Context, q querier, id stock.MovementID) (stock.Movement, error) {
	mv, err := scanMovement(q.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return stock.Movement{}, generic.NewNotFound("movement", id)
	}
	return mv, err
}

func scanItem(sc scanner) (stock.Item, error) {
	var it stock.Item
	err := sc.Scan(&it.ID, &it.Name, &it.Unit, &it.OnHand, &it.Version, &it.CreatedAt)
	return it, err
}

func scanMovement(sc scanner) (stock.Movement, error) {
	var (
		mv   stock.Movement
		kind string
	)
	if err := sc.Scan(&mv.ID, &mv.ItemID, &kind, &mv.Quantity, &mv.Note, &mv.CreatedAt); err != nil {
		return mv, err
	}
	mv.Kind = stock.MovementKind(kind)
	return mv, nil
}

// =============================================================================
// TRANSACTIONAL VIEW (stock.Tx)
// =============================================================================

type stockTx struct {
	tx pgx.Tx
}

func (t *stockTx) GetItem(ctx context.Context, id stock.ItemID) (stock.Item, error) {
	return getItem(ctx, t.tx, id, true)
}

func (t *stockTx) SetOnHand(ctx context.Context, id stock.ItemID, onHand decimal.Decimal, expectedVersion int64) (stock.Item, error) {
	it, err := scanItem(t.tx.QueryRow(ctx,
		`UPDATE items SET on_hand = $1, version = version + 1
		 WHERE id = $2 AND version = $3 RETURNING `+itemColumns,
		onHand, id, expectedVersion))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := getItem(ctx, t.tx, id, false); err != nil {
			return stock.Item{}, err
		}
		return stock.Item{}, generic.ErrConcurrentModification
	}
	if err != nil {
		return stock.Item{}, fmt.Errorf("failed to update on hand: %w", err)
	}
	return it, nil
}

func (t *stockTx) GetMovement(ctx context.Context, id stock.MovementID) (stock.Movement, error) {
	return getMovement(ctx, t.tx, id)
}

func (t *stockTx) InsertMovement(ctx context.Context, mv stock.Movement) (stock.Movement, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO movements (item_id, kind, quantity, note, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		mv.ItemID, string(mv.Kind), mv.Quantity, mv.Note, mv.CreatedAt,
	).Scan(&mv.ID)
	if err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return stock.Movement{}, generic.NewNotFound("item", mv.ItemID)
		}
		return stock.Movement{}, fmt.Errorf("failed to insert movement: %w", err)
	}
	return mv, nil
}

func (t *stockTx) DeleteMovement(ctx context.Context, id stock.MovementID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM movements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete movement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return generic.NewNotFound("movement", id)
	}
	return nil
}

func (t *stockTx) SumMovements(ctx context.Context, id stock.ItemID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN kind = $2 THEN -quantity ELSE quantity END), 0)
		 FROM movements WHERE item_id = $1`,
		id, string(stock.MovementIssue),
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum movements: %w", err)
	}
	return total, nil
}
