package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/stock"
)

// =============================================================================
// STOCK STORE (stock.Store interface)
// =============================================================================

// StockStore implements stock.Store on the shared connection.
type StockStore struct {
	s *Store
}

func (st *StockStore) CreateItem(ctx context.Context, item stock.Item) (stock.Item, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	res, err := st.s.db.ExecContext(ctx,
		`INSERT INTO items (name, unit, on_hand, version, created_at) VALUES (?, ?, '0', 1, ?)`,
		item.Name, item.Unit, formatTime(item.CreatedAt),
	)
	if err != nil {
		return stock.Item{}, fmt.Errorf("failed to insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return stock.Item{}, err
	}
	return getItem(ctx, st.s.db, stock.ItemID(id))
}

func (st *StockStore) GetItem(ctx context.Context, id stock.ItemID) (stock.Item, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	return getItem(ctx, st.s.db, id)
}

func (st *StockStore) GetMovement(ctx context.Context, id stock.MovementID) (stock.Movement, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	return getMovement(ctx, st.s.db, id)
}

func (st *StockStore) ListMovements(ctx context.Context, id stock.ItemID) ([]stock.Movement, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	return queryMovements(ctx, st.s.db, id)
}

func (st *StockStore) WithTx(ctx context.Context, fn func(stock.Tx) error) error {
	return st.s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&stockTx{tx: tx})
	})
}

func getItem(ctx context.Context, q querier, id stock.ItemID) (stock.Item, error) {
	var (
		it        stock.Item
		onHand    string
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, name, unit, on_hand, version, created_at FROM items WHERE id = ?`, id,
	).Scan(&it.ID, &it.Name, &it.Unit, &onHand, &it.Version, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return stock.Item{}, generic.NewNotFound("item", id)
	}
	if err != nil {
		return stock.Item{}, fmt.Errorf("failed to scan item: %w", err)
	}
	if it.OnHand, err = decimal.NewFromString(onHand); err != nil {
		return stock.Item{}, fmt.Errorf("item %d: bad on_hand %q: %w", id, onHand, err)
	}
	it.CreatedAt = parseTime(createdAt)
	return it, nil
}

func getMovement(ctx context.Context, q querier, id stock.MovementID) (stock.Movement, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, item_id, kind, quantity, note, created_at FROM movements WHERE id = ?`, id)
	mv, err := scanMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return stock.Movement{}, generic.NewNotFound("movement", id)
	}
	return mv, err
}

func queryMovements(ctx context.Context, q querier, itemID stock.ItemID) ([]stock.Movement, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, item_id, kind, quantity, note, created_at FROM movements WHERE item_id = ? ORDER BY id`,
		itemID,
	)
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

func scanMovement(sc scanner) (stock.Movement, error) {
	var (
		mv        stock.Movement
		kind      string
		quantity  string
		createdAt string
	)
	if err := sc.Scan(&mv.ID, &mv.ItemID, &kind, &quantity, &mv.Note, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mv, err
		}
		return mv, fmt.Errorf("failed to scan movement: %w", err)
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return mv, fmt.Errorf("movement %d: bad quantity %q: %w", mv.ID, quantity, err)
	}
	mv.Kind = stock.MovementKind(kind)
	mv.Quantity = q
	mv.CreatedAt = parseTime(createdAt)
	return mv, nil
}

// =============================================================================
// TRANSACTIONAL VIEW (stock.Tx)
// =============================================================================

type stockTx struct {
	tx *sql.Tx
}

func (t *stockTx) GetItem(ctx context.Context, id stock.ItemID) (stock.Item, error) {
	return getItem(ctx, t.tx, id)
}

func (t *stockTx) SetOnHand(ctx context.Context, id stock.ItemID, onHand decimal.Decimal, expectedVersion int64) (stock.Item, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE items SET on_hand = ?, version = version + 1 WHERE id = ? AND version = ?`,
		onHand.String(), id, expectedVersion,
	)
	if err != nil {
		return stock.Item{}, fmt.Errorf("failed to update on hand: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return stock.Item{}, err
	}
	if !ok {
		if _, err := getItem(ctx, t.tx, id); err != nil {
			return stock.Item{}, err
		}
		return stock.Item{}, generic.ErrConcurrentModification
	}
	return getItem(ctx, t.tx, id)
}

func (t *stockTx) GetMovement(ctx context.Context, id stock.MovementID) (stock.Movement, error) {
	return getMovement(ctx, t.tx, id)
}

func (t *stockTx) InsertMovement(ctx context.Context, mv stock.Movement) (stock.Movement, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO movements (item_id, kind, quantity, note, created_at) VALUES (?, ?, ?, ?, ?)`,
		mv.ItemID, string(mv.Kind), mv.Quantity.String(), mv.Note, formatTime(mv.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return stock.Movement{}, generic.NewNotFound("item", mv.ItemID)
		}
		return stock.Movement{}, fmt.Errorf("failed to insert movement: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return stock.Movement{}, err
	}
	mv.ID = stock.MovementID(id)
	return mv, nil
}

func (t *stockTx) DeleteMovement(ctx context.Context, id stock.MovementID) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM movements WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete movement: %w", err)
	}
	if ok, err := affectedOne(res); err != nil {
		return err
	} else if !ok {
		return generic.NewNotFound("movement", id)
	}
	return nil
}

// SumMovements adds in Go; quantities are stored as decimal text.
func (t *stockTx) SumMovements(ctx context.Context, id stock.ItemID) (decimal.Decimal, error) {
	movements, err := queryMovements(ctx, t.tx, id)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, mv := range movements {
		total = total.Add(mv.Signed())
	}
	return total, nil
}
