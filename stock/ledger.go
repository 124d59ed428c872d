package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

// Ledger is the only writer of Item.OnHand. Each operation locks the item,
// then records the movement and the new quantity in one unit.
type Ledger struct {
	store  Store
	locker generic.Locker
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger returns a Ledger. A nil locker means an in-process KeyedMutex.
func NewLedger(store Store, locker generic.Locker, logger *slog.Logger) *Ledger {
	if locker == nil {
		locker = generic.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		locker: locker,
		logger: logger.With("component", "stock_ledger"),
		now:    time.Now,
	}
}

// Receive adds qty to the item.
func (l *Ledger) Receive(ctx context.Context, id ItemID, qty decimal.Decimal, note string) (Movement, Item, error) {
	return l.record(ctx, Movement{ItemID: id, Kind: MovementReceipt, Quantity: qty, Note: note})
}

// Issue withdraws qty. It fails with InsufficientStockError when qty
// exceeds what is on hand.
func (l *Ledger) Issue(ctx context.Context, id ItemID, qty decimal.Decimal, note string) (Movement, Item, error) {
	return l.record(ctx, Movement{ItemID: id, Kind: MovementIssue, Quantity: qty, Note: note})
}

func (l *Ledger) record(ctx context.Context, m Movement) (Movement, Item, error) {
	if !m.Quantity.IsPositive() {
		return Movement{}, Item{}, fmt.Errorf("%w: quantity must be positive, got %s", generic.ErrInvalidAmount, m.Quantity)
	}

	unlock, err := l.locker.Lock(ctx, m.ItemID.lockKey())
	if err != nil {
		return Movement{}, Item{}, err
	}
	defer unlock()

	var item Item
	err = l.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetItem(ctx, m.ItemID)
		if err != nil {
			return err
		}
		next, err := apply(current, m.Signed())
		if err != nil {
			return err
		}
		m.CreatedAt = l.now()
		if m, err = tx.InsertMovement(ctx, m); err != nil {
			return err
		}
		item, err = tx.SetOnHand(ctx, current.ID, next, current.Version)
		return err
	})
	if err != nil {
		return Movement{}, Item{}, l.fail(ctx, "record movement", err)
	}

	l.logger.InfoContext(ctx, "stock movement recorded",
		"item_id", item.ID, "kind", m.Kind, "quantity", m.Quantity.String(), "on_hand", item.OnHand.String())
	return m, item, nil
}

// Cancel deletes a movement and reverses its effect. Cancelling a receipt
// whose stock has already been issued fails with InsufficientStockError.
func (l *Ledger) Cancel(ctx context.Context, id MovementID) (Item, error) {
	m, err := l.store.GetMovement(ctx, id)
	if err != nil {
		return Item{}, err
	}

	unlock, err := l.locker.Lock(ctx, m.ItemID.lockKey())
	if err != nil {
		return Item{}, err
	}
	defer unlock()

	var item Item
	err = l.store.WithTx(ctx, func(tx Tx) error {
		// Movements never change item, so the locked item is still the right one.
		m, err := tx.GetMovement(ctx, id)
		if err != nil {
			return err
		}
		current, err := tx.GetItem(ctx, m.ItemID)
		if err != nil {
			return err
		}
		next, err := apply(current, m.Signed().Neg())
		if err != nil {
			return err
		}
		if err := tx.DeleteMovement(ctx, id); err != nil {
			return err
		}
		item, err = tx.SetOnHand(ctx, current.ID, next, current.Version)
		return err
	})
	if err != nil {
		return Item{}, l.fail(ctx, "cancel movement", err)
	}
	return item, nil
}

// Reconcile returns the stored quantity and the sum of movements.
func (l *Ledger) Reconcile(ctx context.Context, id ItemID) (stored, computed decimal.Decimal, err error) {
	unlock, err := l.locker.Lock(ctx, id.lockKey())
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	defer unlock()

	err = l.store.WithTx(ctx, func(tx Tx) error {
		item, err := tx.GetItem(ctx, id)
		if err != nil {
			return err
		}
		stored = item.OnHand
		computed, err = tx.SumMovements(ctx, id)
		return err
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, l.fail(ctx, "reconcile", err)
	}
	if !stored.Equal(computed) {
		l.logger.WarnContext(ctx, "stock drift detected",
			"item_id", id, "stored", stored.String(), "computed", computed.String())
	}
	return stored, computed, nil
}

// apply returns OnHand + delta, refusing to go below zero.
func apply(item Item, delta decimal.Decimal) (decimal.Decimal, error) {
	next := item.OnHand.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, &InsufficientStockError{
			ItemID:    item.ID,
			Available: item.OnHand,
			Requested: delta.Neg(),
		}
	}
	return next, nil
}

func (l *Ledger) fail(ctx context.Context, op string, err error) error {
	if generic.IsNotFound(err) || generic.IsClientError(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	l.logger.ErrorContext(ctx, "stock operation rolled back", "op", op, "error", err)
	return fmt.Errorf("%s: %w: %w", op, generic.ErrTransactionFailed, err)
}
