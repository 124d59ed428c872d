// Package stock is the inventory specialization of the ledger pattern: an
// item's on-hand quantity is changed only by recording a movement, and it
// always equals receipts minus issues.
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

type ItemID int64
type MovementID int64

func (id ItemID) lockKey() string {
	return fmt.Sprintf("item:%d", id)
}

// Item is a stocked article. OnHand is written by the Ledger only.
type Item struct {
	ID        ItemID
	Name      string
	Unit      string
	OnHand    decimal.Decimal
	Version   int64
	CreatedAt time.Time
}

type MovementKind string

const (
	MovementReceipt MovementKind = "receipt"
	MovementIssue   MovementKind = "issue"
)

// Movement is one receipt or issue. Quantity is always positive; Kind
// gives the sign.
type Movement struct {
	ID        MovementID
	ItemID    ItemID
	Kind      MovementKind
	Quantity  decimal.Decimal
	Note      string
	CreatedAt time.Time
}

// Signed returns the movement's effect on OnHand.
func (m Movement) Signed() decimal.Decimal {
	if m.Kind == MovementIssue {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

// InsufficientStockError rejects a withdrawal larger than what is on hand.
type InsufficientStockError struct {
	ItemID    ItemID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d: available %s, requested %s",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return generic.ErrInsufficientBalance }

// =============================================================================
// STORE
// =============================================================================

// Tx is the view of the store inside one atomic unit.
type Tx interface {
	GetItem(ctx context.Context, id ItemID) (Item, error)
	// SetOnHand writes the quantity if the version still matches.
	SetOnHand(ctx context.Context, id ItemID, onHand decimal.Decimal, expectedVersion int64) (Item, error)
	GetMovement(ctx context.Context, id MovementID) (Movement, error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	DeleteMovement(ctx context.Context, id MovementID) error
	SumMovements(ctx context.Context, id ItemID) (decimal.Decimal, error)
}

type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	CreateItem(ctx context.Context, item Item) (Item, error)
	GetItem(ctx context.Context, id ItemID) (Item, error)
	GetMovement(ctx context.Context, id MovementID) (Movement, error)
	ListMovements(ctx context.Context, id ItemID) ([]Movement, error)
}
