package sqlite_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/reservation"
	"github.com/warp/leave-ledger/stock"
	"github.com/warp/leave-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) generic.Date { return generic.MustParseDate(s) }

// =============================================================================
// LEAVE STORE
// =============================================================================

func TestSQLite_EmployeeLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	e, err := store.CreateEmployee(ctx, leave.Employee{Name: "Mehmet Demir", AnnualEntitlementDays: 14})
	require.NoError(t, err)
	assert.NotZero(t, e.ID)
	assert.Equal(t, 0, e.DaysUsed)
	assert.Equal(t, int64(1), e.Version)

	_, err = store.CreateEmployee(ctx, leave.Employee{ID: e.ID, Name: "dup", AnnualEntitlementDays: 1})
	assert.ErrorIs(t, err, generic.ErrConflict)

	e, err = store.UpdateEmployeeProfile(ctx, e.ID, "Mehmet Demir", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, e.AnnualEntitlementDays)
	assert.Equal(t, int64(2), e.Version)

	_, err = store.UpdateEmployeeProfile(ctx, 999, "x", 1)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = store.GetEmployee(ctx, 999)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	all, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_LedgerScenario(t *testing.T) {
	// GIVEN: entitlement 14 on a SQLite store
	// WHEN: create 5, grow to 12, delete
	// THEN: the counter and the records agree after every step

	store := newStore(t)
	ctx := context.Background()
	ledger := leave.NewLedger(store, leave.WithLogger(quietLogger()))

	e, err := store.CreateEmployee(ctx, leave.Employee{Name: "Zeynep Kaya", AnnualEntitlementDays: 14})
	require.NoError(t, err)

	res, err := ledger.CreateLeave(ctx, leave.CreateRequest{
		EmployeeID: e.ID, Category: leave.CategoryAnnual,
		Start: d("2024-06-01"), End: d("2024-06-05"), Actor: "hr",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Balance.DaysUsed)

	rec, err := store.GetLeave(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.CategoryAnnual, rec.Category)
	assert.True(t, rec.Period.Start.Equal(d("2024-06-01")))
	assert.True(t, rec.Period.End.Equal(d("2024-06-05")))

	res, err = ledger.UpdateLeave(ctx, leave.UpdateRequest{
		RecordID: rec.ID, EmployeeID: e.ID, Category: leave.CategoryAnnual,
		Start: d("2024-06-01"), End: d("2024-06-12"),
	})
	require.NoError(t, err)
	assert.Equal(t, 12, res.Balance.DaysUsed)

	report, err := ledger.Reconcile(ctx, e.ID, false, "test")
	require.NoError(t, err)
	assert.Zero(t, report.Drift)
	assert.Equal(t, 12, report.Computed)

	active, err := store.ListLeavesActiveOn(ctx, d("2024-06-12"))
	require.NoError(t, err)
	assert.Len(t, active, 1)
	active, err = store.ListLeavesActiveOn(ctx, d("2024-06-13"))
	require.NoError(t, err)
	assert.Empty(t, active)

	res, err = ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: rec.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Balance.DaysUsed)

	_, err = ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: rec.ID})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	audit, err := store.ListAudit(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, audit, 3)
	assert.Equal(t, leave.AuditLeaveCreated, audit[0].Action)
	assert.Equal(t, 5, audit[0].Delta)
	assert.Equal(t, leave.AuditLeaveUpdated, audit[1].Action)
	assert.Equal(t, 7, audit[1].Delta)
	assert.Equal(t, leave.AuditLeaveDeleted, audit[2].Action)
	assert.Equal(t, -12, audit[2].Delta)
	assert.Equal(t, 0, audit[2].DaysUsedAfter)
}

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	e, err := store.CreateEmployee(ctx, leave.Employee{Name: "Ali Veli", AnnualEntitlementDays: 14})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithTx(ctx, func(tx leave.Tx) error {
		now := time.Now()
		rec, err := tx.InsertLeave(ctx, leave.LeaveRecord{
			EmployeeID: e.ID, Category: leave.CategoryAnnual,
			Period:    generic.DateRange{Start: d("2024-01-01"), End: d("2024-01-03")},
			CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if _, err := tx.SetDaysUsed(ctx, e.ID, rec.Span(), e.Version); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, leave.AuditEntry{ID: uuid.NewString(), At: now, EmployeeID: e.ID, Delta: 3})
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx leave.Tx) error {
		if err := tx.DeleteLeave(ctx, 1); err != nil {
			return err
		}
		if _, err := tx.SetDaysUsed(ctx, e.ID, 0, e.Version+1); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetEmployee(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.DaysUsed, "counter write rolled back")
	records, err := store.ListLeavesByEmployee(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1, "record delete rolled back")
}

func TestSQLite_SetDaysUsed_StaleVersion(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	e, err := store.CreateEmployee(ctx, leave.Employee{Name: "Can", AnnualEntitlementDays: 14})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx leave.Tx) error {
		_, err := tx.SetDaysUsed(ctx, e.ID, 2, e.Version+5)
		return err
	})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	err = store.WithTx(ctx, func(tx leave.Tx) error {
		_, err := tx.SetDaysUsed(ctx, 404, 2, 1)
		return err
	})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestSQLite_SumAnnualSpans_IgnoresOtherCategories(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	ledger := leave.NewLedger(store, leave.WithLogger(quietLogger()))

	e, err := store.CreateEmployee(ctx, leave.Employee{Name: "Elif", AnnualEntitlementDays: 30})
	require.NoError(t, err)

	for _, req := range []leave.CreateRequest{
		{EmployeeID: e.ID, Category: leave.CategoryAnnual, Start: d("2024-02-27"), End: d("2024-03-01")},
		{EmployeeID: e.ID, Category: leave.CategorySick, Start: d("2024-04-01"), End: d("2024-04-10")},
		{EmployeeID: e.ID, Category: leave.CategoryAnnual, Start: d("2024-12-31"), End: d("2024-12-31")},
	} {
		_, err := ledger.CreateLeave(ctx, req)
		require.NoError(t, err)
	}

	var sum int
	err = store.WithTx(ctx, func(tx leave.Tx) error {
		sum, err = tx.SumAnnualSpans(ctx, e.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 5, sum, "leap day included, sick leave excluded")
}

// =============================================================================
// STOCK STORE
// =============================================================================

func TestSQLite_StockLedger(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	ledger := stock.NewLedger(store.Stock(), nil, quietLogger())

	item, err := store.Stock().CreateItem(ctx, stock.Item{Name: "A4 kağıt", Unit: "box"})
	require.NoError(t, err)
	assert.True(t, item.OnHand.IsZero())

	_, item, err = ledger.Receive(ctx, item.ID, decimal.RequireFromString("10.5"), "delivery")
	require.NoError(t, err)
	assert.Equal(t, "10.5", item.OnHand.String())

	mv, item, err := ledger.Issue(ctx, item.ID, decimal.NewFromInt(4), "office")
	require.NoError(t, err)
	assert.Equal(t, "6.5", item.OnHand.String())

	_, _, err = ledger.Issue(ctx, item.ID, decimal.NewFromInt(7), "too much")
	var short *stock.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, "6.5", short.Available.String())

	item, err = ledger.Cancel(ctx, mv.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.5", item.OnHand.String())

	stored, computed, err := ledger.Reconcile(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, stored.Equal(computed))

	movements, err := store.Stock().ListMovements(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

// =============================================================================
// BOOKING STORE
// =============================================================================

func TestSQLite_Bookings_HalfOpenOverlap(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	svc := reservation.NewService(store.Bookings(), nil, quietLogger())

	at := func(h int) time.Time { return time.Date(2024, 5, 6, h, 0, 0, 0, time.UTC) }

	first, err := svc.Book(ctx, reservation.Booking{RoomID: "r1", Title: "standup", Start: at(9), End: at(10)})
	require.NoError(t, err)

	_, err = svc.Book(ctx, reservation.Booking{RoomID: "r1", Title: "review", Start: at(10), End: at(11)})
	require.NoError(t, err, "back to back bookings do not conflict")

	_, err = svc.Book(ctx, reservation.Booking{RoomID: "r1", Title: "clash", Start: at(9), End: at(12)})
	var conflict *reservation.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Len(t, conflict.Conflicts, 2)
	assert.Equal(t, first.ID, conflict.Conflicts[0].WithBookingID)

	_, err = svc.Book(ctx, reservation.Booking{RoomID: "r2", Title: "other room", Start: at(9), End: at(12)})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, first.ID))
	_, err = store.Bookings().GetBooking(ctx, first.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	list, err := store.Bookings().ListByRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Start.Equal(at(10)))
}
