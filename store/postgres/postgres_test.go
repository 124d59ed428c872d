package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/reservation"
	"github.com/warp/leave-ledger/stock"
	"github.com/warp/leave-ledger/store/postgres"
)

// newStore starts a throwaway PostgreSQL container. Skipped with -short.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("leave_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgres.New(ctx, postgres.Config{URL: connStr, MaxConns: 10})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) generic.Date { return generic.MustParseDate(s) }

func TestPostgres(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	t.Run("ledger scenario", func(t *testing.T) {
		ledger := leave.NewLedger(store, leave.WithLogger(quietLogger()))
		e, err := store.CreateEmployee(ctx, leave.Employee{Name: "Burak", AnnualEntitlementDays: 14})
		require.NoError(t, err)

		res, err := ledger.CreateLeave(ctx, leave.CreateRequest{
			EmployeeID: e.ID, Category: leave.CategoryAnnual, Start: d("2024-02-28"), End: d("2024-03-03"),
		})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Balance.DaysUsed)

		res, err = ledger.UpdateLeave(ctx, leave.UpdateRequest{
			RecordID: res.Record.ID, EmployeeID: e.ID, Category: leave.CategorySick,
			Start: d("2024-02-28"), End: d("2024-03-03"),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Balance.DaysUsed)

		res, err = ledger.UpdateLeave(ctx, leave.UpdateRequest{
			RecordID: res.Record.ID, EmployeeID: e.ID, Category: leave.CategoryAnnual,
			Start: d("2024-03-01"), End: d("2024-03-12"),
		})
		require.NoError(t, err)
		assert.Equal(t, 12, res.Balance.DaysUsed)

		report, err := ledger.Reconcile(ctx, e.ID, false, "test")
		require.NoError(t, err)
		assert.Equal(t, 12, report.Computed)
		assert.Zero(t, report.Drift)

		_, err = ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: res.Record.ID})
		require.NoError(t, err)
		_, err = ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: res.Record.ID})
		assert.ErrorIs(t, err, generic.ErrNotFound)

		audit, err := store.ListAudit(ctx, e.ID)
		require.NoError(t, err)
		assert.Len(t, audit, 4)
	})

	t.Run("concurrent ledgers share one row lock", func(t *testing.T) {
		// two ledgers with separate in-process lockers, as two server instances would have
		a := leave.NewLedger(store, leave.WithLogger(quietLogger()))
		b := leave.NewLedger(store, leave.WithLogger(quietLogger()))

		e, err := store.CreateEmployee(ctx, leave.Employee{Name: "Deniz", AnnualEntitlementDays: 5})
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for i, l := range []*leave.Ledger{a, b} {
			wg.Add(1)
			go func(i int, l *leave.Ledger) {
				defer wg.Done()
				_, errs[i] = l.CreateLeave(ctx, leave.CreateRequest{
					EmployeeID: e.ID, Category: leave.CategoryAnnual, Start: d("2024-07-01"), End: d("2024-07-05"),
				})
			}(i, l)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
			}
		}
		assert.Equal(t, 1, ok)

		got, err := store.GetEmployee(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.DaysUsed)
	})

	t.Run("stock", func(t *testing.T) {
		ledger := stock.NewLedger(store.Stock(), nil, quietLogger())
		item, err := store.Stock().CreateItem(ctx, stock.Item{Name: "cable", Unit: "m"})
		require.NoError(t, err)

		_, _, err = ledger.Receive(ctx, item.ID, decimal.RequireFromString("12.25"), "")
		require.NoError(t, err)
		_, item, err = ledger.Issue(ctx, item.ID, decimal.RequireFromString("2.25"), "")
		require.NoError(t, err)
		assert.True(t, item.OnHand.Equal(decimal.NewFromInt(10)))

		stored, computed, err := ledger.Reconcile(ctx, item.ID)
		require.NoError(t, err)
		assert.True(t, stored.Equal(computed))
	})

	t.Run("bookings", func(t *testing.T) {
		svc := reservation.NewService(store.Bookings(), nil, quietLogger())
		start := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)

		_, err := svc.Book(ctx, reservation.Booking{RoomID: "pg", Start: start, End: start.Add(time.Hour)})
		require.NoError(t, err)
		_, err = svc.Book(ctx, reservation.Booking{RoomID: "pg", Start: start.Add(30 * time.Minute), End: start.Add(2 * time.Hour)})
		assert.ErrorIs(t, err, generic.ErrConflict)
		_, err = svc.Book(ctx, reservation.Booking{RoomID: "pg", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)})
		assert.NoError(t, err)
	})
}
