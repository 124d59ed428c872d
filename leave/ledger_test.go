package leave_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T, opts ...leave.Option) (*leave.Ledger, *memory.LeaveStore) {
	t.Helper()
	store := memory.NewLeaveStore()
	opts = append([]leave.Option{leave.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return leave.NewLedger(store, opts...), store
}

func seedEmployee(t *testing.T, store leave.Store, entitlement int) leave.EmployeeID {
	t.Helper()
	e, err := store.CreateEmployee(context.Background(), leave.Employee{
		Name:                  "Ayşe Yılmaz",
		AnnualEntitlementDays: entitlement,
	})
	require.NoError(t, err)
	return e.ID
}

func d(s string) generic.Date { return generic.MustParseDate(s) }

func create(emp leave.EmployeeID, c leave.Category, start, end string) leave.CreateRequest {
	return leave.CreateRequest{EmployeeID: emp, Category: c, Start: d(start), End: d(end), Actor: "hr"}
}

func update(id leave.RecordID, emp leave.EmployeeID, c leave.Category, start, end string) leave.UpdateRequest {
	return leave.UpdateRequest{RecordID: id, EmployeeID: emp, Category: c, Start: d(start), End: d(end), Actor: "hr"}
}

// assertInvariant checks DaysUsed against the sum of annual spans.
func assertInvariant(t *testing.T, store leave.Store, emp leave.EmployeeID) {
	t.Helper()
	ctx := context.Background()

	e, err := store.GetEmployee(ctx, emp)
	require.NoError(t, err)
	records, err := store.ListLeavesByEmployee(ctx, emp)
	require.NoError(t, err)

	sum := 0
	for _, r := range records {
		if r.Category.CountsAgainstEntitlement() {
			sum += r.Span()
		}
	}
	assert.Equal(t, sum, e.DaysUsed, "days used must equal the sum of annual spans for employee %d", emp)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []leave.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e leave.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

// =============================================================================
// SCENARIO
// =============================================================================

func TestLedger_Scenario_CreateGrowDelete(t *testing.T) {
	// GIVEN: entitlement 14, nothing used
	// WHEN: 5 days created, grown to 12, then deleted
	// THEN: days used goes 5 -> 12 -> 0

	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	res, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Record.Span())
	assert.Equal(t, 5, res.Balance.DaysUsed)
	assert.Equal(t, 9, res.Balance.Remaining)
	assertInvariant(t, store, emp)

	res, err = ledger.UpdateLeave(ctx, update(res.Record.ID, emp, leave.CategoryAnnual, "2024-06-01", "2024-06-12"))
	require.NoError(t, err)
	assert.Equal(t, 12, res.Balance.DaysUsed)
	assert.Equal(t, 2, res.Balance.Remaining)
	assert.Nil(t, res.Previous)
	assertInvariant(t, store, emp)

	res, err = ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: res.Record.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Balance.DaysUsed)
	assert.Equal(t, 14, res.Balance.Remaining)
	assertInvariant(t, store, emp)
}

// =============================================================================
// CREATE
// =============================================================================

func TestLedger_Create_InsufficientBalance_NoWrites(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 3)

	_, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))

	var short *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 3, short.Remaining)
	assert.Equal(t, 5, short.Requested)
	assert.Equal(t, 2, short.Shortfall())
	assert.True(t, generic.IsClientError(err))

	records, err := store.ListLeavesByEmployee(ctx, emp)
	require.NoError(t, err)
	assert.Empty(t, records)

	audit, err := store.ListAudit(ctx, emp)
	require.NoError(t, err)
	assert.Empty(t, audit)
	assertInvariant(t, store, emp)
}

func TestLedger_Create_ExactlyRemaining_Succeeds(t *testing.T) {
	ledger, store := newTestLedger(t)
	emp := seedEmployee(t, store, 5)

	res, err := ledger.CreateLeave(context.Background(), create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Balance.Remaining)
}

func TestLedger_Create_InformationalCategory_NoBalanceEffect(t *testing.T) {
	ledger, store := newTestLedger(t)
	emp := seedEmployee(t, store, 2)

	// Sick leave longer than the annual entitlement is fine: it does not count.
	res, err := ledger.CreateLeave(context.Background(), create(emp, leave.CategorySick, "2024-06-01", "2024-06-10"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Balance.DaysUsed)
	assert.Equal(t, 2, res.Balance.Remaining)
	assertInvariant(t, store, emp)
}

func TestLedger_Create_ValidationErrors(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	_, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-05", "2024-06-01"))
	assert.ErrorIs(t, err, generic.ErrInvalidRange)

	_, err = ledger.CreateLeave(ctx, create(emp, leave.Category("holiday"), "2024-06-01", "2024-06-01"))
	assert.ErrorIs(t, err, leave.ErrInvalidCategory)

	_, err = ledger.CreateLeave(ctx, leave.CreateRequest{EmployeeID: emp, Category: leave.CategoryAnnual, End: d("2024-06-01")})
	assert.ErrorIs(t, err, generic.ErrInvalidRange)

	_, err = ledger.CreateLeave(ctx, create(999, leave.CategoryAnnual, "2024-06-01", "2024-06-01"))
	assert.True(t, generic.IsNotFound(err))
	var nf *generic.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "employee", nf.Kind)
}

// =============================================================================
// UPDATE - category transitions
// =============================================================================

func TestLedger_Update_AnnualGrowth_Insufficient_NoWrites(t *testing.T) {
	// GIVEN: 5 days annual used out of 10
	// WHEN: the record is stretched to 11 days (delta 6 > remaining 5)
	// THEN: rejected with remaining 5, record and balance unchanged

	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 10)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))
	require.NoError(t, err)

	_, err = ledger.UpdateLeave(ctx, update(created.Record.ID, emp, leave.CategoryAnnual, "2024-06-01", "2024-06-11"))
	var short *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 5, short.Remaining)
	assert.Equal(t, 6, short.Requested)

	rec, err := store.GetLeave(ctx, created.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Record.Period, rec.Period)
	assertInvariant(t, store, emp)
}

func TestLedger_Update_AnnualShrink_Refunds(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-10"))
	require.NoError(t, err)

	res, err := ledger.UpdateLeave(ctx, update(created.Record.ID, emp, leave.CategoryAnnual, "2024-06-01", "2024-06-03"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Balance.DaysUsed)
	assertInvariant(t, store, emp)
}

func TestLedger_Update_AnnualToSick_FullRefund(t *testing.T) {
	// GIVEN: a 5-day annual leave
	// WHEN: it is reclassified as sick leave
	// THEN: all 5 days come back and later edits have no balance effect

	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))
	require.NoError(t, err)
	require.Equal(t, 5, created.Balance.DaysUsed)

	res, err := ledger.UpdateLeave(ctx, update(created.Record.ID, emp, leave.CategorySick, "2024-06-01", "2024-06-05"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Balance.DaysUsed)
	assert.Equal(t, 14, res.Balance.Remaining)

	res, err = ledger.UpdateLeave(ctx, update(created.Record.ID, emp, leave.CategorySick, "2024-06-01", "2024-06-30"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Balance.DaysUsed)
	assertInvariant(t, store, emp)
}

func TestLedger_Update_SickToAnnual_DebitsNewSpan(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategorySick, "2024-06-01", "2024-06-03"))
	require.NoError(t, err)

	res, err := ledger.UpdateLeave(ctx, update(created.Record.ID, emp, leave.CategoryAnnual, "2024-06-01", "2024-06-07"))
	require.NoError(t, err)
	assert.Equal(t, 7, res.Balance.DaysUsed, "debited by the new span, not the old one")
	assertInvariant(t, store, emp)
}

func TestLedger_Update_SickToAnnual_Insufficient(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 4)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategorySick, "2024-06-01", "2024-06-05"))
	require.NoError(t, err)

	_, err = ledger.UpdateLeave(ctx, update(created.Record.ID, emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	rec, err := store.GetLeave(ctx, created.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.CategorySick, rec.Category)
	assertInvariant(t, store, emp)
}

func TestLedger_Update_InformationalOnly_NoBalanceEffect(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 1)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryExcuse, "2024-06-01", "2024-06-02"))
	require.NoError(t, err)

	res, err := ledger.UpdateLeave(ctx, update(created.Record.ID, emp, leave.CategoryUnpaid, "2024-06-01", "2024-06-20"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Balance.DaysUsed)
	assert.Equal(t, leave.CategoryUnpaid, res.Record.Category)
	assertInvariant(t, store, emp)
}

func TestLedger_Update_MoveToOtherEmployee(t *testing.T) {
	// GIVEN: a 4-day annual leave filed under the wrong employee
	// WHEN: it is re-pointed to the right employee
	// THEN: the first is refunded 4, the second is debited 4

	ledger, store := newTestLedger(t)
	ctx := context.Background()
	wrong := seedEmployee(t, store, 14)
	right := seedEmployee(t, store, 14)

	created, err := ledger.CreateLeave(ctx, create(wrong, leave.CategoryAnnual, "2024-06-03", "2024-06-06"))
	require.NoError(t, err)

	res, err := ledger.UpdateLeave(ctx, update(created.Record.ID, right, leave.CategoryAnnual, "2024-06-03", "2024-06-06"))
	require.NoError(t, err)
	assert.Equal(t, right, res.Record.EmployeeID)
	assert.Equal(t, 4, res.Balance.DaysUsed)
	require.NotNil(t, res.Previous)
	assert.Equal(t, wrong, res.Previous.EmployeeID)
	assert.Equal(t, 0, res.Previous.DaysUsed)

	assertInvariant(t, store, wrong)
	assertInvariant(t, store, right)
}

func TestLedger_Update_MoveToEmployeeWithoutBalance_NoWrites(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	from := seedEmployee(t, store, 14)
	to := seedEmployee(t, store, 2)

	created, err := ledger.CreateLeave(ctx, create(from, leave.CategoryAnnual, "2024-06-03", "2024-06-06"))
	require.NoError(t, err)

	_, err = ledger.UpdateLeave(ctx, update(created.Record.ID, to, leave.CategoryAnnual, "2024-06-03", "2024-06-06"))
	var short *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, int64(to), short.OwnerID)

	fromEmp, err := store.GetEmployee(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, 4, fromEmp.DaysUsed, "old owner keeps its debit")
	assertInvariant(t, store, from)
	assertInvariant(t, store, to)
}

func TestLedger_Update_MissingRecordOrEmployee(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	_, err := ledger.UpdateLeave(ctx, update(42, emp, leave.CategoryAnnual, "2024-06-01", "2024-06-01"))
	assert.ErrorIs(t, err, generic.ErrNotFound)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-01"))
	require.NoError(t, err)
	_, err = ledger.UpdateLeave(ctx, update(created.Record.ID, 777, leave.CategoryAnnual, "2024-06-01", "2024-06-01"))
	assert.ErrorIs(t, err, generic.ErrNotFound)
	assertInvariant(t, store, emp)
}

// =============================================================================
// DELETE
// =============================================================================

func TestLedger_Delete_SecondDeleteIsNotFound(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))
	require.NoError(t, err)
	_, err = ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-07-01", "2024-07-02"))
	require.NoError(t, err)

	res, err := ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: created.Record.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Balance.DaysUsed, "decreased by exactly the deleted span")

	_, err = ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: created.Record.ID})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	bal, err := ledger.Balance(ctx, emp)
	require.NoError(t, err)
	assert.Equal(t, 2, bal.DaysUsed, "no double refund")
	assertInvariant(t, store, emp)
}

func TestLedger_Delete_RefundClampedAtZero(t *testing.T) {
	// GIVEN: a counter that already drifted below the record's span
	// WHEN: the record is deleted
	// THEN: days used stops at zero and the audit entry records the lost days

	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))
	require.NoError(t, err)
	store.ForceDaysUsed(emp, 2)

	res, err := ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: created.Record.ID, Actor: "hr"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Balance.DaysUsed)

	audit, err := store.ListAudit(ctx, emp)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	last := audit[1]
	assert.Equal(t, leave.AuditLeaveDeleted, last.Action)
	assert.Equal(t, -5, last.Delta)
	assert.Equal(t, 3, last.Clamped)
	assert.Equal(t, "hr", last.Actor)
}

// =============================================================================
// ATOMIC APPLY - storage faults roll back both writes
// =============================================================================

func TestLedger_Create_StorageFault_RollsBackRecord(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	store.FailNext("SetDaysUsed", errors.New("disk full"))
	_, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))

	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrTransactionFailed)
	assert.True(t, generic.IsRetryable(err))

	records, err := store.ListLeavesByEmployee(ctx, emp)
	require.NoError(t, err)
	assert.Empty(t, records, "record insert must be rolled back with the balance")
	assertInvariant(t, store, emp)
}

func TestLedger_Delete_StorageFault_KeepsRecordAndBalance(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))
	require.NoError(t, err)

	store.FailNext("AppendAudit", errors.New("io error"))
	_, err = ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: created.Record.ID})
	assert.ErrorIs(t, err, generic.ErrTransactionFailed)

	_, err = store.GetLeave(ctx, created.Record.ID)
	assert.NoError(t, err, "record must survive the failed delete")
	bal, err := ledger.Balance(ctx, emp)
	require.NoError(t, err)
	assert.Equal(t, 5, bal.DaysUsed)
	assertInvariant(t, store, emp)
}

func TestLedger_Update_StorageFault_OnMove_RollsBackBothAccounts(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	from := seedEmployee(t, store, 14)
	to := seedEmployee(t, store, 14)

	created, err := ledger.CreateLeave(ctx, create(from, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))
	require.NoError(t, err)

	store.FailNext("ReplaceLeave", errors.New("constraint violated"))
	_, err = ledger.UpdateLeave(ctx, update(created.Record.ID, to, leave.CategoryAnnual, "2024-06-01", "2024-06-05"))
	assert.ErrorIs(t, err, generic.ErrTransactionFailed)

	fromBal, _ := ledger.Balance(ctx, from)
	toBal, _ := ledger.Balance(ctx, to)
	assert.Equal(t, 5, fromBal.DaysUsed)
	assert.Equal(t, 0, toBal.DaysUsed)
	assertInvariant(t, store, from)
	assertInvariant(t, store, to)
}

func TestLedger_ConcurrentModification_IsRetried(t *testing.T) {
	ledger, store := newTestLedger(t, leave.WithMaxRetries(2))
	emp := seedEmployee(t, store, 14)

	store.FailNext("SetDaysUsed", generic.ErrConcurrentModification)
	res, err := ledger.CreateLeave(context.Background(), create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-02"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Balance.DaysUsed)
	assertInvariant(t, store, emp)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestLedger_ConcurrentCreates_OnlyOnePassesSufficiency(t *testing.T) {
	// GIVEN: remaining = 5
	// WHEN: two 5-day requests arrive at the same time
	// THEN: exactly one succeeds and one is refused

	ledger, store := newTestLedger(t)
	emp := seedEmployee(t, store, 5)

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		errs     = make([]error, 2)
		requests = []leave.CreateRequest{
			create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-05"),
			create(emp, leave.CategoryAnnual, "2024-07-01", "2024-07-05"),
		}
	)
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = ledger.CreateLeave(context.Background(), requests[i])
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, refused := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, generic.ErrInsufficientBalance):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, refused)
	assertInvariant(t, store, emp)
}

func TestLedger_RandomConcurrentMutations_KeepInvariant(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	employees := []leave.EmployeeID{
		seedEmployee(t, store, 14),
		seedEmployee(t, store, 20),
		seedEmployee(t, store, 7),
	}
	categories := []leave.Category{leave.CategoryAnnual, leave.CategoryAnnual, leave.CategorySick, leave.CategoryExcuse}

	var (
		mu  sync.Mutex
		ids []leave.RecordID
	)
	pick := func(r *rand.Rand) (leave.RecordID, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(ids) == 0 {
			return 0, false
		}
		return ids[r.Intn(len(ids))], true
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 60; i++ {
				emp := employees[r.Intn(len(employees))]
				cat := categories[r.Intn(len(categories))]
				startDay := 1 + r.Intn(20)
				start := fmt.Sprintf("2024-03-%02d", startDay)
				end := fmt.Sprintf("2024-03-%02d", startDay+r.Intn(5))

				switch r.Intn(3) {
				case 0:
					res, err := ledger.CreateLeave(ctx, create(emp, cat, start, end))
					if err == nil {
						mu.Lock()
						ids = append(ids, res.Record.ID)
						mu.Unlock()
					}
				case 1:
					if id, ok := pick(r); ok {
						_, _ = ledger.UpdateLeave(ctx, update(id, emp, cat, start, end))
					}
				default:
					if id, ok := pick(r); ok {
						_, _ = ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: id})
					}
				}
			}
		}(int64(w))
	}
	wg.Wait()

	for _, emp := range employees {
		assertInvariant(t, store, emp)
		e, err := store.GetEmployee(ctx, emp)
		require.NoError(t, err)
		assert.LessOrEqual(t, e.DaysUsed, e.AnnualEntitlementDays)
		assert.GreaterOrEqual(t, e.DaysUsed, 0)
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestLedger_Reconcile_DetectsAndRepairsDrift(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	emp := seedEmployee(t, store, 14)

	_, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-04"))
	require.NoError(t, err)
	store.ForceDaysUsed(emp, 9)

	report, err := ledger.Reconcile(ctx, emp, false, "auditor")
	require.NoError(t, err)
	assert.Equal(t, 9, report.Stored)
	assert.Equal(t, 4, report.Computed)
	assert.Equal(t, 5, report.Drift)
	assert.False(t, report.Repaired)

	report, err = ledger.Reconcile(ctx, emp, true, "auditor")
	require.NoError(t, err)
	assert.True(t, report.Repaired)
	assertInvariant(t, store, emp)

	report, err = ledger.Reconcile(ctx, emp, true, "auditor")
	require.NoError(t, err)
	assert.Zero(t, report.Drift)
	assert.False(t, report.Repaired)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestLedger_PublishesAfterCommitOnly(t *testing.T) {
	pub := &recordingPublisher{}
	ledger, store := newTestLedger(t, leave.WithPublisher(pub))
	ctx := context.Background()
	emp := seedEmployee(t, store, 3)

	created, err := ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-02"))
	require.NoError(t, err)
	_, err = ledger.CreateLeave(ctx, create(emp, leave.CategoryAnnual, "2024-06-10", "2024-06-14"))
	require.Error(t, err)
	_, err = ledger.DeleteLeave(ctx, leave.DeleteRequest{RecordID: created.Record.ID})
	require.NoError(t, err)

	require.Len(t, pub.events, 2, "rejected requests publish nothing")
	assert.Equal(t, leave.EventLeaveCreated, pub.events[0].Type)
	assert.Equal(t, 1, pub.events[0].Remaining)
	assert.Equal(t, leave.EventLeaveDeleted, pub.events[1].Type)
	assert.Equal(t, 3, pub.events[1].Remaining)
}

func TestLedger_PublishFailure_DoesNotFailOperation(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	ledger, store := newTestLedger(t, leave.WithPublisher(pub))
	emp := seedEmployee(t, store, 14)

	res, err := ledger.CreateLeave(context.Background(), create(emp, leave.CategoryAnnual, "2024-06-01", "2024-06-01"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Balance.DaysUsed)
}
