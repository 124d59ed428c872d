/*
ledger.go - Annual leave balance ledger

PURPOSE:
  The Ledger is the only code path allowed to change Employee.DaysUsed.
  It keeps the core invariant true after every create, edit and delete:

    DaysUsed == sum of Span over the employee's annual-leave records

FLOW (every operation):
  1. Validate the request shape (range, category). Nothing is locked yet.
  2. Lock the affected employee(s). Two requests for one employee never
     evaluate sufficiency against the same stale balance.
  3. In one Store.WithTx unit: read the balance, compute the delta, check
     sufficiency, write the record and the balance.
  4. After commit: audit is already durable (same unit); publish the event.

UPDATE CASES (old category -> new category):
  A. annual -> annual:   delta = new span - old span, debit checked if > 0
  B. annual -> other:    refund old span
  C. other  -> annual:   debit new span, checked
  D. other  -> other:    no balance effect
  When the record moves to another employee the two accounts are settled
  independently: the old owner is refunded what the record charged it, the
  new owner is debited what the record now charges, with its own check.

REFUND FLOOR:
  A refund never drives DaysUsed below zero. When the floor is hit the
  lost days are logged and written to the audit entry (Clamped), since it
  means an earlier miscount.

SEE ALSO:
  - store.go: Tx contract and audit entries
  - events.go: Post-commit notifications
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/leave-ledger/generic"
)

// errOwnerMoved means the record changed owner between the unlocked peek
// and the locked read; the operation starts over with the new owner locked.
var errOwnerMoved = errors.New("leave record owner changed")

// DefaultMaxRetries bounds retries on concurrent modification.
const DefaultMaxRetries = 3

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store      Store
	locker     generic.Locker
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
	maxRetries int
}

type Option func(*Ledger)

// WithLocker replaces the in-process KeyedMutex, e.g. with a Redis lock
// when several server instances share one database.
func WithLocker(locker generic.Locker) Option {
	return func(l *Ledger) { l.locker = locker }
}

func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		locker:     generic.NewKeyedMutex(),
		publisher:  NopPublisher{},
		logger:     slog.Default(),
		now:        time.Now,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "leave_ledger")
	return l
}

// =============================================================================
// REQUESTS / RESULTS
// =============================================================================

type CreateRequest struct {
	EmployeeID EmployeeID
	Category   Category
	Start      generic.Date
	End        generic.Date
	Note       string
	Actor      string
}

// UpdateRequest replaces every editable field of a record. EmployeeID may
// differ from the record's current owner.
type UpdateRequest struct {
	RecordID   RecordID
	EmployeeID EmployeeID
	Category   Category
	Start      generic.Date
	End        generic.Date
	Note       string
	Actor      string
}

type DeleteRequest struct {
	RecordID RecordID
	Actor    string
}

// Result is returned by every successful mutation.
type Result struct {
	// Record is the persisted record (for delete, the record as it was).
	Record LeaveRecord
	// Balance is the record owner's balance after the operation.
	Balance Balance
	// Previous is the former owner's balance when an update moved the
	// record to another employee, nil otherwise.
	Previous *Balance
}

// ReconcileReport compares the stored counter with the records.
type ReconcileReport struct {
	EmployeeID EmployeeID
	Stored     int
	Computed   int
	Drift      int // Stored - Computed
	Repaired   bool
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CreateLeave records a new leave and, for annual leave, debits its span.
func (l *Ledger) CreateLeave(ctx context.Context, req CreateRequest) (Result, error) {
	period, err := validate(req.Category, req.Start, req.End)
	if err != nil {
		return Result{}, err
	}

	var (
		res   Result
		audit AuditEntry
	)
	err = l.retry(ctx, func() error {
		unlock, err := l.locker.Lock(ctx, req.EmployeeID.lockKey())
		if err != nil {
			return err
		}
		defer unlock()

		return l.store.WithTx(ctx, func(tx Tx) error {
			emp, err := tx.GetEmployee(ctx, req.EmployeeID)
			if err != nil {
				return err
			}

			now := l.now()
			rec := LeaveRecord{
				EmployeeID: req.EmployeeID,
				Category:   req.Category,
				Period:     period,
				Note:       req.Note,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			charge := rec.chargedDays()
			if err := checkSufficient(emp, charge); err != nil {
				return err
			}

			rec, err = tx.InsertLeave(ctx, rec)
			if err != nil {
				return err
			}
			emp, clamped, err := applyDelta(ctx, tx, emp, charge)
			if err != nil {
				return err
			}
			audit = l.auditEntry(req.Actor, AuditLeaveCreated, emp, rec.ID, charge, clamped)
			if err := tx.AppendAudit(ctx, audit); err != nil {
				return err
			}

			res = Result{Record: rec, Balance: emp.Balance()}
			return nil
		})
	})
	if err != nil {
		return Result{}, l.fail(ctx, "create leave", err)
	}

	l.logger.InfoContext(ctx, "leave created",
		"employee_id", res.Record.EmployeeID,
		"record_id", res.Record.ID,
		"category", res.Record.Category,
		"span", res.Record.Span(),
		"remaining", res.Balance.Remaining,
	)
	l.publish(ctx, l.event(EventLeaveCreated, req.Actor, res.Record, res.Balance))
	return res, nil
}

// UpdateLeave replaces a record's owner, category, dates and note and
// settles the balance difference.
func (l *Ledger) UpdateLeave(ctx context.Context, req UpdateRequest) (Result, error) {
	period, err := validate(req.Category, req.Start, req.End)
	if err != nil {
		return Result{}, err
	}

	var (
		res    Result
		audits []AuditEntry
	)
	err = l.retry(ctx, func() error {
		current, err := l.store.GetLeave(ctx, req.RecordID)
		if err != nil {
			return err
		}
		unlock, err := generic.LockAll(ctx, l.locker, current.EmployeeID.lockKey(), req.EmployeeID.lockKey())
		if err != nil {
			return err
		}
		defer unlock()

		audits = audits[:0]
		return l.store.WithTx(ctx, func(tx Tx) error {
			old, err := tx.GetLeave(ctx, req.RecordID)
			if err != nil {
				return err
			}
			if old.EmployeeID != current.EmployeeID {
				return errOwnerMoved
			}

			next := old
			next.EmployeeID = req.EmployeeID
			next.Category = req.Category
			next.Period = period
			next.Note = req.Note
			next.UpdatedAt = l.now()

			owner, err := tx.GetEmployee(ctx, next.EmployeeID)
			if err != nil {
				return err
			}

			if old.EmployeeID == next.EmployeeID {
				delta := next.chargedDays() - old.chargedDays()
				if err := checkSufficient(owner, delta); err != nil {
					return err
				}
				owner, clamped, err := applyDelta(ctx, tx, owner, delta)
				if err != nil {
					return err
				}
				audits = append(audits, l.auditEntry(req.Actor, AuditLeaveUpdated, owner, old.ID, delta, clamped))
				res = Result{Balance: owner.Balance()}
			} else {
				former, err := tx.GetEmployee(ctx, old.EmployeeID)
				if err != nil {
					return err
				}
				if err := checkSufficient(owner, next.chargedDays()); err != nil {
					return err
				}
				former, formerClamped, err := applyDelta(ctx, tx, former, -old.chargedDays())
				if err != nil {
					return err
				}
				owner, ownerClamped, err := applyDelta(ctx, tx, owner, next.chargedDays())
				if err != nil {
					return err
				}
				audits = append(audits,
					l.auditEntry(req.Actor, AuditLeaveUpdated, former, old.ID, -old.chargedDays(), formerClamped),
					l.auditEntry(req.Actor, AuditLeaveUpdated, owner, old.ID, next.chargedDays(), ownerClamped),
				)
				prev := former.Balance()
				res = Result{Balance: owner.Balance(), Previous: &prev}
			}

			saved, err := tx.ReplaceLeave(ctx, old.ID, next)
			if err != nil {
				return err
			}
			for _, a := range audits {
				if err := tx.AppendAudit(ctx, a); err != nil {
					return err
				}
			}
			res.Record = saved
			return nil
		})
	})
	if err != nil {
		return Result{}, l.fail(ctx, "update leave", err)
	}

	for _, a := range audits {
		l.logClamp(ctx, a)
	}
	l.logger.InfoContext(ctx, "leave updated",
		"employee_id", res.Record.EmployeeID,
		"record_id", res.Record.ID,
		"category", res.Record.Category,
		"span", res.Record.Span(),
		"remaining", res.Balance.Remaining,
	)
	l.publish(ctx, l.event(EventLeaveUpdated, req.Actor, res.Record, res.Balance))
	return res, nil
}

// DeleteLeave removes a record and refunds what it charged. Deleting the
// same record twice returns NotFound the second time; there is no second refund.
func (l *Ledger) DeleteLeave(ctx context.Context, req DeleteRequest) (Result, error) {
	var (
		res   Result
		audit AuditEntry
	)
	err := l.retry(ctx, func() error {
		current, err := l.store.GetLeave(ctx, req.RecordID)
		if err != nil {
			return err
		}
		unlock, err := l.locker.Lock(ctx, current.EmployeeID.lockKey())
		if err != nil {
			return err
		}
		defer unlock()

		return l.store.WithTx(ctx, func(tx Tx) error {
			rec, err := tx.GetLeave(ctx, req.RecordID)
			if err != nil {
				return err
			}
			if rec.EmployeeID != current.EmployeeID {
				return errOwnerMoved
			}
			emp, err := tx.GetEmployee(ctx, rec.EmployeeID)
			if err != nil {
				return err
			}

			if err := tx.DeleteLeave(ctx, rec.ID); err != nil {
				return err
			}
			emp, clamped, err := applyDelta(ctx, tx, emp, -rec.chargedDays())
			if err != nil {
				return err
			}
			audit = l.auditEntry(req.Actor, AuditLeaveDeleted, emp, rec.ID, -rec.chargedDays(), clamped)
			if err := tx.AppendAudit(ctx, audit); err != nil {
				return err
			}

			res = Result{Record: rec, Balance: emp.Balance()}
			return nil
		})
	})
	if err != nil {
		return Result{}, l.fail(ctx, "delete leave", err)
	}

	l.logClamp(ctx, audit)
	l.logger.InfoContext(ctx, "leave deleted",
		"employee_id", res.Record.EmployeeID,
		"record_id", res.Record.ID,
		"remaining", res.Balance.Remaining,
	)
	l.publish(ctx, l.event(EventLeaveDeleted, req.Actor, res.Record, res.Balance))
	return res, nil
}

// Balance returns the employee's current balance snapshot.
func (l *Ledger) Balance(ctx context.Context, id EmployeeID) (Balance, error) {
	emp, err := l.store.GetEmployee(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return emp.Balance(), nil
}

// Reconcile recomputes DaysUsed from the employee's annual records. With
// repair set, a drifted counter is overwritten with the computed value in
// the same locked unit.
func (l *Ledger) Reconcile(ctx context.Context, id EmployeeID, repair bool, actor string) (ReconcileReport, error) {
	var (
		report ReconcileReport
		emp    Employee
	)
	err := l.retry(ctx, func() error {
		unlock, err := l.locker.Lock(ctx, id.lockKey())
		if err != nil {
			return err
		}
		defer unlock()

		return l.store.WithTx(ctx, func(tx Tx) error {
			emp, err = tx.GetEmployee(ctx, id)
			if err != nil {
				return err
			}
			computed, err := tx.SumAnnualSpans(ctx, id)
			if err != nil {
				return err
			}
			report = ReconcileReport{
				EmployeeID: id,
				Stored:     emp.DaysUsed,
				Computed:   computed,
				Drift:      emp.DaysUsed - computed,
			}
			if report.Drift == 0 || !repair {
				return nil
			}

			emp, err = tx.SetDaysUsed(ctx, id, computed, emp.Version)
			if err != nil {
				return err
			}
			report.Repaired = true
			return tx.AppendAudit(ctx, l.auditEntry(actor, AuditBalanceRepaired, emp, 0, -report.Drift, 0))
		})
	})
	if err != nil {
		return ReconcileReport{}, l.fail(ctx, "reconcile", err)
	}

	if report.Drift != 0 {
		l.logger.WarnContext(ctx, "balance drift detected",
			"employee_id", id,
			"stored", report.Stored,
			"computed", report.Computed,
			"repaired", report.Repaired,
		)
	}
	if report.Repaired {
		l.publish(ctx, Event{
			ID:         uuid.NewString(),
			Type:       EventBalanceRepaired,
			At:         l.now(),
			Actor:      actor,
			EmployeeID: id,
			DaysUsed:   emp.DaysUsed,
			Remaining:  emp.Remaining(),
		})
	}
	return report, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func validate(c Category, start, end generic.Date) (generic.DateRange, error) {
	if !c.Valid() {
		return generic.DateRange{}, fmt.Errorf("%w: %q", ErrInvalidCategory, c)
	}
	return generic.NewDateRange(start, end)
}

// checkSufficient rejects a positive debit larger than the remaining balance.
func checkSufficient(emp Employee, debit int) error {
	if debit <= 0 || debit <= emp.Remaining() {
		return nil
	}
	return &generic.InsufficientBalanceError{
		OwnerID:   int64(emp.ID),
		Remaining: emp.Remaining(),
		Requested: debit,
	}
}

// applyDelta writes DaysUsed += delta with a floor of zero. It returns the
// updated employee and how many days the floor swallowed.
func applyDelta(ctx context.Context, tx Tx, emp Employee, delta int) (Employee, int, error) {
	if delta == 0 {
		return emp, 0, nil
	}
	next := emp.DaysUsed + delta
	clamped := 0
	if next < 0 {
		clamped = -next
		next = 0
	}
	updated, err := tx.SetDaysUsed(ctx, emp.ID, next, emp.Version)
	if err != nil {
		return Employee{}, 0, err
	}
	return updated, clamped, nil
}

func (l *Ledger) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, generic.ErrConcurrentModification) && !errors.Is(err, errOwnerMoved) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.logger.DebugContext(ctx, "retrying after concurrent change", "attempt", attempt+1, "error", err)
	}
	if errors.Is(err, errOwnerMoved) {
		return generic.ErrConcurrentModification
	}
	return err
}

// fail logs and classifies an error leaving an operation. Caller-facing
// rejections pass through unchanged; anything else is a rolled-back
// storage failure.
func (l *Ledger) fail(ctx context.Context, op string, err error) error {
	switch {
	case generic.IsNotFound(err), generic.IsClientError(err), errors.Is(err, ErrInvalidCategory):
		l.logger.DebugContext(ctx, "leave operation rejected", "op", op, "error", err)
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, generic.ErrConcurrentModification):
		l.logger.WarnContext(ctx, "leave operation gave up after retries", "op", op, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	default:
		l.logger.ErrorContext(ctx, "leave operation rolled back", "op", op, "error", err)
		return fmt.Errorf("%s: %w: %w", op, generic.ErrTransactionFailed, err)
	}
}

func (l *Ledger) logClamp(ctx context.Context, a AuditEntry) {
	if a.Clamped == 0 {
		return
	}
	l.logger.WarnContext(ctx, "refund clamped at zero days used",
		"employee_id", a.EmployeeID,
		"record_id", a.RecordID,
		"lost_days", a.Clamped,
	)
}

func (l *Ledger) auditEntry(actor string, action AuditAction, emp Employee, recID RecordID, delta, clamped int) AuditEntry {
	return AuditEntry{
		ID:            uuid.NewString(),
		At:            l.now(),
		Actor:         actor,
		Action:        action,
		EmployeeID:    emp.ID,
		RecordID:      recID,
		Delta:         delta,
		DaysUsedAfter: emp.DaysUsed,
		Clamped:       clamped,
	}
}

func (l *Ledger) event(t EventType, actor string, rec LeaveRecord, bal Balance) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		At:         l.now(),
		Actor:      actor,
		EmployeeID: rec.EmployeeID,
		RecordID:   rec.ID,
		Category:   rec.Category,
		Start:      rec.Period.Start,
		End:        rec.Period.End,
		DaysUsed:   bal.DaysUsed,
		Remaining:  bal.Remaining,
	}
}

// publish runs after commit. A failed publish is logged and otherwise ignored.
func (l *Ledger) publish(ctx context.Context, e Event) {
	if err := l.publisher.Publish(ctx, e); err != nil {
		l.logger.WarnContext(ctx, "event publish failed",
			"event_type", e.Type,
			"employee_id", e.EmployeeID,
			"error", err,
		)
	}
}
