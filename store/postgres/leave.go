package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/leave"
)

const (
	employeeColumns = `id, name, entitlement_days, days_used, version, created_at`
	leaveColumns    = `id, employee_id, category, start_date, end_date, note, created_at, updated_at`
)

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) CreateEmployee(ctx context.Context, e leave.Employee) (leave.Employee, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var row pgx.Row
	if e.ID == 0 {
		row = s.pool.QueryRow(ctx,
			`INSERT INTO employees (name, entitlement_days, created_at) VALUES ($1, $2, $3)
			 RETURNING `+employeeColumns,
			e.Name, e.AnnualEntitlementDays, e.CreatedAt)
	} else {
		row = s.pool.QueryRow(ctx,
			`INSERT INTO employees (id, name, entitlement_days, created_at) VALUES ($1, $2, $3, $4)
			 RETURNING `+employeeColumns,
			e.ID, e.Name, e.AnnualEntitlementDays, e.CreatedAt)
	}
	created, err := scanEmployee(row)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return leave.Employee{}, fmt.Errorf("%w: employee %d already exists", generic.ErrConflict, e.ID)
		}
		return leave.Employee{}, fmt.Errorf("failed to insert employee: %w", err)
	}
	return created, nil
}

func (s *Store) UpdateEmployeeProfile(ctx context.Context, id leave.EmployeeID, name string, entitlementDays int) (leave.Employee, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE employees SET name = $1, entitlement_days = $2, version = version + 1
		 WHERE id = $3 RETURNING `+employeeColumns,
		name, entitlementDays, id)
	e, err := scanEmployee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Employee{}, generic.NewNotFound("employee", id)
	}
	return e, err
}

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	return getEmployee(ctx, s.pool, id, false)
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []leave.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func getEmployee(ctx context.Context, q querier, id leave.EmployeeID, forUpdate bool) (leave.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanEmployee(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Employee{}, generic.NewNotFound("employee", id)
	}
	return e, err
}

func scanEmployee(sc scanner) (leave.Employee, error) {
	var e leave.Employee
	err := sc.Scan(&e.ID, &e.Name, &e.AnnualEntitlementDays, &e.DaysUsed, &e.Version, &e.CreatedAt)
	return e, err
}

// =============================================================================
// LEAVE RECORDS
// =============================================================================

func (s *Store) GetLeave(ctx context.Context, id leave.RecordID) (leave.LeaveRecord, error) {
	return getLeave(ctx, s.pool, id)
}

func (s *Store) ListLeavesByEmployee(ctx context.Context, employeeID leave.EmployeeID) ([]leave.LeaveRecord, error) {
	return queryLeaves(ctx, s.pool,
		`SELECT `+leaveColumns+` FROM leave_records WHERE employee_id = $1 ORDER BY start_date, id`,
		employeeID)
}

func (s *Store) ListLeavesActiveOn(ctx context.Context, day generic.Date) ([]leave.LeaveRecord, error) {
	return queryLeaves(ctx, s.pool,
		`SELECT `+leaveColumns+` FROM leave_records
		 WHERE start_date <= $1 AND end_date >= $1
		 ORDER BY start_date, id`,
		day.Time())
}

func getLeave(ctx context.Context, q querier, id leave.RecordID) (leave.LeaveRecord, error) {
	r, err := scanLeave(q.QueryRow(ctx, `SELECT `+leaveColumns+` FROM leave_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.LeaveRecord{}, generic.NewNotFound("leave record", id)
	}
	return r, err
}

func queryLeaves(ctx context.Context, q querier, query string, args ...any) ([]leave.LeaveRecord, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave records: %w", err)
	}
	defer rows.Close()

	var records []leave.LeaveRecord
	for rows.Next() {
		r, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanLeave(sc scanner) (leave.LeaveRecord, error) {
	var (
		r          leave.LeaveRecord
		category   string
		start, end time.Time
	)
	if err := sc.Scan(&r.ID, &r.EmployeeID, &category, &start, &end, &r.Note, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	r.Category = leave.Category(category)
	r.Period = generic.DateRange{Start: generic.DateOf(start), End: generic.DateOf(end)}
	return r, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Store) ListAudit(ctx context.Context, employeeID leave.EmployeeID) ([]leave.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, at, actor, action, employee_id, record_id, delta, days_used_after, clamped
		 FROM leave_audit WHERE employee_id = $1 ORDER BY seq`,
		employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}
	defer rows.Close()

	var entries []leave.AuditEntry
	for rows.Next() {
		var (
			a        leave.AuditEntry
			id       uuid.UUID
			action   string
			recordID *int64
		)
		if err := rows.Scan(&id, &a.At, &a.Actor, &action, &a.EmployeeID, &recordID,
			&a.Delta, &a.DaysUsedAfter, &a.Clamped); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		a.ID = id.String()
		a.Action = leave.AuditAction(action)
		if recordID != nil {
			a.RecordID = leave.RecordID(*recordID)
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (leave.Tx)
// =============================================================================

// WithTx runs fn inside a database transaction; pgx rolls back if fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&leaveTx{tx: tx})
	})
}

type leaveTx struct {
	tx pgx.Tx
}

// GetEmployee locks the row until the unit ends.
func (t *leaveTx) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	return getEmployee(ctx, t.tx, id, true)
}

func (t *leaveTx) SetDaysUsed(ctx context.Context, id leave.EmployeeID, daysUsed int, expectedVersion int64) (leave.Employee, error) {
	row := t.tx.QueryRow(ctx,
		`UPDATE employees SET days_used = $1, version = version + 1
		 WHERE id = $2 AND version = $3 RETURNING `+employeeColumns,
		daysUsed, id, expectedVersion)
	e, err := scanEmployee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := getEmployee(ctx, t.tx, id, false); err != nil {
			return leave.Employee{}, err
		}
		return leave.Employee{}, generic.ErrConcurrentModification
	}
	if err != nil {
		return leave.Employee{}, fmt.Errorf("failed to update days used: %w", err)
	}
	return e, nil
}

func (t *leaveTx) GetLeave(ctx context.Context, id leave.RecordID) (leave.LeaveRecord, error) {
	return getLeave(ctx, t.tx, id)
}

func (t *leaveTx) InsertLeave(ctx context.Context, rec leave.LeaveRecord) (leave.LeaveRecord, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO leave_records (employee_id, category, start_date, end_date, note, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		rec.EmployeeID, string(rec.Category), rec.Period.Start.Time(), rec.Period.End.Time(),
		rec.Note, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&rec.ID)
	if err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return leave.LeaveRecord{}, generic.NewNotFound("employee", rec.EmployeeID)
		}
		return leave.LeaveRecord{}, fmt.Errorf("failed to insert leave record: %w", err)
	}
	return rec, nil
}

func (t *leaveTx) ReplaceLeave(ctx context.Context, id leave.RecordID, rec leave.LeaveRecord) (leave.LeaveRecord, error) {
	row := t.tx.QueryRow(ctx,
		`UPDATE leave_records
		 SET employee_id = $1, category = $2, start_date = $3, end_date = $4, note = $5, updated_at = $6
		 WHERE id = $7 RETURNING `+leaveColumns,
		rec.EmployeeID, string(rec.Category), rec.Period.Start.Time(), rec.Period.End.Time(),
		rec.Note, rec.UpdatedAt, id)
	saved, err := scanLeave(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return leave.LeaveRecord{}, generic.NewNotFound("leave record", id)
	case hasCode(err, codeForeignKeyViolation):
		return leave.LeaveRecord{}, generic.NewNotFound("employee", rec.EmployeeID)
	case err != nil:
		return leave.LeaveRecord{}, fmt.Errorf("failed to update leave record: %w", err)
	}
	return saved, nil
}

func (t *leaveTx) DeleteLeave(ctx context.Context, id leave.RecordID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM leave_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete leave record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return generic.NewNotFound("leave record", id)
	}
	return nil
}

func (t *leaveTx) SumAnnualSpans(ctx context.Context, employeeID leave.EmployeeID) (int, error) {
	var total int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(end_date - start_date + 1), 0)::int
		 FROM leave_records WHERE employee_id = $1 AND category = $2`,
		employeeID, string(leave.CategoryAnnual),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum annual spans: %w", err)
	}
	return total, nil
}

func (t *leaveTx) AppendAudit(ctx context.Context, a leave.AuditEntry) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return fmt.Errorf("audit entry id %q: %w", a.ID, err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO leave_audit (id, at, actor, action, employee_id, record_id, delta, days_used_after, clamped)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, a.At, a.Actor, string(a.Action), a.EmployeeID, nullID(int64(a.RecordID)),
		a.Delta, a.DaysUsedAfter, a.Clamped)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}
