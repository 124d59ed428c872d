package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/leave"
)

const (
	employeeColumns = `id, name, entitlement_days, days_used, version, created_at`
	leaveColumns    = `id, employee_id, category, start_date, end_date, note, created_at, updated_at`
	auditColumns    = `id, at, actor, action, employee_id, record_id, delta, days_used_after, clamped`
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// CreateEmployee inserts an employee with a zero counter. A zero ID lets
// the database assign one.
func (s *Store) CreateEmployee(ctx context.Context, e leave.Employee) (leave.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO employees (id, name, entitlement_days, days_used, version, created_at)
		 VALUES (?, ?, ?, 0, 1, ?)`,
		nullInt(int64(e.ID)), e.Name, e.AnnualEntitlementDays, formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return leave.Employee{}, fmt.Errorf("%w: employee %d already exists", generic.ErrConflict, e.ID)
		}
		return leave.Employee{}, fmt.Errorf("failed to insert employee: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return leave.Employee{}, err
	}
	return getEmployee(ctx, s.db, leave.EmployeeID(id))
}

// UpdateEmployeeProfile changes name and entitlement. The version is bumped
// so a ledger unit that read the old entitlement retries.
func (s *Store) UpdateEmployeeProfile(ctx context.Context, id leave.EmployeeID, name string, entitlementDays int) (leave.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE employees SET name = ?, entitlement_days = ?, version = version + 1 WHERE id = ?`,
		name, entitlementDays, id,
	)
	if err != nil {
		return leave.Employee{}, fmt.Errorf("failed to update employee: %w", err)
	}
	if ok, err := affectedOne(res); err != nil {
		return leave.Employee{}, err
	} else if !ok {
		return leave.Employee{}, generic.NewNotFound("employee", id)
	}
	return getEmployee(ctx, s.db, id)
}

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, id)
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY id`)
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

func getEmployee(ctx context.Context, q querier, id leave.EmployeeID) (leave.Employee, error) {
	row := q.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Employee{}, generic.NewNotFound("employee", id)
	}
	return e, err
}

func scanEmployee(sc scanner) (leave.Employee, error) {
	var (
		e         leave.Employee
		createdAt string
	)
	if err := sc.Scan(&e.ID, &e.Name, &e.AnnualEntitlementDays, &e.DaysUsed, &e.Version, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan employee: %w", err)
	}
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// LEAVE RECORDS
// =============================================================================

func (s *Store) GetLeave(ctx context.Context, id leave.RecordID) (leave.LeaveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLeave(ctx, s.db, id)
}

func (s *Store) ListLeavesByEmployee(ctx context.Context, employeeID leave.EmployeeID) ([]leave.LeaveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryLeaves(ctx, s.db,
		`SELECT `+leaveColumns+` FROM leave_records WHERE employee_id = ? ORDER BY start_date, id`,
		employeeID,
	)
}

func (s *Store) ListLeavesActiveOn(ctx context.Context, day generic.Date) ([]leave.LeaveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := day.String()
	return queryLeaves(ctx, s.db,
		`SELECT `+leaveColumns+` FROM leave_records
		 WHERE start_date <= ? AND end_date >= ?
		 ORDER BY start_date, id`,
		d, d,
	)
}

func getLeave(ctx context.Context, q querier, id leave.RecordID) (leave.LeaveRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+leaveColumns+` FROM leave_records WHERE id = ?`, id)
	r, err := scanLeave(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveRecord{}, generic.NewNotFound("leave record", id)
	}
	return r, err
}

func queryLeaves(ctx context.Context, q querier, query string, args ...any) ([]leave.LeaveRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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
		r                    leave.LeaveRecord
		category             string
		start, end           string
		createdAt, updatedAt string
	)
	if err := sc.Scan(&r.ID, &r.EmployeeID, &category, &start, &end, &r.Note, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan leave record: %w", err)
	}
	startDate, err := generic.ParseDate(start)
	if err != nil {
		return r, fmt.Errorf("leave record %d: %w", r.ID, err)
	}
	endDate, err := generic.ParseDate(end)
	if err != nil {
		return r, fmt.Errorf("leave record %d: %w", r.ID, err)
	}
	r.Category = leave.Category(category)
	r.Period = generic.DateRange{Start: startDate, End: endDate}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Store) ListAudit(ctx context.Context, employeeID leave.EmployeeID) ([]leave.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM leave_audit WHERE employee_id = ? ORDER BY rowid`,
		employeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}
	defer rows.Close()

	var entries []leave.AuditEntry
	for rows.Next() {
		var (
			a        leave.AuditEntry
			at       string
			action   string
			recordID sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &at, &a.Actor, &action, &a.EmployeeID, &recordID,
			&a.Delta, &a.DaysUsedAfter, &a.Clamped); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		a.At = parseTime(at)
		a.Action = leave.AuditAction(action)
		a.RecordID = leave.RecordID(recordID.Int64)
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (leave.Tx)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&leaveTx{tx: tx})
	})
}

type leaveTx struct {
	tx *sql.Tx
}

func (t *leaveTx) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	return getEmployee(ctx, t.tx, id)
}

func (t *leaveTx) SetDaysUsed(ctx context.Context, id leave.EmployeeID, daysUsed int, expectedVersion int64) (leave.Employee, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE employees SET days_used = ?, version = version + 1 WHERE id = ? AND version = ?`,
		daysUsed, id, expectedVersion,
	)
	if err != nil {
		return leave.Employee{}, fmt.Errorf("failed to update days used: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return leave.Employee{}, err
	}
	if !ok {
		if _, err := getEmployee(ctx, t.tx, id); err != nil {
			return leave.Employee{}, err
		}
		return leave.Employee{}, generic.ErrConcurrentModification
	}
	return getEmployee(ctx, t.tx, id)
}

func (t *leaveTx) GetLeave(ctx context.Context, id leave.RecordID) (leave.LeaveRecord, error) {
	return getLeave(ctx, t.tx, id)
}

func (t *leaveTx) InsertLeave(ctx context.Context, rec leave.LeaveRecord) (leave.LeaveRecord, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO leave_records (employee_id, category, start_date, end_date, note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.EmployeeID, string(rec.Category), rec.Period.Start.String(), rec.Period.End.String(),
		rec.Note, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return leave.LeaveRecord{}, generic.NewNotFound("employee", rec.EmployeeID)
		}
		return leave.LeaveRecord{}, fmt.Errorf("failed to insert leave record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return leave.LeaveRecord{}, err
	}
	rec.ID = leave.RecordID(id)
	return rec, nil
}

func (t *leaveTx) ReplaceLeave(ctx context.Context, id leave.RecordID, rec leave.LeaveRecord) (leave.LeaveRecord, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE leave_records
		 SET employee_id = ?, category = ?, start_date = ?, end_date = ?, note = ?, updated_at = ?
		 WHERE id = ?`,
		rec.EmployeeID, string(rec.Category), rec.Period.Start.String(), rec.Period.End.String(),
		rec.Note, formatTime(rec.UpdatedAt), id,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return leave.LeaveRecord{}, generic.NewNotFound("employee", rec.EmployeeID)
		}
		return leave.LeaveRecord{}, fmt.Errorf("failed to update leave record: %w", err)
	}
	if ok, err := affectedOne(res); err != nil {
		return leave.LeaveRecord{}, err
	} else if !ok {
		return leave.LeaveRecord{}, generic.NewNotFound("leave record", id)
	}
	return getLeave(ctx, t.tx, id)
}

func (t *leaveTx) DeleteLeave(ctx context.Context, id leave.RecordID) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM leave_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete leave record: %w", err)
	}
	if ok, err := affectedOne(res); err != nil {
		return err
	} else if !ok {
		return generic.NewNotFound("leave record", id)
	}
	return nil
}

// SumAnnualSpans counts inclusive days with julianday arithmetic.
func (t *leaveTx) SumAnnualSpans(ctx context.Context, employeeID leave.EmployeeID) (int, error) {
	var total int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CAST(julianday(end_date) - julianday(start_date) AS INTEGER) + 1), 0)
		 FROM leave_records WHERE employee_id = ? AND category = ?`,
		employeeID, string(leave.CategoryAnnual),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum annual spans: %w", err)
	}
	return total, nil
}

func (t *leaveTx) AppendAudit(ctx context.Context, a leave.AuditEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO leave_audit (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, formatTime(a.At), a.Actor, string(a.Action), a.EmployeeID, nullInt(int64(a.RecordID)),
		a.Delta, a.DaysUsedAfter, a.Clamped,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}
