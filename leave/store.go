/*
store.go - Persistence contract for leave records and employee balances

PURPOSE:
  Separates the ledger's decisions from the database. Every mutation of a
  leave record or of DaysUsed happens through Tx, inside Store.WithTx, so
  the record change and the balance change commit or roll back together.

ATOMIC UNIT:
  WithTx(fn) runs fn against a Tx. If fn returns an error, nothing fn wrote
  is visible afterwards. If fn returns nil, everything is committed.
  The Tx methods must never be called outside WithTx.

IMPLEMENTATIONS:
  - store/memory:   In-memory, snapshot + restore on rollback
  - store/sqlite:   SQLite, database transaction
  - store/postgres: PostgreSQL, SELECT ... FOR UPDATE + version check

SEE ALSO:
  - ledger.go: The only caller of the Tx write methods
*/
package leave

import (
	"context"
	"time"

	"github.com/warp/leave-ledger/generic"
)

// Tx is the view of the store inside one atomic unit.
type Tx interface {
	// GetEmployee reads the employee row. Stores that support it lock the
	// row until the unit ends.
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)

	// SetDaysUsed writes the counter if the stored version still equals
	// expectedVersion, and returns the employee with the bumped version.
	// A mismatch returns generic.ErrConcurrentModification.
	SetDaysUsed(ctx context.Context, id EmployeeID, daysUsed int, expectedVersion int64) (Employee, error)

	GetLeave(ctx context.Context, id RecordID) (LeaveRecord, error)
	InsertLeave(ctx context.Context, rec LeaveRecord) (LeaveRecord, error)
	ReplaceLeave(ctx context.Context, id RecordID, rec LeaveRecord) (LeaveRecord, error)
	DeleteLeave(ctx context.Context, id RecordID) error

	// SumAnnualSpans returns the total span of the employee's annual records.
	SumAnnualSpans(ctx context.Context, employeeID EmployeeID) (int, error)

	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// Store holds employees, leave records and the audit trail.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Employee administration. Neither method writes DaysUsed.
	CreateEmployee(ctx context.Context, e Employee) (Employee, error)
	UpdateEmployeeProfile(ctx context.Context, id EmployeeID, name string, entitlementDays int) (Employee, error)

	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)

	GetLeave(ctx context.Context, id RecordID) (LeaveRecord, error)
	ListLeavesByEmployee(ctx context.Context, employeeID EmployeeID) ([]LeaveRecord, error)
	// ListLeavesActiveOn returns records whose period contains day.
	ListLeavesActiveOn(ctx context.Context, day generic.Date) ([]LeaveRecord, error)

	ListAudit(ctx context.Context, employeeID EmployeeID) ([]AuditEntry, error)
}

// =============================================================================
// AUDIT LOG - Who changed which balance, by how much
// =============================================================================

type AuditAction string

const (
	AuditLeaveCreated    AuditAction = "leave_created"
	AuditLeaveUpdated    AuditAction = "leave_updated"
	AuditLeaveDeleted    AuditAction = "leave_deleted"
	AuditBalanceRepaired AuditAction = "balance_repaired"
)

// AuditEntry is written in the same unit as the balance change it describes.
type AuditEntry struct {
	ID            string
	At            time.Time
	Actor         string
	Action        AuditAction
	EmployeeID    EmployeeID
	RecordID      RecordID
	Delta         int // change applied to DaysUsed
	DaysUsedAfter int
	Clamped       int // days lost to the zero floor, if any
}
