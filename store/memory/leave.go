// Package memory provides in-memory Store implementations for tests and
// development. Transactions are simulated with a snapshot taken before the
// unit runs and restored if it fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/leave"
)

// =============================================================================
// LEAVE STORE
// =============================================================================

// LeaveStore implements leave.Store.
type LeaveStore struct {
	mu        sync.RWMutex
	employees map[leave.EmployeeID]leave.Employee
	leaves    map[leave.RecordID]leave.LeaveRecord
	audit     []leave.AuditEntry
	nextEmp   leave.EmployeeID
	nextRec   leave.RecordID

	faults faults
}

func NewLeaveStore() *LeaveStore {
	return &LeaveStore{
		employees: make(map[leave.EmployeeID]leave.Employee),
		leaves:    make(map[leave.RecordID]leave.LeaveRecord),
		faults:    make(faults),
	}
}

// FailNext makes the next call of the named Tx method (e.g. "SetDaysUsed")
// return err. It lets tests break the atomic unit half way through.
func (m *LeaveStore) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[method] = err
}

// ForceDaysUsed overwrites the counter without going through the ledger.
// Only reconciliation tests need this.
func (m *LeaveStore) ForceDaysUsed(id leave.EmployeeID, daysUsed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.employees[id]
	e.DaysUsed = daysUsed
	m.employees[id] = e
}

func (m *LeaveStore) CreateEmployee(_ context.Context, e leave.Employee) (leave.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == 0 {
		m.nextEmp++
		e.ID = m.nextEmp
	} else if e.ID > m.nextEmp {
		m.nextEmp = e.ID
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Version = 1
	m.employees[e.ID] = e
	return e, nil
}

func (m *LeaveStore) UpdateEmployeeProfile(_ context.Context, id leave.EmployeeID, name string, entitlementDays int) (leave.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.employees[id]
	if !ok {
		return leave.Employee{}, generic.NewNotFound("employee", id)
	}
	e.Name = name
	e.AnnualEntitlementDays = entitlementDays
	e.Version++
	m.employees[id] = e
	return e, nil
}

func (m *LeaveStore) GetEmployee(_ context.Context, id leave.EmployeeID) (leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.employee(id)
}

func (m *LeaveStore) ListEmployees(_ context.Context) ([]leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]leave.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *LeaveStore) GetLeave(_ context.Context, id leave.RecordID) (leave.LeaveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leave(id)
}

func (m *LeaveStore) ListLeavesByEmployee(_ context.Context, employeeID leave.EmployeeID) ([]leave.LeaveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLeaves(func(r leave.LeaveRecord) bool { return r.EmployeeID == employeeID }), nil
}

func (m *LeaveStore) ListLeavesActiveOn(_ context.Context, day generic.Date) ([]leave.LeaveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLeaves(func(r leave.LeaveRecord) bool { return r.Period.Contains(day) }), nil
}

func (m *LeaveStore) ListAudit(_ context.Context, employeeID leave.EmployeeID) ([]leave.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []leave.AuditEntry
	for _, a := range m.audit {
		if a.EmployeeID == employeeID {
			out = append(out, a)
		}
	}
	return out, nil
}

// WithTx runs fn with exclusive access and restores the snapshot if fn fails.
func (m *LeaveStore) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&leaveTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// unlocked helpers; callers hold mu

func (m *LeaveStore) employee(id leave.EmployeeID) (leave.Employee, error) {
	e, ok := m.employees[id]
	if !ok {
		return leave.Employee{}, generic.NewNotFound("employee", id)
	}
	return e, nil
}

func (m *LeaveStore) leave(id leave.RecordID) (leave.LeaveRecord, error) {
	r, ok := m.leaves[id]
	if !ok {
		return leave.LeaveRecord{}, generic.NewNotFound("leave record", id)
	}
	return r, nil
}

func (m *LeaveStore) filterLeaves(keep func(leave.LeaveRecord) bool) []leave.LeaveRecord {
	var out []leave.LeaveRecord
	for _, r := range m.leaves {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Period.Start.Equal(out[j].Period.Start) {
			return out[i].Period.Start.Before(out[j].Period.Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type leaveSnapshot struct {
	employees map[leave.EmployeeID]leave.Employee
	leaves    map[leave.RecordID]leave.LeaveRecord
	auditLen  int
	nextRec   leave.RecordID
}

func (m *LeaveStore) snapshot() leaveSnapshot {
	s := leaveSnapshot{
		employees: make(map[leave.EmployeeID]leave.Employee, len(m.employees)),
		leaves:    make(map[leave.RecordID]leave.LeaveRecord, len(m.leaves)),
		auditLen:  len(m.audit),
		nextRec:   m.nextRec,
	}
	for k, v := range m.employees {
		s.employees[k] = v
	}
	for k, v := range m.leaves {
		s.leaves[k] = v
	}
	return s
}

func (m *LeaveStore) restore(s leaveSnapshot) {
	m.employees = s.employees
	m.leaves = s.leaves
	m.audit = m.audit[:s.auditLen]
	m.nextRec = s.nextRec
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type leaveTx struct {
	m *LeaveStore
}

func (t *leaveTx) GetEmployee(_ context.Context, id leave.EmployeeID) (leave.Employee, error) {
	if err := t.m.faults.take("GetEmployee"); err != nil {
		return leave.Employee{}, err
	}
	return t.m.employee(id)
}

func (t *leaveTx) SetDaysUsed(_ context.Context, id leave.EmployeeID, daysUsed int, expectedVersion int64) (leave.Employee, error) {
	if err := t.m.faults.take("SetDaysUsed"); err != nil {
		return leave.Employee{}, err
	}
	e, err := t.m.employee(id)
	if err != nil {
		return leave.Employee{}, err
	}
	if e.Version != expectedVersion {
		return leave.Employee{}, generic.ErrConcurrentModification
	}
	e.DaysUsed = daysUsed
	e.Version++
	t.m.employees[id] = e
	return e, nil
}

func (t *leaveTx) GetLeave(_ context.Context, id leave.RecordID) (leave.LeaveRecord, error) {
	if err := t.m.faults.take("GetLeave"); err != nil {
		return leave.LeaveRecord{}, err
	}
	return t.m.leave(id)
}

func (t *leaveTx) InsertLeave(_ context.Context, rec leave.LeaveRecord) (leave.LeaveRecord, error) {
	if err := t.m.faults.take("InsertLeave"); err != nil {
		return leave.LeaveRecord{}, err
	}
	t.m.nextRec++
	rec.ID = t.m.nextRec
	t.m.leaves[rec.ID] = rec
	return rec, nil
}

func (t *leaveTx) ReplaceLeave(_ context.Context, id leave.RecordID, rec leave.LeaveRecord) (leave.LeaveRecord, error) {
	if err := t.m.faults.take("ReplaceLeave"); err != nil {
		return leave.LeaveRecord{}, err
	}
	if _, err := t.m.leave(id); err != nil {
		return leave.LeaveRecord{}, err
	}
	rec.ID = id
	t.m.leaves[id] = rec
	return rec, nil
}

func (t *leaveTx) DeleteLeave(_ context.Context, id leave.RecordID) error {
	if err := t.m.faults.take("DeleteLeave"); err != nil {
		return err
	}
	if _, err := t.m.leave(id); err != nil {
		return err
	}
	delete(t.m.leaves, id)
	return nil
}

func (t *leaveTx) SumAnnualSpans(_ context.Context, employeeID leave.EmployeeID) (int, error) {
	if err := t.m.faults.take("SumAnnualSpans"); err != nil {
		return 0, err
	}
	total := 0
	for _, r := range t.m.leaves {
		if r.EmployeeID == employeeID && r.Category.CountsAgainstEntitlement() {
			total += r.Span()
		}
	}
	return total, nil
}

func (t *leaveTx) AppendAudit(_ context.Context, entry leave.AuditEntry) error {
	if err := t.m.faults.take("AppendAudit"); err != nil {
		return err
	}
	t.m.audit = append(t.m.audit, entry)
	return nil
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// faults maps a method name to the error its next call returns.
// Accessed only with the owning store's mu held.
type faults map[string]error

func (f faults) take(method string) error {
	err, ok := f[method]
	if !ok {
		return nil
	}
	delete(f, method)
	return err
}
