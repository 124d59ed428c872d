/*
handlers.go - HTTP API handlers for the leave ledger

PURPOSE:
  Exposes the leave ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every balance change to leave.Ledger.

ENDPOINTS:
  Employees:
    GET    /api/employees                  List all employees
    POST   /api/employees                  Create employee
    GET    /api/employees/{id}             Get employee details
    PATCH  /api/employees/{id}             Update name / entitlement
    GET    /api/employees/{id}/balance     Get balance snapshot

  Leaves:
    GET    /api/employees/{id}/leaves      List records (?status=upcoming|active|past)
    POST   /api/employees/{id}/leaves      Create a record
    PUT    /api/leaves/{id}                Replace a record
    DELETE /api/leaves/{id}                Delete a record
    GET    /api/leaves/active              Who is on leave today (?date=YYYY-MM-DD)
    GET    /api/categories                 Leave categories

  Admin:
    POST   /api/employees/{id}/reconcile   Recompute days used (?repair=true)
    GET    /api/employees/{id}/audit       Balance change history

ARCHITECTURE:
  Handler struct holds all dependencies. Handlers never write DaysUsed or
  OnHand themselves; they parse, call a ledger, and serialize.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Row not found
  - 409: Insufficient balance or stock, booking conflict
  - 503: Rolled back storage failure, safe to retry
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The X-Actor header is recorded in the audit trail as
  given; an authenticating proxy is expected to set it.

SEE ALSO:
  - dto.go: Request/response data structures
  - inventory.go: Stock and booking handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/logging"
	"github.com/warp/leave-ledger/reservation"
	"github.com/warp/leave-ledger/stock"
)

const defaultActor = "api"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Leaves leave.Store
	Ledger *leave.Ledger

	Stock       stock.Store
	StockLedger *stock.Ledger

	Bookings     reservation.Store
	Reservations *reservation.Service

	// DefaultEntitlement is used when a new employee is created without one.
	DefaultEntitlement int

	Logger *slog.Logger
	Now    func() time.Time
}

func (h *Handler) today() generic.Date {
	if h.Now == nil {
		return generic.Today()
	}
	return generic.DateOf(h.Now())
}

func (h *Handler) logger(r *http.Request) *slog.Logger {
	fallback := h.Logger
	if fallback == nil {
		fallback = slog.Default()
	}
	return logging.FromContext(r.Context(), fallback)
}

// =============================================================================
// EMPLOYEE ENDPOINTS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	emps, err := h.Leaves.ListEmployees(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]EmployeeDTO, len(emps))
	for i, e := range emps {
		out[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateEmployee creates an employee with zero days used.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	p := printerFor(r)
	var req CreateEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, p.Sprintf(msgInvalidBody), err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, p.Sprintf(msgNameRequired), nil)
		return
	}
	entitlement := h.DefaultEntitlement
	if req.AnnualEntitlementDays != nil {
		entitlement = *req.AnnualEntitlementDays
	}
	if entitlement < 0 {
		writeError(w, http.StatusBadRequest, p.Sprintf(msgNegativeEntitlement), nil)
		return
	}

	emp, err := h.Leaves.CreateEmployee(r.Context(), leave.Employee{
		Name:                  name,
		AnnualEntitlementDays: entitlement,
		CreatedAt:             time.Now().UTC(),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.logger(r).InfoContext(r.Context(), "employee created", "employee_id", emp.ID)
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := employeeIDParam(w, r)
	if !ok {
		return
	}
	emp, err := h.Leaves.GetEmployee(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// UpdateEmployee changes the profile. Lowering the entitlement below days
// used is allowed and leaves a negative remaining balance.
func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	p := printerFor(r)
	id, ok := employeeIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, p.Sprintf(msgInvalidBody), err)
		return
	}

	current, err := h.Leaves.GetEmployee(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	name, entitlement := current.Name, current.AnnualEntitlementDays
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, p.Sprintf(msgNameRequired), nil)
			return
		}
	}
	if req.AnnualEntitlementDays != nil {
		entitlement = *req.AnnualEntitlementDays
		if entitlement < 0 {
			writeError(w, http.StatusBadRequest, p.Sprintf(msgNegativeEntitlement), nil)
			return
		}
	}

	emp, err := h.Leaves.UpdateEmployeeProfile(r.Context(), id, name, entitlement)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// GetBalance returns entitlement, days used and remaining.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := employeeIDParam(w, r)
	if !ok {
		return
	}
	bal, err := h.Ledger.Balance(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(bal))
}

// =============================================================================
// LEAVE ENDPOINTS
// =============================================================================

// ListLeaves returns the employee's records, optionally filtered by status.
func (h *Handler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	id, ok := employeeIDParam(w, r)
	if !ok {
		return
	}
	status := generic.RangeStatus(r.URL.Query().Get("status"))
	switch status {
	case "", generic.StatusUpcoming, generic.StatusActive, generic.StatusPast:
	default:
		writeError(w, http.StatusBadRequest, printerFor(r).Sprintf(msgInvalidStatus), nil)
		return
	}

	if _, err := h.Leaves.GetEmployee(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	records, err := h.Leaves.ListLeavesByEmployee(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	today := h.today()
	out := make([]LeaveDTO, 0, len(records))
	for _, rec := range records {
		if status != "" && rec.Status(today) != status {
			continue
		}
		out = append(out, toLeaveDTO(rec, today))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListActiveLeaves returns every record covering the given day (default today).
func (h *Handler) ListActiveLeaves(w http.ResponseWriter, r *http.Request) {
	day := h.today()
	if s := r.URL.Query().Get("date"); s != "" {
		parsed, err := generic.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, printerFor(r).Sprintf(msgInvalidRange), err)
			return
		}
		day = parsed
	}
	records, err := h.Leaves.ListLeavesActiveOn(r.Context(), day)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]LeaveDTO, len(records))
	for i, rec := range records {
		out[i] = toLeaveDTO(rec, day)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateLeave records a leave for the employee in the path.
func (h *Handler) CreateLeave(w http.ResponseWriter, r *http.Request) {
	p := printerFor(r)
	id, ok := employeeIDParam(w, r)
	if !ok {
		return
	}
	var req LeaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, p.Sprintf(msgInvalidBody), err)
		return
	}
	cat, err := leave.ParseCategory(req.Category)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	res, err := h.Ledger.CreateLeave(r.Context(), leave.CreateRequest{
		EmployeeID: id,
		Category:   cat,
		Start:      req.Start,
		End:        req.End,
		Note:       req.Note,
		Actor:      actor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveResultDTO(res, h.today()))
}

// UpdateLeave replaces a record. The body's employee_id may move the
// record to another employee.
func (h *Handler) UpdateLeave(w http.ResponseWriter, r *http.Request) {
	p := printerFor(r)
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req LeaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, p.Sprintf(msgInvalidBody), err)
		return
	}
	cat, err := leave.ParseCategory(req.Category)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	owner := leave.EmployeeID(req.EmployeeID)
	if owner == 0 {
		current, err := h.Leaves.GetLeave(r.Context(), leave.RecordID(id))
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		owner = current.EmployeeID
	}

	res, err := h.Ledger.UpdateLeave(r.Context(), leave.UpdateRequest{
		RecordID:   leave.RecordID(id),
		EmployeeID: owner,
		Category:   cat,
		Start:      req.Start,
		End:        req.End,
		Note:       req.Note,
		Actor:      actor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveResultDTO(res, h.today()))
}

// DeleteLeave removes a record and refunds annual days.
func (h *Handler) DeleteLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	res, err := h.Ledger.DeleteLeave(r.Context(), leave.DeleteRequest{
		RecordID: leave.RecordID(id),
		Actor:    actor(r),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveResultDTO(res, h.today()))
}

// ListCategories returns the category codes and labels.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	type categoryDTO struct {
		Code                     string `json:"code"`
		Label                    string `json:"label"`
		CountsAgainstEntitlement bool   `json:"counts_against_entitlement"`
	}
	cats := leave.Categories()
	out := make([]categoryDTO, len(cats))
	for i, c := range cats {
		out[i] = categoryDTO{Code: string(c), Label: c.Label(), CountsAgainstEntitlement: c.CountsAgainstEntitlement()}
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// Reconcile compares days used with the records; ?repair=true fixes drift.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := employeeIDParam(w, r)
	if !ok {
		return
	}
	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))

	report, err := h.Ledger.Reconcile(r.Context(), id, repair, actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileDTO{
		EmployeeID: int64(report.EmployeeID),
		Stored:     report.Stored,
		Computed:   report.Computed,
		Drift:      report.Drift,
		Repaired:   report.Repaired,
	})
}

// ListAudit returns the employee's balance history, oldest first.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := employeeIDParam(w, r)
	if !ok {
		return
	}
	if _, err := h.Leaves.GetEmployee(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entries, err := h.Leaves.ListAudit(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]AuditEntryDTO, len(entries))
	for i, a := range entries {
		out[i] = toAuditEntryDTO(a)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError maps ledger errors to a status and a localized message.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	p := printerFor(r)

	var (
		shortLeave *generic.InsufficientBalanceError
		shortStock *stock.InsufficientStockError
		conflict   *reservation.ConflictError
		notFound   *generic.NotFoundError
	)
	switch {
	case errors.As(err, &shortLeave):
		remaining := shortLeave.Remaining
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     p.Sprintf(msgInsufficientLeave, remaining),
			Details:   err.Error(),
			Remaining: &remaining,
		})
	case errors.As(err, &shortStock):
		available := shortStock.Available
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     p.Sprintf(msgInsufficientStock, available.String()),
			Details:   err.Error(),
			Available: &available,
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     p.Sprintf(msgRoomTaken),
			Details:   err.Error(),
			Conflicts: toConflictDTOs(conflict.Conflicts),
		})
	case errors.As(err, &notFound):
		msg := msgNotFound
		switch notFound.Kind {
		case "employee":
			msg = msgEmployeeNotFound
		case "leave record":
			msg = msgLeaveNotFound
		}
		writeError(w, http.StatusNotFound, p.Sprintf(msg), err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, p.Sprintf(msgNotFound), err)
	case errors.Is(err, leave.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, p.Sprintf(msgInvalidCategory), err)
	case errors.Is(err, generic.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, p.Sprintf(msgInvalidRange), err)
	case errors.Is(err, generic.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, p.Sprintf(msgInvalidQuantity), err)
	case generic.IsRetryable(err):
		h.logger(r).WarnContext(r.Context(), "request failed, retryable", "error", err)
		writeError(w, http.StatusServiceUnavailable, p.Sprintf(msgRetry), nil)
	default:
		h.logger(r).ErrorContext(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, p.Sprintf(msgInternal), nil)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// int64Param parses a positive integer URL parameter, writing 400 on failure.
func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, printerFor(r).Sprintf(msgInvalidID), err)
		return 0, false
	}
	return id, true
}

func employeeIDParam(w http.ResponseWriter, r *http.Request) (leave.EmployeeID, bool) {
	id, ok := int64Param(w, r, "id")
	return leave.EmployeeID(id), ok
}

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return defaultActor
}
