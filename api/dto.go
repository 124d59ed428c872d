/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, so ledger types
  carry no json tags of their own.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Employee:  EmployeeDTO, CreateEmployeeRequest, UpdateEmployeeRequest
  Balance:   BalanceDTO
  Leave:     LeaveDTO, LeaveRequest, LeaveResultDTO, ReconcileDTO, AuditEntryDTO
  Stock:     ItemDTO, CreateItemRequest, MovementRequest, MovementResultDTO
  Bookings:  BookingDTO, BookingRequest, ConflictDTO

VALIDATION:
  Validation is done by the ledgers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go, inventory.go: Use these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/reservation"
	"github.com/warp/leave-ledger/stock"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	AnnualEntitlementDays int       `json:"annual_entitlement_days"`
	DaysUsed              int       `json:"days_used"`
	RemainingDays         int       `json:"remaining_days"`
	CreatedAt             time.Time `json:"created_at"`
}

// CreateEmployeeRequest is the body of POST /api/employees. A missing
// entitlement falls back to the server default.
type CreateEmployeeRequest struct {
	Name                  string `json:"name"`
	AnnualEntitlementDays *int   `json:"annual_entitlement_days,omitempty"`
}

// UpdateEmployeeRequest is the body of PATCH /api/employees/{id}. Only the
// profile can be changed; days used is owned by the ledger.
type UpdateEmployeeRequest struct {
	Name                  *string `json:"name,omitempty"`
	AnnualEntitlementDays *int    `json:"annual_entitlement_days,omitempty"`
}

// BalanceDTO is the derived balance snapshot.
type BalanceDTO struct {
	EmployeeID    int64 `json:"employee_id"`
	Entitlement   int   `json:"entitlement"`
	DaysUsed      int   `json:"days_used"`
	RemainingDays int   `json:"remaining_days"`
}

// =============================================================================
// LEAVE RECORDS
// =============================================================================

// LeaveDTO represents a leave record in API responses.
type LeaveDTO struct {
	ID            int64               `json:"id"`
	EmployeeID    int64               `json:"employee_id"`
	Category      string              `json:"category"`
	CategoryLabel string              `json:"category_label"`
	Start         generic.Date        `json:"start"`
	End           generic.Date        `json:"end"`
	Days          int                 `json:"days"`
	Status        generic.RangeStatus `json:"status"`
	Note          string              `json:"note,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// LeaveRequest is the body of POST /api/employees/{id}/leaves and of
// PUT /api/leaves/{id}. On PUT, EmployeeID re-points the record; zero keeps
// the current owner.
type LeaveRequest struct {
	EmployeeID int64        `json:"employee_id,omitempty"`
	Category   string       `json:"category"`
	Start      generic.Date `json:"start"`
	End        generic.Date `json:"end"`
	Note       string       `json:"note,omitempty"`
}

// LeaveResultDTO is returned by every leave mutation.
type LeaveResultDTO struct {
	Leave            LeaveDTO    `json:"leave"`
	RemainingBalance int         `json:"remaining_balance"`
	Balance          BalanceDTO  `json:"balance"`
	PreviousOwner    *BalanceDTO `json:"previous_owner,omitempty"`
}

type ReconcileDTO struct {
	EmployeeID int64 `json:"employee_id"`
	Stored     int   `json:"stored"`
	Computed   int   `json:"computed"`
	Drift      int   `json:"drift"`
	Repaired   bool  `json:"repaired"`
}

type AuditEntryDTO struct {
	ID            string    `json:"id"`
	At            time.Time `json:"at"`
	Actor         string    `json:"actor,omitempty"`
	Action        string    `json:"action"`
	RecordID      int64     `json:"record_id,omitempty"`
	Delta         int       `json:"delta"`
	DaysUsedAfter int       `json:"days_used_after"`
	Clamped       int       `json:"clamped,omitempty"`
}

// =============================================================================
// STOCK
// =============================================================================

type ItemDTO struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	OnHand    decimal.Decimal `json:"on_hand"`
	CreatedAt time.Time       `json:"created_at"`
}

type CreateItemRequest struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// MovementRequest is the body of a receipt or an issue.
type MovementRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Note     string          `json:"note,omitempty"`
}

type MovementDTO struct {
	ID        int64           `json:"id"`
	ItemID    int64           `json:"item_id"`
	Kind      string          `json:"kind"`
	Quantity  decimal.Decimal `json:"quantity"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type MovementResultDTO struct {
	Movement MovementDTO `json:"movement"`
	Item     ItemDTO     `json:"item"`
}

// =============================================================================
// BOOKINGS
// =============================================================================

type BookingDTO struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Title     string    `json:"title"`
	Holder    string    `json:"holder,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	CreatedAt time.Time `json:"created_at"`
}

type BookingRequest struct {
	Title  string    `json:"title"`
	Holder string    `json:"holder,omitempty"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

type ConflictDTO struct {
	BookingID int64     `json:"booking_id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response. Remaining is set on
// an insufficient leave balance, Available on insufficient stock.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Details   string           `json:"details,omitempty"`
	Remaining *int             `json:"remaining,omitempty"`
	Available *decimal.Decimal `json:"available,omitempty"`
	Conflicts []ConflictDTO    `json:"conflicts,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEmployeeDTO(e leave.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:                    int64(e.ID),
		Name:                  e.Name,
		AnnualEntitlementDays: e.AnnualEntitlementDays,
		DaysUsed:              e.DaysUsed,
		RemainingDays:         e.Remaining(),
		CreatedAt:             e.CreatedAt,
	}
}

func toBalanceDTO(b leave.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:    int64(b.EmployeeID),
		Entitlement:   b.Entitlement,
		DaysUsed:      b.DaysUsed,
		RemainingDays: b.Remaining,
	}
}

func toLeaveDTO(r leave.LeaveRecord, today generic.Date) LeaveDTO {
	return LeaveDTO{
		ID:            int64(r.ID),
		EmployeeID:    int64(r.EmployeeID),
		Category:      string(r.Category),
		CategoryLabel: r.Category.Label(),
		Start:         r.Period.Start,
		End:           r.Period.End,
		Days:          r.Span(),
		Status:        r.Status(today),
		Note:          r.Note,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func toLeaveResultDTO(res leave.Result, today generic.Date) LeaveResultDTO {
	out := LeaveResultDTO{
		Leave:            toLeaveDTO(res.Record, today),
		RemainingBalance: res.Balance.Remaining,
		Balance:          toBalanceDTO(res.Balance),
	}
	if res.Previous != nil {
		prev := toBalanceDTO(*res.Previous)
		out.PreviousOwner = &prev
	}
	return out
}

func toAuditEntryDTO(a leave.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:            a.ID,
		At:            a.At,
		Actor:         a.Actor,
		Action:        string(a.Action),
		RecordID:      int64(a.RecordID),
		Delta:         a.Delta,
		DaysUsedAfter: a.DaysUsedAfter,
		Clamped:       a.Clamped,
	}
}

func toItemDTO(it stock.Item) ItemDTO {
	return ItemDTO{
		ID:        int64(it.ID),
		Name:      it.Name,
		Unit:      it.Unit,
		OnHand:    it.OnHand,
		CreatedAt: it.CreatedAt,
	}
}

func toMovementDTO(m stock.Movement) MovementDTO {
	return MovementDTO{
		ID:        int64(m.ID),
		ItemID:    int64(m.ItemID),
		Kind:      string(m.Kind),
		Quantity:  m.Quantity,
		Note:      m.Note,
		CreatedAt: m.CreatedAt,
	}
}

func toBookingDTO(b reservation.Booking) BookingDTO {
	return BookingDTO{
		ID:        int64(b.ID),
		RoomID:    b.RoomID,
		Title:     b.Title,
		Holder:    b.Holder,
		Start:     b.Start,
		End:       b.End,
		CreatedAt: b.CreatedAt,
	}
}

func toConflictDTOs(cs []reservation.Conflict) []ConflictDTO {
	out := make([]ConflictDTO, len(cs))
	for i, c := range cs {
		out[i] = ConflictDTO{BookingID: int64(c.WithBookingID), Title: c.Title, Start: c.Start, End: c.End}
	}
	return out
}
