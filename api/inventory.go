/*
inventory.go - HTTP handlers for stock items and room bookings

ENDPOINTS:
  Stock:
    POST   /api/items                  Create item (on hand 0)
    GET    /api/items/{id}             Get item
    GET    /api/items/{id}/movements   Movement history
    POST   /api/items/{id}/receipts    Receive stock
    POST   /api/items/{id}/issues      Issue stock (409 when short)
    DELETE /api/movements/{id}         Cancel a movement

  Bookings:
    GET    /api/rooms/{id}/bookings    List a room's bookings
    POST   /api/rooms/{id}/bookings    Book a room (409 on overlap)
    DELETE /api/bookings/{id}          Cancel a booking
*/
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/leave-ledger/reservation"
	"github.com/warp/leave-ledger/stock"
)

// =============================================================================
// STOCK ENDPOINTS
// =============================================================================

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	p := printerFor(r)
	var req CreateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, p.Sprintf(msgInvalidBody), err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, p.Sprintf(msgNameRequired), nil)
		return
	}
	item, err := h.Stock.CreateItem(r.Context(), stock.Item{
		Name:      name,
		Unit:      strings.TrimSpace(req.Unit),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	item, err := h.Stock.GetItem(r.Context(), stock.ItemID(id))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.Stock.GetItem(r.Context(), stock.ItemID(id)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	movements, err := h.Stock.ListMovements(r.Context(), stock.ItemID(id))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]MovementDTO, len(movements))
	for i, m := range movements {
		out[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	h.recordMovement(w, r, stock.MovementReceipt)
}

func (h *Handler) IssueStock(w http.ResponseWriter, r *http.Request) {
	h.recordMovement(w, r, stock.MovementIssue)
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request, kind stock.MovementKind) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req MovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, printerFor(r).Sprintf(msgInvalidBody), err)
		return
	}

	var (
		mv   stock.Movement
		item stock.Item
		err  error
	)
	if kind == stock.MovementReceipt {
		mv, item, err = h.StockLedger.Receive(r.Context(), stock.ItemID(id), req.Quantity, req.Note)
	} else {
		mv, item, err = h.StockLedger.Issue(r.Context(), stock.ItemID(id), req.Quantity, req.Note)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MovementResultDTO{Movement: toMovementDTO(mv), Item: toItemDTO(item)})
}

// CancelMovement reverses a movement. Cancelling a receipt whose stock was
// already issued is rejected with 409.
func (h *Handler) CancelMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	item, err := h.StockLedger.Cancel(r.Context(), stock.MovementID(id))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// =============================================================================
// BOOKING ENDPOINTS
// =============================================================================

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.Bookings.ListByRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		out[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, printerFor(r).Sprintf(msgInvalidBody), err)
		return
	}
	b, err := h.Reservations.Book(r.Context(), reservation.Booking{
		RoomID: chi.URLParam(r, "id"),
		Title:  req.Title,
		Holder: req.Holder,
		Start:  req.Start.UTC(),
		End:    req.End.UTC(),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(b))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	if err := h.Reservations.Cancel(r.Context(), reservation.BookingID(id)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
