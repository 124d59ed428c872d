// Package reservation detects time conflicts between room bookings and
// books rooms one request at a time per room.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/warp/leave-ledger/generic"
)

type BookingID int64

// Booking holds a room for the half-open interval [Start, End): a meeting
// ending at 10:00 does not conflict with one starting at 10:00.
type Booking struct {
	ID        BookingID
	RoomID    string
	Title     string
	Holder    string
	Start     time.Time
	End       time.Time
	CreatedAt time.Time
}

// Validate rejects bookings without a room or with End not after Start.
func (b Booking) Validate() error {
	if strings.TrimSpace(b.RoomID) == "" {
		return fmt.Errorf("%w: room is required", generic.ErrInvalidRange)
	}
	if !b.End.After(b.Start) {
		return fmt.Errorf("%w: end %s is not after start %s",
			generic.ErrInvalidRange, b.End.Format(time.RFC3339), b.Start.Format(time.RFC3339))
	}
	return nil
}

// Overlaps reports whether the two bookings share any instant.
func (b Booking) Overlaps(other Booking) bool {
	return b.Start.Before(other.End) && other.Start.Before(b.End)
}

// Conflict names an existing booking the candidate collides with.
type Conflict struct {
	WithBookingID BookingID
	Title         string
	Start         time.Time
	End           time.Time
}

// ConflictError is returned by Book when the room is taken.
type ConflictError struct {
	RoomID    string
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("room %s is already booked by %d booking(s)", e.RoomID, len(e.Conflicts))
}

func (e *ConflictError) Unwrap() error { return generic.ErrConflict }

// DetectConflicts returns the existing bookings of the candidate's room
// that overlap it, ordered by start time. A booking never conflicts with
// itself (same non-zero ID), so edits can be checked against their own row.
func DetectConflicts(existing []Booking, candidate Booking) []Conflict {
	var out []Conflict
	for _, b := range existing {
		if b.RoomID != candidate.RoomID {
			continue
		}
		if candidate.ID != 0 && b.ID == candidate.ID {
			continue
		}
		if b.Overlaps(candidate) {
			out = append(out, Conflict{WithBookingID: b.ID, Title: b.Title, Start: b.Start, End: b.End})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// =============================================================================
// STORE
// =============================================================================

type Tx interface {
	// ListOverlapping returns the room's bookings intersecting [start, end).
	ListOverlapping(ctx context.Context, roomID string, start, end time.Time) ([]Booking, error)
	InsertBooking(ctx context.Context, b Booking) (Booking, error)
	DeleteBooking(ctx context.Context, id BookingID) error
}

type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	GetBooking(ctx context.Context, id BookingID) (Booking, error)
	ListByRoom(ctx context.Context, roomID string) ([]Booking, error)
}

// =============================================================================
// SERVICE
// =============================================================================

// Service books rooms. The conflict check and the insert run under the
// room's lock and in one unit, so two overlapping requests cannot both pass.
type Service struct {
	store  Store
	locker generic.Locker
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, locker generic.Locker, logger *slog.Logger) *Service {
	if locker == nil {
		locker = generic.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, locker: locker, logger: logger.With("component", "reservations"), now: time.Now}
}

func (s *Service) Book(ctx context.Context, b Booking) (Booking, error) {
	if err := b.Validate(); err != nil {
		return Booking{}, err
	}

	unlock, err := s.locker.Lock(ctx, "room:"+b.RoomID)
	if err != nil {
		return Booking{}, err
	}
	defer unlock()

	var saved Booking
	err = s.store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.ListOverlapping(ctx, b.RoomID, b.Start, b.End)
		if err != nil {
			return err
		}
		if conflicts := DetectConflicts(existing, b); len(conflicts) > 0 {
			return &ConflictError{RoomID: b.RoomID, Conflicts: conflicts}
		}
		b.CreatedAt = s.now()
		saved, err = tx.InsertBooking(ctx, b)
		return err
	})
	if err != nil {
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			s.logger.ErrorContext(ctx, "booking failed", "room_id", b.RoomID, "error", err)
			return Booking{}, fmt.Errorf("book room: %w: %w", generic.ErrTransactionFailed, err)
		}
		return Booking{}, err
	}
	s.logger.InfoContext(ctx, "room booked", "room_id", saved.RoomID, "booking_id", saved.ID)
	return saved, nil
}

func (s *Service) Cancel(ctx context.Context, id BookingID) error {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, "room:"+b.RoomID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.store.WithTx(ctx, func(tx Tx) error {
		return tx.DeleteBooking(ctx, id)
	})
}
