package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/reservation"
)

const bookingColumns = `id, room_id, title, holder, start_at, end_at, created_at`

// =============================================================================
// BOOKING STORE (reservation.Store interface)
// =============================================================================

// BookingStore implements reservation.Store on the shared connection.
type BookingStore struct {
	s *Store
}

func (b *BookingStore) GetBooking(ctx context.Context, id reservation.BookingID) (reservation.Booking, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	row := b.s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	bk, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reservation.Booking{}, generic.NewNotFound("booking", id)
	}
	return bk, err
}

func (b *BookingStore) ListByRoom(ctx context.Context, roomID string) ([]reservation.Booking, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	return queryBookings(ctx, b.s.db,
		`SELECT `+bookingColumns+` FROM bookings WHERE room_id = ? ORDER BY start_at, id`, roomID)
}

func (b *BookingStore) WithTx(ctx context.Context, fn func(reservation.Tx) error) error {
	return b.s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&bookingTx{tx: tx})
	})
}

func queryBookings(ctx context.Context, q querier, query string, args ...any) ([]reservation.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var out []reservation.Booking
	for rows.Next() {
		bk, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bk)
	}
	return out, rows.Err()
}

func scanBooking(sc scanner) (reservation.Booking, error) {
	var (
		bk                    reservation.Booking
		start, end, createdAt string
	)
	if err := sc.Scan(&bk.ID, &bk.RoomID, &bk.Title, &bk.Holder, &start, &end, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bk, err
		}
		return bk, fmt.Errorf("failed to scan booking: %w", err)
	}
	bk.Start = parseTime(start)
	bk.End = parseTime(end)
	bk.CreatedAt = parseTime(createdAt)
	return bk, nil
}

// =============================================================================
// TRANSACTIONAL VIEW (reservation.Tx)
// =============================================================================

type bookingTx struct {
	tx *sql.Tx
}

func (t *bookingTx) ListOverlapping(ctx context.Context, roomID string, start, end time.Time) ([]reservation.Booking, error) {
	return queryBookings(ctx, t.tx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE room_id = ? AND start_at < ? AND end_at > ?
		 ORDER BY start_at, id`,
		roomID, formatTime(end), formatTime(start),
	)
}

func (t *bookingTx) InsertBooking(ctx context.Context, bk reservation.Booking) (reservation.Booking, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO bookings (room_id, title, holder, start_at, end_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		bk.RoomID, bk.Title, bk.Holder, formatTime(bk.Start), formatTime(bk.End), formatTime(bk.CreatedAt),
	)
	if err != nil {
		return reservation.Booking{}, fmt.Errorf("failed to insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return reservation.Booking{}, err
	}
	bk.ID = reservation.BookingID(id)
	return bk, nil
}

func (t *bookingTx) DeleteBooking(ctx context.Context, id reservation.BookingID) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if ok, err := affectedOne(res); err != nil {
		return err
	} else if !ok {
		return generic.NewNotFound("booking", id)
	}
	return nil
}
