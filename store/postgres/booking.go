package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/reservation"
)

const bookingColumns = `id, room_id, title, holder, start_at, end_at, created_at`

// BookingStore implements reservation.Store.
type BookingStore struct {
	pool *pgxpool.Pool
}

func (b *BookingStore) GetBooking(ctx context.Context, id reservation.BookingID) (reservation.Booking, error) {
	bk, err := scanBooking(b.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return reservation.Booking{}, generic.NewNotFound("booking", id)
	}
	return bk, err
}

func (b *BookingStore) ListByRoom(ctx context.Context, roomID string) ([]reservation.Booking, error) {
	return queryBookings(ctx, b.pool,
		`SELECT `+bookingColumns+` FROM bookings WHERE room_id = $1 ORDER BY start_at, id`, roomID)
}

func (b *BookingStore) WithTx(ctx context.Context, fn func(reservation.Tx) error) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		return fn(&bookingTx{tx: tx})
	})
}

func queryBookings(ctx context.Context, q querier, query string, args ...any) ([]reservation.Booking, error) {
	rows, err := q.Query(ctx, query, args...)
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
	var bk reservation.Booking
	err := sc.Scan(&bk.ID, &bk.RoomID, &bk.Title, &bk.Holder, &bk.Start, &bk.End, &bk.CreatedAt)
	return bk, err
}

type bookingTx struct {
	tx pgx.Tx
}

// ListOverlapping first takes a transaction-scoped advisory lock on the
// room, so the overlap check and the insert are serialized across processes.
func (t *bookingTx) ListOverlapping(ctx context.Context, roomID string, start, end time.Time) ([]reservation.Booking, error) {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "room:"+roomID); err != nil {
		return nil, fmt.Errorf("failed to lock room: %w", err)
	}
	return queryBookings(ctx, t.tx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE room_id = $1 AND start_at < $2 AND end_at > $3
		 ORDER BY start_at, id`,
		roomID, end, start)
}

func (t *bookingTx) InsertBooking(ctx context.Context, bk reservation.Booking) (reservation.Booking, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO bookings (room_id, title, holder, start_at, end_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		bk.RoomID, bk.Title, bk.Holder, bk.Start, bk.End, bk.CreatedAt,
	).Scan(&bk.ID)
	if err != nil {
		return reservation.Booking{}, fmt.Errorf("failed to insert booking: %w", err)
	}
	return bk, nil
}

func (t *bookingTx) DeleteBooking(ctx context.Context, id reservation.BookingID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return generic.NewNotFound("booking", id)
	}
	return nil
}
