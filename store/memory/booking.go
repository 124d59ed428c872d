package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/reservation"
)

// BookingStore implements reservation.Store.
type BookingStore struct {
	mu       sync.RWMutex
	bookings map[reservation.BookingID]reservation.Booking
	next     reservation.BookingID
}

func NewBookingStore() *BookingStore {
	return &BookingStore{bookings: make(map[reservation.BookingID]reservation.Booking)}
}

func (m *BookingStore) GetBooking(_ context.Context, id reservation.BookingID) (reservation.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return reservation.Booking{}, generic.NewNotFound("booking", id)
	}
	return b, nil
}

func (m *BookingStore) ListByRoom(_ context.Context, roomID string) ([]reservation.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list(func(b reservation.Booking) bool { return b.RoomID == roomID }), nil
}

func (m *BookingStore) WithTx(_ context.Context, fn func(reservation.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := make(map[reservation.BookingID]reservation.Booking, len(m.bookings))
	for k, v := range m.bookings {
		saved[k] = v
	}
	next := m.next

	if err := fn(&bookingTx{m: m}); err != nil {
		m.bookings, m.next = saved, next
		return err
	}
	return nil
}

func (m *BookingStore) list(keep func(reservation.Booking) bool) []reservation.Booking {
	var out []reservation.Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

type bookingTx struct {
	m *BookingStore
}

func (t *bookingTx) ListOverlapping(_ context.Context, roomID string, start, end time.Time) ([]reservation.Booking, error) {
	return t.m.list(func(b reservation.Booking) bool {
		return b.RoomID == roomID && b.Start.Before(end) && start.Before(b.End)
	}), nil
}

func (t *bookingTx) InsertBooking(_ context.Context, b reservation.Booking) (reservation.Booking, error) {
	t.m.next++
	b.ID = t.m.next
	t.m.bookings[b.ID] = b
	return b, nil
}

func (t *bookingTx) DeleteBooking(_ context.Context, id reservation.BookingID) error {
	if _, ok := t.m.bookings[id]; !ok {
		return generic.NewNotFound("booking", id)
	}
	delete(t.m.bookings, id)
	return nil
}
