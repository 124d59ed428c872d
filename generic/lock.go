package generic

import (
	"context"
	"sort"
	"sync"
)

// =============================================================================
// LOCKER - Single logical owner per balance
// =============================================================================

// Locker grants exclusive access to a key for the duration of a
// read-modify-write. Two operations holding the same key never overlap;
// operations on different keys never wait on each other.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned
	// function releases the key and must be called exactly once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LockAll acquires every distinct key in ascending order, so two callers
// locking overlapping sets cannot deadlock. On failure nothing stays held.
func LockAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	var prev string
	for i, k := range sorted {
		if i > 0 && k == prev {
			continue
		}
		prev = k
		unlock, err := l.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// =============================================================================
// KEYED MUTEX - In-process Locker
// =============================================================================

// KeyedMutex is an in-process Locker. Each key gets its own one-slot
// channel, created on first use and dropped when the last holder or
// waiter leaves, so the map does not grow with the number of keys ever seen.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

// Lock implements Locker.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.release(key, s)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
