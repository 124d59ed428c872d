package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/stock"
)

// StockStore implements stock.Store.
type StockStore struct {
	mu        sync.RWMutex
	items     map[stock.ItemID]stock.Item
	movements map[stock.MovementID]stock.Movement
	nextItem  stock.ItemID
	nextMove  stock.MovementID
	faults    faults
}

func NewStockStore() *StockStore {
	return &StockStore{
		items:     make(map[stock.ItemID]stock.Item),
		movements: make(map[stock.MovementID]stock.Movement),
		faults:    make(faults),
	}
}

// FailNext makes the next call of the named Tx method return err.
func (m *StockStore) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[method] = err
}

func (m *StockStore) CreateItem(_ context.Context, item stock.Item) (stock.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextItem++
	item.ID = m.nextItem
	item.OnHand = decimal.Zero
	item.Version = 1
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	m.items[item.ID] = item
	return item, nil
}

func (m *StockStore) GetItem(_ context.Context, id stock.ItemID) (stock.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.item(id)
}

func (m *StockStore) GetMovement(_ context.Context, id stock.MovementID) (stock.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.movement(id)
}

func (m *StockStore) ListMovements(_ context.Context, id stock.ItemID) ([]stock.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stock.Movement
	for _, mv := range m.movements {
		if mv.ItemID == id {
			out = append(out, mv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *StockStore) WithTx(_ context.Context, fn func(stock.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make(map[stock.ItemID]stock.Item, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	movements := make(map[stock.MovementID]stock.Movement, len(m.movements))
	for k, v := range m.movements {
		movements[k] = v
	}
	nextMove := m.nextMove

	if err := fn(&stockTx{m: m}); err != nil {
		m.items, m.movements, m.nextMove = items, movements, nextMove
		return err
	}
	return nil
}

func (m *StockStore) item(id stock.ItemID) (stock.Item, error) {
	it, ok := m.items[id]
	if !ok {
		return stock.Item{}, generic.NewNotFound("item", id)
	}
	return it, nil
}

func (m *StockStore) movement(id stock.MovementID) (stock.Movement, error) {
	mv, ok := m.movements[id]
	if !ok {
		return stock.Movement{}, generic.NewNotFound("movement", id)
	}
	return mv, nil
}

type stockTx struct {
	m *StockStore
}

func (t *stockTx) GetItem(_ context.Context, id stock.ItemID) (stock.Item, error) {
	if err := t.m.faults.take("GetItem"); err != nil {
		return stock.Item{}, err
	}
	return t.m.item(id)
}

func (t *stockTx) SetOnHand(_ context.Context, id stock.ItemID, onHand decimal.Decimal, expectedVersion int64) (stock.Item, error) {
	if err := t.m.faults.take("SetOnHand"); err != nil {
		return stock.Item{}, err
	}
	it, err := t.m.item(id)
	if err != nil {
		return stock.Item{}, err
	}
	if it.Version != expectedVersion {
		return stock.Item{}, generic.ErrConcurrentModification
	}
	it.OnHand = onHand
	it.Version++
	t.m.items[id] = it
	return it, nil
}

func (t *stockTx) GetMovement(_ context.Context, id stock.MovementID) (stock.Movement, error) {
	return t.m.movement(id)
}

func (t *stockTx) InsertMovement(_ context.Context, mv stock.Movement) (stock.Movement, error) {
	if err := t.m.faults.take("InsertMovement"); err != nil {
		return stock.Movement{}, err
	}
	t.m.nextMove++
	mv.ID = t.m.nextMove
	t.m.movements[mv.ID] = mv
	return mv, nil
}

func (t *stockTx) DeleteMovement(_ context.Context, id stock.MovementID) error {
	if _, err := t.m.movement(id); err != nil {
		return err
	}
	delete(t.m.movements, id)
	return nil
}

func (t *stockTx) SumMovements(_ context.Context, id stock.ItemID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, mv := range t.m.movements {
		if mv.ItemID == id {
			total = total.Add(mv.Signed())
		}
	}
	return total, nil
}
