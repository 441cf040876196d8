package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/pos-billing/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

// MockOrderStore is an in-memory implementation of OrderStoreInterface for testing
type MockOrderStore struct {
	mu     sync.Mutex
	orders map[string]*store.OrderRecord

	// For tracking calls in tests
	InsertCalls        int
	UpdatePaymentCalls int
	DeleteCalls        []string

	// Errors returned instead of touching the map when set
	InsertErr        error
	GetErr           error
	DeleteErr        error
	ListErr          error
	UpdatePaymentErr error
}

// NewMockOrderStore creates a new MockOrderStore
func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{orders: make(map[string]*store.OrderRecord)}
}

func (m *MockOrderStore) Insert(ctx context.Context, o *store.OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InsertCalls++
	if m.InsertErr != nil {
		return m.InsertErr
	}
	if _, ok := m.orders[o.ID]; ok {
		return store.ErrDuplicate
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MockOrderStore) Get(ctx context.Context, orderID string) (*store.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MockOrderStore) Delete(ctx context.Context, orderID string, check func(*store.OrderRecord) error) (*store.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, orderID)
	if m.DeleteErr != nil {
		return nil, m.DeleteErr
	}
	current, ok := m.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if check != nil {
		if err := check(current.Clone()); err != nil {
			return nil, err
		}
	}
	delete(m.orders, orderID)
	return current, nil
}

func (m *MockOrderStore) ListLatest(ctx context.Context) ([]store.OrderRecord, error) {
	return m.ListRecent(ctx, 0)
}

// ListRecent returns every order when limit <= 0.
func (m *MockOrderStore) ListRecent(ctx context.Context, limit int) ([]store.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]store.OrderRecord, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdatePayment holds the store lock for the whole callback, which gives
// the same serialisation as a row lock.
func (m *MockOrderStore) UpdatePayment(ctx context.Context, orderID string, fn func(*store.OrderRecord) error) (*store.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdatePaymentCalls++
	if m.UpdatePaymentErr != nil {
		return nil, m.UpdatePaymentErr
	}
	current, ok := m.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	current.Payment = working.Payment
	return current.Clone(), nil
}

func (m *MockOrderStore) SalesBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return decimal.Zero, 0, m.ListErr
	}
	total := decimal.Zero
	var count int64
	for _, o := range m.orders {
		if !o.CreatedAt.Before(from) && o.CreatedAt.Before(to) {
			total = total.Add(o.GrandTotal)
			count++
		}
	}
	return total, count, nil
}

// Put seeds an order directly, bypassing Insert call tracking.
func (m *MockOrderStore) Put(o *store.OrderRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o.Clone()
}

// Len returns the number of stored orders
func (m *MockOrderStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

var _ store.OrderStoreInterface = (*MockOrderStore)(nil)
