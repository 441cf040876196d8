package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/example/pos-billing/internal/infrastructure/store"
)

// MockCatalogStore is an in-memory implementation of CatalogStoreInterface for testing
type MockCatalogStore struct {
	mu         sync.RWMutex
	categories map[string]*store.CategoryRecord
	items      map[string]*store.ItemRecord

	InsertErr error
	DeleteErr error
}

// NewMockCatalogStore creates a new MockCatalogStore
func NewMockCatalogStore() *MockCatalogStore {
	return &MockCatalogStore{
		categories: make(map[string]*store.CategoryRecord),
		items:      make(map[string]*store.ItemRecord),
	}
}

func (m *MockCatalogStore) InsertCategory(ctx context.Context, c *store.CategoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertErr != nil {
		return m.InsertErr
	}
	for _, existing := range m.categories {
		if existing.Name == c.Name {
			return store.ErrDuplicate
		}
	}
	cp := *c
	m.categories[c.ID] = &cp
	return nil
}

func (m *MockCatalogStore) GetCategory(ctx context.Context, categoryID string) (*store.CategoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.categories[categoryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	cp.ItemCount = m.countItems(categoryID)
	return &cp, nil
}

func (m *MockCatalogStore) ListCategories(ctx context.Context) ([]store.CategoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]store.CategoryRecord, 0, len(m.categories))
	for _, c := range m.categories {
		cp := *c
		cp.ItemCount = m.countItems(c.ID)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockCatalogStore) countItems(categoryID string) int {
	n := 0
	for _, item := range m.items {
		if item.CategoryID == categoryID {
			n++
		}
	}
	return n
}

func (m *MockCatalogStore) DeleteCategory(ctx context.Context, categoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.categories[categoryID]; !ok {
		return store.ErrNotFound
	}
	if m.countItems(categoryID) > 0 {
		return store.ErrInUse
	}
	delete(m.categories, categoryID)
	return nil
}

func (m *MockCatalogStore) InsertItem(ctx context.Context, item *store.ItemRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertErr != nil {
		return m.InsertErr
	}
	if _, ok := m.categories[item.CategoryID]; !ok {
		return store.ErrInUse
	}
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *MockCatalogStore) GetItem(ctx context.Context, itemID string) (*store.ItemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.withCategoryName(item), nil
}

func (m *MockCatalogStore) ListItems(ctx context.Context) ([]store.ItemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]store.ItemRecord, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, *m.withCategoryName(item))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockCatalogStore) withCategoryName(item *store.ItemRecord) *store.ItemRecord {
	cp := *item
	if c, ok := m.categories[item.CategoryID]; ok {
		cp.CategoryName = c.Name
	}
	return &cp
}

func (m *MockCatalogStore) DeleteItem(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.items[itemID]; !ok {
		return store.ErrNotFound
	}
	delete(m.items, itemID)
	return nil
}

var _ store.CatalogStoreInterface = (*MockCatalogStore)(nil)
