package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/example/pos-billing/internal/infrastructure/store"
)

// MockUserStore is an in-memory implementation of UserStoreInterface for testing
type MockUserStore struct {
	mu    sync.RWMutex
	users map[string]*store.UserRecord

	GetByEmailCalls []string

	InsertErr error
	GetErr    error
	ListErr   error
	DeleteErr error
}

// NewMockUserStore creates a new MockUserStore
func NewMockUserStore() *MockUserStore {
	return &MockUserStore{users: make(map[string]*store.UserRecord)}
}

func (m *MockUserStore) Insert(ctx context.Context, u *store.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertErr != nil {
		return m.InsertErr
	}
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return store.ErrDuplicate
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*store.UserRecord, error) {
	m.mu.Lock()
	m.GetByEmailCalls = append(m.GetByEmailCalls, email)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockUserStore) List(ctx context.Context) ([]store.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]store.UserRecord, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockUserStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.users[userID]; !ok {
		return store.ErrNotFound
	}
	delete(m.users, userID)
	return nil
}

var _ store.UserStoreInterface = (*MockUserStore)(nil)
