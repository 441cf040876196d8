package mocks

import (
	"context"
	"sync"

	"github.com/example/pos-billing/internal/infrastructure/store"
)

// MockAuditStore keeps audit records in insertion order.
type MockAuditStore struct {
	mu      sync.Mutex
	records []store.AuditRecord
	seen    map[string]bool

	AppendErr error
}

func NewMockAuditStore() *MockAuditStore {
	return &MockAuditStore{seen: make(map[string]bool)}
}

func (m *MockAuditStore) Append(ctx context.Context, rec store.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return m.AppendErr
	}
	if m.seen[rec.EventID] {
		return nil
	}
	m.seen[rec.EventID] = true
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything appended so far
func (m *MockAuditStore) Records() []store.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.AuditRecord(nil), m.records...)
}

var _ store.AuditStoreInterface = (*MockAuditStore)(nil)
