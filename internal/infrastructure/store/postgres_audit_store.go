package store

import (
	"context"
	"database/sql"
)

// PostgresAuditStore appends order lifecycle events to order_audit.
type PostgresAuditStore struct {
	db *sql.DB
}

func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// Append ignores events that were already recorded, so a redelivered
// Kafka message is harmless.
func (s *PostgresAuditStore) Append(ctx context.Context, rec AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_audit (event_id, order_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, rec.EventID, rec.OrderID, rec.EventType, []byte(rec.Payload), rec.OccurredAt)
	return err
}

var _ AuditStoreInterface = (*PostgresAuditStore)(nil)
