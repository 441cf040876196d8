package projection

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/example/pos-billing/internal/domain/order"
	"github.com/example/pos-billing/internal/infrastructure/store"
	"github.com/example/pos-billing/internal/logging"
)

// Projector copies order lifecycle events into the audit trail, which
// outlives the orders themselves.
type Projector struct {
	audit store.AuditStoreInterface
	log   *slog.Logger
}

func NewProjector(audit store.AuditStoreInterface) *Projector {
	return &Projector{audit: audit, log: logging.New("projector")}
}

// HandleEvent is a kafka.MessageHandler. Messages that can never be
// projected are logged and acknowledged; store failures are returned so
// the consumer retries them.
func (p *Projector) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		p.log.Error("dropping undecodable message", "key", string(key), "err", err)
		return nil
	}

	if event.AggregateType != order.AggregateType {
		return nil
	}

	switch event.EventType {
	case order.EventOrderCreated, order.EventOrderPaymentVerified, order.EventOrderDeleted:
	default:
		p.log.Warn("skipping unknown order event", "event_type", event.EventType, "event_id", event.ID)
		return nil
	}

	if event.ID == "" || event.AggregateID == "" || !json.Valid(event.Data) {
		p.log.Error("dropping malformed event", "event_id", event.ID, "order_id", event.AggregateID)
		return nil
	}

	p.log.Info("received event", "event_type", event.EventType, "order_id", event.AggregateID)
	return p.audit.Append(ctx, store.AuditRecord{
		EventID:    event.ID,
		OrderID:    event.AggregateID,
		EventType:  event.EventType,
		Payload:    event.Data,
		OccurredAt: event.Timestamp,
	})
}
