package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/pos-billing/internal/infrastructure/store"
	"github.com/google/uuid"
)

const (
	EventOrderCreated         = "OrderCreated"
	EventOrderPaymentVerified = "OrderPaymentVerified"
	EventOrderDeleted         = "OrderDeleted"
)

type OrderCreated struct {
	Order Order `json:"order"`
}

type OrderPaymentVerified struct {
	OrderID          string    `json:"orderId"`
	GatewayOrderID   string    `json:"gatewayOrderId"`
	GatewayPaymentID string    `json:"gatewayPaymentId"`
	VerifiedAt       time.Time `json:"verifiedAt"`
}

type OrderDeleted struct {
	Order     Order     `json:"order"`
	DeletedAt time.Time `json:"deletedAt"`
}

const publishTimeout = 3 * time.Second

// publish is best effort: the order change is already committed, so a bus
// failure is logged and never returned to the caller.
func (s *Service) publish(ctx context.Context, orderID, eventType string, data any) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		s.log.Error("marshal event", "event_type", eventType, "order_id", orderID, "err", err)
		return
	}
	event := store.Event{
		ID:            uuid.NewString(),
		AggregateID:   orderID,
		AggregateType: AggregateType,
		EventType:     eventType,
		Data:          payload,
		Timestamp:     s.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Error("publish event", "event_type", eventType, "order_id", orderID, "err", err)
	}
}
