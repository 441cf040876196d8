package store

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderLineRecord is a snapshot of a catalog item taken when the order was placed.
type OrderLineRecord struct {
	ItemID    string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

type PaymentRecord struct {
	Status           string
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
}

type OrderRecord struct {
	ID            string
	CustomerName  string
	PhoneNumber   string
	Lines         []OrderLineRecord
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	GrandTotal    decimal.Decimal
	PaymentMethod string
	Payment       PaymentRecord
	CreatedAt     time.Time
}

// Clone returns a deep copy so callers cannot alias stored lines.
func (o *OrderRecord) Clone() *OrderRecord {
	c := *o
	c.Lines = append([]OrderLineRecord(nil), o.Lines...)
	return &c
}

type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CategoryRecord struct {
	ID          string
	Name        string
	Description string
	BgColor     string
	ImgURL      string
	ItemCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ItemRecord struct {
	ID           string
	CategoryID   string
	CategoryName string
	Name         string
	Description  string
	Price        decimal.Decimal
	ImgURL       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AuditRecord struct {
	EventID    string
	OrderID    string
	EventType  string
	Payload    json.RawMessage
	OccurredAt time.Time
}
