package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	ErrInUse     = errors.New("record is referenced by other records")
)

// OrderStoreInterface persists orders and their lines.
type OrderStoreInterface interface {
	Insert(ctx context.Context, order *OrderRecord) error
	Get(ctx context.Context, orderID string) (*OrderRecord, error)
	// Delete loads the order under a row lock and removes it in the same
	// transaction unless check returns an error, which is returned unchanged.
	// A nil check deletes unconditionally.
	Delete(ctx context.Context, orderID string, check func(*OrderRecord) error) (*OrderRecord, error)
	// ListLatest returns every order, newest first.
	ListLatest(ctx context.Context) ([]OrderRecord, error)
	// ListRecent returns at most limit orders, newest first.
	ListRecent(ctx context.Context, limit int) ([]OrderRecord, error)
	// UpdatePayment loads the order under a row lock, applies fn and writes
	// the payment columns back in the same transaction. If fn returns an
	// error nothing is written and the error is returned unchanged.
	UpdatePayment(ctx context.Context, orderID string, fn func(*OrderRecord) error) (*OrderRecord, error)
	// SalesBetween sums grand totals and counts orders created in [from, to).
	SalesBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, int64, error)
}

// UserStoreInterface persists identities.
type UserStoreInterface interface {
	Insert(ctx context.Context, user *UserRecord) error
	GetByEmail(ctx context.Context, email string) (*UserRecord, error)
	List(ctx context.Context) ([]UserRecord, error)
	Delete(ctx context.Context, userID string) error
}

// CatalogStoreInterface persists categories and items.
type CatalogStoreInterface interface {
	InsertCategory(ctx context.Context, c *CategoryRecord) error
	GetCategory(ctx context.Context, categoryID string) (*CategoryRecord, error)
	ListCategories(ctx context.Context) ([]CategoryRecord, error)
	DeleteCategory(ctx context.Context, categoryID string) error

	InsertItem(ctx context.Context, item *ItemRecord) error
	GetItem(ctx context.Context, itemID string) (*ItemRecord, error)
	ListItems(ctx context.Context) ([]ItemRecord, error)
	DeleteItem(ctx context.Context, itemID string) error
}

// AuditStoreInterface records order lifecycle events.
type AuditStoreInterface interface {
	// Append is idempotent on EventID.
	Append(ctx context.Context, rec AuditRecord) error
}
