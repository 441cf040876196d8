package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresOrderStore stores orders in the orders and order_lines tables.
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

const orderColumns = `order_id, customer_name, phone_number, subtotal, tax, grand_total,
	payment_method, payment_status, gateway_order_id, gateway_payment_id, gateway_signature, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*OrderRecord, error) {
	var (
		o                         OrderRecord
		gwOrder, gwPayment, gwSig sql.NullString
	)
	if err := row.Scan(
		&o.ID, &o.CustomerName, &o.PhoneNumber, &o.Subtotal, &o.Tax, &o.GrandTotal,
		&o.PaymentMethod, &o.Payment.Status, &gwOrder, &gwPayment, &gwSig, &o.CreatedAt,
	); err != nil {
		return nil, err
	}
	o.Payment.GatewayOrderID = gwOrder.String
	o.Payment.GatewayPaymentID = gwPayment.String
	o.Payment.GatewaySignature = gwSig.String
	return &o, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Insert writes the order and its lines in one transaction.
func (s *PostgresOrderStore) Insert(ctx context.Context, o *OrderRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.CustomerName, o.PhoneNumber, o.Subtotal, o.Tax, o.GrandTotal,
		o.PaymentMethod, o.Payment.Status,
		nullable(o.Payment.GatewayOrderID), nullable(o.Payment.GatewayPaymentID), nullable(o.Payment.GatewaySignature),
		o.CreatedAt,
	)
	if err != nil {
		return translateError(err)
	}

	for i, line := range o.Lines {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_lines (order_id, line_no, item_id, name, unit_price, quantity)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, i, line.ItemID, line.Name, line.UnitPrice, line.Quantity,
		)
		if err != nil {
			return translateError(err)
		}
	}

	return tx.Commit()
}

func (s *PostgresOrderStore) Get(ctx context.Context, orderID string) (*OrderRecord, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
	if err != nil {
		return nil, translateError(err)
	}
	if err := s.attachLines(ctx, s.db, []*OrderRecord{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// Delete shares UpdatePayment's row lock, so a verification committing
// concurrently is seen by check before the row goes.
func (s *PostgresOrderStore) Delete(ctx context.Context, orderID string, check func(*OrderRecord) error) (*OrderRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, translateError(err)
	}
	if err := s.attachLines(ctx, tx, []*OrderRecord{order}); err != nil {
		return nil, err
	}

	if check != nil {
		if err := check(order); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE order_id = $1`, orderID); err != nil {
		return nil, fmt.Errorf("delete order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *PostgresOrderStore) ListLatest(ctx context.Context) ([]OrderRecord, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (s *PostgresOrderStore) ListRecent(ctx context.Context, limit int) ([]OrderRecord, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *PostgresOrderStore) list(ctx context.Context, query string, args ...any) ([]OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachLines(ctx, s.db, orders); err != nil {
		return nil, err
	}

	out := make([]OrderRecord, len(orders))
	for i, o := range orders {
		out[i] = *o
	}
	return out, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// attachLines loads the lines of all given orders with a single query.
func (s *PostgresOrderStore) attachLines(ctx context.Context, q querier, orders []*OrderRecord) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*OrderRecord, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT order_id, item_id, name, unit_price, quantity
		 FROM order_lines
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, line_no`,
		pq.Array(ids),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			line    OrderLineRecord
		)
		if err := rows.Scan(&orderID, &line.ItemID, &line.Name, &line.UnitPrice, &line.Quantity); err != nil {
			return err
		}
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, line)
		}
	}
	return rows.Err()
}

// UpdatePayment serialises concurrent verifications of the same order with
// SELECT ... FOR UPDATE, so the status check in fn and the write that
// follows cannot interleave with another callback.
func (s *PostgresOrderStore) UpdatePayment(ctx context.Context, orderID string, fn func(*OrderRecord) error) (*OrderRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, translateError(err)
	}
	if err := s.attachLines(ctx, tx, []*OrderRecord{order}); err != nil {
		return nil, err
	}

	if err := fn(order); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE orders
		 SET payment_status = $2, gateway_order_id = $3, gateway_payment_id = $4, gateway_signature = $5
		 WHERE order_id = $1`,
		orderID, order.Payment.Status,
		nullable(order.Payment.GatewayOrderID), nullable(order.Payment.GatewayPaymentID), nullable(order.Payment.GatewaySignature),
	)
	if err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *PostgresOrderStore) SalesBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, int64, error) {
	var (
		total decimal.Decimal
		count int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(grand_total), 0), COUNT(*)
		 FROM orders
		 WHERE created_at >= $1 AND created_at < $2`,
		from, to,
	).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return total, count, nil
}

var _ OrderStoreInterface = (*PostgresOrderStore)(nil)
