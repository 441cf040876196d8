package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/pos-billing/internal/infrastructure/store"
	"github.com/example/pos-billing/internal/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentOnline PaymentMethod = "ONLINE"
)

// ParsePaymentMethod accepts the method name in any case.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s))); m {
	case PaymentCash, PaymentOnline:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown payment method %q", ErrValidation, s)
}

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusCompleted PaymentStatus = "COMPLETED"
)

// State is the lifecycle position of an order, derived from its payment
// method and payment status.
type State string

const (
	StateCashPaid        State = "CREATED_CASH_PAID"
	StatePendingPayment  State = "CREATED_PENDING_PAYMENT"
	StatePaymentVerified State = "PAYMENT_VERIFIED"
)

var (
	ErrNotFound                  = errors.New("order not found")
	ErrValidation                = errors.New("invalid order")
	ErrPaymentVerificationFailed = errors.New("payment verification failed: invalid signature")
	ErrAlreadyVerified           = errors.New("payment already verified for this order")
	ErrPaidOrderDeletion         = errors.New("paid orders cannot be deleted")
	ErrRequestInProgress         = errors.New("a request with this idempotency key is already in progress")
	ErrIdempotencyKeyReused      = errors.New("idempotency key was already used for a different order")
)

// OrderLine is a snapshot of a catalog item at order time.
type OrderLine struct {
	ItemID    string          `json:"itemId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// Total returns unitPrice * quantity.
func (l OrderLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type PaymentDetails struct {
	Status           PaymentStatus `json:"status"`
	GatewayOrderID   string        `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string        `json:"gatewayPaymentId,omitempty"`
	GatewaySignature string        `json:"gatewaySignature,omitempty"`
}

type Order struct {
	ID             string          `json:"orderId"`
	CustomerName   string          `json:"customerName"`
	PhoneNumber    string          `json:"phoneNumber"`
	LineItems      []OrderLine     `json:"lineItems"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	GrandTotal     decimal.Decimal `json:"grandTotal"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod"`
	PaymentDetails PaymentDetails  `json:"paymentDetails"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (o *Order) State() State {
	switch {
	case o.PaymentMethod == PaymentCash:
		return StateCashPaid
	case o.PaymentDetails.Status == StatusCompleted:
		return StatePaymentVerified
	default:
		return StatePendingPayment
	}
}

// PlaceOrder is the input of Service.Create.
type PlaceOrder struct {
	CustomerName  string
	PhoneNumber   string
	LineItems     []OrderLine
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	GrandTotal    decimal.Decimal
	PaymentMethod string

	// IdempotencyKey is optional. RequestedBy scopes it to one caller.
	IdempotencyKey string
	RequestedBy    string
}

// fingerprint identifies the order content, so a reused idempotency key can
// be told apart from a genuine retry. Amounts are compared numerically.
func (in PlaceOrder) fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s\n",
		strings.TrimSpace(in.CustomerName), strings.TrimSpace(in.PhoneNumber),
		in.Subtotal.String(), in.Tax.String(), in.GrandTotal.String(),
		strings.ToUpper(strings.TrimSpace(in.PaymentMethod)))
	for _, l := range in.LineItems {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\n", l.ItemID, l.Name, l.UnitPrice.String(), l.Quantity)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyPayment is the input of Service.VerifyPayment.
type VerifyPayment struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// SignatureVerifier checks that a payment completion was issued by the gateway.
type SignatureVerifier interface {
	Verify(gatewayOrderID, gatewayPaymentID, signature string) bool
}

type EventPublisher interface {
	Publish(ctx context.Context, event store.Event) error
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

// Policy holds the configurable order rules.
type Policy struct {
	// AllowPaidDeletion permits deleting orders whose payment is COMPLETED.
	AllowPaidDeletion bool
	// EnforceTotals rejects orders where grandTotal != subtotal + tax
	// instead of only logging the mismatch.
	EnforceTotals bool
}

type Option func(*Service)

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithIdempotency(i IdempotencyStore) Option {
	return func(s *Service) { s.idem = i }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	orders   store.OrderStoreInterface
	verifier SignatureVerifier
	policy   Policy
	events   EventPublisher
	idem     IdempotencyStore
	now      func() time.Time
	log      *slog.Logger
}

func NewService(orders store.OrderStoreInterface, verifier SignatureVerifier, policy Policy, opts ...Option) *Service {
	s := &Service{
		orders:   orders,
		verifier: verifier,
		policy:   policy,
		now:      time.Now,
		log:      logging.New("order"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) validate(ctx context.Context, in PlaceOrder) (PaymentMethod, error) {
	if len(in.LineItems) == 0 {
		return "", fmt.Errorf("%w: order must have at least one line item", ErrValidation)
	}
	for i, line := range in.LineItems {
		if strings.TrimSpace(line.Name) == "" {
			return "", fmt.Errorf("%w: line %d: name is required", ErrValidation, i)
		}
		if line.Quantity <= 0 {
			return "", fmt.Errorf("%w: line %d: quantity must be positive", ErrValidation, i)
		}
		if line.UnitPrice.IsNegative() {
			return "", fmt.Errorf("%w: line %d: unit price must not be negative", ErrValidation, i)
		}
	}
	if in.Subtotal.IsNegative() || in.Tax.IsNegative() || in.GrandTotal.IsNegative() {
		return "", fmt.Errorf("%w: totals must not be negative", ErrValidation)
	}

	method, err := ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return "", err
	}

	if expected := in.Subtotal.Add(in.Tax); !expected.Equal(in.GrandTotal) {
		if s.policy.EnforceTotals {
			return "", fmt.Errorf("%w: grandTotal %s does not equal subtotal + tax (%s)",
				ErrValidation, in.GrandTotal, expected)
		}
		logging.FromCtx(ctx).Warn("order totals mismatch",
			"subtotal", in.Subtotal.String(), "tax", in.Tax.String(),
			"grand_total", in.GrandTotal.String())
	}
	return method, nil
}

// Create validates and persists a new order. CASH orders are settled at
// creation; ONLINE orders wait for VerifyPayment.
//
// When IdempotencyKey is set, a repeated call with the same key returns the
// order created by the first call. Reusing the key for a different order
// fails with ErrIdempotencyKeyReused.
func (s *Service) Create(ctx context.Context, in PlaceOrder) (*Order, error) {
	method, err := s.validate(ctx, in)
	if err != nil {
		return nil, err
	}

	scope := "orders:" + in.RequestedBy
	locked := false
	if in.IdempotencyKey != "" && s.idem != nil {
		existing, ok, err := s.recall(ctx, scope, in)
		if err != nil {
			return nil, err
		}
		if ok {
			return existing, nil
		}
		acquired, err := s.idem.TryLock(ctx, scope, in.IdempotencyKey)
		switch {
		case err != nil:
			s.log.Warn("idempotency lock unavailable, continuing without it", "err", err)
		case !acquired:
			return nil, ErrRequestInProgress
		default:
			locked = true
		}
	}

	o := &Order{
		ID:            "ORD-" + uuid.NewString(),
		CustomerName:  strings.TrimSpace(in.CustomerName),
		PhoneNumber:   strings.TrimSpace(in.PhoneNumber),
		LineItems:     append([]OrderLine(nil), in.LineItems...),
		Subtotal:      in.Subtotal,
		Tax:           in.Tax,
		GrandTotal:    in.GrandTotal,
		PaymentMethod: method,
		CreatedAt:     s.now().UTC(),
	}
	if method == PaymentCash {
		o.PaymentDetails.Status = StatusCompleted
	} else {
		o.PaymentDetails.Status = StatusPending
	}

	if err := s.orders.Insert(ctx, toRecord(o)); err != nil {
		if locked {
			if rerr := s.idem.Release(ctx, scope, in.IdempotencyKey); rerr != nil {
				s.log.Warn("release idempotency lock", "err", rerr)
			}
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if locked {
		if err := s.idem.Remember(ctx, scope, in.IdempotencyKey, o.ID+"|"+in.fingerprint()); err != nil {
			s.log.Warn("remember idempotency key", "order_id", o.ID, "err", err)
		}
	}

	ordersCreated.WithLabelValues(string(method)).Inc()
	s.log.Info("order created", "order_id", o.ID, "payment_method", method, "grand_total", o.GrandTotal.String())
	s.publish(ctx, o.ID, EventOrderCreated, OrderCreated{Order: *o})
	return o, nil
}

// recall looks up the order remembered under in.IdempotencyKey. Remembered
// values are "<orderId>|<fingerprint>".
func (s *Service) recall(ctx context.Context, scope string, in PlaceOrder) (*Order, bool, error) {
	value, ok, err := s.idem.Recall(ctx, scope, in.IdempotencyKey)
	if err != nil {
		s.log.Warn("idempotency recall failed", "err", err)
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	id, fp, _ := strings.Cut(value, "|")
	if fp != "" && fp != in.fingerprint() {
		return nil, false, ErrIdempotencyKeyReused
	}
	rec, err := s.orders.Get(ctx, id)
	if err != nil {
		// The remembered order was deleted since; treat the key as fresh.
		return nil, false, nil
	}
	return fromRecord(rec), true, nil
}

// Delete removes an order. Paid orders are refused only when the policy
// disables their deletion.
//
// The status check runs under the same row lock as VerifyPayment, so an
// order cannot become paid between the check and the delete.
func (s *Service) Delete(ctx context.Context, orderID string) error {
	rec, err := s.orders.Delete(ctx, orderID, func(r *store.OrderRecord) error {
		if !s.policy.AllowPaidDeletion && r.Payment.Status == string(StatusCompleted) {
			return ErrPaidOrderDeletion
		}
		return nil
	})
	if err != nil {
		return mapStoreErr(err)
	}
	o := fromRecord(rec)

	s.log.Info("order deleted", "order_id", orderID, "payment_status", o.PaymentDetails.Status)
	s.publish(ctx, orderID, EventOrderDeleted, OrderDeleted{Order: *o, DeletedAt: s.now().UTC()})
	return nil
}

// VerifyPayment records a gateway payment against an order after checking
// its signature. The check and the write run under the order's row lock.
//
// An order that is already COMPLETED is never overwritten: repeating the
// same gateway ids returns the order unchanged, anything else fails with
// ErrAlreadyVerified.
func (s *Service) VerifyPayment(ctx context.Context, in VerifyPayment) (*Order, error) {
	if in.GatewayOrderID == "" || in.GatewayPaymentID == "" || in.Signature == "" {
		return nil, fmt.Errorf("%w: gatewayOrderId, gatewayPaymentId and signature are required", ErrValidation)
	}

	replay := false
	rec, err := s.orders.UpdatePayment(ctx, in.OrderID, func(o *store.OrderRecord) error {
		if !s.verifier.Verify(in.GatewayOrderID, in.GatewayPaymentID, in.Signature) {
			return ErrPaymentVerificationFailed
		}
		if PaymentMethod(o.PaymentMethod) == PaymentCash {
			return fmt.Errorf("%w: cash orders are settled at creation", ErrAlreadyVerified)
		}
		if PaymentStatus(o.Payment.Status) == StatusCompleted {
			if o.Payment.GatewayOrderID == in.GatewayOrderID && o.Payment.GatewayPaymentID == in.GatewayPaymentID {
				replay = true
				return nil
			}
			return ErrAlreadyVerified
		}
		o.Payment = store.PaymentRecord{
			Status:           string(StatusCompleted),
			GatewayOrderID:   in.GatewayOrderID,
			GatewayPaymentID: in.GatewayPaymentID,
			GatewaySignature: in.Signature,
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentVerificationFailed):
			paymentVerifications.WithLabelValues("rejected").Inc()
			s.log.Warn("payment signature rejected", "order_id", in.OrderID, "gateway_order_id", in.GatewayOrderID)
		case errors.Is(err, ErrAlreadyVerified):
			paymentVerifications.WithLabelValues("conflict").Inc()
			s.log.Warn("payment already verified", "order_id", in.OrderID, "gateway_payment_id", in.GatewayPaymentID)
		}
		return nil, mapStoreErr(err)
	}

	o := fromRecord(rec)
	if replay {
		paymentVerifications.WithLabelValues("replayed").Inc()
		return o, nil
	}

	paymentVerifications.WithLabelValues("verified").Inc()
	s.log.Info("payment verified", "order_id", o.ID, "gateway_payment_id", in.GatewayPaymentID)
	s.publish(ctx, o.ID, EventOrderPaymentVerified, OrderPaymentVerified{
		OrderID:          o.ID,
		GatewayOrderID:   in.GatewayOrderID,
		GatewayPaymentID: in.GatewayPaymentID,
		VerifiedAt:       s.now().UTC(),
	})
	return o, nil
}

// Latest returns all orders, most recent first.
func (s *Service) Latest(ctx context.Context) ([]Order, error) {
	recs, err := s.orders.ListLatest(ctx)
	if err != nil {
		return nil, err
	}
	return fromRecords(recs), nil
}

// Recent returns at most limit orders, most recent first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Order, error) {
	recs, err := s.orders.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return fromRecords(recs), nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func toRecord(o *Order) *store.OrderRecord {
	lines := make([]store.OrderLineRecord, len(o.LineItems))
	for i, l := range o.LineItems {
		lines[i] = store.OrderLineRecord{ItemID: l.ItemID, Name: l.Name, UnitPrice: l.UnitPrice, Quantity: l.Quantity}
	}
	return &store.OrderRecord{
		ID:            o.ID,
		CustomerName:  o.CustomerName,
		PhoneNumber:   o.PhoneNumber,
		Lines:         lines,
		Subtotal:      o.Subtotal,
		Tax:           o.Tax,
		GrandTotal:    o.GrandTotal,
		PaymentMethod: string(o.PaymentMethod),
		Payment: store.PaymentRecord{
			Status:           string(o.PaymentDetails.Status),
			GatewayOrderID:   o.PaymentDetails.GatewayOrderID,
			GatewayPaymentID: o.PaymentDetails.GatewayPaymentID,
			GatewaySignature: o.PaymentDetails.GatewaySignature,
		},
		CreatedAt: o.CreatedAt,
	}
}

func fromRecord(r *store.OrderRecord) *Order {
	lines := make([]OrderLine, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = OrderLine{ItemID: l.ItemID, Name: l.Name, UnitPrice: l.UnitPrice, Quantity: l.Quantity}
	}
	return &Order{
		ID:            r.ID,
		CustomerName:  r.CustomerName,
		PhoneNumber:   r.PhoneNumber,
		LineItems:     lines,
		Subtotal:      r.Subtotal,
		Tax:           r.Tax,
		GrandTotal:    r.GrandTotal,
		PaymentMethod: PaymentMethod(r.PaymentMethod),
		PaymentDetails: PaymentDetails{
			Status:           PaymentStatus(r.Payment.Status),
			GatewayOrderID:   r.Payment.GatewayOrderID,
			GatewayPaymentID: r.Payment.GatewayPaymentID,
			GatewaySignature: r.Payment.GatewaySignature,
		},
		CreatedAt: r.CreatedAt,
	}
}

func fromRecords(recs []store.OrderRecord) []Order {
	out := make([]Order, len(recs))
	for i := range recs {
		out[i] = *fromRecord(&recs[i])
	}
	return out
}
