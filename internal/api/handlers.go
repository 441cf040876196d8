package api

import (
	"context"
	"net/http"
	"time"

	"github.com/example/pos-billing/internal/api/middleware"
	"github.com/example/pos-billing/internal/domain/order"
	"github.com/example/pos-billing/internal/payment"
	"github.com/example/pos-billing/internal/query"
	"github.com/shopspring/decimal"
)

// IdempotencyHeader carries the client's retry key on order and gateway
// order creation.
const IdempotencyHeader = "Idempotency-Key"

type OrderService interface {
	Create(ctx context.Context, in order.PlaceOrder) (*order.Order, error)
	Delete(ctx context.Context, orderID string) error
	VerifyPayment(ctx context.Context, in order.VerifyPayment) (*order.Order, error)
	Latest(ctx context.Context) ([]order.Order, error)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, scope, idempotencyKey string) (*payment.RemoteOrder, error)
}

type DashboardReader interface {
	Dashboard(ctx context.Context, at time.Time) (*query.Dashboard, error)
}

// Handlers serves orders, payments and the dashboard.
type Handlers struct {
	orders    OrderService
	gateway   PaymentGateway
	dashboard DashboardReader
	now       func() time.Time
}

func NewHandlers(orders OrderService, gateway PaymentGateway, dashboard DashboardReader) *Handlers {
	return &Handlers{
		orders:    orders,
		gateway:   gateway,
		dashboard: dashboard,
		now:       time.Now,
	}
}

// PlaceOrderRequest is the body of POST /orders
type PlaceOrderRequest struct {
	CustomerName  string            `json:"customerName"`
	PhoneNumber   string            `json:"phoneNumber"`
	LineItems     []order.OrderLine `json:"lineItems"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	Tax           decimal.Decimal   `json:"tax"`
	GrandTotal    decimal.Decimal   `json:"grandTotal"`
	PaymentMethod string            `json:"paymentMethod"`
}

type CreatePaymentOrderRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type VerifyPaymentRequest struct {
	OrderID          string `json:"orderId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

// callerID is the identity idempotency keys are scoped to.
func callerID(r *http.Request) string {
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		return p.Identifier
	}
	return ""
}

// Order Handlers

func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	created, err := h.orders.Create(r.Context(), order.PlaceOrder{
		CustomerName:   req.CustomerName,
		PhoneNumber:    req.PhoneNumber,
		LineItems:      req.LineItems,
		Subtotal:       req.Subtotal,
		Tax:            req.Tax,
		GrandTotal:     req.GrandTotal,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		RequestedBy:    callerID(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

func (h *Handlers) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), r.PathValue("orderId")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) LatestOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.Latest(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// Payment Handlers

func (h *Handlers) CreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	remote, err := h.gateway.CreateOrder(r.Context(), req.Amount, req.Currency,
		callerID(r), r.Header.Get(IdempotencyHeader))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, remote)
}

func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	verified, err := h.orders.VerifyPayment(r.Context(), order.VerifyPayment{
		OrderID:          req.OrderID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, verified)
}

// Dashboard Handlers

func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.dashboard.Dashboard(r.Context(), h.now())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}
