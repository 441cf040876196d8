package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/example/pos-billing/internal/logging"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	// ErrGatewayUnavailable marks failures a caller may retry: transport
	// errors, timeouts, 429 and 5xx responses.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected marks a 4xx answer; retrying the same request will not help.
	ErrGatewayRejected      = errors.New("payment gateway rejected the request")
	ErrInvalidRequest       = errors.New("invalid payment request")
	ErrIdempotencyKeyReused = errors.New("idempotency key was already used for a different amount or currency")
	ErrRequestInProgress    = errors.New("a request with this idempotency key is already in progress")
)

var gatewayCalls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pos_gateway_calls_total",
		Help: "Calls to the payment gateway, by outcome",
	},
	[]string{"outcome"},
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// RemoteOrder is the gateway-side order that a checkout collects payment against.
type RemoteOrder struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	Entity         string `json:"entity"`
	// Amount is echoed by the gateway in minor units (paise for INR).
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
	Receipt   string `json:"receiptRef"`
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

type GatewayOption func(*GatewayClient)

func WithHTTPClient(hc *http.Client) GatewayOption {
	return func(c *GatewayClient) { c.client = hc }
}

func WithIdempotency(store IdempotencyStore) GatewayOption {
	return func(c *GatewayClient) { c.idem = store }
}

func WithClock(now func() time.Time) GatewayOption {
	return func(c *GatewayClient) { c.now = now }
}

// GatewayClient talks to a Razorpay-compatible orders API.
type GatewayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
	idem      IdempotencyStore
	now       func() time.Time
	log       *slog.Logger
}

func NewGatewayClient(baseURL, keyID, keySecret string, timeout time.Duration, opts ...GatewayOption) *GatewayClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &GatewayClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
		log:       logging.New("payment-gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

type createOrderResponse struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type gatewayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder registers a payment order with the gateway. amount is in
// major units and is sent in minor units. With a non-empty idempotencyKey a
// repeated call returns the remote order created by the first one instead
// of creating a second remote order.
func (c *GatewayClient) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, scope, idempotencyKey string) (*RemoteOrder, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	minor := amount.Shift(2)
	if !minor.IsInteger() {
		return nil, fmt.Errorf("%w: amount has more than two decimal places", ErrInvalidRequest)
	}
	if !minor.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if !currencyPattern.MatchString(currency) {
		return nil, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidRequest)
	}

	scope = "gateway:" + scope
	if idempotencyKey == "" || c.idem == nil {
		return c.createOrder(ctx, minor.IntPart(), currency)
	}

	if cached, ok, err := c.idem.Recall(ctx, scope, idempotencyKey); err != nil {
		c.log.Warn("idempotency recall failed", "err", err)
	} else if ok {
		var ro RemoteOrder
		if err := json.Unmarshal([]byte(cached), &ro); err == nil {
			if ro.Amount != minor.IntPart() || ro.Currency != currency {
				return nil, ErrIdempotencyKeyReused
			}
			return &ro, nil
		}
	}

	locked, err := c.idem.TryLock(ctx, scope, idempotencyKey)
	if err != nil {
		c.log.Warn("idempotency lock unavailable, continuing without it", "err", err)
		return c.createOrder(ctx, minor.IntPart(), currency)
	}
	if !locked {
		return nil, ErrRequestInProgress
	}

	ro, err := c.createOrder(ctx, minor.IntPart(), currency)
	if err != nil {
		if rerr := c.idem.Release(ctx, scope, idempotencyKey); rerr != nil {
			c.log.Warn("release idempotency lock", "err", rerr)
		}
		return nil, err
	}

	if data, err := json.Marshal(ro); err == nil {
		if err := c.idem.Remember(ctx, scope, idempotencyKey, string(data)); err != nil {
			c.log.Warn("remember gateway order", "gateway_order_id", ro.GatewayOrderID, "err", err)
		}
	}
	return ro, nil
}

// newReceipt is time based with a random suffix so two requests in the same
// millisecond still differ. The gateway caps receipts at 40 characters.
func newReceipt(now time.Time) string {
	return "order_rcptid_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + uuid.NewString()[:8]
}

// createOrder takes the amount in minor units.
func (c *GatewayClient) createOrder(ctx context.Context, amount int64, currency string) (*RemoteOrder, error) {
	reqBody := createOrderRequest{
		Amount:         amount,
		Currency:       currency,
		Receipt:        newReceipt(c.now()),
		PaymentCapture: 1,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		gatewayCalls.WithLabelValues("transport_error").Inc()
		c.log.Error("gateway request failed", "err", err, "elapsed", time.Since(start))
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		gatewayCalls.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		var gwErr gatewayError
		if json.Unmarshal(respBody, &gwErr) == nil && gwErr.Error.Description != "" {
			msg = gwErr.Error.Description
		}
		c.log.Error("gateway returned error", "status", resp.StatusCode, "message", msg, "receipt", reqBody.Receipt)

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			gatewayCalls.WithLabelValues("unavailable").Inc()
			return nil, fmt.Errorf("%w: status %d: %s", ErrGatewayUnavailable, resp.StatusCode, msg)
		}
		gatewayCalls.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: status %d: %s", ErrGatewayRejected, resp.StatusCode, msg)
	}

	var out createOrderResponse
	if err := json.Unmarshal(respBody, &out); err != nil || out.ID == "" {
		gatewayCalls.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: malformed response", ErrGatewayUnavailable)
	}

	gatewayCalls.WithLabelValues("created").Inc()
	c.log.Info("gateway order created", "gateway_order_id", out.ID, "receipt", out.Receipt, "amount", out.Amount)
	return &RemoteOrder{
		GatewayOrderID: out.ID,
		Entity:         out.Entity,
		Amount:         out.Amount,
		Currency:       out.Currency,
		Status:         out.Status,
		CreatedAt:      out.CreatedAt,
		Receipt:        out.Receipt,
	}, nil
}
