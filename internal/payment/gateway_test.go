package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIdempotency struct {
	mu      sync.Mutex
	locks   map[string]bool
	results map[string]string
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{locks: map[string]bool{}, results: map[string]string{}}
}

func (m *memIdempotency) TryLock(ctx context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[scope+"/"+key] {
		return false, nil
	}
	m.locks[scope+"/"+key] = true
	return true, nil
}

func (m *memIdempotency) Release(ctx context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, scope+"/"+key)
	return nil
}

func (m *memIdempotency) Remember(ctx context.Context, scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[scope+"/"+key] = value
	return nil
}

func (m *memIdempotency) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.results[scope+"/"+key]
	return v, ok, nil
}

var gatewayNow = time.UnixMilli(1767225600123)

func newOrderServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "rzp_test_secret", pass)

		var req createOrderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(createOrderResponse{
			ID:        "order_" + req.Receipt[len(req.Receipt)-8:],
			Entity:    "order",
			Amount:    req.Amount,
			Currency:  req.Currency,
			Receipt:   req.Receipt,
			Status:    "created",
			CreatedAt: 1767225600,
		})
	}))
}

func newTestClient(baseURL string, opts ...GatewayOption) *GatewayClient {
	opts = append([]GatewayOption{WithClock(func() time.Time { return gatewayNow })}, opts...)
	return NewGatewayClient(baseURL, "rzp_test_key", "rzp_test_secret", time.Second, opts...)
}

func TestCreateOrder_Success(t *testing.T) {
	var captured createOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(createOrderResponse{
			ID: "order_Q1", Entity: "order", Amount: captured.Amount, Currency: captured.Currency,
			Receipt: captured.Receipt, Status: "created", CreatedAt: 1767225600,
		})
	}))
	defer srv.Close()

	ro, err := newTestClient(srv.URL).CreateOrder(context.Background(), decimal.RequireFromString("118.50"), "inr", "cashier", "")

	require.NoError(t, err)
	assert.Equal(t, int64(11850), captured.Amount)
	assert.Equal(t, "INR", captured.Currency)
	assert.Equal(t, 1, captured.PaymentCapture)
	assert.True(t, strings.HasPrefix(captured.Receipt, "order_rcptid_1767225600123_"))
	assert.LessOrEqual(t, len(captured.Receipt), 40)

	assert.Equal(t, "order_Q1", ro.GatewayOrderID)
	assert.Equal(t, int64(11850), ro.Amount)
	assert.Equal(t, "INR", ro.Currency)
	assert.Equal(t, "created", ro.Status)
	assert.Equal(t, captured.Receipt, ro.Receipt)
}

func TestCreateOrder_ReceiptsAreUnique(t *testing.T) {
	var calls int32
	srv := newOrderServer(t, &calls)
	defer srv.Close()
	client := newTestClient(srv.URL)

	a, err := client.CreateOrder(context.Background(), decimal.NewFromInt(10), "INR", "", "")
	require.NoError(t, err)
	b, err := client.CreateOrder(context.Background(), decimal.NewFromInt(10), "INR", "", "")
	require.NoError(t, err)

	assert.NotEqual(t, a.Receipt, b.Receipt)
	assert.Equal(t, int32(2), calls)
}

func TestCreateOrder_InvalidInput(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0")

	_, err := client.CreateOrder(context.Background(), decimal.Zero, "INR", "", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = client.CreateOrder(context.Background(), decimal.NewFromInt(-5), "INR", "", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = client.CreateOrder(context.Background(), decimal.NewFromInt(5), "RUPEES", "", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreateOrder_SubMinorAmountsAreRejected(t *testing.T) {
	var calls int32
	srv := newOrderServer(t, &calls)
	defer srv.Close()
	client := newTestClient(srv.URL)

	tests := []struct {
		name   string
		amount string
	}{
		{"rounds to zero", "0.004"},
		{"rounds up a half paisa", "100.005"},
		{"negative fraction", "-0.001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.CreateOrder(context.Background(), decimal.RequireFromString(tt.amount), "INR", "cashier", "")
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestCreateOrder_TrailingZerosAreExact(t *testing.T) {
	var calls int32
	srv := newOrderServer(t, &calls)
	defer srv.Close()

	ro, err := newTestClient(srv.URL).CreateOrder(context.Background(), decimal.RequireFromString("0.010"), "INR", "cashier", "")

	require.NoError(t, err)
	assert.Equal(t, int64(1), ro.Amount)
}

func TestCreateOrder_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"code":"SERVER_ERROR","description":"upstream failure"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "", "")

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.ErrorContains(t, err, "upstream failure")
}

func TestCreateOrder_RateLimitedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "", "")

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestCreateOrder_BadRequestIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "", "")

	assert.ErrorIs(t, err, ErrGatewayRejected)
	assert.False(t, errors.Is(err, ErrGatewayUnavailable))
}

func TestCreateOrder_TransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "", "")

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestCreateOrder_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewGatewayClient(srv.URL, "k", "s", 50*time.Millisecond)
	start := time.Now()
	_, err := client.CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "", "")

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCreateOrder_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "", "")

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestCreateOrder_IdempotencyKeyReusesRemoteOrder(t *testing.T) {
	var calls int32
	srv := newOrderServer(t, &calls)
	defer srv.Close()
	client := newTestClient(srv.URL, WithIdempotency(newMemIdempotency()))

	first, err := client.CreateOrder(context.Background(), decimal.NewFromInt(118), "INR", "cashier", "pay-attempt-1")
	require.NoError(t, err)
	second, err := client.CreateOrder(context.Background(), decimal.NewFromInt(118), "INR", "cashier", "pay-attempt-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls)
}

func TestCreateOrder_IdempotencyKeyReusedForDifferentAmount(t *testing.T) {
	var calls int32
	srv := newOrderServer(t, &calls)
	defer srv.Close()
	client := newTestClient(srv.URL, WithIdempotency(newMemIdempotency()))

	_, err := client.CreateOrder(context.Background(), decimal.RequireFromString("118"), "INR", "cashier", "k1")
	require.NoError(t, err)
	_, err = client.CreateOrder(context.Background(), decimal.RequireFromString("119"), "INR", "cashier", "k1")
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
	_, err = client.CreateOrder(context.Background(), decimal.RequireFromString("118"), "USD", "cashier", "k1")
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)

	again, err := client.CreateOrder(context.Background(), decimal.RequireFromString("118.00"), "inr", "cashier", "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(11800), again.Amount)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCreateOrder_FailedCallReleasesKey(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(createOrderResponse{ID: "order_retry", Status: "created", Currency: "INR", Amount: 100})
	}))
	defer srv.Close()
	client := newTestClient(srv.URL, WithIdempotency(newMemIdempotency()))

	_, err := client.CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "", "retry")
	require.ErrorIs(t, err, ErrGatewayUnavailable)

	fail.Store(false)
	ro, err := client.CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "", "retry")
	require.NoError(t, err)
	assert.Equal(t, "order_retry", ro.GatewayOrderID)
}

func TestCreateOrder_KeyInFlight(t *testing.T) {
	idem := newMemIdempotency()
	_, _ = idem.TryLock(context.Background(), "gateway:cashier", "busy")
	client := newTestClient("http://127.0.0.1:0", WithIdempotency(idem))

	_, err := client.CreateOrder(context.Background(), decimal.NewFromInt(1), "INR", "cashier", "busy")

	assert.ErrorIs(t, err, ErrRequestInProgress)
}
