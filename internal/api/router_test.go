package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/pos-billing/internal/auth"
	"github.com/example/pos-billing/internal/domain/catalog"
	"github.com/example/pos-billing/internal/domain/order"
	"github.com/example/pos-billing/internal/domain/user"
	"github.com/example/pos-billing/internal/infrastructure/store/mocks"
	"github.com/example/pos-billing/internal/payment"
	"github.com/example/pos-billing/internal/query"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "router-test-secret-at-least-32-chars"
	testGatewaySecret = "gateway-secret"
	adminEmail        = "admin@example.com"
	cashierEmail      = "cashier@example.com"
	testPassword      = "correct-horse"
)

type stubGateway struct {
	err   error
	calls []string
}

func (g *stubGateway) CreateOrder(_ context.Context, amount decimal.Decimal, currency, scope, key string) (*payment.RemoteOrder, error) {
	g.calls = append(g.calls, scope+"/"+key)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.RemoteOrder{
		GatewayOrderID: "order_remote_1",
		Entity:         "order",
		Amount:         amount.Shift(2).IntPart(),
		Currency:       currency,
		Status:         "created",
		CreatedAt:      1700000000,
		Receipt:        "order_rcptid_1",
	}, nil
}

type memFiles struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (f *memFiles) Upload(_ context.Context, name, _ string, body io.Reader) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	url := "https://cdn.example/" + name
	f.files[url] = b
	return url, nil
}

func (f *memFiles) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, url)
	return nil
}

type testServer struct {
	handler http.Handler
	orders  *mocks.MockOrderStore
	gateway *stubGateway
	files   *memFiles
	health  error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		orders:  mocks.NewMockOrderStore(),
		gateway: &stubGateway{},
		files:   &memFiles{files: make(map[string][]byte)},
	}

	users := user.NewService(mocks.NewMockUserStore())
	ctx := context.Background()
	_, err := users.Create(ctx, adminEmail, testPassword, "Admin", "ADMIN")
	require.NoError(t, err)
	_, err = users.Create(ctx, cashierEmail, testPassword, "Cashier", "user")
	require.NoError(t, err)

	orderSvc := order.NewService(ts.orders, payment.NewHMACVerifier(testGatewaySecret), order.Policy{AllowPaidDeletion: true})
	tokens := auth.NewTokenService(testJWTSecret, 0)

	ts.handler = NewRouter(RouterConfig{
		Handlers:         NewHandlers(orderSvc, ts.gateway, query.NewHandler(ts.orders, orderSvc, 5, time.UTC)),
		AuthHandlers:     NewAuthHandlers(users, tokens),
		CategoryHandlers: NewCategoryHandlers(catalog.NewService(mocks.NewMockCatalogStore(), ts.files)),
		Tokens:           tokens,
		Resolver:         users,
		AllowedOrigins:   []string{"http://localhost:5173"},
		HealthCheck:      func(context.Context) error { return ts.health },
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(t *testing.T, email string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/login", "", LoginRequest{Email: email, Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

var onlineOrder = PlaceOrderRequest{
	CustomerName: "Asha",
	PhoneNumber:  "9876543210",
	LineItems: []order.OrderLine{
		{ItemID: "item-1", Name: "Masala Dosa", UnitPrice: decimal.NewFromInt(50), Quantity: 2},
	},
	Subtotal:      decimal.NewFromInt(100),
	Tax:           decimal.NewFromInt(18),
	GrandTotal:    decimal.NewFromInt(118),
	PaymentMethod: "ONLINE",
}

// ============================================
// Auth
// ============================================

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/login", "", LoginRequest{Email: "ADMIN@example.com", Password: testPassword})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LoginResponse](t, rec)
	assert.Equal(t, adminEmail, resp.Email)
	assert.Equal(t, auth.RoleAdmin, resp.Role)
	assert.NotEmpty(t, resp.Token)
}

func TestLogin_WrongPasswordDoesNotLockAccount(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodPost, "/login", "", LoginRequest{Email: cashierEmail, Password: "wrong-password"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Email or password is incorrect", errorMessage(t, rec))
	}

	unknown := ts.do(t, http.MethodPost, "/login", "", LoginRequest{Email: "nobody@example.com", Password: testPassword})
	assert.Equal(t, http.StatusBadRequest, unknown.Code)
	assert.Equal(t, "Email or password is incorrect", errorMessage(t, unknown))

	assert.NotEmpty(t, ts.login(t, cashierEmail))
}

func TestLogin_MalformedBody(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()

	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEncode_IsPublic(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/encode", "", map[string]string{"password": "s3cret-pass"})

	require.Equal(t, http.StatusOK, rec.Code)
	hash := decode[map[string]string](t, rec)["encodedPassword"]
	assert.True(t, auth.CheckPassword("s3cret-pass", hash))
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/me", ts.login(t, cashierEmail), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"email":"cashier@example.com","role":"USER"}`, rec.Body.String())
}

func TestRouteGating(t *testing.T) {
	ts := newTestServer(t)
	cashier := ts.login(t, cashierEmail)
	admin := ts.login(t, adminEmail)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"anonymous orders", http.MethodGet, "/orders/latest", "", http.StatusUnauthorized},
		{"forged token", http.MethodGet, "/orders/latest", "abc.def.ghi", http.StatusUnauthorized},
		{"cashier orders", http.MethodGet, "/orders/latest", cashier, http.StatusOK},
		{"admin orders", http.MethodGet, "/orders/latest", admin, http.StatusOK},
		{"anonymous dashboard", http.MethodGet, "/dashboard", "", http.StatusUnauthorized},
		{"cashier categories", http.MethodGet, "/categories", cashier, http.StatusOK},
		{"cashier admin users", http.MethodGet, "/admin/users", cashier, http.StatusForbidden},
		{"admin admin users", http.MethodGet, "/admin/users", admin, http.StatusOK},
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

// ============================================
// Orders and payments
// ============================================

func TestOrderLifecycle_OnlinePayment(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, cashierEmail)

	rec := ts.do(t, http.MethodPost, "/orders", token, onlineOrder)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[order.Order](t, rec)
	assert.Equal(t, order.StatusPending, created.PaymentDetails.Status)
	assert.Empty(t, created.PaymentDetails.GatewayOrderID)

	verify := VerifyPaymentRequest{
		OrderID:          created.ID,
		GatewayOrderID:   "order_remote_1",
		GatewayPaymentID: "pay_1",
		Signature:        payment.Sign(testGatewaySecret, "order_remote_1", "pay_1"),
	}
	rec = ts.do(t, http.MethodPost, "/payments/verify", token, verify)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decode[order.Order](t, rec)
	assert.Equal(t, order.StatusCompleted, verified.PaymentDetails.Status)
	assert.Equal(t, "order_remote_1", verified.PaymentDetails.GatewayOrderID)
	assert.Equal(t, "pay_1", verified.PaymentDetails.GatewayPaymentID)
	assert.Equal(t, verify.Signature, verified.PaymentDetails.GatewaySignature)

	other := verify
	other.GatewayPaymentID = "pay_2"
	other.Signature = payment.Sign(testGatewaySecret, "order_remote_1", "pay_2")
	rec = ts.do(t, http.MethodPost, "/payments/verify", token, other)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVerifyPayment_BadSignature(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, cashierEmail)
	created := decode[order.Order](t, ts.do(t, http.MethodPost, "/orders", token, onlineOrder))

	rec := ts.do(t, http.MethodPost, "/payments/verify", token, VerifyPaymentRequest{
		OrderID:          created.ID,
		GatewayOrderID:   "order_remote_1",
		GatewayPaymentID: "pay_1",
		Signature:        "deadbeef",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, order.ErrPaymentVerificationFailed.Error(), errorMessage(t, rec))
}

func TestVerifyPayment_UnknownOrder(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/payments/verify", ts.login(t, cashierEmail), VerifyPaymentRequest{
		OrderID:          "ORD-missing",
		GatewayOrderID:   "order_remote_1",
		GatewayPaymentID: "pay_1",
		Signature:        payment.Sign(testGatewaySecret, "order_remote_1", "pay_1"),
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaceOrder_Cash(t *testing.T) {
	ts := newTestServer(t)
	cash := onlineOrder
	cash.PaymentMethod = "cash"

	rec := ts.do(t, http.MethodPost, "/orders", ts.login(t, cashierEmail), cash)

	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[order.Order](t, rec)
	assert.Equal(t, order.PaymentCash, created.PaymentMethod)
	assert.Equal(t, order.StatusCompleted, created.PaymentDetails.Status)
}

func TestPlaceOrder_Validation(t *testing.T) {
	ts := newTestServer(t)
	empty := onlineOrder
	empty.LineItems = nil

	rec := ts.do(t, http.MethodPost, "/orders", ts.login(t, cashierEmail), empty)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "line item")
	assert.Zero(t, ts.orders.Len())
}

func TestDeleteOrder(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, cashierEmail)
	created := decode[order.Order](t, ts.do(t, http.MethodPost, "/orders", token, onlineOrder))

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/orders/nonexistent-id", token, nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/orders/"+created.ID, token, nil).Code)
	assert.Zero(t, ts.orders.Len())
}

func TestLatestOrders_NewestFirst(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, cashierEmail)

	var ids []string
	for i := 0; i < 3; i++ {
		o := onlineOrder
		o.CustomerName = fmt.Sprintf("customer-%d", i)
		ids = append(ids, decode[order.Order](t, ts.do(t, http.MethodPost, "/orders", token, o)).ID)
		time.Sleep(2 * time.Millisecond)
	}

	rec := ts.do(t, http.MethodGet, "/orders/latest", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[[]order.Order](t, rec)
	require.Len(t, latest, 3)
	assert.Equal(t, ids[2], latest[0].ID)
	assert.Equal(t, ids[0], latest[2].ID)
}

func TestCreatePaymentOrder(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/payments/create-order", ts.login(t, cashierEmail),
		map[string]any{"amount": 118, "currency": "INR"}, IdempotencyHeader, "checkout-7")

	require.Equal(t, http.StatusCreated, rec.Code)
	remote := decode[payment.RemoteOrder](t, rec)
	assert.Equal(t, int64(11800), remote.Amount)
	assert.Equal(t, "INR", remote.Currency)
	assert.Equal(t, []string{cashierEmail + "/checkout-7"}, ts.gateway.calls)
}

func TestCreatePaymentOrder_GatewayErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		retryAfter bool
	}{
		{"unavailable", fmt.Errorf("%w: status 503", payment.ErrGatewayUnavailable), http.StatusServiceUnavailable, true},
		{"rejected", fmt.Errorf("%w: BAD_REQUEST_ERROR", payment.ErrGatewayRejected), http.StatusBadGateway, false},
		{"invalid input", fmt.Errorf("%w: amount must be positive", payment.ErrInvalidRequest), http.StatusBadRequest, false},
		{"in flight", payment.ErrRequestInProgress, http.StatusConflict, false},
		{"key reused", payment.ErrIdempotencyKeyReused, http.StatusConflict, false},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.gateway.err = tt.err

			rec := ts.do(t, http.MethodPost, "/payments/create-order", ts.login(t, cashierEmail),
				map[string]any{"amount": "118.00", "currency": "INR"})

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.retryAfter {
				assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			}
			assert.NotContains(t, errorMessage(t, rec), "boom")
		})
	}
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, cashierEmail)
	ts.do(t, http.MethodPost, "/orders", token, onlineOrder)

	rec := ts.do(t, http.MethodGet, "/dashboard", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[query.Dashboard](t, rec)
	assert.Equal(t, int64(1), d.TodayOrderCount)
	assert.True(t, decimal.NewFromInt(118).Equal(d.TodaySales))
	assert.Len(t, d.RecentOrders, 1)
}

// ============================================
// Catalog and users
// ============================================

func multipartBody(t *testing.T, field string, meta any, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	b, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField(field, string(b)))
	if withFile {
		fw, err := mw.CreateFormFile("file", "dosa.png")
		require.NoError(t, err)
		_, err = fw.Write([]byte("png-bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) upload(t *testing.T, path, token, field string, meta any, withFile bool) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, field, meta, withFile)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestCatalog_AdminFlow(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, adminEmail)

	rec := ts.upload(t, "/admin/categories", admin, "category",
		catalog.NewCategory{Name: "Breakfast", BgColor: "#ffaa00"}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	category := decode[catalog.Category](t, rec)
	assert.Equal(t, "https://cdn.example/dosa.png", category.ImgURL)

	rec = ts.upload(t, "/admin/items", admin, "item",
		catalog.NewItem{CategoryID: category.ID, Name: "Masala Dosa", Price: decimal.NewFromInt(50)}, false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode[catalog.Item](t, rec)
	assert.Equal(t, "Breakfast", item.CategoryName)

	items := decode[[]catalog.Item](t, ts.do(t, http.MethodGet, "/items", admin, nil))
	assert.Len(t, items, 1)

	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodDelete, "/admin/categories/"+category.ID, admin, nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/admin/items/"+item.ID, admin, nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/admin/categories/"+category.ID, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/admin/categories/"+category.ID, admin, nil).Code)
	assert.Empty(t, ts.files.files)
}

func TestCatalog_BadUpload(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, adminEmail)

	missing := ts.upload(t, "/admin/categories", admin, "wrong-field", catalog.NewCategory{Name: "x"}, false)
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	invalid := ts.upload(t, "/admin/categories", admin, "category", catalog.NewCategory{Name: "  "}, false)
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	cashier := ts.upload(t, "/admin/categories", ts.login(t, cashierEmail), "category", catalog.NewCategory{Name: "x"}, false)
	assert.Equal(t, http.StatusForbidden, cashier.Code)
}

func TestUsers_AdminFlow(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, adminEmail)

	rec := ts.do(t, http.MethodPost, "/admin/register", admin,
		RegisterRequest{Email: "new@example.com", Password: "long-enough", Name: "New", Role: "user"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[user.User](t, rec)
	assert.Equal(t, auth.RoleUser, created.Role)

	dup := ts.do(t, http.MethodPost, "/admin/register", admin,
		RegisterRequest{Email: "new@example.com", Password: "long-enough", Name: "Again"})
	assert.Equal(t, http.StatusConflict, dup.Code)

	badRole := ts.do(t, http.MethodPost, "/admin/register", admin,
		RegisterRequest{Email: "x@example.com", Password: "long-enough", Name: "X", Role: "superuser"})
	assert.Equal(t, http.StatusBadRequest, badRole.Code)

	users := decode[[]user.User](t, ts.do(t, http.MethodGet, "/admin/users", admin, nil))
	assert.Len(t, users, 3)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/admin/users/"+created.ID, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/admin/users/"+created.ID, admin, nil).Code)
}

func TestDeletedUserTokenStopsWorking(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, adminEmail)
	rec := ts.do(t, http.MethodPost, "/admin/register", admin,
		RegisterRequest{Email: "temp@example.com", Password: testPassword, Name: "Temp"})
	require.Equal(t, http.StatusCreated, rec.Code)
	temp := decode[user.User](t, rec)
	token := ts.login(t, "temp@example.com")

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/admin/users/"+temp.ID, admin, nil).Code)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/orders/latest", token, nil).Code)
}

func TestHealthz_Failing(t *testing.T) {
	ts := newTestServer(t)
	ts.health = errors.New("postgres down")

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
