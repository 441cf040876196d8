package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/pos-billing/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactJSON(t *testing.T) {
	in := `{"email":"a@b.c","password":"hunter22","nested":{"Token":"abc"},"list":[{"signature":"ff"}]}`

	out := redactJSON([]byte(in))

	assert.JSONEq(t,
		`{"email":"a@b.c","password":"***redacted***","nested":{"Token":"***redacted***"},"list":[{"signature":"***redacted***"}]}`,
		string(out))
	assert.Equal(t, "plain text", string(redactJSON([]byte("plain text"))))
}

func TestRedactJSON_MatchesKeySuffix(t *testing.T) {
	in := `[{"orderId":"ORD-1","paymentDetails":{"status":"COMPLETED","gatewayOrderId":"order_A","gatewaySignature":"9f86d0"}},{"encodedPassword":"$2a$12$x","accessToken":"eyJ"}]`

	out := redactJSON([]byte(in))

	assert.JSONEq(t,
		`[{"orderId":"ORD-1","paymentDetails":{"status":"COMPLETED","gatewayOrderId":"order_A","gatewaySignature":"***redacted***"}},{"encodedPassword":"***redacted***","accessToken":"***redacted***"}]`,
		string(out))
}

func TestLogging_LogsAndKeepsBody(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	var seenBody string
	var seenLogger *slog.Logger
	handler := Logging(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seenBody = string(b)
		seenLogger = logging.FromCtx(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Email or password is incorrect"}`))
	}))

	body := `{"email":"a@b.c","password":"hunter22"}`
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, body, seenBody)
	assert.NotSame(t, logging.Base(), seenLogger)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, float64(http.StatusBadRequest), entry["status"])
	assert.NotContains(t, entry["req_body"], "hunter22")
	assert.Equal(t, rec.Header().Get(RequestIDHeader), entry["req_id"])
}

func TestLogging_PropagatesRequestID(t *testing.T) {
	base := slog.New(slog.NewJSONHandler(io.Discard, nil))
	handler := Logging(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, http.StatusOK, rec.Code)
}
