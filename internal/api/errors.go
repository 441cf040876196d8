package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/pos-billing/internal/auth"
	"github.com/example/pos-billing/internal/domain/catalog"
	"github.com/example/pos-billing/internal/domain/order"
	"github.com/example/pos-billing/internal/domain/user"
	"github.com/example/pos-billing/internal/logging"
	"github.com/example/pos-billing/internal/payment"
)

// gatewayRetryAfter is the Retry-After hint, in seconds, sent with 503s.
const gatewayRetryAfter = "5"

var errBadRequest = errors.New("invalid request body")

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondJSONError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, user.ErrUserNotFound),
		errors.Is(err, catalog.ErrCategoryNotFound),
		errors.Is(err, catalog.ErrItemNotFound):
		return http.StatusNotFound

	case errors.Is(err, errBadRequest),
		errors.Is(err, order.ErrValidation),
		errors.Is(err, order.ErrPaymentVerificationFailed),
		errors.Is(err, payment.ErrInvalidRequest),
		errors.Is(err, user.ErrInvalidEmail),
		errors.Is(err, user.ErrInvalidName),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, catalog.ErrInvalidName),
		errors.Is(err, catalog.ErrInvalidPrice),
		errors.Is(err, catalog.ErrInvalidColor):
		return http.StatusBadRequest

	case errors.Is(err, order.ErrAlreadyVerified),
		errors.Is(err, order.ErrPaidOrderDeletion),
		errors.Is(err, order.ErrRequestInProgress),
		errors.Is(err, payment.ErrRequestInProgress),
		errors.Is(err, order.ErrIdempotencyKeyReused),
		errors.Is(err, payment.ErrIdempotencyKeyReused),
		errors.Is(err, user.ErrEmailTaken),
		errors.Is(err, catalog.ErrDuplicateName),
		errors.Is(err, catalog.ErrCategoryInUse):
		return http.StatusConflict

	case errors.Is(err, payment.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, payment.ErrGatewayRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err with the status it maps to. Gateway and internal
// failures are logged in full but answered with a generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()

	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", gatewayRetryAfter)
		message = payment.ErrGatewayUnavailable.Error()
	case http.StatusBadGateway:
		message = payment.ErrGatewayRejected.Error()
	case http.StatusInternalServerError:
		message = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		logging.FromCtx(r.Context()).Error("request failed", "err", err)
	}
	respondJSONError(w, message, status)
}

// decodeJSON reads a JSON body of at most maxBodyBytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}

const maxBodyBytes = 1 << 20
