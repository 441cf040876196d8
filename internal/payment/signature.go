package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/example/pos-billing/configs"
	"github.com/example/pos-billing/internal/logging"
)

// Verifier checks that a payment completion claim was issued by the gateway.
type Verifier interface {
	Verify(gatewayOrderID, gatewayPaymentID, signature string) bool
}

// HMACVerifier implements the gateway's signature scheme: hex-encoded
// HMAC-SHA256 of "gatewayOrderId|gatewayPaymentId" keyed with the API
// secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if len(v.secret) == 0 || gatewayOrderID == "" || gatewayPaymentID == "" {
		return false
	}
	claimed, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(claimed, mac(v.secret, gatewayOrderID, gatewayPaymentID))
}

func mac(secret []byte, gatewayOrderID, gatewayPaymentID string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return h.Sum(nil)
}

// Sign produces the signature the gateway would send for the pair.
func Sign(secret, gatewayOrderID, gatewayPaymentID string) string {
	return hex.EncodeToString(mac([]byte(secret), gatewayOrderID, gatewayPaymentID))
}

// AcceptAllVerifier accepts every claim. It exists only for local
// development against a gateway sandbox and must never run in production.
type AcceptAllVerifier struct{}

func (AcceptAllVerifier) Verify(string, string, string) bool { return true }

// NewVerifier builds the verifier selected by gateway.signature_mode.
func NewVerifier(mode, secret string) (Verifier, error) {
	switch mode {
	case "", configs.SignatureModeHMAC:
		return NewHMACVerifier(secret), nil
	case configs.SignatureModeInsecureAcceptAll:
		logging.New("payment").Error("payment signature verification is DISABLED; every verify request will be accepted",
			"signature_mode", mode)
		return AcceptAllVerifier{}, nil
	default:
		return nil, fmt.Errorf("unknown signature mode %q", mode)
	}
}
