package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSignature returns the lowercase hex HMAC-SHA256 of body keyed by secret.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether provided is the signature of body under secret.
// The comparison is exact and constant time. An empty secret or signature never verifies.
func VerifySignature(body []byte, provided, secret string) (ok bool) {
	if secret == "" || provided == "" {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	expected := ComputeSignature(body, secret)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// VerifyCheckoutSignature checks the signature returned to the browser after a successful
// checkout, which signs "orderID|paymentID" with the API key secret.
func VerifyCheckoutSignature(orderID, paymentID, signature, keySecret string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return VerifySignature([]byte(orderID+"|"+paymentID), signature, keySecret)
}
