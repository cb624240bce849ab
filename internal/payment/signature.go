package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of payload under secret, the scheme
// Razorpay uses for both checkout callbacks and webhooks.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckoutPayload is the string signed for a checkout callback.
func CheckoutPayload(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}

func verify(secret string, payload []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
