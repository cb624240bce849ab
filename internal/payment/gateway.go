// Package payment talks to the Razorpay gateway: server-side order creation,
// checkout and webhook signature checks, and refunds.
package payment

import (
	"context"
	"errors"
)

var (
	// ErrInvalidSignature means a checkout or webhook signature did not match.
	ErrInvalidSignature = errors.New("invalid payment signature")
	// ErrGatewayUnavailable wraps failures after all retries were spent.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Order is the gateway-side order the browser checkout is opened against.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"` // minor units
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Refund is the result of a refund request.
type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// Gateway is what the checkout handlers need from a payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*Order, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) error
	VerifyWebhookSignature(body []byte, signature string) error
	Refund(ctx context.Context, paymentID string, amountMinor int64) (*Refund, error)
	KeyID() string
}
