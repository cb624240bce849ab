package models

import (
	"time"
)

// Payment attempt statuses.
const (
	PaymentAttemptCreated       = "created"
	PaymentAttemptCaptured      = "captured"
	PaymentAttemptFailed        = "failed"
	PaymentAttemptRefunded      = "refunded"
	PaymentAttemptRefundPending = "refund_pending" // captured, refund not through yet
)

// Payment is the model for the 'payments' table: one row per gateway order
// created for a store order. Retries add rows.
type Payment struct {
	ID                int64     `json:"id" db:"id"`
	OrderID           int64     `json:"orderId" db:"order_id"`
	RazorpayOrderID   string    `json:"razorpayOrderId" db:"razorpay_order_id"`
	RazorpayPaymentID *string   `json:"razorpayPaymentId,omitempty" db:"razorpay_payment_id"`
	AmountMinor       int64     `json:"amountMinor" db:"amount_minor"` // paise
	Currency          string    `json:"currency" db:"currency"`
	Status            string    `json:"status" db:"status"`
	ErrorCode         *string   `json:"errorCode,omitempty" db:"error_code"`
	ErrorDescription  *string   `json:"errorDescription,omitempty" db:"error_description"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}
