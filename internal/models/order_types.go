package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusPlaced         = "placed"
	OrderStatusProcessing     = "processing"
	OrderStatusShipped        = "shipped"
	OrderStatusDelivered      = "delivered"
	OrderStatusCancelled      = "cancelled"
	OrderStatusExpired        = "expired"
)

// Payment statuses as seen on the order.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusCOD      = "cod"
	PaymentStatusRefunded = "refunded"
)

// Payment methods accepted at checkout.
const (
	PaymentMethodRazorpay = "razorpay"
	PaymentMethodCOD      = "cod"
)

// ErrInvalidTransition is returned when an order cannot move to the requested status.
var ErrInvalidTransition = errors.New("invalid order status transition")

var orderTransitions = map[string][]string{
	OrderStatusPendingPayment: {OrderStatusPlaced, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusPlaced:         {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:        {OrderStatusDelivered},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition wraps ErrInvalidTransition with the offending statuses.
func ValidateTransition(from, to string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsValidOrderStatus reports whether s is a known order status.
func IsValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusPlaced, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// ReleasesInventory reports whether moving into status s returns stock and coupon usage.
func ReleasesInventory(s string) bool {
	return s == OrderStatusCancelled || s == OrderStatusExpired
}

// TaxLine is one tax component on an order, e.g. CGST 9%.
type TaxLine struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// TaxLines is stored as a JSON array on the order.
type TaxLines []TaxLine

func (t TaxLines) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	return jsonValue([]TaxLine(t))
}

func (t *TaxLines) Scan(src interface{}) error {
	*t = nil
	return scanJSON(src, (*[]TaxLine)(t))
}

// Order is the model for the 'orders' table
type Order struct {
	ID                int64           `json:"id" db:"id"`
	OrderNumber       string          `json:"orderNumber" db:"order_number"`
	UserID            int64           `json:"userId" db:"user_id"`
	Status            string          `json:"status" db:"status"`
	PaymentMethod     string          `json:"paymentMethod" db:"payment_method"`
	PaymentStatus     string          `json:"paymentStatus" db:"payment_status"`
	Currency          string          `json:"currency" db:"currency"`
	Subtotal          decimal.Decimal `json:"subtotal" db:"subtotal"`
	Discount          decimal.Decimal `json:"discount" db:"discount"`
	Tax               decimal.Decimal `json:"tax" db:"tax"`
	TaxLines          TaxLines        `json:"taxLines" db:"tax_lines"`
	Shipping          decimal.Decimal `json:"shipping" db:"shipping"`
	Total             decimal.Decimal `json:"total" db:"total"`
	CouponID          *int64          `json:"-" db:"coupon_id"`
	CouponCode        *string         `json:"couponCode,omitempty" db:"coupon_code"`
	ShippingAddress   ShippingAddress `json:"shippingAddress" db:"shipping_address"`
	RazorpayOrderID   *string         `json:"razorpayOrderId,omitempty" db:"razorpay_order_id"`
	RazorpayPaymentID *string         `json:"razorpayPaymentId,omitempty" db:"razorpay_payment_id"`
	PaymentAttempts   int             `json:"paymentAttempts" db:"payment_attempts"`
	Tracking          *string         `json:"tracking,omitempty" db:"tracking"`
	ExpiresAt         *time.Time      `json:"expiresAt,omitempty" db:"expires_at"`
	PaidAt            *time.Time      `json:"paidAt,omitempty" db:"paid_at"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// OrderItem is the model for the 'order_items' table.
// Product data is snapshotted so later catalogue edits never change a placed order.
type OrderItem struct {
	ID          int64           `json:"id" db:"id"`
	OrderID     int64           `json:"orderId" db:"order_id"`
	ProductID   int64           `json:"productId" db:"product_id"`
	VariantID   int64           `json:"variantId" db:"variant_id"`
	ProductName string          `json:"productName" db:"product_name"`
	SKU         string          `json:"sku" db:"sku"`
	Attributes  Attributes      `json:"attributes" db:"attributes"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice" db:"unit_price"` // Price at the time of purchase
	LineTotal   decimal.Decimal `json:"lineTotal" db:"line_total"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// IsAwaitingPayment reports whether the gateway payment can still be completed at now.
func (o *Order) IsAwaitingPayment(now time.Time) bool {
	if o.Status != OrderStatusPendingPayment {
		return false
	}
	return o.ExpiresAt == nil || now.Before(*o.ExpiresAt)
}
