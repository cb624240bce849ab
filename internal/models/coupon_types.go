package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon discount types.
const (
	CouponTypePercentage = "percentage"
	CouponTypeFixed      = "fixed"
)

// Coupon is the model for the 'coupons' table.
type Coupon struct {
	ID            int64               `json:"id" db:"id"`
	Code          string              `json:"code" db:"code"`
	Description   string              `json:"description" db:"description"`
	DiscountType  string              `json:"discountType" db:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discountValue" db:"discount_value"`
	MaxDiscount   decimal.NullDecimal `json:"maxDiscount" db:"max_discount"`
	MinOrderValue decimal.Decimal     `json:"minOrderValue" db:"min_order_value"`
	UsageLimit    *int                `json:"usageLimit,omitempty" db:"usage_limit"`
	PerUserLimit  int                 `json:"perUserLimit" db:"per_user_limit"` // 0 = unlimited
	UsedCount     int                 `json:"usedCount" db:"used_count"`
	StartsAt      *time.Time          `json:"startsAt,omitempty" db:"starts_at"`
	ExpiresAt     *time.Time          `json:"expiresAt,omitempty" db:"expires_at"`
	IsActive      bool                `json:"isActive" db:"is_active"`
	CreatedAt     time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time           `json:"updatedAt" db:"updated_at"`
}

// CouponRedemption is the model for the 'coupon_redemptions' table.
// A row exists for every order that consumed the coupon and was not released.
type CouponRedemption struct {
	ID        int64     `json:"id" db:"id"`
	CouponID  int64     `json:"couponId" db:"coupon_id"`
	UserID    int64     `json:"userId" db:"user_id"`
	OrderID   int64     `json:"orderId" db:"order_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
