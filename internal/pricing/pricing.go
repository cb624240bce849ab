// Package pricing computes checkout totals: subtotal, coupon discount,
// GST, shipping and the amount handed to the payment gateway.
//
// All amounts are shopspring decimals rounded half away from zero to two
// places at each step, so the numbers shown in the cart are the numbers
// charged.
package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/toyforge/storefront/internal/models"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("quantity must be positive")

	ErrCouponInactive    = errors.New("coupon is not active")
	ErrCouponNotStarted  = errors.New("coupon is not valid yet")
	ErrCouponExpired     = errors.New("coupon has expired")
	ErrCouponMinOrder    = errors.New("order total is below the coupon minimum")
	ErrCouponExhausted   = errors.New("coupon usage limit reached")
	ErrCouponAlreadyUsed = errors.New("coupon already used the maximum number of times by this customer")
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Rules are the store-wide pricing settings.
type Rules struct {
	Currency              string
	TaxRate               decimal.Decimal // percent
	StoreState            string
	ShippingFlatFee       decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

// Line is one cart line priced at the variant's effective price.
type Line struct {
	ProductID   int64             `json:"productId"`
	VariantID   int64             `json:"variantId"`
	ProductName string            `json:"productName"`
	SKU         string            `json:"sku"`
	Attributes  models.Attributes `json:"attributes"`
	UnitPrice   decimal.Decimal   `json:"unitPrice"`
	Quantity    int               `json:"quantity"`
}

// NewLine prices qty units of a variant.
func NewLine(productName string, v *models.Variant, qty int) Line {
	return Line{
		ProductID:   v.ProductID,
		VariantID:   v.ID,
		ProductName: productName,
		SKU:         v.SKU,
		Attributes:  v.Attributes,
		UnitPrice:   v.EffectivePrice(),
		Quantity:    qty,
	}
}

// PricedLine is a Line with its extended total.
type PricedLine struct {
	Line
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// CouponUsage is how often the current customer already redeemed the coupon.
type CouponUsage struct {
	UserRedemptions int
}

// Destination is where the order ships; only the state matters for GST.
type Destination struct {
	State   string
	Country string
}

// Quote is the full checkout breakdown.
type Quote struct {
	Currency             string           `json:"currency"`
	Lines                []PricedLine     `json:"lines"`
	ItemCount            int              `json:"itemCount"`
	Subtotal             decimal.Decimal  `json:"subtotal"`
	Discount             decimal.Decimal  `json:"discount"`
	CouponCode           string           `json:"couponCode,omitempty"`
	Taxable              decimal.Decimal  `json:"taxable"`
	Tax                  decimal.Decimal  `json:"tax"`
	TaxLines             []models.TaxLine `json:"taxLines"`
	Shipping             decimal.Decimal  `json:"shipping"`
	FreeShipping         bool             `json:"freeShipping"`
	AmountToFreeShipping decimal.Decimal  `json:"amountToFreeShipping"`
	Total                decimal.Decimal  `json:"total"`
}

// AmountMinor is the total in the currency's minor unit (paise).
func (q *Quote) AmountMinor() int64 {
	return ToMinorUnits(q.Total)
}

// Calculate prices the lines for dest. coupon may be nil.
func Calculate(lines []Line, coupon *models.Coupon, usage CouponUsage, dest Destination, rules Rules, now time.Time) (*Quote, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	q := &Quote{
		Currency: rules.Currency,
		Lines:    make([]PricedLine, 0, len(lines)),
	}

	// 1. --- Subtotal ---
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: variant %d", ErrInvalidQuantity, l.VariantID)
		}
		lineTotal := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
		q.Lines = append(q.Lines, PricedLine{Line: l, LineTotal: lineTotal})
		subtotal = subtotal.Add(lineTotal)
		q.ItemCount += l.Quantity
	}
	q.Subtotal = subtotal

	// 2. --- Coupon ---
	q.Discount = decimal.Zero
	if coupon != nil {
		if err := ValidateCoupon(coupon, subtotal, usage, now); err != nil {
			return nil, err
		}
		q.Discount = CouponDiscount(coupon, subtotal)
		q.CouponCode = coupon.Code
	}
	q.Taxable = subtotal.Sub(q.Discount)

	// 3. --- Tax ---
	q.Tax, q.TaxLines = Tax(q.Taxable, rules.TaxRate, rules.StoreState, dest.State)

	// 4. --- Shipping ---
	q.Shipping, q.FreeShipping = Shipping(q.Taxable, rules)
	if !q.FreeShipping && rules.FreeShippingThreshold.IsPositive() {
		q.AmountToFreeShipping = rules.FreeShippingThreshold.Sub(q.Taxable)
	}

	q.Total = q.Taxable.Add(q.Tax).Add(q.Shipping)
	return q, nil
}

// ValidateCoupon checks every redemption rule against the cart subtotal.
func ValidateCoupon(c *models.Coupon, subtotal decimal.Decimal, usage CouponUsage, now time.Time) error {
	if !c.IsActive {
		return ErrCouponInactive
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return ErrCouponNotStarted
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ErrCouponExpired
	}
	if subtotal.LessThan(c.MinOrderValue) {
		return fmt.Errorf("%w (minimum %s)", ErrCouponMinOrder, c.MinOrderValue.StringFixed(2))
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrCouponExhausted
	}
	if c.PerUserLimit > 0 && usage.UserRedemptions >= c.PerUserLimit {
		return ErrCouponAlreadyUsed
	}
	return nil
}

// CouponDiscount returns the discount for subtotal, capped by the coupon's
// maximum and by the subtotal itself.
func CouponDiscount(c *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.DiscountType {
	case models.CouponTypePercentage:
		discount = subtotal.Mul(c.DiscountValue).Div(hundred).Round(2)
		if c.MaxDiscount.Valid && c.MaxDiscount.Decimal.IsPositive() && discount.GreaterThan(c.MaxDiscount.Decimal) {
			discount = c.MaxDiscount.Decimal
		}
	case models.CouponTypeFixed:
		discount = c.DiscountValue.Round(2)
	default:
		return decimal.Zero
	}

	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}

// Tax computes GST on taxable. Intra-state supplies split into CGST and SGST
// halves that always sum to the full tax; inter-state supplies carry IGST.
func Tax(taxable, ratePercent decimal.Decimal, storeState, destState string) (decimal.Decimal, []models.TaxLine) {
	if !ratePercent.IsPositive() || !taxable.IsPositive() {
		return decimal.Zero, []models.TaxLine{}
	}

	total := taxable.Mul(ratePercent).Div(hundred).Round(2)
	if storeState != "" && strings.EqualFold(strings.TrimSpace(storeState), strings.TrimSpace(destState)) {
		half := total.Div(two).Round(2)
		halfRate := ratePercent.Div(two)
		return total, []models.TaxLine{
			{Name: "CGST", Rate: halfRate, Amount: half},
			{Name: "SGST", Rate: halfRate, Amount: total.Sub(half)},
		}
	}
	return total, []models.TaxLine{{Name: "IGST", Rate: ratePercent, Amount: total}}
}

// Shipping returns the shipping fee and whether free shipping applied.
func Shipping(taxable decimal.Decimal, rules Rules) (decimal.Decimal, bool) {
	if rules.FreeShippingThreshold.IsPositive() && taxable.GreaterThanOrEqual(rules.FreeShippingThreshold) {
		return decimal.Zero, true
	}
	if !rules.ShippingFlatFee.IsPositive() {
		return decimal.Zero, true
	}
	return rules.ShippingFlatFee.Round(2), false
}

// ToMinorUnits converts an amount to paise (or cents).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// NormalizeCouponCode upper-cases and trims a customer-entered code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsCouponError reports whether err is a customer-facing coupon rejection.
func IsCouponError(err error) bool {
	for _, target := range []error{
		ErrCouponInactive, ErrCouponNotStarted, ErrCouponExpired,
		ErrCouponMinOrder, ErrCouponExhausted, ErrCouponAlreadyUsed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
