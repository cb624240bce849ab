package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toyforge/storefront/internal/models"
)

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rules() Rules {
	return Rules{
		Currency:              "INR",
		TaxRate:               dec("18"),
		StoreState:            "Karnataka",
		ShippingFlatFee:       dec("99"),
		FreeShippingThreshold: dec("999"),
	}
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "%s: want %s, got %s", msg, want, got)
}

func TestCalculate_IntraStateNoCoupon(t *testing.T) {
	lines := []Line{
		{VariantID: 1, UnitPrice: dec("499.50"), Quantity: 2},
		{VariantID: 2, UnitPrice: dec("250"), Quantity: 1},
	}

	q, err := Calculate(lines, nil, CouponUsage{}, Destination{State: "karnataka"}, rules(), now)
	require.NoError(t, err)

	assertDec(t, "1249", q.Subtotal, "subtotal")
	assertDec(t, "0", q.Discount, "discount")
	assertDec(t, "224.82", q.Tax, "tax")
	require.Len(t, q.TaxLines, 2)
	assert.Equal(t, "CGST", q.TaxLines[0].Name)
	assert.Equal(t, "SGST", q.TaxLines[1].Name)
	assertDec(t, "9", q.TaxLines[0].Rate, "half rate")
	assertDec(t, "224.82", q.TaxLines[0].Amount.Add(q.TaxLines[1].Amount), "split sums to tax")
	assertDec(t, "0", q.Shipping, "free shipping above threshold")
	assert.True(t, q.FreeShipping)
	assertDec(t, "1473.82", q.Total, "total")
	assert.Equal(t, int64(147382), q.AmountMinor())
	assert.Equal(t, 3, q.ItemCount)
}

func TestCalculate_InterStateWithShipping(t *testing.T) {
	lines := []Line{{VariantID: 1, UnitPrice: dec("300"), Quantity: 1}}

	q, err := Calculate(lines, nil, CouponUsage{}, Destination{State: "Maharashtra"}, rules(), now)
	require.NoError(t, err)

	require.Len(t, q.TaxLines, 1)
	assert.Equal(t, "IGST", q.TaxLines[0].Name)
	assertDec(t, "54", q.Tax, "tax")
	assertDec(t, "99", q.Shipping, "flat fee")
	assertDec(t, "699", q.AmountToFreeShipping, "nudge")
	assertDec(t, "453", q.Total, "total")
}

func TestCalculate_OddTaxSplitsExactly(t *testing.T) {
	lines := []Line{{VariantID: 1, UnitPrice: dec("0.17"), Quantity: 1}}
	r := rules()
	r.FreeShippingThreshold = decimal.Zero
	r.ShippingFlatFee = decimal.Zero

	q, err := Calculate(lines, nil, CouponUsage{}, Destination{State: "Karnataka"}, r, now)
	require.NoError(t, err)

	assertDec(t, "0.03", q.Tax, "tax")
	assertDec(t, "0.02", q.TaxLines[0].Amount, "cgst")
	assertDec(t, "0.01", q.TaxLines[1].Amount, "sgst")
}

func TestCalculate_PercentageCouponCapped(t *testing.T) {
	coupon := &models.Coupon{
		Code:          "DIWALI20",
		DiscountType:  models.CouponTypePercentage,
		DiscountValue: dec("20"),
		MaxDiscount:   decimal.NewNullDecimal(dec("300")),
		IsActive:      true,
	}
	lines := []Line{{VariantID: 1, UnitPrice: dec("2000"), Quantity: 1}}

	q, err := Calculate(lines, coupon, CouponUsage{}, Destination{State: "Goa"}, rules(), now)
	require.NoError(t, err)

	assertDec(t, "300", q.Discount, "capped discount")
	assertDec(t, "1700", q.Taxable, "taxable")
	assertDec(t, "306", q.Tax, "tax on discounted amount")
	assertDec(t, "2006", q.Total, "total")
	assert.Equal(t, "DIWALI20", q.CouponCode)
}

func TestCalculate_DiscountPushesBelowFreeShipping(t *testing.T) {
	coupon := &models.Coupon{
		Code:          "FLAT100",
		DiscountType:  models.CouponTypeFixed,
		DiscountValue: dec("100"),
		IsActive:      true,
	}
	lines := []Line{{VariantID: 1, UnitPrice: dec("1000"), Quantity: 1}}

	q, err := Calculate(lines, coupon, CouponUsage{}, Destination{State: "Karnataka"}, rules(), now)
	require.NoError(t, err)

	assertDec(t, "900", q.Taxable, "taxable")
	assertDec(t, "99", q.Shipping, "threshold applies after discount")
	assert.False(t, q.FreeShipping)
}

func TestCalculate_Errors(t *testing.T) {
	_, err := Calculate(nil, nil, CouponUsage{}, Destination{}, rules(), now)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = Calculate([]Line{{VariantID: 9, UnitPrice: dec("1"), Quantity: 0}}, nil, CouponUsage{}, Destination{}, rules(), now)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	inactive := &models.Coupon{DiscountType: models.CouponTypeFixed, DiscountValue: dec("10")}
	_, err = Calculate([]Line{{VariantID: 1, UnitPrice: dec("100"), Quantity: 1}}, inactive, CouponUsage{}, Destination{}, rules(), now)
	assert.ErrorIs(t, err, ErrCouponInactive)
}

func TestValidateCoupon(t *testing.T) {
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	limit := 5

	base := func() *models.Coupon {
		return &models.Coupon{
			DiscountType:  models.CouponTypeFixed,
			DiscountValue: dec("50"),
			MinOrderValue: dec("500"),
			IsActive:      true,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *models.Coupon)
		usage   CouponUsage
		total   string
		wantErr error
	}{
		{"valid", func(c *models.Coupon) {}, CouponUsage{}, "500", nil},
		{"inactive", func(c *models.Coupon) { c.IsActive = false }, CouponUsage{}, "600", ErrCouponInactive},
		{"not started", func(c *models.Coupon) { c.StartsAt = &future }, CouponUsage{}, "600", ErrCouponNotStarted},
		{"expired", func(c *models.Coupon) { c.ExpiresAt = &past }, CouponUsage{}, "600", ErrCouponExpired},
		{"expires exactly now", func(c *models.Coupon) { c.ExpiresAt = &now }, CouponUsage{}, "600", ErrCouponExpired},
		{"below minimum", func(c *models.Coupon) {}, CouponUsage{}, "499.99", ErrCouponMinOrder},
		{"exhausted", func(c *models.Coupon) { c.UsageLimit = &limit; c.UsedCount = 5 }, CouponUsage{}, "600", ErrCouponExhausted},
		{"per user limit", func(c *models.Coupon) { c.PerUserLimit = 1 }, CouponUsage{UserRedemptions: 1}, "600", ErrCouponAlreadyUsed},
		{"per user unlimited", func(c *models.Coupon) { c.PerUserLimit = 0 }, CouponUsage{UserRedemptions: 7}, "600", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := ValidateCoupon(c, dec(tt.total), tt.usage, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.True(t, IsCouponError(err))
		})
	}
}

func TestCouponDiscount_NeverExceedsSubtotal(t *testing.T) {
	fixed := &models.Coupon{DiscountType: models.CouponTypeFixed, DiscountValue: dec("500")}
	assertDec(t, "120", CouponDiscount(fixed, dec("120")), "fixed capped")

	pct := &models.Coupon{DiscountType: models.CouponTypePercentage, DiscountValue: dec("12.5")}
	assertDec(t, "41.66", CouponDiscount(pct, dec("333.25")), "rounded half away from zero")

	unknown := &models.Coupon{DiscountType: "bogus", DiscountValue: dec("10")}
	assertDec(t, "0", CouponDiscount(unknown, dec("100")), "unknown type")
}

func TestMinorUnitsAndCodes(t *testing.T) {
	assert.Equal(t, int64(99), ToMinorUnits(dec("0.99")))
	assert.Equal(t, int64(100), ToMinorUnits(dec("0.995")))
	assert.Equal(t, int64(123456), ToMinorUnits(dec("1234.56")))
	assertDec(t, "1234.56", FromMinorUnits(123456), "from minor")

	assert.Equal(t, "SAVE10", NormalizeCouponCode("  save10 "))
	assert.False(t, IsCouponError(ErrEmptyCart))
}

func TestNewLine_UsesEffectivePrice(t *testing.T) {
	v := &models.Variant{ID: 7, ProductID: 3, SKU: "LEGO-42100", Price: dec("4999"), SalePrice: decimal.NewNullDecimal(dec("4499"))}
	l := NewLine("Liebherr R 9800", v, 2)

	assert.Equal(t, int64(7), l.VariantID)
	assert.Equal(t, int64(3), l.ProductID)
	assertDec(t, "4499", l.UnitPrice, "sale price")
}
