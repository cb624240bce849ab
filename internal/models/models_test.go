package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestVariant_IsInStock(t *testing.T) {
	v := Variant{Stock: 3}
	assert.True(t, v.IsInStock(1))
	assert.True(t, v.IsInStock(3))
	assert.False(t, v.IsInStock(4))
	assert.False(t, v.IsInStock(0), "zero quantity is never purchasable")
	assert.False(t, (&Variant{Stock: 0}).IsInStock(1))
}

func TestVariant_EffectivePrice(t *testing.T) {
	tests := []struct {
		name string
		v    Variant
		want string
	}{
		{"no sale price", Variant{Price: dec("1499.00")}, "1499"},
		{"lower sale price", Variant{Price: dec("1499.00"), SalePrice: decimal.NewNullDecimal(dec("1199.00"))}, "1199"},
		{"sale price above list", Variant{Price: dec("1499.00"), SalePrice: decimal.NewNullDecimal(dec("1599.00"))}, "1499"},
		{"equal sale price", Variant{Price: dec("999"), SalePrice: decimal.NewNullDecimal(dec("999"))}, "999"},
		{"zero sale price ignored", Variant{Price: dec("999"), SalePrice: decimal.NewNullDecimal(decimal.Zero)}, "999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.v.EffectivePrice().Equal(dec(tt.want)), "got %s", tt.v.EffectivePrice())
		})
	}

	onSale := Variant{Price: dec("10"), SalePrice: decimal.NewNullDecimal(dec("8"))}
	assert.True(t, onSale.OnSale())
}

func TestVariant_MatchesAttributes(t *testing.T) {
	v := Variant{Attributes: Attributes{"Color": "Red", "size": "L"}}

	assert.True(t, v.MatchesAttributes(nil))
	assert.True(t, v.MatchesAttributes(map[string]string{"color": "red"}))
	assert.True(t, v.MatchesAttributes(map[string]string{"COLOR": " RED ", "Size": "l"}))
	assert.False(t, v.MatchesAttributes(map[string]string{"color": "blue"}))
	assert.False(t, v.MatchesAttributes(map[string]string{"material": "wood"}))
}

func TestProduct_FindVariantAndPriceRange(t *testing.T) {
	p := Product{Variants: []Variant{
		{ID: 1, Attributes: Attributes{"color": "red"}, Price: dec("500"), IsActive: false},
		{ID: 2, Attributes: Attributes{"color": "red"}, Price: dec("450"), IsActive: true},
		{ID: 3, Attributes: Attributes{"color": "blue"}, Price: dec("600"), SalePrice: decimal.NewNullDecimal(dec("399")), IsActive: true},
	}}

	v, ok := p.FindVariant(map[string]string{"color": "red"})
	require.True(t, ok)
	assert.Equal(t, int64(2), v.ID, "inactive variants are skipped")

	_, ok = p.FindVariant(map[string]string{"color": "green"})
	assert.False(t, ok)

	lo, hi := p.PriceRange()
	assert.Equal(t, "399", lo.String())
	assert.Equal(t, "450", hi.String())
}

func TestOrderTransitions(t *testing.T) {
	assert.True(t, CanTransition(OrderStatusPendingPayment, OrderStatusPlaced))
	assert.True(t, CanTransition(OrderStatusPendingPayment, OrderStatusExpired))
	assert.True(t, CanTransition(OrderStatusProcessing, OrderStatusShipped))
	assert.True(t, CanTransition(OrderStatusShipped, OrderStatusDelivered))

	assert.False(t, CanTransition(OrderStatusShipped, OrderStatusCancelled))
	assert.False(t, CanTransition(OrderStatusDelivered, OrderStatusProcessing))
	assert.False(t, CanTransition(OrderStatusPlaced, OrderStatusDelivered))
	assert.False(t, CanTransition(OrderStatusExpired, OrderStatusPlaced))

	err := ValidateTransition(OrderStatusCancelled, OrderStatusPlaced)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "cancelled -> placed")
}

func TestOrder_IsAwaitingPayment(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	later := now.Add(10 * time.Minute)
	earlier := now.Add(-time.Minute)

	assert.True(t, (&Order{Status: OrderStatusPendingPayment, ExpiresAt: &later}).IsAwaitingPayment(now))
	assert.False(t, (&Order{Status: OrderStatusPendingPayment, ExpiresAt: &earlier}).IsAwaitingPayment(now))
	assert.False(t, (&Order{Status: OrderStatusPlaced}).IsAwaitingPayment(now))
}

func TestShowcase_IsLive(t *testing.T) {
	now := time.Date(2026, 12, 20, 9, 0, 0, 0, time.UTC)
	start := now.Add(-24 * time.Hour)
	end := now.Add(24 * time.Hour)

	assert.True(t, (&ShowcaseSection{IsActive: true}).IsLive(now), "open bounds")
	assert.True(t, (&ShowcaseSection{IsActive: true, StartsAt: &start, EndsAt: &end}).IsLive(now))
	assert.False(t, (&ShowcaseSection{IsActive: false, StartsAt: &start, EndsAt: &end}).IsLive(now))
	assert.False(t, (&ShowcaseSection{IsActive: true, StartsAt: &end}).IsLive(now), "not started")
	assert.False(t, (&ShowcaseSection{IsActive: true, EndsAt: &now}).IsLive(now), "end is exclusive")
}

func TestJSONColumns(t *testing.T) {
	var attrs Attributes
	require.NoError(t, attrs.Scan([]byte(`{"color":"red"}`)))
	assert.Equal(t, "red", attrs["color"])

	val, err := Attributes(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", val)

	var images StringList
	require.NoError(t, images.Scan(`["a.png","b.png"]`))
	assert.Len(t, images, 2)
	require.NoError(t, images.Scan(nil))
	assert.Nil(t, images)

	var addr ShippingAddress
	require.NoError(t, addr.Scan([]byte(`{"fullName":"Asha","pincode":"560001"}`)))
	assert.Equal(t, "560001", addr.Pincode)

	assert.Error(t, attrs.Scan(42))
}

func TestBuildCategoryTree(t *testing.T) {
	one, two := int64(1), int64(2)
	missing := int64(99)
	tree := BuildCategoryTree([]Category{
		{ID: 1, Name: "Toys"},
		{ID: 2, Name: "Building Sets", ParentID: &one},
		{ID: 3, Name: "Technic", ParentID: &two},
		{ID: 4, Name: "PC Parts"},
		{ID: 5, Name: "Orphan", ParentID: &missing},
	})

	require.Len(t, tree, 3)
	assert.Equal(t, "Toys", tree[0].Name)
	require.Len(t, tree[0].Children, 1)
	require.Len(t, tree[0].Children[0].Children, 1)
	assert.Equal(t, "Technic", tree[0].Children[0].Children[0].Name)
	assert.Equal(t, "Orphan", tree[2].Name)
}

func TestPassword(t *testing.T) {
	var p Password
	require.NoError(t, p.Set("correct horse"))

	ok, err := p.Matches("correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Matches("wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}
