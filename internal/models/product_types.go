package models

import (
	"database/sql/driver"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product statuses.
const (
	ProductStatusDraft    = "draft"
	ProductStatusActive   = "active"
	ProductStatusArchived = "archived"
)

// Product is the model for the 'products' table.
type Product struct {
	ID          int64      `json:"id" db:"id"`
	Slug        string     `json:"slug" db:"slug"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	Brand       string     `json:"brand" db:"brand"`
	CategoryID  *int64     `json:"categoryId,omitempty" db:"category_id"`
	Images      StringList `json:"images" db:"images"`
	Status      string     `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`

	// Joins (not in the table)
	CategoryName string    `json:"categoryName,omitempty" db:"-"`
	Variants     []Variant `json:"variants,omitempty" db:"-"`
}

// FindVariant returns the first active variant matching every requested attribute.
func (p *Product) FindVariant(want map[string]string) (*Variant, bool) {
	for i := range p.Variants {
		v := &p.Variants[i]
		if v.IsActive && v.MatchesAttributes(want) {
			return v, true
		}
	}
	return nil, false
}

// PriceRange returns the lowest and highest effective price over active variants.
func (p *Product) PriceRange() (min, max decimal.Decimal) {
	first := true
	for _, v := range p.Variants {
		if !v.IsActive {
			continue
		}
		price := v.EffectivePrice()
		if first {
			min, max = price, price
			first = false
			continue
		}
		if price.LessThan(min) {
			min = price
		}
		if price.GreaterThan(max) {
			max = price
		}
	}
	return min, max
}

// Attributes is the option set of a variant, e.g. {"color": "red", "size": "L"}.
// Stored as a JSON object.
type Attributes map[string]string

func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	return jsonValue(map[string]string(a))
}

func (a *Attributes) Scan(src interface{}) error {
	*a = nil
	return scanJSON(src, (*map[string]string)(a))
}

// Variant is the model for the 'product_variants' table.
type Variant struct {
	ID          int64               `json:"id" db:"id"`
	ProductID   int64               `json:"productId" db:"product_id"`
	SKU         string              `json:"sku" db:"sku"`
	Attributes  Attributes          `json:"attributes" db:"attributes"`
	Price       decimal.Decimal     `json:"price" db:"price"`
	SalePrice   decimal.NullDecimal `json:"salePrice" db:"sale_price"`
	Stock       int                 `json:"stock" db:"stock"`
	WeightGrams int                 `json:"weightGrams" db:"weight_grams"`
	IsActive    bool                `json:"isActive" db:"is_active"`
	CreatedAt   time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time           `json:"updatedAt" db:"updated_at"`
}

// IsInStock reports whether qty units can be sold right now.
func (v *Variant) IsInStock(qty int) bool {
	return qty > 0 && v.Stock >= qty
}

// EffectivePrice is the sale price when one is set and actually lower
// than the list price, otherwise the list price.
func (v *Variant) EffectivePrice() decimal.Decimal {
	if v.SalePrice.Valid && v.SalePrice.Decimal.IsPositive() && v.SalePrice.Decimal.LessThan(v.Price) {
		return v.SalePrice.Decimal
	}
	return v.Price
}

// OnSale reports whether EffectivePrice is discounted.
func (v *Variant) OnSale() bool {
	return !v.EffectivePrice().Equal(v.Price)
}

// MatchesAttributes compares keys and values case-insensitively.
// An empty filter matches every variant.
func (v *Variant) MatchesAttributes(want map[string]string) bool {
	for key, val := range want {
		found := false
		for k, have := range v.Attributes {
			if strings.EqualFold(k, key) {
				found = strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(val))
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
