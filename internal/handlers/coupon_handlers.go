package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/toyforge/storefront/internal/database"
	"github.com/toyforge/storefront/internal/models"
	"github.com/toyforge/storefront/internal/pricing"
)

const couponColumns = "id, code, description, discount_type, discount_value, max_discount, min_order_value, usage_limit, per_user_limit, used_count, starts_at, expires_at, is_active, created_at, updated_at"

func scanCoupon(row interface{ Scan(...interface{}) error }) (*models.Coupon, error) {
	var cp models.Coupon
	var usageLimit sql.NullInt64
	var startsAt, expiresAt sql.NullTime
	if err := row.Scan(&cp.ID, &cp.Code, &cp.Description, &cp.DiscountType, &cp.DiscountValue, &cp.MaxDiscount,
		&cp.MinOrderValue, &usageLimit, &cp.PerUserLimit, &cp.UsedCount, &startsAt, &expiresAt,
		&cp.IsActive, &cp.CreatedAt, &cp.UpdatedAt); err != nil {
		return nil, err
	}
	if usageLimit.Valid {
		n := int(usageLimit.Int64)
		cp.UsageLimit = &n
	}
	if startsAt.Valid {
		cp.StartsAt = &startsAt.Time
	}
	if expiresAt.Valid {
		cp.ExpiresAt = &expiresAt.Time
	}
	return &cp, nil
}

// getCouponByCode loads a coupon; lock keeps the row locked for the transaction.
func getCouponByCode(ctx context.Context, q querier, code string, lock bool) (*models.Coupon, error) {
	query := "SELECT " + couponColumns + " FROM coupons WHERE code = ?"
	if lock {
		query += " FOR UPDATE"
	}
	return scanCoupon(q.QueryRowContext(ctx, query, pricing.NormalizeCouponCode(code)))
}

// couponUsage counts the customer's live redemptions of a coupon.
func couponUsage(ctx context.Context, q querier, couponID, userID int64) (pricing.CouponUsage, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = ? AND user_id = ?", couponID, userID).Scan(&n)
	return pricing.CouponUsage{UserRedemptions: n}, err
}

//
// --- Customer ---
//

type ValidateCouponInput struct {
	Code      string `json:"code" binding:"required,coupon_code"`
	AddressID int64  `json:"addressId" binding:"omitempty,gt=0"`
}

// ValidateCoupon handles POST /v1/coupons/validate
// It prices the current cart with the coupon applied.
func (h *Handlers) ValidateCoupon(c *gin.Context) {
	var input ValidateCouponInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	draft, err := h.priceCart(c.Request.Context(), h.DB, currentUserID(c), input.AddressID, input.Code, false)
	if err != nil {
		h.respondError(c, "Failed to validate coupon", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":       true,
		"code":        draft.Coupon.Code,
		"description": draft.Coupon.Description,
		"discount":    draft.Quote.Discount,
		"quote":       draft.Quote,
	})
}

//
// --- Admin ---
//

type CouponInput struct {
	Code          string              `json:"code" binding:"required,coupon_code"`
	Description   string              `json:"description" binding:"max=255"`
	DiscountType  string              `json:"discountType" binding:"required,oneof=percentage fixed"`
	DiscountValue decimal.Decimal     `json:"discountValue"`
	MaxDiscount   decimal.NullDecimal `json:"maxDiscount"`
	MinOrderValue decimal.Decimal     `json:"minOrderValue"`
	UsageLimit    *int                `json:"usageLimit" binding:"omitempty,gt=0"`
	PerUserLimit  *int                `json:"perUserLimit" binding:"omitempty,gte=0"`
	StartsAt      *time.Time          `json:"startsAt"`
	ExpiresAt     *time.Time          `json:"expiresAt"`
	IsActive      *bool               `json:"isActive"`
}

func (in *CouponInput) validate() error {
	if !in.DiscountValue.IsPositive() {
		return errors.New("discountValue must be positive")
	}
	if in.DiscountType == models.CouponTypePercentage && in.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("a percentage discount cannot exceed 100")
	}
	if in.MaxDiscount.Valid && !in.MaxDiscount.Decimal.IsPositive() {
		return errors.New("maxDiscount must be positive")
	}
	if in.MinOrderValue.IsNegative() {
		return errors.New("minOrderValue cannot be negative")
	}
	if in.StartsAt != nil && in.ExpiresAt != nil && !in.ExpiresAt.After(*in.StartsAt) {
		return errors.New("expiresAt must be after startsAt")
	}
	return nil
}

func (in *CouponInput) perUserLimit() int {
	if in.PerUserLimit == nil {
		return 1
	}
	return *in.PerUserLimit
}

func (in *CouponInput) active() bool {
	return in.IsActive == nil || *in.IsActive
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func intPtrArg(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

// ListCoupons handles GET /v1/admin/coupons
func (h *Handlers) ListCoupons(c *gin.Context) {
	page, limit, offset := pageParams(c, 20, 100)
	ctx := c.Request.Context()

	var total int
	if err := h.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM coupons").Scan(&total); err != nil {
		h.serverError(c, "Failed to count coupons", err)
		return
	}

	rows, err := h.DB.QueryContext(ctx,
		"SELECT "+couponColumns+" FROM coupons ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		h.serverError(c, "Failed to fetch coupons", err)
		return
	}
	defer rows.Close()

	coupons := []models.Coupon{}
	for rows.Next() {
		cp, err := scanCoupon(rows)
		if err != nil {
			h.serverError(c, "Failed to scan coupon", err)
			return
		}
		coupons = append(coupons, *cp)
	}

	c.JSON(http.StatusOK, gin.H{
		"coupons": coupons,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// CreateCoupon handles POST /v1/admin/coupons
func (h *Handlers) CreateCoupon(c *gin.Context) {
	var input CouponInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := input.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	now := h.now()
	code := pricing.NormalizeCouponCode(input.Code)
	res, err := h.DB.ExecContext(ctx, `
		INSERT INTO coupons (code, description, discount_type, discount_value, max_discount, min_order_value,
			usage_limit, per_user_limit, used_count, starts_at, expires_at, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		code, strings.TrimSpace(input.Description), input.DiscountType, input.DiscountValue, input.MaxDiscount,
		input.MinOrderValue, intPtrArg(input.UsageLimit), input.perUserLimit(), utcPtr(input.StartsAt), utcPtr(input.ExpiresAt),
		input.active(), now, now,
	)
	if err != nil {
		if database.IsDuplicateEntry(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "A coupon with this code already exists"})
			return
		}
		h.serverError(c, "Failed to create coupon", err)
		return
	}
	id, _ := res.LastInsertId()

	cp, err := scanCoupon(h.DB.QueryRowContext(ctx, "SELECT "+couponColumns+" FROM coupons WHERE id = ?", id))
	if err != nil {
		h.serverError(c, "Failed to reload coupon", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"coupon": cp})
}

// UpdateCoupon handles PUT /v1/admin/coupons/:id
// used_count is never written here; it only moves with orders.
func (h *Handlers) UpdateCoupon(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input CouponInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := input.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	res, err := h.DB.ExecContext(ctx, `
		UPDATE coupons
		SET code = ?, description = ?, discount_type = ?, discount_value = ?, max_discount = ?, min_order_value = ?,
			usage_limit = ?, per_user_limit = ?, starts_at = ?, expires_at = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		pricing.NormalizeCouponCode(input.Code), strings.TrimSpace(input.Description), input.DiscountType,
		input.DiscountValue, input.MaxDiscount, input.MinOrderValue, intPtrArg(input.UsageLimit), input.perUserLimit(),
		utcPtr(input.StartsAt), utcPtr(input.ExpiresAt), input.active(), h.now(), id,
	)
	if err != nil {
		if database.IsDuplicateEntry(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "A coupon with this code already exists"})
			return
		}
		h.serverError(c, "Failed to update coupon", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Coupon not found"})
		return
	}

	cp, err := scanCoupon(h.DB.QueryRowContext(ctx, "SELECT "+couponColumns+" FROM coupons WHERE id = ?", id))
	if err != nil {
		h.serverError(c, "Failed to reload coupon", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupon": cp})
}

// DeleteCoupon handles DELETE /v1/admin/coupons/:id
// A coupon that was ever redeemed is deactivated instead so orders keep their reference.
func (h *Handlers) DeleteCoupon(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var usedCount int
	err := h.DB.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM orders WHERE coupon_id = cp.id)
		FROM coupons cp WHERE cp.id = ?`, id).Scan(&usedCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Coupon not found"})
			return
		}
		h.serverError(c, "Failed to fetch coupon", err)
		return
	}

	if usedCount > 0 {
		if _, err := h.DB.ExecContext(ctx, "UPDATE coupons SET is_active = FALSE, updated_at = ? WHERE id = ?", h.now(), id); err != nil {
			h.serverError(c, "Failed to deactivate coupon", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Coupon has orders and was deactivated"})
		return
	}

	if _, err := h.DB.ExecContext(ctx, "DELETE FROM coupons WHERE id = ?", id); err != nil {
		h.serverError(c, "Failed to delete coupon", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Coupon deleted"})
}
