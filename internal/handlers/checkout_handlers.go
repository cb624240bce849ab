package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/models"
	"github.com/toyforge/storefront/internal/payment"
	"github.com/toyforge/storefront/internal/pricing"
	"go.uber.org/zap"
)

//
// --- Checkout Handlers (Customer) ---
//

// checkoutDraft is the priced cart a checkout step works from.
type checkoutDraft struct {
	Lines   []cartLine
	Address *models.Address // nil when previewing without an address
	Coupon  *models.Coupon
	Quote   *pricing.Quote
}

// priceCart loads the user's cart, address and coupon and prices them. With
// lock every row read stays locked until q's transaction ends. addressID 0
// falls back to the default address, then to the store's own state.
func (h *Handlers) priceCart(ctx context.Context, q querier, userID, addressID int64, couponCode string, lock bool) (*checkoutDraft, error) {
	draft := &checkoutDraft{}

	// 1. --- Cart Lines ---
	lines, err := loadCartLines(ctx, q, userID, lock)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, newAPIError(http.StatusBadRequest, "Your cart is empty")
	}
	var problems []gin.H
	for i := range lines {
		if p := lines[i].Problem(); p != "" {
			problems = append(problems, gin.H{"variantId": lines[i].Variant.ID, "productName": lines[i].ProductName, "problem": p})
		}
	}
	if len(problems) > 0 {
		return nil, &apiError{Status: http.StatusConflict, Message: "Some items in your cart are unavailable", Details: gin.H{"items": problems}}
	}
	draft.Lines = lines

	// 2. --- Destination ---
	dest := pricing.Destination{State: h.Config.Store.StoreState, Country: "IN"}
	if addressID != 0 {
		draft.Address, err = getOwnedAddress(ctx, q, userID, addressID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newAPIError(http.StatusNotFound, "Address not found")
		}
	} else {
		draft.Address, err = scanAddress(q.QueryRowContext(ctx,
			"SELECT "+addressColumns+" FROM addresses WHERE user_id = ? AND is_default = TRUE LIMIT 1", userID))
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
		}
	}
	if err != nil {
		return nil, err
	}
	if draft.Address != nil {
		dest = pricing.Destination{State: draft.Address.State, Country: draft.Address.Country}
	}

	// 3. --- Coupon ---
	var usage pricing.CouponUsage
	if code := pricing.NormalizeCouponCode(couponCode); code != "" {
		draft.Coupon, err = getCouponByCode(ctx, q, code, lock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, &apiError{Status: http.StatusBadRequest, Message: "Coupon not found", Details: gin.H{"code": "coupon_invalid"}}
			}
			return nil, err
		}
		if usage, err = couponUsage(ctx, q, draft.Coupon.ID, userID); err != nil {
			return nil, err
		}
	}

	// 4. --- Price ---
	draft.Quote, err = pricing.Calculate(pricingLines(lines), draft.Coupon, usage, dest, h.pricingRules(), h.now())
	if err != nil {
		if pricing.IsCouponError(err) {
			return nil, &apiError{Status: http.StatusBadRequest, Message: err.Error(), Details: gin.H{"code": "coupon_invalid"}}
		}
		if errors.Is(err, pricing.ErrEmptyCart) || errors.Is(err, pricing.ErrInvalidQuantity) {
			return nil, newAPIError(http.StatusBadRequest, err.Error())
		}
		return nil, err
	}
	return draft, nil
}

type QuoteInput struct {
	AddressID  int64  `json:"addressId" binding:"omitempty,gt=0"`
	CouponCode string `json:"couponCode" binding:"omitempty,coupon_code"`
}

// Quote handles POST /v1/checkout/quote
func (h *Handlers) Quote(c *gin.Context) {
	var input QuoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	draft, err := h.priceCart(c.Request.Context(), h.DB, currentUserID(c), input.AddressID, input.CouponCode, false)
	if err != nil {
		h.respondError(c, "Failed to price cart", err)
		return
	}
	resp := gin.H{"quote": draft.Quote}
	if draft.Address != nil {
		resp["address"] = draft.Address
	}
	c.JSON(http.StatusOK, resp)
}

type CreateOrderInput struct {
	AddressID     int64  `json:"addressId" binding:"required,gt=0"`
	CouponCode    string `json:"couponCode" binding:"omitempty,coupon_code"`
	PaymentMethod string `json:"paymentMethod" binding:"required,oneof=razorpay cod"`
}

// CreateOrder handles POST /v1/checkout/orders
// The cart becomes an order in one transaction; a razorpay order then gets
// its gateway session outside it.
func (h *Handlers) CreateOrder(c *gin.Context) {
	userID := currentUserID(c)
	var input CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	// 1. --- Begin Transaction ---
	tx, err := h.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		h.serverError(c, "Failed to start transaction", err)
		return
	}
	defer tx.Rollback()

	// 2. --- Lock & Price Cart ---
	draft, err := h.priceCart(ctx, tx, userID, input.AddressID, input.CouponCode, true)
	if err != nil {
		h.respondError(c, "Failed to price cart", err)
		return
	}
	quote := draft.Quote

	// 3. --- Insert Order ---
	now := h.now()
	order := &models.Order{
		OrderNumber:     newOrderNumber(now),
		UserID:          userID,
		PaymentMethod:   input.PaymentMethod,
		Currency:        quote.Currency,
		Subtotal:        quote.Subtotal,
		Discount:        quote.Discount,
		Tax:             quote.Tax,
		TaxLines:        quote.TaxLines,
		Shipping:        quote.Shipping,
		Total:           quote.Total,
		ShippingAddress: draft.Address.Snapshot(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if input.PaymentMethod == models.PaymentMethodCOD {
		order.Status = models.OrderStatusPlaced
		order.PaymentStatus = models.PaymentStatusCOD
	} else {
		order.Status = models.OrderStatusPendingPayment
		order.PaymentStatus = models.PaymentStatusPending
		expires := now.Add(h.Config.Store.PendingPaymentTTL)
		order.ExpiresAt = &expires
	}
	if draft.Coupon != nil {
		order.CouponID = &draft.Coupon.ID
		order.CouponCode = &draft.Coupon.Code
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders (order_number, user_id, status, payment_method, payment_status, currency,
			subtotal, discount, tax, tax_lines, shipping, total, coupon_id, coupon_code, shipping_address,
			payment_attempts, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		order.OrderNumber, order.UserID, order.Status, order.PaymentMethod, order.PaymentStatus, order.Currency,
		order.Subtotal, order.Discount, order.Tax, order.TaxLines, order.Shipping, order.Total,
		order.CouponID, order.CouponCode, order.ShippingAddress, order.ExpiresAt, now, now,
	)
	if err != nil {
		h.serverError(c, "Failed to create order", err)
		return
	}
	order.ID, _ = res.LastInsertId()

	// 4. --- Snapshot Items & Reserve Stock ---
	for _, line := range quote.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, variant_id, product_name, sku, attributes, quantity, unit_price, line_total, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, line.ProductID, line.VariantID, line.ProductName, line.SKU, line.Attributes,
			line.Quantity, line.UnitPrice, line.LineTotal, now)
		if err != nil {
			h.serverError(c, "Failed to save order item", err)
			return
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE product_variants SET stock = stock - ? WHERE id = ? AND stock >= ?",
			line.Quantity, line.VariantID, line.Quantity)
		if err != nil {
			h.serverError(c, "Failed to reserve stock", err)
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "Not enough stock for " + line.ProductName, "variantId": line.VariantID})
			return
		}
	}

	// 5. --- Redeem Coupon ---
	if draft.Coupon != nil {
		if _, err := tx.ExecContext(ctx, "UPDATE coupons SET used_count = used_count + 1 WHERE id = ?", draft.Coupon.ID); err != nil {
			h.serverError(c, "Failed to redeem coupon", err)
			return
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO coupon_redemptions (coupon_id, user_id, order_id, created_at) VALUES (?, ?, ?, ?)",
			draft.Coupon.ID, userID, order.ID, now); err != nil {
			h.serverError(c, "Failed to redeem coupon", err)
			return
		}
	}

	// 6. --- Clear Cart & Commit ---
	if err := clearCart(ctx, tx, userID); err != nil {
		h.serverError(c, "Failed to clear cart", err)
		return
	}
	if err := tx.Commit(); err != nil {
		h.serverError(c, "Failed to commit order", err)
		return
	}

	h.Logger.Info("order created",
		zap.Int64("orderId", order.ID),
		zap.String("orderNumber", order.OrderNumber),
		zap.String("paymentMethod", order.PaymentMethod),
		zap.String("total", order.Total.StringFixed(2)),
	)

	// 7. --- Payment ---
	if order.PaymentMethod == models.PaymentMethodCOD {
		h.sendOrderConfirmation(ctx, order)
		c.JSON(http.StatusCreated, gin.H{"order": order, "quote": quote})
		return
	}

	gwOrder, err := h.startGatewayPayment(ctx, order)
	if err != nil {
		// The order exists; the client retries payment from the order page.
		h.Logger.Error("gateway order creation failed", zap.Int64("orderId", order.ID), zap.Error(err))
		c.JSON(http.StatusCreated, gin.H{
			"order":        order,
			"quote":        quote,
			"paymentError": "Could not start the payment. Please retry from your orders.",
			"canRetry":     h.canRetryPayment(order),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order, "quote": quote, "payment": h.newPaymentSession(gwOrder)})
}

type VerifyPaymentInput struct {
	RazorpayOrderID   string `json:"razorpayOrderId" binding:"required"`
	RazorpayPaymentID string `json:"razorpayPaymentId" binding:"required"`
	RazorpaySignature string `json:"razorpaySignature" binding:"required"`
}

// VerifyPayment handles POST /v1/checkout/verify
func (h *Handlers) VerifyPayment(c *gin.Context) {
	var input VerifyPaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.Gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Online payments are not available"})
		return
	}

	// 1. --- Signature ---
	if err := h.Gateway.VerifyPaymentSignature(input.RazorpayOrderID, input.RazorpayPaymentID, input.RazorpaySignature); err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			h.Logger.Warn("payment signature mismatch",
				zap.Int64("userId", currentUserID(c)),
				zap.String("razorpayOrderId", input.RazorpayOrderID),
			)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Payment verification failed"})
			return
		}
		h.serverError(c, "Failed to verify payment", err)
		return
	}

	// 2. --- Settle ---
	order, err := h.confirmPayment(c.Request.Context(), input.RazorpayOrderID, input.RazorpayPaymentID, currentUserID(c), 0)
	if err != nil {
		h.respondError(c, "Failed to confirm payment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment verified", "order": order})
}

type PaymentFailedInput struct {
	RazorpayOrderID string `json:"razorpayOrderId" binding:"required"`
	Code            string `json:"code"`
	Description     string `json:"description"`
}

// PaymentFailed handles POST /v1/checkout/payment-failed
// The browser reports a declined or abandoned payment.
func (h *Handlers) PaymentFailed(c *gin.Context) {
	var input PaymentFailedInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := h.markPaymentFailed(c.Request.Context(), input.RazorpayOrderID, currentUserID(c), input.Code, input.Description)
	if err != nil {
		h.respondError(c, "Failed to record payment failure", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":    order,
		"canRetry": h.canRetryPayment(order),
	})
}
