package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/models"
	"go.uber.org/zap"
)

//
// --- Order Handlers (Customer) ---
//

// GetMyOrders handles GET /v1/orders
func (h *Handlers) GetMyOrders(c *gin.Context) {
	userID := currentUserID(c)
	page, limit, offset := pageParams(c, 10, 50)
	ctx := c.Request.Context()

	var total int
	if err := h.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders WHERE user_id = ?", userID).Scan(&total); err != nil {
		h.serverError(c, "Failed to count orders", err)
		return
	}

	rows, err := h.DB.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders o WHERE o.user_id = ? ORDER BY o.created_at DESC, o.id DESC LIMIT ? OFFSET ?",
		userID, limit, offset)
	if err != nil {
		h.serverError(c, "Failed to fetch orders", err)
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			h.serverError(c, "Failed to scan order data", err)
			return
		}
		orders = append(orders, *o)
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetOrderDetails handles GET /v1/orders/:id
func (h *Handlers) GetOrderDetails(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// 1. --- Fetch Order & Verify Ownership ---
	order, err := getOrder(ctx, h.DB, orderID, currentUserID(c), false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		h.serverError(c, "Failed to fetch order", err)
		return
	}

	// 2. --- Fetch Item Snapshots ---
	items, err := loadOrderItems(ctx, h.DB, order.ID)
	if err != nil {
		h.serverError(c, "Failed to fetch order items", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":    order,
		"items":    items,
		"canRetry": h.canRetryPayment(order),
	})
}

// CancelMyOrder handles POST /v1/orders/:id/cancel
func (h *Handlers) CancelMyOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.cancelOrder(c.Request.Context(), orderID, currentUserID(c), false)
	if err != nil {
		h.respondError(c, "Failed to cancel order", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled", "order": order})
}

// RetryPayment handles POST /v1/orders/:id/retry-payment
// It opens a fresh gateway order for an unpaid, unexpired razorpay order.
func (h *Handlers) RetryPayment(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	order, err := getOrder(ctx, h.DB, orderID, currentUserID(c), false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		h.serverError(c, "Failed to fetch order", err)
		return
	}

	switch {
	case order.PaymentMethod != models.PaymentMethodRazorpay:
		c.JSON(http.StatusBadRequest, gin.H{"error": "This order is not paid online"})
		return
	case !order.IsAwaitingPayment(h.now()):
		c.JSON(http.StatusConflict, gin.H{"error": "This order is no longer awaiting payment", "status": order.Status})
		return
	case order.PaymentAttempts >= h.Config.Store.MaxPaymentAttempts:
		c.JSON(http.StatusConflict, gin.H{"error": "No payment attempts left for this order"})
		return
	}

	gwOrder, err := h.startGatewayPayment(ctx, order)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			h.respondError(c, "Failed to start payment", err)
			return
		}
		h.Logger.Error("gateway order creation failed", zap.Int64("orderId", order.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "Could not start the payment. Please try again.",
			"canRetry": h.canRetryPayment(order),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order, "payment": h.newPaymentSession(gwOrder)})
}

//
// --- Order Handlers (Admin) ---
//

// ListOrders handles GET /v1/admin/orders?status=&paymentStatus=&q=
func (h *Handlers) ListOrders(c *gin.Context) {
	page, limit, offset := pageParams(c, 20, 100)
	ctx := c.Request.Context()

	where := []string{"1 = 1"}
	var args []interface{}
	if s := c.Query("status"); s != "" {
		if !models.IsValidOrderStatus(s) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown order status"})
			return
		}
		where = append(where, "o.status = ?")
		args = append(args, s)
	}
	if s := c.Query("paymentStatus"); s != "" {
		where = append(where, "o.payment_status = ?")
		args = append(args, s)
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		where = append(where, "(o.order_number LIKE ? OR u.email LIKE ?)")
		args = append(args, "%"+q+"%", "%"+q+"%")
	}
	filter := " FROM orders o JOIN users u ON u.id = o.user_id WHERE " + strings.Join(where, " AND ")

	var total int
	if err := h.DB.QueryRowContext(ctx, "SELECT COUNT(*)"+filter, args...).Scan(&total); err != nil {
		h.serverError(c, "Failed to count orders", err)
		return
	}

	rows, err := h.DB.QueryContext(ctx,
		"SELECT "+orderColumns+filter+" ORDER BY o.created_at DESC, o.id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		h.serverError(c, "Failed to fetch orders", err)
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			h.serverError(c, "Failed to scan order data", err)
			return
		}
		orders = append(orders, *o)
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

type UpdateOrderStatusInput struct {
	Status   string `json:"status" binding:"required,oneof=processing shipped delivered cancelled"`
	Tracking string `json:"tracking" binding:"max=255"`
}

// UpdateOrderStatus handles PATCH /v1/admin/orders/:id/status
// placed and expired are reached only through payment and the sweeper.
func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input UpdateOrderStatusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	if input.Status == models.OrderStatusCancelled {
		order, err := h.cancelOrder(ctx, orderID, 0, true)
		if err != nil {
			h.respondError(c, "Failed to cancel order", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Order cancelled", "order": order})
		return
	}

	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		h.serverError(c, "Failed to start transaction", err)
		return
	}
	defer tx.Rollback()

	order, err := getOrder(ctx, tx, orderID, 0, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		h.serverError(c, "Failed to fetch order", err)
		return
	}
	if err := models.ValidateTransition(order.Status, input.Status); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if input.Status == models.OrderStatusShipped && strings.TrimSpace(input.Tracking) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Tracking is required when shipping an order"})
		return
	}

	now := h.now()
	tracking := order.Tracking
	if t := strings.TrimSpace(input.Tracking); t != "" {
		tracking = &t
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = ?, tracking = ?, updated_at = ? WHERE id = ?",
		input.Status, nullString(tracking), now, order.ID); err != nil {
		h.serverError(c, "Failed to update order status", err)
		return
	}
	// A delivered COD order has been paid at the door.
	if input.Status == models.OrderStatusDelivered && order.PaymentMethod == models.PaymentMethodCOD {
		if _, err := tx.ExecContext(ctx,
			"UPDATE orders SET payment_status = ?, paid_at = ? WHERE id = ?",
			models.PaymentStatusPaid, now, order.ID); err != nil {
			h.serverError(c, "Failed to update payment status", err)
			return
		}
		order.PaymentStatus = models.PaymentStatusPaid
		order.PaidAt = &now
	}
	if err := tx.Commit(); err != nil {
		h.serverError(c, "Failed to commit transaction", err)
		return
	}

	h.Logger.Info("order status updated",
		zap.Int64("orderId", order.ID),
		zap.String("from", order.Status),
		zap.String("to", input.Status),
		zap.Int64("adminId", currentUserID(c)),
	)
	order.Status = input.Status
	order.Tracking = tracking
	order.UpdatedAt = now
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order": order})
}
