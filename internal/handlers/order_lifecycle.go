package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/toyforge/storefront/internal/email"
	"github.com/toyforge/storefront/internal/models"
	"github.com/toyforge/storefront/internal/payment"
	"github.com/toyforge/storefront/internal/pricing"
	"go.uber.org/zap"
)

const orderColumns = `o.id, o.order_number, o.user_id, o.status, o.payment_method, o.payment_status, o.currency,
	o.subtotal, o.discount, o.tax, o.tax_lines, o.shipping, o.total, o.coupon_id, o.coupon_code, o.shipping_address,
	o.razorpay_order_id, o.razorpay_payment_id, o.payment_attempts, o.tracking, o.expires_at, o.paid_at, o.created_at, o.updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	var o models.Order
	var couponID sql.NullInt64
	var couponCode, rzpOrderID, rzpPaymentID, tracking sql.NullString
	var expiresAt, paidAt sql.NullTime
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentMethod, &o.PaymentStatus, &o.Currency,
		&o.Subtotal, &o.Discount, &o.Tax, &o.TaxLines, &o.Shipping, &o.Total, &couponID, &couponCode, &o.ShippingAddress,
		&rzpOrderID, &rzpPaymentID, &o.PaymentAttempts, &tracking, &expiresAt, &paidAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if couponID.Valid {
		o.CouponID = &couponID.Int64
	}
	if couponCode.Valid {
		o.CouponCode = &couponCode.String
	}
	if rzpOrderID.Valid {
		o.RazorpayOrderID = &rzpOrderID.String
	}
	if rzpPaymentID.Valid {
		o.RazorpayPaymentID = &rzpPaymentID.String
	}
	if tracking.Valid {
		o.Tracking = &tracking.String
	}
	if expiresAt.Valid {
		o.ExpiresAt = &expiresAt.Time
	}
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	return &o, nil
}

// getOrder loads an order. userID 0 skips the ownership check.
func getOrder(ctx context.Context, q querier, orderID, userID int64, lock bool) (*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders o WHERE o.id = ?"
	args := []interface{}{orderID}
	if userID != 0 {
		query += " AND o.user_id = ?"
		args = append(args, userID)
	}
	if lock {
		query += " FOR UPDATE"
	}
	return scanOrder(q.QueryRowContext(ctx, query, args...))
}

func loadOrderItems(ctx context.Context, q querier, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, variant_id, product_name, sku, attributes, quantity, unit_price, line_total, created_at
		FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.ProductName, &it.SKU,
			&it.Attributes, &it.Quantity, &it.UnitPrice, &it.LineTotal, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("TF-%s-%s", now.Format("20060102"), suffix)
}

// releaseOrder puts the order's stock and coupon usage back. The caller
// holds the order row lock and sets the terminal status.
func releaseOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	items, err := loadOrderItems(ctx, tx, order.ID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, "UPDATE product_variants SET stock = stock + ? WHERE id = ?", it.Quantity, it.VariantID); err != nil {
			return fmt.Errorf("restore stock for variant %d: %w", it.VariantID, err)
		}
	}

	if order.CouponID != nil {
		res, err := tx.ExecContext(ctx, "DELETE FROM coupon_redemptions WHERE order_id = ?", order.ID)
		if err != nil {
			return fmt.Errorf("delete redemption: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := tx.ExecContext(ctx, "UPDATE coupons SET used_count = GREATEST(used_count - 1, 0) WHERE id = ?", *order.CouponID); err != nil {
				return fmt.Errorf("release coupon: %w", err)
			}
		}
	}
	return nil
}

// cancelOrder moves an order to cancelled and releases it. Customers may only
// cancel before processing starts. A captured payment is refunded after commit.
func (h *Handlers) cancelOrder(ctx context.Context, orderID, userID int64, byAdmin bool) (*models.Order, error) {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := getOrder(ctx, tx, orderID, userID, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newAPIError(http.StatusNotFound, "Order not found")
		}
		return nil, err
	}

	if !byAdmin && order.Status != models.OrderStatusPendingPayment && order.Status != models.OrderStatusPlaced {
		return nil, newAPIError(http.StatusConflict, "This order can no longer be cancelled")
	}
	if err := models.ValidateTransition(order.Status, models.OrderStatusCancelled); err != nil {
		return nil, &apiError{Status: http.StatusConflict, Message: "This order can no longer be cancelled", Details: gin.H{"status": order.Status}}
	}

	if err := releaseOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	now := h.now()
	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = ?, expires_at = NULL, updated_at = ? WHERE id = ?",
		models.OrderStatusCancelled, now, order.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	order.Status = models.OrderStatusCancelled
	order.ExpiresAt = nil
	order.UpdatedAt = now

	h.Logger.Info("order cancelled",
		zap.Int64("orderId", order.ID),
		zap.String("orderNumber", order.OrderNumber),
		zap.Bool("byAdmin", byAdmin),
	)

	if order.PaymentStatus == models.PaymentStatusPaid && order.RazorpayPaymentID != nil {
		if err := h.refundPayment(ctx, order.ID, *order.RazorpayPaymentID, pricing.ToMinorUnits(order.Total)); err != nil {
			h.Logger.Error("refund after cancel failed, left pending", zap.Int64("orderId", order.ID), zap.Error(err))
			h.markRefundPending(ctx, *order.RazorpayPaymentID)
		} else {
			order.PaymentStatus = models.PaymentStatusRefunded
		}
	}
	return order, nil
}

// refundPayment refunds a captured payment and records it. Failures are left
// for an operator; the order stays cancelled either way.
func (h *Handlers) refundPayment(ctx context.Context, orderID int64, paymentID string, amountMinor int64) error {
	if h.Gateway == nil {
		return errors.New("payment gateway not configured")
	}
	refund, err := h.Gateway.Refund(ctx, paymentID, amountMinor)
	if err != nil {
		return err
	}
	now := h.now()
	if _, err := h.DB.ExecContext(ctx,
		"UPDATE payments SET status = ?, updated_at = ? WHERE razorpay_payment_id = ?",
		models.PaymentAttemptRefunded, now, paymentID); err != nil {
		return fmt.Errorf("record refund: %w", err)
	}
	// Only the payment that settled the order changes its payment status.
	if _, err := h.DB.ExecContext(ctx,
		"UPDATE orders SET payment_status = ?, updated_at = ? WHERE id = ? AND razorpay_payment_id = ?",
		models.PaymentStatusRefunded, now, orderID, paymentID); err != nil {
		return fmt.Errorf("record refund: %w", err)
	}
	h.Logger.Info("payment refunded",
		zap.Int64("orderId", orderID),
		zap.String("paymentId", paymentID),
		zap.String("refundId", refund.ID),
		zap.Int64("amountMinor", amountMinor),
	)
	return nil
}

// markRefundPending flags a captured attempt so RetryPendingRefunds picks it up.
func (h *Handlers) markRefundPending(ctx context.Context, paymentID string) {
	if _, err := h.DB.ExecContext(ctx,
		"UPDATE payments SET status = ?, updated_at = ? WHERE razorpay_payment_id = ? AND status = ?",
		models.PaymentAttemptRefundPending, h.now(), paymentID, models.PaymentAttemptCaptured); err != nil {
		h.Logger.Error("failed to flag pending refund", zap.String("paymentId", paymentID), zap.Error(err))
	}
}

// RetryPendingRefunds re-issues refunds that failed earlier. Run from the
// background worker.
func (h *Handlers) RetryPendingRefunds(ctx context.Context) error {
	if h.Gateway == nil {
		return nil
	}
	rows, err := h.DB.QueryContext(ctx, `
		SELECT order_id, razorpay_payment_id, amount_minor FROM payments
		WHERE status = ? AND razorpay_payment_id IS NOT NULL
		ORDER BY id LIMIT ?`,
		models.PaymentAttemptRefundPending, overdueBatchSize)
	if err != nil {
		return fmt.Errorf("find pending refunds: %w", err)
	}
	type pendingRefund struct {
		orderID     int64
		paymentID   string
		amountMinor int64
	}
	var pending []pendingRefund
	for rows.Next() {
		var r pendingRefund
		if err := rows.Scan(&r.orderID, &r.paymentID, &r.amountMinor); err != nil {
			rows.Close()
			return fmt.Errorf("scan pending refund: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read pending refunds: %w", err)
	}

	var errs []error
	for _, r := range pending {
		if err := h.refundPayment(ctx, r.orderID, r.paymentID, r.amountMinor); err != nil {
			errs = append(errs, fmt.Errorf("payment %s: %w", r.paymentID, err))
		}
	}
	return errors.Join(errs...)
}

// startGatewayPayment opens a new Razorpay order for a pending order and
// records it as a payment attempt.
func (h *Handlers) startGatewayPayment(ctx context.Context, order *models.Order) (*payment.Order, error) {
	if h.Gateway == nil {
		return nil, newAPIError(http.StatusServiceUnavailable, "Online payments are not available")
	}

	// 1. --- Reserve an Attempt ---
	res, err := h.DB.ExecContext(ctx, `
		UPDATE orders SET payment_attempts = payment_attempts + 1, updated_at = ?
		WHERE id = ? AND status = ? AND payment_attempts < ?`,
		h.now(), order.ID, models.OrderStatusPendingPayment, h.Config.Store.MaxPaymentAttempts)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, newAPIError(http.StatusConflict, "No payment attempts left for this order")
	}
	order.PaymentAttempts++

	// 2. --- Create Gateway Order ---
	amount := pricing.ToMinorUnits(order.Total)
	receipt := fmt.Sprintf("%s-%d", order.OrderNumber, order.PaymentAttempts)
	gwOrder, err := h.Gateway.CreateOrder(ctx, amount, order.Currency, receipt, map[string]string{
		"order_id":     strconv.FormatInt(order.ID, 10),
		"order_number": order.OrderNumber,
	})
	if err != nil {
		return nil, err
	}

	// 3. --- Record Attempt ---
	now := h.now()
	if _, err := h.DB.ExecContext(ctx, `
		INSERT INTO payments (order_id, razorpay_order_id, amount_minor, currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, gwOrder.ID, amount, order.Currency, models.PaymentAttemptCreated, now, now); err != nil {
		return nil, fmt.Errorf("record payment attempt: %w", err)
	}
	if _, err := h.DB.ExecContext(ctx,
		"UPDATE orders SET razorpay_order_id = ?, payment_status = ?, updated_at = ? WHERE id = ?",
		gwOrder.ID, models.PaymentStatusPending, now, order.ID); err != nil {
		return nil, fmt.Errorf("link payment attempt: %w", err)
	}
	order.RazorpayOrderID = &gwOrder.ID
	order.PaymentStatus = models.PaymentStatusPending

	h.Logger.Info("gateway order created",
		zap.Int64("orderId", order.ID),
		zap.String("razorpayOrderId", gwOrder.ID),
		zap.Int("attempt", order.PaymentAttempts),
	)
	return gwOrder, nil
}

// paymentSession is what the browser needs to open Razorpay checkout.
type paymentSession struct {
	KeyID           string `json:"keyId"`
	RazorpayOrderID string `json:"razorpayOrderId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Receipt         string `json:"receipt"`
}

func (h *Handlers) newPaymentSession(gw *payment.Order) paymentSession {
	return paymentSession{
		KeyID:           h.Gateway.KeyID(),
		RazorpayOrderID: gw.ID,
		Amount:          gw.Amount,
		Currency:        gw.Currency,
		Receipt:         gw.Receipt,
	}
}

func (h *Handlers) canRetryPayment(o *models.Order) bool {
	return o.PaymentMethod == models.PaymentMethodRazorpay &&
		o.IsAwaitingPayment(h.now()) &&
		o.PaymentAttempts < h.Config.Store.MaxPaymentAttempts
}

// lockPaymentAttempt loads a payment attempt and its order, both locked.
func lockPaymentAttempt(ctx context.Context, tx *sql.Tx, rzpOrderID string, userID int64) (*models.Payment, *models.Order, error) {
	var p models.Payment
	var paymentID sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT id, order_id, razorpay_order_id, razorpay_payment_id, amount_minor, currency, status
		FROM payments WHERE razorpay_order_id = ? FOR UPDATE`, rzpOrderID,
	).Scan(&p.ID, &p.OrderID, &p.RazorpayOrderID, &paymentID, &p.AmountMinor, &p.Currency, &p.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, newAPIError(http.StatusNotFound, "Payment not found")
		}
		return nil, nil, err
	}
	if paymentID.Valid {
		p.RazorpayPaymentID = &paymentID.String
	}

	order, err := getOrder(ctx, tx, p.OrderID, userID, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, newAPIError(http.StatusNotFound, "Payment not found")
		}
		return nil, nil, err
	}
	return &p, order, nil
}

// confirmPayment settles an order with a captured payment. Repeating it with
// the same payment id returns the same order. userID 0 skips the ownership
// check (webhook); amountMinor 0 skips the amount check.
func (h *Handlers) confirmPayment(ctx context.Context, rzpOrderID, paymentID string, userID, amountMinor int64) (*models.Order, error) {
	if paymentID == "" {
		return nil, newAPIError(http.StatusBadRequest, "Payment id is required")
	}
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, order, err := lockPaymentAttempt(ctx, tx, rzpOrderID, userID)
	if err != nil {
		return nil, err
	}
	log := h.Logger.With(
		zap.Int64("orderId", order.ID),
		zap.String("razorpayOrderId", rzpOrderID),
		zap.String("paymentId", paymentID),
	)

	// 1. --- Already Seen ---
	if p.Status != models.PaymentAttemptCreated && p.Status != models.PaymentAttemptFailed {
		if p.RazorpayPaymentID == nil || *p.RazorpayPaymentID != paymentID {
			return nil, newAPIError(http.StatusConflict, "This payment session was already completed with a different payment")
		}
		if order.RazorpayPaymentID != nil && *order.RazorpayPaymentID == paymentID {
			return order, nil
		}
		// Captured after the order stopped waiting; the refund is already under way.
		return nil, latePaymentError(order)
	}
	if amountMinor > 0 && amountMinor != p.AmountMinor {
		log.Warn("payment amount mismatch", zap.Int64("expected", p.AmountMinor), zap.Int64("got", amountMinor))
		return nil, newAPIError(http.StatusConflict, "Payment amount does not match the order")
	}

	late := order.Status != models.OrderStatusPendingPayment || order.PaymentStatus == models.PaymentStatusPaid
	attemptStatus := models.PaymentAttemptCaptured
	if late {
		attemptStatus = models.PaymentAttemptRefundPending
	}
	now := h.now()
	if _, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = ?, razorpay_payment_id = ?, error_code = NULL, error_description = NULL, updated_at = ? WHERE id = ?",
		attemptStatus, paymentID, now, p.ID); err != nil {
		return nil, err
	}

	// 2. --- Late or Duplicate Payment ---
	if late {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		log.Warn("payment captured for an order that is not awaiting payment", zap.String("status", order.Status))
		if err := h.refundPayment(ctx, order.ID, paymentID, p.AmountMinor); err != nil {
			log.Error("refund of late payment failed, left pending", zap.Error(err))
		}
		return nil, latePaymentError(order)
	}

	// 3. --- Settle ---
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, payment_status = ?, razorpay_order_id = ?, razorpay_payment_id = ?, paid_at = ?, expires_at = NULL, updated_at = ?
		WHERE id = ?`,
		models.OrderStatusPlaced, models.PaymentStatusPaid, rzpOrderID, paymentID, now, now, order.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Status = models.OrderStatusPlaced
	order.PaymentStatus = models.PaymentStatusPaid
	order.RazorpayOrderID = &rzpOrderID
	order.RazorpayPaymentID = &paymentID
	order.PaidAt = &now
	order.ExpiresAt = nil
	order.UpdatedAt = now

	log.Info("order paid")
	h.sendOrderConfirmation(ctx, order)
	return order, nil
}

func latePaymentError(order *models.Order) error {
	return &apiError{
		Status:  http.StatusConflict,
		Message: "This order is no longer awaiting payment. The amount will be refunded.",
		Details: gin.H{"status": order.Status},
	}
}

// markPaymentFailed records a failed attempt. The order keeps waiting for a
// retry; a captured attempt is never downgraded.
func (h *Handlers) markPaymentFailed(ctx context.Context, rzpOrderID string, userID int64, code, description string) (*models.Order, error) {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, order, err := lockPaymentAttempt(ctx, tx, rzpOrderID, userID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentAttemptCreated {
		return order, nil
	}

	now := h.now()
	if _, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = ?, error_code = ?, error_description = ?, updated_at = ? WHERE id = ?",
		models.PaymentAttemptFailed, truncate(code, 64), truncate(description, 512), now, p.ID); err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusPendingPayment && order.PaymentStatus == models.PaymentStatusPending {
		if _, err := tx.ExecContext(ctx,
			"UPDATE orders SET payment_status = ?, updated_at = ? WHERE id = ?",
			models.PaymentStatusFailed, now, order.ID); err != nil {
			return nil, err
		}
		order.PaymentStatus = models.PaymentStatusFailed
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	h.Logger.Info("payment failed",
		zap.Int64("orderId", order.ID),
		zap.String("razorpayOrderId", rzpOrderID),
		zap.String("code", code),
	)
	return order, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (h *Handlers) sendOrderConfirmation(ctx context.Context, order *models.Order) {
	var to, name string
	var items int
	err := h.DB.QueryRowContext(ctx, `
		SELECT u.email, u.full_name, (SELECT COALESCE(SUM(quantity), 0) FROM order_items WHERE order_id = ?)
		FROM users u WHERE u.id = ?`, order.ID, order.UserID).Scan(&to, &name, &items)
	if err != nil {
		h.Logger.Error("failed to load order confirmation recipient", zap.Int64("orderId", order.ID), zap.Error(err))
		return
	}
	msg := email.OrderConfirmation(to, email.OrderSummary{
		OrderNumber:   order.OrderNumber,
		CustomerName:  name,
		Total:         order.Total.StringFixed(2),
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
		ItemCount:     items,
	})
	if err := h.Mailer.Send(ctx, msg); err != nil {
		h.Logger.Error("failed to send order confirmation", zap.Int64("orderId", order.ID), zap.Error(err))
	}
}

const overdueBatchSize = 100

// ProcessOverdueOrders expires razorpay orders whose payment window closed
// and releases their stock and coupon usage. Run from the background worker.
func (h *Handlers) ProcessOverdueOrders(ctx context.Context) error {
	var errs []error
	expired := 0
	for {
		rows, err := h.DB.QueryContext(ctx, `
			SELECT id FROM orders
			WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
			ORDER BY id LIMIT ?`,
			models.OrderStatusPendingPayment, h.now(), overdueBatchSize)
		if err != nil {
			return fmt.Errorf("find overdue orders: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan overdue order: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("read overdue orders: %w", err)
		}

		progressed := 0
		for _, id := range ids {
			ok, err := h.expireOrder(ctx, id)
			if err != nil {
				errs = append(errs, fmt.Errorf("order %d: %w", id, err))
				continue
			}
			if ok {
				expired++
			}
			progressed++
		}

		if len(ids) < overdueBatchSize || progressed == 0 || ctx.Err() != nil {
			break
		}
	}

	if expired > 0 {
		h.Logger.Info("expired overdue orders", zap.Int("count", expired))
	}
	return errors.Join(errs...)
}

// expireOrder reports false when the order was paid or cancelled meanwhile.
func (h *Handlers) expireOrder(ctx context.Context, orderID int64) (bool, error) {
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	order, err := getOrder(ctx, tx, orderID, 0, true)
	if err != nil {
		return false, err
	}
	if order.Status != models.OrderStatusPendingPayment || order.IsAwaitingPayment(h.now()) {
		return false, nil
	}
	if err := releaseOrder(ctx, tx, order); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?",
		models.OrderStatusExpired, h.now(), order.ID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
