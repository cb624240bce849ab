package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toyforge/storefront/internal/models"
)

func orderItemRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "order_id", "product_id", "variant_id", "product_name", "sku", "attributes",
		"quantity", "unit_price", "line_total", "created_at"}).
		AddRow(int64(1), int64(42), int64(5), int64(11), "Racing Car", "TF-CAR-RED", []byte(`{"color":"red"}`),
			int64(2), "500.00", "1000.00", testNow)
}

func TestGetOrderDetails(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(q("FROM orders o WHERE o.id = ? AND o.user_id = ?")).
		WithArgs(int64(42), int64(1)).WillReturnRows(pendingOrder().rows())
	env.mock.ExpectQuery(q("FROM order_items WHERE order_id = ?")).WithArgs(int64(42)).WillReturnRows(orderItemRows())

	w := serve(env.h.GetOrderDetails, http.MethodGet, "/orders/:id", "/orders/42", nil, 1)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Order    models.Order       `json:"order"`
		Items    []models.OrderItem `json:"items"`
		CanRetry bool               `json:"canRetry"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "TF-20260310-ABCD1234", resp.Order.OrderNumber)
	require.Len(t, resp.Items, 1)
	assert.True(t, decimal.NewFromInt(500).Equal(resp.Items[0].UnitPrice))
	assert.True(t, resp.CanRetry)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestGetOrderDetails_NotOwner(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(q("FROM orders o")).WithArgs(int64(42), int64(2)).WillReturnRows(sqlmock.NewRows(orderCols))

	w := serve(env.h.GetOrderDetails, http.MethodGet, "/orders/:id", "/orders/42", nil, 2)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelMyOrder(t *testing.T) {
	t.Run("shipped order", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectBegin()
		env.mock.ExpectQuery(q("FROM orders o")).WillReturnRows(orderFixture{
			Status: models.OrderStatusShipped, Method: models.PaymentMethodCOD, PaymentStatus: models.PaymentStatusCOD,
		}.rows())
		env.mock.ExpectRollback()

		w := serve(env.h.CancelMyOrder, http.MethodPost, "/orders/:id/cancel", "/orders/42/cancel", nil, 1)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("paid order is released and refunded", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectBegin()
		env.mock.ExpectQuery(q("FROM orders o WHERE o.id = ? AND o.user_id = ? FOR UPDATE")).
			WillReturnRows(orderFixture{
				Status: models.OrderStatusPlaced, Method: models.PaymentMethodRazorpay, PaymentStatus: models.PaymentStatusPaid,
				RazorpayOrderID: "order_test_1", RazorpayPaymentID: "pay_1", Attempts: 1,
			}.rows())
		env.mock.ExpectQuery(q("FROM order_items")).WillReturnRows(orderItemRows())
		env.mock.ExpectExec(q("UPDATE product_variants SET stock = stock + ?")).
			WithArgs(2, int64(11)).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec(q("UPDATE orders SET status = ?, expires_at = NULL")).
			WithArgs(models.OrderStatusCancelled, testNow, int64(42)).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectCommit()
		env.mock.ExpectExec(q("UPDATE payments SET status = ?")).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec(q("UPDATE orders SET payment_status = ?")).
			WithArgs(models.PaymentStatusRefunded, testNow, int64(42), "pay_1").WillReturnResult(sqlmock.NewResult(0, 1))

		w := serve(env.h.CancelMyOrder, http.MethodPost, "/orders/:id/cancel", "/orders/42/cancel", nil, 1)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Order models.Order `json:"order"`
		}
		decode(t, w, &resp)
		assert.Equal(t, models.OrderStatusCancelled, resp.Order.Status)
		assert.Equal(t, models.PaymentStatusRefunded, resp.Order.PaymentStatus)
		assert.Equal(t, int64(118000), env.gateway.refunds["pay_1"])
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("failed refund is left pending", func(t *testing.T) {
		env := newTestEnv(t)
		env.gateway.refundErr = errors.New("gateway timeout")
		env.mock.ExpectBegin()
		env.mock.ExpectQuery(q("FROM orders o")).WillReturnRows(orderFixture{
			Status: models.OrderStatusPlaced, Method: models.PaymentMethodRazorpay, PaymentStatus: models.PaymentStatusPaid,
			RazorpayOrderID: "order_test_1", RazorpayPaymentID: "pay_1", Attempts: 1,
		}.rows())
		env.mock.ExpectQuery(q("FROM order_items")).WillReturnRows(orderItemRows())
		env.mock.ExpectExec(q("UPDATE product_variants")).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec(q("UPDATE orders SET status = ?")).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectCommit()
		env.mock.ExpectExec(q("UPDATE payments SET status = ?, updated_at = ? WHERE razorpay_payment_id = ? AND status = ?")).
			WithArgs(models.PaymentAttemptRefundPending, testNow, "pay_1", models.PaymentAttemptCaptured).
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := serve(env.h.CancelMyOrder, http.MethodPost, "/orders/:id/cancel", "/orders/42/cancel", nil, 1)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Order models.Order `json:"order"`
		}
		decode(t, w, &resp)
		assert.Equal(t, models.OrderStatusCancelled, resp.Order.Status)
		assert.Equal(t, models.PaymentStatusPaid, resp.Order.PaymentStatus)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("coupon usage is given back", func(t *testing.T) {
		env := newTestEnv(t)
		rows := sqlmock.NewRows(orderCols).AddRow(int64(42), "TF-20260310-ABCD1234", int64(1), models.OrderStatusPendingPayment,
			models.PaymentMethodRazorpay, models.PaymentStatusPending, "INR", "1000.00", "100.00", "162.00", []byte(`[]`),
			"50.00", "1112.00", int64(7), "SAVE10", []byte(`{}`), "order_test_1", nil, int64(1), nil,
			testNow.Add(time.Minute), nil, testNow, testNow)
		env.mock.ExpectBegin()
		env.mock.ExpectQuery(q("FROM orders o")).WillReturnRows(rows)
		env.mock.ExpectQuery(q("FROM order_items")).WillReturnRows(orderItemRows())
		env.mock.ExpectExec(q("UPDATE product_variants")).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec(q("DELETE FROM coupon_redemptions WHERE order_id = ?")).
			WithArgs(int64(42)).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec(q("UPDATE coupons SET used_count = GREATEST(used_count - 1, 0)")).
			WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec(q("UPDATE orders SET status = ?")).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectCommit()

		w := serve(env.h.CancelMyOrder, http.MethodPost, "/orders/:id/cancel", "/orders/42/cancel", nil, 1)

		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Empty(t, env.gateway.refunds)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})
}

func TestRetryPayment(t *testing.T) {
	t.Run("attempts exhausted", func(t *testing.T) {
		env := newTestEnv(t)
		f := pendingOrder()
		f.Attempts = 3
		env.mock.ExpectQuery(q("FROM orders o")).WillReturnRows(f.rows())

		w := serve(env.h.RetryPayment, http.MethodPost, "/orders/:id/retry-payment", "/orders/42/retry-payment", nil, 1)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "No payment attempts left")
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("window closed", func(t *testing.T) {
		env := newTestEnv(t)
		f := pendingOrder()
		f.ExpiresAt = testNow.Add(-time.Minute)
		env.mock.ExpectQuery(q("FROM orders o")).WillReturnRows(f.rows())

		w := serve(env.h.RetryPayment, http.MethodPost, "/orders/:id/retry-payment", "/orders/42/retry-payment", nil, 1)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("cash on delivery", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectQuery(q("FROM orders o")).WillReturnRows(orderFixture{
			Status: models.OrderStatusPlaced, Method: models.PaymentMethodCOD, PaymentStatus: models.PaymentStatusCOD,
		}.rows())

		w := serve(env.h.RetryPayment, http.MethodPost, "/orders/:id/retry-payment", "/orders/42/retry-payment", nil, 1)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("second attempt", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectQuery(q("FROM orders o")).WillReturnRows(pendingOrder().rows())
		env.mock.ExpectExec(q("UPDATE orders SET payment_attempts = payment_attempts + 1")).
			WithArgs(testNow, int64(42), models.OrderStatusPendingPayment, 3).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec(q("INSERT INTO payments")).WillReturnResult(sqlmock.NewResult(10, 1))
		env.mock.ExpectExec(q("UPDATE orders SET razorpay_order_id = ?")).WillReturnResult(sqlmock.NewResult(0, 1))

		w := serve(env.h.RetryPayment, http.MethodPost, "/orders/:id/retry-payment", "/orders/42/retry-payment", nil, 1)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Len(t, env.gateway.receipts, 1)
		assert.Equal(t, "TF-20260310-ABCD1234-2", env.gateway.receipts[0])
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})
}

func TestProcessOverdueOrders(t *testing.T) {
	env := newTestEnv(t)
	overdue := pendingOrder()
	overdue.ExpiresAt = testNow.Add(-time.Minute)

	env.mock.ExpectQuery(q("SELECT id FROM orders")).
		WithArgs(models.OrderStatusPendingPayment, testNow, overdueBatchSize).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(q("FROM orders o WHERE o.id = ? FOR UPDATE")).WithArgs(int64(42)).WillReturnRows(overdue.rows())
	env.mock.ExpectQuery(q("FROM order_items")).WillReturnRows(orderItemRows())
	env.mock.ExpectExec(q("UPDATE product_variants SET stock = stock + ?")).WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec(q("UPDATE orders SET status = ?, updated_at = ? WHERE id = ?")).
		WithArgs(models.OrderStatusExpired, testNow, int64(42)).WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	require.NoError(t, env.h.ProcessOverdueOrders(context.Background()))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestProcessOverdueOrders_PaidMeanwhile(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(q("SELECT id FROM orders")).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(q("FROM orders o")).WillReturnRows(orderFixture{
		Status: models.OrderStatusPlaced, Method: models.PaymentMethodRazorpay, PaymentStatus: models.PaymentStatusPaid,
	}.rows())
	env.mock.ExpectRollback()

	require.NoError(t, env.h.ProcessOverdueOrders(context.Background()))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRetryPendingRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(q("FROM payments")).
		WithArgs(models.PaymentAttemptRefundPending, overdueBatchSize).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "razorpay_payment_id", "amount_minor"}).
			AddRow(int64(42), "pay_9", int64(118000)))
	env.mock.ExpectExec(q("UPDATE payments SET status = ?, updated_at = ? WHERE razorpay_payment_id = ?")).
		WithArgs(models.PaymentAttemptRefunded, testNow, "pay_9").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec(q("UPDATE orders SET payment_status = ?")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, env.h.RetryPendingRefunds(context.Background()))
	assert.Equal(t, int64(118000), env.gateway.refunds["pay_9"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRetryPendingRefunds_StillFailing(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.refundErr = errors.New("gateway timeout")
	env.mock.ExpectQuery(q("FROM payments")).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "razorpay_payment_id", "amount_minor"}).
			AddRow(int64(42), "pay_9", int64(118000)))

	err := env.h.RetryPendingRefunds(context.Background())

	assert.ErrorContains(t, err, "pay_9")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestUpdateOrderStatus(t *testing.T) {
	t.Run("cannot skip shipping", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectBegin()
		env.mock.ExpectQuery(q("FROM orders o WHERE o.id = ? FOR UPDATE")).WillReturnRows(orderFixture{
			Status: models.OrderStatusPlaced, Method: models.PaymentMethodCOD, PaymentStatus: models.PaymentStatusCOD,
		}.rows())
		env.mock.ExpectRollback()

		w := serve(env.h.UpdateOrderStatus, http.MethodPatch, "/admin/orders/:id/status", "/admin/orders/42/status",
			map[string]interface{}{"status": "delivered"}, 99)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("shipping needs tracking", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectBegin()
		env.mock.ExpectQuery(q("FROM orders o")).WillReturnRows(orderFixture{
			Status: models.OrderStatusProcessing, Method: models.PaymentMethodCOD, PaymentStatus: models.PaymentStatusCOD,
		}.rows())
		env.mock.ExpectRollback()

		w := serve(env.h.UpdateOrderStatus, http.MethodPatch, "/admin/orders/:id/status", "/admin/orders/42/status",
			map[string]interface{}{"status": "shipped"}, 99)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("delivered cod order is paid", func(t *testing.T) {
		env := newTestEnv(t)
		tracking := "BLUEDART-123"
		env.mock.ExpectBegin()
		env.mock.ExpectQuery(q("FROM orders o")).WillReturnRows(orderFixture{
			Status: models.OrderStatusShipped, Method: models.PaymentMethodCOD, PaymentStatus: models.PaymentStatusCOD,
		}.rows())
		env.mock.ExpectExec(q("UPDATE orders SET status = ?, tracking = ?")).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec(q("UPDATE orders SET payment_status = ?, paid_at = ?")).
			WithArgs(models.PaymentStatusPaid, testNow, int64(42)).WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectCommit()

		w := serve(env.h.UpdateOrderStatus, http.MethodPatch, "/admin/orders/:id/status", "/admin/orders/42/status",
			map[string]interface{}{"status": "delivered", "tracking": tracking}, 99)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Order models.Order `json:"order"`
		}
		decode(t, w, &resp)
		assert.Equal(t, models.OrderStatusDelivered, resp.Order.Status)
		assert.Equal(t, models.PaymentStatusPaid, resp.Order.PaymentStatus)
		require.NotNil(t, resp.Order.Tracking)
		assert.Equal(t, tracking, *resp.Order.Tracking)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("unknown target", func(t *testing.T) {
		env := newTestEnv(t)
		w := serve(env.h.UpdateOrderStatus, http.MethodPatch, "/admin/orders/:id/status", "/admin/orders/42/status",
			map[string]interface{}{"status": "placed"}, 99)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetDashboardSummary(t *testing.T) {
	env := newTestEnv(t)
	env.mock.MatchExpectationsInOrder(false)
	env.mock.ExpectQuery(q("FROM orders WHERE "+revenueFilter) + "$").
		WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow("2360.00", int64(2)))
	env.mock.ExpectQuery(q("AND created_at >= ?")).
		WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow("1180.00", int64(1)))
	env.mock.ExpectQuery(q("COALESCE(SUM(status = ?), 0)")).
		WillReturnRows(sqlmock.NewRows([]string{"awaiting", "fulfil"}).AddRow(int64(3), int64(2)))
	env.mock.ExpectQuery(q("FROM users WHERE role = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(10)))
	env.mock.ExpectQuery(q("v.stock <= ?")).WithArgs(models.ProductStatusActive, 5).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(4)))

	w := serve(env.h.GetDashboardSummary, http.MethodGet, "/summary", "/summary", nil, 99)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var s DashboardSummary
	decode(t, w, &s)
	assert.True(t, decimal.NewFromInt(1180).Equal(s.AverageOrderValue))
	assert.Equal(t, 2, s.Orders)
	assert.Equal(t, 1, s.OrdersToday)
	assert.Equal(t, 3, s.AwaitingPayment)
	assert.Equal(t, 10, s.Customers)
	assert.Equal(t, 4, s.LowStockVariants)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestGetSalesChart_ZeroFills(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(q("DATE_FORMAT(created_at, '%Y-%m-%d')")).
		WillReturnRows(sqlmock.NewRows([]string{"period", "revenue", "orders"}).AddRow("2026-03-09", "1180.00", int64(1)))

	w := serve(env.h.GetSalesChart, http.MethodGet, "/sales", "/sales?range=7d", nil, 99)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Points []SalesPoint `json:"points"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Points, 7)
	assert.Equal(t, 1, resp.Points[5].Orders)
	assert.True(t, resp.Points[6].Revenue.IsZero())

	w = serve(env.h.GetSalesChart, http.MethodGet, "/sales", "/sales?range=forever", nil, 99)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
