package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	rzperrors "github.com/razorpay/razorpay-go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubOrders struct {
	calls     int
	failFirst int
	err       error
	last      map[string]interface{}
}

func (s *stubOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	s.calls++
	s.last = data
	if s.calls <= s.failFirst {
		return nil, s.err
	}
	return map[string]interface{}{
		"id":       "order_Nx1",
		"amount":   float64(data["amount"].(int64)),
		"currency": data["currency"],
		"receipt":  data["receipt"],
		"status":   "created",
	}, nil
}

type stubPayments struct {
	paymentID string
	amount    int
}

func (s *stubPayments) Refund(paymentID string, amount int, _ map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	s.paymentID, s.amount = paymentID, amount
	return map[string]interface{}{"id": "rfnd_1", "amount": float64(amount), "status": "processed"}, nil
}

func testGateway(orders orderAPI, payments paymentAPI, attempts int) *RazorpayGateway {
	g := newRazorpayGateway(RazorpayConfig{
		KeyID:         "rzp_test_key",
		KeySecret:     "key_secret",
		WebhookSecret: "hook_secret",
		RetryAttempts: attempts,
	}, orders, payments, zap.NewNop())
	g.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return g
}

func TestCreateOrder_RetriesTransientFailures(t *testing.T) {
	orders := &stubOrders{failFirst: 2, err: errors.New("connection reset")}
	g := testGateway(orders, nil, 3)

	order, err := g.CreateOrder(context.Background(), 147382, "INR", "TF-1001", map[string]string{"orderNumber": "TF-1001"})
	require.NoError(t, err)

	assert.Equal(t, 3, orders.calls)
	assert.Equal(t, "order_Nx1", order.ID)
	assert.Equal(t, int64(147382), order.Amount)
	assert.Equal(t, "TF-1001", order.Receipt)
	assert.Equal(t, map[string]interface{}{"orderNumber": "TF-1001"}, orders.last["notes"])
}

func TestCreateOrder_GivesUpAfterAttempts(t *testing.T) {
	orders := &stubOrders{failFirst: 10, err: errors.New("503")}
	g := testGateway(orders, nil, 2)

	_, err := g.CreateOrder(context.Background(), 100, "INR", "r", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, 2, orders.calls)
}

func TestCreateOrder_BadRequestIsNotRetried(t *testing.T) {
	orders := &stubOrders{failFirst: 10, err: &rzperrors.BadRequestError{Message: "amount too small"}}
	g := testGateway(orders, nil, 5)

	_, err := g.CreateOrder(context.Background(), 100, "INR", "r", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, 1, orders.calls)
}

func TestCreateOrder_RejectsNonPositiveAmount(t *testing.T) {
	orders := &stubOrders{}
	g := testGateway(orders, nil, 1)

	_, err := g.CreateOrder(context.Background(), 0, "INR", "r", nil)
	assert.Error(t, err)
	assert.Zero(t, orders.calls)
}

func TestCreateOrder_HonoursCancelledContext(t *testing.T) {
	orders := &stubOrders{failFirst: 10, err: errors.New("timeout")}
	g := testGateway(orders, nil, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.CreateOrder(ctx, 100, "INR", "r", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefund(t *testing.T) {
	payments := &stubPayments{}
	g := testGateway(nil, payments, 1)

	refund, err := g.Refund(context.Background(), "pay_123", 50000)
	require.NoError(t, err)
	assert.Equal(t, "pay_123", payments.paymentID)
	assert.Equal(t, 50000, payments.amount)
	assert.Equal(t, "rfnd_1", refund.ID)
	assert.Equal(t, int64(50000), refund.Amount)
}

func TestSignatures(t *testing.T) {
	g := testGateway(nil, nil, 1)

	sig := Sign("key_secret", CheckoutPayload("order_1", "pay_1"))
	assert.NoError(t, g.VerifyPaymentSignature("order_1", "pay_1", sig))
	assert.ErrorIs(t, g.VerifyPaymentSignature("order_1", "pay_2", sig), ErrInvalidSignature)
	assert.ErrorIs(t, g.VerifyPaymentSignature("order_1", "pay_1", ""), ErrInvalidSignature)

	body := []byte(`{"event":"payment.captured"}`)
	hook := Sign("hook_secret", body)
	assert.NoError(t, g.VerifyWebhookSignature(body, hook))
	assert.ErrorIs(t, g.VerifyWebhookSignature(body, sig), ErrInvalidSignature)
	assert.Equal(t, "rzp_test_key", g.KeyID())
}

func TestParseWebhook(t *testing.T) {
	captured := []byte(`{
		"entity": "event",
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "pay_29QQoUBi66xm2f", "order_id": "order_9A33XWu170gUtm",
			"amount": 50000, "status": "captured", "error_code": null
		}}}
	}`)
	ev, err := ParseWebhook(captured)
	require.NoError(t, err)
	assert.True(t, ev.IsSuccess())
	assert.Equal(t, "order_9A33XWu170gUtm", ev.OrderID)
	assert.Equal(t, "pay_29QQoUBi66xm2f", ev.PaymentID)
	assert.Equal(t, int64(50000), ev.AmountMinor)

	failed := []byte(`{"event": "payment.failed", "payload": {"payment": {"entity": {
		"id": "pay_x", "order_id": "order_y", "status": "failed",
		"error_code": "BAD_REQUEST_ERROR", "error_description": "Payment was declined"
	}}}}`)
	ev, err = ParseWebhook(failed)
	require.NoError(t, err)
	assert.False(t, ev.IsSuccess())
	assert.Equal(t, "BAD_REQUEST_ERROR", ev.ErrorCode)
	assert.Equal(t, "Payment was declined", ev.ErrorDescription)

	paid := []byte(`{"event": "order.paid", "payload": {"order": {"entity": {"id": "order_z", "amount": 100, "status": "paid"}}}}`)
	ev, err = ParseWebhook(paid)
	require.NoError(t, err)
	assert.Equal(t, "order_z", ev.OrderID)

	_, err = ParseWebhook([]byte(`{}`))
	assert.Error(t, err)
	_, err = ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
}
