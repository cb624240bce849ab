package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	razorpay "github.com/razorpay/razorpay-go"
	rzperrors "github.com/razorpay/razorpay-go/errors"
	"go.uber.org/zap"
)

// orderAPI and paymentAPI are the slices of the razorpay-go client we use.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayConfig holds the credentials and retry policy.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	RetryAttempts int
}

// RazorpayGateway implements Gateway on top of razorpay-go.
type RazorpayGateway struct {
	cfg      RazorpayConfig
	orders   orderAPI
	payments paymentAPI
	logger   *zap.Logger

	// newBackOff is swapped in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

// NewRazorpayGateway builds a gateway with a live razorpay-go client.
func NewRazorpayGateway(cfg RazorpayConfig, logger *zap.Logger) *RazorpayGateway {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return newRazorpayGateway(cfg, client.Order, client.Payment, logger)
}

func newRazorpayGateway(cfg RazorpayConfig, orders orderAPI, payments paymentAPI, logger *zap.Logger) *RazorpayGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RazorpayGateway{
		cfg:      cfg,
		orders:   orders,
		payments: payments,
		logger:   logger.Named("razorpay"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

func (g *RazorpayGateway) KeyID() string { return g.cfg.KeyID }

// CreateOrder registers amountMinor with Razorpay and returns the gateway order.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*Order, error) {
	if amountMinor <= 0 {
		return nil, fmt.Errorf("create razorpay order: amount must be positive, got %d", amountMinor)
	}

	data := map[string]interface{}{
		"amount":          amountMinor,
		"currency":        currency,
		"receipt":         receipt,
		"payment_capture": 1,
	}
	if len(notes) > 0 {
		n := make(map[string]interface{}, len(notes))
		for k, v := range notes {
			n[k] = v
		}
		data["notes"] = n
	}

	var body map[string]interface{}
	err := g.retry(ctx, "order.create", func() error {
		var err error
		body, err = g.orders.Create(data, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	order := &Order{
		ID:       stringField(body, "id"),
		Amount:   intField(body, "amount"),
		Currency: stringField(body, "currency"),
		Receipt:  stringField(body, "receipt"),
		Status:   stringField(body, "status"),
	}
	if order.ID == "" {
		return nil, fmt.Errorf("create razorpay order: response has no id")
	}
	return order, nil
}

// Refund refunds amountMinor of a captured payment.
func (g *RazorpayGateway) Refund(ctx context.Context, paymentID string, amountMinor int64) (*Refund, error) {
	var body map[string]interface{}
	err := g.retry(ctx, "payment.refund", func() error {
		var err error
		body, err = g.payments.Refund(paymentID, int(amountMinor), nil, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Refund{
		ID:        stringField(body, "id"),
		PaymentID: paymentID,
		Amount:    intField(body, "amount"),
		Status:    stringField(body, "status"),
	}, nil
}

// VerifyPaymentSignature checks the razorpay_signature returned to the browser.
func (g *RazorpayGateway) VerifyPaymentSignature(orderID, paymentID, signature string) error {
	return verify(g.cfg.KeySecret, CheckoutPayload(orderID, paymentID), signature)
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header against the raw body.
func (g *RazorpayGateway) VerifyWebhookSignature(body []byte, signature string) error {
	return verify(g.cfg.WebhookSecret, body, signature)
}

// retry runs op with exponential backoff. Bad requests are not retried.
func (g *RazorpayGateway) retry(ctx context.Context, name string, op func() error) error {
	attempts := g.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), uint64(attempts-1)), ctx)
	err := backoff.RetryNotify(func() error {
		err := op()
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		g.logger.Warn("retrying gateway call", zap.String("call", name), zap.Duration("wait", wait), zap.Error(err))
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", name, ctxErr)
	}
	if isPermanent(err) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, name, err)
}

func isPermanent(err error) bool {
	var badRequest *rzperrors.BadRequestError
	return errors.As(err, &badRequest)
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// intField reads a JSON number, which encoding/json decodes as float64.
func intField(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
