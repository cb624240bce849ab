package payment

import (
	"encoding/json"
	"fmt"
)

// Webhook events the store reacts to.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
)

// WebhookEvent is the flattened part of a Razorpay webhook we care about.
type WebhookEvent struct {
	Event            string
	OrderID          string
	PaymentID        string
	AmountMinor      int64
	Status           string
	ErrorCode        string
	ErrorDescription string
}

// IsSuccess reports whether the event confirms a captured payment.
func (e *WebhookEvent) IsSuccess() bool {
	return e.Event == EventPaymentCaptured || e.Event == EventOrderPaid
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity struct {
				ID               string  `json:"id"`
				OrderID          string  `json:"order_id"`
				Amount           int64   `json:"amount"`
				Status           string  `json:"status"`
				ErrorCode        *string `json:"error_code"`
				ErrorDescription *string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity struct {
				ID     string `json:"id"`
				Amount int64  `json:"amount"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseWebhook decodes a webhook body. The signature must be verified first.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("decode webhook: missing event")
	}

	ev := &WebhookEvent{Event: env.Event}
	if p := env.Payload.Payment; p != nil {
		ev.PaymentID = p.Entity.ID
		ev.OrderID = p.Entity.OrderID
		ev.AmountMinor = p.Entity.Amount
		ev.Status = p.Entity.Status
		if p.Entity.ErrorCode != nil {
			ev.ErrorCode = *p.Entity.ErrorCode
		}
		if p.Entity.ErrorDescription != nil {
			ev.ErrorDescription = *p.Entity.ErrorDescription
		}
	}
	if o := env.Payload.Order; o != nil && ev.OrderID == "" {
		ev.OrderID = o.Entity.ID
		ev.AmountMinor = o.Entity.Amount
		ev.Status = o.Entity.Status
	}
	return ev, nil
}
