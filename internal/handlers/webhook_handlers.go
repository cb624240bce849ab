package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/payment"
	"go.uber.org/zap"
)

const maxWebhookBytes = 1 << 20

// RazorpayWebhook handles POST /v1/payments/razorpay/webhook
// Razorpay retries anything that is not 2xx, so client-side problems with an
// event (unknown order, late payment) are acknowledged with 200.
func (h *Handlers) RazorpayWebhook(c *gin.Context) {
	if h.Gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Online payments are not available"})
		return
	}

	// 1. --- Raw Body & Signature ---
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	if err := h.Gateway.VerifyWebhookSignature(body, c.GetHeader("X-Razorpay-Signature")); err != nil {
		h.Logger.Warn("webhook signature rejected", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	// 2. --- Parse ---
	event, err := payment.ParseWebhook(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event"})
		return
	}
	log := h.Logger.With(
		zap.String("event", event.Event),
		zap.String("razorpayOrderId", event.OrderID),
		zap.String("paymentId", event.PaymentID),
	)
	// order.paid can arrive without its payment; payment.captured carries it.
	if event.OrderID == "" || (event.IsSuccess() && event.PaymentID == "") {
		log.Debug("webhook event ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	// 3. --- Dispatch ---
	ctx := c.Request.Context()
	switch {
	case event.IsSuccess():
		_, err = h.confirmPayment(ctx, event.OrderID, event.PaymentID, 0, event.AmountMinor)
	case event.Event == payment.EventPaymentFailed:
		_, err = h.markPaymentFailed(ctx, event.OrderID, 0, event.ErrorCode, event.ErrorDescription)
	default:
		log.Debug("webhook event ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			log.Warn("webhook event not applied", zap.String("reason", apiErr.Message))
			c.JSON(http.StatusOK, gin.H{"status": "not_applied"})
			return
		}
		log.Error("webhook processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
		return
	}

	log.Info("webhook event processed")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
