// Package email sends customer mail. The only sender today is LogMailer,
// which writes messages to the log until a real provider is wired up.
package email

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer is our placeholder mailer.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger.Named("email")}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("send email: empty recipient")
	}
	m.logger.Info("email (placeholder)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// OrderSummary is the data an order confirmation needs.
type OrderSummary struct {
	OrderNumber   string
	CustomerName  string
	Total         string
	Currency      string
	PaymentMethod string
	ItemCount     int
}

// OrderConfirmation builds the "order placed" email.
func OrderConfirmation(to string, o OrderSummary) Message {
	body := fmt.Sprintf(
		"Hi %s,\n\nThanks for shopping with ToyForge! Your order %s (%d item(s)) is confirmed.\n\nTotal: %s %s\nPayment: %s\n\nWe'll email you again when it ships.",
		o.CustomerName, o.OrderNumber, o.ItemCount, o.Currency, o.Total, o.PaymentMethod,
	)
	return Message{To: to, Subject: "Your ToyForge order " + o.OrderNumber, Body: body}
}

// PasswordReset builds the reset-link email.
func PasswordReset(to, resetURL, token string, validMinutes int) Message {
	link := resetURL
	if strings.Contains(link, "?") {
		link += "&token=" + token
	} else {
		link += "?token=" + token
	}
	body := fmt.Sprintf(
		"Someone asked to reset the password on your ToyForge account.\n\nReset it here: %s\n\nThis link expires in %d minutes. If this wasn't you, ignore this email.",
		link, validMinutes,
	)
	return Message{To: to, Subject: "Reset your ToyForge password", Body: body}
}
