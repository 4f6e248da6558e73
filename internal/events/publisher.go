package events

import (
	"context"

	"github.com/Tesseract-Nexus/go-shared/events"
	"github.com/sirupsen/logrus"

	"payment-webhook-service/internal/models"
)

// Publisher wraps the shared events publisher for payment pipeline events.
// Publication happens after the database commit and is best-effort: a NATS
// outage never fails a webhook delivery.
type Publisher struct {
	publisher *events.Publisher
	logger    *logrus.Entry
}

// NewPublisher creates a new payment events publisher
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	config := events.DefaultPublisherConfig(natsURL)
	config.Name = "payment-webhook-service"

	publisher, err := events.NewPublisher(config, logger)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := publisher.EnsureStream(ctx, events.StreamPayments, []string{"payment.>"}); err != nil {
		logger.WithError(err).Warn("Failed to ensure PAYMENT_EVENTS stream")
	}

	return &Publisher{
		publisher: publisher,
		logger:    logger.WithField("component", "events.publisher"),
	}, nil
}

// PublishCaptured publishes a payment succeeded event after a capture commit
func (p *Publisher) PublishCaptured(ctx context.Context, tx *models.PaymentTransaction) error {
	event := events.NewPaymentEvent(events.PaymentSucceeded, "")
	event.PaymentID = tx.GatewayPaymentID
	event.OrderID = tx.PaymentOrderID.String()
	event.Amount = tx.Amount
	event.Currency = tx.Currency
	event.Provider = tx.GatewayName
	event.Method = tx.PaymentMethod
	event.Status = "captured"

	return p.publisher.PublishPayment(ctx, event)
}

// PublishFailed publishes a payment failed event
func (p *Publisher) PublishFailed(ctx context.Context, tx *models.PaymentTransaction) error {
	event := events.NewPaymentEvent(events.PaymentFailed, "")
	event.PaymentID = tx.GatewayPaymentID
	event.OrderID = tx.PaymentOrderID.String()
	event.Amount = tx.Amount
	event.Currency = tx.Currency
	event.ErrorCode = tx.FailureCode
	event.ErrorMessage = tx.FailureMessage
	event.Status = "failed"

	return p.publisher.PublishPayment(ctx, event)
}

// PublishRefunded publishes a payment refunded event
func (p *Publisher) PublishRefunded(ctx context.Context, tx *models.PaymentTransaction, refund *models.PaymentRefund) error {
	event := events.NewPaymentEvent(events.PaymentRefunded, "")
	event.PaymentID = tx.GatewayPaymentID
	event.RefundID = refund.GatewayRefundID
	event.OrderID = tx.PaymentOrderID.String()
	event.RefundAmount = refund.Amount
	event.Currency = refund.Currency
	event.RefundReason = refund.Reason
	event.Status = "refunded"

	return p.publisher.PublishPayment(ctx, event)
}

// IsConnected returns true if connected to NATS
func (p *Publisher) IsConnected() bool {
	return p.publisher.IsConnected()
}

// Close closes the publisher connection
func (p *Publisher) Close() {
	p.publisher.Close()
}
