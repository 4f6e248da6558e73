package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"payment-webhook-service/internal/clients"
	"payment-webhook-service/internal/models"
	"payment-webhook-service/internal/repository"
	"payment-webhook-service/internal/webhook"
)

// EventPublisher publishes pipeline outcomes to the event stream. Optional;
// a nil publisher disables publication.
type EventPublisher interface {
	PublishCaptured(ctx context.Context, tx *models.PaymentTransaction) error
	PublishFailed(ctx context.Context, tx *models.PaymentTransaction) error
	PublishRefunded(ctx context.Context, tx *models.PaymentTransaction, refund *models.PaymentRefund) error
}

// Result reports what a processed event actually did. Mirror carries the
// business-order update outcome separately because that step is best-effort
// and never fails the delivery.
type Result struct {
	Applied bool
	Mirror  clients.MirrorResult
}

// WebhookService applies validated webhook events as idempotent state
// transitions. All collaborators are injected; the clock is a function so
// tests can pin time.
type WebhookService struct {
	repo      repository.PaymentRepositoryInterface
	orders    clients.OrderServiceClient
	publisher EventPublisher
	logger    *logrus.Entry
	now       func() time.Time
}

// NewWebhookService creates a new webhook service
func NewWebhookService(repo repository.PaymentRepositoryInterface, orders clients.OrderServiceClient, publisher EventPublisher, logger *logrus.Logger, now func() time.Time) *WebhookService {
	if now == nil {
		now = time.Now
	}
	return &WebhookService{
		repo:      repo,
		orders:    orders,
		publisher: publisher,
		logger:    logger.WithField("component", "services.webhook"),
		now:       now,
	}
}

// ProcessEvent dispatches a decoded event to its handler. The type switch is
// exhaustive over the event kinds the decoder can produce.
func (s *WebhookService) ProcessEvent(ctx context.Context, ev webhook.Event) (Result, error) {
	switch e := ev.(type) {
	case webhook.PaymentAuthorizedEvent:
		return s.handlePaymentAuthorized(ctx, e.Payment)
	case webhook.PaymentCapturedEvent:
		return s.handlePaymentCaptured(ctx, e.Payment)
	case webhook.PaymentFailedEvent:
		return s.handlePaymentFailed(ctx, e.Payment)
	case webhook.RefundCreatedEvent:
		return s.handleRefundCreated(ctx, e.Refund)
	case webhook.RefundProcessedEvent:
		return s.handleRefundProcessed(ctx, e.Refund)
	case webhook.RefundFailedEvent:
		return s.handleRefundFailed(ctx, e.Refund)
	default:
		return Result{}, fmt.Errorf("no handler registered for event %q", ev.Name())
	}
}

// handlePaymentAuthorized creates the transaction row for a first gateway
// payment attempt. Re-deliveries and late arrivals after a capture are no-ops.
func (s *WebhookService) handlePaymentAuthorized(ctx context.Context, p webhook.PaymentEntity) (Result, error) {
	order, err := s.repo.GetOrderByGatewayOrderID(ctx, p.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WithFields(logrus.Fields{
				"gatewayOrderId":   p.OrderID,
				"gatewayPaymentId": p.ID,
			}).Warn("authorized event for unknown payment order, skipping")
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("failed to load payment order: %w", err)
	}

	var applied bool
	err = s.repo.WithTransaction(ctx, func(txRepo repository.PaymentRepositoryInterface) error {
		tx := &models.PaymentTransaction{
			PaymentOrderID:   order.ID,
			GatewayPaymentID: p.ID,
			Amount:           amountFromSubunits(p.Amount),
			Currency:         p.Currency,
			Status:           models.PaymentAuthorized,
			PaymentMethod:    p.Method,
			GatewayName:      "razorpay",
			FeeDetails:       feeDetails(p),
		}

		created, err := txRepo.CreateTransactionIfAbsent(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}
		if !created {
			// A row already exists for this reference. A duplicate authorized
			// delivery, or a stale one arriving after capture, changes nothing.
			existing, err := txRepo.GetTransactionForUpdate(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("failed to load existing transaction: %w", err)
			}
			s.logger.WithFields(logrus.Fields{
				"gatewayPaymentId": p.ID,
				"currentStatus":    existing.Status,
			}).Info("duplicate authorized delivery, no-op")
			return nil
		}

		applied = true
		return txRepo.CreateAuditLog(ctx, s.auditEntry("payment_transaction", p.ID, webhook.EventPaymentAuthorized, models.JSONB{
			"status": map[string]interface{}{"from": nil, "to": string(models.PaymentAuthorized)},
			"amount": tx.Amount,
		}))
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Applied: applied}, nil
}

// handlePaymentCaptured transitions the transaction to CAPTURED and marks the
// payment order paid. The business-order mirror runs after the commit.
func (s *WebhookService) handlePaymentCaptured(ctx context.Context, p webhook.PaymentEntity) (Result, error) {
	var (
		applied bool
		txRow   *models.PaymentTransaction
		order   *models.PaymentOrder
	)

	err := s.repo.WithTransaction(ctx, func(txRepo repository.PaymentRepositoryInterface) error {
		existing, err := txRepo.GetTransactionForUpdate(ctx, p.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Captured arrived before authorized. The authorized delivery
				// is retried separately; converge then.
				s.logger.WithField("gatewayPaymentId", p.ID).
					Warn("captured event before authorized, deferring to re-delivery")
				return nil
			}
			return fmt.Errorf("failed to load transaction: %w", err)
		}

		if !models.CanTransition(existing.Status, models.PaymentCaptured) {
			s.logger.WithFields(logrus.Fields{
				"gatewayPaymentId": p.ID,
				"currentStatus":    existing.Status,
			}).Info("capture already applied or superseded, no-op")
			return nil
		}

		prev := existing.Status
		now := s.now()
		existing.Status = models.PaymentCaptured
		existing.CapturedAt = &now
		if p.Method != "" {
			existing.PaymentMethod = p.Method
		}
		if fd := feeDetails(p); fd != nil {
			existing.FeeDetails = fd
		}
		if err := txRepo.UpdateTransaction(ctx, existing); err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}

		ord, err := txRepo.GetOrderByID(ctx, existing.PaymentOrderID)
		if err != nil {
			return fmt.Errorf("failed to load payment order: %w", err)
		}
		ord.Status = models.OrderPaid
		if err := txRepo.UpdateOrder(ctx, ord); err != nil {
			return fmt.Errorf("failed to update payment order: %w", err)
		}

		if err := txRepo.CreateAuditLog(ctx, s.auditEntry("payment_transaction", p.ID, webhook.EventPaymentCaptured, models.JSONB{
			"status":      map[string]interface{}{"from": string(prev), "to": string(models.PaymentCaptured)},
			"orderStatus": string(models.OrderPaid),
		})); err != nil {
			return err
		}

		applied = true
		txRow = existing
		order = ord
		return nil
	})
	if err != nil || !applied {
		return Result{}, err
	}

	res := Result{Applied: true}
	res.Mirror = s.mirrorOrder(ctx, order, clients.OrderPaymentPaid, txRow, true)
	s.publish(ctx, func(pub EventPublisher) error { return pub.PublishCaptured(ctx, txRow) })
	return res, nil
}

// handlePaymentFailed transitions the transaction to FAILED and marks the
// payment order failed. A failure arriving after a capture is ignored.
func (s *WebhookService) handlePaymentFailed(ctx context.Context, p webhook.PaymentEntity) (Result, error) {
	var (
		applied bool
		txRow   *models.PaymentTransaction
		order   *models.PaymentOrder
	)

	err := s.repo.WithTransaction(ctx, func(txRepo repository.PaymentRepositoryInterface) error {
		existing, err := txRepo.GetTransactionForUpdate(ctx, p.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.logger.WithField("gatewayPaymentId", p.ID).
					Warn("failed event before authorized, deferring to re-delivery")
				return nil
			}
			return fmt.Errorf("failed to load transaction: %w", err)
		}

		if !models.CanTransition(existing.Status, models.PaymentFailed) {
			s.logger.WithFields(logrus.Fields{
				"gatewayPaymentId": p.ID,
				"currentStatus":    existing.Status,
			}).Info("failure already applied or superseded, no-op")
			return nil
		}

		prev := existing.Status
		now := s.now()
		existing.Status = models.PaymentFailed
		existing.FailureCode = p.ErrorCode
		existing.FailureMessage = p.ErrorDescription
		existing.UpdatedAt = now
		if err := txRepo.UpdateTransaction(ctx, existing); err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}

		ord, err := txRepo.GetOrderByID(ctx, existing.PaymentOrderID)
		if err != nil {
			return fmt.Errorf("failed to load payment order: %w", err)
		}
		ord.Status = models.OrderFailed
		if err := txRepo.UpdateOrder(ctx, ord); err != nil {
			return fmt.Errorf("failed to update payment order: %w", err)
		}

		if err := txRepo.CreateAuditLog(ctx, s.auditEntry("payment_transaction", p.ID, webhook.EventPaymentFailed, models.JSONB{
			"status":      map[string]interface{}{"from": string(prev), "to": string(models.PaymentFailed)},
			"orderStatus": string(models.OrderFailed),
			"failureCode": p.ErrorCode,
		})); err != nil {
			return err
		}

		applied = true
		txRow = existing
		order = ord
		return nil
	})
	if err != nil || !applied {
		return Result{}, err
	}

	res := Result{Applied: true}
	res.Mirror = s.mirrorOrder(ctx, order, clients.OrderPaymentFailed, txRow, false)
	s.publish(ctx, func(pub EventPublisher) error { return pub.PublishFailed(ctx, txRow) })
	return res, nil
}

// handleRefundCreated records a gateway refund in its reported state.
func (s *WebhookService) handleRefundCreated(ctx context.Context, r webhook.RefundEntity) (Result, error) {
	parent, err := s.repo.GetTransactionByGatewayPaymentID(ctx, r.PaymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WithFields(logrus.Fields{
				"gatewayRefundId":  r.ID,
				"gatewayPaymentId": r.PaymentID,
			}).Warn("refund event for unknown transaction, deferring to re-delivery")
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("failed to load parent transaction: %w", err)
	}

	// Refunds only exist for captured payments; a refund event against a
	// transaction in any other state is a misdelivery.
	if parent.Status != models.PaymentCaptured && parent.Status != models.PaymentRefunded {
		s.logger.WithFields(logrus.Fields{
			"gatewayRefundId":  r.ID,
			"gatewayPaymentId": r.PaymentID,
			"parentStatus":     parent.Status,
		}).Warn("refund event for uncaptured transaction, skipping")
		return Result{}, nil
	}

	var applied bool
	err = s.repo.WithTransaction(ctx, func(txRepo repository.PaymentRepositoryInterface) error {
		refund := &models.PaymentRefund{
			GatewayRefundID:      r.ID,
			PaymentTransactionID: parent.ID,
			Amount:               amountFromSubunits(r.Amount),
			Currency:             r.Currency,
			Status:               models.RefundCreated,
			Reason:               r.Notes,
		}

		created, err := txRepo.CreateRefundIfAbsent(ctx, refund)
		if err != nil {
			return fmt.Errorf("failed to create refund: %w", err)
		}
		if !created {
			s.logger.WithField("gatewayRefundId", r.ID).Info("duplicate refund.created delivery, no-op")
			return nil
		}

		applied = true
		return txRepo.CreateAuditLog(ctx, s.auditEntry("payment_refund", r.ID, webhook.EventRefundCreated, models.JSONB{
			"status": map[string]interface{}{"from": nil, "to": string(models.RefundCreated)},
			"amount": refund.Amount,
		}))
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Applied: applied}, nil
}

// handleRefundProcessed finalizes a refund and marks the parent transaction
// refunded.
func (s *WebhookService) handleRefundProcessed(ctx context.Context, r webhook.RefundEntity) (Result, error) {
	var (
		applied bool
		txRow   *models.PaymentTransaction
		refund  *models.PaymentRefund
	)

	err := s.repo.WithTransaction(ctx, func(txRepo repository.PaymentRepositoryInterface) error {
		existing, err := txRepo.GetRefundForUpdate(ctx, r.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.logger.WithField("gatewayRefundId", r.ID).
					Warn("refund.processed before refund.created, deferring to re-delivery")
				return nil
			}
			return fmt.Errorf("failed to load refund: %w", err)
		}

		if existing.Status == models.RefundProcessed {
			s.logger.WithField("gatewayRefundId", r.ID).Info("refund already processed, no-op")
			return nil
		}

		prev := existing.Status
		now := s.now()
		existing.Status = models.RefundProcessed
		existing.ProcessedAt = &now
		if err := txRepo.UpdateRefund(ctx, existing); err != nil {
			return fmt.Errorf("failed to update refund: %w", err)
		}

		parent, err := txRepo.GetTransactionForUpdate(ctx, r.PaymentID)
		if err != nil {
			return fmt.Errorf("failed to load parent transaction: %w", err)
		}
		if models.CanTransition(parent.Status, models.PaymentRefunded) {
			parent.Status = models.PaymentRefunded
			parent.RefundedAt = &now
			if err := txRepo.UpdateTransaction(ctx, parent); err != nil {
				return fmt.Errorf("failed to update parent transaction: %w", err)
			}
		}

		if err := txRepo.CreateAuditLog(ctx, s.auditEntry("payment_refund", r.ID, webhook.EventRefundProcessed, models.JSONB{
			"status":            map[string]interface{}{"from": string(prev), "to": string(models.RefundProcessed)},
			"transactionStatus": string(parent.Status),
		})); err != nil {
			return err
		}

		applied = true
		txRow = parent
		refund = existing
		return nil
	})
	if err != nil || !applied {
		return Result{}, err
	}

	s.publish(ctx, func(pub EventPublisher) error { return pub.PublishRefunded(ctx, txRow, refund) })
	return Result{Applied: true}, nil
}

// handleRefundFailed marks a refund attempt as failed at the gateway. The
// parent transaction is untouched; the capture stands.
func (s *WebhookService) handleRefundFailed(ctx context.Context, r webhook.RefundEntity) (Result, error) {
	var applied bool
	err := s.repo.WithTransaction(ctx, func(txRepo repository.PaymentRepositoryInterface) error {
		existing, err := txRepo.GetRefundForUpdate(ctx, r.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.logger.WithField("gatewayRefundId", r.ID).
					Warn("refund.failed before refund.created, deferring to re-delivery")
				return nil
			}
			return fmt.Errorf("failed to load refund: %w", err)
		}

		if existing.Status != models.RefundCreated {
			s.logger.WithFields(logrus.Fields{
				"gatewayRefundId": r.ID,
				"currentStatus":   existing.Status,
			}).Info("refund already settled, no-op")
			return nil
		}

		prev := existing.Status
		existing.Status = models.RefundFailed
		if err := txRepo.UpdateRefund(ctx, existing); err != nil {
			return fmt.Errorf("failed to update refund: %w", err)
		}

		applied = true
		return txRepo.CreateAuditLog(ctx, s.auditEntry("payment_refund", r.ID, webhook.EventRefundFailed, models.JSONB{
			"status": map[string]interface{}{"from": string(prev), "to": string(models.RefundFailed)},
		}))
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Applied: applied}, nil
}

// mirrorOrder opportunistically mirrors the payment outcome onto the linked
// business order. Failures are logged as a degradation and surfaced in the
// result; they never roll back the committed payment-side transition.
func (s *WebhookService) mirrorOrder(ctx context.Context, order *models.PaymentOrder, paymentStatus string, tx *models.PaymentTransaction, confirm bool) clients.MirrorResult {
	if order.BusinessOrderID == nil || *order.BusinessOrderID == "" {
		return clients.MirrorResult{}
	}

	res := s.orders.UpdatePaymentStatus(ctx, *order.BusinessOrderID, paymentStatus, tx.GatewayPaymentID)
	if res.Failed() {
		s.logger.WithError(res.Err).WithFields(logrus.Fields{
			"businessOrderId": *order.BusinessOrderID,
			"degraded":        true,
		}).Warn("business order mirror update failed, payment-side commit stands")
		return res
	}

	if confirm {
		if cr := s.orders.MarkConfirmed(ctx, *order.BusinessOrderID); cr.Failed() {
			s.logger.WithError(cr.Err).WithFields(logrus.Fields{
				"businessOrderId": *order.BusinessOrderID,
				"degraded":        true,
			}).Warn("business order confirm failed, payment-side commit stands")
			return cr
		}
	}
	return res
}

// publish sends a pipeline event, best-effort.
func (s *WebhookService) publish(ctx context.Context, fn func(EventPublisher) error) {
	if s.publisher == nil {
		return
	}
	if err := fn(s.publisher); err != nil {
		s.logger.WithError(err).Warn("failed to publish payment event")
	}
}

func (s *WebhookService) auditEntry(entityType, entityID, action string, changes models.JSONB) *models.AuditLog {
	return &models.AuditLog{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Changes:    changes,
		Actor:      models.AuditActor,
		CreatedAt:  s.now(),
	}
}

// amountFromSubunits converts a gateway amount in the smallest currency unit
// to the stored decimal amount.
func amountFromSubunits(subunits int64) float64 {
	return float64(subunits) / 100.0
}

func feeDetails(p webhook.PaymentEntity) models.JSONB {
	if p.Fee == 0 && p.Tax == 0 {
		return nil
	}
	return models.JSONB{
		"fee": p.Fee,
		"tax": p.Tax,
	}
}
