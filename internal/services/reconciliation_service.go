package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"payment-webhook-service/internal/gateway"
	"payment-webhook-service/internal/repository"
	"payment-webhook-service/internal/webhook"
)

// ReconciliationService periodically sweeps transactions that are still
// AUTHORIZED and asks the gateway what actually happened. A missed webhook
// then converges through the same event path a delivery would have taken.
type ReconciliationService struct {
	repo     repository.PaymentRepositoryInterface
	gateway  gateway.Client
	webhooks *WebhookService
	logger   *logrus.Entry
	interval time.Duration
	staleAge time.Duration
	now      func() time.Time
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(repo repository.PaymentRepositoryInterface, gw gateway.Client, webhooks *WebhookService, logger *logrus.Logger, interval, staleAge time.Duration, now func() time.Time) *ReconciliationService {
	if now == nil {
		now = time.Now
	}
	return &ReconciliationService{
		repo:     repo,
		gateway:  gw,
		webhooks: webhooks,
		logger:   logger.WithField("component", "reconciliation-service"),
		interval: interval,
		staleAge: staleAge,
		now:      now,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *ReconciliationService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"interval": s.interval.String(),
		"staleAge": s.staleAge.String(),
	}).Info("Reconciliation sweep started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reconciliation sweep stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.WithError(err).Error("Reconciliation sweep failed")
			}
		}
	}
}

// SweepOnce reconciles every transaction stuck in AUTHORIZED longer than the
// stale age. Per-transaction failures are logged and skipped so one bad fetch
// cannot stall the rest of the sweep.
func (s *ReconciliationService) SweepOnce(ctx context.Context) error {
	cutoff := s.now().Add(-s.staleAge)
	stale, err := s.repo.ListStaleAuthorizedTransactions(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	s.logger.WithField("count", len(stale)).Info("Reconciling stale authorized transactions")

	for _, tx := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.reconcileTransaction(ctx, tx.GatewayPaymentID); err != nil {
			s.logger.WithError(err).WithField("gatewayPaymentId", tx.GatewayPaymentID).
				Warn("Failed to reconcile transaction")
		}
	}
	return nil
}

// reconcileTransaction fetches the gateway state of one payment and, when it
// has reached a terminal state, replays that state through the webhook
// pipeline. The pipeline's idempotency rules make a double apply harmless.
func (s *ReconciliationService) reconcileTransaction(ctx context.Context, gatewayPaymentID string) error {
	payment, err := s.gateway.FetchPayment(gatewayPaymentID)
	if err != nil {
		return err
	}

	entity := webhook.PaymentEntity{
		ID:               payment.ID,
		OrderID:          payment.OrderID,
		Amount:           payment.Amount,
		Currency:         payment.Currency,
		Status:           payment.Status,
		Method:           payment.Method,
		Fee:              payment.Fee,
		Tax:              payment.Tax,
		ErrorCode:        payment.ErrorCode,
		ErrorDescription: payment.ErrorDescription,
	}

	var ev webhook.Event
	switch payment.Status {
	case "captured":
		ev = webhook.PaymentCapturedEvent{Payment: entity}
	case "failed":
		ev = webhook.PaymentFailedEvent{Payment: entity}
	default:
		// Still pending at the gateway, leave it for a later sweep.
		s.logger.WithFields(logrus.Fields{
			"gatewayPaymentId": gatewayPaymentID,
			"gatewayStatus":    payment.Status,
		}).Info("Transaction not yet settled at gateway")
		return nil
	}

	result, err := s.webhooks.ProcessEvent(ctx, ev)
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"gatewayPaymentId": gatewayPaymentID,
		"gatewayStatus":    payment.Status,
		"applied":          result.Applied,
	}).Info("Transaction reconciled")
	return nil
}
