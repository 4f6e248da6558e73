package services

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"payment-webhook-service/internal/gateway"
	"payment-webhook-service/internal/models"
	"payment-webhook-service/internal/repository"
)

// PaymentService creates gateway orders for checkout. All later state
// changes flow through the webhook pipeline, never through this service.
type PaymentService struct {
	repo    repository.PaymentRepositoryInterface
	gateway gateway.Client
	logger  *logrus.Entry
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo repository.PaymentRepositoryInterface, gw gateway.Client, logger *logrus.Logger) *PaymentService {
	return &PaymentService{
		repo:    repo,
		gateway: gw,
		logger:  logger.WithField("component", "payment-service"),
	}
}

// InitiatePayment creates a gateway order and records the matching local
// payment order in CREATED status.
func (s *PaymentService) InitiatePayment(ctx context.Context, req *models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error) {
	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}

	notes := map[string]interface{}{"user_id": req.UserID}
	if req.BusinessOrderID != "" {
		notes["business_order_id"] = req.BusinessOrderID
	}

	// Rounded, not truncated: float re-representation of e.g. 19.99 would
	// otherwise lose a paisa.
	amountSubunits := int64(math.Round(req.Amount * 100))
	gatewayOrderID, err := s.gateway.CreateOrder(amountSubunits, currency, req.UserID, notes)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create gateway order")
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}

	order := &models.PaymentOrder{
		GatewayOrderID: gatewayOrderID,
		Amount:         req.Amount,
		Currency:       currency,
		Status:         models.OrderCreated,
		UserID:         req.UserID,
	}
	if req.BusinessOrderID != "" {
		businessOrderID := req.BusinessOrderID
		order.BusinessOrderID = &businessOrderID
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		s.logger.WithError(err).WithField("gatewayOrderId", gatewayOrderID).Error("Failed to persist payment order")
		return nil, fmt.Errorf("failed to create payment order: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"paymentOrderId": order.ID,
		"gatewayOrderId": gatewayOrderID,
		"amount":         req.Amount,
		"currency":       currency,
	}).Info("Payment order created")

	return &models.InitiatePaymentResponse{
		PaymentOrderID: order.ID.String(),
		GatewayOrderID: gatewayOrderID,
		Amount:         order.Amount,
		Currency:       order.Currency,
		Status:         string(order.Status),
	}, nil
}
