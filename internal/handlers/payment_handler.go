package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"payment-webhook-service/internal/models"
	"payment-webhook-service/internal/services"
)

// PaymentHandler handles payment initiation requests
type PaymentHandler struct {
	service *services.PaymentService
	logger  *logrus.Entry
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(service *services.PaymentService, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		logger:  logger.WithField("component", "handlers.payment"),
	}
}

// InitiatePayment handles POST /api/v1/payments/initiate
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Code:    models.CodeInvalidPayload,
			Message: err.Error(),
		})
		return
	}

	resp, err := h.service.InitiatePayment(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Payment initiation failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "Failed to initiate payment",
			Code:  models.CodeInternalError,
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}
