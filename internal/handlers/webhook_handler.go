package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"payment-webhook-service/internal/middleware"
	"payment-webhook-service/internal/models"
	"payment-webhook-service/internal/services"
	"payment-webhook-service/internal/webhook"
)

// MaxBodyBytes caps webhook bodies at 1 MiB.
const MaxBodyBytes = 1 << 20

// WebhookHandler handles gateway webhook deliveries
type WebhookHandler struct {
	service         *services.WebhookService
	verifier        *webhook.Verifier
	validator       *webhook.Validator
	logger          *logrus.Entry
	signatureHeader string
	timeout         time.Duration
	now             func() time.Time
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service *services.WebhookService, verifier *webhook.Verifier, validator *webhook.Validator, logger *logrus.Logger, signatureHeader string, timeout time.Duration, now func() time.Time) *WebhookHandler {
	if now == nil {
		now = time.Now
	}
	return &WebhookHandler{
		service:         service,
		verifier:        verifier,
		validator:       validator,
		logger:          logger.WithField("component", "handlers.webhook"),
		signatureHeader: signatureHeader,
		timeout:         timeout,
		now:             now,
	}
}

// HandleWebhook handles POST /webhooks/payment
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	signature := c.GetHeader(h.signatureHeader)
	c.Set(middleware.SignatureHeaderKey, signature)

	// Read the exact raw bytes: the signature covers them as delivered.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
				Error:   "Payload too large",
				Code:    models.CodePayloadTooLarge,
				Message: "webhook body must not exceed 1 MiB",
			})
			return
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Failed to read request body",
			Code:  models.CodeMissingBody,
		})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Missing request body",
			Code:  models.CodeMissingBody,
		})
		return
	}

	if signature == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "Missing signature",
			Code:    models.CodeMissingSignature,
			Message: h.signatureHeader + " header is required",
		})
		return
	}

	if err := h.verifier.Verify(body, signature); err != nil {
		// A mismatch on a well-formed header may be an active attack.
		h.logger.WithFields(logrus.Fields{
			"clientIp":   c.ClientIP(),
			"signature":  webhook.TruncateSignature(signature),
			"bodyLength": len(body),
		}).Error("webhook signature verification failed")
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "Invalid signature",
			Code:  models.CodeInvalidSignature,
		})
		return
	}

	var env webhook.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Malformed JSON body",
			Code:  models.CodeInvalidJSON,
		})
		return
	}

	if errs := h.validator.Validate(&env); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Payload validation failed",
			Code:    models.CodeInvalidPayload,
			Details: errs,
		})
		return
	}

	if err := h.validator.CheckFreshness(env.CreatedAt); err != nil {
		h.logger.WithFields(logrus.Fields{
			"clientIp":  c.ClientIP(),
			"event":     env.Event,
			"createdAt": env.CreatedAt,
			"replay":    errors.Is(err, webhook.ErrStaleTimestamp),
		}).Warn("webhook timestamp outside acceptance window")
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Payload validation failed",
			Code:    models.CodeInvalidPayload,
			Message: err.Error(),
		})
		return
	}

	ev, err := webhook.Decode(&env)
	if err != nil {
		if errors.Is(err, webhook.ErrUnknownEvent) {
			// New event types the gateway adds must not fail the delivery.
			h.logger.WithField("event", env.Event).Info("unknown event type acknowledged as no-op")
			c.JSON(http.StatusOK, models.WebhookAck{
				Success:     true,
				EventType:   env.Event,
				ProcessedAt: h.now(),
			})
			return
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Payload validation failed",
			Code:    models.CodeInvalidPayload,
			Message: err.Error(),
		})
		return
	}

	// The handler races the timeout; the database transaction remains the
	// actual safety net for partial writes of a losing handler.
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := h.service.ProcessEvent(ctx, ev)
		done <- err
	}()

	select {
	case <-ctx.Done():
		h.logger.WithFields(logrus.Fields{
			"event":   env.Event,
			"timeout": h.timeout.String(),
		}).Error("webhook processing timed out")
		c.JSON(http.StatusRequestTimeout, models.ErrorResponse{
			Error:   "Processing timed out",
			Code:    models.CodeProcessingTimeout,
			Message: "the gateway will re-deliver this event",
		})
		return
	case err := <-done:
		if err != nil {
			h.logger.WithError(err).WithField("event", env.Event).Error("webhook processing failed")
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error: "Failed to process webhook",
				Code:  models.CodeInternalError,
			})
			return
		}
	}

	c.JSON(http.StatusOK, models.WebhookAck{
		Success:     true,
		EventType:   env.Event,
		ProcessedAt: h.now(),
	})
}

// MethodNotAllowed is installed as the router's NoMethod handler.
func MethodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, models.ErrorResponse{
		Error: "Method not allowed",
		Code:  models.CodeMethodNotAllowed,
	})
}
