package models

import "time"

// Machine-readable error codes returned alongside HTTP statuses.
const (
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeMissingBody       = "MISSING_BODY"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMedia  = "UNSUPPORTED_MEDIA_TYPE"
	CodeMissingSignature  = "MISSING_SIGNATURE"
	CodeInvalidSignature  = "INVALID_SIGNATURE"
	CodeInvalidJSON       = "INVALID_JSON"
	CodeInvalidPayload    = "INVALID_PAYLOAD"
	CodeProcessingTimeout = "PROCESSING_TIMEOUT"
	CodeInternalError     = "INTERNAL_ERROR"
)

// ErrorResponse is the standard error body
type ErrorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	Message    string   `json:"message,omitempty"`
	Details    []string `json:"details,omitempty"`
	RetryAfter int      `json:"retryAfter,omitempty"`
}

// WebhookAck is the success response for a processed (or acknowledged) delivery
type WebhookAck struct {
	Success     bool      `json:"success"`
	EventType   string    `json:"eventType"`
	ProcessedAt time.Time `json:"processedAt"`
}

// InitiatePaymentRequest is the request body for creating a payment order
type InitiatePaymentRequest struct {
	Amount          float64 `json:"amount" binding:"required,gt=0"`
	Currency        string  `json:"currency"`
	UserID          string  `json:"userId" binding:"required"`
	BusinessOrderID string  `json:"businessOrderId"`
}

// InitiatePaymentResponse carries the gateway order reference the client
// needs to open the checkout flow
type InitiatePaymentResponse struct {
	PaymentOrderID string  `json:"paymentOrderId"`
	GatewayOrderID string  `json:"gatewayOrderId"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Status         string  `json:"status"`
}
