package webhook

import (
	"errors"
	"fmt"
	"time"
)

// Known gateway event names.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventRefundCreated     = "refund.created"
	EventRefundProcessed   = "refund.processed"
	EventRefundFailed      = "refund.failed"
)

var (
	// ErrStaleTimestamp indicates the payload creation time is older than the
	// replay window. Distinct from clock skew so operators can tell replay
	// attempts from drift.
	ErrStaleTimestamp = errors.New("payload timestamp is stale")

	// ErrFutureTimestamp indicates the payload creation time is further in the
	// future than tolerated clock skew.
	ErrFutureTimestamp = errors.New("payload timestamp is in the future")

	// ErrUnknownEvent indicates an event name outside the known set. The
	// pipeline acknowledges these with success rather than failing delivery.
	ErrUnknownEvent = errors.New("unknown event type")
)

// PaymentEntity is the payment resource embedded in payment-class events.
// Amounts are in the smallest currency unit (paise for INR).
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	Fee              int64  `json:"fee"`
	Tax              int64  `json:"tax"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// RefundEntity is the refund resource embedded in refund-class events.
type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Notes     string `json:"notes"`
}

type paymentWrapper struct {
	Entity *PaymentEntity `json:"entity"`
}

type refundWrapper struct {
	Entity *RefundEntity `json:"entity"`
}

// Envelope is the top-level webhook delivery shape.
type Envelope struct {
	Entity    string   `json:"entity"`
	AccountID string   `json:"account_id"`
	Event     string   `json:"event"`
	Contains  []string `json:"contains"`
	Payload   struct {
		Payment *paymentWrapper `json:"payment"`
		Order   *struct {
			Entity map[string]interface{} `json:"entity"`
		} `json:"order"`
		Refund *refundWrapper `json:"refund"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// Event is the decoded, typed form of a validated delivery. One concrete type
// per event kind so handler dispatch is exhaustive at compile time.
type Event interface {
	Name() string
}

type PaymentAuthorizedEvent struct{ Payment PaymentEntity }
type PaymentCapturedEvent struct{ Payment PaymentEntity }
type PaymentFailedEvent struct{ Payment PaymentEntity }
type RefundCreatedEvent struct{ Refund RefundEntity }
type RefundProcessedEvent struct{ Refund RefundEntity }
type RefundFailedEvent struct{ Refund RefundEntity }

func (PaymentAuthorizedEvent) Name() string { return EventPaymentAuthorized }
func (PaymentCapturedEvent) Name() string   { return EventPaymentCaptured }
func (PaymentFailedEvent) Name() string     { return EventPaymentFailed }
func (RefundCreatedEvent) Name() string     { return EventRefundCreated }
func (RefundProcessedEvent) Name() string   { return EventRefundProcessed }
func (RefundFailedEvent) Name() string      { return EventRefundFailed }

// isPaymentEvent maps known event names to whether they require a payment
// entity (true) or a refund entity (false).
var isPaymentEvent = map[string]bool{
	EventPaymentAuthorized: true,
	EventPaymentCaptured:   true,
	EventPaymentFailed:     true,
	EventRefundCreated:     false,
	EventRefundProcessed:   false,
	EventRefundFailed:      false,
}

// Validator performs structural validation and the freshness/replay check on
// decoded envelopes. The clock is injected so tests are deterministic.
type Validator struct {
	now     func() time.Time
	maxAge  time.Duration
	maxSkew time.Duration
}

// NewValidator creates a validator with the default replay window: payloads
// older than 5 minutes or more than 1 minute in the future are rejected.
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{
		now:     now,
		maxAge:  5 * time.Minute,
		maxSkew: 1 * time.Minute,
	}
}

// Validate checks the envelope's shape and event-specific requirements.
// A non-empty list of human-readable errors is a rejection. An unknown event
// name is not a validation error; the dispatcher acknowledges it as a no-op.
func (v *Validator) Validate(env *Envelope) []string {
	var errs []string

	if env.Entity == "" {
		errs = append(errs, "entity is required")
	}
	if env.AccountID == "" {
		errs = append(errs, "account_id is required")
	}
	if env.Event == "" {
		errs = append(errs, "event is required")
	}
	if len(env.Contains) == 0 {
		errs = append(errs, "contains must list at least one resource")
	}
	if env.CreatedAt <= 0 {
		errs = append(errs, "created_at must be a positive unix timestamp")
	}

	wantsPayment, known := isPaymentEvent[env.Event]
	if !known {
		return errs
	}

	if wantsPayment {
		if env.Payload.Payment == nil || env.Payload.Payment.Entity == nil || env.Payload.Payment.Entity.ID == "" {
			errs = append(errs, fmt.Sprintf("%s requires a non-empty payload.payment.entity", env.Event))
		}
	} else {
		if env.Payload.Refund == nil || env.Payload.Refund.Entity == nil || env.Payload.Refund.Entity.ID == "" {
			errs = append(errs, fmt.Sprintf("%s requires a non-empty payload.refund.entity", env.Event))
		}
	}

	return errs
}

// CheckFreshness verifies the embedded creation timestamp falls inside the
// acceptable window relative to server time.
func (v *Validator) CheckFreshness(createdAt int64) error {
	now := v.now()
	ts := time.Unix(createdAt, 0)

	if now.Sub(ts) > v.maxAge {
		return fmt.Errorf("%w: created_at %d is older than %s", ErrStaleTimestamp, createdAt, v.maxAge)
	}
	if ts.Sub(now) > v.maxSkew {
		return fmt.Errorf("%w: created_at %d is more than %s ahead of server time", ErrFutureTimestamp, createdAt, v.maxSkew)
	}
	return nil
}

// Decode turns a validated envelope into its typed event. Unknown event names
// return ErrUnknownEvent so the caller can acknowledge without processing.
func Decode(env *Envelope) (Event, error) {
	switch env.Event {
	case EventPaymentAuthorized:
		return PaymentAuthorizedEvent{Payment: *env.Payload.Payment.Entity}, nil
	case EventPaymentCaptured:
		return PaymentCapturedEvent{Payment: *env.Payload.Payment.Entity}, nil
	case EventPaymentFailed:
		return PaymentFailedEvent{Payment: *env.Payload.Payment.Entity}, nil
	case EventRefundCreated:
		return RefundCreatedEvent{Refund: *env.Payload.Refund.Entity}, nil
	case EventRefundProcessed:
		return RefundProcessedEvent{Refund: *env.Payload.Refund.Entity}, nil
	case EventRefundFailed:
		return RefundFailedEvent{Refund: *env.Payload.Refund.Entity}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event)
	}
}
