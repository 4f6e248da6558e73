package webhook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func validEnvelope(event string, createdAt int64) *Envelope {
	env := &Envelope{
		Entity:    "event",
		AccountID: "acc_test",
		Event:     event,
		Contains:  []string{"payment"},
		CreatedAt: createdAt,
	}
	switch event {
	case EventRefundCreated, EventRefundProcessed, EventRefundFailed:
		env.Contains = []string{"refund"}
		env.Payload.Refund = &refundWrapper{Entity: &RefundEntity{
			ID:        "rfnd_1",
			PaymentID: "pay_123",
			Amount:    49999,
			Currency:  "INR",
		}}
	default:
		env.Payload.Payment = &paymentWrapper{Entity: &PaymentEntity{
			ID:       "pay_123",
			OrderID:  "order_abc",
			Amount:   49999,
			Currency: "INR",
			Status:   "captured",
		}}
	}
	return env
}

func TestValidate_AcceptsWellFormedEnvelope(t *testing.T) {
	v := NewValidator(nil)

	errs := v.Validate(validEnvelope(EventPaymentCaptured, time.Now().Unix()))
	assert.Empty(t, errs)

	errs = v.Validate(validEnvelope(EventRefundProcessed, time.Now().Unix()))
	assert.Empty(t, errs)
}

func TestValidate_ReportsAllMissingFields(t *testing.T) {
	v := NewValidator(nil)

	errs := v.Validate(&Envelope{})
	assert.Len(t, errs, 5)
}

func TestValidate_PaymentEventRequiresPaymentEntity(t *testing.T) {
	v := NewValidator(nil)

	env := validEnvelope(EventPaymentCaptured, time.Now().Unix())
	env.Payload.Payment = nil
	errs := v.Validate(env)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "payload.payment.entity")

	env = validEnvelope(EventPaymentCaptured, time.Now().Unix())
	env.Payload.Payment.Entity.ID = ""
	errs = v.Validate(env)
	assert.Len(t, errs, 1)
}

func TestValidate_RefundEventRequiresRefundEntity(t *testing.T) {
	v := NewValidator(nil)

	env := validEnvelope(EventRefundCreated, time.Now().Unix())
	env.Payload.Refund = nil
	errs := v.Validate(env)
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "payload.refund.entity")
}

func TestValidate_UnknownEventSkipsEntityChecks(t *testing.T) {
	v := NewValidator(nil)

	env := validEnvelope(EventPaymentCaptured, time.Now().Unix())
	env.Event = "invoice.paid"
	env.Payload.Payment = nil

	assert.Empty(t, v.Validate(env))
}

func TestCheckFreshness(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	v := NewValidator(clockAt(now))

	// Inside the window.
	assert.NoError(t, v.CheckFreshness(now.Add(-30*time.Second).Unix()))
	assert.NoError(t, v.CheckFreshness(now.Add(-5*time.Minute).Unix()))
	assert.NoError(t, v.CheckFreshness(now.Add(59*time.Second).Unix()))

	// Older than the replay window.
	err := v.CheckFreshness(now.Add(-5*time.Minute - time.Second).Unix())
	assert.ErrorIs(t, err, ErrStaleTimestamp)

	err = v.CheckFreshness(now.Add(-2 * time.Hour).Unix())
	assert.ErrorIs(t, err, ErrStaleTimestamp)

	// Further ahead than tolerated skew.
	err = v.CheckFreshness(now.Add(2 * time.Minute).Unix())
	assert.ErrorIs(t, err, ErrFutureTimestamp)
}

func TestDecode_ProducesTypedEvents(t *testing.T) {
	now := time.Now().Unix()

	ev, err := Decode(validEnvelope(EventPaymentAuthorized, now))
	assert.NoError(t, err)
	authorized, ok := ev.(PaymentAuthorizedEvent)
	assert.True(t, ok)
	assert.Equal(t, "pay_123", authorized.Payment.ID)
	assert.Equal(t, EventPaymentAuthorized, ev.Name())

	ev, err = Decode(validEnvelope(EventPaymentCaptured, now))
	assert.NoError(t, err)
	_, ok = ev.(PaymentCapturedEvent)
	assert.True(t, ok)

	ev, err = Decode(validEnvelope(EventPaymentFailed, now))
	assert.NoError(t, err)
	_, ok = ev.(PaymentFailedEvent)
	assert.True(t, ok)

	ev, err = Decode(validEnvelope(EventRefundCreated, now))
	assert.NoError(t, err)
	created, ok := ev.(RefundCreatedEvent)
	assert.True(t, ok)
	assert.Equal(t, "rfnd_1", created.Refund.ID)

	ev, err = Decode(validEnvelope(EventRefundProcessed, now))
	assert.NoError(t, err)
	_, ok = ev.(RefundProcessedEvent)
	assert.True(t, ok)

	ev, err = Decode(validEnvelope(EventRefundFailed, now))
	assert.NoError(t, err)
	_, ok = ev.(RefundFailedEvent)
	assert.True(t, ok)
	assert.Equal(t, EventRefundFailed, ev.Name())
}

func TestDecode_UnknownEvent(t *testing.T) {
	env := validEnvelope(EventPaymentCaptured, time.Now().Unix())
	env.Event = "subscription.activated"

	_, err := Decode(env)
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestEnvelope_UnmarshalWireFormat(t *testing.T) {
	raw := `{
		"entity": "event",
		"account_id": "acc_HgQwerty123",
		"event": "payment.captured",
		"contains": ["payment", "order"],
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_NxQ1",
					"order_id": "order_NxQ0",
					"amount": 125000,
					"currency": "INR",
					"status": "captured",
					"method": "upi",
					"fee": 2950,
					"tax": 450
				}
			},
			"order": {
				"entity": {"id": "order_NxQ0", "status": "paid"}
			}
		},
		"created_at": 1718445600
	}`

	var env Envelope
	assert.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, "payment.captured", env.Event)
	assert.Equal(t, int64(1718445600), env.CreatedAt)
	assert.NotNil(t, env.Payload.Payment)
	assert.Equal(t, int64(125000), env.Payload.Payment.Entity.Amount)
	assert.Equal(t, int64(2950), env.Payload.Payment.Entity.Fee)
	assert.Equal(t, "paid", env.Payload.Order.Entity["status"])
}
