package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{PaymentAuthorized, PaymentCaptured, true},
		{PaymentAuthorized, PaymentFailed, true},
		{PaymentCaptured, PaymentRefunded, true},

		// Refunded strictly follows captured.
		{PaymentAuthorized, PaymentRefunded, false},
		{PaymentFailed, PaymentRefunded, false},

		// Terminal and backwards moves never apply.
		{PaymentCaptured, PaymentAuthorized, false},
		{PaymentCaptured, PaymentFailed, false},
		{PaymentFailed, PaymentCaptured, false},
		{PaymentRefunded, PaymentCaptured, false},
		{PaymentRefunded, PaymentAuthorized, false},

		// Re-deliveries of the current status are no-ops.
		{PaymentAuthorized, PaymentAuthorized, false},
		{PaymentCaptured, PaymentCaptured, false},
		{PaymentFailed, PaymentFailed, false},
		{PaymentRefunded, PaymentRefunded, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.allowed, CanTransition(c.from, c.to),
			"CanTransition(%s, %s)", c.from, c.to)
	}
}
