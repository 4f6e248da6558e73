package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MinSecretLength is the minimum accepted webhook secret length. Shorter
// secrets make brute-forcing the HMAC feasible, so the verifier refuses to
// start with one.
const MinSecretLength = 32

// SignaturePrefix is the expected prefix of the signature header value.
const SignaturePrefix = "sha256="

// hmacSHA256 hex digests are always 64 characters.
const digestHexLength = 64

var (
	// ErrMissingSignature indicates the signature header was absent or empty.
	ErrMissingSignature = errors.New("missing signature header")

	// ErrMalformedSignature indicates the header did not match the
	// sha256=<64 hex chars> format. Checked before any HMAC computation.
	ErrMalformedSignature = errors.New("malformed signature header")

	// ErrSignatureMismatch indicates the HMAC digest did not match.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Verifier authenticates raw webhook bodies against a pre-shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a signature verifier. It fails closed on a missing or
// short secret rather than ever accepting unsigned deliveries.
func NewVerifier(secret string) (*Verifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("webhook secret must be at least %d characters, got %d", MinSecretLength, len(secret))
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify checks the signature header against the HMAC-SHA256 digest of the
// exact raw body bytes. The digest comparison is constant-time.
func (v *Verifier) Verify(body []byte, header string) error {
	if header == "" {
		return ErrMissingSignature
	}

	// Cheap format check before the HMAC computation.
	if len(header) != len(SignaturePrefix)+digestHexLength || !strings.HasPrefix(header, SignaturePrefix) {
		return ErrMalformedSignature
	}
	provided := header[len(SignaturePrefix):]
	if _, err := hex.DecodeString(provided); err != nil {
		return ErrMalformedSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the signature header value for a body. Used by tests and by
// the reconciliation sweep's self-checks.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// TruncateSignature shortens a signature header for forensic logging so the
// full value never lands in logs.
func TruncateSignature(header string) string {
	if len(header) <= 16 {
		return header
	}
	return header[:16] + "..."
}
