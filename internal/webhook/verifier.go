package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/takato23/lookescolar-sub010/internal/apperr"
)

// signaturePrefix is the version tag the gateway prepends to the hex digest.
const signaturePrefix = "v1="

// Verifier authenticates inbound notifications: HMAC-SHA256 over the raw
// request body with a shared secret, compared in constant time.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for the shared secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify checks header against the digest of rawBody. The comparison never
// short-circuits, so response timing reveals nothing about the expected value.
func (v *Verifier) Verify(rawBody []byte, header string) error {
	if !strings.HasPrefix(header, signaturePrefix) {
		return fmt.Errorf("missing %q prefix: %w", signaturePrefix, apperr.ErrSignature)
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return fmt.Errorf("malformed hex digest: %w", apperr.ErrSignature)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	want := mac.Sum(nil)

	if subtle.ConstantTimeCompare(got, want) != 1 {
		return apperr.ErrSignature
	}
	return nil
}

// Sign computes the header value for rawBody. Used by tests and by local
// tooling that replays notifications.
func (v *Verifier) Sign(rawBody []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Envelope is the gateway's notification body. Only the payment id matters to
// settlement; everything else is kept raw for audit.
type Envelope struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// ParseEnvelope decodes the notification body. A parse error means a
// malformed request (HTTP 400); an envelope without a payment id is valid but
// carries nothing to reconcile (the handler acknowledges and moves on).
func ParseEnvelope(rawBody []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("parse notification: %w", err)
	}
	return &env, nil
}

// PaymentID returns the referenced payment id, empty when absent.
func (e *Envelope) PaymentID() string {
	return e.Data.ID.String()
}
