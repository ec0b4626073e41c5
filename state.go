package cloudauth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// StateTTL is the maximum age of a state token. A callback arriving at or
	// beyond this age is rejected.
	StateTTL = 10 * time.Minute

	// MinNonceLength is the minimum accepted nonce length. The codec itself
	// generates 32-character nonces; shorter ones only appear in forged or
	// corrupted tokens.
	MinNonceLength = 16

	nonceEntropyBytes = 24
)

// StatePayload is the anti-CSRF state token round-tripped through the
// authorization redirect. It is entirely self-describing: nothing about an
// in-flight flow is persisted server-side.
type StatePayload struct {
	IntegrationID string `json:"integrationId"`
	TenantID      string `json:"tenantId"`
	UserID        string `json:"userId"`
	Nonce         string `json:"nonce"`
	IssuedAt      int64  `json:"ts"` // unix seconds
}

// NewStatePayload builds a payload for a flow starting now, with a fresh
// random nonce.
func NewStatePayload(integrationID, tenantID, userID string, now time.Time) (StatePayload, error) {
	buf := make([]byte, nonceEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return StatePayload{}, fmt.Errorf("generate nonce: %w", err)
	}
	return StatePayload{
		IntegrationID: integrationID,
		TenantID:      tenantID,
		UserID:        userID,
		Nonce:         base64.RawURLEncoding.EncodeToString(buf),
		IssuedAt:      now.Unix(),
	}, nil
}

// EncodeState serializes the payload into the opaque token carried through
// the redirect. Pure function, no external calls.
func EncodeState(payload StatePayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeState reverses EncodeState. Returns ErrStateMalformed for anything
// that is not valid base64url-wrapped JSON.
func DecodeState(token string) (StatePayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return StatePayload{}, fmt.Errorf("%w: %v", ErrStateMalformed, err)
	}
	var payload StatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return StatePayload{}, fmt.Errorf("%w: %v", ErrStateMalformed, err)
	}
	return payload, nil
}

// ValidateState checks a decoded payload against the clock. Ownership
// verification is a separate step done by the flow controller against
// storage; this function never touches storage.
func ValidateState(payload StatePayload, now time.Time) error {
	if payload.IntegrationID == "" || payload.TenantID == "" || payload.UserID == "" ||
		payload.Nonce == "" || payload.IssuedAt == 0 {
		return ErrStateMalformed
	}
	if len(payload.Nonce) < MinNonceLength {
		return ErrWeakNonce
	}
	if now.Sub(time.Unix(payload.IssuedAt, 0)) >= StateTTL {
		return ErrStateExpired
	}
	return nil
}
