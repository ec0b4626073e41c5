package storage

import (
	"fmt"
	"time"

	"github.com/mwapstack/cloudauth/security"
)

// RedactedToken is the fixed placeholder substituted for token values in any
// outward-facing representation of an Integration.
const RedactedToken = "[REDACTED]"

// ApplyTokenSet encrypts a token set and writes it onto the integration
// record: ciphertext tokens, expiry, granted scopes, active status. Transient
// PKCE metadata is cleared because the flow that produced the tokens is over.
func ApplyTokenSet(enc *security.Encryptor, integration *Integration, tokens TokenSet, now time.Time) error {
	access, err := enc.Encrypt(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	refresh := ""
	if tokens.RefreshToken != "" {
		refresh, err = enc.Encrypt(tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	integration.AccessToken = access
	integration.RefreshToken = refresh
	integration.ExpiresAt = tokens.ExpiresAt
	if len(tokens.Scopes) > 0 {
		integration.Scopes = tokens.Scopes
	}
	integration.Status = StatusActive
	integration.UpdatedAt = now
	integration.LastRefreshedAt = now

	delete(integration.Metadata, MetaCodeVerifier)
	delete(integration.Metadata, MetaCodeChallenge)
	delete(integration.Metadata, MetaCodeChallengeMethod)

	return nil
}

// ExtractTokenSet decrypts the token material stored on an integration.
func ExtractTokenSet(enc *security.Encryptor, integration *Integration) (*TokenSet, error) {
	if !integration.HasTokens() {
		return nil, fmt.Errorf("integration %s holds no tokens", integration.ID)
	}

	access, err := enc.Decrypt(integration.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}

	refresh := ""
	if integration.RefreshToken != "" {
		refresh, err = enc.Decrypt(integration.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}

	return &TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    integration.ExpiresAt,
		Scopes:       append([]string(nil), integration.Scopes...),
	}, nil
}

// Redacted returns a copy of the integration safe for API responses: token
// ciphertext replaced by the fixed placeholder and transient metadata dropped.
func (i *Integration) Redacted() *Integration {
	out := *i
	if out.AccessToken != "" {
		out.AccessToken = RedactedToken
	}
	if out.RefreshToken != "" {
		out.RefreshToken = RedactedToken
	}
	out.Metadata = nil
	return &out
}
