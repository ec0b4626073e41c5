package cloudauth

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mwapstack/cloudauth/storage"
)

// AuthorizationRequest is the result of composing a provider authorization
// URL. State is returned alongside the URL so callers can audit the exact
// value without re-deriving it.
type AuthorizationRequest struct {
	URL         string
	State       string
	RedirectURI string
	FlowType    string // "confidential" or "pkce"

	// ProviderName and ProviderDisplayName identify the provider to the
	// caller's UI. Filled by the service, not the builder.
	ProviderName        string
	ProviderDisplayName string
}

// BuildAuthorizationURL composes the provider-specific authorization request.
// Pure composition over its inputs: no network calls, no storage access.
//
// When the integration carries PKCE metadata the challenge parameters are
// included and no client-secret material appears anywhere in the URL (it
// never does for confidential clients either; the secret only travels in the
// token exchange).
func BuildAuthorizationURL(provider *storage.Provider, integration *storage.Integration, userID, redirectURI string, now time.Time) (*AuthorizationRequest, error) {
	payload, err := NewStatePayload(integration.ID, integration.TenantID, userID, now)
	if err != nil {
		return nil, err
	}
	state, err := EncodeState(payload)
	if err != nil {
		return nil, err
	}

	authURL, err := url.Parse(provider.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("parse authorization endpoint: %w", err)
	}

	params := authURL.Query()
	params.Set("client_id", provider.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURI)
	if len(provider.Scopes) > 0 {
		params.Set("scope", strings.Join(provider.Scopes, " "))
	}
	params.Set("state", state)

	flowType := "confidential"
	if pkce, ok := pkceFromMetadata(integration.Metadata); ok {
		flowType = "pkce"
		params.Set("code_challenge", pkce.Challenge)
		params.Set("code_challenge_method", pkce.Method)
	}

	// Provider-specific extras, e.g. Google's access_type=offline flag
	// without which no refresh token is issued.
	for k, v := range provider.ExtraParams {
		if k = strings.TrimSpace(k); k != "" && v != "" {
			params.Set(k, v)
		}
	}

	authURL.RawQuery = params.Encode()

	return &AuthorizationRequest{
		URL:         authURL.String(),
		State:       state,
		RedirectURI: redirectURI,
		FlowType:    flowType,
	}, nil
}
