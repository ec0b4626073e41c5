// Package exchange performs the code-for-token and refresh-token exchanges
// against a provider's token endpoint.
//
// Client authentication is modeled as an explicit Strategy variant pair
// rather than scattered boolean checks: Confidential sends HTTP Basic
// credentials and never embeds the secret in the form body; Public sends
// client_id and the PKCE code verifier in the body and never sends an
// Authorization header. The strategy is selected once, at flow-initiation
// time, and carried through integration metadata.
package exchange

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mwapstack/cloudauth/storage"
)

// DefaultTimeout bounds every outbound call to a provider token endpoint.
const DefaultTimeout = 30 * time.Second

// Error sub-codes derived from the provider's error field (RFC 6749 §5.2).
const (
	CodeInvalidGrant         = "invalid_grant"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidRequest       = "invalid_request"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeUnknown              = "unknown"

	// CodeProviderUnavailable marks transport-level failures (timeout,
	// connection refused). Safe to retry once; everything else is not.
	CodeProviderUnavailable = "provider_unavailable"
)

// Error is a typed token-endpoint failure.
type Error struct {
	Code        string
	Description string
	StatusCode  int
	Retryable   bool
}

func (e *Error) Error() string {
	if e.Description == "" {
		return "token exchange failed: " + e.Code
	}
	return "token exchange failed: " + e.Code + ": " + e.Description
}

// IsRetryable reports whether err is a transport-level provider failure that
// is safe to retry once.
func IsRetryable(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Retryable
}

// IsInvalidGrant reports whether the provider rejected the grant itself
// (expired or revoked code/refresh token).
func IsInvalidGrant(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Code == CodeInvalidGrant
}

// Strategy is the client authentication variant used at the token endpoint.
type Strategy interface {
	// Name identifies the variant for logging and metrics.
	Name() string

	config(provider *storage.Provider, clientSecret, redirectURI string) *oauth2.Config
	exchangeOpts() []oauth2.AuthCodeOption
}

// Confidential authenticates with HTTP Basic client_id:client_secret.
// Several real-world providers reject body-embedded credentials, so this
// never falls back to them.
type Confidential struct{}

// Name implements Strategy.
func (Confidential) Name() string { return "confidential" }

func (Confidential) config(provider *storage.Provider, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     provider.ClientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   provider.AuthURL,
			TokenURL:  provider.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (Confidential) exchangeOpts() []oauth2.AuthCodeOption { return nil }

// Public is the PKCE public-client variant: client_id and code_verifier in
// the form body, no client secret anywhere in the request.
type Public struct {
	Verifier string
}

// Name implements Strategy.
func (Public) Name() string { return "pkce" }

func (Public) config(provider *storage.Provider, _ string, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    provider.ClientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   provider.AuthURL,
			TokenURL:  provider.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (p Public) exchangeOpts() []oauth2.AuthCodeOption {
	if p.Verifier == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{oauth2.VerifierOption(p.Verifier)}
}

// StrategyFor selects the variant recorded on the integration at initiation.
func StrategyFor(integration *storage.Integration) Strategy {
	if v := integration.Metadata[storage.MetaCodeVerifier]; v != "" {
		return Public{Verifier: v}
	}
	return Confidential{}
}

// RefreshStrategyFor selects the variant for refresh exchanges. The verifier
// is single-use and cleared once tokens are stored, so the provider's client
// type decides: no secret means the public-client form (client_id in the
// body, no Authorization header).
func RefreshStrategyFor(provider *storage.Provider) Strategy {
	if provider.ClientSecret == "" {
		return Public{}
	}
	return Confidential{}
}

// Client performs token-endpoint exchanges with a bounded timeout.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// NewClient creates an exchange client. A nil httpClient gets a default with
// the standard 30 second timeout.
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		timeout:    DefaultTimeout,
		logger:     logger,
	}
}

// ExchangeCode exchanges an authorization code for a token set using the
// given strategy.
func (c *Client) ExchangeCode(ctx context.Context, provider *storage.Provider, clientSecret, code, redirectURI string, strategy Strategy) (*storage.TokenSet, error) {
	cfg := strategy.config(provider, clientSecret, redirectURI)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := cfg.Exchange(ctx, code, strategy.exchangeOpts()...)
	if err != nil {
		c.logger.Debug("code exchange failed",
			"provider", provider.Name,
			"strategy", strategy.Name(),
			"error", err)
		return nil, classify(err)
	}

	return tokenSetFrom(token, provider), nil
}

// Refresh exchanges a refresh token for a fresh token set. The same dual-auth
// rule applies: PKCE-originated integrations keep the public-client form.
func (c *Client) Refresh(ctx context.Context, provider *storage.Provider, clientSecret, refreshToken string, strategy Strategy) (*storage.TokenSet, error) {
	cfg := strategy.config(provider, clientSecret, "")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		c.logger.Debug("refresh exchange failed",
			"provider", provider.Name,
			"strategy", strategy.Name(),
			"error", err)
		return nil, classify(err)
	}

	set := tokenSetFrom(token, provider)
	// Providers that rotate refresh tokens return a new one; those that do
	// not leave the field empty, in which case the old token stays valid and
	// the caller keeps it.
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}
	return set, nil
}

// tokenSetFrom converts an oauth2.Token, preferring the granted scope the
// provider reported over the configured request scopes.
func tokenSetFrom(token *oauth2.Token, provider *storage.Provider) *storage.TokenSet {
	scopes := provider.Scopes
	if granted, ok := token.Extra("scope").(string); ok && granted != "" {
		scopes = strings.Fields(granted)
	}
	return &storage.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		Scopes:       scopes,
	}
}

// classify maps transport and provider errors onto the typed taxonomy:
// 4xx rejections carry the provider's error code and are final, transport
// failures become retryable provider_unavailable errors.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		code := normalizeCode(retrieveErr.ErrorCode)
		status := 0
		retryable := false
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
			retryable = status >= http.StatusInternalServerError
		}
		return &Error{
			Code:        code,
			Description: retrieveErr.ErrorDescription,
			StatusCode:  status,
			Retryable:   retryable,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Code:        CodeProviderUnavailable,
			Description: "token endpoint timed out",
			Retryable:   true,
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &Error{
			Code:        CodeProviderUnavailable,
			Description: urlErr.Err.Error(),
			Retryable:   true,
		}
	}

	return &Error{
		Code:        CodeUnknown,
		Description: err.Error(),
	}
}

// normalizeCode folds provider error codes into the documented set.
func normalizeCode(code string) string {
	switch code {
	case CodeInvalidGrant, CodeInvalidClient, CodeInvalidRequest, CodeUnsupportedGrantType:
		return code
	default:
		return CodeUnknown
	}
}
