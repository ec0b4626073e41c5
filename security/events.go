package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Authorization flow events

	// EventFlowInitiated is logged when a tenant starts an authorization flow
	EventFlowInitiated = "oauth_flow_initiated"

	// EventFlowSucceeded is logged when a callback completes and tokens are stored
	EventFlowSucceeded = "oauth_flow_succeeded"

	// EventFlowFailed is logged when a callback terminates in a failure state
	EventFlowFailed = "oauth_flow_failed"

	// EventProviderDenied is logged when the provider reports the user denied consent
	EventProviderDenied = "oauth_provider_denied"

	// State token events

	// EventStateRejected is logged when state decoding or validation fails
	EventStateRejected = "oauth_state_rejected"

	// EventStateExpired is logged when a callback arrives after the state TTL
	EventStateExpired = "oauth_state_expired"

	// Ownership events

	// EventOwnershipViolation is logged when the decoded tenant does not own the
	// integration named by the state token (potential attack)
	EventOwnershipViolation = "oauth_ownership_violation"

	// PKCE events

	// EventInvalidPKCE is logged when stored PKCE parameters fail shape validation
	EventInvalidPKCE = "oauth_invalid_pkce"

	// Token lifecycle events

	// EventTokensStored is logged when an exchange succeeds and tokens are persisted
	EventTokensStored = "oauth_tokens_stored" //nolint:gosec // G101: event type name, not a credential

	// EventTokenRefreshed is logged when a refresh exchange succeeds
	EventTokenRefreshed = "oauth_token_refreshed"

	// EventRefreshFailed is logged when a refresh exchange fails
	EventRefreshFailed = "oauth_refresh_failed"

	// EventRefreshTokenRevoked is logged when the provider rejects a refresh token
	// as revoked and the integration is marked accordingly
	EventRefreshTokenRevoked = "oauth_refresh_token_revoked" //nolint:gosec // G101: event type name, not a credential

	// Exchange events

	// EventCodeExchangeFailed is logged when the code-for-token exchange fails
	EventCodeExchangeFailed = "oauth_code_exchange_failed"

	// EventProviderUnavailable is logged when the provider times out or is unreachable
	EventProviderUnavailable = "oauth_provider_unavailable"

	// Abuse events

	// EventRateLimitExceeded is logged when the callback rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventSuspiciousActivity is logged when the monitor raises an alert
	EventSuspiciousActivity = "suspicious_activity"
)
