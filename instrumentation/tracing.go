package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY WARNING: never set actual sensitive values (access tokens, refresh
// tokens, authorization codes, client secrets, PKCE verifiers) as attribute
// values. Only metadata such as flow types, providers, expiry times, and
// validation results belongs in traces.
const (
	// OAuth flow attributes
	AttrTenantID      = "oauth.tenant_id"      // Tenant identifier (non-secret)
	AttrIntegrationID = "oauth.integration_id" // Integration identifier (non-secret)
	AttrFlowType      = "oauth.flow_type"      // Flow variant (confidential, pkce)
	AttrTokenRotated  = "oauth.token.rotated"  //nolint:gosec // Whether refresh token was rotated (boolean)
	AttrReason        = "oauth.reason"         // Internal failure reason code

	// Provider and security attributes
	AttrProviderName = "provider.name"
	AttrClientIP     = "security.client_ip"
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}
