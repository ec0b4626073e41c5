package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
// Internal failure reasons are written here and only here; externally visible
// errors carry generic messages.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type          string
	TenantID      string
	IntegrationID string
	UserID        string
	IPAddress     string
	Details       map[string]any
	Timestamp     time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"tenant_id", event.TenantID,
		"integration_id", event.IntegrationID,
		"user_id_hash", hashForLogging(event.UserID),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogFlowInitiated logs the start of an authorization flow.
func (a *Auditor) LogFlowInitiated(tenantID, integrationID, userID, ipAddress, flowType string) {
	a.LogEvent(Event{
		Type:          EventFlowInitiated,
		TenantID:      tenantID,
		IntegrationID: integrationID,
		UserID:        userID,
		IPAddress:     ipAddress,
		Details: map[string]any{
			"flow_type": flowType,
		},
	})
}

// LogFlowFailed logs a failed callback with the precise internal reason.
func (a *Auditor) LogFlowFailed(tenantID, integrationID, ipAddress, reason, detail string) {
	a.LogEvent(Event{
		Type:          EventFlowFailed,
		TenantID:      tenantID,
		IntegrationID: integrationID,
		IPAddress:     ipAddress,
		Details: map[string]any{
			"reason": reason,
			"detail": detail,
		},
	})
}

// LogOwnershipViolation logs a tenant/integration mismatch at elevated severity.
func (a *Auditor) LogOwnershipViolation(claimedTenantID, integrationID, ipAddress string) {
	if !a.enabled {
		return
	}
	a.logger.Warn("security_audit",
		"event_type", EventOwnershipViolation,
		"tenant_id", claimedTenantID,
		"integration_id", integrationID,
		"ip_address", ipAddress,
		"timestamp", time.Now(),
	)
}

// LogTokensStored logs a successful exchange and persistence of tokens.
func (a *Auditor) LogTokensStored(tenantID, integrationID, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:          EventTokensStored,
		TenantID:      tenantID,
		IntegrationID: integrationID,
		IPAddress:     ipAddress,
		Details: map[string]any{
			"scopes": scopes,
		},
	})
}

// LogTokenRefreshed logs a successful refresh exchange.
func (a *Auditor) LogTokenRefreshed(tenantID, integrationID string, rotated, forced bool) {
	a.LogEvent(Event{
		Type:          EventTokenRefreshed,
		TenantID:      tenantID,
		IntegrationID: integrationID,
		Details: map[string]any{
			"rotated": rotated,
			"forced":  forced,
		},
	})
}

// LogRefreshFailed logs a failed refresh exchange and the resulting status.
func (a *Auditor) LogRefreshFailed(tenantID, integrationID, reason string, status string) {
	a.LogEvent(Event{
		Type:          EventRefreshFailed,
		TenantID:      tenantID,
		IntegrationID: integrationID,
		Details: map[string]any{
			"reason": reason,
			"status": status,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
