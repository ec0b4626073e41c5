package cloudauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mwapstack/cloudauth/exchange"
	"github.com/mwapstack/cloudauth/security"
	"github.com/mwapstack/cloudauth/storage"
)

// Errors returned by the refresh manager.
var (
	// ErrIntegrationRevoked means the provider invalidated the grant; the
	// integration must be re-authorized by the user.
	ErrIntegrationRevoked = errors.New("integration revoked by provider, re-authorization required")

	// ErrNoRefreshToken means the provider never issued a refresh token for
	// this integration.
	ErrNoRefreshToken = errors.New("integration has no refresh token")
)

// RefreshOutcome reports what RefreshIfNeeded did.
type RefreshOutcome struct {
	// Refreshed is false when the token was still comfortably valid and no
	// exchange was performed.
	Refreshed bool

	// Rotated is true when the provider issued a new refresh token.
	Rotated bool

	// ExpiresAt is the access token expiry after the call.
	ExpiresAt time.Time
}

// IntegrationHealth is a read-only summary of token state for one integration.
// It carries no token material.
type IntegrationHealth struct {
	IntegrationID   string         `json:"integrationId"`
	TenantID        string         `json:"tenantId"`
	Status          storage.Status `json:"status"`
	ExpiresAt       time.Time      `json:"expiresAt,omitempty"`
	ExpiringSoon    bool           `json:"expiringSoon"`
	HasRefreshToken bool           `json:"hasRefreshToken"`
	LastRefreshedAt time.Time      `json:"lastRefreshedAt,omitempty"`
}

// RefreshManager refreshes access tokens before they expire. Concurrent
// refresh requests for the same integration collapse into a single outbound
// exchange via singleflight; all callers observe the same outcome.
type RefreshManager struct {
	integrations storage.IntegrationStore
	providers    providerSource
	vault        *TokenVault
	exchanger    *exchange.Client
	enc          *security.Encryptor

	auditor *security.Auditor
	monitor *security.Monitor
	logger  *slog.Logger

	lookahead time.Duration
	group     singleflight.Group
	now       func() time.Time
}

// RefreshIfNeeded refreshes the integration's access token when it is expired
// or expires within the configured lookahead window. With force set the
// window check is skipped and an exchange is always attempted.
//
// A token still valid beyond the window is a successful no-op. On
// invalid_grant the integration is marked revoked and ErrIntegrationRevoked
// is returned; transport failures leave the stored tokens and status
// untouched so the stale-but-possibly-usable access token survives.
func (m *RefreshManager) RefreshIfNeeded(ctx context.Context, integrationID string, force bool) (*RefreshOutcome, error) {
	v, err, _ := m.group.Do(integrationID, func() (any, error) {
		return m.refresh(ctx, integrationID, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RefreshOutcome), nil
}

func (m *RefreshManager) refresh(ctx context.Context, integrationID string, force bool) (*RefreshOutcome, error) {
	integration, err := m.integrations.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if integration.Status == storage.StatusRevoked {
		return nil, ErrIntegrationRevoked
	}
	if !integration.HasTokens() {
		return nil, fmt.Errorf("integration %s holds no tokens", integrationID)
	}

	if !force && !security.IsTokenExpiringSoon(integration.ExpiresAt, m.lookahead) {
		return &RefreshOutcome{Refreshed: false, ExpiresAt: integration.ExpiresAt}, nil
	}

	tokens, err := m.vault.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if tokens.RefreshToken == "" {
		// Nothing to exchange. Expired without a refresh token is terminal.
		if security.IsTokenExpired(integration.ExpiresAt) {
			if serr := m.vault.MarkStatus(ctx, integrationID, storage.StatusExpired); serr != nil {
				m.logger.Error("failed to mark integration expired",
					"integration_id", integrationID, "error", serr)
			}
		}
		return nil, ErrNoRefreshToken
	}

	provider, err := m.providers.GetProvider(ctx, integration.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	secret := ""
	if provider.ClientSecret != "" {
		if secret, err = m.enc.Decrypt(provider.ClientSecret); err != nil {
			return nil, fmt.Errorf("decrypt client secret: %w", err)
		}
	}

	strategy := exchange.RefreshStrategyFor(provider)
	fresh, err := m.exchanger.Refresh(ctx, provider, secret, tokens.RefreshToken, strategy)
	if err != nil {
		return nil, m.handleRefreshFailure(ctx, integration, err)
	}

	rotated := fresh.RefreshToken != tokens.RefreshToken
	if _, err := m.vault.Put(ctx, integrationID, *fresh); err != nil {
		return nil, err
	}

	m.logger.Info("token refreshed",
		"integration_id", integrationID,
		"tenant_id", integration.TenantID,
		"strategy", strategy.Name(),
		"rotated", rotated,
		"forced", force,
		"expires_at", fresh.ExpiresAt)

	if m.auditor != nil {
		m.auditor.LogTokenRefreshed(integration.TenantID, integrationID, rotated, force)
	}
	if m.monitor != nil {
		m.monitor.Record(security.Attempt{
			Kind:          security.AttemptRefresh,
			TenantID:      integration.TenantID,
			IntegrationID: integrationID,
			Success:       true,
		})
	}

	return &RefreshOutcome{Refreshed: true, Rotated: rotated, ExpiresAt: fresh.ExpiresAt}, nil
}

// handleRefreshFailure maps an exchange error onto integration state.
// invalid_grant means the grant is dead: mark revoked. Retryable transport
// failures change nothing. Other rejections mark the integration errored.
func (m *RefreshManager) handleRefreshFailure(ctx context.Context, integration *storage.Integration, exchangeErr error) error {
	reason := exchange.CodeUnknown
	var ee *exchange.Error
	if errors.As(exchangeErr, &ee) {
		reason = ee.Code
	}

	status := integration.Status
	switch {
	case exchange.IsInvalidGrant(exchangeErr):
		status = storage.StatusRevoked
	case exchange.IsRetryable(exchangeErr):
		// leave status untouched
	default:
		status = storage.StatusError
	}

	if status != integration.Status {
		if serr := m.vault.MarkStatus(ctx, integration.ID, status); serr != nil {
			m.logger.Error("failed to update integration status after refresh failure",
				"integration_id", integration.ID, "status", string(status), "error", serr)
		}
	}

	m.logger.Warn("token refresh failed",
		"integration_id", integration.ID,
		"tenant_id", integration.TenantID,
		"reason", reason,
		"status", string(status),
		"error", exchangeErr)

	if m.auditor != nil {
		m.auditor.LogRefreshFailed(integration.TenantID, integration.ID, reason, string(status))
	}
	if m.monitor != nil {
		m.monitor.Record(security.Attempt{
			Kind:          security.AttemptRefresh,
			TenantID:      integration.TenantID,
			IntegrationID: integration.ID,
			Reason:        reason,
		})
	}

	if exchange.IsInvalidGrant(exchangeErr) {
		return fmt.Errorf("%w: %s", ErrIntegrationRevoked, reason)
	}
	return exchangeErr
}

// Health summarizes the token lifecycle state of an integration without
// exposing token material.
func (m *RefreshManager) Health(ctx context.Context, integrationID string) (*IntegrationHealth, error) {
	integration, err := m.integrations.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	return &IntegrationHealth{
		IntegrationID:   integration.ID,
		TenantID:        integration.TenantID,
		Status:          integration.Status,
		ExpiresAt:       integration.ExpiresAt,
		ExpiringSoon:    integration.HasTokens() && security.IsTokenExpiringSoon(integration.ExpiresAt, m.lookahead),
		HasRefreshToken: integration.RefreshToken != "",
		LastRefreshedAt: integration.LastRefreshedAt,
	}, nil
}
