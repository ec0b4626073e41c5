package cloudauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mwapstack/cloudauth/exchange"
	"github.com/mwapstack/cloudauth/instrumentation"
	"github.com/mwapstack/cloudauth/security"
	"github.com/mwapstack/cloudauth/storage"
)

// Authorization errors returned by Service operations.
var (
	// ErrNotOwner means the caller's tenant does not own the integration.
	ErrNotOwner = errors.New("integration is not owned by the caller's tenant")

	// ErrNotAdmin means the operation requires administrative privileges.
	ErrNotAdmin = errors.New("operation requires administrative privileges")
)

// ProviderInfo is the outward-facing summary of a configured provider. It
// carries no endpoint or credential material.
type ProviderInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Scopes      []string `json:"scopes,omitempty"`
}

// Service is the OAuth subsystem facade. It owns the flow controller, refresh
// manager, token vault, and security components, and enforces tenant
// ownership on every integration-scoped operation.
type Service struct {
	cfg Config

	integrations storage.IntegrationStore
	providerDB   storage.ProviderStore
	providers    *providerCache

	enc       *security.Encryptor
	auditor   *security.Auditor
	monitor   *security.Monitor
	limiter   *security.RateLimiter
	resolver  *RedirectResolver
	exchanger *exchange.Client
	vault     *TokenVault
	flow      *FlowController
	refresher *RefreshManager
	metrics   *instrumentation.Metrics

	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the subsystem over the given stores. The configuration is
// validated first; a bad encryption key fails here, before anything is served.
func NewService(cfg Config, integrations storage.IntegrationStore, providers storage.ProviderStore) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.applyDefaults()

	enc, err := security.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("create encryptor: %w", err)
	}

	logger := cfg.Logger
	auditor := security.NewAuditor(logger, cfg.EnableAuditLogging)
	monitor := security.NewMonitor(cfg.Monitor, logger)

	var limiter *security.RateLimiter
	if cfg.RateLimit.Rate > 0 {
		limiter = security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, logger)
	}

	resolver := &RedirectResolver{
		ExternalBaseURL: cfg.ExternalBaseURL,
		CallbackPath:    cfg.CallbackPath,
		TrustProxy:      cfg.TrustProxy,
	}
	exchanger := exchange.NewClient(cfg.HTTPClient, logger)
	vault := NewTokenVault(integrations, enc)
	cache := newProviderCache(providers, cfg.ProviderCacheTTL)

	var metrics *instrumentation.Metrics
	if cfg.Instrumentation != nil {
		metrics = cfg.Instrumentation.Metrics()
	}

	now := time.Now

	s := &Service{
		cfg:          cfg,
		integrations: integrations,
		providerDB:   providers,
		providers:    cache,
		enc:          enc,
		auditor:      auditor,
		monitor:      monitor,
		limiter:      limiter,
		resolver:     resolver,
		exchanger:    exchanger,
		vault:        vault,
		metrics:      metrics,
		logger:       logger,
		now:          now,
	}

	s.flow = &FlowController{
		integrations: integrations,
		providers:    cache,
		vault:        vault,
		exchanger:    exchanger,
		enc:          enc,
		auditor:      auditor,
		monitor:      monitor,
		metrics:      metrics,
		logger:       logger,
		now:          now,
	}

	s.refresher = &RefreshManager{
		integrations: integrations,
		providers:    cache,
		vault:        vault,
		exchanger:    exchanger,
		enc:          enc,
		auditor:      auditor,
		monitor:      monitor,
		logger:       logger,
		lookahead:    cfg.RefreshLookahead,
		now:          now,
	}

	return s, nil
}

// Close releases background resources.
func (s *Service) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// requireOwner loads the integration and verifies the caller's tenant owns it.
func (s *Service) requireOwner(ctx context.Context, id Identity, integrationID string) (*storage.Integration, error) {
	integration, err := s.integrations.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if integration.TenantID != id.TenantID {
		if s.auditor != nil {
			s.auditor.LogOwnershipViolation(id.TenantID, integrationID, "")
		}
		return nil, ErrNotOwner
	}
	return integration, nil
}

// Initiate starts an authorization flow for an integration owned by the
// caller's tenant. For providers without a client secret a fresh PKCE pair is
// generated and stashed in integration metadata until the callback consumes
// it. The returned URL is ready for a browser redirect.
func (s *Service) Initiate(ctx context.Context, id Identity, integrationID, redirectURI, sourceIP string) (*AuthorizationRequest, error) {
	integration, err := s.requireOwner(ctx, id, integrationID)
	if err != nil {
		return nil, err
	}

	provider, err := s.providers.GetProvider(ctx, integration.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}

	// Public client: no secret configured, so the flow must carry PKCE.
	if provider.ClientSecret == "" {
		pkce, err := GeneratePKCE()
		if err != nil {
			return nil, err
		}
		if integration.Metadata == nil {
			integration.Metadata = make(map[string]string)
		}
		integration.Metadata[storage.MetaCodeVerifier] = pkce.Verifier
		integration.Metadata[storage.MetaCodeChallenge] = pkce.Challenge
		integration.Metadata[storage.MetaCodeChallengeMethod] = pkce.Method
		integration.UpdatedAt = s.now()
		if err := s.integrations.SaveIntegration(ctx, integration); err != nil {
			return nil, fmt.Errorf("persist flow metadata: %w", err)
		}
	}

	req, err := BuildAuthorizationURL(provider, integration, id.UserID, redirectURI, s.now())
	if err != nil {
		return nil, err
	}
	req.ProviderName = provider.Name
	req.ProviderDisplayName = provider.DisplayName
	if req.ProviderDisplayName == "" {
		req.ProviderDisplayName = provider.Name
	}

	s.logger.Info("oauth flow initiated",
		"tenant_id", integration.TenantID,
		"integration_id", integration.ID,
		"provider_id", provider.ID,
		"flow_type", req.FlowType)
	if s.auditor != nil {
		s.auditor.LogFlowInitiated(integration.TenantID, integration.ID, id.UserID, sourceIP, req.FlowType)
	}
	s.metrics.RecordFlowInitiated(ctx, provider.ID, req.FlowType)

	return req, nil
}

// HandleCallback processes a provider redirect through the flow state machine.
// The callback is unauthenticated by nature; the state token carries the
// caller binding.
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) *FlowResult {
	result := s.flow.HandleCallback(ctx, req)
	s.metrics.RecordCallback(ctx, result.Succeeded, result.Reason)
	return result
}

// Refresh refreshes the integration's tokens if they expire within the
// lookahead window, or unconditionally with force set.
func (s *Service) Refresh(ctx context.Context, id Identity, integrationID string, force bool) (*RefreshOutcome, error) {
	integration, err := s.requireOwner(ctx, id, integrationID)
	if err != nil {
		return nil, err
	}
	outcome, err := s.refresher.RefreshIfNeeded(ctx, integrationID, force)
	s.metrics.RecordRefresh(ctx, integration.ProviderID, outcome != nil && outcome.Rotated, err)
	return outcome, err
}

// Health reports the token lifecycle state of an integration without exposing
// token material.
func (s *Service) Health(ctx context.Context, id Identity, integrationID string) (*IntegrationHealth, error) {
	if _, err := s.requireOwner(ctx, id, integrationID); err != nil {
		return nil, err
	}
	return s.refresher.Health(ctx, integrationID)
}

// Integration returns the redacted integration record: token fields replaced
// by a fixed placeholder, transient metadata dropped.
func (s *Service) Integration(ctx context.Context, id Identity, integrationID string) (*storage.Integration, error) {
	integration, err := s.requireOwner(ctx, id, integrationID)
	if err != nil {
		return nil, err
	}
	return integration.Redacted(), nil
}

// Providers lists the configured providers in their outward-facing shape.
// The display name falls back to the internal name when unset.
func (s *Service) Providers(ctx context.Context) ([]ProviderInfo, error) {
	providers, err := s.providerDB.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		display := p.DisplayName
		if display == "" {
			display = p.Name
		}
		out = append(out, ProviderInfo{
			ID:          p.ID,
			Name:        p.Name,
			DisplayName: display,
			Scopes:      append([]string(nil), p.Scopes...),
		})
	}
	return out, nil
}

// SaveProvider creates or updates a provider configuration. Administrative
// operation: the plaintext client secret is encrypted before it reaches the
// store and the provider cache entry is invalidated.
func (s *Service) SaveProvider(ctx context.Context, id Identity, provider *storage.Provider, clientSecret string) error {
	if !id.Admin {
		return ErrNotAdmin
	}
	if clientSecret != "" {
		encrypted, err := s.enc.Encrypt(clientSecret)
		if err != nil {
			return fmt.Errorf("encrypt client secret: %w", err)
		}
		provider.ClientSecret = encrypted
	}
	now := s.now()
	if provider.CreatedAt.IsZero() {
		provider.CreatedAt = now
	}
	provider.UpdatedAt = now

	if err := s.providerDB.SaveProvider(ctx, provider); err != nil {
		return err
	}
	s.providers.Invalidate(provider.ID)
	return nil
}

// SecurityStats returns the monitor's rolling counters. Administrative.
func (s *Service) SecurityStats(id Identity) (security.Stats, error) {
	if !id.Admin {
		return security.Stats{}, ErrNotAdmin
	}
	return s.monitor.Snapshot(), nil
}

// SecurityAlerts evaluates and returns active abuse alerts. Administrative.
func (s *Service) SecurityAlerts(id Identity) ([]security.Alert, error) {
	if !id.Admin {
		return nil, ErrNotAdmin
	}
	return s.monitor.ActiveAlerts(), nil
}

// ClientIP extracts the client address for a request, honoring one trusted
// proxy hop when configured.
func (s *Service) ClientIP(req *http.Request) string {
	return security.GetClientIP(req, s.cfg.TrustProxy)
}

// CallbackAllowed applies per-IP rate limiting to the callback endpoint. A
// denied request is audited and counted; true means proceed.
func (s *Service) CallbackAllowed(ctx context.Context, clientIP string) bool {
	if s.limiter == nil || s.limiter.Allow(clientIP) {
		return true
	}
	s.logger.Warn("callback rate limit exceeded", "ip", clientIP)
	if s.auditor != nil {
		s.auditor.LogRateLimitExceeded(clientIP)
	}
	s.metrics.RecordRateLimitExceeded(ctx)
	return false
}

// RedirectURI resolves the callback URI for an inbound request; exposed so
// the HTTP layer uses the exact same value at initiation and exchange time.
func (s *Service) RedirectURI(req *http.Request) string {
	return s.resolver.Resolve(req)
}
