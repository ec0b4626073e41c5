package cloudauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mwapstack/cloudauth/instrumentation"
	"github.com/mwapstack/cloudauth/security"
)

// Config holds the OAuth subsystem configuration.
// Structured using composition for better organization and maintainability.
type Config struct {
	// EncryptionKey is the AES-256 key (32 bytes) for token encryption at
	// rest. Required: a missing or wrong-size key is a fatal startup error.
	EncryptionKey []byte

	// ExternalBaseURL pins the externally visible origin used for the
	// callback redirect URI. When empty the host is derived per request,
	// honoring one trusted proxy hop if TrustProxy is set.
	ExternalBaseURL string

	// CallbackPath overrides the fixed callback path. Default: /oauth/callback.
	CallbackPath string

	// TrustProxy enables trusting X-Forwarded-Host / X-Forwarded-For from
	// exactly one upstream hop. Only enable behind a trusted load balancer.
	TrustProxy bool

	// RefreshLookahead is the proactive refresh window: tokens expiring
	// within it are refreshed on access. Default: 1 hour.
	RefreshLookahead time.Duration

	// ProviderCacheTTL bounds how long provider configurations are cached
	// before being re-read from storage. Default: 5 minutes.
	ProviderCacheTTL time.Duration

	// RateLimit configures per-IP limiting of the callback endpoint.
	RateLimit RateLimitConfig

	// Monitor tunes the security monitor thresholds.
	Monitor security.MonitorConfig

	// EnableAuditLogging enables security audit logging.
	EnableAuditLogging bool

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger

	// Instrumentation enables OpenTelemetry metrics and tracing (optional).
	Instrumentation *instrumentation.Instrumentation

	// HTTPClient is a custom HTTP client for provider token requests.
	// If not provided, a client with a 30 second timeout is used.
	HTTPClient *http.Client
}

// RateLimitConfig holds callback rate limiting configuration.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int
}

// Validate checks the configuration. An invalid encryption key is a
// configuration error, never a runtime-recoverable one.
func (c *Config) Validate() error {
	if len(c.EncryptionKey) != security.KeySize {
		return fmt.Errorf("encryption key must be %d bytes, got %d", security.KeySize, len(c.EncryptionKey))
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.RefreshLookahead <= 0 {
		c.RefreshLookahead = time.Hour
	}
	if c.ProviderCacheTTL <= 0 {
		c.ProviderCacheTTL = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
