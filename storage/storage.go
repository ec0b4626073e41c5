package storage

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle status of an Integration.
type Status string

const (
	// StatusActive means the integration holds a usable token set.
	StatusActive Status = "active"

	// StatusExpired means the access token expired and could not be refreshed.
	StatusExpired Status = "expired"

	// StatusRevoked means the provider revoked the grant (e.g. refresh token
	// invalidated by the user at the provider).
	StatusRevoked Status = "revoked"

	// StatusError means the last flow or refresh attempt failed.
	StatusError Status = "error"
)

// Sentinel errors returned by stores.
var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrProviderNotFound    = errors.New("provider not found")
)

// Metadata keys used to carry PKCE parameters on an Integration while an
// authorization flow is in flight. They are cleared when tokens are stored.
const (
	MetaCodeVerifier        = "code_verifier"
	MetaCodeChallenge       = "code_challenge"
	MetaCodeChallengeMethod = "code_challenge_method"
)

// Provider is a cloud-storage OAuth provider configuration. It is created and
// updated by administrative operations and read-only to the OAuth flow.
type Provider struct {
	ID          string `bson:"_id" json:"id"`
	Name        string `bson:"name" json:"name"`
	DisplayName string `bson:"displayName" json:"displayName,omitempty"`
	AuthURL     string `bson:"authUrl" json:"-"`
	TokenURL    string `bson:"tokenUrl" json:"-"`
	ClientID    string `bson:"clientId" json:"-"`

	// ClientSecret is stored encrypted and never serialized outward.
	ClientSecret string `bson:"clientSecret" json:"-"`

	Scopes      []string          `bson:"scopes" json:"scopes,omitempty"`
	ExtraParams map[string]string `bson:"extraParams,omitempty" json:"-"`
	CreatedAt   time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time         `bson:"updatedAt" json:"updatedAt"`
}

// Integration is a tenant-owned link to one Provider. Token fields hold
// ciphertext only; plaintext tokens never reach a store.
type Integration struct {
	ID         string `bson:"_id" json:"id"`
	TenantID   string `bson:"tenantId" json:"tenantId"`
	ProviderID string `bson:"providerId" json:"providerId"`
	Status     Status `bson:"status" json:"status"`

	AccessToken  string    `bson:"accessToken,omitempty" json:"-"`
	RefreshToken string    `bson:"refreshToken,omitempty" json:"-"`
	ExpiresAt    time.Time `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	Scopes       []string  `bson:"scopes,omitempty" json:"scopes,omitempty"`

	// Metadata carries free-form flow state, notably PKCE parameters between
	// initiate and callback.
	Metadata map[string]string `bson:"metadata,omitempty" json:"-"`

	CreatedBy       string    `bson:"createdBy" json:"createdBy,omitempty"`
	CreatedAt       time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt" json:"updatedAt"`
	LastRefreshedAt time.Time `bson:"lastRefreshedAt,omitempty" json:"lastRefreshedAt,omitempty"`
}

// HasTokens reports whether the integration holds any token material.
func (i *Integration) HasTokens() bool {
	return i.AccessToken != ""
}

// UsesPKCE reports whether the integration was initiated as a public client.
// Presence of the stored code verifier is the single source of truth for the
// flow variant.
func (i *Integration) UsesPKCE() bool {
	return i.Metadata[MetaCodeVerifier] != ""
}

// TokenSet is the plaintext result of a successful token exchange. It only
// exists in memory; stores persist the encrypted form on the Integration.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// IntegrationStore persists Integration records.
// All methods accept context.Context for tracing and cancellation.
type IntegrationStore interface {
	// GetIntegration retrieves an integration by ID.
	// Returns ErrIntegrationNotFound if no record exists.
	GetIntegration(ctx context.Context, id string) (*Integration, error)

	// SaveIntegration inserts or replaces an integration record.
	SaveIntegration(ctx context.Context, integration *Integration) error

	// UpdateStatus sets the lifecycle status of an integration.
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// ProviderStore persists Provider records.
type ProviderStore interface {
	// GetProvider retrieves a provider by ID.
	// Returns ErrProviderNotFound if no record exists.
	GetProvider(ctx context.Context, id string) (*Provider, error)

	// ListProviders lists all configured providers.
	ListProviders(ctx context.Context) ([]*Provider, error)

	// SaveProvider inserts or replaces a provider record.
	SaveProvider(ctx context.Context, provider *Provider) error
}
