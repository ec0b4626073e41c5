package cloudauth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mwapstack/cloudauth/security"
	"github.com/mwapstack/cloudauth/storage"
	"github.com/mwapstack/cloudauth/storage/memory"
)

func TestNewServiceRejectsBadKey(t *testing.T) {
	store := memory.NewStore()

	tests := []struct {
		name string
		key  []byte
	}{
		{name: "nil key", key: nil},
		{name: "short key", key: make([]byte, 16)},
		{name: "long key", key: make([]byte, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(Config{EncryptionKey: tt.key}, store, store); err == nil {
				t.Error("NewService() accepted an invalid encryption key")
			}
		})
	}
}

func TestInitiateConfidential(t *testing.T) {
	f := newFlowFixture(t, nil)
	f.seedProvider(t, "https://provider.example.com/token", "sekrit")
	f.seedIntegration(t, nil)

	req, err := f.svc.Initiate(context.Background(), testIdentity, "int-1", testRedirectURI, "198.51.100.7")
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	if req.FlowType != "confidential" {
		t.Errorf("FlowType = %q, want confidential", req.FlowType)
	}
	if req.RedirectURI != testRedirectURI {
		t.Errorf("RedirectURI = %q", req.RedirectURI)
	}
	if !strings.HasPrefix(req.URL, "https://provider.example.com/authorize?") {
		t.Errorf("URL = %q", req.URL)
	}

	// No PKCE metadata is persisted for confidential flows.
	stored, _ := f.store.GetIntegration(context.Background(), "int-1")
	if stored.Metadata[storage.MetaCodeVerifier] != "" {
		t.Error("confidential initiate stored a code verifier")
	}
}

func TestInitiatePKCEForSecretlessProvider(t *testing.T) {
	f := newFlowFixture(t, nil)
	f.seedProvider(t, "https://provider.example.com/token", "") // public client
	f.seedIntegration(t, nil)

	req, err := f.svc.Initiate(context.Background(), testIdentity, "int-1", testRedirectURI, "")
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	if req.FlowType != "pkce" {
		t.Errorf("FlowType = %q, want pkce", req.FlowType)
	}

	stored, _ := f.store.GetIntegration(context.Background(), "int-1")
	verifier := stored.Metadata[storage.MetaCodeVerifier]
	if err := ValidateVerifier(verifier); err != nil {
		t.Fatalf("stored verifier invalid: %v", err)
	}
	if stored.Metadata[storage.MetaCodeChallenge] != ChallengeS256(verifier) {
		t.Error("stored challenge does not match verifier")
	}

	u, _ := url.Parse(req.URL)
	if got := u.Query().Get("code_challenge"); got != ChallengeS256(verifier) {
		t.Errorf("code_challenge = %q", got)
	}

	// A second initiate replaces the pair: one verifier per flow attempt.
	req2, err := f.svc.Initiate(context.Background(), testIdentity, "int-1", testRedirectURI, "")
	if err != nil {
		t.Fatalf("second Initiate() error = %v", err)
	}
	stored2, _ := f.store.GetIntegration(context.Background(), "int-1")
	if stored2.Metadata[storage.MetaCodeVerifier] == verifier {
		t.Error("second initiate reused the previous verifier")
	}
	if req2.State == req.State {
		t.Error("second initiate reused the previous state token")
	}
}

func TestInitiateOwnership(t *testing.T) {
	f := newFlowFixture(t, nil)
	f.seedProvider(t, "https://provider.example.com/token", "sekrit")
	f.seedIntegration(t, nil)

	_, err := f.svc.Initiate(context.Background(), Identity{TenantID: "other-tenant"}, "int-1", testRedirectURI, "")
	if !errors.Is(err, ErrNotOwner) {
		t.Errorf("Initiate() error = %v, want ErrNotOwner", err)
	}

	_, err = f.svc.Initiate(context.Background(), testIdentity, "missing", testRedirectURI, "")
	if !errors.Is(err, storage.ErrIntegrationNotFound) {
		t.Errorf("Initiate() error = %v, want ErrIntegrationNotFound", err)
	}
}

func TestProvidersDisplayNameFallback(t *testing.T) {
	f := newFlowFixture(t, nil)
	ctx := context.Background()

	_ = f.store.SaveProvider(ctx, &storage.Provider{ID: "p1", Name: "dropbox", DisplayName: "Dropbox"})
	_ = f.store.SaveProvider(ctx, &storage.Provider{ID: "p2", Name: "gdrive", ClientSecret: "ciphertext"})

	infos, err := f.svc.Providers(ctx)
	if err != nil {
		t.Fatalf("Providers() error = %v", err)
	}

	byID := make(map[string]ProviderInfo)
	for _, info := range infos {
		byID[info.ID] = info
	}

	if got := byID["p1"].DisplayName; got != "Dropbox" {
		t.Errorf("p1 DisplayName = %q", got)
	}
	if got := byID["p2"].DisplayName; got != "gdrive" {
		t.Errorf("p2 DisplayName = %q, want fallback to name", got)
	}
}

func TestSaveProviderEncryptsSecret(t *testing.T) {
	f := newFlowFixture(t, nil)
	ctx := context.Background()
	admin := Identity{UserID: "admin", TenantID: "tenant-1", Admin: true}

	err := f.svc.SaveProvider(ctx, admin, &storage.Provider{
		ID:       "p1",
		Name:     "dropbox",
		AuthURL:  "https://provider.example.com/authorize",
		TokenURL: "https://provider.example.com/token",
		ClientID: "client-123",
	}, "plain-secret")
	if err != nil {
		t.Fatalf("SaveProvider() error = %v", err)
	}

	stored, err := f.store.GetProvider(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if stored.ClientSecret == "plain-secret" || stored.ClientSecret == "" {
		t.Errorf("ClientSecret = %q, want ciphertext", stored.ClientSecret)
	}

	plain, err := f.enc.Decrypt(stored.ClientSecret)
	if err != nil || plain != "plain-secret" {
		t.Errorf("Decrypt() = %q, %v", plain, err)
	}

	if err := f.svc.SaveProvider(ctx, testIdentity, stored, ""); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("non-admin SaveProvider() error = %v, want ErrNotAdmin", err)
	}
}

func TestIntegrationRedaction(t *testing.T) {
	f := newFlowFixture(t, nil)
	f.seedProvider(t, "https://provider.example.com/token", "sekrit")
	f.seedIntegration(t, map[string]string{storage.MetaCodeVerifier: strings.Repeat("v", 64)})
	f.seedTokens(t, time.Now().Add(time.Hour), "rt-secret")

	integration, err := f.svc.Integration(context.Background(), testIdentity, "int-1")
	if err != nil {
		t.Fatalf("Integration() error = %v", err)
	}

	if integration.AccessToken != storage.RedactedToken || integration.RefreshToken != storage.RedactedToken {
		t.Errorf("tokens not redacted: %q / %q", integration.AccessToken, integration.RefreshToken)
	}
	if integration.Metadata != nil {
		t.Error("transient metadata must be dropped from outward records")
	}

	// The stored record keeps the real ciphertext.
	stored, _ := f.store.GetIntegration(context.Background(), "int-1")
	if stored.AccessToken == storage.RedactedToken {
		t.Error("redaction leaked into storage")
	}
}

func TestSecurityMetricsAdminOnly(t *testing.T) {
	f := newFlowFixture(t, nil)
	admin := Identity{UserID: "admin", Admin: true}

	if _, err := f.svc.SecurityStats(testIdentity); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("SecurityStats() error = %v, want ErrNotAdmin", err)
	}
	if _, err := f.svc.SecurityAlerts(testIdentity); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("SecurityAlerts() error = %v, want ErrNotAdmin", err)
	}

	stats, err := f.svc.SecurityStats(admin)
	if err != nil {
		t.Fatalf("SecurityStats() error = %v", err)
	}
	if stats.Attempts != 0 {
		t.Errorf("fresh monitor Attempts = %d", stats.Attempts)
	}

	// Failed callbacks show up in the counters.
	f.svc.HandleCallback(context.Background(), CallbackRequest{RedirectURI: testRedirectURI})
	stats, _ = f.svc.SecurityStats(admin)
	if stats.Attempts != 1 || stats.Failures != 1 {
		t.Errorf("stats after failed callback = %+v", stats)
	}
}

func TestVaultRoundTrip(t *testing.T) {
	key, _ := security.GenerateKey()
	enc, _ := security.NewEncryptor(key)
	store := memory.NewStore()
	vault := NewTokenVault(store, enc)
	ctx := context.Background()

	_ = store.SaveIntegration(ctx, &storage.Integration{ID: "int-1", TenantID: "tenant-1", ProviderID: "p1"})

	in := storage.TokenSet{
		AccessToken:  "at-plain",
		RefreshToken: "rt-plain",
		ExpiresAt:    time.Now().Add(time.Hour),
		Scopes:       []string{"files.read"},
	}
	if _, err := vault.Put(ctx, "int-1", in); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	out, err := vault.Get(ctx, "int-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if out.AccessToken != "at-plain" || out.RefreshToken != "rt-plain" {
		t.Errorf("Get() = %+v", out)
	}

	if err := vault.MarkStatus(ctx, "int-1", storage.StatusRevoked); err != nil {
		t.Fatalf("MarkStatus() error = %v", err)
	}
	stored, _ := store.GetIntegration(ctx, "int-1")
	if stored.Status != storage.StatusRevoked {
		t.Errorf("Status = %q", stored.Status)
	}
}
