package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mwapstack/cloudauth/storage"
)

func tokenResponse(w http.ResponseWriter, refreshToken string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "at-12345",
		"token_type":    "Bearer",
		"refresh_token": refreshToken,
		"expires_in":    3600,
		"scope":         "files.read files.write",
	})
}

func errorResponse(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": "the provider said no",
	})
}

func providerFor(ts *httptest.Server, secret string) *storage.Provider {
	return &storage.Provider{
		ID:           "prov-1",
		Name:         "testprov",
		AuthURL:      ts.URL + "/authorize",
		TokenURL:     ts.URL + "/token",
		ClientID:     "client-123",
		ClientSecret: secret,
		Scopes:       []string{"files.read"},
	}
}

func TestExchangeCodeConfidential(t *testing.T) {
	var seen *http.Request
	var body string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		seen = r
		body = r.PostForm.Encode()
		tokenResponse(w, "rt-12345")
	}))
	defer ts.Close()

	client := NewClient(ts.Client(), nil)
	tokens, err := client.ExchangeCode(context.Background(), providerFor(ts, "enc"), "sekrit", "code-abc", "https://api.example.com/oauth/callback", Confidential{})
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	// Credentials travel in the Authorization header and only there.
	user, pass, ok := seen.BasicAuth()
	if !ok {
		t.Fatal("confidential exchange sent no Basic Authorization header")
	}
	if user != "client-123" || pass != "sekrit" {
		t.Errorf("BasicAuth() = %q/%q", user, pass)
	}
	if strings.Contains(body, "client_secret") && seen.PostForm.Get("client_secret") != "" {
		t.Errorf("confidential exchange embedded the secret in the body: %q", body)
	}
	if got := seen.PostForm.Get("grant_type"); got != "authorization_code" {
		t.Errorf("grant_type = %q", got)
	}
	if got := seen.PostForm.Get("code"); got != "code-abc" {
		t.Errorf("code = %q", got)
	}
	if got := seen.PostForm.Get("redirect_uri"); got != "https://api.example.com/oauth/callback" {
		t.Errorf("redirect_uri = %q", got)
	}

	if tokens.AccessToken != "at-12345" || tokens.RefreshToken != "rt-12345" {
		t.Errorf("tokens = %+v", tokens)
	}
	// Granted scope from the response wins over the configured scopes.
	if len(tokens.Scopes) != 2 || tokens.Scopes[1] != "files.write" {
		t.Errorf("Scopes = %v, want granted scope from response", tokens.Scopes)
	}
	if tokens.ExpiresAt.Before(time.Now().Add(50 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about an hour out", tokens.ExpiresAt)
	}
}

func TestExchangeCodePublic(t *testing.T) {
	var seen *http.Request

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		seen = r
		tokenResponse(w, "rt-12345")
	}))
	defer ts.Close()

	verifier := strings.Repeat("v", 64)
	client := NewClient(ts.Client(), nil)
	_, err := client.ExchangeCode(context.Background(), providerFor(ts, ""), "", "code-abc", "https://api.example.com/oauth/callback", Public{Verifier: verifier})
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	// Public client: no Authorization header at all.
	if got := seen.Header.Get("Authorization"); got != "" {
		t.Errorf("public exchange sent Authorization header %q", got)
	}
	if got := seen.PostForm.Get("client_id"); got != "client-123" {
		t.Errorf("client_id = %q, want in form body", got)
	}
	if got := seen.PostForm.Get("code_verifier"); got != verifier {
		t.Errorf("code_verifier = %q", got)
	}
	if got := seen.PostForm.Get("client_secret"); got != "" {
		t.Errorf("public exchange sent client_secret = %q", got)
	}
}

func TestExchangeCodeErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		code          string
		wantCode      string
		wantRetryable bool
	}{
		{name: "invalid grant", status: 400, code: "invalid_grant", wantCode: CodeInvalidGrant},
		{name: "invalid client", status: 401, code: "invalid_client", wantCode: CodeInvalidClient},
		{name: "invalid request", status: 400, code: "invalid_request", wantCode: CodeInvalidRequest},
		{name: "unsupported grant type", status: 400, code: "unsupported_grant_type", wantCode: CodeUnsupportedGrantType},
		{name: "unrecognized code", status: 400, code: "server_had_a_bad_day", wantCode: CodeUnknown},
		{name: "server error retryable", status: 502, code: "temporarily_unavailable", wantCode: CodeUnknown, wantRetryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				errorResponse(w, tt.status, tt.code)
			}))
			defer ts.Close()

			client := NewClient(ts.Client(), nil)
			_, err := client.ExchangeCode(context.Background(), providerFor(ts, ""), "s", "code", "https://cb", Confidential{})
			if err == nil {
				t.Fatal("ExchangeCode() error = nil, want typed error")
			}

			var ee *Error
			if !errors.As(err, &ee) {
				t.Fatalf("error %v is not *Error", err)
			}
			if ee.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", ee.Code, tt.wantCode)
			}
			if ee.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", ee.Retryable, tt.wantRetryable)
			}
			if IsRetryable(err) != tt.wantRetryable {
				t.Errorf("IsRetryable() = %v, want %v", IsRetryable(err), tt.wantRetryable)
			}
		})
	}
}

func TestExchangeCodeProviderUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		tokenResponse(w, "")
	}))
	ts.Close() // connection refused from here on

	client := NewClient(&http.Client{Timeout: 2 * time.Second}, nil)
	_, err := client.ExchangeCode(context.Background(), providerFor(ts, ""), "s", "code", "https://cb", Confidential{})
	if err == nil {
		t.Fatal("ExchangeCode() error = nil, want provider_unavailable")
	}

	var ee *Error
	if !errors.As(err, &ee) {
		t.Fatalf("error %v is not *Error", err)
	}
	if ee.Code != CodeProviderUnavailable {
		t.Errorf("Code = %q, want %q", ee.Code, CodeProviderUnavailable)
	}
	if !ee.Retryable {
		t.Error("transport failure must be retryable")
	}
}

func TestRefreshKeepsUnrotatedToken(t *testing.T) {
	var form map[string][]string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		tokenResponse(w, "") // provider does not rotate
	}))
	defer ts.Close()

	client := NewClient(ts.Client(), nil)
	tokens, err := client.Refresh(context.Background(), providerFor(ts, "enc"), "sekrit", "rt-old", Confidential{})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if got := form["grant_type"]; len(got) != 1 || got[0] != "refresh_token" {
		t.Errorf("grant_type = %v", got)
	}
	if got := form["refresh_token"]; len(got) != 1 || got[0] != "rt-old" {
		t.Errorf("refresh_token = %v", got)
	}
	if tokens.RefreshToken != "rt-old" {
		t.Errorf("RefreshToken = %q, want the unrotated original", tokens.RefreshToken)
	}
}

func TestRefreshRotation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		tokenResponse(w, "rt-new")
	}))
	defer ts.Close()

	client := NewClient(ts.Client(), nil)
	tokens, err := client.Refresh(context.Background(), providerFor(ts, "enc"), "sekrit", "rt-old", Confidential{})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tokens.RefreshToken != "rt-new" {
		t.Errorf("RefreshToken = %q, want rotated rt-new", tokens.RefreshToken)
	}
}

func TestRefreshInvalidGrant(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		errorResponse(w, 400, "invalid_grant")
	}))
	defer ts.Close()

	client := NewClient(ts.Client(), nil)
	_, err := client.Refresh(context.Background(), providerFor(ts, "enc"), "sekrit", "rt-revoked", Confidential{})
	if !IsInvalidGrant(err) {
		t.Errorf("IsInvalidGrant() = false for %v", err)
	}
	if IsRetryable(err) {
		t.Error("invalid_grant must not be retryable")
	}
}

func TestStrategySelection(t *testing.T) {
	verifier := strings.Repeat("v", 64)

	t.Run("integration with verifier is public", func(t *testing.T) {
		integ := &storage.Integration{Metadata: map[string]string{storage.MetaCodeVerifier: verifier}}
		s := StrategyFor(integ)
		if s.Name() != "pkce" {
			t.Errorf("StrategyFor() = %q, want pkce", s.Name())
		}
	})

	t.Run("integration without verifier is confidential", func(t *testing.T) {
		s := StrategyFor(&storage.Integration{})
		if s.Name() != "confidential" {
			t.Errorf("StrategyFor() = %q, want confidential", s.Name())
		}
	})

	t.Run("refresh follows provider client type", func(t *testing.T) {
		if s := RefreshStrategyFor(&storage.Provider{ClientSecret: "enc"}); s.Name() != "confidential" {
			t.Errorf("RefreshStrategyFor(secret) = %q", s.Name())
		}
		if s := RefreshStrategyFor(&storage.Provider{}); s.Name() != "pkce" {
			t.Errorf("RefreshStrategyFor(no secret) = %q", s.Name())
		}
	})
}
