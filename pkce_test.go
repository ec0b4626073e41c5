package cloudauth

import (
	"strings"
	"testing"

	"github.com/mwapstack/cloudauth/storage"
)

func TestGeneratePKCE(t *testing.T) {
	params, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE() error = %v", err)
	}

	if err := ValidateVerifier(params.Verifier); err != nil {
		t.Errorf("generated verifier invalid: %v", err)
	}
	if params.Method != PKCEMethodS256 {
		t.Errorf("Method = %q, want %q", params.Method, PKCEMethodS256)
	}
	if params.Challenge != ChallengeS256(params.Verifier) {
		t.Error("challenge does not match S256(verifier)")
	}

	other, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE() error = %v", err)
	}
	if other.Verifier == params.Verifier {
		t.Error("GeneratePKCE() produced identical verifiers")
	}
}

func TestValidateVerifier(t *testing.T) {
	tests := []struct {
		name     string
		verifier string
		wantErr  bool
	}{
		{name: "minimum length", verifier: strings.Repeat("a", 43), wantErr: false},
		{name: "maximum length", verifier: strings.Repeat("a", 128), wantErr: false},
		{name: "one below minimum", verifier: strings.Repeat("a", 42), wantErr: true},
		{name: "one above maximum", verifier: strings.Repeat("a", 129), wantErr: true},
		{name: "empty", verifier: "", wantErr: true},
		{name: "all unreserved characters", verifier: "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~", wantErr: false},
		{name: "space", verifier: strings.Repeat("a", 42) + " ", wantErr: true},
		{name: "plus sign", verifier: strings.Repeat("a", 42) + "+", wantErr: true},
		{name: "slash", verifier: strings.Repeat("a", 42) + "/", wantErr: true},
		{name: "equals padding", verifier: strings.Repeat("a", 42) + "=", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVerifier(tt.verifier)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVerifier() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePKCEParams(t *testing.T) {
	verifier := strings.Repeat("v", 64)

	tests := []struct {
		name    string
		params  PKCEParams
		wantErr bool
	}{
		{
			name:    "s256 matching challenge",
			params:  PKCEParams{Verifier: verifier, Challenge: ChallengeS256(verifier), Method: PKCEMethodS256},
			wantErr: false,
		},
		{
			name:    "s256 mismatched challenge",
			params:  PKCEParams{Verifier: verifier, Challenge: "wrong", Method: PKCEMethodS256},
			wantErr: true,
		},
		{
			name:    "plain matching",
			params:  PKCEParams{Verifier: verifier, Challenge: verifier, Method: PKCEMethodPlain},
			wantErr: false,
		},
		{
			name:    "plain mismatched",
			params:  PKCEParams{Verifier: verifier, Challenge: "other", Method: PKCEMethodPlain},
			wantErr: true,
		},
		{
			name:    "unsupported method",
			params:  PKCEParams{Verifier: verifier, Challenge: ChallengeS256(verifier), Method: "S512"},
			wantErr: true,
		},
		{
			name:    "bad verifier shape",
			params:  PKCEParams{Verifier: "short", Method: PKCEMethodS256},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePKCEParams(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePKCEParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPKCEFromMetadata(t *testing.T) {
	verifier := strings.Repeat("v", 64)

	t.Run("confidential flow has no params", func(t *testing.T) {
		if _, ok := pkceFromMetadata(nil); ok {
			t.Error("pkceFromMetadata(nil) ok = true, want false")
		}
		if _, ok := pkceFromMetadata(map[string]string{}); ok {
			t.Error("pkceFromMetadata(empty) ok = true, want false")
		}
	})

	t.Run("full params", func(t *testing.T) {
		meta := map[string]string{
			storage.MetaCodeVerifier:        verifier,
			storage.MetaCodeChallenge:       ChallengeS256(verifier),
			storage.MetaCodeChallengeMethod: PKCEMethodS256,
		}
		params, ok := pkceFromMetadata(meta)
		if !ok {
			t.Fatal("pkceFromMetadata() ok = false, want true")
		}
		if params.Verifier != verifier || params.Method != PKCEMethodS256 {
			t.Errorf("pkceFromMetadata() = %+v", params)
		}
	})

	t.Run("method defaults to s256", func(t *testing.T) {
		params, ok := pkceFromMetadata(map[string]string{storage.MetaCodeVerifier: verifier})
		if !ok || params.Method != PKCEMethodS256 {
			t.Errorf("pkceFromMetadata() = %+v, ok = %v", params, ok)
		}
	})
}
