package cloudauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/mwapstack/cloudauth/storage"
)

// PKCE constants per RFC 7636.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"

	// Verifier length bounds from RFC 7636 §4.1.
	MinVerifierLength = 43
	MaxVerifierLength = 128

	verifierEntropyBytes = 48
)

// PKCEParams holds the verifier/challenge pair for a public-client flow.
// They live in integration metadata between initiate and callback and are
// cleared when tokens are stored.
type PKCEParams struct {
	Verifier  string
	Challenge string
	Method    string
}

// GeneratePKCE creates a fresh S256 verifier/challenge pair. 48 random bytes
// encode to a 64-character verifier, comfortably inside the RFC bounds.
func GeneratePKCE() (PKCEParams, error) {
	buf := make([]byte, verifierEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return PKCEParams{}, fmt.Errorf("generate pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	return PKCEParams{
		Verifier:  verifier,
		Challenge: ChallengeS256(verifier),
		Method:    PKCEMethodS256,
	}, nil
}

// ChallengeS256 derives the S256 code challenge for a verifier.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateVerifier enforces the RFC 7636 shape: 43-128 characters drawn from
// the unreserved set [A-Za-z0-9-._~].
func ValidateVerifier(verifier string) error {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return fmt.Errorf("code verifier length %d outside %d-%d", len(verifier), MinVerifierLength, MaxVerifierLength)
	}
	for i := 0; i < len(verifier); i++ {
		if !isVerifierChar(verifier[i]) {
			return fmt.Errorf("code verifier contains invalid character at position %d", i)
		}
	}
	return nil
}

func isVerifierChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

// ValidatePKCEParams checks the full parameter shape before an exchange:
// verifier charset and bounds, a supported challenge method, and for S256 a
// challenge that actually matches the verifier.
func ValidatePKCEParams(p PKCEParams) error {
	if err := ValidateVerifier(p.Verifier); err != nil {
		return err
	}
	switch p.Method {
	case PKCEMethodS256:
		if p.Challenge != "" && p.Challenge != ChallengeS256(p.Verifier) {
			return fmt.Errorf("code challenge does not match verifier")
		}
	case PKCEMethodPlain:
		// Discouraged but accepted; the challenge is the verifier itself.
		if p.Challenge != "" && p.Challenge != p.Verifier {
			return fmt.Errorf("plain code challenge does not match verifier")
		}
	default:
		return fmt.Errorf("unsupported code challenge method %q", p.Method)
	}
	return nil
}

// pkceFromMetadata reconstructs the stored parameters from an integration
// record, or returns ok=false for a confidential-client flow.
func pkceFromMetadata(meta map[string]string) (PKCEParams, bool) {
	verifier := meta[storage.MetaCodeVerifier]
	if verifier == "" {
		return PKCEParams{}, false
	}
	method := meta[storage.MetaCodeChallengeMethod]
	if method == "" {
		method = PKCEMethodS256
	}
	return PKCEParams{
		Verifier:  verifier,
		Challenge: meta[storage.MetaCodeChallenge],
		Method:    method,
	}, true
}
