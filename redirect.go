package cloudauth

import (
	"net/http"
	"strings"

	"github.com/mwapstack/cloudauth/internal/util"
)

// DefaultCallbackPath is the fixed path of the provider callback endpoint.
const DefaultCallbackPath = "/oauth/callback"

// RedirectResolver derives the externally visible callback URL for a request.
//
// The resolved URI must be byte-identical between the two moments it is used:
// when building the authorization URL and when exchanging the code. Providers
// compare them literally, and a mismatch here has historically been the top
// cause of failed flows behind load balancers.
type RedirectResolver struct {
	// ExternalBaseURL pins the public origin (e.g. "https://api.example.com").
	// When set, request headers are ignored entirely.
	ExternalBaseURL string

	// CallbackPath is the fixed callback path. Empty means DefaultCallbackPath.
	CallbackPath string

	// TrustProxy enables deriving the host from X-Forwarded-Host, trusting
	// exactly one upstream hop.
	TrustProxy bool
}

// Resolve returns the callback URI for the request. The scheme is always
// https regardless of how the request arrived; this is a hard requirement,
// not a configuration knob.
func (r *RedirectResolver) Resolve(req *http.Request) string {
	path := r.CallbackPath
	if path == "" {
		path = DefaultCallbackPath
	}

	if r.ExternalBaseURL != "" {
		base := util.NormalizeURL(r.ExternalBaseURL)
		base = strings.TrimPrefix(base, "http://")
		base = strings.TrimPrefix(base, "https://")
		return "https://" + base + path
	}

	host := req.Host
	if r.TrustProxy {
		if fwd := req.Header.Get("X-Forwarded-Host"); fwd != "" {
			// One trusted hop: the first entry is what the proxy received.
			host = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}

	return "https://" + host + path
}
