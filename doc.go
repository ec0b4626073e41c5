// Package cloudauth implements OAuth authorization and token lifecycle
// management for tenant-owned cloud storage integrations.
//
// The subsystem covers the full lifecycle of an integration's credentials:
//
//   - Flow initiation: composing provider authorization URLs with a signed,
//     self-describing state token (no server-side flow session). Providers
//     without a client secret automatically get a PKCE (RFC 7636) flow.
//   - Callback handling: a state machine validating the returned state,
//     verifying tenant ownership against storage, exchanging the code, and
//     persisting tokens, with a defined browser-facing outcome for every
//     failure mode.
//   - Token exchange: dual client authentication, HTTP Basic for
//     confidential clients and body-embedded client_id plus code verifier
//     for public clients, never mixed within one request.
//   - Storage: AES-256-GCM encryption of all token material at rest; any
//     outward representation replaces tokens with a fixed placeholder.
//   - Refresh: proactive refresh inside a configurable lookahead window,
//     with concurrent requests for one integration collapsed into a single
//     provider call.
//   - Monitoring: audit logging with hashed PII and a passive abuse monitor
//     with rolling-window alerts.
//
// Basic usage:
//
//	store := memory.NewStore()
//	svc, err := cloudauth.NewService(cloudauth.Config{
//		EncryptionKey:      key, // 32 bytes
//		EnableAuditLogging: true,
//	}, store, store)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Close()
//
//	mux := http.NewServeMux()
//	cloudauth.NewHandler(svc).RegisterRoutes(mux)
//
// The embedding application authenticates callers and attaches an Identity
// to the request context with WithIdentity; the subsystem enforces tenant
// ownership on every integration-scoped operation.
package cloudauth
