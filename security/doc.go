// Package security provides the cross-cutting security features of the OAuth
// subsystem.
//
// It contains:
//
//   - Encryptor: AES-256-GCM token encryption at rest with a mandatory
//     process-wide key, optionally derived from a passphrase via HKDF
//   - Auditor: structured security event logging with hashed PII
//   - Monitor: rolling-window abuse detection over callback and refresh
//     attempts, exposing read-only alert snapshots
//   - RateLimiter: per-IP token bucket limiting for the callback endpoint
//   - Client IP extraction honoring exactly one trusted proxy hop
//   - Request ID generation and propagation for flow correlation
//
// Everything here is observational or value-level: nothing in this package
// mutates integration or provider state.
package security
