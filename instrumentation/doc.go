// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the cloudauth library.
//
// It exposes metrics and traces for the OAuth flow layers:
//   - oauth.flow.initiated{provider, flow_type} - authorization flows started
//   - oauth.callback.processed{result, reason} - provider callbacks processed
//   - oauth.code.exchanged{provider, strategy} - codes exchanged for tokens
//   - oauth.exchange.duration{provider} - token endpoint latency in milliseconds
//   - oauth.token.refreshed{provider, rotated} - refresh exchanges performed
//   - oauth.rate_limit.exceeded - callback rate limit violations
//
// When instrumentation is not configured or disabled it uses no-op providers,
// so the hot path carries no observability overhead.
//
// Never record token values, client secrets, or PKCE verifiers as attribute
// values. Only metadata (flow types, providers, result codes) belongs here.
package instrumentation
