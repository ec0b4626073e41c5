package cloudauth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mwapstack/cloudauth/instrumentation"
	"github.com/mwapstack/cloudauth/security"
	"github.com/mwapstack/cloudauth/storage"
)

// Error codes returned by the HTTP layer.
const (
	ErrorCodeUnauthorized = "unauthorized"
	ErrorCodeForbidden    = "forbidden"
	ErrorCodeNotFound     = "not_found"
	ErrorCodeBadRequest   = "bad_request"
	ErrorCodeConflict     = "conflict"
	ErrorCodeRateLimited  = "rate_limit_exceeded"
	ErrorCodeInternal     = "internal_error"
)

// Handler exposes the OAuth subsystem over HTTP. Authentication is the
// embedding application's job: every route except the provider callback
// expects an Identity in the request context (see WithIdentity).
type Handler struct {
	svc    *Service
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates an HTTP handler over the service.
func NewHandler(svc *Service) *Handler {
	h := &Handler{svc: svc, logger: svc.logger}
	if svc.cfg.Instrumentation != nil {
		h.tracer = svc.cfg.Instrumentation.Tracer("http")
	}
	return h
}

// startSpan opens a span for an HTTP operation when tracing is enabled and
// returns the request with the span context attached.
func (h *Handler) startSpan(r *http.Request, name string) (*http.Request, trace.Span) {
	if h.tracer == nil {
		return r, nil
	}
	ctx, span := h.tracer.Start(r.Context(), name)
	return r.WithContext(ctx), span
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

// RegisterRoutes attaches the subsystem's routes to a mux. The callback path
// follows the service configuration so the registered route always matches
// the redirect URI sent to providers.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	callbackPath := h.svc.cfg.CallbackPath
	if callbackPath == "" {
		callbackPath = DefaultCallbackPath
	}

	mux.HandleFunc("GET "+callbackPath, h.HandleCallback)
	mux.HandleFunc("GET /oauth/providers", h.HandleListProviders)
	mux.HandleFunc("POST /oauth/integrations/{id}/initiate", h.HandleInitiate)
	mux.HandleFunc("POST /oauth/integrations/{id}/refresh", h.HandleRefresh)
	mux.HandleFunc("GET /oauth/integrations/{id}", h.HandleGetIntegration)
	mux.HandleFunc("GET /oauth/integrations/{id}/health", h.HandleHealth)
	mux.HandleFunc("GET /oauth/security/metrics", h.HandleSecurityMetrics)
}

// identity extracts the caller identity or writes a 401.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "Authentication required")
	}
	return id, ok
}

// HandleInitiate starts an authorization flow and returns the provider URL
// for the browser redirect.
func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "oauth.http.initiate")
	defer endSpan(span)

	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	integrationID := r.PathValue("id")
	redirectURI := h.svc.RedirectURI(r)
	sourceIP := h.svc.ClientIP(r)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrIntegrationID, integrationID),
		attribute.String(instrumentation.AttrTenantID, id.TenantID),
	)

	req, err := h.svc.Initiate(r.Context(), id, integrationID, redirectURI, sourceIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeServiceError(w, err)
		return
	}
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrFlowType, req.FlowType),
		attribute.String(instrumentation.AttrProviderName, req.ProviderName),
	)
	instrumentation.SetSpanSuccess(span)

	h.writeData(w, http.StatusOK, map[string]any{
		"authorizationUrl": req.URL,
		"state":            req.State,
		"redirectUri":      req.RedirectURI,
		"flowType":         req.FlowType,
		"provider": map[string]string{
			"name":        req.ProviderName,
			"displayName": req.ProviderDisplayName,
		},
	})
}

// HandleCallback terminates the provider redirect. Unauthenticated by nature;
// the state token carries the caller binding, and a per-IP rate limit guards
// against scripted abuse.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "oauth.http.callback")
	defer endSpan(span)

	clientIP := h.svc.ClientIP(r)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientIP, clientIP))

	if !h.svc.CallbackAllowed(r.Context(), clientIP) {
		// The callback always answers with a presentation page, never JSON.
		serveErrorPage(w, h.logger, http.StatusTooManyRequests, ErrorCodeRateLimited,
			"Too many requests, please try again later")
		return
	}

	// Keep the request ID the middleware set so the X-Request-ID response
	// header and the flow correlation ID stay the same value.
	ctx := r.Context()
	if security.GetRequestID(ctx) == "" {
		ctx = security.WithRequestID(ctx, security.GenerateRequestID())
	}
	q := r.URL.Query()

	result := h.svc.HandleCallback(ctx, CallbackRequest{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		ErrorCode:        q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		SourceIP:         clientIP,
		RedirectURI:      h.svc.RedirectURI(r),
	})

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrIntegrationID, result.IntegrationID))
	if result.Succeeded {
		instrumentation.SetSpanSuccess(span)
	} else {
		instrumentation.SetSpanAttributes(span,
			attribute.String(instrumentation.AttrReason, result.Reason))
	}

	serveResultPage(w, h.logger, result)
}

// HandleRefresh refreshes the integration's tokens. The force query parameter
// skips the expiry lookahead check.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "oauth.http.refresh")
	defer endSpan(span)

	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	integrationID := r.PathValue("id")
	force := r.URL.Query().Get("force") == "true"
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrIntegrationID, integrationID),
		attribute.String(instrumentation.AttrTenantID, id.TenantID),
	)

	outcome, err := h.svc.Refresh(r.Context(), id, integrationID, force)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeServiceError(w, err)
		return
	}
	instrumentation.SetSpanAttributes(span,
		attribute.Bool(instrumentation.AttrTokenRotated, outcome.Rotated))
	instrumentation.SetSpanSuccess(span)

	h.writeData(w, http.StatusOK, map[string]any{
		"refreshed": outcome.Refreshed,
		"rotated":   outcome.Rotated,
		"expiresAt": outcome.ExpiresAt,
	})
}

// HandleGetIntegration returns the redacted integration record.
func (h *Handler) HandleGetIntegration(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	integration, err := h.svc.Integration(r.Context(), id, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, integration)
}

// HandleHealth returns the token lifecycle summary for an integration.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	health, err := h.svc.Health(r.Context(), id, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, health)
}

// HandleListProviders lists configured providers without credential material.
func (h *Handler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(w, r); !ok {
		return
	}

	providers, err := h.svc.Providers(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, providers)
}

// HandleSecurityMetrics exposes the monitor's counters and active alerts.
// Administrative only.
func (h *Handler) HandleSecurityMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.SecurityStats(id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	alerts, err := h.svc.SecurityAlerts(id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]any{
		"stats":  stats,
		"alerts": alerts,
	})
}

// writeServiceError maps service errors to HTTP status codes. Ownership
// mismatches return 404 so callers cannot probe which integration IDs exist.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrIntegrationNotFound),
		errors.Is(err, storage.ErrProviderNotFound),
		errors.Is(err, ErrNotOwner):
		h.writeError(w, http.StatusNotFound, ErrorCodeNotFound, "Integration not found")
	case errors.Is(err, ErrNotAdmin):
		h.writeError(w, http.StatusForbidden, ErrorCodeForbidden, "Administrative privileges required")
	case errors.Is(err, ErrIntegrationRevoked):
		h.writeError(w, http.StatusConflict, ErrorCodeConflict, "Integration was revoked, re-authorization required")
	case errors.Is(err, ErrNoRefreshToken):
		h.writeError(w, http.StatusConflict, ErrorCodeConflict, "Integration has no refresh token")
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternal, "Internal server error")
	}
}

func (h *Handler) writeData(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"data": v}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	security.SetSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
