package cloudauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mwapstack/cloudauth/exchange"
	"github.com/mwapstack/cloudauth/instrumentation"
	"github.com/mwapstack/cloudauth/internal/util"
	"github.com/mwapstack/cloudauth/security"
	"github.com/mwapstack/cloudauth/storage"
)

// FlowState is a stage of the callback state machine.
type FlowState string

const (
	FlowReceived          FlowState = "RECEIVED"
	FlowStateValidated    FlowState = "STATE_VALIDATED"
	FlowOwnershipVerified FlowState = "OWNERSHIP_VERIFIED"
	FlowCodeExchanged     FlowState = "CODE_EXCHANGED"
	FlowTokensStored      FlowState = "TOKENS_STORED"
	FlowSucceeded         FlowState = "SUCCEEDED"
	FlowFailed            FlowState = "FAILED"
)

// CallbackRequest carries the provider redirect parameters into the state
// machine.
type CallbackRequest struct {
	Code             string
	State            string
	ErrorCode        string // provider "error" parameter, set when consent was denied
	ErrorDescription string
	SourceIP         string

	// RedirectURI is the resolved callback URI for this deployment. Token
	// endpoints verify it matches the one sent at authorization time.
	RedirectURI string
}

// FlowResult is the discriminated outcome emitted to the originating browser
// context: exactly one of success (tenant/integration identifiers only, never
// tokens) or error (generic message plus reason code).
type FlowResult struct {
	Succeeded     bool
	TenantID      string
	IntegrationID string
	Reason        string // internal reason code, also safe as a coarse public code
	PublicMessage string
}

// FlowController drives a provider callback through the state machine
//
//	RECEIVED -> STATE_VALIDATED -> OWNERSHIP_VERIFIED -> CODE_EXCHANGED
//	         -> TOKENS_STORED -> SUCCEEDED
//
// with FAILED(reason) reachable from every non-terminal state. Each
// transition is logged with integration/tenant/flow-type/elapsed correlation
// for the security monitor.
type FlowController struct {
	integrations storage.IntegrationStore
	providers    providerSource
	vault        *TokenVault
	exchanger    *exchange.Client
	enc          *security.Encryptor

	auditor *security.Auditor
	monitor *security.Monitor
	metrics *instrumentation.Metrics
	logger  *slog.Logger

	now func() time.Time
}

// providerSource is the narrow read interface the flow needs; satisfied by
// the provider cache.
type providerSource interface {
	GetProvider(ctx context.Context, id string) (*storage.Provider, error)
}

type flowRun struct {
	fc       *FlowController
	id       string
	state    FlowState
	started  time.Time
	tenantID string
	integID  string
	flowType string
	sourceIP string
}

func (r *flowRun) transition(to FlowState) {
	r.fc.logger.Info("oauth flow transition",
		"flow_id", r.id,
		"from", string(r.state),
		"to", string(to),
		"tenant_id", r.tenantID,
		"integration_id", r.integID,
		"flow_type", r.flowType,
		"elapsed_ms", time.Since(r.started).Milliseconds(),
	)
	r.state = to
}

// fail transitions to FAILED, records the attempt with the monitor, writes
// the precise reason to the audit log, and returns the browser-safe result.
func (r *flowRun) fail(reason, detail string) *FlowResult {
	r.fc.logger.Warn("oauth flow failed",
		"flow_id", r.id,
		"from", string(r.state),
		"reason", reason,
		"detail", detail,
		"tenant_id", r.tenantID,
		"integration_id", r.integID,
		"flow_type", r.flowType,
		"elapsed_ms", time.Since(r.started).Milliseconds(),
	)
	r.state = FlowFailed

	if r.fc.auditor != nil {
		r.fc.auditor.LogFlowFailed(r.tenantID, r.integID, r.sourceIP, reason, detail)
	}
	if r.fc.monitor != nil {
		r.fc.monitor.Record(security.Attempt{
			Kind:          security.AttemptCallback,
			TenantID:      r.tenantID,
			IntegrationID: r.integID,
			SourceIP:      r.sourceIP,
			Reason:        reason,
		})
	}

	fe := newFlowError(reason, detail, nil)
	return &FlowResult{
		Succeeded:     false,
		TenantID:      r.tenantID,
		IntegrationID: r.integID,
		Reason:        reason,
		PublicMessage: fe.PublicMessage(),
	}
}

// HandleCallback consumes a provider redirect and always produces a terminal
// FlowResult; it never returns an error to the HTTP layer, because every
// failure has a defined browser-facing shape.
func (fc *FlowController) HandleCallback(ctx context.Context, req CallbackRequest) *FlowResult {
	run := &flowRun{
		fc:       fc,
		id:       security.GetRequestID(ctx),
		state:    FlowReceived,
		started:  fc.now(),
		sourceIP: req.SourceIP,
	}
	if run.id == "" {
		run.id = security.GenerateRequestID()
	}

	// Provider denied consent: terminal before any validation.
	if req.ErrorCode != "" {
		return run.fail(ReasonProviderDenied, req.ErrorCode+": "+req.ErrorDescription)
	}
	if req.Code == "" || req.State == "" {
		return run.fail(ReasonInvalidState, "missing code or state parameter")
	}

	// RECEIVED -> STATE_VALIDATED
	payload, err := DecodeState(req.State)
	if err != nil {
		return run.fail(ReasonInvalidState, "state decode: "+util.SafeTruncate(err.Error(), 120))
	}
	run.tenantID = payload.TenantID
	run.integID = payload.IntegrationID

	if err := ValidateState(payload, fc.now()); err != nil {
		if errors.Is(err, ErrStateExpired) {
			return run.fail(ReasonStateExpired, "state issued at "+time.Unix(payload.IssuedAt, 0).UTC().Format(time.RFC3339))
		}
		return run.fail(ReasonInvalidState, err.Error())
	}
	run.transition(FlowStateValidated)

	// STATE_VALIDATED -> OWNERSHIP_VERIFIED
	integration, err := fc.integrations.GetIntegration(ctx, payload.IntegrationID)
	if err != nil {
		if errors.Is(err, storage.ErrIntegrationNotFound) {
			return run.fail(ReasonIntegrationNotFound, "integration no longer exists")
		}
		return run.fail(ReasonStorageError, err.Error())
	}
	if integration.TenantID != payload.TenantID {
		if fc.auditor != nil {
			fc.auditor.LogOwnershipViolation(payload.TenantID, payload.IntegrationID, req.SourceIP)
		}
		return run.fail(ReasonOwnershipMismatch, "state tenant does not own integration")
	}
	run.transition(FlowOwnershipVerified)

	// OWNERSHIP_VERIFIED -> CODE_EXCHANGED
	strategy := exchange.StrategyFor(integration)
	run.flowType = strategy.Name()

	if pkce, ok := pkceFromMetadata(integration.Metadata); ok {
		if err := ValidatePKCEParams(pkce); err != nil {
			fc.metrics.RecordPKCEValidationFailed(ctx, pkce.Method)
			fc.markFailed(ctx, run, integration.ID, storage.StatusError)
			return run.fail(ReasonInvalidPKCE, err.Error())
		}
	}

	provider, err := fc.providers.GetProvider(ctx, integration.ProviderID)
	if err != nil {
		fc.markFailed(ctx, run, integration.ID, storage.StatusError)
		return run.fail(ReasonStorageError, "load provider: "+err.Error())
	}

	secret, err := fc.clientSecret(provider)
	if err != nil {
		fc.markFailed(ctx, run, integration.ID, storage.StatusError)
		return run.fail(ReasonStorageError, "decrypt client secret: "+err.Error())
	}

	exchangeStart := fc.now()
	tokens, err := fc.exchanger.ExchangeCode(ctx, provider, secret, req.Code, req.RedirectURI, strategy)
	fc.metrics.RecordExchange(ctx, provider.ID, strategy.Name(), time.Since(exchangeStart))
	if err != nil {
		if exchange.IsRetryable(err) {
			// Transport failure, not a rejection: leave the integration
			// untouched so the user can simply retry.
			return run.fail(ReasonProviderUnavailable, err.Error())
		}
		fc.markFailed(ctx, run, integration.ID, storage.StatusError)
		return run.fail(ReasonProviderError, err.Error())
	}
	run.transition(FlowCodeExchanged)

	// CODE_EXCHANGED -> TOKENS_STORED
	stored, err := fc.vault.Put(ctx, integration.ID, *tokens)
	if err != nil {
		fc.markFailed(ctx, run, integration.ID, storage.StatusError)
		return run.fail(ReasonStorageError, err.Error())
	}
	run.transition(FlowTokensStored)

	// TOKENS_STORED -> SUCCEEDED
	run.transition(FlowSucceeded)
	if fc.auditor != nil {
		fc.auditor.LogTokensStored(stored.TenantID, stored.ID, req.SourceIP, stored.Scopes)
	}
	if fc.monitor != nil {
		fc.monitor.Record(security.Attempt{
			Kind:          security.AttemptCallback,
			TenantID:      stored.TenantID,
			IntegrationID: stored.ID,
			SourceIP:      req.SourceIP,
			Success:       true,
		})
	}

	return &FlowResult{
		Succeeded:     true,
		TenantID:      stored.TenantID,
		IntegrationID: stored.ID,
	}
}

// markFailed moves the integration to a terminal non-active status once the
// flow has progressed past ownership verification. Failures before that point
// leave the record untouched (an expired state must not damage a healthy
// integration).
func (fc *FlowController) markFailed(ctx context.Context, run *flowRun, integrationID string, status storage.Status) {
	if err := fc.vault.MarkStatus(ctx, integrationID, status); err != nil {
		fc.logger.Error("failed to update integration status",
			"flow_id", run.id,
			"integration_id", integrationID,
			"status", string(status),
			"error", err)
	}
}

func (fc *FlowController) clientSecret(provider *storage.Provider) (string, error) {
	if provider.ClientSecret == "" {
		return "", nil
	}
	return fc.enc.Decrypt(provider.ClientSecret)
}
