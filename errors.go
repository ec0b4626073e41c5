package cloudauth

import (
	"errors"
	"fmt"
)

// Internal failure reasons for a callback or refresh flow. These are written
// to the audit log and the security monitor; the browser-facing messages are
// the generic ones returned by PublicMessage.
const (
	ReasonProviderDenied      = "PROVIDER_DENIED"
	ReasonInvalidState        = "INVALID_STATE"
	ReasonStateExpired        = "STATE_EXPIRED"
	ReasonIntegrationNotFound = "INTEGRATION_NOT_FOUND"
	ReasonOwnershipMismatch   = "OWNERSHIP_MISMATCH"
	ReasonInvalidPKCE         = "INVALID_PKCE_PARAMETERS"
	ReasonProviderError       = "PROVIDER_ERROR"
	ReasonProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ReasonStorageError        = "STORAGE_ERROR"
)

// State token validation errors.
var (
	// ErrStateMalformed means the token is not valid base64/JSON or misses
	// required fields.
	ErrStateMalformed = errors.New("state token malformed")

	// ErrStateExpired means the token is older than the 10 minute TTL.
	ErrStateExpired = errors.New("state token expired")

	// ErrWeakNonce means the embedded nonce carries too little entropy.
	ErrWeakNonce = errors.New("state token nonce too short")
)

// FlowError is a terminal flow failure carrying the precise internal reason
// and enough detail for the audit log.
type FlowError struct {
	Reason string
	Detail string
	Err    error
}

func (e *FlowError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("oauth flow failed: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("oauth flow failed: %s", e.Reason)
}

func (e *FlowError) Unwrap() error { return e.Err }

// PublicMessage maps the internal reason onto the small fixed set of
// non-identifying messages shown to the browser. Leaking which validation
// step failed would help an attacker, so the mapping is deliberately coarse.
func (e *FlowError) PublicMessage() string {
	switch e.Reason {
	case ReasonInvalidState, ReasonStateExpired:
		return "Request has expired, please try again"
	case ReasonIntegrationNotFound, ReasonOwnershipMismatch:
		return "Security verification failed"
	case ReasonProviderDenied:
		return "Authorization was declined"
	default:
		return "Service temporarily unavailable"
	}
}

func newFlowError(reason, detail string, err error) *FlowError {
	return &FlowError{Reason: reason, Detail: detail, Err: err}
}

// AsFlowError extracts a FlowError from an error chain.
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	ok := errors.As(err, &fe)
	return fe, ok
}
