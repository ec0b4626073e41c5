package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the OAuth subsystem.
type Metrics struct {
	// Flow metrics
	FlowsInitiated     metric.Int64Counter
	CallbacksProcessed metric.Int64Counter

	// Exchange metrics
	CodeExchanged    metric.Int64Counter
	ExchangeDuration metric.Float64Histogram

	// Refresh metrics
	TokenRefreshed metric.Int64Counter
	RefreshFailed  metric.Int64Counter

	// Security metrics
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	flowMeter := inst.Meter("flow")
	exchangeMeter := inst.Meter("exchange")
	securityMeter := inst.Meter("security")

	var err error
	m.FlowsInitiated, err = flowMeter.Int64Counter(
		"oauth.flow.initiated",
		metric.WithDescription("Number of authorization flows initiated"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.initiated counter: %w", err)
	}

	m.CallbacksProcessed, err = flowMeter.Int64Counter(
		"oauth.callback.processed",
		metric.WithDescription("Number of provider callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback.processed counter: %w", err)
	}

	m.CodeExchanged, err = exchangeMeter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.ExchangeDuration, err = exchangeMeter.Float64Histogram(
		"oauth.exchange.duration",
		metric.WithDescription("Token endpoint exchange duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange.duration histogram: %w", err)
	}

	m.TokenRefreshed, err = exchangeMeter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.RefreshFailed, err = exchangeMeter.Int64Counter(
		"oauth.refresh.failed",
		metric.WithDescription("Number of failed refresh exchanges"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.failed counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"oauth.pkce.validation_failed",
		metric.WithDescription("Number of PKCE validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation_failed counter: %w", err)
	}

	return m, nil
}

// RecordFlowInitiated records the start of an authorization flow.
func (m *Metrics) RecordFlowInitiated(ctx context.Context, providerID, flowType string) {
	if m == nil {
		return
	}
	m.FlowsInitiated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerID),
		attribute.String("flow_type", flowType),
	))
}

// RecordCallback records one processed callback with its terminal result.
func (m *Metrics) RecordCallback(ctx context.Context, succeeded bool, reason string) {
	if m == nil {
		return
	}
	result := "success"
	if !succeeded {
		result = "failure"
	}
	attrs := []attribute.KeyValue{attribute.String("result", result)}
	if reason != "" {
		attrs = append(attrs, attribute.String("reason", reason))
	}
	m.CallbacksProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordExchange records a code exchange and its latency.
func (m *Metrics) RecordExchange(ctx context.Context, providerID, strategy string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerID),
		attribute.String("strategy", strategy),
	))
	m.ExchangeDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String("provider", providerID),
	))
}

// RecordRefresh records a refresh exchange outcome.
func (m *Metrics) RecordRefresh(ctx context.Context, providerID string, rotated bool, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RefreshFailed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", providerID),
		))
		return
	}
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerID),
		attribute.Bool("rotated", rotated),
	))
}

// RecordRateLimitExceeded records a callback rate limit violation.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1)
}

// RecordPKCEValidationFailed records a PKCE parameter validation failure.
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}
