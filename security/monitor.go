package security

import (
	"log/slog"
	"sync"
	"time"
)

// AttemptKind distinguishes the two operations the monitor observes.
type AttemptKind string

const (
	// AttemptCallback is a callback handled by the flow controller.
	AttemptCallback AttemptKind = "callback"

	// AttemptRefresh is a refresh driven by the refresh manager.
	AttemptRefresh AttemptKind = "refresh"
)

// Alert types raised by the monitor.
const (
	AlertHighFailureRate  = "high_failure_rate"
	AlertSourceSpike      = "source_spike"
	AlertRepeatedFailures = "repeated_failures"
)

// Attempt is one observed callback or refresh attempt.
type Attempt struct {
	Kind          AttemptKind
	TenantID      string
	IntegrationID string
	SourceIP      string
	Success       bool
	Reason        string // internal failure reason, empty on success
	At            time.Time
}

// Alert is a detected abuse pattern. Alerts are computed on read; the monitor
// never pushes and never mutates integration or token state.
type Alert struct {
	Type     string    `json:"type"`
	Subject  string    `json:"subject"` // source IP or integration ID
	Count    int       `json:"count"`
	Detail   string    `json:"detail"`
	RaisedAt time.Time `json:"raisedAt"`
}

// Stats is a point-in-time snapshot of the rolling counters.
type Stats struct {
	WindowSeconds int            `json:"windowSeconds"`
	Attempts      int            `json:"attempts"`
	Failures      int            `json:"failures"`
	FailureRate   float64        `json:"failureRate"`
	BySource      map[string]int `json:"bySource"`
	ByReason      map[string]int `json:"byReason"`
}

// MonitorConfig tunes the rolling window and alert thresholds.
type MonitorConfig struct {
	// Window is the rolling observation window. Default: 15 minutes.
	Window time.Duration

	// FailureRateThreshold raises AlertHighFailureRate when exceeded.
	// Default: 0.5 (50%).
	FailureRateThreshold float64

	// MinAttemptsForRate is the minimum number of attempts in the window
	// before the failure rate is considered meaningful. Default: 10.
	MinAttemptsForRate int

	// SourceSpikeThreshold raises AlertSourceSpike when one source address
	// exceeds this many attempts in the window. Default: 30.
	SourceSpikeThreshold int

	// RepeatedFailureThreshold raises AlertRepeatedFailures when one
	// integration accumulates this many identical failure reasons.
	// Default: 5.
	RepeatedFailureThreshold int
}

func (c *MonitorConfig) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 15 * time.Minute
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.5
	}
	if c.MinAttemptsForRate <= 0 {
		c.MinAttemptsForRate = 10
	}
	if c.SourceSpikeThreshold <= 0 {
		c.SourceSpikeThreshold = 30
	}
	if c.RepeatedFailureThreshold <= 0 {
		c.RepeatedFailureThreshold = 5
	}
}

// Monitor is a passive observer of callback and refresh attempts. It keeps
// rolling counters over a configurable window and exposes alert snapshots
// through a read interface.
type Monitor struct {
	mu       sync.Mutex
	cfg      MonitorConfig
	attempts []Attempt
	logger   *slog.Logger
}

// NewMonitor creates a security monitor with the given configuration.
func NewMonitor(cfg MonitorConfig, logger *slog.Logger) *Monitor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger,
	}
}

// Record observes one attempt. Called by the flow controller and the refresh
// manager after every terminal transition.
func (m *Monitor) Record(a Attempt) {
	if a.At.IsZero() {
		a.At = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune(a.At)
	m.attempts = append(m.attempts, a)
}

// prune drops attempts older than the window. Must be called with the mutex held.
func (m *Monitor) prune(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	i := 0
	for ; i < len(m.attempts); i++ {
		if m.attempts[i].At.After(cutoff) {
			break
		}
	}
	if i > 0 {
		m.attempts = append([]Attempt(nil), m.attempts[i:]...)
	}
}

// Snapshot returns the current rolling counters.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune(time.Now())

	stats := Stats{
		WindowSeconds: int(m.cfg.Window.Seconds()),
		BySource:      make(map[string]int),
		ByReason:      make(map[string]int),
	}
	for _, a := range m.attempts {
		stats.Attempts++
		if a.SourceIP != "" {
			stats.BySource[a.SourceIP]++
		}
		if !a.Success {
			stats.Failures++
			if a.Reason != "" {
				stats.ByReason[a.Reason]++
			}
		}
	}
	if stats.Attempts > 0 {
		stats.FailureRate = float64(stats.Failures) / float64(stats.Attempts)
	}
	return stats
}

// ActiveAlerts evaluates the window against the configured thresholds.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.prune(now)

	var alerts []Alert

	attempts := len(m.attempts)
	failures := 0
	bySource := make(map[string]int)
	byIntegrationReason := make(map[string]map[string]int)

	for _, a := range m.attempts {
		if a.SourceIP != "" {
			bySource[a.SourceIP]++
		}
		if a.Success {
			continue
		}
		failures++
		if a.IntegrationID != "" && a.Reason != "" {
			if byIntegrationReason[a.IntegrationID] == nil {
				byIntegrationReason[a.IntegrationID] = make(map[string]int)
			}
			byIntegrationReason[a.IntegrationID][a.Reason]++
		}
	}

	if attempts >= m.cfg.MinAttemptsForRate {
		rate := float64(failures) / float64(attempts)
		if rate > m.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertHighFailureRate,
				Count:    failures,
				Detail:   "failure rate exceeds threshold over the observation window",
				RaisedAt: now,
			})
		}
	}

	for source, count := range bySource {
		if count > m.cfg.SourceSpikeThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertSourceSpike,
				Subject:  source,
				Count:    count,
				Detail:   "attempt rate from one source exceeds threshold (possible scripted abuse)",
				RaisedAt: now,
			})
		}
	}

	for integrationID, reasons := range byIntegrationReason {
		for reason, count := range reasons {
			if count >= m.cfg.RepeatedFailureThreshold {
				alerts = append(alerts, Alert{
					Type:     AlertRepeatedFailures,
					Subject:  integrationID,
					Count:    count,
					Detail:   "failure reason " + reason + " repeats abnormally for one integration (possible targeted attack)",
					RaisedAt: now,
				})
			}
		}
	}

	if len(alerts) > 0 {
		m.logger.Warn("security monitor alerts active", "count", len(alerts))
	}

	return alerts
}
