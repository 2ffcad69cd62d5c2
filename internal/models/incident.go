package models

import "time"

// AnomalyReason identifies which detection rule flagged a signal.
type AnomalyReason string

const (
	ReasonBaselineDeviation AnomalyReason = "baseline_deviation"
	ReasonErrorRateExceeded AnomalyReason = "error_rate_exceeded"
	ReasonHighErrorCount    AnomalyReason = "high_error_count"
)

// Anomaly is a signal judged to deviate from its baseline or breach a hard
// threshold. The baseline snapshot is taken at detection time so later
// learning does not rewrite the evidence.
type Anomaly struct {
	Signal     Signal          `json:"signal"`
	Score      float64         `json:"score"`
	Reasons    []AnomalyReason `json:"reasons"`
	Baseline   Baseline        `json:"baseline"`
	DetectedAt time.Time       `json:"detected_at"`
}

// IncidentStatus tracks the incident lifecycle.
type IncidentStatus string

const (
	StatusOpen      IncidentStatus = "open"
	StatusAnalyzing IncidentStatus = "analyzing"
	// StatusAlerted means dispatch policy has run for the incident. The
	// severity filter or routing rules may have suppressed every channel;
	// delivery outcomes live in the alert records, not the status.
	StatusAlerted  IncidentStatus = "alerted"
	StatusResolved IncidentStatus = "resolved"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFromScore maps a bounded anomaly score onto the severity ladder.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 1.2:
		return SeverityCritical
	case score >= 0.9:
		return SeverityHigh
	case score >= 0.7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// rank orders severities for max comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// RootCause is the explanation attached by the external analysis service.
type RootCause struct {
	Summary         string    `json:"summary"`
	Confidence      float64   `json:"confidence"`
	Recommendations []string  `json:"recommendations,omitempty"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// Incident is a correlated group of anomalies treated as one event for
// analysis and alerting. Membership is append-only while the incident is
// open; the correlator is the only mutator.
type Incident struct {
	ID              string         `json:"id"`
	Status          IncidentStatus `json:"status"`
	Severity        Severity       `json:"severity"`
	OpenedAt        time.Time      `json:"opened_at"`
	ClosedAt        *time.Time     `json:"closed_at,omitempty"`
	LastActivity    time.Time      `json:"last_activity"`
	Anomalies       []Anomaly      `json:"anomalies"`
	SourceIDs       []string       `json:"source_ids"`
	RootCause       *RootCause     `json:"root_cause,omitempty"`
	EscalationLevel int            `json:"escalation_level"`
}

// Touches reports whether the incident involves the given source.
func (i *Incident) Touches(sourceID string) bool {
	for _, s := range i.SourceIDs {
		if s == sourceID {
			return true
		}
	}
	return false
}

// DeliveryStatus records the outcome of one channel attempt.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySkipped   DeliveryStatus = "skipped"
)

// Alert is one dispatched notification describing an incident to a channel.
// Attempts are idempotent per (incident, channel, escalation level).
type Alert struct {
	IncidentID string         `json:"incident_id"`
	Channel    string         `json:"channel"`
	Level      int            `json:"level"`
	Summary    string         `json:"summary"`
	SentAt     time.Time      `json:"sent_at"`
	Status     DeliveryStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}
