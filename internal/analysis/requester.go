// Package analysis wraps the external root-cause analysis service. The
// boundary is fail-open: alerting must never block on this dependency.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Codewithaiyan/ObserveAI/internal/models"
	"github.com/Codewithaiyan/ObserveAI/internal/repo"
)

// Requester sends incident context to the analysis service and attaches the
// response. A zero URL disables analysis entirely.
type Requester struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRequester constructs a Requester. timeout bounds each call; a request
// exceeding it is abandoned and a late result is discarded.
func NewRequester(url string, timeout time.Duration, logger *slog.Logger) *Requester {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Requester{
		url:     url,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Enabled reports whether an analysis service is configured.
func (r *Requester) Enabled() bool {
	return r != nil && r.url != ""
}

type anomalyContext struct {
	SourceID string                 `json:"source_id"`
	Metric   string                 `json:"metric"`
	Kind     models.SignalKind      `json:"kind"`
	Value    float64                `json:"value"`
	Score    float64                `json:"score"`
	Reasons  []models.AnomalyReason `json:"reasons"`
	Baseline struct {
		Mean        float64 `json:"mean"`
		StdDev      float64 `json:"std_dev"`
		SampleCount int     `json:"sample_count"`
	} `json:"baseline"`
	DetectedAt time.Time `json:"detected_at"`
}

type analyzeRequest struct {
	IncidentID      string            `json:"incident_id"`
	Severity        models.Severity   `json:"severity"`
	OpenedAt        time.Time         `json:"opened_at"`
	AffectedSources []string          `json:"affected_sources"`
	Anomalies       []anomalyContext  `json:"anomalies"`
	LogExcerpts     []repo.LogExcerpt `json:"log_excerpts,omitempty"`
}

type analyzeResponse struct {
	RootCause       string   `json:"root_cause"`
	Confidence      float64  `json:"confidence"`
	Recommendations []string `json:"recommendations"`
}

// Analyze sends the incident's member anomalies, baseline snapshots, and
// recent error-log excerpts to the analysis service. On unavailability or
// timeout it returns (nil, err) and the caller proceeds without a root cause.
func (r *Requester) Analyze(ctx context.Context, incident models.Incident, excerpts []repo.LogExcerpt) (*models.RootCause, error) {
	if !r.Enabled() {
		return nil, fmt.Errorf("analysis service not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload := analyzeRequest{
		IncidentID:      incident.ID,
		Severity:        incident.Severity,
		OpenedAt:        incident.OpenedAt,
		AffectedSources: incident.SourceIDs,
		LogExcerpts:     excerpts,
	}
	for _, a := range incident.Anomalies {
		ac := anomalyContext{
			SourceID:   a.Signal.SourceID,
			Metric:     a.Signal.Metric,
			Kind:       a.Signal.Kind,
			Value:      a.Signal.Value,
			Score:      a.Score,
			Reasons:    a.Reasons,
			DetectedAt: a.DetectedAt,
		}
		ac.Baseline.Mean = a.Baseline.Mean
		ac.Baseline.StdDev = a.Baseline.StdDev()
		ac.Baseline.SampleCount = a.Baseline.SampleCount
		payload.Anomalies = append(payload.Anomalies, ac)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis service returned %s", resp.Status)
	}

	var parsed analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	if parsed.RootCause == "" {
		return nil, fmt.Errorf("analysis service returned empty root cause")
	}

	return &models.RootCause{
		Summary:         parsed.RootCause,
		Confidence:      parsed.Confidence,
		Recommendations: parsed.Recommendations,
		AnalyzedAt:      time.Now().UTC(),
	}, nil
}
