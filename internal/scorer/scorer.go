// Package scorer judges signals against learned baselines and hard
// thresholds. Outcomes are tagged rather than boolean so the reason a signal
// was flagged survives through correlation and alerting.
package scorer

import (
	"math"
	"time"

	"github.com/Codewithaiyan/ObserveAI/internal/baseline"
	"github.com/Codewithaiyan/ObserveAI/internal/models"
)

// Verdict tags the result of scoring one signal.
type Verdict int

const (
	// VerdictWarmup means the series has too few samples to score; the
	// signal only seeds the baseline.
	VerdictWarmup Verdict = iota
	// VerdictNormal means the signal is within learned bounds.
	VerdictNormal
	// VerdictAnomalous means at least one detection path fired.
	VerdictAnomalous
)

// Outcome is the tagged result of scoring. Anomaly is set only for
// VerdictAnomalous.
type Outcome struct {
	Verdict Verdict
	Anomaly models.Anomaly
}

// Config holds the thresholds for both detection paths.
type Config struct {
	// AnomalyScoreThreshold is the bounded score at or above which the
	// statistical path fires. Default 0.7.
	AnomalyScoreThreshold float64
	// ZScoreThreshold is the z-score the statistical path normalises
	// against. Default 2.0.
	ZScoreThreshold float64
	// ErrorRateThreshold fires the hard path when a log-kind signal's
	// events/sec exceed it, regardless of baseline. Default 0.5.
	ErrorRateThreshold float64
	// HighErrorThreshold fires the hard path when the raw error count in
	// the observation window exceeds it. Default 25.
	HighErrorThreshold int
	// MinSamples is the warm-up minimum before statistical scoring starts.
	// Default 10.
	MinSamples int
}

func (c *Config) applyDefaults() {
	if c.AnomalyScoreThreshold <= 0 {
		c.AnomalyScoreThreshold = 0.7
	}
	if c.ZScoreThreshold <= 0 {
		c.ZScoreThreshold = 2.0
	}
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = 0.5
	}
	if c.HighErrorThreshold <= 0 {
		c.HighErrorThreshold = 25
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
}

// Scorer applies the statistical and hard-threshold detection paths.
type Scorer struct {
	cfg Config
}

// New constructs a Scorer, filling unset thresholds with defaults.
func New(cfg Config) *Scorer {
	cfg.applyDefaults()
	return &Scorer{cfg: cfg}
}

// maxScore bounds the reported anomaly score. Scores may exceed 1.0 to keep
// ordering information for extreme deviations, but never grow unbounded.
const maxScore = 1.5

// Score judges one signal. The hard-threshold path runs even during warm-up
// so a slow-drifting or unlearned baseline cannot mask a real incident.
// When both paths fire, the higher score wins and all reasons are retained.
func (s *Scorer) Score(signal models.Signal, b models.Baseline, haveBaseline bool) Outcome {
	var (
		score   float64
		reasons []models.AnomalyReason
	)

	warm := haveBaseline && b.SampleCount >= s.cfg.MinSamples
	if warm {
		if z := s.zScore(signal.Value, b); z >= s.cfg.ZScoreThreshold {
			statScore := clampScore(z / (2 * s.cfg.ZScoreThreshold))
			if statScore >= s.cfg.AnomalyScoreThreshold {
				score = statScore
				reasons = append(reasons, models.ReasonBaselineDeviation)
			}
		}
	}

	// Hard thresholds apply to the error-rate series only. Other log-derived
	// series, log volume included, are judged purely against their baselines.
	if signal.Kind == models.SignalKindLog && signal.Metric == models.MetricErrorRate {
		if signal.Value > s.cfg.ErrorRateThreshold {
			hardScore := clampScore(signal.Value / (2 * s.cfg.ErrorRateThreshold))
			if hardScore < 1.0 {
				hardScore = 1.0
			}
			if hardScore > score {
				score = hardScore
			}
			reasons = append(reasons, models.ReasonErrorRateExceeded)
		}
		if signal.ErrorCount > s.cfg.HighErrorThreshold {
			hardScore := clampScore(float64(signal.ErrorCount) / (2 * float64(s.cfg.HighErrorThreshold)))
			if hardScore < 1.0 {
				hardScore = 1.0
			}
			if hardScore > score {
				score = hardScore
			}
			reasons = append(reasons, models.ReasonHighErrorCount)
		}
	}

	if len(reasons) > 0 {
		return Outcome{
			Verdict: VerdictAnomalous,
			Anomaly: models.Anomaly{
				Signal:     signal,
				Score:      score,
				Reasons:    reasons,
				Baseline:   b,
				DetectedAt: time.Now().UTC(),
			},
		}
	}
	if !warm {
		return Outcome{Verdict: VerdictWarmup}
	}
	return Outcome{Verdict: VerdictNormal}
}

func (s *Scorer) zScore(value float64, b models.Baseline) float64 {
	std := b.StdDev()
	if std < baseline.MinStdDev {
		std = baseline.MinStdDev
	}
	return math.Abs(value-b.Mean) / std
}

func clampScore(v float64) float64 {
	if v > maxScore {
		return maxScore
	}
	if v < 0 {
		return 0
	}
	return v
}
