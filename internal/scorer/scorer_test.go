package scorer

import (
	"testing"

	"github.com/Codewithaiyan/ObserveAI/internal/models"
)

func warmBaseline(mean, m2 float64, samples int) models.Baseline {
	return models.Baseline{
		SourceID:    "checkout",
		Metric:      "latency_p99",
		Mean:        mean,
		M2:          m2,
		SampleCount: samples,
	}
}

func TestScoreWarmupWithoutBaseline(t *testing.T) {
	s := New(Config{})
	signal := models.Signal{SourceID: "checkout", Metric: "latency_p99", Kind: models.SignalKindMetric, Value: 100}

	out := s.Score(signal, models.Baseline{}, false)
	if out.Verdict != VerdictWarmup {
		t.Fatalf("expected warmup verdict without baseline, got %v", out.Verdict)
	}
}

func TestScoreWarmupBelowMinSamples(t *testing.T) {
	s := New(Config{MinSamples: 10})
	signal := models.Signal{SourceID: "checkout", Metric: "latency_p99", Kind: models.SignalKindMetric, Value: 100}

	out := s.Score(signal, warmBaseline(10, 20, 5), true)
	if out.Verdict != VerdictWarmup {
		t.Fatalf("expected warmup verdict below min samples, got %v", out.Verdict)
	}
}

func TestScoreNormalWithinBounds(t *testing.T) {
	s := New(Config{})
	// Mean 10, variance 4 (stddev 2): value 12 is only one stddev away.
	out := s.Score(
		models.Signal{SourceID: "checkout", Metric: "latency_p99", Kind: models.SignalKindMetric, Value: 12},
		warmBaseline(10, 4*20, 20), true)
	if out.Verdict != VerdictNormal {
		t.Fatalf("expected normal verdict, got %v", out.Verdict)
	}
}

func TestScoreBaselineDeviation(t *testing.T) {
	s := New(Config{})
	// Mean 10, stddev 2: value 24 is z=7, far past the 2.0 threshold.
	out := s.Score(
		models.Signal{SourceID: "checkout", Metric: "latency_p99", Kind: models.SignalKindMetric, Value: 24},
		warmBaseline(10, 4*20, 20), true)
	if out.Verdict != VerdictAnomalous {
		t.Fatalf("expected anomalous verdict, got %v", out.Verdict)
	}
	if len(out.Anomaly.Reasons) != 1 || out.Anomaly.Reasons[0] != models.ReasonBaselineDeviation {
		t.Fatalf("expected baseline_deviation reason, got %v", out.Anomaly.Reasons)
	}
	if out.Anomaly.Score < 0.7 {
		t.Fatalf("expected score above threshold, got %f", out.Anomaly.Score)
	}
}

func TestScoreBoundedForExtremeDeviation(t *testing.T) {
	s := New(Config{})
	out := s.Score(
		models.Signal{SourceID: "checkout", Metric: "latency_p99", Kind: models.SignalKindMetric, Value: 1e9},
		warmBaseline(10, 4*20, 20), true)
	if out.Verdict != VerdictAnomalous {
		t.Fatalf("expected anomalous verdict, got %v", out.Verdict)
	}
	if out.Anomaly.Score > 1.5 {
		t.Fatalf("expected bounded score, got %f", out.Anomaly.Score)
	}
}

func TestScoreFlatBaselineUsesStdDevFloor(t *testing.T) {
	s := New(Config{})
	// A perfectly flat learned series must not produce an infinite z-score.
	out := s.Score(
		models.Signal{SourceID: "checkout", Metric: "latency_p99", Kind: models.SignalKindMetric, Value: 10.05},
		warmBaseline(10, 0, 20), true)
	if out.Verdict != VerdictNormal {
		t.Fatalf("expected tiny fluctuation on flat series to stay normal, got %v", out.Verdict)
	}
}

func TestScoreErrorRateHardPathDuringWarmup(t *testing.T) {
	s := New(Config{ErrorRateThreshold: 0.5})
	signal := models.Signal{
		SourceID: "payments",
		Metric:   "error_rate",
		Kind:     models.SignalKindLog,
		Value:    2.0,
	}

	// No baseline at all: the hard path must still fire.
	out := s.Score(signal, models.Baseline{}, false)
	if out.Verdict != VerdictAnomalous {
		t.Fatalf("expected hard path to fire during warmup, got %v", out.Verdict)
	}
	if out.Anomaly.Reasons[0] != models.ReasonErrorRateExceeded {
		t.Fatalf("expected error_rate_exceeded reason, got %v", out.Anomaly.Reasons)
	}
	if out.Anomaly.Score < 1.0 {
		t.Fatalf("expected hard-path score of at least 1.0, got %f", out.Anomaly.Score)
	}
}

func TestScoreHighErrorCount(t *testing.T) {
	s := New(Config{HighErrorThreshold: 25})
	signal := models.Signal{
		SourceID:   "payments",
		Metric:     "error_rate",
		Kind:       models.SignalKindLog,
		Value:      0.1,
		ErrorCount: 80,
	}

	out := s.Score(signal, models.Baseline{}, false)
	if out.Verdict != VerdictAnomalous {
		t.Fatalf("expected anomalous verdict on high error count, got %v", out.Verdict)
	}
	if out.Anomaly.Reasons[0] != models.ReasonHighErrorCount {
		t.Fatalf("expected high_error_count reason, got %v", out.Anomaly.Reasons)
	}
}

func TestScoreBothPathsRetainAllReasons(t *testing.T) {
	s := New(Config{})
	signal := models.Signal{
		SourceID:   "payments",
		Metric:     "error_rate",
		Kind:       models.SignalKindLog,
		Value:      5.0,
		ErrorCount: 100,
	}
	// Warm baseline far below the observed rate, so all three paths fire.
	out := s.Score(signal, warmBaseline(0.01, 0, 20), true)
	if out.Verdict != VerdictAnomalous {
		t.Fatalf("expected anomalous verdict, got %v", out.Verdict)
	}
	if len(out.Anomaly.Reasons) != 3 {
		t.Fatalf("expected three reasons, got %v", out.Anomaly.Reasons)
	}
}

func TestScoreLogVolumeIgnoresHardPath(t *testing.T) {
	s := New(Config{})
	// Volume counts dwarf any rate threshold; only the baseline judges them.
	signal := models.Signal{SourceID: "payments", Metric: models.MetricLogVolume, Kind: models.SignalKindLog, Value: 1000}

	out := s.Score(signal, models.Baseline{}, false)
	if out.Verdict != VerdictWarmup {
		t.Fatalf("expected warmup for cold volume series, got %v", out.Verdict)
	}

	// A warm, steady volume baseline keeps the same count normal.
	out = s.Score(signal, warmBaseline(1000, 0, 20), true)
	if out.Verdict != VerdictNormal {
		t.Fatalf("expected steady volume to stay normal, got %v", out.Verdict)
	}
}

func TestScoreMetricKindIgnoresHardPath(t *testing.T) {
	s := New(Config{})
	// Metric-kind signals never trip the log thresholds, whatever the value.
	signal := models.Signal{SourceID: "checkout", Metric: "latency_p99", Kind: models.SignalKindMetric, Value: 100, ErrorCount: 100}
	out := s.Score(signal, models.Baseline{}, false)
	if out.Verdict != VerdictWarmup {
		t.Fatalf("expected warmup for metric signal without baseline, got %v", out.Verdict)
	}
}
