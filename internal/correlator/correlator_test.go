package correlator

import (
	"testing"
	"time"

	"github.com/Codewithaiyan/ObserveAI/internal/models"
)

func anomalyFor(sourceID string, score float64, ts time.Time) models.Anomaly {
	return models.Anomaly{
		Signal: models.Signal{
			SourceID:  sourceID,
			Metric:    "error_rate",
			Kind:      models.SignalKindLog,
			Value:     score,
			Timestamp: ts,
		},
		Score:      score,
		Reasons:    []models.AnomalyReason{models.ReasonErrorRateExceeded},
		DetectedAt: ts,
	}
}

func TestIngestOpensIncident(t *testing.T) {
	c := New(Config{}, nil)
	now := time.Now().UTC()

	inc, opened := c.Ingest(anomalyFor("checkout", 1.0, now))
	if !opened {
		t.Fatalf("expected a new incident")
	}
	if inc.Status != models.StatusOpen {
		t.Fatalf("expected open status, got %s", inc.Status)
	}
	if len(inc.SourceIDs) != 1 || inc.SourceIDs[0] != "checkout" {
		t.Fatalf("expected single source checkout, got %v", inc.SourceIDs)
	}
}

func TestIngestJoinsSameSourceWithinWindow(t *testing.T) {
	c := New(Config{CorrelationWindow: 5 * time.Minute}, nil)
	now := time.Now().UTC()

	first, _ := c.Ingest(anomalyFor("checkout", 1.0, now))
	second, opened := c.Ingest(anomalyFor("checkout", 1.0, now.Add(time.Minute)))

	if opened {
		t.Fatalf("expected anomaly to join existing incident")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same incident, got %s and %s", first.ID, second.ID)
	}
	if len(second.Anomalies) != 2 {
		t.Fatalf("expected 2 anomalies, got %d", len(second.Anomalies))
	}
}

func TestIngestOpensNewIncidentOutsideWindow(t *testing.T) {
	c := New(Config{CorrelationWindow: 5 * time.Minute}, nil)
	now := time.Now().UTC()

	first, _ := c.Ingest(anomalyFor("checkout", 1.0, now))
	second, opened := c.Ingest(anomalyFor("checkout", 1.0, now.Add(10*time.Minute)))

	if !opened {
		t.Fatalf("expected a new incident outside the correlation window")
	}
	if second.ID == first.ID {
		t.Fatalf("expected distinct incidents")
	}
}

func TestIngestJoinsDeclaredDependency(t *testing.T) {
	deps := map[string][]string{"checkout": {"payments"}}
	c := New(Config{CorrelationWindow: 5 * time.Minute, Dependencies: deps}, nil)
	now := time.Now().UTC()

	first, _ := c.Ingest(anomalyFor("checkout", 1.0, now))
	joined, opened := c.Ingest(anomalyFor("payments", 1.2, now.Add(time.Minute)))

	if opened {
		t.Fatalf("expected dependency-linked anomaly to join")
	}
	if joined.ID != first.ID {
		t.Fatalf("expected same incident across dependency edge")
	}
	if len(joined.SourceIDs) != 2 {
		t.Fatalf("expected both sources recorded, got %v", joined.SourceIDs)
	}
}

func TestIngestDependencyIsSymmetric(t *testing.T) {
	// Edge declared on checkout only; payments anomaly arrives first.
	deps := map[string][]string{"checkout": {"payments"}}
	c := New(Config{CorrelationWindow: 5 * time.Minute, Dependencies: deps}, nil)
	now := time.Now().UTC()

	first, _ := c.Ingest(anomalyFor("payments", 1.0, now))
	joined, opened := c.Ingest(anomalyFor("checkout", 1.0, now.Add(time.Minute)))

	if opened {
		t.Fatalf("expected reverse dependency direction to correlate")
	}
	if joined.ID != first.ID {
		t.Fatalf("expected same incident")
	}
}

func TestIngestUnrelatedSourcesStaySeparate(t *testing.T) {
	c := New(Config{CorrelationWindow: 5 * time.Minute}, nil)
	now := time.Now().UTC()

	first, _ := c.Ingest(anomalyFor("checkout", 1.0, now))
	second, opened := c.Ingest(anomalyFor("inventory", 1.0, now))

	if !opened {
		t.Fatalf("expected unrelated source to open its own incident")
	}
	if second.ID == first.ID {
		t.Fatalf("expected distinct incidents for unrelated sources")
	}
}

func TestSeverityUpgradesNeverDowngrades(t *testing.T) {
	c := New(Config{CorrelationWindow: 5 * time.Minute}, nil)
	now := time.Now().UTC()

	inc, _ := c.Ingest(anomalyFor("checkout", 1.3, now)) // critical
	if inc.Severity != models.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", inc.Severity)
	}

	joined, _ := c.Ingest(anomalyFor("checkout", 0.7, now.Add(time.Minute))) // medium
	if joined.Severity != models.SeverityCritical {
		t.Fatalf("expected severity to stay critical, got %s", joined.Severity)
	}
}

func TestStateTransitions(t *testing.T) {
	c := New(Config{}, nil)
	now := time.Now().UTC()
	inc, _ := c.Ingest(anomalyFor("checkout", 1.0, now))

	if !c.MarkAnalyzing(inc.ID) {
		t.Fatalf("expected open -> analyzing to succeed")
	}
	if c.MarkAnalyzing(inc.ID) {
		t.Fatalf("expected second analyzing transition to fail")
	}
	if !c.MarkAlerted(inc.ID) {
		t.Fatalf("expected analyzing -> alerted to succeed")
	}

	got, ok := c.Get(inc.ID)
	if !ok || got.Status != models.StatusAlerted {
		t.Fatalf("expected alerted status, got %v", got.Status)
	}
}

func TestMarkAlertedDirectlyFromOpen(t *testing.T) {
	c := New(Config{}, nil)
	inc, _ := c.Ingest(anomalyFor("checkout", 1.0, time.Now().UTC()))

	if !c.MarkAlerted(inc.ID) {
		t.Fatalf("expected open -> alerted when analysis is skipped")
	}
}

func TestSweepResolvesQuietIncidents(t *testing.T) {
	c := New(Config{QuietPeriod: time.Minute}, nil)
	now := time.Now().UTC()

	inc, _ := c.Ingest(anomalyFor("checkout", 1.0, now))
	c.MarkAlerted(inc.ID)

	if resolved := c.Sweep(now.Add(30 * time.Second)); len(resolved) != 0 {
		t.Fatalf("expected no resolution before quiet period, got %d", len(resolved))
	}

	resolved := c.Sweep(now.Add(2 * time.Minute))
	if len(resolved) != 1 {
		t.Fatalf("expected one resolved incident, got %d", len(resolved))
	}
	got, ok := c.Get(inc.ID)
	if !ok || got.Status != models.StatusResolved {
		t.Fatalf("expected resolved status retained in history")
	}
	if got.ClosedAt == nil {
		t.Fatalf("expected closed timestamp to be set")
	}
}

func TestSweepIgnoresUnalertedIncidents(t *testing.T) {
	c := New(Config{QuietPeriod: time.Minute}, nil)
	now := time.Now().UTC()
	c.Ingest(anomalyFor("checkout", 1.0, now))

	if resolved := c.Sweep(now.Add(time.Hour)); len(resolved) != 0 {
		t.Fatalf("expected open incidents to be exempt from sweeping")
	}
}

func TestNewAnomalyAfterResolutionOpensFresh(t *testing.T) {
	c := New(Config{CorrelationWindow: time.Hour, QuietPeriod: time.Minute}, nil)
	now := time.Now().UTC()

	inc, _ := c.Ingest(anomalyFor("checkout", 1.0, now))
	c.MarkAlerted(inc.ID)
	c.Sweep(now.Add(5 * time.Minute))

	fresh, opened := c.Ingest(anomalyFor("checkout", 1.0, now.Add(6*time.Minute)))
	if !opened {
		t.Fatalf("expected new incident after previous one resolved")
	}
	if fresh.ID == inc.ID {
		t.Fatalf("resolved incidents must not accept new anomalies")
	}
}

func TestEscalationCandidates(t *testing.T) {
	c := New(Config{}, nil)
	now := time.Now().UTC()

	inc, _ := c.Ingest(anomalyFor("checkout", 1.0, now))
	c.MarkAlerted(inc.ID)

	if got := c.EscalationCandidates(now.Add(-time.Minute), 1); len(got) != 0 {
		t.Fatalf("expected no candidates before cutoff, got %d", len(got))
	}

	got := c.EscalationCandidates(now.Add(time.Minute), 1)
	if len(got) != 1 || got[0].ID != inc.ID {
		t.Fatalf("expected one candidate past cutoff")
	}

	if level := c.Escalate(inc.ID); level != 1 {
		t.Fatalf("expected escalation level 1, got %d", level)
	}
	if got := c.EscalationCandidates(now.Add(time.Minute), 1); len(got) != 0 {
		t.Fatalf("expected no candidates at max level")
	}
}

func TestAttachRootCause(t *testing.T) {
	c := New(Config{}, nil)
	inc, _ := c.Ingest(anomalyFor("checkout", 1.0, time.Now().UTC()))

	c.AttachRootCause(inc.ID, &models.RootCause{Summary: "db connection pool exhausted", Confidence: 0.8})

	got, _ := c.Get(inc.ID)
	if got.RootCause == nil || got.RootCause.Summary != "db connection pool exhausted" {
		t.Fatalf("expected attached root cause, got %+v", got.RootCause)
	}
}

func TestListNewestFirst(t *testing.T) {
	c := New(Config{CorrelationWindow: time.Minute}, nil)
	now := time.Now().UTC()

	c.Ingest(anomalyFor("checkout", 1.0, now))
	c.Ingest(anomalyFor("inventory", 1.0, now.Add(10*time.Minute)))

	all := c.List(0)
	if len(all) != 2 {
		t.Fatalf("expected 2 incidents, got %d", len(all))
	}
	if !all[0].OpenedAt.After(all[1].OpenedAt) {
		t.Fatalf("expected newest incident first")
	}
	if limited := c.List(1); len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestSnapshotIsolation(t *testing.T) {
	c := New(Config{CorrelationWindow: time.Hour}, nil)
	now := time.Now().UTC()

	inc, _ := c.Ingest(anomalyFor("checkout", 1.0, now))
	inc.SourceIDs[0] = "mutated"
	inc.Anomalies[0].Score = 0

	got, _ := c.Get(inc.ID)
	if got.SourceIDs[0] != "checkout" {
		t.Fatalf("caller mutation leaked into correlator state")
	}
	if got.Anomalies[0].Score != 1.0 {
		t.Fatalf("caller anomaly mutation leaked into correlator state")
	}
}
