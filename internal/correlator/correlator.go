// Package correlator owns the Incident lifecycle: creation, membership,
// state transitions, and closing. All mutation happens under one lock held
// only for the correlation step, never across network calls.
package correlator

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Codewithaiyan/ObserveAI/internal/models"
)

// Config controls correlation and closing behaviour.
type Config struct {
	// CorrelationWindow bounds the time proximity for two anomalies to
	// correlate. Default 5m.
	CorrelationWindow time.Duration
	// QuietPeriod is how long an alerted incident must stay quiet before
	// it resolves. Default 2x the polling interval.
	QuietPeriod time.Duration
	// Dependencies maps a source to its declared upstream sources. The
	// relation is consulted symmetrically: a source correlates with both
	// its dependencies and its dependents.
	Dependencies map[string][]string
	// MaxClosed bounds the retained history of closed incidents.
	MaxClosed int
}

func (c *Config) applyDefaults() {
	if c.CorrelationWindow <= 0 {
		c.CorrelationWindow = 5 * time.Minute
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = time.Minute
	}
	if c.MaxClosed <= 0 {
		c.MaxClosed = 200
	}
}

// Correlator groups related anomalies into incidents and deduplicates
// against the open set.
type Correlator struct {
	mu     sync.Mutex
	open   []*models.Incident
	closed []*models.Incident

	cfg    Config
	logger *slog.Logger
}

// New constructs a Correlator.
func New(cfg Config, logger *slog.Logger) *Correlator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{cfg: cfg, logger: logger}
}

// Ingest routes an anomaly to the most recently touched matching open
// incident, or opens a new one. It returns the incident and whether it was
// newly opened.
func (c *Correlator) Ingest(anomaly models.Anomaly) (*models.Incident, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := anomaly.Signal.Timestamp
	if ts.IsZero() {
		ts = anomaly.DetectedAt
	}

	var best *models.Incident
	for _, inc := range c.open {
		if !c.related(inc, anomaly.Signal.SourceID) {
			continue
		}
		if absDuration(ts.Sub(inc.LastActivity)) > c.cfg.CorrelationWindow {
			continue
		}
		if best == nil || inc.LastActivity.After(best.LastActivity) {
			best = inc
		}
	}

	if best != nil {
		best.Anomalies = append(best.Anomalies, anomaly)
		if !best.Touches(anomaly.Signal.SourceID) {
			best.SourceIDs = append(best.SourceIDs, anomaly.Signal.SourceID)
		}
		best.Severity = models.MaxSeverity(best.Severity, models.SeverityFromScore(anomaly.Score))
		best.LastActivity = ts
		c.logger.Debug("anomaly joined incident",
			slog.String("incident_id", best.ID),
			slog.String("source_id", anomaly.Signal.SourceID),
			slog.Float64("score", anomaly.Score))
		return snapshot(best), false
	}

	inc := &models.Incident{
		ID:           uuid.NewString(),
		Status:       models.StatusOpen,
		Severity:     models.SeverityFromScore(anomaly.Score),
		OpenedAt:     ts,
		LastActivity: ts,
		Anomalies:    []models.Anomaly{anomaly},
		SourceIDs:    []string{anomaly.Signal.SourceID},
	}
	c.open = append(c.open, inc)
	c.logger.Info("incident opened",
		slog.String("incident_id", inc.ID),
		slog.String("source_id", anomaly.Signal.SourceID),
		slog.String("severity", string(inc.Severity)))
	return snapshot(inc), true
}

// related reports whether the incident's sources and the given source are
// the same or joined by a declared dependency edge, in either direction.
func (c *Correlator) related(inc *models.Incident, sourceID string) bool {
	if inc.Touches(sourceID) {
		return true
	}
	for _, member := range inc.SourceIDs {
		if c.dependent(member, sourceID) || c.dependent(sourceID, member) {
			return true
		}
	}
	return false
}

func (c *Correlator) dependent(source, upstream string) bool {
	for _, dep := range c.cfg.Dependencies[source] {
		if strings.EqualFold(dep, upstream) {
			return true
		}
	}
	return false
}

// MarkAnalyzing transitions open -> analyzing when a root-cause request is
// issued. Returns false if the incident is not open.
func (c *Correlator) MarkAnalyzing(id string) bool {
	return c.transition(id, models.StatusOpen, models.StatusAnalyzing)
}

// AttachRootCause records the analysis result on the incident. A nil root
// cause is legal: analysis failed open and the incident proceeds without it.
func (c *Correlator) AttachRootCause(id string, rc *models.RootCause) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inc := c.findLocked(id); inc != nil {
		inc.RootCause = rc
	}
}

// MarkAlerted transitions analyzing -> alerted once dispatch has been
// initiated. Open incidents may also be alerted directly when analysis is
// disabled.
func (c *Correlator) MarkAlerted(id string) bool {
	if c.transition(id, models.StatusAnalyzing, models.StatusAlerted) {
		return true
	}
	return c.transition(id, models.StatusOpen, models.StatusAlerted)
}

// Escalate bumps the escalation level and returns the new level. Returns -1
// if the incident is no longer open.
func (c *Correlator) Escalate(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	inc := c.findLocked(id)
	if inc == nil {
		return -1
	}
	inc.EscalationLevel++
	return inc.EscalationLevel
}

// Resolve explicitly closes an incident regardless of quiet period.
func (c *Correlator) Resolve(id string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, inc := range c.open {
		if inc.ID == id {
			c.closeLocked(i, now)
			return true
		}
	}
	return false
}

// Sweep resolves alerted incidents that stayed quiet for the quiet period.
// Returns the incidents closed by this pass.
func (c *Correlator) Sweep(now time.Time) []models.Incident {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resolved []models.Incident
	for i := len(c.open) - 1; i >= 0; i-- {
		inc := c.open[i]
		if inc.Status != models.StatusAlerted {
			continue
		}
		if now.Sub(inc.LastActivity) < c.cfg.QuietPeriod {
			continue
		}
		c.closeLocked(i, now)
		resolved = append(resolved, *inc)
	}
	return resolved
}

// EscalationCandidates returns open incidents alerted before the cutoff that
// have not escalated past maxLevel.
func (c *Correlator) EscalationCandidates(cutoff time.Time, maxLevel int) []models.Incident {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []models.Incident
	for _, inc := range c.open {
		if inc.Status != models.StatusAlerted {
			continue
		}
		if inc.EscalationLevel >= maxLevel {
			continue
		}
		if inc.OpenedAt.Before(cutoff) {
			out = append(out, *snapshot(inc))
		}
	}
	return out
}

// Get returns a copy of the incident with the given ID, open or closed.
func (c *Correlator) Get(id string) (models.Incident, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inc := c.findLocked(id); inc != nil {
		return *snapshot(inc), true
	}
	for _, inc := range c.closed {
		if inc.ID == id {
			return *snapshot(inc), true
		}
	}
	return models.Incident{}, false
}

// List returns incidents newest-first, open before closed, capped at limit.
// limit <= 0 returns everything retained.
func (c *Correlator) List(limit int) []models.Incident {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := make([]models.Incident, 0, len(c.open)+len(c.closed))
	for _, inc := range c.open {
		all = append(all, *snapshot(inc))
	}
	for _, inc := range c.closed {
		all = append(all, *snapshot(inc))
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].OpenedAt.After(all[j].OpenedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// OpenCount returns the number of open incidents.
func (c *Correlator) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

func (c *Correlator) transition(id string, from, to models.IncidentStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	inc := c.findLocked(id)
	if inc == nil || inc.Status != from {
		return false
	}
	inc.Status = to
	return true
}

func (c *Correlator) findLocked(id string) *models.Incident {
	for _, inc := range c.open {
		if inc.ID == id {
			return inc
		}
	}
	return nil
}

func (c *Correlator) closeLocked(i int, now time.Time) {
	inc := c.open[i]
	inc.Status = models.StatusResolved
	closedAt := now
	inc.ClosedAt = &closedAt

	c.open = append(c.open[:i], c.open[i+1:]...)
	c.closed = append(c.closed, inc)
	if len(c.closed) > c.cfg.MaxClosed {
		c.closed = c.closed[len(c.closed)-c.cfg.MaxClosed:]
	}
	c.logger.Info("incident resolved", slog.String("incident_id", inc.ID))
}

// snapshot copies an incident so callers cannot mutate correlator-owned
// state. Member slices are copied shallowly; anomalies are immutable.
func snapshot(inc *models.Incident) *models.Incident {
	cp := *inc
	cp.Anomalies = append([]models.Anomaly(nil), inc.Anomalies...)
	cp.SourceIDs = append([]string(nil), inc.SourceIDs...)
	return &cp
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
