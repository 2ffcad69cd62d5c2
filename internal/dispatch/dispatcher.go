// Package dispatch applies alert policy: severity filter, routing,
// per-(incident, channel, level) idempotence, and independent channel
// fan-out with no retry.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Codewithaiyan/ObserveAI/internal/cache"
	"github.com/Codewithaiyan/ObserveAI/internal/models"
)

// dedupTTL bounds how long a dedup key lives in the shared cache. Incidents
// resolve well within a day; expiring keys keeps the keyspace bounded.
const dedupTTL = 24 * time.Hour

// Config controls dispatch policy.
type Config struct {
	// MinSeverity is the lowest severity that produces alerts. Default medium.
	MinSeverity models.Severity
	// Timeout bounds each channel attempt.
	Timeout time.Duration
}

// Dispatcher owns Alert creation and delivery bookkeeping. It never mutates
// incident content; marking incidents alerted is the correlator's job.
type Dispatcher struct {
	channels []Channel
	routing  *RoutingRules
	cache    cache.Provider
	cfg      Config
	logger   *slog.Logger

	mu   sync.Mutex
	sent map[string]struct{}
	log  []models.Alert
}

// New constructs a Dispatcher. cacheProvider may be a NoopProvider; dedup
// then relies on in-memory state alone.
func New(channels []Channel, routing *RoutingRules, cacheProvider cache.Provider, cfg Config, logger *slog.Logger) *Dispatcher {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = models.SeverityMedium
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		channels: channels,
		routing:  routing,
		cache:    cacheProvider,
		cfg:      cfg,
		logger:   logger,
		sent:     make(map[string]struct{}),
	}
}

// ChannelCount returns the number of configured channels.
func (d *Dispatcher) ChannelCount() int { return len(d.channels) }

// Dispatch fans the incident out to its routed channels at the given
// escalation level. Each channel gets exactly one attempt; a failure in one
// channel never prevents delivery to another. Returns the alert records
// produced by this call.
func (d *Dispatcher) Dispatch(ctx context.Context, incident models.Incident, level int) []models.Alert {
	if len(d.channels) == 0 {
		return nil
	}
	if severityRank(incident.Severity) < severityRank(d.cfg.MinSeverity) {
		d.logger.Debug("alert suppressed below minimum severity",
			slog.String("incident_id", incident.ID),
			slog.String("severity", string(incident.Severity)))
		return nil
	}

	routed := d.routing.ChannelsFor(incident)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	alerts := make([]models.Alert, 0, len(d.channels))

	for _, ch := range d.channels {
		if routed != nil && !containsString(routed, ch.Name()) {
			continue
		}
		if !d.claim(ctx, incident.ID, ch.Name(), level) {
			continue
		}

		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			alert := d.attempt(ctx, ch, incident, level)
			mu.Lock()
			alerts = append(alerts, alert)
			mu.Unlock()
		}(ch)
	}
	wg.Wait()

	d.mu.Lock()
	d.log = append(d.log, alerts...)
	if len(d.log) > 500 {
		d.log = d.log[len(d.log)-500:]
	}
	d.mu.Unlock()

	return alerts
}

// SendTest pushes a synthetic alert through every configured channel to
// verify wiring, bypassing severity filter, routing, and dedup.
func (d *Dispatcher) SendTest(ctx context.Context) []models.Alert {
	incident := models.Incident{
		ID:           "test-" + time.Now().UTC().Format("20060102150405"),
		Status:       models.StatusAlerted,
		Severity:     models.SeverityLow,
		OpenedAt:     time.Now().UTC(),
		LastActivity: time.Now().UTC(),
		SourceIDs:    []string{"synthetic-test"},
	}

	alerts := make([]models.Alert, 0, len(d.channels))
	for _, ch := range d.channels {
		alerts = append(alerts, d.attempt(ctx, ch, incident, 0))
	}
	return alerts
}

// History returns recent alert records, newest last.
func (d *Dispatcher) History(limit int) []models.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	log := d.log
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]models.Alert(nil), log...)
}

// claim reserves the (incident, channel, level) dedup key. The in-memory
// set guards within-process duplicates; the cache SetNX extends the guard
// across restarts when a shared cache is configured.
func (d *Dispatcher) claim(ctx context.Context, incidentID, channel string, level int) bool {
	key := fmt.Sprintf("alert:%s:%s:%d", incidentID, channel, level)

	d.mu.Lock()
	if _, dup := d.sent[key]; dup {
		d.mu.Unlock()
		return false
	}
	d.sent[key] = struct{}{}
	d.mu.Unlock()

	ok, err := d.cache.SetNX(ctx, key, []byte("1"), dedupTTL)
	if err != nil {
		// Cache trouble must not block alerting; the in-memory claim
		// already holds for this process.
		d.logger.Warn("alert dedup cache unavailable", slog.Any("error", err))
		return true
	}
	if !ok {
		d.logger.Info("alert already delivered for this incident state",
			slog.String("incident_id", incidentID),
			slog.String("channel", channel),
			slog.Int("level", level))
	}
	return ok
}

func (d *Dispatcher) attempt(ctx context.Context, ch Channel, incident models.Incident, level int) models.Alert {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	alert := models.Alert{
		IncidentID: incident.ID,
		Channel:    ch.Name(),
		Level:      level,
		Summary:    fmt.Sprintf("%s incident affecting %d source(s)", incident.Severity, len(incident.SourceIDs)),
		SentAt:     time.Now().UTC(),
	}

	if err := ch.Send(ctx, incident, level); err != nil {
		alert.Status = models.DeliveryFailed
		alert.Error = err.Error()
		d.logger.Error("alert delivery failed",
			slog.String("incident_id", incident.ID),
			slog.String("channel", ch.Name()),
			slog.Any("error", err))
		return alert
	}

	alert.Status = models.DeliveryDelivered
	d.logger.Info("alert delivered",
		slog.String("incident_id", incident.ID),
		slog.String("channel", ch.Name()),
		slog.Int("level", level))
	return alert
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 3
	case models.SeverityHigh:
		return 2
	case models.SeverityMedium:
		return 1
	default:
		return 0
	}
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
