// Package engine drives the monitoring loop: collect signals, score them
// against learned baselines, correlate anomalies into incidents, request
// root-cause analysis, and dispatch alerts.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Codewithaiyan/ObserveAI/internal/analysis"
	"github.com/Codewithaiyan/ObserveAI/internal/baseline"
	"github.com/Codewithaiyan/ObserveAI/internal/config"
	"github.com/Codewithaiyan/ObserveAI/internal/correlator"
	"github.com/Codewithaiyan/ObserveAI/internal/dispatch"
	"github.com/Codewithaiyan/ObserveAI/internal/metrics"
	"github.com/Codewithaiyan/ObserveAI/internal/models"
	"github.com/Codewithaiyan/ObserveAI/internal/repo"
	"github.com/Codewithaiyan/ObserveAI/internal/scorer"
	"github.com/Codewithaiyan/ObserveAI/internal/utils"
)

// recentTicks is the window used to judge whether collection is degraded.
const recentTicks = 5

// maxEscalationLevel caps how often a stuck incident re-alerts.
const maxEscalationLevel = 1

// MetricsSource evaluates one instant query against the metrics backend.
type MetricsSource interface {
	Query(ctx context.Context, query string, at time.Time) (repo.MetricSample, error)
}

// LogsSource fetches per-source log statistics over a trailing window.
type LogsSource interface {
	FetchWindowStats(ctx context.Context, sourceID string, window time.Duration) (repo.LogWindowStats, error)
}

// Monitor owns the periodic detection tick and the incident pipeline hanging
// off it. All public methods are safe for concurrent use; the control API
// calls them while the loop runs.
type Monitor struct {
	cfg config.Config

	metricsSource MetricsSource
	logsSource    LogsSource
	baselines     *baseline.Store
	scorer        *scorer.Scorer
	correlator    *correlator.Correlator
	analyzer      *analysis.Requester
	dispatcher    *dispatch.Dispatcher
	logger        *slog.Logger

	analysisLatency *utils.LatencyTracker

	mu          sync.Mutex
	startedAt   time.Time
	tickCount   int64
	lastTick    time.Time
	tickResults []bool

	excerptMu   sync.Mutex
	logExcerpts map[string][]repo.LogExcerpt

	wg sync.WaitGroup
}

// New wires a Monitor from its collaborators. metricsSource and logsSource
// may each be nil when the corresponding backend is not configured.
func New(
	cfg config.Config,
	metricsSource MetricsSource,
	logsSource LogsSource,
	baselines *baseline.Store,
	sc *scorer.Scorer,
	corr *correlator.Correlator,
	analyzer *analysis.Requester,
	dispatcher *dispatch.Dispatcher,
	logger *slog.Logger,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:             cfg,
		metricsSource:   metricsSource,
		logsSource:      logsSource,
		baselines:       baselines,
		scorer:          sc,
		correlator:      corr,
		analyzer:        analyzer,
		dispatcher:      dispatcher,
		logger:          logger,
		analysisLatency: utils.NewLatencyTracker(256),
		startedAt:       time.Now().UTC(),
		logExcerpts:     make(map[string][]repo.LogExcerpt),
	}
}

// Run executes the monitoring loop until ctx is cancelled, then waits for
// in-flight incident pipelines to drain.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.Detection.PollingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m.logger.Info("monitor started",
		slog.Duration("interval", interval),
		slog.Int("metric_queries", len(m.cfg.Metrics.Queries)),
		slog.Int("log_sources", len(m.cfg.Logs.Sources)))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First pass immediately rather than waiting a full interval.
	m.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			if err := m.baselines.Persist(); err != nil {
				m.logger.Error("final baseline persist failed", slog.Any("error", err))
			}
			m.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one full detection pass: collect, score, correlate, escalate,
// sweep, persist. Exposed so the control API can force a pass on demand.
func (m *Monitor) Tick(ctx context.Context) {
	now := time.Now().UTC()
	signals, collectErrs := m.collect(ctx, now, "")

	anomalies := m.score(signals)
	m.correlate(ctx, anomalies)

	m.escalate(ctx, now)

	for _, inc := range m.correlator.Sweep(now) {
		m.logger.Info("incident quiet, resolved",
			slog.String("incident_id", inc.ID),
			slog.Int("anomalies", len(inc.Anomalies)))
	}

	persistErr := m.baselines.Persist()
	if persistErr != nil {
		// One retry; a persistent failure degrades status but the
		// in-memory state keeps operating.
		persistErr = m.baselines.Persist()
	}
	if persistErr != nil {
		m.logger.Error("baseline persist failed", slog.Any("error", persistErr))
	}

	metrics.SetOpenIncidents(m.correlator.OpenCount())

	ok := collectErrs == 0 && persistErr == nil
	outcome := metrics.OutcomeSuccess
	if !ok {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveTick(outcome)

	m.mu.Lock()
	m.tickCount++
	m.lastTick = now
	m.tickResults = append(m.tickResults, ok)
	if len(m.tickResults) > recentTicks {
		m.tickResults = m.tickResults[len(m.tickResults)-recentTicks:]
	}
	m.mu.Unlock()

	m.logger.Debug("tick complete",
		slog.Int("signals", len(signals)),
		slog.Int("anomalies", len(anomalies)),
		slog.Int("collect_errors", collectErrs),
		slog.Int("open_incidents", m.correlator.OpenCount()))
}

// collect fans out to every configured metric query and log source
// concurrently, optionally narrowed to one source. A failing source is
// logged and skipped; the pass proceeds with whatever arrived. Each log
// source yields two signals, error rate and log volume, plus error excerpts
// retained for incident analysis.
func (m *Monitor) collect(ctx context.Context, now time.Time, onlySource string) ([]models.Signal, int) {
	type result struct {
		signals  []models.Signal
		source   string
		excerpts []repo.LogExcerpt
		err      error
	}

	total := len(m.cfg.Metrics.Queries) + len(m.cfg.Logs.Sources)
	if total == 0 {
		return nil, 0
	}
	results := make(chan result, total)

	var wg sync.WaitGroup
	if m.metricsSource != nil {
		for _, q := range m.cfg.Metrics.Queries {
			if onlySource != "" && q.SourceID != onlySource {
				continue
			}
			wg.Add(1)
			go func(q config.MetricQuery) {
				defer wg.Done()
				sample, err := m.metricsSource.Query(ctx, q.Query, now)
				if err != nil {
					results <- result{err: utils.NewAppError("metrics.query", q.SourceID+"/"+q.Metric, err)}
					return
				}
				results <- result{signals: []models.Signal{{
					SourceID:  q.SourceID,
					Metric:    q.Metric,
					Kind:      models.SignalKindMetric,
					Value:     sample.Value,
					Timestamp: sample.Timestamp,
				}}}
			}(q)
		}
	}
	if m.logsSource != nil {
		for _, source := range m.cfg.Logs.Sources {
			if onlySource != "" && source != onlySource {
				continue
			}
			wg.Add(1)
			go func(source string) {
				defer wg.Done()
				stats, err := m.logsSource.FetchWindowStats(ctx, source, m.cfg.Logs.Window)
				if err != nil {
					results <- result{err: utils.NewAppError("logs.window", source, err)}
					return
				}
				results <- result{
					source:   source,
					excerpts: stats.Samples,
					signals: []models.Signal{
						{
							SourceID:   source,
							Metric:     models.MetricErrorRate,
							Kind:       models.SignalKindLog,
							Value:      stats.ErrorRate(),
							ErrorCount: stats.ErrorCount,
							Timestamp:  now,
						},
						{
							SourceID:  source,
							Metric:    models.MetricLogVolume,
							Kind:      models.SignalKindLog,
							Value:     float64(stats.TotalCount),
							Timestamp: now,
						},
					},
				}
			}(source)
		}
	}
	wg.Wait()
	close(results)

	var (
		signals []models.Signal
		errs    int
	)
	for r := range results {
		if r.err != nil {
			errs++
			m.logger.Warn("signal collection failed", slog.Any("error", r.err))
			continue
		}
		if r.source != "" {
			m.excerptMu.Lock()
			m.logExcerpts[r.source] = r.excerpts
			m.excerptMu.Unlock()
		}
		for _, signal := range r.signals {
			metrics.ObserveSignal(string(signal.Kind))
			signals = append(signals, signal)
		}
	}
	return signals, errs
}

// recentExcerpts returns the latest error excerpts for the given sources,
// collected on the pass that flagged them.
func (m *Monitor) recentExcerpts(sourceIDs []string) []repo.LogExcerpt {
	m.excerptMu.Lock()
	defer m.excerptMu.Unlock()

	var out []repo.LogExcerpt
	for _, id := range sourceIDs {
		out = append(out, m.logExcerpts[id]...)
	}
	return out
}

// score judges each signal and folds the benign ones back into their
// baselines. Anomalous values never reach the baseline so an ongoing
// incident cannot teach the profile to accept it.
func (m *Monitor) score(signals []models.Signal) []models.Anomaly {
	var anomalies []models.Anomaly
	for _, signal := range signals {
		b, ok := m.baselines.Get(signal.SourceID, signal.Metric)
		outcome := m.scorer.Score(signal, b, ok)

		switch outcome.Verdict {
		case scorer.VerdictAnomalous:
			reasons := make([]string, 0, len(outcome.Anomaly.Reasons))
			for _, r := range outcome.Anomaly.Reasons {
				reasons = append(reasons, string(r))
			}
			metrics.ObserveAnomaly(reasons)
			anomalies = append(anomalies, outcome.Anomaly)
			m.logger.Info("anomaly detected",
				slog.String("source_id", signal.SourceID),
				slog.String("metric", signal.Metric),
				slog.Float64("value", signal.Value),
				slog.Float64("score", outcome.Anomaly.Score))
		default:
			m.baselines.Update(signal)
		}
	}
	return anomalies
}

// correlate routes anomalies into incidents and starts the analyze-alert
// pipeline for each newly opened one. The pipeline runs detached from the
// caller's cancellation: an API-triggered pass cancels its request context
// the moment the handler returns, and analysis and delivery must still get
// their one full attempt. Run drains the pipelines on shutdown.
func (m *Monitor) correlate(ctx context.Context, anomalies []models.Anomaly) {
	pipelineCtx := context.WithoutCancel(ctx)
	for _, anomaly := range anomalies {
		incident, opened := m.correlator.Ingest(anomaly)
		if !opened {
			continue
		}

		m.wg.Add(1)
		go func(id string) {
			defer m.wg.Done()
			m.processIncident(pipelineCtx, id)
		}(incident.ID)
	}
}

// processIncident runs the analyze-then-alert pipeline for one incident.
// Analysis failure is fail-open: the alert goes out without a root cause.
func (m *Monitor) processIncident(ctx context.Context, id string) {
	if m.analyzer.Enabled() && m.correlator.MarkAnalyzing(id) {
		incident, ok := m.correlator.Get(id)
		if !ok {
			return
		}

		start := time.Now()
		rc, err := m.analyzer.Analyze(ctx, incident, m.recentExcerpts(incident.SourceIDs))
		elapsed := time.Since(start)
		m.analysisLatency.Observe(elapsed)
		metrics.ObserveAnalysis(elapsed)

		if err != nil {
			m.logger.Warn("root-cause analysis unavailable, alerting without it",
				slog.String("incident_id", id),
				slog.Any("error", err))
		}
		m.correlator.AttachRootCause(id, rc)
	}

	incident, ok := m.correlator.Get(id)
	if !ok {
		return
	}
	for _, alert := range m.dispatcher.Dispatch(ctx, incident, incident.EscalationLevel) {
		metrics.ObserveAlert(alert.Channel, string(alert.Status))
	}
	// Alerted means dispatch policy has been applied, not that a channel
	// accepted delivery; severity filtering or routing may suppress every
	// channel, and the quiet-period sweep must still close the incident.
	m.correlator.MarkAlerted(id)
}

// escalate re-alerts incidents that stayed open past the escalation delay.
func (m *Monitor) escalate(ctx context.Context, now time.Time) {
	after := m.cfg.Alerting.EscalateAfter
	if after <= 0 {
		return
	}
	cutoff := now.Add(-after)

	for _, incident := range m.correlator.EscalationCandidates(cutoff, maxEscalationLevel) {
		level := m.correlator.Escalate(incident.ID)
		if level < 0 {
			continue
		}
		m.logger.Warn("incident escalated",
			slog.String("incident_id", incident.ID),
			slog.Int("level", level))

		updated, ok := m.correlator.Get(incident.ID)
		if !ok {
			continue
		}
		for _, alert := range m.dispatcher.Dispatch(ctx, updated, level) {
			metrics.ObserveAlert(alert.Channel, string(alert.Status))
		}
	}
}

// Status summarises loop health for the control API.
type Status struct {
	StartedAt       time.Time     `json:"started_at"`
	Uptime          string        `json:"uptime"`
	Ticks           int64         `json:"ticks"`
	LastTick        time.Time     `json:"last_tick"`
	Degraded        bool          `json:"degraded"`
	OpenIncidents   int           `json:"open_incidents"`
	LearnedSeries   int           `json:"learned_series"`
	AnalysisEnabled bool          `json:"analysis_enabled"`
	AnalysisP95     time.Duration `json:"analysis_p95_ns"`
	AlertChannels   int           `json:"alert_channels"`
}

// Status reports current loop health. Degraded means a backend or
// persistence failure occurred within the last few ticks.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	ticks := m.tickCount
	lastTick := m.lastTick
	degraded := false
	for _, ok := range m.tickResults {
		if !ok {
			degraded = true
			break
		}
	}
	m.mu.Unlock()

	return Status{
		StartedAt:       m.startedAt,
		Uptime:          time.Since(m.startedAt).Round(time.Second).String(),
		Ticks:           ticks,
		LastTick:        lastTick,
		Degraded:        degraded,
		OpenIncidents:   m.correlator.OpenCount(),
		LearnedSeries:   m.baselines.Len(),
		AnalysisEnabled: m.analyzer.Enabled(),
		AnalysisP95:     m.analysisLatency.Percentile(95),
		AlertChannels:   m.dispatcher.ChannelCount(),
	}
}

// Healthy reports whether the loop is running and not degraded.
func (m *Monitor) Healthy() bool {
	return !m.Status().Degraded
}

// ListIncidents returns incidents newest-first.
func (m *Monitor) ListIncidents(limit int) []models.Incident {
	return m.correlator.List(limit)
}

// GetIncident returns one incident by ID.
func (m *Monitor) GetIncident(id string) (models.Incident, bool) {
	return m.correlator.Get(id)
}

// ResolveIncident closes an incident regardless of quiet period.
func (m *Monitor) ResolveIncident(id string) bool {
	return m.correlator.Resolve(id, time.Now().UTC())
}

// ResetBaselines clears learned state for one source, or all sources when
// sourceID is empty. Returns the number of series removed.
func (m *Monitor) ResetBaselines(sourceID string) int {
	n := m.baselines.Reset(sourceID)
	if err := m.baselines.Persist(); err != nil {
		m.logger.Error("baseline persist failed after reset", slog.Any("error", err))
	}
	m.logger.Info("baselines reset",
		slog.String("source_id", sourceID),
		slog.Int("removed", n))
	return n
}

// TriggerAnalysis forces an out-of-band collect-score-correlate pass for one
// source (all sources when empty), bypassing the interval wait. Returns the
// number of signals collected and anomalies found.
func (m *Monitor) TriggerAnalysis(ctx context.Context, sourceID string) (int, int) {
	m.logger.Info("on-demand analysis cycle", slog.String("source_id", sourceID))

	signals, _ := m.collect(ctx, time.Now().UTC(), sourceID)
	anomalies := m.score(signals)
	m.correlate(ctx, anomalies)

	if err := m.baselines.Persist(); err != nil {
		m.logger.Error("baseline persist failed", slog.Any("error", err))
	}
	metrics.SetOpenIncidents(m.correlator.OpenCount())

	return len(signals), len(anomalies)
}

// TestAlert pushes a synthetic alert through every channel.
func (m *Monitor) TestAlert(ctx context.Context) []models.Alert {
	return m.dispatcher.SendTest(ctx)
}

// AlertHistory returns recent alert delivery records.
func (m *Monitor) AlertHistory(limit int) []models.Alert {
	return m.dispatcher.History(limit)
}
