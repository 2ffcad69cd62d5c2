package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
)

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "ticks_total",
			Help:      "Total number of monitoring ticks, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "signals_total",
			Help:      "Total number of signals collected, partitioned by kind.",
		},
		[]string{"kind"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "anomalies_total",
			Help:      "Total number of anomalous signals, partitioned by reason.",
		},
		[]string{"reason"},
	)

	openIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "observeai",
			Name:      "open_incidents",
			Help:      "Number of incidents currently open.",
		},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observeai",
			Name:      "alerts_total",
			Help:      "Total number of alert deliveries, partitioned by channel and status.",
		},
		[]string{"channel", "status"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "observeai",
			Name:      "analysis_seconds",
			Help:      "Root-cause analysis call latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10},
		},
	)
)

// Register attaches the agent collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		signalsTotal,
		anomaliesTotal,
		openIncidents,
		alertsTotal,
		analysisDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTick records one monitoring pass and its outcome label.
func ObserveTick(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	ticksTotal.WithLabelValues(label).Inc()
}

// ObserveSignal counts a collected signal by kind.
func ObserveSignal(kind string) {
	signalsTotal.WithLabelValues(kind).Inc()
}

// ObserveAnomaly counts an anomalous signal once per contributing reason.
func ObserveAnomaly(reasons []string) {
	for _, reason := range reasons {
		anomaliesTotal.WithLabelValues(reason).Inc()
	}
}

// SetOpenIncidents publishes the current open incident count.
func SetOpenIncidents(n int) {
	openIncidents.Set(float64(n))
}

// ObserveAlert counts one alert delivery attempt.
func ObserveAlert(channel, status string) {
	alertsTotal.WithLabelValues(channel, status).Inc()
}

// ObserveAnalysis records a root-cause analysis call duration.
func ObserveAnalysis(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}
