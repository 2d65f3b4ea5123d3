package checker

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "ckanwatch"

// Metrics is a prometheus.Collector for check cycles.
type Metrics struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	events        *prometheus.CounterVec
	probes        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	datasets      prometheus.Gauge
	distributions prometheus.Gauge
	missing       prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

// NewMetrics returns a new Metrics collector. Register it on a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Check cycles by final status.",
			}, []string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a check cycle.",
				Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600},
			},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_total",
				Help:      "Change events detected, by kind.",
			}, []string{"kind"},
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "probe_results_total",
				Help:      "Distribution size probes by outcome.",
			}, []string{"outcome"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_total",
				Help:      "Broadcast messages by outcome.",
			}, []string{"outcome"},
		),
		datasets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "catalog_datasets",
				Help:      "Datasets in the latest snapshot.",
			},
		),
		distributions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "catalog_distributions",
				Help:      "Distributions in the latest snapshot.",
			},
		),
		missing: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "missing_datasets",
				Help:      "Datasets currently in the missing registry.",
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful cycle.",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runs, m.runDuration, m.events, m.probes, m.notifications,
		m.datasets, m.distributions, m.missing, m.lastSuccess,
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// The observe helpers accept a nil receiver so the service runs without
// metrics.

func (m *Metrics) observeRun(status string, seconds float64, finishedUnix int64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(seconds)
	if status == RunStatusOK {
		m.lastSuccess.Set(float64(finishedUnix))
	}
}

func (m *Metrics) observeSnapshot(datasets, distributions, missing int) {
	if m == nil {
		return
	}
	m.datasets.Set(float64(datasets))
	m.distributions.Set(float64(distributions))
	m.missing.Set(float64(missing))
}

func (m *Metrics) observeEvents(res DiffResult) {
	if m == nil {
		return
	}
	m.events.WithLabelValues("dataset_created").Add(float64(len(res.DatasetsCreated)))
	m.events.WithLabelValues("distribution_created").Add(float64(len(res.DistributionsCreated)))
	m.events.WithLabelValues("datapoint_growth").Add(float64(len(res.Growth)))
}

func (m *Metrics) observeProbes(measured, failed int) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues("ok").Add(float64(measured))
	m.probes.WithLabelValues("error").Add(float64(failed))
}

func (m *Metrics) observeNotification(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.notifications.WithLabelValues("sent").Inc()
	} else {
		m.notifications.WithLabelValues("failed").Inc()
	}
}
