package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build isolated instances.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	ReadingsIngested prometheus.Counter
	ReadingsRejected prometheus.Counter
	IngestDropped    prometheus.Counter
	AnomalyChecks    prometheus.Counter
	Alerts           *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry:  reg,
		namespace: namespace,
		ReadingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Readings accepted and persisted",
		}),
		ReadingsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Readings dropped for unregistered sensors or store errors",
		}),
		IngestDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_dropped_total",
			Help:      "Payloads dropped because the ingest channel was full",
		}),
		AnomalyChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_checks_total",
			Help:      "Explicit anomaly detections run",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts stored, by alert type",
		}, []string{"alert_type"}),
	}
	reg.MustRegister(m.ReadingsIngested, m.ReadingsRejected, m.IngestDropped, m.AnomalyChecks, m.Alerts)
	return m
}

// RegisterUnacknowledgedGauge exposes the alert backlog as a gauge computed
// on scrape from the store.
func (m *Metrics) RegisterUnacknowledgedGauge(fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "alerts_unacknowledged",
		Help:      "Alerts not yet acknowledged",
	}, fn))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
