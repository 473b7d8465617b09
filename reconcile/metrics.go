package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ironcert"

// Metrics exports reconcile outcomes to Prometheus. Every series is labelled
// with the target name given to WithMetrics. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec   // target, status (ok|error)
	regenerated *prometheus.CounterVec   // target, material (private_key|certificate)
	duration    *prometheus.HistogramVec // target
	notAfter    *prometheus.GaugeVec     // target
	lastSuccess *prometheus.GaugeVec     // target
}

// NewMetrics creates the reconcile metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconcile runs by outcome.",
		}, []string{"target", "status"}),

		regenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "regenerated_total",
			Help:      "Private keys and certificates generated because existing material did not match.",
		}, []string{"target", "material"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Reconcile run duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"target"}),

		notAfter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "certificate",
			Name:      "not_after_timestamp_seconds",
			Help:      "Expiry of the reconciled certificate as a Unix timestamp.",
		}, []string{"target"}),

		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "last_success_timestamp_seconds",
			Help:      "Time of the last successful reconcile run as a Unix timestamp.",
		}, []string{"target"}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.regenerated, m.duration, m.notAfter, m.lastSuccess} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordSuccess(target string, res *Result, notAfter, now time.Time, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(target, "ok").Inc()
	if res.PrivateKeyGenerated {
		m.regenerated.WithLabelValues(target, "private_key").Inc()
	}
	if res.CertificateGenerated {
		m.regenerated.WithLabelValues(target, "certificate").Inc()
	}
	m.duration.WithLabelValues(target).Observe(took.Seconds())
	m.notAfter.WithLabelValues(target).Set(float64(notAfter.Unix()))
	m.lastSuccess.WithLabelValues(target).Set(float64(now.Unix()))
}

func (m *Metrics) recordFailure(target string, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(target, "error").Inc()
	m.duration.WithLabelValues(target).Observe(took.Seconds())
}
