package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tfd_reports"

// Metrics holds the scheduler collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	sweeps      prometheus.Counter
	sweepDue    prometheus.Gauge
	armed       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Report executions by trigger and final status.",
		}, []string{"trigger", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Time spent generating and delivering a report.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"report_type"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Pending sweep passes.",
		}),
		sweepDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_due_schedules",
			Help:      "Schedules found due by the last sweep.",
		}),
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "armed_timers",
			Help:      "In-process timers currently armed.",
		}),
	}

	m.registry.MustRegister(
		m.runs, m.runDuration, m.sweeps, m.sweepDue, m.armed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRun(trigger, reportType, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(trigger, status).Inc()
	m.runDuration.WithLabelValues(reportType).Observe(took.Seconds())
}

func (m *Metrics) ObserveSweep(due int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepDue.Set(float64(due))
}

func (m *Metrics) SetArmed(n int) {
	if m == nil {
		return
	}
	m.armed.Set(float64(n))
}
