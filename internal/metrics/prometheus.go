package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// prometheusMetrics wraps the Prometheus collectors registered for the
// command execution engine.
type prometheusMetrics struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec // label: outcome
	outboundLines   prometheus.Counter
	throttledTicks  prometheus.Counter
	accessDenials   prometheus.Counter
	requestsCounter *prometheus.CounterVec // label: table, mirrors SQL REQUESTS(NAME,COUNT)
}

var promMetrics *prometheusMetrics

// InitPrometheus registers the collectors under the given namespace. Safe
// to call once at daemon startup; a nil namespace defaults to "ircbot".
func InitPrometheus(namespace string) {
	if namespace == "" {
		namespace = "ircbot"
	}
	reg := prometheus.NewRegistry()

	pm := &prometheusMetrics{
		registry: reg,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Command channel jobs by outcome (ok, timeout, crashed, dropped).",
		}, []string{"outcome"}),
		outboundLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_lines_total",
			Help:      "Wire lines transmitted across all instances.",
		}),
		throttledTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flood_throttled_ticks_total",
			Help:      "Multiplexer ticks where the flood limiter suppressed transmission.",
		}),
		accessDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_denials_total",
			Help:      "Access-control operations that returned a denied or no-exist-invoker verdict.",
		}),
		requestsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_requests_total",
			Help:      "Mirrors the per-instance SQL REQUESTS(NAME,COUNT) hit counters.",
		}, []string{"table"}),
	}

	reg.MustRegister(pm.jobsTotal, pm.outboundLines, pm.throttledTicks, pm.accessDenials, pm.requestsCounter)
	promMetrics = pm
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format, or nil if InitPrometheus was never called.
func Handler() http.Handler {
	if promMetrics == nil {
		return nil
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// RecordRequestCounter mirrors a store.Request(table) call into Prometheus,
// per SPEC_FULL.md's supplemented feature of dual SQL+Prometheus counters.
func RecordRequestCounter(table string) {
	if promMetrics == nil {
		return
	}
	promMetrics.requestsCounter.WithLabelValues(table).Inc()
}

func recordJobOutcomeProm(outcome string) {
	if promMetrics == nil {
		return
	}
	promMetrics.jobsTotal.WithLabelValues(outcome).Inc()
}

func recordOutboundLinesProm(n int) {
	if promMetrics == nil || n <= 0 {
		return
	}
	promMetrics.outboundLines.Add(float64(n))
}

func recordThrottledTickProm() {
	if promMetrics == nil {
		return
	}
	promMetrics.throttledTicks.Inc()
}

func recordAccessDenialProm() {
	if promMetrics == nil {
		return
	}
	promMetrics.accessDenials.Inc()
}
