package gateway

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the ingress-level Prometheus collectors. These are
// ambient observability, not anything the chat/tool pipeline branches on.
type metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitDenials *prometheus.CounterVec
	admissionDenials *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	activeLimiters   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archestra_gateway",
			Name:      "http_requests_total",
			Help:      "Total HTTP ingress requests by provider and status.",
		}, []string{"provider", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "archestra_gateway",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP ingress request latency by provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		rateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archestra_gateway",
			Name:      "rate_limit_denials_total",
			Help:      "Requests rejected by the per-agent ingress rate limiter.",
		}, []string{"agent_id"}),
		admissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archestra_gateway",
			Name:      "usage_admission_denials_total",
			Help:      "Requests rejected by the usage Guard before reaching a provider.",
		}, []string{"agent_id", "model"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archestra_gateway",
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched by the agentic tool loop, by outcome.",
		}, []string{"tool", "outcome"}),
		activeLimiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "archestra_gateway",
			Name:      "rate_limiter_pool_size",
			Help:      "Number of per-agent rate limiters currently held in memory.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.requestDuration, m.rateLimitDenials,
			m.admissionDenials, m.toolCallsTotal, m.activeLimiters)
	}
	return m
}
