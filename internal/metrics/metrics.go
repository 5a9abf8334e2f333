package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	verifications  *prometheus.CounterVec
	rateLimit      *prometheus.CounterVec
	impersonations *prometheus.CounterVec
	ledgerEntries  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_token_verifications_total",
			Help: "Token verifications by token kind and result.",
		}, []string{"kind", "result"}),
		rateLimit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_rate_limit_decisions_total",
			Help: "Rate limiter decisions by tier and result.",
		}, []string{"tier", "result"}),
		impersonations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_impersonations_total",
			Help: "Impersonation sessions started and ended.",
		}, []string{"action"}),
		ledgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "access_ledger_entries",
			Help: "Token ledger entries after the last sweep.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.verifications,
		m.rateLimit,
		m.impersonations,
		m.ledgerEntries,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TokenVerified(kind string, ok bool) {
	m.verifications.WithLabelValues(kind, result(ok, "valid", "invalid")).Inc()
}

func (m *Metrics) RateLimitDecision(tier string, allowed bool) {
	m.rateLimit.WithLabelValues(tier, result(allowed, "allowed", "denied")).Inc()
}

func (m *Metrics) Impersonation(action string) {
	m.impersonations.WithLabelValues(action).Inc()
}

func (m *Metrics) LedgerSize(n int) {
	m.ledgerEntries.Set(float64(n))
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
