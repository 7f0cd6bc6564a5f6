package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus exposition handler for the registry
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(
		r.prometheusRegistry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          r.prometheusRegistry,
		},
	)
}

// InstrumentHandler wraps h so that request counts and latency are recorded
// under the given route label. The promhttp delegator keeps http.Hijacker,
// so websocket upgrades pass through unchanged.
func (m *Metrics) InstrumentHandler(route string, h http.Handler) http.Handler {
	if m == nil {
		return h
	}

	labels := prometheus.Labels{"route": route}
	counter := m.HTTPRequests.MustCurryWith(labels)
	duration := m.HTTPDuration.MustCurryWith(labels)

	return promhttp.InstrumentHandlerDuration(duration,
		promhttp.InstrumentHandlerCounter(counter, h))
}
