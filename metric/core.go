package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quakestream"

// Poll and enrichment outcomes used as label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics contains the quakestream service metrics.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP surface
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
	SubscribersLive prometheus.Gauge

	// Broadcast hub
	Connections       prometheus.Counter
	Disconnections    *prometheus.CounterVec
	Broadcasts        prometheus.Counter
	BroadcastDuration prometheus.Histogram
	MessagesSent      prometheus.Counter

	// Feed poller
	Polls        *prometheus.CounterVec
	PollEvents   *prometheus.CounterVec
	PollDuration prometheus.Histogram
	DedupSize    prometheus.Gauge

	// Enrichment
	EnrichmentCalls    *prometheus.CounterVec
	EnrichmentDuration *prometheus.HistogramVec
}

// NewMetrics creates the service metrics and registers them with registry.
// Calling it again on the same registry returns metrics bound to the
// collectors that are already registered.
func NewMetrics(registry *MetricsRegistry) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HTTPRequests, err = registerOrReuse(registry, "http_requests_total", prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)); err != nil {
		return nil, err
	}

	if m.HTTPDuration, err = registerOrReuse(registry, "http_request_duration_seconds", prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)); err != nil {
		return nil, err
	}

	if m.RateLimited, err = registerOrReuse(registry, "http_rate_limited_total", prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)); err != nil {
		return nil, err
	}

	if m.SubscribersLive, err = registerOrReuse(registry, "subscribers_active", prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Number of currently connected realtime subscribers",
		},
	)); err != nil {
		return nil, err
	}

	if m.Connections, err = registerOrReuse(registry, "hub_connections_total", prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections_total",
			Help:      "Total subscriber connections (including disconnected)",
		},
	)); err != nil {
		return nil, err
	}

	if m.Disconnections, err = registerOrReuse(registry, "hub_disconnections_total", prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "disconnections_total",
			Help:      "Total subscriber disconnections by reason",
		},
		[]string{"reason"},
	)); err != nil {
		return nil, err
	}

	if m.Broadcasts, err = registerOrReuse(registry, "hub_broadcasts_total", prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Total broadcast passes",
		},
	)); err != nil {
		return nil, err
	}

	if m.BroadcastDuration, err = registerOrReuse(registry, "hub_broadcast_duration_seconds", prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to deliver one message to all subscribers",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		},
	)); err != nil {
		return nil, err
	}

	if m.MessagesSent, err = registerOrReuse(registry, "hub_messages_sent_total", prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_sent_total",
			Help:      "Total messages delivered to subscribers",
		},
	)); err != nil {
		return nil, err
	}

	if m.Polls, err = registerOrReuse(registry, "poll_total", prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "total",
			Help:      "Feed poll ticks by result",
		},
		[]string{"result"},
	)); err != nil {
		return nil, err
	}

	if m.PollEvents, err = registerOrReuse(registry, "poll_events_total", prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "events_total",
			Help:      "Feed events by pipeline stage (fetched, kept, new)",
		},
		[]string{"stage"},
	)); err != nil {
		return nil, err
	}

	if m.PollDuration, err = registerOrReuse(registry, "poll_duration_seconds", prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "duration_seconds",
			Help:      "Duration of one poll tick",
			Buckets:   prometheus.DefBuckets,
		},
	)); err != nil {
		return nil, err
	}

	if m.DedupSize, err = registerOrReuse(registry, "dedup_entries", prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "entries",
			Help:      "Event identifiers currently held by the dedup store",
		},
	)); err != nil {
		return nil, err
	}

	if m.EnrichmentCalls, err = registerOrReuse(registry, "enrichment_calls_total", prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "calls_total",
			Help:      "Remote model call attempts by result",
		},
		[]string{"result"},
	)); err != nil {
		return nil, err
	}

	if m.EnrichmentDuration, err = registerOrReuse(registry, "enrichment_call_duration_seconds", prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "call_duration_seconds",
			Help:      "Remote model call attempt latency by result",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"result"},
	)); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRateLimited increments the rate limiter rejection counter
func (m *Metrics) RecordRateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(route).Inc()
}

// RecordSubscribers sets the active subscriber gauge
func (m *Metrics) RecordSubscribers(count int) {
	if m == nil {
		return
	}
	m.SubscribersLive.Set(float64(count))
}

// RecordConnection increments the connection counter
func (m *Metrics) RecordConnection() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

// RecordDisconnection increments the disconnection counter for reason
func (m *Metrics) RecordDisconnection(reason string) {
	if m == nil {
		return
	}
	m.Disconnections.WithLabelValues(reason).Inc()
}

// RecordBroadcast records one broadcast pass and the number of deliveries
func (m *Metrics) RecordBroadcast(delivered int, duration time.Duration) {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
	m.MessagesSent.Add(float64(delivered))
	m.BroadcastDuration.Observe(duration.Seconds())
}

// RecordPoll records the outcome and duration of one poll tick
func (m *Metrics) RecordPoll(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result).Inc()
	m.PollDuration.Observe(duration.Seconds())
}

// RecordPollEvents adds count events for a pipeline stage
func (m *Metrics) RecordPollEvents(stage string, count int) {
	if m == nil {
		return
	}
	m.PollEvents.WithLabelValues(stage).Add(float64(count))
}

// RecordDedupSize sets the dedup store size gauge
func (m *Metrics) RecordDedupSize(size int) {
	if m == nil {
		return
	}
	m.DedupSize.Set(float64(size))
}

// RecordEnrichmentCall records one remote model call attempt
func (m *Metrics) RecordEnrichmentCall(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EnrichmentCalls.WithLabelValues(result).Inc()
	m.EnrichmentDuration.WithLabelValues(result).Observe(duration.Seconds())
}
