// Package metric provides the Prometheus metrics for quakestream.
//
// A MetricsRegistry owns a private prometheus.Registry with the Go runtime and
// process collectors plus the service Metrics: HTTP request counters and
// latency, realtime subscriber and broadcast counters, feed poll outcomes,
// dedup size, and enrichment call results.
//
// Registration is idempotent. NewMetrics on a registry that already holds the
// collectors binds to the existing ones instead of failing, which keeps tests
// and component restarts within one process simple.
//
// # Usage
//
//	registry := metric.NewMetricsRegistry()
//	m := registry.CoreMetrics()
//
//	mux.Handle("/metrics", registry.Handler())
//	mux.Handle("/events", m.InstrumentHandler("/events", eventsHandler))
//
//	m.RecordPoll(metric.ResultSuccess, time.Since(start))
//
// Every Record method is a no-op on a nil *Metrics so components can run
// without metrics in tests.
package metric
