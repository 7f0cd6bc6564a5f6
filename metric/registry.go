package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/quakestream/errors"
)

// MetricsRegistry owns the Prometheus registry for one process and the core
// quakestream metrics registered on it.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	mu                 sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry with core metrics and Go runtime collectors
func NewMetricsRegistry() *MetricsRegistry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &MetricsRegistry{
		prometheusRegistry: prometheusRegistry,
	}

	prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, err := NewMetrics(registry)
	if err != nil {
		// Core metric definitions are static; a conflict here is a programming error.
		panic(err)
	}
	registry.Metrics = metrics

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core quakestream metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register registers c and returns the collector that is now live in the registry.
// Registering a collector whose descriptors match an existing one returns the
// existing collector instead of failing, so components can be re-initialized
// within the same process.
func (r *MetricsRegistry) Register(c prometheus.Collector) (prometheus.Collector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.prometheusRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return alreadyRegErr.ExistingCollector, nil
		}
		return nil, errors.WrapInvalid(err, "MetricsRegistry", "Register", "register collector with prometheus")
	}

	return c, nil
}

// registerOrReuse registers c and returns the live collector typed as T.
func registerOrReuse[T prometheus.Collector](r *MetricsRegistry, name string, c T) (T, error) {
	live, err := r.Register(c)
	if err != nil {
		var zero T
		return zero, err
	}

	typed, ok := live.(T)
	if !ok {
		var zero T
		return zero, errors.WrapInvalid(
			fmt.Errorf("metric %s already registered with a different type %T", name, live),
			"MetricsRegistry", "registerOrReuse", "reuse existing collector")
	}
	return typed, nil
}
