package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/quakestream/config"
	"github.com/c360/quakestream/dedup"
	"github.com/c360/quakestream/enrich"
	"github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/feed"
	"github.com/c360/quakestream/gateway"
	gatewayhttp "github.com/c360/quakestream/gateway/http"
	"github.com/c360/quakestream/health"
	"github.com/c360/quakestream/hub"
	"github.com/c360/quakestream/metric"
	"github.com/c360/quakestream/poller"
	"github.com/c360/quakestream/ratelimit"
)

// app owns every long-lived component. Nothing is global; main builds one
// app and runs it until a signal arrives.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	seen     *dedup.Store
	fetcher  *feed.Fetcher
	enricher *enrich.Client
	hub      *hub.Hub
	poller   *poller.Poller
	limiter  *ratelimit.Limiter
	monitor  *health.Monitor
	gateway  *gatewayhttp.Gateway
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.registry = metric.NewMetricsRegistry()
	a.metrics = a.registry.CoreMetrics()

	a.seen = dedup.NewWithConfig(dedup.Config{
		MaxEntries: cfg.Dedup.MaxEntries,
		TTL:        cfg.Dedup.TTL,
	})

	a.fetcher = feed.NewFetcher(feed.Config{
		URL:     cfg.Feed.URL,
		Timeout: cfg.Feed.Timeout,
		Logger:  logger,
	})

	backend, err := newBackend(cfg.Enrich)
	if err != nil {
		return nil, fmt.Errorf("create enrichment backend: %w", err)
	}
	retryCfg := errors.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Enrich.Retries
	a.enricher = enrich.NewClient(enrich.Config{
		Backend:        backend,
		Retry:          retryCfg,
		AttemptTimeout: cfg.Enrich.Timeout,
		Metrics:        a.metrics,
		Logger:         logger,
	})

	gwCfg := gateway.Config{
		Addr:           cfg.HTTP.Addr,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		MaxRequestSize: gateway.DefaultMaxRequestSize,
	}

	a.hub = hub.New(hub.Config{
		SendTimeout:  cfg.Hub.SendTimeout,
		PingInterval: cfg.Hub.PingInterval,
		PongWait:     cfg.Hub.PongWait,
		CheckOrigin:  originChecker(gwCfg),
		Metrics:      a.metrics,
		Logger:       logger,
	})

	// A nil Summarizer keeps the poller from calling the aggregate-only
	// client on every tick.
	var summarizer poller.Summarizer
	if a.enricher.Enabled() {
		summarizer = a.enricher
	}
	a.poller, err = poller.New(poller.Config{
		Fetcher:     a.fetcher,
		Dedup:       a.seen,
		Broadcaster: a.hub,
		Summarizer:  summarizer,
		Threshold:   cfg.Feed.MinMagnitude,
		Interval:    cfg.Feed.PollInterval,
		Metrics:     a.metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create poller: %w", err)
	}

	a.limiter = ratelimit.New(ratelimit.Config{
		Limit:   cfg.RateLimit.PerWindow,
		Window:  cfg.RateLimit.Window,
		Metrics: a.metrics,
		Logger:  logger,
	})

	a.monitor = health.NewMonitor()

	a.gateway, err = gatewayhttp.NewGateway(gwCfg, gatewayhttp.Dependencies{
		Events:         a.fetcher,
		Analyzer:       a.enricher,
		Health:         a.monitor,
		Realtime:       a.hub,
		Threshold:      cfg.Feed.MinMagnitude,
		Limiter:        a.limiter,
		Metrics:        a.metrics,
		MetricsHandler: a.registry.Handler(),
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	a.registerHealthChecks()
	return a, nil
}

// newBackend selects the enrichment backend. It returns nil when
// enrichment is disabled or has no endpoint or model.
func newBackend(cfg config.EnrichConfig) (enrich.Backend, error) {
	if !cfg.Active() {
		return nil, nil
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return enrich.NewOpenAIBackend(enrich.OpenAIConfig{
			BaseURL: cfg.URL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		}), nil
	default:
		url := cfg.URL
		if url == "" {
			url = enrich.HuggingFaceURL(cfg.Model)
		}
		backend, err := enrich.NewHTTPBackend(enrich.HTTPConfig{
			URL:    url,
			APIKey: cfg.APIKey,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
}

// originChecker limits websocket upgrades to the CORS allow-list. Requests
// without an Origin header come from non-browser clients and are accepted.
func originChecker(cfg gateway.Config) func(*http.Request) bool {
	if len(cfg.CORSOrigins) == 0 || cfg.AllowsOrigin("*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || cfg.AllowsOrigin(origin)
	}
}

func (a *app) registerHealthChecks() {
	a.monitor.Register("poller", a.poller.Health)
	a.monitor.Register("gateway", a.gateway.Health)

	a.monitor.Register("hub", func() health.Status {
		return health.NewHealthy("hub", "accepting subscribers").
			WithDetail("subscribers", a.hub.Len())
	})

	a.monitor.Register("dedup", func() health.Status {
		cfg := a.seen.Config()
		return health.NewHealthy("dedup", "tracking event ids").
			WithDetail("size", a.seen.Len()).
			WithDetail("bounded", cfg.Bounded())
	})

	a.monitor.Register("enrichment", func() health.Status {
		if !a.enricher.Enabled() {
			return health.NewHealthy("enrichment", "disabled")
		}
		return health.NewHealthy("enrichment", "configured").
			WithDetail("backend", a.enricher.Backend())
	})
}

// run starts the background work and the HTTP server and blocks until ctx
// is done or a component fails. Shutdown stops the poller first, then drops
// subscribers, then drains the HTTP server.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.hub.Start(gctx)
	if err := a.poller.Start(gctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	g.Go(a.gateway.ListenAndServe)
	g.Go(a.poller.Wait)
	g.Go(func() error {
		a.limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	a.logger.Info("quakestream started",
		"addr", a.cfg.HTTP.Addr,
		"feed", a.fetcher.URL(),
		"threshold", a.cfg.Feed.MinMagnitude,
		"interval", a.cfg.Feed.PollInterval,
		"enrichment", a.enricher.Backend())

	return g.Wait()
}

func (a *app) shutdown() error {
	timeout := a.cfg.HTTP.ShutdownTimeout
	a.logger.Info("Shutting down", "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error

	start := time.Now()
	if err := a.poller.Stop(timeout); err != nil {
		errs = append(errs, err)
	}

	a.hub.Close()

	if err := a.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("Shutdown sequence finished", "duration", time.Since(start))
	return stderrors.Join(errs...)
}
