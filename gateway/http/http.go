// Package http implements the quakestream HTTP and websocket surface.
package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/feed"
	"github.com/c360/quakestream/gateway"
	"github.com/c360/quakestream/health"
	"github.com/c360/quakestream/metric"
	"github.com/c360/quakestream/ratelimit"
)

// Route labels used for metrics and rate limiting
const (
	RouteHealth   = "/health"
	RouteEvents   = "/events"
	RouteAnalysis = "/analysis"
	RouteMetrics  = "/metrics"
	RouteRealtime = "/realtime"
)

// Dependencies are the collaborators the gateway serves from.
// Events and Analyzer are required; the rest are optional.
type Dependencies struct {
	Events   gateway.EventSource
	Analyzer gateway.Analyzer
	Health   gateway.HealthReporter
	Realtime gateway.Realtime

	// Threshold is the default minimum magnitude for GET /events
	Threshold float64

	Limiter        *ratelimit.Limiter
	Metrics        *metric.Metrics
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Gateway serves the HTTP surface
type Gateway struct {
	config gateway.Config
	deps   Dependencies
	logger *slog.Logger

	handler http.Handler

	mu        sync.Mutex
	server    *http.Server
	startTime time.Time

	running        atomic.Bool
	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// NewGateway creates a gateway from configuration and collaborators
func NewGateway(config gateway.Config, deps Dependencies) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}
	if deps.Events == nil || deps.Analyzer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"event source and analyzer are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config: config,
		deps:   deps,
		logger: logger.With("component", "gateway"),
	}
	g.handler = g.buildHandler()
	return g, nil
}

// Handler returns the routed handler with all middleware applied
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

func (g *Gateway) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET "+RouteHealth, g.route(RouteHealth, http.HandlerFunc(g.handleHealth)))
	mux.Handle("GET "+RouteEvents, g.route(RouteEvents, http.HandlerFunc(g.handleEvents)))
	mux.Handle("POST "+RouteAnalysis, g.route(RouteAnalysis, http.HandlerFunc(g.handleAnalysis)))

	if g.deps.MetricsHandler != nil {
		mux.Handle("GET "+RouteMetrics, g.route(RouteMetrics, g.deps.MetricsHandler))
	}
	if g.deps.Realtime != nil {
		mux.Handle("GET "+RouteRealtime, g.route(RouteRealtime, http.HandlerFunc(g.deps.Realtime.ServeWS)))
	}

	return g.withRequestID(g.withCORS(g.recoverPanics(mux)))
}

// route applies per-route instrumentation and throttling. Rejected
// requests are still counted with their 429 code.
func (g *Gateway) route(name string, h http.Handler) http.Handler {
	return g.deps.Metrics.InstrumentHandler(name, g.deps.Limiter.Middleware(name, h))
}

// ListenAndServe binds the configured address and serves until Shutdown.
// It returns nil after a graceful shutdown.
func (g *Gateway) ListenAndServe() error {
	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "ListenAndServe", "listen on "+g.config.Addr)
	}
	return g.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (g *Gateway) Serve(ln net.Listener) error {
	g.mu.Lock()
	if g.server != nil {
		g.mu.Unlock()
		_ = ln.Close()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Serve", "gateway already running")
	}
	server := &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: g.config.ReadHeaderTimeout,
		IdleTimeout:       g.config.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(g.logger.Handler(), slog.LevelWarn),
	}
	g.server = server
	g.startTime = time.Now()
	g.mu.Unlock()

	g.running.Store(true)
	defer g.running.Store(false)

	g.logger.Info("HTTP gateway listening", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapTransient(err, "Gateway", "Serve", "serve HTTP")
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until
// ctx expires. Hijacked websocket connections are not tracked here; the hub
// closes those.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	server := g.server
	g.mu.Unlock()

	if server == nil {
		return nil
	}

	start := time.Now()
	if err := server.Shutdown(ctx); err != nil {
		g.logger.Warn("HTTP gateway shutdown incomplete", "error", err, "duration", time.Since(start))
		return errors.WrapTransient(err, "Gateway", "Shutdown", "drain HTTP requests")
	}
	g.logger.Info("HTTP gateway stopped", "duration", time.Since(start))
	return nil
}

// Health reports whether the gateway is serving and its request totals
func (g *Gateway) Health() health.Status {
	g.mu.Lock()
	startTime := g.startTime
	g.mu.Unlock()

	total := g.requestsTotal.Load()
	failed := g.requestsFailed.Load()

	var status health.Status
	if g.running.Load() {
		status = health.NewHealthy("gateway", "serving")
	} else {
		status = health.NewDegraded("gateway", "not serving")
	}

	status = status.
		WithDetail("requests_total", total).
		WithDetail("requests_failed", failed)
	if !startTime.IsZero() {
		status = status.WithDetail("uptime", time.Since(startTime).Round(time.Second).String())
	}
	return status
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if g.deps.Health == nil {
		g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	g.writeJSON(w, http.StatusOK, g.deps.Health.Report())
}

// eventsResponse is the body of GET /events
type eventsResponse struct {
	Count  int          `json:"count"`
	Events []feed.Event `json:"events"`
}

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	threshold := g.deps.Threshold
	if raw := r.URL.Query().Get("min_magnitude"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			g.writeError(w, r, http.StatusBadRequest, "invalid min_magnitude",
				fmt.Sprintf("min_magnitude must be a number, got %q", raw))
			return
		}
		threshold = v
	}

	events, err := g.deps.Events.Fetch(r.Context())
	if err != nil {
		g.logger.Warn("On-demand feed fetch failed",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		g.writeFailure(w, r, err)
		return
	}

	kept := feed.FilterByMagnitude(events, threshold)
	g.writeJSON(w, http.StatusOK, eventsResponse{Count: len(kept), Events: kept})
}

func (g *Gateway) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	events, err := g.decodeAnalysisRequest(w, r)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}

	summary := g.deps.Analyzer.Summarize(r.Context(), events)
	g.writeJSON(w, http.StatusOK, summary)
}

// decodeAnalysisRequest reads {"events":[...]} within the size limit
func (g *Gateway) decodeAnalysisRequest(w http.ResponseWriter, r *http.Request) ([]feed.Event, error) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: limit is %d bytes", errors.ErrRequestTooLarge, tooLarge.Limit),
				"Gateway", "handleAnalysis", "read request body")
		}
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err),
			"Gateway", "handleAnalysis", "read request body")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, invalidRequest("body must be a JSON object")
	}

	raw, ok := fields["events"]
	if !ok || string(raw) == "null" {
		return nil, invalidRequest("events is required")
	}
	if len(raw) == 0 || raw[0] != '[' {
		return nil, invalidRequest("events must be an array")
	}

	var events []feed.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, invalidRequest("events contains an invalid entry")
	}
	return events, nil
}

func invalidRequest(detail string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidRequest, detail),
		"Gateway", "handleAnalysis", "decode request")
}
