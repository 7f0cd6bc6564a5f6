package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/quakestream/enrich"
	pkgerrors "github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/feed"
	"github.com/c360/quakestream/gateway"
	"github.com/c360/quakestream/health"
	"github.com/c360/quakestream/hub"
	"github.com/c360/quakestream/metric"
	"github.com/c360/quakestream/ratelimit"
	qtestutil "github.com/c360/quakestream/testutil"
)

type panicAnalyzer struct{}

func (panicAnalyzer) Summarize(context.Context, []feed.Event) enrich.Summary {
	panic("boom")
}

type fixture struct {
	gw      *Gateway
	srv     *httptest.Server
	feed    *qtestutil.FeedServer
	hub     *hub.Hub
	metrics *metric.Metrics
	monitor *health.Monitor
}

func newFixture(t *testing.T, mutate func(cfg *gateway.Config, deps *Dependencies)) *fixture {
	t.Helper()

	feedSrv := qtestutil.NewFeedServer(t, qtestutil.FeatureCollection(
		qtestutil.NewQuake("us1", 3.0),
		qtestutil.NewQuake("us2", 4.5),
		qtestutil.NewQuake("us3", 5.2),
	))

	registry := metric.NewMetricsRegistry()
	m, err := metric.NewMetrics(registry)
	require.NoError(t, err)

	h := hub.New(hub.Config{Metrics: m})
	t.Cleanup(h.Close)

	monitor := health.NewMonitor()
	monitor.Update("dedup", health.NewHealthy("dedup", "0 ids"))

	cfg := gateway.DefaultConfig()
	deps := Dependencies{
		Events:         feed.NewFetcher(feed.Config{URL: feedSrv.URL, Timeout: 2 * time.Second}),
		Analyzer:       enrich.NewClient(enrich.Config{}),
		Health:         monitor,
		Realtime:       h,
		Threshold:      4.0,
		Metrics:        m,
		MetricsHandler: registry.Handler(),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	gw, err := NewGateway(cfg, deps)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	return &fixture{gw: gw, srv: srv, feed: feedSrv, hub: h, metrics: m, monitor: monitor}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, header map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decodeError(t *testing.T, body []byte) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e
}

func TestGetOrGenerateRequestID(t *testing.T) {
	tests := []struct {
		name          string
		headerValue   string
		shouldExtract bool
	}{
		{"extract existing request ID", "existing-request-id-12345", true},
		{"extract UUID-style request ID", "550e8400-e29b-41d4-a716-446655440000", true},
		{"generate when header missing", "", false},
		{"replace id with spaces", "has spaces in it", false},
		{"replace oversized id", strings.Repeat("x", maxRequestIDLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.headerValue != "" {
				req.Header.Set(RequestIDHeader, tt.headerValue)
			}

			requestID := getOrGenerateRequestID(req)
			if tt.shouldExtract {
				assert.Equal(t, tt.headerValue, requestID)
				return
			}
			assert.NotEmpty(t, requestID)
			assert.NotEqual(t, tt.headerValue, requestID)
		})
	}
}

func TestGetOrGenerateRequestID_Uniqueness(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := getOrGenerateRequestID(req)
		assert.False(t, ids[id], "duplicate request ID %s", id)
		ids[id] = true
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"nil", nil, http.StatusInternalServerError},
		{
			"feed unavailable maps to 502",
			pkgerrors.WrapTransient(pkgerrors.ErrFeedUnavailable, "Fetcher", "Fetch", "request feed"),
			http.StatusBadGateway,
		},
		{
			"malformed feed maps to 502",
			pkgerrors.WrapInvalid(pkgerrors.ErrFeedMalformed, "feed", "Parse", "decode feed"),
			http.StatusBadGateway,
		},
		{
			"too large maps to 413",
			pkgerrors.WrapInvalid(pkgerrors.ErrRequestTooLarge, "Gateway", "handleAnalysis", "read body"),
			http.StatusRequestEntityTooLarge,
		},
		{
			"invalid maps to 400",
			pkgerrors.WrapInvalid(pkgerrors.ErrInvalidRequest, "Gateway", "handleAnalysis", "decode"),
			http.StatusBadRequest,
		},
		{
			"timeout maps to 504",
			pkgerrors.WrapTransient(fmt.Errorf("timeout waiting"), "x", "y", "call"),
			http.StatusGatewayTimeout,
		},
		{
			"transient maps to 503",
			pkgerrors.WrapTransient(pkgerrors.ErrConnectionLost, "x", "y", "call"),
			http.StatusServiceUnavailable,
		},
		{
			"fatal maps to 500",
			pkgerrors.WrapFatal(fmt.Errorf("corrupt"), "x", "y", "call"),
			http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedStatus, mapErrorToHTTPStatus(tt.err))
		})
	}
}

func TestClientDetail(t *testing.T) {
	err := pkgerrors.WrapTransient(
		fmt.Errorf("%w: Get \"https://user:pw@feed.example.com/x\": dial tcp 10.1.2.3:443", pkgerrors.ErrFeedUnavailable),
		"Fetcher", "Fetch", "request feed")

	detail := clientDetail(err)
	assert.True(t, strings.HasPrefix(detail, "feed unavailable"), detail)
	assert.NotContains(t, detail, "Fetcher.Fetch")
	assert.NotContains(t, detail, "feed.example.com")
	assert.NotContains(t, detail, "10.1.2.3")

	assert.Empty(t, clientDetail(pkgerrors.WrapFatal(fmt.Errorf("secret internals"), "x", "y", "z")))
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(gateway.Config{}, Dependencies{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))

	_, err = NewGateway(gateway.DefaultConfig(), Dependencies{Events: feed.NewFetcher(feed.Config{})})
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrMissingConfig)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	var report health.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, health.StatusHealthy, report.Overall)
	assert.Contains(t, report.Components, "dedup")
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodGet, "/health", nil, map[string]string{RequestIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}

func TestEventsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/events", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got eventsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 2, got.Count)
	require.Len(t, got.Events, 2)
	assert.Equal(t, "us2", got.Events[0].ID)
	assert.Equal(t, "us3", got.Events[1].ID)
}

func TestEventsEndpoint_ThresholdOverride(t *testing.T) {
	f := newFixture(t, nil)

	_, body := f.do(t, http.MethodGet, "/events?min_magnitude=5", nil, nil)
	var got eventsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 1, got.Count)

	_, body = f.do(t, http.MethodGet, "/events?min_magnitude=9.9", nil, nil)
	assert.JSONEq(t, `{"count":0,"events":[]}`, string(body))
}

func TestEventsEndpoint_BadThreshold(t *testing.T) {
	f := newFixture(t, nil)

	for _, q := range []string{"abc", "NaN", "Inf"} {
		resp, body := f.do(t, http.MethodGet, "/events?min_magnitude="+q, nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.Equal(t, "invalid min_magnitude", decodeError(t, body).Error)
	}
	assert.Equal(t, 0, f.feed.Hits(), "feed not fetched for a bad parameter")
}

func TestEventsEndpoint_UpstreamFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.feed.SetStatus(http.StatusServiceUnavailable)

	resp, body := f.do(t, http.MethodGet, "/events", nil, nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	e := decodeError(t, body)
	assert.Equal(t, "upstream feed unavailable", e.Error)
	assert.Contains(t, e.Details, "503")
	assert.NotContains(t, e.Details, strings.TrimPrefix(f.feed.URL, "http://"))
}

func TestEventsEndpoint_MalformedUpstream(t *testing.T) {
	f := newFixture(t, nil)
	f.feed.SetBody([]byte(`<html>`))

	resp, _ := f.do(t, http.MethodGet, "/events", nil, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestAnalysisEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	body := []byte(`{"events":[
		{"id":"a","magnitude":3.0,"place":"x","time":1,"coordinates":[1,2,3]},
		{"id":"b","magnitude":4.5,"place":"y","time":2,"coordinates":[1,2]},
		{"id":"c","magnitude":2.6,"place":"z","time":3,"coordinates":[]}
	]}`)
	resp, out := f.do(t, http.MethodPost, "/analysis", body, map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(out))

	var summary enrich.Summary
	require.NoError(t, json.Unmarshal(out, &summary))
	assert.Equal(t, 3, summary.Count)
	assert.InDelta(t, 3.37, summary.AverageMagnitude, 0.001)
	assert.Equal(t, 4.5, summary.MaxMagnitude)
	assert.False(t, summary.HasNarrative())
	assert.NotContains(t, string(out), "narrative")
}

func TestAnalysisEndpoint_EmptyBatch(t *testing.T) {
	f := newFixture(t, nil)

	resp, out := f.do(t, http.MethodPost, "/analysis", []byte(`{"events":[]}`), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"count":0,"average_magnitude":0,"max_magnitude":0}`, string(out))
}

func TestAnalysisEndpoint_BadRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"not json", `{"events":`, "JSON object"},
		{"json array body", `[1,2]`, "JSON object"},
		{"missing events", `{"items":[]}`, "events is required"},
		{"null events", `{"events":null}`, "events is required"},
		{"events not array", `{"events":{"id":"a"}}`, "events must be an array"},
		{"events string", `{"events":"a,b"}`, "events must be an array"},
		{"bad entry", `{"events":[{"magnitude":"big"}]}`, "invalid entry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := f.do(t, http.MethodPost, "/analysis", []byte(tt.body), nil)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			e := decodeError(t, out)
			assert.Equal(t, "invalid request", e.Error)
			assert.Contains(t, e.Details, tt.detail)
		})
	}
}

func TestAnalysisEndpoint_TooLarge(t *testing.T) {
	f := newFixture(t, func(cfg *gateway.Config, _ *Dependencies) {
		cfg.MaxRequestSize = 64
	})

	body := []byte(`{"events":[` + strings.Repeat(`{"id":"x","magnitude":1},`, 10) + `{"id":"y","magnitude":1}]}`)
	resp, out := f.do(t, http.MethodPost, "/analysis", body, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "request body too large", decodeError(t, out).Error)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodGet, "/analysis", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/events", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(_ *gateway.Config, deps *Dependencies) {
		deps.Limiter = ratelimit.New(ratelimit.Config{Limit: 2, Window: time.Minute, Metrics: deps.Metrics})
	})

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodGet, "/health", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", decodeError(t, body).Error)

	// Routes are limited independently.
	resp, _ = f.do(t, http.MethodGet, "/events", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues(RouteHealth, "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues(RouteHealth, "429")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RateLimited.WithLabelValues(RouteHealth)))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(cfg *gateway.Config, _ *Dependencies) {
		cfg.CORSOrigins = []string{"https://quakes.example.com"}
	})

	resp, _ := f.do(t, http.MethodOptions, "/analysis", nil, map[string]string{
		"Origin":                        "https://quakes.example.com",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://quakes.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")

	resp, _ = f.do(t, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://evil.example.com"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	f.do(t, http.MethodGet, "/health", nil, nil)
	resp, body := f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "quakestream_http_requests_total")
	assert.Contains(t, string(body), `route="/health"`)
}

func TestRealtimeEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + RouteRealtime
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	qtestutil.WaitFor(t, 2*time.Second, func() bool { return f.hub.Len() == 1 }, "subscriber registered")

	n, err := f.hub.Broadcast(context.Background(), map[string]any{"type": "earthquakes", "count": 0})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "earthquakes")

	require.NoError(t, conn.Close())
	qtestutil.WaitFor(t, 2*time.Second, func() bool { return f.hub.Len() == 0 }, "subscriber unregistered")
}

func TestPanicRecovered(t *testing.T) {
	f := newFixture(t, func(_ *gateway.Config, deps *Dependencies) {
		deps.Analyzer = panicAnalyzer{}
	})

	resp, body := f.do(t, http.MethodPost, "/analysis", []byte(`{"events":[]}`), nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server error", decodeError(t, body).Error)

	resp, _ = f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "server keeps serving")
}

func TestServeAndShutdown(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, health.StatusDegraded, f.gw.Health().Status)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.gw.Serve(ln) }()

	qtestutil.WaitFor(t, 2*time.Second, func() bool { return f.gw.Health().IsHealthy() }, "gateway serving")

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A second Serve is rejected.
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, f.gw.Serve(ln2), pkgerrors.ErrAlreadyStarted)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.gw.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	status := f.gw.Health()
	assert.Equal(t, health.StatusDegraded, status.Status)
	assert.NotZero(t, status.Details["requests_total"])
}

func TestShutdownBeforeServe(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.gw.Shutdown(context.Background()))
}
