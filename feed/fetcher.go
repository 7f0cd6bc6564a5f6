package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/c360/quakestream/errors"
)

// DefaultURL is the USGS summary feed of all earthquakes in the past hour.
const DefaultURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson"

const (
	defaultTimeout = 10 * time.Second
	maxFeedBytes   = 16 << 20
)

// Config configures a Fetcher
type Config struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// Fetcher retrieves and parses the earthquake feed
type Fetcher struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. An empty URL selects DefaultURL.
func NewFetcher(cfg Config) *Fetcher {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = newHTTPClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger.With("component", "feed"),
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}

// URL returns the feed address
func (f *Fetcher) URL() string {
	return f.url
}

// Fetch retrieves the feed once, bounded by the configured timeout.
// Transport failures and non-2xx responses wrap ErrFeedUnavailable;
// undecodable bodies wrap ErrFeedMalformed.
func (f *Fetcher) Fetch(ctx context.Context) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, errors.WrapFatal(err, "Fetcher", "Fetch", "build request")
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrFeedUnavailable, err),
			"Fetcher", "Fetch", "request feed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: status %d", errors.ErrFeedUnavailable, resp.StatusCode),
			"Fetcher", "Fetch", "request feed")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrFeedUnavailable, err),
			"Fetcher", "Fetch", "read body")
	}

	events, err := Parse(body)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("Feed fetched",
		"events", len(events),
		"bytes", len(body),
		"duration", time.Since(start))
	return events, nil
}
