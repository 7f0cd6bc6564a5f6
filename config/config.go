package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/c360/quakestream/errors"
)

// Enrichment providers
const (
	ProviderGeneric = "generic"
	ProviderOpenAI  = "openai"
)

// Config is the complete service configuration
type Config struct {
	HTTP      HTTPConfig
	Feed      FeedConfig
	Enrich    EnrichConfig
	Hub       HubConfig
	RateLimit RateLimitConfig
	Dedup     DedupConfig
	Log       LogConfig

	// ConfigFile is the file the values were read from, if any
	ConfigFile string
}

// HTTPConfig configures the HTTP surface
type HTTPConfig struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// FeedConfig configures the upstream feed and the poll loop
type FeedConfig struct {
	URL          string
	MinMagnitude float64
	PollInterval time.Duration
	Timeout      time.Duration
}

// EnrichConfig configures the optional narrative enrichment
type EnrichConfig struct {
	Enabled  bool
	Provider string
	URL      string
	Model    string
	APIKey   string
	Retries  int
	Timeout  time.Duration
}

// Active reports whether enrichment should call a remote backend.
// An endpoint URL or a model name is required.
func (e EnrichConfig) Active() bool {
	return e.Enabled && (e.URL != "" || e.Model != "")
}

// HubConfig configures realtime delivery
type HubConfig struct {
	SendTimeout  time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
}

// RateLimitConfig configures per-route throttling
type RateLimitConfig struct {
	PerWindow int
	Window    time.Duration
}

// DedupConfig bounds the seen-set. Zero values mean unbounded.
type DedupConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string
	Format string
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		add("http_addr is required")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		add("shutdown_timeout must be positive")
	}
	for _, origin := range c.HTTP.CORSOrigins {
		if origin != "*" && !isHTTPURL(origin) {
			add("cors_origins entry %q is not * or an http(s) origin", origin)
		}
	}

	if !isHTTPURL(c.Feed.URL) {
		add("feed_url %q must be an absolute http(s) URL", c.Feed.URL)
	}
	if math.IsNaN(c.Feed.MinMagnitude) || math.IsInf(c.Feed.MinMagnitude, 0) {
		add("min_magnitude must be a finite number")
	}
	if c.Feed.PollInterval < time.Second {
		add("poll_interval must be at least 1s, got %v", c.Feed.PollInterval)
	}
	if c.Feed.Timeout <= 0 {
		add("feed_timeout must be positive")
	}

	switch c.Enrich.Provider {
	case ProviderGeneric, ProviderOpenAI:
	default:
		add("enrich_provider must be %q or %q, got %q", ProviderGeneric, ProviderOpenAI, c.Enrich.Provider)
	}
	if c.Enrich.URL != "" && !isHTTPURL(c.Enrich.URL) {
		add("enrich_url %q must be an absolute http(s) URL", c.Enrich.URL)
	}
	if c.Enrich.Retries < 1 || c.Enrich.Retries > 10 {
		add("enrich_retries must be between 1 and 10, got %d", c.Enrich.Retries)
	}
	if c.Enrich.Timeout <= 0 {
		add("enrich_timeout must be positive")
	}

	if c.Hub.SendTimeout <= 0 {
		add("send_timeout must be positive")
	}
	if c.Hub.PingInterval <= 0 || c.Hub.PongWait <= c.Hub.PingInterval {
		add("pong_wait (%v) must exceed ping_interval (%v)", c.Hub.PongWait, c.Hub.PingInterval)
	}

	if c.RateLimit.PerWindow < 0 {
		add("rate_limit_per_minute cannot be negative")
	}
	if c.RateLimit.Window <= 0 {
		add("rate_limit_window must be positive")
	}

	if c.Dedup.MaxEntries < 0 {
		add("dedup_max_entries cannot be negative")
	}
	if c.Dedup.TTL < 0 {
		add("dedup_ttl cannot be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log_level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		add("log_format must be json or text, got %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"Config", "Validate", "validate configuration")
	}
	return nil
}

// String renders the configuration with secrets masked
func (c *Config) String() string {
	key := ""
	if c.Enrich.APIKey != "" {
		key = "****"
	}
	return fmt.Sprintf(
		"addr=%s feed=%s min_magnitude=%.1f poll=%v enrich=%t provider=%s url=%s model=%s api_key=%s rate=%d/%v dedup=%d/%v",
		c.HTTP.Addr, c.Feed.URL, c.Feed.MinMagnitude, c.Feed.PollInterval,
		c.Enrich.Active(), c.Enrich.Provider, c.Enrich.URL, c.Enrich.Model, key,
		c.RateLimit.PerWindow, c.RateLimit.Window, c.Dedup.MaxEntries, c.Dedup.TTL)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
