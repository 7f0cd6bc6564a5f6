package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/c360/quakestream/errors"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "QUAKESTREAM"

// DefaultFeedURL is the USGS summary of all earthquakes in the past hour
const DefaultFeedURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson"

var defaults = map[string]any{
	"http_addr":             ":8000",
	"cors_origins":          "*",
	"shutdown_timeout":      "15s",
	"feed_url":              DefaultFeedURL,
	"min_magnitude":         2.5,
	"poll_interval":         "60s",
	"feed_timeout":          "10s",
	"enrich_enabled":        true,
	"enrich_provider":       ProviderGeneric,
	"enrich_url":            "",
	"enrich_model":          "",
	"enrich_api_key":        "",
	"enrich_retries":        3,
	"enrich_timeout":        "20s",
	"send_timeout":          "5s",
	"ping_interval":         "30s",
	"pong_wait":             "60s",
	"rate_limit_per_minute": 60,
	"rate_limit_window":     "1m",
	"dedup_max_entries":     0,
	"dedup_ttl":             "0",
	"log_level":             "info",
	"log_format":            "json",
}

// Loader reads configuration from, in order of precedence:
// environment variables, .env files, an optional YAML/JSON file, defaults.
type Loader struct {
	v          *viper.Viper
	configFile string
	envFiles   []string
}

// NewLoader creates a loader that reads .env and .env.local if present
func NewLoader() *Loader {
	return &Loader{
		v:        viper.New(),
		envFiles: []string{".env", ".env.local"},
	}
}

// WithConfigFile sets a config file that must exist and parse
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvFiles replaces the list of .env files to load
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = files
	return l
}

// Load builds and validates the configuration
func Load(configFile string) (*Config, error) {
	return NewLoader().WithConfigFile(configFile).Load()
}

// Load builds and validates the configuration
func (l *Loader) Load() (*Config, error) {
	for _, f := range l.envFiles {
		// godotenv never overrides variables already in the environment.
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"Loader", "Load", "read env file "+f)
		}
	}

	v := l.v
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"Loader", "Load", "read config file")
		}
	}

	cfg, err := l.build()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) build() (*Config, error) {
	v := l.v
	p := &durationParser{v: v}

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:            v.GetString("http_addr"),
			CORSOrigins:     stringList(v, "cors_origins"),
			ShutdownTimeout: p.get("shutdown_timeout"),
		},
		Feed: FeedConfig{
			URL:          v.GetString("feed_url"),
			MinMagnitude: v.GetFloat64("min_magnitude"),
			PollInterval: p.get("poll_interval"),
			Timeout:      p.get("feed_timeout"),
		},
		Enrich: EnrichConfig{
			Enabled:  v.GetBool("enrich_enabled"),
			Provider: strings.ToLower(strings.TrimSpace(v.GetString("enrich_provider"))),
			URL:      strings.TrimSpace(v.GetString("enrich_url")),
			Model:    strings.TrimSpace(v.GetString("enrich_model")),
			APIKey:   v.GetString("enrich_api_key"),
			Retries:  v.GetInt("enrich_retries"),
			Timeout:  p.get("enrich_timeout"),
		},
		Hub: HubConfig{
			SendTimeout:  p.get("send_timeout"),
			PingInterval: p.get("ping_interval"),
			PongWait:     p.get("pong_wait"),
		},
		RateLimit: RateLimitConfig{
			PerWindow: v.GetInt("rate_limit_per_minute"),
			Window:    p.get("rate_limit_window"),
		},
		Dedup: DedupConfig{
			MaxEntries: v.GetInt("dedup_max_entries"),
			TTL:        p.get("dedup_ttl"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
		ConfigFile: v.ConfigFileUsed(),
	}

	if p.err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, p.err),
			"Loader", "build", "parse durations")
	}
	return cfg, nil
}

// durationParser records the first parse failure
type durationParser struct {
	v   *viper.Viper
	err error
}

func (p *durationParser) get(key string) time.Duration {
	d, err := ParseDuration(p.v.GetString(key))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return d
}

// ParseDuration accepts Go durations ("90s", "1m30s"), day counts ("7d")
// and bare integers, which are seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// stringList reads key as either a comma separated string (environment) or
// a list (config file).
func stringList(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		return splitList(s)
	}
	var out []string
	for _, item := range v.GetStringSlice(key) {
		out = append(out, splitList(item)...)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
