package gateway

import (
	"fmt"
	"net/url"
	"time"

	"github.com/c360/quakestream/errors"
)

// DefaultMaxRequestSize bounds request bodies on POST routes (1 MiB)
const DefaultMaxRequestSize int64 = 1 << 20

// Config holds configuration for the HTTP gateway
type Config struct {
	// Addr is the listen address, e.g. ":8000"
	Addr string

	// CORSOrigins lists allowed CORS origins. "*" allows any origin.
	// An empty list disables CORS headers.
	CORSOrigins []string

	// MaxRequestSize limits request body size in bytes (default: 1MiB)
	MaxRequestSize int64

	// ReadHeaderTimeout bounds how long a client may take to send headers
	ReadHeaderTimeout time.Duration

	// IdleTimeout closes idle keep-alive connections
	IdleTimeout time.Duration
}

// Validate ensures the gateway configuration is valid and fills defaults
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"addr cannot be empty")
	}

	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = DefaultMaxRequestSize
	}
	if c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("invalid cors origin: %s", origin))
		}
	}

	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}

	return nil
}

// AllowsOrigin reports whether origin may make cross-origin requests
func (c *Config) AllowsOrigin(origin string) bool {
	for _, allowed := range c.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Addr:              ":8000",
		CORSOrigins:       []string{"*"},
		MaxRequestSize:    DefaultMaxRequestSize,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
