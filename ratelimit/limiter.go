package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/quakestream/metric"
)

const (
	defaultLimit  = 60
	defaultWindow = time.Minute
)

// Config configures a Limiter
type Config struct {
	// Limit is the number of requests allowed per Window for one caller on
	// one route. Zero or negative disables limiting.
	Limit int
	// Window is the period Limit applies to.
	Window time.Duration

	Metrics *metric.Metrics
	Logger  *slog.Logger
}

// DefaultConfig allows 60 requests per minute
func DefaultConfig() Config {
	return Config{Limit: defaultLimit, Window: defaultWindow}
}

type bucket struct {
	limiter     *rate.Limiter
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// Limiter throttles requests per route and caller address. Each key gets a
// fixed window that admits at most Limit requests, in front of a token
// bucket that holds Limit tokens and refills one every Window/Limit.
type Limiter struct {
	limit   int
	window  time.Duration
	metrics *metric.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a Limiter
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Limiter{
		limit:   cfg.Limit,
		window:  cfg.Window,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "ratelimit"),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Enabled reports whether requests are limited at all
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow admits one request for caller on route. When the request is
// rejected it also returns how long until the caller may retry.
func (l *Limiter) Allow(route, caller string) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}

	now := l.now()
	key := route + "|" + caller

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			limiter:     rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit),
			windowStart: now,
		}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.count = 0
	}
	if b.count >= l.limit {
		return false, b.windowStart.Add(l.window).Sub(now)
	}

	if !b.limiter.AllowN(now, 1) {
		r := b.limiter.ReserveN(now, 1)
		delay := r.DelayFrom(now)
		r.CancelAt(now)
		return false, delay
	}
	b.count++
	return true, 0
}

// Len returns the number of tracked route/caller buckets
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Sweep forgets buckets idle for longer than one window. Such a bucket has
// refilled and its window has expired, so dropping it changes nothing.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Run sweeps idle buckets every window until ctx is done
func (l *Limiter) Run(ctx context.Context) {
	if !l.Enabled() {
		return
	}
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("Swept idle rate limit buckets", "removed", n)
			}
		}
	}
}

// Middleware rejects requests over the limit with 429, a Retry-After
// header and a JSON {error, details} body. Nothing is queued.
func (l *Limiter) Middleware(route string, next http.Handler) http.Handler {
	if !l.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := ClientAddr(r)
		ok, retryAfter := l.Allow(route, caller)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		l.metrics.RecordRateLimited(route)
		l.logger.Debug("Request rate limited", "route", route, "caller", caller, "retry_after", retryAfter)

		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "rate limit exceeded",
			"details": strconv.Itoa(l.limit) + " requests per " + l.window.String(),
		})
	})
}

// ClientAddr returns the caller's IP address without the port
func ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
