package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/feed"
	"github.com/c360/quakestream/metric"
	"github.com/c360/quakestream/pkg/retry"
)

const defaultAttemptTimeout = 20 * time.Second

// Config configures a Client
type Config struct {
	// Backend is the remote text generator. Nil disables enrichment and
	// Summarize returns the local aggregate only.
	Backend Backend

	// Retry controls attempts and backoff between them.
	Retry errors.RetryConfig

	// AttemptTimeout bounds each remote call.
	AttemptTimeout time.Duration

	Metrics *metric.Metrics
	Logger  *slog.Logger
}

// Client summarizes event batches, adding a remote narrative when it can.
type Client struct {
	backend        Backend
	retry          retry.Config
	attemptTimeout time.Duration
	metrics        *metric.Metrics
	logger         *slog.Logger
}

// NewClient creates an enrichment client
func NewClient(cfg Config) *Client {
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = errors.DefaultRetryConfig()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		backend:        cfg.Backend,
		retry:          cfg.Retry.ToRetryConfig(),
		attemptTimeout: cfg.AttemptTimeout,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.With("component", "enrich"),
	}
}

// Enabled reports whether a remote backend is configured
func (c *Client) Enabled() bool {
	return c != nil && c.backend != nil
}

// Backend returns the configured backend name, or "" when disabled
func (c *Client) Backend() string {
	if !c.Enabled() {
		return ""
	}
	return c.backend.Name()
}

// Summarize returns the aggregate for events and, when the backend answers
// with usable text, a narrative. It never fails: remote problems are logged
// and counted, and leave Narrative empty.
func (c *Client) Summarize(ctx context.Context, events []feed.Event) (summary Summary) {
	summary = Aggregate(events)
	if !c.Enabled() || len(events) == 0 {
		return summary
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Enrichment panicked",
				"panic", r,
				"stack", string(debug.Stack()))
			summary.Narrative = ""
		}
	}()

	prompt := Prompt(events, summary)
	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("Enrichment attempt failed, retrying",
			"backend", c.backend.Name(),
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}

	narrative, err := retry.DoWithResult(ctx, cfg, func(attempt int) (string, error) {
		return c.attempt(ctx, prompt)
	})
	if err != nil {
		c.logger.Warn("Enrichment unavailable, sending aggregate only",
			"backend", c.backend.Name(),
			"events", len(events),
			"error", err)
		return summary
	}

	summary.Narrative = narrative
	return summary
}

func (c *Client) attempt(ctx context.Context, prompt string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	start := time.Now()
	text, err := c.backend.Generate(attemptCtx, prompt)
	if err == nil && text == "" {
		err = retry.NonRetryable(errors.ErrNothingExtracted)
	}
	if err != nil {
		c.metrics.RecordEnrichmentCall(metric.ResultError, time.Since(start))
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", errors.ErrEnrichmentTimeout, err)
		}
		return "", err
	}

	c.metrics.RecordEnrichmentCall(metric.ResultSuccess, time.Since(start))
	return text, nil
}
