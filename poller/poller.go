package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/quakestream/dedup"
	"github.com/c360/quakestream/enrich"
	"github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/feed"
	"github.com/c360/quakestream/health"
	"github.com/c360/quakestream/metric"
	"github.com/c360/quakestream/pkg/timestamp"
)

const (
	defaultInterval = 60 * time.Second

	// MessageType is the type field of every broadcast
	MessageType = "earthquakes"
)

// Poll event stages recorded in metrics
const (
	StageFetched = "fetched"
	StageKept    = "kept"
	StageNew     = "new"
)

// Fetcher retrieves the current feed
type Fetcher interface {
	Fetch(ctx context.Context) ([]feed.Event, error)
}

// Summarizer enriches a batch. Summarize must not fail.
type Summarizer interface {
	Summarize(ctx context.Context, events []feed.Event) enrich.Summary
}

// Broadcaster delivers a message to live subscribers
type Broadcaster interface {
	Broadcast(ctx context.Context, msg any) (int, error)
}

// Message is the broadcast wire format
type Message struct {
	Type     string          `json:"type"`
	Count    int             `json:"count"`
	Events   []feed.Event    `json:"events"`
	Analysis *enrich.Summary `json:"analysis,omitempty"`
}

// Config configures a Poller
type Config struct {
	Fetcher     Fetcher
	Dedup       *dedup.Store
	Broadcaster Broadcaster
	// Summarizer is optional; nil disables enrichment.
	Summarizer Summarizer

	Threshold float64
	Interval  time.Duration

	Metrics *metric.Metrics
	Logger  *slog.Logger
}

// TickResult describes one poll
type TickResult struct {
	Fetched   int
	Kept      int
	New       int
	Delivered int
	Broadcast bool
	Enriched  bool
	// Newest is the latest event time in the new batch, Unix ms
	Newest   int64
	Err      error
	Duration time.Duration
	At       time.Time
}

// Poller periodically fetches the feed and broadcasts unseen events.
// It is a supervised task: Start launches it, Stop drains it and Wait
// reports a fatal error if a tick panicked.
type Poller struct {
	fetcher     Fetcher
	dedup       *dedup.Store
	broadcaster Broadcaster
	summarizer  Summarizer
	threshold   float64
	interval    time.Duration
	metrics     *metric.Metrics
	logger      *slog.Logger

	lifecycleMu sync.Mutex
	running     bool
	stopCh      chan struct{}
	done        chan struct{}
	hardCancel  context.CancelFunc

	polling  atomic.Bool
	lastMu   sync.RWMutex
	last     *TickResult
	ticks    atomic.Int64
	fatalErr error
}

// New creates a Poller. Fetcher, Dedup and Broadcaster are required.
func New(cfg Config) (*Poller, error) {
	if cfg.Fetcher == nil || cfg.Dedup == nil || cfg.Broadcaster == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Poller", "New",
			"require fetcher, dedup store and broadcaster")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Poller{
		fetcher:     cfg.Fetcher,
		dedup:       cfg.Dedup,
		broadcaster: cfg.Broadcaster,
		summarizer:  cfg.Summarizer,
		threshold:   cfg.Threshold,
		interval:    cfg.Interval,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "poller"),
	}, nil
}

// Threshold returns the minimum magnitude that is broadcast
func (p *Poller) Threshold() float64 {
	return p.threshold
}

// Start launches the poll loop. The first tick runs immediately.
// The loop ends when ctx is done, Stop is called, or a tick panics.
func (p *Poller) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Poller", "Start", "start poll loop")
	}
	if p.done != nil {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Poller", "Start", "restart stopped poller")
	}

	// Ticks run on a context that outlives ctx so Stop can drain an
	// in-flight tick; hardCancel aborts it when the drain times out.
	tickCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))

	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.hardCancel = hardCancel

	go p.run(ctx, tickCtx)

	p.logger.Info("Poller started",
		"interval", p.interval,
		"threshold", p.threshold,
		"enrichment", p.summarizer != nil)
	return nil
}

func (p *Poller) run(ctx, tickCtx context.Context) {
	defer close(p.done)
	defer p.hardCancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.safeTick(tickCtx); err != nil {
			p.lifecycleMu.Lock()
			p.fatalErr = err
			p.lifecycleMu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// safeTick runs one tick and converts a panic into a fatal error
func (p *Poller) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Poll tick panicked, stopping poller",
				"panic", r,
				"stack", string(debug.Stack()))
			err = errors.WrapFatal(fmt.Errorf("panic: %v", r), "Poller", "tick", "poll feed")
		}
	}()
	p.Tick(ctx)
	return nil
}

// Stop signals the loop to exit and waits up to timeout for an in-flight
// tick to finish. On timeout the tick is cancelled and an error returned.
func (p *Poller) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.running {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	done := p.done
	cancel := p.hardCancel
	p.lifecycleMu.Unlock()

	select {
	case <-done:
		p.logger.Info("Poller stopped", "ticks", p.ticks.Load())
		return nil
	case <-time.After(timeout):
		cancel()
		<-done
		return errors.WrapTransient(
			fmt.Errorf("in-flight poll did not finish within %v", timeout),
			"Poller", "Stop", "drain poll loop")
	}
}

// Wait blocks until the loop exits and returns the fatal error, if any.
// It returns immediately if the poller was never started.
func (p *Poller) Wait() error {
	p.lifecycleMu.Lock()
	done := p.done
	p.lifecycleMu.Unlock()
	if done == nil {
		return nil
	}

	<-done

	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	p.running = false
	return p.fatalErr
}

// Tick performs one poll: fetch, filter, dedup, enrich and broadcast.
// Feed failures are logged and counted; they never escape.
func (p *Poller) Tick(ctx context.Context) TickResult {
	p.polling.Store(true)
	defer p.polling.Store(false)

	res := TickResult{At: time.Now()}
	defer func() {
		res.Duration = time.Since(res.At)
		p.ticks.Add(1)
		p.lastMu.Lock()
		p.last = &res
		p.lastMu.Unlock()
	}()

	events, err := p.fetcher.Fetch(ctx)
	if err != nil {
		res.Err = err
		p.metrics.RecordPoll(metric.ResultError, time.Since(res.At))
		p.logger.Warn("Feed poll failed, waiting for next tick", "error", err)
		return res
	}
	res.Fetched = len(events)

	kept := feed.FilterByMagnitude(events, p.threshold)
	res.Kept = len(kept)

	batch := make([]feed.Event, 0, len(kept))
	for _, ev := range kept {
		if p.dedup.IsNew(ev.ID) {
			batch = append(batch, ev)
			res.Newest = timestamp.Max(res.Newest, ev.Time)
		}
	}
	res.New = len(batch)

	p.metrics.RecordPollEvents(StageFetched, res.Fetched)
	p.metrics.RecordPollEvents(StageKept, res.Kept)
	p.metrics.RecordPollEvents(StageNew, res.New)
	p.metrics.RecordDedupSize(p.dedup.Len())

	if len(batch) > 0 {
		msg := Message{Type: MessageType, Count: len(batch), Events: batch}
		if p.summarizer != nil {
			summary := p.summarizer.Summarize(ctx, batch)
			if summary.HasNarrative() {
				msg.Analysis = &summary
				res.Enriched = true
			}
		}

		delivered, err := p.broadcaster.Broadcast(ctx, msg)
		if err != nil {
			p.logger.Error("Broadcast failed", "events", len(batch), "error", err)
		} else {
			res.Broadcast = true
			res.Delivered = delivered
			p.logger.Info("Broadcast new events",
				"events", len(batch),
				"delivered", delivered,
				"enriched", res.Enriched,
				"newest", timestamp.Format(res.Newest))
		}
	}

	p.metrics.RecordPoll(metric.ResultSuccess, time.Since(res.At))
	p.logger.Debug("Poll complete",
		"fetched", res.Fetched,
		"kept", res.Kept,
		"new", res.New,
		"delivered", res.Delivered,
		"enriched", res.Enriched)
	return res
}

// LastTick returns the result of the most recent tick
func (p *Poller) LastTick() (TickResult, bool) {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	if p.last == nil {
		return TickResult{}, false
	}
	return *p.last, true
}

// Health reports the poll loop state for the health endpoint
func (p *Poller) Health() health.Status {
	p.lifecycleMu.Lock()
	running, fatal := p.running, p.fatalErr
	p.lifecycleMu.Unlock()

	var s health.Status
	last, ok := p.LastTick()
	switch {
	case fatal != nil:
		s = health.NewUnhealthy("poller", health.SanitizeError(fatal))
	case !running:
		s = health.NewDegraded("poller", "poll loop not running")
	case !ok:
		s = health.NewHealthy("poller", "waiting for first poll")
	case last.Err != nil:
		s = health.NewDegraded("poller", health.SanitizeError(last.Err))
	default:
		s = health.NewHealthy("poller", "")
	}

	s = s.WithDetail("ticks", p.ticks.Load()).
		WithDetail("polling", p.polling.Load()).
		WithDetail("interval", p.interval.String()).
		WithDetail("threshold", p.threshold)
	if ok {
		s = s.WithDetail("last_poll", last.At.UTC().Format(time.RFC3339)).
			WithDetail("last_new_events", last.New)
		if last.Newest != 0 {
			s = s.WithDetail("newest_event", timestamp.Format(last.Newest))
		}
	}
	return s
}
