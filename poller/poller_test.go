package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/quakestream/dedup"
	"github.com/c360/quakestream/enrich"
	qerrors "github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/feed"
	"github.com/c360/quakestream/hub"
	"github.com/c360/quakestream/metric"
	qtestutil "github.com/c360/quakestream/testutil"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []Message
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, msg any) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg.(Message))
	return 1, nil
}

func (r *recordingBroadcaster) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

type fetcherFunc func(ctx context.Context) ([]feed.Event, error)

func (f fetcherFunc) Fetch(ctx context.Context) ([]feed.Event, error) { return f(ctx) }

type stubSummarizer struct {
	narrative string
	calls     atomic.Int64
}

func (s *stubSummarizer) Summarize(_ context.Context, events []feed.Event) enrich.Summary {
	s.calls.Add(1)
	sum := enrich.Aggregate(events)
	sum.Narrative = s.narrative
	return sum
}

func newFeedPoller(t *testing.T, srv *qtestutil.FeedServer, b Broadcaster, threshold float64) (*Poller, *metric.Metrics) {
	t.Helper()
	m := metric.NewMetricsRegistry().CoreMetrics()
	p, err := New(Config{
		Fetcher:     feed.NewFetcher(feed.Config{URL: srv.URL, Timeout: time.Second}),
		Dedup:       dedup.New(),
		Broadcaster: b,
		Threshold:   threshold,
		Interval:    time.Hour,
		Metrics:     m,
	})
	require.NoError(t, err)
	return p, m
}

func TestEndToEnd_ThresholdAndDedup(t *testing.T) {
	srv := qtestutil.NewFeedServer(t, qtestutil.FeatureCollection(
		qtestutil.NewQuake("us-small", 3.0),
		qtestutil.NewQuake("us-big", 4.5),
	))

	m := metric.NewMetricsRegistry().CoreMetrics()
	h := hub.New(hub.Config{Metrics: m})
	t.Cleanup(h.Close)
	conn := qtestutil.NewMockConn()
	h.Register(conn)

	p, err := New(Config{
		Fetcher:     feed.NewFetcher(feed.Config{URL: srv.URL, Timeout: time.Second}),
		Dedup:       dedup.New(),
		Broadcaster: h,
		Threshold:   4.0,
		Metrics:     m,
	})
	require.NoError(t, err)

	first := p.Tick(context.Background())
	require.NoError(t, first.Err)
	assert.Equal(t, 2, first.Fetched)
	assert.Equal(t, 1, first.Kept)
	assert.Equal(t, 1, first.New)
	assert.True(t, first.Broadcast)
	assert.Equal(t, 1, first.Delivered)

	msgs := conn.Messages()
	require.Len(t, msgs, 1)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(msgs[0], &msg))
	assert.Equal(t, "earthquakes", msg["type"])
	assert.Equal(t, float64(1), msg["count"])
	assert.NotContains(t, msg, "analysis")
	events := msg["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "us-big", events[0].(map[string]any)["id"])

	second := p.Tick(context.Background())
	require.NoError(t, second.Err)
	assert.Equal(t, 0, second.New)
	assert.False(t, second.Broadcast)
	assert.Len(t, conn.Messages(), 1, "no broadcast on the second tick")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Polls.WithLabelValues(metric.ResultSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Broadcasts))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DedupSize))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.PollEvents.WithLabelValues(StageFetched)))
}

func TestTick_FeedFailureIsCounted(t *testing.T) {
	srv := qtestutil.NewFeedServer(t, []byte("unavailable"))
	srv.SetStatus(http.StatusServiceUnavailable)

	b := &recordingBroadcaster{}
	p, m := newFeedPoller(t, srv, b, 2.5)

	res := p.Tick(context.Background())
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, qerrors.ErrFeedUnavailable)
	assert.Empty(t, b.Messages())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Polls.WithLabelValues(metric.ResultError)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Polls.WithLabelValues(metric.ResultSuccess)))

	// The next tick is the retry.
	srv.SetStatus(http.StatusOK)
	srv.SetBody(qtestutil.FeatureCollection(qtestutil.NewQuake("a", 3.3)))
	res = p.Tick(context.Background())
	require.NoError(t, res.Err)
	assert.Len(t, b.Messages(), 1)
}

func TestTick_NewestEventTime(t *testing.T) {
	older := qtestutil.NewQuake("older", 3.0)
	older.Time = 1699999000000
	unknown := qtestutil.NewQuake("unknown", 3.0)
	unknown.Time = 0

	srv := qtestutil.NewFeedServer(t, qtestutil.FeatureCollection(
		older,
		qtestutil.NewQuake("newer", 3.5),
		unknown,
	))
	p, _ := newFeedPoller(t, srv, &recordingBroadcaster{}, 2.5)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(time.Second) })

	qtestutil.WaitFor(t, 2*time.Second, func() bool {
		_, ok := p.LastTick()
		return ok
	}, "first tick")

	res, _ := p.LastTick()
	assert.Equal(t, int64(1700000000000), res.Newest)
	assert.Equal(t, "2023-11-14T22:13:20Z", p.Health().Details["newest_event"])
}

func TestTick_PreservesFeedOrder(t *testing.T) {
	srv := qtestutil.NewFeedServer(t, qtestutil.FeatureCollection(
		qtestutil.NewQuake("c", 5.0),
		qtestutil.NewQuake("a", 3.0),
		qtestutil.NewQuake("b", 4.0),
	))
	b := &recordingBroadcaster{}
	p, _ := newFeedPoller(t, srv, b, 2.5)

	p.Tick(context.Background())
	msgs := b.Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Events, 3)
	assert.Equal(t, "c", msgs[0].Events[0].ID)
	assert.Equal(t, "a", msgs[0].Events[1].ID)
	assert.Equal(t, "b", msgs[0].Events[2].ID)

	// A new event among seen ones is broadcast alone.
	srv.SetBody(qtestutil.FeatureCollection(
		qtestutil.NewQuake("c", 5.0),
		qtestutil.NewQuake("d", 2.9),
	))
	p.Tick(context.Background())
	msgs = b.Messages()
	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].Events, 1)
	assert.Equal(t, "d", msgs[1].Events[0].ID)
}

func TestTick_Enrichment(t *testing.T) {
	srv := qtestutil.NewFeedServer(t, qtestutil.FeatureCollection(qtestutil.NewQuake("a", 4.0)))

	t.Run("narrative attached", func(t *testing.T) {
		b := &recordingBroadcaster{}
		s := &stubSummarizer{narrative: "One moderate quake."}
		p, err := New(Config{
			Fetcher:     feed.NewFetcher(feed.Config{URL: srv.URL}),
			Dedup:       dedup.New(),
			Broadcaster: b,
			Summarizer:  s,
			Threshold:   2.5,
		})
		require.NoError(t, err)

		res := p.Tick(context.Background())
		assert.True(t, res.Enriched)
		msgs := b.Messages()
		require.Len(t, msgs, 1)
		require.NotNil(t, msgs[0].Analysis)
		assert.Equal(t, "One moderate quake.", msgs[0].Analysis.Narrative)
		assert.Equal(t, 1, msgs[0].Analysis.Count)
	})

	t.Run("no narrative means no analysis", func(t *testing.T) {
		b := &recordingBroadcaster{}
		s := &stubSummarizer{}
		p, err := New(Config{
			Fetcher:     feed.NewFetcher(feed.Config{URL: srv.URL}),
			Dedup:       dedup.New(),
			Broadcaster: b,
			Summarizer:  s,
			Threshold:   2.5,
		})
		require.NoError(t, err)

		res := p.Tick(context.Background())
		assert.False(t, res.Enriched)
		msgs := b.Messages()
		require.Len(t, msgs, 1)
		assert.Nil(t, msgs[0].Analysis)
		assert.Equal(t, int64(1), s.calls.Load())

		// Nothing new, so the summarizer is not consulted.
		p.Tick(context.Background())
		assert.Equal(t, int64(1), s.calls.Load())
	})
}

func TestMessageJSON(t *testing.T) {
	data, err := json.Marshal(Message{Type: MessageType, Count: 0, Events: []feed.Event{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"earthquakes","count":0,"events":[]}`, string(data))
}

func TestStartStop(t *testing.T) {
	var fetches atomic.Int64
	b := &recordingBroadcaster{}
	p, err := New(Config{
		Fetcher: fetcherFunc(func(context.Context) ([]feed.Event, error) {
			fetches.Add(1)
			return nil, nil
		}),
		Dedup:       dedup.New(),
		Broadcaster: b,
		Interval:    20 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	err = p.Start(context.Background())
	assert.ErrorIs(t, err, qerrors.ErrAlreadyStarted)

	// First tick is immediate.
	qtestutil.WaitFor(t, time.Second, func() bool { return fetches.Load() >= 1 }, "first tick")
	qtestutil.WaitFor(t, time.Second, func() bool { return fetches.Load() >= 3 }, "interval ticks")
	assert.True(t, p.Health().IsHealthy())

	require.NoError(t, p.Stop(time.Second))
	require.NoError(t, p.Stop(time.Second))
	assert.NoError(t, p.Wait())

	n := fetches.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, fetches.Load(), "no ticks after Stop")
	assert.True(t, p.Health().IsDegraded())
}

func TestStop_DrainsInFlightTick(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	finished := atomic.Bool{}

	p, err := New(Config{
		Fetcher: fetcherFunc(func(ctx context.Context) ([]feed.Event, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
				finished.Store(true)
			case <-ctx.Done():
			}
			return nil, nil
		}),
		Dedup:       dedup.New(),
		Broadcaster: &recordingBroadcaster{},
		Interval:    time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	<-started

	// Cancelling the start context does not abort the in-flight tick.
	cancel()
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()

	require.NoError(t, p.Stop(time.Second))
	assert.True(t, finished.Load())
}

func TestStop_TimeoutCancelsTick(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	p, err := New(Config{
		Fetcher: fetcherFunc(func(ctx context.Context) ([]feed.Event, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		Dedup:       dedup.New(),
		Broadcaster: &recordingBroadcaster{},
		Interval:    time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	<-started

	err = p.Stop(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, qerrors.IsTransient(err))
}

func TestPanicBecomesFatal(t *testing.T) {
	p, err := New(Config{
		Fetcher: fetcherFunc(func(context.Context) ([]feed.Event, error) {
			return []feed.Event{{ID: "x", Magnitude: 9}}, nil
		}),
		Dedup: dedup.New(),
		Broadcaster: broadcasterFunc(func(context.Context, any) (int, error) {
			panic("subscriber table corrupted")
		}),
		Threshold: 2.5,
		Interval:  time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, qerrors.IsFatal(err))
		assert.Contains(t, err.Error(), "subscriber table corrupted")
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after panic")
	}
	assert.True(t, p.Health().IsUnhealthy())
}

type broadcasterFunc func(ctx context.Context, msg any) (int, error)

func (f broadcasterFunc) Broadcast(ctx context.Context, msg any) (int, error) { return f(ctx, msg) }

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.ErrMissingConfig))
}

func TestWait_NotStarted(t *testing.T) {
	p, err := New(Config{
		Fetcher:     fetcherFunc(func(context.Context) ([]feed.Event, error) { return nil, nil }),
		Dedup:       dedup.New(),
		Broadcaster: &recordingBroadcaster{},
	})
	require.NoError(t, err)
	assert.NoError(t, p.Wait())
	_, ok := p.LastTick()
	assert.False(t, ok)
}
