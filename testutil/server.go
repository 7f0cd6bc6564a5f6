package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// FeedServer is a fake USGS feed. The body and status can be changed
// between requests.
type FeedServer struct {
	*httptest.Server

	mu     sync.Mutex
	body   []byte
	status int
	delay  time.Duration
	hits   atomic.Int64
}

// NewFeedServer starts a feed server that serves body with status 200.
// The server is closed when the test ends.
func NewFeedServer(t *testing.T, body []byte) *FeedServer {
	t.Helper()

	fs := &FeedServer{body: body, status: http.StatusOK}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *FeedServer) serve(w http.ResponseWriter, r *http.Request) {
	fs.hits.Add(1)

	fs.mu.Lock()
	body, status, delay := fs.body, fs.status, fs.delay
	fs.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// SetBody replaces the response body
func (fs *FeedServer) SetBody(body []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.body = body
}

// SetStatus replaces the response status code
func (fs *FeedServer) SetStatus(status int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.status = status
}

// SetDelay makes every response wait d before writing
func (fs *FeedServer) SetDelay(d time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.delay = d
}

// Hits returns the number of requests served
func (fs *FeedServer) Hits() int {
	return int(fs.hits.Load())
}
