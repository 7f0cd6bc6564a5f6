package gateway

import (
	"context"
	"net/http"

	"github.com/c360/quakestream/enrich"
	"github.com/c360/quakestream/feed"
	"github.com/c360/quakestream/health"
)

// EventSource fetches the current upstream feed on demand
type EventSource interface {
	Fetch(ctx context.Context) ([]feed.Event, error)
}

// Analyzer summarizes a batch of events. It never fails; a failed remote
// call yields a Summary without a narrative.
type Analyzer interface {
	Summarize(ctx context.Context, events []feed.Event) enrich.Summary
}

// HealthReporter builds the health endpoint body
type HealthReporter interface {
	Report() health.Report
}

// Realtime accepts websocket subscribers
type Realtime interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}
