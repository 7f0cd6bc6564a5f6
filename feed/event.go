package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/quakestream/pkg/timestamp"
)

// Event is one earthquake record taken from the feed.
// Identity is the ID; two events with the same ID are the same event.
type Event struct {
	ID          string      `json:"id"`
	Magnitude   float64     `json:"magnitude"`
	Place       string      `json:"place"`
	Time        int64       `json:"time"` // Unix milliseconds
	Coordinates Coordinates `json:"coordinates"`
}

// OccurredAt returns the event time, or the zero time when unknown
func (e Event) OccurredAt() time.Time {
	return timestamp.FromUnixMs(e.Time)
}

// Coordinates holds the GeoJSON point triple. Any member may be absent.
type Coordinates struct {
	Longitude *float64
	Latitude  *float64
	Depth     *float64
}

// MarshalJSON encodes the coordinates as [longitude, latitude, depth]
func (c Coordinates) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]*float64{c.Longitude, c.Latitude, c.Depth})
}

// UnmarshalJSON accepts an array of up to three numbers or nulls
func (c *Coordinates) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("coordinates: %w", err)
	}
	*c = Coordinates{}
	if len(raw) > 0 {
		c.Longitude = raw[0]
	}
	if len(raw) > 1 {
		c.Latitude = raw[1]
	}
	if len(raw) > 2 {
		c.Depth = raw[2]
	}
	return nil
}

// FilterByMagnitude returns the events whose magnitude is at least threshold,
// preserving order.
func FilterByMagnitude(events []Event, threshold float64) []Event {
	kept := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Magnitude >= threshold {
			kept = append(kept, ev)
		}
	}
	return kept
}
