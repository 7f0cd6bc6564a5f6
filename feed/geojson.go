package feed

import (
	"encoding/json"
	"fmt"

	"github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/pkg/timestamp"
)

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag   *float64 `json:"mag"`
		Place string   `json:"place"`
		Time  int64    `json:"time"`
	} `json:"properties"`
	Geometry *struct {
		Coordinates Coordinates `json:"coordinates"`
	} `json:"geometry"`
}

// Parse decodes a GeoJSON FeatureCollection into events in feed order.
// Features with no id or a null magnitude are skipped. An out-of-range
// time is kept as 0, meaning unknown.
func Parse(data []byte) ([]Event, error) {
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrFeedMalformed, err),
			"feed", "Parse", "decode feature collection")
	}

	events := make([]Event, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.ID == "" || f.Properties.Mag == nil {
			continue
		}
		ev := Event{
			ID:        f.ID,
			Magnitude: *f.Properties.Mag,
			Place:     f.Properties.Place,
			Time:      f.Properties.Time,
		}
		if timestamp.Validate(ev.Time) != nil {
			ev.Time = 0
		}
		if f.Geometry != nil {
			ev.Coordinates = f.Geometry.Coordinates
		}
		events = append(events, ev)
	}
	return events, nil
}
