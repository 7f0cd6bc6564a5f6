package testutil

import (
	"encoding/json"
)

// Quake describes one feature of a generated USGS feed.
// A nil Mag produces "mag": null.
type Quake struct {
	ID    string
	Mag   *float64
	Place string
	Time  int64
	Lon   *float64
	Lat   *float64
	Depth *float64
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// NewQuake builds a Quake with a magnitude and fixed coordinates.
func NewQuake(id string, mag float64) Quake {
	return Quake{
		ID:    id,
		Mag:   Float(mag),
		Place: "10 km N of " + id,
		Time:  1700000000000,
		Lon:   Float(-122.5),
		Lat:   Float(37.7),
		Depth: Float(8.2),
	}
}

// FeatureCollection renders quakes as a USGS GeoJSON summary document.
func FeatureCollection(quakes ...Quake) []byte {
	features := make([]map[string]any, 0, len(quakes))
	for _, q := range quakes {
		features = append(features, map[string]any{
			"type": "Feature",
			"id":   q.ID,
			"properties": map[string]any{
				"mag":   q.Mag,
				"place": q.Place,
				"time":  q.Time,
				"type":  "earthquake",
			},
			"geometry": map[string]any{
				"type":        "Point",
				"coordinates": []*float64{q.Lon, q.Lat, q.Depth},
			},
		})
	}

	doc := map[string]any{
		"type": "FeatureCollection",
		"metadata": map[string]any{
			"title":  "USGS All Earthquakes, Past Hour",
			"status": 200,
			"count":  len(features),
		},
		"features": features,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}
