package enrich

import (
	"fmt"
	"math"
	"strings"

	"github.com/c360/quakestream/feed"
	"github.com/c360/quakestream/pkg/timestamp"
)

// maxPromptEvents bounds how many events are listed in a prompt.
const maxPromptEvents = 25

// Summary describes a batch of events. Narrative is empty unless a remote
// model produced one.
type Summary struct {
	Count            int     `json:"count"`
	AverageMagnitude float64 `json:"average_magnitude"`
	MaxMagnitude     float64 `json:"max_magnitude"`
	Narrative        string  `json:"narrative,omitempty"`
}

// HasNarrative reports whether remote enrichment succeeded
func (s Summary) HasNarrative() bool {
	return s.Narrative != ""
}

// Aggregate computes the local statistics for events. An empty batch
// yields the zero Summary.
func Aggregate(events []feed.Event) Summary {
	if len(events) == 0 {
		return Summary{}
	}

	total := 0.0
	maxMag := events[0].Magnitude
	for _, ev := range events {
		total += ev.Magnitude
		if ev.Magnitude > maxMag {
			maxMag = ev.Magnitude
		}
	}

	return Summary{
		Count:            len(events),
		AverageMagnitude: math.Round(total/float64(len(events))*100) / 100,
		MaxMagnitude:     maxMag,
	}
}

// Prompt renders the instruction sent to the text-generation backend.
func Prompt(events []feed.Event, s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"Summarize these %d earthquakes in two short sentences for a general audience. "+
			"Average magnitude %.2f, strongest %.1f.\n",
		s.Count, s.AverageMagnitude, s.MaxMagnitude)

	for i, ev := range events {
		if i == maxPromptEvents {
			fmt.Fprintf(&b, "- and %d more\n", len(events)-maxPromptEvents)
			break
		}
		place := ev.Place
		if place == "" {
			place = "unknown location"
		}
		if at := timestamp.Format(ev.Time); at != "" {
			fmt.Fprintf(&b, "- M%.1f %s at %s\n", ev.Magnitude, place, at)
		} else {
			fmt.Fprintf(&b, "- M%.1f %s\n", ev.Magnitude, place)
		}
	}
	return b.String()
}
