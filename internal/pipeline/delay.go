// Package pipeline turns raw feed entries into the records the collector persists:
// delay calculation, schedule/realtime alignment and record assembly. Everything
// here is pure and safe to call from concurrent station workers.
package pipeline

import (
	"math"
	"strings"
	"time"
)

// Accepted timestamp layouts. All of them carry a UTC offset; naive local times
// are rejected because the delay would depend on the host timezone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04:05.000Z0700",
}

// ParseTimestamp parses a provider timestamp. ok is false when the text is empty
// or carries no recognizable offset.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ComputeDelay returns observed minus scheduled in minutes, rounded to two
// decimals. Early departures are negative. ok is false when either input does
// not parse.
func ComputeDelay(scheduled, observed string) (minutes float64, ok bool) {
	s, ok := ParseTimestamp(scheduled)
	if !ok {
		return 0, false
	}
	o, ok := ParseTimestamp(observed)
	if !ok {
		return 0, false
	}
	return roundMinutes(o.Sub(s)), true
}

func roundMinutes(d time.Duration) float64 {
	return math.Round(d.Minutes()*100) / 100
}
