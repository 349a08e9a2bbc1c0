// Package window holds the retention interval the collector is allowed to keep data for.
//
// The interval is half-open: an instant equal to Start is inside, an instant equal
// to End is outside. The collection gate and the retention deletes both use this
// convention.
package window

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidWindow is returned when a window's bounds are missing, unparsable or reversed.
var ErrInvalidWindow = errors.New("invalid retention window")

// TimeWindow is an immutable [Start, End) interval in absolute time.
type TimeWindow struct {
	start time.Time
	end   time.Time
}

// New builds a window from two instants. start must not be after end.
func New(start, end time.Time) (TimeWindow, error) {
	if start.IsZero() || end.IsZero() {
		return TimeWindow{}, fmt.Errorf("%w: both bounds are required", ErrInvalidWindow)
	}
	if start.After(end) {
		return TimeWindow{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidWindow,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return TimeWindow{start: start.UTC(), end: end.UTC()}, nil
}

// Parse builds a window from two ISO-8601 timestamps carrying a UTC offset,
// e.g. "2025-06-02T18:00:00+02:00".
func Parse(start, end string) (TimeWindow, error) {
	s, err := parseBound("start", start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := parseBound("end", end)
	if err != nil {
		return TimeWindow{}, err
	}
	return New(s, e)
}

func parseBound(name, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s is empty", ErrInvalidWindow, name)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse %s %q: %v", ErrInvalidWindow, name, value, err)
	}
	return t, nil
}

// Start returns the inclusive lower bound in UTC.
func (w TimeWindow) Start() time.Time { return w.start }

// End returns the exclusive upper bound in UTC.
func (w TimeWindow) End() time.Time { return w.end }

// Contains reports whether start <= t < end.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.start) && t.Before(w.end)
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.start.Format(time.RFC3339), w.end.Format(time.RFC3339))
}
