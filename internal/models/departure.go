package models

import "time"

// UnknownDelay marks a delay that could not be determined. It is distinct from
// a legitimate zero-minute delay.
const UnknownDelay = -1.0

// Station is static configuration: a display name, the provider key used by
// both departure feeds, and the name used for weather lookups.
type Station struct {
	Name        string `yaml:"name" json:"name"`
	FeedID      string `yaml:"feed_id" json:"feedId"`
	WeatherName string `yaml:"weather_name" json:"weatherName"`
}

// WeatherQuery returns the weather lookup name, falling back to the display name.
func (s Station) WeatherQuery() string {
	if s.WeatherName != "" {
		return s.WeatherName
	}
	return s.Name
}

// ScheduleEntry is one scheduled departure from the schedule feed.
type ScheduleEntry struct {
	TripID        string
	ScheduledTime string // raw provider text; may be empty or malformed
	TrainName     string
	TrainType     string
	Operator      string
	Direction     string
	Platform      string
	DelayHint     *float64
}

// RealtimeEntry is the observed counterpart of a ScheduleEntry.
type RealtimeEntry struct {
	TripID     string
	ActualTime string
	Cancelled  bool
}

// AlignedDeparture pairs a schedule entry with its realtime counterpart.
// Realtime is nil when the realtime feed had no entry for this slot.
type AlignedDeparture struct {
	Schedule ScheduleEntry
	Realtime *RealtimeEntry
}

// DepartureRecord is one persisted departure observation. Text fields are never
// omitted; unknown values are empty strings so every point has the same shape.
// Slot is the aligned position on the station board; together with Station and
// CapturedAt it identifies the record.
type DepartureRecord struct {
	Station       string
	Slot          int
	TrainName     string
	TrainType     string
	Operator      string
	Direction     string
	ScheduledTime string
	ActualTime    string
	Platform      string
	Cancelled     bool
	DelayMinutes  float64
	Weekday       int
	CapturedAt    time.Time
}

// DelayKnown reports whether the delay carries a real value rather than the sentinel.
func (r DepartureRecord) DelayKnown() bool {
	return r.DelayMinutes != UnknownDelay
}
