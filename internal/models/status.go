package models

import "time"

// StationStatus is the outcome of the most recent collection of one station.
type StationStatus struct {
	Station           string    `json:"station"`
	CycleID           string    `json:"cycle_id"`
	CapturedAt        time.Time `json:"captured_at"`
	DeparturesWritten int       `json:"departures_written"`
	Unmatched         int       `json:"unmatched"`
	WeatherWritten    bool      `json:"weather_written"`
	Failures          []string  `json:"failures,omitempty"`
}

// Healthy reports whether the station's last collection had no failed operation.
func (s StationStatus) Healthy() bool {
	return len(s.Failures) == 0
}
