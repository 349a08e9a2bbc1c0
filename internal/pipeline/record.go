package pipeline

import (
	"time"

	"github.com/kjstillabower/departure-collector/internal/models"
)

// Weekday returns the day index of t in loc, Monday = 0 through Sunday = 6.
func Weekday(t time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	return (int(t.In(loc).Weekday()) + 6) % 7
}

// ResolveDelay applies the delay precedence: a delay computed from a parseable
// scheduled/observed pair, else the schedule feed's raw hint, else UnknownDelay.
func ResolveDelay(entry models.ScheduleEntry, rt *models.RealtimeEntry) float64 {
	if rt != nil && entry.ScheduledTime != "" && rt.ActualTime != "" {
		if d, ok := ComputeDelay(entry.ScheduledTime, rt.ActualTime); ok {
			return d
		}
	}
	if entry.DelayHint != nil {
		return *entry.DelayHint
	}
	return models.UnknownDelay
}

// BuildDeparture assembles the persisted record for one aligned slot. It never
// invents an observed time or platform: absent values stay empty strings.
func BuildDeparture(entry models.ScheduleEntry, rt *models.RealtimeEntry, station models.Station, capturedAt time.Time, weekday int) models.DepartureRecord {
	rec := models.DepartureRecord{
		Station:       station.Name,
		TrainName:     entry.TrainName,
		TrainType:     entry.TrainType,
		Operator:      entry.Operator,
		Direction:     entry.Direction,
		ScheduledTime: entry.ScheduledTime,
		Platform:      entry.Platform,
		DelayMinutes:  ResolveDelay(entry, rt),
		Weekday:       weekday,
		CapturedAt:    capturedAt,
	}
	if rt != nil {
		rec.ActualTime = rt.ActualTime
		rec.Cancelled = rt.Cancelled
	}
	return rec
}

// BuildDepartures builds one record per aligned slot, numbered in board order and
// all stamped with the same capture instant.
func BuildDepartures(aligned []models.AlignedDeparture, station models.Station, capturedAt time.Time, weekday int) []models.DepartureRecord {
	out := make([]models.DepartureRecord, 0, len(aligned))
	for i, a := range aligned {
		rec := BuildDeparture(a.Schedule, a.Realtime, station, capturedAt, weekday)
		rec.Slot = i
		out = append(out, rec)
	}
	return out
}

// BuildWeather assembles the weather record from whatever the payload carried.
func BuildWeather(obs models.WeatherObservation, station models.Station, capturedAt time.Time, weekday int) models.WeatherRecord {
	return models.WeatherRecord{
		Station:      station.Name,
		TemperatureC: obs.TemperatureC,
		Humidity:     obs.Humidity,
		WindKph:      obs.WindKph,
		Condition:    obs.Condition,
		Weekday:      weekday,
		CapturedAt:   capturedAt,
	}
}
