package store

import (
	"strconv"

	"github.com/kjstillabower/departure-collector/internal/models"
)

// DeparturePoint converts a departure record into its stored shape. Every field
// is always present so all points share one schema. The slot tag keeps records
// of one capture distinct even when their other tags are equal or empty.
func DeparturePoint(r models.DepartureRecord) Point {
	return Point{
		Measurement: MeasurementDeparture,
		Tags: map[string]string{
			"station":    r.Station,
			"slot":       strconv.Itoa(r.Slot),
			"train_name": r.TrainName,
			"train_type": r.TrainType,
			"operator":   r.Operator,
			"direction":  r.Direction,
		},
		Fields: map[string]interface{}{
			"scheduled_time": r.ScheduledTime,
			"actual_time":    r.ActualTime,
			"platform":       r.Platform,
			"cancelled":      r.Cancelled,
			"delay_minutes":  r.DelayMinutes,
			"weekday":        r.Weekday,
		},
		Time: r.CapturedAt,
	}
}

// WeatherPoint converts a weather record into its stored shape.
func WeatherPoint(r models.WeatherRecord) Point {
	return Point{
		Measurement: MeasurementWeather,
		Tags: map[string]string{
			"station": r.Station,
		},
		Fields: map[string]interface{}{
			"temperature_c": r.TemperatureC,
			"humidity_pct":  r.Humidity,
			"wind_kph":      r.WindKph,
			"condition":     r.Condition,
			"weekday":       r.Weekday,
		},
		Time: r.CapturedAt,
	}
}
