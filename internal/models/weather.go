package models

import "time"

// WeatherObservation is the normalized current-conditions payload of the weather feed.
// Missing numeric values stay zero and missing text stays empty.
type WeatherObservation struct {
	TemperatureC float64 `json:"temperatureC"`
	Humidity     int     `json:"humidity"`
	WindKph      float64 `json:"windKph"`
	Condition    string  `json:"condition"`
}

// WeatherRecord is persisted once per station and capture instant.
type WeatherRecord struct {
	Station      string
	TemperatureC float64
	Humidity     int
	WindKph      float64
	Condition    string
	Weekday      int
	CapturedAt   time.Time
}
