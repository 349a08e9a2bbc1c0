// Package store writes collected records to the time-series store and deletes
// ranges of them. Implementations must be safe for concurrent use by station workers.
package store

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Measurement names.
const (
	MeasurementDeparture = "departure"
	MeasurementWeather   = "weather"
)

// Measurements lists every measurement the collector writes.
var Measurements = []string{MeasurementDeparture, MeasurementWeather}

// Epoch and MaxTime are the absolute limits used for open-ended deletes. MaxTime
// is the last instant InfluxDB accepts; math.MaxInt64 itself is reserved.
var (
	Epoch   = time.Unix(0, 0).UTC()
	MaxTime = time.Unix(0, math.MaxInt64-1).UTC()
)

// Point is one record: measurement, tag set, typed field set and timestamp.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// Sink is the append-only write and range-delete interface to the store. The
// bucket and organisation are fixed when the sink is constructed.
type Sink interface {
	// Write appends one point.
	Write(ctx context.Context, p Point) error
	// Delete removes every point of measurement with start <= time <= stop.
	Delete(ctx context.Context, measurement string, start, stop time.Time) error
}

// Pinger is implemented by sinks that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Operations reported in OpError.
const (
	OpWrite  = "write"
	OpDelete = "delete"
)

// OpError is a failed write (WriteError) or delete (DeleteError).
type OpError struct {
	Op          string
	Measurement string
	Err         error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Measurement, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
