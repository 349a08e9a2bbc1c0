package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kjstillabower/departure-collector/internal/observability"
)

// MemorySink keeps points in process memory. Delete bounds are inclusive, the
// same as the InfluxDB delete endpoint.
type MemorySink struct {
	mu     sync.Mutex
	points []Point
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements Sink.
func (s *MemorySink) Write(ctx context.Context, p Point) error {
	if err := ctx.Err(); err != nil {
		return &OpError{Op: OpWrite, Measurement: p.Measurement, Err: err}
	}
	s.mu.Lock()
	s.points = append(s.points, clonePoint(p))
	s.mu.Unlock()
	observability.RecordsWrittenTotal.WithLabelValues(p.Measurement).Inc()
	return nil
}

// Delete implements Sink with inclusive bounds.
func (s *MemorySink) Delete(ctx context.Context, measurement string, start, stop time.Time) error {
	if err := ctx.Err(); err != nil {
		return &OpError{Op: OpDelete, Measurement: measurement, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.points[:0]
	for _, p := range s.points {
		if p.Measurement == measurement && !p.Time.Before(start) && !p.Time.After(stop) {
			continue
		}
		kept = append(kept, p)
	}
	s.points = kept
	return nil
}

// Ping implements Pinger.
func (s *MemorySink) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Points returns a time-ordered copy of the stored points, optionally filtered by measurement.
func (s *MemorySink) Points(measurement string) []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Point, 0, len(s.points))
	for _, p := range s.points {
		if measurement == "" || p.Measurement == measurement {
			out = append(out, clonePoint(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func clonePoint(p Point) Point {
	c := Point{Measurement: p.Measurement, Time: p.Time,
		Tags:   make(map[string]string, len(p.Tags)),
		Fields: make(map[string]interface{}, len(p.Fields)),
	}
	for k, v := range p.Tags {
		c.Tags[k] = v
	}
	for k, v := range p.Fields {
		c.Fields[k] = v
	}
	return c
}
