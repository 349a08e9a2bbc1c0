package store

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/kjstillabower/departure-collector/internal/observability"
)

// InfluxConfig identifies the InfluxDB v2 target.
type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// InfluxSink writes points one call per record with the blocking write API and
// deletes through the v2 delete endpoint.
type InfluxSink struct {
	client  influxdb2.Client
	writer  api.WriteAPIBlocking
	deleter api.DeleteAPI
	org     string
	bucket  string
	timeout time.Duration
}

// NewInfluxSink creates a sink; it does not contact the server.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx: url, org and bucket are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint((cfg.Timeout + time.Second - 1) / time.Second)).
		SetPrecision(time.Nanosecond)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &InfluxSink{
		client:  client,
		writer:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		deleter: client.DeleteAPI(),
		org:     cfg.Org,
		bucket:  cfg.Bucket,
		timeout: cfg.Timeout,
	}, nil
}

// Write implements Sink.
func (s *InfluxSink) Write(ctx context.Context, p Point) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	point := influxdb2.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time)
	if err := s.writer.WritePoint(ctx, point); err != nil {
		observability.WriteErrorsTotal.WithLabelValues(p.Measurement).Inc()
		return &OpError{Op: OpWrite, Measurement: p.Measurement, Err: err}
	}
	observability.RecordsWrittenTotal.WithLabelValues(p.Measurement).Inc()
	return nil
}

// Delete implements Sink.
func (s *InfluxSink) Delete(ctx context.Context, measurement string, start, stop time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.deleter.DeleteWithName(ctx, s.org, s.bucket, start, stop, measurementPredicate(measurement)); err != nil {
		return &OpError{Op: OpDelete, Measurement: measurement, Err: err}
	}
	return nil
}

// Ping reports whether the server answers.
func (s *InfluxSink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("influx ping: server not ready")
	}
	return nil
}

// Close releases the client's resources.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func measurementPredicate(measurement string) string {
	return fmt.Sprintf(`_measurement="%s"`, measurement)
}
