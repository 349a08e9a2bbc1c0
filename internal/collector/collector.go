// Package collector runs collection cycles: prune the store to the retention
// window, check the capture instant against it, then fetch, align, build and
// write every station's departures and weather.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/kjstillabower/departure-collector/internal/client"
	"github.com/kjstillabower/departure-collector/internal/lifecycle"
	"github.com/kjstillabower/departure-collector/internal/models"
	"github.com/kjstillabower/departure-collector/internal/observability"
	"github.com/kjstillabower/departure-collector/internal/pipeline"
	"github.com/kjstillabower/departure-collector/internal/retention"
	"github.com/kjstillabower/departure-collector/internal/status"
	"github.com/kjstillabower/departure-collector/internal/store"
	"github.com/kjstillabower/departure-collector/internal/window"
)

// ErrCycleInProgress is returned when a cycle is requested while another is running.
var ErrCycleInProgress = errors.New("collection cycle already in progress")

// Cycle outcomes used for the cyclesTotal metric.
const (
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
)

// Config is the immutable collection setup.
type Config struct {
	Stations []models.Station
	Window   window.TimeWindow
	// Location is the timezone the weekday is taken in. Nil means UTC.
	Location *time.Location
	// Workers bounds how many stations are collected concurrently. Values
	// below 1 mean sequential collection.
	Workers int
	// StatusTTL is how long a station status stays visible after it was written.
	StatusTTL time.Duration
}

// Deps are the collaborators a Collector drives.
type Deps struct {
	Schedule client.ScheduleFeed
	Realtime client.RealtimeFeed
	Weather  client.WeatherFeed
	Aligner  pipeline.Aligner
	Sink     store.Sink
	// Status is optional.
	Status status.Store
	Logger *zap.Logger
}

// Collector runs collection cycles. RunOnce is safe to call from one goroutine
// at a time; overlapping calls get ErrCycleInProgress.
type Collector struct {
	cfg    Config
	deps   Deps
	pruner *retention.Pruner
	logger *zap.Logger
	now    func() time.Time
}

// Summary describes one cycle.
type Summary struct {
	CycleID    string
	CapturedAt time.Time
	Skipped    bool
	Stations   int
	Departures int
	Weather    int
	Failures   int
	Duration   time.Duration
}

// Outcome classifies the cycle for metrics.
func (s Summary) Outcome() string {
	switch {
	case s.Skipped:
		return OutcomeSkipped
	case s.Failures > 0:
		return OutcomePartial
	default:
		return OutcomeCompleted
	}
}

// New validates the configuration and returns a Collector.
func New(cfg Config, deps Deps) (*Collector, error) {
	if len(cfg.Stations) == 0 {
		return nil, fmt.Errorf("collector: no stations configured")
	}
	if deps.Schedule == nil || deps.Realtime == nil || deps.Weather == nil {
		return nil, fmt.Errorf("collector: schedule, realtime and weather feeds are required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("collector: sink is required")
	}
	if deps.Aligner == nil {
		deps.Aligner = pipeline.PositionalAligner{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = time.Hour
	}
	return &Collector{
		cfg:    cfg,
		deps:   deps,
		pruner: retention.New(deps.Sink, deps.Logger),
		logger: deps.Logger,
		now:    time.Now,
	}, nil
}

// StationNames returns the configured station display names in table order.
func (c *Collector) StationNames() []string {
	names := make([]string, len(c.cfg.Stations))
	for i, st := range c.cfg.Stations {
		names[i] = st.Name
	}
	return names
}

// RunOnce performs one cycle. The capture instant is taken once and shared by
// every station. Cancelling ctx stops stations that have not started yet;
// stations already running finish their writes.
func (c *Collector) RunOnce(ctx context.Context) (sum Summary, err error) {
	if !lifecycle.BeginCycle() {
		return Summary{}, ErrCycleInProgress
	}
	start := time.Now()
	sum = Summary{CycleID: uuid.NewString(), CapturedAt: c.now().UTC()}
	log := c.logger.With(zap.String("cycle_id", sum.CycleID))
	defer func() {
		sum.Duration = time.Since(start)
		observability.CycleDuration.Observe(sum.Duration.Seconds())
		lifecycle.EndCycle(time.Now())
	}()

	// Retention failures are logged by the pruner and never block collection.
	_ = c.pruner.PruneOutside(ctx, c.cfg.Window, store.Measurements)

	if !c.cfg.Window.Contains(sum.CapturedAt) {
		sum.Skipped = true
		observability.CyclesTotal.WithLabelValues(OutcomeSkipped).Inc()
		log.Info("capture instant outside collection window, skipping stations",
			zap.Time("captured_at", sum.CapturedAt),
			zap.Stringer("window", c.cfg.Window),
		)
		return sum, nil
	}

	weekday := pipeline.Weekday(sum.CapturedAt, c.cfg.Location)
	stationCtx := context.WithoutCancel(ctx)

	p := pool.NewWithResults[stationResult]().WithMaxGoroutines(c.cfg.Workers)
	for _, st := range c.cfg.Stations {
		if ctx.Err() != nil {
			break
		}
		st := st
		p.Go(func() stationResult {
			return c.collectStation(stationCtx, log, sum.CycleID, st, sum.CapturedAt, weekday)
		})
	}
	for _, r := range p.Wait() {
		sum.Stations++
		sum.Departures += r.status.DeparturesWritten
		if r.status.WeatherWritten {
			sum.Weather++
		}
		sum.Failures += len(r.status.Failures)
		c.saveStatus(stationCtx, log, r.status)
	}

	outcome := sum.Outcome()
	if ctx.Err() != nil && sum.Stations < len(c.cfg.Stations) {
		outcome = OutcomeCancelled
	}
	observability.CyclesTotal.WithLabelValues(outcome).Inc()
	observability.LastCycleTimestamp.Set(float64(time.Now().Unix()))
	log.Info("collection cycle complete",
		zap.String("outcome", outcome),
		zap.Int("stations", sum.Stations),
		zap.Int("departures_written", sum.Departures),
		zap.Int("weather_written", sum.Weather),
		zap.Int("failures", sum.Failures),
		zap.Duration("duration", time.Since(start)),
	)
	return sum, nil
}

func (c *Collector) saveStatus(ctx context.Context, log *zap.Logger, st models.StationStatus) {
	if c.deps.Status == nil {
		return
	}
	if err := c.deps.Status.Set(ctx, st, c.cfg.StatusTTL); err != nil {
		log.Warn("failed to store station status", zap.String("station", st.Station), zap.Error(err))
	}
}
