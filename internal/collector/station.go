package collector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/departure-collector/internal/client"
	"github.com/kjstillabower/departure-collector/internal/models"
	"github.com/kjstillabower/departure-collector/internal/observability"
	"github.com/kjstillabower/departure-collector/internal/pipeline"
	"github.com/kjstillabower/departure-collector/internal/store"
	"github.com/kjstillabower/departure-collector/internal/traffic"
)

// Station operations, used as the operation log field and metric label.
const (
	OpFetchSchedule  = "fetch_schedule"
	OpFetchRealtime  = "fetch_realtime"
	OpFetchWeather   = "fetch_weather"
	OpWriteDeparture = "write_departure"
	OpWriteWeather   = "write_weather"
)

type stationResult struct {
	status models.StationStatus
}

// collectStation runs FETCH_SCHEDULE → FETCH_REALTIME → ALIGN → WRITE_DEPARTURES
// → FETCH_WEATHER → WRITE_WEATHER for one station. No failure escapes: a failed
// feed degrades to an empty sequence and a failed write skips that record.
func (c *Collector) collectStation(ctx context.Context, log *zap.Logger, cycleID string, st models.Station, capturedAt time.Time, weekday int) stationResult {
	log = log.With(zap.String("station", st.Name))
	res := stationResult{status: models.StationStatus{
		Station:    st.Name,
		CycleID:    cycleID,
		CapturedAt: capturedAt,
	}}
	fail := func(op string) {
		res.status.Failures = append(res.status.Failures, op)
		observability.StationFailuresTotal.WithLabelValues(st.Name, op).Inc()
	}

	schedule, err := c.deps.Schedule.FetchSchedule(ctx, st.FeedID, capturedAt)
	if c.feedOutcome(log, client.FeedSchedule, OpFetchSchedule, len(schedule), err) {
		fail(OpFetchSchedule)
		schedule = nil
	}
	realtime, err := c.deps.Realtime.FetchRealtime(ctx, st.FeedID, capturedAt)
	if c.feedOutcome(log, client.FeedRealtime, OpFetchRealtime, len(realtime), err) {
		fail(OpFetchRealtime)
		realtime = nil
	}

	aligned := c.deps.Aligner.Align(schedule, realtime)
	unmatched := pipeline.Unmatched(aligned)
	res.status.Unmatched = unmatched
	if unmatched > 0 {
		observability.AlignmentUnmatchedTotal.Add(float64(unmatched))
		log.Debug("departures without realtime counterpart",
			zap.Int("schedule", len(schedule)),
			zap.Int("realtime", len(realtime)),
			zap.Int("unmatched", unmatched),
		)
	}

	departureFailed := false
	for _, rec := range pipeline.BuildDepartures(aligned, st, capturedAt, weekday) {
		if err := c.deps.Sink.Write(ctx, store.DeparturePoint(rec)); err != nil {
			departureFailed = true
			writeFailure(log, OpWriteDeparture, err)
			continue
		}
		res.status.DeparturesWritten++
	}
	if departureFailed {
		fail(OpWriteDeparture)
	}

	obs, err := c.deps.Weather.FetchWeather(ctx, st.WeatherQuery())
	if c.feedOutcome(log, client.FeedWeather, OpFetchWeather, 1, err) {
		fail(OpFetchWeather)
		return res
	}
	rec := pipeline.BuildWeather(obs, st, capturedAt, weekday)
	if err := c.deps.Sink.Write(ctx, store.WeatherPoint(rec)); err != nil {
		writeFailure(log, OpWriteWeather, err)
		fail(OpWriteWeather)
		return res
	}
	res.status.WeatherWritten = true
	return res
}

// feedOutcome records a fetch result and reports whether it failed.
func (c *Collector) feedOutcome(log *zap.Logger, feed, op string, entries int, err error) bool {
	if err == nil {
		traffic.RecordSuccess()
		observability.FeedEntries.WithLabelValues(feed).Observe(float64(entries))
		return false
	}
	category := client.CategorizeError(err)
	if errors.Is(err, client.ErrCircuitOpen) {
		traffic.RecordSkipped()
	} else {
		traffic.RecordError()
	}
	observability.FeedErrorsTotal.WithLabelValues(feed, string(category)).Inc()
	log.Warn("feed fetch failed, continuing with empty result",
		zap.String("operation", op),
		zap.String("error_category", string(category)),
		zap.Error(err),
	)
	return true
}

func writeFailure(log *zap.Logger, op string, err error) {
	log.Error("store write failed",
		zap.String("operation", op),
		zap.String("error_category", string(client.CategorizeError(err))),
		zap.Error(err),
	)
}
