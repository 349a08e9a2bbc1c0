// Package retention deletes stored points that fall outside the collection window.
package retention

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/departure-collector/internal/client"
	"github.com/kjstillabower/departure-collector/internal/observability"
	"github.com/kjstillabower/departure-collector/internal/store"
	"github.com/kjstillabower/departure-collector/internal/window"
)

// Pruner issues the range deletes that keep a measurement inside a window.
type Pruner struct {
	sink   store.Sink
	logger *zap.Logger
}

// New creates a Pruner. A nil logger discards output.
func New(sink store.Sink, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{sink: sink, logger: logger}
}

// Range is one inclusive delete interval.
type Range struct {
	Start time.Time
	Stop  time.Time
}

// OutsideRanges returns the delete intervals for w: everything from the epoch up
// to the instant before Start, and everything from End onwards. An interval
// that would be empty is omitted.
func OutsideRanges(w window.TimeWindow) []Range {
	var ranges []Range
	if before := w.Start().Add(-time.Nanosecond); !before.Before(store.Epoch) {
		ranges = append(ranges, Range{Start: store.Epoch, Stop: before})
	}
	if !w.End().After(store.MaxTime) {
		ranges = append(ranges, Range{Start: w.End(), Stop: store.MaxTime})
	}
	return ranges
}

// PruneOutside deletes each measurement's points outside w. It is best-effort:
// every delete is attempted, failures are logged and counted, and the joined
// failures are returned so the caller can decide whether to care. Running it
// twice leaves the store in the same state as running it once.
func (p *Pruner) PruneOutside(ctx context.Context, w window.TimeWindow, measurements []string) error {
	var errs []error
	for _, m := range measurements {
		for _, r := range OutsideRanges(w) {
			err := p.sink.Delete(ctx, m, r.Start, r.Stop)
			if err != nil {
				observability.PruneDeletesTotal.WithLabelValues(m, "error").Inc()
				p.logger.Error("retention delete failed",
					zap.String("operation", "delete"),
					zap.String("measurement", m),
					zap.Time("start", r.Start),
					zap.Time("stop", r.Stop),
					zap.String("error_category", string(client.CategorizeError(err))),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}
			observability.PruneDeletesTotal.WithLabelValues(m, "success").Inc()
			p.logger.Debug("retention delete",
				zap.String("measurement", m),
				zap.Time("start", r.Start),
				zap.Time("stop", r.Stop),
			)
		}
	}
	return errors.Join(errs...)
}
