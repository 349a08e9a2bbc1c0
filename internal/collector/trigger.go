package collector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Trigger decides when cycles run. Ticks returns a channel that yields once per
// requested cycle and is closed when ctx is done or the trigger is exhausted.
type Trigger interface {
	Ticks(ctx context.Context) <-chan time.Time
}

// IntervalTrigger fires immediately, then every Interval. A tick that comes
// due while a cycle is still running is delivered once when it finishes;
// further missed ticks are dropped, so cycles never overlap or pile up.
type IntervalTrigger struct {
	Interval time.Duration
}

// Ticks implements Trigger.
func (t IntervalTrigger) Ticks(ctx context.Context) <-chan time.Time {
	ch := make(chan time.Time)
	go func() {
		defer close(ch)
		send := func(ts time.Time) bool {
			select {
			case ch <- ts:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(time.Now()) {
			return
		}
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ts := <-ticker.C:
				if !send(ts) {
					return
				}
			}
		}
	}()
	return ch
}

// Run executes a cycle for every tick until ctx is done or the trigger closes.
// A failing cycle is logged and the loop continues.
func (c *Collector) Run(ctx context.Context, trigger Trigger) error {
	c.logger.Info("collector started",
		zap.Int("stations", len(c.cfg.Stations)),
		zap.Int("workers", c.cfg.Workers),
		zap.Stringer("window", c.cfg.Window),
	)
	ticks := trigger.Ticks(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopped")
			return nil
		case _, ok := <-ticks:
			if !ok {
				c.logger.Info("trigger exhausted, collector stopped")
				return nil
			}
			if _, err := c.RunOnce(ctx); err != nil {
				if errors.Is(err, ErrCycleInProgress) {
					c.logger.Warn("skipping tick, previous cycle still running")
					continue
				}
				c.logger.Error("collection cycle failed", zap.Error(err))
			}
		}
	}
}
