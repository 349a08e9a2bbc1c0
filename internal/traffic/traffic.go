// Package traffic tracks recent upstream feed outcomes in a sliding window. The
// health check reads the error rate from here.
package traffic

import (
	"sync"
	"time"
)

// DefaultMaxAge is how long outcomes are retained. A collection cycle runs every
// ten minutes, so this covers several cycles.
const DefaultMaxAge = time.Hour

var defaultTracker = NewTracker(DefaultMaxAge)

// RecordSuccess records a feed fetch that returned a usable response.
func RecordSuccess() {
	defaultTracker.RecordSuccess()
}

// RecordError records a failed feed fetch (timeout, upstream error, bad payload).
func RecordError() {
	defaultTracker.RecordError()
}

// RecordSkipped records a fetch that was never sent because the feed's circuit
// was open.
func RecordSkipped() {
	defaultTracker.RecordSkipped()
}

// FetchCount returns the number of outcomes (success + error + skipped) within the window.
func FetchCount(window time.Duration) int {
	return defaultTracker.FetchCount(window)
}

// SkippedCount returns the number of skipped fetches within the window.
func SkippedCount(window time.Duration) int {
	return defaultTracker.SkippedCount(window)
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount = successes + errors.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// EnsureRetention makes the default tracker keep outcomes for at least window.
func EnsureRetention(window time.Duration) {
	defaultTracker.EnsureRetention(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu           sync.Mutex
	maxAge       time.Duration
	now          func() time.Time
	successTimes []time.Time
	errorTimes   []time.Time
	skippedTimes []time.Time
}

// NewTracker creates a Tracker that forgets outcomes older than maxAge.
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// EnsureRetention raises maxAge to window if it is shorter. Retention never shrinks.
func (t *Tracker) EnsureRetention(window time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if window > t.maxAge {
		t.maxAge = window
	}
}

// RecordSuccess records a successful fetch.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordError records a failed fetch.
func (t *Tracker) RecordError() {
	t.recordOutcome(&t.errorTimes)
}

// RecordSkipped records a short-circuited fetch.
func (t *Tracker) RecordSkipped() {
	t.recordOutcome(&t.skippedTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// FetchCount returns the total number of outcomes within the window.
func (t *Tracker) FetchCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countInWindow(t.successTimes, cutoff) +
		countInWindow(t.errorTimes, cutoff) +
		countInWindow(t.skippedTimes, cutoff)
}

// SkippedCount returns the number of short-circuited fetches within the window.
func (t *Tracker) SkippedCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.skippedTimes, t.now().Add(-window))
}

// ErrorRate returns (errorCount, totalCount) within the window. Skipped fetches
// are excluded; an open circuit already reflects earlier errors.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	return errCount, errCount + countInWindow(t.successTimes, cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.skippedTimes = nil
}

// countInWindow counts timestamps that are not before the cutoff.
func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.skippedTimes)
}
