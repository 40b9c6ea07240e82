package pipeline

import (
	"sync"
	"time"

	"github.com/vietddude/roundkeeper/internal/metrics"
)

// FailureWindow is the system's only circuit breaker: a sliding window
// of consecutive pipeline failures. Unlike the reference
// Closed/Open/HalfOpen breaker some of the pack's other indexers use,
// spec §4.7 calls for a single literal rule — N failures within window
// W trips a fatal shutdown — with no half-open recovery state, so this
// type intentionally has no Allow()/state machine, only a counter.
type FailureWindow struct {
	mu        sync.Mutex
	failures  []time.Time
	threshold int
	window    time.Duration
}

// NewFailureWindow creates a FailureWindow with the configured
// threshold and duration (spec default: 3 failures in 10 minutes).
func NewFailureWindow(threshold int, window time.Duration) *FailureWindow {
	return &FailureWindow{threshold: threshold, window: window}
}

// RecordFailure appends a failure and reports whether the number of
// failures within the window has now reached the threshold.
func (f *FailureWindow) RecordFailure() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	f.failures = prune(f.failures, now, f.window)
	f.failures = append(f.failures, now)
	metrics.ConsecutiveFailures.Set(float64(len(f.failures)))
	return len(f.failures) >= f.threshold
}

// RecordSuccess resets the counter; successful processing clears the
// sliding window entirely, per §4.7.
func (f *FailureWindow) RecordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = nil
	metrics.ConsecutiveFailures.Set(0)
}

func prune(failures []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := failures[:0]
	for _, t := range failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
