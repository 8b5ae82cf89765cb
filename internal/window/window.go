// Package window implements the bounded time-and-count sliding window used
// by the block monitor for per-chain block-time and transaction-throughput
// samples (spec.md §4.2). There is no direct teacher analog; the
// dual-eviction policy (time cutoff, then count cap) is modeled on the
// TTL-sweep idiom in the teacher's connection rate limiter, applied here to
// a slice instead of a map.
package window

import (
	"sync"
	"time"
)

type entry struct {
	value      float64
	observedAt time.Time
}

// Window is a single-writer, bounded sliding window over (value, timestamp)
// pairs. Each monitored series (e.g. one chain's block-time samples) owns
// its own Window; windows are never shared across monitors.
type Window struct {
	mu            sync.Mutex
	duration      time.Duration
	maxDataPoints int
	entries       []entry
}

// New creates a Window that retains entries no older than duration and no
// more than maxDataPoints, whichever evicts first.
func New(duration time.Duration, maxDataPoints int) *Window {
	return &Window{duration: duration, maxDataPoints: maxDataPoints}
}

// Append records one (value, timestamp) pair, then evicts anything that
// has aged out or exceeds the count cap.
func (w *Window) Append(value float64, observedAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, entry{value: value, observedAt: observedAt})
	w.evictLocked(observedAt)
}

func (w *Window) evictLocked(now time.Time) {
	cutoff := now.Add(-w.duration)
	start := 0
	for start < len(w.entries) && w.entries[start].observedAt.Before(cutoff) {
		start++
	}
	if start > 0 {
		w.entries = w.entries[start:]
	}
	if w.maxDataPoints > 0 && len(w.entries) > w.maxDataPoints {
		excess := len(w.entries) - w.maxDataPoints
		w.entries = w.entries[excess:]
	}
}

// valuesSince returns the values observed at or after cutoff. A zero cutoff
// means "no cutoff override" — the caller should pass now-duration for the
// default per spec.md §4.2 ("default cutoff = now − windowDuration").
func (w *Window) valuesSince(cutoff time.Time) []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	values := make([]float64, 0, len(w.entries))
	for _, e := range w.entries {
		if !cutoff.IsZero() && e.observedAt.Before(cutoff) {
			continue
		}
		values = append(values, e.value)
	}
	return values
}

// Count returns the number of entries at or after cutoff (zero cutoff = all
// retained entries).
func (w *Window) Count(cutoff time.Time) int {
	return len(w.valuesSince(cutoff))
}

// Sum returns the sum of entries at or after cutoff.
func (w *Window) Sum(cutoff time.Time) float64 {
	var sum float64
	for _, v := range w.valuesSince(cutoff) {
		sum += v
	}
	return sum
}

// Mean returns the arithmetic mean of entries at or after cutoff, or 0 if
// there are none.
func (w *Window) Mean(cutoff time.Time) float64 {
	values := w.valuesSince(cutoff)
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Min returns the smallest value at or after cutoff, and false if empty.
func (w *Window) Min(cutoff time.Time) (float64, bool) {
	values := w.valuesSince(cutoff)
	if len(values) == 0 {
		return 0, false
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min, true
}

// Max returns the largest value at or after cutoff, and false if empty.
func (w *Window) Max(cutoff time.Time) (float64, bool) {
	values := w.valuesSince(cutoff)
	if len(values) == 0 {
		return 0, false
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max, true
}

// Latest returns the most recently appended value, and false if empty.
func (w *Window) Latest() (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return 0, false
	}
	return w.entries[len(w.entries)-1].value, true
}

// DefaultCutoff returns the standard "now - windowDuration" cutoff for this
// window, for callers that want spec.md §4.2's default query behavior.
func (w *Window) DefaultCutoff(now time.Time) time.Time {
	return now.Add(-w.duration)
}
