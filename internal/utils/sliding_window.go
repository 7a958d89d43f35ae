package utils

import (
	"sync"
	"time"
)

// SlidingWindow keeps event timestamps younger than its window.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   []time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

func (w *SlidingWindow) SetWindow(window time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.window = window
}

func (w *SlidingWindow) Add(now time.Time) int {
	return w.AddN(now, 1)
}

// AddN records n events at now.
func (w *SlidingWindow) AddN(now time.Time, n int) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	for i := 0; i < n; i++ {
		w.hits = append(w.hits, now)
	}
	return len(w.hits)
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	return len(w.hits)
}

// Frequency returns events per second over the span between the oldest
// retained event and now. Spans under a second count as one second.
func (w *SlidingWindow) Frequency(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	if len(w.hits) == 0 {
		return 0
	}
	span := now.Sub(w.hits[0])
	if span < time.Second {
		span = time.Second
	}
	return float64(len(w.hits)) / span.Seconds()
}

func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
