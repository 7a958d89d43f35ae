package utils

import (
	"sync"
	"time"
)

// WindowSet holds one SlidingWindow per key, created on first use.
type WindowSet struct {
	mu      sync.Mutex
	windows map[string]*SlidingWindow
}

func NewWindowSet() *WindowSet {
	return &WindowSet{windows: make(map[string]*SlidingWindow)}
}

// Get returns the window for key, resizing it to window.
func (s *WindowSet) Get(key string, window time.Duration) *SlidingWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = NewSlidingWindow(window)
		s.windows[key] = w
		return w
	}
	w.SetWindow(window)
	return w
}

func (s *WindowSet) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// Prune drops windows with no events left at now.
func (s *WindowSet) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if w.Count(now) == 0 {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

func (s *WindowSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
