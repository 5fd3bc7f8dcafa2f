// Package debounce provides a keyed coalescing scheduler: scheduling an
// action for a key replaces whatever was pending for that key.
package debounce

import (
	"slices"
	"sync"
	"time"
)

type task struct {
	timer *time.Timer
	fn    func()
}

// Scheduler runs at most one pending action per key after a quiet period.
// The zero value is not usable; call New.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*task
	closed  bool
	running sync.WaitGroup
}

// New creates a scheduler.
func New() *Scheduler {
	return &Scheduler{pending: make(map[string]*task)}
}

// Schedule runs fn after delay unless another Schedule, Cancel or Flush for
// key happens first. Scheduling on a closed scheduler does nothing.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
	}
	t := &task{fn: fn}
	s.pending[key] = t
	t.timer = time.AfterFunc(delay, func() { s.fire(key, t) })
}

func (s *Scheduler) fire(key string, t *task) {
	s.mu.Lock()
	// A replaced task may still fire if Stop lost the race.
	if s.closed || s.pending[key] != t {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	t.fn()
}

// Cancel drops the pending action for key.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[key]; ok {
		t.timer.Stop()
		delete(s.pending, key)
	}
}

// Flush runs the pending action for key now, on the calling goroutine. It
// reports whether there was one.
func (s *Scheduler) Flush(key string) bool {
	s.mu.Lock()
	t, ok := s.pending[key]
	if !ok || s.closed {
		s.mu.Unlock()
		return false
	}
	t.timer.Stop()
	delete(s.pending, key)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	t.fn()
	return true
}

// FlushAll runs every pending action now, in key order.
func (s *Scheduler) FlushAll() {
	for _, key := range s.Keys() {
		s.Flush(key)
	}
}

// Pending reports whether an action is waiting for key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Keys returns the keys with pending actions, sorted.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	slices.Sort(keys)
	return keys
}

// Close cancels every pending action and waits for running ones to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for key, t := range s.pending {
		t.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()
	s.running.Wait()
}
