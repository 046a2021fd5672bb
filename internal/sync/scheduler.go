// Package sync orchestrates connectivity-driven reconciliation: it drains
// the offline queue against the remote repository, refetches the
// authoritative collection, and reports engine status with retry backoff.
package sync

import (
	"sync"
	"time"
)

// CancelFunc cancels a scheduled timer. Calling it after the timer fired or
// was already canceled is a no-op.
type CancelFunc func()

// Scheduler abstracts the timers the engine relies on so teardown is
// deterministic and tests can drive time manually. The engine holds only
// cancel funcs, never raw timer handles.
type Scheduler interface {
	// AfterFunc runs fn once after delay.
	AfterFunc(delay time.Duration, fn func()) CancelFunc
	// Repeat runs fn every interval until canceled.
	Repeat(interval time.Duration, fn func()) CancelFunc
}

type wallScheduler struct{}

// NewScheduler returns the wall-clock Scheduler used in production.
func NewScheduler() Scheduler {
	return wallScheduler{}
}

func (wallScheduler) AfterFunc(delay time.Duration, fn func()) CancelFunc {
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}

func (wallScheduler) Repeat(interval time.Duration, fn func()) CancelFunc {
	ticker := time.NewTicker(interval)
	stopCh := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-stopCh:
				ticker.Stop()
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return func() {
		once.Do(func() { close(stopCh) })
	}
}

// ManualScheduler queues scheduled functions and fires them only when the
// test asks, keeping engine tests free of real sleeps.
type ManualScheduler struct {
	mu      sync.Mutex
	nextID  int
	oneShot map[int]scheduledCall
	repeats map[int]scheduledCall
}

type scheduledCall struct {
	interval time.Duration
	fn       func()
}

// NewManualScheduler returns an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{
		oneShot: make(map[int]scheduledCall),
		repeats: make(map[int]scheduledCall),
	}
}

// AfterFunc records a one-shot call without firing it.
func (s *ManualScheduler) AfterFunc(delay time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	s.nextID++
	callID := s.nextID
	s.oneShot[callID] = scheduledCall{interval: delay, fn: fn}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.oneShot, callID)
		s.mu.Unlock()
	}
}

// Repeat records a repeating call without firing it.
func (s *ManualScheduler) Repeat(interval time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	s.nextID++
	callID := s.nextID
	s.repeats[callID] = scheduledCall{interval: interval, fn: fn}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.repeats, callID)
		s.mu.Unlock()
	}
}

// PendingOneShots returns the delays of queued one-shot calls.
func (s *ManualScheduler) PendingOneShots() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delays := make([]time.Duration, 0, len(s.oneShot))
	for _, call := range s.oneShot {
		delays = append(delays, call.interval)
	}
	return delays
}

// FireOneShots runs and clears every queued one-shot call.
func (s *ManualScheduler) FireOneShots() int {
	s.mu.Lock()
	calls := make([]func(), 0, len(s.oneShot))
	for _, call := range s.oneShot {
		calls = append(calls, call.fn)
	}
	s.oneShot = make(map[int]scheduledCall)
	s.mu.Unlock()
	for _, fn := range calls {
		fn()
	}
	return len(calls)
}

// FireRepeats runs every registered repeating call once.
func (s *ManualScheduler) FireRepeats() int {
	s.mu.Lock()
	calls := make([]func(), 0, len(s.repeats))
	for _, call := range s.repeats {
		calls = append(calls, call.fn)
	}
	s.mu.Unlock()
	for _, fn := range calls {
		fn()
	}
	return len(calls)
}

// ActiveRepeats reports how many repeating timers remain registered.
func (s *ManualScheduler) ActiveRepeats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.repeats)
}
