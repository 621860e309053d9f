// Copyright 2026 R5 Labs
// This file is part of the lp2p library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

// Package mclock is a wrapper for a monotonic clock source.
//
// All of lp2p's timer-driven state (rate rotation, productivity reset,
// keep-alive ping, shuffle, ban/unban, populator) reads the current
// time through a Clock so that tests can replace it with a Simulated
// clock and drive timers deterministically instead of sleeping.
package mclock

import (
	"sync"
	"time"
)

// AbsTime represents absolute monotonic time.
type AbsTime time.Duration

// Now returns the current absolute monotonic time.
func Now() AbsTime {
	return AbsTime(nowNano())
}

// Add returns t + d.
func (t AbsTime) Add(d time.Duration) AbsTime {
	return t + AbsTime(d)
}

// Sub returns t - t2 as a duration.
func (t AbsTime) Sub(t2 AbsTime) time.Duration {
	return time.Duration(t - t2)
}

// Clock interface makes it possible to replace the monotonic system clock with
// a simulated clock.
type Clock interface {
	Now() AbsTime
	Sleep(time.Duration)
	NewTimer(time.Duration) *Timer
	After(time.Duration) <-chan AbsTime
	AfterFunc(d time.Duration, f func()) *Timer
}

// System implements Clock using the system clock.
type System struct{}

// Now returns the current monotonic time.
func (System) Now() AbsTime {
	return Now()
}

// Sleep blocks for the given duration.
func (System) Sleep(d time.Duration) {
	time.Sleep(d)
}

// After returns a channel which receives the current time after d has elapsed.
func (System) After(d time.Duration) <-chan AbsTime {
	ch := make(chan AbsTime, 1)
	time.AfterFunc(d, func() { ch <- Now() })
	return ch
}

// NewTimer creates a timer which fires after d has elapsed.
func (System) NewTimer(d time.Duration) *Timer {
	ch := make(chan AbsTime, 1)
	t := time.AfterFunc(d, func() { ch <- Now() })
	return &Timer{C: ch, timer: t}
}

// AfterFunc runs f after d has elapsed.
func (System) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{timer: t}
}

// Timer wraps a pending System/Simulated timer.
type Timer struct {
	C     <-chan AbsTime
	timer *time.Timer
	sim   *simTimer
}

// Stop cancels the timer. It returns false if the timer has already fired or
// been stopped.
func (t *Timer) Stop() bool {
	if t.sim != nil {
		return t.sim.stop()
	}
	return t.timer.Stop()
}

// Simulated implements Clock for tests. The current time starts at zero and
// only advances when Run is called. It is safe for concurrent use.
type Simulated struct {
	mu      sync.Mutex
	now     AbsTime
	timers  []*simTimer
	nextSeq uint64
}

type simTimer struct {
	at       AbsTime
	seq      uint64
	fn       func()
	done     bool
	ch       chan AbsTime
	repeated bool
}

// Now returns the current simulated time.
func (s *Simulated) Now() AbsTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Run advances the simulated clock by d, firing any timers scheduled to run
// at or before the new time, in scheduling order.
func (s *Simulated) Run(d time.Duration) {
	s.mu.Lock()
	end := s.now + AbsTime(d)
	var fire []*simTimer
	for {
		next, ok := s.nextDue(end)
		if !ok {
			break
		}
		s.now = next.at
		next.done = true
		fire = append(fire, next)
	}
	s.now = end
	s.mu.Unlock()
	for _, t := range fire {
		if t.fn != nil {
			t.fn()
		}
		if t.ch != nil {
			t.ch <- t.at
		}
	}
}

func (s *Simulated) nextDue(end AbsTime) (*simTimer, bool) {
	var best *simTimer
	for _, t := range s.timers {
		if t.done || t.at > end {
			continue
		}
		if best == nil || t.at < best.at || (t.at == best.at && t.seq < best.seq) {
			best = t
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// Sleep blocks until Run advances the simulated clock to now+d.
func (s *Simulated) Sleep(d time.Duration) {
	<-s.After(d)
}

// After returns a channel that fires once the simulated clock reaches now+d.
func (s *Simulated) After(d time.Duration) <-chan AbsTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan AbsTime, 1)
	t := &simTimer{at: s.now + AbsTime(d), seq: s.nextSeq, ch: ch}
	s.nextSeq++
	s.timers = append(s.timers, t)
	return ch
}

// NewTimer creates a timer that fires once the simulated clock reaches now+d.
func (s *Simulated) NewTimer(d time.Duration) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan AbsTime, 1)
	t := &simTimer{at: s.now + AbsTime(d), seq: s.nextSeq, ch: ch}
	s.nextSeq++
	s.timers = append(s.timers, t)
	return &Timer{C: ch, sim: t}
}

// AfterFunc schedules f to run once the simulated clock reaches now+d.
func (s *Simulated) AfterFunc(d time.Duration, f func()) *Timer {
	s.mu.Lock()
	t := &simTimer{at: s.now + AbsTime(d), seq: s.nextSeq, fn: f}
	s.nextSeq++
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return &Timer{sim: t}
}

func (t *simTimer) stop() bool {
	if t.done {
		return false
	}
	t.done = true
	return true
}
