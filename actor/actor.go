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

// Package actor confines per-pool state to one logical actor: a single
// goroutine with a mailbox. Every PeerPool owns exactly one Actor;
// every PeerSession it creates shares that Actor. All state mutation on
// the pool, its sessions, and its peer book happens as a task run on the
// Actor's single goroutine, so no mutex is needed anywhere above this
// package — by construction, no two tasks ever run concurrently.
package actor

import "sync"

// Actor runs tasks one at a time, in submission order, on a single
// goroutine.
type Actor struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

// New starts an Actor's loop goroutine. Stop must be called to release it.
func New() *Actor {
	a := &Actor{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Actor) loop() {
	for {
		select {
		case f := <-a.tasks:
			f()
		case <-a.done:
			// Drain remaining queued tasks so deferred cleanup (e.g. a
			// disconnect scheduled just before Stop) still runs.
			for {
				select {
				case f := <-a.tasks:
					f()
				default:
					return
				}
			}
		}
	}
}

// Run schedules f to run on the actor's goroutine and returns immediately;
// f is not guaranteed to have run by the time Run returns. Use RunSync to
// wait for completion.
func (a *Actor) Run(f func()) {
	select {
	case a.tasks <- f:
	case <-a.done:
	}
}

// RunSync schedules f to run on the actor's goroutine and blocks until it
// has completed, or until the Actor is stopped. Calling RunSync from
// within a task already running on the same Actor deadlocks (same
// restriction a single-threaded event loop has against synchronously
// re-entering itself) — callers already on the loop must call f directly
// instead.
func (a *Actor) RunSync(f func()) {
	done := make(chan struct{})
	a.Run(func() {
		defer close(done)
		f()
	})
	select {
	case <-done:
	case <-a.done:
		// The loop drains its queue on Stop, so give f a last chance to
		// complete before giving up the wait.
		select {
		case <-done:
		default:
		}
	}
}

// Stop signals the loop to drain its queue and exit. Stop does not wait for
// the goroutine to finish; callers that need that guarantee should enqueue
// a final task and wait on it with RunSync before calling Stop.
func (a *Actor) Stop() {
	a.once.Do(func() { close(a.done) })
}
