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

package event

import "sync"

// Subscription represents a stream of events. The carrier of the events is
// typically a channel, but isn't part of the interface.
//
// Subscriptions can fail while in progress. The error is sent on the Err
// channel. It is closed with a nil value after Unsubscribe is called.
//
// Unsubscribe can be called multiple times and from any goroutine. Once a
// subscription has ended it cannot be resumed.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// NewSubscription runs a producer function as a subscription, with fn
// receiving a quit channel to watch. If fn returns an error, it is sent on
// the subscription's error channel.
func NewSubscription(fn func(<-chan struct{}) error) Subscription {
	s := &funcSub{unsub: make(chan struct{}), err: make(chan error, 1)}
	go func() {
		defer close(s.err)
		err := fn(s.unsub)
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.unsubscribed {
			if err != nil {
				s.err <- err
			}
			s.unsubscribed = true
		}
	}()
	return s
}

type funcSub struct {
	unsub        chan struct{}
	err          chan error
	mu           sync.Mutex
	unsubscribed bool
}

func (s *funcSub) Unsubscribe() {
	s.mu.Lock()
	if s.unsubscribed {
		s.mu.Unlock()
		return
	}
	s.unsubscribed = true
	close(s.unsub)
	s.mu.Unlock()
	<-s.err
}

func (s *funcSub) Err() <-chan error {
	return s.err
}

// Resubscribe calls fn repeatedly to keep a subscription running, until
// Unsubscribe is called or the last attempt fails. Resubscribe applies no
// backoff other than waiting for fn to return.
func Resubscribe(backoffMax int, fn func(ctx <-chan struct{}) (Subscription, error)) Subscription {
	s := &resubscribeSub{fn: fn, unsub: make(chan struct{}), err: make(chan error, 1)}
	go s.loop()
	return s
}

type resubscribeSub struct {
	fn    func(<-chan struct{}) (Subscription, error)
	unsub chan struct{}
	err   chan error
	mu    sync.Mutex
	done  bool
}

func (s *resubscribeSub) loop() {
	defer close(s.err)
	for {
		sub, err := s.fn(s.unsub)
		if err != nil {
			s.err <- err
			return
		}
		select {
		case <-s.unsub:
			sub.Unsubscribe()
			return
		case err := <-sub.Err():
			if err == nil {
				return
			}
		}
	}
}

func (s *resubscribeSub) Unsubscribe() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	close(s.unsub)
	s.mu.Unlock()
	<-s.err
}

func (s *resubscribeSub) Err() <-chan error {
	return s.err
}

// SubscriptionScope provides a facility to unsubscribe multiple subscriptions
// at once.
//
// For code that handles more than one subscription, a scope is more
// convenient than manually tracking a slice of Subscriptions.
type SubscriptionScope struct {
	mu     sync.Mutex
	subs   map[*scopeSub]struct{}
	closed bool
}

type scopeSub struct {
	sc *SubscriptionScope
	s  Subscription
}

// Track starts tracking a subscription. If the scope is closed, Track
// returns nil. The returned subscription is a wrapper; unsubscribing it is
// equivalent to unsubscribing s but removes it from the scope.
func (sc *SubscriptionScope) Track(s Subscription) Subscription {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return nil
	}
	if sc.subs == nil {
		sc.subs = make(map[*scopeSub]struct{})
	}
	ss := &scopeSub{sc, s}
	sc.subs[ss] = struct{}{}
	return ss
}

func (ss *scopeSub) Unsubscribe() {
	ss.s.Unsubscribe()
	ss.sc.mu.Lock()
	defer ss.sc.mu.Unlock()
	delete(ss.sc.subs, ss)
}

func (ss *scopeSub) Err() <-chan error {
	return ss.s.Err()
}

// Close calls Unsubscribe on all tracked subscriptions and prevents further
// additions to the tracked set. Calls to Close after the first call do
// nothing.
func (sc *SubscriptionScope) Close() {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return
	}
	sc.closed = true
	subs := sc.subs
	sc.subs = nil
	sc.mu.Unlock()
	for ss := range subs {
		ss.s.Unsubscribe()
	}
}

// Count returns the number of tracked subscriptions.
func (sc *SubscriptionScope) Count() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.subs)
}
