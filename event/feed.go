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

// Package event implements a generic fan-out feed so that any component
// (session, pool, facade) can expose an observable stream without baking
// a bespoke listener-list type for every event name it emits.
package event

import (
	"errors"
	"reflect"
	"sync"
)

var errBadChannel = errors.New("event: Subscribe argument does not have sendable channel type")

// Feed implements one-to-many subscription. Events sent to a Feed are
// delivered to every currently subscribed channel.
//
// The zero value is ready to use. All channels passed to Subscribe on a
// given Feed must carry the same element type; the first Subscribe call
// fixes it.
type Feed struct {
	mu    sync.Mutex
	etype reflect.Type
	subs  caseList
}

// Subscribe adds a channel to the feed. Future sends are delivered on the
// channel until the subscription is canceled with Unsubscribe.
func (f *Feed) Subscribe(channel interface{}) Subscription {
	chanval := reflect.ValueOf(channel)
	chantyp := chanval.Type()
	if chantyp.Kind() != reflect.Chan || chantyp.ChanDir()&reflect.SendDir == 0 {
		panic(errBadChannel)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.etype == nil {
		f.etype = chantyp.Elem()
	} else if f.etype != chantyp.Elem() {
		panic(errBadChannel)
	}
	f.subs = append(f.subs, chanval)
	return &feedSub{feed: f, channel: chanval, err: make(chan error, 1)}
}

type feedSub struct {
	feed    *Feed
	channel reflect.Value
	errOnce sync.Once
	err     chan error
}

func (sub *feedSub) Unsubscribe() {
	sub.errOnce.Do(func() {
		sub.feed.mu.Lock()
		if i := sub.feed.subs.find(sub.channel); i != -1 {
			sub.feed.subs = sub.feed.subs.delete(i)
		}
		sub.feed.mu.Unlock()
		close(sub.err)
	})
}

func (sub *feedSub) Err() <-chan error {
	return sub.err
}

// Send delivers value to every channel subscribed at the moment Send is
// called, blocking until each has received it (or been unsubscribed in the
// interim). It returns the number of subscribers the value was sent to.
func (f *Feed) Send(value interface{}) (nsent int) {
	rvalue := reflect.ValueOf(value)

	f.mu.Lock()
	if f.etype == nil {
		f.etype = rvalue.Type()
	}
	if rvalue.Type() != f.etype {
		f.mu.Unlock()
		panic("event: send on feed with wrong type: expected " + f.etype.String() + ", got " + rvalue.Type().String())
	}
	targets := make(caseList, len(f.subs))
	copy(targets, f.subs)
	f.mu.Unlock()

	for _, ch := range targets {
		f.mu.Lock()
		stillSubscribed := f.subs.find(ch) != -1
		f.mu.Unlock()
		if !stillSubscribed {
			continue
		}
		ch.Send(rvalue)
		nsent++
	}
	return nsent
}

type caseList []reflect.Value

func (cs caseList) find(channel reflect.Value) int {
	for i, c := range cs {
		if c == channel {
			return i
		}
	}
	return -1
}

func (cs caseList) delete(index int) caseList {
	if index < 0 {
		return cs
	}
	return append(cs[:index], cs[index+1:]...)
}
