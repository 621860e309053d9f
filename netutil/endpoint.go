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

package netutil

import (
	"time"

	"github.com/r5-labs/lp2p/common/mclock"
)

// EndpointTracker infers the local node's external endpoint from what
// dialing peers say they reached. Every inbound handshake carries the
// "host:port" the dialer believes it connected to; the tracker counts
// that as one vote, keyed by the dialing peer's id so a single peer
// cannot stuff the ballot by reconnecting. Votes age out of a sliding
// window, and no endpoint is reported until a quorum of distinct peers
// agrees on one.
type EndpointTracker struct {
	window   time.Duration
	minVotes int
	clock    mclock.Clock

	// votes is kept in arrival order; a re-vote moves the peer's entry
	// to the back, so window expiry only ever trims the front.
	votes     []endpointVote
	contacted map[string]mclock.AbsTime
}

type endpointVote struct {
	peerID   string
	endpoint string
	at       mclock.AbsTime
}

// NewEndpointTracker creates a tracker that forgets votes and contacts
// older than window and reports nothing until minVotes distinct peers
// agree on an endpoint.
func NewEndpointTracker(window time.Duration, minVotes int) *EndpointTracker {
	return &EndpointTracker{
		window:    window,
		minVotes:  minVotes,
		clock:     mclock.System{},
		contacted: make(map[string]mclock.AbsTime),
	}
}

// SetClock replaces the tracker's clock source; tests use it to drive
// expiry with a mclock.Simulated clock.
func (et *EndpointTracker) SetClock(c mclock.Clock) {
	et.clock = c
}

// AddVote records that peerID reached us at endpoint. A later vote from
// the same peer replaces its earlier one, whatever endpoint it named.
func (et *EndpointTracker) AddVote(peerID, endpoint string) {
	now := et.clock.Now()
	et.prune(now)
	for i := range et.votes {
		if et.votes[i].peerID == peerID {
			et.votes = append(et.votes[:i], et.votes[i+1:]...)
			break
		}
	}
	et.votes = append(et.votes, endpointVote{peerID: peerID, endpoint: endpoint, at: now})
}

// AddContact records that we dialed out to peerID, so a later vote from
// it is not mistaken for an unsolicited one.
func (et *EndpointTracker) AddContact(peerID string) {
	now := et.clock.Now()
	et.contacted[peerID] = now
	et.prune(now)
}

// Predict returns the endpoint with the most live votes, or "" while no
// endpoint has reached the quorum.
func (et *EndpointTracker) Predict() string {
	et.prune(et.clock.Now())
	counts := make(map[string]int, len(et.votes))
	best, bestCount := "", 0
	for _, v := range et.votes {
		counts[v.endpoint]++
		if c := counts[v.endpoint]; c > bestCount {
			best, bestCount = v.endpoint, c
		}
	}
	if bestCount < et.minVotes {
		return ""
	}
	return best
}

// UnsolicitedVotes reports whether any live vote came from a peer we had
// not dialed before it voted. Such votes mean strangers can open
// connections to us unprompted, the signature of a reachable address or
// full-cone NAT.
func (et *EndpointTracker) UnsolicitedVotes() bool {
	et.prune(et.clock.Now())
	for _, v := range et.votes {
		contactedAt, ok := et.contacted[v.peerID]
		if !ok || contactedAt > v.at {
			return true
		}
	}
	return false
}

func (et *EndpointTracker) prune(now mclock.AbsTime) {
	cutoff := now.Add(-et.window)
	expired := 0
	for expired < len(et.votes) && et.votes[expired].at < cutoff {
		expired++
	}
	et.votes = et.votes[expired:]
	for id, at := range et.contacted {
		if at < cutoff {
			delete(et.contacted, id)
		}
	}
}
