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

package pool

import (
	"math/rand"

	"golang.org/x/exp/slices"

	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/session"
	"github.com/r5-labs/lp2p/transport"
)

// SetWhitelist records which peerIds are exempt from eviction candidacy.
func (p *Pool) SetWhitelist(whitelisted []peerinfo.PeerInfo) {
	p.actor.RunSync(func() {
		p.whitelist = make(map[string]struct{}, len(whitelisted))
		for _, w := range whitelisted {
			if id, err := w.PeerID(); err == nil {
				p.whitelist[id] = struct{}{}
			}
		}
	})
}

// chooseEvictionVictimLocked runs the inbound eviction cascade. Caller
// holds the actor.
func (p *Pool) chooseEvictionVictimLocked() *session.Session {
	candidates := make([]*session.Session, 0, len(p.inbound))
	for id, s := range p.inbound {
		if _, isWhitelisted := p.whitelist[id]; isWhitelisted {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return nil
	}

	candidates = protect(candidates, p.cfg.LatencyProtectionRatio, func(s *session.Session) session.Snapshot { return s.SnapshotNoSync() }, byLatencyAscending)
	if len(candidates) <= 1 {
		return pickOne(candidates)
	}
	candidates = protect(candidates, p.cfg.ProductivityProtectionRatio, func(s *session.Session) session.Snapshot { return s.SnapshotNoSync() }, byResponseRateDescending)
	if len(candidates) <= 1 {
		return pickOne(candidates)
	}
	candidates = protect(candidates, p.cfg.LongevityProtectionRatio, func(s *session.Session) session.Snapshot { return s.SnapshotNoSync() }, byConnectTimeAscending)
	return pickOne(candidates)
}

// protect keeps the "safest" fraction `ratio` of candidates per less, and
// returns the remainder (the eviction candidates for the next cascade
// stage). If fewer than 2 candidates remain, protect is a no-op so the
// caller's <=1 short-circuit can fire.
func protect(candidates []*session.Session, ratio float64, snap func(*session.Session) session.Snapshot, less func(a, b session.Snapshot) bool) []*session.Session {
	if len(candidates) <= 1 || ratio <= 0 {
		return candidates
	}
	sorted := make([]*session.Session, len(candidates))
	copy(sorted, candidates)
	snaps := make(map[*session.Session]session.Snapshot, len(sorted))
	for _, s := range sorted {
		snaps[s] = snap(s)
	}
	slices.SortStableFunc(sorted, func(a, b *session.Session) bool {
		return less(snaps[a], snaps[b])
	})
	protectedCount := int(float64(len(sorted)) * ratio)
	if protectedCount >= len(sorted) {
		protectedCount = len(sorted) - 1
	}
	return sorted[protectedCount:]
}

func byLatencyAscending(a, b session.Snapshot) bool {
	return a.Latency < b.Latency
}

func byResponseRateDescending(a, b session.Snapshot) bool {
	return a.Productivity.ResponseRate > b.Productivity.ResponseRate
}

func byConnectTimeAscending(a, b session.Snapshot) bool {
	return a.ConnectTime.Before(b.ConnectTime)
}

func pickOne(candidates []*session.Session) *session.Session {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))]
}

// scheduleShuffle arms the outbound shuffle: every
// outboundShuffleInterval, evict one random non-fixed outbound peer.
func (p *Pool) scheduleShuffle() {
	interval := p.cfg.OutboundShuffleInterval
	if interval <= 0 {
		return
	}
	p.shuffleTimer = p.clock.AfterFunc(interval, func() {
		p.shuffleOnce()
		p.scheduleShuffle()
	})
}

func (p *Pool) shuffleOnce() {
	var victim *session.Session
	p.actor.RunSync(func() {
		var candidates []*session.Session
		for id, s := range p.outbound {
			if _, isFixed := p.fixedByID[id]; isFixed {
				continue
			}
			candidates = append(candidates, s)
		}
		if len(candidates) == 0 {
			return
		}
		victim = candidates[rand.Intn(len(candidates))]
	})
	if victim != nil {
		victim.Disconnect(transport.IntentionalDisconnectCode, "outbound shuffle")
	}
}
