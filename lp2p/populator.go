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

package lp2p

import (
	"context"
	"encoding/json"
	"math/rand"

	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/pevent"
)

// startPopulator arms the discovery populator: after
// PopulatorStartDelay, and then every PopulatorInterval, probe a sample of
// connected peers for their "list" of known peers, fold validated results
// into the book, and let TriggerNewConnections dial out from there.
func (n *Node) startPopulator() {
	interval := n.cfg.PopulatorInterval
	if interval <= 0 {
		return
	}
	n.clock.AfterFunc(n.cfg.PopulatorStartDelay, func() {
		n.runPopulatorCycleAndReschedule()
	})
}

func (n *Node) runPopulatorCycleAndReschedule() {
	select {
	case <-n.populatorStop:
		return
	default:
	}
	n.runPopulatorCycle()
	interval := n.cfg.PopulatorInterval
	if interval <= 0 {
		return
	}
	n.clock.AfterFunc(interval, n.runPopulatorCycleAndReschedule)
}

func (n *Node) runPopulatorCycle() {
	sample := n.sampleConnectedPeers(n.cfg.MaxPeerDiscoveryProbeSampleSize)

	discovered := make(map[string]peerinfo.PeerInfo)
	for _, peerID := range sample {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.AckTimeout)
		raw, err := n.Pool.RequestFrom(ctx, peerID, "list", nil)
		cancel()
		if err != nil {
			n.Pool.Events().Send(pevent.Event{Name: pevent.FailedToFetchPeers, PeerID: peerID, Data: err})
			continue
		}
		rawBytes, ok := raw.(json.RawMessage)
		if !ok {
			continue
		}
		peers, err := peerinfo.ValidatePeerList(rawBytes, n.cfg.MaxListLength, n.cfg.MaxPerPeerBytes)
		if err != nil {
			n.Pool.Events().Send(pevent.Event{Name: pevent.FailedToFetchPeers, PeerID: peerID, Data: err})
			continue
		}
		for _, p := range peers {
			id, err := p.PeerID()
			if err != nil || id == n.ownerID {
				continue
			}
			discovered[id] = p
			if len(discovered) >= n.cfg.MaxPeerDiscoveryResponseLength {
				break
			}
		}
		if len(discovered) >= n.cfg.MaxPeerDiscoveryResponseLength {
			break
		}
	}

	if len(discovered) >= n.cfg.MinimumPeerDiscoveryThreshold {
		for id, p := range discovered {
			known := n.Pool.Book.Has(id)
			if err := n.Pool.Book.AddNew(p); err == nil && !known {
				n.feed.Send(pevent.Event{Name: pevent.DiscoveredPeer, PeerID: id, Data: p})
			}
		}
	}

	// Dial even when nothing new was learned this cycle: on a cold start
	// the book holds only seed/previous peers, and they still need dialing.
	n.Pool.TriggerNewConnections(n.Pool.Book.RandomNewPeers(0), n.Pool.Book.RandomTriedPeers(0), n.lists.FixedPeers)
}

func (n *Node) sampleConnectedPeers(max int) []string {
	ids := n.Pool.GetConnectedPeers()
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if max > 0 && max < len(ids) {
		return ids[:max]
	}
	return ids
}
