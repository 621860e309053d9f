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

package simnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r5-labs/lp2p/config"
	"github.com/r5-labs/lp2p/errs"
	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/pevent"
)

func containsAll(have []string, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// A ring of seeds must converge to a fully connected mesh through
// list-gossip alone.
func TestSeedRingConverges(t *testing.T) {
	const count = 6
	const basePort = 5000
	net, err := Launch(count, basePort, func(i int, cfg *config.Config) {
		cfg.PeerLists.SeedPeers = []peerinfo.PeerInfo{SeedFor(basePort + (i+1)%count)}
	})
	require.NoError(t, err)
	defer net.Stop()

	var want [count][]string
	for i := 0; i < count; i++ {
		for j := 0; j < count; j++ {
			if i != j {
				want[i] = append(want[i], PeerIDFor(basePort+j))
			}
		}
	}

	require.Eventually(t, func() bool {
		for i, n := range net.Nodes {
			if !containsAll(n.GetConnectedPeers(), want[i]) {
				return false
			}
		}
		return true
	}, 10*time.Second, 100*time.Millisecond, "mesh never converged")
}

func TestPenaltyAccumulatesToBanAndUnban(t *testing.T) {
	const basePort = 5100
	net, err := Launch(2, basePort, func(i int, cfg *config.Config) {
		cfg.PeerBanTime = 200 * time.Millisecond
		if i == 0 {
			cfg.PeerLists.SeedPeers = []peerinfo.PeerInfo{SeedFor(basePort + 1)}
		}
	})
	require.NoError(t, err)
	defer net.Stop()

	a := net.Nodes[0]
	target := net.Nodes[1].ID
	require.Eventually(t, func() bool {
		return containsAll(a.GetConnectedPeers(), []string{target})
	}, 5*time.Second, 50*time.Millisecond)

	events := make(chan pevent.Event, 256)
	a.Events().Subscribe(events)
	banSeen := make(chan struct{}, 1)
	go func() {
		// Keep draining for the rest of the test so later discovery
		// churn cannot back the feed up.
		for ev := range events {
			if ev.Name == pevent.BanPeer && ev.PeerID == target {
				select {
				case banSeen <- struct{}{}:
				default:
				}
			}
		}
	}()

	// A mild penalty leaves the peer connected.
	require.NoError(t, a.ApplyPenalty(target, 10))
	time.Sleep(100 * time.Millisecond)
	require.True(t, containsAll(a.GetConnectedPeers(), []string{target}))

	// Exhausting the score bans and disconnects.
	require.NoError(t, a.ApplyPenalty(target, 100))
	require.Eventually(t, func() bool {
		return !containsAll(a.GetConnectedPeers(), []string{target})
	}, time.Second, 10*time.Millisecond)

	select {
	case <-banSeen:
	case <-time.After(time.Second):
		t.Fatal("expected a banPeer event")
	}

	// After the ban expires, discovery re-establishes the connection.
	require.Eventually(t, func() bool {
		return containsAll(a.GetConnectedPeers(), []string{target})
	}, 5*time.Second, 50*time.Millisecond)
}

func TestFanOutDelivery(t *testing.T) {
	const count = 4
	const basePort = 5200
	net, err := Launch(count, basePort, func(i int, cfg *config.Config) {
		cfg.PeerLists.SeedPeers = []peerinfo.PeerInfo{SeedFor(basePort + (i+1)%count)}
	})
	require.NoError(t, err)
	defer net.Stop()

	sender := net.Nodes[0]
	require.Eventually(t, func() bool {
		return len(sender.GetConnectedPeers()) >= count-1
	}, 10*time.Second, 100*time.Millisecond)

	received := make([]chan pevent.Event, count)
	for i := 1; i < count; i++ {
		received[i] = make(chan pevent.Event, 1024)
		net.Nodes[i].Events().Subscribe(received[i])
	}

	for k := 0; k < 20; k++ {
		sender.Send(context.Background(), "bar", map[string]any{"seq": k})
	}

	for i := 1; i < count; i++ {
		ok := false
		deadline := time.After(5 * time.Second)
		for !ok {
			select {
			case ev := <-received[i]:
				if ev.Name != pevent.MessageReceived {
					continue
				}
				data := ev.Data.(pevent.MessageReceivedData)
				if data.Event == "bar" && ev.PeerID == sender.ID {
					ok = true
				}
			case <-deadline:
				t.Fatalf("node %d never received a bar message from %s", i, sender.ID)
			}
		}
	}
}

// Dialing out to a peer that is already connected inbound is refused
// with an RPCResponseError, and the original inbound session survives.
func TestDuplicateOutboundRejected(t *testing.T) {
	const basePort = 5500
	net, err := Launch(2, basePort, func(i int, cfg *config.Config) {
		if i == 0 {
			cfg.PeerLists.SeedPeers = []peerinfo.PeerInfo{SeedFor(basePort + 1)}
		}
		if i == 1 {
			cfg.MaxOutboundConnections = 0 // the receiver never dials back
		}
	})
	require.NoError(t, err)
	defer net.Stop()

	receiver := net.Nodes[1]
	dialerID := net.Nodes[0].ID
	require.Eventually(t, func() bool {
		return containsAll(receiver.GetConnectedPeers(), []string{dialerID})
	}, 5*time.Second, 50*time.Millisecond)

	dup, err := receiver.Pool.AddOutboundPeer(SeedFor(basePort))
	require.Nil(t, dup)
	require.Error(t, err)
	require.True(t, errs.Of(err, errs.KindRPCResponseError))
	require.True(t, containsAll(receiver.GetConnectedPeers(), []string{dialerID}),
		"the original inbound entry must not be removed")
}

// Blasting messages past the configured rate gets the sender banned by
// the receiver.
func TestRateLimitTriggersRemoval(t *testing.T) {
	const basePort = 5300
	net, err := Launch(2, basePort, func(i int, cfg *config.Config) {
		cfg.WSMaxMessageRate = 110
		cfg.RateCalculationInterval = 100 * time.Millisecond
		cfg.WSMaxMessageRatePenalty = 100
		if i == 0 {
			cfg.PeerLists.SeedPeers = []peerinfo.PeerInfo{SeedFor(basePort + 1)}
		}
	})
	require.NoError(t, err)
	defer net.Stop()

	sender := net.Nodes[0]
	receiver := net.Nodes[1]
	require.Eventually(t, func() bool {
		return len(sender.GetConnectedPeers()) >= 1 && len(receiver.GetConnectedPeers()) >= 1
	}, 5*time.Second, 50*time.Millisecond)

	events := make(chan pevent.Event, 2048)
	receiver.Events().Subscribe(events)

	go func() {
		for k := 0; k < 300; k++ {
			sender.Send(context.Background(), "flood", k)
		}
	}()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Name == pevent.RemovePeer && ev.PeerID == sender.ID {
				return
			}
		case <-deadline:
			t.Fatal("receiver never removed the flooding peer")
		}
	}
}

// An oversized message is dropped without a messageReceived and the
// sender is disconnected.
func TestMaxPayloadDisconnects(t *testing.T) {
	const basePort = 5400
	net, err := Launch(2, basePort, func(i int, cfg *config.Config) {
		cfg.WSMaxPayloadInbound = 5000
		if i == 0 {
			cfg.PeerLists.SeedPeers = []peerinfo.PeerInfo{SeedFor(basePort + 1)}
		}
	})
	require.NoError(t, err)
	defer net.Stop()

	sender := net.Nodes[0]
	receiver := net.Nodes[1]
	require.Eventually(t, func() bool {
		return len(receiver.GetConnectedPeers()) >= 1
	}, 5*time.Second, 50*time.Millisecond)

	events := make(chan pevent.Event, 256)
	receiver.Events().Subscribe(events)

	big := make([]byte, 6000)
	for i := range big {
		big[i] = 'a'
	}
	sender.Send(context.Background(), "big", string(big))

	sawRemove := false
	deadline := time.After(3 * time.Second)
	for !sawRemove {
		select {
		case ev := <-events:
			switch ev.Name {
			case pevent.MessageReceived:
				data := ev.Data.(pevent.MessageReceivedData)
				require.NotEqual(t, "big", data.Event, "oversized message must not be delivered")
			case pevent.RemovePeer:
				if ev.PeerID == sender.ID {
					sawRemove = true
				}
			}
		case <-deadline:
			t.Fatal("receiver never disconnected the oversized sender")
		}
	}
}
