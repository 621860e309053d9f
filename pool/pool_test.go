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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r5-labs/lp2p/actor"
	"github.com/r5-labs/lp2p/common/mclock"
	"github.com/r5-labs/lp2p/config"
	"github.com/r5-labs/lp2p/errs"
	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/pevent"
	"github.com/r5-labs/lp2p/selection"
	"github.com/r5-labs/lp2p/transport"
)

func newTestPool(t *testing.T, mutate func(*config.Config)) (*Pool, *mclock.Simulated) {
	t.Helper()
	cfg := config.Default()
	cfg.OutboundShuffleInterval = 0
	cfg.RateCalculationInterval = 0
	cfg.ProductivityResetInterval = 0
	cfg.PeerBanTime = 10 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	clock := new(mclock.Simulated)
	act := actor.New()
	t.Cleanup(act.Stop)
	mem := transport.NewMemNetwork()
	dialer := transport.NewMemTransport(mem, "127.0.0.1:6000")
	nodeInfo := peerinfo.NodeInfo{IPAddress: "127.0.0.1", WSPort: 6000, Version: "1.0.0"}
	return New(cfg, act, clock, dialer, nodeInfo, "127.0.0.1:6000"), clock
}

func testInfo(port int) peerinfo.PeerInfo {
	return peerinfo.PeerInfo{IPAddress: "127.0.0.1", WSPort: port, Version: "1.0.0"}
}

func TestAddOutboundPeerIdempotent(t *testing.T) {
	p, _ := newTestPool(t, nil)

	first, err := p.AddOutboundPeer(testInfo(7001))
	require.NoError(t, err)
	second, err := p.AddOutboundPeer(testInfo(7001))
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Len(t, p.GetConnectedPeers(), 1)
}

func TestPeerInExactlyOneMap(t *testing.T) {
	p, _ := newTestPool(t, nil)

	inConn, _ := transport.NewMemConnPair("127.0.0.1:6000", "127.0.0.1:7001")
	_, err := p.AddInboundPeer(testInfo(7001), inConn)
	require.NoError(t, err)
	_, err = p.AddOutboundPeer(testInfo(7002))
	require.NoError(t, err)

	ids := p.GetConnectedPeers()
	require.Len(t, ids, 2)
	seen := make(map[string]int)
	for _, id := range ids {
		seen[id]++
	}
	for id, n := range seen {
		require.Equal(t, 1, n, "peer %s appears %d times", id, n)
	}
}

func TestDuplicateOutboundForInboundPeerRejected(t *testing.T) {
	p, _ := newTestPool(t, nil)

	inConn, _ := transport.NewMemConnPair("127.0.0.1:6000", "127.0.0.1:7001")
	original, err := p.AddInboundPeer(testInfo(7001), inConn)
	require.NoError(t, err)

	dup, err := p.AddOutboundPeer(testInfo(7001))
	require.Nil(t, dup)
	require.Error(t, err)
	require.True(t, errs.Of(err, errs.KindRPCResponseError))

	// The original inbound entry survives the rejected duplicate.
	require.Equal(t, "open", original.State().String())
	ids := p.GetConnectedPeers()
	require.Equal(t, []string{"127.0.0.1:7001"}, ids)
}

func TestInboundQuotaEvicts(t *testing.T) {
	p, _ := newTestPool(t, func(cfg *config.Config) {
		cfg.MaxInboundConnections = 1
	})

	conn1, _ := transport.NewMemConnPair("127.0.0.1:6000", "127.0.0.1:7001")
	first, err := p.AddInboundPeer(testInfo(7001), conn1)
	require.NoError(t, err)

	conn2, _ := transport.NewMemConnPair("127.0.0.1:6000", "127.0.0.1:7002")
	_, err = p.AddInboundPeer(testInfo(7002), conn2)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ids := p.GetConnectedPeers()
		return len(ids) == 1 && ids[0] == "127.0.0.1:7002"
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "closed", first.State().String())
}

func TestWhitelistedPeerNotEvicted(t *testing.T) {
	p, _ := newTestPool(t, func(cfg *config.Config) {
		cfg.MaxInboundConnections = 1
	})
	p.SetWhitelist([]peerinfo.PeerInfo{testInfo(7001)})

	conn1, _ := transport.NewMemConnPair("127.0.0.1:6000", "127.0.0.1:7001")
	first, err := p.AddInboundPeer(testInfo(7001), conn1)
	require.NoError(t, err)

	conn2, _ := transport.NewMemConnPair("127.0.0.1:6000", "127.0.0.1:7002")
	_, err = p.AddInboundPeer(testInfo(7002), conn2)
	require.NoError(t, err)

	// The whitelisted peer is never an eviction candidate, so with no
	// other candidate available both stay connected.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, "open", first.State().String())
}

func TestBanRefusesInboundUntilUnban(t *testing.T) {
	p, clock := newTestPool(t, nil)

	events := make(chan pevent.Event, 256)
	p.Events().Subscribe(events)

	conn1, _ := transport.NewMemConnPair("127.0.0.1:6000", "127.0.0.1:7001")
	s, err := p.AddInboundPeer(testInfo(7001), conn1)
	require.NoError(t, err)

	s.ApplyPenalty(100)
	require.Eventually(t, func() bool {
		return len(p.GetConnectedPeers()) == 0
	}, time.Second, 10*time.Millisecond)

	// While banned, a reconnect attempt is refused.
	require.Eventually(t, func() bool {
		conn2, _ := transport.NewMemConnPair("127.0.0.1:6000", "127.0.0.1:7001")
		_, err := p.AddInboundPeer(testInfo(7001), conn2)
		return err != nil
	}, time.Second, 10*time.Millisecond)

	clock.Run(11 * time.Second)
	require.Eventually(t, func() bool {
		conn3, _ := transport.NewMemConnPair("127.0.0.1:6000", "127.0.0.1:7001")
		_, err := p.AddInboundPeer(testInfo(7001), conn3)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	sawBan, sawUnban := false, false
	drain := true
	for drain {
		select {
		case ev := <-events:
			switch ev.Name {
			case pevent.BanPeer:
				sawBan = true
			case pevent.UnbanPeer:
				sawUnban = true
			}
		default:
			drain = false
		}
	}
	require.True(t, sawBan)
	require.True(t, sawUnban)
}

func TestRemovePeerEmitsSingleRemoveEvent(t *testing.T) {
	p, _ := newTestPool(t, nil)

	events := make(chan pevent.Event, 64)
	p.Events().Subscribe(events)

	conn, _ := transport.NewMemConnPair("127.0.0.1:6000", "127.0.0.1:7001")
	_, err := p.AddInboundPeer(testInfo(7001), conn)
	require.NoError(t, err)

	p.RemovePeer("127.0.0.1:7001", transport.IntentionalDisconnectCode, "test")
	p.RemovePeer("127.0.0.1:7001", transport.IntentionalDisconnectCode, "again")

	require.Eventually(t, func() bool {
		return len(p.GetConnectedPeers()) == 0
	}, time.Second, 10*time.Millisecond)

	removes := 0
	drain := true
	for drain {
		select {
		case ev := <-events:
			if ev.Name == pevent.RemovePeer {
				removes++
			}
		case <-time.After(100 * time.Millisecond):
			drain = false
		}
	}
	require.Equal(t, 1, removes)
}

func TestTriggerNewConnectionsSkipsConnectedAndFixed(t *testing.T) {
	p, _ := newTestPool(t, nil)

	var sawCandidates [][]peerinfo.PeerInfo

	connected := testInfo(7001)
	fixed := testInfo(7002)
	fresh := testInfo(7003)

	_, err := p.AddOutboundPeer(connected)
	require.NoError(t, err)
	p.SetFixedPeers([]peerinfo.PeerInfo{fixed})

	p.cfg.SelectForConnection = func(in selection.ConnectionCandidates) []peerinfo.PeerInfo {
		sawCandidates = append(sawCandidates, in.DisconnectedNewPeers)
		return nil
	}
	p.TriggerNewConnections([]peerinfo.PeerInfo{connected, fixed, fresh}, nil, nil)

	require.Len(t, sawCandidates, 1)
	require.Len(t, sawCandidates[0], 1)
	id, err := sawCandidates[0][0].PeerID()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7003", id)
}
