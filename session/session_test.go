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

package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r5-labs/lp2p/actor"
	"github.com/r5-labs/lp2p/common/mclock"
	"github.com/r5-labs/lp2p/config"
	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/pevent"
	"github.com/r5-labs/lp2p/transport"
)

func testDeps() (Deps, *actor.Actor) {
	cfg := config.Default()
	cfg.AckTimeout = time.Second
	cfg.RateCalculationInterval = 0 // don't schedule rate ticks in most tests
	cfg.ProductivityResetInterval = 0
	act := actor.New()
	return Deps{
		Config: cfg,
		Actor:  act,
		Clock:  mclock.System{},
		LocalInfo: func() peerinfo.NodeInfo {
			return peerinfo.NodeInfo{IPAddress: "127.0.0.1", WSPort: 6000, Version: "1.0.0"}
		},
	}, act
}

func TestInboundRequestPingPong(t *testing.T) {
	deps, act := testDeps()
	defer act.Stop()

	local, remote := transport.NewMemConnPair("127.0.0.1:5000", "127.0.0.1:5001")
	info := peerinfo.PeerInfo{IPAddress: "127.0.0.1", WSPort: 5001, Version: "1.0.0"}
	s, err := NewInbound(deps, info, local)
	require.NoError(t, err)
	defer s.Disconnect(1000, "test done")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	raw, err := remote.Request(ctx, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, `"pong"`, string(raw))
}

func TestInboundStatusRespondsWithNodeInfo(t *testing.T) {
	deps, act := testDeps()
	defer act.Stop()

	local, remote := transport.NewMemConnPair("127.0.0.1:5000", "127.0.0.1:5001")
	info := peerinfo.PeerInfo{IPAddress: "127.0.0.1", WSPort: 5001, Version: "1.0.0"}
	s, err := NewInbound(deps, info, local)
	require.NoError(t, err)
	defer s.Disconnect(1000, "test done")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	raw, err := remote.Request(ctx, "status", nil)
	require.NoError(t, err)
	var node peerinfo.NodeInfo
	require.NoError(t, json.Unmarshal(raw, &node))
	require.Equal(t, "127.0.0.1", node.IPAddress)
	require.Equal(t, 6000, node.WSPort)
}

func TestRequestReceivedEmittedForUnknownProcedure(t *testing.T) {
	deps, act := testDeps()
	defer act.Stop()

	local, remote := transport.NewMemConnPair("127.0.0.1:5000", "127.0.0.1:5001")
	info := peerinfo.PeerInfo{IPAddress: "127.0.0.1", WSPort: 5001, Version: "1.0.0"}
	s, err := NewInbound(deps, info, local)
	require.NoError(t, err)
	defer s.Disconnect(1000, "test done")

	events := make(chan pevent.Event, 8)
	s.Events().Subscribe(events)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		raw, err := remote.Request(ctx, "customProcedure", json.RawMessage(`{"x":1}`))
		require.NoError(t, err)
		require.Equal(t, `"handled"`, string(raw))
	}()

	select {
	case ev := <-events:
		require.Equal(t, pevent.RequestReceived, ev.Name)
		data := ev.Data.(pevent.RequestReceivedData)
		require.Equal(t, "customProcedure", data.Procedure)
		require.NoError(t, data.Respond("handled"))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for requestReceived")
	}
}

func TestApplyPenaltyBansExactlyOnce(t *testing.T) {
	deps, act := testDeps()
	defer act.Stop()

	local, _ := transport.NewMemConnPair("127.0.0.1:5000", "127.0.0.1:5001")
	info := peerinfo.PeerInfo{IPAddress: "127.0.0.1", WSPort: 5001, Version: "1.0.0"}
	s, err := NewInbound(deps, info, local)
	require.NoError(t, err)

	events := make(chan pevent.Event, 8)
	s.Events().Subscribe(events)

	s.ApplyPenalty(10)
	require.Equal(t, 90, s.Reputation())
	require.Equal(t, Open, s.State())

	s.ApplyPenalty(100)
	require.Equal(t, Closed, s.State())

	// A further penalty after ban must not re-trigger another ban.
	s.ApplyPenalty(10)

	banCount := 0
	drain := true
	for drain {
		select {
		case ev := <-events:
			if ev.Name == pevent.BanPeer {
				banCount++
			}
		default:
			drain = false
		}
	}
	require.Equal(t, 1, banCount)
}

func TestProductivityResponseRateInvariant(t *testing.T) {
	deps, act := testDeps()
	defer act.Stop()

	local, remote := transport.NewMemConnPair("127.0.0.1:5000", "127.0.0.1:5001")
	info := peerinfo.PeerInfo{IPAddress: "127.0.0.1", WSPort: 5001, Version: "1.0.0"}
	s, err := NewInbound(deps, info, local)
	require.NoError(t, err)
	defer s.Disconnect(1000, "test done")

	go func() {
		for req := range remote.Requests() {
			_ = req.Respond(json.RawMessage(`{"ok":true}`))
		}
	}()

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := s.Request(ctx, "echo", nil)
		cancel()
		require.NoError(t, err)
	}

	snap := s.Snapshot()
	require.Equal(t, uint64(3), snap.Productivity.RequestCounter)
	require.Equal(t, uint64(3), snap.Productivity.ResponseCounter)
	require.InDelta(t, 1.0, snap.Productivity.ResponseRate, 0.0001)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	deps, act := testDeps()
	defer act.Stop()

	local, _ := transport.NewMemConnPair("127.0.0.1:5000", "127.0.0.1:5001")
	info := peerinfo.PeerInfo{IPAddress: "127.0.0.1", WSPort: 5001, Version: "1.0.0"}
	s, err := NewInbound(deps, info, local)
	require.NoError(t, err)

	events := make(chan pevent.Event, 8)
	s.Events().Subscribe(events)

	s.Disconnect(1000, "bye")
	s.Disconnect(1000, "bye again")

	count := 0
	drain := true
	for drain {
		select {
		case ev := <-events:
			if ev.Name == pevent.CloseInbound {
				count++
			}
		default:
			drain = false
		}
	}
	require.LessOrEqual(t, count, 1)
}
