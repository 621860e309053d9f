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
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r5-labs/lp2p/config"
	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/transport"
)

func TestPeerInfoFromQuery(t *testing.T) {
	query := map[string]string{
		"ipAddress":       "::1",
		"wsPort":          "5000",
		"version":         "1.2.3",
		"protocolVersion": "1.1",
		"os":              "linux",
		"height":          "42",
	}
	info, err := peerInfoFromQuery(query, 4096)
	require.NoError(t, err)
	require.Equal(t, "0:0:0:0:0:0:0:1", info.IPAddress)
	require.Equal(t, 5000, info.WSPort)
	require.Equal(t, "1.2.3", info.Version)
	require.Equal(t, uint64(42), info.Height)

	id, err := info.PeerID()
	require.NoError(t, err)
	require.Equal(t, "[0:0:0:0:0:0:0:1]:5000", id)
}

func TestPeerInfoFromQueryRejectsBadHandshake(t *testing.T) {
	_, err := peerInfoFromQuery(map[string]string{"ipAddress": "nonsense", "wsPort": "5000", "version": "1.0.0"}, 4096)
	require.Error(t, err)

	_, err = peerInfoFromQuery(map[string]string{"ipAddress": "127.0.0.1", "wsPort": "0", "version": "1.0.0"}, 4096)
	require.Error(t, err)

	_, err = peerInfoFromQuery(map[string]string{"ipAddress": "127.0.0.1", "wsPort": "5000", "version": "not-semver"}, 4096)
	require.Error(t, err)
}

func TestPredictedEndpointFromHandshakes(t *testing.T) {
	mem := transport.NewMemNetwork()
	tr := transport.NewMemTransport(mem, "127.0.0.1:6000")
	cfg := config.Default()
	cfg.PopulatorInterval = 0

	info := peerinfo.NodeInfo{IPAddress: "127.0.0.1", WSPort: 6000, Version: "1.0.0", ProtocolVersion: "1.1"}
	node, err := New(cfg, tr, info)
	require.NoError(t, err)
	defer node.Pool.RemoveAllPeers(transport.IntentionalDisconnectCode)

	endpoint, reachable := node.PredictedEndpoint()
	require.Empty(t, endpoint, "no prediction before any handshake")
	require.False(t, reachable)

	// Three distinct dialers each report having reached us at the same
	// external endpoint.
	for i := 0; i < 3; i++ {
		dialerIP := fmt.Sprintf("10.0.0.%d", i+1)
		_, acceptorEnd := transport.NewMemConnPair(fmt.Sprintf("%s:7101", dialerIP), "127.0.0.1:6000")
		node.handleAccepted(transport.Accepted{
			Conn: acceptorEnd,
			Query: map[string]string{
				"ipAddress":       dialerIP,
				"wsPort":          "7101",
				"version":         "1.0.0",
				"protocolVersion": "1.1",
				"remoteAddress":   "203.0.113.7:6000",
			},
		})
	}
	require.Len(t, node.GetConnectedPeers(), 3)

	endpoint, reachable = node.PredictedEndpoint()
	require.Equal(t, "203.0.113.7:6000", endpoint)
	require.True(t, reachable, "handshakes we never solicited imply a reachable address")
}

func TestStartStopLifecycle(t *testing.T) {
	mem := transport.NewMemNetwork()
	tr := transport.NewMemTransport(mem, "127.0.0.1:6000")
	cfg := config.Default()
	cfg.PopulatorInterval = 0 // no discovery in this test

	info := peerinfo.NodeInfo{IPAddress: "127.0.0.1", WSPort: 6000, Version: "1.0.0"}
	node, err := New(cfg, tr, info)
	require.NoError(t, err)
	require.False(t, node.IsActive())

	require.NoError(t, node.Start("127.0.0.1:6000"))
	require.True(t, node.IsActive())
	require.Error(t, node.Start("127.0.0.1:6000"), "double start must fail")

	node.Stop()
	require.False(t, node.IsActive())

	_, err = node.Request(context.Background(), "status", nil)
	require.Error(t, err, "request on a stopped node must fail")
}
