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

// Package simnet runs a mesh of lp2p nodes over the in-memory transport,
// so multi-node behavior (discovery convergence, fan-out, bans) can be
// exercised in-process without sockets.
package simnet

import (
	"fmt"
	"time"

	"github.com/r5-labs/lp2p/config"
	"github.com/r5-labs/lp2p/lp2p"
	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/transport"
)

// LoopbackIP is the address every simulated node binds to, in the
// normalized uncompressed form peer identifiers use.
const LoopbackIP = "0:0:0:0:0:0:0:1"

// Node is one simulated mesh participant.
type Node struct {
	*lp2p.Node
	Info peerinfo.NodeInfo
	ID   string
}

// Network is a set of simulated nodes sharing one in-memory wire.
type Network struct {
	Mem   *transport.MemNetwork
	Nodes []*Node
}

// Addr returns the listen/dial address of the node on port.
func Addr(port int) string {
	return fmt.Sprintf("%s:%d", LoopbackIP, port)
}

// PeerIDFor returns the canonical peer identifier of the node on port.
func PeerIDFor(port int) string {
	return fmt.Sprintf("[%s]:%d", LoopbackIP, port)
}

// SeedFor builds a seed-list entry pointing at the node on port.
func SeedFor(port int) peerinfo.PeerInfo {
	return peerinfo.PeerInfo{
		IPAddress:       LoopbackIP,
		WSPort:          port,
		Version:         "1.0.0",
		ProtocolVersion: "1.1",
	}
}

// Launch starts count nodes on ports basePort..basePort+count-1, all on
// one in-memory network. mutate, if non-nil, may adjust each node's
// config before that node is constructed; it is also where tests install
// seed lists. Nodes come up with a fast populator so small meshes
// converge quickly.
func Launch(count, basePort int, mutate func(i int, cfg *config.Config)) (*Network, error) {
	mem := transport.NewMemNetwork()
	net := &Network{Mem: mem}
	for i := 0; i < count; i++ {
		port := basePort + i
		cfg := config.Default()
		cfg.Secret = uint32(i + 1)
		cfg.PopulatorStartDelay = 10 * time.Millisecond
		cfg.PopulatorInterval = 50 * time.Millisecond
		cfg.ConnectTimeout = 500 * time.Millisecond
		cfg.AckTimeout = 500 * time.Millisecond
		cfg.OutboundShuffleInterval = 0 // no shuffling under test
		if mutate != nil {
			mutate(i, &cfg)
		}
		info := peerinfo.NodeInfo{
			IPAddress:       LoopbackIP,
			WSPort:          port,
			Version:         "1.0.0",
			ProtocolVersion: "1.1",
			OS:              "linux",
		}
		t := transport.NewMemTransport(mem, Addr(port))
		n, err := lp2p.New(cfg, t, info)
		if err != nil {
			net.Stop()
			return nil, fmt.Errorf("simnet: node %d: %w", i, err)
		}
		if err := n.Start(Addr(port)); err != nil {
			net.Stop()
			return nil, fmt.Errorf("simnet: start node %d: %w", i, err)
		}
		net.Nodes = append(net.Nodes, &Node{Node: n, Info: info, ID: PeerIDFor(port)})
	}
	return net, nil
}

// Stop shuts every node down.
func (net *Network) Stop() {
	for _, n := range net.Nodes {
		n.Node.Stop()
	}
}
