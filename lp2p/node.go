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

// Package lp2p is the top-level facade: lifecycle
// (start/stop), the discovery populator loop, node-info propagation, and
// the top-level Request/Send surface a host application actually calls.
package lp2p

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/r5-labs/lp2p/actor"
	"github.com/r5-labs/lp2p/common/mclock"
	"github.com/r5-labs/lp2p/config"
	"github.com/r5-labs/lp2p/errs"
	"github.com/r5-labs/lp2p/event"
	"github.com/r5-labs/lp2p/log"
	"github.com/r5-labs/lp2p/netutil"
	"github.com/r5-labs/lp2p/peerbook"
	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/pevent"
	"github.com/r5-labs/lp2p/pool"
	"github.com/r5-labs/lp2p/transport"
)

// Node is the library's public entry point: one Node per mesh
// participant.
type Node struct {
	cfg       config.Config
	transport transport.Transport
	act       *actor.Actor
	clock     mclock.Clock
	log       log.Logger
	feed      event.Feed

	Pool *pool.Pool

	ownerID string
	lists   peerbook.SanitizedLists

	listener transport.Listener

	isActive int32

	populatorStop chan struct{}
	populatorOnce sync.Once

	acceptSub event.Subscription

	trackerMu sync.Mutex
	endpoints *netutil.EndpointTracker
}

// New constructs a Node around the given transport and local node info.
// lp2p's own wsconn/memconn implementations satisfy transport.Transport;
// a host application may supply its own.
func New(cfg config.Config, t transport.Transport, nodeInfo peerinfo.NodeInfo) (*Node, error) {
	ownerID, err := nodeInfo.ToPeerInfo().PeerID()
	if err != nil {
		return nil, fmt.Errorf("lp2p: invalid local node info: %w", err)
	}
	clock := mclock.Clock(mclock.System{})
	act := actor.New()
	p := pool.New(cfg, act, clock, t, nodeInfo, ownerID)
	p.SetFixedPeers(cfg.PeerLists.FixedPeers)

	n := &Node{
		cfg:       cfg,
		transport: t,
		act:       act,
		clock:     clock,
		log:       log.New("lp2p", "peerId", ownerID),
		Pool:      p,
		ownerID:   ownerID,
		endpoints: netutil.NewEndpointTracker(10*time.Minute, 3),
	}
	n.relayPoolEvents()
	return n, nil
}

// Events returns the facade's observable event stream.
func (n *Node) Events() *event.Feed { return &n.feed }

func (n *Node) relayPoolEvents() {
	ch := make(chan pevent.Event, 256)
	sub := n.Pool.Events().Subscribe(ch)
	n.acceptSub = sub
	go func() {
		for ev := range ch {
			if ev.Name == pevent.ConnectOutbound {
				n.trackerMu.Lock()
				n.endpoints.AddContact(ev.PeerID)
				n.trackerMu.Unlock()
			}
			n.feed.Send(ev)
		}
	}()
}

// IsActive reports whether Start has been called without a matching Stop.
func (n *Node) IsActive() bool {
	return atomic.LoadInt32(&n.isActive) == 1
}

// Start sanitizes the configured peer lists, opens the listening socket,
// spawns the discovery populator, and marks the node active.
func (n *Node) Start(bindAddr string) error {
	if !atomic.CompareAndSwapInt32(&n.isActive, 0, 1) {
		return fmt.Errorf("lp2p: node already started")
	}

	lists, err := peerbook.SanitizePeerLists(n.cfg.PeerLists, n.cfg.BlacklistedIPs)
	if err != nil {
		atomic.StoreInt32(&n.isActive, 0)
		return fmt.Errorf("lp2p: failed to sanitize peer lists: %w", err)
	}
	n.lists = lists
	n.Pool.SetFixedPeers(lists.FixedPeers)
	n.Pool.SetWhitelist(lists.Whitelisted)
	for _, p := range lists.SeedPeers {
		_ = n.Pool.Book.AddNew(p)
	}
	for _, p := range lists.PreviousPeers {
		_ = n.Pool.Book.AddNew(p)
	}

	listener, err := n.transport.Listen(bindAddr)
	if err != nil {
		atomic.StoreInt32(&n.isActive, 0)
		return fmt.Errorf("lp2p: failed to listen on %s: %w", bindAddr, err)
	}
	n.listener = listener
	go n.acceptLoop(listener)

	n.populatorStop = make(chan struct{})
	n.populatorOnce = sync.Once{}
	n.startPopulator()

	n.log.Info("node started", "bindAddr", bindAddr)
	return nil
}

// Stop cancels the populator, disconnects every live session, and closes
// the listener.
func (n *Node) Stop() {
	if !atomic.CompareAndSwapInt32(&n.isActive, 1, 0) {
		return
	}
	n.populatorOnce.Do(func() { close(n.populatorStop) })
	n.Pool.RemoveAllPeers(transport.IntentionalDisconnectCode)
	if n.listener != nil {
		_ = n.listener.Close()
	}
	n.act.Stop()
	n.log.Info("node stopped")
}

func (n *Node) acceptLoop(listener transport.Listener) {
	for accepted := range listener.Accept() {
		n.handleAccepted(accepted)
	}
}

func (n *Node) handleAccepted(accepted transport.Accepted) {
	info, err := peerInfoFromQuery(accepted.Query, n.cfg.MaxPeerInfoSize)
	if err != nil {
		n.log.Debug("rejected inbound handshake", "err", err)
		_ = accepted.Conn.Close(transport.IncompatibleNetworkCode, "invalid handshake")
		return
	}
	if !peerinfo.CheckCompatibility(info, n.Pool.NodeInfo()) {
		_ = accepted.Conn.Close(transport.IncompatibleProtocolVersionCode, "incompatible protocol version")
		return
	}
	s, err := n.Pool.AddInboundPeer(info, accepted.Conn)
	if err != nil {
		n.log.Debug("failed to admit inbound peer", "err", err)
		_ = accepted.Conn.Close(transport.ForbiddenConnectionCode, "connection refused")
		return
	}
	if stated := accepted.Query["remoteAddress"]; stated != "" {
		n.trackerMu.Lock()
		n.endpoints.AddVote(s.PeerID(), stated)
		n.trackerMu.Unlock()
	}
}

// peerInfoFromQuery builds and validates a wire PeerInfo from the
// handshake query string the remote dialer supplied.
func peerInfoFromQuery(query map[string]string, maxSize int) (peerinfo.PeerInfo, error) {
	wire := map[string]any{
		"ip":      query["ipAddress"],
		"version": query["version"],
	}
	if port, err := strconv.Atoi(query["wsPort"]); err == nil {
		wire["wsPort"] = port
	}
	if height, err := strconv.ParseUint(query["height"], 10, 64); err == nil {
		wire["height"] = height
	}
	if pv := query["protocolVersion"]; pv != "" {
		wire["protocolVersion"] = pv
	}
	if os := query["os"]; os != "" {
		wire["os"] = os
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return peerinfo.PeerInfo{}, err
	}
	return peerinfo.ValidatePeerInfo(raw, maxSize)
}

// ApplyNodeInfo caches the node's new advertised state and propagates it
// to every live session.
func (n *Node) ApplyNodeInfo(ctx context.Context, info peerinfo.NodeInfo) {
	n.Pool.ApplyNodeInfo(ctx, info)
}

// Request issues a top-level RPC request via the configured
// peerSelectionForRequest plug-in.
func (n *Node) Request(ctx context.Context, procedure string, data any) (interface{}, error) {
	if !n.IsActive() {
		return nil, errs.New(errs.KindRequestFail, "", "node is not active")
	}
	return n.Pool.Request(ctx, procedure, data)
}

// Send fans a fire-and-forget message out via the configured
// peerSelectionForSend plug-in.
func (n *Node) Send(ctx context.Context, eventName string, data any) []error {
	if !n.IsActive() {
		return []error{errs.New(errs.KindSendFail, "", "node is not active")}
	}
	return n.Pool.SendMessage(ctx, eventName, data)
}

// GetConnectedPeers returns every currently connected peerId.
func (n *Node) GetConnectedPeers() []string {
	return n.Pool.GetConnectedPeers()
}

// ApplyPenalty lowers a connected peer's reputation by the given amount,
// banning and disconnecting it once the score is exhausted.
func (n *Node) ApplyPenalty(peerID string, penalty int) error {
	return n.Pool.ApplyPenalty(peerID, penalty)
}

// PredictedEndpoint reports the external "host:port" this node appears
// as to its dialers, once a quorum of handshake votes agrees on one, and
// whether unsolicited inbound connections have been seen (the signature
// of a reachable address or full-cone NAT). Empty until the quorum is
// reached.
func (n *Node) PredictedEndpoint() (endpoint string, reachable bool) {
	n.trackerMu.Lock()
	defer n.trackerMu.Unlock()
	return n.endpoints.Predict(), n.endpoints.UnsolicitedVotes()
}
