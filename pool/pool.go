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

// Package pool implements the peer-pool connection manager:
// inbound/outbound session maps, quota enforcement, eviction under
// pressure, outbound shuffle, ban/unban, and peer-selection dispatch.
//
// The Pool owns one actor.Actor shared with every Session it
// creates; every map mutation and every cross-session decision (eviction,
// shuffle, ban) runs as a task on that actor, so the two peer maps never
// need a mutex.
package pool

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/r5-labs/lp2p/actor"
	"github.com/r5-labs/lp2p/common/mclock"
	"github.com/r5-labs/lp2p/config"
	"github.com/r5-labs/lp2p/errs"
	"github.com/r5-labs/lp2p/event"
	"github.com/r5-labs/lp2p/log"
	"github.com/r5-labs/lp2p/peerbook"
	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/pevent"
	"github.com/r5-labs/lp2p/selection"
	"github.com/r5-labs/lp2p/session"
	"github.com/r5-labs/lp2p/transport"
)

// Pool is the process-lifetime container of every live session.
type Pool struct {
	cfg    config.Config
	actor  *actor.Actor
	clock  mclock.Clock
	dialer transport.Dialer
	log    log.Logger
	feed   event.Feed

	Book *peerbook.Book

	nodeInfo peerinfo.NodeInfo

	inbound  map[string]*session.Session
	outbound map[string]*session.Session

	banned    map[string]struct{}
	fixedByID map[string]struct{}
	whitelist map[string]struct{}

	shuffleTimer *mclock.Timer
}

// New constructs a Pool. nodeInfo is the local node's advertised state;
// it is handed to sessions via a LocalInfo closure so ApplyNodeInfo
// can update it afterward without reconstructing sessions.
func New(cfg config.Config, act *actor.Actor, clock mclock.Clock, dialer transport.Dialer, nodeInfo peerinfo.NodeInfo, ownerID string) *Pool {
	bookCfg := peerbook.DefaultConfig()
	bookCfg.Secret = cfg.Secret
	p := &Pool{
		cfg:       cfg,
		actor:     act,
		clock:     clock,
		dialer:    dialer,
		log:       log.New("pool"),
		Book:      peerbook.New(bookCfg, ownerID),
		nodeInfo:  nodeInfo,
		inbound:   make(map[string]*session.Session),
		outbound:  make(map[string]*session.Session),
		banned:    make(map[string]struct{}),
		fixedByID: make(map[string]struct{}),
		whitelist: make(map[string]struct{}),
	}
	p.scheduleShuffle()
	return p
}

// Events returns the pool's re-emitted observable event stream: every
// session event is relayed here, plus pool-level events like removePeer.
func (p *Pool) Events() *event.Feed { return &p.feed }

// NodeInfo returns the cached local node info via the actor.
func (p *Pool) NodeInfo() peerinfo.NodeInfo {
	var info peerinfo.NodeInfo
	p.actor.RunSync(func() { info = p.nodeInfo })
	return info
}

// SetNodeInfo updates the cached local node info.
func (p *Pool) SetNodeInfo(info peerinfo.NodeInfo) {
	p.actor.RunSync(func() { p.nodeInfo = info })
}

// SetFixedPeers records which peerIds are "fixed": never shuffled,
// always dialed.
func (p *Pool) SetFixedPeers(fixed []peerinfo.PeerInfo) {
	p.actor.RunSync(func() {
		p.fixedByID = make(map[string]struct{}, len(fixed))
		for _, f := range fixed {
			if id, err := f.PeerID(); err == nil {
				p.fixedByID[id] = struct{}{}
			}
		}
	})
}

func (p *Pool) sessionDeps() session.Deps {
	return session.Deps{
		Config: p.cfg,
		Actor:  p.actor,
		Clock:  p.clock,
		Dialer: p.dialer,
		LocalInfo: func() peerinfo.NodeInfo {
			return p.NodeInfo()
		},
		ListPeers: func() []peerinfo.PeerInfo {
			return p.Book.GetAllPeers()
		},
		OnPeerList: func(peers []peerinfo.PeerInfo) {
			for _, pi := range peers {
				_ = p.Book.AddNew(pi)
			}
		},
	}
}

// AddInboundPeer admits a newly-accepted connection, evicting one
// existing inbound peer first if the scaled quota is full.
func (p *Pool) AddInboundPeer(info peerinfo.PeerInfo, conn transport.Conn) (*session.Session, error) {
	peerID, err := info.PeerID()
	if err != nil {
		return nil, errs.Wrap(errs.KindPeerInboundHandshakeError, "", "invalid peer info", err)
	}

	var refused bool
	var evictVictim *session.Session
	var staleExisting *session.Session
	p.actor.RunSync(func() {
		if _, isBanned := p.banned[peerID]; isBanned {
			refused = true
			return
		}
		if existing, ok := p.inbound[peerID]; ok {
			staleExisting = existing
			return
		}
		quota := p.inboundQuotaLocked()
		if len(p.inbound) >= quota {
			evictVictim = p.chooseEvictionVictimLocked()
		}
	})
	if refused {
		return nil, errs.New(errs.KindPeerInboundHandshakeError, peerID, "peer is banned")
	}
	if staleExisting != nil {
		// A second inbound connection from the same peerId replaces the
		// stale one rather than accumulating duplicates.
		staleExisting.Disconnect(transport.IntentionalDisconnectCode, "superseded by new inbound connection")
	}
	if evictVictim != nil {
		evictVictim.Disconnect(transport.EvictedPeerCode, "inbound quota exceeded")
	}

	s, err := session.NewInbound(p.sessionDeps(), info, conn)
	if err != nil {
		return nil, errs.Wrap(errs.KindPeerInboundHandshakeError, peerID, "failed to create session", err)
	}
	p.actor.RunSync(func() {
		p.inbound[peerID] = s
	})
	p.relay(s)
	return s, nil
}

// inboundQuotaLocked computes the module-scaled inbound quota. Caller
// holds the actor.
func (p *Pool) inboundQuotaLocked() int {
	factor := p.cfg.InboundQuotaModuleFactor
	if factor <= 0 {
		factor = 1
	}
	return p.cfg.MaxInboundConnections * (len(p.nodeInfo.Modules) + factor)
}

// AddOutboundPeer dials (lazily, on first traffic) a new outbound session.
// Idempotent by peerId: a second call for an already-known outbound
// peerId returns the existing session. Dialing out to a peerId that is
// already connected inbound is rejected: the duplicate would carry the
// same identity over a second socket, so the call fails with an
// RPCResponseError and the original inbound entry is left untouched.
func (p *Pool) AddOutboundPeer(info peerinfo.PeerInfo) (*session.Session, error) {
	peerID, err := info.PeerID()
	if err != nil {
		return nil, err
	}

	var existing *session.Session
	var banned, duplicate bool
	p.actor.RunSync(func() {
		if _, isBanned := p.banned[peerID]; isBanned {
			banned = true
			return
		}
		if already, ok := p.outbound[peerID]; ok {
			existing = already
			return
		}
		if _, ok := p.inbound[peerID]; ok {
			duplicate = true
		}
	})
	if banned {
		return nil, errs.New(errs.KindPeerOutboundConnectionError, peerID, "peer is banned")
	}
	if existing != nil {
		return existing, nil
	}
	if duplicate {
		return nil, errs.New(errs.KindRPCResponseError, peerID, "peer already connected inbound")
	}

	s, err := session.NewOutbound(p.sessionDeps(), info)
	if err != nil {
		return nil, err
	}
	p.actor.RunSync(func() {
		if already, ok := p.outbound[peerID]; ok {
			existing = already
			return
		}
		p.outbound[peerID] = s
	})
	if existing != nil {
		return existing, nil
	}
	p.relay(s)
	return s, nil
}

// relay subscribes to s's events and re-emits them on the pool's own
// feed, injecting the removePeer side effect on close.
// The forwarding goroutine below is a plain reader, never the actor
// goroutine itself, so it may safely call back into the actor without
// risking self-reentrancy.
func (p *Pool) relay(s *session.Session) {
	ch := make(chan pevent.Event, 256)
	sub := s.Events().Subscribe(ch)
	go func() {
		defer sub.Unsubscribe()
		for ev := range ch {
			p.handleSessionEvent(s, ev)
			p.feed.Send(ev)
			if ev.Name == pevent.CloseInbound || ev.Name == pevent.CloseOutbound || ev.Name == pevent.ConnectAbortOutbound {
				return
			}
		}
	}()
}

func (p *Pool) handleSessionEvent(s *session.Session, ev pevent.Event) {
	switch ev.Name {
	case pevent.CloseInbound, pevent.CloseOutbound:
		// Only drop the closing session's own entry: the same peerId can
		// hold one inbound and one outbound session at once, and closing
		// one must not orphan the other.
		p.actor.RunSync(func() {
			if cur, ok := p.inbound[ev.PeerID]; ok && cur == s {
				delete(p.inbound, ev.PeerID)
			}
			if cur, ok := p.outbound[ev.PeerID]; ok && cur == s {
				delete(p.outbound, ev.PeerID)
			}
		})
		p.feed.Send(pevent.Event{Name: pevent.RemovePeer, PeerID: ev.PeerID})
	case pevent.ConnectAbortOutbound:
		// A session whose dial failed never opened, so no close event
		// will ever fire for it; drop it here so the next discovery
		// cycle can redial the address.
		p.actor.RunSync(func() {
			if cur, ok := p.outbound[ev.PeerID]; ok && cur == s {
				delete(p.outbound, ev.PeerID)
			}
		})
		p.feed.Send(pevent.Event{Name: pevent.RemovePeer, PeerID: ev.PeerID})
	case pevent.ConnectOutbound:
		if err := p.Book.UpgradeNewToTried(ev.PeerID); err != nil {
			_ = p.Book.AddTried(s.Info())
		}
	case pevent.BanPeer:
		p.scheduleBan(ev.PeerID)
	}
}

func (p *Pool) scheduleBan(peerID string) {
	p.actor.RunSync(func() {
		p.banned[peerID] = struct{}{}
	})
	p.clock.AfterFunc(p.cfg.PeerBanTime, func() {
		p.actor.Run(func() {
			delete(p.banned, peerID)
		})
		p.feed.Send(pevent.Event{Name: pevent.UnbanPeer, PeerID: peerID})
	})
}

// ApplyPenalty lowers peerID's reputation by n, banning it if the score
// is exhausted.
func (p *Pool) ApplyPenalty(peerID string, n int) error {
	s := p.sessionByID(peerID)
	if s == nil {
		return errs.New(errs.KindSendFail, peerID, "peer not connected")
	}
	s.ApplyPenalty(n)
	return nil
}

// RemovePeer disconnects and drops peerID from whichever map holds it.
func (p *Pool) RemovePeer(peerID string, code int, reason string) {
	var s *session.Session
	p.actor.RunSync(func() {
		if v, ok := p.inbound[peerID]; ok {
			s = v
		} else if v, ok := p.outbound[peerID]; ok {
			s = v
		}
	})
	if s != nil {
		s.Disconnect(code, reason)
	}
}

// RemoveAllPeers disconnects every session.
func (p *Pool) RemoveAllPeers(code int) {
	var all []*session.Session
	p.actor.RunSync(func() {
		for _, s := range p.inbound {
			all = append(all, s)
		}
		for _, s := range p.outbound {
			all = append(all, s)
		}
	})
	for _, s := range all {
		s.Disconnect(code, "removeAllPeers")
	}
}

// Candidates returns every connected session's selection.Candidate view.
func (p *Pool) Candidates() []selection.Candidate {
	var list []*session.Session
	p.actor.RunSync(func() {
		for _, s := range p.inbound {
			list = append(list, s)
		}
		for _, s := range p.outbound {
			list = append(list, s)
		}
	})
	out := make([]selection.Candidate, 0, len(list))
	for _, s := range list {
		out = append(out, selection.Candidate{PeerID: s.PeerID(), Info: s.Info()})
	}
	return out
}

// GetConnectedPeers returns every currently connected peerId.
func (p *Pool) GetConnectedPeers() []string {
	var ids []string
	p.actor.RunSync(func() {
		for id := range p.inbound {
			ids = append(ids, id)
		}
		for id := range p.outbound {
			ids = append(ids, id)
		}
	})
	return ids
}

// sessionByID returns a connected session, inbound or outbound.
func (p *Pool) sessionByID(peerID string) *session.Session {
	var s *session.Session
	p.actor.RunSync(func() {
		if v, ok := p.inbound[peerID]; ok {
			s = v
			return
		}
		if v, ok := p.outbound[peerID]; ok {
			s = v
		}
	})
	return s
}

// Request dispatches a top-level request via the configured
// peerSelectionForRequest plug-in.
func (p *Pool) Request(ctx context.Context, procedure string, data any) (interface{}, error) {
	candidates := p.Candidates()
	peerID, ok := p.cfg.SelectForRequest(selection.ForRequestInput{
		Peers:     candidates,
		NodeInfo:  p.NodeInfo(),
		Procedure: procedure,
		Data:      data,
	})
	if !ok {
		return nil, errs.New(errs.KindRequestFail, "", "no peer available")
	}
	s := p.sessionByID(peerID)
	if s == nil {
		return nil, errs.New(errs.KindRequestFail, peerID, "selected peer not connected")
	}
	return s.Request(ctx, procedure, data)
}

// RequestFrom issues a request at a specific peerId, bypassing the
// selection plug-ins. Used by the facade's discovery populator, which needs to probe a particular sampled peer rather than let
// peerSelectionForRequest choose one.
func (p *Pool) RequestFrom(ctx context.Context, peerID, procedure string, data any) (interface{}, error) {
	s := p.sessionByID(peerID)
	if s == nil {
		return nil, errs.New(errs.KindRequestFail, peerID, "peer not connected")
	}
	return s.Request(ctx, procedure, data)
}

// SendMessage fans a fire-and-forget message out to the configured
// peerSelectionForSend plug-in's targets.
func (p *Pool) SendMessage(ctx context.Context, eventName string, data any) []error {
	candidates := p.Candidates()
	targets := p.cfg.SelectForSend(selection.ForSendInput{
		Peers:     candidates,
		NodeInfo:  p.NodeInfo(),
		PeerLimit: p.cfg.SendPeerLimit,
		Event:     eventName,
		Data:      data,
	})
	var errsOut []error
	for _, peerID := range targets {
		s := p.sessionByID(peerID)
		if s == nil {
			errsOut = append(errsOut, errs.New(errs.KindSendFail, peerID, "peer not connected"))
			p.feed.Send(pevent.Event{Name: pevent.FailedToSendMessage, PeerID: peerID})
			continue
		}
		if err := s.Send(ctx, eventName, data); err != nil {
			errsOut = append(errsOut, err)
			p.feed.Send(pevent.Event{Name: pevent.FailedToSendMessage, PeerID: peerID, Data: err})
		}
	}
	return errsOut
}

// ApplyNodeInfo caches and propagates new node info to every live
// session.
func (p *Pool) ApplyNodeInfo(ctx context.Context, info peerinfo.NodeInfo) {
	p.SetNodeInfo(info)
	var all []*session.Session
	p.actor.RunSync(func() {
		for _, s := range p.inbound {
			all = append(all, s)
		}
		for _, s := range p.outbound {
			all = append(all, s)
		}
	})
	for _, s := range all {
		if err := s.ApplyNodeInfo(ctx, info); err != nil {
			p.feed.Send(pevent.Event{Name: pevent.FailedToPushNodeInfo, PeerID: s.PeerID(), Data: err})
		}
	}
}

// TriggerNewConnections filters already-connected or fixed entries out
// of the "disconnected" pools, asks peerSelectionForConnection for the
// rest, and always also dials every disconnected fixed peer.
func (p *Pool) TriggerNewConnections(newPeers, triedPeers, fixedPeers []peerinfo.PeerInfo) {
	connected := mapset.NewThreadUnsafeSet[string](p.GetConnectedPeers()...)
	fixedIDs := mapset.NewThreadUnsafeSet[string]()
	p.actor.RunSync(func() {
		for id := range p.fixedByID {
			fixedIDs.Add(id)
		}
	})

	filterDisconnected := func(in []peerinfo.PeerInfo) []peerinfo.PeerInfo {
		out := make([]peerinfo.PeerInfo, 0, len(in))
		for _, pi := range in {
			id, err := pi.PeerID()
			if err != nil || connected.Contains(id) || fixedIDs.Contains(id) {
				continue
			}
			out = append(out, pi)
		}
		return out
	}

	disconnectedNew := filterDisconnected(newPeers)
	disconnectedTried := filterDisconnected(triedPeers)

	var connectedNew, connectedTried []peerinfo.PeerInfo
	for _, pi := range newPeers {
		if id, err := pi.PeerID(); err == nil && connected.Contains(id) {
			connectedNew = append(connectedNew, pi)
		}
	}
	for _, pi := range triedPeers {
		if id, err := pi.PeerID(); err == nil && connected.Contains(id) {
			connectedTried = append(connectedTried, pi)
		}
	}

	currentOutbound := 0
	p.actor.RunSync(func() { currentOutbound = len(p.outbound) })
	currentInbound := 0
	p.actor.RunSync(func() { currentInbound = len(p.inbound) })

	targets := p.cfg.SelectForConnection(selection.ConnectionCandidates{
		DisconnectedNewPeers:   disconnectedNew,
		DisconnectedTriedPeers: disconnectedTried,
		ConnectedNewPeers:      connectedNew,
		ConnectedTriedPeers:    connectedTried,
		NodeInfo:               p.NodeInfo(),
		CurrentOutbound:        currentOutbound,
		MaxOutbound:            p.cfg.MaxOutboundConnections,
		CurrentInbound:         currentInbound,
		MaxInbound:             p.cfg.MaxInboundConnections,
	})

	for _, pi := range fixedPeers {
		id, err := pi.PeerID()
		if err != nil || connected.Contains(id) {
			continue
		}
		p.dialOutbound(pi)
	}
	for _, pi := range targets {
		p.dialOutbound(pi)
	}
}

// dialOutbound registers an outbound session and establishes its socket in
// the background, so a freshly selected peer starts its on-connect
// status/list exchange without waiting for first traffic.
func (p *Pool) dialOutbound(pi peerinfo.PeerInfo) {
	s, err := p.AddOutboundPeer(pi)
	if err != nil {
		id, _ := pi.PeerID()
		p.log.Debug("failed to dial peer", "peer", id, "err", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
		defer cancel()
		if err := s.Connect(ctx); err != nil {
			p.log.Debug("outbound connect failed", "peer", s.PeerID(), "err", err)
		}
	}()
}
