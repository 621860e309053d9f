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

// Package session implements the per-peer connection state machine: rate
// meters, productivity, the RPC/message multiplex over one duplex
// transport.Conn, keep-alive, and reputation/ban.
//
// All state mutation happens as a task submitted to the Actor shared with
// the owning pool: a Session's own goroutines only read transport
// channels and perform transport I/O; every read of or write to Session
// state runs as an actor.Run/RunSync closure, so no mutex guards any
// field below.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/r5-labs/lp2p/actor"
	"github.com/r5-labs/lp2p/common/mclock"
	"github.com/r5-labs/lp2p/config"
	"github.com/r5-labs/lp2p/errs"
	"github.com/r5-labs/lp2p/event"
	"github.com/r5-labs/lp2p/log"
	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/pevent"
	"github.com/r5-labs/lp2p/transport"
)

// Kind distinguishes who initiated the connection.
type Kind int

const (
	Inbound Kind = iota
	Outbound
)

func (k Kind) String() string {
	if k == Outbound {
		return "outbound"
	}
	return "inbound"
}

// State is the connection lifecycle: connecting -> open,
// open -> closed. closed is terminal; all transitions are idempotent.
type State int

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "connecting"
	}
}

// Productivity tracks remote responsiveness to our outgoing requests.
type Productivity struct {
	RequestCounter  uint64
	ResponseCounter uint64
	ResponseRate    float64
	LastResponded   mclock.AbsTime
}

// Deps bundles the external collaborators a Session needs, shared across
// every Session a single pool creates.
type Deps struct {
	Config    config.Config
	Actor     *actor.Actor
	Clock     mclock.Clock
	Dialer    transport.Dialer
	LocalInfo func() peerinfo.NodeInfo
	// ListPeers supplies the response of the built-in "list" procedure.
	ListPeers func() []peerinfo.PeerInfo
	// OnPeerList receives validated peers collected from the remote's
	// "list" response on connect.
	OnPeerList func([]peerinfo.PeerInfo)
}

// Session wraps one duplex transport.Conn.
type Session struct {
	deps Deps
	log  log.Logger
	feed event.Feed

	peerID string
	info   peerinfo.PeerInfo
	kind   Kind

	state       State
	reputation  int
	latency     time.Duration
	connectTime time.Time

	conn   transport.Conn
	banned bool
	closed int32 // atomic; guards against double-close from concurrent goroutines

	wsMessageCount int64
	wsMessageRate  float64

	rpcCounter map[string]uint64
	rpcRates   map[string]float64

	messageCounter map[string]uint64
	messageRates   map[string]float64

	productivity Productivity

	rateTimer *mclock.Timer
	prodTimer *mclock.Timer
	pingTimer *mclock.Timer

	failedToCollectOnConnect bool
}

// NewInbound wraps an already-accepted transport.Conn.
func NewInbound(deps Deps, info peerinfo.PeerInfo, conn transport.Conn) (*Session, error) {
	peerID, err := info.PeerID()
	if err != nil {
		return nil, err
	}
	s := newSession(deps, info, peerID, Inbound)
	s.conn = conn
	s.state = Open
	s.connectTime = time.Now()
	s.startCommonTimers()
	s.startReaders()
	s.schedulePing()
	return s, nil
}

// NewOutbound creates a Session that lazily dials on first Send/Request.
func NewOutbound(deps Deps, info peerinfo.PeerInfo) (*Session, error) {
	peerID, err := info.PeerID()
	if err != nil {
		return nil, err
	}
	s := newSession(deps, info, peerID, Outbound)
	s.state = Connecting
	return s, nil
}

func newSession(deps Deps, info peerinfo.PeerInfo, peerID string, kind Kind) *Session {
	return &Session{
		deps:           deps,
		log:            log.New("session", "peerId", peerID, "kind", kind.String()),
		peerID:         peerID,
		info:           info,
		kind:           kind,
		reputation:     100,
		rpcCounter:     make(map[string]uint64),
		rpcRates:       make(map[string]float64),
		messageCounter: make(map[string]uint64),
		messageRates:   make(map[string]float64),
	}
}

// PeerID returns the session's canonical identity.
func (s *Session) PeerID() string { return s.peerID }

// Kind returns inbound/outbound.
func (s *Session) Kind() Kind { return s.kind }

// Events returns the session's observable event stream.
func (s *Session) Events() *event.Feed { return &s.feed }

// Snapshot is a read-only view of Session state for eviction ranking and
// diagnostics, such as the eviction cascade's latency/productivity/
// longevity rankings.
type Snapshot struct {
	PeerID       string
	Info         peerinfo.PeerInfo
	Kind         Kind
	State        State
	Reputation   int
	Latency      time.Duration
	ConnectTime  time.Time
	Productivity Productivity
}

// Snapshot reads the current state via the actor.
func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	s.deps.Actor.RunSync(func() {
		snap = s.SnapshotNoSync()
	})
	return snap
}

// SnapshotNoSync reads session state directly, without going through the
// actor. It is only safe to call from a goroutine already executing on
// the actor shared by this Session and its owning pool (e.g. from inside
// an actor.Run/RunSync closure) — calling RunSync again from there would
// deadlock against itself (actor.Actor.RunSync's own re-entrancy rule),
// which is exactly the situation pool's eviction cascade is in when it
// ranks already-actor-confined candidates.
func (s *Session) SnapshotNoSync() Snapshot {
	return Snapshot{
		PeerID:       s.peerID,
		Info:         s.info,
		Kind:         s.kind,
		State:        s.state,
		Reputation:   s.reputation,
		Latency:      s.latency,
		ConnectTime:  s.connectTime,
		Productivity: s.productivity,
	}
}

// Info returns the peer's current advertised info via the actor.
func (s *Session) Info() peerinfo.PeerInfo {
	var info peerinfo.PeerInfo
	s.deps.Actor.RunSync(func() { info = s.info })
	return info
}

func (s *Session) startCommonTimers() {
	s.scheduleRateTick()
	s.scheduleProductivityReset()
}

// Connect eagerly establishes an Outbound session's socket instead of
// waiting for the first Send/Request. It is a no-op for inbound sessions
// and for already-open connections.
func (s *Session) Connect(ctx context.Context) error {
	if s.kind != Outbound {
		return nil
	}
	_, err := s.ensureConn(ctx)
	return err
}

// ensureConn lazily dials for an Outbound session, running
// the connect and then the on-connect status+list RPCs. It returns the
// live conn or an error if the dial itself failed.
func (s *Session) ensureConn(ctx context.Context) (transport.Conn, error) {
	var existing transport.Conn
	var state State
	var info peerinfo.PeerInfo
	s.deps.Actor.RunSync(func() {
		existing = s.conn
		state = s.state
		info = s.info
	})
	if existing != nil {
		return existing, nil
	}
	if state == Closed {
		return nil, errs.New(errs.KindPeerOutboundConnectionError, s.peerID, "socket does not exist")
	}

	query := map[string]string{}
	if s.deps.LocalInfo != nil {
		local := s.deps.LocalInfo()
		query["ipAddress"] = local.IPAddress
		query["wsPort"] = fmt.Sprintf("%d", local.WSPort)
		query["version"] = local.Version
		query["protocolVersion"] = local.ProtocolVersion
		query["os"] = local.OS
		// The endpoint we believe we are dialing; the acceptor uses it
		// to predict its own external address.
		query["remoteAddress"] = fmt.Sprintf("%s:%d", info.IPAddress, info.WSPort)
	}

	attemptID := newRequestID()
	dialCtx, cancel := context.WithTimeout(ctx, s.deps.Config.ConnectTimeout)
	defer cancel()
	s.log.Debug("dialing peer", "attempt", attemptID)
	conn, err := s.deps.Dialer.Dial(dialCtx, info.IPAddress, info.WSPort, query)
	if err != nil {
		s.deps.Actor.RunSync(func() {
			s.state = Closed
			s.feed.Send(pevent.Event{Name: pevent.ConnectAbortOutbound, PeerID: s.peerID, Data: err.Error()})
		})
		return nil, errs.Wrap(errs.KindPeerOutboundConnectionError, s.peerID, "dial failed", err)
	}

	s.deps.Actor.RunSync(func() {
		s.conn = conn
		s.state = Open
		s.connectTime = time.Now()
		s.startCommonTimers()
		s.feed.Send(pevent.Event{Name: pevent.ConnectOutbound, PeerID: s.peerID})
	})
	s.startReaders()
	s.collectPeerDetailsOnConnect()
	return conn, nil
}

// collectPeerDetailsOnConnect fires the on-connect status and list RPCs
// concurrently. Partial failure is recorded but does not fail the connect.
func (s *Session) collectPeerDetailsOnConnect() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.deps.Config.AckTimeout)
		defer cancel()
		raw, err := s.rawRequest(ctx, "status", nil)
		if err != nil {
			s.emitFetchInfoFailure(err)
			return
		}
		var node peerinfo.NodeInfo
		if jsonErr := json.Unmarshal(raw, &node); jsonErr != nil {
			s.emitFetchInfoFailure(jsonErr)
			return
		}
		s.deps.Actor.Run(func() {
			s.info.Version = node.Version
			s.info.ProtocolVersion = node.ProtocolVersion
			s.info.OS = node.OS
			s.info.Height = node.Height
		})
	}()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.deps.Config.AckTimeout)
		defer cancel()
		raw, err := s.rawRequest(ctx, "list", nil)
		if err != nil {
			s.markCollectFailure()
			return
		}
		peers, err := peerinfo.ValidatePeerList(raw, s.deps.Config.MaxListLength, s.deps.Config.MaxPerPeerBytes)
		if err != nil {
			s.markCollectFailure()
			return
		}
		if s.deps.OnPeerList != nil {
			s.deps.OnPeerList(peers)
		}
	}()
}

func (s *Session) emitFetchInfoFailure(err error) {
	s.deps.Actor.Run(func() {
		s.feed.Send(pevent.Event{Name: pevent.FailedToFetchPeerInfo, PeerID: s.peerID, Data: err})
	})
	s.markCollectFailure()
}

func (s *Session) markCollectFailure() {
	s.deps.Actor.Run(func() {
		if !s.failedToCollectOnConnect {
			s.failedToCollectOnConnect = true
			s.feed.Send(pevent.Event{Name: pevent.FailedToCollectPeerDetailsOnConnect, PeerID: s.peerID})
		}
	})
}

// Send transmits a fire-and-forget remote-message frame. Payloads over
// the outbound limit are refused locally instead of transmitted.
func (s *Session) Send(ctx context.Context, eventName string, data any) error {
	conn, err := s.connForIO(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if s.deps.Config.WSMaxPayloadOutbound > 0 && len(raw) > s.deps.Config.WSMaxPayloadOutbound {
		return errs.New(errs.KindSendFail, s.peerID, "message exceeds outbound payload limit")
	}
	return conn.Send(ctx, eventName, json.RawMessage(raw))
}

// Request issues an rpc-request and waits for its response. A transport
// timeout is an *errs.Error of KindRPCTimeout and also disconnects the
// peer; any other transport error is KindRPCResponseError and does not
// disconnect.
func (s *Session) Request(ctx context.Context, procedure string, data any) (json.RawMessage, error) {
	conn, err := s.connForIO(ctx)
	if err != nil {
		return nil, err
	}

	s.deps.Actor.Run(func() {
		s.productivity.RequestCounter++
	})

	ackCtx, cancel := context.WithTimeout(ctx, s.deps.Config.AckTimeout)
	defer cancel()
	raw, err := conn.Request(ackCtx, procedure, data)
	if err != nil {
		if ackCtx.Err() != nil || err == transport.ErrTimeout {
			s.deps.Actor.Run(func() {
				s.disconnectLocked(transport.FailedToRespondCode, "rpc request timed out")
			})
			return nil, errs.Wrap(errs.KindRPCTimeout, s.peerID, "request timed out", err)
		}
		return nil, errs.Wrap(errs.KindRPCResponseError, s.peerID, "transport error", err)
	}
	if len(raw) == 0 {
		return nil, errs.New(errs.KindRPCResponseError, s.peerID, fmt.Sprintf("failed to handle response for procedure %s", procedure))
	}

	s.deps.Actor.Run(func() {
		s.productivity.ResponseCounter++
		s.productivity.LastResponded = s.deps.Clock.Now()
		s.productivity.ResponseRate = responseRate(s.productivity.ResponseCounter, s.productivity.RequestCounter)
	})
	return raw, nil
}

// rawRequest is Request without the productivity bookkeeping, used for
// the built-in on-connect status/list RPCs which are not user traffic.
func (s *Session) rawRequest(ctx context.Context, procedure string, data any) (json.RawMessage, error) {
	var conn transport.Conn
	s.deps.Actor.RunSync(func() { conn = s.conn })
	if conn == nil {
		return nil, errs.New(errs.KindPeerOutboundConnectionError, s.peerID, "socket does not exist")
	}
	return conn.Request(ctx, procedure, data)
}

func (s *Session) connForIO(ctx context.Context) (transport.Conn, error) {
	if s.kind == Outbound {
		return s.ensureConn(ctx)
	}
	var conn transport.Conn
	var closed bool
	s.deps.Actor.RunSync(func() {
		conn = s.conn
		closed = s.state == Closed
	})
	if closed || conn == nil {
		return nil, errs.New(errs.KindSendFail, s.peerID, "socket does not exist")
	}
	return conn, nil
}

func responseRate(responseCounter, requestCounter uint64) float64 {
	denom := requestCounter
	if denom == 0 {
		denom = 1
	}
	return float64(responseCounter) / float64(denom)
}

// ApplyNodeInfo records the local node's current advertised state and
// propagates it to this peer: passive peers (inbound, no outbound
// relationship) get the fire-and-forget nodeInfoChanged message; others
// get the updateMyself RPC.
func (s *Session) ApplyNodeInfo(ctx context.Context, info peerinfo.NodeInfo) error {
	if s.kind == Inbound {
		return s.Send(ctx, "nodeInfoChanged", info)
	}
	_, err := s.Request(ctx, "updateMyself", info)
	return err
}

// ApplyPenalty subtracts n from reputation; if the result drops to or
// below zero, it bans the peer exactly once.
func (s *Session) ApplyPenalty(n int) {
	s.deps.Actor.Run(func() {
		s.applyPenaltyLocked(n)
	})
}

func (s *Session) applyPenaltyLocked(n int) {
	if s.banned || s.state == Closed {
		return
	}
	s.reputation -= n
	if s.reputation <= 0 {
		s.banned = true
		s.feed.Send(pevent.Event{Name: pevent.BanPeer, PeerID: s.peerID})
		s.disconnectLocked(transport.ForbiddenConnectionCode, "reputation exhausted")
	}
}

// Disconnect closes the session's connection and cancels its periodic
// tasks. Idempotent: calling it more than once emits at most one
// removePeer-triggering close event.
func (s *Session) Disconnect(code int, reason string) {
	s.deps.Actor.Run(func() {
		s.disconnectLocked(code, reason)
	})
}

func (s *Session) disconnectLocked(code int, reason string) {
	if s.state == Closed {
		return
	}
	s.state = Closed
	if s.rateTimer != nil {
		s.rateTimer.Stop()
	}
	if s.prodTimer != nil {
		s.prodTimer.Stop()
	}
	if s.pingTimer != nil {
		s.pingTimer.Stop()
	}
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		if s.conn != nil {
			_ = s.conn.Close(code, reason)
		}
	}
	name := pevent.CloseInbound
	if s.kind == Outbound {
		name = pevent.CloseOutbound
	}
	s.feed.Send(pevent.Event{Name: name, PeerID: s.peerID, Data: pevent.CloseData{Code: code, Reason: reason}})
}

// State returns the current connection state via the actor.
func (s *Session) State() State {
	var st State
	s.deps.Actor.RunSync(func() { st = s.state })
	return st
}

// Reputation returns the current reputation score via the actor.
func (s *Session) Reputation() int {
	var rep int
	s.deps.Actor.RunSync(func() { rep = s.reputation })
	return rep
}

// Latency returns the last measured keep-alive RTT via the actor.
func (s *Session) Latency() time.Duration {
	var lat time.Duration
	s.deps.Actor.RunSync(func() { lat = s.latency })
	return lat
}

func newRequestID() string { return uuid.NewString() }
