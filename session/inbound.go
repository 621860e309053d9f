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
	"encoding/json"

	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/pevent"
	"github.com/r5-labs/lp2p/transport"
)

// startReaders launches one goroutine per inbound transport stream
// (requests, messages, close). These goroutines never mutate Session state
// directly; every mutation is handed to the actor.
func (s *Session) startReaders() {
	conn := s.currentConn()
	if conn == nil {
		return
	}
	go s.readRequests(conn)
	go s.readMessages(conn)
	go s.readClosed(conn)
}

func (s *Session) currentConn() transport.Conn {
	var conn transport.Conn
	s.deps.Actor.RunSync(func() { conn = s.conn })
	return conn
}

func (s *Session) readRequests(conn transport.Conn) {
	for req := range conn.Requests() {
		r := req
		s.deps.Actor.Run(func() {
			s.handleInboundRequest(r)
		})
	}
}

func (s *Session) readMessages(conn transport.Conn) {
	for msg := range conn.Messages() {
		m := msg
		s.deps.Actor.Run(func() {
			s.handleInboundMessage(m)
		})
	}
}

func (s *Session) readClosed(conn transport.Conn) {
	info, ok := <-conn.Closed()
	if !ok {
		return
	}
	s.deps.Actor.Run(func() {
		if s.state != Closed && abnormalClose(info.Code) {
			name := pevent.InboundSocketError
			if s.kind == Outbound {
				name = pevent.OutboundSocketError
			}
			s.feed.Send(pevent.Event{Name: name, PeerID: s.peerID, Data: info.Reason})
		}
		s.disconnectLocked(info.Code, info.Reason)
	})
}

// abnormalClose reports whether code is outside the reserved disconnect
// codes, i.e. the socket died rather than being closed on purpose.
func abnormalClose(code int) bool {
	switch code {
	case transport.IntentionalDisconnectCode,
		transport.IncompatibleProtocolVersionCode,
		transport.IncompatibleNetworkCode,
		transport.ForbiddenConnectionCode,
		transport.FailedToRespondCode,
		transport.EvictedPeerCode:
		return false
	}
	return true
}

// handleInboundRequest is the incoming RPC pipeline.
// Caller holds the actor (runs as an actor task).
func (s *Session) handleInboundRequest(req *transport.InboundRequest) {
	if s.state == Closed {
		return
	}
	if req.Procedure == "" {
		_ = req.Fail("invalid procedure")
		s.feed.Send(pevent.Event{Name: pevent.InvalidRequestReceived, PeerID: s.peerID})
		return
	}
	if s.deps.Config.MaxPeerInfoSize > 0 && len(req.Data) > s.deps.Config.MaxPeerInfoSize && req.Procedure == "updateMyself" {
		_ = req.Fail("payload too large")
		s.feed.Send(pevent.Event{Name: pevent.InvalidRequestReceived, PeerID: s.peerID})
		return
	}

	s.rpcCounter[req.Procedure]++
	rate := s.rpcRates[req.Procedure]

	switch req.Procedure {
	case "updateMyself":
		info, err := peerinfo.ValidatePeerInfo(req.Data, s.deps.Config.MaxPeerInfoSize)
		if err != nil {
			_ = req.Fail(err.Error())
			s.feed.Send(pevent.Event{Name: pevent.FailedPeerInfoUpdate, PeerID: s.peerID, Data: err})
			return
		}
		// An update never changes the peer's address identity; only the
		// advertised facts move.
		info.IPAddress = s.info.IPAddress
		info.WSPort = s.info.WSPort
		s.info = info
		_ = req.Respond(json.RawMessage(`{"ok":true}`))
		s.feed.Send(pevent.Event{Name: pevent.UpdatedPeerInfo, PeerID: s.peerID, Data: info})
	case "list":
		var peers []peerinfo.PeerInfo
		if s.deps.ListPeers != nil {
			peers = s.deps.ListPeers()
		}
		wire := make([]map[string]any, 0, len(peers))
		for _, p := range peers {
			wire = append(wire, p.WireMap())
		}
		raw, err := json.Marshal(map[string]any{"peers": wire})
		if err == nil {
			_ = req.Respond(raw)
		} else {
			_ = req.Fail(err.Error())
		}
	case "status":
		if s.deps.LocalInfo != nil {
			raw, err := json.Marshal(s.deps.LocalInfo())
			if err == nil {
				_ = req.Respond(raw)
			} else {
				_ = req.Fail(err.Error())
			}
		} else {
			_ = req.Fail("no local node info")
		}
	case "ping":
		_ = req.Respond(json.RawMessage(`"pong"`))
	}

	// Always also surface the request upward so a higher layer can answer
	// arbitrary procedures; the one-shot responder rejects
	// a second answer if a builtin procedure above already responded.
	s.feed.Send(pevent.Event{
		Name:   pevent.RequestReceived,
		PeerID: s.peerID,
		Data: pevent.RequestReceivedData{
			Procedure: req.Procedure,
			Data:      req.Data,
			Rate:      rate,
			Productivity: pevent.ProductivitySnapshot{
				RequestCounter:  s.productivity.RequestCounter,
				ResponseCounter: s.productivity.ResponseCounter,
				ResponseRate:    s.productivity.ResponseRate,
			},
			Respond: func(data any) error {
				raw, err := json.Marshal(data)
				if err != nil {
					return err
				}
				return req.Respond(raw)
			},
			Fail: func(message string) error {
				return req.Fail(message)
			},
		},
	})
}

// handleInboundMessage is the incoming message pipeline. Caller holds
// the actor.
func (s *Session) handleInboundMessage(msg *transport.InboundMessage) {
	if s.state == Closed {
		return
	}
	if msg.Event == "" {
		s.feed.Send(pevent.Event{Name: pevent.InvalidMessageReceived, PeerID: s.peerID})
		return
	}
	if s.deps.Config.WSMaxPayloadInbound > 0 && len(msg.Data) > s.deps.Config.WSMaxPayloadInbound {
		s.disconnectLocked(transport.ForbiddenConnectionCode, "message exceeds inbound payload limit")
		return
	}

	s.wsMessageCount++
	s.messageCounter[msg.Event]++
	rate := s.messageRates[msg.Event]

	s.feed.Send(pevent.Event{
		Name:   pevent.MessageReceived,
		PeerID: s.peerID,
		Data: pevent.MessageReceivedData{
			Event: msg.Event,
			Data:  msg.Data,
			Rate:  rate,
		},
	})
}
