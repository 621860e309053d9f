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

// Package transport defines the duplex-socket contract the rest of lp2p
// is built on: ordered duplex frames, a request/reply verb, and a
// fire-and-forget verb. session and pool are written entirely against
// this interface; transport supplies two implementations — wsconn, a real
// gorilla/websocket socket, and memconn, an in-process pipe pair used by
// tests and the simnet harness.
package transport

import (
	"context"
	"encoding/json"
)

// Reserved disconnect status codes.
const (
	IntentionalDisconnectCode = 1000
	IncompatibleProtocolVersionCode = 4001
	IncompatibleNetworkCode          = 4002
	ForbiddenConnectionCode          = 4003
	FailedToRespondCode              = 4004
	EvictedPeerCode                  = 4005
)

// CloseInfo describes why a Conn closed.
type CloseInfo struct {
	Code   int
	Reason string
}

// InboundRequest is one arrival on the rpc-request verb: a
// request/response exchange where exactly one of Respond/Fail must be
// called, exactly once.
type InboundRequest struct {
	Procedure string
	Data      json.RawMessage

	responded bool
	respondFn func(data json.RawMessage, isErr bool, errMsg string)
}

// Respond answers the request with a successful payload. It is a no-op
// returning an error if the request was already answered.
func (r *InboundRequest) Respond(data json.RawMessage) error {
	if r.responded {
		return ErrAlreadyResponded
	}
	r.responded = true
	r.respondFn(data, false, "")
	return nil
}

// Fail answers the request with an error. It is a no-op returning an error
// if the request was already answered.
func (r *InboundRequest) Fail(message string) error {
	if r.responded {
		return ErrAlreadyResponded
	}
	r.responded = true
	r.respondFn(nil, true, message)
	return nil
}

// WasResponded reports whether Respond or Fail has already been called.
func (r *InboundRequest) WasResponded() bool {
	return r.responded
}

// NewInboundRequest constructs an InboundRequest around a responder
// callback; transport implementations use this to hand requests to Conn
// consumers without exposing their internal correlation machinery.
func NewInboundRequest(procedure string, data json.RawMessage, respond func(data json.RawMessage, isErr bool, errMsg string)) *InboundRequest {
	return &InboundRequest{Procedure: procedure, Data: data, respondFn: respond}
}

// InboundMessage is one arrival on the remote-message verb:
// fire-and-forget, no response expected.
type InboundMessage struct {
	Event string
	Data  json.RawMessage
}

// Conn is one live duplex connection to a peer.
type Conn interface {
	// Send transmits a fire-and-forget remote-message frame.
	Send(ctx context.Context, event string, data any) error
	// Request transmits an rpc-request frame and waits for its response.
	Request(ctx context.Context, procedure string, data any) (json.RawMessage, error)
	// Requests streams inbound rpc-request frames, in arrival order.
	Requests() <-chan *InboundRequest
	// Messages streams inbound remote-message frames, in arrival order.
	Messages() <-chan *InboundMessage
	// Closed fires exactly once, when the connection is closed locally or
	// by the remote end, or lost.
	Closed() <-chan CloseInfo
	// Close closes the connection. Calling Close more than once is a no-op.
	Close(code int, reason string) error
	// RemoteAddr is the textual remote IP address (no port).
	RemoteAddr() string
}

// Dialer opens outbound connections.
type Dialer interface {
	Dial(ctx context.Context, addr string, wsPort int, query map[string]string) (Conn, error)
}

// Listener accepts inbound connections.
type Listener interface {
	// Accept streams newly-accepted connections along with the query
	// string the remote dialer supplied on its handshake.
	Accept() <-chan Accepted
	Close() error
}

// Accepted is one inbound connection handed off by a Listener.
type Accepted struct {
	Conn  Conn
	Query map[string]string
}

// Transport bundles a Dialer and a Listener.
type Transport interface {
	Dialer
	Listen(bindAddr string) (Listener, error)
}
