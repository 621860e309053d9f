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

package transport

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"
)

// MemConn is an in-process Conn implementation: a pair of MemConns wired
// together form a duplex pipe, with no real socket involved. session and
// pool tests, and the simnet integration harness, use it exclusively.
type MemConn struct {
	remoteAddr string

	mu         sync.Mutex
	peer       *MemConn
	closed     bool
	closeOnce  sync.Once
	closedCh   chan CloseInfo
	requestsCh chan *InboundRequest
	messagesCh chan *InboundMessage

	pendingMu sync.Mutex
	pending   map[string]chan requestResult
}

type requestResult struct {
	data json.RawMessage
	err  error
}

// NewMemConnPair creates two MemConns wired to each other, as if a and b
// had just completed a handshake: a is the dialer's end (remoteAddr b's
// address), b is the acceptor's end (remoteAddr a's address).
func NewMemConnPair(aAddr, bAddr string) (a, b *MemConn) {
	a = newMemConn(bAddr)
	b = newMemConn(aAddr)
	a.peer = b
	b.peer = a
	return a, b
}

func newMemConn(remoteAddr string) *MemConn {
	return &MemConn{
		remoteAddr: remoteAddr,
		closedCh:   make(chan CloseInfo, 1),
		requestsCh: make(chan *InboundRequest, 64),
		messagesCh: make(chan *InboundMessage, 64),
		pending:    make(map[string]chan requestResult),
	}
}

// RemoteAddr returns the host part of the remote address, without its port.
func (c *MemConn) RemoteAddr() string {
	if host, _, err := net.SplitHostPort(c.remoteAddr); err == nil {
		return host
	}
	return c.remoteAddr
}

func (c *MemConn) Requests() <-chan *InboundRequest { return c.requestsCh }
func (c *MemConn) Messages() <-chan *InboundMessage { return c.messagesCh }
func (c *MemConn) Closed() <-chan CloseInfo         { return c.closedCh }

func (c *MemConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send delivers a fire-and-forget remote-message frame to the peer end.
func (c *MemConn) Send(ctx context.Context, event string, data any) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	raw, err := marshalAny(data)
	if err != nil {
		return err
	}
	peer := c.peer
	if peer == nil || peer.isClosed() {
		return ErrConnClosed
	}
	msg := &InboundMessage{Event: event, Data: raw}
	select {
	case peer.messagesCh <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Request delivers an rpc-request frame to the peer end and waits for
// its response, honoring ctx's deadline as the ack timeout.
func (c *MemConn) Request(ctx context.Context, procedure string, data any) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, ErrConnClosed
	}
	raw, err := marshalAny(data)
	if err != nil {
		return nil, err
	}
	peer := c.peer
	if peer == nil || peer.isClosed() {
		return nil, ErrConnClosed
	}

	id := uuid.NewString()
	result := make(chan requestResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = result
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := NewInboundRequest(procedure, raw, func(data json.RawMessage, isErr bool, errMsg string) {
		res := requestResult{data: data}
		if isErr {
			res.err = &responseError{msg: errMsg}
		}
		select {
		case result <- res:
		default:
		}
	})
	select {
	case peer.requestsCh <- req:
	case <-ctx.Done():
		return nil, ErrTimeout
	}

	select {
	case res := <-result:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// Close closes the connection locally and notifies the peer end.
func (c *MemConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closedCh <- CloseInfo{Code: code, Reason: reason}
		if c.peer != nil {
			c.peer.remoteClosed(code, reason)
		}
	})
	return nil
}

func (c *MemConn) remoteClosed(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closedCh <- CloseInfo{Code: code, Reason: reason}
	})
}

type responseError struct{ msg string }

func (e *responseError) Error() string { return e.msg }

func marshalAny(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
