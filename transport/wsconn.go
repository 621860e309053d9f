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
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/r5-labs/lp2p/log"
)

// frame is the single wire envelope carrying both remote verbs: a
// frame with Procedure set is an rpc-request/response pair (correlated by
// ID); a frame with Event set is a fire-and-forget remote-message.
type frame struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type,omitempty"` // "/RPCRequest" or "/RPCResponse"
	Procedure string          `json:"procedure,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// WSConn is a Conn implementation over a gorilla/websocket connection,
// the one concrete socket binding lp2p ships so the module is runnable
// end to end, not just testable in-process.
type WSConn struct {
	ws         *websocket.Conn
	remoteAddr string
	log        log.Logger

	writeMu sync.Mutex

	requestsCh chan *InboundRequest
	messagesCh chan *InboundMessage
	closedCh   chan CloseInfo
	closeOnce  sync.Once

	pendingMu sync.Mutex
	pending   map[string]chan frame
}

// NewWSConn wraps an already-established websocket connection.
func NewWSConn(ws *websocket.Conn, remoteAddr string) *WSConn {
	c := &WSConn{
		ws:         ws,
		remoteAddr: remoteAddr,
		log:        log.New("wsconn", "remote", remoteAddr),
		requestsCh: make(chan *InboundRequest, 64),
		messagesCh: make(chan *InboundMessage, 64),
		closedCh:   make(chan CloseInfo, 1),
		pending:    make(map[string]chan frame),
	}
	go c.readLoop()
	return c
}

func (c *WSConn) RemoteAddr() string               { return c.remoteAddr }
func (c *WSConn) Requests() <-chan *InboundRequest { return c.requestsCh }
func (c *WSConn) Messages() <-chan *InboundMessage { return c.messagesCh }
func (c *WSConn) Closed() <-chan CloseInfo         { return c.closedCh }

func (c *WSConn) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(f)
}

func (c *WSConn) Send(ctx context.Context, event string, data any) error {
	raw, err := marshalAny(data)
	if err != nil {
		return err
	}
	return c.writeFrame(frame{Event: event, Data: raw})
}

func (c *WSConn) Request(ctx context.Context, procedure string, data any) (json.RawMessage, error) {
	raw, err := marshalAny(data)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	result := make(chan frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = result
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(frame{ID: id, Type: "/RPCRequest", Procedure: procedure, Data: raw}); err != nil {
		return nil, err
	}
	select {
	case f := <-result:
		if f.Error != "" {
			return nil, &responseError{msg: f.Error}
		}
		return f.Data, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

func (c *WSConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(1000, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
		c.closedCh <- CloseInfo{Code: code, Reason: reason}
	})
	return err
}

func (c *WSConn) readLoop() {
	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.closeOnce.Do(func() {
				c.closedCh <- CloseInfo{Code: closeCodeFromErr(err), Reason: err.Error()}
			})
			return
		}
		switch {
		case f.Type == "/RPCResponse":
			c.pendingMu.Lock()
			ch, ok := c.pending[f.ID]
			c.pendingMu.Unlock()
			if ok {
				ch <- f
			}
		case f.Procedure != "":
			fr := f
			req := NewInboundRequest(fr.Procedure, fr.Data, func(data json.RawMessage, isErr bool, errMsg string) {
				resp := frame{ID: fr.ID, Type: "/RPCResponse", Data: data}
				if isErr {
					resp.Error = errMsg
				}
				if err := c.writeFrame(resp); err != nil {
					c.log.Debug("failed to write rpc response", "err", err)
				}
			})
			c.requestsCh <- req
		case f.Event != "":
			c.messagesCh <- &InboundMessage{Event: f.Event, Data: f.Data}
		}
	}
}

// closeCodeFromErr extracts a sanitized status code from a transport
// close error.
func closeCodeFromErr(err error) int {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// DialWS dials a peer's websocket endpoint, encoding query as the
// handshake query string whose keys are the sender's node-info fields.
func DialWS(ctx context.Context, addr string, wsPort int, query map[string]string) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", addr, wsPort), Path: "/"}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws, addr), nil
}

// WSTransport is the production Transport: outbound dials via DialWS,
// inbound connections via an http.Server-backed WSListener.
type WSTransport struct{}

func (WSTransport) Dial(ctx context.Context, addr string, wsPort int, query map[string]string) (Conn, error) {
	return DialWS(ctx, addr, wsPort, query)
}

func (WSTransport) Listen(bindAddr string) (Listener, error) {
	l := NewWSListener()
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: l}
	l.srv = srv
	go func() { _ = srv.Serve(ln) }()
	return l, nil
}

// WSListener accepts inbound websocket connections on an *http.Server.
type WSListener struct {
	upgrader websocket.Upgrader
	acceptCh chan Accepted
	srv      *http.Server
}

// NewWSListener returns a Listener whose ServeHTTP method should be mounted
// on the node's HTTP mux.
func NewWSListener() *WSListener {
	return &WSListener{
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		acceptCh: make(chan Accepted, 64),
	}
}

func (l *WSListener) Accept() <-chan Accepted { return l.acceptCh }

func (l *WSListener) Close() error {
	if l.srv != nil {
		return l.srv.Close()
	}
	return nil
}

// ServeHTTP upgrades an inbound handshake and hands the
// resulting Conn to Accept's channel, along with the dialer's query
// string.
func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	remoteAddr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteAddr = host
	}
	conn := NewWSConn(ws, remoteAddr)
	l.acceptCh <- Accepted{Conn: conn, Query: query}
}
