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
	"fmt"
	"sync"
)

// MemNetwork is a shared in-process registry of MemTransport listeners,
// the simnet harness's stand-in for a real IP network: dialing "host:port"
// looks up the MemTransport bound to that address and hands it a MemConn
// end, exactly as a real socket connect would, with no bytes touching a
// kernel.
type MemNetwork struct {
	mu        sync.Mutex
	listeners map[string]*MemListener
}

// NewMemNetwork creates an empty network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{listeners: make(map[string]*MemListener)}
}

// MemTransport is a Transport bound to one address on a MemNetwork.
type MemTransport struct {
	net       *MemNetwork
	localAddr string
}

// NewMemTransport returns a Transport for localAddr on net.
func NewMemTransport(net *MemNetwork, localAddr string) *MemTransport {
	return &MemTransport{net: net, localAddr: localAddr}
}

func (t *MemTransport) Dial(ctx context.Context, addr string, wsPort int, query map[string]string) (Conn, error) {
	remote := fmt.Sprintf("%s:%d", addr, wsPort)
	t.net.mu.Lock()
	l, ok := t.net.listeners[remote]
	t.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport: no listener at %s", remote)
	}
	a, b := NewMemConnPair(t.localAddr, remote)
	select {
	case l.acceptCh <- Accepted{Conn: b, Query: query}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return a, nil
}

func (t *MemTransport) Listen(bindAddr string) (Listener, error) {
	l := &MemListener{acceptCh: make(chan Accepted, 64)}
	t.net.mu.Lock()
	t.net.listeners[bindAddr] = l
	t.net.mu.Unlock()
	return l, nil
}

// MemListener is the Listener half of MemTransport.
type MemListener struct {
	acceptCh chan Accepted
}

func (l *MemListener) Accept() <-chan Accepted { return l.acceptCh }
func (l *MemListener) Close() error            { return nil }
