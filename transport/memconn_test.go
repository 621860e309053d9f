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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemConnRequestRoundTrip(t *testing.T) {
	a, b := NewMemConnPair("1.1.1.1:5000", "2.2.2.2:5001")

	go func() {
		req := <-b.Requests()
		require.Equal(t, "echo", req.Procedure)
		_ = req.Respond(req.Data)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	raw, err := a.Request(ctx, "echo", map[string]int{"x": 7})
	require.NoError(t, err)
	require.JSONEq(t, `{"x":7}`, string(raw))
}

func TestMemConnSendDelivers(t *testing.T) {
	a, b := NewMemConnPair("1.1.1.1:5000", "2.2.2.2:5001")

	require.NoError(t, a.Send(context.Background(), "hello", "world"))
	msg := <-b.Messages()
	require.Equal(t, "hello", msg.Event)
	require.Equal(t, `"world"`, string(msg.Data))
}

func TestMemConnOneShotResponder(t *testing.T) {
	a, b := NewMemConnPair("1.1.1.1:5000", "2.2.2.2:5001")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = a.Request(ctx, "once", nil)
	}()

	req := <-b.Requests()
	require.NoError(t, req.Respond(json.RawMessage(`1`)))
	require.True(t, req.WasResponded())
	require.ErrorIs(t, req.Respond(json.RawMessage(`2`)), ErrAlreadyResponded)
	require.ErrorIs(t, req.Fail("too late"), ErrAlreadyResponded)
}

func TestMemConnRequestTimesOut(t *testing.T) {
	a, _ := NewMemConnPair("1.1.1.1:5000", "2.2.2.2:5001")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Request(ctx, "never-answered", nil)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestMemConnCloseNotifiesBothEnds(t *testing.T) {
	a, b := NewMemConnPair("1.1.1.1:5000", "2.2.2.2:5001")

	require.NoError(t, a.Close(IntentionalDisconnectCode, "done"))

	aInfo := <-a.Closed()
	bInfo := <-b.Closed()
	require.Equal(t, IntentionalDisconnectCode, aInfo.Code)
	require.Equal(t, IntentionalDisconnectCode, bInfo.Code)
	require.Equal(t, "done", bInfo.Reason)

	require.ErrorIs(t, a.Send(context.Background(), "late", nil), ErrConnClosed)
	_, err := b.Request(context.Background(), "late", nil)
	require.ErrorIs(t, err, ErrConnClosed)
}

func TestMemTransportDialReachesListener(t *testing.T) {
	mem := NewMemNetwork()
	tA := NewMemTransport(mem, "1.1.1.1:5000")
	tB := NewMemTransport(mem, "2.2.2.2:5001")

	l, err := tB.Listen("2.2.2.2:5001")
	require.NoError(t, err)

	conn, err := tA.Dial(context.Background(), "2.2.2.2", 5001, map[string]string{"version": "1.0.0"})
	require.NoError(t, err)

	accepted := <-l.Accept()
	require.Equal(t, "1.0.0", accepted.Query["version"])

	require.NoError(t, conn.Send(context.Background(), "ping-frame", nil))
	msg := <-accepted.Conn.Messages()
	require.Equal(t, "ping-frame", msg.Event)
}

func TestMemTransportDialUnknownAddressFails(t *testing.T) {
	mem := NewMemNetwork()
	tr := NewMemTransport(mem, "1.1.1.1:5000")
	_, err := tr.Dial(context.Background(), "9.9.9.9", 1, nil)
	require.Error(t, err)
}
