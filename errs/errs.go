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

// Package errs collects lp2p's closed error taxonomy so call sites
// compare with errors.Is/As instead of string matching.
package errs

import "fmt"

// Kind identifies one of lp2p's error categories.
type Kind string

const (
	KindInvalidPeer                 Kind = "InvalidPeer"
	KindInvalidRPCRequest           Kind = "InvalidRPCRequest"
	KindInvalidProtocolMessage      Kind = "InvalidProtocolMessage"
	KindInvalidRPCResponse          Kind = "InvalidRPCResponse"
	KindRPCTimeout                  Kind = "RPCTimeout"
	KindRPCResponseError            Kind = "RPCResponseError"
	KindResponseAlreadySent         Kind = "ResponseAlreadySent"
	KindRequestFail                 Kind = "RequestFail"
	KindSendFail                    Kind = "SendFail"
	KindPeerInboundHandshakeError   Kind = "PeerInboundHandshakeError"
	KindPeerOutboundConnectionError Kind = "PeerOutboundConnectionError"
)

// Error is the concrete error type carried by every lp2p-raised error. Kind
// lets callers branch with errors.As/Is without parsing Error(), and Peer
// identifies the offending peer where one exists.
type Error struct {
	Kind   Kind
	Peer   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("lp2p: %s: peer %s: %s", e.Kind, e.Peer, e.Reason)
	}
	return fmt.Sprintf("lp2p: %s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, errs.New(errs.KindRPCTimeout, "", "")) or, more
// simply, use Of below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, peer, reason string) *Error {
	return &Error{Kind: kind, Peer: peer, Reason: reason}
}

// Wrap constructs an *Error of the given kind, wrapping an underlying cause.
func Wrap(kind Kind, peer, reason string, err error) *Error {
	return &Error{Kind: kind, Peer: peer, Reason: reason, Err: err}
}

// Of reports whether err (or something it wraps) is a lp2p *Error of kind.
func Of(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
