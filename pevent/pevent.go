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

// Package pevent defines the stable observable event stream. A session's
// events flow through its own event.Feed; the
// pool subscribes to every session's feed and re-emits each Event,
// unmodified, on its own feed; the facade does the same up to its
// callers. A single typed payload keeps relaying pool- and facade-side a
// generic Subscribe/Send pair rather than twenty hand-written forwarding
// methods.
package pevent

// Name is one of the stable observable event names.
type Name string

const (
	RequestReceived                     Name = "requestReceived"
	MessageReceived                     Name = "messageReceived"
	DiscoveredPeer                      Name = "discoveredPeer"
	ConnectOutbound                     Name = "connectOutbound"
	ConnectAbortOutbound                Name = "connectAbortOutbound"
	CloseOutbound                       Name = "closeOutbound"
	CloseInbound                        Name = "closeInbound"
	OutboundSocketError                 Name = "outboundSocketError"
	InboundSocketError                  Name = "inboundSocketError"
	UpdatedPeerInfo                     Name = "updatedPeerInfo"
	FailedPeerInfoUpdate                Name = "failedPeerInfoUpdate"
	FailedToFetchPeerInfo               Name = "failedToFetchPeerInfo"
	FailedToFetchPeers                  Name = "failedToFetchPeers"
	FailedToPushNodeInfo                Name = "failedToPushNodeInfo"
	FailedToCollectPeerDetailsOnConnect Name = "failedToCollectPeerDetailsOnConnect"
	FailedToSendMessage                 Name = "failedToSendMessage"
	BanPeer                             Name = "banPeer"
	UnbanPeer                           Name = "unbanPeer"
	RemovePeer                          Name = "removePeer"
	InvalidRequestReceived              Name = "invalidRequestReceived"
	InvalidMessageReceived              Name = "invalidMessageReceived"
)

// Event is the single payload type carried by every session/pool/facade
// Feed.
type Event struct {
	Name   Name
	PeerID string
	Data   any
}

// RequestReceivedData is carried by RequestReceived.
type RequestReceivedData struct {
	Procedure    string
	Data         []byte
	Rate         float64
	Productivity ProductivitySnapshot
	Respond      func(data any) error
	Fail         func(message string) error
}

// MessageReceivedData is carried by MessageReceived.
type MessageReceivedData struct {
	Event string
	Data  []byte
	Rate  float64
}

// ProductivitySnapshot is the read-only productivity view attached to
// P2PRequest.
type ProductivitySnapshot struct {
	RequestCounter  uint64
	ResponseCounter uint64
	ResponseRate    float64
}

// CloseData is carried by CloseOutbound/CloseInbound.
type CloseData struct {
	Code   int
	Reason string
}
