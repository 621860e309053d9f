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

// Package selection defines the three peer-selection plug-in points,
// pulled out of pool so config (which must reference the
// function types) never needs to import pool and vice versa.
package selection

import "github.com/r5-labs/lp2p/peerinfo"

// Candidate is one connected peer as seen by a selection function.
type Candidate struct {
	PeerID string
	Info   peerinfo.PeerInfo
}

// ForRequestInput is the argument to a ForRequest function.
type ForRequestInput struct {
	Peers     []Candidate
	NodeInfo  peerinfo.NodeInfo
	Procedure string
	Data      any
}

// ForRequest picks the single peer a request() call is sent to. The second
// return value is false if no peer was chosen.
type ForRequest func(ForRequestInput) (peerID string, ok bool)

// ForSendInput is the argument to a ForSend function.
type ForSendInput struct {
	Peers     []Candidate
	NodeInfo  peerinfo.NodeInfo
	PeerLimit int
	Event     string
	Data      any
}

// ForSend picks the fan-out targets for a send() call.
type ForSend func(ForSendInput) []string

// ConnectionCandidates bundles the four peer-info pools a ForConnection
// function chooses dial targets from.
type ConnectionCandidates struct {
	DisconnectedNewPeers   []peerinfo.PeerInfo
	DisconnectedTriedPeers []peerinfo.PeerInfo
	ConnectedNewPeers      []peerinfo.PeerInfo
	ConnectedTriedPeers    []peerinfo.PeerInfo
	NodeInfo               peerinfo.NodeInfo
	CurrentOutbound        int
	MaxOutbound            int
	CurrentInbound         int
	MaxInbound             int
}

// ForConnection picks which discovered peers to dial next.
type ForConnection func(ConnectionCandidates) []peerinfo.PeerInfo

// DefaultForRequest picks the candidate with the lowest-latency-agnostic
// arbitrary-but-deterministic choice: the first candidate. Callers wanting
// latency-aware selection supply their own ForRequest; this default only
// guarantees "pick somebody" so request() never needs a nil check.
func DefaultForRequest(in ForRequestInput) (string, bool) {
	if len(in.Peers) == 0 {
		return "", false
	}
	return in.Peers[0].PeerID, true
}

// DefaultForSend fans out to up to PeerLimit candidates.
func DefaultForSend(in ForSendInput) []string {
	limit := in.PeerLimit
	if limit <= 0 || limit > len(in.Peers) {
		limit = len(in.Peers)
	}
	out := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, in.Peers[i].PeerID)
	}
	return out
}

// DefaultForConnection dials disconnected peers (tried before new) up to
// the remaining outbound quota.
func DefaultForConnection(in ConnectionCandidates) []peerinfo.PeerInfo {
	remaining := in.MaxOutbound - in.CurrentOutbound
	if remaining <= 0 {
		return nil
	}
	out := make([]peerinfo.PeerInfo, 0, remaining)
	for _, p := range in.DisconnectedTriedPeers {
		if len(out) >= remaining {
			return out
		}
		out = append(out, p)
	}
	for _, p := range in.DisconnectedNewPeers {
		if len(out) >= remaining {
			return out
		}
		out = append(out, p)
	}
	return out
}
