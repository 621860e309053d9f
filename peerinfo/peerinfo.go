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

// Package peerinfo holds the wire-level PeerInfo/NodeInfo data model
// and its validation rules.
package peerinfo

import (
	"encoding/json"
	"fmt"

	"github.com/r5-labs/lp2p/netutil"
)

// PeerInfo is a discovered peer's address and advertised node facts
//. Extra carries any additional advertised fields verbatim;
// the total encoded size is checked against maxPeerInfoSize by
// ValidatePeerInfo.
type PeerInfo struct {
	IPAddress       string         `json:"ipAddress"`
	WSPort          int            `json:"wsPort"`
	Version         string         `json:"version"`
	ProtocolVersion string         `json:"protocolVersion,omitempty"`
	OS              string         `json:"os,omitempty"`
	Height          uint64         `json:"height"`
	Extra           map[string]any `json:"-"`
}

// PeerID returns the canonical "<ip>:<port>" / "[<ip>]:<port>" identity of
// the peer.
func (p PeerInfo) PeerID() (string, error) {
	return netutil.PeerID(p.IPAddress, p.WSPort)
}

// Clone returns a deep-enough copy of p (Extra is shallow-copied; its
// values are never mutated in place by lp2p).
func (p PeerInfo) Clone() PeerInfo {
	c := p
	if p.Extra != nil {
		c.Extra = make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// MarshalJSON flattens Extra alongside the named fields, since on the wire
// a PeerInfo is one JSON object carrying both the known fields and
// whatever additional facts the advertising node chose to include.
func (p PeerInfo) MarshalJSON() ([]byte, error) {
	type alias PeerInfo
	base, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return base, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, known := m[k]; known {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		m[k] = raw
	}
	return json.Marshal(m)
}

// WireMap renders p in the wire field naming ("ip" rather than the
// internal "ipAddress"), the shape ValidatePeerInfo accepts back.
func (p PeerInfo) WireMap() map[string]any {
	m := map[string]any{
		"ip":      p.IPAddress,
		"wsPort":  p.WSPort,
		"version": p.Version,
		"height":  p.Height,
	}
	if p.ProtocolVersion != "" {
		m["protocolVersion"] = p.ProtocolVersion
	}
	if p.OS != "" {
		m["os"] = p.OS
	}
	for k, v := range p.Extra {
		if _, known := m[k]; !known {
			m[k] = v
		}
	}
	return m
}

// NodeInfo is the local node's advertised state, exchanged via the
// built-in "status" RPC and the "updateMyself"/"nodeInfoChanged" verbs.
type NodeInfo struct {
	IPAddress       string   `json:"ipAddress"`
	WSPort          int      `json:"wsPort"`
	Version         string   `json:"version"`
	ProtocolVersion string   `json:"protocolVersion,omitempty"`
	OS              string   `json:"os,omitempty"`
	Height          uint64   `json:"height"`
	MinVersion      string   `json:"minVersion,omitempty"`
	Modules         []string `json:"modules,omitempty"`
}

// ToPeerInfo converts the local node's own facts into the PeerInfo shape
// used to advertise it to remote peers.
func (n NodeInfo) ToPeerInfo() PeerInfo {
	return PeerInfo{
		IPAddress:       n.IPAddress,
		WSPort:          n.WSPort,
		Version:         n.Version,
		ProtocolVersion: n.ProtocolVersion,
		OS:              n.OS,
		Height:          n.Height,
	}
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("NodeInfo{ip=%s port=%d version=%s modules=%v}", n.IPAddress, n.WSPort, n.Version, n.Modules)
}
