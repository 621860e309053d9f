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

package peerinfo

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/r5-labs/lp2p/errs"
	"github.com/r5-labs/lp2p/netutil"
)

// wirePeerInfo is the raw shape accepted off the wire: "ip" rather than
// the internal "ipAddress".
type wirePeerInfo struct {
	IP              string      `json:"ip"`
	WSPort          json.Number `json:"wsPort"`
	Version         string      `json:"version"`
	ProtocolVersion string      `json:"protocolVersion"`
	OS              string      `json:"os"`
	Height          json.Number `json:"height"`
}

// ValidatePeerInfo validates and sanitizes a raw wire PeerInfo. raw is the exact bytes received; maxByteSize bounds its size.
func ValidatePeerInfo(raw []byte, maxByteSize int) (PeerInfo, error) {
	if maxByteSize > 0 && len(raw) > maxByteSize {
		return PeerInfo{}, errs.New(errs.KindInvalidPeer, "", "peer info exceeds maxPeerInfoSize")
	}
	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return PeerInfo{}, errs.Wrap(errs.KindInvalidPeer, "", "malformed peer info JSON", err)
	}
	var w wirePeerInfo
	if err := json.Unmarshal(raw, &w); err != nil {
		return PeerInfo{}, errs.Wrap(errs.KindInvalidPeer, "", "malformed peer info JSON", err)
	}

	if w.IP == "" {
		return PeerInfo{}, errs.New(errs.KindInvalidPeer, "", "missing ip")
	}
	norm, err := netutil.NormalizeAddress(w.IP)
	if err != nil {
		return PeerInfo{}, errs.Wrap(errs.KindInvalidPeer, "", "invalid ip", err)
	}

	port, err := w.WSPort.Int64()
	if err != nil || port < 1 || port > 65535 {
		return PeerInfo{}, errs.New(errs.KindInvalidPeer, "", "invalid wsPort")
	}

	if w.Version == "" {
		return PeerInfo{}, errs.New(errs.KindInvalidPeer, "", "missing version")
	}
	if _, err := semver.NewVersion(w.Version); err != nil {
		return PeerInfo{}, errs.Wrap(errs.KindInvalidPeer, "", "invalid semver version", err)
	}

	height := uint64(0)
	if w.Height != "" {
		h, err := strconv.ParseUint(string(w.Height), 10, 64)
		if err == nil {
			height = h
		}
	}

	extra := make(map[string]any)
	for k, v := range all {
		switch k {
		case "ip", "wsPort", "version", "protocolVersion", "os", "height":
			continue
		default:
			extra[k] = v
		}
	}

	return PeerInfo{
		IPAddress:       norm.Address,
		WSPort:          int(port),
		Version:         w.Version,
		ProtocolVersion: w.ProtocolVersion,
		OS:              w.OS,
		Height:          height,
		Extra:           extra,
	}, nil
}

// ValidatePeerList validates the response of the built-in "list" procedure
//: the response must carry a "peers" array no longer than
// maxListLength; any individual peer whose serialized size exceeds
// maxPerPeerBytes is silently dropped rather than failing the whole list.
func ValidatePeerList(raw []byte, maxListLength, maxPerPeerBytes int) ([]PeerInfo, error) {
	var wire struct {
		Peers []json.RawMessage `json:"peers"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errs.Wrap(errs.KindInvalidProtocolMessage, "", "malformed peer list", err)
	}
	if len(wire.Peers) > maxListLength {
		return nil, errs.New(errs.KindInvalidProtocolMessage, "", "peer list exceeds maxListLength")
	}
	out := make([]PeerInfo, 0, len(wire.Peers))
	for _, p := range wire.Peers {
		if maxPerPeerBytes > 0 && len(p) > maxPerPeerBytes {
			continue
		}
		pi, err := ValidatePeerInfo(p, 0)
		if err != nil {
			continue
		}
		out = append(out, pi)
	}
	return out, nil
}

// ValidateRPCRequest validates the envelope of an inbound rpc-request frame
//: procedure must be a non-empty string.
func ValidateRPCRequest(raw map[string]any) (string, any, error) {
	proc, ok := raw["procedure"].(string)
	if !ok || proc == "" {
		return "", nil, errs.New(errs.KindInvalidRPCRequest, "", "procedure must be a string")
	}
	return proc, raw["data"], nil
}

// ValidateMessage validates the envelope of an inbound remote-message frame
//: event must be a non-empty string.
func ValidateMessage(raw map[string]any) (string, any, error) {
	event, ok := raw["event"].(string)
	if !ok || event == "" {
		return "", nil, errs.New(errs.KindInvalidProtocolMessage, "", "event must be a string")
	}
	return event, raw["data"], nil
}

// CheckCompatibility gates which peers this node will talk to: if the peer
// advertises no protocolVersion, fall back to semver.gte(peer.version,
// node.minVersion); otherwise compare only the major component of
// protocolVersion for exact equality, requiring major >= 1.
func CheckCompatibility(peer PeerInfo, node NodeInfo) bool {
	if peer.ProtocolVersion == "" {
		if node.MinVersion == "" {
			return true
		}
		pv, err := semver.NewVersion(peer.Version)
		if err != nil {
			return false
		}
		minv, err := semver.NewVersion(node.MinVersion)
		if err != nil {
			return false
		}
		return pv.Compare(minv) >= 0
	}

	peerMajor, err := majorOf(peer.ProtocolVersion)
	if err != nil {
		return false
	}
	nodeMajor, err := majorOf(node.ProtocolVersion)
	if err != nil {
		return false
	}
	return peerMajor >= 1 && peerMajor == nodeMajor
}

func majorOf(protocolVersion string) (int, error) {
	parts := strings.SplitN(protocolVersion, ".", 2)
	return strconv.Atoi(parts[0])
}
