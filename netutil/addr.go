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

package netutil

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Network classifies a normalized address for bucketing and compatibility
// purposes.
type Network int

const (
	// NetworkOther is any address lp2p does not recognize well enough to
	// bucket individually.
	NetworkOther Network = iota
	NetworkLocal
	NetworkPrivate
	NetworkIPv4
	NetworkIPv6
)

func (n Network) String() string {
	switch n {
	case NetworkLocal:
		return "LOCAL"
	case NetworkPrivate:
		return "PRIVATE"
	case NetworkIPv4:
		return "IPV4"
	case NetworkIPv6:
		return "IPV6"
	default:
		return "OTHER"
	}
}

// ErrUnsupportedAddress is returned by BucketID for an address that
// classifies as NetworkOther.
var ErrUnsupportedAddress = errors.New("netutil: unsupported address")

// Normalized is the result of NormalizeAddress.
type Normalized struct {
	Protocol string // "IPv4" or "IPv6"
	Address  string
}

// NormalizeAddress normalizes a textual IPv4 or IPv6 address: IPv4
// passes through unchanged; an IPv4-mapped IPv6 address
// (::ffff:a.b.c.d) is unwrapped to its dotted form; any other IPv6 address
// is expanded (no "::" shorthand), lowercased, and has the leading zeros
// of each group stripped.
func NormalizeAddress(a string) (Normalized, error) {
	ip := net.ParseIP(strings.TrimSpace(a))
	if ip == nil {
		return Normalized{}, fmt.Errorf("netutil: invalid address %q", a)
	}
	if v4 := ip.To4(); v4 != nil && !strings.Contains(a, ":") {
		return Normalized{Protocol: "IPv4", Address: v4.String()}, nil
	}
	if v4 := ip.To4(); v4 != nil {
		// IPv4-mapped IPv6, e.g. ::ffff:192.0.2.1.
		return Normalized{Protocol: "IPv4", Address: v4.String()}, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return Normalized{}, fmt.Errorf("netutil: invalid address %q", a)
	}
	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		g := binary.BigEndian.Uint16(v6[i*2 : i*2+2])
		groups[i] = strconv.FormatUint(uint64(g), 16)
	}
	return Normalized{Protocol: "IPv6", Address: strings.ToLower(strings.Join(groups, ":"))}, nil
}

// ClassifyNetwork classifies a textual address by network family and
// reachability class.
func ClassifyNetwork(a string) Network {
	n, err := NormalizeAddress(a)
	if err != nil {
		return NetworkOther
	}
	if n.Protocol == "IPv4" {
		parts := strings.Split(n.Address, ".")
		if len(parts) != 4 {
			return NetworkOther
		}
		first, err1 := strconv.Atoi(parts[0])
		second, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return NetworkOther
		}
		switch {
		case first == 0 || first == 127:
			return NetworkLocal
		case first == 10:
			return NetworkPrivate
		case first == 172 && second >= 16 && second <= 31:
			return NetworkPrivate
		default:
			return NetworkIPv4
		}
	}
	// IPv6.
	if n.Address == "0:0:0:0:0:0:0:1" {
		return NetworkLocal
	}
	if strings.HasPrefix(n.Address, "fc") || strings.HasPrefix(n.Address, "fd") {
		return NetworkPrivate
	}
	return NetworkIPv6
}

// PeerKind distinguishes a peer-book table for bucketing purposes (new vs.
// tried).
type PeerKind int

const (
	KindNew PeerKind = iota
	KindTried
)

func (k PeerKind) String() string {
	if k == KindTried {
		return "tried"
	}
	return "new"
}

// addressBytes renders a normalized address as the fixed-width byte string
// consumed by BucketID: 4 bytes for IPv4, 16 bytes (8 groups x 2 bytes,
// zero-padded) for IPv6.
func addressBytes(n Normalized) ([]byte, error) {
	switch n.Protocol {
	case "IPv4":
		ip := net.ParseIP(n.Address).To4()
		if ip == nil {
			return nil, fmt.Errorf("netutil: invalid IPv4 address %q", n.Address)
		}
		return []byte(ip), nil
	case "IPv6":
		groups := strings.Split(n.Address, ":")
		if len(groups) != 8 {
			return nil, fmt.Errorf("netutil: invalid IPv6 address %q", n.Address)
		}
		out := make([]byte, 16)
		for i, g := range groups {
			v, err := strconv.ParseUint(g, 16, 16)
			if err != nil {
				return nil, fmt.Errorf("netutil: invalid IPv6 group %q", g)
			}
			binary.BigEndian.PutUint16(out[i*2:i*2+2], uint16(v))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("netutil: cannot render bytes for protocol %q", n.Protocol)
	}
}

// networkCode is the single byte baked into the BucketID hash input,
// distinguishing the four network classes that can reach a bucket (OTHER
// never reaches BucketID's hash step - it fails first).
func networkCode(n Network) byte {
	return byte(n)
}

// BucketID computes the deterministic bucket index for targetAddress in
// [0, bucketCount): SHA-256(secret(4, BE) || networkCode(1) || kind(1)
// || addressBytes), first 4 bytes big-endian, modulo bucketCount.
//
// For LOCAL/PRIVATE networks addressBytes is omitted: every such
// address for a given secret+kind collides into the same bucket. An
// attacker cannot selectively target those classes to eclipse a specific
// real address.
func BucketID(secret uint32, targetAddress string, kind PeerKind, bucketCount int) (int, error) {
	if bucketCount <= 0 {
		return 0, fmt.Errorf("netutil: bucketCount must be positive, got %d", bucketCount)
	}
	class := ClassifyNetwork(targetAddress)
	if class == NetworkOther {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAddress, targetAddress)
	}
	n, err := NormalizeAddress(targetAddress)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, 0, 4+1+16)
	var secretBytes [4]byte
	binary.BigEndian.PutUint32(secretBytes[:], secret)
	buf = append(buf, secretBytes[:]...)
	buf = append(buf, networkCode(class))
	// kind is folded into the byte stream so the new and tried tables
	// never alias for the same secret.
	buf = append(buf, byte(kind))

	if class != NetworkLocal && class != NetworkPrivate {
		ab, err := addressBytes(n)
		if err != nil {
			return 0, err
		}
		buf = append(buf, ab...)
	}

	sum := sha256.Sum256(buf)
	idx := binary.BigEndian.Uint32(sum[:4])
	return int(idx % uint32(bucketCount)), nil
}

// PeerID formats the canonical "<ip>:<port>" / "[<ip>]:<port>" peer
// identifier.
func PeerID(ipAddress string, wsPort int) (string, error) {
	n, err := NormalizeAddress(ipAddress)
	if err != nil {
		return "", err
	}
	if n.Protocol == "IPv6" {
		return fmt.Sprintf("[%s]:%d", n.Address, wsPort), nil
	}
	return fmt.Sprintf("%s:%d", n.Address, wsPort), nil
}
