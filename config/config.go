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

// Package config holds the single configuration surface shared by
// session, pool, and the lp2p facade.
// Keeping it in its own package, rather than on the facade, lets session
// and pool depend on it without importing the facade.
package config

import (
	"time"

	"github.com/r5-labs/lp2p/peerbook"
	"github.com/r5-labs/lp2p/selection"
)

// Config collects every lp2p tunable.
type Config struct {
	ConnectTimeout time.Duration
	AckTimeout     time.Duration

	RateCalculationInterval   time.Duration
	ProductivityResetInterval time.Duration
	WSMaxMessageRate          float64
	WSMaxMessageRatePenalty   int
	WSMaxPayloadInbound       int
	WSMaxPayloadOutbound      int

	PingIntervalMin time.Duration
	PingIntervalMax time.Duration

	MaxPeerInfoSize                 int
	MaxPeerDiscoveryResponseLength  int
	MinimumPeerDiscoveryThreshold   int
	MaxPeerDiscoveryProbeSampleSize int
	MaxListLength                   int
	MaxPerPeerBytes                 int

	MaxOutboundConnections int
	MaxInboundConnections  int
	// InboundQuotaModuleFactor scales the inbound quota by the module
	// count of the advertised node info: the quota actually applied is
	// MaxInboundConnections * (len(NodeInfo.Modules) + InboundQuotaModuleFactor).
	// Default 1 reproduces the source's literal moduleCount+1 behavior.
	InboundQuotaModuleFactor int

	SendPeerLimit           int
	OutboundShuffleInterval time.Duration
	PeerBanTime             time.Duration

	PopulatorInterval   time.Duration
	PopulatorStartDelay time.Duration

	LatencyProtectionRatio      float64
	ProductivityProtectionRatio float64
	LongevityProtectionRatio    float64

	Secret         uint32
	PeerLists      peerbook.RawLists
	BlacklistedIPs []string

	SelectForRequest    selection.ForRequest
	SelectForSend       selection.ForSend
	SelectForConnection selection.ForConnection
}

// Default returns the standard defaults.
func Default() Config {
	return Config{
		ConnectTimeout: 2 * time.Second,
		AckTimeout:     2 * time.Second,

		RateCalculationInterval:   time.Second,
		ProductivityResetInterval: 20 * time.Second,
		WSMaxMessageRate:          1000,
		WSMaxMessageRatePenalty:   20,
		WSMaxPayloadInbound:       1 << 20,
		WSMaxPayloadOutbound:      1 << 20,

		PingIntervalMin: 20 * time.Second,
		PingIntervalMax: 60 * time.Second,

		MaxPeerInfoSize:                 4096,
		MaxPeerDiscoveryResponseLength:  100,
		MinimumPeerDiscoveryThreshold:   1,
		MaxPeerDiscoveryProbeSampleSize: 5,
		MaxListLength:                   1000,
		MaxPerPeerBytes:                 2048,

		MaxOutboundConnections:   16,
		MaxInboundConnections:    64,
		InboundQuotaModuleFactor: 1,

		SendPeerLimit:           8,
		OutboundShuffleInterval: 5 * time.Minute,
		PeerBanTime:             10 * time.Minute,

		PopulatorInterval:   30 * time.Second,
		PopulatorStartDelay: 5 * time.Second,

		LatencyProtectionRatio:      0.25,
		ProductivityProtectionRatio: 0.25,
		LongevityProtectionRatio:    0.25,

		SelectForRequest:    selection.DefaultForRequest,
		SelectForSend:       selection.DefaultForSend,
		SelectForConnection: selection.DefaultForConnection,
	}
}
