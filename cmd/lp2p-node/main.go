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

// lp2p-node runs a standalone mesh participant, mainly for manual
// smoke-testing against other nodes: it joins the mesh, logs the event
// stream, and answers the built-in procedures.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/r5-labs/lp2p/config"
	"github.com/r5-labs/lp2p/log"
	"github.com/r5-labs/lp2p/lp2p"
	"github.com/r5-labs/lp2p/peerinfo"
	"github.com/r5-labs/lp2p/pevent"
	"github.com/r5-labs/lp2p/transport"
)

func main() {
	var (
		ip      = flag.String("ip", "127.0.0.1", "advertised IP address")
		port    = flag.Int("port", 7512, "websocket listen port")
		version = flag.String("version", "1.0.0", "advertised node version")
		proto   = flag.String("protocol-version", "1.1", "advertised protocol version")
		seeds   = flag.String("seeds", "", "comma-separated seed peers, ip:port each")
	)
	flag.Parse()

	logger := log.New("lp2p-node")

	cfg := config.Default()
	cfg.Secret = rand.Uint32()
	seedPeers, err := parseSeeds(*seeds, *version, *proto)
	if err != nil {
		logger.Error("invalid -seeds", "err", err)
		os.Exit(1)
	}
	cfg.PeerLists.SeedPeers = seedPeers

	info := peerinfo.NodeInfo{
		IPAddress:       *ip,
		WSPort:          *port,
		Version:         *version,
		ProtocolVersion: *proto,
		OS:              runtime.GOOS,
	}

	node, err := lp2p.New(cfg, transport.WSTransport{}, info)
	if err != nil {
		logger.Error("failed to construct node", "err", err)
		os.Exit(1)
	}

	events := make(chan pevent.Event, 1024)
	node.Events().Subscribe(events)
	go func() {
		for ev := range events {
			logger.Info("event", "name", string(ev.Name), "peer", ev.PeerID)
		}
	}()

	bind := fmt.Sprintf(":%d", *port)
	if err := node.Start(bind); err != nil {
		logger.Error("failed to start node", "err", err)
		os.Exit(1)
	}
	logger.Info("listening", "bind", bind, "peers", len(seedPeers))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	node.Stop()
}

func parseSeeds(list, version, proto string) ([]peerinfo.PeerInfo, error) {
	if list == "" {
		return nil, nil
	}
	var out []peerinfo.PeerInfo
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		host, portStr, err := net.SplitHostPort(entry)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", entry, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("seed %q: bad port", entry)
		}
		out = append(out, peerinfo.PeerInfo{
			IPAddress:       host,
			WSPort:          port,
			Version:         version,
			ProtocolVersion: proto,
		})
	}
	return out, nil
}
