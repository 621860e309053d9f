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

// Package peerbook implements the deterministic hash-bucketed new/tried
// peer tables used by discovery to bound an adversary's
// ability to eclipse a node by flooding it with addresses it controls: no
// matter how many addresses an attacker offers, they can only ever occupy
// the fixed set of buckets their addresses hash into.
package peerbook

import (
	"fmt"
	"math/rand"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/r5-labs/lp2p/netutil"
	"github.com/r5-labs/lp2p/peerinfo"
)

// Config configures a Book.
type Config struct {
	Secret           uint32
	NewBucketCount   int
	TriedBucketCount int
	BucketCapacity   int
}

// DefaultConfig returns sane bucket sizing, in the spirit of a small/medium
// node rather than a large public relay.
func DefaultConfig() Config {
	return Config{NewBucketCount: 256, TriedBucketCount: 64, BucketCapacity: 64}
}

type bucket struct {
	// order tracks insertion order for least-recently-seen eviction: index
	// 0 is the oldest entry in the bucket.
	order []string
	peers map[string]peerinfo.PeerInfo
}

func newBucket() *bucket {
	return &bucket{peers: make(map[string]peerinfo.PeerInfo)}
}

func (b *bucket) touch(peerID string) {
	for i, id := range b.order {
		if id == peerID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.order = append(b.order, peerID)
}

// Book is the discovered-address store: two
// hash-bucketed tables (new, tried) plus the four sanitized peer lists.
type Book struct {
	cfg Config

	mu      sync.Mutex
	newB    []*bucket
	triedB  []*bucket
	ownerID string // this node's own peerId, always excluded

	seedPeers     []peerinfo.PeerInfo
	fixedPeers    []peerinfo.PeerInfo
	whitelisted   []peerinfo.PeerInfo
	previousPeers []peerinfo.PeerInfo
}

// New creates an empty Book. ownerID, if non-empty, is this node's own
// peerId; it is silently refused from every insertion so a node can never
// appear in its own lists.
func New(cfg Config, ownerID string) *Book {
	if cfg.NewBucketCount <= 0 {
		cfg.NewBucketCount = DefaultConfig().NewBucketCount
	}
	if cfg.TriedBucketCount <= 0 {
		cfg.TriedBucketCount = DefaultConfig().TriedBucketCount
	}
	if cfg.BucketCapacity <= 0 {
		cfg.BucketCapacity = DefaultConfig().BucketCapacity
	}
	b := &Book{cfg: cfg, ownerID: ownerID}
	b.newB = make([]*bucket, cfg.NewBucketCount)
	b.triedB = make([]*bucket, cfg.TriedBucketCount)
	for i := range b.newB {
		b.newB[i] = newBucket()
	}
	for i := range b.triedB {
		b.triedB[i] = newBucket()
	}
	return b
}

func (book *Book) bucketFor(kind netutil.PeerKind, ip string) (*bucket, int, error) {
	count := book.cfg.NewBucketCount
	table := book.newB
	if kind == netutil.KindTried {
		count = book.cfg.TriedBucketCount
		table = book.triedB
	}
	idx, err := netutil.BucketID(book.cfg.Secret, ip, kind, count)
	if err != nil {
		return nil, 0, err
	}
	return table[idx], idx, nil
}

// AddNew inserts a peer into the new table. Re-adding an
// already-known peerId updates its record and insertion-order position.
func (book *Book) AddNew(p peerinfo.PeerInfo) error {
	return book.add(netutil.KindNew, p)
}

// AddTried inserts a peer into the tried table, i.e. one we have
// successfully connected to at least once.
func (book *Book) AddTried(p peerinfo.PeerInfo) error {
	return book.add(netutil.KindTried, p)
}

func (book *Book) add(kind netutil.PeerKind, p peerinfo.PeerInfo) error {
	id, err := p.PeerID()
	if err != nil {
		return err
	}
	book.mu.Lock()
	defer book.mu.Unlock()
	if book.ownerID != "" && id == book.ownerID {
		return nil
	}
	b, _, err := book.bucketFor(kind, p.IPAddress)
	if err != nil {
		return err
	}
	if _, exists := b.peers[id]; !exists && len(b.peers) >= book.cfg.BucketCapacity {
		book.evictLocked(b)
	}
	b.peers[id] = p
	b.touch(id)
	return nil
}

// evictLocked drops the least-recently-seen entry in the bucket (the head
// of the order slice). Callers hold book.mu.
func (book *Book) evictLocked(b *bucket) {
	if len(b.order) == 0 {
		return
	}
	victim := b.order[0]
	b.order = b.order[1:]
	delete(b.peers, victim)
}

// UpgradeNewToTried moves peerId from the new table to the tried table,
// e.g. after a successful outbound connect.
func (book *Book) UpgradeNewToTried(peerID string) error {
	book.mu.Lock()
	defer book.mu.Unlock()
	for _, b := range book.newB {
		if p, ok := b.peers[peerID]; ok {
			delete(b.peers, peerID)
			b.order = removeString(b.order, peerID)
			book.mu.Unlock()
			err := book.AddTried(p)
			book.mu.Lock()
			return err
		}
	}
	return fmt.Errorf("peerbook: %q not present in new table", peerID)
}

// Has reports whether peerId is present in either table.
func (book *Book) Has(peerID string) bool {
	book.mu.Lock()
	defer book.mu.Unlock()
	for _, b := range book.newB {
		if _, ok := b.peers[peerID]; ok {
			return true
		}
	}
	for _, b := range book.triedB {
		if _, ok := b.peers[peerID]; ok {
			return true
		}
	}
	return false
}

// Remove drops peerId from both tables.
func (book *Book) Remove(peerID string) {
	book.mu.Lock()
	defer book.mu.Unlock()
	for _, b := range book.newB {
		if _, ok := b.peers[peerID]; ok {
			delete(b.peers, peerID)
			b.order = removeString(b.order, peerID)
		}
	}
	for _, b := range book.triedB {
		if _, ok := b.peers[peerID]; ok {
			delete(b.peers, peerID)
			b.order = removeString(b.order, peerID)
		}
	}
}

// GetAllPeers returns every peer in both tables (deduplicated by peerId,
// tried entries winning over new on conflict).
func (book *Book) GetAllPeers() []peerinfo.PeerInfo {
	book.mu.Lock()
	defer book.mu.Unlock()
	out := make(map[string]peerinfo.PeerInfo)
	for _, b := range book.newB {
		for id, p := range b.peers {
			out[id] = p
		}
	}
	for _, b := range book.triedB {
		for id, p := range b.peers {
			out[id] = p
		}
	}
	result := make([]peerinfo.PeerInfo, 0, len(out))
	for _, p := range out {
		result = append(result, p)
	}
	return result
}

// GetBucket returns a copy of the peers in bucket id of the given table.
func (book *Book) GetBucket(kind netutil.PeerKind, id int) ([]peerinfo.PeerInfo, error) {
	book.mu.Lock()
	defer book.mu.Unlock()
	table := book.newB
	if kind == netutil.KindTried {
		table = book.triedB
	}
	if id < 0 || id >= len(table) {
		return nil, fmt.Errorf("peerbook: bucket id %d out of range", id)
	}
	b := table[id]
	out := make([]peerinfo.PeerInfo, 0, len(b.peers))
	for _, p := range b.peers {
		out = append(out, p)
	}
	return out, nil
}

// RandomNewPeers returns up to n peers sampled across the new table,
// used by the facade's discovery populator.
func (book *Book) RandomNewPeers(n int) []peerinfo.PeerInfo {
	return book.randomFrom(book.newB, n)
}

// RandomTriedPeers returns up to n peers sampled across the tried table.
func (book *Book) RandomTriedPeers(n int) []peerinfo.PeerInfo {
	return book.randomFrom(book.triedB, n)
}

func (book *Book) randomFrom(table []*bucket, n int) []peerinfo.PeerInfo {
	book.mu.Lock()
	defer book.mu.Unlock()
	var all []peerinfo.PeerInfo
	for _, b := range table {
		for _, p := range b.peers {
			all = append(all, p)
		}
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if n > 0 && n < len(all) {
		return all[:n]
	}
	return all
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// SanitizedLists bundles the four sanitized peer lists.
type SanitizedLists struct {
	SeedPeers     []peerinfo.PeerInfo
	FixedPeers    []peerinfo.PeerInfo
	Whitelisted   []peerinfo.PeerInfo
	PreviousPeers []peerinfo.PeerInfo
}

// RawLists is the unsanitized configuration input to SanitizePeerLists.
type RawLists struct {
	SeedPeers     []peerinfo.PeerInfo
	FixedPeers    []peerinfo.PeerInfo
	Whitelisted   []peerinfo.PeerInfo
	PreviousPeers []peerinfo.PeerInfo
}

// SanitizePeerLists normalizes
// every ipAddress, drops any entry whose IP is blacklisted from every list,
// and drops whitelist entries that also appear in fixed or seed.
func SanitizePeerLists(lists RawLists, blacklistedIPs []string) (SanitizedLists, error) {
	blacklist := mapset.NewSet[string]()
	for _, ip := range blacklistedIPs {
		n, err := netutil.NormalizeAddress(ip)
		if err != nil {
			continue
		}
		blacklist.Add(n.Address)
	}

	filter := func(in []peerinfo.PeerInfo) ([]peerinfo.PeerInfo, error) {
		out := make([]peerinfo.PeerInfo, 0, len(in))
		for _, p := range in {
			n, err := netutil.NormalizeAddress(p.IPAddress)
			if err != nil {
				return nil, err
			}
			if blacklist.Contains(n.Address) {
				continue
			}
			p = p.Clone()
			p.IPAddress = n.Address
			out = append(out, p)
		}
		return out, nil
	}

	seed, err := filter(lists.SeedPeers)
	if err != nil {
		return SanitizedLists{}, err
	}
	fixed, err := filter(lists.FixedPeers)
	if err != nil {
		return SanitizedLists{}, err
	}
	whitelisted, err := filter(lists.Whitelisted)
	if err != nil {
		return SanitizedLists{}, err
	}
	previous, err := filter(lists.PreviousPeers)
	if err != nil {
		return SanitizedLists{}, err
	}

	inFixedOrSeed := mapset.NewSet[string]()
	for _, p := range fixed {
		if id, err := p.PeerID(); err == nil {
			inFixedOrSeed.Add(id)
		}
	}
	for _, p := range seed {
		if id, err := p.PeerID(); err == nil {
			inFixedOrSeed.Add(id)
		}
	}
	filteredWhitelist := whitelisted[:0:0]
	for _, p := range whitelisted {
		id, err := p.PeerID()
		if err == nil && inFixedOrSeed.Contains(id) {
			continue
		}
		filteredWhitelist = append(filteredWhitelist, p)
	}

	return SanitizedLists{
		SeedPeers:     seed,
		FixedPeers:    fixed,
		Whitelisted:   filteredWhitelist,
		PreviousPeers: previous,
	}, nil
}
