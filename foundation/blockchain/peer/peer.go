// Package peer maintains the set of remote listen addresses a node has
// dialed or has been told it can dial.
package peer

import (
	"sort"
	"sync"
)

// Peer represents the dialable address of a remote node.
type Peer struct {
	Address string
}

// New contructs a new peer value.
func New(address string) Peer {
	return Peer{
		Address: address,
	}
}

// Match validates if the specified address matches this peer.
func (p Peer) Match(address string) bool {
	return p.Address == address
}

// String implements the fmt.Stringer interface.
func (p Peer) String() string {
	return p.Address
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known peers.
type PeerSet struct {
	mu  sync.RWMutex
	set map[Peer]struct{}
}

// NewPeerSet constructs a new set to manage known peer addresses.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[Peer]struct{}),
	}
}

// Add adds a new peer to the set. It reports false when the peer
// was already known.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer]
	if !exists {
		ps.set[peer] = struct{}{}
		return true
	}

	return false
}

// Remove removes a peer from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Contains reports whether the peer is in the set.
func (ps *PeerSet) Contains(peer Peer) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, exists := ps.set[peer]
	return exists
}

// Reset removes every peer from the set.
func (ps *PeerSet) Reset() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.set = make(map[Peer]struct{})
}

// Copy returns a sorted list of the known peers excluding the
// specified address.
func (ps *PeerSet) Copy(address string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for peer := range ps.set {
		if !peer.Match(address) {
			peers = append(peers, peer)
		}
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Address < peers[j].Address
	})

	return peers
}
