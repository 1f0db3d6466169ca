// Package peers holds the capacity-bounded peer registry that transports
// broadcast to.
//
// A Registry is owned by the caller that builds it. Transports only read it
// during Broadcast, through the transport.PeerList view returned by
// NetAddrs.
package peers

import (
	"cmp"
	"iter"
	"slices"
	"strings"
	"sync"

	"peerlink/pkg/transport"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1024

// Peer is an addressable remote endpoint. Addrs[0] is the primary address
// used by Broadcast.
type Peer[ID cmp.Ordered] struct {
	ID    ID       `json:"id" yaml:"id" toml:"id"`
	Addrs []string `json:"addrs" yaml:"addrs" toml:"addrs"`
}

// NetAddr returns the primary address, or "" when the peer has none.
func (p Peer[ID]) NetAddr() string {
	if len(p.Addrs) == 0 {
		return ""
	}
	return p.Addrs[0]
}

func (p Peer[ID]) clone() Peer[ID] {
	p.Addrs = slices.Clone(p.Addrs)
	return p
}

func validate[ID cmp.Ordered](p Peer[ID]) error {
	if len(p.Addrs) == 0 {
		return transport.Errorf(transport.CodePeerRegistry, "registry.add", "peer %v has no address", p.ID)
	}
	for _, a := range p.Addrs {
		if strings.TrimSpace(a) == "" {
			return transport.Errorf(transport.CodePeerRegistry, "registry.add", "peer %v has an empty address", p.ID)
		}
	}
	return nil
}

// Registry is an ordered set of peers, unique by ID, that never holds more
// than its capacity.
type Registry[ID cmp.Ordered] struct {
	mu       sync.RWMutex
	peers    []Peer[ID]
	index    map[ID]int
	capacity int
}

var _ transport.PeerList = (*Registry[uint32])(nil)

// New returns an empty registry bounded by capacity (DefaultCapacity if
// capacity <= 0).
func New[ID cmp.Ordered](capacity int) *Registry[ID] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry[ID]{index: make(map[ID]int), capacity: capacity}
}

// Add appends p. It fails with CodeCapacityExceeded when the registry is
// full and with CodePeerRegistry for a duplicate ID or a peer without
// addresses. A failed Add leaves the registry unchanged.
func (r *Registry[ID]) Add(p Peer[ID]) error {
	if err := validate(p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(p)
}

func (r *Registry[ID]) addLocked(p Peer[ID]) error {
	if len(r.peers) >= r.capacity {
		return transport.Errorf(transport.CodeCapacityExceeded, "registry.add", "registry full (%d peers)", r.capacity)
	}
	if _, dup := r.index[p.ID]; dup {
		return transport.Errorf(transport.CodePeerRegistry, "registry.add", "duplicate peer id %v", p.ID)
	}
	r.index[p.ID] = len(r.peers)
	r.peers = append(r.peers, p.clone())
	return nil
}

func (r *Registry[ID]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Registry[ID]) Cap() int { return r.capacity }

// At returns the peer at position i in insertion order.
func (r *Registry[ID]) At(i int) (Peer[ID], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.peers) {
		return Peer[ID]{}, false
	}
	return r.peers[i].clone(), true
}

func (r *Registry[ID]) Get(id ID) (Peer[ID], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return Peer[ID]{}, false
	}
	return r.peers[i].clone(), true
}

func (r *Registry[ID]) snapshot() []Peer[ID] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.peers)
}

// All yields (position, peer) in insertion order. Each call iterates a
// snapshot taken when iteration starts.
func (r *Registry[ID]) All() iter.Seq2[int, Peer[ID]] {
	return func(yield func(int, Peer[ID]) bool) {
		for i, p := range r.snapshot() {
			if !yield(i, p.clone()) {
				return
			}
		}
	}
}

// NetAddrs yields the primary address of every peer in insertion order.
func (r *Registry[ID]) NetAddrs() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, p := range r.snapshot() {
			if !yield(p.NetAddr()) {
				return
			}
		}
	}
}

// SetAddrs replaces the addresses of peer id.
func (r *Registry[ID]) SetAddrs(id ID, addrs ...string) error {
	np := Peer[ID]{ID: id, Addrs: addrs}
	if err := validate(np); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return transport.Errorf(transport.CodePeerRegistry, "registry.set_addrs", "unknown peer id %v", id)
	}
	r.peers[i] = np.clone()
	return nil
}

// Update calls fn for every peer in order under the write lock. fn may
// change addresses; IDs are restored afterwards and a change that leaves a
// peer without addresses is rolled back with an error.
func (r *Registry[ID]) Update(fn func(i int, p *Peer[ID])) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]Peer[ID], len(r.peers))
	for i, p := range r.peers {
		cp := p.clone()
		fn(i, &cp)
		cp.ID = p.ID
		if err := validate(cp); err != nil {
			return err
		}
		next[i] = cp
	}
	r.peers = next
	return nil
}
