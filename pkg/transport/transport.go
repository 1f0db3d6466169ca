package transport

import (
	"context"
	"iter"
	"net"
)

// Kind identifies the link type of a transport.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindUDP
	KindQUIC
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindQUIC:
		return "quic"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// State is the lifecycle stage of a transport.
//
// Constructors move a transport from StateUnbound through StateBound to
// StateActive before returning, so callers only ever observe StateActive
// and StateClosed.
type State int32

const (
	StateUnbound State = iota
	StateBound
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// PeerList is the read-only view of a peer registry used by Broadcast.
// NetAddrs yields the primary address of every peer in registry order.
type PeerList interface {
	NetAddrs() iter.Seq[string]
}

// Stats is a snapshot of a transport's counters.
type Stats struct {
	Received       uint64 // decoded inbound items
	DecodeFailures uint64
	SinkFailures   uint64
	PullDropped    uint64 // items turned away by a full pull buffer
	InboxDropped   uint64 // sink deliveries skipped by a full inbox or lane
	Sent           uint64 // successful per-peer deliveries
	SendFailures   uint64
}

// Transport sends, broadcasts and receives values of type D.
//
// Inbound items are exposed both through Next (pull) and through the sinks
// registered on the Config the transport was built from (push). Both paths
// observe every decoded item exactly once.
type Transport[D any] interface {
	Kind() Kind
	// Addr is the bound listening address.
	Addr() net.Addr
	State() State

	// Send delivers data to exactly one address.
	Send(ctx context.Context, address string, data D) error
	// Broadcast delivers data to every peer of peers, in order, using the
	// same per-peer path as Send.
	Broadcast(ctx context.Context, peers PeerList, data D) error

	// Next blocks until an inbound item is available, ctx is done, or the
	// transport is closed. After Close it drains buffered items and then
	// returns ErrClosed.
	Next(ctx context.Context) (D, error)

	Stats() Stats

	// Close releases the listener, connections and goroutines. It is
	// idempotent.
	Close() error
}
