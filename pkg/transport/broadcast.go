package transport

import (
	"fmt"
	"iter"
	"slices"
	"strings"
)

// PeerError is the failure of one peer during a broadcast.
type PeerError struct {
	Addr string
	Err  error
}

// BroadcastError lists the peers a broadcast could not reach, in registry
// order. Peers not listed were sent to.
type BroadcastError struct {
	Failed []PeerError
}

func (e *BroadcastError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "broadcast: %d peer(s) failed", len(e.Failed))
	for _, f := range e.Failed {
		fmt.Fprintf(&b, "; %s: %v", f.Addr, f.Err)
	}
	return b.String()
}

// Unwrap exposes every per-peer error to errors.Is and errors.As.
func (e *BroadcastError) Unwrap() []error {
	out := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		out[i] = f.Err
	}
	return out
}

// AddrSlice is a PeerList over a fixed slice of addresses.
type AddrSlice []string

func (s AddrSlice) NetAddrs() iter.Seq[string] { return slices.Values(s) }
