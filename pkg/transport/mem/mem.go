package mem

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"peerlink/pkg/transport"
)

// Network is an in-process address space. Transports bound on the same
// Network can reach each other; addresses are opaque names, except that
// "host:0" is assigned the next free port on host.
type Network struct {
	mu    sync.RWMutex
	nodes map[string]func([]byte)
	next  int
}

// DefaultNetwork is used by New.
var DefaultNetwork = NewNetwork()

func NewNetwork() *Network {
	return &Network{nodes: make(map[string]func([]byte)), next: 40000}
}

func (n *Network) bind(addr string, recv func([]byte)) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if host, port, err := net.SplitHostPort(addr); err == nil && port == "0" {
		for {
			n.next++
			cand := net.JoinHostPort(host, strconv.Itoa(n.next))
			if _, taken := n.nodes[cand]; !taken {
				addr = cand
				break
			}
		}
	}
	if _, taken := n.nodes[addr]; taken {
		return "", transport.NewError(transport.CodeIO, "bind", addr, errors.New("address in use"))
	}
	n.nodes[addr] = recv
	return addr, nil
}

func (n *Network) unbind(addr string) {
	n.mu.Lock()
	delete(n.nodes, addr)
	n.mu.Unlock()
}

func (n *Network) lookup(addr string) func([]byte) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nodes[addr]
}

// Len returns the number of bound transports.
func (n *Network) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.nodes)
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// Transport delivers items by handing encoded payloads directly to the
// destination transport on the same Network.
type Transport[D any] struct {
	*transport.Core[D]
}

// New binds on DefaultNetwork.
func New[D any](cfg *transport.Config[D]) (*Transport[D], error) {
	return NewOn(DefaultNetwork, cfg)
}

func NewOn[D any](n *Network, cfg *transport.Config[D]) (*Transport[D], error) {
	if n == nil {
		return nil, transport.Errorf(transport.CodeInvalidArgument, "new", "nil network")
	}
	core, err := transport.NewCore(transport.KindMem, cfg)
	if err != nil {
		return nil, err
	}
	addr, err := n.bind(core.BindAddr(), core.Receive)
	if err != nil {
		return nil, core.Abort(err)
	}
	core.Start(memAddr(addr), &link{net: n, addr: addr})
	return &Transport[D]{Core: core}, nil
}

type link struct {
	net  *Network
	addr string
}

func (lk *link) Deliver(ctx context.Context, address string, payload []byte) error {
	if address == "" {
		return transport.Errorf(transport.CodeAddressParse, "send", "empty address")
	}
	if err := ctx.Err(); err != nil {
		return transport.NewError(transport.CodeIO, "send", address, err)
	}
	recv := lk.net.lookup(address)
	if recv == nil {
		return transport.NewError(transport.CodeIO, "send", address, errors.New("no transport bound"))
	}
	recv(append([]byte(nil), payload...))
	return nil
}

func (lk *link) Release() error {
	lk.net.unbind(lk.addr)
	return nil
}
