package udp

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"peerlink/pkg/transport"
)

// MaxDatagramSize is the largest payload that fits one IPv4 UDP datagram.
const MaxDatagramSize = 65507

// Transport sends every item as a single datagram from its bound socket.
// Delivery is unacknowledged: Send succeeds once the datagram is written.
type Transport[D any] struct {
	*transport.Core[D]
}

func New[D any](cfg *transport.Config[D]) (*Transport[D], error) {
	core, err := transport.NewCore(transport.KindUDP, cfg)
	if err != nil {
		return nil, err
	}
	bind := core.BindAddr()
	if _, _, err := transport.ParseHostPort(bind); err != nil {
		return nil, core.Abort(err)
	}
	laddr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, core.Abort(transport.NewError(transport.CodeAddressParse, "bind", bind, err))
	}
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, core.Abort(transport.NewError(transport.CodeIO, "bind", bind, err))
	}
	lk := &link{conn: c, log: core.Logger(), recv: core.Receive}
	core.Start(c.LocalAddr(), lk)
	core.Go(lk.readLoop)
	return &Transport[D]{Core: core}, nil
}

type link struct {
	conn *net.UDPConn
	log  *zap.Logger
	recv func([]byte)
}

func (lk *link) readLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := lk.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				lk.log.Warn("udp read failed", zap.Error(err))
			}
			return
		}
		if n > MaxDatagramSize {
			lk.log.Debug("dropping oversized datagram", zap.Stringer("from", from), zap.Int("bytes", n))
			continue
		}
		lk.recv(append([]byte(nil), buf[:n]...))
	}
}

func (lk *link) Deliver(ctx context.Context, address string, payload []byte) error {
	if _, _, err := transport.ParseHostPort(address); err != nil {
		return err
	}
	if len(payload) > MaxDatagramSize {
		return transport.Errorf(transport.CodeCapacityExceeded, "send", "payload of %d bytes exceeds datagram limit %d", len(payload), MaxDatagramSize)
	}
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return transport.NewError(transport.CodeIO, "resolve", address, err)
	}
	// The socket is shared by every sender, so ctx is only checked up front;
	// a datagram write does not wait on the peer.
	if err := ctx.Err(); err != nil {
		return transport.NewError(transport.CodeIO, "send", address, err)
	}
	n, err := lk.conn.WriteToUDP(payload, raddr)
	if err != nil {
		return transport.WrapIO("send", address, err)
	}
	if n < len(payload) {
		return transport.Errorf(transport.CodeIncomplete, "send", "wrote %d of %d bytes to %s", n, len(payload), address)
	}
	return nil
}

func (lk *link) Release() error { return lk.conn.Close() }
