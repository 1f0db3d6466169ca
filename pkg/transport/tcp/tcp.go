package tcp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerlink/pkg/transport"
)

// DefaultDialTimeout bounds connection setup when the send context carries
// no deadline.
const DefaultDialTimeout = 5 * time.Second

// Transport carries items as u32 little-endian length-prefixed frames over
// TCP. One outbound connection is kept per destination address and redialed
// once if a write on it fails.
type Transport[D any] struct {
	*transport.Core[D]
}

// New binds cfg's address and starts accepting connections.
func New[D any](cfg *transport.Config[D]) (*Transport[D], error) {
	core, err := transport.NewCore(transport.KindTCP, cfg)
	if err != nil {
		return nil, err
	}
	bind := core.BindAddr()
	if _, _, err := transport.ParseHostPort(bind); err != nil {
		return nil, core.Abort(err)
	}
	l, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, core.Abort(transport.NewError(transport.CodeIO, "bind", bind, err))
	}
	lk := &link{
		l:       l,
		log:     core.Logger(),
		recv:    core.Receive,
		spawn:   core.Go,
		out:     make(map[string]*conn),
		inbound: make(map[net.Conn]struct{}),
	}
	core.Start(l.Addr(), lk)
	core.Go(lk.acceptLoop)
	return &Transport[D]{Core: core}, nil
}

type conn struct {
	mu sync.Mutex
	c  net.Conn
	bw *bufio.Writer
}

func (c *conn) write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.c.SetWriteDeadline(dl)
	} else {
		_ = c.c.SetWriteDeadline(time.Time{})
	}
	if err := transport.WriteFrame(c.bw, payload); err != nil {
		return err
	}
	return c.bw.Flush()
}

type link struct {
	l     net.Listener
	log   *zap.Logger
	recv  func([]byte)
	spawn func(func(context.Context))

	mu      sync.Mutex
	closed  bool
	out     map[string]*conn
	inbound map[net.Conn]struct{}
}

func (lk *link) acceptLoop(ctx context.Context) {
	for {
		c, err := lk.l.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				lk.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		if !lk.track(c) {
			_ = c.Close()
			return
		}
		lk.log.Debug("inbound connection", zap.Stringer("remote", c.RemoteAddr()))
		lk.spawn(func(ctx context.Context) {
			defer lk.untrack(c)
			lk.readLoop(ctx, c)
		})
	}
}

func (lk *link) track(c net.Conn) bool {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	if lk.closed {
		return false
	}
	lk.inbound[c] = struct{}{}
	return true
}

func (lk *link) untrack(c net.Conn) {
	lk.mu.Lock()
	delete(lk.inbound, c)
	lk.mu.Unlock()
	_ = c.Close()
}

// readLoop feeds every frame read from c to the transport until c fails.
func (lk *link) readLoop(ctx context.Context, c net.Conn) {
	br := bufio.NewReader(c)
	for {
		b, err := transport.ReadFrame(br)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				lk.log.Debug("connection read ended", zap.Stringer("remote", c.RemoteAddr()), zap.Error(transport.WrapIO("read", c.RemoteAddr().String(), err)))
			}
			return
		}
		lk.recv(b)
	}
}

func (lk *link) Deliver(ctx context.Context, address string, payload []byte) error {
	if _, _, err := transport.ParseHostPort(address); err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		c, err := lk.dial(ctx, address)
		if err != nil {
			return err
		}
		err = c.write(ctx, payload)
		if err == nil {
			return nil
		}
		lk.drop(address, c)
		if transport.IsCode(err, transport.CodeCapacityExceeded) {
			return err
		}
		lastErr = transport.WrapIO("send", address, err)
		lk.log.Debug("write failed; redialing", zap.String("addr", address), zap.Error(err))
	}
	return lastErr
}

// dial returns the cached connection to address, opening one if needed.
func (lk *link) dial(ctx context.Context, address string) (*conn, error) {
	lk.mu.Lock()
	if lk.closed {
		lk.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if c, ok := lk.out[address]; ok {
		lk.mu.Unlock()
		return c, nil
	}
	lk.mu.Unlock()

	d := net.Dialer{}
	if _, ok := ctx.Deadline(); !ok {
		d.Timeout = DefaultDialTimeout
	}
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, transport.NewError(transport.CodeIO, "dial", address, err)
	}
	c := &conn{c: nc, bw: bufio.NewWriter(nc)}

	lk.mu.Lock()
	defer lk.mu.Unlock()
	if lk.closed {
		_ = nc.Close()
		return nil, transport.ErrClosed
	}
	if existing, ok := lk.out[address]; ok {
		_ = nc.Close()
		return existing, nil
	}
	lk.out[address] = c
	// The remote never writes on this connection; reading only detects
	// that it went away so the next send redials.
	lk.spawn(func(ctx context.Context) {
		_, _ = io.Copy(io.Discard, nc)
		lk.drop(address, c)
	})
	return c, nil
}

func (lk *link) drop(address string, c *conn) {
	lk.mu.Lock()
	if lk.out[address] == c {
		delete(lk.out, address)
	}
	lk.mu.Unlock()
	_ = c.c.Close()
}

func (lk *link) Release() error {
	lk.mu.Lock()
	lk.closed = true
	out := lk.out
	in := lk.inbound
	lk.out = map[string]*conn{}
	lk.inbound = map[net.Conn]struct{}{}
	lk.mu.Unlock()

	err := lk.l.Close()
	for _, c := range out {
		_ = c.c.Close()
	}
	for c := range in {
		_ = c.Close()
	}
	return err
}
