package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"peerlink/pkg/codec"
	"peerlink/pkg/core/fifo"
)

// Link is the wire half of a concrete transport: it moves encoded items to
// a remote address and owns the listener and connections.
type Link interface {
	// Deliver writes one encoded item to address. Malformed addresses
	// yield CodeAddressParse, unreachable ones CodeIO.
	Deliver(ctx context.Context, address string, payload []byte) error
	// Release closes the listener and every connection.
	Release() error
}

type counters struct {
	received       atomic.Uint64
	decodeFailures atomic.Uint64
	sinkFailures   atomic.Uint64
	pullDropped    atomic.Uint64
	inboxDropped   atomic.Uint64
	sent           atomic.Uint64
	sendFailures   atomic.Uint64
}

// Core implements Transport[D] on top of a Link. Concrete transports embed
// it and feed inbound frames to Receive.
type Core[D any] struct {
	kind  Kind
	cfg   *Config[D]
	set   settings[D]
	log   *zap.Logger
	state atomic.Int32

	addr net.Addr
	link Link

	ctx    context.Context
	cancel context.CancelFunc
	pull   *fifo.Queue[D]
	disp   *dispatcher[D]
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
	stats     counters
}

var _ Transport[struct{}] = (*Core[struct{}])(nil)

// NewCore seals cfg and returns an unbound Core. The caller binds its
// listener and then calls Start, or Abort if binding failed.
func NewCore[D any](kind Kind, cfg *Config[D]) (*Core[D], error) {
	if cfg == nil {
		return nil, Errorf(CodeInvalidArgument, "new", "nil config")
	}
	set, err := cfg.seal()
	if err != nil {
		return nil, err
	}
	c := &Core[D]{
		kind: kind,
		cfg:  cfg,
		set:  set,
		log:  set.logger.Named(kind.String()).With(zap.String("bind", set.bindAddr)),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	if set.pull {
		c.pull = fifo.NewBounded[D](set.pullCapacity)
	}
	c.disp = newDispatcher(set, c.log, &c.stats)
	c.state.Store(int32(StateUnbound))
	return c, nil
}

// BindAddr is the address the Core was configured to bind.
func (c *Core[D]) BindAddr() string { return c.set.bindAddr }

// Logger returns the transport's logger.
func (c *Core[D]) Logger() *zap.Logger { return c.log }

// Context is canceled when the transport closes.
func (c *Core[D]) Context() context.Context { return c.ctx }

// Abort releases a Core whose bind failed and returns err. The Config can
// be used again.
func (c *Core[D]) Abort(err error) error {
	c.cancel()
	c.cfg.unseal()
	c.state.Store(int32(StateClosed))
	return err
}

// Start records the bound address and link, starts fan-out and marks the
// transport active.
func (c *Core[D]) Start(addr net.Addr, link Link) {
	c.addr = addr
	c.link = link
	c.state.Store(int32(StateBound))
	c.disp.start(c.ctx)
	c.state.Store(int32(StateActive))
	c.log.Info("transport active", zap.Stringer("addr", addr), zap.Int("sinks", len(c.set.sinks)), zap.Stringer("fanout", c.set.fanout))
}

// Go runs fn on a goroutine that Close waits for.
func (c *Core[D]) Go(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

func (c *Core[D]) Kind() Kind { return c.kind }
func (c *Core[D]) Addr() net.Addr { return c.addr }
func (c *Core[D]) State() State { return State(c.state.Load()) }
func (c *Core[D]) closed() bool { return c.State() == StateClosed }
func (c *Core[D]) Codec() codec.Codec { return c.set.codec }

func (c *Core[D]) Stats() Stats {
	return Stats{
		Received:       c.stats.received.Load(),
		DecodeFailures: c.stats.decodeFailures.Load(),
		SinkFailures:   c.stats.sinkFailures.Load(),
		PullDropped:    c.stats.pullDropped.Load(),
		InboxDropped:   c.stats.inboxDropped.Load(),
		Sent:           c.stats.sent.Load(),
		SendFailures:   c.stats.sendFailures.Load(),
	}
}

// Receive decodes one inbound payload and hands it to the pull stream and
// the sinks. Undecodable payloads are counted and dropped, as are items
// that find the pull buffer full.
func (c *Core[D]) Receive(payload []byte) {
	if c.closed() {
		return
	}
	item, err := codec.Decode[D](c.set.codec, payload)
	if err != nil {
		c.stats.decodeFailures.Add(1)
		c.log.Warn("dropping undecodable payload", zap.Int("bytes", len(payload)), zap.Error(err))
		return
	}
	c.stats.received.Add(1)
	if c.pull != nil {
		if err := c.pull.Offer(item); errors.Is(err, fifo.ErrFull) {
			c.stats.pullDropped.Add(1)
			c.log.Warn("pull buffer full, dropping item",
				zap.Error(Errorf(CodeCapacityExceeded, "pull", "%d items waiting for Next", c.pull.Cap())))
		}
	}
	c.disp.submit(inbound[D]{item: item, raw: payload})
}

func (c *Core[D]) encode(data D) ([]byte, error) {
	b, err := c.set.codec.Marshal(data)
	if err != nil {
		return nil, NewError(CodeSerialization, "encode", "", err)
	}
	return b, nil
}

func (c *Core[D]) deliver(ctx context.Context, address string, payload []byte) error {
	if err := c.link.Deliver(ctx, address, payload); err != nil {
		c.stats.sendFailures.Add(1)
		return err
	}
	c.stats.sent.Add(1)
	return nil
}

// Send encodes data and delivers it to address.
func (c *Core[D]) Send(ctx context.Context, address string, data D) error {
	if c.closed() {
		return ErrClosed
	}
	payload, err := c.encode(data)
	if err != nil {
		return err
	}
	return c.deliver(ctx, address, payload)
}

// Broadcast encodes data once and delivers it to every peer in order. By
// default every peer is attempted and failures are collected in a
// *BroadcastError; with SetAbortBroadcastOnError the first failure is
// returned and later peers are skipped.
func (c *Core[D]) Broadcast(ctx context.Context, peers PeerList, data D) error {
	if c.closed() {
		return ErrClosed
	}
	if peers == nil {
		return Errorf(CodeInvalidArgument, "broadcast", "nil peer list")
	}
	payload, err := c.encode(data)
	if err != nil {
		return err
	}
	var failed []PeerError
	for addr := range peers.NetAddrs() {
		if err := ctx.Err(); err != nil {
			failed = append(failed, PeerError{Addr: addr, Err: err})
			if c.set.abortBroadcast {
				break
			}
			continue
		}
		if err := c.deliver(ctx, addr, payload); err != nil {
			if c.set.abortBroadcast {
				return err
			}
			failed = append(failed, PeerError{Addr: addr, Err: err})
		}
	}
	if len(failed) > 0 {
		return &BroadcastError{Failed: failed}
	}
	return nil
}

// Next returns the next inbound item from the pull stream.
func (c *Core[D]) Next(ctx context.Context) (D, error) {
	var zero D
	if c.pull == nil {
		return zero, Errorf(CodeInvalidArgument, "next", "pull stream disabled")
	}
	item, err := c.pull.Pop(ctx)
	if errors.Is(err, fifo.ErrClosed) {
		return zero, ErrClosed
	}
	return item, err
}

// Close tears the transport down and waits for its goroutines. Pending
// callback retries are abandoned.
func (c *Core[D]) Close() error {
	c.closeOnce.Do(func() {
		if c.closed() {
			return
		}
		c.state.Store(int32(StateClosed))
		c.cancel()
		if c.link != nil {
			if err := c.link.Release(); err != nil {
				c.closeErr = WrapIO("close", c.set.bindAddr, err)
			}
		}
		c.wg.Wait()
		c.disp.stop()
		if c.pull != nil {
			c.pull.Close()
		}
		c.log.Info("transport closed", zap.Uint64("received", c.stats.received.Load()), zap.Uint64("sent", c.stats.sent.Load()))
	})
	return c.closeErr
}
