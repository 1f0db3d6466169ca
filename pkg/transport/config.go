package transport

import (
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerlink/pkg/codec"
)

const (
	// DefaultCallbackTimeout is the wait between redeliveries to a callback
	// sink that reported the item as not processed.
	DefaultCallbackTimeout = 100 * time.Millisecond
	// DefaultChannelTimeout bounds a blocking enqueue into a channel sink.
	DefaultChannelTimeout = time.Second
	// DefaultPullCapacity is how many items the pull stream holds for Next
	// before further items are dropped from it.
	DefaultPullCapacity = 4096
	// DefaultInboxCapacity bounds the items waiting for sink delivery, per
	// lane in parallel mode.
	DefaultInboxCapacity = 4096
)

// FanoutMode selects how inbound items are handed to sinks.
type FanoutMode int

const (
	// FanoutSequential visits sinks one after another, in registration
	// order, for each item. A retrying callback holds back later sinks.
	FanoutSequential FanoutMode = iota
	// FanoutParallel gives every sink its own ordered lane. Items enter the
	// lanes in registration order; a retrying callback only blocks its lane.
	FanoutParallel
)

func (m FanoutMode) String() string {
	if m == FanoutParallel {
		return "parallel"
	}
	return "sequential"
}

// ParseFanoutMode maps "sequential" or "parallel" to a FanoutMode.
func ParseFanoutMode(s string) (FanoutMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential", "seq":
		return FanoutSequential, nil
	case "parallel", "par":
		return FanoutParallel, nil
	default:
		return 0, Errorf(CodeInvalidArgument, "config", "unknown fanout mode %q", s)
	}
}

// Handler is the single-method form of a callback sink. Handle reports
// whether the item was fully processed; false schedules a redelivery.
type Handler[D any] interface {
	Handle(item D) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[D any] func(item D) bool

func (f HandlerFunc[D]) Handle(item D) bool { return f(item) }

type sinkKind int

const (
	sinkChannel sinkKind = iota
	sinkRaw
	sinkCallback
)

func (k sinkKind) String() string {
	switch k {
	case sinkChannel:
		return "channel"
	case sinkRaw:
		return "raw"
	default:
		return "callback"
	}
}

type sink[D any] struct {
	kind sinkKind
	ch   chan<- D
	w    io.Writer
	h    Handler[D]
}

// Config describes a transport before it is constructed: where it binds,
// which sinks receive inbound items, and how they are fed.
//
// A Config is mutable until a transport is built from it. After that every
// setter fails with ErrConfigSealed.
type Config[D any] struct {
	mu sync.Mutex

	bindAddr            string
	sinks               []sink[D]
	callbackTimeout     time.Duration
	callbackMaxAttempts int
	channelTimeout      time.Duration
	codec               codec.Codec
	fanout              FanoutMode
	abortBroadcast      bool
	pullDisabled        bool
	pullCapacity        int
	inboxCapacity       int
	logger              *zap.Logger
	sealed              bool
}

// NewConfig returns a Config binding to bindAddr with the CBOR codec and
// default timeouts.
func NewConfig[D any](bindAddr string) (*Config[D], error) {
	if err := checkBindAddr(bindAddr); err != nil {
		return nil, err
	}
	c, err := codec.CBOR()
	if err != nil {
		return nil, NewError(CodeSerialization, "config", "", err)
	}
	return &Config[D]{
		bindAddr:        strings.TrimSpace(bindAddr),
		callbackTimeout: DefaultCallbackTimeout,
		channelTimeout:  DefaultChannelTimeout,
		codec:           c,
		pullCapacity:    DefaultPullCapacity,
		inboxCapacity:   DefaultInboxCapacity,
	}, nil
}

func checkBindAddr(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.ContainsAny(addr, " \t\n") {
		return Errorf(CodeAddressParse, "config", "invalid bind address %q", addr)
	}
	return nil
}

func (c *Config[D]) update(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return ErrConfigSealed
	}
	return fn()
}

// SetBindNetAddr replaces the listening address.
func (c *Config[D]) SetBindNetAddr(addr string) error {
	if err := checkBindAddr(addr); err != nil {
		return err
	}
	return c.update(func() error {
		c.bindAddr = strings.TrimSpace(addr)
		return nil
	})
}

// RegisterChannel appends a channel sink. Inbound items are enqueued with
// a bounded wait (see SetChannelTimeout).
func (c *Config[D]) RegisterChannel(ch chan<- D) error {
	if ch == nil {
		return Errorf(CodeInvalidArgument, "config", "nil channel sink")
	}
	return c.addSink(sink[D]{kind: sinkChannel, ch: ch})
}

// RegisterRawSink appends a sink receiving the encoded bytes of each item.
func (c *Config[D]) RegisterRawSink(w io.Writer) error {
	if isNil(w) {
		return Errorf(CodeInvalidArgument, "config", "nil raw sink")
	}
	return c.addSink(sink[D]{kind: sinkRaw, w: w})
}

// RegisterCallback appends a retrying callback sink. fn returns false to
// have the same item redelivered after the callback timeout.
func (c *Config[D]) RegisterCallback(fn func(item D) bool) error {
	if fn == nil {
		return Errorf(CodeInvalidArgument, "config", "nil callback sink")
	}
	return c.RegisterHandler(HandlerFunc[D](fn))
}

// RegisterHandler is RegisterCallback for Handler values.
func (c *Config[D]) RegisterHandler(h Handler[D]) error {
	if isNil(h) {
		return Errorf(CodeInvalidArgument, "config", "nil handler sink")
	}
	return c.addSink(sink[D]{kind: sinkCallback, h: h})
}

// isNil also catches a nil pointer, func or map stored in an interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func (c *Config[D]) addSink(s sink[D]) error {
	return c.update(func() error {
		c.sinks = append(c.sinks, s)
		return nil
	})
}

// SetCallbackTimeout sets the wait between callback redeliveries.
func (c *Config[D]) SetCallbackTimeout(d time.Duration) error {
	if d <= 0 {
		return Errorf(CodeInvalidArgument, "config", "callback timeout must be positive, got %s", d)
	}
	return c.update(func() error {
		c.callbackTimeout = d
		return nil
	})
}

// SetCallbackMaxAttempts bounds callback redelivery. Zero, the default,
// retries until the callback succeeds or the transport is closed.
func (c *Config[D]) SetCallbackMaxAttempts(n int) error {
	if n < 0 {
		return Errorf(CodeInvalidArgument, "config", "negative callback attempts %d", n)
	}
	return c.update(func() error {
		c.callbackMaxAttempts = n
		return nil
	})
}

// SetChannelTimeout bounds how long a channel sink may block. Zero makes
// the enqueue non-blocking.
func (c *Config[D]) SetChannelTimeout(d time.Duration) error {
	if d < 0 {
		return Errorf(CodeInvalidArgument, "config", "negative channel timeout %s", d)
	}
	return c.update(func() error {
		c.channelTimeout = d
		return nil
	})
}

// SetCodec replaces the payload codec.
func (c *Config[D]) SetCodec(cd codec.Codec) error {
	if cd == nil {
		return Errorf(CodeInvalidArgument, "config", "nil codec")
	}
	return c.update(func() error {
		c.codec = cd
		return nil
	})
}

func (c *Config[D]) SetFanoutMode(m FanoutMode) error {
	if m != FanoutSequential && m != FanoutParallel {
		return Errorf(CodeInvalidArgument, "config", "unknown fanout mode %d", m)
	}
	return c.update(func() error {
		c.fanout = m
		return nil
	})
}

// SetAbortBroadcastOnError makes Broadcast stop at the first failing peer
// instead of attempting every peer.
func (c *Config[D]) SetAbortBroadcastOnError(abort bool) error {
	return c.update(func() error {
		c.abortBroadcast = abort
		return nil
	})
}

// DisablePull turns off the pull stream for push-only consumers, so
// inbound items are not buffered for Next.
func (c *Config[D]) DisablePull() error {
	return c.update(func() error {
		c.pullDisabled = true
		return nil
	})
}

// SetPullCapacity bounds the items buffered for Next. Items arriving while
// the buffer is full are dropped from the pull stream, still reach the
// sinks, and are counted in Stats.PullDropped. Zero removes the bound.
func (c *Config[D]) SetPullCapacity(n int) error {
	if n < 0 {
		return Errorf(CodeInvalidArgument, "config", "negative pull capacity %d", n)
	}
	return c.update(func() error {
		c.pullCapacity = n
		return nil
	})
}

// SetInboxCapacity bounds the items waiting for sink delivery (per sink in
// FanoutParallel). Overflowing items skip the sinks and are counted in
// Stats.InboxDropped. Zero removes the bound.
func (c *Config[D]) SetInboxCapacity(n int) error {
	if n < 0 {
		return Errorf(CodeInvalidArgument, "config", "negative inbox capacity %d", n)
	}
	return c.update(func() error {
		c.inboxCapacity = n
		return nil
	})
}

func (c *Config[D]) SetLogger(l *zap.Logger) error {
	if l == nil {
		return Errorf(CodeInvalidArgument, "config", "nil logger")
	}
	return c.update(func() error {
		c.logger = l
		return nil
	})
}

func (c *Config[D]) BindAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindAddr
}

func (c *Config[D]) Codec() codec.Codec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec
}

func (c *Config[D]) CallbackTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbackTimeout
}

// PullEnabled reports whether transports built from c serve Next.
func (c *Config[D]) PullEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.pullDisabled
}

// NumSinks returns the number of registered sinks.
func (c *Config[D]) NumSinks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sinks)
}

// Sealed reports whether a transport has been built from c.
func (c *Config[D]) Sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}

// settings is the immutable view a transport takes of its Config.
type settings[D any] struct {
	bindAddr            string
	sinks               []sink[D]
	callbackTimeout     time.Duration
	callbackMaxAttempts int
	channelTimeout      time.Duration
	codec               codec.Codec
	fanout              FanoutMode
	abortBroadcast      bool
	pull                bool
	pullCapacity        int
	inboxCapacity       int
	logger              *zap.Logger
}

// seal freezes c for use by one transport and returns its settings.
func (c *Config[D]) seal() (settings[D], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return settings[D]{}, ErrConfigSealed
	}
	c.sealed = true
	l := c.logger
	if l == nil {
		l = zap.L()
	}
	return settings[D]{
		bindAddr:            c.bindAddr,
		sinks:               append([]sink[D](nil), c.sinks...),
		callbackTimeout:     c.callbackTimeout,
		callbackMaxAttempts: c.callbackMaxAttempts,
		channelTimeout:      c.channelTimeout,
		codec:               c.codec,
		fanout:              c.fanout,
		abortBroadcast:      c.abortBroadcast,
		pull:                !c.pullDisabled,
		pullCapacity:        c.pullCapacity,
		inboxCapacity:       c.inboxCapacity,
		logger:              l,
	}, nil
}

func (c *Config[D]) unseal() {
	c.mu.Lock()
	c.sealed = false
	c.mu.Unlock()
}
