// Package conformance is the acceptance suite every transport.Transport
// implementation must pass.
//
// A transport package wires it into its own tests:
//
//	func TestConformance(t *testing.T) {
//		conformance.Suite(t, []string{"127.0.0.1:0", "127.0.0.1:0"}, func(cfg *transport.Config[conformance.Data]) (transport.Transport[conformance.Data], error) {
//			return tcp.New(cfg)
//		})
//	}
package conformance

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peerlink/pkg/peers"
	"peerlink/pkg/transport"
)

// Data is the payload type exchanged by the suite.
type Data uint32

// ID identifies suite peers.
type ID uint32

// Factory builds the transport under test from a prepared Config.
type Factory func(cfg *transport.Config[Data]) (transport.Transport[Data], error)

var (
	// DeliveryTimeout bounds every wait for an expected item.
	DeliveryTimeout = 5 * time.Second
	// QuietWindow is how long a transport must stay silent to count as
	// not having received an item.
	QuietWindow = 200 * time.Millisecond
)

const (
	broadcastValue Data = 55
	unicastValue   Data = 0xAA
)

func newConfig(t testing.TB, addr string) *transport.Config[Data] {
	t.Helper()
	cfg, err := transport.NewConfig[Data](addr)
	require.NoError(t, err)
	require.NoError(t, cfg.SetLogger(zap.NewNop()))
	return cfg
}

func open(t testing.TB, f Factory, cfg *transport.Config[Data]) transport.Transport[Data] {
	t.Helper()
	tr, err := f(cfg)
	require.NoError(t, err)
	require.Equal(t, transport.StateActive, tr.State())
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func expect(t testing.TB, ch <-chan Data, want Data, who string) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got, "%s: unexpected item", who)
	case <-time.After(DeliveryTimeout):
		require.FailNow(t, "no delivery", "%s: nothing received within %s", who, DeliveryTimeout)
	}
}

func expectNext(t testing.TB, tr transport.Transport[Data], want Data, who string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
	defer cancel()
	got, err := tr.Next(ctx)
	require.NoError(t, err, "%s: pull stream", who)
	require.Equal(t, want, got, "%s: pull stream", who)
}

func expectSilence(t testing.TB, ch <-chan Data, tr transport.Transport[Data], who string) {
	t.Helper()
	select {
	case got := <-ch:
		require.FailNow(t, "unexpected delivery", "%s: received %d", who, got)
	case <-time.After(QuietWindow):
	}
	ctx, cancel := context.WithTimeout(context.Background(), QuietWindow)
	defer cancel()
	got, err := tr.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "%s: pull stream yielded %d", who, got)
}

// Run builds one transport per address, each with a channel sink, registers
// them as peers and checks that a broadcast from the first reaches every
// instance exactly once and that a unicast from the second reaches only the
// first.
func Run(t testing.TB, addrs []string, f Factory) {
	t.Helper()
	require.GreaterOrEqual(t, len(addrs), 2, "need at least two addresses")

	reg := peers.New[ID](len(addrs))
	trs := make([]transport.Transport[Data], len(addrs))
	chans := make([]chan Data, len(addrs))
	for i, addr := range addrs {
		cfg := newConfig(t, addr)
		chans[i] = make(chan Data, 16)
		require.NoError(t, cfg.RegisterChannel(chans[i]))
		trs[i] = open(t, f, cfg)
		require.NoError(t, reg.Add(peers.Peer[ID]{ID: ID(i), Addrs: []string{trs[i].Addr().String()}}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
	defer cancel()
	require.NoError(t, trs[0].Broadcast(ctx, reg, broadcastValue))
	for i := range trs {
		who := trs[i].Addr().String()
		expect(t, chans[i], broadcastValue, who)
		expectNext(t, trs[i], broadcastValue, who)
	}

	target, ok := reg.At(0)
	require.True(t, ok)
	require.NoError(t, trs[1].Send(ctx, target.NetAddr(), unicastValue))
	expect(t, chans[0], unicastValue, target.NetAddr())
	expectNext(t, trs[0], unicastValue, target.NetAddr())
	for i := 1; i < len(trs); i++ {
		expectSilence(t, chans[i], trs[i], trs[i].Addr().String())
	}
	require.Equal(t, uint64(len(addrs)), trs[0].Stats().Sent)
}

type recorder struct {
	mu  sync.Mutex
	seq []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.seq = append(r.seq, s)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seq...)
}

type rawRecorder struct {
	rec *recorder
	buf bytes.Buffer
}

func (w *rawRecorder) Write(p []byte) (int, error) {
	w.rec.add("B")
	return w.buf.Write(p)
}

// RunSinkOrder registers callback A, raw sink B and callback C and checks
// that every item reaches them in that order.
func RunSinkOrder(t testing.TB, addr string, f Factory) {
	t.Helper()
	rec := &recorder{}
	cfg := newConfig(t, addr)
	require.NoError(t, cfg.RegisterCallback(func(Data) bool { rec.add("A"); return true }))
	require.NoError(t, cfg.RegisterRawSink(&rawRecorder{rec: rec}))
	require.NoError(t, cfg.RegisterCallback(func(Data) bool { rec.add("C"); return true }))
	tr := open(t, f, cfg)

	const items = 3
	ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
	defer cancel()
	for i := range items {
		require.NoError(t, tr.Send(ctx, tr.Addr().String(), Data(i)))
	}
	require.Eventually(t, func() bool { return len(rec.get()) == 3*items }, DeliveryTimeout, 5*time.Millisecond)
	want := make([]string, 0, 3*items)
	for range items {
		want = append(want, "A", "B", "C")
	}
	require.Equal(t, want, rec.get())
}

// RunCallbackRetry registers a callback that reports failure for the
// first failures deliveries, followed by a channel sink. It checks that the
// callback sees failures+1 invocations spaced by at least timeout.
func RunCallbackRetry(t testing.TB, addr string, f Factory, failures int, timeout time.Duration) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []time.Time
	)
	ch := make(chan Data, 1)
	cfg := newConfig(t, addr)
	require.NoError(t, cfg.SetCallbackTimeout(timeout))
	require.NoError(t, cfg.RegisterCallback(func(Data) bool {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, time.Now())
		return len(calls) > failures
	}))
	require.NoError(t, cfg.RegisterChannel(ch))
	tr := open(t, f, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
	defer cancel()
	require.NoError(t, tr.Send(ctx, tr.Addr().String(), 1))
	expect(t, ch, 1, "channel after callback")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, failures+1)
	for i := 1; i < len(calls); i++ {
		require.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), timeout, "attempt %d came early", i+1)
	}
}

// RunClosed checks that Close is idempotent and that every operation on a
// closed transport fails with transport.ErrClosed.
func RunClosed(t testing.TB, addr string, f Factory) {
	t.Helper()
	tr := open(t, f, newConfig(t, addr))
	self := tr.Addr().String()
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	require.Equal(t, transport.StateClosed, tr.State())

	ctx := context.Background()
	require.ErrorIs(t, tr.Send(ctx, self, 1), transport.ErrClosed)
	require.ErrorIs(t, tr.Broadcast(ctx, transport.AddrSlice{self}, 1), transport.ErrClosed)
	_, err := tr.Next(ctx)
	require.ErrorIs(t, err, transport.ErrClosed)
}

// RunBindConflict binds a second transport to the first one's address and
// expects an I/O error that leaves the second Config reusable.
func RunBindConflict(t testing.TB, addr string, f Factory) {
	t.Helper()
	first := open(t, f, newConfig(t, addr))
	cfg := newConfig(t, first.Addr().String())
	tr, err := f(cfg)
	if err == nil {
		_ = tr.Close()
		require.FailNow(t, "second bind succeeded", "address %s", first.Addr())
	}
	require.True(t, errors.Is(err, transport.ErrIO), "got %v", err)
	require.False(t, cfg.Sealed())
}

// RunRegistryCapacity fills a registry of the given capacity and checks
// that one more Add fails with CodeCapacityExceeded without mutating it.
func RunRegistryCapacity(t testing.TB, capacity int) {
	t.Helper()
	reg := peers.New[ID](capacity)
	for i := range capacity {
		require.NoError(t, reg.Add(peers.Peer[ID]{ID: ID(i), Addrs: []string{"127.0.0.1:1"}}))
	}
	err := reg.Add(peers.Peer[ID]{ID: ID(capacity), Addrs: []string{"127.0.0.1:1"}})
	require.ErrorIs(t, err, transport.ErrCapacityExceeded)
	require.Equal(t, transport.CodeCapacityExceeded, transport.CodeOf(err))
	require.Equal(t, capacity, reg.Len())
}

// Suite runs every check as a subtest. addrs must hold at least two bind
// addresses; the first is reused for the single-instance checks.
func Suite(t *testing.T, addrs []string, f Factory) {
	t.Run("BroadcastUnicast", func(t *testing.T) { Run(t, addrs, f) })
	t.Run("SinkOrder", func(t *testing.T) { RunSinkOrder(t, addrs[0], f) })
	t.Run("CallbackRetry", func(t *testing.T) { RunCallbackRetry(t, addrs[0], f, 3, 20*time.Millisecond) })
	t.Run("Closed", func(t *testing.T) { RunClosed(t, addrs[0], f) })
	t.Run("BindConflict", func(t *testing.T) { RunBindConflict(t, addrs[0], f) })
	t.Run("RegistryCapacity", func(t *testing.T) { RunRegistryCapacity(t, 8) })
}
