package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerlink/pkg/core/fifo"
)

// inbound is one decoded item together with the bytes it was decoded from.
type inbound[D any] struct {
	item D
	raw  []byte
}

// dispatcher fans inbound items out to the registered sinks.
type dispatcher[D any] struct {
	set   settings[D]
	log   *zap.Logger
	stats *counters

	inbox *fifo.Queue[inbound[D]]   // sequential mode
	lanes []*fifo.Queue[inbound[D]] // parallel mode, one per sink
	wg    sync.WaitGroup
}

func newDispatcher[D any](set settings[D], log *zap.Logger, stats *counters) *dispatcher[D] {
	d := &dispatcher[D]{set: set, log: log, stats: stats}
	if len(set.sinks) == 0 {
		return d
	}
	if set.fanout == FanoutParallel {
		d.lanes = make([]*fifo.Queue[inbound[D]], len(set.sinks))
		for i := range d.lanes {
			d.lanes[i] = fifo.NewBounded[inbound[D]](set.inboxCapacity)
		}
	} else {
		d.inbox = fifo.NewBounded[inbound[D]](set.inboxCapacity)
	}
	return d
}

func (d *dispatcher[D]) start(ctx context.Context) {
	if d.inbox != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				in, err := d.inbox.Pop(ctx)
				if err != nil {
					return
				}
				for i := range d.set.sinks {
					d.deliver(ctx, i, in)
				}
			}
		}()
	}
	for i, lane := range d.lanes {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				in, err := lane.Pop(ctx)
				if err != nil {
					return
				}
				d.deliver(ctx, i, in)
			}
		}()
	}
}

// submit queues an item for every sink. It never blocks the caller; a full
// queue drops the item for the sinks it serves.
func (d *dispatcher[D]) submit(in inbound[D]) {
	if d.inbox != nil {
		d.offer(d.inbox, -1, in)
		return
	}
	for i, lane := range d.lanes {
		d.offer(lane, i, in)
	}
}

func (d *dispatcher[D]) offer(q *fifo.Queue[inbound[D]], sink int, in inbound[D]) {
	if err := q.Offer(in); !errors.Is(err, fifo.ErrFull) {
		return
	}
	d.stats.inboxDropped.Add(1)
	d.log.Warn("sink inbox full, dropping item", zap.Int("sink", sink),
		zap.Error(Errorf(CodeCapacityExceeded, "dispatch", "%d items pending", q.Cap())))
}

// stop closes the queues and waits for the workers; ctx must already be
// canceled for workers blocked in a sink to return.
func (d *dispatcher[D]) stop() {
	if d.inbox != nil {
		d.inbox.Close()
	}
	for _, lane := range d.lanes {
		lane.Close()
	}
	d.wg.Wait()
}

func (d *dispatcher[D]) deliver(ctx context.Context, i int, in inbound[D]) {
	s := d.set.sinks[i]
	var err error
	switch s.kind {
	case sinkChannel:
		err = sendChannel(ctx, s.ch, in.item, d.set.channelTimeout)
	case sinkRaw:
		err = writeRaw(s, in.raw)
	case sinkCallback:
		err = d.runCallback(ctx, i, s.h, in.item)
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	d.stats.sinkFailures.Add(1)
	d.log.Warn("sink delivery failed", zap.Int("sink", i), zap.Stringer("sink_kind", s.kind), zap.Error(err))
}

func sendChannel[D any](ctx context.Context, ch chan<- D, item D, timeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(CodeIO, "sink.channel", "", fmt.Errorf("receiver gone: %v", r))
		}
	}()
	if timeout <= 0 {
		select {
		case ch <- item:
			return nil
		default:
			return Errorf(CodeCapacityExceeded, "sink.channel", "channel full")
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ch <- item:
		return nil
	case <-t.C:
		return Errorf(CodeCapacityExceeded, "sink.channel", "channel full after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeRaw[D any](s sink[D], raw []byte) error {
	n, err := s.w.Write(raw)
	if err != nil {
		return WrapIO("sink.raw", "", err)
	}
	if n < len(raw) {
		return Errorf(CodeIncomplete, "sink.raw", "wrote %d of %d bytes", n, len(raw))
	}
	return nil
}

// runCallback redelivers item to h until it reports success, the attempt
// limit is reached, or ctx is canceled.
func (d *dispatcher[D]) runCallback(ctx context.Context, i int, h Handler[D], item D) error {
	for attempt := 1; ; attempt++ {
		if h.Handle(item) {
			return nil
		}
		if limit := d.set.callbackMaxAttempts; limit > 0 && attempt >= limit {
			return Errorf(CodeIncomplete, "sink.callback", "item not processed after %d attempts", attempt)
		}
		d.log.Debug("callback deferred item; retrying", zap.Int("sink", i), zap.Int("attempt", attempt), zap.Duration("wait", d.set.callbackTimeout))
		t := time.NewTimer(d.set.callbackTimeout)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
