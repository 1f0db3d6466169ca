package udp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peerlink/pkg/conformance"
	"peerlink/pkg/transport"
)

func TestConformance(t *testing.T) {
	conformance.Suite(t, []string{"127.0.0.1:0", "127.0.0.1:0"}, func(cfg *transport.Config[conformance.Data]) (transport.Transport[conformance.Data], error) {
		return New(cfg)
	})
}

func TestDatagramLimit(t *testing.T) {
	cfg, err := transport.NewConfig[[]byte]("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, cfg.SetLogger(zap.NewNop()))
	tr, err := New(cfg)
	require.NoError(t, err)
	defer tr.Close()

	err = tr.Send(context.Background(), tr.Addr().String(), make([]byte, MaxDatagramSize))
	assert.ErrorIs(t, err, transport.ErrCapacityExceeded)
	assert.ErrorIs(t, tr.Send(context.Background(), "::1", []byte("x")), transport.ErrAddressParse)
}

func TestCanceledContextFailsOnlyItsOwnSend(t *testing.T) {
	cfg, err := transport.NewConfig[uint32]("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, cfg.SetLogger(zap.NewNop()))
	require.NoError(t, cfg.DisablePull())
	tr, err := New(cfg)
	require.NoError(t, err)
	defer tr.Close()
	dst := tr.Addr().String()

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	err = tr.Send(expired, dst, 1)
	assert.ErrorIs(t, err, transport.ErrIO)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	const rounds, senders = 5, 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []error
	)
	for range rounds {
		for i := range 2 * senders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if i%2 == 1 {
					_ = tr.Send(expired, dst, uint32(i))
					return
				}
				ctx, cancel := context.WithTimeout(context.Background(), time.Duration(i+1)*time.Millisecond+time.Second)
				defer cancel()
				if err := tr.Send(ctx, dst, uint32(i)); err != nil {
					mu.Lock()
					failed = append(failed, err)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
	}
	assert.Empty(t, failed)
	assert.Equal(t, uint64(rounds*senders), tr.Stats().Sent)
	assert.Eventually(t, func() bool { return tr.Stats().Received == rounds*senders }, 2*time.Second, 10*time.Millisecond)
}
