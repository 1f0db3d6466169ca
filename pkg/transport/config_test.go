package transport

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlink/pkg/codec"
)

func TestNewConfigValidatesAddress(t *testing.T) {
	for _, bad := range []string{"", "   ", "a b", "x\ty"} {
		_, err := NewConfig[uint32](bad)
		assert.ErrorIs(t, err, ErrAddressParse, "addr %q", bad)
	}
	cfg, err := NewConfig[uint32](" 127.0.0.1:0 ")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", cfg.BindAddr())
	assert.Equal(t, DefaultCallbackTimeout, cfg.CallbackTimeout())
	assert.Equal(t, codec.ContentCBOR, cfg.Codec().ContentType())
}

func TestConfigSetters(t *testing.T) {
	cfg, err := NewConfig[uint32]("127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, cfg.SetBindNetAddr("127.0.0.1:9100"))
	assert.Equal(t, "127.0.0.1:9100", cfg.BindAddr())
	assert.ErrorIs(t, cfg.SetBindNetAddr(""), ErrAddressParse)

	require.NoError(t, cfg.RegisterChannel(make(chan uint32, 1)))
	require.NoError(t, cfg.RegisterRawSink(&bytes.Buffer{}))
	require.NoError(t, cfg.RegisterCallback(func(uint32) bool { return true }))
	require.NoError(t, cfg.RegisterHandler(HandlerFunc[uint32](func(uint32) bool { return true })))
	assert.Equal(t, 4, cfg.NumSinks())

	assert.ErrorIs(t, cfg.RegisterChannel(nil), ErrInvalidArgument)
	assert.ErrorIs(t, cfg.RegisterRawSink(nil), ErrInvalidArgument)
	assert.ErrorIs(t, cfg.RegisterCallback(nil), ErrInvalidArgument)
	assert.Equal(t, 4, cfg.NumSinks())

	assert.ErrorIs(t, cfg.SetCallbackTimeout(0), ErrInvalidArgument)
	require.NoError(t, cfg.SetCallbackTimeout(250*time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, cfg.CallbackTimeout())
	assert.ErrorIs(t, cfg.SetCallbackMaxAttempts(-1), ErrInvalidArgument)
	assert.ErrorIs(t, cfg.SetChannelTimeout(-time.Second), ErrInvalidArgument)
	assert.ErrorIs(t, cfg.SetCodec(nil), ErrInvalidArgument)
	require.NoError(t, cfg.SetCodec(codec.JSON()))
	assert.Equal(t, codec.ContentJSON, cfg.Codec().ContentType())
	assert.ErrorIs(t, cfg.SetLogger(nil), ErrInvalidArgument)
	assert.False(t, cfg.Sealed())
}

type countingHandler struct{ n int }

func (h *countingHandler) Handle(uint32) bool { h.n++; return true }

func TestRegisterRejectsTypedNilSinks(t *testing.T) {
	cfg, err := NewConfig[uint32]("127.0.0.1:0")
	require.NoError(t, err)

	var h *countingHandler
	assert.ErrorIs(t, cfg.RegisterHandler(h), ErrInvalidArgument)
	assert.ErrorIs(t, cfg.RegisterHandler(HandlerFunc[uint32](nil)), ErrInvalidArgument)
	var buf *bytes.Buffer
	assert.ErrorIs(t, cfg.RegisterRawSink(buf), ErrInvalidArgument)
	assert.Equal(t, 0, cfg.NumSinks())

	require.NoError(t, cfg.RegisterHandler(&countingHandler{}))
	assert.Equal(t, 1, cfg.NumSinks())
}

func TestQueueCapacitySetters(t *testing.T) {
	cfg, err := NewConfig[uint32]("127.0.0.1:0")
	require.NoError(t, err)
	assert.True(t, cfg.PullEnabled())

	assert.ErrorIs(t, cfg.SetPullCapacity(-1), ErrInvalidArgument)
	assert.ErrorIs(t, cfg.SetInboxCapacity(-1), ErrInvalidArgument)
	require.NoError(t, cfg.SetPullCapacity(0))
	require.NoError(t, cfg.SetInboxCapacity(16))

	set, err := cfg.seal()
	require.NoError(t, err)
	assert.Equal(t, 0, set.pullCapacity)
	assert.Equal(t, 16, set.inboxCapacity)
	assert.ErrorIs(t, cfg.SetPullCapacity(8), ErrConfigSealed)
	cfg.unseal()

	require.NoError(t, cfg.DisablePull())
	assert.False(t, cfg.PullEnabled())
}

func TestParseFanoutMode(t *testing.T) {
	m, err := ParseFanoutMode("Parallel")
	require.NoError(t, err)
	assert.Equal(t, FanoutParallel, m)
	m, err = ParseFanoutMode("")
	require.NoError(t, err)
	assert.Equal(t, FanoutSequential, m)
	_, err = ParseFanoutMode("random")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
