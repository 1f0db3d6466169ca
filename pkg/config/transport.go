package config

import (
	"time"

	"go.uber.org/zap"

	"peerlink/pkg/codec"
	"peerlink/pkg/transport"
)

// NewTransportConfig turns tc into a transport.Config. Sinks are left to
// the caller.
func NewTransportConfig[D any](tc TransportConfig, codecs *codec.Registry, logger *zap.Logger) (*transport.Config[D], error) {
	cfg, err := transport.NewConfig[D](tc.Bind)
	if err != nil {
		return nil, err
	}
	if codecs != nil {
		cd, err := codecs.ByName(tc.Codec)
		if err != nil {
			return nil, transport.NewError(transport.CodeInvalidArgument, "config", "", err)
		}
		if err := cfg.SetCodec(cd); err != nil {
			return nil, err
		}
	}
	mode, err := transport.ParseFanoutMode(tc.Fanout)
	if err != nil {
		return nil, err
	}
	steps := []func() error{
		func() error { return cfg.SetFanoutMode(mode) },
		func() error { return cfg.SetCallbackTimeout(time.Duration(tc.CallbackTimeoutMS) * time.Millisecond) },
		func() error { return cfg.SetCallbackMaxAttempts(tc.CallbackMaxAttempts) },
		func() error { return cfg.SetChannelTimeout(time.Duration(tc.ChannelTimeoutMS) * time.Millisecond) },
		func() error { return cfg.SetAbortBroadcastOnError(tc.AbortBroadcastOnError) },
		func() error { return cfg.SetPullCapacity(tc.PullCapacity) },
		func() error { return cfg.SetInboxCapacity(tc.InboxCapacity) },
	}
	if logger != nil {
		steps = append(steps, func() error { return cfg.SetLogger(logger) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
