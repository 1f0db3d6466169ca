package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"peerlink/pkg/codec"
	"peerlink/pkg/config"
	"peerlink/pkg/core/netstack"
	"peerlink/pkg/observability"
	"peerlink/pkg/peers"
	"peerlink/pkg/transport"
)

// Heartbeat is the payload nodes gossip to each other.
type Heartbeat struct {
	From       string `json:"from" cbor:"1,keyasint"`
	Seq        uint64 `json:"seq" cbor:"2,keyasint"`
	SentUnixMS int64  `json:"sent_unix_ms" cbor:"3,keyasint"`
}

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named(cfg.AppName)

	logger.Info("peerlink-node started", zap.String("kind", cfg.Transport.Kind), zap.String("bind", cfg.Transport.Bind))
	logger.Debug("effective configuration", zap.Any("config", cfg))

	reg, err := loadPeers(cfg)
	if err != nil {
		logger.Error("failed to load peers", zap.Error(err))
		return 1
	}

	codecs, err := codec.NewRegistry()
	if err != nil {
		logger.Error("failed to init codecs", zap.Error(err))
		return 1
	}
	tcfg, err := newHeartbeatConfig(cfg.Transport, codecs, logger)
	if err != nil {
		logger.Error("invalid transport configuration", zap.Error(err))
		return 1
	}

	tr, err := netstack.Open(cfg.Transport.Kind, tcfg)
	if err != nil {
		logger.Error("failed to start transport", zap.Error(err))
		return 1
	}
	defer func() { _ = tr.Close() }()
	self := tr.Addr().String()
	logger.Info("transport bound", zap.String("addr", self), zap.Int("peers", reg.Len()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var seq uint64
	beat := func() error {
		seq++
		bctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.HeartbeatMS)*time.Millisecond)
		defer cancel()
		err := tr.Broadcast(bctx, reg, Heartbeat{From: self, Seq: seq, SentUnixMS: time.Now().UnixMilli()})
		logBroadcast(logger, seq, err)
		return err
	}

	if opts.Once {
		if err := beat(); err != nil {
			return 1
		}
		return 0
	}

	ticker := time.NewTicker(time.Duration(cfg.HeartbeatMS) * time.Millisecond)
	defer ticker.Stop()
	logger.Info("node is running; press Ctrl+C to exit")
	for {
		select {
		case <-ctx.Done():
			st := tr.Stats()
			logger.Info("shutting down", zap.Uint64("sent", st.Sent), zap.Uint64("received", st.Received), zap.Uint64("send_failures", st.SendFailures))
			return 0
		case <-ticker.C:
			_ = beat()
		}
	}
}

// newHeartbeatConfig builds the transport config for heartbeats: no pull
// stream and a single callback sink that logs each one.
func newHeartbeatConfig(tc config.TransportConfig, codecs *codec.Registry, logger *zap.Logger) (*transport.Config[Heartbeat], error) {
	if c, err := codecs.ByName(tc.Codec); err == nil && c.ContentType() == codec.ContentProto {
		return nil, transport.Errorf(transport.CodeInvalidArgument, "config", "heartbeats are not protobuf messages; use cbor or json")
	}
	tcfg, err := config.NewTransportConfig[Heartbeat](tc, codecs, logger)
	if err != nil {
		return nil, err
	}
	if err := tcfg.DisablePull(); err != nil {
		return nil, err
	}
	err = tcfg.RegisterCallback(func(hb Heartbeat) bool {
		logger.Info("heartbeat", zap.String("from", hb.From), zap.Uint64("seq", hb.Seq),
			zap.Duration("latency", time.Since(time.UnixMilli(hb.SentUnixMS))))
		return true
	})
	if err != nil {
		return nil, err
	}
	return tcfg, nil
}

func loadPeers(cfg *config.Config) (*peers.Registry[string], error) {
	reg := peers.New[string](cfg.Capacity)
	for _, p := range cfg.Peers {
		if err := reg.Add(peers.Peer[string]{ID: p.ID, Addrs: p.Addrs}); err != nil {
			return nil, err
		}
	}
	if cfg.PeersFile != "" {
		if _, err := reg.LoadFromFile(cfg.PeersFile); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func logBroadcast(logger *zap.Logger, seq uint64, err error) {
	var be *transport.BroadcastError
	switch {
	case err == nil:
		logger.Debug("heartbeat sent", zap.Uint64("seq", seq))
	case errors.As(err, &be):
		for _, f := range be.Failed {
			logger.Warn("heartbeat not delivered", zap.Uint64("seq", seq), zap.String("peer", f.Addr), zap.Stringer("code", transport.CodeOf(f.Err)), zap.Error(f.Err))
		}
	default:
		logger.Warn("heartbeat failed", zap.Uint64("seq", seq), zap.Error(err))
	}
}
