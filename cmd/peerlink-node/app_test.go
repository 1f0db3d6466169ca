package main

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"peerlink/pkg/codec"
	"peerlink/pkg/config"
	"peerlink/pkg/transport"
)

func TestParseFlags(t *testing.T) {
	opts := ParseFlags([]string{"-config", "node.yaml", "-once"})
	if opts.ConfigPath != "node.yaml" || !opts.Once {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestLoadPeers(t *testing.T) {
	file := filepath.Join(t.TempDir(), "peers.yaml")
	if err := os.WriteFile(file, []byte("peers:\n  - id: c\n    addrs: [\"127.0.0.1:9003\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Peers = []config.PeerConfig{{ID: "b", Addrs: []string{"127.0.0.1:9002"}}}
	cfg.PeersFile = file
	reg, err := loadPeers(cfg)
	if err != nil {
		t.Fatalf("loadPeers: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("len = %d", reg.Len())
	}

	cfg.Capacity = 1
	if _, err := loadPeers(cfg); !transport.IsCode(err, transport.CodeCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func TestRunOnceOverMem(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	p := filepath.Join(t.TempDir(), "node.yaml")
	body := `
app_name: once
log:
  level: error
  outputs: ["` + filepath.Join(t.TempDir(), "node.log") + `"]
transport:
  kind: mem
  bind: "once-node"
peers:
  - id: self
    addrs: ["once-node"]
`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if code := run(Options{ConfigPath: p, Once: true}); code != 0 {
		t.Fatalf("run exited %d", code)
	}
}

func TestNewHeartbeatConfig(t *testing.T) {
	codecs, err := codec.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	tc := config.Default().Transport
	tcfg, err := newHeartbeatConfig(tc, codecs, zap.NewNop())
	if err != nil {
		t.Fatalf("newHeartbeatConfig: %v", err)
	}
	if tcfg.NumSinks() != 1 {
		t.Fatalf("sinks = %d, want 1", tcfg.NumSinks())
	}
	if tcfg.PullEnabled() {
		t.Fatal("pull stream should be disabled")
	}

	tc.Codec = "proto"
	if _, err := newHeartbeatConfig(tc, codecs, zap.NewNop()); !transport.IsCode(err, transport.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for proto codec, got %v", err)
	}
}
