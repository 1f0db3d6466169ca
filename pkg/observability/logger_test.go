package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"peerlink/pkg/config"
)

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	out := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, err := SetupLogger(config.LogConfig{Level: "debug", Format: "json", Outputs: []string{out}})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Debug("bound", zap.String("addr", "127.0.0.1:9001"))
	_ = logger.Sync()

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(b))), &rec); err != nil {
		t.Fatalf("not json: %q", b)
	}
	if rec["msg"] != "bound" || rec["addr"] != "127.0.0.1:9001" {
		t.Fatalf("unexpected record %v", rec)
	}
	if zap.L() != logger {
		t.Fatalf("global logger not replaced")
	}
}

func TestSetupLoggerLevels(t *testing.T) {
	for _, lvl := range []string{"", "info", "WARNING", "error"} {
		if _, err := parseLevel(lvl); err != nil {
			t.Errorf("parseLevel(%q): %v", lvl, err)
		}
	}
	if _, err := SetupLogger(config.LogConfig{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestRotatedOutputUsesRotationFilename(t *testing.T) {
	dir := t.TempDir()
	ws, err := writerFor(filepath.Join(dir, "ignored.log"), config.RotationConfig{Enable: true, Filename: filepath.Join(dir, "rot.log")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Write([]byte("line\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "rot.log")); err != nil {
		t.Fatalf("rotation file missing: %v", err)
	}
}
