// Package config provides YAML-based configuration loading for peerlink
// nodes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"peerlink/pkg/transport"
)

// Config is the root node configuration.
type Config struct {
	// AppName is the logical name of the node, used as the root logger name.
	AppName string `mapstructure:"app_name"`

	Log LogConfig `mapstructure:"log"`

	// Transport is the single transport the node binds.
	Transport TransportConfig `mapstructure:"transport"`

	// PeersFile optionally names a JSON, YAML or TOML peer list loaded
	// after Peers.
	PeersFile string       `mapstructure:"peers_file"`
	Peers     []PeerConfig `mapstructure:"peers"`
	// Capacity bounds the peer registry; 0 uses the registry default.
	Capacity int `mapstructure:"capacity"`

	// HeartbeatMS is the broadcast interval of the demo node.
	HeartbeatMS int `mapstructure:"heartbeat_ms"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TransportConfig describes the node transport.
// Example YAML:
//
//	transport:
//	  kind: tcp
//	  bind: "127.0.0.1:9001"
//	  codec: cbor
//	  callback_timeout_ms: 100
//	  fanout: sequential
type TransportConfig struct {
	Kind                  string `mapstructure:"kind"`
	Bind                  string `mapstructure:"bind"`
	Codec                 string `mapstructure:"codec"`
	CallbackTimeoutMS     int    `mapstructure:"callback_timeout_ms"`
	CallbackMaxAttempts   int    `mapstructure:"callback_max_attempts"`
	ChannelTimeoutMS      int    `mapstructure:"channel_timeout_ms"`
	Fanout                string `mapstructure:"fanout"`
	AbortBroadcastOnError bool   `mapstructure:"abort_broadcast_on_error"`
	PullCapacity          int    `mapstructure:"pull_capacity"`
	InboxCapacity         int    `mapstructure:"inbox_capacity"`
}

// PeerConfig is one statically configured peer.
type PeerConfig struct {
	ID    string   `mapstructure:"id"`
	Addrs []string `mapstructure:"addrs"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		AppName: "peerlink-node",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/peerlink.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Transport: TransportConfig{
			Kind:              "tcp",
			Bind:              "127.0.0.1:9001",
			Codec:             "cbor",
			CallbackTimeoutMS: 100,
			ChannelTimeoutMS:  1000,
			Fanout:            "sequential",
			PullCapacity:      transport.DefaultPullCapacity,
			InboxCapacity:     transport.DefaultInboxCapacity,
		},
		HeartbeatMS: 1000,
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix PEERLINK and `.`
// or `-` become `_`, e.g. PEERLINK_TRANSPORT_BIND=0.0.0.0:9001.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PEERLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("transport.kind", cfg.Transport.Kind)
	v.SetDefault("transport.bind", cfg.Transport.Bind)
	v.SetDefault("transport.codec", cfg.Transport.Codec)
	v.SetDefault("transport.callback_timeout_ms", cfg.Transport.CallbackTimeoutMS)
	v.SetDefault("transport.callback_max_attempts", cfg.Transport.CallbackMaxAttempts)
	v.SetDefault("transport.channel_timeout_ms", cfg.Transport.ChannelTimeoutMS)
	v.SetDefault("transport.fanout", cfg.Transport.Fanout)
	v.SetDefault("transport.abort_broadcast_on_error", cfg.Transport.AbortBroadcastOnError)
	v.SetDefault("transport.pull_capacity", cfg.Transport.PullCapacity)
	v.SetDefault("transport.inbox_capacity", cfg.Transport.InboxCapacity)
	v.SetDefault("peers_file", cfg.PeersFile)
	v.SetDefault("capacity", cfg.Capacity)
	v.SetDefault("heartbeat_ms", cfg.HeartbeatMS)

	if path == "" {
		path = os.Getenv("PEERLINK_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("peerlink")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".peerlink"))
		}
	}

	// a missing config file is fine; defaults and env still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	if c.Transport.Kind == "" {
		return errors.New("transport.kind is required")
	}
	if strings.TrimSpace(c.Transport.Bind) == "" {
		return errors.New("transport.bind is required")
	}
	if c.Transport.CallbackTimeoutMS <= 0 {
		return fmt.Errorf("invalid transport.callback_timeout_ms: %d", c.Transport.CallbackTimeoutMS)
	}
	if c.Transport.CallbackMaxAttempts < 0 || c.Transport.ChannelTimeoutMS < 0 {
		return errors.New("transport.callback_max_attempts and transport.channel_timeout_ms must not be negative")
	}
	if c.Transport.PullCapacity < 0 || c.Transport.InboxCapacity < 0 {
		return fmt.Errorf("invalid transport queue capacity: pull %d, inbox %d", c.Transport.PullCapacity, c.Transport.InboxCapacity)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("invalid capacity: %d", c.Capacity)
	}
	if c.HeartbeatMS <= 0 {
		c.HeartbeatMS = 1000
	}
	for i, p := range c.Peers {
		if strings.TrimSpace(p.ID) == "" || len(p.Addrs) == 0 {
			return fmt.Errorf("peers[%d]: id and addrs are required", i)
		}
	}
	return nil
}
