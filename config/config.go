// Package config reads and writes the daemon's TOML configuration file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk daemon configuration. Every field has a usable
// zero value except DBPath, which dtmesh.New rejects when empty.
type Config struct {
	SelfUserID     string        `toml:"self_user_id"`
	DBPath         string        `toml:"db_path"`
	CryptoSeed     string        `toml:"crypto_seed"`
	Transport      string        `toml:"transport"` // "udp", "quic", or "loopback"
	ListenAddr     string        `toml:"listen_addr"`
	BroadcastAddr  string        `toml:"broadcast_addr"` // udp only
	StaticPeers    []PeerConfig  `toml:"static_peers"`   // quic only
	CleanupEvery   time.Duration `toml:"cleanup_every"`
}

// PeerConfig is one statically-configured QUIC peer.
type PeerConfig struct {
	EndpointID string `toml:"endpoint_id"`
	Addr       string `toml:"addr"`
}

// Default returns a Config with the same fixed defaults as the engine's
// own zero-value behavior, suitable as a starting point for `dtmeshd -init`.
func Default() *Config {
	return &Config{
		DBPath:        "dtmesh.db",
		Transport:     "udp",
		ListenAddr:    "0.0.0.0:47331",
		BroadcastAddr: "255.255.255.255:47331",
		CleanupEvery:  5 * time.Minute,
	}
}

// Load reads a Config from path. Returns an error if the file is missing
// or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
