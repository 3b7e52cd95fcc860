package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration loaded from config.toml.
type Config struct {
	Server ServerConfig `toml:"server"`
}

// ServerConfig describes the daemon's socket, data directory, default
// watched roots, and logging.
type ServerConfig struct {
	// SocketPath is the Unix domain socket the daemon listens on.
	SocketPath string `toml:"socket_path"`
	// DataDir holds the trigger SQLite database and any other
	// persisted state.
	DataDir string `toml:"data_dir"`
	// WatchRoots are directories watched automatically at startup, in
	// addition to whatever clients request with the watch command.
	WatchRoots []string `toml:"watch_roots"`
	// LogLevel is the daemon's own stderr log verbosity: debug, info,
	// or errors. It is independent of each client session's log-level
	// filter, which defaults to off.
	LogLevel string `toml:"log_level"`
	// PollIntervalMillis controls the watch backend's scan cadence, in
	// milliseconds.
	PollIntervalMillis int `toml:"poll_interval_ms"`
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".fswatchd")
	}
	return ".fswatchd"
}

// LoadConfig reads config.toml from dataDir, applies environment
// variable overrides, and fills in defaults for anything left unset.
func LoadConfig(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, "config.toml")

	cfg := &Config{
		Server: ServerConfig{
			SocketPath:         filepath.Join(dataDir, "fswatchd.sock"),
			DataDir:            dataDir,
			LogLevel:           "info",
			PollIntervalMillis: 500,
		},
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if sock := os.Getenv("FSWATCHD_SOCKET"); sock != "" {
		cfg.Server.SocketPath = sock
	}
	if level := os.Getenv("FSWATCHD_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = defaultDataDir()
	}
	if cfg.Server.PollIntervalMillis <= 0 {
		cfg.Server.PollIntervalMillis = 500
	}

	return cfg, nil
}
