package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the FileVault CLI.
//
// Fields:
//   - ServerURL: base URL of the FileVault HTTP API.
//   - SessionName: session to open; prompted for when empty.
//   - ChunkSize: upload chunk size in bytes.
//   - PollInterval: delay between download attempts while a file is locked.
//   - DownloadTimeout: how long a download may wait for decryption.
//   - Args: positional command-line arguments (the command and its operands).
type Config struct {
	ServerURL       string
	SessionName     string
	ChunkSize       int64
	PollInterval    time.Duration
	DownloadTimeout time.Duration
	Args            []string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.SessionName = ""
	c.ChunkSize = 4 << 20
	c.PollInterval = 500 * time.Millisecond
	c.DownloadTimeout = 2 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	cfg.Args = positionalArgs(os.Args[1:])
	return cfg
}
