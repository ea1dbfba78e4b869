// Package config handles configuration for the server component,
// including defaults, environment, JSON overlay, and command-line flags.
package config

import (
	"time"

	"github.com/dmitrijs2005/filevault/internal/flagx"
)

// DataPathEnv overrides the default data directory.
const DataPathEnv = "DATA_FILEPATH"

// Config holds runtime settings for the FileVault server.
//
// Fields:
//   - EndpointAddrHTTP: bind address of the HTTP API.
//   - EndpointAddrGRPC: bind address of the gRPC health endpoint; empty disables it.
//   - DataPath: base directory for metadata, staging, blobs and decrypted files.
//   - MaxSessionTime / SweepInterval: session lifetime and expiry sweep period.
//   - SecretKey: HMAC secret for session tokens (HS256). Empty means a random
//     per-process key, which invalidates tokens on restart.
//   - KeySalt: salt for password key derivation. Empty means the salt stored
//     in DataPath, created on first start.
//   - JobConcurrency: number of encrypt/decrypt jobs running at once.
//   - MaxChunkSize: largest accepted upload chunk in bytes.
//   - SessionRateLimit: session creations per second per client; 0 disables.
//   - BlobBackend: "fs" or "s3".
//   - S3RootUser / S3RootPassword / S3Bucket / S3Region / S3BaseEndpoint:
//     object storage settings used when BlobBackend is "s3".
type Config struct {
	EndpointAddrHTTP string
	EndpointAddrGRPC string
	DataPath         string
	MaxSessionTime   time.Duration
	SweepInterval    time.Duration
	SecretKey        string
	KeySalt          string
	JobConcurrency   int
	MaxChunkSize     int64
	SessionRateLimit float64
	LogLevel         string
	BlobBackend      string
	S3RootUser       string
	S3RootPassword   string
	S3Bucket         string
	S3Region         string
	S3BaseEndpoint   string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.EndpointAddrGRPC = ""
	c.DataPath = "data"
	c.MaxSessionTime = 10 * time.Minute
	c.SweepInterval = 1 * time.Minute
	c.JobConcurrency = 4
	c.MaxChunkSize = 64 << 20
	c.SessionRateLimit = 1
	c.LogLevel = "info"
	c.BlobBackend = "fs"
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "vault"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// parseEnv applies environment overrides.
func parseEnv(c *Config) {
	c.DataPath = flagx.EnvOr(DataPathEnv, c.DataPath)
}

// LoadConfig builds a Config by applying defaults, then the environment,
// then an optional JSON file and finally command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
