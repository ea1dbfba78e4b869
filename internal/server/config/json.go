package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/filevault/internal/flagx"
	"github.com/dmitrijs2005/filevault/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations accept strings such
// as "10m" as well as integer nanoseconds. Pointer fields distinguish
// "absent" from zero values.
type JsonConfig struct {
	EndpointAddrHTTP string          `json:"endpoint_addr_http"`
	EndpointAddrGRPC *string         `json:"endpoint_addr_grpc"`
	DataPath         string          `json:"data_path"`
	MaxSessionTime   *timex.Duration `json:"max_session_time"`
	SweepInterval    *timex.Duration `json:"sweep_interval"`
	SecretKey        string          `json:"secret_key"`
	KeySalt          string          `json:"key_salt"`
	JobConcurrency   int             `json:"job_concurrency"`
	MaxChunkSize     int64           `json:"max_chunk_size"`
	SessionRateLimit *float64        `json:"session_rate_limit"`
	LogLevel         string          `json:"log_level"`
	BlobBackend      string          `json:"blob_backend"`
	S3RootUser       string          `json:"s3_root_user"`
	S3RootPassword   string          `json:"s3_root_password"`
	S3Bucket         string          `json:"s3_bucket"`
	S3Region         string          `json:"s3_region"`
	S3BaseEndpoint   string          `json:"s3_base_endpoint"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays values from the JSON file named by -c or -config onto
// config. Keys missing from the file keep their current value. An
// unreadable or invalid file panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	if c.EndpointAddrGRPC != nil {
		config.EndpointAddrGRPC = *c.EndpointAddrGRPC
	}
	setString(&config.DataPath, c.DataPath)
	if c.MaxSessionTime != nil {
		config.MaxSessionTime = c.MaxSessionTime.Duration
	}
	if c.SweepInterval != nil {
		config.SweepInterval = c.SweepInterval.Duration
	}
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.KeySalt, c.KeySalt)
	if c.JobConcurrency > 0 {
		config.JobConcurrency = c.JobConcurrency
	}
	if c.MaxChunkSize > 0 {
		config.MaxChunkSize = c.MaxChunkSize
	}
	if c.SessionRateLimit != nil {
		config.SessionRateLimit = *c.SessionRateLimit
	}
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.BlobBackend, c.BlobBackend)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}
