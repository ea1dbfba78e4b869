package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/filevault/internal/flagx"
)

var serverFlags = []string{
	"-a", "-grpc", "-f", "-t", "-i", "-s", "-k", "-j", "-m", "-rate", "-l",
	"-backend", "-u", "-p", "-b", "-g", "-e",
}

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string        HTTP bind address (e.g., ":8080")
//	-grpc string     gRPC health bind address, empty disables
//	-f string        data directory
//	-t int           max session time, minutes
//	-i int           session sweep interval, seconds
//	-s string        session token secret key
//	-k string        key derivation salt
//	-j int           concurrent encrypt/decrypt jobs
//	-m int           max upload chunk size, bytes
//	-rate float      session creations per second per client
//	-l string        log level
//	-backend string  blob backend, "fs" or "s3"
//	-u string        S3 root user
//	-p string        S3 root password
//	-b string        S3 bucket name
//	-g string        S3 region
//	-e string        S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// os.Args is first filtered to the flags handled here using flagx.FilterArgs.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run the HTTP API")
	fs.StringVar(&config.EndpointAddrGRPC, "grpc", config.EndpointAddrGRPC, "address and port of the gRPC health endpoint")
	fs.StringVar(&config.DataPath, "f", config.DataPath, "data directory")

	maxSessionTime := fs.Int("t", int(config.MaxSessionTime.Minutes()), "max session time (in minutes)")
	sweepInterval := fs.Int("i", int(config.SweepInterval.Seconds()), "session sweep interval (in seconds)")

	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.KeySalt, "k", config.KeySalt, "key derivation salt")
	fs.IntVar(&config.JobConcurrency, "j", config.JobConcurrency, "concurrent encrypt/decrypt jobs")
	fs.Int64Var(&config.MaxChunkSize, "m", config.MaxChunkSize, "max upload chunk size (in bytes)")
	fs.Float64Var(&config.SessionRateLimit, "rate", config.SessionRateLimit, "session creations per second per client")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.StringVar(&config.BlobBackend, "backend", config.BlobBackend, "blob backend (fs or s3)")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.MaxSessionTime = time.Duration(*maxSessionTime) * time.Minute
	config.SweepInterval = time.Duration(*sweepInterval) * time.Second
}
