package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/filevault/internal/flagx"
)

var knownFlags = []string{"-a", "-n", "-s", "-i", "-t"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the server (default from Config)
//	-n string   session name
//	-s int      upload chunk size in bytes
//	-i int      download poll interval in milliseconds
//	-t int      download timeout in seconds
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "base URL of the server")
	fs.StringVar(&cfg.SessionName, "n", cfg.SessionName, "session name")
	fs.Int64Var(&cfg.ChunkSize, "s", cfg.ChunkSize, "upload chunk size (in bytes)")
	pollInterval := fs.Int("i", int(cfg.PollInterval.Milliseconds()), "download poll interval (in milliseconds)")
	downloadTimeout := fs.Int("t", int(cfg.DownloadTimeout.Seconds()), "download timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PollInterval = time.Duration(*pollInterval) * time.Millisecond
	cfg.DownloadTimeout = time.Duration(*downloadTimeout) * time.Second
}

// positionalArgs drops this package's flags and the config file flags.
func positionalArgs(args []string) []string {
	return flagx.Positional(args, append([]string{"-c", "-config"}, knownFlags...))
}
