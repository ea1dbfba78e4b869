// Package config loads runtime configuration for the FileVault CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the server
//	-n string   session name
//	-s int      upload chunk size (bytes)
//	-i int      download poll interval (milliseconds)
//	-t int      download timeout (seconds)
//
// Arguments that are not flags are kept in Config.Args; the CLI reads the
// command from them.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds:
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "session_name": "alice",
//	  "chunk_size": 4194304,
//	  "poll_interval": "500ms",
//	  "download_timeout": "2m"
//	}
package config
