package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	// Test cases
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "Test1 OK", args: []string{"cmd", "-a", "http://127.0.0.1:9090", "-n", "bob", "-s", "1024", "-i", "250", "-t", "30"}, expectPanic: false,
			expected: &Config{ServerURL: "http://127.0.0.1:9090", SessionName: "bob", ChunkSize: 1024, PollInterval: 250 * time.Millisecond, DownloadTimeout: 30 * time.Second}},
		{name: "Test2 incorrect poll interval", args: []string{"cmd", "-a", "http://127.0.0.1:9090", "-i", "abc"}, expectPanic: true, expected: &Config{}},
		{name: "Test3 incorrect chunk size", args: []string{"cmd", "-s", "big"}, expectPanic: true, expected: &Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {

				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}

func TestPositionalArgs(t *testing.T) {
	got := positionalArgs([]string{"-c", "cfg.json", "-a", "http://x", "get", "abc", "-t", "5", "out.bin"})
	assert.Equal(t, []string{"get", "abc", "out.bin"}, got)
}
