package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected *Config
		wantErr  bool
	}{
		{
			name: "all flags",
			args: []string{"-a", "127.0.0.1:9090", "-d", "db", "-k", "secret", "-ttl", "1h", "-l", "debug", "-log", "srv.log"},
			expected: &Config{
				ListenAddr:    "127.0.0.1:9090",
				DatabaseDSN:   "db",
				SecretKey:     "secret",
				TokenValidity: time.Hour,
				LogLevel:      "debug",
				LogFile:       "srv.log",
			},
		},
		{
			name:     "unknown flags are ignored",
			args:     []string{"-issue", "u1", "-a", ":1"},
			expected: &Config{ListenAddr: ":1"},
		},
		{
			name:    "bad duration",
			args:    []string{"-ttl", "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			err := parseFlags(cfg, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.expected, cfg))
		})
	}
}
