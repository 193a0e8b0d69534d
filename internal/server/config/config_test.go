package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8080", c.ListenAddr)
	assert.Contains(t, c.DatabaseDSN, "/balli?")
	assert.Equal(t, "secretKey", c.SecretKey)
	assert.Equal(t, 30*24*time.Hour, c.TokenValidity)
	assert.EqualValues(t, 4<<20, c.MaxBodyBytes)
	assert.Equal(t, "info", c.LogLevel)
	assert.Empty(t, c.LogFile)
}

func TestLoadConfig_NoArgsGivesDefaults(t *testing.T) {
	c, err := LoadConfig(nil)
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	assert.Equal(t, want, *c)
}

func TestLoadConfig_FlagsWinOverJSON(t *testing.T) {
	path := writeTempJSON(t, `{"listen_addr":":9000","log_level":"debug"}`)

	c, err := LoadConfig([]string{"-c", path, "-a", ":7000", "-issue", "u1"})
	require.NoError(t, err)

	assert.Equal(t, ":7000", c.ListenAddr)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestLogging(t *testing.T) {
	c := Config{LogLevel: "warn", LogFile: "srv.log"}
	opts := c.Logging()
	assert.Equal(t, "warn", opts.Level)
	assert.Equal(t, "srv.log", opts.File)
	assert.Positive(t, opts.MaxSizeMB)
}
