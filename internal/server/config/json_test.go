package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseJSON_OverlaysNamedFields(t *testing.T) {
	path := writeTempJSON(t, `{
		"listen_addr": ":9443",
		"database_dsn": "postgres://x",
		"secret_key": "k",
		"token_validity": "2h",
		"max_body_bytes": 1024
	}`)

	cfg := &Config{LogLevel: "info"}
	require.NoError(t, parseJSON(cfg, []string{"-config", path}))

	assert.Equal(t, ":9443", cfg.ListenAddr)
	assert.Equal(t, "postgres://x", cfg.DatabaseDSN)
	assert.Equal(t, "k", cfg.SecretKey)
	assert.Equal(t, 2*time.Hour, cfg.TokenValidity)
	assert.EqualValues(t, 1024, cfg.MaxBodyBytes)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParseJSON_NoFlagNoChange(t *testing.T) {
	cfg := &Config{ListenAddr: ":1"}
	require.NoError(t, parseJSON(cfg, []string{"-a", ":2"}))
	assert.Equal(t, ":1", cfg.ListenAddr)
}

func TestParseJSON_Errors(t *testing.T) {
	cfg := &Config{}
	require.Error(t, parseJSON(cfg, []string{"-c", filepath.Join(t.TempDir(), "missing.json")}))
	require.Error(t, parseJSON(cfg, []string{"-c", writeTempJSON(t, "{")}))
}
