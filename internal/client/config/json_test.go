package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeTempJSON(t, dir, "flag.json", map[string]any{
		"user_id":       "anna",
		"gap_threshold": "20m",
		"share":         map[string]any{"account": "anna@example.com", "session_ttl": "1h"},
		"sync":          map[string]any{"url": "http://sync:9000", "retries": 5, "base_delay": "250ms"},
	})

	t.Run("loads from -config", func(t *testing.T) {
		cfg := &Config{DBPath: "keep.db"}
		require.NoError(t, parseJSON(cfg, []string{"-config", path}))

		assert.Equal(t, "anna", cfg.UserID)
		assert.Equal(t, "keep.db", cfg.DBPath)
		assert.Equal(t, 20*time.Minute, cfg.GapThreshold)
		assert.Equal(t, "anna@example.com", cfg.ShareAccount)
		assert.Equal(t, time.Hour, cfg.ShareSessionTTL)
		assert.Equal(t, "http://sync:9000", cfg.SyncURL)
		assert.Equal(t, uint64(5), cfg.SyncRetries)
		assert.Equal(t, 250*time.Millisecond, cfg.SyncBaseDelay)
	})

	t.Run("no config flag → no changes", func(t *testing.T) {
		cfg := &Config{UserID: "defaults", GapThreshold: 42 * time.Second}
		require.NoError(t, parseJSON(cfg, []string{"-u", "x"}))

		assert.Equal(t, "defaults", cfg.UserID)
		assert.Equal(t, 42*time.Second, cfg.GapThreshold)
	})

	t.Run("invalid JSON → error", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		require.Error(t, parseJSON(&Config{}, []string{"-c", bad}))
	})

	t.Run("missing file → error", func(t *testing.T) {
		require.Error(t, parseJSON(&Config{}, []string{"-c", filepath.Join(dir, "nope.json")}))
	})
}
