package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":6373", cfg.CommandAddr)
	assert.Equal(t, ":6374", cfg.FileAddr)
	assert.Equal(t, ":6375", cfg.RelayAddr)
	assert.Equal(t, 5*time.Minute, cfg.TransferTTL)
	assert.Equal(t, 256, cfg.OutboundQueue)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.yaml")
	data := []byte(`
command_addr: "127.0.0.1:7000"
upload_dir: /var/lib/chatd/media
transfer_ttl: 90s
file_idle_timeout: 10s
log_level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.CommandAddr)
	assert.Equal(t, "/var/lib/chatd/media", cfg.UploadDir)
	assert.Equal(t, 90*time.Second, cfg.TransferTTL)
	assert.Equal(t, 10*time.Second, cfg.FileIdleTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched keys keep their defaults
	assert.Equal(t, ":6374", cfg.FileAddr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: from-file.db\n"), 0o644))

	t.Setenv("CHATD_DB_PATH", "from-env.db")
	t.Setenv("CHATD_TRANSFER_TTL", "2m")
	t.Setenv("CHATD_OUTBOUND_QUEUE", "16")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.DBPath)
	assert.Equal(t, 2*time.Minute, cfg.TransferTTL)
	assert.Equal(t, 16, cfg.OutboundQueue)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"CHATD_TRANSFER_TTL": "soon"}},
		{"bad queue", map[string]string{"CHATD_OUTBOUND_QUEUE": "many"}},
		{"zero queue", map[string]string{"CHATD_OUTBOUND_QUEUE": "0"}},
		{"bad level", map[string]string{"CHATD_LOG_LEVEL": "loud"}},
		{"negative ttl", map[string]string{"CHATD_TRANSFER_TTL": "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}
