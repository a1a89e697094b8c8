package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_Defaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Storage.Driver)
	assert.Equal(t, "redis", cfg.Bidding.LockBackend)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.ScanInterval)
	assert.Equal(t, 5, cfg.Escrow.MaxAttempts)
	assert.Equal(t, "USD", cfg.Escrow.Currency)
	assert.Equal(t, []string{"redis"}, cfg.Events.Sinks)
	assert.False(t, cfg.Confirmations.EmbeddedWorker)
}

func TestLoadFromFile_Overrides(t *testing.T) {
	t.Setenv("SCHEDULER_BATCH_SIZE", "7")

	cfg, err := LoadFromFile(writeConfig(t, `
storage:
  driver: memory
bidding:
  lock_backend: local
  extension_window: 30s
scheduler:
  scan_interval: 2s
events:
  sinks: [websocket, kafka]
confirmations:
  embedded_worker: true
`))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "local", cfg.Bidding.LockBackend)
	assert.Equal(t, 30*time.Second, cfg.Bidding.ExtensionWindow)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.ScanInterval)
	assert.Equal(t, 7, cfg.Scheduler.BatchSize)
	assert.Equal(t, []string{"websocket", "kafka"}, cfg.Events.Sinks)
	assert.True(t, cfg.Confirmations.EmbeddedWorker)
}

func TestLoadFromFile_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"storage driver", "storage:\n  driver: postgres\n"},
		{"lock backend", "bidding:\n  lock_backend: zookeeper\n"},
		{"scan interval", "scheduler:\n  scan_interval: 0s\n"},
		{"escrow attempts", "escrow:\n  max_attempts: 0\n"},
		{"redis lock ttl", "bidding:\n  lock_backend: redis\n  lock_ttl: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFromFile_LocalLockIgnoresTTL(t *testing.T) {
	t.Setenv("BIDDING_LOCK_TTL", "0s")

	cfg, err := LoadFromFile(writeConfig(t, "bidding:\n  lock_backend: local\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Bidding.LockTTL)

	_, err = LoadFromFile(writeConfig(t, "bidding:\n  lock_backend: redis\n"))
	assert.Error(t, err)
}
