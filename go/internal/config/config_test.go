package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/state")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, TransportStomp, cfg.Realtime.Transport)
	assert.Equal(t, 5*time.Second, cfg.Realtime.ReconnectDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Realtime.SubscribePoll)
	assert.Equal(t, 10, cfg.Realtime.SubscribeAttempts)
	assert.Equal(t, 10*time.Second, cfg.Realtime.HeartBeat)
	assert.Equal(t, filepath.Join("/tmp/state", "roomsync"), cfg.Snapshot.Dir)
	assert.Equal(t, 64, cfg.Inspector.Notifications)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://food.example
realtime:
  transport: nats
  url: nats://broker:4222
  reconnect_delay: 2s
snapshot:
  backend: postgres
  database:
    host: db
    port: 6543
`), 0o600))

	t.Setenv("ROOMSYNC_RECONNECT_DELAY", "7s")
	t.Setenv("DB_NAME", "rooms")
	t.Setenv("ROOMSYNC_SUBSCRIBE_ATTEMPTS", "not a number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://food.example", cfg.API.BaseURL)
	assert.Equal(t, TransportNATS, cfg.Realtime.Transport)
	assert.Equal(t, 7*time.Second, cfg.Realtime.ReconnectDelay)
	assert.Equal(t, 10, cfg.Realtime.SubscribeAttempts)
	assert.Equal(t, "postgres://postgres:postgres@db:6543/rooms?sslmode=disable", cfg.Snapshot.Database.DSN())
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"transport": "realtime:\n  transport: carrier-pigeon\n",
		"backend":   "snapshot:\n  backend: floppy\n",
		"poll":      "realtime:\n  subscribe_poll: 0s\n",
		"feed":      "inspector:\n  notifications: 0\n",
		"yaml":      "realtime: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
