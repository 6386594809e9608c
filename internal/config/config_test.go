package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(lookup(map[string]string{"JWT_SECRET": secret}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 15, cfg.AutoReleaseMinutes)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.PongGrace)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 64, cfg.SendQueueSize)
	assert.Equal(t, 5, cfg.NotifyMaxAttempts)
	assert.Empty(t, cfg.AMQPURL)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":  {},
		"short secret":    {"JWT_SECRET": "short"},
		"unknown driver":  {"JWT_SECRET": secret, "STORE_DRIVER": "sqlite"},
		"bad duration":    {"JWT_SECRET": secret, "SWEEP_INTERVAL": "soon"},
		"zero duration":   {"JWT_SECRET": secret, "PONG_GRACE": "0s"},
		"bad int":         {"JWT_SECRET": secret, "SEND_QUEUE_SIZE": "many"},
		"tax out of band": {"JWT_SECRET": secret, "TAX_RATE": "1.5"},
		"no hold time":    {"JWT_SECRET": secret, "AUTO_RELEASE_MINUTES": "0"},
		"grace too long":  {"JWT_SECRET": secret, "PONG_GRACE": "30s"},
		"grace over ping": {"JWT_SECRET": secret, "HEARTBEAT_INTERVAL": "5s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(lookup(env))
			assert.Error(t, err)
		})
	}
}

func TestReadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store_driver: memory
TAX_RATE: 0.08
AUTO_RELEASE_MINUTES: 20
SWEEP_INTERVAL: 30s
`), 0o600))

	file, err := readFile(path)
	require.NoError(t, err)
	env := map[string]string{"JWT_SECRET": secret, "AUTO_RELEASE_MINUTES": "25"}

	cfg, err := Parse(func(k string) string {
		if v := env[k]; v != "" {
			return v
		}
		return file[k]
	})
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.InDelta(t, 0.08, cfg.TaxRate, 1e-9)
	assert.Equal(t, 25, cfg.AutoReleaseMinutes, "environment wins over the file")
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)

	empty, err := readFile("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = readFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
