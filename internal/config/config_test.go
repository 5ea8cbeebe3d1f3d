package config

import (
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
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 100, cfg.Push.ChunkSize)
	assert.Equal(t, 50.0, cfg.Matching.DefaultRadiusKm)
	assert.Equal(t, 30*time.Minute, cfg.Lifecycle.ExpireAfter)
	assert.Empty(t, cfg.Postgres.DSN)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roadside.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
  read_timeout: 2s
matching:
  default_limit: 5
kafka:
  brokers: [a:9092, b:9092]
log:
  level: DEBUG
`), 0o600))

	t.Setenv("ROADSIDE_HTTP__ADDR", ":7070")
	t.Setenv("ROADSIDE_LIFECYCLE__EXPIRE_AFTER", "45m")
	t.Setenv("ROADSIDE_PUSH__ACCESS_TOKEN", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, 5, cfg.Matching.DefaultLimit)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 45*time.Minute, cfg.Lifecycle.ExpireAfter)
	assert.Equal(t, "secret", cfg.Push.AccessToken)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	_, err := Load("roadside.toml")
	assert.Error(t, err)
}

func TestValidateJoinsProblems(t *testing.T) {
	cfg := Default()
	cfg.Push.ChunkSize = 500
	cfg.Matching.DefaultLimit = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push.chunk_size")
	assert.Contains(t, err.Error(), "matching.default_limit")
	assert.Contains(t, err.Error(), "log.level")
}
