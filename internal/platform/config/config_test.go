package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.Registration.TxTimeout)
	assert.True(t, cfg.Registration.DuplicatePreCheck)
	assert.Equal(t, "collect_all", cfg.Registration.ValidationMode)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, 5, cfg.RateLimit.Submissions)
	assert.False(t, cfg.IsProduction())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("INT20H_ADDR", ":9090")
	t.Setenv("ALLOWED_ORIGINS", `["https://int20h.example.com","http://localhost:3000"]`)
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("REGISTRATION_TX_TIMEOUT", "2s")
	t.Setenv("REGISTRATION_DUPLICATE_PRECHECK", "false")
	t.Setenv("ENVIRONMENT", "Production")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"https://int20h.example.com", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 2*time.Second, cfg.Registration.TxTimeout)
	assert.False(t, cfg.Registration.DuplicatePreCheck)
	assert.True(t, cfg.IsProduction())
}

func TestFromEnvCommaOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestFromEnvReportsAllInvalidValues(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "many")
	t.Setenv("RATE_LIMIT_WINDOW", "soon")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_MAX_OPEN_CONNS")
	assert.Contains(t, err.Error(), "RATE_LIMIT_WINDOW")
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("KAFKA_TOPIC=from-file\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("KAFKA_TOPIC", "")
	require.NoError(t, os.Unsetenv("KAFKA_TOPIC"))

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))

	assert.Equal(t, "from-file", os.Getenv("KAFKA_TOPIC"))
	assert.Equal(t, "warn", os.Getenv("LOG_LEVEL"))
}
