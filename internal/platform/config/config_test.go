package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SAFEMODEL_ADDR", "")
	t.Setenv("SNAPSHOT_STORE", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("CHECKPOINT_DIR", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 30*time.Minute, cfg.Postgres.ConnMaxLifetime)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.NotEmpty(t, cfg.JWTSigningKey)
	assert.Empty(t, cfg.CheckpointDir)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SNAPSHOT_STORE", StoreRedis)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SNAPSHOT_TTL", "2h")
	t.Setenv("DATABASE_URL", "postgres://localhost/safemodel")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("CHECKPOINT_DIR", "/var/lib/safemodel/exports")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.SnapshotTTL)
	assert.Equal(t, "/var/lib/safemodel/exports", cfg.CheckpointDir)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("SNAPSHOT_TTL", "soon")
		_, err := FromEnv()
		require.ErrorContains(t, err, "SNAPSHOT_TTL")
	})
	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("SNAPSHOT_STORE", "etcd")
		_, err := FromEnv()
		require.ErrorContains(t, err, "unknown snapshot store")
	})
	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("SNAPSHOT_STORE", StorePostgres)
		t.Setenv("DATABASE_URL", "")
		_, err := FromEnv()
		require.ErrorContains(t, err, "DATABASE_URL")
	})
	t.Run("kafka without postgres", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "localhost:9092")
		t.Setenv("DATABASE_URL", "")
		_, err := FromEnv()
		require.ErrorContains(t, err, "relay audit events")
	})
}
