package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeys = "1:0000000000000000000000000000000000000000000000000000000000000001"

func TestNew_MemoryDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CREDENTIAL_KEYS", testKeys)
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, uint8(1), cfg.Credential.ActiveVersion)
	assert.Equal(t, BackendLocal, cfg.Gate.LockBackend)
	assert.Equal(t, 3*time.Second, cfg.Gate.LockTimeout)
	assert.Equal(t, int64(256), cfg.Gate.MaxInFlightPerEvent)
	assert.Equal(t, BackendMemory, cfg.Metrics.Counter)
	assert.False(t, cfg.Redis.Enabled())
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "tixgate.checkins.recorded", cfg.Kafka.Topic)
}

func TestNew_PostgresRequiresCredentials(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("CREDENTIAL_KEYS", testKeys)
	t.Setenv("POSTGRES_USER", "")

	_, err := New()
	assert.ErrorContains(t, err, "POSTGRES_USER")

	t.Setenv("POSTGRES_USER", "tix")
	t.Setenv("POSTGRES_PASSWORD", "p@ss word")
	t.Setenv("POSTGRES_DB", "checkin")
	t.Setenv("POSTGRES_HOST", "db")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "postgres://tix:p%40ss%20word@db:5432/checkin?sslmode=disable", cfg.Postgres.DSN())
}

func TestNew_RedisBackendsNeedRedis(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CREDENTIAL_KEYS", testKeys)
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("GATE_LOCK_BACKEND", "redis")

	_, err := New()
	assert.ErrorContains(t, err, "GATE_LOCK_BACKEND")

	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("METRICS_COUNTER", "redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Gate.LockBackend)
	assert.Equal(t, BackendRedis, cfg.Metrics.Counter)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestNew_InvalidValues(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CREDENTIAL_KEYS", testKeys)

	t.Setenv("SERVER_PORT", "eighty")
	_, err := New()
	assert.ErrorContains(t, err, "SERVER_PORT")
	t.Setenv("SERVER_PORT", "")

	t.Setenv("GATE_LOCK_TIMEOUT", "soon")
	_, err = New()
	assert.ErrorContains(t, err, "GATE_LOCK_TIMEOUT")
	t.Setenv("GATE_LOCK_TIMEOUT", "")

	t.Setenv("CREDENTIAL_ACTIVE_VERSION", "300")
	_, err = New()
	assert.ErrorContains(t, err, "CREDENTIAL_ACTIVE_VERSION")
	t.Setenv("CREDENTIAL_ACTIVE_VERSION", "")

	t.Setenv("STORAGE_DRIVER", "sqlite")
	_, err = New()
	assert.ErrorContains(t, err, "STORAGE_DRIVER")

	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CREDENTIAL_KEYS", "")
	_, err = New()
	assert.ErrorContains(t, err, "CREDENTIAL_KEYS")
}
