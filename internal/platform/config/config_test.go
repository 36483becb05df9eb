package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Change.ConfirmationTTL)
	assert.Equal(t, 3, cfg.Change.MaxSyncRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Change.RetryBackoffBase)
	assert.Equal(t, IdempotencyGenerated, cfg.Change.IdempotencyKeyStrategy)
	assert.Equal(t, "memory", cfg.Registry.Backend)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CONFIRMATION_TTL", "30s")
	t.Setenv("MAX_SYNC_RETRIES", "5")
	t.Setenv("IDEMPOTENCY_KEY_STRATEGY", "caller")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REMOTE_BASE_URL", "https://records.internal")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Change.ConfirmationTTL)
	assert.Equal(t, 5, cfg.Change.MaxSyncRetries)
	assert.Equal(t, IdempotencyCallerSupplied, cfg.Change.IdempotencyKeyStrategy)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "https://records.internal", cfg.Remote.BaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "non-positive ttl", env: map[string]string{"CONFIRMATION_TTL": "0s"}, want: "CONFIRMATION_TTL"},
		{name: "zero retries", env: map[string]string{"MAX_SYNC_RETRIES": "0"}, want: "MAX_SYNC_RETRIES"},
		{name: "unknown strategy", env: map[string]string{"IDEMPOTENCY_KEY_STRATEGY": "random"}, want: "IDEMPOTENCY_KEY_STRATEGY"},
		{name: "max below base", env: map[string]string{"RETRY_BACKOFF_BASE": "2s", "RETRY_BACKOFF_MAX": "1s"}, want: "RETRY_BACKOFF_MAX"},
		{name: "redis backend without url", env: map[string]string{"REGISTRY_BACKEND": "redis"}, want: "REDIS_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
