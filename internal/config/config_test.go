package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, "jwt", cfg.CookieName)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "postgres://postgres:postgres@db:5432/chatdb?sslmode=disable", cfg.DatabaseURL)
	assert.True(t, cfg.Development())
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE", "Memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("WS_PING_INTERVAL", "10s")
	t.Setenv("WS_PONG_WAIT", "25s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.False(t, cfg.Development())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10*time.Second, cfg.WSPingInterval)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "unknown store", env: map[string]string{"JWT_SECRET": "s", "STORE": "mongo"}},
		{name: "pong shorter than ping", env: map[string]string{"JWT_SECRET": "s", "WS_PING_INTERVAL": "30s", "WS_PONG_WAIT": "5s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
