package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	cfg := Load("catalog", "8081")

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, "catalog", cfg.ServiceName)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 20.0, cfg.DrainRatePerSec)
	assert.False(t, cfg.LogPretty)
	assert.Equal(t, 500.0, cfg.GatewayRate)
	assert.Equal(t, 200, cfg.GatewayBurst)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_TIMEOUT_MS", "250")
	t.Setenv("DRAIN_RATE_PER_SEC", "2.5")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("BREAKER_FAILURES", "3")
	t.Setenv("GATEWAY_RATE_PER_SEC", "50")
	t.Setenv("GATEWAY_BURST", "10")
	cfg := Load("billing", "8082")

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, 2.5, cfg.DrainRatePerSec)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, uint32(3), cfg.BreakerFailures)
	assert.Equal(t, 50.0, cfg.GatewayRate)
	assert.Equal(t, 10, cfg.GatewayBurst)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("STORE_TIMEOUT_MS", "soon")
	t.Setenv("DRAIN_BURST", "many")
	t.Setenv("GATEWAY_RATE_PER_SEC", "-3")
	t.Setenv("GATEWAY_BURST", "0")
	cfg := Load("terminal", "0")

	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 5, cfg.DrainBurst)
	assert.Equal(t, 500.0, cfg.GatewayRate)
	assert.Equal(t, 200, cfg.GatewayBurst)
}
