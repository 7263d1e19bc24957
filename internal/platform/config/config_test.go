package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("BOXOFFICE_ADDR", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("RESERVATION_TIMEOUT", "")

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.False(t, cfg.IsProduction())
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 10*time.Minute, cfg.Reservation.Timeout)
	assert.Equal(t, 10, cfg.Reservation.MaxPerOrder)
	assert.Equal(t, 20, cfg.RateLimit.ReservationsPerWindow)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PAYMENT_CALLBACK_ALLOWLIST", " 196.201.214.0/24,196.201.213.44,196.201.214.0/24")
	t.Setenv("RESERVATION_TIMEOUT", "90s")
	t.Setenv("EXPIRY_SWEEP_BATCH", "25")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("TRUSTED_PROXY_HOPS", "2")
	t.Setenv("BOXOFFICE_ADMIN_TOKEN", "ops-token")
	t.Setenv("RATE_LIMIT_RESERVATIONS", "0")

	cfg := FromEnv()

	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.TrustProxy)
	assert.Equal(t, 2, cfg.TrustedProxyHops())
	assert.Equal(t, "ops-token", cfg.AdminToken)
	assert.Equal(t, 0, cfg.RateLimit.ReservationsPerWindow)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"196.201.214.0/24", "196.201.213.44"}, cfg.Payment.Allowlist)
	assert.Equal(t, 90*time.Second, cfg.Reservation.Timeout)
	assert.Equal(t, 25, cfg.Reservation.SweepBatchSize)
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("RESERVATION_TIMEOUT", "soon")
	t.Setenv("EXPIRY_SWEEP_BATCH", "-3")
	t.Setenv("TRUST_PROXY", "maybe")

	cfg := FromEnv()

	assert.Equal(t, 10*time.Minute, cfg.Reservation.Timeout)
	assert.Equal(t, 100, cfg.Reservation.SweepBatchSize)
	assert.False(t, cfg.TrustProxy)
	assert.Equal(t, 0, cfg.TrustedProxyHops(), "forwarding headers ignored unless the proxy is trusted")
}
