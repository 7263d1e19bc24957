package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string
	LogLevel    string
	// TrustProxy enables X-Forwarded-For / X-Real-IP for client IP resolution.
	// ProxyHops is how many proxies in front of the service append to
	// X-Forwarded-For; the client is that many entries from the right.
	TrustProxy bool
	ProxyHops  int
	// AdminToken guards inventory stocking. Empty denies every admin call.
	AdminToken string

	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Payment     PaymentConfig
	Reservation ReservationConfig
	RateLimit   RateLimitConfig
}

// TrustedProxyHops is the forwarding depth the client IP middleware trusts.
// Zero means forwarding headers are ignored.
func (s Server) TrustedProxyHops() int {
	if !s.TrustProxy {
		return 0
	}
	return s.ProxyHops
}

// IsProduction reports whether production-only safeguards apply.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// DatabaseConfig selects the persistence backend. An empty URL runs the
// in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// RedisConfig holds connection settings for the availability cache.
// An empty URL disables the cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// KafkaConfig configures the outbox relay. No brokers disables the relay.
type KafkaConfig struct {
	Brokers       []string
	TopicPrefix   string
	RelayInterval time.Duration
	RelayBatch    int
}

// PaymentConfig holds payment callback authentication settings.
type PaymentConfig struct {
	CallbackSecret string
	// Allowlist entries are exact IPs or CIDR prefixes.
	Allowlist []string
}

// ReservationConfig holds reservation and expiry tuning.
type ReservationConfig struct {
	Timeout        time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
	MaxPerOrder    int
	TxTimeout      time.Duration
}

// RateLimitConfig caps reservation attempts per client IP. A zero limit
// disables it. Windows live in Redis when it is configured.
type RateLimitConfig struct {
	ReservationsPerWindow int
	Window                time.Duration
	CleanupInterval       time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present; variables
// already set in the environment win.
func FromEnv() Server {
	_ = godotenv.Load()

	return Server{
		Addr:        getString("BOXOFFICE_ADDR", ":8080"),
		Environment: getString("ENVIRONMENT", "development"),
		LogLevel:    getString("LOG_LEVEL", "info"),
		TrustProxy:  getBool("TRUST_PROXY", false),
		ProxyHops:   getInt("TRUSTED_PROXY_HOPS", 1),
		AdminToken:  getString("BOXOFFICE_ADMIN_TOKEN", "dev-admin-token"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			MigrateOnStart:  getBool("DATABASE_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     getDuration("AVAILABILITY_CACHE_TTL", 5*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       getList("KAFKA_BROKERS"),
			TopicPrefix:   getString("KAFKA_TOPIC_PREFIX", "boxoffice"),
			RelayInterval: getDuration("OUTBOX_RELAY_INTERVAL", time.Second),
			RelayBatch:    getInt("OUTBOX_RELAY_BATCH", 100),
		},
		Payment: PaymentConfig{
			// Use a default for development - must be overridden in production
			CallbackSecret: getString("PAYMENT_CALLBACK_SECRET", "dev-callback-secret"),
			Allowlist:      getList("PAYMENT_CALLBACK_ALLOWLIST"),
		},
		Reservation: ReservationConfig{
			Timeout:        getDuration("RESERVATION_TIMEOUT", 10*time.Minute),
			SweepInterval:  getDuration("EXPIRY_SWEEP_INTERVAL", 30*time.Second),
			SweepBatchSize: getInt("EXPIRY_SWEEP_BATCH", 100),
			MaxPerOrder:    getInt("RESERVATION_MAX_PER_ORDER", 10),
			TxTimeout:      getDuration("TX_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			ReservationsPerWindow: getInt("RATE_LIMIT_RESERVATIONS", 20),
			Window:                getDuration("RATE_LIMIT_WINDOW", time.Minute),
			CleanupInterval:       getDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		},
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// getList splits a comma separated variable, trimming entries and dropping
// blanks and repeats. Order is preserved.
func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
