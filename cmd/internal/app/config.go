package app

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Redis pub/sub transport for cross-instance event broadcast.
	// Empty RedisURL runs the feed single-instance, in-process only.
	RedisURL     string
	RedisChannel string

	// InstanceID is stamped onto locally published envelopes so inbound
	// Redis echoes of our own events can be suppressed. Unique per process.
	InstanceID string

	// JWTSecret verifies feed access tokens (HS256). When empty the gateway
	// falls back to claims-only verification, which is for development only.
	JWTSecret        string
	RequireJWTSecret bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	BridgeQueueSize int
	RelayTimeout    time.Duration

	// WSOrigins authorizes cross-origin browser WebSocket connects.
	WSOrigins []string

	ReplayCapacity int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PULSE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PULSE_LOG_LEVEL", "info"),
		LogFormat: EnvString("PULSE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PULSE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PULSE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PULSE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PULSE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PULSE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PULSE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PULSE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PULSE_DB_MIN_CONNS", 0),

		RedisURL:     EnvString("PULSE_REDIS_URL", ""),
		RedisChannel: EnvString("PULSE_REDIS_CHANNEL", "pulse.feed.v1"),

		InstanceID: EnvString("PULSE_INSTANCE_ID", ulid.Make().String()),

		JWTSecret:        EnvString("PULSE_JWT_SECRET", ""),
		RequireJWTSecret: EnvBool("PULSE_REQUIRE_JWT_SECRET", false),

		ReadinessRequireDB: EnvBool("PULSE_READINESS_REQUIRE_DB", false),

		BridgeQueueSize: EnvInt("PULSE_BRIDGE_QUEUE_SIZE", 1024),
		RelayTimeout:    EnvDuration("PULSE_RELAY_TIMEOUT", 5*time.Second),

		WSOrigins: EnvCSV("PULSE_WS_ORIGINS", nil),

		ReplayCapacity: EnvInt("PULSE_REPLAY_CAPACITY", 2048),
	}
}
