package app

import (
	"reflect"
	"testing"
	"time"
)

var configEnvKeys = []string{
	"PULSE_HTTP_ADDR",
	"PULSE_LOG_LEVEL",
	"PULSE_LOG_FORMAT",
	"PULSE_HTTP_READ_HEADER_TIMEOUT",
	"PULSE_HTTP_READ_TIMEOUT",
	"PULSE_HTTP_WRITE_TIMEOUT",
	"PULSE_HTTP_IDLE_TIMEOUT",
	"PULSE_HTTP_MAX_HEADER_BYTES",
	"PULSE_DATABASE_URL",
	"PULSE_DB_MAX_CONNS",
	"PULSE_DB_MIN_CONNS",
	"PULSE_REDIS_URL",
	"PULSE_REDIS_CHANNEL",
	"PULSE_INSTANCE_ID",
	"PULSE_JWT_SECRET",
	"PULSE_REQUIRE_JWT_SECRET",
	"PULSE_READINESS_REQUIRE_DB",
	"PULSE_BRIDGE_QUEUE_SIZE",
	"PULSE_RELAY_TIMEOUT",
	"PULSE_WS_ORIGINS",
	"PULSE_REPLAY_CAPACITY",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)
	// InstanceID defaults to a fresh ULID; pin it so the struct compares.
	t.Setenv("PULSE_INSTANCE_ID", "test-instance")

	got := LoadConfig()
	want := Config{
		HTTPAddr:           "0.0.0.0:8080",
		LogLevel:           "info",
		LogFormat:          "json",
		ReadHeaderTimeout:  5 * time.Second,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		DBMaxConns:         10,
		DBMinConns:         0,
		RedisChannel:       "pulse.feed.v1",
		InstanceID:         "test-instance",
		RequireJWTSecret:   false,
		ReadinessRequireDB: false,
		BridgeQueueSize:    1024,
		RelayTimeout:       5 * time.Second,
		WSOrigins:          nil,
		ReplayCapacity:     2048,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("defaults mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PULSE_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("PULSE_LOG_LEVEL", "debug")
	t.Setenv("PULSE_LOG_FORMAT", "pretty")
	t.Setenv("PULSE_DATABASE_URL", "postgres://localhost/pulse")
	t.Setenv("PULSE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PULSE_REDIS_CHANNEL", "custom.channel")
	t.Setenv("PULSE_INSTANCE_ID", "srv-1")
	t.Setenv("PULSE_REQUIRE_JWT_SECRET", "true")
	t.Setenv("PULSE_READINESS_REQUIRE_DB", "true")
	t.Setenv("PULSE_BRIDGE_QUEUE_SIZE", "64")
	t.Setenv("PULSE_RELAY_TIMEOUT", "2s")
	t.Setenv("PULSE_WS_ORIGINS", "https://app.example.com, https://admin.example.com,")
	t.Setenv("PULSE_REPLAY_CAPACITY", "128")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "pretty" {
		t.Fatalf("log config: level=%q format=%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.DatabaseURL != "postgres://localhost/pulse" {
		t.Fatalf("DatabaseURL=%q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" || cfg.RedisChannel != "custom.channel" {
		t.Fatalf("redis config: url=%q channel=%q", cfg.RedisURL, cfg.RedisChannel)
	}
	if cfg.InstanceID != "srv-1" {
		t.Fatalf("InstanceID=%q", cfg.InstanceID)
	}
	if !cfg.RequireJWTSecret || !cfg.ReadinessRequireDB {
		t.Fatalf("bool flags not applied: %+v", cfg)
	}
	if cfg.BridgeQueueSize != 64 || cfg.RelayTimeout != 2*time.Second || cfg.ReplayCapacity != 128 {
		t.Fatalf("bridge config: %+v", cfg)
	}
	wantOrigins := []string{"https://app.example.com", "https://admin.example.com"}
	if !reflect.DeepEqual(cfg.WSOrigins, wantOrigins) {
		t.Fatalf("WSOrigins=%v want=%v", cfg.WSOrigins, wantOrigins)
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("PULSE_TEST_INT", "not-a-number")
	if got := EnvInt("PULSE_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt=%d want=7", got)
	}

	t.Setenv("PULSE_TEST_INT", "-3")
	if got := EnvInt("PULSE_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt negative=%d want=7", got)
	}

	t.Setenv("PULSE_TEST_BOOL", "maybe")
	if got := EnvBool("PULSE_TEST_BOOL", true); got != true {
		t.Fatalf("EnvBool=%v want=true", got)
	}

	t.Setenv("PULSE_TEST_DUR", "ten seconds")
	if got := EnvDuration("PULSE_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("EnvDuration=%v want=1m", got)
	}

	t.Setenv("PULSE_TEST_CSV", " , ,")
	if got := EnvCSV("PULSE_TEST_CSV", []string{"a"}); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("EnvCSV=%v want=[a]", got)
	}
}
